// Package caps describes the media format required at a stage boundary.
//
// A Format is the structured form of a GStreamer caps string. Numeric fields
// (width, height, framerate) and enumerated fields (pixel layout, memory
// domain) are checked at construction time by Validate, so a bad constraint
// fails while the graph is being built instead of at PLAYING.
package caps

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Media types accepted by the pipeline.
const (
	MediaVideoRaw = "video/x-raw"
)

// Upper bounds used by Validate.
const (
	maxDimension = 8192
	maxFramerate = 240
)

var (
	ErrInvalidFormat = errors.New("caps: invalid format")
)

// PixelFormat is the pixel layout of raw video.
type PixelFormat int

const (
	// PixelAny leaves the pixel layout to negotiation.
	PixelAny PixelFormat = iota
	PixelYUY2
	PixelUYVY
	PixelNV12
	PixelI420
	PixelRGB
	PixelRGBA
	PixelBGRx
)

var pixelNames = map[PixelFormat]string{
	PixelYUY2: "YUY2",
	PixelUYVY: "UYVY",
	PixelNV12: "NV12",
	PixelI420: "I420",
	PixelRGB:  "RGB",
	PixelRGBA: "RGBA",
	PixelBGRx: "BGRx",
}

// String returns the GStreamer name of the pixel format
func (p PixelFormat) String() string {
	if name, ok := pixelNames[p]; ok {
		return name
	}
	if p == PixelAny {
		return "ANY"
	}
	return fmt.Sprintf("PixelFormat(%d)", int(p))
}

// ParsePixelFormat maps a GStreamer format name (case-insensitive) to a PixelFormat.
func ParsePixelFormat(s string) (PixelFormat, error) {
	if s == "" {
		return PixelAny, nil
	}
	for p, name := range pixelNames {
		if strings.EqualFold(name, s) {
			return p, nil
		}
	}
	return PixelAny, fmt.Errorf("%w: unknown pixel format %q", ErrInvalidFormat, s)
}

// Memory is the memory domain buffers live in.
type Memory int

const (
	// MemorySystem is plain CPU-accessible memory (no caps feature).
	MemorySystem Memory = iota
	// MemoryNVMM is NVIDIA device memory ("memory:NVMM").
	MemoryNVMM
)

// String returns the caps feature for the memory domain, empty for system memory
func (m Memory) String() string {
	switch m {
	case MemorySystem:
		return ""
	case MemoryNVMM:
		return "memory:NVMM"
	default:
		return fmt.Sprintf("Memory(%d)", int(m))
	}
}

// ParseMemory maps "system"/"" and "nvmm" to a Memory domain.
func ParseMemory(s string) (Memory, error) {
	switch strings.ToLower(s) {
	case "", "system":
		return MemorySystem, nil
	case "nvmm", "memory:nvmm":
		return MemoryNVMM, nil
	default:
		return MemorySystem, fmt.Errorf("%w: unknown memory domain %q", ErrInvalidFormat, s)
	}
}

// Fraction is a rational framerate. The zero value means "unconstrained".
type Fraction struct {
	Num int
	Den int
}

// FPS builds an integer framerate n/1.
func FPS(n int) Fraction { return Fraction{Num: n, Den: 1} }

// IsZero reports whether the framerate is unconstrained.
func (f Fraction) IsZero() bool { return f.Num == 0 && f.Den == 0 }

func (f Fraction) String() string { return fmt.Sprintf("%d/%d", f.Num, f.Den) }

// ParseFraction parses "30/1" or a bare "30". An empty string is the zero
// Fraction.
func ParseFraction(s string) (Fraction, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Fraction{}, nil
	}
	num, den, found := strings.Cut(s, "/")
	if !found {
		den = "1"
	}
	n, errN := strconv.Atoi(strings.TrimSpace(num))
	d, errD := strconv.Atoi(strings.TrimSpace(den))
	if errN != nil || errD != nil || d <= 0 || n < 0 {
		return Fraction{}, fmt.Errorf("%w: bad framerate %q", ErrInvalidFormat, s)
	}
	return Fraction{Num: n, Den: d}, nil
}

// Equal compares two fractions by value (30/1 == 60/2).
func (f Fraction) Equal(o Fraction) bool {
	return f.Num*o.Den == o.Num*f.Den
}

// Format is a structured caps descriptor. Zero-valued fields are left to
// negotiation and are omitted from the caps string.
type Format struct {
	Media       string
	Memory      Memory
	PixelFormat PixelFormat
	Width       int
	Height      int
	Framerate   Fraction
}

// Validate checks numeric ranges and enumerations.
func (f Format) Validate() error {
	if f.Media == "" {
		return fmt.Errorf("%w: media type is required", ErrInvalidFormat)
	}
	if f.Media != MediaVideoRaw {
		return fmt.Errorf("%w: unsupported media type %q", ErrInvalidFormat, f.Media)
	}
	if _, ok := pixelNames[f.PixelFormat]; !ok && f.PixelFormat != PixelAny {
		return fmt.Errorf("%w: %s", ErrInvalidFormat, f.PixelFormat)
	}
	if f.Memory != MemorySystem && f.Memory != MemoryNVMM {
		return fmt.Errorf("%w: %s", ErrInvalidFormat, f.Memory)
	}
	if f.Width < 0 || f.Width > maxDimension || f.Height < 0 || f.Height > maxDimension {
		return fmt.Errorf("%w: resolution %dx%d out of range", ErrInvalidFormat, f.Width, f.Height)
	}
	if (f.Width == 0) != (f.Height == 0) {
		return fmt.Errorf("%w: width and height must be set together (%dx%d)", ErrInvalidFormat, f.Width, f.Height)
	}
	if !f.Framerate.IsZero() {
		if f.Framerate.Num <= 0 || f.Framerate.Den <= 0 {
			return fmt.Errorf("%w: framerate %s", ErrInvalidFormat, f.Framerate)
		}
		if f.Framerate.Num > maxFramerate*f.Framerate.Den {
			return fmt.Errorf("%w: framerate %s above %d fps", ErrInvalidFormat, f.Framerate, maxFramerate)
		}
	}
	return nil
}

// String renders the caps string understood by gst_caps_from_string.
//
//	video/x-raw(memory:NVMM), format=NV12, width=640, height=480, framerate=30/1
func (f Format) String() string {
	var b strings.Builder
	b.WriteString(f.Media)
	if feat := f.Memory.String(); feat != "" {
		fmt.Fprintf(&b, "(%s)", feat)
	}
	if f.PixelFormat != PixelAny {
		fmt.Fprintf(&b, ", format=%s", f.PixelFormat)
	}
	if f.Width > 0 {
		fmt.Fprintf(&b, ", width=%d, height=%d", f.Width, f.Height)
	}
	if !f.Framerate.IsZero() {
		fmt.Fprintf(&b, ", framerate=%s", f.Framerate)
	}
	return b.String()
}

// Compatible reports whether buffers matching f can satisfy o. Fields left
// open on either side are not compared.
func (f Format) Compatible(o Format) bool {
	if f.Media != o.Media || f.Memory != o.Memory {
		return false
	}
	if f.PixelFormat != PixelAny && o.PixelFormat != PixelAny && f.PixelFormat != o.PixelFormat {
		return false
	}
	if f.Width > 0 && o.Width > 0 && (f.Width != o.Width || f.Height != o.Height) {
		return false
	}
	if !f.Framerate.IsZero() && !o.Framerate.IsZero() && !f.Framerate.Equal(o.Framerate) {
		return false
	}
	return true
}
