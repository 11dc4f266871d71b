// Package gstbackend implements stage.Backend on top of GStreamer through
// go-gst, and exposes the pipeline bus as an events.Source.
package gstbackend

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/caps"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/meta"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/nvds"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/stage"
)

var initOnce sync.Once

// Backend owns one GStreamer pipeline.
type Backend struct {
	pipeline *gst.Pipeline
	name     string
}

// New initializes GStreamer (once per process) and creates an empty
// pipeline called name.
func New(name string) (*Backend, error) {
	initOnce.Do(func() { gst.Init(nil) })

	pipeline, err := gst.NewPipeline(name)
	if err != nil {
		return nil, fmt.Errorf("gstbackend: failed to create pipeline: %w", err)
	}
	slog.Debug("gstbackend: pipeline created", "name", name, "nvds", nvds.Enabled)
	return &Backend{pipeline: pipeline, name: name}, nil
}

// Name returns the pipeline name, as reported in bus messages.
func (b *Backend) Name() string { return b.name }

// Make creates an element from factory typeName.
func (b *Backend) Make(typeName, instanceName string) (stage.Element, error) {
	el, err := gst.NewElementWithName(typeName, instanceName)
	if err != nil || el == nil {
		return nil, fmt.Errorf("%w: %s could not be created: %v", stage.ErrUnknownType, typeName, err)
	}
	return &element{el: el, typeName: typeName}, nil
}

func (b *Backend) Add(el stage.Element) error {
	e, err := unwrap(el)
	if err != nil {
		return err
	}
	return b.pipeline.Add(e.el)
}

func (b *Backend) Remove(el stage.Element) error {
	e, err := unwrap(el)
	if err != nil {
		return err
	}
	return b.pipeline.Remove(e.el)
}

func (b *Backend) Link(src, dst stage.Element) error {
	s, err := unwrap(src)
	if err != nil {
		return err
	}
	d, err := unwrap(dst)
	if err != nil {
		return err
	}
	if err := s.el.Link(d.el); err != nil {
		return fmt.Errorf("%w: %s -> %s: %v", stage.ErrLinkRefused, s.Name(), d.Name(), err)
	}
	return nil
}

var gstStates = map[stage.State]gst.State{
	stage.StateNull:    gst.StateNull,
	stage.StateReady:   gst.StateReady,
	stage.StatePaused:  gst.StatePaused,
	stage.StatePlaying: gst.StatePlaying,
}

func (b *Backend) SetState(s stage.State) error {
	target, ok := gstStates[s]
	if !ok {
		return fmt.Errorf("gstbackend: unknown state %v", s)
	}
	if err := b.pipeline.SetState(target); err != nil {
		return fmt.Errorf("gstbackend: set state %s: %w", s, err)
	}
	return nil
}

// AddProbe installs fn as a buffer probe on the named static pad of el.
func (b *Backend) AddProbe(el stage.Element, pad string, fn stage.ProbeFunc) error {
	e, err := unwrap(el)
	if err != nil {
		return err
	}
	p := e.el.GetStaticPad(pad)
	if p == nil {
		return fmt.Errorf("%w: %s has no pad %q", stage.ErrPortUnavailable, e.Name(), pad)
	}

	p.AddProbe(gst.PadProbeTypeBuffer, func(_ *gst.Pad, info *gst.PadProbeInfo) gst.PadProbeReturn {
		if fn(buffer{buf: info.GetBuffer()}) == stage.ProbeDrop {
			return gst.PadProbeDrop
		}
		return gst.PadProbeOK
	})

	slog.Debug("gstbackend: buffer probe installed", "element", e.Name(), "pad", pad)
	return nil
}

// Events returns a source reading this pipeline's bus.
func (b *Backend) Events() *BusSource {
	return newBusSource(b.pipeline.GetPipelineBus())
}

// buffer adapts a probed GstBuffer to stage.Buffer.
type buffer struct {
	buf *gst.Buffer
}

func (b buffer) Batch() (meta.Batch, bool) {
	if b.buf == nil {
		return nil, false
	}
	return nvds.BatchFromBuffer(unsafe.Pointer(b.buf.Instance()))
}

type element struct {
	el       *gst.Element
	typeName string
}

var errForeignElement = errors.New("gstbackend: element was not created by this backend")

func unwrap(el stage.Element) (*element, error) {
	e, ok := el.(*element)
	if !ok || e == nil {
		return nil, errForeignElement
	}
	return e, nil
}

func (e *element) Name() string     { return e.el.GetName() }
func (e *element) TypeName() string { return e.typeName }

// SetProperty forwards to GObject. caps.Format values become GstCaps.
func (e *element) SetProperty(key string, value any) error {
	if f, ok := value.(caps.Format); ok {
		c := gst.NewCapsFromString(f.String())
		if c == nil {
			return fmt.Errorf("%w: %q", caps.ErrInvalidFormat, f.String())
		}
		value = c
	}
	return e.el.SetProperty(key, value)
}

func (e *element) StaticPad(name string) (stage.Pad, error) {
	p := e.el.GetStaticPad(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %s has no static pad %q", stage.ErrPortUnavailable, e.Name(), name)
	}
	return &pad{p: p}, nil
}

func (e *element) RequestPad(name string) (stage.Pad, error) {
	p := e.el.GetRequestPad(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %s has no request pad %q", stage.ErrPortUnavailable, e.Name(), name)
	}
	return &pad{p: p}, nil
}

func (e *element) ReleaseRequestPad(name string) error {
	p := e.el.GetStaticPad(name)
	if p == nil {
		return fmt.Errorf("%w: %s pad %q", stage.ErrPortNotHeld, e.Name(), name)
	}
	e.el.ReleaseRequestPad(p)
	return nil
}

type pad struct {
	p *gst.Pad
}

func (p *pad) Name() string {
	if p.p == nil {
		return ""
	}
	return p.p.GetName()
}

func (p *pad) Direction() stage.Direction {
	if p.p != nil && p.p.GetDirection() == gst.PadDirectionSource {
		return stage.DirOutput
	}
	return stage.DirInput
}

func (p *pad) Link(sink stage.Pad) error {
	s, ok := sink.(*pad)
	if !ok || s.p == nil || p.p == nil {
		return fmt.Errorf("%w: pad handle already dropped", stage.ErrLinkRefused)
	}
	if ret := p.p.Link(s.p); ret != gst.PadLinkOK {
		return fmt.Errorf("%w: %s -> %s: %v", stage.ErrLinkRefused, p.Name(), s.Name(), ret)
	}
	return nil
}

func (p *pad) IsLinked() bool { return p.p != nil && p.p.IsLinked() }

// Unref drops the Go handle; the binding releases the GstPad reference when
// the handle is collected.
func (p *pad) Unref() { p.p = nil }
