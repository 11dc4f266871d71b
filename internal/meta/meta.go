// Package meta models the per-buffer analytics metadata produced by the
// inference stage: a batch holds frames, a frame holds detected objects and
// the display overlays that the on-screen-display stage renders.
//
// Batch and Frame are interfaces so the same traversal works against the
// DeepStream metadata attached to real buffers and against the in-memory
// implementation in this package.
package meta

import "errors"

var (
	ErrPoolExhausted = errors.New("meta: display pool exhausted")
	ErrSlotAttached  = errors.New("meta: display slot already attached")
	ErrForeignSlot   = errors.New("meta: display slot from a different metadata source")
)

// MaxDisplayLen bounds an overlay string, terminator included.
const MaxDisplayLen = 64

// Rect is a bounding box in muxer output coordinates.
type Rect struct {
	Left   float32
	Top    float32
	Width  float32
	Height float32
}

// Object is one detection. It is a value copy: callers cannot mutate the
// metadata owned by the buffer through it.
type Object struct {
	ClassID    int
	ObjectID   uint64
	Confidence float32
	Rect       Rect
	Label      string
}

// Color channels are in [0, 1].
type Color struct {
	R, G, B, A float64
}

var (
	White = Color{R: 1, G: 1, B: 1, A: 1}
	Black = Color{R: 0, G: 0, B: 0, A: 1}
)

// Font describes how overlay text is drawn.
type Font struct {
	Name  string
	Size  int
	Color Color
}

// Text is a single text overlay.
type Text struct {
	Content string
	X, Y    int
	Font    Font
	// Background is nil for transparent text.
	Background *Color
}

// DisplaySlot is an overlay acquired from a batch's pool.
type DisplaySlot interface {
	SetText(t Text)
}

// Frame is the metadata of one frame folded into a batch.
type Frame interface {
	FrameNum() int
	SourceID() int
	Objects() []Object
	// Attach hands slot over to the frame for rendering downstream.
	Attach(slot DisplaySlot) error
}

// Batch is the metadata attached to one buffer leaving the muxer.
type Batch interface {
	Frames() []Frame
	AcquireDisplay() (DisplaySlot, error)
}
