package meta

import "sync"

// DefaultPoolSize is the number of display slots a MemBatch hands out.
const DefaultPoolSize = 16

// MemBatch is an in-memory Batch, used where buffers carry no DeepStream
// metadata and by tests.
type MemBatch struct {
	mu     sync.Mutex
	frames []*MemFrame
	pool   int
	issued int
}

// NewBatch creates a batch whose display pool holds poolSize slots.
func NewBatch(poolSize int, frames ...*MemFrame) *MemBatch {
	return &MemBatch{frames: frames, pool: poolSize}
}

// Frames returns the frames in batch order.
func (b *MemBatch) Frames() []Frame {
	out := make([]Frame, len(b.frames))
	for i, f := range b.frames {
		out[i] = f
	}
	return out
}

// AcquireDisplay takes one slot from the pool.
func (b *MemBatch) AcquireDisplay() (DisplaySlot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.issued >= b.pool {
		return nil, ErrPoolExhausted
	}
	b.issued++
	return &MemDisplay{batch: b}, nil
}

// Issued returns how many display slots were taken from the pool.
func (b *MemBatch) Issued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issued
}

// MemDisplay is a display slot from a MemBatch pool.
type MemDisplay struct {
	batch    *MemBatch
	text     Text
	attached bool
}

// SetText fills the slot.
func (d *MemDisplay) SetText(t Text) { d.text = t }

// Text returns the overlay held by the slot.
func (d *MemDisplay) Text() Text { return d.text }

// MemFrame is an in-memory Frame.
type MemFrame struct {
	Num      int
	Source   int
	objects  []Object
	displays []*MemDisplay
}

// NewFrame creates a frame holding copies of objs.
func NewFrame(num int, objs ...Object) *MemFrame {
	return &MemFrame{Num: num, objects: append([]Object(nil), objs...)}
}

func (f *MemFrame) FrameNum() int { return f.Num }

func (f *MemFrame) SourceID() int { return f.Source }

// Objects returns a copy of the frame's detections.
func (f *MemFrame) Objects() []Object {
	return append([]Object(nil), f.objects...)
}

// Attach appends slot to the frame's display list.
func (f *MemFrame) Attach(slot DisplaySlot) error {
	d, ok := slot.(*MemDisplay)
	if !ok {
		return ErrForeignSlot
	}
	d.batch.mu.Lock()
	defer d.batch.mu.Unlock()

	if d.attached {
		return ErrSlotAttached
	}
	d.attached = true
	f.displays = append(f.displays, d)
	return nil
}

// Displays returns the overlays attached to the frame.
func (f *MemFrame) Displays() []Text {
	out := make([]Text, len(f.displays))
	for i, d := range f.displays {
		out[i] = d.text
	}
	return out
}
