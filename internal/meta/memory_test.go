package meta

import (
	"errors"
	"testing"
)

func TestMemBatch_Pool(t *testing.T) {
	b := NewBatch(2)

	for i := 0; i < 2; i++ {
		if _, err := b.AcquireDisplay(); err != nil {
			t.Fatalf("AcquireDisplay #%d failed: %v", i, err)
		}
	}
	if _, err := b.AcquireDisplay(); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted, got %v", err)
	}
	if b.Issued() != 2 {
		t.Errorf("Issued = %d, want 2", b.Issued())
	}
}

func TestMemFrame_Attach(t *testing.T) {
	b := NewBatch(DefaultPoolSize)
	f := NewFrame(7)

	slot, err := b.AcquireDisplay()
	if err != nil {
		t.Fatal(err)
	}
	slot.SetText(Text{Content: "Person = 1 Vehicle = 0", X: 10, Y: 12})

	if err := f.Attach(slot); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := f.Attach(slot); !errors.Is(err, ErrSlotAttached) {
		t.Errorf("second Attach: expected ErrSlotAttached, got %v", err)
	}

	displays := f.Displays()
	if len(displays) != 1 || displays[0].Content != "Person = 1 Vehicle = 0" {
		t.Errorf("Displays = %+v", displays)
	}
}

type foreignSlot struct{}

func (foreignSlot) SetText(Text) {}

func TestMemFrame_AttachForeignSlot(t *testing.T) {
	if err := NewFrame(0).Attach(foreignSlot{}); !errors.Is(err, ErrForeignSlot) {
		t.Errorf("expected ErrForeignSlot, got %v", err)
	}
}

func TestMemFrame_ObjectsAreCopies(t *testing.T) {
	objs := []Object{{ClassID: 2, ObjectID: 1}}
	f := NewFrame(0, objs...)

	objs[0].ClassID = 0
	got := f.Objects()
	got[0].ClassID = 5

	if again := f.Objects(); again[0].ClassID != 2 {
		t.Errorf("frame object mutated through a copy: ClassID = %d", again[0].ClassID)
	}
}
