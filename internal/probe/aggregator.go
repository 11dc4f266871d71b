// Package probe counts detections on every buffer that reaches the on-screen
// display stage, writes the per-frame count line and attaches the count
// overlay that the display stage renders.
package probe

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/meta"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/reportbus"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/stage"
)

// Class is a tracked detector class.
type Class struct {
	ID    int    `yaml:"id"`
	Label string `yaml:"label"`
}

// Class IDs emitted by the primary detector.
const (
	ClassVehicle = 0
	ClassPerson  = 2
)

// DefaultClasses are broken out on the count line in this order.
var DefaultClasses = []Class{
	{ID: ClassVehicle, Label: "Vehicle"},
	{ID: ClassPerson, Label: "Person"},
}

// Config configures an Aggregator.
type Config struct {
	// Classes to break out; defaults to DefaultClasses.
	Classes []Class
	// Out receives one count line per buffer.
	Out io.Writer
	// Bus, when set, receives a Report per buffer.
	Bus   reportbus.Bus
	RunID string
}

// Aggregator is the buffer probe. It is safe for concurrent use; invocations
// are serialized.
type Aggregator struct {
	mu sync.Mutex

	classes []Class
	out     io.Writer
	bus     reportbus.Bus
	runID   string

	frames   uint64
	objects  uint64
	noMeta   uint64
	overlays uint64
	arrivals arrivals
	now      func() time.Time
}

// Result is what one invocation observed.
type Result struct {
	FrameNumber uint64
	Objects     int
	// Counts is indexed like the configured classes.
	Counts  []int
	HasMeta bool
}

// New validates cfg and returns an Aggregator.
func New(cfg Config) (*Aggregator, error) {
	classes := cfg.Classes
	if len(classes) == 0 {
		classes = DefaultClasses
	}
	seen := make(map[int]bool, len(classes))
	for _, c := range classes {
		if c.Label == "" {
			return nil, fmt.Errorf("probe: class %d has no label", c.ID)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("probe: class %d tracked twice", c.ID)
		}
		seen[c.ID] = true
	}
	if cfg.Out == nil {
		return nil, errors.New("probe: output writer is required")
	}

	return &Aggregator{
		classes: append([]Class(nil), classes...),
		out:     cfg.Out,
		bus:     cfg.Bus,
		runID:   cfg.RunID,
		now:     time.Now,
	}, nil
}

// Probe is the stage.ProbeFunc. It never drops the buffer.
func (a *Aggregator) Probe(buf stage.Buffer) stage.ProbeReturn {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("probe: recovered from panic while reading metadata", "panic", r)
		}
	}()

	var (
		batch meta.Batch
		ok    bool
	)
	if buf != nil {
		batch, ok = buf.Batch()
	}
	a.Observe(batch, ok)
	return stage.ProbeOK
}

// Observe counts the detections in batch, attaches one overlay per frame and
// emits the count line. A missing batch counts as a frame with no detections.
func (a *Aggregator) Observe(batch meta.Batch, ok bool) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := Result{
		FrameNumber: a.frames,
		Counts:      make([]int, len(a.classes)),
		HasMeta:     ok && batch != nil,
	}
	a.frames++
	now := a.now()
	a.arrivals.add(now)

	var frames []meta.Frame
	if res.HasMeta {
		frames = batch.Frames()
	} else {
		a.noMeta++
	}

	for _, frame := range frames {
		if frame == nil {
			continue
		}
		counts := make([]int, len(a.classes))
		for _, obj := range frame.Objects() {
			res.Objects++
			if i := a.classIndex(obj.ClassID); i >= 0 {
				counts[i]++
				res.Counts[i]++
			}
		}
		a.attachOverlay(batch, frame, counts)
	}
	a.objects += uint64(res.Objects)

	fmt.Fprintln(a.out, a.line(res))

	if a.bus != nil {
		a.bus.Publish(a.report(res, len(frames), now))
	}
	return res
}

// attachOverlay takes a slot from the batch pool and hands it to frame.
// Failures only cost the overlay.
func (a *Aggregator) attachOverlay(batch meta.Batch, frame meta.Frame, counts []int) {
	slot, err := batch.AcquireDisplay()
	if err != nil || slot == nil {
		slog.Debug("probe: no display slot, skipping overlay", "frame", frame.FrameNum(), "error", err)
		return
	}
	slot.SetText(overlay(overlayText(a.classes, counts)))
	if err := frame.Attach(slot); err != nil {
		slog.Debug("probe: overlay not attached", "frame", frame.FrameNum(), "error", err)
		return
	}
	a.overlays++
}

func (a *Aggregator) classIndex(id int) int {
	for i, c := range a.classes {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// line formats "Frame Number = 0 Number of objects = 3 Vehicle Count = 1 Person Count = 2".
func (a *Aggregator) line(res Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Frame Number = %d Number of objects = %d", res.FrameNumber, res.Objects)
	for i, c := range a.classes {
		fmt.Fprintf(&b, " %s Count = %d", c.Label, res.Counts[i])
	}
	return b.String()
}

func (a *Aggregator) report(res Result, frames int, at time.Time) reportbus.Report {
	counts := make(map[string]int, len(a.classes))
	for i, c := range a.classes {
		counts[c.Label] = res.Counts[i]
	}
	return reportbus.Report{
		RunID:       a.runID,
		FrameNumber: res.FrameNumber,
		Timestamp:   at,
		Frames:      frames,
		Objects:     res.Objects,
		Counts:      counts,
		HasMeta:     res.HasMeta,
	}
}

// Summary is the aggregate over a whole run.
type Summary struct {
	Frames        uint64
	Objects       uint64
	FramesNoMeta  uint64
	OverlaysAdded uint64
	Rate          RateStats
}

// Summary returns totals so far and rate statistics over recent frames.
func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Summary{
		Frames:        a.frames,
		Objects:       a.objects,
		FramesNoMeta:  a.noMeta,
		OverlaysAdded: a.overlays,
		Rate:          computeRate(a.arrivals.ordered()),
	}
}
