// Package stagetest provides an in-memory stage.Backend for tests.
//
// It records every element, link, pad reference and state change so tests can
// assert on construction order, leaks and teardown without GStreamer.
package stagetest

import (
	"fmt"
	"reflect"
	"regexp"
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/meta"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/stage"
)

var requestName = regexp.MustCompile(`^sink_\d+$`)

// Link is a recorded pad-to-pad connection.
type Link struct {
	Src, SrcPad string
	Dst, DstPad string
}

// Backend is a fake stage.Backend.
type Backend struct {
	mu sync.Mutex

	// Unknown lists factory names Make refuses.
	Unknown map[string]bool
	// RequestTypes lists factories that expose sink_%u request pads.
	RequestTypes map[string]bool
	// RefuseLink lists "src->dst" element pairs whose link fails.
	RefuseLink map[string]bool
	// RefuseProperty lists "name.key" properties the element rejects.
	RefuseProperty map[string]bool
	// PropertyTypes maps a factory to the Go type each of its properties
	// must be set with, mirroring the GObject type check. Unlisted factories
	// and keys accept any value.
	PropertyTypes map[string]map[string]reflect.Type
	// FailState makes SetState fail for that target state.
	FailState map[stage.State]bool

	Made     []string
	Added    []string
	Removed  []string
	Links    []Link
	States   []stage.State
	Released []string

	liveRefs    int
	doubleUnref int
	elements    map[string]*Element
	probes      map[string][]stage.ProbeFunc
}

var (
	typeInt    = reflect.TypeOf(int(0))
	typeUint   = reflect.TypeOf(uint(0))
	typeBool   = reflect.TypeOf(false)
	typeString = reflect.TypeOf("")
)

// defaultPropertyTypes lists the declared types of the properties the
// pipeline sets: guint maps to uint, gint to int.
func defaultPropertyTypes() map[string]map[string]reflect.Type {
	return map[string]map[string]reflect.Type{
		"v4l2src": {"device": typeString},
		"nvstreammux": {
			"width":                typeUint,
			"height":               typeUint,
			"batch-size":           typeUint,
			"batched-push-timeout": typeInt,
			"live-source":          typeBool,
		},
		"nvinfer":  {"config-file-path": typeString},
		"fakesrc":  {"num-buffers": typeInt},
		"fakesink": {"sync": typeBool},
	}
}

// New returns a backend that knows every factory, with nvstreammux exposing
// request pads.
func New() *Backend {
	return &Backend{
		Unknown:        make(map[string]bool),
		RequestTypes:   map[string]bool{"nvstreammux": true},
		RefuseLink:     make(map[string]bool),
		RefuseProperty: make(map[string]bool),
		PropertyTypes:  defaultPropertyTypes(),
		FailState:      make(map[stage.State]bool),
		elements:       make(map[string]*Element),
		probes:         make(map[string][]stage.ProbeFunc),
	}
}

func (b *Backend) Make(typeName, instanceName string) (stage.Element, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Unknown[typeName] {
		return nil, fmt.Errorf("%w: %s", stage.ErrUnknownType, typeName)
	}
	el := &Element{
		backend:   b,
		name:      instanceName,
		typeName:  typeName,
		props:     make(map[string]any),
		requested: make(map[string]*Pad),
	}
	b.elements[instanceName] = el
	b.Made = append(b.Made, instanceName)
	return el, nil
}

func (b *Backend) Add(el stage.Element) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Added = append(b.Added, el.Name())
	return nil
}

func (b *Backend) Remove(el stage.Element) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Removed = append(b.Removed, el.Name())
	delete(b.elements, el.Name())
	return nil
}

func (b *Backend) Link(src, dst stage.Element) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.RefuseLink[src.Name()+"->"+dst.Name()] {
		return fmt.Errorf("%w: %s -> %s", stage.ErrLinkRefused, src.Name(), dst.Name())
	}
	b.Links = append(b.Links, Link{Src: src.Name(), SrcPad: "src", Dst: dst.Name(), DstPad: "sink"})
	return nil
}

func (b *Backend) SetState(s stage.State) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.FailState[s] {
		return fmt.Errorf("state change to %s failed", s)
	}
	b.States = append(b.States, s)
	return nil
}

func (b *Backend) AddProbe(el stage.Element, pad string, fn stage.ProbeFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := el.Name() + "." + pad
	b.probes[key] = append(b.probes[key], fn)
	return nil
}

// Push delivers buf to every probe on element.pad and returns the last verdict.
func (b *Backend) Push(element, pad string, buf stage.Buffer) stage.ProbeReturn {
	b.mu.Lock()
	fns := append([]stage.ProbeFunc(nil), b.probes[element+"."+pad]...)
	b.mu.Unlock()

	ret := stage.ProbeOK
	for _, fn := range fns {
		ret = fn(buf)
	}
	return ret
}

// LiveRefs is the number of pad handles handed out and not yet unreferenced.
func (b *Backend) LiveRefs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.liveRefs
}

// DoubleUnrefs counts Unref calls on already-dropped handles.
func (b *Backend) DoubleUnrefs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doubleUnref
}

// Element returns the live element with the given instance name.
func (b *Backend) Element(name string) *Element {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.elements[name]
}

// Buffer is a probe payload carrying optional batch metadata.
type Buffer struct {
	Meta meta.Batch
}

func (buf Buffer) Batch() (meta.Batch, bool) {
	if buf.Meta == nil {
		return nil, false
	}
	return buf.Meta, true
}
