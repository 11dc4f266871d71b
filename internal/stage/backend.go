// Package stage defines the contract between the pipeline core and the media
// framework that actually instantiates processing elements, and the registry
// that creates named stages through it.
package stage

import "github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/meta"

// State is the pipeline state requested from the backend.
type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateReady:
		return "READY"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	default:
		return "UNKNOWN"
	}
}

// Direction of a port.
type Direction int

const (
	DirInput Direction = iota
	DirOutput
)

func (d Direction) String() string {
	if d == DirOutput {
		return "output"
	}
	return "input"
}

// Pad is a backend port handle.
type Pad interface {
	Name() string
	Direction() Direction
	// Link connects this output pad to sink.
	Link(sink Pad) error
	IsLinked() bool
	// Unref drops the handle. The port itself stays on its element.
	Unref()
}

// Element is a backend handle for one instantiated stage.
type Element interface {
	Name() string
	TypeName() string
	SetProperty(key string, value any) error
	StaticPad(name string) (Pad, error)
	RequestPad(name string) (Pad, error)
	// ReleaseRequestPad gives the named requested slot back to the element.
	ReleaseRequestPad(name string) error
}

// ProbeReturn tells the backend what to do with a probed buffer.
type ProbeReturn int

const (
	// ProbeOK passes the buffer on untouched.
	ProbeOK ProbeReturn = iota
	ProbeDrop
)

// Buffer is the view of a frame buffer handed to probes.
type Buffer interface {
	// Batch returns the analytics metadata attached to the buffer, if any.
	Batch() (meta.Batch, bool)
}

// ProbeFunc is invoked synchronously for each buffer crossing a pad.
type ProbeFunc func(buf Buffer) ProbeReturn

// Backend instantiates elements and drives the pipeline that contains them.
type Backend interface {
	// Make instantiates an element from a factory. Unknown factories
	// return an error wrapping ErrUnknownType.
	Make(typeName, instanceName string) (Element, error)
	Add(el Element) error
	Remove(el Element) error
	// Link connects el's always-present output to dst's input.
	Link(src, dst Element) error
	SetState(s State) error
	AddProbe(el Element, pad string, fn ProbeFunc) error
}
