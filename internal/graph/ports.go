package graph

import (
	"fmt"
	"log/slog"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/stage"
)

// PortHandle is a held reference to a stage port.
//
// Release drops the reference exactly once. Releasing a handle that was never
// acquired, or releasing it twice, returns stage.ErrPortNotHeld and changes
// nothing.
type PortHandle struct {
	Stage StageID
	Name  string

	pad  stage.Pad
	held bool
}

// Pad returns the backend pad, nil once released.
func (h *PortHandle) Pad() stage.Pad {
	if h == nil || !h.held {
		return nil
	}
	return h.pad
}

// Release drops the handle.
func (h *PortHandle) Release() error {
	if h == nil || !h.held {
		return stage.ErrPortNotHeld
	}
	h.held = false
	h.pad.Unref()
	h.pad = nil
	return nil
}

// StaticPort resolves an always-present pad on stage id.
func (g *Graph) StaticPort(id StageID, name string) (*PortHandle, error) {
	s := g.Stage(id)
	if s == nil {
		return nil, &stage.ConstructionError{Kind: stage.KindPortAcquire, Stage: g.name, Port: name, Err: stage.ErrPortUnavailable}
	}
	pad, err := s.Element().StaticPad(name)
	if err != nil || pad == nil {
		if err == nil {
			err = stage.ErrPortUnavailable
		}
		return nil, stage.Errorf(stage.KindPortAcquire, s, name, err)
	}
	return &PortHandle{Stage: id, Name: name, pad: pad, held: true}, nil
}

// AcquireRequest requests input slot on a muxer stage. The slot stays
// reserved on the stage until Teardown returns it, independently of the
// returned handle.
func (g *Graph) AcquireRequest(id StageID, slot int) (*PortHandle, error) {
	s := g.Stage(id)
	name := fmt.Sprintf("sink_%d", slot)
	if s == nil {
		return nil, &stage.ConstructionError{Kind: stage.KindPortAcquire, Stage: g.name, Port: name, Err: stage.ErrPortUnavailable}
	}
	if s.Role != stage.RoleMuxer {
		return nil, stage.Errorf(stage.KindPortAcquire, s, name, fmt.Errorf("%w: %s stage has no request ports", stage.ErrPortUnavailable, s.Role))
	}
	if slot < 0 {
		return nil, stage.Errorf(stage.KindPortAcquire, s, name, fmt.Errorf("%w: negative slot", stage.ErrPortUnavailable))
	}

	pad, err := s.Element().RequestPad(name)
	if err != nil || pad == nil {
		if err == nil {
			err = stage.ErrPortUnavailable
		}
		return nil, stage.Errorf(stage.KindPortAcquire, s, name, err)
	}

	g.requests = append(g.requests, &requestSlot{stage: id, pad: name})
	g.validated = false
	return &PortHandle{Stage: id, Name: name, pad: pad, held: true}, nil
}

// LinkRequest links src's static output to input slot of mux. Both port
// handles are released on every return path; the slot itself remains owned
// by the graph.
func (g *Graph) LinkRequest(src, mux StageID, slot int) (err error) {
	sinkPort, err := g.AcquireRequest(mux, slot)
	if err != nil {
		return err
	}
	defer releaseLogged(sinkPort)

	srcPort, err := g.StaticPort(src, "src")
	if err != nil {
		return err
	}
	defer releaseLogged(srcPort)

	producer, muxer := g.Stage(src), g.Stage(mux)
	if g.hasEdge(src, "src", true) {
		return stage.Errorf(stage.KindLink, producer, "src", fmt.Errorf("%w: output already linked", stage.ErrLinkRefused))
	}

	if err := srcPort.Pad().Link(sinkPort.Pad()); err != nil {
		slog.Error("graph: failed to link to muxer",
			"src", producer.Name,
			"mux", muxer.Name,
			"pad", sinkPort.Name,
			"error", err,
		)
		return stage.Errorf(stage.KindLink, muxer, sinkPort.Name, err)
	}

	for _, r := range g.requests {
		if r.stage == mux && r.pad == sinkPort.Name {
			r.linked = true
		}
	}
	g.edges = append(g.edges, Edge{From: src, To: mux, FromPad: "src", ToPad: sinkPort.Name, Format: producer.Format})
	g.validated = false

	slog.Debug("graph: linked request pad", "src", producer.Name, "mux", muxer.Name, "pad", sinkPort.Name)
	return nil
}

func releaseLogged(h *PortHandle) {
	if err := h.Release(); err != nil {
		slog.Warn("graph: port release failed", "pad", h.Name, "error", err)
	}
}
