package graph

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/stage"
)

// Validate checks that every mandatory port is linked and that no acquired
// request slot is left dangling.
func (g *Graph) Validate() error {
	if len(g.stages) == 0 {
		return &stage.ConstructionError{Kind: stage.KindUnlinked, Stage: g.name, Err: fmt.Errorf("%w: empty graph", stage.ErrUnlinked)}
	}

	in := make([]int, len(g.stages))
	out := make([]int, len(g.stages))
	requestIn := make([]int, len(g.stages))
	for _, e := range g.edges {
		out[e.From]++
		if e.ToPad == "sink" {
			in[e.To]++
		} else {
			requestIn[e.To]++
		}
	}

	for _, r := range g.requests {
		if !r.linked {
			return stage.Errorf(stage.KindUnlinked, g.stages[r.stage], r.pad, fmt.Errorf("%w: request pad acquired but never linked", stage.ErrUnlinked))
		}
	}

	for i, s := range g.stages {
		var missing string
		switch s.Role {
		case stage.RoleSource:
			if out[i] == 0 {
				missing = "src"
			}
		case stage.RoleTransform:
			if in[i] == 0 {
				missing = "sink"
			} else if out[i] == 0 {
				missing = "src"
			}
		case stage.RoleMuxer:
			if requestIn[i] == 0 {
				missing = "sink_%u"
			} else if out[i] == 0 {
				missing = "src"
			}
		case stage.RoleSink:
			if in[i] == 0 {
				missing = "sink"
			}
		}
		if missing != "" {
			return stage.Errorf(stage.KindUnlinked, s, missing, stage.ErrUnlinked)
		}
	}

	g.validated = true
	return nil
}

// Start validates the graph and moves the pipeline to PLAYING.
func (g *Graph) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.torndown {
		return &stage.ConstructionError{Kind: stage.KindStart, Stage: g.name, Err: errors.New("pipeline already torn down")}
	}
	if err := g.Validate(); err != nil {
		return err
	}
	if err := g.backend.SetState(stage.StatePlaying); err != nil {
		return &stage.ConstructionError{Kind: stage.KindStart, Stage: g.name, Err: err}
	}
	g.state = stage.StatePlaying

	slog.Info("graph: pipeline playing", "pipeline", g.name, "stages", len(g.stages), "links", len(g.edges))
	return nil
}

// State returns the last state successfully requested from the backend.
func (g *Graph) State() stage.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Validated reports whether Validate succeeded since the last change.
func (g *Graph) Validated() bool { return g.validated }

// Teardown commands the pipeline to NULL, returns every request slot and
// removes all stages in reverse construction order. Calling it again is a no-op.
func (g *Graph) Teardown() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.torndown {
		return nil
	}
	g.torndown = true

	var errs []error
	if err := g.backend.SetState(stage.StateNull); err != nil {
		errs = append(errs, fmt.Errorf("set NULL: %w", err))
	}
	g.state = stage.StateNull

	for i := len(g.requests) - 1; i >= 0; i-- {
		r := g.requests[i]
		if r.returned {
			continue
		}
		r.returned = true
		s := g.stages[r.stage]
		if err := s.Element().ReleaseRequestPad(r.pad); err != nil {
			errs = append(errs, fmt.Errorf("release %s.%s: %w", s.Name, r.pad, err))
		}
	}

	for i := len(g.stages) - 1; i >= 0; i-- {
		if err := g.registry.Destroy(g.stages[i]); err != nil {
			errs = append(errs, err)
		}
	}

	slog.Debug("graph: torn down", "pipeline", g.name, "stages", len(g.stages), "request_pads", len(g.requests))
	return errors.Join(errs...)
}
