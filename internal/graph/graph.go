// Package graph owns the stages of one pipeline and the links between them.
//
// Stages are kept in construction order and addressed by StageID; links are
// recorded as edges between IDs. Teardown walks the stages in reverse order,
// so a failed construction releases everything it created in one pass.
package graph

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/caps"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/stage"
)

// StageID is a stable index into the graph's stage list.
type StageID int

// Edge is a directed link between two stages.
type Edge struct {
	From    StageID
	To      StageID
	FromPad string
	ToPad   string
	// Format is the constraint carried by the link, nil when unconstrained.
	Format *caps.Format
}

// requestSlot is a request port acquired on a muxer stage.
type requestSlot struct {
	stage    StageID
	pad      string
	linked   bool
	returned bool
}

// Graph is a linear chain of stages with request-port fan-in points.
type Graph struct {
	mu sync.Mutex

	name     string
	backend  stage.Backend
	registry *stage.Registry

	stages   []*stage.Stage
	edges    []Edge
	requests []*requestSlot
	probes   []string

	validated bool
	state     stage.State
	torndown  bool
}

// New creates an empty graph whose stages are made by backend.
func New(name string, backend stage.Backend) *Graph {
	return &Graph{
		name:     name,
		backend:  backend,
		registry: stage.NewRegistry(backend),
		state:    stage.StateNull,
	}
}

// Name returns the pipeline name.
func (g *Graph) Name() string { return g.name }

// Add creates a stage and applies props in order.
func (g *Graph) Add(typeName, name string, role stage.Role, props ...stage.Property) (StageID, error) {
	s, err := g.registry.Create(typeName, name, role)
	if err != nil {
		return -1, err
	}
	g.stages = append(g.stages, s)
	id := StageID(len(g.stages) - 1)

	for _, p := range props {
		if err := s.Set(p.Key, p.Value); err != nil {
			return id, err
		}
	}
	g.validated = false
	return id, nil
}

// Filter installs a capsfilter stage that forces format f on the link it sits on.
func (g *Graph) Filter(name string, f caps.Format) (StageID, error) {
	if err := f.Validate(); err != nil {
		return -1, &stage.ConstructionError{Kind: stage.KindNegotiation, Stage: name, Type: "capsfilter", Err: err}
	}
	id, err := g.Add("capsfilter", name, stage.RoleTransform)
	if err != nil {
		return id, err
	}
	s := g.stages[id]
	if err := s.Set("caps", f); err != nil {
		return id, err
	}
	s.Format = &f
	return id, nil
}

// Stage returns the stage with the given ID, nil if out of range.
func (g *Graph) Stage(id StageID) *stage.Stage {
	if id < 0 || int(id) >= len(g.stages) {
		return nil
	}
	return g.stages[id]
}

// Lookup finds a stage by instance name.
func (g *Graph) Lookup(name string) (StageID, bool) {
	for i, s := range g.stages {
		if s.Name == name {
			return StageID(i), true
		}
	}
	return -1, false
}

// Edges returns a copy of the recorded links.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Stages returns the stages in construction order.
func (g *Graph) Stages() []*stage.Stage {
	return append([]*stage.Stage(nil), g.stages...)
}

// Link connects from's static output to to's static input. When both ends are
// filters their formats must be compatible.
func (g *Graph) Link(from, to StageID) error {
	src, dst := g.Stage(from), g.Stage(to)
	if src == nil || dst == nil {
		return &stage.ConstructionError{Kind: stage.KindLink, Stage: g.name, Err: fmt.Errorf("%w: unknown stage id %d -> %d", stage.ErrLinkRefused, from, to)}
	}
	if g.hasEdge(from, "src", true) {
		return stage.Errorf(stage.KindLink, src, "src", fmt.Errorf("%w: output already linked", stage.ErrLinkRefused))
	}
	if g.hasEdge(to, "sink", false) {
		return stage.Errorf(stage.KindLink, dst, "sink", fmt.Errorf("%w: input already linked", stage.ErrLinkRefused))
	}

	format, err := linkFormat(src, dst)
	if err != nil {
		return stage.Errorf(stage.KindNegotiation, dst, "sink", err)
	}

	if err := g.backend.Link(src.Element(), dst.Element()); err != nil {
		return stage.Errorf(stage.KindLink, dst, "sink", err)
	}

	g.edges = append(g.edges, Edge{From: from, To: to, FromPad: "src", ToPad: "sink", Format: format})
	g.validated = false

	slog.Debug("graph: linked", "from", src.Name, "to", dst.Name, "caps", formatString(format))
	return nil
}

// Chain links consecutive stages: ids[0] -> ids[1] -> ... -> ids[n-1].
func (g *Graph) Chain(ids ...StageID) error {
	for i := 1; i < len(ids); i++ {
		if err := g.Link(ids[i-1], ids[i]); err != nil {
			return err
		}
	}
	return nil
}

// AttachProbe installs fn on the named pad of stage id.
func (g *Graph) AttachProbe(id StageID, pad string, fn stage.ProbeFunc) error {
	s := g.Stage(id)
	if s == nil {
		return &stage.ConstructionError{Kind: stage.KindPortAcquire, Stage: g.name, Port: pad, Err: stage.ErrPortUnavailable}
	}
	if err := g.backend.AddProbe(s.Element(), pad, fn); err != nil {
		return stage.Errorf(stage.KindPortAcquire, s, pad, err)
	}
	g.probes = append(g.probes, s.Name+"."+pad)
	slog.Debug("graph: probe installed", "stage", s.Name, "pad", pad)
	return nil
}

// Describe renders the chain for logs, e.g. "src -> caps -> sink".
func (g *Graph) Describe() string {
	parts := make([]string, 0, len(g.edges)+1)
	for i, e := range g.edges {
		if i == 0 || g.edges[i-1].To != e.From {
			if i > 0 {
				parts = append(parts, "|")
			}
			parts = append(parts, g.stages[e.From].Name)
		}
		parts = append(parts, g.stages[e.To].Name)
	}
	return strings.Join(parts, " -> ")
}

func (g *Graph) hasEdge(id StageID, pad string, outgoing bool) bool {
	for _, e := range g.edges {
		if outgoing && e.From == id && e.FromPad == pad {
			return true
		}
		if !outgoing && e.To == id && e.ToPad == pad {
			return true
		}
	}
	return false
}

// linkFormat decides the constraint a link carries.
func linkFormat(src, dst *stage.Stage) (*caps.Format, error) {
	switch {
	case src.Format != nil && dst.Format != nil:
		if !src.Format.Compatible(*dst.Format) {
			return nil, fmt.Errorf("%w: %s vs %s", stage.ErrIncompatible, src.Format, dst.Format)
		}
		return dst.Format, nil
	case dst.Format != nil:
		return dst.Format, nil
	default:
		return src.Format, nil
	}
}

func formatString(f *caps.Format) string {
	if f == nil {
		return "ANY"
	}
	return f.String()
}
