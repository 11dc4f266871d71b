package stage

import (
	"fmt"
	"log/slog"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/caps"
)

// Role decides which ports of a stage are mandatory.
type Role int

const (
	// RoleSource needs a linked output.
	RoleSource Role = iota
	// RoleTransform needs a linked input and output.
	RoleTransform
	// RoleMuxer needs at least one linked request input and a linked output.
	RoleMuxer
	// RoleSink needs a linked input.
	RoleSink
)

func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleTransform:
		return "transform"
	case RoleMuxer:
		return "muxer"
	case RoleSink:
		return "sink"
	default:
		return "unknown"
	}
}

// Property is one configured value on a stage.
type Property struct {
	Key   string
	Value any
}

// Stage is one instantiated processing element.
type Stage struct {
	Type  string
	Name  string
	Role  Role
	Props []Property
	// Format is set on filter stages.
	Format *caps.Format

	el Element
}

// Element returns the backend handle.
func (s *Stage) Element() Element { return s.el }

// Set validates and forwards a property to the backend element.
//
// Accepted value types: string, int, uint, uint64, bool and caps.Format. The
// Go type must match the property's declared type (int for gint, uint for
// guint).
func (s *Stage) Set(key string, value any) error {
	switch v := value.(type) {
	case string, int, uint, uint64, bool:
	case caps.Format:
		if err := v.Validate(); err != nil {
			return Errorf(KindNegotiation, s, "", err)
		}
	default:
		return Errorf(KindStageCreate, s, "", fmt.Errorf("%w: %s has unsupported type %T", ErrInvalidProperty, key, value))
	}

	if err := s.el.SetProperty(key, value); err != nil {
		return Errorf(KindStageCreate, s, "", fmt.Errorf("%w: %s: %v", ErrInvalidProperty, key, err))
	}

	for i := range s.Props {
		if s.Props[i].Key == key {
			s.Props[i].Value = value
			return nil
		}
	}
	s.Props = append(s.Props, Property{Key: key, Value: value})
	return nil
}

// Prop returns the value last set for key.
func (s *Stage) Prop(key string) (any, bool) {
	for _, p := range s.Props {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// Registry creates stages by factory name and adds them to the backend
// pipeline container.
type Registry struct {
	backend Backend
	names   map[string]bool
}

// NewRegistry returns a registry backed by b.
func NewRegistry(b Backend) *Registry {
	return &Registry{backend: b, names: make(map[string]bool)}
}

// Create instantiates typeName as instanceName. A missing factory usually
// means a runtime plugin is not installed; callers must abort construction.
func (r *Registry) Create(typeName, instanceName string, role Role) (*Stage, error) {
	s := &Stage{Type: typeName, Name: instanceName, Role: role}

	if typeName == "" || instanceName == "" {
		return nil, Errorf(KindStageCreate, s, "", fmt.Errorf("%w: empty type or instance name", ErrUnknownType))
	}
	if r.names[instanceName] {
		return nil, Errorf(KindStageCreate, s, "", ErrDuplicateName)
	}

	el, err := r.backend.Make(typeName, instanceName)
	if err != nil {
		slog.Error("stage: could not be created", "type", typeName, "name", instanceName, "error", err)
		return nil, Errorf(KindStageCreate, s, "", err)
	}
	if err := r.backend.Add(el); err != nil {
		return nil, Errorf(KindStageCreate, s, "", fmt.Errorf("add to pipeline: %w", err))
	}

	s.el = el
	r.names[instanceName] = true

	slog.Debug("stage: created", "type", typeName, "name", instanceName, "role", role.String())
	return s, nil
}

// Destroy removes s from the backend container.
func (r *Registry) Destroy(s *Stage) error {
	if s == nil || s.el == nil {
		return nil
	}
	delete(r.names, s.Name)
	el := s.el
	s.el = nil
	if err := r.backend.Remove(el); err != nil {
		return fmt.Errorf("stage: remove %s: %w", s.Name, err)
	}
	return nil
}
