package stage

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownType     = errors.New("unknown stage type")
	ErrDuplicateName   = errors.New("duplicate stage name")
	ErrInvalidProperty = errors.New("invalid property")
	ErrPortUnavailable = errors.New("port unavailable")
	ErrPortNotHeld     = errors.New("port handle not held")
	ErrIncompatible    = errors.New("incompatible formats")
	ErrLinkRefused     = errors.New("link refused")
	ErrUnlinked        = errors.New("unlinked mandatory port")
)

// Kind classifies construction failures. Each kind maps to its own exit code.
type Kind int

const (
	KindStageCreate Kind = iota
	KindPortAcquire
	KindNegotiation
	KindLink
	KindUnlinked
	KindStart
)

func (k Kind) String() string {
	switch k {
	case KindStageCreate:
		return "stage-create"
	case KindPortAcquire:
		return "port-acquire"
	case KindNegotiation:
		return "negotiation"
	case KindLink:
		return "link"
	case KindUnlinked:
		return "unlinked"
	case KindStart:
		return "start"
	default:
		return "unknown"
	}
}

// ConstructionError is a fatal failure while building or starting the
// graph. It names the stage (and port, when relevant) that rejected the step.
type ConstructionError struct {
	Kind  Kind
	Stage string
	Type  string
	Port  string
	Err   error
}

func (e *ConstructionError) Error() string {
	where := e.Stage
	if e.Type != "" {
		where = fmt.Sprintf("%s (%s)", e.Stage, e.Type)
	}
	if e.Port != "" {
		where = fmt.Sprintf("%s pad %s", where, e.Port)
	}
	return fmt.Sprintf("construction [%s] at %s: %v", e.Kind, where, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// Errorf builds a ConstructionError for stage s.
func Errorf(kind Kind, s *Stage, port string, err error) *ConstructionError {
	ce := &ConstructionError{Kind: kind, Port: port, Err: err}
	if s != nil {
		ce.Stage = s.Name
		ce.Type = s.Type
	}
	return ce
}
