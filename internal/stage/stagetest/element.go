package stagetest

import (
	"fmt"
	"reflect"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/stage"
)

// Element is a fake stage.Element.
type Element struct {
	backend   *Backend
	name      string
	typeName  string
	props     map[string]any
	requested map[string]*Pad
}

func (e *Element) Name() string     { return e.name }
func (e *Element) TypeName() string { return e.typeName }

func (e *Element) SetProperty(key string, value any) error {
	e.backend.mu.Lock()
	defer e.backend.mu.Unlock()

	if e.backend.RefuseProperty[e.name+"."+key] {
		return fmt.Errorf("no property %q on %s", key, e.typeName)
	}
	if want, ok := e.backend.PropertyTypes[e.typeName][key]; ok {
		if got := reflect.TypeOf(value); got != want {
			return fmt.Errorf("invalid type %v for property %s, want %v", got, key, want)
		}
	}
	e.props[key] = value
	return nil
}

// Property returns the value stored by SetProperty.
func (e *Element) Property(key string) (any, bool) {
	e.backend.mu.Lock()
	defer e.backend.mu.Unlock()
	v, ok := e.props[key]
	return v, ok
}

func (e *Element) StaticPad(name string) (stage.Pad, error) {
	var dir stage.Direction
	switch name {
	case "src":
		dir = stage.DirOutput
	case "sink":
		dir = stage.DirInput
	default:
		return nil, fmt.Errorf("%w: %s has no static pad %q", stage.ErrPortUnavailable, e.name, name)
	}
	return e.newPad(name, dir), nil
}

func (e *Element) RequestPad(name string) (stage.Pad, error) {
	e.backend.mu.Lock()
	allowed := e.backend.RequestTypes[e.typeName]
	_, taken := e.requested[name]
	e.backend.mu.Unlock()

	if !allowed || !requestName.MatchString(name) {
		return nil, fmt.Errorf("%w: %s has no request pad %q", stage.ErrPortUnavailable, e.name, name)
	}
	if taken {
		return nil, fmt.Errorf("%w: %s pad %q already requested", stage.ErrPortUnavailable, e.name, name)
	}

	p := e.newPad(name, stage.DirInput)
	e.backend.mu.Lock()
	e.requested[name] = p
	e.backend.mu.Unlock()
	return p, nil
}

func (e *Element) ReleaseRequestPad(name string) error {
	e.backend.mu.Lock()
	defer e.backend.mu.Unlock()

	if _, ok := e.requested[name]; !ok {
		return fmt.Errorf("%w: %s pad %q", stage.ErrPortNotHeld, e.name, name)
	}
	delete(e.requested, name)
	e.backend.Released = append(e.backend.Released, e.name+"."+name)
	return nil
}

// Requested reports whether a request pad is currently held by the element.
func (e *Element) Requested(name string) bool {
	e.backend.mu.Lock()
	defer e.backend.mu.Unlock()
	_, ok := e.requested[name]
	return ok
}

func (e *Element) newPad(name string, dir stage.Direction) *Pad {
	e.backend.mu.Lock()
	defer e.backend.mu.Unlock()
	e.backend.liveRefs++
	return &Pad{owner: e, name: name, dir: dir, held: true}
}

// Pad is a fake stage.Pad handle.
type Pad struct {
	owner  *Element
	name   string
	dir    stage.Direction
	held   bool
	linked bool
}

func (p *Pad) Name() string               { return p.name }
func (p *Pad) Direction() stage.Direction { return p.dir }

func (p *Pad) IsLinked() bool {
	b := p.owner.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	return p.linked
}

func (p *Pad) Link(sink stage.Pad) error {
	s, ok := sink.(*Pad)
	if !ok {
		return fmt.Errorf("%w: foreign pad", stage.ErrLinkRefused)
	}
	b := p.owner.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	if p.dir != stage.DirOutput || s.dir != stage.DirInput {
		return fmt.Errorf("%w: wrong direction %s -> %s", stage.ErrLinkRefused, p.name, s.name)
	}
	if b.RefuseLink[p.owner.name+"->"+s.owner.name] {
		return fmt.Errorf("%w: %s -> %s", stage.ErrLinkRefused, p.owner.name, s.owner.name)
	}
	p.linked = true
	s.linked = true
	b.Links = append(b.Links, Link{Src: p.owner.name, SrcPad: p.name, Dst: s.owner.name, DstPad: s.name})
	return nil
}

func (p *Pad) Unref() {
	b := p.owner.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	if !p.held {
		b.doubleUnref++
		return
	}
	p.held = false
	b.liveRefs--
}
