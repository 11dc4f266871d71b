// Package events runs the control-event loop: it waits for pipeline
// notifications one at a time and decides when the run is over.
package events

import (
	"context"
	"errors"
	"sync"
)

// ErrSourceClosed is returned by Source.Next once no further notifications
// will arrive.
var ErrSourceClosed = errors.New("events: notification source closed")

// Kind is the notification variant.
type Kind int

const (
	KindOther Kind = iota
	KindEOS
	KindError
	KindStateChanged
)

func (k Kind) String() string {
	switch k {
	case KindEOS:
		return "eos"
	case KindError:
		return "error"
	case KindStateChanged:
		return "state-changed"
	default:
		return "other"
	}
}

// Notification is one message posted by the pipeline.
type Notification struct {
	Kind Kind
	// Source is the name of the stage that posted it.
	Source  string
	Message string
	// Detail is the optional debug string of an Error.
	Detail string
	// From and To are set for KindStateChanged.
	From, To string
}

// Source delivers notifications in emission order, each at most once.
// Next blocks until a notification is available, ctx is done (ctx.Err() is
// returned) or the source is closed (ErrSourceClosed).
type Source interface {
	Next(ctx context.Context) (Notification, error)
}

// ChannelSource is a Source fed through Post. It is used where notifications
// come from Go code rather than a pipeline bus.
type ChannelSource struct {
	ch        chan Notification
	closed    chan struct{}
	closeOnce sync.Once
}

// NewChannelSource returns a source buffering up to size notifications.
func NewChannelSource(size int) *ChannelSource {
	return &ChannelSource{
		ch:     make(chan Notification, size),
		closed: make(chan struct{}),
	}
}

// Post queues n. It returns false if the source is closed or ctx ends first.
func (s *ChannelSource) Post(ctx context.Context, n Notification) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.ch <- n:
		return true
	case <-s.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close stops delivery once the queued notifications are drained.
func (s *ChannelSource) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *ChannelSource) Next(ctx context.Context) (Notification, error) {
	// Queued notifications win over close so nothing posted is lost.
	select {
	case n := <-s.ch:
		return n, nil
	default:
	}
	select {
	case n := <-s.ch:
		return n, nil
	case <-ctx.Done():
		return Notification{}, ctx.Err()
	case <-s.closed:
		select {
		case n := <-s.ch:
			return n, nil
		default:
			return Notification{}, ErrSourceClosed
		}
	}
}
