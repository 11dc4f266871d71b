// Package reportbus distributes per-frame detection reports to subscribers
// without ever blocking the probe that publishes them.
//
// A subscriber whose channel is full misses the report; the drop is counted
// in its stats. Reports are never queued behind a slow consumer.
package reportbus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrBusClosed          = errors.New("reportbus: bus is closed")
	ErrSubscriberExists   = errors.New("reportbus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("reportbus: subscriber not found")
	ErrNilChannel         = errors.New("reportbus: nil channel provided")
)

// Report summarizes the detections in one buffer.
type Report struct {
	RunID       string         `json:"run_id"`
	FrameNumber uint64         `json:"frame_number"`
	Timestamp   time.Time      `json:"timestamp"`
	Frames      int            `json:"frames"`
	Objects     int            `json:"objects"`
	Counts      map[string]int `json:"counts"`
	// HasMeta is false when the buffer carried no batch metadata.
	HasMeta bool `json:"has_meta"`
}

// SubscriberStats tracks delivery for one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// Bus fans reports out to subscribers.
type Bus interface {
	Subscribe(id string, ch chan<- Report) error
	Publish(r Report)
	Unsubscribe(id string) error
	Stats(id string) (SubscriberStats, error)
	Close()
}

type subscriber struct {
	ch    chan<- Report
	stats SubscriberStats
}

type bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   uint64
	closed      bool
}

// New creates an empty bus.
func New() Bus {
	return &bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers ch under id.
func (b *bus) Subscribe(id string, ch chan<- Report) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	if ch == nil {
		return ErrNilChannel
	}
	b.subscribers[id] = &subscriber{ch: ch}
	return nil
}

// Publish offers r to every subscriber without blocking.
func (b *bus) Publish(r Report) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	atomic.AddUint64(&b.published, 1)

	for _, s := range b.subscribers {
		select {
		case s.ch <- r:
			atomic.AddUint64(&s.stats.Sent, 1)
		default:
			atomic.AddUint64(&s.stats.Dropped, 1)
		}
	}
}

// Unsubscribe removes id. The subscriber's channel is left open; its owner closes it.
func (b *bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	return nil
}

// Stats returns a snapshot of id's delivery counters.
func (b *bus) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, exists := b.subscribers[id]
	if !exists {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return SubscriberStats{
		Sent:    atomic.LoadUint64(&s.stats.Sent),
		Dropped: atomic.LoadUint64(&s.stats.Dropped),
	}, nil
}

// Close stops delivery and forgets all subscribers. Idempotent.
func (b *bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.subscribers = make(map[string]*subscriber)
}
