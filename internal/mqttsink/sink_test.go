package mqttsink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/reportbus"
)

type message struct {
	Topic   string
	QoS     byte
	Payload []byte
}

type fakePublisher struct {
	mu           sync.Mutex
	connected    bool
	failWith     error
	messages     []message
	disconnected int
}

func (f *fakePublisher) Publish(topic string, qos byte, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.messages = append(f.messages, message{topic, qos, payload})
	return nil
}

func (f *fakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePublisher) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected++
}

func (f *fakePublisher) sent() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.messages...)
}

func TestSink_Publish(t *testing.T) {
	fake := &fakePublisher{connected: true}
	s := newSink(Config{Topic: "usb-detect/reports", QoS: 1}, fake)

	r := reportbus.Report{
		RunID:       "run-1",
		FrameNumber: 4,
		Timestamp:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Frames:      1,
		Objects:     3,
		Counts:      map[string]int{"Vehicle": 1, "Person": 2},
		HasMeta:     true,
	}
	if err := s.Publish(r); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	msgs := fake.sent()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Topic != "usb-detect/reports" || msgs[0].QoS != 1 {
		t.Errorf("topic/qos = %s/%d", msgs[0].Topic, msgs[0].QoS)
	}

	var got reportbus.Report
	if err := json.Unmarshal(msgs[0].Payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
	if st := s.Stats(); st.Published != 1 || st.Errors != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSink_PublishErrors(t *testing.T) {
	fake := &fakePublisher{connected: false}
	s := newSink(Config{Topic: "t"}, fake)

	if err := s.Publish(reportbus.Report{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}

	boom := errors.New("broker gone")
	fake.connected = true
	fake.failWith = boom
	if err := s.Publish(reportbus.Report{}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped broker error, got %v", err)
	}

	st := s.Stats()
	if st.Errors != 2 || st.Published != 0 {
		t.Errorf("stats = %+v", st)
	}
	if st.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestSink_Forward(t *testing.T) {
	fake := &fakePublisher{connected: true}
	s := newSink(Config{Topic: "t"}, fake)

	in := make(chan reportbus.Report, 8)
	for i := 0; i < 5; i++ {
		in <- reportbus.Report{FrameNumber: uint64(i)}
	}
	close(in)

	if err := s.Forward(context.Background(), in); err != nil {
		t.Fatalf("Forward returned %v", err)
	}
	if got := len(fake.sent()); got != 5 {
		t.Errorf("forwarded %d reports, want 5", got)
	}
}

func TestSink_ForwardStopsOnCancel(t *testing.T) {
	s := newSink(Config{Topic: "t"}, &fakePublisher{connected: true})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Forward(ctx, make(chan reportbus.Report)) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Forward returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Forward did not stop on cancel")
	}
}

func TestSink_Close(t *testing.T) {
	fake := &fakePublisher{connected: true}
	s := newSink(Config{Topic: "t"}, fake)
	s.Close()
	s.Close()
	if fake.disconnected != 1 {
		t.Errorf("disconnected %d times, want 1", fake.disconnected)
	}
}

func TestConnect_Validation(t *testing.T) {
	ctx := context.Background()
	if _, err := Connect(ctx, Config{Topic: "t"}); err == nil {
		t.Error("expected error without broker")
	}
	if _, err := Connect(ctx, Config{Broker: "localhost:1883"}); err == nil {
		t.Error("expected error without topic")
	}
}

func TestBrokerURL(t *testing.T) {
	tests := map[string]string{
		"localhost:1883":      "tcp://localhost:1883",
		"ssl://broker:8883":   "ssl://broker:8883",
		"tcp://10.0.0.1:1883": "tcp://10.0.0.1:1883",
	}
	for in, want := range tests {
		if got := brokerURL(in); got != want {
			t.Errorf("brokerURL(%q) = %q, want %q", in, got, want)
		}
	}
}
