// Package mqttsink publishes per-frame detection reports to an MQTT broker.
package mqttsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/reportbus"
)

var ErrNotConnected = errors.New("mqttsink: not connected")

// Config configures a Sink.
type Config struct {
	Broker   string // host:port or a full tcp:// URL
	ClientID string
	Topic    string
	QoS      byte

	ConnectTimeout time.Duration // default 5s
	PublishTimeout time.Duration // default 2s
}

// publisher is the part of the broker connection the sink needs.
type publisher interface {
	Publish(topic string, qos byte, payload []byte) error
	IsConnected() bool
	Disconnect()
}

// Sink publishes reports as JSON to one topic.
type Sink struct {
	cfg Config
	pub publisher

	mu        sync.RWMutex
	published uint64
	errors    uint64
	lastErr   error
}

// Stats contains sink statistics.
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
	LastError string
}

// Connect dials the broker and returns a connected sink. The client
// reconnects on its own after a lost connection.
func Connect(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqttsink: broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("mqttsink: topic is required")
	}
	cfg = withDefaults(cfg)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		slog.Info("mqttsink: connection established",
			"broker", cfg.Broker,
			"client_id", cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqttsink: connection lost, will auto-reconnect",
			"error", err,
			"broker", cfg.Broker,
		)
	}

	client := mqtt.NewClient(opts)
	slog.Info("mqttsink: connecting to broker", "broker", cfg.Broker, "topic", cfg.Topic)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(cfg.ConnectTimeout):
		return nil, fmt.Errorf("mqttsink: connection timeout after %s", cfg.ConnectTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqttsink: connection failed: %w", err)
	}

	return newSink(cfg, &pahoPublisher{client: client, timeout: cfg.PublishTimeout}), nil
}

func newSink(cfg Config, pub publisher) *Sink {
	return &Sink{cfg: withDefaults(cfg), pub: pub}
}

func withDefaults(cfg Config) Config {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	return cfg
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Publish sends one report.
func (s *Sink) Publish(r reportbus.Report) error {
	if !s.pub.IsConnected() {
		s.fail(ErrNotConnected)
		return ErrNotConnected
	}

	payload, err := json.Marshal(r)
	if err != nil {
		err = fmt.Errorf("mqttsink: failed to marshal report: %w", err)
		s.fail(err)
		return err
	}

	if err := s.pub.Publish(s.cfg.Topic, s.cfg.QoS, payload); err != nil {
		err = fmt.Errorf("mqttsink: publish failed: %w", err)
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.published++
	s.mu.Unlock()

	slog.Debug("mqttsink: report published",
		"topic", s.cfg.Topic,
		"frame", r.FrameNumber,
		"size", len(payload),
	)
	return nil
}

func (s *Sink) fail(err error) {
	s.mu.Lock()
	s.errors++
	s.lastErr = err
	s.mu.Unlock()
}

// Forward publishes every report received on in until in is closed or ctx
// is done. Publish failures are counted, logged once per distinct error and
// never stop forwarding.
func (s *Sink) Forward(ctx context.Context, in <-chan reportbus.Report) error {
	var lastLogged string
	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-in:
			if !ok {
				return nil
			}
			if err := s.Publish(r); err != nil && err.Error() != lastLogged {
				lastLogged = err.Error()
				slog.Warn("mqttsink: dropping report", "frame", r.FrameNumber, "error", err)
			}
		}
	}
}

// Close disconnects from the broker.
func (s *Sink) Close() {
	if s.pub.IsConnected() {
		s.pub.Disconnect()
		slog.Info("mqttsink: disconnected")
	}
}

// Stats returns sink statistics.
func (s *Sink) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Connected: s.pub.IsConnected(),
		Published: s.published,
		Errors:    s.errors,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

type pahoPublisher struct {
	client  mqtt.Client
	timeout time.Duration
}

func (p *pahoPublisher) Publish(topic string, qos byte, payload []byte) error {
	token := p.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish timeout after %s", p.timeout)
	}
	return token.Error()
}

func (p *pahoPublisher) IsConnected() bool { return p.client.IsConnected() }

func (p *pahoPublisher) Disconnect() { p.client.Disconnect(250) }
