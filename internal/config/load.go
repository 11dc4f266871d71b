package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/caps"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/probe"
)

// Defaults of the reference camera setup.
const (
	DefaultPipeline           = "usb-camera-pipeline"
	DefaultDevice             = "/dev/video0"
	DefaultInferenceConfig    = "dstest1_pgie_config.yml"
	DefaultWidth              = 640
	DefaultHeight             = 480
	DefaultCameraFormat       = "YUY2"
	DefaultFramerate          = "30/1"
	DefaultBatchSize          = 1
	DefaultBatchedPushTimeout = 4000000 // µs
	DefaultTransform          = "nvegltransform"
	DefaultSink               = "nveglglessink"
	DefaultMQTTTopic          = "usb-detect/reports"
	DefaultMQTTBuffer         = 64
	DefaultShutdownTimeoutS   = 5
)

var (
	ErrInvalid = errors.New("config: invalid configuration")

	elementNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]*$`)
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Pipeline: DefaultPipeline,
		Camera: CameraConfig{
			Device:    DefaultDevice,
			Width:     DefaultWidth,
			Height:    DefaultHeight,
			Format:    DefaultCameraFormat,
			Framerate: DefaultFramerate,
		},
		Inference: InferenceCfg{ConfigPath: DefaultInferenceConfig},
		Muxer: MuxerConfig{
			Width:              DefaultWidth,
			Height:             DefaultHeight,
			BatchSize:          DefaultBatchSize,
			BatchedPushTimeout: DefaultBatchedPushTimeout,
			LiveSource:         true,
		},
		Display: DisplayConfig{
			Transform: DefaultTransform,
			Sink:      DefaultSink,
			Sync:      true,
		},
		Classes: append([]probe.Class(nil), probe.DefaultClasses...),
		Log:     LogConfig{Level: "info", Format: "text"},
		MQTT: MQTTConfig{
			Topic:  DefaultMQTTTopic,
			Buffer: DefaultMQTTBuffer,
		},
		Shutdown: ShutdownConfig{TimeoutS: DefaultShutdownTimeoutS},
	}
}

// Load reads a YAML file over the defaults and validates the result.
// Keys absent from the file keep their default value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks cfg and fills derived defaults.
func Validate(cfg *Config) error {
	if !elementNamePattern.MatchString(cfg.Pipeline) {
		return fmt.Errorf("%w: pipeline name %q must match [a-z0-9-]+", ErrInvalid, cfg.Pipeline)
	}
	if cfg.Camera.Device == "" {
		return fmt.Errorf("%w: camera.device is required", ErrInvalid)
	}
	if _, err := cfg.CameraFormat(); err != nil {
		return fmt.Errorf("%w: camera: %v", ErrInvalid, err)
	}
	if cfg.Inference.ConfigPath == "" {
		return fmt.Errorf("%w: inference.config_path is required", ErrInvalid)
	}

	m := cfg.Muxer
	if m.Width <= 0 || m.Height <= 0 || int64(m.Width) > math.MaxUint32 || int64(m.Height) > math.MaxUint32 {
		return fmt.Errorf("%w: muxer resolution %dx%d out of range", ErrInvalid, m.Width, m.Height)
	}
	if m.BatchSize < 1 || int64(m.BatchSize) > math.MaxUint32 {
		return fmt.Errorf("%w: muxer.batch_size must be >= 1, got %d", ErrInvalid, m.BatchSize)
	}
	// batched-push-timeout is a gint on the muxer.
	if m.BatchedPushTimeout == 0 || m.BatchedPushTimeout > math.MaxInt32 {
		return fmt.Errorf("%w: muxer.batched_push_timeout_us must be in 1..%d, got %d", ErrInvalid, math.MaxInt32, m.BatchedPushTimeout)
	}

	if cfg.Display.Sink == "" {
		return fmt.Errorf("%w: display.sink is required", ErrInvalid)
	}

	if len(cfg.Classes) == 0 {
		cfg.Classes = append([]probe.Class(nil), probe.DefaultClasses...)
	}
	seen := make(map[int]bool, len(cfg.Classes))
	for _, c := range cfg.Classes {
		if c.Label == "" {
			return fmt.Errorf("%w: class %d has no label", ErrInvalid, c.ID)
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: class %d listed twice", ErrInvalid, c.ID)
		}
		seen[c.ID] = true
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level %q", ErrInvalid, cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalid, cfg.Log.Format)
	}

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = DefaultMQTTTopic
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrInvalid)
		}
		if cfg.MQTT.Buffer <= 0 {
			cfg.MQTT.Buffer = DefaultMQTTBuffer
		}
	}
	if cfg.Shutdown.TimeoutS <= 0 {
		cfg.Shutdown.TimeoutS = DefaultShutdownTimeoutS
	}
	return nil
}

// CameraFormat is the caps the camera is asked for.
func (c *Config) CameraFormat() (caps.Format, error) {
	pf, err := caps.ParsePixelFormat(c.Camera.Format)
	if err != nil {
		return caps.Format{}, err
	}
	rate, err := caps.ParseFraction(c.Camera.Framerate)
	if err != nil {
		return caps.Format{}, err
	}
	f := caps.Format{
		Media:       caps.MediaVideoRaw,
		PixelFormat: pf,
		Width:       c.Camera.Width,
		Height:      c.Camera.Height,
		Framerate:   rate,
	}
	return f, f.Validate()
}
