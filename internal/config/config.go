package config

import (
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/probe"
)

// Config is the complete usb-detect configuration.
type Config struct {
	Pipeline  string         `yaml:"pipeline"` // top-level pipeline name
	Camera    CameraConfig   `yaml:"camera"`
	Inference InferenceCfg   `yaml:"inference"`
	Muxer     MuxerConfig    `yaml:"muxer"`
	Display   DisplayConfig  `yaml:"display"`
	Classes   []probe.Class  `yaml:"classes"`
	Log       LogConfig      `yaml:"log"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	Shutdown  ShutdownConfig `yaml:"shutdown"`
}

// CameraConfig describes the V4L2 device and the format it is asked for.
type CameraConfig struct {
	Device    string `yaml:"device"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	Format    string `yaml:"format"`    // YUY2, UYVY, NV12, ...
	Framerate string `yaml:"framerate"` // "30/1"
}

// InferenceCfg points the primary detector at its configuration file.
type InferenceCfg struct {
	ConfigPath string `yaml:"config_path"`
}

// MuxerConfig configures the batching multiplexer.
type MuxerConfig struct {
	Width              int    `yaml:"width"`
	Height             int    `yaml:"height"`
	BatchSize          int    `yaml:"batch_size"`
	BatchedPushTimeout uint64 `yaml:"batched_push_timeout_us"`
	LiveSource         bool   `yaml:"live_source"`
}

// DisplayConfig selects the render stages.
type DisplayConfig struct {
	// Transform is the element placed between the OSD and the sink
	// (nvegltransform on Jetson). Empty omits it.
	Transform string `yaml:"transform"`
	Sink      string `yaml:"sink"`
	Sync      bool   `yaml:"sync"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MQTTConfig enables report publishing when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Buffer   int    `yaml:"buffer"` // reports queued for the publisher
}

// ShutdownConfig bounds how long teardown may take.
type ShutdownConfig struct {
	TimeoutS int `yaml:"timeout_s"`
}
