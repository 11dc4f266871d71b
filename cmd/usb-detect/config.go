package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	usbdetect "github.com/e7canasta/orion-care-sensor/modules/usb-detect"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/config"
)

var flagConfig string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			exitCode = usbdetect.ExitConfig
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

// loadConfig reads --config (or the defaults) and applies the flags the
// command defines on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		d := config.Default()
		cfg = &d
	}

	f := cmd.Flags()
	if f.Changed("device") {
		cfg.Camera.Device, _ = f.GetString("device")
	}
	if f.Changed("infer-config") {
		cfg.Inference.ConfigPath, _ = f.GetString("infer-config")
	}
	if f.Changed("batch-size") {
		cfg.Muxer.BatchSize, _ = f.GetInt("batch-size")
	}
	if f.Changed("batch-timeout") {
		cfg.Muxer.BatchedPushTimeout, _ = f.GetUint64("batch-timeout")
	}
	if f.Changed("live") {
		cfg.Muxer.LiveSource, _ = f.GetBool("live")
	}
	if f.Changed("transform") {
		t, _ := f.GetString("transform")
		if strings.EqualFold(t, "none") {
			t = ""
		}
		cfg.Display.Transform = t
	}
	if f.Changed("log-level") {
		cfg.Log.Level, _ = f.GetString("log-level")
	}
	if f.Changed("mqtt-broker") {
		cfg.MQTT.Broker, _ = f.GetString("mqtt-broker")
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(c config.LogConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
