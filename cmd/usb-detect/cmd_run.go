package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	usbdetect "github.com/e7canasta/orion-care-sensor/modules/usb-detect"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/gstbackend"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/mqttsink"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/nvds"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the pipeline and play it until end of stream, error or Ctrl+C",
	Long: `Builds the camera -> muxer -> detector -> OSD -> display pipeline and plays it.

Exit codes:
  0  end of stream or interrupt
  1  pipeline error at runtime
  2  a stage could not be created (missing plugin)
  3  a muxer port could not be acquired
  4  link or format negotiation failure
  5  the pipeline refused to start
  6  invalid configuration`,
	RunE: runRun,
}

func init() {
	defineRunFlags(runCmd)
}

func defineRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("device", "", "V4L2 device (overrides camera.device)")
	f.String("infer-config", "", "nvinfer configuration file (overrides inference.config_path)")
	f.Int("batch-size", 0, "Muxer batch size (overrides muxer.batch_size)")
	f.Uint64("batch-timeout", 0, "Muxer batched-push-timeout in microseconds")
	f.Bool("live", true, "Treat the camera as a live source")
	f.String("transform", "", "Display transform element; \"none\" omits it")
	f.String("log-level", "", "Log level: debug, info, warn, error")
	f.String("mqtt-broker", "", "Publish per-frame reports to this MQTT broker")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		exitCode = usbdetect.ExitConfig
		return err
	}
	slog.SetDefault(newLogger(cfg.Log, os.Stderr))

	runID := uuid.NewString()
	slog.Info("usb-detect: starting",
		"version", version,
		"run_id", runID,
		"device", cfg.Camera.Device,
		"inference_config", cfg.Inference.ConfigPath,
	)
	if !nvds.Enabled {
		slog.Warn("usb-detect: built without DeepStream metadata support, object counts will be zero (rebuild with -tags deepstream)")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := gstbackend.New(cfg.Pipeline)
	if err != nil {
		exitCode = usbdetect.ExitRuntimeError
		return err
	}

	opts := usbdetect.Options{
		Backend: backend,
		Events:  backend.Events(),
		Out:     os.Stdout,
		Diag:    os.Stderr,
		RunID:   runID,
	}

	if cfg.MQTT.Broker != "" {
		clientID := cfg.MQTT.ClientID
		if clientID == "" {
			clientID = "usb-detect-" + runID[:8]
		}
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		sink, err := mqttsink.Connect(connectCtx, mqttsink.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: clientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
		})
		cancel()
		if err != nil {
			slog.Warn("usb-detect: continuing without report publishing", "error", err)
		} else {
			defer func() {
				st := sink.Stats()
				slog.Info("usb-detect: report publishing stopped",
					"published", st.Published,
					"errors", st.Errors,
					"last_error", st.LastError,
				)
				sink.Close()
			}()
			opts.Sinks = append(opts.Sinks, sink)
		}
	}

	res, err := usbdetect.Run(ctx, cfg, opts)
	exitCode = res.ExitCode
	if err != nil {
		slog.Error("usb-detect: run failed", "run_id", runID, "exit_code", res.ExitCode, "error", err)
	}
	// Run already reported the failure on the diagnostic stream.
	return nil
}
