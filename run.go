package usbdetect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/events"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/probe"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/reportbus"
)

var (
	ErrPipeline = errors.New("usbdetect: pipeline failed")
	ErrOptions  = errors.New("usbdetect: invalid options")
)

// Run builds the pipeline described by cfg, plays it until end of stream,
// the first pipeline error or ctx cancellation, and tears it down.
//
// The returned Result always carries the exit code. err is nil for a clean
// end of stream or an interrupt.
func Run(ctx context.Context, cfg *Config, opts Options) (Result, error) {
	res := Result{RunID: opts.RunID}

	if cfg == nil {
		err := fmt.Errorf("%w: nil configuration", config.ErrInvalid)
		res.ExitCode = ExitCode(err)
		return res, err
	}
	if err := config.Validate(cfg); err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	if opts.Backend == nil || opts.Events == nil {
		res.ExitCode = ExitRuntimeError
		return res, fmt.Errorf("%w: backend and events are required", ErrOptions)
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Diag == nil {
		opts.Diag = os.Stderr
	}
	if res.RunID == "" {
		res.RunID = uuid.NewString()
	}
	logger := slog.With("run_id", res.RunID)

	bus := reportbus.New()
	defer bus.Close()

	agg, err := probe.New(probe.Config{
		Classes: cfg.Classes,
		Out:     opts.Out,
		Bus:     bus,
		RunID:   res.RunID,
	})
	if err != nil {
		err = fmt.Errorf("%w: %v", config.ErrInvalid, err)
		res.ExitCode = ExitCode(err)
		return res, err
	}

	g, err := buildGraph(cfg, opts.Backend, agg.Probe)
	if err != nil {
		logger.Error("usbdetect: pipeline construction failed", "error", err)
		fmt.Fprintln(opts.Diag, err)
		res.ExitCode = ExitCode(err)
		return res, err
	}
	res.Pipeline = g.Describe()

	// Report sinks drain their own channel; the bus never waits for them.
	sinkCtx, cancelSinks := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSinks()
	var sinks errgroup.Group
	channels := make([]chan reportbus.Report, 0, len(opts.Sinks))
	for i, s := range opts.Sinks {
		ch := make(chan reportbus.Report, reportBuffer(cfg))
		if err := bus.Subscribe(fmt.Sprintf("sink-%d", i), ch); err != nil {
			logger.Warn("usbdetect: report sink not subscribed", "sink", i, "error", err)
			continue
		}
		channels = append(channels, ch)
		sinks.Go(func() error { return s.Forward(sinkCtx, ch) })
	}

	loop, err := events.NewLoop(events.LoopConfig{
		Source: opts.Events,
		Teardown: func() error {
			fmt.Fprintln(opts.Out, "Returned, stopping playback")
			fmt.Fprintln(opts.Out, "Deleting pipeline")
			return g.Teardown()
		},
		Pipeline: cfg.Pipeline,
		Out:      opts.Out,
		Diag:     opts.Diag,
	})
	if err != nil {
		_ = g.Teardown()
		res.ExitCode = ExitRuntimeError
		return res, err
	}

	if err := g.Start(); err != nil {
		logger.Error("usbdetect: pipeline refused to start", "error", err)
		fmt.Fprintln(opts.Diag, err)
		if terr := g.Teardown(); terr != nil {
			logger.Warn("usbdetect: teardown after failed start", "error", terr)
		}
		stopSinks(bus, channels, &sinks, cancelSinks, shutdownTimeout(cfg))
		res.ExitCode = ExitCode(err)
		return res, err
	}

	fmt.Fprintln(opts.Out, "Running...")
	logger.Info("usbdetect: running", "pipeline", cfg.Pipeline, "device", cfg.Camera.Device)

	outcome := loop.Run(ctx)
	stopSinks(bus, channels, &sinks, cancelSinks, shutdownTimeout(cfg))

	res.Outcome = outcome
	res.Summary = agg.Summary()
	res.ExitCode = outcomeExitCode(outcome)
	logSummary(logger, outcome, res.Summary)

	if outcome.TeardownErr != nil {
		logger.Warn("usbdetect: teardown reported errors", "error", outcome.TeardownErr)
	}
	return res, outcomeErr(outcome)
}

// stopSinks detaches the sinks from the bus, closes their channels and waits
// up to timeout for them to drain.
func stopSinks(bus reportbus.Bus, channels []chan reportbus.Report, sinks *errgroup.Group, cancel context.CancelFunc, timeout time.Duration) {
	bus.Close()
	for _, ch := range channels {
		close(ch)
	}
	timer := time.AfterFunc(timeout, cancel)
	defer timer.Stop()
	if err := sinks.Wait(); err != nil {
		slog.Warn("usbdetect: report sink stopped with error", "error", err)
	}
}

func outcomeErr(o events.Outcome) error {
	switch o.Reason {
	case events.ReasonError:
		if o.Last != nil {
			return fmt.Errorf("%w: error from %s: %s", ErrPipeline, o.Last.Source, o.Last.Message)
		}
		return ErrPipeline
	case events.ReasonSourceFailed:
		return fmt.Errorf("%w: %w", ErrPipeline, o.Err)
	default:
		return nil
	}
}

func logSummary(logger *slog.Logger, o events.Outcome, s probe.Summary) {
	logger.Info("usbdetect: run finished",
		"reason", o.Reason.String(),
		"elapsed", o.Elapsed.Round(time.Millisecond),
		"notifications", o.Handled,
		"frames", s.Frames,
		"objects", s.Objects,
		"frames_without_meta", s.FramesNoMeta,
		"overlays", s.OverlaysAdded,
		"fps_mean", fmt.Sprintf("%.2f", s.Rate.FPSMean),
		"jitter_max", s.Rate.JitterMax,
	)
}

func reportBuffer(cfg *Config) int {
	if cfg.MQTT.Buffer > 0 {
		return cfg.MQTT.Buffer
	}
	return config.DefaultMQTTBuffer
}

func shutdownTimeout(cfg *Config) time.Duration {
	return time.Duration(cfg.Shutdown.TimeoutS) * time.Second
}
