package usbdetect

import (
	"context"
	"errors"
	"io"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/events"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/probe"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/reportbus"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/stage"
)

// Config is the complete run configuration.
type Config = config.Config

// DefaultConfig returns the reference camera setup: /dev/video0 at 640x480
// YUY2 30/1, batch size 1, 4 s batched-push timeout, live source.
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads a YAML file over DefaultConfig and validates it.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// ReportSink consumes per-frame reports until in is closed or ctx is done.
type ReportSink interface {
	Forward(ctx context.Context, in <-chan reportbus.Report) error
}

// Options carries the collaborators of a run.
type Options struct {
	// Backend creates the stages. Required.
	Backend stage.Backend
	// Events delivers pipeline notifications. Required.
	Events events.Source
	// Out receives the per-frame lines and operator messages.
	Out io.Writer
	// Diag receives error lines.
	Diag io.Writer
	// Sinks receive every per-frame report. Optional.
	Sinks []ReportSink
	// RunID tags reports and logs; generated when empty.
	RunID string
}

// Result describes a finished run.
type Result struct {
	RunID    string
	ExitCode int
	// Outcome is zero when construction failed before the loop started.
	Outcome events.Outcome
	Summary probe.Summary
	// Pipeline is the linked chain, e.g. "usb-cam-source -> v4l2src-caps -> ...".
	Pipeline string
}

// Process exit codes.
const (
	ExitOK = iota
	ExitRuntimeError
	ExitStageCreate
	ExitPortAcquire
	ExitLink
	ExitStart
	ExitConfig
)

// ExitCode maps an error returned by Run (or by config loading) to the
// process exit code. nil maps to ExitOK.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, config.ErrInvalid) {
		return ExitConfig
	}
	var ce *stage.ConstructionError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case stage.KindStageCreate:
			return ExitStageCreate
		case stage.KindPortAcquire:
			return ExitPortAcquire
		case stage.KindNegotiation, stage.KindLink, stage.KindUnlinked:
			return ExitLink
		case stage.KindStart:
			return ExitStart
		}
	}
	return ExitRuntimeError
}

// outcomeExitCode maps how the event loop ended to the exit code.
func outcomeExitCode(o events.Outcome) int {
	if o.Failed() {
		return ExitRuntimeError
	}
	return ExitOK
}
