package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Phase is the loop state.
type Phase int

const (
	PhaseRunning Phase = iota
	PhaseStopping
)

func (p Phase) String() string {
	if p == PhaseStopping {
		return "stopping"
	}
	return "running"
}

// Reason says why the loop stopped.
type Reason int

const (
	ReasonEOS Reason = iota
	ReasonError
	ReasonInterrupted
	// ReasonSourceFailed means the notification source itself broke or closed.
	ReasonSourceFailed
)

func (r Reason) String() string {
	switch r {
	case ReasonEOS:
		return "eos"
	case ReasonError:
		return "error"
	case ReasonInterrupted:
		return "interrupted"
	default:
		return "source-failed"
	}
}

// Outcome is the result of one run of the loop.
type Outcome struct {
	Reason Reason
	// Last is the notification that ended the run, if any.
	Last *Notification
	// Category is set when Reason is ReasonError.
	Category Category
	// Handled counts notifications received, ignored ones included.
	Handled int
	// Err is the source failure for ReasonSourceFailed.
	Err error
	// TeardownErr is what the teardown function returned.
	TeardownErr error
	Elapsed     time.Duration
}

// Failed reports whether the run ended because something went wrong.
func (o Outcome) Failed() bool {
	return o.Reason == ReasonError || o.Reason == ReasonSourceFailed
}

// LoopConfig configures a Loop.
type LoopConfig struct {
	Source Source
	// Teardown releases the pipeline. It runs exactly once, when the loop
	// enters PhaseStopping.
	Teardown func() error
	// Pipeline is the name of the top-level pipeline; state changes of other
	// stages are only logged at debug level.
	Pipeline string
	// Out receives operator lines ("End of stream").
	Out io.Writer
	// Diag receives error lines.
	Diag io.Writer
}

// Loop is the control-event loop. It handles one notification at a time.
type Loop struct {
	cfg LoopConfig

	mu      sync.Mutex
	phase   Phase
	state   string
	outcome Outcome
	done    bool
}

// NewLoop validates cfg and returns a loop in PhaseRunning.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Source == nil {
		return nil, errors.New("events: source is required")
	}
	if cfg.Teardown == nil {
		return nil, errors.New("events: teardown is required")
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	if cfg.Diag == nil {
		cfg.Diag = io.Discard
	}
	return &Loop{cfg: cfg}, nil
}

// Phase returns the current phase.
func (l *Loop) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// PipelineState is the last state the pipeline reported, or "".
func (l *Loop) PipelineState() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Run blocks until the run ends by EOS, an Error notification, ctx
// cancellation or a source failure, then tears down and returns the outcome.
// Calling Run again returns the same outcome without waiting.
func (l *Loop) Run(ctx context.Context) Outcome {
	l.mu.Lock()
	if l.done {
		out := l.outcome
		l.mu.Unlock()
		return out
	}
	l.mu.Unlock()

	started := time.Now()
	var out Outcome
	for {
		n, err := l.cfg.Source.Next(ctx)
		if err != nil {
			handled := out.Handled
			out = l.sourceStopped(ctx, err)
			out.Handled = handled
			break
		}
		out.Handled++
		if stop, reason := l.handle(n); stop {
			last := n
			out.Reason = reason
			out.Last = &last
			if reason == ReasonError {
				out.Category = Classify(n)
			}
			break
		}
	}

	out = l.stop(out)
	out.Elapsed = time.Since(started)

	l.mu.Lock()
	l.outcome = out
	l.done = true
	l.mu.Unlock()
	return out
}

// handle processes one notification and reports whether the loop must stop.
func (l *Loop) handle(n Notification) (bool, Reason) {
	switch n.Kind {
	case KindEOS:
		fmt.Fprintln(l.cfg.Out, "End of stream")
		slog.Info("events: end of stream received", "source", n.Source)
		return true, ReasonEOS

	case KindError:
		category := Classify(n)
		fmt.Fprintf(l.cfg.Diag, "ERROR from element %s: %s\n", n.Source, n.Message)
		if n.Detail != "" {
			fmt.Fprintf(l.cfg.Diag, "Error details: %s\n", n.Detail)
		}
		slog.Error("events: pipeline error",
			"source", n.Source,
			"error", n.Message,
			"debug", n.Detail,
			"category", category.String(),
		)
		return true, ReasonError

	case KindStateChanged:
		if n.Source == l.cfg.Pipeline {
			l.mu.Lock()
			l.state = n.To
			l.mu.Unlock()
			slog.Debug("events: pipeline state changed", "from", n.From, "to", n.To)
		}
		return false, 0

	default:
		return false, 0
	}
}

func (l *Loop) sourceStopped(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		slog.Info("events: interrupted, stopping pipeline")
		return Outcome{Reason: ReasonInterrupted}
	}
	slog.Error("events: notification source failed", "error", err)
	return Outcome{Reason: ReasonSourceFailed, Err: err}
}

// stop moves the loop to PhaseStopping and runs teardown once.
func (l *Loop) stop(out Outcome) Outcome {
	l.mu.Lock()
	if l.phase == PhaseStopping {
		l.mu.Unlock()
		return out
	}
	l.phase = PhaseStopping
	l.mu.Unlock()

	slog.Debug("events: stopping", "reason", out.Reason.String())
	if err := l.cfg.Teardown(); err != nil {
		slog.Error("events: teardown failed", "error", err)
		out.TeardownErr = err
	}
	return out
}
