package events

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fixture struct {
	src       *ChannelSource
	loop      *Loop
	out, diag bytes.Buffer
	teardowns atomic.Int32
}

func newFixture(t *testing.T, teardownErr error) *fixture {
	t.Helper()
	f := &fixture{src: NewChannelSource(16)}
	loop, err := NewLoop(LoopConfig{
		Source: f.src,
		Teardown: func() error {
			f.teardowns.Add(1)
			return teardownErr
		},
		Pipeline: "usb-camera-pipeline",
		Out:      &f.out,
		Diag:     &f.diag,
	})
	if err != nil {
		t.Fatalf("NewLoop failed: %v", err)
	}
	f.loop = loop
	return f
}

func (f *fixture) post(t *testing.T, ns ...Notification) {
	t.Helper()
	for _, n := range ns {
		if !f.src.Post(context.Background(), n) {
			t.Fatalf("Post(%v) refused", n.Kind)
		}
	}
}

func TestLoop_ErrorStopsRun(t *testing.T) {
	f := newFixture(t, nil)
	f.post(t, Notification{
		Kind:    KindError,
		Source:  "pgie",
		Message: "model load failed",
		Detail:  "gstnvinfer.cpp: failed to create engine",
	})

	out := f.loop.Run(context.Background())

	if out.Reason != ReasonError || !out.Failed() {
		t.Errorf("Reason = %v, want error", out.Reason)
	}
	if out.Category != CategoryInference {
		t.Errorf("Category = %v, want inference", out.Category)
	}
	if out.Last == nil || out.Last.Source != "pgie" {
		t.Errorf("Last = %+v", out.Last)
	}
	if f.loop.Phase() != PhaseStopping {
		t.Errorf("phase = %v, want stopping", f.loop.Phase())
	}
	if got := f.teardowns.Load(); got != 1 {
		t.Errorf("teardown ran %d times, want 1", got)
	}

	diag := f.diag.String()
	for _, want := range []string{"pgie", "model load failed", "Error details: gstnvinfer.cpp"} {
		if !strings.Contains(diag, want) {
			t.Errorf("diagnostic output %q missing %q", diag, want)
		}
	}
	if f.out.Len() != 0 {
		t.Errorf("error run wrote to stdout: %q", f.out.String())
	}
}

func TestLoop_EOS(t *testing.T) {
	f := newFixture(t, nil)
	f.post(t, Notification{Kind: KindEOS, Source: "usb-camera-pipeline"})

	out := f.loop.Run(context.Background())

	if out.Reason != ReasonEOS || out.Failed() {
		t.Errorf("Reason = %v, want eos", out.Reason)
	}
	if got := f.out.String(); got != "End of stream\n" {
		t.Errorf("stdout = %q", got)
	}
	if got := f.teardowns.Load(); got != 1 {
		t.Errorf("teardown ran %d times, want 1", got)
	}
}

func TestLoop_IgnoresOtherNotifications(t *testing.T) {
	f := newFixture(t, nil)
	f.post(t,
		Notification{Kind: KindOther, Source: "src"},
		Notification{Kind: KindStateChanged, Source: "src", From: "NULL", To: "READY"},
		Notification{Kind: KindStateChanged, Source: "usb-camera-pipeline", From: "PAUSED", To: "PLAYING"},
		Notification{Kind: KindOther},
		Notification{Kind: KindEOS},
		Notification{Kind: KindError, Source: "never-read"},
	)

	out := f.loop.Run(context.Background())

	if out.Reason != ReasonEOS {
		t.Errorf("Reason = %v, want eos", out.Reason)
	}
	if out.Handled != 5 {
		t.Errorf("Handled = %d, want 5 (loop must stop at EOS)", out.Handled)
	}
	if got := f.loop.PipelineState(); got != "PLAYING" {
		t.Errorf("PipelineState = %q, want PLAYING", got)
	}
}

func TestLoop_Interrupted(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Outcome, 1)
	go func() { done <- f.loop.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	if f.loop.Phase() != PhaseRunning {
		t.Fatalf("phase = %v before cancel", f.loop.Phase())
	}
	cancel()

	select {
	case out := <-done:
		if out.Reason != ReasonInterrupted || out.Failed() {
			t.Errorf("Reason = %v, want interrupted", out.Reason)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := f.teardowns.Load(); got != 1 {
		t.Errorf("teardown ran %d times, want 1", got)
	}
}

func TestLoop_SourceClosed(t *testing.T) {
	f := newFixture(t, nil)
	f.post(t, Notification{Kind: KindOther})
	f.src.Close()

	out := f.loop.Run(context.Background())

	if out.Reason != ReasonSourceFailed || !errors.Is(out.Err, ErrSourceClosed) {
		t.Errorf("outcome = %+v", out)
	}
	if out.Handled != 1 {
		t.Errorf("Handled = %d, want 1", out.Handled)
	}
}

func TestLoop_RunTwice(t *testing.T) {
	teardownErr := errors.New("remove failed")
	f := newFixture(t, teardownErr)
	f.post(t, Notification{Kind: KindEOS})

	first := f.loop.Run(context.Background())
	second := f.loop.Run(context.Background())

	if !errors.Is(first.TeardownErr, teardownErr) {
		t.Errorf("TeardownErr = %v", first.TeardownErr)
	}
	if diff := cmp.Diff(first, second, cmp.Comparer(func(a, b error) bool { return a == b })); diff != "" {
		t.Errorf("second Run differs (-first +second):\n%s", diff)
	}
	if got := f.teardowns.Load(); got != 1 {
		t.Errorf("teardown ran %d times, want 1", got)
	}
}

func TestNewLoop_Validation(t *testing.T) {
	if _, err := NewLoop(LoopConfig{Teardown: func() error { return nil }}); err == nil {
		t.Error("expected error without source")
	}
	if _, err := NewLoop(LoopConfig{Source: NewChannelSource(1)}); err == nil {
		t.Error("expected error without teardown")
	}
}

func TestChannelSource_Order(t *testing.T) {
	src := NewChannelSource(8)
	ctx := context.Background()
	for _, s := range []string{"a", "b", "c"} {
		src.Post(ctx, Notification{Source: s})
	}
	src.Close()

	var got []string
	for {
		n, err := src.Next(ctx)
		if err != nil {
			if !errors.Is(err, ErrSourceClosed) {
				t.Fatalf("unexpected error: %v", err)
			}
			break
		}
		got = append(got, n.Source)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if src.Post(ctx, Notification{}) {
		t.Error("Post succeeded after Close")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		n    Notification
		want Category
	}{
		{"model", Notification{Kind: KindError, Source: "primary-nvinference-engine", Message: "Failed to create NvDsInferContext instance"}, CategoryInference},
		{"pgie", Notification{Kind: KindError, Source: "pgie", Message: "model load failed"}, CategoryInference},
		{"caps", Notification{Kind: KindError, Source: "capsfilter", Message: "Internal data stream error", Detail: "streaming stopped, reason not-negotiated (-4) not negotiated"}, CategoryNegotiation},
		{"cuda", Notification{Kind: KindError, Source: "nvvideo-converter", Message: "CUDA out of memory"}, CategoryResource},
		{"camera", Notification{Kind: KindError, Source: "usb-cam-source", Message: "Cannot identify device '/dev/video0'"}, CategoryDevice},
		{"busy", Notification{Kind: KindError, Source: "src", Message: "Resource busy"}, CategoryDevice},
		{"unknown", Notification{Kind: KindError, Source: "sink", Message: "something odd"}, CategoryUnknown},
		{"not an error", Notification{Kind: KindEOS, Message: "model"}, CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.n); got != tt.want {
				t.Errorf("Classify = %v, want %v", got, tt.want)
			}
		})
	}
}
