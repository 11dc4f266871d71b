package usbdetect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/events"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/meta"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/reportbus"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/stage"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/stage/stagetest"
)

// scriptedSource pushes buffers through the OSD probe on the first Next call,
// then ends the run with final, a source error, or by cancelling the run.
type scriptedSource struct {
	backend *stagetest.Backend
	buffers []stage.Buffer
	final   events.Notification
	err     error
	// cancel, when set, interrupts the run once the buffers are pushed.
	cancel context.CancelFunc

	pushed bool
}

func (s *scriptedSource) Next(ctx context.Context) (events.Notification, error) {
	if !s.pushed {
		s.pushed = true
		for _, buf := range s.buffers {
			s.backend.Push(StageOSD, ProbePad, buf)
		}
		return events.Notification{Kind: events.KindStateChanged, Source: "usb-camera-pipeline", From: "PAUSED", To: "PLAYING"}, nil
	}
	if s.cancel != nil {
		s.cancel()
		<-ctx.Done()
		return events.Notification{}, ctx.Err()
	}
	if s.err != nil {
		return events.Notification{}, s.err
	}
	return s.final, nil
}

func detections(ids ...int) []meta.Object {
	objs := make([]meta.Object, len(ids))
	for i, id := range ids {
		objs[i] = meta.Object{ClassID: id, ObjectID: uint64(i)}
	}
	return objs
}

func buffers() []stage.Buffer {
	return []stage.Buffer{
		stagetest.Buffer{Meta: meta.NewBatch(meta.DefaultPoolSize, meta.NewFrame(0, detections(0, 2, 2)...))},
		stagetest.Buffer{Meta: meta.NewBatch(meta.DefaultPoolSize, meta.NewFrame(1))},
		stagetest.Buffer{},
	}
}

type harness struct {
	backend *stagetest.Backend
	source  *scriptedSource
	out     bytes.Buffer
	diag    bytes.Buffer
	cfg     Config
}

func newHarness() *harness {
	b := stagetest.New()
	return &harness{
		backend: b,
		source: &scriptedSource{
			backend: b,
			buffers: buffers(),
			final:   events.Notification{Kind: events.KindEOS, Source: "usb-camera-pipeline"},
		},
		cfg: DefaultConfig(),
	}
}

func (h *harness) run(ctx context.Context, sinks ...ReportSink) (Result, error) {
	return Run(ctx, &h.cfg, Options{
		Backend: h.backend,
		Events:  h.source,
		Out:     &h.out,
		Diag:    &h.diag,
		Sinks:   sinks,
		RunID:   "run-test",
	})
}

func reversed(s []string) []string {
	out := slices.Clone(s)
	slices.Reverse(out)
	return out
}

func (h *harness) assertReleased(t *testing.T) {
	t.Helper()
	if refs := h.backend.LiveRefs(); refs != 0 {
		t.Errorf("LiveRefs = %d, want 0", refs)
	}
	if n := h.backend.DoubleUnrefs(); n != 0 {
		t.Errorf("DoubleUnrefs = %d, want 0", n)
	}
	if diff := cmp.Diff(reversed(h.backend.Made), h.backend.Removed); diff != "" {
		t.Errorf("stages not removed in reverse construction order (-want +got):\n%s", diff)
	}
}

func TestRun_EndOfStream(t *testing.T) {
	h := newHarness()

	res, err := h.run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != ExitOK {
		t.Errorf("ExitCode = %d, want %d", res.ExitCode, ExitOK)
	}
	if res.Outcome.Reason != events.ReasonEOS {
		t.Errorf("Reason = %v, want EOS", res.Outcome.Reason)
	}

	want := []string{
		"Running...",
		"Frame Number = 0 Number of objects = 3 Vehicle Count = 1 Person Count = 2",
		"Frame Number = 1 Number of objects = 0 Vehicle Count = 0 Person Count = 0",
		"Frame Number = 2 Number of objects = 0 Vehicle Count = 0 Person Count = 0",
		"End of stream",
		"Returned, stopping playback",
		"Deleting pipeline",
	}
	got := strings.Split(strings.TrimSpace(h.out.String()), "\n")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stdout mismatch (-want +got):\n%s", diff)
	}

	wantMade := []string{
		StageSource, StageCamCaps, StageSrcConv, StageNV12Caps, StageNVConv, StageNVMMCaps,
		StageMuxer, StageInference, StageOSDConv, StageOSD, StageTransform, StageSink,
	}
	if diff := cmp.Diff(wantMade, h.backend.Made); diff != "" {
		t.Errorf("stages (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]stage.State{stage.StatePlaying, stage.StateNull}, h.backend.States); diff != "" {
		t.Errorf("state changes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{StageMuxer + ".sink_0"}, h.backend.Released); diff != "" {
		t.Errorf("released request pads (-want +got):\n%s", diff)
	}
	h.assertReleased(t)

	if res.Summary.Frames != 3 || res.Summary.Objects != 3 || res.Summary.FramesNoMeta != 1 {
		t.Errorf("Summary = %+v", res.Summary)
	}
	t.Logf("✅ pipeline: %s", res.Pipeline)
}

func TestRun_GraphShape(t *testing.T) {
	h := newHarness()
	if _, err := h.run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	wantLinks := []stagetest.Link{
		{Src: StageSource, SrcPad: "src", Dst: StageCamCaps, DstPad: "sink"},
		{Src: StageCamCaps, SrcPad: "src", Dst: StageSrcConv, DstPad: "sink"},
		{Src: StageSrcConv, SrcPad: "src", Dst: StageNV12Caps, DstPad: "sink"},
		{Src: StageNV12Caps, SrcPad: "src", Dst: StageNVConv, DstPad: "sink"},
		{Src: StageNVConv, SrcPad: "src", Dst: StageNVMMCaps, DstPad: "sink"},
		{Src: StageNVMMCaps, SrcPad: "src", Dst: StageMuxer, DstPad: "sink_0"},
		{Src: StageMuxer, SrcPad: "src", Dst: StageInference, DstPad: "sink"},
		{Src: StageInference, SrcPad: "src", Dst: StageOSDConv, DstPad: "sink"},
		{Src: StageOSDConv, SrcPad: "src", Dst: StageOSD, DstPad: "sink"},
		{Src: StageOSD, SrcPad: "src", Dst: StageTransform, DstPad: "sink"},
		{Src: StageTransform, SrcPad: "src", Dst: StageSink, DstPad: "sink"},
	}
	if diff := cmp.Diff(wantLinks, h.backend.Links); diff != "" {
		t.Errorf("links (-want +got):\n%s", diff)
	}

	// Elements are removed at teardown, so properties are checked through a
	// second build that is not started.
	b := stagetest.New()
	g, err := buildGraph(&h.cfg, b, func(stage.Buffer) stage.ProbeReturn { return stage.ProbeOK })
	if err != nil {
		t.Fatalf("buildGraph failed: %v", err)
	}
	defer g.Teardown()

	tests := []struct {
		element string
		key     string
		want    any
	}{
		{StageSource, "device", "/dev/video0"},
		{StageInference, "config-file-path", "dstest1_pgie_config.yml"},
		{StageMuxer, "width", uint(640)},
		{StageMuxer, "height", uint(480)},
		{StageMuxer, "batch-size", uint(1)},
		{StageMuxer, "batched-push-timeout", 4000000},
		{StageMuxer, "live-source", true},
		{StageSink, "sync", true},
	}
	for _, tt := range tests {
		t.Run(tt.element+"."+tt.key, func(t *testing.T) {
			got, ok := b.Element(tt.element).Property(tt.key)
			if !ok {
				t.Fatalf("%s.%s not set", tt.element, tt.key)
			}
			if got != tt.want {
				t.Errorf("%s.%s = %v (%T), want %v (%T)", tt.element, tt.key, got, got, tt.want, tt.want)
			}
		})
	}

	capsTests := map[string]string{
		StageCamCaps:  "video/x-raw, format=YUY2, width=640, height=480, framerate=30/1",
		StageNV12Caps: "video/x-raw, format=NV12",
		StageNVMMCaps: "video/x-raw(memory:NVMM), format=NV12",
	}
	for name, want := range capsTests {
		v, ok := b.Element(name).Property("caps")
		if !ok {
			t.Errorf("%s has no caps", name)
			continue
		}
		if got := fmt.Sprint(v); got != want {
			t.Errorf("%s caps = %q, want %q", name, got, want)
		}
	}
}

func TestRun_TransformOmitted(t *testing.T) {
	h := newHarness()
	h.cfg.Display.Transform = ""

	if _, err := h.run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if slices.Contains(h.backend.Made, StageTransform) {
		t.Error("transform stage created although display.transform is empty")
	}
	last := h.backend.Links[len(h.backend.Links)-1]
	if last.Src != StageOSD || last.Dst != StageSink {
		t.Errorf("last link = %s -> %s, want %s -> %s", last.Src, last.Dst, StageOSD, StageSink)
	}
}

func TestRun_PipelineError(t *testing.T) {
	h := newHarness()
	h.source.final = events.Notification{
		Kind:    events.KindError,
		Source:  StageInference,
		Message: "Failed to create NvDsInferContext instance",
		Detail:  "gstnvinfer.cpp(888): gst_nvinfer_start: Config file path: dstest1_pgie_config.yml",
	}

	res, err := h.run(context.Background())
	if !errors.Is(err, ErrPipeline) {
		t.Fatalf("expected ErrPipeline, got %v", err)
	}
	if res.ExitCode != ExitRuntimeError {
		t.Errorf("ExitCode = %d, want %d", res.ExitCode, ExitRuntimeError)
	}
	if res.Outcome.Category != events.CategoryInference {
		t.Errorf("Category = %v, want inference", res.Outcome.Category)
	}

	diag := h.diag.String()
	for _, want := range []string{
		"ERROR from element primary-nvinference-engine: Failed to create NvDsInferContext instance",
		"Error details: gstnvinfer.cpp(888)",
	} {
		if !strings.Contains(diag, want) {
			t.Errorf("diagnostics missing %q:\n%s", want, diag)
		}
	}
	if strings.Contains(h.out.String(), "End of stream") {
		t.Error("error run must not report end of stream")
	}
	h.assertReleased(t)
}

func TestRun_SourceFailure(t *testing.T) {
	h := newHarness()
	busErr := errors.New("bus flushed")
	h.source.err = busErr

	res, err := h.run(context.Background())
	if !errors.Is(err, busErr) || !errors.Is(err, ErrPipeline) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
	if res.ExitCode != ExitRuntimeError {
		t.Errorf("ExitCode = %d, want %d", res.ExitCode, ExitRuntimeError)
	}
	h.assertReleased(t)
}

func TestRun_Interrupted(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.source.cancel = cancel

	res, err := h.run(ctx)
	if err != nil {
		t.Fatalf("interrupt should not be an error, got %v", err)
	}
	if res.ExitCode != ExitOK {
		t.Errorf("ExitCode = %d, want %d", res.ExitCode, ExitOK)
	}
	if res.Outcome.Reason != events.ReasonInterrupted {
		t.Errorf("Reason = %v, want interrupted", res.Outcome.Reason)
	}
	if !strings.Contains(h.out.String(), "Deleting pipeline") {
		t.Error("teardown lines missing after interrupt")
	}
	h.assertReleased(t)
}

func TestRun_ConstructionFailures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(b *stagetest.Backend)
		wantCode int
		wantKind stage.Kind
		wantErr  error
		stage    string
	}{
		{
			name:     "inference plugin missing",
			setup:    func(b *stagetest.Backend) { b.Unknown["nvinfer"] = true },
			wantCode: ExitStageCreate,
			wantKind: stage.KindStageCreate,
			wantErr:  stage.ErrUnknownType,
			stage:    StageInference,
		},
		{
			name:     "property rejected",
			setup:    func(b *stagetest.Backend) { b.RefuseProperty[StageMuxer+".live-source"] = true },
			wantCode: ExitStageCreate,
			wantKind: stage.KindStageCreate,
			wantErr:  stage.ErrInvalidProperty,
			stage:    StageMuxer,
		},
		{
			name:     "muxer without request ports",
			setup:    func(b *stagetest.Backend) { delete(b.RequestTypes, "nvstreammux") },
			wantCode: ExitPortAcquire,
			wantKind: stage.KindPortAcquire,
			wantErr:  stage.ErrPortUnavailable,
			stage:    StageMuxer,
		},
		{
			name:     "request pad link refused",
			setup:    func(b *stagetest.Backend) { b.RefuseLink[StageNVMMCaps+"->"+StageMuxer] = true },
			wantCode: ExitLink,
			wantKind: stage.KindLink,
			wantErr:  stage.ErrLinkRefused,
			stage:    StageMuxer,
		},
		{
			name:     "inference link refused",
			setup:    func(b *stagetest.Backend) { b.RefuseLink[StageMuxer+"->"+StageInference] = true },
			wantCode: ExitLink,
			wantKind: stage.KindLink,
			wantErr:  stage.ErrLinkRefused,
			stage:    StageInference,
		},
		{
			name:     "pipeline refuses to play",
			setup:    func(b *stagetest.Backend) { b.FailState[stage.StatePlaying] = true },
			wantCode: ExitStart,
			wantKind: stage.KindStart,
			stage:    "usb-camera-pipeline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.setup(h.backend)

			res, err := h.run(context.Background())
			if err == nil {
				t.Fatal("expected construction error")
			}
			if res.ExitCode != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d (err: %v)", res.ExitCode, tt.wantCode, err)
			}
			var ce *stage.ConstructionError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *stage.ConstructionError, got %T: %v", err, err)
			}
			if ce.Kind != tt.wantKind || ce.Stage != tt.stage {
				t.Errorf("got kind %v at %q, want %v at %q", ce.Kind, ce.Stage, tt.wantKind, tt.stage)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v in chain, got %v", tt.wantErr, err)
			}

			if strings.Contains(h.out.String(), "Running...") {
				t.Error("pipeline reported running after a construction failure")
			}
			if slices.Contains(h.backend.States, stage.StatePlaying) {
				t.Error("pipeline reached PLAYING")
			}
			if !strings.Contains(h.diag.String(), tt.stage) {
				t.Errorf("diagnostics do not name %q: %s", tt.stage, h.diag.String())
			}
			h.assertReleased(t)
			t.Logf("✅ %s -> exit %d: %v", tt.name, res.ExitCode, err)
		})
	}
}

func TestRun_InvalidInput(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		res, err := Run(context.Background(), nil, Options{})
		if !errors.Is(err, config.ErrInvalid) || res.ExitCode != ExitConfig {
			t.Errorf("got exit %d, err %v", res.ExitCode, err)
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		h := newHarness()
		h.cfg.Muxer.BatchSize = 0
		res, err := h.run(context.Background())
		if !errors.Is(err, config.ErrInvalid) || res.ExitCode != ExitConfig {
			t.Errorf("got exit %d, err %v", res.ExitCode, err)
		}
		if len(h.backend.Made) != 0 {
			t.Errorf("stages created for an invalid config: %v", h.backend.Made)
		}
	})

	t.Run("missing backend", func(t *testing.T) {
		cfg := DefaultConfig()
		res, err := Run(context.Background(), &cfg, Options{})
		if !errors.Is(err, ErrOptions) || res.ExitCode != ExitRuntimeError {
			t.Errorf("got exit %d, err %v", res.ExitCode, err)
		}
	})
}

// recordingSink collects reports until its channel is closed.
type recordingSink struct {
	mu      sync.Mutex
	reports []reportbus.Report
}

func (s *recordingSink) Forward(ctx context.Context, in <-chan reportbus.Report) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-in:
			if !ok {
				return nil
			}
			s.mu.Lock()
			s.reports = append(s.reports, r)
			s.mu.Unlock()
		}
	}
}

func TestRun_ForwardsReports(t *testing.T) {
	h := newHarness()
	first, second := &recordingSink{}, &recordingSink{}

	if _, err := h.run(context.Background(), first, second); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for i, sink := range []*recordingSink{first, second} {
		sink.mu.Lock()
		got := sink.reports
		sink.mu.Unlock()

		if len(got) != 3 {
			t.Fatalf("sink %d received %d reports, want 3", i, len(got))
		}
		for n, r := range got {
			if r.FrameNumber != uint64(n) || r.RunID != "run-test" {
				t.Errorf("sink %d report %d = frame %d run %q", i, n, r.FrameNumber, r.RunID)
			}
		}
		if diff := cmp.Diff(map[string]int{"Vehicle": 1, "Person": 2}, got[0].Counts); diff != "" {
			t.Errorf("counts (-want +got):\n%s", diff)
		}
		if got[2].HasMeta {
			t.Error("buffer without metadata reported HasMeta")
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"runtime", ErrPipeline, ExitRuntimeError},
		{"config", fmt.Errorf("load: %w", config.ErrInvalid), ExitConfig},
		{"stage create", &stage.ConstructionError{Kind: stage.KindStageCreate}, ExitStageCreate},
		{"port acquire", &stage.ConstructionError{Kind: stage.KindPortAcquire}, ExitPortAcquire},
		{"negotiation", &stage.ConstructionError{Kind: stage.KindNegotiation}, ExitLink},
		{"link", fmt.Errorf("build: %w", &stage.ConstructionError{Kind: stage.KindLink}), ExitLink},
		{"unlinked", &stage.ConstructionError{Kind: stage.KindUnlinked}, ExitLink},
		{"start", &stage.ConstructionError{Kind: stage.KindStart}, ExitStart},
		{"other", errors.New("boom"), ExitRuntimeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
