package usbdetect

import (
	"log/slog"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/caps"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/graph"
	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/stage"
)

// Stage instance names.
const (
	StageSource    = "usb-cam-source"
	StageCamCaps   = "v4l2src-caps"
	StageSrcConv   = "src-conv"
	StageNV12Caps  = "nv12-caps"
	StageNVConv    = "nvconv"
	StageNVMMCaps  = "nvmm-caps"
	StageMuxer     = "stream-muxer"
	StageInference = "primary-nvinference-engine"
	StageOSDConv   = "nvvideo-converter"
	StageOSD       = "nv-onscreendisplay"
	StageTransform = "nvegl-transform"
	StageSink      = "nvvideo-renderer"
)

// ProbePad is the OSD input the metadata probe is attached to. By then every
// buffer carries the detector's object metadata.
const ProbePad = "sink"

// muxerSlot is the muxer input the single camera feeds.
const muxerSlot = 0

var (
	nv12System = caps.Format{Media: caps.MediaVideoRaw, PixelFormat: caps.PixelNV12}
	nv12Device = caps.Format{Media: caps.MediaVideoRaw, Memory: caps.MemoryNVMM, PixelFormat: caps.PixelNV12}
)

// buildGraph creates, configures and links every stage, attaches probe on the
// OSD input and validates the result. On failure everything created so far
// is torn down before the error is returned.
func buildGraph(cfg *Config, backend stage.Backend, probe stage.ProbeFunc) (g *graph.Graph, err error) {
	g = graph.New(cfg.Pipeline, backend)
	defer func() {
		if err != nil {
			if terr := g.Teardown(); terr != nil {
				slog.Warn("usbdetect: teardown after failed construction", "error", terr)
			}
			g = nil
		}
	}()

	camFormat, err := cfg.CameraFormat()
	if err != nil {
		return g, &stage.ConstructionError{Kind: stage.KindNegotiation, Stage: StageCamCaps, Type: "capsfilter", Err: err}
	}

	src, err := g.Add("v4l2src", StageSource, stage.RoleSource,
		stage.Property{Key: "device", Value: cfg.Camera.Device},
	)
	if err != nil {
		return g, err
	}
	camCaps, err := g.Filter(StageCamCaps, camFormat)
	if err != nil {
		return g, err
	}
	srcConv, err := g.Add("videoconvert", StageSrcConv, stage.RoleTransform)
	if err != nil {
		return g, err
	}
	nv12Caps, err := g.Filter(StageNV12Caps, nv12System)
	if err != nil {
		return g, err
	}
	nvConv, err := g.Add("nvvideoconvert", StageNVConv, stage.RoleTransform)
	if err != nil {
		return g, err
	}
	nvmmCaps, err := g.Filter(StageNVMMCaps, nv12Device)
	if err != nil {
		return g, err
	}

	m := cfg.Muxer
	mux, err := g.Add("nvstreammux", StageMuxer, stage.RoleMuxer,
		stage.Property{Key: "width", Value: uint(m.Width)},
		stage.Property{Key: "height", Value: uint(m.Height)},
		stage.Property{Key: "batch-size", Value: uint(m.BatchSize)},
		stage.Property{Key: "batched-push-timeout", Value: int(m.BatchedPushTimeout)},
		stage.Property{Key: "live-source", Value: m.LiveSource},
	)
	if err != nil {
		return g, err
	}
	pgie, err := g.Add("nvinfer", StageInference, stage.RoleTransform,
		stage.Property{Key: "config-file-path", Value: cfg.Inference.ConfigPath},
	)
	if err != nil {
		return g, err
	}
	osdConv, err := g.Add("nvvideoconvert", StageOSDConv, stage.RoleTransform)
	if err != nil {
		return g, err
	}
	osd, err := g.Add("nvdsosd", StageOSD, stage.RoleTransform)
	if err != nil {
		return g, err
	}

	tail := []graph.StageID{mux, pgie, osdConv, osd}
	if cfg.Display.Transform != "" {
		transform, err := g.Add(cfg.Display.Transform, StageTransform, stage.RoleTransform)
		if err != nil {
			return g, err
		}
		tail = append(tail, transform)
	}
	sink, err := g.Add(cfg.Display.Sink, StageSink, stage.RoleSink,
		stage.Property{Key: "sync", Value: cfg.Display.Sync},
	)
	if err != nil {
		return g, err
	}
	tail = append(tail, sink)

	if err := g.Chain(src, camCaps, srcConv, nv12Caps, nvConv, nvmmCaps); err != nil {
		return g, err
	}
	if err := g.LinkRequest(nvmmCaps, mux, muxerSlot); err != nil {
		return g, err
	}
	if err := g.Chain(tail...); err != nil {
		return g, err
	}
	if err := g.AttachProbe(osd, ProbePad, probe); err != nil {
		return g, err
	}
	if err := g.Validate(); err != nil {
		return g, err
	}

	slog.Info("usbdetect: pipeline built",
		"pipeline", cfg.Pipeline,
		"stages", len(g.Stages()),
		"chain", g.Describe(),
	)
	return g, nil
}
