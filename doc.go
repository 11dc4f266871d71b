// Package usbdetect runs a USB camera through a DeepStream analytics
// pipeline and reports what the detector sees on every frame.
//
// The pipeline is built as an explicit graph of named stages:
//
//	v4l2src -> capsfilter -> videoconvert -> capsfilter(NV12)
//	  -> nvvideoconvert -> capsfilter(NVMM NV12) -> nvstreammux.sink_0
//	  -> nvinfer -> nvvideoconvert -> nvdsosd -> [nvegltransform] -> sink
//
// Every link carries the format the downstream stage requires, and the whole
// graph is validated before the pipeline is asked to play, so a missing
// element, an unavailable muxer slot or an unnegotiable format fails at
// construction time with a *stage.ConstructionError naming the stage.
//
// # Quick Start
//
//	cfg := usbdetect.DefaultConfig()
//	cfg.Camera.Device = "/dev/video1"
//
//	backend, err := gstbackend.New(cfg.Pipeline)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := usbdetect.Run(ctx, &cfg, usbdetect.Options{
//	    Backend: backend,
//	    Events:  backend.Events(),
//	    Out:     os.Stdout,
//	    Diag:    os.Stderr,
//	})
//	os.Exit(res.ExitCode)
//
// # Per-frame output
//
// A buffer probe on the on-screen-display input counts detections per class
// and writes one line per buffer to Options.Out:
//
//	Frame Number = 0 Number of objects = 3 Vehicle Count = 1 Person Count = 2
//
// The same counts are drawn on the frame ("Person = 2 Vehicle = 1") and, when
// report sinks are configured, published as JSON reports.
//
// # Shutdown
//
// The control-event loop ends the run on end-of-stream, on the first pipeline
// error, or when ctx is cancelled. It then sets the pipeline to NULL, returns
// the muxer slot and removes every stage in reverse construction order.
//
// # Exit codes
//
//	0  end of stream or interrupt
//	1  pipeline error at runtime
//	2  a stage could not be created
//	3  a port could not be acquired
//	4  link, format negotiation or validation failure
//	5  the pipeline refused to start
//	6  invalid configuration
package usbdetect
