// Package nvds reads the DeepStream batch metadata attached to GStreamer
// buffers and exposes it through the meta interfaces.
//
// The bridge to the DeepStream SDK is compiled only with the "deepstream"
// build tag (and cgo). Without it BatchFromBuffer always reports that a
// buffer carries no metadata, and the pipeline still runs with zero counts.
//
// Values returned by BatchFromBuffer point into buffer-owned memory and are
// only valid for the duration of the probe call that received the buffer.
package nvds

import (
	"unsafe"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/meta"
)

// BatchFromBuffer returns the batch metadata of the GstBuffer at buf.
// A nil buf, or a buffer without metadata, yields (nil, false).
func BatchFromBuffer(buf unsafe.Pointer) (meta.Batch, bool) {
	if buf == nil {
		return nil, false
	}
	return batchFromBuffer(buf)
}
