//go:build !deepstream || !cgo

package nvds

import (
	"unsafe"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/meta"
)

// Enabled reports whether the DeepStream bridge is compiled in.
const Enabled = false

func batchFromBuffer(unsafe.Pointer) (meta.Batch, bool) {
	return nil, false
}
