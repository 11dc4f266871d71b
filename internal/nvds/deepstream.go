//go:build deepstream && cgo

package nvds

/*
#cgo pkg-config: gstreamer-1.0
#cgo CFLAGS: -I/opt/nvidia/deepstream/deepstream/sources/includes
#cgo LDFLAGS: -L/opt/nvidia/deepstream/deepstream/lib -lnvdsgst_meta -lnvds_meta

#include <stdlib.h>
#include <gst/gst.h>
#include "gstnvdsmeta.h"

static NvDsBatchMeta *batch_of(void *buf) {
	return gst_buffer_get_nvds_batch_meta((GstBuffer *) buf);
}

static GList *frames_of(NvDsBatchMeta *b) { return b->frame_meta_list; }
static GList *objects_of(NvDsFrameMeta *f) { return f->obj_meta_list; }
static GList *list_next(GList *l) { return l->next; }
static void *list_data(GList *l) { return l->data; }

static int frame_num(NvDsFrameMeta *f) { return f->frame_num; }
static unsigned int frame_source(NvDsFrameMeta *f) { return f->source_id; }

static int obj_class(NvDsObjectMeta *o) { return o->class_id; }
static guint64 obj_id(NvDsObjectMeta *o) { return o->object_id; }
static float obj_confidence(NvDsObjectMeta *o) { return o->confidence; }
static void obj_rect(NvDsObjectMeta *o, float *r) {
	r[0] = o->rect_params.left;
	r[1] = o->rect_params.top;
	r[2] = o->rect_params.width;
	r[3] = o->rect_params.height;
}
static const char *obj_label(NvDsObjectMeta *o) { return o->obj_label; }

static NvDsDisplayMeta *acquire_display(NvDsBatchMeta *b) {
	return nvds_acquire_display_meta_from_pool(b);
}

// set_text fills the first text label of d. display_text is released by the
// metadata pool; font names are interned and live for the process.
static void set_text(NvDsDisplayMeta *d, const char *text, unsigned int x, unsigned int y,
		const char *font, unsigned int size, double *fg, int has_bg, double *bg) {
	NvOSD_TextParams *t = &d->text_params[0];
	d->num_labels = 1;
	t->display_text = g_strdup(text);
	t->x_offset = x;
	t->y_offset = y;
	t->font_params.font_name = (char *) g_intern_string(font);
	t->font_params.font_size = size;
	t->font_params.font_color.red = fg[0];
	t->font_params.font_color.green = fg[1];
	t->font_params.font_color.blue = fg[2];
	t->font_params.font_color.alpha = fg[3];
	t->set_bg_clr = has_bg;
	if (has_bg) {
		t->text_bg_clr.red = bg[0];
		t->text_bg_clr.green = bg[1];
		t->text_bg_clr.blue = bg[2];
		t->text_bg_clr.alpha = bg[3];
	}
}

static void attach_display(NvDsFrameMeta *f, NvDsDisplayMeta *d) {
	nvds_add_display_meta_to_frame(f, d);
}
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/meta"
)

// Enabled reports whether the DeepStream bridge is compiled in.
const Enabled = true

func batchFromBuffer(buf unsafe.Pointer) (meta.Batch, bool) {
	b := C.batch_of(buf)
	if b == nil {
		return nil, false
	}
	return &batch{ptr: b}, true
}

type batch struct {
	ptr *C.NvDsBatchMeta
}

func (b *batch) Frames() []meta.Frame {
	var out []meta.Frame
	for l := C.frames_of(b.ptr); l != nil; l = C.list_next(l) {
		if f := (*C.NvDsFrameMeta)(C.list_data(l)); f != nil {
			out = append(out, &frame{ptr: f})
		}
	}
	return out
}

func (b *batch) AcquireDisplay() (meta.DisplaySlot, error) {
	d := C.acquire_display(b.ptr)
	if d == nil {
		return nil, meta.ErrPoolExhausted
	}
	return &display{ptr: d}, nil
}

type frame struct {
	ptr *C.NvDsFrameMeta
}

func (f *frame) FrameNum() int { return int(C.frame_num(f.ptr)) }

func (f *frame) SourceID() int { return int(C.frame_source(f.ptr)) }

func (f *frame) Objects() []meta.Object {
	var out []meta.Object
	var rect [4]C.float
	for l := C.objects_of(f.ptr); l != nil; l = C.list_next(l) {
		o := (*C.NvDsObjectMeta)(C.list_data(l))
		if o == nil {
			continue
		}
		C.obj_rect(o, &rect[0])
		out = append(out, meta.Object{
			ClassID:    int(C.obj_class(o)),
			ObjectID:   uint64(C.obj_id(o)),
			Confidence: float32(C.obj_confidence(o)),
			Rect: meta.Rect{
				Left:   float32(rect[0]),
				Top:    float32(rect[1]),
				Width:  float32(rect[2]),
				Height: float32(rect[3]),
			},
			Label: C.GoString(C.obj_label(o)),
		})
	}
	return out
}

func (f *frame) Attach(slot meta.DisplaySlot) error {
	d, ok := slot.(*display)
	if !ok {
		return meta.ErrForeignSlot
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.attached {
		return meta.ErrSlotAttached
	}
	d.attached = true
	C.attach_display(f.ptr, d.ptr)
	return nil
}

type display struct {
	ptr *C.NvDsDisplayMeta

	mu       sync.Mutex
	attached bool
}

func (d *display) SetText(t meta.Text) {
	text := C.CString(t.Content)
	defer C.free(unsafe.Pointer(text))
	font := C.CString(t.Font.Name)
	defer C.free(unsafe.Pointer(font))

	fg := colorArray(t.Font.Color)
	var bg [4]C.double
	hasBg := C.int(0)
	if t.Background != nil {
		bg = colorArray(*t.Background)
		hasBg = 1
	}
	C.set_text(d.ptr, text, C.uint(t.X), C.uint(t.Y), font, C.uint(t.Font.Size), &fg[0], hasBg, &bg[0])
}

func colorArray(c meta.Color) [4]C.double {
	return [4]C.double{C.double(c.R), C.double(c.G), C.double(c.B), C.double(c.A)}
}
