package gstbackend

import (
	"context"
	"fmt"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/events"
)

// pollInterval bounds how long Next blocks in the bus between context checks.
const pollInterval = 50 * time.Millisecond

// BusSource reads notifications from a pipeline bus.
type BusSource struct {
	bus *gst.Bus
}

func newBusSource(bus *gst.Bus) *BusSource {
	return &BusSource{bus: bus}
}

// Next polls the bus until a message arrives or ctx is done.
func (s *BusSource) Next(ctx context.Context) (events.Notification, error) {
	if s.bus == nil {
		return events.Notification{}, events.ErrSourceClosed
	}
	for {
		select {
		case <-ctx.Done():
			return events.Notification{}, ctx.Err()
		default:
		}

		msg := s.bus.TimedPop(pollInterval)
		if msg == nil {
			continue
		}
		return toNotification(msg), nil
	}
}

func toNotification(msg *gst.Message) events.Notification {
	n := events.Notification{Source: msg.Source()}

	switch msg.Type() {
	case gst.MessageEOS:
		n.Kind = events.KindEOS

	case gst.MessageError:
		n.Kind = events.KindError
		if gerr := msg.ParseError(); gerr != nil {
			n.Message = gerr.Error()
			n.Detail = gerr.DebugString()
		}

	case gst.MessageStateChanged:
		n.Kind = events.KindStateChanged
		old, current := msg.ParseStateChanged()
		n.From = fmt.Sprint(old)
		n.To = fmt.Sprint(current)

	default:
		n.Kind = events.KindOther
	}
	return n
}
