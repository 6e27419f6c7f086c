package renderer

import (
	"context"
	"fmt"

	"golang.org/x/net/html"

	"github.com/conneroisu/tally/internal/vdom"
)

// Event is a host event arriving at a host node. Payload is the decoded
// JSON value handlers run their decoders against.
type Event struct {
	Type    string
	Payload any
}

// Delivery is one application message produced by an event. Sync
// deliveries must be processed before the next host event is handled.
type Delivery struct {
	Msg  any
	Sync bool
}

// Result is the outcome of dispatching one event.
type Result struct {
	Deliveries []Delivery
	Stopped    bool
	Prevented  bool
}

// Dispatch delivers ev to target and bubbles it through its ancestors,
// running every listener registered for ev.Type. A listener whose decoder
// rejects the payload is skipped. Propagation ends at the first listener
// that asks to stop it.
func (r *Renderer) Dispatch(ctx context.Context, target *html.Node, ev Event) Result {
	var res Result
	for n := target; n != nil; n = n.Parent {
		s := r.lookup(n)
		if s == nil {
			continue
		}
		l, ok := s.listeners[ev.Type]
		if !ok {
			continue
		}

		msg, stop, prevent, err := r.run(l.handler, ev.Payload)
		if err != nil {
			r.logger.Debug(ctx, "event payload rejected", "event", ev.Type, "error", err.Error())
			r.metrics.EventDropped(ev.Type)
			continue
		}
		res.Prevented = res.Prevented || prevent

		for c := l.ctx; c != nil; c = c.parent {
			for i := len(c.taggers) - 1; i >= 0; i-- {
				msg = c.taggers[i].Apply(msg)
			}
		}

		res.Deliveries = append(res.Deliveries, Delivery{Msg: msg, Sync: stop})
		r.metrics.MessageDelivered(stop)
		if stop {
			res.Stopped = true
			break
		}
	}
	return res
}

func (r *Renderer) run(h *vdom.Handler, payload any) (msg any, stop, prevent bool, err error) {
	v, err := h.Decoder.Decode(payload)
	if err != nil {
		return nil, false, false, err
	}

	switch h.Kind {
	case vdom.Normal:
		return v, false, false, nil
	case vdom.MayStopPropagation:
		f, ok := v.(vdom.Flagged)
		if !ok {
			return nil, false, false, fmt.Errorf("handler produced %T, want vdom.Flagged", v)
		}
		return f.Message, f.Flag, false, nil
	case vdom.MayPreventDefault:
		f, ok := v.(vdom.Flagged)
		if !ok {
			return nil, false, false, fmt.Errorf("handler produced %T, want vdom.Flagged", v)
		}
		return f.Message, false, f.Flag, nil
	case vdom.CustomHandler:
		o, ok := v.(vdom.Options)
		if !ok {
			return nil, false, false, fmt.Errorf("handler produced %T, want vdom.Options", v)
		}
		return o.Message, o.StopPropagation, o.PreventDefault, nil
	}
	return nil, false, false, fmt.Errorf("unknown handler kind %d", h.Kind)
}

// Listening reports whether n has a listener for eventType.
func (r *Renderer) Listening(n *html.Node, eventType string) bool {
	s := r.lookup(n)
	if s == nil {
		return false
	}
	_, ok := s.listeners[eventType]
	return ok
}
