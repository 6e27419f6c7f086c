package vdom

import (
	"strings"

	"github.com/conneroisu/tally/internal/decode"
)

// Attribute is one fact declared on an element: a plain attribute, a
// namespaced attribute, a style property or an event handler.
type Attribute interface {
	attribute()
}

type attr struct{ key, value string }

type attrNS struct {
	namespace, key, value string
}

type style struct{ key, value string }

type event struct {
	name    string
	handler *Handler
}

func (attr) attribute()   {}
func (attrNS) attribute() {}
func (style) attribute()  {}
func (event) attribute()  {}

// Attr sets a host attribute. Repeated "class" attributes are merged.
func Attr(key, value string) Attribute { return attr{key: key, value: value} }

// Class is shorthand for Attr("class", name).
func Class(name string) Attribute { return attr{key: "class", value: name} }

// AttrNS sets a namespaced host attribute.
func AttrNS(namespace, key, value string) Attribute {
	return attrNS{namespace: namespace, key: key, value: value}
}

// Style sets one inline style property.
func Style(key, value string) Attribute { return style{key: key, value: value} }

// HandlerKind selects how a handler's decoded value is interpreted.
type HandlerKind int

const (
	// Normal handlers decode straight to a message.
	Normal HandlerKind = iota
	// MayStopPropagation handlers decode to a Flagged whose flag stops
	// propagation and makes delivery synchronous.
	MayStopPropagation
	// MayPreventDefault handlers decode to a Flagged whose flag prevents
	// the host default action.
	MayPreventDefault
	// CustomHandler handlers decode to Options.
	CustomHandler
)

// Flagged is the decoded value of MayStopPropagation and MayPreventDefault
// handlers.
type Flagged struct {
	Message any
	Flag    bool
}

// Options is the decoded value of CustomHandler handlers.
type Options struct {
	Message         any
	StopPropagation bool
	PreventDefault  bool
}

// Handler decodes a host event payload.
type Handler struct {
	Kind    HandlerKind
	Decoder decode.Decoder[any]
	// Key identifies handlers that behave alike across renders. Handlers
	// with equal non-nil keys and kinds diff as unchanged. A nil key
	// compares by pointer.
	Key any
}

// Same reports whether two handlers are interchangeable.
func (h *Handler) Same(other *Handler) bool {
	if h == other {
		return true
	}
	if h == nil || other == nil || h.Key == nil || other.Key == nil {
		return false
	}
	return h.Kind == other.Kind && h.Key == other.Key
}

type messageKey struct{ msg any }

// On attaches a handler whose decoder yields the message directly.
// Handlers from separate On calls always differ; views that rebuild their
// handlers every render should use OnMessage or OnKey.
func On[T any](name string, d decode.Decoder[T]) Attribute {
	return event{name: name, handler: &Handler{Kind: Normal, Decoder: decode.Erase(d)}}
}

// OnMessage attaches a handler that ignores the payload and yields msg.
// Handlers for equal messages diff as unchanged.
func OnMessage[M comparable](name string, msg M) Attribute {
	return event{name: name, handler: &Handler{
		Kind:    Normal,
		Decoder: decode.Erase(decode.Succeed(msg)),
		Key:     messageKey{msg: msg},
	}}
}

// OnKey is On with an explicit identity: the caller promises that handlers
// built with equal keys decode alike.
func OnKey[K comparable, T any](name string, key K, d decode.Decoder[T]) Attribute {
	return event{name: name, handler: &Handler{Kind: Normal, Decoder: decode.Erase(d), Key: key}}
}

// OnWith attaches a handler of an explicit kind. The decoder must produce
// a Flagged for MayStopPropagation and MayPreventDefault, and Options for
// CustomHandler.
func OnWith(name string, kind HandlerKind, d decode.Decoder[any]) Attribute {
	return event{name: name, handler: &Handler{Kind: kind, Decoder: d}}
}

// NSAttr is a namespaced attribute value.
type NSAttr struct {
	Namespace string
	Value     string
}

// Facts are the organized attributes of one element.
type Facts struct {
	Attrs   map[string]string
	AttrsNS map[string]NSAttr
	Styles  map[string]string
	Events  map[string]*Handler
}

// Organize groups attributes by category. Later declarations win, except
// for class names, which accumulate.
func Organize(attrs []Attribute) Facts {
	var f Facts
	for _, a := range attrs {
		switch a := a.(type) {
		case attr:
			if f.Attrs == nil {
				f.Attrs = make(map[string]string)
			}
			if a.key == "class" {
				if prev, ok := f.Attrs["class"]; ok && prev != "" {
					f.Attrs["class"] = prev + " " + a.value
					continue
				}
			}
			f.Attrs[a.key] = a.value
		case attrNS:
			if f.AttrsNS == nil {
				f.AttrsNS = make(map[string]NSAttr)
			}
			f.AttrsNS[a.key] = NSAttr{Namespace: a.namespace, Value: a.value}
		case style:
			if f.Styles == nil {
				f.Styles = make(map[string]string)
			}
			f.Styles[a.key] = a.value
		case event:
			if f.Events == nil {
				f.Events = make(map[string]*Handler)
			}
			f.Events[a.name] = a.handler
		}
	}
	return f
}

// NSChange updates or removes (Value == nil) a namespaced attribute.
type NSChange struct {
	Namespace string
	Value     *string
}

// FactsDiff lists changed facts. A nil value removes the entry.
type FactsDiff struct {
	Attrs   map[string]*string
	AttrsNS map[string]NSChange
	Styles  map[string]*string
	Events  map[string]*Handler
}

// Empty reports whether the diff changes nothing.
func (d FactsDiff) Empty() bool {
	return len(d.Attrs) == 0 && len(d.AttrsNS) == 0 && len(d.Styles) == 0 && len(d.Events) == 0
}

// DiffFacts compares two fact sets. Diffing against the zero Facts yields
// every fact of y.
func DiffFacts(x, y Facts) FactsDiff {
	return diffFacts(x, y)
}

func diffFacts(x, y Facts) FactsDiff {
	return FactsDiff{
		Attrs:   diffStrings(x.Attrs, y.Attrs),
		AttrsNS: diffNS(x.AttrsNS, y.AttrsNS),
		Styles:  diffStrings(x.Styles, y.Styles),
		Events:  diffEvents(x.Events, y.Events),
	}
}

func diffStrings(x, y map[string]string) map[string]*string {
	var out map[string]*string
	put := func(k string, v *string) {
		if out == nil {
			out = make(map[string]*string)
		}
		out[k] = v
	}
	for k, xv := range x {
		yv, ok := y[k]
		if !ok {
			put(k, nil)
			continue
		}
		if xv != yv {
			put(k, &yv)
		}
	}
	for k, yv := range y {
		if _, ok := x[k]; !ok {
			put(k, &yv)
		}
	}
	return out
}

func diffNS(x, y map[string]NSAttr) map[string]NSChange {
	var out map[string]NSChange
	put := func(k string, c NSChange) {
		if out == nil {
			out = make(map[string]NSChange)
		}
		out[k] = c
	}
	for k, xv := range x {
		yv, ok := y[k]
		if !ok {
			put(k, NSChange{Namespace: xv.Namespace})
			continue
		}
		if xv != yv {
			v := yv.Value
			put(k, NSChange{Namespace: yv.Namespace, Value: &v})
		}
	}
	for k, yv := range y {
		if _, ok := x[k]; !ok {
			v := yv.Value
			put(k, NSChange{Namespace: yv.Namespace, Value: &v})
		}
	}
	return out
}

func diffEvents(x, y map[string]*Handler) map[string]*Handler {
	var out map[string]*Handler
	put := func(k string, h *Handler) {
		if out == nil {
			out = make(map[string]*Handler)
		}
		out[k] = h
	}
	for k, xh := range x {
		yh, ok := y[k]
		if !ok {
			put(k, nil)
			continue
		}
		if !xh.Same(yh) {
			put(k, yh)
		}
	}
	for k, yh := range y {
		if _, ok := x[k]; !ok {
			put(k, yh)
		}
	}
	return out
}

// StyleString serializes styles as a deterministic inline style attribute.
func StyleString(styles map[string]string) string {
	if len(styles) == 0 {
		return ""
	}
	keys := sortedKeys(styles)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(styles[k])
		b.WriteByte(';')
	}
	return b.String()
}
