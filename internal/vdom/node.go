// Package vdom is the immutable render tree and the diff engine that turns
// two trees into an ordered patch list.
//
// Trees are built fresh by a view function on every render and never
// mutated afterwards, with one exception: a Lazy node caches the tree its
// thunk produced. Nothing in this package touches the host tree; patches
// are applied by package renderer.
package vdom

import (
	"golang.org/x/net/html"
)

// Node is one node of a render tree. The concrete types are *Text,
// *Element, *KeyedElement, *Custom, *Tagged and *Lazy.
type Node interface {
	// descendants is the number of nodes below this one that take a
	// pre-order index of their own.
	descendants() int
	node()
}

// Text is a text leaf.
type Text struct {
	Value string
}

func (*Text) descendants() int { return 0 }
func (*Text) node()            {}

// NewText creates a text node.
func NewText(s string) *Text { return &Text{Value: s} }

// Element is a host element with positional children.
type Element struct {
	Tag       string
	Namespace string
	Facts     Facts
	Children  []Node
	count     int
}

func (e *Element) descendants() int { return e.count }
func (*Element) node()              {}

// NewElement creates an element in the default namespace.
func NewElement(tag string, attrs []Attribute, children ...Node) *Element {
	return NewElementNS("", tag, attrs, children...)
}

// NewElementNS creates an element in the given namespace.
func NewElementNS(namespace, tag string, attrs []Attribute, children ...Node) *Element {
	return &Element{
		Tag:       tag,
		Namespace: namespace,
		Facts:     Organize(attrs),
		Children:  children,
		count:     countKids(children),
	}
}

// Keyed pairs a child node with its reconciliation key.
type Keyed struct {
	Key  string
	Node Node
}

// KeyedElement is an element whose children are matched by key across
// renders.
type KeyedElement struct {
	Tag       string
	Namespace string
	Facts     Facts
	Children  []Keyed
	count     int
}

func (e *KeyedElement) descendants() int { return e.count }
func (*KeyedElement) node()              {}

// NewKeyedElement creates a keyed element in the default namespace.
func NewKeyedElement(tag string, attrs []Attribute, children ...Keyed) *KeyedElement {
	return NewKeyedElementNS("", tag, attrs, children...)
}

// NewKeyedElementNS creates a keyed element in the given namespace.
func NewKeyedElementNS(namespace, tag string, attrs []Attribute, children ...Keyed) *KeyedElement {
	count := len(children)
	for _, kid := range children {
		count += kid.Node.descendants()
	}
	return &KeyedElement{
		Tag:       tag,
		Namespace: namespace,
		Facts:     Organize(attrs),
		Children:  children,
		count:     count,
	}
}

// dekey turns a keyed element into a positional one with the same
// children.
func dekey(k *KeyedElement) *Element {
	kids := make([]Node, len(k.Children))
	for i, kid := range k.Children {
		kids[i] = kid.Node
	}
	return &Element{
		Tag:       k.Tag,
		Namespace: k.Namespace,
		Facts:     k.Facts,
		Children:  kids,
		count:     k.count,
	}
}

// CustomPatch updates a host node rendered by a Widget and returns the node
// that should take its place.
type CustomPatch func(*html.Node) *html.Node

// Widget renders and updates host nodes the diff engine does not manage.
type Widget interface {
	Render(model any) *html.Node
	// Diff returns nil when nothing needs to change.
	Diff(oldModel, newModel any) CustomPatch
}

// Custom embeds a host subtree managed by a Widget.
type Custom struct {
	Facts  Facts
	Model  any
	Widget Widget
}

func (*Custom) descendants() int { return 0 }
func (*Custom) node()            {}

// NewCustom creates a custom node.
func NewCustom(w Widget, model any, attrs ...Attribute) *Custom {
	return &Custom{Facts: Organize(attrs), Model: model, Widget: w}
}

// Tagger rewrites messages produced below a Tagged node. Taggers are
// compared by identity, so keep one per mapping function instead of
// creating a new one on each render.
type Tagger struct {
	fn func(any) any
}

// NewTagger wraps fn.
func NewTagger(fn func(any) any) *Tagger { return &Tagger{fn: fn} }

// Apply runs the tagger.
func (t *Tagger) Apply(msg any) any { return t.fn(msg) }

// Tagged remaps every message produced inside it. Nested Map calls
// coalesce, so the tagger list is ordered outermost first.
type Tagged struct {
	taggers []*Tagger
	inner   Node
	count   int
}

func (t *Tagged) descendants() int { return t.count }
func (*Tagged) node()              {}

// Taggers returns the flattened tagger list, outermost first.
func (t *Tagged) Taggers() []*Tagger { return t.taggers }

// Inner returns the wrapped node, which is never itself a *Tagged.
func (t *Tagged) Inner() Node { return t.inner }

// Map wraps n so that its messages pass through tagger.
func Map(tagger *Tagger, n Node) *Tagged {
	if inner, ok := n.(*Tagged); ok {
		taggers := make([]*Tagger, 0, len(inner.taggers)+1)
		taggers = append(taggers, tagger)
		taggers = append(taggers, inner.taggers...)
		return &Tagged{taggers: taggers, inner: inner.inner, count: inner.count}
	}
	return &Tagged{taggers: []*Tagger{tagger}, inner: n, count: 1 + n.descendants()}
}

// Lazy defers building a subtree until its refs change.
type Lazy struct {
	refs   []any
	thunk  func() Node
	cached Node
}

// Lazy nodes take no index in their parent; their patches are nested.
func (*Lazy) descendants() int { return 0 }
func (*Lazy) node()            {}

// NewLazy creates a lazy node. refs identify the inputs of thunk; when they
// are the same objects as last render and thunk comes from the same
// function literal, the thunk is not called.
func NewLazy(thunk func() Node, refs ...any) *Lazy {
	return &Lazy{refs: append([]any{thunk}, refs...), thunk: thunk}
}

// Force returns the subtree, calling the thunk at most once.
func (l *Lazy) Force() Node {
	if l.cached == nil {
		l.cached = l.thunk()
	}
	return l.cached
}

// Descendants reports the number of indexed nodes below n.
func Descendants(n Node) int { return n.descendants() }

func countKids(kids []Node) int {
	count := len(kids)
	for _, kid := range kids {
		count += kid.descendants()
	}
	return count
}
