// Package renderer builds and patches the host tree, an *html.Node tree
// from golang.org/x/net/html, from vdom render trees.
//
// Runtime-only data about host nodes (event listeners, the tagger context
// of Tagged nodes, inline styles) lives in a side table owned by the
// Renderer instead of on the host nodes themselves. A Renderer is not safe
// for concurrent use; the program runtime serializes access to it.
package renderer

import (
	"sort"

	"golang.org/x/net/html"

	"github.com/conneroisu/tally/internal/logging"
	"github.com/conneroisu/tally/internal/monitoring"
	"github.com/conneroisu/tally/internal/vdom"
)

// EventNode is one link in the chain of taggers between a handler and the
// application. Each rendered Tagged node contributes one.
type EventNode struct {
	taggers []*vdom.Tagger
	parent  *EventNode
}

type listener struct {
	handler *vdom.Handler
	ctx     *EventNode
}

// slot is the side-table record of one host node.
type slot struct {
	node *html.Node
	// refs are the contexts of the Tagged nodes rendered onto this host
	// node, outermost first.
	refs      []*EventNode
	listeners map[string]*listener
	styles    map[string]string
}

// Renderer owns the side table for every host node it created.
type Renderer struct {
	slots   []*slot
	free    []int
	index   map[*html.Node]int
	touched []*html.Node
	logger  logging.Logger
	metrics *monitoring.RuntimeMetrics
}

// New creates a Renderer. metrics may be nil.
func New(logger logging.Logger, metrics *monitoring.RuntimeMetrics) *Renderer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Renderer{
		index:   make(map[*html.Node]int),
		logger:  logger.WithComponent("renderer"),
		metrics: metrics,
	}
}

func (r *Renderer) lookup(n *html.Node) *slot {
	if i, ok := r.index[n]; ok {
		return r.slots[i]
	}
	return nil
}

func (r *Renderer) slotFor(n *html.Node) *slot {
	if s := r.lookup(n); s != nil {
		return s
	}
	s := &slot{node: n}
	if k := len(r.free); k > 0 {
		i := r.free[k-1]
		r.free = r.free[:k-1]
		r.slots[i] = s
		r.index[n] = i
		return s
	}
	r.index[n] = len(r.slots)
	r.slots = append(r.slots, s)
	return s
}

// release drops the side-table records of n and everything below it.
func (r *Renderer) release(n *html.Node) {
	stack := []*html.Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if i, ok := r.index[cur]; ok {
			delete(r.index, cur)
			r.slots[i] = nil
			r.free = append(r.free, i)
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			stack = append(stack, c)
		}
	}
}

// rekey moves the record of from onto to.
func (r *Renderer) rekey(from, to *html.Node) {
	i, ok := r.index[from]
	if !ok {
		return
	}
	delete(r.index, from)
	r.index[to] = i
	r.slots[i].node = to
}

// Tracked reports how many host nodes have side-table records.
func (r *Renderer) Tracked() int { return len(r.index) }

type renderTask struct {
	vnode  vdom.Node
	ctx    *EventNode
	parent *html.Node
	refs   []*EventNode
}

// Render builds a fresh host subtree for n. ctx is the tagger context of
// the position n is rendered into; nil at the root.
func (r *Renderer) Render(n vdom.Node, ctx *EventNode) *html.Node {
	var root *html.Node
	stack := []renderTask{{vnode: n, ctx: ctx}}

	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		var host *html.Node
		switch v := t.vnode.(type) {
		case *vdom.Tagged:
			sub := &EventNode{taggers: v.Taggers(), parent: t.ctx}
			refs := append(append([]*EventNode(nil), t.refs...), sub)
			stack = append(stack, renderTask{vnode: v.Inner(), ctx: sub, parent: t.parent, refs: refs})
			continue

		case *vdom.Lazy:
			stack = append(stack, renderTask{vnode: v.Force(), ctx: t.ctx, parent: t.parent, refs: t.refs})
			continue

		case *vdom.Text:
			host = &html.Node{Type: html.TextNode, Data: v.Value}

		case *vdom.Element:
			host = r.element(v.Tag, v.Namespace, v.Facts, t.ctx)
			for i := len(v.Children) - 1; i >= 0; i-- {
				stack = append(stack, renderTask{vnode: v.Children[i], ctx: t.ctx, parent: host})
			}

		case *vdom.KeyedElement:
			host = r.element(v.Tag, v.Namespace, v.Facts, t.ctx)
			for i := len(v.Children) - 1; i >= 0; i-- {
				stack = append(stack, renderTask{vnode: v.Children[i].Node, ctx: t.ctx, parent: host})
			}

		case *vdom.Custom:
			host = v.Widget.Render(v.Model)
			r.applyFacts(host, t.ctx, vdom.DiffFacts(vdom.Facts{}, v.Facts))
		}

		if len(t.refs) > 0 {
			r.slotFor(host).refs = t.refs
		}
		if t.parent != nil {
			t.parent.AppendChild(host)
		} else if root == nil {
			root = host
		}
	}
	return root
}

func (r *Renderer) element(tag, namespace string, facts vdom.Facts, ctx *EventNode) *html.Node {
	host := &html.Node{Type: html.ElementNode, Data: tag, Namespace: hostNamespace(namespace)}
	r.applyFacts(host, ctx, vdom.DiffFacts(vdom.Facts{}, facts))
	return host
}

func hostNamespace(ns string) string {
	switch ns {
	case "http://www.w3.org/2000/svg":
		return "svg"
	case "http://www.w3.org/1998/Math/MathML":
		return "math"
	}
	return ns
}

func (r *Renderer) applyFacts(host *html.Node, ctx *EventNode, d vdom.FactsDiff) {
	for k, v := range d.Attrs {
		if v == nil {
			removeAttr(host, "", k)
		} else {
			setAttr(host, "", k, *v)
		}
	}

	for k, c := range d.AttrsNS {
		if c.Value == nil {
			removeAttr(host, c.Namespace, k)
		} else {
			setAttr(host, c.Namespace, k, *c.Value)
		}
	}

	if len(d.Styles) > 0 {
		s := r.slotFor(host)
		if s.styles == nil {
			s.styles = make(map[string]string)
		}
		for k, v := range d.Styles {
			if v == nil {
				delete(s.styles, k)
			} else {
				s.styles[k] = *v
			}
		}
		if len(s.styles) == 0 {
			removeAttr(host, "", "style")
		} else {
			setAttr(host, "", "style", vdom.StyleString(s.styles))
		}
	}

	if len(d.Events) > 0 {
		s := r.slotFor(host)
		if s.listeners == nil {
			s.listeners = make(map[string]*listener)
		}
		for name, h := range d.Events {
			old := s.listeners[name]
			switch {
			case h == nil:
				delete(s.listeners, name)
			case old != nil && old.handler.Kind == h.Kind:
				old.handler = h
			default:
				s.listeners[name] = &listener{handler: h, ctx: ctx}
			}
		}
	}

	sort.SliceStable(host.Attr, func(i, j int) bool {
		a, b := host.Attr[i], host.Attr[j]
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		return a.Key < b.Key
	})
}

func setAttr(n *html.Node, namespace, key, value string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == namespace && n.Attr[i].Key == key {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Namespace: namespace, Key: key, Val: value})
}

func removeAttr(n *html.Node, namespace, key string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == namespace && n.Attr[i].Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func childAt(n *html.Node, i int) *html.Node {
	c := n.FirstChild
	for ; c != nil && i > 0; i-- {
		c = c.NextSibling
	}
	return c
}

func detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}
