package renderer

import (
	"context"

	"golang.org/x/net/html"

	"github.com/conneroisu/tally/internal/vdom"
)

// target is where a patch lands: the host node, the tagger context at that
// position and how many Tagged levels of the host node enclose it.
type target struct {
	host  *html.Node
	ctx   *EventNode
	depth int
}

type applyState struct {
	targets map[*vdom.Patch]target
	moved   map[*vdom.Entry]*html.Node
	applied int
}

// Apply mutates the host tree rooted at root, which was rendered from old,
// according to patches, and returns the new root. ctx is the tagger
// context root was rendered with.
func (r *Renderer) Apply(root *html.Node, old vdom.Node, patches []vdom.Patch, ctx *EventNode) *html.Node {
	if len(patches) == 0 {
		return root
	}

	st := &applyState{
		targets: make(map[*vdom.Patch]target, len(patches)),
		moved:   make(map[*vdom.Entry]*html.Node),
	}
	r.resolve(st, root, old, patches, 0, vdom.Descendants(old), ctx, 0)
	root = r.applyList(st, root, patches)

	r.metrics.PatchesApplied(st.applied)
	return root
}

type frame struct {
	host      *html.Node
	vnode     vdom.Node
	low, high int
	ctx       *EventNode
	depth     int
}

// resolve walks the old tree and the host tree together in pre-order and
// records the target of every patch. Subtrees that no remaining patch
// points into are skipped using descendant counts.
func (r *Renderer) resolve(st *applyState, host *html.Node, vnode vdom.Node, patches []vdom.Patch, low, high int, ctx *EventNode, depth int) {
	i := 0
	stack := []frame{{host: host, vnode: vnode, low: low, high: high, ctx: ctx, depth: depth}}

	for len(stack) > 0 && i < len(patches) {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for i < len(patches) && patches[i].Index < f.low {
			r.logger.Warn(context.Background(), nil, "patch index has no host node", "index", patches[i].Index)
			i++
		}
		if i >= len(patches) || patches[i].Index > f.high {
			continue
		}

		for i < len(patches) && patches[i].Index == f.low {
			p := &patches[i]
			st.targets[p] = target{host: f.host, ctx: f.ctx, depth: f.depth}

			switch op := p.Op.(type) {
			case *vdom.LazyOp:
				if lazy, ok := f.vnode.(*vdom.Lazy); ok {
					inner := lazy.Force()
					r.resolve(st, f.host, inner, op.Patches, 0, vdom.Descendants(inner), f.ctx, f.depth)
				}
			case *vdom.ReorderOp:
				r.resolve(st, f.host, f.vnode, op.Patches, f.low, f.high, f.ctx, f.depth)
			case *vdom.RemoveOp:
				if op.Move != nil {
					st.moved[op.Move] = f.host
					r.resolve(st, f.host, f.vnode, op.Move.Patches, f.low, f.high, f.ctx, f.depth)
				}
			}
			i++
		}
		if i >= len(patches) || patches[i].Index > f.high {
			continue
		}

		switch v := f.vnode.(type) {
		case *vdom.Tagged:
			stack = append(stack, frame{
				host:  f.host,
				vnode: v.Inner(),
				low:   f.low + 1,
				high:  f.high,
				ctx:   r.refAt(f.host, f.depth),
				depth: f.depth + 1,
			})

		case *vdom.Element:
			stack = r.pushKids(stack, f, v.Children)

		case *vdom.KeyedElement:
			kids := make([]vdom.Node, len(v.Children))
			for j, kid := range v.Children {
				kids[j] = kid.Node
			}
			stack = r.pushKids(stack, f, kids)
		}
	}
}

func (r *Renderer) pushKids(stack []frame, f frame, kids []vdom.Node) []frame {
	frames := make([]frame, 0, len(kids))
	low := f.low
	hostKid := f.host.FirstChild
	for _, kid := range kids {
		if hostKid == nil {
			break
		}
		low++
		next := low + vdom.Descendants(kid)
		frames = append(frames, frame{host: hostKid, vnode: kid, low: low, high: next, ctx: f.ctx})
		low = next
		hostKid = hostKid.NextSibling
	}
	for j := len(frames) - 1; j >= 0; j-- {
		stack = append(stack, frames[j])
	}
	return stack
}

func (r *Renderer) refAt(host *html.Node, depth int) *EventNode {
	if s := r.lookup(host); s != nil && depth < len(s.refs) {
		return s.refs[depth]
	}
	return nil
}

func (r *Renderer) applyList(st *applyState, root *html.Node, patches []vdom.Patch) *html.Node {
	for i := range patches {
		p := &patches[i]
		t, ok := st.targets[p]
		if !ok {
			continue
		}
		next := r.applyOne(st, t, p.Op)
		st.applied++
		if t.host == root {
			root = next
		}
	}
	return root
}

func (r *Renderer) applyOne(st *applyState, t target, op vdom.Op) *html.Node {
	host := t.host

	switch op := op.(type) {
	case *vdom.RedrawOp:
		next := r.Render(op.Node, t.ctx)
		var prefix []*EventNode
		if s := r.lookup(host); s != nil && len(s.refs) > 0 {
			prefix = s.refs[:min(t.depth, len(s.refs))]
		}
		if len(prefix) > 0 {
			ns := r.slotFor(next)
			ns.refs = append(append([]*EventNode(nil), prefix...), ns.refs...)
		}
		if parent := host.Parent; parent != nil {
			parent.InsertBefore(next, host)
			parent.RemoveChild(host)
		}
		r.release(host)
		r.touch(next)
		r.metrics.Redraw()
		return next

	case *vdom.FactsOp:
		r.applyFacts(host, t.ctx, op.Diff)
		r.touch(host)
		return host

	case *vdom.TextOp:
		host.Data = op.Value
		r.touch(host)
		return host

	case *vdom.LazyOp:
		return r.applyList(st, host, op.Patches)

	case *vdom.RemapOp:
		s := r.slotFor(host)
		if t.depth < len(s.refs) {
			s.refs[t.depth].taggers = op.Taggers
		} else {
			s.refs = append(s.refs, &EventNode{taggers: op.Taggers, parent: t.ctx})
		}
		return host

	case *vdom.RemoveLastOp:
		for i := 0; i < op.Count; i++ {
			kid := childAt(host, op.From)
			if kid == nil {
				break
			}
			host.RemoveChild(kid)
			r.release(kid)
		}
		r.touch(host)
		return host

	case *vdom.AppendOp:
		end := childAt(host, op.From)
		for _, kid := range op.Children {
			host.InsertBefore(r.Render(kid, t.ctx), end)
		}
		r.touch(host)
		return host

	case *vdom.RemoveOp:
		if op.Move == nil {
			detach(host)
			r.release(host)
			return host
		}
		if op.Move.Index >= 0 {
			detach(host)
		}
		st.moved[op.Move] = r.applyList(st, host, op.Move.Patches)
		return host

	case *vdom.ReorderOp:
		return r.applyReorder(st, t, op)

	case *vdom.CustomOp:
		next := op.Patch(host)
		if next != nil && next != host {
			if parent := host.Parent; parent != nil {
				parent.InsertBefore(next, host)
				parent.RemoveChild(host)
			}
			r.rekey(host, next)
			r.touch(next)
			return next
		}
		r.touch(host)
		return host
	}
	return host
}

// applyReorder takes nodes that move to the end out of the tree first,
// then applies removals and moves, then positional inserts, and appends
// the end batch last.
func (r *Renderer) applyReorder(st *applyState, t target, op *vdom.ReorderOp) *html.Node {
	host := t.host

	for _, ins := range op.EndInserts {
		if ins.Entry.Moved() {
			if n := st.moved[ins.Entry]; n != nil {
				detach(n)
			}
		}
	}

	r.applyList(st, host, op.Patches)

	node := func(e *vdom.Entry) *html.Node {
		if e.Moved() {
			if n := st.moved[e]; n != nil {
				detach(n)
				return n
			}
		}
		return r.Render(e.Node, t.ctx)
	}

	for _, ins := range op.Inserts {
		host.InsertBefore(node(ins.Entry), childAt(host, ins.Index))
	}

	batch := make([]*html.Node, 0, len(op.EndInserts))
	for _, ins := range op.EndInserts {
		batch = append(batch, node(ins.Entry))
	}
	for _, n := range batch {
		host.AppendChild(n)
	}

	r.touch(host)
	return host
}
