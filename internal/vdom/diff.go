package vdom

// Diff computes the patches that turn a host tree rendered from old into
// one equivalent to a fresh rendering of new. It is pure apart from
// forcing and caching Lazy thunks.
func Diff(old, new Node) []Patch {
	var patches []Patch
	diffInto(old, new, &patches, 0)
	return patches
}

type work struct {
	x, y  Node
	index int
}

// diffInto walks positional children with an explicit stack. Keyed child
// lists and lazy subtrees produce their own patch lists and are diffed by
// nested calls.
func diffInto(x, y Node, patches *[]Patch, index int) {
	stack := []work{{x: x, y: y, index: index}}
	for len(stack) > 0 {
		w := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		stack = diffStep(w, patches, stack)
	}
}

func push(patches *[]Patch, index int, op Op) {
	*patches = append(*patches, Patch{Index: index, Op: op})
}

func diffStep(w work, patches *[]Patch, stack []work) []work {
	x, y, index := w.x, w.y, w.index
	if x == y {
		return stack
	}

	switch y := y.(type) {
	case *Text:
		xt, ok := x.(*Text)
		if !ok {
			push(patches, index, &RedrawOp{Node: y})
			return stack
		}
		if xt.Value != y.Value {
			push(patches, index, &TextOp{Value: y.Value})
		}
		return stack

	case *Element:
		xe, ok := x.(*Element)
		if !ok {
			push(patches, index, &RedrawOp{Node: y})
			return stack
		}
		if !diffHeader(xe.Tag, xe.Namespace, xe.Facts, y.Tag, y.Namespace, y.Facts, y, patches, index) {
			return stack
		}
		return diffKids(xe.Children, y.Children, patches, index, stack)

	case *KeyedElement:
		switch xe := x.(type) {
		case *KeyedElement:
			if !diffHeader(xe.Tag, xe.Namespace, xe.Facts, y.Tag, y.Namespace, y.Facts, y, patches, index) {
				return stack
			}
			diffKeyedKids(xe.Children, y.Children, patches, index)
			return stack
		case *Element:
			// A positional list replaced by a keyed one is diffed
			// positionally.
			ye := dekey(y)
			if !diffHeader(xe.Tag, xe.Namespace, xe.Facts, ye.Tag, ye.Namespace, ye.Facts, y, patches, index) {
				return stack
			}
			return diffKids(xe.Children, ye.Children, patches, index, stack)
		}
		push(patches, index, &RedrawOp{Node: y})
		return stack

	case *Tagged:
		xt, ok := x.(*Tagged)
		if !ok || len(xt.taggers) != len(y.taggers) {
			push(patches, index, &RedrawOp{Node: y})
			return stack
		}
		for i := range xt.taggers {
			if xt.taggers[i] != y.taggers[i] {
				push(patches, index, &RemapOp{Taggers: y.taggers})
				break
			}
		}
		return append(stack, work{x: xt.inner, y: y.inner, index: index + 1})

	case *Lazy:
		xl, ok := x.(*Lazy)
		if !ok {
			push(patches, index, &RedrawOp{Node: y})
			return stack
		}
		if sameRefs(xl.refs, y.refs) && xl.cached != nil {
			y.cached = xl.cached
			return stack
		}
		var sub []Patch
		diffInto(xl.Force(), y.Force(), &sub, 0)
		if len(sub) > 0 {
			push(patches, index, &LazyOp{Patches: sub})
		}
		return stack

	case *Custom:
		xc, ok := x.(*Custom)
		if !ok || xc.Widget != y.Widget {
			push(patches, index, &RedrawOp{Node: y})
			return stack
		}
		if fd := diffFacts(xc.Facts, y.Facts); !fd.Empty() {
			push(patches, index, &FactsOp{Diff: fd})
		}
		if cp := y.Widget.Diff(xc.Model, y.Model); cp != nil {
			push(patches, index, &CustomOp{Patch: cp})
		}
		return stack
	}
	return stack
}

// diffHeader compares element identity and facts. It reports false when the
// node was redrawn.
func diffHeader(xTag, xNS string, xFacts Facts, yTag, yNS string, yFacts Facts, y Node, patches *[]Patch, index int) bool {
	if xTag != yTag || xNS != yNS {
		push(patches, index, &RedrawOp{Node: y})
		return false
	}
	if fd := diffFacts(xFacts, yFacts); !fd.Empty() {
		push(patches, index, &FactsOp{Diff: fd})
	}
	return true
}

func diffKids(xKids, yKids []Node, patches *[]Patch, index int, stack []work) []work {
	xLen, yLen := len(xKids), len(yKids)
	if xLen > yLen {
		push(patches, index, &RemoveLastOp{From: yLen, Count: xLen - yLen})
	} else if xLen < yLen {
		push(patches, index, &AppendOp{From: xLen, Children: yKids[xLen:]})
	}

	minLen := min(xLen, yLen)
	kids := make([]work, minLen)
	for i := 0; i < minLen; i++ {
		index++
		kids[i] = work{x: xKids[i], y: yKids[i], index: index}
		index += xKids[i].descendants()
	}
	for i := len(kids) - 1; i >= 0; i-- {
		stack = append(stack, kids[i])
	}
	return stack
}
