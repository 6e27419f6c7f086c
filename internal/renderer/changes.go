package renderer

import (
	"slices"

	"golang.org/x/net/html"
)

// Change is a host subtree modified since the last TakeChanges call.
// Path is the child-index path from the mount node.
type Change struct {
	Path []int
	Node *html.Node
}

func (r *Renderer) touch(n *html.Node) {
	r.touched = append(r.touched, n)
}

// TakeChanges returns the modified subtrees under mount and resets the
// record. A node is dropped when an ancestor is also reported or when it
// is no longer attached under mount. Changes are ordered by path.
func (r *Renderer) TakeChanges(mount *html.Node) []Change {
	touched := r.touched
	r.touched = nil

	set := make(map[*html.Node]bool, len(touched))
	for _, n := range touched {
		set[n] = true
	}

	var out []Change
	for n := range set {
		path, ok := PathOf(mount, n)
		if !ok {
			continue
		}
		covered := false
		for p := n.Parent; p != nil && p != mount.Parent; p = p.Parent {
			if set[p] {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, Change{Path: path, Node: n})
		}
	}

	slices.SortFunc(out, func(a, b Change) int { return slices.Compare(a.Path, b.Path) })
	return out
}

// PathOf returns the child-index path from root to n. It reports false
// when n is not in root's subtree.
func PathOf(root, n *html.Node) ([]int, bool) {
	var rev []int
	for cur := n; cur != root; cur = cur.Parent {
		if cur == nil || cur.Parent == nil {
			return nil, false
		}
		i := 0
		for c := cur.Parent.FirstChild; c != cur; c = c.NextSibling {
			i++
		}
		rev = append(rev, i)
	}
	slices.Reverse(rev)
	return rev, true
}

// NodeAt follows a child-index path from root.
func NodeAt(root *html.Node, path []int) *html.Node {
	n := root
	for _, i := range path {
		if n == nil {
			return nil
		}
		n = childAt(n, i)
	}
	return n
}
