package vdom

import (
	"slices"
)

// Patch is one host mutation. Index is the pre-order position of the
// targeted node in the old tree; a patch list is sorted by Index so it can
// be resolved in a single walk.
type Patch struct {
	Index int
	Op    Op
}

// Op is the mutation a patch performs.
type Op interface {
	op()
}

// RedrawOp replaces the node with a fresh rendering of Node.
type RedrawOp struct {
	Node Node
}

// FactsOp applies a facts diff.
type FactsOp struct {
	Diff FactsDiff
}

// TextOp replaces the content of a text node.
type TextOp struct {
	Value string
}

// RemapOp installs a new tagger list on a Tagged node.
type RemapOp struct {
	Taggers []*Tagger
}

// RemoveLastOp removes Count children starting at From.
type RemoveLastOp struct {
	From  int
	Count int
}

// AppendOp appends new children; From is the number of existing
// children.
type AppendOp struct {
	From     int
	Children []Node
}

// ReorderOp reconciles keyed children. Patches target the old children and
// contain RemoveOp entries; Inserts are positional; EndInserts are appended
// after everything else.
type ReorderOp struct {
	Patches    []Patch
	Inserts    []Insert
	EndInserts []Insert
}

// RemoveOp removes a keyed child. When Move is set the child is not
// destroyed: it is patched with Move.Patches and reinserted elsewhere.
type RemoveOp struct {
	Move *Entry
}

// LazyOp carries the patches of a Lazy node's subtree. Their indices are
// relative to the lazy node's content.
type LazyOp struct {
	Patches []Patch
}

// CustomOp applies a widget diff.
type CustomOp struct {
	Patch CustomPatch
}

func (*RedrawOp) op()     {}
func (*FactsOp) op()      {}
func (*TextOp) op()       {}
func (*RemapOp) op()      {}
func (*RemoveLastOp) op() {}
func (*AppendOp) op()     {}
func (*ReorderOp) op()    {}
func (*RemoveOp) op()     {}
func (*LazyOp) op()       {}
func (*CustomOp) op()     {}

type entryState int

const (
	entryInserted entryState = iota
	entryRemoved
	entryMoved
)

// Insert places the node described by Entry among the new children. Index
// is -1 for end inserts.
type Insert struct {
	Index int
	Entry *Entry
}

// Entry tracks one key through a keyed reconciliation.
type Entry struct {
	state entryState
	// Node is the new node to render for a plain insert.
	Node Node
	// Index is the target child position, or -1 when appended at the end.
	Index int
	// Patches update the moved host node.
	Patches []Patch
	remove  *RemoveOp
}

// Moved reports whether the entry moves an existing host node.
func (e *Entry) Moved() bool { return e.state == entryMoved }

func sortedKeys[V any](m map[string]V) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	slices.Sort(ks)
	return ks
}
