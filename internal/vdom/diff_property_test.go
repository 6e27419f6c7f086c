//go:build property
// +build property

package vdom

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// build derives a tree from words; calling it twice gives equal trees that
// share no pointers.
func build(words []string) Node {
	kids := make([]Node, 0, len(words))
	var items []Keyed
	for i, w := range words {
		switch i % 3 {
		case 0:
			kids = append(kids, NewText(w))
		case 1:
			kids = append(kids, NewElement("span", []Attribute{Class(w), Style("order", w)}, NewText(w)))
		default:
			items = append(items, Keyed{Key: w, Node: NewElement("li", nil, NewText(w))})
		}
	}
	kids = append(kids, NewKeyedElement("ul", nil, items...))
	return NewElement("div", []Attribute{Attr("id", "root")}, kids...)
}

func TestDiffProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("diff of equal trees is empty", prop.ForAll(
		func(words []string) bool {
			return len(Diff(build(words), build(words))) == 0
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("patch indices never decrease", prop.ForAll(
		func(xs, ys []string) bool {
			patches := Diff(build(xs), build(ys))
			for i := 1; i < len(patches); i++ {
				if patches[i].Index < patches[i-1].Index {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
