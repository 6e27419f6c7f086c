package vdom

import "reflect"

// collisionSuffix is appended to a key already seen at the same level, so
// duplicates are tracked as distinct entries.
const collisionSuffix = "_tallyW6ItBtvXbW"

type keyedDiff struct {
	changes map[string]*Entry
	local   []Patch
	inserts []Insert
	ends    []Insert
}

// diffKeyedKids walks both child lists with one step of lookahead. It
// handles matches, adjacent swaps, single inserts and removals, and a
// replaced element; anything else ends the walk and the remaining old
// children are removed and the remaining new children appended.
func diffKeyedKids(xKids, yKids []Keyed, patches *[]Patch, rootIndex int) {
	d := &keyedDiff{changes: make(map[string]*Entry)}
	xLen, yLen := len(xKids), len(yKids)
	xIndex, yIndex := 0, 0
	index := rootIndex

walk:
	for xIndex < xLen && yIndex < yLen {
		x, y := xKids[xIndex], yKids[yIndex]

		if x.Key == y.Key {
			index++
			diffInto(x.Node, y.Node, &d.local, index)
			index += x.Node.descendants()
			xIndex++
			yIndex++
			continue
		}

		var (
			xNext, yNext       Keyed
			hasXNext, hasYNext bool
			oldMatch, newMatch bool
		)
		if xIndex+1 < xLen {
			xNext, hasXNext = xKids[xIndex+1], true
			oldMatch = y.Key == xNext.Key
		}
		if yIndex+1 < yLen {
			yNext, hasYNext = yKids[yIndex+1], true
			newMatch = x.Key == yNext.Key
		}

		switch {
		case newMatch && oldMatch:
			// swap: x stays and pairs with yNext, xNext moves before it.
			index++
			diffInto(x.Node, yNext.Node, &d.local, index)
			d.insert(y.Key, y.Node, yIndex, false)
			index += x.Node.descendants()

			index++
			d.remove(xNext.Key, xNext.Node, index)
			index += xNext.Node.descendants()

			xIndex += 2
			yIndex += 2

		case newMatch:
			// y was inserted before x.
			index++
			d.insert(y.Key, y.Node, yIndex, false)
			diffInto(x.Node, yNext.Node, &d.local, index)
			index += x.Node.descendants()

			xIndex++
			yIndex += 2

		case oldMatch:
			// x was removed.
			index++
			d.remove(x.Key, x.Node, index)
			index += x.Node.descendants()

			index++
			diffInto(xNext.Node, y.Node, &d.local, index)
			index += xNext.Node.descendants()

			xIndex += 2
			yIndex++

		case hasXNext && hasYNext && xNext.Key == yNext.Key:
			// x was replaced by y.
			index++
			d.remove(x.Key, x.Node, index)
			d.insert(y.Key, y.Node, yIndex, false)
			index += x.Node.descendants()

			index++
			diffInto(xNext.Node, yNext.Node, &d.local, index)
			index += xNext.Node.descendants()

			xIndex += 2
			yIndex += 2

		default:
			break walk
		}
	}

	for ; xIndex < xLen; xIndex++ {
		index++
		x := xKids[xIndex]
		d.remove(x.Key, x.Node, index)
		index += x.Node.descendants()
	}

	for ; yIndex < yLen; yIndex++ {
		y := yKids[yIndex]
		d.insert(y.Key, y.Node, -1, true)
	}

	if len(d.local) > 0 || len(d.inserts) > 0 || len(d.ends) > 0 {
		push(patches, rootIndex, &ReorderOp{Patches: d.local, Inserts: d.inserts, EndInserts: d.ends})
	}
}

func (d *keyedDiff) insert(key string, n Node, yIndex int, end bool) {
	for {
		entry, seen := d.changes[key]
		if !seen {
			entry = &Entry{state: entryInserted, Node: n, Index: yIndex}
			d.addInsert(Insert{Index: yIndex, Entry: entry}, end)
			d.changes[key] = entry
			return
		}

		if entry.state == entryRemoved {
			// Removed earlier: move the old host node here.
			d.addInsert(Insert{Index: yIndex, Entry: entry}, end)
			entry.state = entryMoved
			var sub []Patch
			diffInto(entry.Node, n, &sub, entry.Index)
			entry.Index = yIndex
			entry.Patches = sub
			entry.remove.Move = entry
			return
		}

		key += collisionSuffix
	}
}

func (d *keyedDiff) remove(key string, n Node, index int) {
	for {
		entry, seen := d.changes[key]
		if !seen {
			op := &RemoveOp{}
			push(&d.local, index, op)
			d.changes[key] = &Entry{state: entryRemoved, Node: n, Index: index, remove: op}
			return
		}

		if entry.state == entryInserted {
			// Inserted earlier: this old node moves there.
			entry.state = entryMoved
			var sub []Patch
			diffInto(n, entry.Node, &sub, index)
			entry.Patches = sub
			op := &RemoveOp{Move: entry}
			entry.remove = op
			push(&d.local, index, op)
			return
		}

		key += collisionSuffix
	}
}

func (d *keyedDiff) addInsert(ins Insert, end bool) {
	if end {
		d.ends = append(d.ends, ins)
		return
	}
	d.inserts = append(d.inserts, ins)
}

// sameRefs reports whether two lazy dependency lists hold the same objects.
func sameRefs(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameRef(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sameRef(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Func, reflect.Map, reflect.Slice, reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		if va.Kind() == reflect.Slice && va.Len() != vb.Len() {
			return false
		}
		return va.Pointer() == vb.Pointer()
	}
	if va.Comparable() {
		return va.Equal(vb)
	}
	return false
}
