package registry

// Bag is a tree of declared effects: commands or subscriptions produced by
// one application update.
type Bag interface {
	isBag()
}

type leaf struct {
	home  string
	value any
}

type batch struct {
	bags []Bag
}

type mapped struct {
	tagger func(any) any
	bag    Bag
}

func (*leaf) isBag()   {}
func (*batch) isBag()  {}
func (*mapped) isBag() {}

// Leaf declares one effect owned by the manager registered as home.
func Leaf(home string, value any) Bag {
	return &leaf{home: home, value: value}
}

// Batch groups bags.
func Batch(bags ...Bag) Bag {
	return &batch{bags: bags}
}

// None is the empty bag.
func None() Bag {
	return &batch{}
}

// MapBag routes every message produced by effects in b through tagger.
func MapBag(tagger func(any) any, b Bag) Bag {
	return &mapped{tagger: tagger, bag: b}
}

// taggers is a linked chain of taggers, innermost first.
type taggers struct {
	fn   func(any) any
	rest *taggers
}

func (t *taggers) apply(msg any) any {
	for c := t; c != nil; c = c.rest {
		msg = c.fn(msg)
	}
	return msg
}

// Effects is what one manager receives per update cycle.
type Effects struct {
	Cmds []any
	Subs []any
}

type gatherFrame struct {
	bag     Bag
	taggers *taggers
}

// gather walks a bag without recursion and groups leaf values by manager,
// in declaration order. Leaves for unknown managers are passed to unknown.
func (r *Registry) gather(isCmd bool, root Bag, into map[string]*Effects, unknown func(home string)) {
	if root == nil {
		return
	}
	stack := []gatherFrame{{bag: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch b := f.bag.(type) {
		case *leaf:
			e, ok := r.entries[b.home]
			if !ok {
				unknown(b.home)
				continue
			}
			value := e.mapValue(isCmd, f.taggers, b.value)
			fx := into[b.home]
			if fx == nil {
				fx = &Effects{}
				into[b.home] = fx
			}
			if isCmd {
				fx.Cmds = append(fx.Cmds, value)
			} else {
				fx.Subs = append(fx.Subs, value)
			}

		case *batch:
			for i := len(b.bags) - 1; i >= 0; i-- {
				stack = append(stack, gatherFrame{bag: b.bags[i], taggers: f.taggers})
			}

		case *mapped:
			stack = append(stack, gatherFrame{bag: b.bag, taggers: &taggers{fn: b.tagger, rest: f.taggers}})
		}
	}
}
