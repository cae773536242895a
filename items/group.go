package items

import "fmt"

// Group aggregates the validity of several Items (WatchedGroup): valid
// only once every member is valid.
type Group struct {
	Watchable

	items   []*Item
	invalid map[*Item]bool
}

// NewGroup builds a Group over items, subscribing to each member's
// validity signals. Panics if items is empty, matching the original's
// hard requirement.
func NewGroup(members ...*Item) *Group {
	if len(members) == 0 {
		panic(fmt.Errorf("items: a group needs at least one member"))
	}
	g := &Group{Watchable: newWatchable(), items: append([]*Item(nil), members...), invalid: map[*Item]bool{}}

	for _, it := range members {
		it := it
		_, valid := it.Value()
		if !valid {
			g.invalid[it] = true
		}
		it.BecameInvalid.Connect(func(string) { g.memberInvalid(it) })
		it.BecameValid.Connect(func(string) { g.memberValid(it) })
	}
	g.Watchable.valid = len(g.invalid) == 0
	return g
}

// Items returns the group's members, in construction order.
func (g *Group) Items() []*Item {
	out := make([]*Item, len(g.items))
	copy(out, g.items)
	return out
}

// Valid reports whether every member is currently valid.
func (g *Group) Valid() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.valid
}

func (g *Group) memberInvalid(it *Item) {
	g.mu.Lock()
	wasValid := g.valid
	g.invalid[it] = true
	g.valid = false
	g.mu.Unlock()

	if wasValid {
		g.BecameInvalid.Send(it.Name)
	}
}

func (g *Group) memberValid(it *Item) {
	g.mu.Lock()
	delete(g.invalid, it)
	nowValid := len(g.invalid) == 0
	wasValid := g.valid
	g.valid = nowValid
	g.mu.Unlock()

	if nowValid && !wasValid {
		g.BecameValid.Send(it.Name)
	}
}
