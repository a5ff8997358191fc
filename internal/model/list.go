package model

import (
	"fmt"

	"github.com/localnerve/jam-build-entitygraph/internal/observer"
)

// ListGuard is consulted before a list mutation is applied. A non-nil error rejects
// the mutation.
type ListGuard func(l *List, changes []observer.CollectionChange) error

// List is the observable value of a list property.
type List struct {
	model *Model
	owner *Entity
	prop  *Property
	items []any

	guard     ListGuard
	suspended int
	updating  int
	queued    []observer.CollectionChange
}

func newList(m *Model, owner *Entity, p *Property) *List {
	l := &List{model: m, owner: owner, prop: p}
	m.provider.MakeObservable(l)
	return l
}

// Owner returns the entity holding the list, nil for static lists.
func (l *List) Owner() *Entity { return l.owner }

// Property returns the list property.
func (l *List) Property() *Property { return l.prop }

// Len returns the number of items.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// At returns the item at i.
func (l *List) At(i int) any { return l.items[i] }

// Items returns a copy of the items.
func (l *List) Items() []any { return append([]any(nil), l.items...) }

// Entities returns the items that are entities.
func (l *List) Entities() []*Entity {
	out := make([]*Entity, 0, len(l.items))
	for _, it := range l.items {
		if e, ok := it.(*Entity); ok {
			out = append(out, e)
		}
	}
	return out
}

// IndexOf returns the index of item or -1.
func (l *List) IndexOf(item any) int {
	for i, it := range l.items {
		if _, ok := it.(*Entity); ok && it == item || Equal(it, item) {
			return i
		}
	}
	return -1
}

// Contains reports whether item is in the list.
func (l *List) Contains(item any) bool { return l.IndexOf(item) >= 0 }

// IsLoaded reports whether the list contents are known.
func (l *List) IsLoaded() bool { return l.prop.IsInited(l.owner) }

// SetGuard installs the modification guard, replacing any previous one. nil removes it.
func (l *List) SetGuard(g ListGuard) { l.guard = g }

// Unguarded runs fn with the modification guard suspended.
func (l *List) Unguarded(fn func() error) error {
	l.suspended++
	defer func() { l.suspended-- }()
	return fn()
}

func (l *List) checkItems(items []any) ([]any, error) {
	out := make([]any, len(items))
	for i, it := range items {
		v, err := l.prop.check(it)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (l *List) allow(changes []observer.CollectionChange) error {
	if l.guard == nil || l.suspended > 0 {
		return nil
	}
	return l.guard(l, changes)
}

// Add appends items.
func (l *List) Add(items ...any) error {
	return l.Insert(len(l.items), items...)
}

// Insert inserts items at index i.
func (l *List) Insert(i int, items ...any) error {
	if len(items) == 0 {
		return nil
	}
	if i < 0 || i > len(l.items) {
		return fmt.Errorf("%w: index %d out of range [0,%d]", ErrInvalidValue, i, len(l.items))
	}
	items, err := l.checkItems(items)
	if err != nil {
		return err
	}
	change := observer.CollectionChange{Action: observer.Add, NewItems: items, NewStartIndex: i}
	if err := l.allow([]observer.CollectionChange{change}); err != nil {
		return err
	}
	next := make([]any, 0, len(l.items)+len(items))
	next = append(next, l.items[:i]...)
	next = append(next, items...)
	next = append(next, l.items[i:]...)
	l.items = next
	l.changed(change)
	return nil
}

// Remove removes the first occurrence of each item. Items not in the list are ignored.
func (l *List) Remove(items ...any) error {
	for _, it := range items {
		i := l.IndexOf(it)
		if i < 0 {
			continue
		}
		if err := l.RemoveAt(i); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAt removes the item at index i.
func (l *List) RemoveAt(i int) error {
	if i < 0 || i >= len(l.items) {
		return fmt.Errorf("%w: index %d out of range [0,%d)", ErrInvalidValue, i, len(l.items))
	}
	change := observer.CollectionChange{Action: observer.Remove, OldItems: []any{l.items[i]}, OldStartIndex: i}
	if err := l.allow([]observer.CollectionChange{change}); err != nil {
		return err
	}
	l.items = append(l.items[:i:i], l.items[i+1:]...)
	l.changed(change)
	return nil
}

// Clear removes every item.
func (l *List) Clear() error {
	if len(l.items) == 0 {
		return nil
	}
	change := observer.CollectionChange{Action: observer.Reset, OldItems: l.Items()}
	if err := l.allow([]observer.CollectionChange{change}); err != nil {
		return err
	}
	l.items = nil
	l.changed(change)
	return nil
}

// Replace swaps the contents for items as a single reset.
func (l *List) Replace(items []any) error {
	items, err := l.checkItems(items)
	if err != nil {
		return err
	}
	change := observer.CollectionChange{Action: observer.Reset, OldItems: l.Items(), NewItems: items}
	if err := l.allow([]observer.CollectionChange{change}); err != nil {
		return err
	}
	l.items = append([]any(nil), items...)
	l.changed(change)
	return nil
}

// BeginUpdate starts collecting mutations into one notification.
func (l *List) BeginUpdate() { l.updating++ }

// EndUpdate ends an update started with BeginUpdate and raises the collected changes.
func (l *List) EndUpdate() {
	if l.updating == 0 {
		return
	}
	l.updating--
	if l.updating > 0 || len(l.queued) == 0 {
		return
	}
	changes := l.queued
	l.queued = nil
	l.raise(changes)
}

func (l *List) changed(change observer.CollectionChange) {
	if l.updating > 0 {
		l.queued = append(l.queued, change)
		return
	}
	l.raise([]observer.CollectionChange{change})
}

func (l *List) raise(changes []observer.CollectionChange) {
	l.model.provider.RaiseCollectionChanged(l, changes)
	l.prop.raiseChanged(&PropertyChange{
		Entity:            l.owner,
		Property:          l.prop,
		OldValue:          l,
		NewValue:          l,
		WasInited:         l.prop.IsInited(l.owner),
		CollectionChanged: true,
		Changes:           changes,
	})
}
