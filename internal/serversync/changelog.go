package serversync

import (
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

// Source tells where the changes of a set came from.
type Source string

const (
	SourceInit   Source = "init"
	SourceClient Source = "client"
	SourceServer Source = "server"
)

// Filter selects changes. A nil Filter selects every change.
type Filter func(c transport.Change) bool

func (f Filter) match(c transport.Change) bool { return f == nil || f(c) }

// ChangeSet is a group of changes recorded between two batch boundaries.
type ChangeSet struct {
	ID      ulid.ULID          `json:"id"`
	Source  Source             `json:"source"`
	Changes []transport.Change `json:"changes"`
}

// ChangeLog is the ordered record of change sets. Changes are append-only within a
// set; only Truncate, Undo and RemoveInstance take them out again.
type ChangeLog struct {
	sets []*ChangeSet
}

// NewChangeLog returns an empty change log.
func NewChangeLog() *ChangeLog {
	return &ChangeLog{}
}

func (l *ChangeLog) current() *ChangeSet {
	if len(l.sets) == 0 {
		return nil
	}
	return l.sets[len(l.sets)-1]
}

// Start opens a new set for source. An empty current set of the same source is
// reused.
func (l *ChangeLog) Start(source Source) *ChangeSet {
	if cur := l.current(); cur != nil && cur.Source == source && len(cur.Changes) == 0 {
		return cur
	}
	set := &ChangeSet{ID: ulid.Make(), Source: source}
	l.sets = append(l.sets, set)
	return set
}

// Add appends c to the current set, opening a client set when there is none.
func (l *ChangeLog) Add(c transport.Change) {
	cur := l.current()
	if cur == nil {
		cur = l.Start(SourceClient)
	}
	cur.Changes = append(cur.Changes, c)
}

// Sets returns the change sets in order.
func (l *ChangeLog) Sets() []*ChangeSet {
	return append([]*ChangeSet(nil), l.sets...)
}

// Changes returns the changes selected by filter across every set, in order.
func (l *ChangeLog) Changes(filter Filter) []transport.Change {
	var out []transport.Change
	for _, set := range l.sets {
		for _, c := range set.Changes {
			if filter.match(c) {
				out = append(out, c)
			}
		}
	}
	return out
}

// Count returns the number of changes selected by filter.
func (l *ChangeLog) Count(filter Filter) int {
	n := 0
	for _, set := range l.sets {
		for _, c := range set.Changes {
			if filter.match(c) {
				n++
			}
		}
	}
	return n
}

// Serialize encodes the changes selected by filter in their wire form.
func (l *ChangeLog) Serialize(filter Filter) ([]byte, error) {
	changes := l.Changes(filter)
	if changes == nil {
		changes = []transport.Change{}
	}
	return json.Marshal(changes)
}

// ParseChanges decodes changes produced by Serialize.
func ParseChanges(data []byte) ([]transport.Change, error) {
	var changes []transport.Change
	if err := json.Unmarshal(data, &changes); err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrBadShape, err)
	}
	return changes, nil
}

// Truncate removes the changes selected by filter and drops the sets left empty.
// It returns the number of changes removed.
func (l *ChangeLog) Truncate(filter Filter) int {
	removed := 0
	l.retain(func(c transport.Change) (transport.Change, bool) {
		if filter.match(c) {
			removed++
			return c, false
		}
		return c, true
	})
	return removed
}

// Undo removes and returns the most recent change.
func (l *ChangeLog) Undo() (transport.Change, bool) {
	for i := len(l.sets) - 1; i >= 0; i-- {
		set := l.sets[i]
		if n := len(set.Changes); n > 0 {
			c := set.Changes[n-1]
			set.Changes = set.Changes[:n-1]
			return c, true
		}
	}
	return transport.Change{}, false
}

// RemoveInstance forgets every change made to an instance matched by match and
// strips matched instances from list changes. List changes left with nothing to
// report are dropped. It returns the number of changes removed.
func (l *ChangeLog) RemoveInstance(match func(transport.InstanceRef) bool) int {
	removed := 0
	l.retain(func(c transport.Change) (transport.Change, bool) {
		if match(c.Instance) {
			removed++
			return c, false
		}
		if c.Type != transport.ListChange || len(c.NewValue) > 0 {
			return c, true
		}
		c.Added = without(c.Added, match)
		c.Removed = without(c.Removed, match)
		if len(c.Added) == 0 && len(c.Removed) == 0 {
			removed++
			return c, false
		}
		return c, true
	})
	return removed
}

// Rewrite passes every instance reference held by the log to fn, including the
// references encoded in ReferenceChange values.
func (l *ChangeLog) Rewrite(fn func(r *transport.InstanceRef)) error {
	var err error
	l.retain(func(c transport.Change) (transport.Change, bool) {
		fn(&c.Instance)
		c.Added = rewriteRefs(c.Added, fn)
		c.Removed = rewriteRefs(c.Removed, fn)
		if c.Type == transport.ReferenceChange {
			var e1, e2 error
			c.OldValue, e1 = rewriteValue(c.OldValue, fn)
			c.NewValue, e2 = rewriteValue(c.NewValue, fn)
			if err == nil {
				err = firstErr(e1, e2)
			}
		}
		return c, true
	})
	return err
}

func (l *ChangeLog) retain(keep func(transport.Change) (transport.Change, bool)) {
	sets := l.sets[:0]
	for i, set := range l.sets {
		changes := set.Changes[:0]
		for _, c := range set.Changes {
			if c, ok := keep(c); ok {
				changes = append(changes, c)
			}
		}
		set.Changes = changes
		if len(changes) > 0 || i == len(l.sets)-1 {
			sets = append(sets, set)
		}
	}
	l.sets = sets
}

func without(refs []transport.InstanceRef, match func(transport.InstanceRef) bool) []transport.InstanceRef {
	var out []transport.InstanceRef
	for _, r := range refs {
		if !match(r) {
			out = append(out, r)
		}
	}
	return out
}

func rewriteRefs(refs []transport.InstanceRef, fn func(r *transport.InstanceRef)) []transport.InstanceRef {
	if refs == nil {
		return nil
	}
	out := make([]transport.InstanceRef, len(refs))
	for i, r := range refs {
		fn(&r)
		out[i] = r
	}
	return out
}

func rewriteValue(raw json.RawMessage, fn func(r *transport.InstanceRef)) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	var r *transport.InstanceRef
	if err := json.Unmarshal(raw, &r); err != nil {
		return raw, err
	}
	if r == nil {
		return raw, nil
	}
	fn(r)
	return json.Marshal(r)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
