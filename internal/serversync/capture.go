package serversync

import (
	"encoding/json"

	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/observer"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

var nullJSON = json.RawMessage("null")

func (s *ServerSync) capture(args *model.PropertyChange) (transport.Change, bool, error) {
	p := args.Property
	c := transport.Change{Instance: instanceRef(args.Entity), Property: p.Name()}
	var err error
	switch {
	case p.IsList():
		return s.captureList(c, args)
	case p.IsValueType():
		c.Type = transport.ValueChange
		old := args.OldValue
		if !args.WasInited {
			old = nil
		}
		if c.OldValue, err = s.wireValue(p, old); err != nil {
			return c, false, err
		}
		if c.NewValue, err = s.wireValue(p, args.NewValue); err != nil {
			return c, false, err
		}
	default:
		c.Type = transport.ReferenceChange
		old := args.OldValue
		if !args.WasInited {
			old = nil
		}
		if c.OldValue, err = refValue(old); err != nil {
			return c, false, err
		}
		if c.NewValue, err = refValue(args.NewValue); err != nil {
			return c, false, err
		}
	}
	return c, true, nil
}

func (s *ServerSync) wireValue(p *model.Property, v any) (json.RawMessage, error) {
	w, err := s.model.ToWire(p, v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (s *ServerSync) wireValues(p *model.Property, items []any) (json.RawMessage, error) {
	out := make([]any, 0, len(items))
	for _, it := range items {
		w, err := s.model.ToWire(p, it)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return json.Marshal(out)
}

func refValue(v any) (json.RawMessage, error) {
	e, ok := v.(*model.Entity)
	if !ok || e == nil {
		return nullJSON, nil
	}
	return json.Marshal(instanceRef(e))
}

// captureList records a list mutation. Entity lists report the net instances added
// and removed; value lists report their whole contents before and after.
func (s *ServerSync) captureList(c transport.Change, args *model.PropertyChange) (transport.Change, bool, error) {
	c.Type = transport.ListChange
	l, ok := args.NewValue.(*model.List)
	if !ok {
		return c, false, nil
	}
	p := args.Property
	if p.IsValueType() {
		var err error
		if c.OldValue, err = s.wireValues(p, priorItems(l.Items(), args.Changes)); err != nil {
			return c, false, err
		}
		if c.NewValue, err = s.wireValues(p, l.Items()); err != nil {
			return c, false, err
		}
		return c, true, nil
	}

	var added, removed []*model.Entity
	for _, change := range args.Changes {
		for _, it := range change.OldItems {
			if e, ok := it.(*model.Entity); ok {
				if i := indexOf(added, e); i >= 0 {
					added = append(added[:i], added[i+1:]...)
				} else {
					removed = append(removed, e)
				}
			}
		}
		for _, it := range change.NewItems {
			if e, ok := it.(*model.Entity); ok {
				if i := indexOf(removed, e); i >= 0 {
					removed = append(removed[:i], removed[i+1:]...)
				} else {
					added = append(added, e)
				}
			}
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return c, false, nil
	}
	for _, e := range added {
		c.Added = append(c.Added, instanceRef(e))
	}
	for _, e := range removed {
		c.Removed = append(c.Removed, instanceRef(e))
	}
	return c, true, nil
}

func indexOf(list []*model.Entity, e *model.Entity) int {
	for i, it := range list {
		if it == e {
			return i
		}
	}
	return -1
}

// priorItems reconstructs the contents of a list before changes were applied to it.
func priorItems(cur []any, changes []observer.CollectionChange) []any {
	items := append([]any(nil), cur...)
	for i := len(changes) - 1; i >= 0; i-- {
		c := changes[i]
		switch c.Action {
		case observer.Add:
			start, end := c.NewStartIndex, c.NewStartIndex+len(c.NewItems)
			if start < 0 || end > len(items) {
				continue
			}
			items = append(items[:start:start], items[end:]...)
		case observer.Remove:
			at := c.OldStartIndex
			if at < 0 || at > len(items) {
				at = len(items)
			}
			next := make([]any, 0, len(items)+len(c.OldItems))
			next = append(next, items[:at]...)
			next = append(next, c.OldItems...)
			items = append(next, items[at:]...)
		case observer.Reset:
			items = append([]any(nil), c.OldItems...)
		}
	}
	return items
}
