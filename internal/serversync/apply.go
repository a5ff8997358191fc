package serversync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/localnerve/jam-build-entitygraph/internal/lazy"
	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

// ApplyChanges applies changes received from the service or from another graph.
// Every instance id is translated before it is looked up, InitNew creates the
// instance, and nothing applied here is captured again.
func (s *ServerSync) ApplyChanges(ctx context.Context, changes []transport.Change) error {
	if len(changes) == 0 {
		return nil
	}
	if s.mg.Transport() != nil {
		if err := s.mg.Types.Ensure(ctx, changeTypes(changes)...); err != nil {
			return err
		}
	}
	return s.mg.Apply(func() error {
		var errs []error
		for _, c := range changes {
			if err := s.applyChange(c); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", c.Type, c.Instance, err))
			}
		}
		return errors.Join(errs...)
	})
}

func changeTypes(changes []transport.Change) []string {
	var names []string
	for _, c := range changes {
		names = append(names, c.Instance.Type)
		for _, r := range append(append([]transport.InstanceRef(nil), c.Added...), c.Removed...) {
			names = append(names, r.Type)
		}
	}
	return names
}

func (s *ServerSync) applyChange(c transport.Change) error {
	t := s.model.Type(c.Instance.Type)
	if t == nil {
		return fmt.Errorf("%w: %s", model.ErrTypeNotFound, c.Instance.Type)
	}
	if c.Type == transport.InitNew {
		root := rootName(t)
		if e, err := t.Get(s.ids.ToClient(root, c.Instance.ID), false); err != nil || e != nil {
			return err
		}
		e, err := t.NewEntity()
		if err != nil {
			return err
		}
		s.created[e] = true
		s.ids.Add(root, e.ID(), c.Instance.ID)
		return nil
	}

	e, err := s.entity(c.Instance)
	if err != nil {
		return err
	}
	p := e.Type().Property(c.Property)
	if p == nil {
		return fmt.Errorf("%w: %s.%s", model.ErrPropertyNotFound, e.Type().Name(), c.Property)
	}
	switch c.Type {
	case transport.ValueChange:
		v, err := s.fromWire(p, c.NewValue)
		if err != nil {
			return err
		}
		return p.SetValue(e, v)
	case transport.ReferenceChange:
		ref, err := s.refFromJSON(c.NewValue)
		if err != nil {
			return err
		}
		return p.SetValue(e, ref)
	case transport.ListChange:
		return s.applyList(e, p, c)
	}
	return fmt.Errorf("%w: unknown change type %q", transport.ErrBadShape, c.Type)
}

func (s *ServerSync) applyList(e *model.Entity, p *model.Property, c transport.Change) error {
	l, err := p.List(e)
	if err != nil {
		return err
	}
	return lazy.AllowModification(l, func() error {
		if len(c.NewValue) > 0 {
			var vals []json.RawMessage
			if err := json.Unmarshal(c.NewValue, &vals); err != nil {
				return fmt.Errorf("%w: %v", transport.ErrBadShape, err)
			}
			items := make([]any, 0, len(vals))
			for _, raw := range vals {
				v, err := s.fromWire(p, raw)
				if err != nil {
					return err
				}
				items = append(items, v)
			}
			return l.Replace(items)
		}
		for _, r := range c.Removed {
			item, err := s.lookup(r)
			if err != nil {
				return err
			}
			if item != nil {
				if err := l.Remove(item); err != nil {
					return err
				}
			}
		}
		for _, r := range c.Added {
			item, err := s.entity(r)
			if err != nil {
				return err
			}
			if !l.Contains(item) {
				if err := l.Add(item); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// lookup returns the pooled instance for r after id translation, or nil.
func (s *ServerSync) lookup(r transport.InstanceRef) (*model.Entity, error) {
	t := s.model.Type(r.Type)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrTypeNotFound, r.Type)
	}
	return t.Get(s.ids.ToClient(rootName(t), r.ID), false)
}

// entity returns the pooled instance for r, registering an unloaded instance with an
// object loader when it is not known yet.
func (s *ServerSync) entity(r transport.InstanceRef) (*model.Entity, error) {
	e, err := s.lookup(r)
	if err != nil || e != nil {
		return e, err
	}
	t := s.model.Type(r.Type)
	if e, err = t.Entity(s.ids.ToClient(rootName(t), r.ID)); err != nil {
		return nil, err
	}
	if !e.IsNew() && !e.IsInitialized() && !s.mg.IsRegistered(e) {
		s.mg.Objects.Register(e)
	}
	return e, nil
}

func (s *ServerSync) refFromJSON(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var r *transport.InstanceRef
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrBadShape, err)
	}
	if r == nil || r.ID == "" {
		return nil, nil
	}
	e, err := s.entity(*r)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *ServerSync) fromWire(p *model.Property, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrBadShape, err)
	}
	if v == nil {
		return nil, nil
	}
	return s.model.FromWire(p, v)
}
