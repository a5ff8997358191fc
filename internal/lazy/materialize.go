package lazy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

// Materializer applies instance data received from the server to the graph.
// Referenced instances that did not arrive get an object loader, lists that arrived
// deferred get a list loader.
type Materializer struct {
	mg *Manager
}

// ApplyResponse applies the instances, static values and conditions of resp.
func (mt *Materializer) ApplyResponse(resp *transport.Response) error {
	return mt.mg.Apply(func() error {
		return mt.apply(resp, transport.Ref{})
	})
}

// ApplyList populates l from the answer to a list request and unregisters its loader.
// A list that was loaded or unregistered while the request was in flight is left
// alone.
func (mt *Materializer) ApplyList(resp *transport.Response, l *model.List) error {
	return mt.mg.Apply(func() error {
		if !mt.mg.IsRegistered(l) {
			return nil
		}
		owner, p := l.Owner(), l.Property()
		if owner != nil && !owner.IsRegistered() {
			mt.mg.Unregister(l)
			return nil
		}
		raw, ownerRef, ok := findList(mt.mg.model, resp, owner, p)
		if !ok {
			return fmt.Errorf("%w: %s missing from list response", transport.ErrBadShape, listName(l))
		}
		skip := transport.Ref{}
		if ownerRef != nil {
			skip = *ownerRef
		}
		if err := mt.apply(resp, skip); err != nil {
			return err
		}
		if err := mt.applyValue(owner, p, raw, resp.Instances); err != nil {
			return fmt.Errorf("%s: %w", listName(l), err)
		}
		if !p.IsInited(owner) {
			return fmt.Errorf("%w: %s is still deferred", transport.ErrBadShape, listName(l))
		}
		p.RaiseChanged(owner)
		return nil
	})
}

type pending struct {
	e     *model.Entity
	props transport.Properties
}

func (mt *Materializer) apply(resp *transport.Response, skip transport.Ref) error {
	m := mt.mg.model
	var batch []pending
	for _, typeName := range sortedKeys(resp.Instances) {
		t := m.Type(typeName)
		if t == nil {
			return fmt.Errorf("%w: %s", model.ErrTypeNotFound, typeName)
		}
		byID := resp.Instances[typeName]
		for _, id := range sortedKeys(byID) {
			if typeName == skip.Type && id == skip.ID {
				continue
			}
			e, err := mt.resolve(t, id)
			if err != nil {
				return err
			}
			batch = append(batch, pending{e: e, props: byID[id]})
		}
	}
	for _, b := range batch {
		if err := mt.applyProperties(b.e, b.props, resp.Instances); err != nil {
			return err
		}
	}
	for _, b := range batch {
		mt.mg.Unregister(b.e)
		b.e.Type().InitExisting(b.e)
	}

	for _, typeName := range sortedKeys(resp.Statics) {
		t := m.Type(typeName)
		if t == nil {
			return fmt.Errorf("%w: %s", model.ErrTypeNotFound, typeName)
		}
		props := resp.Statics[typeName]
		for _, name := range sortedKeys(props) {
			p := t.Property(name)
			if p == nil || !p.IsStatic() {
				mt.mg.logger.Debug("ignoring static value", "type", typeName, "property", name)
				continue
			}
			if err := mt.applyValue(nil, p, props[name], resp.Instances); err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
		}
	}

	mt.applyConditions(resp.Conditions)
	return nil
}

// resolve returns the pooled instance for id, looking through base types before
// registering a new unloaded instance of t.
func (mt *Materializer) resolve(t *model.Type, id string) (*model.Entity, error) {
	for cur := t; cur != nil; cur = cur.BaseType() {
		e, err := cur.Get(id, false)
		if err != nil {
			return nil, err
		}
		if e != nil {
			return e, nil
		}
	}
	return t.Entity(id)
}

// ref resolves a reference and registers an object loader when the instance has no
// data and none is on the way in this response.
func (mt *Materializer) ref(typeName, id string, in transport.Instances) (*model.Entity, error) {
	t := mt.mg.model.Type(typeName)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrTypeNotFound, typeName)
	}
	e, err := mt.resolve(t, id)
	if err != nil {
		return nil, err
	}
	if !e.IsNew() && !e.IsInitialized() && !mt.inResponse(in, e.Type(), id) && !mt.mg.IsRegistered(e) {
		mt.mg.Objects.Register(e)
	}
	return e, nil
}

func (mt *Materializer) inResponse(in transport.Instances, t *model.Type, id string) bool {
	for typeName, byID := range in {
		rt := mt.mg.model.Type(typeName)
		if rt == nil || !(rt.IsSubclassOf(t) || t.IsSubclassOf(rt)) {
			continue
		}
		for k := range byID {
			if strings.EqualFold(k, id) {
				return true
			}
		}
	}
	return false
}

func (mt *Materializer) applyProperties(e *model.Entity, props transport.Properties, in transport.Instances) error {
	for _, name := range sortedKeys(props) {
		p := e.Type().Property(name)
		if p == nil {
			if !strings.EqualFold(name, "id") {
				mt.mg.logger.Debug("ignoring unknown property", "type", e.Type().Name(), "id", e.ID(), "property", name)
			}
			continue
		}
		if p.IsStatic() {
			continue
		}
		if err := mt.applyValue(e, p, props[name], in); err != nil {
			return fmt.Errorf("%s.%s: %w", e, name, err)
		}
	}
	return nil
}

func (mt *Materializer) applyValue(e *model.Entity, p *model.Property, raw json.RawMessage, in transport.Instances) error {
	m := mt.mg.model
	switch {
	case p.IsList():
		var lv transport.ListValue
		if err := json.Unmarshal(raw, &lv); err != nil {
			return err
		}
		l, err := p.List(e)
		if err != nil {
			return err
		}
		if lv.Deferred {
			if !p.IsInited(e) && !mt.mg.IsRegistered(l) {
				mt.mg.Lists.Register(l)
			}
			return nil
		}
		var items []any
		if p.IsValueType() {
			vals, err := decodeValues(raw)
			if err != nil {
				return err
			}
			for _, v := range vals {
				cv, err := m.FromWire(p, v)
				if err != nil {
					return err
				}
				items = append(items, cv)
			}
		} else {
			for _, r := range lv.Items {
				typeName := r.Type
				if typeName == "" || m.Type(typeName) == nil {
					typeName = p.Type()
				}
				item, err := mt.ref(typeName, r.ID, in)
				if err != nil {
					return err
				}
				items = append(items, item)
			}
		}
		return mt.populate(l, items)

	case p.IsValueType():
		v, err := decodeValue(raw)
		if err != nil {
			return err
		}
		if v, err = m.FromWire(p, v); err != nil {
			return err
		}
		return p.Init(e, v)
	}

	var r *transport.Ref
	if err := json.Unmarshal(raw, &r); err != nil {
		return err
	}
	if r == nil || r.ID == "" {
		return p.Init(e, nil)
	}
	// a subtype that is not loaded yet is resolved as the declared type
	typeName := r.Type
	if typeName == "" || m.Type(typeName) == nil {
		typeName = p.Type()
	}
	ref, err := mt.ref(typeName, r.ID, in)
	if err != nil {
		return err
	}
	return p.Init(e, ref)
}

// populate loads items into l in place. New instances added to l before it loaded
// are kept after the loaded items.
func (mt *Materializer) populate(l *model.List, items []any) error {
	for _, it := range l.Items() {
		if e, ok := it.(*model.Entity); ok && e.IsNew() && !containsItem(items, e) {
			items = append(items, e)
		}
	}
	if !sameItems(l.Items(), items) {
		if err := AllowModification(l, func() error { return l.Replace(items) }); err != nil {
			return err
		}
	}
	l.Property().MarkLoaded(l.Owner())
	l.SetGuard(nil)
	mt.mg.Unregister(l)
	return nil
}

func (mt *Materializer) applyConditions(conds []transport.ConditionData) {
	m := mt.mg.model
	for _, cd := range conds {
		category := model.Category(cd.Category)
		if category == "" {
			category = model.CategoryError
		}
		ct := m.EnsureConditionType(cd.Code, category, cd.Message, model.OriginServer)
		for _, tg := range cd.Targets {
			t := m.Type(tg.Instance.Type)
			if t == nil {
				mt.mg.logger.Warn("condition for unknown type", "code", cd.Code, "type", tg.Instance.Type)
				continue
			}
			e, err := t.Get(tg.Instance.ID, false)
			if err != nil || e == nil {
				mt.mg.logger.Warn("condition for unknown instance", "code", cd.Code, "type", tg.Instance.Type, "id", tg.Instance.ID)
				continue
			}
			var props []*model.Property
			for _, name := range tg.Properties {
				if p := e.Type().Property(name); p != nil {
					props = append(props, p)
				}
			}
			ct.WhenServer(true, e, props, cd.Message)
		}
	}
}

func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrBadShape, err)
	}
	return v, nil
}

func decodeValues(raw json.RawMessage) ([]any, error) {
	v, err := decodeValue(raw)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	vals, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a list, got %s", transport.ErrBadShape, raw)
	}
	return vals, nil
}

func containsItem(items []any, item any) bool {
	for _, it := range items {
		if it == item {
			return true
		}
	}
	return false
}

func sameItems(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !model.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
