package model

import (
	"fmt"
)

// Entity is a runtime instance of a Type.
type Entity struct {
	id    string
	typ   *Type
	isNew bool
	meta  *ObjectMeta

	unregistered bool
	initialized  bool
}

func newEntity(t *Type, isNew bool) *Entity {
	e := &Entity{typ: t, isNew: isNew}
	e.meta = newObjectMeta(e)
	return e
}

func (e *Entity) String() string { return e.typ.name + "|" + e.id }

// ID returns the current identifier.
func (e *Entity) ID() string { return e.id }

// Type returns the exact type of e.
func (e *Entity) Type() *Type { return e.typ }

// IsNew reports whether e has a client-only identifier.
func (e *Entity) IsNew() bool { return e.isNew }

// IsInitialized reports whether the init handlers of e have run: it is new, or its
// persisted data has been loaded.
func (e *Entity) IsInitialized() bool { return e.initialized }

// IsRegistered reports whether e is still in its type pool.
func (e *Entity) IsRegistered() bool { return !e.unregistered }

// Meta returns the per-instance bookkeeping.
func (e *Entity) Meta() *ObjectMeta { return e.meta }

func (e *Entity) property(name string) (*Property, error) {
	p := e.typ.Property(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrPropertyNotFound, e.typ.name, name)
	}
	return p, nil
}

// Get reads the named property.
func (e *Entity) Get(name string) (any, error) {
	p, err := e.property(name)
	if err != nil {
		return nil, err
	}
	return p.GetValue(e)
}

// Set assigns the named property.
func (e *Entity) Set(name string, v any) error {
	p, err := e.property(name)
	if err != nil {
		return err
	}
	return p.SetValue(e, v)
}

// Init assigns the loaded value of the named property.
func (e *Entity) Init(name string, v any) error {
	p, err := e.property(name)
	if err != nil {
		return err
	}
	return p.Init(e, v)
}

// IsInited reports whether the named property holds a loaded value.
func (e *Entity) IsInited(name string) bool {
	p := e.typ.Property(name)
	return p != nil && p.IsInited(e)
}

// List returns the list held by the named list property.
func (e *Entity) List(name string) (*List, error) {
	p, err := e.property(name)
	if err != nil {
		return nil, err
	}
	return p.List(e)
}

// ObjectMeta holds the per-entity storage, initialization flags and conditions.
type ObjectMeta struct {
	target *Entity
	values []any
	inited []bool
	stale  []bool

	conditions map[*ConditionType]*Condition
	order      []*ConditionType
}

func newObjectMeta(e *Entity) *ObjectMeta {
	return &ObjectMeta{target: e, conditions: make(map[*ConditionType]*Condition)}
}

// Target returns the owning entity.
func (m *ObjectMeta) Target() *Entity { return m.target }

func (m *ObjectMeta) grow(i int) {
	if i < len(m.values) {
		return
	}
	n := i + 1
	m.values = append(m.values, make([]any, n-len(m.values))...)
	m.inited = append(m.inited, make([]bool, n-len(m.inited))...)
	m.stale = append(m.stale, make([]bool, n-len(m.stale))...)
}

func (m *ObjectMeta) get(p *Property) (any, bool) {
	if p.index >= len(m.values) {
		return nil, false
	}
	return m.values[p.index], m.inited[p.index]
}

func (m *ObjectMeta) set(p *Property, v any, inited bool) {
	m.grow(p.index)
	m.values[p.index] = v
	m.inited[p.index] = inited
}

func (m *ObjectMeta) isInited(p *Property) bool {
	return p.index < len(m.inited) && m.inited[p.index]
}

func (m *ObjectMeta) setInited(p *Property, v bool) {
	m.grow(p.index)
	m.inited[p.index] = v
}

func (m *ObjectMeta) pending(p *Property) bool {
	return p.index < len(m.stale) && m.stale[p.index]
}

func (m *ObjectMeta) setPending(p *Property, v bool) {
	m.grow(p.index)
	m.stale[p.index] = v
}

// PendingInit reports whether the calculated property p must be recomputed.
func (m *ObjectMeta) PendingInit(p *Property) bool { return m.pending(p) }

// SetPendingInit flags the calculated property p as stale.
func (m *ObjectMeta) SetPendingInit(p *Property, v bool) { m.setPending(p, v) }

// Conditions returns the live conditions attached to the entity, in attach order.
// With properties given only conditions implicating one of them are returned.
func (m *ObjectMeta) Conditions(props ...*Property) []*Condition {
	var out []*Condition
	for _, ct := range m.order {
		c := m.conditions[ct]
		if c == nil {
			continue
		}
		if len(props) > 0 && !c.implicates(props) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Condition returns the live condition of type ct, or nil.
func (m *ObjectMeta) Condition(ct *ConditionType) *Condition {
	return m.conditions[ct]
}

func (m *ObjectMeta) attach(c *Condition) {
	if _, ok := m.conditions[c.typ]; !ok {
		m.order = append(m.order, c.typ)
	}
	m.conditions[c.typ] = c
}

func (m *ObjectMeta) detach(c *Condition) {
	if m.conditions[c.typ] != c {
		return
	}
	delete(m.conditions, c.typ)
	for i, ct := range m.order {
		if ct == c.typ {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
}

// ClearConditions destroys every condition of the given origin, or every condition
// when origin is empty.
func (m *ObjectMeta) ClearConditions(origin Origin) {
	for _, c := range m.Conditions() {
		if origin == "" || c.origin == origin {
			c.Destroy()
		}
	}
}

// PathGetter reads entity properties for observer.AddPathChanged.
func PathGetter(target any, property string) any {
	e, ok := target.(*Entity)
	if !ok || e == nil {
		return nil
	}
	p := e.typ.Property(property)
	if p == nil {
		return nil
	}
	v := p.Value(e)
	if IsUndefined(v) {
		return nil
	}
	return v
}
