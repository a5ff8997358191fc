package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Origin tells whether a type or condition originates on the client or the server.
type Origin string

const (
	OriginClient Origin = "client"
	OriginServer Origin = "server"
)

// NewIDPrefix marks identifiers minted on the client for unsaved instances.
const NewIDPrefix = "+c"

// RuleInfo is the view the model keeps of a registered rule.
type RuleInfo interface {
	Name() string
}

// Type describes an entity class: its properties, rules and identity pool.
type Type struct {
	model   *Model
	name    string
	base    *Type
	derived []*Type
	origin  Origin

	props     map[string]*Property
	propOrder []*Property
	propCount int

	pool      map[string]*Entity
	legacy    map[string]*Entity
	instances []*Entity
	counter   int

	statics map[*Property]any
	inited  map[*Property]bool

	initNew      []ObjectHandler
	initExisting []ObjectHandler
	rules        []RuleInfo
}

func newType(m *Model, name string, base *Type, origin Origin) *Type {
	if origin == "" {
		origin = OriginServer
	}
	return &Type{
		model:   m,
		name:    name,
		base:    base,
		origin:  origin,
		props:   make(map[string]*Property),
		pool:    make(map[string]*Entity),
		legacy:  make(map[string]*Entity),
		statics: make(map[*Property]any),
		inited:  make(map[*Property]bool),
	}
}

func (t *Type) String() string { return t.name }

// Name returns the fully-qualified type name.
func (t *Type) Name() string { return t.name }

// Model returns the owning model.
func (t *Type) Model() *Model { return t.model }

// BaseType returns the base type or nil.
func (t *Type) BaseType() *Type { return t.base }

// DerivedTypes returns the direct subtypes.
func (t *Type) DerivedTypes() []*Type { return append([]*Type(nil), t.derived...) }

// Origin returns where the type was defined.
func (t *Type) Origin() Origin { return t.origin }

// IsSubclassOf reports whether t is other or derives from it.
func (t *Type) IsSubclassOf(other *Type) bool {
	for cur := t; cur != nil; cur = cur.base {
		if cur == other {
			return true
		}
	}
	return false
}

func (t *Type) root() *Type {
	cur := t
	for cur.base != nil {
		cur = cur.base
	}
	return cur
}

// Property returns the property name declared on t or any base type, or nil.
func (t *Type) Property(name string) *Property {
	for cur := t; cur != nil; cur = cur.base {
		if p, ok := cur.props[name]; ok {
			return p
		}
	}
	return nil
}

// Properties returns every property of t including inherited ones, base first.
func (t *Type) Properties() []*Property {
	var chain []*Type
	for cur := t; cur != nil; cur = cur.base {
		chain = append([]*Type{cur}, chain...)
	}
	var out []*Property
	for _, cur := range chain {
		out = append(out, cur.propOrder...)
	}
	return out
}

// AddProperty declares a property on t. Names must be unique within the hierarchy.
func (t *Type) AddProperty(def PropertyDef) (*Property, error) {
	if def.Name == "" || strings.ContainsAny(def.Name, ".<>") {
		return nil, fmt.Errorf("%w: property name %q", ErrInvalidPath, def.Name)
	}
	if def.Type == "" {
		return nil, fmt.Errorf("%w: property %s.%s has no type", ErrInvalidValue, t.name, def.Name)
	}
	if t.Property(def.Name) != nil || t.derivedDeclares(def.Name) {
		return nil, fmt.Errorf("%w: %s.%s", ErrDuplicateProperty, t.name, def.Name)
	}

	root := t.root()
	p := &Property{
		model:         t.model,
		declaringType: t,
		name:          def.Name,
		typ:           def.Type,
		isList:        def.IsList,
		isStatic:      def.IsStatic,
		isPersisted:   def.IsPersisted,
		isCalculated:  def.IsCalculated,
		label:         def.Label,
		format:        def.Format,
		defaultValue:  def.DefaultValue,
		index:         root.propCount,
	}
	if p.label == "" {
		p.label = def.Name
	}
	if def.DefaultValue != nil && IsValueType(def.Type) {
		v, err := coerce(def.Type, def.DefaultValue)
		if err != nil {
			return nil, fmt.Errorf("default of %s.%s: %w", t.name, def.Name, err)
		}
		p.defaultValue = v
	}
	root.propCount++
	t.props[def.Name] = p
	t.propOrder = append(t.propOrder, p)

	t.model.retryPending()
	return p, nil
}

func (t *Type) derivedDeclares(name string) bool {
	for _, d := range t.derived {
		if _, ok := d.props[name]; ok || d.derivedDeclares(name) {
			return true
		}
	}
	return false
}

// AddRule records a registered rule against t.
func (t *Type) AddRule(r RuleInfo) {
	t.rules = append(t.rules, r)
}

// Rules returns the rules registered against t and its base types.
func (t *Type) Rules() []RuleInfo {
	var out []RuleInfo
	for cur := t; cur != nil; cur = cur.base {
		out = append(out, cur.rules...)
	}
	return out
}

// OnInitNew subscribes h to the creation of new instances of t or its subtypes.
func (t *Type) OnInitNew(h ObjectHandler) {
	t.initNew = append(t.initNew, h)
}

// OnInitExisting subscribes h to the hydration of persisted instances of t or its subtypes.
func (t *Type) OnInitExisting(h ObjectHandler) {
	t.initExisting = append(t.initExisting, h)
}

// NewID returns the next client identifier. The counter is shared across the whole
// inheritance chain so sibling subtypes never mint colliding identifiers.
func (t *Type) NewID() string {
	next := 0
	for cur := t; cur != nil; cur = cur.base {
		if cur.counter > next {
			next = cur.counter
		}
	}
	next++
	for cur := t; cur != nil; cur = cur.base {
		cur.counter = next
	}
	return NewIDPrefix + strconv.Itoa(next)
}

func poolKey(id string) string { return strings.ToLower(id) }

// Register inserts e into the pools of t and every base type. An identifier already
// present at any level fails with ErrDuplicateID.
func (t *Type) Register(e *Entity, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	key := poolKey(id)
	for cur := t; cur != nil; cur = cur.base {
		if _, ok := cur.pool[key]; ok {
			return fmt.Errorf("%w: %s|%s", ErrDuplicateID, cur.name, id)
		}
	}
	e.id = id
	for cur := t; cur != nil; cur = cur.base {
		cur.pool[key] = e
		cur.instances = append(cur.instances, e)
	}
	t.model.notifyRegistered(e)
	return nil
}

// Unregister removes e from the pools of its type and every base type.
func (t *Type) Unregister(e *Entity) error {
	if e.typ != t && !e.typ.IsSubclassOf(t) {
		return fmt.Errorf("%w: %s is not a %s", ErrObjectNotFound, e, t.name)
	}
	for _, h := range t.model.unregistered {
		if err := h(e); err != nil {
			return err
		}
	}
	for cur := e.typ; cur != nil; cur = cur.base {
		for k, v := range cur.pool {
			if v == e {
				delete(cur.pool, k)
			}
		}
		for k, v := range cur.legacy {
			if v == e {
				delete(cur.legacy, k)
			}
		}
		for i, v := range cur.instances {
			if v == e {
				cur.instances = append(cur.instances[:i:i], cur.instances[i+1:]...)
				break
			}
		}
	}
	e.unregistered = true
	return nil
}

// Get resolves id against the pool and the legacy pool. With exactTypeOnly a stored
// instance of a subtype fails with ErrExactTypeMismatch. A missing id returns nil.
func (t *Type) Get(id string, exactTypeOnly bool) (*Entity, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	key := poolKey(id)
	e, ok := t.pool[key]
	if !ok {
		e = t.legacy[key]
	}
	if e != nil && exactTypeOnly && e.typ != t {
		return nil, fmt.Errorf("%w: %s|%s is a %s", ErrExactTypeMismatch, t.name, id, e.typ.name)
	}
	return e, nil
}

// Known returns every registered instance of t and its subtypes.
func (t *Type) Known() []*Entity {
	return append([]*Entity(nil), t.instances...)
}

// ChangeObjectID re-keys the instance registered as oldID to newID. The old id stays
// resolvable through the legacy pool. The instance is no longer considered new.
func (t *Type) ChangeObjectID(oldID, newID string) (*Entity, error) {
	if err := validateID(oldID); err != nil {
		return nil, err
	}
	if err := validateID(newID); err != nil {
		return nil, err
	}
	oldKey, newKey := poolKey(oldID), poolKey(newID)
	e, ok := t.pool[oldKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s|%s", ErrObjectNotFound, t.name, oldID)
	}
	for cur := e.typ; cur != nil; cur = cur.base {
		if existing, ok := cur.pool[newKey]; ok && existing != e {
			return nil, fmt.Errorf("%w: %s|%s", ErrDuplicateID, cur.name, newID)
		}
	}
	for cur := e.typ; cur != nil; cur = cur.base {
		delete(cur.pool, oldKey)
		cur.pool[newKey] = e
		cur.legacy[oldKey] = e
	}
	e.id = newID
	e.isNew = false
	return e, nil
}

// NewEntity creates and registers a new client-side instance with a minted id,
// initializes its properties to their defaults and fires the InitNew handlers.
func (t *Type) NewEntity() (*Entity, error) {
	e := newEntity(t, true)
	if err := t.Register(e, t.NewID()); err != nil {
		return nil, err
	}
	for _, p := range t.Properties() {
		if p.isStatic {
			continue
		}
		if p.isCalculated {
			e.meta.setPending(p, true)
			continue
		}
		if p.isList {
			e.meta.set(p, newList(t.model, e, p), true)
			continue
		}
		e.meta.set(p, p.initialValue(), true)
	}
	t.raiseInit(e, true)
	return e, nil
}

// Entity returns the instance registered as id, creating and registering an unloaded
// persisted instance when none exists.
func (t *Type) Entity(id string) (*Entity, error) {
	e, err := t.Get(id, false)
	if err != nil || e != nil {
		return e, err
	}
	e = newEntity(t, false)
	if err := t.Register(e, id); err != nil {
		return nil, err
	}
	return e, nil
}

// InitExisting fires the InitExisting handlers for e once its data has been loaded.
func (t *Type) InitExisting(e *Entity) {
	if e.initialized {
		return
	}
	t.raiseInit(e, false)
}

func (t *Type) raiseInit(e *Entity, isNew bool) {
	e.initialized = true
	t.model.raise(func() {
		for cur := e.typ; cur != nil; cur = cur.base {
			handlers := cur.initExisting
			if isNew {
				handlers = cur.initNew
			}
			for _, h := range handlers {
				h(e)
			}
		}
	})
}

// staticValue returns the value of the static property p, Undefined when not loaded.
func (t *Type) staticValue(p *Property) any {
	owner := p.declaringType
	if !owner.inited[p] {
		if p.isList {
			if l, ok := owner.statics[p]; ok {
				return l
			}
		}
		return Undefined
	}
	return owner.statics[p]
}
