package model

import (
	"fmt"

	"github.com/localnerve/jam-build-entitygraph/internal/observer"
)

// PropertyDef declares a property for Type.AddProperty.
type PropertyDef struct {
	Name         string
	Type         string
	IsList       bool
	IsStatic     bool
	IsPersisted  bool
	IsCalculated bool
	Label        string
	Format       string
	DefaultValue any
}

// PropertyChange describes a property assignment or a list mutation.
type PropertyChange struct {
	// Entity is the changed instance, or for chains the root instance. It is nil for
	// static properties.
	Entity   *Entity
	Property *Property
	OldValue any
	NewValue any
	// WasInited is false when the change is the first initialization of the value.
	WasInited bool
	// CollectionChanged is set for genuine list mutations. Synthetic change
	// notifications raised after a list load leave it unset.
	CollectionChanged bool
	Changes           []observer.CollectionChange
	// Applying is set when the change was made while applying server data.
	Applying bool
}

// GetHandler runs before a property value is read.
type GetHandler func(e *Entity, p *Property)

// Property is a single named member of a Type.
type Property struct {
	model         *Model
	declaringType *Type
	name          string
	typ           string
	isList        bool
	isStatic      bool
	isPersisted   bool
	isCalculated  bool
	label         string
	format        string
	defaultValue  any
	index         int

	changed []ChangeHandler
	gets    []GetHandler
}

func (p *Property) String() string { return p.declaringType.name + "." + p.name }

// Name returns the property name.
func (p *Property) Name() string { return p.name }

// Type returns the declared type name.
func (p *Property) Type() string { return p.typ }

// DeclaringType returns the type the property was added to.
func (p *Property) DeclaringType() *Type { return p.declaringType }

// IsList reports whether the property holds a List.
func (p *Property) IsList() bool { return p.isList }

// IsStatic reports whether the value lives on the type rather than on instances.
func (p *Property) IsStatic() bool { return p.isStatic }

// IsPersisted reports whether the server stores the property.
func (p *Property) IsPersisted() bool { return p.isPersisted }

// IsCalculated reports whether a rule computes the value.
func (p *Property) IsCalculated() bool { return p.isCalculated }

// SetCalculated marks the property as computed by a rule.
func (p *Property) SetCalculated(v bool) { p.isCalculated = v }

// Label returns the display label.
func (p *Property) Label() string { return p.label }

// Format returns the declared format name.
func (p *Property) Format() string { return p.format }

// Index returns the slot of the property in per-entity storage.
func (p *Property) Index() int { return p.index }

// IsValueType reports whether the property holds a built-in value type.
func (p *Property) IsValueType() bool { return IsValueType(p.typ) }

// ReferenceType returns the entity type of a reference property, or nil.
func (p *Property) ReferenceType() *Type {
	if p.IsValueType() {
		return nil
	}
	return p.model.Type(p.typ)
}

// Path implements PropertyPath.
func (p *Property) Path() string {
	if p.isStatic {
		return p.declaringType.name + "." + p.name
	}
	return p.name
}

// RootType implements PropertyPath.
func (p *Property) RootType() *Type { return p.declaringType }

// Properties implements PropertyPath.
func (p *Property) Properties() []*Property { return []*Property{p} }

// LastProperty implements PropertyPath.
func (p *Property) LastProperty() *Property { return p }

// LastTarget implements PropertyPath.
func (p *Property) LastTarget(e *Entity) (*Entity, bool) { return e, true }

func (p *Property) initialValue() any {
	if p.defaultValue != nil {
		return p.defaultValue
	}
	if p.typ == TypeBoolean {
		return false
	}
	return nil
}

// OnChanged subscribes h to changes of p on any instance.
func (p *Property) OnChanged(h ChangeHandler) {
	p.changed = append(p.changed, h)
}

// OnGet subscribes h to reads of p. Calculated properties use it to compute on demand.
func (p *Property) OnGet(h GetHandler) {
	p.gets = append(p.gets, h)
}

// IsInited reports whether e holds a loaded value for p. Lists count as inited once
// their contents are loaded.
func (p *Property) IsInited(e *Entity) bool {
	if p.isStatic {
		return p.declaringType.inited[p]
	}
	if e == nil {
		return false
	}
	return e.meta.isInited(p)
}

// Value implements PropertyPath: it returns Undefined instead of failing when the
// value is not known.
func (p *Property) Value(e *Entity) any {
	v, err := p.GetValue(e)
	if err != nil {
		return Undefined
	}
	return v
}

// GetValue reads p from e, running get handlers first. Lists that exist but have not
// been loaded are returned as they are; other uninitialized values fail.
func (p *Property) GetValue(e *Entity) (any, error) {
	if p.isStatic {
		for _, h := range p.gets {
			h(nil, p)
		}
		v := p.declaringType.staticValue(p)
		if IsUndefined(v) {
			return nil, fmt.Errorf("%w: %s", ErrPropertyNotInitialized, p)
		}
		return v, nil
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s on nil entity", ErrPropertyNotInitialized, p)
	}
	for _, h := range p.gets {
		h(e, p)
	}
	v, inited := e.meta.get(p)
	if !inited {
		if l, ok := v.(*List); ok && l != nil {
			return l, nil
		}
		return nil, fmt.Errorf("%w: %s|%s.%s", ErrPropertyNotInitialized, e.typ.name, e.id, p.name)
	}
	return v, nil
}

func (p *Property) check(v any) (any, error) {
	if IsValueType(p.typ) {
		return coerce(p.typ, v)
	}
	if v == nil {
		return nil, nil
	}
	ref, ok := v.(*Entity)
	if !ok || ref == nil {
		return nil, fmt.Errorf("%w: %v (%T) is not a %s", ErrInvalidValue, v, v, p.typ)
	}
	t := p.model.Type(p.typ)
	if t == nil || !ref.typ.IsSubclassOf(t) {
		return nil, fmt.Errorf("%w: %s is not a %s", ErrInvalidValue, ref, p.typ)
	}
	return ref, nil
}

// SetValue assigns v to p on e and raises a change when the value differs.
func (p *Property) SetValue(e *Entity, v any) error {
	return p.assign(e, v, false)
}

// Init assigns v as the loaded value of p, raising the change as an initialization
// when the property was not inited before.
func (p *Property) Init(e *Entity, v any) error {
	return p.assign(e, v, true)
}

func (p *Property) assign(e *Entity, v any, force bool) error {
	if p.isList {
		return fmt.Errorf("%w: %s", ErrListAssignment, p)
	}
	v, err := p.check(v)
	if err != nil {
		return err
	}
	var old any
	var wasInited bool
	if p.isStatic {
		owner := p.declaringType
		old, wasInited = owner.statics[p], owner.inited[p]
		if wasInited && !force && Equal(old, v) {
			return nil
		}
		owner.statics[p] = v
		owner.inited[p] = true
	} else {
		if e == nil {
			return fmt.Errorf("%w: %s on nil entity", ErrInvalidValue, p)
		}
		old, wasInited = e.meta.get(p)
		if wasInited && !force && Equal(old, v) {
			return nil
		}
		e.meta.set(p, v, true)
		e.meta.setPending(p, false)
	}
	if wasInited && Equal(old, v) {
		return nil
	}
	p.raiseChanged(&PropertyChange{
		Entity:    e,
		Property:  p,
		OldValue:  old,
		NewValue:  v,
		WasInited: wasInited,
	})
	return nil
}

// RaiseChanged raises a synthetic change notification for p on e. Loaders use it to
// announce that a list finished loading.
func (p *Property) RaiseChanged(e *Entity) {
	v, _ := p.rawValue(e)
	p.raiseChanged(&PropertyChange{Entity: e, Property: p, NewValue: v, WasInited: true})
}

func (p *Property) raiseChanged(args *PropertyChange) {
	args.Applying = p.model.IsApplying()
	p.model.notifyChanged(args)
}

func (p *Property) rawValue(e *Entity) (any, bool) {
	if p.isStatic {
		owner := p.declaringType
		v, ok := owner.statics[p]
		return v, ok && owner.inited[p]
	}
	if e == nil {
		return nil, false
	}
	return e.meta.get(p)
}

// List returns the list held by p on e, creating an unloaded empty list when none
// exists yet. For static lists e is ignored.
func (p *Property) List(e *Entity) (*List, error) {
	if !p.isList {
		return nil, fmt.Errorf("%w: %s is not a list", ErrInvalidValue, p)
	}
	if p.isStatic {
		owner := p.declaringType
		if l, ok := owner.statics[p].(*List); ok {
			return l, nil
		}
		l := newList(p.model, nil, p)
		owner.statics[p] = l
		return l, nil
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s on nil entity", ErrInvalidValue, p)
	}
	v, _ := e.meta.get(p)
	if l, ok := v.(*List); ok && l != nil {
		return l, nil
	}
	l := newList(p.model, e, p)
	e.meta.set(p, l, false)
	return l, nil
}

// MarkLoaded flags the list of p on e as loaded.
func (p *Property) MarkLoaded(e *Entity) {
	if p.isStatic {
		p.declaringType.inited[p] = true
		return
	}
	e.meta.setInited(p, true)
}

// PendingInit reports whether the calculated value of p on e must be recomputed.
func (p *Property) PendingInit(e *Entity) bool {
	if e == nil {
		return false
	}
	return e.meta.pending(p)
}

// SetPendingInit marks the calculated value of p on e as stale or fresh.
func (p *Property) SetPendingInit(e *Entity, v bool) {
	if e != nil {
		e.meta.setPending(p, v)
	}
}
