package model

import (
	"fmt"
	"strings"
)

// PropertyPath is the read and subscribe contract shared by a single Property and a
// multi-hop PropertyChain.
type PropertyPath interface {
	Path() string
	RootType() *Type
	Properties() []*Property
	LastProperty() *Property
	// LastTarget resolves the entity holding the last property. ok is false when an
	// intermediate hop is nil or not loaded.
	LastTarget(e *Entity) (*Entity, bool)
	// Value returns the value at the end of the path, or Undefined when it is unknown.
	Value(e *Entity) any
	IsInited(e *Entity) bool
	IsList() bool
	IsStatic() bool
	OnChanged(h ChangeHandler)
}

// PropertyChain is a dotted path of properties addressed as one property.
type PropertyChain struct {
	root   *Type
	props  []*Property
	casts  []*Type
	path   string
	static bool
}

func (c *PropertyChain) String() string { return c.path }

// Path implements PropertyPath.
func (c *PropertyChain) Path() string { return c.path }

// RootType implements PropertyPath.
func (c *PropertyChain) RootType() *Type { return c.root }

// Properties implements PropertyPath.
func (c *PropertyChain) Properties() []*Property { return append([]*Property(nil), c.props...) }

// LastProperty implements PropertyPath.
func (c *PropertyChain) LastProperty() *Property { return c.props[len(c.props)-1] }

// IsList implements PropertyPath.
func (c *PropertyChain) IsList() bool { return c.LastProperty().isList }

// IsStatic implements PropertyPath.
func (c *PropertyChain) IsStatic() bool { return c.static }

// LastTarget implements PropertyPath.
func (c *PropertyChain) LastTarget(e *Entity) (*Entity, bool) {
	return c.walk(e, len(c.props)-1)
}

// walk follows the first n hops from e.
func (c *PropertyChain) walk(e *Entity, n int) (*Entity, bool) {
	cur := e
	for i := 0; i < n; i++ {
		p := c.props[i]
		if !p.isStatic && cur == nil {
			return nil, false
		}
		v := p.Value(cur)
		next, ok := v.(*Entity)
		if !ok || next == nil {
			return nil, false
		}
		if cast := c.casts[i]; cast != nil && !next.typ.IsSubclassOf(cast) {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Value implements PropertyPath.
func (c *PropertyChain) Value(e *Entity) any {
	target, ok := c.LastTarget(e)
	if !ok {
		return Undefined
	}
	return c.LastProperty().Value(target)
}

// IsInited implements PropertyPath.
func (c *PropertyChain) IsInited(e *Entity) bool {
	target, ok := c.LastTarget(e)
	return ok && c.LastProperty().IsInited(target)
}

// OnChanged subscribes h to changes of any hop. The handler receives the root
// entity of the chain in args.Entity, or nil for static chains.
func (c *PropertyChain) OnChanged(h ChangeHandler) {
	for i, p := range c.props {
		hop := i
		p.OnChanged(func(args *PropertyChange) {
			for _, root := range c.roots(hop, args.Entity) {
				copied := *args
				copied.Entity = root
				h(&copied)
			}
		})
	}
}

// roots returns the chain roots whose first hop hops reach changed.
func (c *PropertyChain) roots(hop int, changed *Entity) []*Entity {
	if c.static {
		if hop == 0 {
			return []*Entity{nil}
		}
		if target, ok := c.walk(nil, hop); ok && target == changed {
			return []*Entity{nil}
		}
		return nil
	}
	if changed == nil {
		return nil
	}
	if hop == 0 {
		if changed.typ.IsSubclassOf(c.root) {
			return []*Entity{changed}
		}
		return nil
	}
	var out []*Entity
	for _, r := range c.root.Known() {
		if target, ok := c.walk(r, hop); ok && target == changed {
			out = append(out, r)
		}
	}
	return out
}

// Property resolves path against root and returns the compiled Property or
// PropertyChain, caching chains per root and path. A path whose leading steps name a
// type followed by one of its static properties resolves statically and ignores root.
func (m *Model) Property(root *Type, path string) (PropertyPath, error) {
	tokens, err := ParsePathTokens(path)
	if err != nil {
		return nil, err
	}
	key := tokens.String()
	if root != nil {
		key = root.name + "|" + key
	}
	m.mu.RLock()
	cached, ok := m.chains[key]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	steps := tokens.Steps
	cur, static := root, false
	if t, n := m.staticPrefix(steps); t != nil {
		cur, static, steps = t, true, steps[n:]
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: no root type for %q", ErrTypeNotFound, path)
	}

	chain := &PropertyChain{root: cur, path: tokens.String(), static: static}
	for i, step := range steps {
		p := cur.Property(step.Property)
		if p == nil {
			return nil, fmt.Errorf("%w: %s.%s", ErrPropertyNotFound, cur.name, step.Property)
		}
		last := i == len(steps)-1
		var next *Type
		if !last {
			if p.isList {
				return nil, fmt.Errorf("%w: list %s must be the last step of %q", ErrInvalidPath, p, path)
			}
			if p.IsValueType() {
				return nil, fmt.Errorf("%w: value property %s has no members in %q", ErrInvalidPath, p, path)
			}
			next = m.Type(p.typ)
			if step.Cast != "" {
				next = m.Type(step.Cast)
			}
			if next == nil {
				return nil, fmt.Errorf("%w: %s in %q", ErrTypeNotFound, p.typ, path)
			}
		}
		var cast *Type
		if step.Cast != "" {
			cast = next
		}
		chain.props = append(chain.props, p)
		chain.casts = append(chain.casts, cast)
		cur = next
	}

	var out PropertyPath = chain
	if len(chain.props) == 1 {
		out = chain.props[0]
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.chains[key]; ok {
		return cached, nil
	}
	m.chains[key] = out
	return out, nil
}

// staticPrefix looks for the longest run of leading steps naming a type whose next
// step is a static property of it.
func (m *Model) staticPrefix(steps []PathStep) (*Type, int) {
	for n := len(steps) - 1; n > 0; n-- {
		names := make([]string, n)
		for i := 0; i < n; i++ {
			if steps[i].Cast != "" {
				return nil, 0
			}
			names[i] = steps[i].Property
		}
		t := m.Type(strings.Join(names, "."))
		if t == nil {
			continue
		}
		if p := t.Property(steps[n].Property); p != nil && p.isStatic {
			return t, n
		}
	}
	return nil, 0
}
