package model

import (
	"fmt"
)

// Category classifies a condition type.
type Category string

const (
	CategoryError      Category = "Error"
	CategoryWarning    Category = "Warning"
	CategoryPermission Category = "Permission"
)

// ConditionType is a kind of validation finding, unique per model by code.
type ConditionType struct {
	model    *Model
	code     string
	category Category
	message  string
	origin   Origin
	sets     []string
}

// Code returns the unique code.
func (ct *ConditionType) Code() string { return ct.code }

// Category returns the category.
func (ct *ConditionType) Category() Category { return ct.category }

// Message returns the default message.
func (ct *ConditionType) Message() string { return ct.message }

// Origin returns where the condition type was declared.
func (ct *ConditionType) Origin() Origin { return ct.origin }

// Sets returns the names of the condition sets the type belongs to.
func (ct *ConditionType) Sets() []string { return append([]string(nil), ct.sets...) }

// AddConditionType registers a new condition type.
func (m *Model) AddConditionType(code string, category Category, message string, origin Origin, sets ...string) (*ConditionType, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty condition type code", ErrInvalidValue)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conditionTypes[code]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateConditionType, code)
	}
	if origin == "" {
		origin = OriginClient
	}
	ct := &ConditionType{model: m, code: code, category: category, message: message, origin: origin, sets: sets}
	m.conditionTypes[code] = ct
	return ct, nil
}

// ConditionType returns the condition type registered as code, or nil.
func (m *Model) ConditionType(code string) *ConditionType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditionTypes[code]
}

// EnsureConditionType returns the condition type registered as code, registering it
// when it does not exist yet.
func (m *Model) EnsureConditionType(code string, category Category, message string, origin Origin) *ConditionType {
	if ct := m.ConditionType(code); ct != nil {
		return ct
	}
	ct, err := m.AddConditionType(code, category, message, origin)
	if err != nil {
		return m.ConditionType(code)
	}
	return ct
}

// ConditionTypes returns every registered condition type.
func (m *Model) ConditionTypes() []*ConditionType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ConditionType, 0, len(m.conditionTypes))
	for _, ct := range m.conditionTypes {
		out = append(out, ct)
	}
	return out
}

// When asserts or retracts the condition of type ct on target. While assert holds
// there is exactly one live condition per (ct, target). Re-asserting with the same
// message returns the existing condition; a different message replaces it. A false
// assert destroys the live condition and returns nil. An empty message falls back
// to the default message of ct.
func (ct *ConditionType) When(assert bool, target *Entity, props []*Property, message string) *Condition {
	return ct.when(assert, target, props, message, OriginClient)
}

// WhenServer is When for conditions reported by the server.
func (ct *ConditionType) WhenServer(assert bool, target *Entity, props []*Property, message string) *Condition {
	return ct.when(assert, target, props, message, OriginServer)
}

func (ct *ConditionType) when(assert bool, target *Entity, props []*Property, message string, origin Origin) *Condition {
	if message == "" {
		message = ct.message
	}
	existing := target.meta.conditions[ct]
	if !assert {
		if existing != nil {
			existing.Destroy()
		}
		return nil
	}
	if existing != nil {
		if existing.message == message {
			return existing
		}
		existing.Destroy()
	}
	c := &Condition{
		typ:        ct,
		message:    message,
		target:     target,
		properties: append([]*Property(nil), props...),
		origin:     origin,
	}
	target.meta.attach(c)
	ct.model.notifyCondition(c, true)
	return c
}

// Condition is a live attachment of a ConditionType to a target entity.
type Condition struct {
	typ        *ConditionType
	message    string
	target     *Entity
	properties []*Property
	origin     Origin
	destroyed  bool
}

func (c *Condition) String() string { return c.typ.code + ": " + c.message }

// Type returns the condition type.
func (c *Condition) Type() *ConditionType { return c.typ }

// Message returns the message.
func (c *Condition) Message() string { return c.message }

// Target returns the entity the condition is attached to.
func (c *Condition) Target() *Entity { return c.target }

// Properties returns the implicated properties.
func (c *Condition) Properties() []*Property { return append([]*Property(nil), c.properties...) }

// Origin returns whether the client or the server raised the condition.
func (c *Condition) Origin() Origin { return c.origin }

// IsDestroyed reports whether the condition has been detached.
func (c *Condition) IsDestroyed() bool { return c.destroyed }

// Destroy detaches the condition from its target.
func (c *Condition) Destroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.target.meta.detach(c)
	c.typ.model.notifyCondition(c, false)
}

func (c *Condition) implicates(props []*Property) bool {
	for _, want := range props {
		for _, p := range c.properties {
			if p == want {
				return true
			}
		}
	}
	return false
}
