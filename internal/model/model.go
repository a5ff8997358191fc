// Package model implements the in-memory entity graph: types and their properties,
// multi-hop property paths, entities with identity pools, observable lists and the
// conditions attached to entities.
//
// A Model is not safe for concurrent mutation. Callers that fetch data on other
// goroutines join that work before applying it to the graph.
package model

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/localnerve/jam-build-entitygraph/internal/observer"
)

// ObjectHandler receives entity lifecycle notifications.
type ObjectHandler func(e *Entity)

// UnregisterHandler is consulted before an entity leaves its pools. A non-nil
// error vetoes the unregistration.
type UnregisterHandler func(e *Entity) error

// ChangeHandler receives property and list change notifications.
type ChangeHandler func(args *PropertyChange)

// ConditionHandler receives condition attach and detach notifications.
type ConditionHandler func(c *Condition, added bool)

// TypeHandler receives type registration notifications.
type TypeHandler func(t *Type)

// Option configures a Model.
type Option func(*Model)

// WithObserver sets the observable provider notifications are raised through.
func WithObserver(p observer.Provider) Option {
	return func(m *Model) { m.provider = p }
}

// WithLogger sets the logger used for model diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(m *Model) { m.logger = l }
}

type pendingPath struct {
	root *Type
	path string
	cb   func(PropertyPath)
}

// Model is the registry of types, condition types and compiled property paths.
type Model struct {
	mu             sync.RWMutex
	types          map[string]*Type
	typeOrder      []*Type
	conditionTypes map[string]*ConditionType
	chains         map[string]PropertyPath
	formats        map[string]Format
	pending        []pendingPath

	provider observer.Provider
	logger   *slog.Logger

	batchDepth      int
	batchQueue      []func()
	validationDepth int
	validationQueue []func()
	applyingDepth   int

	propertyChanged   []ChangeHandler
	registered        []ObjectHandler
	unregistered      []UnregisterHandler
	conditionsChanged []ConditionHandler
	typeAdded         []TypeHandler
}

// New returns an empty model.
func New(opts ...Option) *Model {
	m := &Model{}
	m.init()
	for _, opt := range opts {
		opt(m)
	}
	if m.provider == nil {
		m.provider = observer.New()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

func (m *Model) init() {
	m.types = make(map[string]*Type)
	m.typeOrder = nil
	m.conditionTypes = make(map[string]*ConditionType)
	m.chains = make(map[string]PropertyPath)
	m.formats = make(map[string]Format)
	m.pending = nil
	m.batchDepth, m.batchQueue = 0, nil
	m.validationDepth, m.validationQueue = 0, nil
	m.applyingDepth = 0
	m.propertyChanged = nil
	m.registered = nil
	m.unregistered = nil
	m.conditionsChanged = nil
	m.typeAdded = nil
}

// Reset discards every type, condition type, handler and cached path. It exists
// for tests that reuse one model.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
}

// Observer returns the observable provider.
func (m *Model) Observer() observer.Provider { return m.provider }

// SetObserverProvider replaces the observable provider.
func (m *Model) SetObserverProvider(p observer.Provider) { m.provider = p }

// Logger returns the model logger.
func (m *Model) Logger() *slog.Logger { return m.logger }

// AddType registers a new type. base may be nil.
func (m *Model) AddType(name string, base *Type, origin Origin) (*Type, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty type name", ErrInvalidPath)
	}
	m.mu.Lock()
	if _, ok := m.types[name]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateType, name)
	}
	t := newType(m, name, base, origin)
	m.types[name] = t
	m.typeOrder = append(m.typeOrder, t)
	handlers := m.typeAdded
	m.mu.Unlock()

	if base != nil {
		base.derived = append(base.derived, t)
	}
	for _, h := range handlers {
		h(t)
	}
	m.retryPending()
	return t, nil
}

// Type returns the named type or nil.
func (m *Model) Type(name string) *Type {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.types[name]
}

// MustType returns the named type or ErrTypeNotFound.
func (m *Model) MustType(name string) (*Type, error) {
	if t := m.Type(name); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTypeNotFound, name)
}

// Types returns every registered type in registration order.
func (m *Model) Types() []*Type {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Type(nil), m.typeOrder...)
}

// OnTypeAdded subscribes h to type registrations.
func (m *Model) OnTypeAdded(h TypeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typeAdded = append(m.typeAdded, h)
}

// OnPropertyChanged subscribes h to every property and list change in the model.
func (m *Model) OnPropertyChanged(h ChangeHandler) {
	m.propertyChanged = append(m.propertyChanged, h)
}

// OnObjectRegistered subscribes h to entity registrations.
func (m *Model) OnObjectRegistered(h ObjectHandler) {
	m.registered = append(m.registered, h)
}

// OnObjectUnregistered subscribes h to entity unregistrations.
func (m *Model) OnObjectUnregistered(h UnregisterHandler) {
	m.unregistered = append(m.unregistered, h)
}

// OnConditionsChanged subscribes h to condition changes on any entity.
func (m *Model) OnConditionsChanged(h ConditionHandler) {
	m.conditionsChanged = append(m.conditionsChanged, h)
}

// BeginBatch defers event delivery until the matching EndBatch.
func (m *Model) BeginBatch() {
	m.batchDepth++
}

// EndBatch closes a batch and, once the outermost batch ends, delivers queued events
// in the order they were raised.
func (m *Model) EndBatch() {
	if m.batchDepth == 0 {
		return
	}
	m.batchDepth--
	if m.batchDepth > 0 {
		return
	}
	for len(m.batchQueue) > 0 {
		queue := m.batchQueue
		m.batchQueue = nil
		for _, fn := range queue {
			fn()
		}
	}
}

// InBatch reports whether a batch is open.
func (m *Model) InBatch() bool { return m.batchDepth > 0 }

func (m *Model) raise(fn func()) {
	if m.batchDepth > 0 {
		m.batchQueue = append(m.batchQueue, fn)
		return
	}
	fn()
}

// BeginValidation opens a validation scope. Condition notifications raised inside
// the scope are delivered once the outermost scope ends.
func (m *Model) BeginValidation() {
	m.validationDepth++
}

// EndValidation closes a validation scope.
func (m *Model) EndValidation() {
	if m.validationDepth == 0 {
		return
	}
	m.validationDepth--
	if m.validationDepth > 0 {
		return
	}
	queue := m.validationQueue
	m.validationQueue = nil
	for _, fn := range queue {
		fn()
	}
}

// IsValidating reports whether a validation scope is open.
func (m *Model) IsValidating() bool { return m.validationDepth > 0 }

// Applying runs fn with the applying flag set. Changes raised while it is set are
// marked as originating from server data rather than from local edits.
func (m *Model) Applying(fn func() error) error {
	m.applyingDepth++
	defer func() { m.applyingDepth-- }()
	return fn()
}

// IsApplying reports whether server data is being applied.
func (m *Model) IsApplying() bool { return m.applyingDepth > 0 }

// WhenPropertyAvailable resolves path against root and passes it to cb, immediately
// when possible or later once the missing types or properties have been added.
func (m *Model) WhenPropertyAvailable(root *Type, path string, cb func(PropertyPath)) error {
	p, err := m.Property(root, path)
	if err == nil {
		cb(p)
		return nil
	}
	if !errors.Is(err, ErrTypeNotFound) && !errors.Is(err, ErrPropertyNotFound) {
		return err
	}
	m.mu.Lock()
	m.pending = append(m.pending, pendingPath{root: root, path: path, cb: cb})
	m.mu.Unlock()
	return nil
}

// PendingPaths returns the number of paths still waiting to resolve.
func (m *Model) PendingPaths() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}

func (m *Model) retryPending() {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	var still []pendingPath
	for _, pp := range pending {
		p, err := m.Property(pp.root, pp.path)
		if err != nil {
			still = append(still, pp)
			continue
		}
		pp.cb(p)
	}
	if len(still) > 0 {
		m.mu.Lock()
		m.pending = append(still, m.pending...)
		m.mu.Unlock()
	}
}

func (m *Model) notifyChanged(args *PropertyChange) {
	m.raise(func() {
		for _, h := range args.Property.changed {
			h(args)
		}
		for _, h := range m.propertyChanged {
			h(args)
		}
		var target any = args.Entity
		if args.Entity == nil {
			target = args.Property.declaringType
		}
		m.provider.RaisePropertyChanged(target, args.Property.name)
	})
}

func (m *Model) notifyRegistered(e *Entity) {
	m.raise(func() {
		for _, h := range m.registered {
			h(e)
		}
	})
}

func (m *Model) notifyCondition(c *Condition, added bool) {
	fn := func() {
		for _, h := range m.conditionsChanged {
			h(c, added)
		}
	}
	if m.validationDepth > 0 {
		m.validationQueue = append(m.validationQueue, fn)
		return
	}
	m.raise(fn)
}
