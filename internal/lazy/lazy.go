// Package lazy loads entities, lists and type metadata on demand. Loaders are
// registered against the unloaded target; Load fetches through a transport, applies
// the answer to the graph and unregisters the loader.
//
// Concurrent loads of the same resource share one request. Loads may be started from
// several goroutines, but the graph is only written by the goroutine performing the
// fetch while the others wait, and writes of different loads are serialized.
package lazy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

var (
	// ErrListLoadingDisabled is returned when a list load is requested while list lazy
	// loading is turned off.
	ErrListLoadingDisabled = errors.New("lazy: list lazy loading is disabled")
	// ErrLazyListModified is returned when a list that has not been loaded yet is
	// modified with persisted instances.
	ErrLazyListModified = errors.New("lazy: unloaded list cannot be modified with persisted instances")
)

// Loader fetches the missing data of target. property optionally names the member the
// caller is about to read.
type Loader interface {
	Load(ctx context.Context, target any, property string) error
}

// Observer receives one call per load. shared is set when the load joined a request
// already in flight.
type Observer interface {
	ObserveLoad(kind string, shared bool, err error)
}

type registration struct {
	loader  Loader
	include []string
}

// Registry maps unloaded targets (entities, lists and types) to their loaders.
type Registry struct {
	mu      sync.Mutex
	entries map[any]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[any]registration)}
}

// Register attaches loader to target, replacing any previous loader. include lists
// paths, relative to target, to fetch together with it.
func (r *Registry) Register(target any, loader Loader, include ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[target] = registration{loader: loader, include: include}
}

// Unregister detaches the loader of target.
func (r *Registry) Unregister(target any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, target)
}

// IsRegistered reports whether target has a loader.
func (r *Registry) IsRegistered(target any) bool {
	_, ok := r.lookup(target)
	return ok
}

// Len returns the number of registered loaders.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) lookup(target any) (registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.entries[target]
	return reg, ok
}

// IsLoaded reports whether target, and when given its property, can be read without
// loading.
func (r *Registry) IsLoaded(target any, property string) bool {
	if r.IsRegistered(target) {
		return false
	}
	if property == "" {
		return true
	}
	e, p := propertyOf(target, property)
	if p == nil {
		return true
	}
	switch {
	case p.IsList():
		l, err := p.List(e)
		return err == nil && !r.IsRegistered(l) && l.IsLoaded()
	case p.IsValueType():
		return p.IsInited(e)
	}
	if !p.IsInited(e) {
		return false
	}
	ref, _ := p.Value(e).(*model.Entity)
	return ref == nil || !r.IsRegistered(ref)
}

// Load runs the loader of target, then the loader of the list or instance its
// property refers to. Targets without a loader are already loaded.
func (r *Registry) Load(ctx context.Context, target any, property string) error {
	if err := r.loadOne(ctx, target, property); err != nil {
		return err
	}
	if property == "" {
		return nil
	}
	e, p := propertyOf(target, property)
	if p == nil {
		return fmt.Errorf("%w: %s", model.ErrPropertyNotFound, property)
	}
	if p.IsList() {
		l, err := p.List(e)
		if err != nil {
			return err
		}
		return r.loadOne(ctx, l, "")
	}
	if p.IsValueType() {
		return nil
	}
	if ref, ok := p.Value(e).(*model.Entity); ok && ref != nil {
		return r.loadOne(ctx, ref, "")
	}
	return nil
}

func (r *Registry) loadOne(ctx context.Context, target any, property string) error {
	reg, ok := r.lookup(target)
	if !ok {
		return nil
	}
	return reg.loader.Load(ctx, target, property)
}

func propertyOf(target any, name string) (*model.Entity, *model.Property) {
	switch t := target.(type) {
	case *model.Entity:
		return t, t.Type().Property(name)
	case *model.Type:
		return nil, t.Property(name)
	}
	return nil, nil
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(mg *Manager) { mg.logger = l }
}

// WithListLoading turns list lazy loading on or off. It is on by default.
func WithListLoading(enabled bool) Option {
	return func(mg *Manager) { mg.listLoading = enabled }
}

// WithObserver reports every load to o.
func WithObserver(o Observer) Option {
	return func(mg *Manager) { mg.observer = o }
}

// Manager wires the loaders and the materializer to one model and transport.
type Manager struct {
	*Registry

	model       *model.Model
	transport   transport.Transport
	group       Group
	apply       sync.Mutex
	logger      *slog.Logger
	observer    Observer
	listLoading bool

	Objects      *ObjectLoader
	Lists        *ListLoader
	Types        *TypeLoader
	Materializer *Materializer
}

// New returns a manager loading into m through t.
func New(m *model.Model, t transport.Transport, opts ...Option) *Manager {
	mg := &Manager{
		Registry:    NewRegistry(),
		model:       m,
		transport:   t,
		logger:      m.Logger(),
		listLoading: true,
	}
	for _, opt := range opts {
		opt(mg)
	}
	mg.Objects = &ObjectLoader{mg: mg}
	mg.Lists = &ListLoader{mg: mg}
	mg.Types = &TypeLoader{mg: mg}
	mg.Materializer = &Materializer{mg: mg}
	return mg
}

// Model returns the model loads are applied to.
func (mg *Manager) Model() *model.Model { return mg.model }

// Transport returns the transport loads are fetched through.
func (mg *Manager) Transport() transport.Transport { return mg.transport }

// Logger returns the logger.
func (mg *Manager) Logger() *slog.Logger { return mg.logger }

// ListLoading reports whether list lazy loading is enabled.
func (mg *Manager) ListLoading() bool { return mg.listLoading }

func (mg *Manager) observe(kind string, shared bool, err error) {
	if mg.observer != nil {
		mg.observer.ObserveLoad(kind, shared, err)
	}
}

// Apply runs fn as one batch of server data: graph writes are serialized with the
// other loaders, changes are marked as applying and events are delivered when fn
// returns. Apply is not reentrant.
func (mg *Manager) Apply(fn func() error) error {
	mg.apply.Lock()
	defer mg.apply.Unlock()
	return mg.model.Applying(func() error {
		mg.model.BeginBatch()
		defer mg.model.EndBatch()
		return fn()
	})
}
