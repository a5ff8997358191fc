// Package observer provides the observable primitives the entity graph raises its
// notifications through. The Provider interface is a seam: hosts may plug in their
// own implementation, the default one keeps subscriptions in memory.
package observer

import (
	"sync"
)

// ChangeAction identifies the kind of a collection change.
type ChangeAction int

const (
	// Add means items were inserted.
	Add ChangeAction = iota
	// Remove means items were removed.
	Remove
	// Reset means the collection was cleared or replaced wholesale.
	Reset
)

func (a ChangeAction) String() string {
	switch a {
	case Add:
		return "add"
	case Remove:
		return "remove"
	default:
		return "reset"
	}
}

// CollectionChange describes one mutation of an observable collection.
type CollectionChange struct {
	Action        ChangeAction
	NewItems      []any
	NewStartIndex int
	OldItems      []any
	OldStartIndex int
}

// PropertyChangedHandler is invoked after a property of target changed.
type PropertyChangedHandler func(target any, property string)

// CollectionChangedHandler is invoked after a collection changed.
type CollectionChangedHandler func(collection any, changes []CollectionChange)

// Subscription identifies a registered handler so it can be removed again.
type Subscription struct {
	id     uint64
	target any
	prop   string
}

// Setter is implemented by targets that know how to assign their own properties.
type Setter interface {
	Set(property string, value any) error
}

// Provider is the observable contract consumed by the model.
type Provider interface {
	MakeObservable(target any)
	AddPropertyChanged(target any, property string, h PropertyChangedHandler) Subscription
	RemovePropertyChanged(sub Subscription)
	RaisePropertyChanged(target any, property string)
	HasPropertySubscribers(target any, property string) bool
	AddCollectionChanged(target any, h CollectionChangedHandler) Subscription
	RemoveCollectionChanged(sub Subscription)
	RaiseCollectionChanged(target any, changes []CollectionChange)
	SetValue(target any, property string, value any) error
}

type propHandler struct {
	id   uint64
	prop string
	fn   PropertyChangedHandler
}

type collHandler struct {
	id uint64
	fn CollectionChangedHandler
}

type observable struct {
	props []propHandler
	colls []collHandler
}

// Observer is the default in-memory Provider. Handlers run synchronously on the
// goroutine that raised the notification.
type Observer struct {
	mu      sync.Mutex
	nextID  uint64
	targets map[any]*observable
}

// New returns an empty Observer.
func New() *Observer {
	return &Observer{targets: make(map[any]*observable)}
}

func (o *Observer) get(target any, create bool) *observable {
	obs, ok := o.targets[target]
	if !ok && create {
		obs = &observable{}
		o.targets[target] = obs
	}
	return obs
}

// MakeObservable prepares target for subscriptions.
func (o *Observer) MakeObservable(target any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.get(target, true)
}

// AddPropertyChanged subscribes h to changes of property on target. An empty
// property subscribes to every property.
func (o *Observer) AddPropertyChanged(target any, property string, h PropertyChangedHandler) Subscription {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	obs := o.get(target, true)
	obs.props = append(obs.props, propHandler{id: o.nextID, prop: property, fn: h})
	return Subscription{id: o.nextID, target: target, prop: property}
}

// RemovePropertyChanged removes a subscription made with AddPropertyChanged.
func (o *Observer) RemovePropertyChanged(sub Subscription) {
	o.mu.Lock()
	defer o.mu.Unlock()
	obs := o.get(sub.target, false)
	if obs == nil {
		return
	}
	for i, h := range obs.props {
		if h.id == sub.id {
			obs.props = append(obs.props[:i:i], obs.props[i+1:]...)
			break
		}
	}
	o.compact(sub.target, obs)
}

// RaisePropertyChanged notifies subscribers of property on target.
func (o *Observer) RaisePropertyChanged(target any, property string) {
	o.mu.Lock()
	obs := o.get(target, false)
	var fns []PropertyChangedHandler
	if obs != nil {
		for _, h := range obs.props {
			if h.prop == "" || h.prop == property {
				fns = append(fns, h.fn)
			}
		}
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(target, property)
	}
}

// HasPropertySubscribers reports whether anything listens to property on target.
func (o *Observer) HasPropertySubscribers(target any, property string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	obs := o.get(target, false)
	if obs == nil {
		return false
	}
	for _, h := range obs.props {
		if h.prop == property {
			return true
		}
	}
	return false
}

// AddCollectionChanged subscribes h to changes of the collection target.
func (o *Observer) AddCollectionChanged(target any, h CollectionChangedHandler) Subscription {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	obs := o.get(target, true)
	obs.colls = append(obs.colls, collHandler{id: o.nextID, fn: h})
	return Subscription{id: o.nextID, target: target}
}

// RemoveCollectionChanged removes a subscription made with AddCollectionChanged.
func (o *Observer) RemoveCollectionChanged(sub Subscription) {
	o.mu.Lock()
	defer o.mu.Unlock()
	obs := o.get(sub.target, false)
	if obs == nil {
		return
	}
	for i, h := range obs.colls {
		if h.id == sub.id {
			obs.colls = append(obs.colls[:i:i], obs.colls[i+1:]...)
			break
		}
	}
	o.compact(sub.target, obs)
}

// RaiseCollectionChanged notifies collection subscribers of target.
func (o *Observer) RaiseCollectionChanged(target any, changes []CollectionChange) {
	o.mu.Lock()
	obs := o.get(target, false)
	var fns []CollectionChangedHandler
	if obs != nil {
		for _, h := range obs.colls {
			fns = append(fns, h.fn)
		}
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(target, changes)
	}
}

// SetValue assigns property on target through its Setter implementation.
func (o *Observer) SetValue(target any, property string, value any) error {
	s, ok := target.(Setter)
	if !ok {
		return &UnsupportedTargetError{Target: target}
	}
	return s.Set(property, value)
}

func (o *Observer) compact(target any, obs *observable) {
	if len(obs.props) == 0 && len(obs.colls) == 0 {
		delete(o.targets, target)
	}
}
