package observer

import (
	"fmt"
)

// UnsupportedTargetError is returned by SetValue for targets that cannot be assigned.
type UnsupportedTargetError struct {
	Target any
}

func (e *UnsupportedTargetError) Error() string {
	return fmt.Sprintf("observer: target %T does not support SetValue", e.Target)
}

// Getter reads a named property from a target. Implementations return nil for
// targets that have no value at that hop.
type Getter func(target any, property string) any

// PathSubscription keeps the per-hop subscriptions of a path-changed handler.
type PathSubscription struct {
	provider Provider
	root     any
	path     []string
	get      Getter
	handler  func(root any)
	subs     []Subscription
}

// AddPathChanged subscribes handler to changes anywhere along path starting at root.
// When an intermediate hop changes the downstream subscriptions are rebuilt so the
// handler keeps tracking the current chain of targets.
func AddPathChanged(p Provider, root any, path []string, get Getter, handler func(root any)) *PathSubscription {
	ps := &PathSubscription{provider: p, root: root, path: path, get: get, handler: handler}
	ps.subscribe()
	return ps
}

// Remove drops every hop subscription.
func (ps *PathSubscription) Remove() {
	for _, s := range ps.subs {
		ps.provider.RemovePropertyChanged(s)
	}
	ps.subs = nil
}

func (ps *PathSubscription) subscribe() {
	target := ps.root
	for i, prop := range ps.path {
		if target == nil {
			return
		}
		last := i == len(ps.path)-1
		ps.subs = append(ps.subs, ps.provider.AddPropertyChanged(target, prop, func(any, string) {
			if !last {
				ps.Remove()
				ps.subscribe()
			}
			ps.handler(ps.root)
		}))
		if !last {
			target = ps.get(target, prop)
		}
	}
}
