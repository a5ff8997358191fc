package main

import (
	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/query"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

// graph is the printed form of a query result: the variables and every loaded
// instance reachable from them.
type graph struct {
	Vars      map[string][]ref                     `json:"vars"`
	Instances map[string]map[string]map[string]any `json:"instances"`
}

type ref struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func refOf(e *model.Entity) ref {
	return ref{Type: e.Type().Name(), ID: e.ID()}
}

func render(res *query.Result) *graph {
	g := &graph{Vars: map[string][]ref{}, Instances: map[string]map[string]map[string]any{}}
	var queue []*model.Entity
	for _, name := range res.Vars() {
		refs := []ref{}
		for _, e := range res.Entities(name) {
			refs = append(refs, refOf(e))
			queue = append(queue, e)
		}
		g.Vars[name] = refs
	}

	seen := map[*model.Entity]bool{}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		if seen[e] {
			continue
		}
		seen[e] = true
		props, next := renderEntity(e)
		byID, ok := g.Instances[e.Type().Name()]
		if !ok {
			byID = map[string]map[string]any{}
			g.Instances[e.Type().Name()] = byID
		}
		byID[e.ID()] = props
		queue = append(queue, next...)
	}
	return g
}

// renderEntity returns the loaded properties of e and the entities they reference.
// Properties that are not loaded are left out and lists that are not loaded are
// written as deferred.
func renderEntity(e *model.Entity) (map[string]any, []*model.Entity) {
	props := map[string]any{}
	var next []*model.Entity
	for _, p := range e.Type().Properties() {
		if p.IsStatic() {
			continue
		}
		v := p.Value(e)
		if model.IsUndefined(v) {
			continue
		}
		switch val := v.(type) {
		case *model.List:
			if !val.IsLoaded() {
				props[p.Name()] = []string{transport.DeferredMarker}
				continue
			}
			items := make([]any, 0, val.Len())
			for _, it := range val.Items() {
				if item, ok := it.(*model.Entity); ok {
					items = append(items, refOf(item))
					next = append(next, item)
					continue
				}
				items = append(items, it)
			}
			props[p.Name()] = items
		case *model.Entity:
			if val == nil {
				props[p.Name()] = nil
				continue
			}
			props[p.Name()] = refOf(val)
			next = append(next, val)
		default:
			props[p.Name()] = val
		}
	}
	return props, next
}
