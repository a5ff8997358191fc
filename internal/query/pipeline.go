package query

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/signal"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

// run is the state of one Execute call.
type run struct {
	q    *Query
	cfg  Config
	vars []*variable

	mu        sync.Mutex
	responses []*transport.Response
	result    *Result
}

// Execute materializes cfg. Every stage starts only once the work started by the
// previous stage is done. Failed fetches are logged and collected in the result; the
// returned error is reserved for invalid queries and a done ctx.
func (q *Query) Execute(ctx context.Context, cfg Config) (*Result, error) {
	m := q.mg.Model()
	m.BeginBatch()
	defer m.EndBatch()

	vars, err := normalize(cfg.Model)
	if err != nil {
		return nil, err
	}
	r := &run{q: q, cfg: cfg, vars: vars, result: &Result{vars: map[string][]*model.Entity{}}}

	stages := []struct {
		name string
		fn   func(ctx context.Context, sig *signal.Signal)
	}{
		{"embedded", r.embedded},
		{"batch", r.batchFetch},
		{"individual", r.individualFetch},
		{"static", r.staticFetch},
		{"types", r.typeFetch},
		{"materialize", r.materialize},
		{"scope", r.registerScope},
		{"lazy", r.registerLoaders},
	}
	for _, st := range stages {
		sig := signal.New(st.name)
		done := sig.Pending(nil)
		st.fn(ctx, sig)
		done()
		if err := sig.Wait(ctx); err != nil {
			return r.result, fmt.Errorf("query stage %s: %w", st.name, err)
		}
	}
	return r.result, nil
}

func (r *run) fail(err error, msg string, attrs ...any) {
	r.q.logger.Warn(msg, append(attrs, "err", err)...)
	r.mu.Lock()
	r.result.Errors = append(r.result.Errors, err)
	r.mu.Unlock()
}

// spawn runs fn on its own goroutine as pending work of sig.
func (r *run) spawn(ctx context.Context, sig *signal.Signal, fn func(ctx context.Context)) {
	done := sig.Pending(nil)
	go func() {
		defer done()
		fn(ctx)
	}()
}

func (r *run) keep(resp *transport.Response) {
	r.mu.Lock()
	r.responses = append(r.responses, resp)
	r.mu.Unlock()
}

// needsFetch reports whether v names persisted instances that neither the embedded
// data nor the graph already hold.
func (r *run) needsFetch(v *variable) bool {
	if v.isNew || v.fetching || !v.spec.Load || r.q.mg.Transport() == nil {
		return false
	}
	t := r.q.mg.Model().Type(v.spec.From)
	for _, id := range v.ids {
		if r.embeddedHas(v.spec.From, id) {
			continue
		}
		if t != nil {
			if e, err := t.Get(id, false); err == nil && e != nil && e.IsInitialized() {
				continue
			}
		}
		return true
	}
	return false
}

func (r *run) embeddedHas(typeName, id string) bool {
	m := r.q.mg.Model()
	want := m.Type(typeName)
	for name, byID := range r.cfg.Instances {
		if name != typeName {
			t := m.Type(name)
			if want == nil || t == nil || !(t.IsSubclassOf(want) || want.IsSubclassOf(t)) {
				continue
			}
		}
		for k := range byID {
			if strings.EqualFold(k, id) {
				return true
			}
		}
	}
	return false
}

// embedded queues the data delivered with the configuration.
func (r *run) embedded(_ context.Context, _ *signal.Signal) {
	if len(r.cfg.Instances) == 0 && len(r.cfg.Statics) == 0 && len(r.cfg.Conditions) == 0 {
		return
	}
	r.keep(&transport.Response{Instances: r.cfg.Instances, Statics: r.cfg.Statics, Conditions: r.cfg.Conditions})
}

func (r *run) pendingChanges() []transport.Change {
	if r.q.sync == nil {
		return nil
	}
	return r.q.sync.Pending()
}

func (r *run) fetch(ctx context.Context, sig *signal.Signal, vars []*variable) {
	queries := make([]transport.ObjectQuery, len(vars))
	names := make([]string, len(vars))
	for i, v := range vars {
		v.fetching = true
		queries[i] = v.objectQuery()
		names[i] = v.name
	}
	req := &transport.QueryRequest{Queries: queries, Changes: r.pendingChanges()}
	r.spawn(ctx, sig, func(ctx context.Context) {
		resp, err := r.q.mg.Transport().Query(ctx, req)
		if err != nil {
			r.fail(fmt.Errorf("fetch %s: %w", strings.Join(names, ","), err), "query fetch failed", "vars", names)
			return
		}
		r.keep(resp)
	})
}

// batchFetch fetches every variable needing server data in one request when batching
// is on and more than one variable needs it.
func (r *run) batchFetch(ctx context.Context, sig *signal.Signal) {
	if !r.q.batch {
		return
	}
	var vars []*variable
	for _, v := range r.vars {
		if r.needsFetch(v) {
			vars = append(vars, v)
		}
	}
	if len(vars) < 2 {
		return
	}
	r.fetch(ctx, sig, vars)
}

// individualFetch fetches the variables the batch did not cover, one request each.
func (r *run) individualFetch(ctx context.Context, sig *signal.Signal) {
	for _, v := range r.vars {
		if r.needsFetch(v) {
			r.fetch(ctx, sig, []*variable{v})
		}
	}
}

func (r *run) staticFetch(ctx context.Context, sig *signal.Signal) {
	for _, path := range r.cfg.StaticPaths {
		i := strings.LastIndexByte(path, '.')
		if i <= 0 || i == len(path)-1 {
			r.fail(fmt.Errorf("%w: static path %q", ErrInvalidQuery, path), "bad static path")
			continue
		}
		req := &transport.ListRequest{Type: path[:i], Property: path[i+1:]}
		r.spawn(ctx, sig, func(ctx context.Context) {
			resp, err := r.q.mg.Transport().List(ctx, req)
			if err != nil {
				r.fail(fmt.Errorf("fetch %s: %w", path, err), "static fetch failed", "path", path)
				return
			}
			r.keep(&transport.Response{Statics: resp.Statics, Instances: resp.Instances})
		})
	}
}

// typeFetch makes sure every type named by the queries, their include paths and the
// received data exists.
func (r *run) typeFetch(ctx context.Context, sig *signal.Signal) {
	if r.q.mg.Transport() == nil {
		return
	}
	types := r.q.mg.Types
	r.spawn(ctx, sig, func(ctx context.Context) {
		for _, v := range r.vars {
			if err := types.EnsurePath(ctx, v.spec.From, v.tree); err != nil {
				r.fail(err, "type fetch failed", "type", v.spec.From)
			}
		}
		r.mu.Lock()
		responses := append([]*transport.Response(nil), r.responses...)
		r.mu.Unlock()
		for _, resp := range responses {
			if err := types.EnsureResponse(ctx, resp); err != nil {
				r.fail(err, "type fetch failed")
			}
		}
		var names []string
		for _, c := range r.cfg.Changes {
			names = append(names, c.Instance.Type)
		}
		if err := types.Ensure(ctx, names...); err != nil {
			r.fail(err, "type fetch failed", "types", names)
		}
	})
}

// materialize applies the received data, creates new instances, binds the
// variables and applies embedded changes.
func (r *run) materialize(ctx context.Context, _ *signal.Signal) {
	mg := r.q.mg
	for _, resp := range r.responses {
		if err := mg.Materializer.ApplyResponse(resp); err != nil {
			r.fail(err, "materialize failed")
		}
	}
	m := mg.Model()
	for _, v := range r.vars {
		t := m.Type(v.spec.From)
		if t == nil {
			r.fail(fmt.Errorf("%w: %s", model.ErrTypeNotFound, v.spec.From), "unknown query type", "var", v.name)
			continue
		}
		if v.isNew {
			e, err := t.NewEntity()
			if err != nil {
				r.fail(err, "create failed", "var", v.name)
				continue
			}
			r.bind(v.name, e)
			continue
		}
		for _, id := range v.ids {
			e, err := t.Entity(id)
			if err != nil {
				r.fail(err, "bind failed", "var", v.name, "id", id)
				continue
			}
			if !e.IsNew() && !e.IsInitialized() {
				if v.spec.Load {
					r.fail(fmt.Errorf("%s: %w", e, model.ErrObjectNotFound), "instance missing from response", "var", v.name)
				}
				if !mg.IsRegistered(e) {
					mg.Objects.Register(e, v.spec.Include...)
				}
			}
			r.bind(v.name, e)
		}
	}
	if r.q.sync != nil && len(r.cfg.Changes) > 0 {
		if err := r.q.sync.ApplyChanges(ctx, r.cfg.Changes); err != nil {
			r.fail(err, "applying embedded changes failed")
		}
	}
}

func (r *run) bind(name string, e *model.Entity) {
	r.result.vars[name] = append(r.result.vars[name], e)
}

func (r *run) registerScope(_ context.Context, _ *signal.Signal) {
	if r.q.sync == nil {
		return
	}
	for _, v := range r.vars {
		if v.spec.InScope && !v.isNew {
			r.q.sync.AddScopeQuery(v.objectQuery())
		}
	}
}

// registerLoaders walks the include paths of every bound instance and registers
// loaders for lists and references that are not loaded yet.
func (r *run) registerLoaders(_ context.Context, _ *signal.Signal) {
	for _, v := range r.vars {
		for _, e := range r.result.vars[v.name] {
			r.walk(e, v.tree)
		}
	}
}

func (r *run) walk(e *model.Entity, tree *model.PathTree) {
	mg := r.q.mg
	if tree == nil || !e.IsInitialized() {
		return
	}
	for _, child := range tree.Children {
		p := e.Type().Property(child.Step.Property)
		if p == nil || p.IsStatic() || p.IsValueType() && !p.IsList() {
			continue
		}
		if p.IsList() {
			l, err := p.List(e)
			if err != nil {
				continue
			}
			if !p.IsInited(e) {
				if mg.ListLoading() && !mg.IsRegistered(l) {
					mg.Lists.Register(l, child.Paths()...)
				}
				continue
			}
			for _, item := range l.Entities() {
				r.walk(item, child)
			}
			continue
		}
		if !p.IsInited(e) {
			continue
		}
		ref, _ := p.Value(e).(*model.Entity)
		if ref == nil {
			continue
		}
		if !ref.IsNew() && !ref.IsInitialized() {
			if !mg.IsRegistered(ref) {
				mg.Objects.Register(ref, child.Paths()...)
			}
			continue
		}
		r.walk(ref, child)
	}
}
