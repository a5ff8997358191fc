// Package serversync records local changes to the entity graph, submits them to the
// entity service and applies the changes the service sends back.
package serversync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/localnerve/jam-build-entitygraph/internal/lazy"
	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

// ErrUnregisterPersisted is returned when a persisted instance is unregistered while
// changes are being captured. The change protocol has no deletion.
var ErrUnregisterPersisted = errors.New("persisted instances cannot be unregistered")

// Observer receives one call per captured change. The metrics package implements it.
type Observer interface {
	ObserveChange(kind string)
}

// Option configures a ServerSync.
type Option func(*ServerSync)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *ServerSync) { s.logger = l }
}

// WithCanSave limits the changes that are submitted and counted as pending.
func WithCanSave(f Filter) Option {
	return func(s *ServerSync) { s.canSave = f }
}

// WithObserver reports captured changes to o.
func WithObserver(o Observer) Option {
	return func(s *ServerSync) { s.observer = o }
}

// ServerSync captures graph mutations into a ChangeLog and reconciles the graph with
// the entity service. Like the graph, it must be used from one goroutine.
type ServerSync struct {
	mg       *lazy.Manager
	model    *model.Model
	log      *ChangeLog
	ids      *IDTranslator
	scope    []transport.ObjectQuery
	created  map[*model.Entity]bool
	canSave  Filter
	logger   *slog.Logger
	observer Observer
}

// New attaches change capture to the model of mg. Only one ServerSync should be
// attached to a model.
func New(mg *lazy.Manager, opts ...Option) *ServerSync {
	s := &ServerSync{
		mg:      mg,
		model:   mg.Model(),
		log:     NewChangeLog(),
		ids:     NewIDTranslator(),
		created: map[*model.Entity]bool{},
		logger:  mg.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log.Start(SourceClient)
	s.model.OnObjectRegistered(s.registered)
	s.model.OnObjectUnregistered(s.unregistered)
	s.model.OnPropertyChanged(s.propertyChanged)
	return s
}

// Log returns the change log.
func (s *ServerSync) Log() *ChangeLog { return s.log }

// IDs returns the id translator.
func (s *ServerSync) IDs() *IDTranslator { return s.ids }

// CanSave reports whether c would be submitted.
func (s *ServerSync) CanSave(c transport.Change) bool { return s.canSave.match(c) }

// Changes returns the logged changes selected by filter.
func (s *ServerSync) Changes(filter Filter) []transport.Change { return s.log.Changes(filter) }

// Pending returns the changes that the next Submit sends.
func (s *ServerSync) Pending() []transport.Change { return s.log.Changes(s.canSave) }

// HasChanges reports whether there are changes to submit.
func (s *ServerSync) HasChanges() bool { return s.log.Count(s.canSave) > 0 }

// AddScopeQuery adds q to the queries sent with every submit so the instances it
// names are refreshed from the answer.
func (s *ServerSync) AddScopeQuery(q transport.ObjectQuery) {
	q.InScope = true
	key := scopeKey(q)
	for _, existing := range s.scope {
		if scopeKey(existing) == key {
			return
		}
	}
	s.scope = append(s.scope, q)
}

// ScopeQueries returns the registered scope queries.
func (s *ServerSync) ScopeQueries() []transport.ObjectQuery {
	return append([]transport.ObjectQuery(nil), s.scope...)
}

func scopeKey(q transport.ObjectQuery) string {
	ids := make([]string, len(q.IDs))
	for i, id := range q.IDs {
		ids[i] = strings.ToLower(id)
	}
	sort.Strings(ids)
	include := append([]string(nil), q.Include...)
	sort.Strings(include)
	return q.From + "|" + strings.Join(ids, ",") + "|" + strings.Join(include, ",")
}

// Submit sends the pending changes and the scope queries to the entity service.
// Sent changes leave the log once the service accepted them; the answer's id
// changes, changes, instances and conditions are then applied to the graph.
func (s *ServerSync) Submit(ctx context.Context) (*transport.Response, error) {
	changes := s.Pending()
	queries := s.ScopeQueries()
	if len(changes) == 0 && len(queries) == 0 {
		return &transport.Response{}, nil
	}
	if changes == nil {
		changes = []transport.Change{}
	}
	s.log.Start(SourceClient)

	resp, err := s.mg.Transport().Submit(ctx, &transport.SubmitRequest{Changes: changes, Queries: queries})
	if err != nil {
		return nil, fmt.Errorf("submit %d changes: %w", len(changes), err)
	}
	n := len(changes)
	s.log.Truncate(func(c transport.Change) bool {
		if n > 0 && s.canSave.match(c) {
			n--
			return true
		}
		return false
	})
	s.logger.Debug("changes submitted", "changes", len(changes), "idChanges", len(resp.IDChanges))

	if err := s.mg.Apply(func() error { return s.applyIDChanges(resp.IDChanges) }); err != nil {
		return resp, err
	}
	if err := s.ApplyChanges(ctx, resp.Changes); err != nil {
		return resp, err
	}
	if err := s.mg.Types.EnsureResponse(ctx, resp); err != nil {
		return resp, err
	}
	if err := s.mg.Materializer.ApplyResponse(resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (s *ServerSync) applyIDChanges(changes []transport.IDChange) error {
	if len(changes) == 0 {
		return nil
	}
	var errs []error
	renamed := map[string]string{}
	for _, ic := range changes {
		t := s.model.Type(ic.Type)
		if t == nil {
			errs = append(errs, fmt.Errorf("%w: %s", model.ErrTypeNotFound, ic.Type))
			continue
		}
		root := rootName(t)
		if _, err := t.ChangeObjectID(ic.OldID, ic.NewID); err != nil {
			errs = append(errs, err)
			continue
		}
		s.ids.Add(root, ic.OldID, ic.NewID)
		renamed[translationKey(root, ic.OldID)] = ic.NewID
	}
	if len(renamed) > 0 {
		errs = append(errs, s.log.Rewrite(func(r *transport.InstanceRef) {
			t := s.model.Type(r.Type)
			if t == nil {
				return
			}
			if id, ok := renamed[translationKey(rootName(t), r.ID)]; ok {
				r.ID = id
				r.IsNew = false
			}
		}))
	}
	return errors.Join(errs...)
}

// Undo removes the most recent change from the log and reverts it in the graph. It
// returns nil when the log is empty.
func (s *ServerSync) Undo() (*transport.Change, error) {
	c, ok := s.log.Undo()
	if !ok {
		return nil, nil
	}
	if c.Type == transport.InitNew {
		e, err := s.lookup(c.Instance)
		if err != nil || e == nil {
			return &c, err
		}
		s.log.RemoveInstance(s.matches(e))
		return &c, s.mg.Apply(func() error { return e.Type().Unregister(e) })
	}
	inverse := c
	inverse.OldValue, inverse.NewValue = c.NewValue, c.OldValue
	inverse.Added, inverse.Removed = c.Removed, c.Added
	return &c, s.mg.Apply(func() error { return s.applyChange(inverse) })
}

func (s *ServerSync) record(c transport.Change) {
	s.log.Add(c)
	if s.observer != nil {
		s.observer.ObserveChange(string(c.Type))
	}
}

// registered records InitNew for instances created by client code. Registration
// events can be delivered after the apply that created the instance has returned,
// so instances created by ApplyChanges are remembered until their event arrives.
func (s *ServerSync) registered(e *model.Entity) {
	if s.created[e] {
		delete(s.created, e)
		return
	}
	if !e.IsNew() || s.model.IsApplying() {
		return
	}
	s.record(transport.Change{Type: transport.InitNew, Instance: instanceRef(e)})
}

func (s *ServerSync) unregistered(e *model.Entity) error {
	if s.model.IsApplying() {
		return nil
	}
	if !e.IsNew() {
		return fmt.Errorf("%w: %s", ErrUnregisterPersisted, e)
	}
	s.log.RemoveInstance(s.matches(e))
	return nil
}

func (s *ServerSync) propertyChanged(args *model.PropertyChange) {
	p, e := args.Property, args.Entity
	if args.Applying || e == nil || p.IsStatic() || !p.IsPersisted() || p.IsCalculated() {
		return
	}
	if p.IsList() && !args.CollectionChanged {
		return
	}
	c, ok, err := s.capture(args)
	if err != nil {
		s.logger.Warn("change not captured", "type", e.Type().Name(), "id", e.ID(), "property", p.Name(), "err", err)
		return
	}
	if ok {
		s.record(c)
	}
}

// matches returns a matcher for references to e, including references made under
// another type of its hierarchy.
func (s *ServerSync) matches(e *model.Entity) func(transport.InstanceRef) bool {
	root := rootName(e.Type())
	return func(r transport.InstanceRef) bool {
		t := s.model.Type(r.Type)
		return t != nil && rootName(t) == root && strings.EqualFold(r.ID, e.ID())
	}
}

func instanceRef(e *model.Entity) transport.InstanceRef {
	return transport.InstanceRef{Type: e.Type().Name(), ID: e.ID(), IsNew: e.IsNew()}
}

func rootName(t *model.Type) string {
	for t.BaseType() != nil {
		t = t.BaseType()
	}
	return t.Name()
}
