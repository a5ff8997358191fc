// Package rule implements the declarative rule engine: rules bound to a root type
// that run when instances initialize, when predicate paths change, or when a
// calculated property they return is read.
package rule

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/localnerve/jam-build-entitygraph/internal/model"
)

var (
	// ErrRuleRegistered is raised when a registered rule is reconfigured.
	ErrRuleRegistered = errors.New("rule: already registered")
	// ErrMissingFunction is returned when a rule has nothing to execute.
	ErrMissingFunction = errors.New("rule: missing evaluation function")
)

// Invocation is the set of triggers a rule runs on.
type Invocation int

const (
	InitNew Invocation = 1 << iota
	InitExisting
	PropertyChanged
	PropertyGet
)

// Init runs a rule for new and existing instances.
const Init = InitNew | InitExisting

func (i Invocation) String() string {
	var parts []string
	for _, f := range []struct {
		flag Invocation
		name string
	}{{InitNew, "InitNew"}, {InitExisting, "InitExisting"}, {PropertyChanged, "PropertyChanged"}, {PropertyGet, "PropertyGet"}} {
		if i&f.flag != 0 {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, "|")
}

// ExecuteFunc is the body of a rule, run for one instance of the root type.
type ExecuteFunc func(e *model.Entity) error

type pathRequest struct {
	path string
	cb   func(model.PropertyPath) error
}

type options struct {
	predicates []string
	returns    []string
	paths      []pathRequest
}

// Rule is a behavior registered against a root type.
type Rule struct {
	root       *model.Type
	name       string
	exec       ExecuteFunc
	invocation Invocation
	opts       *options

	predicates []model.PropertyPath
	returns    []*model.Property
	waiting    int
	active     bool
	executing  map[*model.Entity]bool
	logger     *slog.Logger
}

// New returns an unregistered rule. Configure it with the builder methods, then
// call Register.
func New(root *model.Type, name string, exec ExecuteFunc) *Rule {
	return &Rule{
		root:      root,
		name:      name,
		exec:      exec,
		opts:      &options{},
		executing: make(map[*model.Entity]bool),
		logger:    root.Model().Logger().With("rule", name),
	}
}

// Name returns the rule name.
func (r *Rule) Name() string { return r.name }

// RootType returns the type the rule is bound to.
func (r *Rule) RootType() *model.Type { return r.root }

// Invocation returns the trigger mask.
func (r *Rule) Invocation() Invocation { return r.invocation }

// IsRegistered reports whether Register has been called.
func (r *Rule) IsRegistered() bool { return r.opts == nil }

// IsActive reports whether every path resolved and the rule is subscribed.
func (r *Rule) IsActive() bool { return r.active }

// Predicates returns the resolved predicate paths.
func (r *Rule) Predicates() []model.PropertyPath {
	return append([]model.PropertyPath(nil), r.predicates...)
}

// ReturnProperties returns the resolved properties the rule calculates.
func (r *Rule) ReturnProperties() []*model.Property {
	return append([]*model.Property(nil), r.returns...)
}

func (r *Rule) configurable() *options {
	if r.opts == nil {
		panic(fmt.Errorf("%w: %s", ErrRuleRegistered, r.name))
	}
	return r.opts
}

// OnInitNew runs the rule when new instances are created.
func (r *Rule) OnInitNew() *Rule {
	r.configurable()
	r.invocation |= InitNew
	return r
}

// OnInitExisting runs the rule when persisted instances are loaded.
func (r *Rule) OnInitExisting() *Rule {
	r.configurable()
	r.invocation |= InitExisting
	return r
}

// OnInit runs the rule for both new and persisted instances.
func (r *Rule) OnInit() *Rule {
	r.configurable()
	r.invocation |= Init
	return r
}

// OnChangeOf adds predicate paths. Unless the rule returns calculated properties it
// runs whenever one of them changes.
func (r *Rule) OnChangeOf(paths ...string) *Rule {
	o := r.configurable()
	o.predicates = append(o.predicates, paths...)
	if r.invocation&PropertyGet == 0 {
		r.invocation |= PropertyChanged
	}
	return r
}

// Returns declares the properties the rule calculates. Such rules run lazily when the
// property is read, so PropertyChanged is replaced by PropertyGet.
func (r *Rule) Returns(props ...string) *Rule {
	o := r.configurable()
	o.returns = append(o.returns, props...)
	r.invocation = (r.invocation &^ PropertyChanged) | PropertyGet
	return r
}

// resolve asks for path to be resolved before the rule activates.
func (r *Rule) resolve(path string, cb func(model.PropertyPath) error) {
	o := r.configurable()
	o.paths = append(o.paths, pathRequest{path: path, cb: cb})
}

// Register freezes the configuration, resolves every path and subscribes the rule.
// Paths naming types or properties that do not exist yet resolve once they are
// added, and the rule activates then.
func (r *Rule) Register() error {
	if r.opts == nil {
		return fmt.Errorf("%w: %s", ErrRuleRegistered, r.name)
	}
	if r.exec == nil {
		return fmt.Errorf("%w: %s", ErrMissingFunction, r.name)
	}
	o := r.opts
	r.opts = nil

	m := r.root.Model()
	var requests []pathRequest
	for _, p := range o.predicates {
		requests = append(requests, pathRequest{path: p, cb: func(pp model.PropertyPath) error {
			r.predicates = append(r.predicates, pp)
			return nil
		}})
	}
	for _, p := range o.returns {
		requests = append(requests, pathRequest{path: p, cb: func(pp model.PropertyPath) error {
			prop, ok := pp.(*model.Property)
			if !ok {
				return fmt.Errorf("%w: %s returns the chain %s", model.ErrInvalidPath, r.name, pp.Path())
			}
			r.returns = append(r.returns, prop)
			return nil
		}})
	}
	requests = append(requests, o.paths...)

	r.waiting = len(requests)
	if r.waiting == 0 {
		r.activate()
		return nil
	}
	for _, req := range requests {
		err := m.WhenPropertyAvailable(r.root, req.path, func(pp model.PropertyPath) {
			if err := req.cb(pp); err != nil {
				r.logger.Error("rule path rejected", "path", req.path, "err", err)
				return
			}
			r.waiting--
			if r.waiting == 0 {
				r.activate()
			}
		})
		if err != nil {
			return fmt.Errorf("rule %s: %w", r.name, err)
		}
	}
	return nil
}

func (r *Rule) activate() {
	r.active = true
	r.root.AddRule(r)
	if r.invocation&InitNew != 0 {
		r.root.OnInitNew(func(e *model.Entity) { r.Execute(e) })
	}
	if r.invocation&InitExisting != 0 {
		r.root.OnInitExisting(func(e *model.Entity) { r.Execute(e) })
	}
	switch {
	case r.invocation&PropertyGet != 0:
		for _, p := range r.returns {
			p.SetCalculated(true)
			p.OnGet(r.onGet)
		}
		for _, pred := range r.predicates {
			pred.OnChanged(r.markPending)
		}
	case r.invocation&PropertyChanged != 0:
		for _, pred := range r.predicates {
			pred.OnChanged(r.onPredicateChanged)
		}
	}
}

func (r *Rule) applies(e *model.Entity) bool {
	return e != nil && e.IsRegistered() && e.Type().IsSubclassOf(r.root)
}

// targets returns the instances a predicate change applies to. Static predicates
// report no entity and apply to every known instance.
func (r *Rule) targets(e *model.Entity) []*model.Entity {
	if e == nil {
		return r.root.Known()
	}
	if !r.applies(e) {
		return nil
	}
	return []*model.Entity{e}
}

func (r *Rule) onPredicateChanged(args *model.PropertyChange) {
	for _, e := range r.targets(args.Entity) {
		r.Execute(e)
	}
}

func (r *Rule) markPending(args *model.PropertyChange) {
	provider := r.root.Model().Observer()
	for _, e := range r.targets(args.Entity) {
		eager := false
		for _, p := range r.returns {
			p.SetPendingInit(e, true)
			if provider.HasPropertySubscribers(e, p.Name()) {
				eager = true
			}
		}
		if eager {
			r.Execute(e)
		}
	}
}

func (r *Rule) onGet(e *model.Entity, p *model.Property) {
	if !r.applies(e) || r.executing[e] {
		return
	}
	if p.PendingInit(e) || !p.IsInited(e) {
		r.Execute(e)
	}
}

// Execute runs the rule for e inside a validation scope. Instances that are not of
// the root type are ignored.
func (r *Rule) Execute(e *model.Entity) {
	if !r.applies(e) || r.executing[e] {
		return
	}
	r.executing[e] = true
	m := r.root.Model()
	m.BeginValidation()
	defer func() {
		delete(r.executing, e)
		m.EndValidation()
	}()
	for _, p := range r.returns {
		p.SetPendingInit(e, false)
	}
	if err := r.exec(e); err != nil {
		r.logger.Warn("rule failed", "type", e.Type().Name(), "id", e.ID(), "err", err)
	}
}
