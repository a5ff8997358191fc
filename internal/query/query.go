// Package query materializes a declarative set of named instance queries into the
// entity graph, fetching what embedded data does not cover.
package query

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/localnerve/jam-build-entitygraph/internal/lazy"
	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/serversync"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

// ErrInvalidQuery is returned for malformed query specifications.
var ErrInvalidQuery = errors.New("invalid query")

// NewID as the ID of a Spec creates a new instance instead of looking one up.
const NewID = "$new"

// Spec names the instances bound to one query variable.
type Spec struct {
	From    string   `json:"from" yaml:"from"`
	ID      string   `json:"id,omitempty" yaml:"id,omitempty"`
	IDs     []string `json:"ids,omitempty" yaml:"ids,omitempty"`
	Include []string `json:"include,omitempty" yaml:"include,omitempty"`
	// InScope refreshes the instances with every submit.
	InScope bool `json:"inScope,omitempty" yaml:"inScope,omitempty"`
	// Load fetches instances missing from the embedded data now. Otherwise they are
	// registered unloaded and fetched on first access.
	Load bool `json:"load,omitempty" yaml:"load,omitempty"`
}

// Config is the input of Execute.
type Config struct {
	Model map[string]Spec
	// Instances, Statics and Conditions are embedded data applied without a request.
	Instances  transport.Instances
	Statics    map[string]transport.Properties
	Conditions []transport.ConditionData
	// Changes are applied after the instances are materialized.
	Changes []transport.Change
	// StaticPaths name static properties to fetch, as Type.Property.
	StaticPaths []string
}

// Option configures a Query.
type Option func(*Query)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Query) { q.logger = l }
}

// WithBatch turns batched fetching of several variables in one request on or off.
func WithBatch(enabled bool) Option {
	return func(q *Query) { q.batch = enabled }
}

// WithSync sends pending changes along with fetches, applies embedded changes and
// registers scope queries.
func WithSync(s *serversync.ServerSync) Option {
	return func(q *Query) { q.sync = s }
}

// Query runs query configurations against one graph.
type Query struct {
	mg     *lazy.Manager
	sync   *serversync.ServerSync
	batch  bool
	logger *slog.Logger
}

// New returns a Query over the graph and transport of mg. Batching is on by default.
func New(mg *lazy.Manager, opts ...Option) *Query {
	q := &Query{mg: mg, batch: true, logger: mg.Logger()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// variable is a normalized Spec.
type variable struct {
	name  string
	spec  Spec
	ids   []string
	isNew bool
	tree  *model.PathTree
	// fetching is set once a request for the variable has been issued.
	fetching bool
}

func (v *variable) objectQuery() transport.ObjectQuery {
	return transport.ObjectQuery{From: v.spec.From, IDs: v.ids, Include: v.spec.Include, InScope: v.spec.InScope}
}

func normalize(specs map[string]Spec) ([]*variable, error) {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	vars := make([]*variable, 0, len(names))
	for _, name := range names {
		spec := specs[name]
		if strings.TrimSpace(spec.From) == "" {
			return nil, fmt.Errorf("%w: %s has no from", ErrInvalidQuery, name)
		}
		if (spec.ID == "") == (len(spec.IDs) == 0) {
			return nil, fmt.Errorf("%w: %s needs exactly one of id and ids", ErrInvalidQuery, name)
		}
		v := &variable{name: name, spec: spec}
		switch {
		case spec.ID == NewID:
			v.isNew = true
		case spec.ID != "":
			v.ids = []string{spec.ID}
		default:
			for _, id := range spec.IDs {
				if id == "" || id == NewID {
					return nil, fmt.Errorf("%w: %s has id %q in ids", ErrInvalidQuery, name, id)
				}
			}
			v.ids = append([]string(nil), spec.IDs...)
		}
		tree, err := model.BuildPathTree(spec.Include)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, name, err)
		}
		v.tree = tree
		vars = append(vars, v)
	}
	return vars, nil
}

// Result holds the instances bound to each variable and the failures that were
// logged while running the pipeline.
type Result struct {
	vars   map[string][]*model.Entity
	Errors []error
}

// Entities returns the instances bound to name.
func (r *Result) Entities(name string) []*model.Entity { return r.vars[name] }

// Entity returns the first instance bound to name, or nil.
func (r *Result) Entity(name string) *model.Entity {
	if es := r.vars[name]; len(es) > 0 {
		return es[0]
	}
	return nil
}

// Vars returns the variable names in order.
func (r *Result) Vars() []string {
	names := make([]string, 0, len(r.vars))
	for name := range r.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Err joins the logged failures.
func (r *Result) Err() error { return errors.Join(r.Errors...) }
