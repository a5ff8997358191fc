package lazy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/observer"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

// ListLoader loads list properties that arrived deferred, on instances or as static
// lists of a type.
type ListLoader struct {
	mg *Manager
}

// Register attaches the loader to l. Until l is loaded it rejects modifications
// involving persisted instances. include lists paths relative to the item type.
func (ll *ListLoader) Register(l *model.List, include ...string) {
	ll.mg.Register(l, ll, include...)
	l.SetGuard(lazyListModified)
}

func lazyListModified(l *model.List, changes []observer.CollectionChange) error {
	for _, c := range changes {
		for _, items := range [][]any{c.NewItems, c.OldItems} {
			for _, it := range items {
				if e, ok := it.(*model.Entity); ok && !e.IsNew() {
					return fmt.Errorf("%w: %s on %s", ErrLazyListModified, e, listName(l))
				}
			}
		}
	}
	return nil
}

// AllowModification runs fn with the modification guard of l suspended.
func AllowModification(l *model.List, fn func() error) error {
	return l.Unguarded(fn)
}

func listName(l *model.List) string {
	if owner := l.Owner(); owner != nil {
		return owner.String() + "." + l.Property().Name()
	}
	return l.Property().String()
}

func (ll *ListLoader) list(target any, property string) (*model.List, error) {
	switch t := target.(type) {
	case *model.List:
		return t, nil
	case *model.Entity, *model.Type:
		e, p := propertyOf(t, property)
		if p == nil {
			return nil, fmt.Errorf("%w: %s", model.ErrPropertyNotFound, property)
		}
		return p.List(e)
	}
	return nil, fmt.Errorf("%w: list loader cannot load %T", model.ErrInvalidValue, target)
}

// Load implements Loader. target is the list itself, or its owning instance or type
// with property naming the list.
func (ll *ListLoader) Load(ctx context.Context, target any, property string) error {
	l, err := ll.list(target, property)
	if err != nil {
		return err
	}
	if !ll.mg.listLoading {
		return fmt.Errorf("%w: %s", ErrListLoadingDisabled, listName(l))
	}
	p := l.Property()
	typeName, id := p.DeclaringType().Name(), ""
	if owner := l.Owner(); owner != nil {
		typeName, id = owner.Type().Name(), owner.ID()
	}
	key := Key("list", typeName, strings.ToLower(id), p.Name())
	shared, err := ll.mg.group.Do(ctx, key, func(ctx context.Context) error {
		reg, ok := ll.mg.lookup(l)
		if !ok {
			return nil
		}
		resp, err := ll.mg.transport.List(ctx, &transport.ListRequest{
			Type:     typeName,
			ID:       id,
			Property: p.Name(),
			Include:  reg.include,
		})
		if err != nil {
			return fmt.Errorf("load %s: %w", listName(l), err)
		}
		if err := ll.mg.Types.EnsureResponse(ctx, resp); err != nil {
			return fmt.Errorf("load %s: %w", listName(l), err)
		}
		return ll.mg.Materializer.ApplyList(resp, l)
	})
	ll.mg.observe("list", shared, err)
	return err
}

// findList locates the value of list property p of owner in resp. Instance ids are
// matched without regard to case and the owner may be keyed under any type of its
// hierarchy.
func findList(m *model.Model, resp *transport.Response, owner *model.Entity, p *model.Property) (json.RawMessage, *transport.Ref, bool) {
	if owner == nil {
		raw, ok := resp.Statics[p.DeclaringType().Name()][p.Name()]
		return raw, nil, ok
	}
	for typeName, byID := range resp.Instances {
		t := m.Type(typeName)
		if t == nil || !(t.IsSubclassOf(owner.Type()) || owner.Type().IsSubclassOf(t)) {
			continue
		}
		for id, props := range byID {
			if !strings.EqualFold(id, owner.ID()) {
				continue
			}
			raw, ok := props[p.Name()]
			return raw, &transport.Ref{Type: typeName, ID: id}, ok
		}
	}
	return nil, nil, false
}
