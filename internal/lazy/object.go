package lazy

import (
	"context"
	"fmt"
	"strings"

	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
	"github.com/localnerve/jam-build-entitygraph/internal/types"
)

// ObjectLoader loads instances that are referenced but whose data has not arrived.
type ObjectLoader struct {
	mg *Manager
}

// Register attaches the loader to e.
func (o *ObjectLoader) Register(e *model.Entity, include ...string) {
	o.mg.Register(e, o, include...)
}

// Load implements Loader for *model.Entity targets.
func (o *ObjectLoader) Load(ctx context.Context, target any, _ string) error {
	e, ok := target.(*model.Entity)
	if !ok {
		return fmt.Errorf("%w: object loader cannot load %T", model.ErrInvalidValue, target)
	}
	typeName, id := e.Type().Name(), e.ID()
	shared, err := o.mg.group.Do(ctx, Key("object", typeName, strings.ToLower(id)), func(ctx context.Context) error {
		reg, ok := o.mg.lookup(e)
		if !ok {
			return nil
		}
		resp, err := o.mg.transport.Query(ctx, &transport.QueryRequest{Queries: []transport.ObjectQuery{{
			From:    typeName,
			IDs:     types.IDList{id},
			Include: reg.include,
		}}})
		if err != nil {
			return fmt.Errorf("load %s: %w", e, err)
		}
		if err := o.mg.Types.EnsureResponse(ctx, resp); err != nil {
			return fmt.Errorf("load %s: %w", e, err)
		}
		if err := o.mg.Materializer.ApplyResponse(resp); err != nil {
			return fmt.Errorf("load %s: %w", e, err)
		}
		if !e.IsInitialized() {
			return fmt.Errorf("load %s: %w: missing from response", e, model.ErrObjectNotFound)
		}
		return nil
	})
	o.mg.observe("object", shared, err)
	return err
}
