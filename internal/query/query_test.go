package query

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localnerve/jam-build-entitygraph/internal/lazy"
	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/serversync"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

const garageData = `{
	"Driver": {
		"1": {"Name": "Ann", "Cars": ["1", "2"], "Favorite": "2"},
		"2": {"Name": "Bob", "Cars": ["deferred"], "Favorite": null}
	},
	"Car": {"1": {"Name": "Sentra"}, "2": {"Name": "Bike"}, "3": {"Name": "Van"}}
}`

func garageTypes() map[string]transport.TypeMetadata {
	return map[string]transport.TypeMetadata{
		"Driver": {
			Order: []string{"Name", "Cars", "Favorite"},
			Properties: map[string]transport.PropertyMetadata{
				"Name":     {Type: model.TypeString},
				"Cars":     {Type: "Car", IsList: true},
				"Favorite": {Type: "Car"},
			},
		},
		"Car": {
			Properties: map[string]transport.PropertyMetadata{
				"Name": {Type: model.TypeString},
			},
		},
		"Color": {
			Properties: map[string]transport.PropertyMetadata{
				"Names": {Type: model.TypeString, IsList: true, IsStatic: true},
			},
		},
	}
}

type fixture struct {
	m    *model.Model
	mem  *transport.Memory
	mg   *lazy.Manager
	sync *serversync.ServerSync
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{m: model.New(), mem: transport.NewMemory(transport.MustParseInstances(garageData))}
	f.mem.SetTypes(garageTypes())
	f.mg = lazy.New(f.m, f.mem)
	f.sync = serversync.New(f.mg)
	return f
}

func (f *fixture) query(opts ...Option) *Query {
	return New(f.mg, append([]Option{WithSync(f.sync)}, opts...)...)
}

func name(t *testing.T, e *model.Entity) string {
	t.Helper()
	require.NotNil(t, e)
	v, err := e.Get("Name")
	require.NoError(t, err)
	s, _ := v.(string)
	return s
}

func TestExecuteBatchesFetches(t *testing.T) {
	f := newFixture(t)
	res, err := f.query().Execute(context.Background(), Config{Model: map[string]Spec{
		"ann": {From: "Driver", ID: "1", Include: []string{"Cars"}, Load: true},
		"bob": {From: "Driver", ID: "2", Load: true},
	}})
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, 1, f.mem.Calls("query"))
	assert.Equal(t, []string{"ann", "bob"}, res.Vars())

	ann := res.Entity("ann")
	assert.Equal(t, "Ann", name(t, ann))
	cars, err := ann.List("Cars")
	require.NoError(t, err)
	assert.Equal(t, 2, cars.Len())

	bobCars, err := res.Entity("bob").List("Cars")
	require.NoError(t, err)
	assert.True(t, f.mg.IsRegistered(bobCars), "deferred list gets a loader")
	assert.False(t, f.sync.HasChanges(), "loading is not a change")
}

func TestExecuteWithoutBatching(t *testing.T) {
	f := newFixture(t)
	res, err := f.query(WithBatch(false)).Execute(context.Background(), Config{Model: map[string]Spec{
		"ann": {From: "Driver", ID: "1", Load: true},
		"bob": {From: "Driver", ID: "2", Load: true},
	}})
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, 2, f.mem.Calls("query"))
	assert.Equal(t, "Bob", name(t, res.Entity("bob")))
}

func TestEmbeddedDataSkipsFetch(t *testing.T) {
	f := newFixture(t)
	res, err := f.query().Execute(context.Background(), Config{
		Model: map[string]Spec{"ann": {From: "Driver", ID: "1", Include: []string{"Cars"}, Load: true}},
		Instances: transport.MustParseInstances(`{
			"Driver": {"1": {"Name": "Ann"}}
		}`),
	})
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Zero(t, f.mem.Calls("query"))
	assert.Equal(t, "Ann", name(t, res.Entity("ann")))

	cars, err := res.Entity("ann").List("Cars")
	require.NoError(t, err)
	assert.True(t, f.mg.IsRegistered(cars), "included list missing from the data gets a loader")
	require.NoError(t, f.mg.Load(context.Background(), cars, ""))
	assert.Equal(t, 2, cars.Len())
}

func TestLazyVariables(t *testing.T) {
	f := newFixture(t)
	res, err := f.query().Execute(context.Background(), Config{Model: map[string]Spec{
		"ann": {From: "Driver", ID: "1"},
	}})
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Zero(t, f.mem.Calls("query"))

	ann := res.Entity("ann")
	require.NotNil(t, ann)
	assert.False(t, ann.IsInitialized())
	assert.True(t, f.mg.IsRegistered(ann))
	require.NoError(t, f.mg.Load(context.Background(), ann, ""))
	assert.Equal(t, "Ann", name(t, ann))
}

func TestNewInstances(t *testing.T) {
	f := newFixture(t)
	res, err := f.query().Execute(context.Background(), Config{Model: map[string]Spec{
		"draft": {From: "Driver", ID: NewID},
	}})
	require.NoError(t, err)
	require.NoError(t, res.Err())

	draft := res.Entity("draft")
	require.NotNil(t, draft)
	assert.True(t, draft.IsNew())
	pending := f.sync.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, transport.InitNew, pending[0].Type)
	assert.Equal(t, draft.ID(), pending[0].Instance.ID)
}

func TestEmbeddedChanges(t *testing.T) {
	f := newFixture(t)
	res, err := f.query().Execute(context.Background(), Config{
		Model: map[string]Spec{"ann": {From: "Driver", ID: "1", Load: true}},
		Changes: []transport.Change{{
			Type:     transport.ValueChange,
			Instance: transport.InstanceRef{Type: "Driver", ID: "1"},
			Property: "Name",
			OldValue: json.RawMessage(`"Ann"`),
			NewValue: json.RawMessage(`"Annie"`),
		}},
	})
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, "Annie", name(t, res.Entity("ann")))
	assert.False(t, f.sync.HasChanges())
}

func TestStaticPaths(t *testing.T) {
	f := newFixture(t)
	f.mem.SetStatic("Color", transport.Properties{"Names": json.RawMessage(`["red","blue"]`)})
	res, err := f.query().Execute(context.Background(), Config{StaticPaths: []string{"Color.Names"}})
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, 1, f.mem.Calls("list"))

	names, err := f.m.Type("Color").Property("Names").List(nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"red", "blue"}, names.Items())
}

func TestScopeRegistration(t *testing.T) {
	f := newFixture(t)
	_, err := f.query().Execute(context.Background(), Config{Model: map[string]Spec{
		"ann":   {From: "Driver", ID: "1", InScope: true, Load: true},
		"draft": {From: "Driver", ID: NewID, InScope: true},
	}})
	require.NoError(t, err)
	scope := f.sync.ScopeQueries()
	require.Len(t, scope, 1)
	assert.Equal(t, "Driver", scope[0].From)
	assert.Equal(t, []string{"1"}, []string(scope[0].IDs))
}

func TestFetchFailuresAreCollected(t *testing.T) {
	f := newFixture(t)
	down := errors.New("service down")
	f.mem.Err = down
	res, err := f.query().Execute(context.Background(), Config{Model: map[string]Spec{
		"ann": {From: "Driver", ID: "1", Load: true},
	}})
	require.NoError(t, err)
	require.Error(t, res.Err())
	assert.ErrorIs(t, res.Err(), down)
	assert.Nil(t, res.Entity("ann"))
}

func TestInvalidQueries(t *testing.T) {
	f := newFixture(t)
	for name, spec := range map[string]Spec{
		"no from":    {ID: "1"},
		"id and ids": {From: "Driver", ID: "1", IDs: []string{"2"}},
		"no id":      {From: "Driver"},
		"new in ids": {From: "Driver", IDs: []string{NewID}},
		"bad path":   {From: "Driver", ID: "1", Include: []string{"Cars<>"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.query().Execute(context.Background(), Config{Model: map[string]Spec{"v": spec}})
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
	assert.Zero(t, f.mem.Calls("query"))
	assert.Zero(t, f.mem.Calls("types"))
}
