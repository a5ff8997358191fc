package lazy

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

const driverData = `{
	"Driver": {"1": {"Id": 1, "Name": "Ann", "Cars": ["1", "2"]}},
	"Car": {"1": {"Id": 1, "Name": "Sentra"}, "2": {"Id": 2, "Name": "Bike"}}
}`

type garage struct {
	m      *model.Model
	driver *model.Type
	car    *model.Type
	color  *model.Type
}

func newGarage(t *testing.T) *garage {
	t.Helper()
	g := &garage{m: model.New()}
	var err error
	g.driver, err = g.m.AddType("Driver", nil, model.OriginServer)
	require.NoError(t, err)
	g.car, err = g.m.AddType("Car", nil, model.OriginServer)
	require.NoError(t, err)
	g.color, err = g.m.AddType("Color", nil, model.OriginServer)
	require.NoError(t, err)
	for _, def := range []struct {
		t   *model.Type
		def model.PropertyDef
	}{
		{g.driver, model.PropertyDef{Name: "Name", Type: model.TypeString, IsPersisted: true}},
		{g.driver, model.PropertyDef{Name: "Cars", Type: "Car", IsList: true, IsPersisted: true}},
		{g.driver, model.PropertyDef{Name: "Favorite", Type: "Car", IsPersisted: true}},
		{g.car, model.PropertyDef{Name: "Name", Type: model.TypeString, IsPersisted: true}},
		{g.color, model.PropertyDef{Name: "Names", Type: model.TypeString, IsList: true, IsStatic: true}},
	} {
		_, err := def.t.AddProperty(def.def)
		require.NoError(t, err)
	}
	return g
}

func carNames(t *testing.T, l *model.List) []string {
	t.Helper()
	var out []string
	for _, c := range l.Entities() {
		v, err := c.Get("Name")
		require.NoError(t, err)
		out = append(out, v.(string))
	}
	return out
}

func deferDriverCars(t *testing.T, mg *Manager) *model.List {
	t.Helper()
	require.NoError(t, mg.Materializer.ApplyResponse(&transport.Response{
		Instances: transport.MustParseInstances(`{"Driver": {"1": {"Name": "Ann", "Cars": ["deferred"]}}}`),
	}))
	d, err := mg.Model().Type("Driver").Get("1", false)
	require.NoError(t, err)
	l, err := d.List("Cars")
	require.NoError(t, err)
	return l
}

func TestKeyNormalizesOptionalArguments(t *testing.T) {
	assert.Equal(t, Key("list", "Driver", "1", "Cars"), Key("list", "Driver", "1", "Cars", ""))
	assert.NotEqual(t, Key("list", "Driver", "1", "Cars"), Key("list", "Driver", "2", "Cars"))
	assert.Equal(t, "list|Color||Names", Key("list", "Color", "", "Names"))
}

func TestLoadDriverWithCars(t *testing.T) {
	g := newGarage(t)
	mem := transport.NewMemory(transport.MustParseInstances(driverData))
	mg := New(g.m, mem)

	d, err := g.driver.Entity("1")
	require.NoError(t, err)
	mg.Objects.Register(d, "Cars")
	assert.False(t, mg.IsLoaded(d, ""))

	require.NoError(t, mg.Load(context.Background(), d, "Cars"))
	assert.True(t, d.IsInitialized())
	assert.True(t, mg.IsLoaded(d, "Cars"))

	cars, err := d.List("Cars")
	require.NoError(t, err)
	assert.Equal(t, 2, cars.Len())
	assert.Equal(t, []string{"Sentra", "Bike"}, carNames(t, cars))
	assert.Equal(t, 1, mem.Calls("query"))
	assert.Zero(t, mg.Len())
}

func TestAbsentReferencesGetObjectLoaders(t *testing.T) {
	g := newGarage(t)
	mem := transport.NewMemory(transport.MustParseInstances(`{"Car": {"9": {"Name": "Van"}}}`))
	mg := New(g.m, mem)
	require.NoError(t, mg.Materializer.ApplyResponse(&transport.Response{
		Instances: transport.MustParseInstances(`{"Driver": {"1": {"Name": "Ann", "Cars": [], "Favorite": "9"}}}`),
	}))

	d, err := g.driver.Get("1", false)
	require.NoError(t, err)
	fav, err := d.Get("Favorite")
	require.NoError(t, err)
	car := fav.(*model.Entity)
	assert.True(t, mg.IsRegistered(car))
	assert.False(t, mg.IsLoaded(d, "Favorite"))
	assert.False(t, car.IsInitialized())

	require.NoError(t, mg.Load(context.Background(), d, "Favorite"))
	name, err := car.Get("Name")
	require.NoError(t, err)
	assert.Equal(t, "Van", name)
	assert.True(t, mg.IsLoaded(d, "Favorite"))
}

func TestConcurrentListLoadsShareOneRequest(t *testing.T) {
	g := newGarage(t)
	mem := transport.NewMemory(transport.MustParseInstances(driverData))
	mem.Gate = make(chan struct{})
	mg := New(g.m, mem)
	cars := deferDriverCars(t, mg)
	require.True(t, mg.IsRegistered(cars))
	require.False(t, cars.IsLoaded())

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = mg.Load(context.Background(), cars, "")
		}(i)
	}
	require.Eventually(t, func() bool { return mem.Calls("list") == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(mem.Gate)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, mem.Calls("list"))
	assert.True(t, cars.IsLoaded())
	assert.Equal(t, []string{"Sentra", "Bike"}, carNames(t, cars))
}

func TestUnloadedListGuard(t *testing.T) {
	g := newGarage(t)
	mg := New(g.m, transport.NewMemory(transport.MustParseInstances(driverData)))
	cars := deferDriverCars(t, mg)

	persisted, err := g.car.Entity("1")
	require.NoError(t, err)
	assert.ErrorIs(t, cars.Add(persisted), ErrLazyListModified)

	fresh, err := g.car.NewEntity()
	require.NoError(t, err)
	require.NoError(t, cars.Add(fresh))
	require.NoError(t, AllowModification(cars, func() error { return cars.Remove(fresh) }))
	require.NoError(t, cars.Add(fresh))

	require.NoError(t, mg.Load(context.Background(), cars, ""))
	assert.Equal(t, 3, cars.Len())
	assert.Same(t, persisted, cars.At(0))
	assert.Same(t, fresh, cars.At(2), "new items added before the load are kept")

	other, err := g.car.Entity("2")
	require.NoError(t, err)
	require.NoError(t, cars.Remove(other), "loaded lists are no longer guarded")
}

func TestListLoadRaisesSyntheticChange(t *testing.T) {
	g := newGarage(t)
	mg := New(g.m, transport.NewMemory(transport.MustParseInstances(driverData)))
	cars := deferDriverCars(t, mg)

	var synthetic, mutations int
	g.driver.Property("Cars").OnChanged(func(args *model.PropertyChange) {
		if args.CollectionChanged {
			mutations++
			return
		}
		synthetic++
		assert.True(t, args.Applying)
	})
	require.NoError(t, mg.Lists.Load(context.Background(), cars.Owner(), "Cars"))
	assert.Equal(t, 1, synthetic)
	assert.Equal(t, 1, mutations)
}

func TestListLoadingDisabled(t *testing.T) {
	g := newGarage(t)
	mem := transport.NewMemory(transport.MustParseInstances(driverData))
	mg := New(g.m, mem, WithListLoading(false))
	cars := deferDriverCars(t, mg)

	err := mg.Load(context.Background(), cars, "")
	assert.ErrorIs(t, err, ErrListLoadingDisabled)
	assert.Zero(t, mem.Calls("list"))
}

func TestStaticListLoad(t *testing.T) {
	g := newGarage(t)
	mem := transport.NewMemory(nil)
	mem.SetStatic("Color", transport.Properties{"Names": json.RawMessage(`["Red", "Blue"]`)})
	mg := New(g.m, mem)

	names, err := g.color.Property("Names").List(nil)
	require.NoError(t, err)
	mg.Lists.Register(names)
	assert.False(t, mg.IsLoaded(g.color, "Names"))

	require.NoError(t, mg.Load(context.Background(), g.color, "Names"))
	assert.True(t, names.IsLoaded())
	assert.Equal(t, []any{"Red", "Blue"}, names.Items())
}

type loadCounter struct {
	mu    sync.Mutex
	kinds []string
}

func (c *loadCounter) ObserveLoad(kind string, _ bool, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds = append(c.kinds, kind)
}

func TestTypeLoaderBuildsHierarchy(t *testing.T) {
	m := model.New()
	mem := transport.NewMemory(nil)
	mem.SetTypes(map[string]transport.TypeMetadata{
		"Person": {
			Order: []string{"Name"},
			Properties: map[string]transport.PropertyMetadata{
				"Name": {Type: model.TypeString, Rules: []transport.RuleMetadata{{Kind: transport.RuleRequired}}},
			},
		},
		"Employee": {
			BaseType: "Person",
			Properties: map[string]transport.PropertyMetadata{
				"Boss":  {Type: "Employee"},
				"Tags":  {Type: model.TypeString, IsList: true},
				"Level": {Type: model.TypeInteger, Rules: []transport.RuleMetadata{{Kind: transport.RuleRange, Min: 1, Max: 9}}},
			},
		},
	}, transport.ConditionTypeMetadata{Code: "Person.Audit", Category: "Warning", Message: "audit"})
	obs := &loadCounter{}
	mg := New(m, mem, WithObserver(obs))

	require.NoError(t, mg.Types.Load(context.Background(), "Employee", ""))
	employee := m.Type("Employee")
	require.NotNil(t, employee)
	assert.Equal(t, "Person", employee.BaseType().Name())
	assert.NotNil(t, employee.Property("Name"), "inherited")
	assert.True(t, employee.Property("Tags").IsList())
	assert.True(t, employee.Property("Boss").IsPersisted())
	assert.Len(t, m.Type("Person").Rules(), 1)
	assert.Len(t, employee.Rules(), 2, "base rules are included")
	assert.Equal(t, model.CategoryWarning, m.ConditionType("Person.Audit").Category())
	assert.Equal(t, 2, mem.Calls("types"))
	assert.Equal(t, []string{"types"}, obs.kinds)

	e, err := employee.NewEntity()
	require.NoError(t, err)
	assert.Len(t, e.Meta().Conditions(), 1, "name is required")

	require.NoError(t, mg.Types.Ensure(context.Background(), "Employee", "Person"))
	assert.Equal(t, 2, mem.Calls("types"), "known types are not fetched again")

	err = mg.Types.Ensure(context.Background(), "Nope")
	assert.Error(t, err)
}

func TestServerConditionsAreApplied(t *testing.T) {
	g := newGarage(t)
	mg := New(g.m, transport.NewMemory(nil))
	require.NoError(t, mg.Materializer.ApplyResponse(&transport.Response{
		Instances: transport.MustParseInstances(`{"Car": {"1": {"Name": "Sentra"}}}`),
		Conditions: []transport.ConditionData{{
			Code:    "Car.Recall",
			Message: "recalled",
			Targets: []transport.ConditionTarget{{Instance: transport.InstanceRef{Type: "Car", ID: "1"}, Properties: []string{"Name"}}},
		}},
	}))
	c, err := g.car.Get("1", false)
	require.NoError(t, err)
	conds := c.Meta().Conditions()
	require.Len(t, conds, 1)
	assert.Equal(t, model.OriginServer, conds[0].Origin())
	assert.Equal(t, model.CategoryError, conds[0].Type().Category())
	assert.Equal(t, []*model.Property{g.car.Property("Name")}, conds[0].Properties())
}

func TestObjectLoadFailsWhenMissing(t *testing.T) {
	g := newGarage(t)
	mg := New(g.m, transport.NewMemory(nil))
	c, err := g.car.Entity("404")
	require.NoError(t, err)
	mg.Objects.Register(c)
	assert.ErrorIs(t, mg.Load(context.Background(), c, ""), model.ErrObjectNotFound)
}

func TestObjectLoadFetchesReferencedTypes(t *testing.T) {
	m := model.New()
	mem := transport.NewMemory(transport.MustParseInstances(`{
		"Driver": {"1": {"Name": "Ann", "Cars": ["1"], "Favorite": "2", "Spare": null}},
		"Car": {"1": {"Name": "Sentra"}}
	}`))
	mem.SetTypes(map[string]transport.TypeMetadata{
		"Driver": {Properties: map[string]transport.PropertyMetadata{
			"Name":     {Type: model.TypeString},
			"Cars":     {Type: "Car", IsList: true},
			"Favorite": {Type: "Car"},
			"Spare":    {Type: "Tire"},
		}},
		"Car":  {Properties: map[string]transport.PropertyMetadata{"Name": {Type: model.TypeString}}},
		"Tire": {Properties: map[string]transport.PropertyMetadata{"Size": {Type: model.TypeInteger}}},
	})
	mg := New(m, mem)
	require.NoError(t, mg.Types.Ensure(context.Background(), "Driver"))
	require.Nil(t, m.Type("Car"))

	d, err := m.Type("Driver").Entity("1")
	require.NoError(t, err)
	mg.Objects.Register(d, "Cars")
	require.NoError(t, mg.Load(context.Background(), d, ""))

	require.NotNil(t, m.Type("Car"), "types referenced by the response are fetched first")
	assert.Nil(t, m.Type("Tire"), "null references need no type")
	cars, err := d.List("Cars")
	require.NoError(t, err)
	assert.Equal(t, []string{"Sentra"}, carNames(t, cars))
	fav, err := d.Get("Favorite")
	require.NoError(t, err)
	assert.True(t, mg.IsRegistered(fav), "the favorite car was not in the response")
}
