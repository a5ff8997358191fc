package model

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type garage struct {
	m      *Model
	person *Type
	car    *Type
	sports *Type
	region *Type
}

func newGarage(t *testing.T) *garage {
	t.Helper()
	g := &garage{m: New()}
	var err error
	g.person, err = g.m.AddType("Person", nil, OriginServer)
	require.NoError(t, err)
	g.car, err = g.m.AddType("Car", nil, OriginServer)
	require.NoError(t, err)
	g.sports, err = g.m.AddType("SportsCar", g.car, OriginServer)
	require.NoError(t, err)
	g.region, err = g.m.AddType("Demo.Region", nil, OriginServer)
	require.NoError(t, err)

	defs := []struct {
		typ *Type
		def PropertyDef
	}{
		{g.person, PropertyDef{Name: "Name", Type: TypeString}},
		{g.person, PropertyDef{Name: "Car", Type: "Car"}},
		{g.person, PropertyDef{Name: "Cars", Type: "Car", IsList: true}},
		{g.car, PropertyDef{Name: "Name", Type: TypeString}},
		{g.car, PropertyDef{Name: "Owner", Type: "Person"}},
		{g.sports, PropertyDef{Name: "TopSpeed", Type: TypeNumber}},
		{g.region, PropertyDef{Name: "Default", Type: "Person", IsStatic: true}},
	}
	for _, d := range defs {
		_, err := d.typ.AddProperty(d.def)
		require.NoError(t, err)
	}
	return g
}

func TestPropertyResolution(t *testing.T) {
	g := newGarage(t)

	p, err := g.m.Property(g.person, "Name")
	require.NoError(t, err)
	assert.Same(t, g.person.Property("Name"), p)

	p, err = g.m.Property(g.person, "this.Car.Owner.Name")
	require.NoError(t, err)
	chain, ok := p.(*PropertyChain)
	require.True(t, ok)
	assert.Equal(t, "Car.Owner.Name", chain.Path())
	assert.Len(t, chain.Properties(), 3)

	again, err := g.m.Property(g.person, "Car.Owner.Name")
	require.NoError(t, err)
	assert.Same(t, chain, again, "compiled chains are cached")

	_, err = g.m.Property(g.person, "Cars.Name")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = g.m.Property(g.person, "Name.Length")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = g.m.Property(g.person, "Car.Wheels")
	assert.ErrorIs(t, err, ErrPropertyNotFound)

	_, err = g.m.Property(g.person, "Car<Boat>.Name")
	assert.ErrorIs(t, err, ErrTypeNotFound)
}

func TestConcurrentResolutionSharesOneChain(t *testing.T) {
	g := newGarage(t)
	paths := []string{"Car.Owner.Name", "this.Car.Owner.Name", " Car.Owner.Name "}
	out := make([]PropertyPath, 24)
	var wg sync.WaitGroup
	for i := range out {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := g.m.Property(g.person, paths[i%len(paths)])
			assert.NoError(t, err)
			out[i] = p
		}(i)
	}
	wg.Wait()
	for _, p := range out[1:] {
		assert.Same(t, out[0], p)
	}
}

func TestChainValueUndefinedForUnknownHops(t *testing.T) {
	g := newGarage(t)
	chain, err := g.m.Property(g.person, "Car.Owner.Name")
	require.NoError(t, err)

	p, err := g.person.Entity("p1")
	require.NoError(t, err)
	assert.True(t, IsUndefined(chain.Value(p)), "first hop not loaded")

	require.NoError(t, p.Init("Car", nil))
	assert.True(t, IsUndefined(chain.Value(p)), "first hop is nil")

	c, err := g.car.Entity("c1")
	require.NoError(t, err)
	require.NoError(t, p.Set("Car", c))
	assert.True(t, IsUndefined(chain.Value(p)), "second hop not loaded")

	require.NoError(t, c.Init("Owner", p))
	require.NoError(t, p.Init("Name", nil))
	assert.Nil(t, chain.Value(p), "known absence")

	require.NoError(t, p.Set("Name", "Ann"))
	assert.Equal(t, "Ann", chain.Value(p))
	assert.True(t, chain.IsInited(p))
}

func TestChainCast(t *testing.T) {
	g := newGarage(t)
	chain, err := g.m.Property(g.person, "Car<SportsCar>.TopSpeed")
	require.NoError(t, err)

	p, err := g.person.NewEntity()
	require.NoError(t, err)
	plain, err := g.car.NewEntity()
	require.NoError(t, err)
	require.NoError(t, p.Set("Car", plain))
	assert.True(t, IsUndefined(chain.Value(p)))

	fast, err := g.sports.NewEntity()
	require.NoError(t, err)
	require.NoError(t, fast.Set("TopSpeed", 300))
	require.NoError(t, p.Set("Car", fast))
	assert.Equal(t, float64(300), chain.Value(p))
}

func TestChainChangeReachesRoots(t *testing.T) {
	g := newGarage(t)
	chain, err := g.m.Property(g.person, "Car.Name")
	require.NoError(t, err)

	var roots []*Entity
	chain.OnChanged(func(args *PropertyChange) { roots = append(roots, args.Entity) })

	a, err := g.person.NewEntity()
	require.NoError(t, err)
	b, err := g.person.NewEntity()
	require.NoError(t, err)
	c, err := g.car.NewEntity()
	require.NoError(t, err)

	require.NoError(t, a.Set("Car", c))
	require.NoError(t, b.Set("Car", c))
	assert.Equal(t, []*Entity{a, b}, roots)

	roots = nil
	require.NoError(t, c.Set("Name", "Sentra"))
	assert.ElementsMatch(t, []*Entity{a, b}, roots)
}

func TestStaticPath(t *testing.T) {
	g := newGarage(t)
	p, err := g.m.Property(nil, "Demo.Region.Default.Name")
	require.NoError(t, err)
	assert.True(t, p.IsStatic())
	assert.Same(t, g.region, p.RootType())

	assert.True(t, IsUndefined(p.Value(nil)))

	ann, err := g.person.NewEntity()
	require.NoError(t, err)
	require.NoError(t, ann.Set("Name", "Ann"))
	require.NoError(t, g.region.Property("Default").SetValue(nil, ann))
	assert.Equal(t, "Ann", p.Value(nil))
}

func TestWhenPropertyAvailableDefers(t *testing.T) {
	m := New()
	order, err := m.AddType("Order", nil, OriginServer)
	require.NoError(t, err)

	var got PropertyPath
	require.NoError(t, m.WhenPropertyAvailable(order, "Customer.Name", func(p PropertyPath) { got = p }))
	assert.Nil(t, got)
	assert.Equal(t, 1, m.PendingPaths())

	_, err = order.AddProperty(PropertyDef{Name: "Customer", Type: "Customer"})
	require.NoError(t, err)
	assert.Nil(t, got, "Customer type still missing")

	customer, err := m.AddType("Customer", nil, OriginServer)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = customer.AddProperty(PropertyDef{Name: "Name", Type: TypeString})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Customer.Name", got.Path())
	assert.Equal(t, 0, m.PendingPaths())
}

func TestPathTree(t *testing.T) {
	tree, err := BuildPathTree([]string{"Cars.Owner", "this.Cars.Parts", "Address", "Cars<SportsCar>.Engine"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Address", "Cars.Owner", "Cars.Parts", "Cars<SportsCar>.Engine"}, tree.Paths())
	cars := tree.Child("Cars")
	require.NotNil(t, cars)
	assert.Len(t, cars.Children, 2)
	assert.Nil(t, tree.Child("Nope"))

	_, err = ParsePathTokens("Cars<Sports")
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = ParsePathTokens("1Cars")
	assert.ErrorIs(t, err, ErrInvalidPath)

	tokens, err := ParsePathTokens("Owner<Demo.Person>.Name")
	require.NoError(t, err)
	assert.Equal(t, []PathStep{{Property: "Owner", Cast: "Demo.Person"}, {Property: "Name"}}, tokens.Steps)
}
