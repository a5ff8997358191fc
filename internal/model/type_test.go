package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHierarchy(t *testing.T) (*Model, *Type, *Type, *Type) {
	t.Helper()
	m := New()
	vehicle, err := m.AddType("Vehicle", nil, OriginServer)
	require.NoError(t, err)
	car, err := m.AddType("Car", vehicle, OriginServer)
	require.NoError(t, err)
	truck, err := m.AddType("Truck", vehicle, OriginServer)
	require.NoError(t, err)
	_, err = vehicle.AddProperty(PropertyDef{Name: "Name", Type: TypeString, IsPersisted: true})
	require.NoError(t, err)
	return m, vehicle, car, truck
}

func TestRegisterDuplicateAtAnyLevel(t *testing.T) {
	_, vehicle, car, truck := newHierarchy(t)

	c, err := car.Entity("1")
	require.NoError(t, err)
	assert.Equal(t, "1", c.ID())

	got, err := vehicle.Get("1", false)
	require.NoError(t, err)
	assert.Same(t, c, got)

	err = car.Register(newEntity(car, false), "1")
	assert.ErrorIs(t, err, ErrDuplicateID)

	err = truck.Register(newEntity(truck, false), "1")
	assert.ErrorIs(t, err, ErrDuplicateID, "sibling shares the base pool")

	err = vehicle.Register(newEntity(vehicle, false), "1")
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestIDsAreCaseInsensitive(t *testing.T) {
	_, _, car, _ := newHierarchy(t)
	c, err := car.Entity("ABC")
	require.NoError(t, err)

	got, err := car.Get("abc", false)
	require.NoError(t, err)
	assert.Same(t, c, got)
}

func TestInvalidIDs(t *testing.T) {
	_, _, car, _ := newHierarchy(t)

	_, err := car.Get("", false)
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.ErrorIs(t, car.Register(newEntity(car, false), ""), ErrInvalidID)
	_, err = car.ChangeObjectID("", "2")
	assert.ErrorIs(t, err, ErrInvalidID)
	_, err = car.ChangeObjectID("1", "")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestGetExactTypeOnly(t *testing.T) {
	_, vehicle, car, _ := newHierarchy(t)
	_, err := car.Entity("7")
	require.NoError(t, err)

	_, err = vehicle.Get("7", true)
	assert.ErrorIs(t, err, ErrExactTypeMismatch)

	got, err := car.Get("7", true)
	require.NoError(t, err)
	assert.NotNil(t, got)

	missing, err := car.Get("8", true)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestChangeObjectIDKeepsLegacyID(t *testing.T) {
	_, vehicle, car, _ := newHierarchy(t)
	c, err := car.NewEntity()
	require.NoError(t, err)
	oldID := c.ID()
	assert.True(t, c.IsNew())

	_, err = car.ChangeObjectID(oldID, "42")
	require.NoError(t, err)
	assert.Equal(t, "42", c.ID())
	assert.False(t, c.IsNew())

	for _, typ := range []*Type{car, vehicle} {
		got, err := typ.Get("42", false)
		require.NoError(t, err)
		assert.Same(t, c, got)

		legacy, err := typ.Get(oldID, false)
		require.NoError(t, err)
		assert.Same(t, c, legacy)
	}
}

func TestNewIDUniqueAcrossHierarchy(t *testing.T) {
	_, vehicle, car, truck := newHierarchy(t)
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		for _, typ := range []*Type{vehicle, car, truck, car, vehicle} {
			id := typ.NewID()
			assert.False(t, seen[id], "duplicate id %s", id)
			assert.Regexp(t, `^\+c\d+$`, id)
			seen[id] = true
		}
	}
}

func TestUnregisterRemovesFromAncestors(t *testing.T) {
	_, vehicle, car, _ := newHierarchy(t)
	c, err := car.Entity("1")
	require.NoError(t, err)

	require.NoError(t, car.Unregister(c))
	assert.False(t, c.IsRegistered())

	got, err := vehicle.Get("1", false)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, vehicle.Known())
}

func TestUnregisterVeto(t *testing.T) {
	m, _, car, _ := newHierarchy(t)
	c, err := car.Entity("1")
	require.NoError(t, err)

	m.OnObjectUnregistered(func(e *Entity) error {
		if !e.IsNew() {
			return ErrInvalidValue
		}
		return nil
	})
	assert.ErrorIs(t, car.Unregister(c), ErrInvalidValue)
	assert.True(t, c.IsRegistered())
}

func TestAddPropertyDuplicates(t *testing.T) {
	_, vehicle, car, _ := newHierarchy(t)
	_, err := car.AddProperty(PropertyDef{Name: "Name", Type: TypeString})
	assert.ErrorIs(t, err, ErrDuplicateProperty)

	_, err = car.AddProperty(PropertyDef{Name: "Doors", Type: TypeInteger})
	require.NoError(t, err)
	_, err = vehicle.AddProperty(PropertyDef{Name: "Doors", Type: TypeInteger})
	assert.ErrorIs(t, err, ErrDuplicateProperty, "derived type already declares it")

	_, err = vehicle.AddProperty(PropertyDef{Name: "Bad.Name", Type: TypeString})
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestNewEntityDefaultsAndInitHandlers(t *testing.T) {
	m, vehicle, car, _ := newHierarchy(t)
	_, err := car.AddProperty(PropertyDef{Name: "Electric", Type: TypeBoolean})
	require.NoError(t, err)
	_, err = car.AddProperty(PropertyDef{Name: "Wheels", Type: TypeInteger, DefaultValue: 4})
	require.NoError(t, err)
	_, err = m.AddType("Part", nil, OriginServer)
	require.NoError(t, err)
	_, err = car.AddProperty(PropertyDef{Name: "Parts", Type: "Part", IsList: true})
	require.NoError(t, err)

	var order []string
	vehicle.OnInitNew(func(e *Entity) { order = append(order, "vehicle") })
	car.OnInitNew(func(e *Entity) { order = append(order, "car") })
	car.OnInitExisting(func(e *Entity) { order = append(order, "existing") })

	c, err := car.NewEntity()
	require.NoError(t, err)
	assert.Equal(t, []string{"car", "vehicle"}, order)

	v, err := c.Get("Electric")
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = c.Get("Wheels")
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)

	v, err = c.Get("Name")
	require.NoError(t, err)
	assert.Nil(t, v)

	parts, err := c.List("Parts")
	require.NoError(t, err)
	assert.True(t, parts.IsLoaded())
	assert.Equal(t, 0, parts.Len())
}

func TestUninitializedPropertyFails(t *testing.T) {
	_, _, car, _ := newHierarchy(t)
	c, err := car.Entity("1")
	require.NoError(t, err)

	_, err = c.Get("Name")
	assert.ErrorIs(t, err, ErrPropertyNotInitialized)
	assert.True(t, IsUndefined(car.Property("Name").Value(c)))

	require.NoError(t, c.Init("Name", "Sentra"))
	v, err := c.Get("Name")
	require.NoError(t, err)
	assert.Equal(t, "Sentra", v)

	_, err = c.Get("Missing")
	assert.ErrorIs(t, err, ErrPropertyNotFound)
}

func TestInitExistingRunsOnce(t *testing.T) {
	_, _, car, _ := newHierarchy(t)
	calls := 0
	car.OnInitExisting(func(*Entity) { calls++ })

	c, err := car.Entity("1")
	require.NoError(t, err)
	car.InitExisting(c)
	car.InitExisting(c)
	assert.Equal(t, 1, calls)
}

func TestDuplicateType(t *testing.T) {
	m, _, _, _ := newHierarchy(t)
	_, err := m.AddType("Car", nil, OriginClient)
	assert.ErrorIs(t, err, ErrDuplicateType)

	_, err = m.MustType("Plane")
	assert.ErrorIs(t, err, ErrTypeNotFound)
}
