package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionIdempotence(t *testing.T) {
	g := newGarage(t)
	ct, err := g.m.AddConditionType("Person.Name.Required", CategoryError, "Name is required", OriginClient)
	require.NoError(t, err)

	var events []bool
	g.m.OnConditionsChanged(func(c *Condition, added bool) { events = append(events, added) })

	p, err := g.person.NewEntity()
	require.NoError(t, err)
	name := g.person.Property("Name")

	first := ct.When(true, p, []*Property{name}, "")
	require.NotNil(t, first)
	assert.Equal(t, "Name is required", first.Message())

	again := ct.When(true, p, []*Property{name}, "")
	assert.Same(t, first, again)
	assert.Len(t, p.Meta().Conditions(), 1)

	replaced := ct.When(true, p, []*Property{name}, "Please enter a name")
	assert.NotSame(t, first, replaced)
	assert.True(t, first.IsDestroyed())
	assert.False(t, replaced.IsDestroyed())
	assert.Equal(t, []*Condition{replaced}, p.Meta().Conditions())
	assert.Equal(t, []*Condition{replaced}, p.Meta().Conditions(name))
	assert.Empty(t, p.Meta().Conditions(g.person.Property("Car")))

	assert.Nil(t, ct.When(false, p, nil, ""))
	assert.True(t, replaced.IsDestroyed())
	assert.Empty(t, p.Meta().Conditions())

	assert.Equal(t, []bool{true, false, true, false}, events)
}

func TestConditionNotificationsDeferredDuringValidation(t *testing.T) {
	g := newGarage(t)
	ct := g.m.EnsureConditionType("Person.Check", CategoryWarning, "check", OriginClient)
	assert.Same(t, ct, g.m.EnsureConditionType("Person.Check", CategoryError, "other", OriginClient))

	var events int
	g.m.OnConditionsChanged(func(*Condition, bool) { events++ })

	p, err := g.person.NewEntity()
	require.NoError(t, err)

	g.m.BeginValidation()
	ct.When(true, p, nil, "")
	assert.Equal(t, 0, events)
	g.m.EndValidation()
	assert.Equal(t, 1, events)
}

func TestDuplicateConditionType(t *testing.T) {
	m := New()
	_, err := m.AddConditionType("X", CategoryError, "", OriginServer)
	require.NoError(t, err)
	_, err = m.AddConditionType("X", CategoryWarning, "", OriginServer)
	assert.ErrorIs(t, err, ErrDuplicateConditionType)
}

func TestClearConditionsByOrigin(t *testing.T) {
	g := newGarage(t)
	client := g.m.EnsureConditionType("client", CategoryError, "c", OriginClient)
	server := g.m.EnsureConditionType("server", CategoryError, "s", OriginServer)
	p, err := g.person.NewEntity()
	require.NoError(t, err)

	client.When(true, p, nil, "")
	fromServer := server.WhenServer(true, p, nil, "")
	assert.Equal(t, OriginServer, fromServer.Origin())

	p.Meta().ClearConditions(OriginServer)
	conds := p.Meta().Conditions()
	require.Len(t, conds, 1)
	assert.Equal(t, "client", conds[0].Type().Code())
}
