package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localnerve/jam-build-entitygraph/internal/model"
)

func TestCompare(t *testing.T) {
	assert.True(t, Compare(model.Undefined, Equal, nil, true), "absence equals absence")
	assert.True(t, Compare(5, GreaterThan, 3, false))
	assert.False(t, Compare(model.Undefined, GreaterThan, 3, false), "unknown falls back to the default")
	assert.True(t, Compare(model.Undefined, GreaterThan, 3, true))

	assert.True(t, Compare("x", NotEqual, nil, false))
	assert.False(t, Compare("", NotEqual, nil, true))
	assert.True(t, Compare(3, LessThanEqual, 3.0, false))
	assert.True(t, Compare("b", GreaterThanEqual, "a", false))
	assert.False(t, Compare(true, Equal, false, true))
	assert.True(t, Compare(int64(2), NotEqual, 3, false))
}

func conditionCodes(e *model.Entity) []string {
	var out []string
	for _, c := range e.Meta().Conditions() {
		out = append(out, c.Type().Code())
	}
	return out
}

func TestRequiredRule(t *testing.T) {
	f := newFixture(t)
	r := NewRequired(f.order, "Number", "")
	require.NoError(t, r.Register())
	assert.Equal(t, "Order.Number.Required", r.ConditionType().Code())
	assert.Equal(t, model.CategoryError, r.ConditionType().Category())

	o, err := f.order.NewEntity()
	require.NoError(t, err)
	assert.Equal(t, []string{"Order.Number.Required"}, conditionCodes(o))
	first := o.Meta().Conditions()[0]
	assert.Equal(t, "Number is required", first.Message())
	assert.Equal(t, []*model.Property{f.order.Property("Number")}, first.Properties())

	require.NoError(t, o.Set("Number", "A-1"))
	assert.Empty(t, conditionCodes(o))
	assert.True(t, first.IsDestroyed())

	require.NoError(t, o.Set("Number", "  "))
	assert.Equal(t, []string{"Order.Number.Required"}, conditionCodes(o))
}

func TestRequiredRuleIgnoresUnloadedValues(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, NewRequired(f.order, "Number", "").Register())

	o, err := f.order.Entity("1")
	require.NoError(t, err)
	f.order.InitExisting(o)
	assert.Empty(t, conditionCodes(o))
}

func TestRangeAndStringLength(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, NewRange(f.order, "Quantity", 1, 10, "").Register())
	require.NoError(t, NewStringLength(f.order, "Number", 2, 4, "").Register())

	o, err := f.order.NewEntity()
	require.NoError(t, err)
	assert.Empty(t, conditionCodes(o))

	require.NoError(t, o.Set("Quantity", 11))
	require.NoError(t, o.Set("Number", "A"))
	assert.ElementsMatch(t, []string{"Order.Quantity.Range", "Order.Number.StringLength"}, conditionCodes(o))
	assert.Equal(t, "Quantity must be between 1 and 10", o.Meta().Conditions(f.order.Property("Quantity"))[0].Message())

	require.NoError(t, o.Set("Quantity", 10))
	require.NoError(t, o.Set("Number", "AB12"))
	assert.Empty(t, conditionCodes(o))
}

func TestCompareRule(t *testing.T) {
	f := newFixture(t)
	r := NewCompare(f.order, "Quantity", LessThanEqual, "MaxQuantity", "")
	require.NoError(t, r.Register())

	o, err := f.order.NewEntity()
	require.NoError(t, err)
	require.NoError(t, o.Set("MaxQuantity", 5))
	require.NoError(t, o.Set("Quantity", 6))
	assert.Equal(t, []string{"Order.Quantity.Compare"}, conditionCodes(o))
	assert.Equal(t, "Quantity must be less than or equal to MaxQuantity", o.Meta().Conditions()[0].Message())

	require.NoError(t, o.Set("MaxQuantity", 6))
	assert.Empty(t, conditionCodes(o))
}

func TestRequiredIfBooleanSource(t *testing.T) {
	f := newFixture(t)
	r, err := NewRequiredIf(f.order, RequiredIfOptions{Property: "RushReason", CompareSource: "Rush"})
	require.NoError(t, err)
	require.NoError(t, r.Register())

	o, err := f.order.NewEntity()
	require.NoError(t, err)
	assert.Empty(t, conditionCodes(o), "Rush defaults to false")

	require.NoError(t, o.Set("Rush", true))
	assert.Equal(t, []string{"Order.RushReason.RequiredIf"}, conditionCodes(o))

	require.NoError(t, o.Set("RushReason", "customer waiting"))
	assert.Empty(t, conditionCodes(o))

	_, err = NewRequiredIf(f.order, RequiredIfOptions{Property: "RushReason"})
	assert.ErrorIs(t, err, ErrMissingFunction)
}

func TestRequiredIfPredicate(t *testing.T) {
	f := newFixture(t)
	r, err := NewRequiredIf(f.order, RequiredIfOptions{
		Property: "Color",
		When: func(e *model.Entity) (bool, bool) {
			q, err := e.Get("Quantity")
			if err != nil {
				return false, false
			}
			n, ok := model.ToNumber(q)
			return ok && n > 100, true
		},
	})
	require.NoError(t, err)
	require.NoError(t, r.Register())

	o, err := f.order.NewEntity()
	require.NoError(t, err)
	assert.Empty(t, conditionCodes(o))
}

func TestAllowedValuesUnknownUntilLoaded(t *testing.T) {
	f := newFixture(t)
	r := NewAllowedValues(f.order, "Color", "Color.Names", "")
	require.NoError(t, r.Register())
	names, err := f.color.Property("Names").List(nil)
	require.NoError(t, err)

	o, err := f.order.NewEntity()
	require.NoError(t, err)
	require.NoError(t, o.Set("Color", "Mauve"))
	assert.Empty(t, conditionCodes(o), "allowed set not loaded yet")

	allowed, known := AllowedValues(r.Predicates()[1], o)
	assert.False(t, known)
	assert.Nil(t, allowed)

	require.NoError(t, names.Add("Red", "Blue"))
	f.color.Property("Names").MarkLoaded(nil)
	r.Execute(o)
	assert.Equal(t, []string{"Order.Color.AllowedValues"}, conditionCodes(o))

	require.NoError(t, o.Set("Color", "Red"))
	assert.Empty(t, conditionCodes(o))
}

func TestConditionRuleBoundAndUnbound(t *testing.T) {
	f := newFixture(t)
	bound, err := NewCondition(f.order, ConditionOptions{
		Name:       "Big",
		Category:   model.CategoryWarning,
		Message:    "large order",
		Properties: []string{"Quantity"},
		Predicate: Bound(func(e *model.Entity) (bool, bool) {
			q, err := e.Get("Quantity")
			if err != nil {
				return false, false
			}
			n, _ := model.ToNumber(q)
			return n > 50, true
		}),
	})
	require.NoError(t, err)
	require.NoError(t, bound.Register())

	var seenRule *ConditionRule
	unbound, err := NewCondition(f.order, ConditionOptions{
		Name:        "Check",
		Code:        "order-check",
		OnChangeOf:  []string{"Price"},
		MessageFunc: func(e *model.Entity) string { return "check " + e.ID() },
		Predicate: Unbound(func(r *ConditionRule, e *model.Entity) (bool, bool) {
			seenRule = r
			p, _ := e.Get("Price")
			return p == nil, true
		}),
	})
	require.NoError(t, err)
	require.NoError(t, unbound.Register())

	o, err := f.order.NewEntity()
	require.NoError(t, err)
	assert.Same(t, unbound, seenRule)
	assert.Equal(t, []string{"order-check"}, conditionCodes(o))
	assert.Equal(t, "check "+o.ID(), o.Meta().Conditions()[0].Message())

	require.NoError(t, o.Set("Quantity", 60))
	require.NoError(t, o.Set("Price", 1))
	assert.Equal(t, []string{"Order.Quantity.Big"}, conditionCodes(o))
	assert.Equal(t, model.CategoryWarning, o.Meta().Conditions()[0].Type().Category())

	_, err = NewCondition(f.order, ConditionOptions{Name: "NoPredicate"})
	assert.ErrorIs(t, err, ErrMissingFunction)
}

func TestCompilePredicate(t *testing.T) {
	f := newFixture(t)
	pred, err := CompilePredicate(`Quantity > 5 && value("Number") != nil`)
	require.NoError(t, err)

	o, err := f.order.NewEntity()
	require.NoError(t, err)
	require.NoError(t, o.Set("Quantity", 6))
	_, known := pred(o)
	assert.True(t, known)

	require.NoError(t, o.Set("Number", "N"))
	assert.True(t, firstBool(pred(o)))

	existing, err := f.order.Entity("9")
	require.NoError(t, err)
	_, known = pred(existing)
	assert.False(t, known, "unloaded values make the result unknown")

	_, err = CompilePredicate(`Quantity >`)
	assert.Error(t, err)

	short, err := CompilePredicate(`len(value("Number")) == 1`)
	require.NoError(t, err, "builtins stay available next to value")
	assert.True(t, firstBool(short(o)))

	double, err := CompileCalculation(`value("Quantity") * 2`)
	require.NoError(t, err)
	v, err := double(o)
	require.NoError(t, err)
	assert.EqualValues(t, 12, v)
}

func firstBool(b, _ bool) bool { return b }
