package rule

import (
	"fmt"
	"reflect"

	"github.com/expr-lang/expr"

	"github.com/localnerve/jam-build-entitygraph/internal/model"
)

// CalculateFunc computes the value of a calculated property. List properties return
// []any or []*model.Entity.
type CalculateFunc func(target *model.Entity) (any, error)

// CalculatedOptions configures a CalculatedPropertyRule.
type CalculatedOptions struct {
	Name       string
	Property   string
	Calculate  CalculateFunc
	OnChangeOf []string
	// Init also runs the rule when instances initialize.
	Init bool
	// DisableOptimalUpdates replaces list contents wholesale instead of applying the
	// minimal set of inserts and removals.
	DisableOptimalUpdates bool
}

// CalculatedPropertyRule computes a property from its predicates.
type CalculatedPropertyRule struct {
	*Rule
	property  *model.Property
	calculate CalculateFunc
	optimal   bool
}

// NewCalculated configures a calculated property rule.
func NewCalculated(root *model.Type, o CalculatedOptions) (*CalculatedPropertyRule, error) {
	if o.Calculate == nil {
		return nil, fmt.Errorf("%w: calculated rule for %s", ErrMissingFunction, o.Property)
	}
	if o.Name == "" {
		o.Name = root.Name() + "." + o.Property + ".Calculated"
	}
	cr := &CalculatedPropertyRule{calculate: o.Calculate, optimal: !o.DisableOptimalUpdates}
	cr.Rule = New(root, o.Name, cr.execute)
	if o.Init {
		cr.OnInit()
	}
	if len(o.OnChangeOf) > 0 {
		cr.OnChangeOf(o.OnChangeOf...)
	}
	cr.Returns(o.Property)
	return cr, nil
}

// CompileCalculation compiles an expression over the target properties into a
// CalculateFunc, for example `Price * Quantity` or `value("Customer.Discount") * Price`.
func CompileCalculation(src string) (CalculateFunc, error) {
	program, err := expr.Compile(src, pathEnv(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return func(target *model.Entity) (any, error) {
		out, unknown, err := runProgram(program, target)
		if err != nil {
			return nil, err
		}
		if unknown {
			return nil, nil
		}
		return out, nil
	}, nil
}

// UseOptimalUpdates reports whether list results are applied as minimal diffs.
func (cr *CalculatedPropertyRule) UseOptimalUpdates() bool { return cr.optimal }

func (cr *CalculatedPropertyRule) execute(target *model.Entity) error {
	if cr.property == nil {
		if len(cr.returns) == 0 {
			return fmt.Errorf("%w: %s has no resolved return property", model.ErrPropertyNotFound, cr.name)
		}
		cr.property = cr.returns[0]
	}
	v, err := cr.calculate(target)
	if err != nil {
		return err
	}
	p := cr.property
	if !p.IsList() {
		return p.SetValue(target, v)
	}
	l, err := p.List(target)
	if err != nil {
		return err
	}
	items, err := toItems(v)
	if err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	if cr.optimal {
		err = UpdateList(l, items)
	} else {
		err = l.Replace(items)
	}
	if err != nil {
		return err
	}
	p.MarkLoaded(target)
	return nil
}

func toItems(v any) ([]any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return x, nil
	case []*model.Entity:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case *model.List:
		return x.Items(), nil
	}
	return nil, fmt.Errorf("%w: %T is not a list", model.ErrInvalidValue, v)
}

// UpdateList brings l in line with want using removals and inserts only where the
// two differ, raising one collection notification for the whole update.
func UpdateList(l *model.List, want []any) error {
	keep := make(map[any]int, len(want))
	for _, w := range want {
		keep[itemKey(w)]++
	}

	l.BeginUpdate()
	defer l.EndUpdate()

	for i := l.Len() - 1; i >= 0; i-- {
		k := itemKey(l.At(i))
		if keep[k] > 0 {
			keep[k]--
			continue
		}
		if err := l.RemoveAt(i); err != nil {
			return err
		}
	}
	for i, w := range want {
		if i < l.Len() && sameItem(l.At(i), w) {
			continue
		}
		if j := indexFrom(l, w, i+1); j >= 0 {
			if err := l.RemoveAt(j); err != nil {
				return err
			}
		}
		if err := l.Insert(i, w); err != nil {
			return err
		}
	}
	for l.Len() > len(want) {
		if err := l.RemoveAt(l.Len() - 1); err != nil {
			return err
		}
	}
	return nil
}

func indexFrom(l *model.List, item any, from int) int {
	for i := from; i < l.Len(); i++ {
		if sameItem(l.At(i), item) {
			return i
		}
	}
	return -1
}

// itemKey returns a map key for a list item. Entities key on identity, values that
// cannot be map keys (objects, slices) on their printed form.
func itemKey(item any) any {
	if item == nil {
		return nil
	}
	if e, ok := item.(*model.Entity); ok {
		return e
	}
	if reflect.TypeOf(item).Comparable() {
		return item
	}
	return fmt.Sprintf("%T:%v", item, item)
}

// sameItem compares entities by identity and other items by value.
func sameItem(a, b any) bool {
	ea, aok := a.(*model.Entity)
	eb, bok := b.(*model.Entity)
	if aok || bok {
		return aok && bok && ea == eb
	}
	return model.Equal(a, b)
}
