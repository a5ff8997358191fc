package rule

import (
	"fmt"

	"github.com/localnerve/jam-build-entitygraph/internal/model"
)

// Operator is a comparison operator.
type Operator string

const (
	Equal            Operator = "Equal"
	NotEqual         Operator = "NotEqual"
	GreaterThan      Operator = "GreaterThan"
	GreaterThanEqual Operator = "GreaterThanEqual"
	LessThan         Operator = "LessThan"
	LessThanEqual    Operator = "LessThanEqual"
)

func (op Operator) text() string {
	switch op {
	case Equal:
		return "equal to"
	case NotEqual:
		return "not equal to"
	case GreaterThan:
		return "greater than"
	case GreaterThanEqual:
		return "greater than or equal to"
	case LessThan:
		return "less than"
	case LessThanEqual:
		return "less than or equal to"
	}
	return string(op)
}

// Compare applies op to source and compare. A nil or Undefined compare turns Equal
// into "source has no value" and NotEqual into "source has a value". When the values
// cannot be compared, for example because source is not loaded, def is returned.
func Compare(source any, op Operator, compare any, def bool) bool {
	if compare == nil || model.IsUndefined(compare) {
		switch op {
		case Equal:
			return !model.HasValue(source)
		case NotEqual:
			return model.HasValue(source)
		}
		return def
	}
	c, ok := model.CompareValues(source, compare)
	if !ok {
		if op == Equal || op == NotEqual {
			if source == nil || model.IsUndefined(source) {
				return def
			}
			eq := model.Equal(source, compare)
			return eq == (op == Equal)
		}
		return def
	}
	switch op {
	case Equal:
		return c == 0
	case NotEqual:
		return c != 0
	case GreaterThan:
		return c > 0
	case GreaterThanEqual:
		return c >= 0
	case LessThan:
		return c < 0
	case LessThanEqual:
		return c <= 0
	}
	return def
}

// NewCompare asserts that property compares to the value at compareSource with op.
// The rule stays silent while the compare source is not loaded.
func NewCompare(root *model.Type, property string, op Operator, compareSource, message string) *ConditionRule {
	if message == "" {
		message = fmt.Sprintf("%s must be %s %s", property, op.text(), compareSource)
	}
	var comparePath model.PropertyPath
	cr := newConditionRule(root, ConditionOptions{
		Name:       "Compare",
		Message:    message,
		Properties: []string{property},
		OnChangeOf: []string{compareSource},
	}, Unbound(func(cr *ConditionRule, target *model.Entity) (bool, bool) {
		if comparePath == nil {
			return false, false
		}
		cmp := comparePath.Value(target)
		if model.IsUndefined(cmp) {
			return false, false
		}
		src, ok := valueOf(cr, target)
		if !ok {
			return false, false
		}
		return !Compare(src, op, cmp, true), true
	}))
	cr.resolve(compareSource, func(pp model.PropertyPath) error {
		comparePath = pp
		return nil
	})
	return cr
}

// RequiredIfOptions configures NewRequiredIf. Either When or CompareSource must be set.
type RequiredIfOptions struct {
	Property string
	Message  string
	// When decides whether the property is required.
	When Bound
	// CompareSource is compared to CompareValue with Operator. Operator defaults to
	// NotEqual, so with no CompareValue the property is required when the source has a
	// value. Boolean sources without CompareValue are required when the source is true
	// for NotEqual and when it is false for Equal.
	CompareSource string
	Operator      Operator
	CompareValue  any
}

// NewRequiredIf asserts that a property has a value whenever a condition on another
// value holds.
func NewRequiredIf(root *model.Type, o RequiredIfOptions) (*ConditionRule, error) {
	if o.When == nil && o.CompareSource == "" {
		return nil, fmt.Errorf("%w: required-if rule for %s needs When or CompareSource", ErrMissingFunction, o.Property)
	}
	if o.Operator == "" {
		o.Operator = NotEqual
	}
	if o.Message == "" {
		o.Message = o.Property + " is required"
	}
	opts := ConditionOptions{
		Name:       "RequiredIf",
		Message:    o.Message,
		Properties: []string{o.Property},
	}
	if o.CompareSource != "" {
		opts.OnChangeOf = []string{o.CompareSource}
	}

	var comparePath model.PropertyPath
	op, compareValue := o.Operator, o.CompareValue
	cr := newConditionRule(root, opts, Unbound(func(cr *ConditionRule, target *model.Entity) (bool, bool) {
		var required bool
		if o.When != nil {
			r, known := o.When(target)
			if !known {
				return false, false
			}
			required = r
		} else {
			if comparePath == nil {
				return false, false
			}
			cmp := comparePath.Value(target)
			if model.IsUndefined(cmp) {
				return false, false
			}
			required = Compare(cmp, op, compareValue, false)
		}
		if !required {
			return false, true
		}
		v, ok := valueOf(cr, target)
		if !ok {
			return false, false
		}
		return !model.HasValue(v), true
	}))
	if o.CompareSource != "" {
		cr.resolve(o.CompareSource, func(pp model.PropertyPath) error {
			comparePath = pp
			if pp.LastProperty().Type() == model.TypeBoolean && compareValue == nil {
				switch op {
				case NotEqual:
					op, compareValue = Equal, true
				case Equal:
					compareValue = false
				}
			}
			return nil
		})
	}
	return cr, nil
}
