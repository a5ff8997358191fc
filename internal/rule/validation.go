package rule

import (
	"fmt"
	"unicode/utf8"

	"github.com/localnerve/jam-build-entitygraph/internal/model"
)

// valueOf reads the first implicated property. ok is false while it is not loaded.
func valueOf(cr *ConditionRule, target *model.Entity) (any, bool) {
	if len(cr.properties) == 0 {
		return nil, false
	}
	p := cr.properties[0]
	v := p.Value(target)
	if model.IsUndefined(v) {
		return nil, false
	}
	return v, true
}

// NewRequired asserts that property has a value.
func NewRequired(root *model.Type, property, message string) *ConditionRule {
	if message == "" {
		message = property + " is required"
	}
	return newConditionRule(root, ConditionOptions{
		Name:       "Required",
		Message:    message,
		Properties: []string{property},
	}, Unbound(func(cr *ConditionRule, target *model.Entity) (bool, bool) {
		v, ok := valueOf(cr, target)
		if !ok {
			return false, false
		}
		return !model.HasValue(v), true
	}))
}

// NewRange asserts that property lies within [min, max]. Either bound may be nil.
// Empty values pass; combine with NewRequired to demand one.
func NewRange(root *model.Type, property string, min, max any, message string) *ConditionRule {
	if message == "" {
		switch {
		case min != nil && max != nil:
			message = fmt.Sprintf("%s must be between %v and %v", property, min, max)
		case min != nil:
			message = fmt.Sprintf("%s must be at least %v", property, min)
		default:
			message = fmt.Sprintf("%s must be at most %v", property, max)
		}
	}
	return newConditionRule(root, ConditionOptions{
		Name:       "Range",
		Message:    message,
		Properties: []string{property},
	}, Unbound(func(cr *ConditionRule, target *model.Entity) (bool, bool) {
		v, ok := valueOf(cr, target)
		if !ok {
			return false, false
		}
		if !model.HasValue(v) {
			return false, true
		}
		if min != nil {
			c, ok := model.CompareValues(v, min)
			if !ok {
				return false, false
			}
			if c < 0 {
				return true, true
			}
		}
		if max != nil {
			c, ok := model.CompareValues(v, max)
			if !ok {
				return false, false
			}
			if c > 0 {
				return true, true
			}
		}
		return false, true
	}))
}

// NewStringLength asserts that the length of a string property lies within
// [min, max]. A max of zero means unbounded.
func NewStringLength(root *model.Type, property string, min, max int, message string) *ConditionRule {
	if message == "" {
		switch {
		case min > 0 && max > 0:
			message = fmt.Sprintf("%s must be between %d and %d characters", property, min, max)
		case min > 0:
			message = fmt.Sprintf("%s must be at least %d characters", property, min)
		default:
			message = fmt.Sprintf("%s must be at most %d characters", property, max)
		}
	}
	return newConditionRule(root, ConditionOptions{
		Name:       "StringLength",
		Message:    message,
		Properties: []string{property},
	}, Unbound(func(cr *ConditionRule, target *model.Entity) (bool, bool) {
		v, ok := valueOf(cr, target)
		if !ok {
			return false, false
		}
		s, _ := v.(string)
		if s == "" {
			return false, true
		}
		n := utf8.RuneCountInString(s)
		return n < min || (max > 0 && n > max), true
	}))
}

// NewAllowedValues asserts that property holds one of the values found at source, a
// path to a list or a single value. The result is unknown while source is not loaded.
func NewAllowedValues(root *model.Type, property, source, message string) *ConditionRule {
	if message == "" {
		message = property + " is not in the list of allowed values"
	}
	var sourcePath model.PropertyPath
	cr := newConditionRule(root, ConditionOptions{
		Name:       "AllowedValues",
		Message:    message,
		Properties: []string{property},
		OnChangeOf: []string{source},
	}, Unbound(func(cr *ConditionRule, target *model.Entity) (bool, bool) {
		v, ok := valueOf(cr, target)
		if !ok || sourcePath == nil {
			return false, false
		}
		if !model.HasValue(v) {
			return false, true
		}
		allowed, known := AllowedValues(sourcePath, target)
		if !known {
			return false, false
		}
		for _, a := range allowed {
			if model.Equal(a, v) {
				return false, true
			}
		}
		return true, true
	}))
	cr.resolve(source, func(pp model.PropertyPath) error {
		sourcePath = pp
		return nil
	})
	return cr
}

// AllowedValues reads the allowed set at source for target. known is false when the
// set itself is not loaded yet.
func AllowedValues(source model.PropertyPath, target *model.Entity) (values []any, known bool) {
	v := source.Value(target)
	switch x := v.(type) {
	case *model.List:
		if !x.IsLoaded() {
			return nil, false
		}
		return x.Items(), true
	case []any:
		return x, true
	case nil:
		return nil, true
	}
	if model.IsUndefined(v) {
		return nil, false
	}
	return []any{v}, true
}
