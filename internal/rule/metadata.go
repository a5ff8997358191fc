package rule

import (
	"fmt"

	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

// Registrar is implemented by every rule.
type Registrar interface {
	Name() string
	Register() error
}

// FromMetadata builds the rule described by meta for property of root. property is
// empty for type-level rules.
func FromMetadata(root *model.Type, property string, meta transport.RuleMetadata) (Registrar, error) {
	switch meta.Kind {
	case transport.RuleRequired:
		return withCode(NewRequired(root, property, meta.Message), meta), nil
	case transport.RuleRange:
		return withCode(NewRange(root, property, meta.Min, meta.Max, meta.Message), meta), nil
	case transport.RuleStringLength:
		min, _ := model.ToNumber(meta.Min)
		max, _ := model.ToNumber(meta.Max)
		return withCode(NewStringLength(root, property, int(min), int(max), meta.Message), meta), nil
	case transport.RuleCompare:
		return withCode(NewCompare(root, property, Operator(meta.Operator), meta.CompareSource, meta.Message), meta), nil
	case transport.RuleRequiredIf:
		cr, err := NewRequiredIf(root, RequiredIfOptions{
			Property:      property,
			Message:       meta.Message,
			CompareSource: meta.CompareSource,
			Operator:      Operator(meta.Operator),
			CompareValue:  meta.CompareValue,
		})
		if err != nil {
			return nil, err
		}
		return withCode(cr, meta), nil
	case transport.RuleAllowedValues:
		return withCode(NewAllowedValues(root, property, meta.Source, meta.Message), meta), nil
	case transport.RuleCondition:
		pred, err := CompilePredicate(meta.Expression)
		if err != nil {
			return nil, err
		}
		opts := ConditionOptions{
			Name:       meta.Name,
			Code:       meta.Code,
			Category:   model.Category(meta.Category),
			Message:    meta.Message,
			OnChangeOf: meta.OnChangeOf,
			Predicate:  pred,
		}
		if property != "" {
			opts.Properties = []string{property}
		}
		return NewCondition(root, opts)
	case transport.RuleCalculated:
		calc, err := CompileCalculation(meta.Expression)
		if err != nil {
			return nil, err
		}
		return NewCalculated(root, CalculatedOptions{
			Name:       meta.Name,
			Property:   property,
			Calculate:  calc,
			OnChangeOf: meta.OnChangeOf,
		})
	}
	return nil, fmt.Errorf("%w: unknown rule kind %q on %s.%s", model.ErrInvalidValue, meta.Kind, root.Name(), property)
}

func withCode(cr *ConditionRule, meta transport.RuleMetadata) *ConditionRule {
	if meta.Code != "" {
		cr.opts.Code = meta.Code
	}
	if meta.Category != "" {
		cr.opts.Category = model.Category(meta.Category)
	}
	return cr
}
