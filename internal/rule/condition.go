package rule

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/localnerve/jam-build-entitygraph/internal/model"
)

// Predicate decides whether a condition applies to a target. known is false when the
// answer depends on data that has not been loaded, in which case the existing
// condition is left alone.
type Predicate interface {
	assert(r *ConditionRule, target *model.Entity) (assert, known bool)
}

// Bound is a predicate over the target alone.
type Bound func(target *model.Entity) (assert, known bool)

func (f Bound) assert(_ *ConditionRule, target *model.Entity) (bool, bool) { return f(target) }

// Unbound is a predicate that also receives the rule, for rules that consult their
// own configuration.
type Unbound func(r *ConditionRule, target *model.Entity) (assert, known bool)

func (f Unbound) assert(r *ConditionRule, target *model.Entity) (bool, bool) { return f(r, target) }

// CompilePredicate compiles a boolean expression over the properties of the target,
// for example `Age < 18 && value("Guardian.Name") == nil`. Top-level property names
// resolve to their values and value resolves dotted paths. Unknown values make the
// result unknown.
func CompilePredicate(src string) (Bound, error) {
	program, err := expr.Compile(src, expr.AsBool(), pathEnv(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return func(target *model.Entity) (bool, bool) {
		out, unknown, err := runProgram(program, target)
		if err != nil || unknown {
			return false, false
		}
		b, ok := out.(bool)
		return b, ok
	}, nil
}

// unknownValue aborts expression evaluation when a path is not loaded.
type unknownValue struct{}

func (unknownValue) Error() string { return "value not loaded" }

// pathFunc is the expression function resolving a dotted path against the target.
// It must not shadow an expr builtin such as get.
const pathFunc = "value"

// pathEnv declares pathFunc at compile time. Property names stay undeclared.
func pathEnv() expr.Option {
	return expr.Env(map[string]any{
		pathFunc: func(string) (any, error) { return nil, nil },
	})
}

func runProgram(program *vm.Program, target *model.Entity) (out any, unknown bool, err error) {
	env := map[string]any{}
	for _, p := range target.Type().Properties() {
		if p.IsStatic() || !p.IsInited(target) {
			continue
		}
		env[p.Name()] = exprValue(p.Value(target))
	}
	m := target.Type().Model()
	env[pathFunc] = func(path string) (any, error) {
		pp, err := m.Property(target.Type(), path)
		if err != nil {
			return nil, err
		}
		v := pp.Value(target)
		if model.IsUndefined(v) {
			return nil, unknownValue{}
		}
		return exprValue(v), nil
	}
	out, err = expr.Run(program, env)
	if err != nil && strings.Contains(err.Error(), unknownValue{}.Error()) {
		return nil, true, nil
	}
	return out, false, err
}

func exprValue(v any) any {
	switch x := v.(type) {
	case *model.Entity:
		if x == nil {
			return nil
		}
		return x.ID()
	case *model.List:
		return x.Items()
	}
	return v
}

// ConditionOptions configures a ConditionRule.
type ConditionOptions struct {
	Name string
	// Code of the condition type. It defaults to Type.Property.Name of the first
	// implicated property.
	Code     string
	Category model.Category
	Message  string
	// Message computes the message per target. It overrides Message when set.
	MessageFunc func(target *model.Entity) string
	// Properties are paths implicated by the condition.
	Properties []string
	// OnChangeOf are extra predicate paths. The implicated properties are always
	// predicates.
	OnChangeOf []string
	Predicate  Predicate
	// Invocation adds triggers. Zero means OnInit plus predicate changes.
	Invocation Invocation
}

// ConditionRule maps an assertion onto a condition attached to the target.
type ConditionRule struct {
	*Rule
	opts          ConditionOptions
	conditionType *model.ConditionType
	properties    []*model.Property
	predicate     Predicate
}

// NewCondition configures a condition rule against root.
func NewCondition(root *model.Type, opts ConditionOptions) (*ConditionRule, error) {
	if opts.Predicate == nil {
		return nil, fmt.Errorf("%w: condition rule %s", ErrMissingFunction, opts.Name)
	}
	return newConditionRule(root, opts, opts.Predicate), nil
}

func newConditionRule(root *model.Type, opts ConditionOptions, pred Predicate) *ConditionRule {
	if opts.Category == "" {
		opts.Category = model.CategoryError
	}
	if opts.Name == "" {
		opts.Name = "Condition"
	}
	cr := &ConditionRule{opts: opts, predicate: pred}
	cr.Rule = New(root, ruleName(root, opts), cr.execute)

	if opts.Invocation == 0 {
		cr.OnInit()
	} else {
		cr.invocation |= opts.Invocation &^ (PropertyChanged | PropertyGet)
	}
	preds := append(append([]string(nil), opts.Properties...), opts.OnChangeOf...)
	if len(preds) > 0 {
		cr.OnChangeOf(preds...)
	}
	for _, path := range opts.Properties {
		cr.resolve(path, func(pp model.PropertyPath) error {
			cr.properties = append(cr.properties, pp.LastProperty())
			return nil
		})
	}
	return cr
}

func ruleName(root *model.Type, opts ConditionOptions) string {
	if len(opts.Properties) == 0 {
		return root.Name() + "." + opts.Name
	}
	return root.Name() + "." + opts.Properties[0] + "." + opts.Name
}

// Register registers the condition type and the rule.
func (cr *ConditionRule) Register() error {
	code := cr.opts.Code
	if code == "" {
		code = cr.name
	}
	m := cr.root.Model()
	cr.conditionType = m.ConditionType(code)
	if cr.conditionType == nil {
		ct, err := m.AddConditionType(code, cr.opts.Category, cr.opts.Message, model.OriginClient)
		if err != nil {
			return err
		}
		cr.conditionType = ct
	}
	return cr.Rule.Register()
}

// ConditionType returns the condition type asserted by the rule.
func (cr *ConditionRule) ConditionType() *model.ConditionType { return cr.conditionType }

// Properties returns the implicated properties.
func (cr *ConditionRule) Properties() []*model.Property {
	return append([]*model.Property(nil), cr.properties...)
}

// Message returns the condition message for target.
func (cr *ConditionRule) Message(target *model.Entity) string {
	if cr.opts.MessageFunc != nil {
		return cr.opts.MessageFunc(target)
	}
	return cr.opts.Message
}

// Assert evaluates the predicate for target without touching conditions.
func (cr *ConditionRule) Assert(target *model.Entity) (assert, known bool) {
	return cr.predicate.assert(cr, target)
}

func (cr *ConditionRule) execute(target *model.Entity) error {
	assert, known := cr.Assert(target)
	if !known {
		return nil
	}
	cr.conditionType.When(assert, target, cr.properties, cr.Message(target))
	return nil
}
