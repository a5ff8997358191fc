package transport

// RuleMetadata describes a rule declared by the server. Kind selects which of the
// remaining fields apply.
type RuleMetadata struct {
	Kind          string   `json:"kind" yaml:"kind"`
	Name          string   `json:"name,omitempty" yaml:"name,omitempty"`
	Message       string   `json:"message,omitempty" yaml:"message,omitempty"`
	Min           any      `json:"min,omitempty" yaml:"min,omitempty"`
	Max           any      `json:"max,omitempty" yaml:"max,omitempty"`
	Source        string   `json:"source,omitempty" yaml:"source,omitempty"`
	CompareSource string   `json:"compareSource,omitempty" yaml:"compareSource,omitempty"`
	Operator      string   `json:"operator,omitempty" yaml:"operator,omitempty"`
	CompareValue  any      `json:"compareValue,omitempty" yaml:"compareValue,omitempty"`
	Expression    string   `json:"expression,omitempty" yaml:"expression,omitempty"`
	OnChangeOf    []string `json:"onChangeOf,omitempty" yaml:"onChangeOf,omitempty"`
	Category      string   `json:"category,omitempty" yaml:"category,omitempty"`
	Code          string   `json:"code,omitempty" yaml:"code,omitempty"`
}

// Rule kinds understood by the client.
const (
	RuleRequired      = "required"
	RuleRange         = "range"
	RuleStringLength  = "stringLength"
	RuleCompare       = "compare"
	RuleRequiredIf    = "requiredIf"
	RuleAllowedValues = "allowedValues"
	RuleCondition     = "condition"
	RuleCalculated    = "calculated"
)

// PropertyMetadata describes one property. IsPersisted defaults to true when absent.
type PropertyMetadata struct {
	Type         string         `json:"type" yaml:"type"`
	IsList       bool           `json:"isList,omitempty" yaml:"isList,omitempty"`
	IsStatic     bool           `json:"isStatic,omitempty" yaml:"isStatic,omitempty"`
	IsPersisted  *bool          `json:"isPersisted,omitempty" yaml:"isPersisted,omitempty"`
	IsCalculated bool           `json:"isCalculated,omitempty" yaml:"isCalculated,omitempty"`
	Label        string         `json:"label,omitempty" yaml:"label,omitempty"`
	Format       string         `json:"format,omitempty" yaml:"format,omitempty"`
	Rules        []RuleMetadata `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// Persisted reports the effective persistence flag.
func (p PropertyMetadata) Persisted() bool {
	return p.IsPersisted == nil || *p.IsPersisted
}

// TypeMetadata describes one entity type.
type TypeMetadata struct {
	BaseType   string                      `json:"baseType,omitempty" yaml:"baseType,omitempty"`
	Properties map[string]PropertyMetadata `json:"properties" yaml:"properties"`
	// Order lists property names in declaration order. Properties missing from it are
	// added afterwards in name order.
	Order []string `json:"order,omitempty" yaml:"order,omitempty"`
	// Rules are type-level rules not bound to one property.
	Rules []RuleMetadata `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// ConditionTypeMetadata describes a server condition type.
type ConditionTypeMetadata struct {
	Code     string   `json:"code" yaml:"code"`
	Category string   `json:"category" yaml:"category"`
	Message  string   `json:"message,omitempty" yaml:"message,omitempty"`
	Sets     []string `json:"sets,omitempty" yaml:"sets,omitempty"`
}

// TypesResponse answers a TypesRequest.
type TypesResponse struct {
	Types          map[string]TypeMetadata `json:"types"`
	ConditionTypes []ConditionTypeMetadata `json:"conditionTypes,omitempty"`
}
