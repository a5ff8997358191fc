// Package schema reads the YAML model schema served by the entity service: the type
// metadata, condition types and static property values.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

// ErrInvalidSchema is returned when a schema document is inconsistent.
var ErrInvalidSchema = errors.New("invalid schema")

// Schema is a parsed model schema.
type Schema struct {
	Types          map[string]transport.TypeMetadata `yaml:"types"`
	ConditionTypes []transport.ConditionTypeMetadata `yaml:"conditionTypes,omitempty"`
	// Statics maps type name to static property values.
	Statics map[string]map[string]any `yaml:"statics,omitempty"`
}

// Load reads and parses the schema at path.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML schema document.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that base types and property types exist, that the hierarchy has
// no cycles, and that statics name static properties.
func (s *Schema) Validate() error {
	if len(s.Types) == 0 {
		return fmt.Errorf("%w: no types", ErrInvalidSchema)
	}
	var errs []error
	for _, name := range s.TypeNames() {
		meta := s.Types[name]
		if meta.BaseType != "" {
			if _, ok := s.Types[meta.BaseType]; !ok {
				errs = append(errs, fmt.Errorf("%w: %s has unknown base type %s", ErrInvalidSchema, name, meta.BaseType))
			}
		}
		seen := map[string]bool{name: true}
		for base := meta.BaseType; base != ""; base = s.Types[base].BaseType {
			if seen[base] {
				errs = append(errs, fmt.Errorf("%w: %s inherits from itself", ErrInvalidSchema, name))
				break
			}
			seen[base] = true
		}
		for prop, pm := range meta.Properties {
			if pm.Type == "" {
				errs = append(errs, fmt.Errorf("%w: %s.%s has no type", ErrInvalidSchema, name, prop))
				continue
			}
			if _, ok := s.Types[pm.Type]; !ok && !model.IsValueType(pm.Type) {
				errs = append(errs, fmt.Errorf("%w: %s.%s has unknown type %s", ErrInvalidSchema, name, prop, pm.Type))
			}
		}
	}
	for name, props := range s.Statics {
		for prop := range props {
			pm, ok := s.Property(name, prop)
			if !ok || !pm.IsStatic {
				errs = append(errs, fmt.Errorf("%w: static value for %s.%s which is not a static property", ErrInvalidSchema, name, prop))
			}
		}
	}
	return errors.Join(errs...)
}

// TypeNames returns the type names in order.
func (s *Schema) TypeNames() []string {
	names := make([]string, 0, len(s.Types))
	for name := range s.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Root returns the root of the hierarchy of name.
func (s *Schema) Root(name string) string {
	for {
		meta, ok := s.Types[name]
		if !ok || meta.BaseType == "" {
			return name
		}
		name = meta.BaseType
	}
}

// IsA reports whether name is base or derives from it.
func (s *Schema) IsA(name, base string) bool {
	for name != "" {
		if name == base {
			return true
		}
		name = s.Types[name].BaseType
	}
	return false
}

// Property returns the metadata of prop declared on name or one of its base types.
func (s *Schema) Property(name, prop string) (transport.PropertyMetadata, bool) {
	for name != "" {
		meta, ok := s.Types[name]
		if !ok {
			break
		}
		if pm, ok := meta.Properties[prop]; ok {
			return pm, true
		}
		name = meta.BaseType
	}
	return transport.PropertyMetadata{}, false
}

// Defaults returns the values a new instance of name starts with. Boolean properties
// start out false, as the client initializes them, and every other property is absent.
func (s *Schema) Defaults(name string) transport.Properties {
	props := transport.Properties{}
	for name != "" {
		meta, ok := s.Types[name]
		if !ok {
			break
		}
		for prop, pm := range meta.Properties {
			if pm.Type != model.TypeBoolean || pm.IsList || pm.IsStatic || pm.IsCalculated || !pm.Persisted() {
				continue
			}
			if _, ok := props[prop]; !ok {
				props[prop] = json.RawMessage("false")
			}
		}
		name = meta.BaseType
	}
	return props
}

// Declaring returns the type along the hierarchy of name that declares prop, or "".
func (s *Schema) Declaring(name, prop string) string {
	for name != "" {
		meta, ok := s.Types[name]
		if !ok {
			break
		}
		if _, ok := meta.Properties[prop]; ok {
			return name
		}
		name = meta.BaseType
	}
	return ""
}

// Properties returns every property of name including inherited ones.
func (s *Schema) Properties(name string) map[string]transport.PropertyMetadata {
	out := map[string]transport.PropertyMetadata{}
	var chain []string
	for n := name; n != ""; n = s.Types[n].BaseType {
		if _, ok := s.Types[n]; !ok {
			break
		}
		chain = append(chain, n)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		for prop, pm := range s.Types[chain[i]].Properties {
			out[prop] = pm
		}
	}
	return out
}

// Describe answers a types request. Unknown names are reported in the error.
func (s *Schema) Describe(names []string) (*transport.TypesResponse, error) {
	out := &transport.TypesResponse{Types: map[string]transport.TypeMetadata{}, ConditionTypes: s.ConditionTypes}
	var missing []string
	for _, name := range names {
		meta, ok := s.Types[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		out.Types[name] = meta
	}
	if len(missing) > 0 {
		return out, fmt.Errorf("%w: %v", model.ErrTypeNotFound, missing)
	}
	return out, nil
}

// StaticValues returns the JSON encoded static values of name, or nil when it has none.
func (s *Schema) StaticValues(name string) (transport.Properties, error) {
	props, ok := s.Statics[name]
	if !ok {
		return nil, nil
	}
	out := make(transport.Properties, len(props))
	for prop, v := range props {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("static %s.%s: %w", name, prop, err)
		}
		out[prop] = b
	}
	return out, nil
}
