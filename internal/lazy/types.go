package lazy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/rule"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

// TypeLoader fetches type metadata and builds the types, their properties, condition
// types and rules.
type TypeLoader struct {
	mg *Manager
}

// Load implements Loader. target is a type name or a slice of type names.
func (tl *TypeLoader) Load(ctx context.Context, target any, _ string) error {
	switch t := target.(type) {
	case string:
		return tl.Ensure(ctx, t)
	case []string:
		return tl.Ensure(ctx, t...)
	}
	return fmt.Errorf("%w: type loader cannot load %T", model.ErrInvalidValue, target)
}

func (tl *TypeLoader) missing(names []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, n := range names {
		if n == "" || seen[n] || model.IsValueType(n) || tl.mg.model.Type(n) != nil {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Ensure makes sure the named types exist, fetching the missing ones together with
// any missing base types.
func (tl *TypeLoader) Ensure(ctx context.Context, names ...string) error {
	missing := tl.missing(names)
	if len(missing) == 0 {
		return nil
	}
	shared, err := tl.mg.group.Do(ctx, Key("types", strings.Join(missing, ",")), func(ctx context.Context) error {
		resp, err := tl.fetch(ctx, tl.missing(missing))
		if err != nil {
			return err
		}
		tl.mg.apply.Lock()
		defer tl.mg.apply.Unlock()
		return tl.Build(resp)
	})
	tl.mg.observe("types", shared, err)
	if err != nil {
		return err
	}
	for _, n := range missing {
		if tl.mg.model.Type(n) == nil {
			return fmt.Errorf("%w: %s not returned by the server", model.ErrTypeNotFound, n)
		}
	}
	return nil
}

// fetch requests names, then the base types named in the answer that are not known
// yet, until every base type is either known or fetched.
func (tl *TypeLoader) fetch(ctx context.Context, names []string) (*transport.TypesResponse, error) {
	out := &transport.TypesResponse{Types: map[string]transport.TypeMetadata{}}
	for len(names) > 0 {
		resp, err := tl.mg.transport.Types(ctx, &transport.TypesRequest{Names: names})
		if err != nil {
			return nil, fmt.Errorf("load types %s: %w", strings.Join(names, ","), err)
		}
		for n, meta := range resp.Types {
			out.Types[n] = meta
		}
		out.ConditionTypes = append(out.ConditionTypes, resp.ConditionTypes...)
		var bases []string
		for _, meta := range resp.Types {
			if _, ok := out.Types[meta.BaseType]; meta.BaseType != "" && !ok {
				bases = append(bases, meta.BaseType)
			}
		}
		names = tl.missing(bases)
	}
	return out, nil
}

// EnsurePath makes sure root and every type reached by the paths in tree exist.
func (tl *TypeLoader) EnsurePath(ctx context.Context, root string, tree *model.PathTree) error {
	if err := tl.Ensure(ctx, root); err != nil {
		return err
	}
	if tree == nil {
		return nil
	}
	t := tl.mg.model.Type(root)
	for _, child := range tree.Children {
		p := t.Property(child.Step.Property)
		if p == nil {
			return fmt.Errorf("%w: %s.%s", model.ErrPropertyNotFound, root, child.Step.Property)
		}
		next := p.Type()
		if child.Step.Cast != "" {
			next = child.Step.Cast
		}
		if model.IsValueType(next) {
			continue
		}
		if err := tl.EnsurePath(ctx, next, child); err != nil {
			return err
		}
	}
	return nil
}

// EnsureResponse makes sure every type resp needs exists before it is applied: the
// types of its instances and static values, then the declared types of the references
// they carry. Deferred lists and null references need no item type.
func (tl *TypeLoader) EnsureResponse(ctx context.Context, resp *transport.Response) error {
	if resp == nil {
		return nil
	}
	names := append(sortedKeys(resp.Instances), sortedKeys(resp.Statics)...)
	if err := tl.Ensure(ctx, names...); err != nil {
		return err
	}
	var refs []string
	for typeName, byID := range resp.Instances {
		for _, props := range byID {
			refs = append(refs, tl.refTypes(typeName, props)...)
		}
	}
	for typeName, props := range resp.Statics {
		refs = append(refs, tl.refTypes(typeName, props)...)
	}
	return tl.Ensure(ctx, refs...)
}

func (tl *TypeLoader) refTypes(typeName string, props transport.Properties) []string {
	t := tl.mg.model.Type(typeName)
	if t == nil {
		return nil
	}
	var out []string
	for name, raw := range props {
		p := t.Property(name)
		if p == nil || p.IsValueType() {
			continue
		}
		value := bytes.TrimSpace(raw)
		if bytes.Equal(value, []byte("null")) {
			continue
		}
		if p.IsList() {
			var lv transport.ListValue
			if err := json.Unmarshal(value, &lv); err != nil || lv.Deferred || len(lv.Items) == 0 {
				continue
			}
		}
		out = append(out, p.Type())
	}
	return out
}

// Build adds the types described by resp. Types already present are left alone.
// Base types missing from both the model and resp are reported as errors.
func (tl *TypeLoader) Build(resp *transport.TypesResponse) error {
	m := tl.mg.model
	for _, ct := range resp.ConditionTypes {
		if m.ConditionType(ct.Code) != nil {
			continue
		}
		category := model.Category(ct.Category)
		if category == "" {
			category = model.CategoryError
		}
		if _, err := m.AddConditionType(ct.Code, category, ct.Message, model.OriginServer, ct.Sets...); err != nil {
			return err
		}
	}

	var built []*model.Type
	remaining := sortedKeys(resp.Types)
	for len(remaining) > 0 {
		var next []string
		progress := false
		for _, name := range remaining {
			if m.Type(name) != nil {
				progress = true
				continue
			}
			meta := resp.Types[name]
			var base *model.Type
			if meta.BaseType != "" {
				if base = m.Type(meta.BaseType); base == nil {
					next = append(next, name)
					continue
				}
			}
			t, err := m.AddType(name, base, model.OriginServer)
			if err != nil {
				return err
			}
			if err := addProperties(t, meta); err != nil {
				return err
			}
			built = append(built, t)
			progress = true
		}
		if !progress {
			return fmt.Errorf("%w: base types of %s", model.ErrTypeNotFound, strings.Join(next, ","))
		}
		remaining = next
	}

	var errs []error
	for _, t := range built {
		meta := resp.Types[t.Name()]
		for _, name := range propertyOrder(meta) {
			for _, rm := range meta.Properties[name].Rules {
				errs = append(errs, registerRule(t, name, rm))
			}
		}
		for _, rm := range meta.Rules {
			errs = append(errs, registerRule(t, "", rm))
		}
	}
	return errors.Join(errs...)
}

func registerRule(t *model.Type, property string, rm transport.RuleMetadata) error {
	r, err := rule.FromMetadata(t, property, rm)
	if err != nil {
		return err
	}
	return r.Register()
}

func addProperties(t *model.Type, meta transport.TypeMetadata) error {
	for _, name := range propertyOrder(meta) {
		pm := meta.Properties[name]
		_, err := t.AddProperty(model.PropertyDef{
			Name:         name,
			Type:         pm.Type,
			IsList:       pm.IsList,
			IsStatic:     pm.IsStatic,
			IsPersisted:  pm.Persisted(),
			IsCalculated: pm.IsCalculated,
			Label:        pm.Label,
			Format:       pm.Format,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func propertyOrder(meta transport.TypeMetadata) []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range meta.Order {
		if _, ok := meta.Properties[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range sortedKeys(meta.Properties) {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out
}
