package model

import (
	"fmt"
	"sort"
	"strings"
)

// PathStep is one hop of a property path. Cast optionally narrows the type of the
// value reached by the hop, written as Prop<Type>.
type PathStep struct {
	Property string
	Cast     string
}

func (s PathStep) String() string {
	if s.Cast == "" {
		return s.Property
	}
	return s.Property + "<" + s.Cast + ">"
}

// PathTokens is a parsed dotted property path.
type PathTokens struct {
	Expression string
	Steps      []PathStep
}

// ParsePathTokens parses expressions like "this.Owner.Cars<SportsCar>.Name".
func ParsePathTokens(expression string) (*PathTokens, error) {
	expr := strings.TrimSpace(expression)
	expr = strings.TrimPrefix(expr, "this.")
	if expr == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	var steps []PathStep
	for _, part := range splitPath(expr) {
		step, err := parseStep(part)
		if err != nil {
			return nil, fmt.Errorf("%w in %q", err, expression)
		}
		steps = append(steps, step)
	}
	return &PathTokens{Expression: expr, Steps: steps}, nil
}

// splitPath splits on dots outside of cast brackets, since cast type names may be
// qualified.
func splitPath(expr string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range expr {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case '.':
			if depth == 0 {
				parts = append(parts, expr[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, expr[start:])
}

func parseStep(part string) (PathStep, error) {
	name, cast := part, ""
	if i := strings.IndexByte(part, '<'); i >= 0 {
		if !strings.HasSuffix(part, ">") {
			return PathStep{}, fmt.Errorf("%w: unterminated cast %q", ErrInvalidPath, part)
		}
		name, cast = part[:i], part[i+1:len(part)-1]
		if cast == "" {
			return PathStep{}, fmt.Errorf("%w: empty cast %q", ErrInvalidPath, part)
		}
	}
	if !isIdent(name) {
		return PathStep{}, fmt.Errorf("%w: bad step %q", ErrInvalidPath, part)
	}
	return PathStep{Property: name, Cast: cast}, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func (t *PathTokens) String() string {
	parts := make([]string, len(t.Steps))
	for i, s := range t.Steps {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

// PathTree is a set of include paths folded into a tree of steps sharing prefixes.
type PathTree struct {
	Step     PathStep
	Children []*PathTree
}

// BuildPathTree parses paths and folds them into a tree under an unnamed root.
func BuildPathTree(paths []string) (*PathTree, error) {
	root := &PathTree{}
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		tokens, err := ParsePathTokens(p)
		if err != nil {
			return nil, err
		}
		node := root
		for _, step := range tokens.Steps {
			node = node.ensure(step)
		}
	}
	return root, nil
}

func (n *PathTree) ensure(step PathStep) *PathTree {
	for _, c := range n.Children {
		if c.Step == step {
			return c
		}
	}
	c := &PathTree{Step: step}
	n.Children = append(n.Children, c)
	return c
}

// Child returns the subtree for the named property, or nil.
func (n *PathTree) Child(property string) *PathTree {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Step.Property == property {
			return c
		}
	}
	return nil
}

// Paths flattens the tree back to sorted dotted leaf paths.
func (n *PathTree) Paths() []string {
	if n == nil {
		return nil
	}
	var out []string
	var walk func(node *PathTree, prefix string)
	walk = func(node *PathTree, prefix string) {
		for _, c := range node.Children {
			p := c.Step.String()
			if prefix != "" {
				p = prefix + "." + p
			}
			if len(c.Children) == 0 {
				out = append(out, p)
				continue
			}
			walk(c, p)
		}
	}
	walk(n, "")
	sort.Strings(out)
	return out
}
