package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
)

// Op is the closed set of leaf predicate operators.
type Op string

const (
	OpEq          Op = "eq"
	OpNe          Op = "ne"
	OpIn          Op = "in"
	OpNotIn       Op = "not-in"
	OpContains    Op = "contains"
	OpNotContains Op = "not-contains"
	OpGlob        Op = "glob"
	OpRegex       Op = "regex"
	OpAbsent      Op = "absent"
	OpPresent     Op = "present"
	OpGt          Op = "gt"
	OpGe          Op = "ge"
	OpLt          Op = "lt"
	OpLe          Op = "le"
)

// Condition is one node of a policy's boolean filter tree, evaluated
// against a resource node's attribute mapping.
type Condition interface {
	Evaluate(attrs map[string]any) (bool, error)
}

// And matches when every child matches. Short-circuits on the first
// non-match.
type And []Condition

func (c And) Evaluate(attrs map[string]any) (bool, error) {
	for _, child := range c {
		ok, err := child.Evaluate(attrs)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Or matches when any child matches. Short-circuits on the first match.
type Or []Condition

func (c Or) Evaluate(attrs map[string]any) (bool, error) {
	for _, child := range c {
		ok, err := child.Evaluate(attrs)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Not inverts a single child.
type Not struct {
	Child Condition
}

func (c Not) Evaluate(attrs map[string]any) (bool, error) {
	ok, err := c.Child.Evaluate(attrs)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Match is a leaf predicate comparing an attribute path against a literal.
// A missing path evaluates to no-match unless the operator is absent.
type Match struct {
	// Path is the dotted, optionally indexed attribute path
	// (e.g. "versioning.enabled", "ingress[0].cidr_blocks").
	Path string

	// Op is the comparison operator.
	Op Op

	// Value is the literal or pattern operand. Unused for absent/present.
	Value any

	re      *regexp.Regexp
	pattern glob.Glob
}

// NewMatch compiles a leaf predicate. Regex and glob patterns are compiled
// once at load time so evaluation cannot fail on pattern syntax.
func NewMatch(path string, op Op, value any) (*Match, error) {
	m := &Match{Path: path, Op: op, Value: value}
	switch op {
	case OpRegex:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("regex operand for %q must be a string, got %T", path, value)
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("invalid regex for %q: %w", path, err)
		}
		m.re = re
	case OpGlob:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("glob operand for %q must be a string, got %T", path, value)
		}
		g, err := glob.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("invalid glob for %q: %w", path, err)
		}
		m.pattern = g
	case OpIn, OpNotIn:
		if _, ok := value.([]any); !ok {
			return nil, fmt.Errorf("%s operand for %q must be a list, got %T", op, path, value)
		}
	case OpEq, OpNe, OpContains, OpNotContains, OpGt, OpGe, OpLt, OpLe, OpAbsent, OpPresent:
	default:
		return nil, fmt.Errorf("unknown operator %q for %q", op, path)
	}
	return m, nil
}

func (m *Match) Evaluate(attrs map[string]any) (bool, error) {
	value, found := LookupPath(attrs, m.Path)

	switch m.Op {
	case OpAbsent:
		return !found || value == nil, nil
	case OpPresent:
		return found && value != nil, nil
	}
	if !found || value == nil {
		return false, nil
	}

	switch m.Op {
	case OpEq:
		return looseEqual(value, m.Value), nil
	case OpNe:
		return !looseEqual(value, m.Value), nil
	case OpIn:
		for _, candidate := range m.Value.([]any) {
			if looseEqual(value, candidate) {
				return true, nil
			}
		}
		return false, nil
	case OpNotIn:
		for _, candidate := range m.Value.([]any) {
			if looseEqual(value, candidate) {
				return false, nil
			}
		}
		return true, nil
	case OpContains:
		return containsValue(value, m.Value)
	case OpNotContains:
		ok, err := containsValue(value, m.Value)
		return !ok, err
	case OpGlob:
		return m.pattern.Match(stringify(value)), nil
	case OpRegex:
		return m.re.MatchString(stringify(value)), nil
	case OpGt, OpGe, OpLt, OpLe:
		return compareNumeric(m.Op, value, m.Value)
	}
	return false, fmt.Errorf("unknown operator %q", m.Op)
}

// LookupPath resolves a dotted, optionally indexed path against a nested
// attribute mapping. Returns false when any segment is missing or the
// shape does not admit the segment.
func LookupPath(attrs map[string]any, path string) (any, bool) {
	var current any = attrs
	for _, segment := range splitPath(path) {
		if segment.index >= 0 {
			list, ok := current.([]any)
			if !ok || segment.index >= len(list) {
				return nil, false
			}
			current = list[segment.index]
			continue
		}
		mapping, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = mapping[segment.key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

type pathSegment struct {
	key   string
	index int
}

func splitPath(path string) []pathSegment {
	var segments []pathSegment
	for _, part := range strings.Split(path, ".") {
		for {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				if part != "" {
					segments = append(segments, pathSegment{key: part, index: -1})
				}
				break
			}
			if open > 0 {
				segments = append(segments, pathSegment{key: part[:open], index: -1})
			}
			closing := strings.IndexByte(part, ']')
			if closing < open {
				segments = append(segments, pathSegment{key: part, index: -1})
				break
			}
			idx, err := strconv.Atoi(part[open+1 : closing])
			if err != nil {
				idx = -1
			}
			segments = append(segments, pathSegment{index: idx})
			part = part[closing+1:]
			if part == "" {
				break
			}
		}
	}
	return segments
}

// looseEqual compares scalars with YAML-friendly coercion: numbers compare
// numerically across int/float, everything else by normalized string.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return stringify(a) == stringify(b)
}

func containsValue(haystack, needle any) (bool, error) {
	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true, nil
			}
		}
		return false, nil
	case string:
		return strings.Contains(h, stringify(needle)), nil
	case map[string]any:
		key, ok := needle.(string)
		if !ok {
			return false, nil
		}
		_, present := h[key]
		return present, nil
	default:
		return false, fmt.Errorf("contains not applicable to %T", haystack)
	}
}

func compareNumeric(op Op, a, b any) (bool, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false, fmt.Errorf("%s requires numeric operands, got %T and %T", op, a, b)
	}
	switch op {
	case OpGt:
		return af > bf, nil
	case OpGe:
		return af >= bf, nil
	case OpLt:
		return af < bf, nil
	case OpLe:
		return af <= bf, nil
	}
	return false, fmt.Errorf("unknown numeric operator %q", op)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
