package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// ErrInvalidFilter is wrapped by filter parse failures so callers can
// classify them as configuration errors.
var ErrInvalidFilter = errors.New("invalid filter syntax")

// Direction controls how filter values are compared.
type Direction int

const (
	// DirectionExact glob-matches the candidate value against the pattern.
	DirectionExact Direction = iota

	// DirectionGTE resolves both values against the severity ordering and
	// matches when the candidate ranks at or above the pattern. Used so
	// warn-on severity=high also downgrades critical findings.
	DirectionGTE
)

type filterTerm struct {
	key     string
	raw     string
	pattern glob.Glob
}

// ExecutionFilter selects policies or findings via key=value glob pairs.
// An empty filter matches everything. Two instances exist per run: the
// selection filter and the warn filter.
type ExecutionFilter struct {
	terms     []filterTerm
	direction Direction
}

// ParseFilter parses a whitespace-separated list of key=value tokens.
// Values may use * and ? globbing; keys are matched exactly. A token
// without = or with an empty key is a syntax error.
func ParseFilter(spec string, direction Direction) (*ExecutionFilter, error) {
	f := &ExecutionFilter{direction: direction}
	for _, token := range strings.Fields(spec) {
		key, value, found := strings.Cut(token, "=")
		if !found {
			return nil, fmt.Errorf("%w: token %q is not a key=value pair", ErrInvalidFilter, token)
		}
		if key == "" {
			return nil, fmt.Errorf("%w: token %q has an empty key", ErrInvalidFilter, token)
		}
		if isSeverityKey(key) {
			// Severity comparison is case-insensitive; policy attribute
			// bags carry the lowercase form.
			value = strings.ToLower(value)
		}
		pattern, err := glob.Compile(value)
		if err != nil {
			return nil, fmt.Errorf("%w: bad pattern %q: %v", ErrInvalidFilter, value, err)
		}
		f.terms = append(f.terms, filterTerm{key: key, raw: value, pattern: pattern})
	}
	return f, nil
}

// Empty reports whether the filter has no configured terms.
func (f *ExecutionFilter) Empty() bool {
	return len(f.terms) == 0
}

// Matches reports whether the candidate attribute bag satisfies every
// configured term. A candidate missing a configured key never matches.
func (f *ExecutionFilter) Matches(attrs map[string]string) bool {
	for _, term := range f.terms {
		candidate, ok := attrs[term.key]
		if !ok {
			return false
		}
		if isSeverityKey(term.key) {
			if f.direction == DirectionGTE {
				if ParseSeverity(candidate).Rank() < ParseSeverity(term.raw).Rank() {
					return false
				}
				continue
			}
			candidate = strings.ToLower(candidate)
		}
		if !term.pattern.Match(candidate) {
			return false
		}
	}
	return true
}

func isSeverityKey(key string) bool {
	return key == "severity"
}

// FilterPolicies returns the subset of policies whose metadata satisfies
// the filter, preserving load order.
func (f *ExecutionFilter) FilterPolicies(policies []*Policy) []*Policy {
	if f.Empty() {
		return policies
	}
	var selected []*Policy
	for _, p := range policies {
		if f.Matches(p.Attributes()) {
			selected = append(selected, p)
		}
	}
	return selected
}
