package fga

import (
	"fmt"
	"regexp"
	"strings"
)

// Operator is a comparison operator usable in a condition leaf.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNe          Operator = "ne"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpRegex       Operator = "regex"
)

// Condition is one node of an attribute condition tree. A node is
// either a leaf (Attribute/Operator/Value set) or exactly one of the
// grouping fields.
type Condition struct {
	Attribute string   `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	Operator  Operator `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value     any      `json:"value,omitempty" yaml:"value,omitempty"`

	All []*Condition `json:"all,omitempty" yaml:"all,omitempty"` // AND
	Any []*Condition `json:"any,omitempty" yaml:"any,omitempty"` // OR
	Not *Condition   `json:"not,omitempty" yaml:"not,omitempty"`
}

// Evaluate walks the tree against the flattened attribute map.
// A missing attribute never matches, regardless of operator.
func (c *Condition) Evaluate(attrs map[string]any) (bool, error) {
	switch {
	case c == nil:
		return true, nil
	case len(c.All) > 0:
		for _, sub := range c.All {
			ok, err := sub.Evaluate(attrs)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case len(c.Any) > 0:
		for _, sub := range c.Any {
			ok, err := sub.Evaluate(attrs)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case c.Not != nil:
		ok, err := c.Not.Evaluate(attrs)
		return !ok, err
	case c.Attribute != "":
		return c.evaluateLeaf(attrs)
	default:
		return false, fmt.Errorf("%w: node has neither operator nor group", ErrMalformedCondition)
	}
}

// Validate checks the tree statically: every leaf uses a known
// operator and every node is either a leaf or exactly one group.
func (c *Condition) Validate() error {
	if c == nil {
		return nil
	}
	groups := 0
	if len(c.All) > 0 {
		groups++
	}
	if len(c.Any) > 0 {
		groups++
	}
	if c.Not != nil {
		groups++
	}
	if c.Attribute != "" {
		if groups > 0 {
			return fmt.Errorf("%w: leaf %q also has groups", ErrMalformedCondition, c.Attribute)
		}
		switch c.Operator {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn,
			OpContains, OpNotContains, OpStartsWith, OpEndsWith, OpRegex:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
		}
		return nil
	}
	if groups != 1 {
		return fmt.Errorf("%w: node has neither operator nor group", ErrMalformedCondition)
	}
	for _, sub := range c.All {
		if err := sub.Validate(); err != nil {
			return err
		}
	}
	for _, sub := range c.Any {
		if err := sub.Validate(); err != nil {
			return err
		}
	}
	if c.Not != nil {
		return c.Not.Validate()
	}
	return nil
}

// Attributes collects every attribute name the tree references.
func (c *Condition) Attributes() []string {
	var out []string
	c.collectAttributes(&out)
	return out
}

func (c *Condition) collectAttributes(out *[]string) {
	if c == nil {
		return
	}
	if c.Attribute != "" {
		*out = append(*out, c.Attribute)
	}
	for _, sub := range c.All {
		sub.collectAttributes(out)
	}
	for _, sub := range c.Any {
		sub.collectAttributes(out)
	}
	c.Not.collectAttributes(out)
}

func (c *Condition) evaluateLeaf(attrs map[string]any) (bool, error) {
	actual, present := attrs[c.Attribute]
	if !present {
		return false, nil
	}

	switch c.Operator {
	case OpEq:
		return looseEqual(actual, c.Value), nil
	case OpNe:
		return !looseEqual(actual, c.Value), nil
	case OpGt, OpGte, OpLt, OpLte:
		return compareOrdered(c.Operator, actual, c.Value)
	case OpIn, OpNotIn:
		values, ok := asSlice(c.Value)
		if !ok {
			return false, fmt.Errorf("%w: %s requires a list value", ErrMalformedCondition, c.Operator)
		}
		found := false
		for _, v := range values {
			if looseEqual(actual, v) {
				found = true
				break
			}
		}
		if c.Operator == OpIn {
			return found, nil
		}
		return !found, nil
	case OpContains, OpNotContains:
		found, err := containsValue(actual, c.Value)
		if err != nil {
			return false, err
		}
		if c.Operator == OpContains {
			return found, nil
		}
		return !found, nil
	case OpStartsWith:
		s, p, ok := stringPair(actual, c.Value)
		if !ok {
			return false, nil
		}
		return strings.HasPrefix(s, p), nil
	case OpEndsWith:
		s, p, ok := stringPair(actual, c.Value)
		if !ok {
			return false, nil
		}
		return strings.HasSuffix(s, p), nil
	case OpRegex:
		s, pattern, ok := stringPair(actual, c.Value)
		if !ok {
			return false, nil
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("%w: invalid regex %q: %v", ErrMalformedCondition, pattern, err)
		}
		return re.MatchString(s), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
	}
}

// looseEqual compares across the numeric types JSON decoding produces.
func looseEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func compareOrdered(op Operator, a, b any) (bool, error) {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return orderedResult(op, compareFloats(af, bf)), nil
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return orderedResult(op, strings.Compare(as, bs)), nil
	}
	return false, fmt.Errorf("%w: %s requires comparable operands", ErrMalformedCondition, op)
}

func orderedResult(op Operator, cmp int) bool {
	switch op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// containsValue handles both substring match on strings and membership
// in list-valued attributes.
func containsValue(actual, want any) (bool, error) {
	if s, ok := actual.(string); ok {
		p, ok := want.(string)
		if !ok {
			return false, fmt.Errorf("%w: contains on a string needs a string value", ErrMalformedCondition)
		}
		return strings.Contains(s, p), nil
	}
	if items, ok := asSlice(actual); ok {
		for _, item := range items {
			if looseEqual(item, want) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	}
	return nil, false
}

func stringPair(a, b any) (string, string, bool) {
	as, ok1 := a.(string)
	bs, ok2 := b.(string)
	return as, bs, ok1 && ok2
}
