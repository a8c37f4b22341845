// Package condition implements the Condition predicate tree used by
// conditional/switch steps, filter transforms, and validation rules:
// simple{field, operator, value} leaves combined with complex_and /
// complex_or / complex_not, plus raw sandboxed expression strings.
//
// Grounded on orchestrator/workflow_engine.go's ConditionalProcessor
// (evaluateCondition, extractValue) and orchestrator/dynamic_policy_engine.go's
// PolicyCondition operator set (getaxonflow-axonflow), generalized from a
// single string-parsed "==" comparison and a flat policy operator list into
// the full comparison/containment/regex/date-window table spec.md section 4.7
// requires, and from a flat condition list to a recursive
// complex_and/complex_or/complex_not tree.
package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AgentsPilot/neuronforge-sub010/internal/variable"
)

// Kind discriminates a Condition node.
type Kind string

const (
	KindSimple     Kind = "simple"
	KindComplexAnd Kind = "complex_and"
	KindComplexOr  Kind = "complex_or"
	KindComplexNot Kind = "complex_not"
	KindExpression Kind = "expression"
)

// Condition is the sum type spec.md section 3 "Condition" describes.
// Exactly one of the payload fields is meaningful, selected by Kind.
type Condition struct {
	Kind Kind `json:"kind"`

	// KindSimple
	Field    string      `json:"field,omitempty"`
	Operator string      `json:"operator,omitempty"`
	Value    interface{} `json:"value,omitempty"`

	// KindComplexAnd / KindComplexOr
	Conditions []Condition `json:"conditions,omitempty"`

	// KindComplexNot
	Condition *Condition `json:"condition,omitempty"`

	// KindExpression: a raw string evaluated in the sandboxed evaluator.
	Expression string `json:"expression,omitempty"`
}

// Evaluator resolves {{...}} references inside a Condition's Field/Value
// against a bound variable.Resolver and folds the tree to a bool.
type Evaluator struct {
	resolver *variable.Resolver
}

// NewEvaluator builds a condition Evaluator bound to a resolver.
func NewEvaluator(r *variable.Resolver) *Evaluator {
	return &Evaluator{resolver: r}
}

// Evaluate folds a Condition tree to a boolean result, per spec.md 4.7:
// complex_and is the fold-AND of children, complex_or the fold-OR,
// complex_not inverts its single child, and simple conditions resolve Field
// and compare to Value via the operator table.
func (e *Evaluator) Evaluate(c Condition) (bool, error) {
	switch c.Kind {
	case KindComplexAnd:
		for _, child := range c.Conditions {
			ok, err := e.Evaluate(child)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case KindComplexOr:
		for _, child := range c.Conditions {
			ok, err := e.Evaluate(child)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case KindComplexNot:
		if c.Condition == nil {
			return false, fmt.Errorf("complex_not condition missing child")
		}
		ok, err := e.Evaluate(*c.Condition)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case KindExpression:
		val, ok := variable.EvaluateExpression(c.Expression)
		if !ok {
			return false, fmt.Errorf("could not evaluate expression %q", c.Expression)
		}
		return truthy(val), nil
	case KindSimple:
		return e.evaluateSimple(c)
	default:
		return false, fmt.Errorf("unknown condition kind %q", c.Kind)
	}
}

func (e *Evaluator) evaluateSimple(c Condition) (bool, error) {
	left, err := e.resolveField(c.Field)
	if err != nil && !isExistenceOperator(c.Operator) {
		return false, err
	}

	switch c.Operator {
	case "equals", "eq", "==":
		return looseEquals(left, c.Value), nil
	case "not_equals", "ne", "!=":
		return !looseEquals(left, c.Value), nil
	case "greater_than", "gt", ">":
		return compareNumeric(left, c.Value, func(a, b float64) bool { return a > b })
	case "greater_than_or_equal", "gte", ">=":
		return compareNumeric(left, c.Value, func(a, b float64) bool { return a >= b })
	case "less_than", "lt", "<":
		return compareNumeric(left, c.Value, func(a, b float64) bool { return a < b })
	case "less_than_or_equal", "lte", "<=":
		return compareNumeric(left, c.Value, func(a, b float64) bool { return a <= b })
	case "contains":
		return contains(left, c.Value), nil
	case "not_contains":
		return !contains(left, c.Value), nil
	case "starts_with":
		return strings.HasPrefix(toStringVal(left), toStringVal(c.Value)), nil
	case "ends_with":
		return strings.HasSuffix(toStringVal(left), toStringVal(c.Value)), nil
	case "in":
		return inList(left, c.Value), nil
	case "not_in":
		return !inList(left, c.Value), nil
	case "regex", "matches":
		return regexMatch(left, c.Value)
	case "exists":
		return err == nil, nil
	case "not_exists":
		return err != nil, nil
	case "is_empty":
		return isEmptyValue(left), nil
	case "is_not_empty":
		return !isEmptyValue(left), nil
	case "within_last_days":
		return withinLastDays(left, c.Value)
	case "before":
		return dateCompare(left, c.Value, func(a, b time.Time) bool { return a.Before(b) })
	case "after":
		return dateCompare(left, c.Value, func(a, b time.Time) bool { return a.After(b) })
	default:
		return false, fmt.Errorf("unknown operator %q", c.Operator)
	}
}

func isExistenceOperator(op string) bool {
	return op == "exists" || op == "not_exists" || op == "is_empty" || op == "is_not_empty"
}

// resolveField resolves a Condition.Field. Fields that look like a {{path}}
// reference (or a bare path) are resolved through the variable resolver;
// anything else is treated as a literal.
func (e *Evaluator) resolveField(field string) (interface{}, error) {
	if field == "" {
		return nil, fmt.Errorf("empty field")
	}
	if path, ok := variable.IsSoleReference(field); ok {
		return e.resolver.Resolve(path)
	}
	if len(variable.FindReferences(field)) > 0 {
		return variable.ResolveAllVariables(field, e.resolver)
	}
	return e.resolver.Resolve(field)
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

func looseEquals(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return toStringVal(a) == toStringVal(b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toStringVal(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func compareNumeric(a, b interface{}, cmp func(a, b float64) bool) (bool, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false, fmt.Errorf("non-numeric comparison: %v vs %v", a, b)
	}
	return cmp(af, bf), nil
}

func contains(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, toStringVal(needle))
	case []interface{}:
		for _, item := range h {
			if looseEquals(item, needle) {
				return true
			}
		}
		return false
	}
	return false
}

func inList(v, list interface{}) bool {
	arr, ok := list.([]interface{})
	if !ok {
		return false
	}
	for _, item := range arr {
		if looseEquals(v, item) {
			return true
		}
	}
	return false
}

func regexMatch(v, pattern interface{}) (bool, error) {
	re, err := regexp.Compile(toStringVal(pattern))
	if err != nil {
		return false, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	return re.MatchString(toStringVal(v)), nil
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}

// dateLayouts are attempted in order when parsing a date-valued field; the
// RFC3339 variants cover ISO timestamps most connectors return.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseDate(v interface{}) (time.Time, error) {
	s := toStringVal(v)
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func withinLastDays(v, days interface{}) (bool, error) {
	t, err := parseDate(v)
	if err != nil {
		return false, err
	}
	d, ok := toFloat(days)
	if !ok {
		return false, fmt.Errorf("within_last_days value must be numeric")
	}
	cutoff := time.Now().AddDate(0, 0, -int(d))
	return t.After(cutoff), nil
}

func dateCompare(a, b interface{}, cmp func(a, b time.Time) bool) (bool, error) {
	ta, err := parseDate(a)
	if err != nil {
		return false, err
	}
	tb, err := parseDate(b)
	if err != nil {
		return false, err
	}
	return cmp(ta, tb), nil
}
