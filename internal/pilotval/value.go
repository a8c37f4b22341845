// Package pilotval holds helpers for the dynamic, JSON-shaped data that
// flows through the execution engine as plain interface{} values (step
// parameters, step outputs, resolved variables): deep copy, sorted keys,
// array coercion and item counting, plus the Value wrapper for type
// assertions and numeric coercion.
package pilotval

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Value wraps an arbitrary JSON-shaped payload: nil, bool, float64/int,
// string, []interface{}, or map[string]interface{}. It exists as a named
// type (rather than bare interface{}) so the engine has one place to hang
// deep-copy, key-ordering, and type-coercion helpers used across context
// clones and transform operations.
type Value struct {
	raw interface{}
}

// Of wraps an arbitrary Go value as a Value.
func Of(v interface{}) Value { return Value{raw: v} }

// Raw returns the underlying interface{}.
func (v Value) Raw() interface{} { return v.raw }

// IsNil reports whether the value is absent (distinct from explicit JSON null,
// which is represented as raw == nil too at the Go level; callers that need
// the "absent vs null" distinction from spec.md's invariant 4 track presence
// separately via the `ok bool` return of lookups, not through Value itself).
func (v Value) IsNil() bool { return v.raw == nil }

// Map returns the value as a map and whether the assertion succeeded.
func (v Value) Map() (map[string]interface{}, bool) {
	m, ok := v.raw.(map[string]interface{})
	return m, ok
}

// Slice returns the value as a slice and whether the assertion succeeded.
func (v Value) Slice() ([]interface{}, bool) {
	s, ok := v.raw.([]interface{})
	return s, ok
}

// String returns the value as a string and whether the assertion succeeded.
func (v Value) String() (string, bool) {
	s, ok := v.raw.(string)
	return s, ok
}

// Float64 returns the value as a float64, coercing json.Number and int types.
func (v Value) Float64() (float64, bool) {
	switch n := v.raw.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Bool returns the value as a bool and whether the assertion succeeded.
func (v Value) Bool() (bool, bool) {
	b, ok := v.raw.(bool)
	return b, ok
}

// DeepCopy returns a structurally independent copy of the value. Used when
// cloning an ExecutionContext for a parallel branch so peer branches never
// share mutable map/slice backing arrays.
func DeepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = DeepCopy(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = DeepCopy(val)
		}
		return out
	default:
		return t
	}
}

// SortedKeys returns the keys of a map[string]interface{} in lexical order,
// used anywhere field order needs to be deterministic (field_names sampling,
// render_table column ordering, stable cache-key hashing).
func SortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AsArray coerces a value to []interface{}: a []interface{} is returned as
// is and a []map[string]interface{} is converted; anything else, including
// an object that holds an array, reports false.
func AsArray(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case []map[string]interface{}:
		out := make([]interface{}, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out, true
	default:
		return nil, false
	}
}

// ToJSON serializes a value to a compact JSON string; used when inlining an
// array/object into a larger template string per spec.md §4.1 resolveAllVariables.
func ToJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("pilotval: marshal: %w", err)
	}
	return string(b), nil
}

// ItemCount computes the engine's generic item-count heuristic for a step's
// data payload: array length; else first nested array field's length; else an
// explicit count field; else 1 for a scalar object; else absent.
func ItemCount(data interface{}) (int, bool) {
	if arr, ok := AsArray(data); ok {
		return len(arr), true
	}
	obj, ok := data.(map[string]interface{})
	if !ok {
		switch data.(type) {
		case nil, string, bool, float64, int, int64:
			return 0, false
		}
		return 1, true
	}
	for _, k := range SortedKeys(obj) {
		if arr, ok := AsArray(obj[k]); ok {
			return len(arr), true
		}
	}
	for _, key := range []string{"count", "total", "total_found", "total_count", "length"} {
		if raw, ok := obj[key]; ok {
			if f, ok := Of(raw).Float64(); ok {
				return int(f), true
			}
		}
	}
	if len(obj) > 0 {
		return 1, true
	}
	return 0, false
}

// FieldNames samples field names from a step's data payload the way spec.md
// §4.2 step 6 describes: first item of an array, or top-level keys of an
// object, capped at 10.
func FieldNames(data interface{}) []string {
	const cap_ = 10
	sample := data
	if arr, ok := AsArray(data); ok && len(arr) > 0 {
		sample = arr[0]
	}
	obj, ok := sample.(map[string]interface{})
	if !ok {
		return nil
	}
	keys := SortedKeys(obj)
	if len(keys) > cap_ {
		keys = keys[:cap_]
	}
	return keys
}
