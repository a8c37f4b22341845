package transform

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AgentsPilot/neuronforge-sub010/internal/variable"
	"github.com/AgentsPilot/neuronforge-sub010/internal/werr"
)

// opMap implements the `map` operation: either a columns-driven 2-D row
// projection, or a per-item expression evaluation, per spec.md 4.5.
func opMap(stepID string, data interface{}, config map[string]interface{}, base variable.Source) (interface{}, error) {
	items := asArray(data)

	if rawCols, ok := config["columns"]; ok {
		cols := toStringSlice(rawCols)
		rows := make([]interface{}, 0, len(items)+1)

		addHeaders := configBool(config, "add_headers", false) && len(items) > 0
		if addHeaders {
			if src, ok := config["add_headers_source"]; ok {
				if existing := asArray(src); len(existing) > 0 {
					addHeaders = false
				}
			}
		}
		if addHeaders {
			header := make([]interface{}, len(cols))
			for i, c := range cols {
				header[i] = c
			}
			rows = append(rows, header)
		}

		for _, item := range items {
			row := make([]interface{}, len(cols))
			for i, c := range cols {
				v, _ := extractKeyValue(item, c)
				row[i] = v
			}
			rows = append(rows, row)
		}
		return rows, nil
	}

	expr, ok := configString(config, "expression")
	if !ok {
		return items, nil
	}

	if unwrapped, handled := unwrapPrecomputedTupleMap(expr, items); handled {
		return unwrapped, nil
	}

	out := make([]interface{}, len(items))
	for i, item := range items {
		resolved, err := evalItemExpression(stepID, expr, item, base)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}

// unwrapPrecomputedTupleMap detects the "item.map(x => x[0])" expression
// shape applied to items that are already unwrapped plain objects (not
// [original, bool] tuples), in which case the map is a no-op over the
// already-correct input, per spec.md 4.5's map contract.
func unwrapPrecomputedTupleMap(expr string, items []interface{}) (interface{}, bool) {
	trimmed := strings.TrimSpace(expr)
	if !strings.Contains(trimmed, "x[0]") && !strings.Contains(trimmed, "[0]") {
		return nil, false
	}
	if !strings.Contains(trimmed, ".map(") {
		return nil, false
	}
	for _, item := range items {
		if tuple, ok := item.([]interface{}); ok && len(tuple) == 2 {
			return nil, false
		}
	}
	return items, true
}

// evalItemExpression evaluates expr with {{...}} pre-substitution against a
// resolver scoped to item, per spec.md 4.5 and 4.4's substitution rules.
func evalItemExpression(stepID, expr string, item interface{}, base variable.Source) (interface{}, error) {
	r := itemResolver(base, item, stepID)
	resolved, err := variable.ResolveAllVariables(expr, r)
	if err != nil {
		return nil, werr.NewVariableResolutionError(stepID, expr, err.Error())
	}
	return resolved, nil
}

// opFilter implements `filter`: evaluate config.condition per item, with
// pre-computed [original, bool] tuple auto-unwrap, returning an array with
// attached filter metadata, per spec.md 4.5.
func opFilter(stepID string, data interface{}, config map[string]interface{}, base variable.Source) (interface{}, error) {
	items := asArray(data)
	originalCount := len(items)

	condRaw, hasCond := config["condition"]

	kept := make([]interface{}, 0, len(items))
	removed := 0

	for _, item := range items {
		if tuple, ok := item.([]interface{}); ok && len(tuple) == 2 {
			if keep, ok := tuple[1].(bool); ok {
				if keep {
					kept = append(kept, tuple[0])
				} else {
					removed++
				}
				continue
			}
		}

		if !hasCond {
			kept = append(kept, item)
			continue
		}

		keep, err := evaluateFilterCondition(stepID, condRaw, item, base)
		if err != nil {
			return nil, err
		}
		if keep {
			kept = append(kept, item)
		} else {
			removed++
		}
	}

	return attachArrayMetadata(kept, removed, originalCount), nil
}

func attachArrayMetadata(kept []interface{}, removed, originalCount int) *ArrayWithMeta {
	if kept == nil {
		kept = []interface{}{}
	}
	return &ArrayWithMeta{
		Items:         kept,
		Filtered:      removed > 0,
		Removed:       removed,
		OriginalCount: originalCount,
		Count:         len(kept),
	}
}

// evaluateFilterCondition evaluates a filter condition, which may be a
// simple {{expr}} string (evaluated item-scoped) or a condition.Condition
// map shape; transform stays condition-shape-agnostic here and defers to
// the expression evaluator, matching spec.md 4.5's "evaluate per item"
// wording without re-implementing internal/condition's operator table.
func evaluateFilterCondition(stepID string, cond interface{}, item interface{}, base variable.Source) (bool, error) {
	switch c := cond.(type) {
	case string:
		resolved, err := evalItemExpression(stepID, c, item, base)
		if err != nil {
			return false, err
		}
		return truthyValue(resolved), nil
	case bool:
		return c, nil
	default:
		return false, werr.NewValidationError(stepID, fmt.Sprintf("filter condition has unsupported shape %T", cond), nil)
	}
}

func truthyValue(v interface{}) bool {
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

// opReduce implements named reducers sum/count/concat/merge over the array,
// per spec.md 4.5.
func opReduce(stepID string, data interface{}, config map[string]interface{}) (interface{}, error) {
	items := asArray(data)
	reducer, _ := configString(config, "reducer", "operation")
	field, _ := configString(config, "field", "column")

	switch reducer {
	case "", "count":
		return float64(len(items)), nil
	case "sum":
		var sum float64
		for _, item := range items {
			v, _ := extractKeyValue(item, field)
			f, ok := toFloat(v)
			if ok {
				sum += f
			}
		}
		return sum, nil
	case "concat":
		sep, _ := configString(config, "separator")
		var parts []string
		for _, item := range items {
			v := item
			if field != "" {
				v, _ = extractKeyValue(item, field)
			}
			parts = append(parts, fmt.Sprintf("%v", v))
		}
		return strings.Join(parts, sep), nil
	case "merge":
		merged := make(map[string]interface{})
		for _, item := range items {
			if m, ok := item.(map[string]interface{}); ok {
				for k, v := range m {
					merged[k] = v
				}
			}
		}
		return merged, nil
	default:
		return nil, werr.NewValidationError(stepID, fmt.Sprintf("unknown reduce reducer %q", reducer), nil)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// opSort implements single- or multi-level sort_by with ISO-date/numeric-
// string auto-detection and nulls sorting last, per spec.md 4.5.
func opSort(stepID string, data interface{}, config map[string]interface{}) (interface{}, error) {
	items := append([]interface{}(nil), asArray(data)...)

	levels := sortLevels(config)
	if len(levels) == 0 {
		return nil, werr.NewValidationError(stepID, "sort requires sort_by", nil)
	}

	sort.SliceStable(items, func(i, j int) bool {
		for _, lvl := range levels {
			vi, _ := extractKeyValue(items[i], lvl.field)
			vj, _ := extractKeyValue(items[j], lvl.field)
			cmp := compareSortValues(vi, vj)
			if cmp == 0 {
				continue
			}
			if lvl.desc && vi != nil && vj != nil {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return items, nil
}

type sortLevel struct {
	field string
	desc  bool
}

func sortLevels(config map[string]interface{}) []sortLevel {
	raw, ok := config["sort_by"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return []sortLevel{{field: v, desc: configBool(config, "descending", false)}}
	case []interface{}:
		levels := make([]sortLevel, 0, len(v))
		for _, entry := range v {
			switch e := entry.(type) {
			case string:
				levels = append(levels, sortLevel{field: e})
			case map[string]interface{}:
				field, _ := configString(e, "field", "column")
				desc := configBool(e, "descending", false)
				if dir, ok := e["direction"].(string); ok {
					desc = strings.EqualFold(dir, "desc")
				}
				levels = append(levels, sortLevel{field: field, desc: desc})
			}
		}
		return levels
	default:
		return nil
	}
}

// compareSortValues orders two values with nulls sorting last, auto-
// detecting ISO-8601 dates and numeric strings before falling back to
// case-insensitive string comparison.
func compareSortValues(a, b interface{}) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return 1
	}
	if b == nil {
		return -1
	}

	if ta, ok := parseISODate(a); ok {
		if tb, ok := parseISODate(b); ok {
			switch {
			case ta.Before(tb):
				return -1
			case ta.After(tb):
				return 1
			default:
				return 0
			}
		}
	}

	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}

	sa := strings.ToLower(fmt.Sprintf("%v", a))
	sb := strings.ToLower(fmt.Sprintf("%v", b))
	return strings.Compare(sa, sb)
}

func parseISODate(v interface{}) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	layouts := []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func toStringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, len(t))
		for i, e := range t {
			out[i] = fmt.Sprintf("%v", e)
		}
		return out
	default:
		return nil
	}
}
