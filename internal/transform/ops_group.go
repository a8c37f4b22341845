package transform

import (
	"fmt"
	"sort"

	"github.com/AgentsPilot/neuronforge-sub010/internal/werr"
)

// groupResult is group/group_by's output shape, per spec.md 4.5:
// {grouped, groups[{key,items,count}], keys, count}. Group keys are not
// exposed as top-level fields; a group is reached only through grouped or
// groups.
type groupResult struct {
	Grouped map[string][]interface{} `json:"grouped"`
	Groups  []groupEntry             `json:"groups"`
	Keys    []string                 `json:"keys"`
	Count   int                      `json:"count"`
}

type groupEntry struct {
	Key   string        `json:"key"`
	Items []interface{} `json:"items"`
	Count int           `json:"count"`
}

// opGroup implements group/group_by: key via column|field|groupBy, skipping
// the header row for 2-D array input, per spec.md 4.5.
func opGroup(stepID string, data interface{}, config map[string]interface{}) (interface{}, error) {
	key, ok := configString(config, "column", "field", "groupBy", "group_by")
	if !ok {
		return nil, werr.NewValidationError(stepID, "group requires column|field|groupBy", nil)
	}

	rows := asArray(data)
	if twoD, ok := is2DArray(data); ok {
		rows = skipHeaderRow2D(twoD)
	}

	grouped := make(map[string][]interface{})
	var order []string
	for _, row := range rows {
		v, _ := extractKeyValue(row, key)
		k := keyString(v)
		if _, exists := grouped[k]; !exists {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], row)
	}
	sort.Strings(order)

	groups := make([]groupEntry, 0, len(order))
	for _, k := range order {
		groups = append(groups, groupEntry{Key: k, Items: grouped[k], Count: len(grouped[k])})
	}

	return &groupResult{Grouped: grouped, Groups: groups, Keys: order, Count: len(rows)}, nil
}

// skipHeaderRow2D drops a leading header row from a 2-D array and converts
// each remaining row into []interface{} passthrough (group/deduplicate key
// extraction already handles positional lookup on raw rows).
func skipHeaderRow2D(rows [][]interface{}) []interface{} {
	if len(rows) <= 1 {
		return nil
	}
	out := make([]interface{}, 0, len(rows)-1)
	for _, r := range rows[1:] {
		row := make([]interface{}, len(r))
		copy(row, r)
		out = append(out, interface{}(row))
	}
	return out
}

// opAggregate implements sum/avg/min/max/count, including the legacy
// {aggregation_type, field} shape, per spec.md 4.5.
func opAggregate(stepID string, data interface{}, config map[string]interface{}) (interface{}, error) {
	items := asArray(data)
	agg, ok := configString(config, "operation", "aggregation_type")
	if !ok {
		agg = "count"
	}
	field, _ := configString(config, "field", "column")

	switch agg {
	case "count":
		return float64(len(items)), nil
	case "sum", "avg":
		var sum float64
		n := 0
		for _, item := range items {
			v, _ := extractKeyValue(item, field)
			if f, ok := toFloat(v); ok {
				sum += f
				n++
			}
		}
		if agg == "avg" {
			if n == 0 {
				return 0.0, nil
			}
			return sum / float64(n), nil
		}
		return sum, nil
	case "min", "max":
		var best float64
		found := false
		for _, item := range items {
			v, _ := extractKeyValue(item, field)
			f, ok := toFloat(v)
			if !ok {
				continue
			}
			if !found {
				best, found = f, true
				continue
			}
			if (agg == "min" && f < best) || (agg == "max" && f > best) {
				best = f
			}
		}
		if !found {
			return nil, nil
		}
		return best, nil
	default:
		return nil, werr.NewValidationError(stepID, fmt.Sprintf("unknown aggregate operation %q", agg), nil)
	}
}

// opDeduplicate implements deduplicate: key via column|field|key, preserving
// the header row for 2-D array input, returning an array with attached
// {items, removed, originalCount, count}, per spec.md 4.5.
func opDeduplicate(stepID string, data interface{}, config map[string]interface{}) (interface{}, error) {
	key, ok := configString(config, "column", "field", "key")
	if !ok {
		return nil, werr.NewValidationError(stepID, "deduplicate requires column|field|key", nil)
	}

	if twoD, ok := is2DArray(data); ok && len(twoD) > 0 {
		header := twoD[0]
		seen := map[string]bool{}
		kept := make([]interface{}, 0, len(twoD))
		kept = append(kept, interface{}(append([]interface{}(nil), header...)))
		removed := 0
		for _, row := range twoD[1:] {
			v, _ := extractKeyValue(interface{}(row), key)
			k := keyString(v)
			if seen[k] {
				removed++
				continue
			}
			seen[k] = true
			kept = append(kept, interface{}(append([]interface{}(nil), row...)))
		}
		return &ArrayWithMeta{Items: kept, Removed: removed, OriginalCount: len(twoD), Count: len(kept)}, nil
	}

	items := asArray(data)
	seen := map[string]bool{}
	kept := make([]interface{}, 0, len(items))
	removed := 0
	for _, item := range items {
		v, _ := extractKeyValue(item, key)
		k := keyString(v)
		if seen[k] {
			removed++
			continue
		}
		seen[k] = true
		kept = append(kept, item)
	}
	return &ArrayWithMeta{Items: kept, Removed: removed, OriginalCount: len(items), Count: len(kept)}, nil
}

// opFlatten implements flatten: depth >= 1, with optional field extraction
// enriching each child with _parentId/_parentData before flattening, per
// spec.md 4.5.
func opFlatten(stepID string, data interface{}, config map[string]interface{}) (interface{}, error) {
	depth := 1
	if f, ok := configFloat(config, "depth"); ok && f >= 1 {
		depth = int(f)
	}
	field, hasField := configString(config, "field")

	items := asArray(data)
	out := flattenLevel(items, depth, field, hasField)
	return out, nil
}

func flattenLevel(items []interface{}, depth int, field string, hasField bool) []interface{} {
	var out []interface{}
	for _, item := range items {
		parent, _ := item.(map[string]interface{})

		var children []interface{}
		if hasField {
			if parent != nil {
				if v, ok := extractKeyValue(parent, field); ok {
					children = asArray(v)
				}
			}
		} else if arr, ok := item.([]interface{}); ok {
			children = arr
		}

		if children == nil {
			out = append(out, item)
			continue
		}

		enriched := make([]interface{}, len(children))
		for i, child := range children {
			enriched[i] = enrichWithParent(child, parent)
		}

		if depth > 1 {
			enriched = flattenLevel(enriched, depth-1, field, hasField)
		}
		out = append(out, enriched...)
	}
	return out
}

// enrichWithParent attaches _parentId/_parentData to a flattened child, per
// spec.md 4.5, pulling id/subject/from/message-id fields off the parent when
// present.
func enrichWithParent(child interface{}, parent map[string]interface{}) interface{} {
	childMap, ok := child.(map[string]interface{})
	if !ok || parent == nil {
		return child
	}
	out := make(map[string]interface{}, len(childMap)+2)
	for k, v := range childMap {
		out[k] = v
	}

	parentID, _ := schemaFirstOf(parent, "id", "message_id", "messageId")
	out["_parentId"] = parentID

	summary := map[string]interface{}{}
	for _, k := range []string{"id", "subject", "from", "message_id", "messageId"} {
		if v, ok := extractKeyValue(parent, k); ok {
			summary[k] = v
		}
	}
	out["_parentData"] = summary
	return out
}

func schemaFirstOf(m map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := extractKeyValue(m, k); ok {
			return v, true
		}
	}
	return nil, false
}

// opPivot implements pivot: requires rowKey, columnKey, valueKey, per
// spec.md 4.5.
func opPivot(stepID string, data interface{}, config map[string]interface{}) (interface{}, error) {
	rowKey, ok1 := configString(config, "rowKey", "row_key")
	colKey, ok2 := configString(config, "columnKey", "column_key")
	valKey, ok3 := configString(config, "valueKey", "value_key")
	if !ok1 || !ok2 || !ok3 {
		return nil, werr.NewValidationError(stepID, "pivot requires rowKey, columnKey, valueKey", nil)
	}

	items := asArray(data)
	pivoted := make(map[string]map[string]interface{})
	var rowOrder []string
	colSet := map[string]bool{}
	var colOrder []string

	for _, item := range items {
		rv, _ := extractKeyValue(item, rowKey)
		cv, _ := extractKeyValue(item, colKey)
		vv, _ := extractKeyValue(item, valKey)
		rk, ck := keyString(rv), keyString(cv)

		if _, exists := pivoted[rk]; !exists {
			pivoted[rk] = make(map[string]interface{})
			rowOrder = append(rowOrder, rk)
		}
		pivoted[rk][ck] = vv
		if !colSet[ck] {
			colSet[ck] = true
			colOrder = append(colOrder, ck)
		}
	}

	rows := make([]interface{}, 0, len(rowOrder))
	for _, rk := range rowOrder {
		row := map[string]interface{}{rowKey: rk}
		for k, v := range pivoted[rk] {
			row[k] = v
		}
		rows = append(rows, row)
	}

	return map[string]interface{}{
		"rows":    rows,
		"columns": colOrder,
	}, nil
}

// opSplit implements split: chunk by size or target count, per spec.md 4.5.
func opSplit(stepID string, data interface{}, config map[string]interface{}) (interface{}, error) {
	items := asArray(data)

	if size, ok := configFloat(config, "size"); ok && size > 0 {
		return chunkBySize(items, int(size)), nil
	}
	if count, ok := configFloat(config, "count"); ok && count > 0 {
		n := int(count)
		if n > len(items) {
			n = len(items)
		}
		if n == 0 {
			return []interface{}{}, nil
		}
		size := (len(items) + n - 1) / n
		return chunkBySize(items, size), nil
	}
	return nil, werr.NewValidationError(stepID, "split requires size or count", nil)
}

func chunkBySize(items []interface{}, size int) []interface{} {
	if size <= 0 {
		return []interface{}{items}
	}
	var chunks []interface{}
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, append([]interface{}(nil), items[i:end]...))
	}
	if chunks == nil {
		chunks = []interface{}{}
	}
	return chunks
}

// opExpand implements expand: flatten nested object keys using delimiter
// (default "."), per spec.md 4.5.
func opExpand(stepID string, data interface{}, config map[string]interface{}) (interface{}, error) {
	delim, ok := configString(config, "delimiter")
	if !ok {
		delim = "."
	}

	switch d := data.(type) {
	case map[string]interface{}:
		out := map[string]interface{}{}
		expandInto(out, "", d, delim)
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(d))
		for i, item := range d {
			if m, ok := item.(map[string]interface{}); ok {
				exp := map[string]interface{}{}
				expandInto(exp, "", m, delim)
				out[i] = exp
			} else {
				out[i] = item
			}
		}
		return out, nil
	default:
		return nil, werr.NewValidationError(stepID, "expand requires an object or array of objects", nil)
	}
}

func expandInto(out map[string]interface{}, prefix string, obj map[string]interface{}, delim string) {
	for k, v := range obj {
		full := k
		if prefix != "" {
			full = prefix + delim + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			expandInto(out, full, nested, delim)
			continue
		}
		out[full] = v
	}
}
