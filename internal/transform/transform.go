// Package transform implements the transform pipeline of spec.md section
// 4.5: a single dispatcher over named operations (set, map, filter, reduce,
// sort, group, aggregate, deduplicate, flatten, pivot, split, expand,
// rows_to_objects, map_headers, partition, render_table, fetch_content)
// that all share one input-shaping entry point.
//
// Grounded on orchestrator/result_aggregator.go (getaxonflow-axonflow) for
// the general shape of "take a connector result, reshape it for the next
// step or for a human", generalized from that file's fixed set of
// per-connector formatters into a config-driven operation table. Per-item
// expression evaluation reuses internal/parallel's reduceSource pattern
// (gather.go): a minimal variable.Source binding "item"/"current" for the
// duration of one item, falling back to a base Source for everything else.
package transform

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/AgentsPilot/neuronforge-sub010/internal/schema"
	"github.com/AgentsPilot/neuronforge-sub010/internal/variable"
	"github.com/AgentsPilot/neuronforge-sub010/internal/werr"
)

// arrayOps names the operations that require an array input, per spec.md
// 4.5: given anything else, Run raises INVALID_TRANSFORM_INPUT.
var arrayOps = map[string]bool{
	"filter": true, "map": true, "reduce": true, "sort": true,
	"deduplicate": true, "flatten": true, "group": true, "group_by": true,
	"aggregate": true, "pivot": true, "split": true, "expand": true,
	"join": true,
}

// ArrayWithMeta is the result shape for operations spec.md 4.5 describes as
// "an array with attached metadata fields" (filter, deduplicate): the
// original design is a JS array carrying extra own-properties, which Go
// slices cannot do, so this struct carries both. Items is the data callers
// should treat as the array; internal/engine stores the struct unchanged as
// the step's output data, so the metadata fields sit beside Items there.
type ArrayWithMeta struct {
	Items         []interface{} `json:"items"`
	Filtered      bool          `json:"filtered,omitempty"`
	Removed       int           `json:"removed"`
	OriginalCount int           `json:"originalCount"`
	Count         int           `json:"count"`
}

// Run dispatches a named transform operation against input, per spec.md
// section 4.5. base supplies the non-item variable namespaces (steps, var,
// input) for operations that evaluate per-item expressions; it may be nil
// for pure local transforms.
func Run(ctx context.Context, stepID, operation string, input interface{}, config map[string]interface{}, base variable.Source) (interface{}, error) {
	data := unwrapInput(input)

	if arrayOps[operation] {
		if _, ok := data.([]interface{}); !ok {
			unwrapped, didUnwrap := schema.UnwrapStructuredOutput(data)
			if arr, ok := unwrapped.([]interface{}); ok && didUnwrap {
				data = arr
			} else {
				return nil, werr.NewValidationError(stepID,
					fmt.Sprintf("INVALID_TRANSFORM_INPUT: operation %q requires an array, got %T; "+
						"point the step's input at a field containing a list", operation, data), nil)
			}
		}
	}

	switch operation {
	case "set":
		return data, nil
	case "map":
		return opMap(stepID, data, config, base)
	case "filter":
		return opFilter(stepID, data, config, base)
	case "reduce":
		return opReduce(stepID, data, config)
	case "sort":
		return opSort(stepID, data, config)
	case "group", "group_by":
		return opGroup(stepID, data, config)
	case "aggregate":
		return opAggregate(stepID, data, config)
	case "deduplicate":
		return opDeduplicate(stepID, data, config)
	case "flatten":
		return opFlatten(stepID, data, config)
	case "pivot":
		return opPivot(stepID, data, config)
	case "split":
		return opSplit(stepID, data, config)
	case "expand":
		return opExpand(stepID, data, config)
	case "join":
		return opJoin(stepID, data, config)
	case "rows_to_objects":
		return opRowsToObjects(stepID, data, config)
	case "map_headers":
		return opMapHeaders(stepID, data, config)
	case "partition":
		return opPartition(stepID, data, config)
	case "render_table":
		return opRenderTable(stepID, data, config)
	case "fetch_content":
		return opFetchContent(ctx, stepID, data, config, base)
	default:
		return nil, werr.NewValidationError(stepID, fmt.Sprintf("unknown transform operation %q", operation), nil)
	}
}

// unwrapInput auto-extracts .data from a StepOutput shell ({stepId, plugin,
// action, data, metadata}), per spec.md 4.5. Anything else passes through.
func unwrapInput(input interface{}) interface{} {
	obj, ok := input.(map[string]interface{})
	if !ok {
		return input
	}
	if _, hasStepID := obj["stepId"]; hasStepID {
		if data, exists := obj["data"]; exists {
			return data
		}
	}
	return input
}

// itemSource binds "item"/"current" to a single array element for the
// duration of one per-item expression or condition evaluation, delegating
// every other root namespace to base. base may be nil, in which case those
// roots simply resolve as absent.
type itemSource struct {
	base variable.Source
	item interface{}
}

func (s *itemSource) StepOutput(id string) (map[string]interface{}, bool) {
	if s.base == nil {
		return nil, false
	}
	return s.base.StepOutput(id)
}

func (s *itemSource) Input(key string) (interface{}, bool) {
	if s.base == nil {
		return nil, false
	}
	return s.base.Input(key)
}

func (s *itemSource) Variable(name string) (interface{}, bool) {
	if s.base == nil {
		return nil, false
	}
	return s.base.Variable(name)
}

func (s *itemSource) CurrentItem() (interface{}, bool) {
	return s.item, true
}

func (s *itemSource) LoopVariable(name string) (interface{}, bool) {
	if s.base == nil {
		return nil, false
	}
	return s.base.LoopVariable(name)
}

// itemResolver builds a Resolver scoped to one item, layered over base.
func itemResolver(base variable.Source, item interface{}, stepID string) *variable.Resolver {
	return variable.NewResolver(&itemSource{base: base, item: item}, stepID)
}

// configString reads a string config key, tolerating a handful of aliases in
// priority order (used throughout for column|field|groupBy-style keys).
func configString(config map[string]interface{}, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := config[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func configBool(config map[string]interface{}, key string, def bool) bool {
	if v, ok := config[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func configFloat(config map[string]interface{}, key string) (float64, bool) {
	v, ok := config[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// asArray coerces a resolved value to []interface{}, treating nil as empty.
func asArray(v interface{}) []interface{} {
	if v == nil {
		return nil
	}
	if arr, ok := v.([]interface{}); ok {
		return arr
	}
	return nil
}

// is2DArray reports whether v is a []interface{} of []interface{} rows, the
// header-row-bearing shape several operations (group, deduplicate) must
// special-case.
func is2DArray(v interface{}) ([][]interface{}, bool) {
	arr, ok := v.([]interface{})
	if !ok || len(arr) == 0 {
		return nil, false
	}
	rows := make([][]interface{}, 0, len(arr))
	for _, row := range arr {
		r, ok := row.([]interface{})
		if !ok {
			return nil, false
		}
		rows = append(rows, r)
	}
	return rows, true
}

// extractKeyValue performs generic key extraction from a record for group,
// deduplicate, partition: a map looked up by field name (via schema's fuzzy
// matcher), or a positional column index into a plain array row.
func extractKeyValue(record interface{}, key string) (interface{}, bool) {
	switch r := record.(type) {
	case map[string]interface{}:
		return schema.FindFieldValue(r, key)
	case []interface{}:
		if idx, err := strconv.Atoi(key); err == nil {
			if idx >= 0 && idx < len(r) {
				return r[idx], true
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

// keyString renders an extraction key as a stable map key / display string.
func keyString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// fieldNamesOf collects the sorted union of map keys across rows, used to
// populate a StepOutput's field_names summary.
func fieldNamesOf(rows []interface{}) []string {
	seen := map[string]bool{}
	for _, row := range rows {
		if m, ok := row.(map[string]interface{}); ok {
			for k := range m {
				seen[k] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
