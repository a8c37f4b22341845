// Package plugin implements the action-step handler of spec.md section 4.3:
// the PluginRuntime port, schema-guided parameter transformation, and
// non-enumerable-equivalent output-schema sidecar attachment so downstream
// transforms can discover a plugin's origin schema.
//
// Grounded on connectors/base.Connector (Query/Execute/Capabilities shape,
// getaxonflow-axonflow) for the port surface, and
// orchestrator/mcp_connector_processor.go's buildParameters/ExecuteStep
// (query-vs-execute branch, parameter assembly) for the handler's call
// sequence — generalized from that file's template-string substitution to
// the richer JSON-schema-driven coercion table spec.md section 4.3
// describes.
package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/AgentsPilot/neuronforge-sub010/internal/schema"
	"github.com/AgentsPilot/neuronforge-sub010/internal/werr"
)

// Result is a plugin invocation's outcome.
type Result struct {
	Success bool
	Data    interface{}
	Error   string
	Message string
}

// Definition describes a plugin/action's introspectable shape, mirroring
// connectors/base.Connector's Capabilities()/Name()/Type() metadata trio.
type Definition struct {
	Name         string
	Type         string
	Capabilities []string
	ParamSchema  map[string]interface{}
	// TokenCost is the synthetic token-usage entry the dispatcher records
	// for each successful action call to this plugin, so cost accounting
	// stays uniform across AI and
	// non-AI work.
	TokenCost int
}

// Runtime is the plugin execution port spec.md section 6 describes.
type Runtime interface {
	Execute(ctx context.Context, pluginName, action string, params map[string]interface{}) (*Result, error)
	// Describe is optional marketplace-style introspection; implementations
	// that don't support it return ErrDescribeUnsupported.
	Describe(pluginName string) (*Definition, error)
}

// ErrDescribeUnsupported is returned by a Runtime whose backing plugin
// source has no introspection endpoint.
var ErrDescribeUnsupported = fmt.Errorf("plugin runtime does not support Describe")

// ActionHandler executes action steps against a Runtime, applying the
// schema-guided parameter transformation of spec.md section 4.3 before the
// call and attaching an output-schema sidecar to the result.
type ActionHandler struct {
	runtime Runtime
}

// NewActionHandler builds an ActionHandler over runtime.
func NewActionHandler(runtime Runtime) *ActionHandler {
	return &ActionHandler{runtime: runtime}
}

// Invoke transforms params against paramSchema, executes the plugin action,
// and on success attaches an output-schema sidecar (when outputSchema is
// non-nil) to the returned data. Plugin failure is surfaced as a fatal
// ExecutionError.
func (h *ActionHandler) Invoke(ctx context.Context, stepID, pluginName, action string, rawParams map[string]interface{}, paramSchema, outputSchema map[string]interface{}) (map[string]interface{}, error) {
	params := TransformParams(rawParams, paramSchema)

	result, err := h.runtime.Execute(ctx, pluginName, action, params)
	if err != nil {
		return nil, werr.NewExecutionError(stepID, fmt.Sprintf("plugin '%s' action '%s' failed", pluginName, action), err)
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = result.Message
		}
		if msg == "" {
			msg = "plugin reported failure with no message"
		}
		return nil, werr.NewExecutionError(stepID, msg, nil)
	}

	data, ok := result.Data.(map[string]interface{})
	if !ok {
		data = map[string]interface{}{"result": result.Data}
	}
	if outputSchema != nil {
		schema.AttachOutputSchema(data, outputSchema)
	}
	return data, nil
}

// TransformParams applies spec.md section 4.3's generic schema-guided
// coercion table to rawParams, returning a new map (rawParams is not
// mutated).
func TransformParams(rawParams map[string]interface{}, paramSchema map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(rawParams))
	for k, v := range rawParams {
		out[k] = v
	}

	props, _ := paramSchema["properties"].(map[string]interface{})
	for name, rawPropSchema := range props {
		propSchema, ok := rawPropSchema.(map[string]interface{})
		if !ok {
			continue
		}
		if v, present := out[name]; present {
			out[name] = coerceValue(name, v, propSchema)
		}
	}

	applyDefaults(out, props)
	return out
}

func coerceValue(name string, v interface{}, propSchema map[string]interface{}) interface{} {
	declaredType, _ := propSchema["type"].(string)

	switch declaredType {
	case "array":
		if is2DArraySchema(propSchema) {
			return coerceTo2DArray(v)
		}
	case "string":
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			return formatAsString(name, v, propSchema)
		}
	case "number", "integer":
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f
			}
		}
	case "boolean":
		if coerced, ok := coerceBoolean(v); ok {
			return coerced
		}
	}
	return v
}

// is2DArraySchema reports whether the schema declares items as themselves
// being arrays (a 2-D array), the shape tabular sinks expect.
func is2DArraySchema(propSchema map[string]interface{}) bool {
	items, ok := propSchema["items"].(map[string]interface{})
	if !ok {
		return false
	}
	itemType, _ := items["type"].(string)
	return itemType == "array"
}

// coerceTo2DArray materializes a 2-D array from an object (a single row of
// its values) or a flat array (a single row), serializing nested
// arrays/objects to JSON strings since many tabular sinks reject nested
// structure.
func coerceTo2DArray(v interface{}) [][]interface{} {
	switch val := v.(type) {
	case [][]interface{}:
		return val
	case []interface{}:
		if len(val) > 0 {
			if _, alreadyRows := val[0].([]interface{}); alreadyRows {
				rows := make([][]interface{}, 0, len(val))
				for _, r := range val {
					if row, ok := r.([]interface{}); ok {
						rows = append(rows, flattenRow(row))
					}
				}
				return rows
			}
		}
		return [][]interface{}{flattenRow(val)}
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		row := make([]interface{}, 0, len(keys))
		for _, k := range keys {
			row = append(row, serializeCell(val[k]))
		}
		return [][]interface{}{row}
	default:
		return [][]interface{}{{v}}
	}
}

func flattenRow(row []interface{}) []interface{} {
	out := make([]interface{}, len(row))
	for i, cell := range row {
		out[i] = serializeCell(cell)
	}
	return out
}

func serializeCell(v interface{}) interface{} {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	default:
		return v
	}
}

// formatAsString renders an object/array value as either a structured
// human-readable message (when the schema's format hint is
// "structured-message" or the parameter name mentions "message") or a
// pretty-printed JSON dump.
func formatAsString(name string, v interface{}, propSchema map[string]interface{}) string {
	format, _ := propSchema["format"].(string)
	if format == "structured-message" || strings.Contains(strings.ToLower(name), "message") {
		return formatStructuredMessage(v)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func formatStructuredMessage(v interface{}) string {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		var b strings.Builder
		for i, k := range keys {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%s: %v", k, val[k])
		}
		return b.String()
	case []interface{}:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = fmt.Sprintf("%v", item)
		}
		return strings.Join(parts, "\n")
	default:
		return fmt.Sprintf("%v", v)
	}
}

var truthyStrings = map[string]bool{"true": true, "1": true, "yes": true}
var falsyStrings = map[string]bool{"false": true, "0": true, "no": true}

func coerceBoolean(v interface{}) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case float64:
		return val != 0, true
	case string:
		lower := strings.ToLower(strings.TrimSpace(val))
		if truthyStrings[lower] {
			return true, true
		}
		if falsyStrings[lower] {
			return false, true
		}
	}
	return false, false
}

// applyDefaults fills in missing required parameters per spec.md section
// 4.3: the schema's declared default, else "Sheet1" for any name
// containing "range", else a zero value for the declared type.
func applyDefaults(params map[string]interface{}, props map[string]interface{}) {
	for name, rawPropSchema := range props {
		if _, present := params[name]; present {
			continue
		}
		propSchema, ok := rawPropSchema.(map[string]interface{})
		if !ok {
			continue
		}
		required, _ := propSchema["required"].(bool)
		if !required {
			continue
		}
		if def, ok := propSchema["default"]; ok {
			params[name] = def
			continue
		}
		if strings.Contains(strings.ToLower(name), "range") {
			params[name] = "Sheet1"
			continue
		}
		params[name] = zeroValueFor(propSchema)
	}
}

func zeroValueFor(propSchema map[string]interface{}) interface{} {
	declaredType, _ := propSchema["type"].(string)
	switch declaredType {
	case "string":
		return ""
	case "number", "integer":
		return 0
	case "boolean":
		return false
	case "array":
		return []interface{}{}
	case "object":
		return map[string]interface{}{}
	default:
		return nil
	}
}
