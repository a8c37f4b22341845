package plugin

import (
	"context"
	"testing"
)

type fakeRuntime struct {
	lastParams map[string]interface{}
	result     *Result
	err        error
}

func (f *fakeRuntime) Execute(ctx context.Context, pluginName, action string, params map[string]interface{}) (*Result, error) {
	f.lastParams = params
	return f.result, f.err
}

func (f *fakeRuntime) Describe(pluginName string) (*Definition, error) {
	return nil, ErrDescribeUnsupported
}

func TestTransformParams2DArrayFromObject(t *testing.T) {
	params := map[string]interface{}{
		"values": map[string]interface{}{"a": 1.0, "b": "x"},
	}
	paramSchema := map[string]interface{}{
		"properties": map[string]interface{}{
			"values": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "array"},
			},
		},
	}
	out := TransformParams(params, paramSchema)
	rows, ok := out["values"].([][]interface{})
	if !ok || len(rows) != 1 || len(rows[0]) != 2 {
		t.Fatalf("expected a single materialized row of 2 values, got %#v", out["values"])
	}
}

func TestTransformParams2DArrayFrom1DArray(t *testing.T) {
	params := map[string]interface{}{"values": []interface{}{1.0, 2.0, 3.0}}
	paramSchema := map[string]interface{}{
		"properties": map[string]interface{}{
			"values": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "array"},
			},
		},
	}
	out := TransformParams(params, paramSchema)
	rows, ok := out["values"].([][]interface{})
	if !ok || len(rows) != 1 || len(rows[0]) != 3 {
		t.Fatalf("expected single row of 3 values, got %#v", out["values"])
	}
}

func TestTransformParamsNestedCellsSerializedToJSON(t *testing.T) {
	params := map[string]interface{}{
		"values": map[string]interface{}{"nested": []interface{}{1.0, 2.0}},
	}
	paramSchema := map[string]interface{}{
		"properties": map[string]interface{}{
			"values": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "array"},
			},
		},
	}
	out := TransformParams(params, paramSchema)
	rows := out["values"].([][]interface{})
	if _, ok := rows[0][0].(string); !ok {
		t.Errorf("expected nested array cell to be serialized to a JSON string, got %T", rows[0][0])
	}
}

func TestTransformParamsStringFromObjectStructuredMessage(t *testing.T) {
	params := map[string]interface{}{
		"message": map[string]interface{}{"subject": "hi"},
	}
	paramSchema := map[string]interface{}{
		"properties": map[string]interface{}{
			"message": map[string]interface{}{"type": "string"},
		},
	}
	out := TransformParams(params, paramSchema)
	s, ok := out["message"].(string)
	if !ok {
		t.Fatalf("expected string, got %T", out["message"])
	}
	if s != "subject: hi" {
		t.Errorf("expected structured message format, got %q", s)
	}
}

func TestTransformParamsStringFromArrayJSONDump(t *testing.T) {
	params := map[string]interface{}{
		"payload": []interface{}{"a", "b"},
	}
	paramSchema := map[string]interface{}{
		"properties": map[string]interface{}{
			"payload": map[string]interface{}{"type": "string"},
		},
	}
	out := TransformParams(params, paramSchema)
	s, ok := out["payload"].(string)
	if !ok {
		t.Fatalf("expected string, got %T", out["payload"])
	}
	if s == "" {
		t.Error("expected non-empty JSON dump")
	}
}

func TestTransformParamsNumericCoercion(t *testing.T) {
	params := map[string]interface{}{"count": "42"}
	paramSchema := map[string]interface{}{
		"properties": map[string]interface{}{
			"count": map[string]interface{}{"type": "integer"},
		},
	}
	out := TransformParams(params, paramSchema)
	f, ok := out["count"].(float64)
	if !ok || f != 42 {
		t.Errorf("expected numeric coercion to 42, got %#v", out["count"])
	}
}

func TestTransformParamsBooleanCoercion(t *testing.T) {
	cases := map[string]bool{"yes": true, "1": true, "no": false, "0": false}
	for input, want := range cases {
		params := map[string]interface{}{"flag": input}
		paramSchema := map[string]interface{}{
			"properties": map[string]interface{}{
				"flag": map[string]interface{}{"type": "boolean"},
			},
		}
		out := TransformParams(params, paramSchema)
		b, ok := out["flag"].(bool)
		if !ok || b != want {
			t.Errorf("coerceBoolean(%q) = %#v, want %v", input, out["flag"], want)
		}
	}
}

func TestTransformParamsMissingRequiredDefaults(t *testing.T) {
	paramSchema := map[string]interface{}{
		"properties": map[string]interface{}{
			"range":    map[string]interface{}{"type": "string", "required": true},
			"withDef":  map[string]interface{}{"type": "string", "required": true, "default": "x"},
			"withZero": map[string]interface{}{"type": "integer", "required": true},
		},
	}
	out := TransformParams(map[string]interface{}{}, paramSchema)
	if out["range"] != "Sheet1" {
		t.Errorf("expected 'range' default Sheet1, got %v", out["range"])
	}
	if out["withDef"] != "x" {
		t.Errorf("expected schema default 'x', got %v", out["withDef"])
	}
	if out["withZero"] != 0 {
		t.Errorf("expected zero-value default, got %v", out["withZero"])
	}
}

func TestActionHandlerInvokeSuccess(t *testing.T) {
	rt := &fakeRuntime{result: &Result{Success: true, Data: map[string]interface{}{"rows": []interface{}{1.0}}}}
	h := NewActionHandler(rt)
	out, err := h.Invoke(context.Background(), "step1", "sheets", "append", map[string]interface{}{}, nil, map[string]interface{}{"type": "object"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := out["__output_schema"]; !ok {
		t.Error("expected output schema sidecar attached")
	}
}

func TestActionHandlerInvokeFailureSurfacesExecutionError(t *testing.T) {
	rt := &fakeRuntime{result: &Result{Success: false, Error: "quota exceeded"}}
	h := NewActionHandler(rt)
	_, err := h.Invoke(context.Background(), "step1", "sheets", "append", map[string]interface{}{}, nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
}
