package transform

import (
	"context"
	"testing"
)

func TestRunAutoExtractsStepOutputData(t *testing.T) {
	shell := map[string]interface{}{
		"stepId": "step1",
		"data":   []interface{}{float64(1), float64(2), float64(3)},
	}
	out, err := Run(context.Background(), "step2", "set", shell, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	arr, ok := out.([]interface{})
	if !ok || len(arr) != 3 {
		t.Fatalf("expected the unwrapped 3-element array, got %#v", out)
	}
}

func TestRunArrayOpRejectsNonArrayInput(t *testing.T) {
	_, err := Run(context.Background(), "step1", "sort", map[string]interface{}{"a": 1}, map[string]interface{}{"sort_by": "a"}, nil)
	if err == nil {
		t.Fatal("expected INVALID_TRANSFORM_INPUT error for a non-array sort input")
	}
}

func TestRunArrayOpUnwrapsStructuredObject(t *testing.T) {
	input := map[string]interface{}{
		"results": []interface{}{
			map[string]interface{}{"name": "b"},
			map[string]interface{}{"name": "a"},
		},
	}
	out, err := Run(context.Background(), "step1", "sort", input, map[string]interface{}{"sort_by": "name"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	arr := out.([]interface{})
	first := arr[0].(map[string]interface{})
	if first["name"] != "a" {
		t.Errorf("expected schema-unwrapped array to be sorted, got %#v", out)
	}
}

func TestRunUnknownOperation(t *testing.T) {
	_, err := Run(context.Background(), "step1", "not_a_real_op", []interface{}{}, nil, nil)
	if err == nil {
		t.Fatal("expected an error for an unknown operation")
	}
}
