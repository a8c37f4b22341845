package transform

import (
	"testing"
)

func TestMapWithColumnsEmitsRowsAndHeader(t *testing.T) {
	items := []interface{}{
		map[string]interface{}{"name": "a", "age": float64(1)},
		map[string]interface{}{"name": "b", "age": float64(2)},
	}
	out, err := opMap("s1", items, map[string]interface{}{
		"columns":     []interface{}{"name", "age"},
		"add_headers": true,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows := out.([]interface{})
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	header := rows[0].([]interface{})
	if header[0] != "name" || header[1] != "age" {
		t.Errorf("unexpected header row: %#v", header)
	}
}

func TestMapAddHeadersSkippedWhenSourceNonEmpty(t *testing.T) {
	items := []interface{}{map[string]interface{}{"name": "a"}}
	out, err := opMap("s1", items, map[string]interface{}{
		"columns":            []interface{}{"name"},
		"add_headers":        true,
		"add_headers_source": []interface{}{[]interface{}{"name"}},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows := out.([]interface{})
	if len(rows) != 1 {
		t.Fatalf("expected no duplicate header row, got %d rows", len(rows))
	}
}

func TestMapExpressionPerItem(t *testing.T) {
	items := []interface{}{
		map[string]interface{}{"n": float64(2)},
		map[string]interface{}{"n": float64(3)},
	}
	out, err := opMap("s1", items, map[string]interface{}{"expression": "{{item.n}}"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	arr := out.([]interface{})
	if arr[0] != float64(2) || arr[1] != float64(3) {
		t.Errorf("unexpected mapped values: %#v", arr)
	}
}

func TestFilterKeepsAndAttachesMetadata(t *testing.T) {
	items := []interface{}{
		map[string]interface{}{"active": true},
		map[string]interface{}{"active": false},
		map[string]interface{}{"active": true},
	}
	out, err := opFilter("s1", items, map[string]interface{}{"condition": "{{item.active}}"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	meta := out.(*ArrayWithMeta)
	if meta.Count != 2 || meta.Removed != 1 || meta.OriginalCount != 3 {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestFilterAutoUnwrapsPrecomputedTuples(t *testing.T) {
	items := []interface{}{
		[]interface{}{map[string]interface{}{"id": "1"}, true},
		[]interface{}{map[string]interface{}{"id": "2"}, false},
	}
	out, err := opFilter("s1", items, map[string]interface{}{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	meta := out.(*ArrayWithMeta)
	if meta.Count != 1 {
		t.Fatalf("expected exactly one surviving original item, got %d", meta.Count)
	}
	kept := meta.Items[0].(map[string]interface{})
	if kept["id"] != "1" {
		t.Errorf("expected the original (unwrapped) item to survive, got %#v", kept)
	}
}

func TestReduceSum(t *testing.T) {
	items := []interface{}{
		map[string]interface{}{"amount": float64(10)},
		map[string]interface{}{"amount": float64(5)},
	}
	out, err := opReduce("s1", items, map[string]interface{}{"reducer": "sum", "field": "amount"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(float64) != 15 {
		t.Errorf("expected sum 15, got %v", out)
	}
}

func TestReduceConcat(t *testing.T) {
	items := []interface{}{"a", "b", "c"}
	out, err := opReduce("s1", items, map[string]interface{}{"reducer": "concat", "separator": ","})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "a,b,c" {
		t.Errorf("expected 'a,b,c', got %v", out)
	}
}

func TestSortNumericAscending(t *testing.T) {
	items := []interface{}{
		map[string]interface{}{"n": float64(3)},
		map[string]interface{}{"n": float64(1)},
		map[string]interface{}{"n": float64(2)},
	}
	out, err := opSort("s1", items, map[string]interface{}{"sort_by": "n"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	arr := out.([]interface{})
	if arr[0].(map[string]interface{})["n"] != float64(1) || arr[2].(map[string]interface{})["n"] != float64(3) {
		t.Errorf("expected ascending order, got %#v", arr)
	}
}

func TestSortNullsSortLast(t *testing.T) {
	items := []interface{}{
		map[string]interface{}{"n": nil},
		map[string]interface{}{"n": float64(1)},
	}
	out, err := opSort("s1", items, map[string]interface{}{"sort_by": "n"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	arr := out.([]interface{})
	if arr[len(arr)-1].(map[string]interface{})["n"] != nil {
		t.Errorf("expected null to sort last, got %#v", arr)
	}
}

func TestSortISODateAutoDetect(t *testing.T) {
	items := []interface{}{
		map[string]interface{}{"d": "2024-03-01"},
		map[string]interface{}{"d": "2023-01-15"},
	}
	out, err := opSort("s1", items, map[string]interface{}{"sort_by": "d"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	arr := out.([]interface{})
	if arr[0].(map[string]interface{})["d"] != "2023-01-15" {
		t.Errorf("expected chronological order, got %#v", arr)
	}
}

func TestSortMultiLevelDescending(t *testing.T) {
	items := []interface{}{
		map[string]interface{}{"group": "a", "n": float64(1)},
		map[string]interface{}{"group": "a", "n": float64(2)},
		map[string]interface{}{"group": "b", "n": float64(1)},
	}
	out, err := opSort("s1", items, map[string]interface{}{
		"sort_by": []interface{}{
			"group",
			map[string]interface{}{"field": "n", "direction": "desc"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	arr := out.([]interface{})
	if arr[0].(map[string]interface{})["n"] != float64(2) {
		t.Errorf("expected n=2 first within group a (descending), got %#v", arr)
	}
}
