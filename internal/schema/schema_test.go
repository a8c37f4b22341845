package schema

import "testing"

func TestUnwrapStructuredOutputPrefersPrimaryVocabulary(t *testing.T) {
	data := map[string]interface{}{
		"count":   2.0,
		"results": []interface{}{map[string]interface{}{"id": 1}, map[string]interface{}{"id": 2}},
		"tags":    []interface{}{"a"},
	}
	arr, ok := UnwrapStructuredOutput(data)
	if !ok {
		t.Fatal("expected unwrap ok")
	}
	got, ok := arr.([]interface{})
	if !ok || len(got) != 2 {
		t.Fatalf("expected results array of len 2, got %v", arr)
	}
}

func TestUnwrapStructuredOutputRecursesIntoData(t *testing.T) {
	data := map[string]interface{}{
		"data": map[string]interface{}{
			"emails": []interface{}{map[string]interface{}{"id": 1}},
		},
	}
	arr, ok := UnwrapStructuredOutput(data)
	if !ok {
		t.Fatal("expected unwrap ok")
	}
	got, ok := arr.([]interface{})
	if !ok || len(got) != 1 {
		t.Fatalf("expected emails array of len 1, got %v", arr)
	}
}

func TestUnwrapStructuredOutputFallsBackToLargest(t *testing.T) {
	data := map[string]interface{}{
		"a": []interface{}{1},
		"b": []interface{}{1, 2, 3},
	}
	arr, ok := UnwrapStructuredOutput(data)
	if !ok {
		t.Fatal("expected unwrap ok")
	}
	got, ok := arr.([]interface{})
	if !ok || len(got) != 3 {
		t.Fatalf("expected largest array of len 3, got %v", arr)
	}
}

func TestExtractValueByKeyDirectAndCaseInsensitive(t *testing.T) {
	record := map[string]interface{}{"Email": "a@b.com"}
	if v, ok := ExtractValueByKey(record, "email", nil); !ok || v != "a@b.com" {
		t.Fatalf("case-insensitive match failed: %v %v", v, ok)
	}
}

func TestExtractValueByKeyColumnMapping(t *testing.T) {
	record := map[string]interface{}{"sales_owner": "bob"}
	mapping := map[string]string{"Sales Person": "sales_owner"}
	if v, ok := ExtractValueByKey(record, "Sales Person", mapping); !ok || v != "bob" {
		t.Fatalf("column mapping match failed: %v %v", v, ok)
	}
}

func TestExtractValueByKeyFuzzyWordOverlap(t *testing.T) {
	record := map[string]interface{}{"customer_full_name": "Jane Doe"}
	if v, ok := ExtractValueByKey(record, "Customer Name", nil); !ok || v != "Jane Doe" {
		t.Fatalf("fuzzy overlap match failed: %v %v", v, ok)
	}
}

func TestOutputSchemaSidecarRoundTrip(t *testing.T) {
	data := map[string]interface{}{"rows": []interface{}{}}
	AttachOutputSchema(data, map[string]interface{}{"primary_array": "rows"})
	hint, ok := OutputSchemaHint(data)
	if !ok || hint["primary_array"] != "rows" {
		t.Fatalf("schema hint round-trip failed: %v %v", hint, ok)
	}
	StripInternalHints(data)
	if _, ok := data[outputSchemaKey]; ok {
		t.Fatal("expected sidecar key stripped")
	}
}
