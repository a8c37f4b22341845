package pilotval

import "testing"

func TestDeepCopyIndependence(t *testing.T) {
	orig := map[string]interface{}{
		"a": []interface{}{1, 2, map[string]interface{}{"b": "c"}},
	}
	copied := DeepCopy(orig).(map[string]interface{})

	inner := copied["a"].([]interface{})
	inner[0] = 999
	innerMap := inner[2].(map[string]interface{})
	innerMap["b"] = "mutated"

	origInner := orig["a"].([]interface{})
	if origInner[0] != 1 {
		t.Fatalf("mutation of copy leaked into original slice: %v", origInner[0])
	}
	origMap := origInner[2].(map[string]interface{})
	if origMap["b"] != "c" {
		t.Fatalf("mutation of copy leaked into original map: %v", origMap["b"])
	}
}

func TestItemCount(t *testing.T) {
	cases := []struct {
		name    string
		data    interface{}
		want    int
		present bool
	}{
		{"array", []interface{}{1, 2, 3}, 3, true},
		{"nested array field", map[string]interface{}{"emails": []interface{}{1, 2}, "total": 2.0}, 2, true},
		{"count field only", map[string]interface{}{"total_found": 5.0}, 5, true},
		{"scalar object", map[string]interface{}{"id": "x"}, 1, true},
		{"nil", nil, 0, false},
		{"empty object", map[string]interface{}{}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ItemCount(tc.data)
			if ok != tc.present {
				t.Fatalf("presence = %v, want %v", ok, tc.present)
			}
			if ok && got != tc.want {
				t.Fatalf("count = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestFieldNamesCapsAtTen(t *testing.T) {
	obj := map[string]interface{}{}
	for i := 0; i < 20; i++ {
		obj[string(rune('a'+i))] = i
	}
	names := FieldNames(obj)
	if len(names) != 10 {
		t.Fatalf("expected 10 field names, got %d", len(names))
	}
}

func TestFieldNamesFromArrayFirstItem(t *testing.T) {
	data := []interface{}{
		map[string]interface{}{"id": 1, "name": "a"},
		map[string]interface{}{"id": 2, "name": "b", "extra": true},
	}
	names := FieldNames(data)
	if len(names) != 2 {
		t.Fatalf("expected 2 names from first item, got %v", names)
	}
}
