package transform

import "testing"

func TestJoinInnerMatchesOnEquality(t *testing.T) {
	left := []interface{}{
		map[string]interface{}{"user_id": "1", "name": "eve"},
		map[string]interface{}{"user_id": "2", "name": "bob"},
	}
	config := map[string]interface{}{
		"leftKey":  "user_id",
		"rightKey": "id",
		"right": []interface{}{
			map[string]interface{}{"id": "1", "email": "eve@example.com"},
		},
	}
	out, err := opJoin("s1", left, config)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows := out.([]interface{})
	if len(rows) != 1 {
		t.Fatalf("expected 1 inner-joined row, got %d", len(rows))
	}
	row := rows[0].(map[string]interface{})
	if row["email"] != "eve@example.com" || row["name"] != "eve" {
		t.Errorf("expected merged row, got %#v", row)
	}
}

func TestJoinLeftKeepsUnmatchedLeftRows(t *testing.T) {
	left := []interface{}{
		map[string]interface{}{"user_id": "1"},
		map[string]interface{}{"user_id": "2"},
	}
	config := map[string]interface{}{
		"leftKey": "user_id", "rightKey": "id", "joinType": "left",
		"right": []interface{}{
			map[string]interface{}{"id": "1", "email": "e@x.com"},
		},
	}
	out, err := opJoin("s1", left, config)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows := out.([]interface{})
	if len(rows) != 2 {
		t.Fatalf("expected both left rows to survive a left join, got %d", len(rows))
	}
}

func TestJoinRejectsUnsupportedType(t *testing.T) {
	_, err := opJoin("s1", []interface{}{}, map[string]interface{}{
		"leftKey": "a", "rightKey": "b", "joinType": "outer",
	})
	if err == nil {
		t.Fatal("expected an error for an unsupported joinType")
	}
}
