package render

import "testing"
import "strings"

func TestRenderTableFuzzyColumnMatch(t *testing.T) {
	table := Table{
		Columns: []string{"owner"},
		Rows: []map[string]interface{}{
			{"Status": "Open", "Owner": "Eve"},
			{"Status": "Closed", "Owner": "Ed"},
		},
	}
	out := RenderTable(table)
	if !strings.Contains(out, "Eve") || !strings.Contains(out, "Ed") {
		t.Errorf("expected both owner values in output, got %s", out)
	}
	if !strings.Contains(out, "<table") || !strings.Contains(out, "</table>") {
		t.Error("expected a well-formed table element")
	}
}

func TestRenderTableHeaderNamesOverride(t *testing.T) {
	table := Table{
		Columns:     []string{"owner"},
		HeaderNames: map[string]string{"owner": "Assigned To"},
		Rows:        []map[string]interface{}{{"owner": "Eve"}},
	}
	out := RenderTable(table)
	if !strings.Contains(out, "Assigned To") {
		t.Error("expected semantic header name in output")
	}
}

func TestRenderTableEscapesHTML(t *testing.T) {
	table := Table{
		Columns: []string{"name"},
		Rows:    []map[string]interface{}{{"name": "<script>alert(1)</script>"}},
	}
	out := RenderTable(table)
	if strings.Contains(out, "<script>") {
		t.Error("expected cell content to be HTML-escaped")
	}
}

func TestRenderTableMissingCellIsEmpty(t *testing.T) {
	table := Table{
		Columns: []string{"missing"},
		Rows:    []map[string]interface{}{{"other": "x"}},
	}
	out := RenderTable(table)
	if !strings.Contains(out, "<td") {
		t.Error("expected a cell to be rendered even when the field is missing")
	}
}
