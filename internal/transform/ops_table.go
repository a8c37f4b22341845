package transform

import (
	"strings"

	"github.com/AgentsPilot/neuronforge-sub010/internal/render"
	"github.com/AgentsPilot/neuronforge-sub010/internal/werr"
)

// opRowsToObjects implements rows_to_objects: the first row (or
// config.headers) becomes keys, lowercased and trimmed for stable access,
// per spec.md 4.5.
func opRowsToObjects(stepID string, data interface{}, config map[string]interface{}) (interface{}, error) {
	rows, ok := data.([]interface{})
	if !ok {
		return nil, werr.NewValidationError(stepID, "rows_to_objects requires an array of rows", nil)
	}

	var headers []string
	dataRows := rows
	if raw, ok := config["headers"]; ok {
		headers = normalizeHeaders(toStringSlice(raw))
	} else if len(rows) > 0 {
		if first, ok := rows[0].([]interface{}); ok {
			headers = normalizeHeaders(toStringSlice(first))
			dataRows = rows[1:]
		}
	}
	if headers == nil {
		return nil, werr.NewValidationError(stepID, "rows_to_objects could not determine headers", nil)
	}

	out := make([]interface{}, 0, len(dataRows))
	for _, r := range dataRows {
		row, ok := r.([]interface{})
		if !ok {
			continue
		}
		obj := make(map[string]interface{}, len(headers))
		for i, h := range headers {
			if i < len(row) {
				obj[h] = row[i]
			} else {
				obj[h] = nil
			}
		}
		out = append(out, obj)
	}
	return out, nil
}

func normalizeHeaders(raw []string) []string {
	out := make([]string, len(raw))
	for i, h := range raw {
		out[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return out
}

// opMapHeaders implements map_headers: rename/normalize the header row, per
// spec.md 4.5. config.mapping renames specific headers; otherwise headers
// are lowercased and trimmed in place.
func opMapHeaders(stepID string, data interface{}, config map[string]interface{}) (interface{}, error) {
	rows, ok := data.([]interface{})
	if !ok || len(rows) == 0 {
		return data, nil
	}
	header, ok := rows[0].([]interface{})
	if !ok {
		return data, nil
	}

	mapping := map[string]string{}
	if raw, ok := config["mapping"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				mapping[strings.ToLower(strings.TrimSpace(k))] = s
			}
		}
	}

	newHeader := make([]interface{}, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(toDisplayString(h)))
		if renamed, ok := mapping[name]; ok {
			newHeader[i] = renamed
		} else {
			newHeader[i] = name
		}
	}

	out := make([]interface{}, len(rows))
	out[0] = newHeader
	copy(out[1:], rows[1:])
	return out, nil
}

func toDisplayString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return keyString(v)
}

// opPartition implements partition: bucket by field with
// handle_empty in {separate, skip, empty}, per spec.md 4.5.
func opPartition(stepID string, data interface{}, config map[string]interface{}) (interface{}, error) {
	field, ok := configString(config, "field", "column")
	if !ok {
		return nil, werr.NewValidationError(stepID, "partition requires field", nil)
	}
	handleEmpty, _ := configString(config, "handle_empty")
	if handleEmpty == "" {
		handleEmpty = "separate"
	}

	items := asArray(data)
	buckets := map[string][]interface{}{}
	var order []string
	var emptyBucket []interface{}

	for _, item := range items {
		v, found := extractKeyValue(item, field)
		isEmpty := !found || v == nil || v == ""
		if isEmpty {
			switch handleEmpty {
			case "skip":
				continue
			case "empty":
				buckets[""] = append(buckets[""], item)
				if !containsStr(order, "") {
					order = append(order, "")
				}
				continue
			default: // "separate"
				emptyBucket = append(emptyBucket, item)
				continue
			}
		}
		k := keyString(v)
		if _, exists := buckets[k]; !exists {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], item)
	}

	result := map[string]interface{}{}
	for _, k := range order {
		result[k] = buckets[k]
	}
	if handleEmpty == "separate" && emptyBucket != nil {
		result["_empty"] = emptyBucket
	}
	return result, nil
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// opRenderTable implements render_table: a self-contained HTML table with
// inline styles, or markdown-to-HTML conversion when the input is a string,
// per spec.md 4.5.
func opRenderTable(stepID string, data interface{}, config map[string]interface{}) (interface{}, error) {
	if s, ok := data.(string); ok {
		return render.MarkdownToHTML(s), nil
	}

	items := asArray(data)
	cols := toStringSlice(config["columns"])
	if cols == nil {
		cols = fieldNamesOf(items)
	}

	headerNames := map[string]string{}
	if raw, ok := config["header_names"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headerNames[k] = s
			}
		}
	}

	rows := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			rows = append(rows, m)
		}
	}

	return render.RenderTable(render.Table{Columns: cols, HeaderNames: headerNames, Rows: rows}), nil
}
