package transform

import (
	"context"
	"regexp"
	"strings"

	"github.com/AgentsPilot/neuronforge-sub010/internal/plugin"
	"github.com/AgentsPilot/neuronforge-sub010/internal/variable"
	"github.com/AgentsPilot/neuronforge-sub010/internal/werr"
)

// contentActionPattern matches action names that plausibly fetch the body of
// an item: get_*_attachment, get_*_content, download_*, fetch_*_content,
// get_file, per spec.md 4.5.
var contentActionPattern = regexp.MustCompile(`(?i)^(get_\w*_attachment|get_\w*_content|download_\w*|fetch_\w*_content|get_file)$`)

// opFetchContent implements fetch_content: enrich items with content by
// discovering a matching plugin action and auto-mapping item fields to its
// declared parameters, per spec.md 4.5. runtime must implement plugin.Runtime,
// capable of Describe/Execute against pluginName; both are read from config.
func opFetchContent(ctx context.Context, stepID string, data interface{}, config map[string]interface{}, base variable.Source) (interface{}, error) {
	pluginName, ok := configString(config, "plugin")
	if !ok {
		return nil, werr.NewValidationError(stepID, "fetch_content requires plugin", nil)
	}
	runtime, ok := config["__runtime"].(plugin.Runtime)
	if !ok || runtime == nil {
		return nil, werr.NewExecutionError(stepID, "fetch_content requires a plugin runtime bound by the step executor", nil)
	}

	def, err := runtime.Describe(pluginName)
	if err != nil {
		return nil, werr.NewExecutionError(stepID, "fetch_content could not describe plugin "+pluginName, err)
	}

	action, ok := configString(config, "action")
	if !ok {
		action, ok = pickContentAction(def.Capabilities)
		if !ok {
			return nil, werr.NewValidationError(stepID, "fetch_content could not find a content-fetching action on "+pluginName, nil)
		}
	}

	contentField, _ := configString(config, "content_field")
	if contentField == "" {
		contentField = "content"
	}

	items := asArray(data)
	out := make([]interface{}, len(items))
	for i, item := range items {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			out[i] = item
			continue
		}

		params := mapItemToParams(itemMap, def.ParamSchema)
		result, err := runtime.Execute(ctx, pluginName, action, params)
		if err != nil {
			return nil, werr.NewExecutionError(stepID, "fetch_content action "+action+" failed", err)
		}

		enriched := make(map[string]interface{}, len(itemMap)+1)
		for k, v := range itemMap {
			enriched[k] = v
		}
		if result.Success {
			enriched[contentField] = result.Data
		} else {
			enriched[contentField] = nil
			enriched[contentField+"_error"] = result.Error
		}
		out[i] = enriched
	}
	return out, nil
}

// pickContentAction returns the first capability matching contentActionPattern.
func pickContentAction(capabilities []string) (string, bool) {
	for _, c := range capabilities {
		if contentActionPattern.MatchString(c) {
			return c, true
		}
	}
	return "", false
}

// mapItemToParams auto-maps an item's fields onto a plugin action's declared
// parameters, per spec.md 4.5: exact name match, then camelCase/snake_case
// variants, then a "*_id" partial match, then a _parentData fallback.
func mapItemToParams(item map[string]interface{}, paramSchema map[string]interface{}) map[string]interface{} {
	params := map[string]interface{}{}
	props, _ := paramSchema["properties"].(map[string]interface{})
	if props == nil {
		return params
	}

	parentData, _ := item["_parentData"].(map[string]interface{})

	for name := range props {
		if v, ok := item[name]; ok {
			params[name] = v
			continue
		}
		if v, ok := item[toCamelCase(name)]; ok {
			params[name] = v
			continue
		}
		if v, ok := item[toSnakeCase(name)]; ok {
			params[name] = v
			continue
		}
		if strings.HasSuffix(name, "_id") || strings.HasSuffix(name, "Id") {
			if found, ok := findPartialIDMatch(item, name); ok {
				params[name] = found
				continue
			}
		}
		if parentData != nil {
			if v, ok := parentData[name]; ok {
				params[name] = v
				continue
			}
			if v, ok := parentData[toSnakeCase(name)]; ok {
				params[name] = v
			}
		}
	}
	return params
}

func findPartialIDMatch(item map[string]interface{}, name string) (interface{}, bool) {
	base := strings.TrimSuffix(strings.TrimSuffix(name, "_id"), "Id")
	base = strings.ToLower(base)
	for k, v := range item {
		lk := strings.ToLower(k)
		if strings.Contains(lk, base) && strings.Contains(lk, "id") {
			return v, true
		}
	}
	return nil, false
}

func toCamelCase(s string) string {
	parts := strings.Split(s, "_")
	if len(parts) == 1 {
		return s
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	return b.String()
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
