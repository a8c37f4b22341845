package llmdecision

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// codeFenceRegex extracts a ```json ... ``` (or bare ``` ... ```) fenced block.
var codeFenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)```")

// ParseStructuredResponse extracts a JSON value from an LLM's free-text
// response, trying in order: direct JSON parse, a fenced ```json``` code
// block, then the first balanced `{...}`/`[...]` substring, per spec.md
// section 4.9's "Schema-constrained output" parse chain.
func ParseStructuredResponse(text string) (interface{}, error) {
	trimmed := strings.TrimSpace(text)

	var direct interface{}
	if err := json.Unmarshal([]byte(trimmed), &direct); err == nil {
		return direct, nil
	}

	if m := codeFenceRegex.FindStringSubmatch(trimmed); m != nil {
		var fenced interface{}
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &fenced); err == nil {
			return fenced, nil
		}
	}

	if candidate, ok := firstBalancedJSON(trimmed); ok {
		var extracted interface{}
		if err := json.Unmarshal([]byte(candidate), &extracted); err == nil {
			return extracted, nil
		}
	}

	return nil, fmt.Errorf("could not parse structured output from response")
}

// firstBalancedJSON scans for the first balanced {...} or [...] substring,
// respecting string quoting so braces inside string literals don't confuse
// the bracket counter.
func firstBalancedJSON(s string) (string, bool) {
	start := -1
	var openCh, closeCh byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			openCh = s[i]
			if openCh == '{' {
				closeCh = '}'
			} else {
				closeCh = ']'
			}
			break
		}
	}
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// ValidationError is one schema-validation failure, e.g. "age: expected
// type number, got string".
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) String() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidateAgainstSchema checks a parsed value against a JSON-schema-like
// declaration, covering type, required fields, enums, numeric ranges, string
// patterns, and min/max items/length, per spec.md section 4.9.
func ValidateAgainstSchema(value interface{}, schema map[string]interface{}) []ValidationError {
	var errs []ValidationError
	validateNode("", value, schema, &errs)
	return errs
}

func validateNode(path string, value interface{}, schema map[string]interface{}, errs *[]ValidationError) {
	if schema == nil {
		return
	}

	if expected, ok := schema["type"].(string); ok {
		if !matchesType(value, expected) {
			*errs = append(*errs, ValidationError{Path: path, Message: fmt.Sprintf("expected type %s, got %T", expected, value)})
			return
		}
	}

	if enumVals, ok := schema["enum"].([]interface{}); ok {
		if !inEnum(value, enumVals) {
			*errs = append(*errs, ValidationError{Path: path, Message: fmt.Sprintf("value %v not in enum %v", value, enumVals)})
		}
	}

	switch v := value.(type) {
	case float64:
		validateNumericRange(path, v, schema, errs)
	case string:
		validateStringConstraints(path, v, schema, errs)
	case []interface{}:
		validateArrayConstraints(path, v, schema, errs)
		if itemSchema, ok := schema["items"].(map[string]interface{}); ok {
			for i, item := range v {
				validateNode(fmt.Sprintf("%s[%d]", path, i), item, itemSchema, errs)
			}
		}
	case map[string]interface{}:
		validateObjectConstraints(path, v, schema, errs)
	}
}

func matchesType(value interface{}, expected string) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "null":
		return value == nil
	default:
		return true
	}
}

func inEnum(value interface{}, enumVals []interface{}) bool {
	for _, e := range enumVals {
		if e == value {
			return true
		}
	}
	return false
}

func validateNumericRange(path string, v float64, schema map[string]interface{}, errs *[]ValidationError) {
	if min, ok := numField(schema, "minimum"); ok && v < min {
		*errs = append(*errs, ValidationError{Path: path, Message: fmt.Sprintf("value %v below minimum %v", v, min)})
	}
	if max, ok := numField(schema, "maximum"); ok && v > max {
		*errs = append(*errs, ValidationError{Path: path, Message: fmt.Sprintf("value %v above maximum %v", v, max)})
	}
}

func numField(schema map[string]interface{}, key string) (float64, bool) {
	v, ok := schema[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func validateStringConstraints(path, v string, schema map[string]interface{}, errs *[]ValidationError) {
	if pattern, ok := schema["pattern"].(string); ok {
		if re, err := regexp.Compile(pattern); err == nil && !re.MatchString(v) {
			*errs = append(*errs, ValidationError{Path: path, Message: fmt.Sprintf("value %q does not match pattern %q", v, pattern)})
		}
	}
	if minLen, ok := numField(schema, "minLength"); ok && float64(len(v)) < minLen {
		*errs = append(*errs, ValidationError{Path: path, Message: fmt.Sprintf("length %d below minLength %v", len(v), minLen)})
	}
	if maxLen, ok := numField(schema, "maxLength"); ok && float64(len(v)) > maxLen {
		*errs = append(*errs, ValidationError{Path: path, Message: fmt.Sprintf("length %d above maxLength %v", len(v), maxLen)})
	}
}

func validateArrayConstraints(path string, v []interface{}, schema map[string]interface{}, errs *[]ValidationError) {
	if minItems, ok := numField(schema, "minItems"); ok && float64(len(v)) < minItems {
		*errs = append(*errs, ValidationError{Path: path, Message: fmt.Sprintf("%d items below minItems %v", len(v), minItems)})
	}
	if maxItems, ok := numField(schema, "maxItems"); ok && float64(len(v)) > maxItems {
		*errs = append(*errs, ValidationError{Path: path, Message: fmt.Sprintf("%d items above maxItems %v", len(v), maxItems)})
	}
}

func validateObjectConstraints(path string, v map[string]interface{}, schema map[string]interface{}, errs *[]ValidationError) {
	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, exists := v[name]; !exists {
				*errs = append(*errs, ValidationError{Path: joinPath(path, name), Message: "required field missing"})
			}
		}
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		for name, propSchema := range props {
			if val, exists := v[name]; exists {
				if ps, ok := propSchema.(map[string]interface{}); ok {
					validateNode(joinPath(path, name), val, ps, errs)
				}
			}
		}
	}
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}

// BuildRetryHint produces a retry-hint string enumerating the first three
// validation errors, per spec.md section 4.9.
func BuildRetryHint(errs []ValidationError) string {
	if len(errs) == 0 {
		return ""
	}
	n := len(errs)
	if n > 3 {
		n = 3
	}
	var parts []string
	for _, e := range errs[:n] {
		parts = append(parts, e.String())
	}
	return "Your previous response did not match the required schema: " + strings.Join(parts, "; ") + ". Please correct and respond again with valid JSON only."
}
