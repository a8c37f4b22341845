package variable

import (
	"encoding/json"
	"strings"

	"github.com/AgentsPilot/neuronforge-sub010/internal/pilotval"
)

// arrayMethodPrefixes are the call-site markers after which a null/undefined
// reference is replaced with "[]" instead of the literal "null", per spec.md
// 4.4's guard against "Cannot read properties of null" in expressions like
// item.includes(...).
var arrayMethodPrefixes = []string{".includes(", ".map(", ".filter(", ".forEach(", ".reduce(", ".some(", ".every(", ".find(", ".length"}

// ResolveAllVariables deep-walks a value tree, substituting {{...}} templates
// in every string it finds and recursing into arrays/objects, per spec.md
// 4.1. It is the ExecutionContext-level operation; internal/engine calls
// through to this with a Resolver bound to the current context.
func ResolveAllVariables(v interface{}, r *Resolver) (interface{}, error) {
	switch t := v.(type) {
	case string:
		return substituteString(t, r)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			resolved, err := ResolveAllVariables(item, r)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			resolved, err := ResolveAllVariables(item, r)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// substituteString implements spec.md 4.1's string substitution rule: a
// string that is exactly one {{...}} returns the raw resolved value
// (type-preserving); otherwise every {{...}} occurrence is replaced inline,
// serializing non-scalar resolved values to JSON, and the resulting literal
// is parsed as JSON if possible, falling back to the safe expression
// evaluator, falling back to the substituted text itself.
func substituteString(s string, r *Resolver) (interface{}, error) {
	refs := FindReferences(s)
	if len(refs) == 0 {
		return s, nil
	}

	if path, ok := IsSoleReference(s); ok {
		return r.Resolve(path)
	}

	result := s
	for _, ref := range refs {
		val, err := r.Resolve(ref)
		placeholder := "{{" + ref + "}}"
		if err != nil {
			// Null-guard: if this reference feeds directly into an array
			// method call, substitute an empty array instead of failing the
			// whole literal-expression string.
			if followedByArrayMethod(result, placeholder) {
				result = strings.ReplaceAll(result, placeholder, "[]")
				continue
			}
			return nil, err
		}
		result = strings.ReplaceAll(result, placeholder, inlineRepr(val))
	}

	// Structural JSON parse first.
	var parsed interface{}
	if err := json.Unmarshal([]byte(result), &parsed); err == nil {
		return parsed, nil
	}

	// Fall back to the bounded safe evaluator for arithmetic/comparison/array
	// expressions (Design Notes section 9: no embedded JS engine).
	if val, ok := EvaluateExpression(result); ok {
		return val, nil
	}

	return result, nil
}

func followedByArrayMethod(s, placeholder string) bool {
	idx := strings.Index(s, placeholder)
	if idx == -1 {
		return false
	}
	after := s[idx+len(placeholder):]
	for _, p := range arrayMethodPrefixes {
		if strings.HasPrefix(after, p) {
			return true
		}
	}
	return false
}

// inlineRepr renders a resolved value for inline template substitution:
// strings are inserted raw, everything else is JSON-serialized.
func inlineRepr(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if s, err := pilotval.ToJSON(v); err == nil {
		return s
	}
	return ""
}
