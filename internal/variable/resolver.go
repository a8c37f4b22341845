package variable

import (
	"fmt"
	"strings"
)

// ResolutionError is the typed error raised when a {{path}} reference cannot
// be resolved, per spec.md invariant 4: missing upstream output must fail
// loudly, never silently yield undefined.
type ResolutionError struct {
	Ref            string
	StepIDContext  string
	Reason         string
}

func (e *ResolutionError) Error() string {
	if e.StepIDContext != "" {
		return fmt.Sprintf("variable resolution failed for {{%s}} in step %s: %s", e.Ref, e.StepIDContext, e.Reason)
	}
	return fmt.Sprintf("variable resolution failed for {{%s}}: %s", e.Ref, e.Reason)
}

// Source abstracts the data an ExecutionContext exposes to the resolver,
// keeping this package free of a dependency on internal/engine.
type Source interface {
	// StepOutput returns the StepOutput envelope for a step id, shaped as
	// {stepId, plugin, action, data, metadata}, and whether it exists.
	StepOutput(stepID string) (map[string]interface{}, bool)
	// Input returns a top-level input value.
	Input(key string) (interface{}, bool)
	// Variable returns a run-scoped variable.
	Variable(name string) (interface{}, bool)
	// CurrentItem returns the current scatter/loop iteration item, if any.
	CurrentItem() (interface{}, bool)
	// LoopVariable returns a loop-scope variable.
	LoopVariable(name string) (interface{}, bool)
}

// Resolver resolves {{path}} references against a Source.
type Resolver struct {
	src      Source
	stepIDCtx string
}

// NewResolver builds a resolver bound to a Source. stepIDCtx is used only to
// enrich error messages with "which step's params were being resolved".
func NewResolver(src Source, stepIDCtx string) *Resolver {
	return &Resolver{src: src, stepIDCtx: stepIDCtx}
}

func (r *Resolver) fail(ref, reason string) error {
	return &ResolutionError{Ref: ref, StepIDContext: r.stepIDCtx, Reason: reason}
}

// Resolve resolves a single path (without surrounding {{ }}) to a value.
func (r *Resolver) Resolve(path string) (interface{}, error) {
	segs := ParsePath(path)
	if len(segs) == 0 {
		return nil, r.fail(path, "empty path")
	}
	root, ok := RootName(segs)
	if !ok {
		return nil, r.fail(path, "path must start with a name")
	}

	rest := segs[1:]
	var cur interface{}
	var present bool

	switch {
	case IsStepRoot(root):
		out, exists := r.src.StepOutput(root)
		if !exists {
			return nil, r.fail(path, fmt.Sprintf("no output recorded for %s", root))
		}
		cur = out
		present = true
		if len(rest) > 0 && NeedsAutoDataNavigation(rest[0]) {
			data, _ := out["data"]
			cur = data
			// auto-navigated; do not consume rest[0] as a .data segment
		}
	case root == "input" || root == "inputs":
		if len(rest) == 0 {
			return nil, r.fail(path, "input reference requires a key")
		}
		if rest[0].Kind != SegName {
			return nil, r.fail(path, "input reference requires a named key")
		}
		v, exists := r.src.Input(rest[0].Name)
		if !exists {
			return nil, r.fail(path, fmt.Sprintf("input %q not found", rest[0].Name))
		}
		cur, present = v, true
		rest = rest[1:]
	case root == "var":
		if len(rest) == 0 {
			return nil, r.fail(path, "var reference requires a name")
		}
		if rest[0].Kind != SegName {
			return nil, r.fail(path, "var reference requires a named key")
		}
		v, exists := r.src.Variable(rest[0].Name)
		if !exists {
			return nil, r.fail(path, fmt.Sprintf("variable %q not found", rest[0].Name))
		}
		cur, present = v, true
		rest = rest[1:]
	case root == "current" || root == "item":
		v, exists := r.src.CurrentItem()
		if !exists {
			return nil, r.fail(path, "no current iteration item in scope")
		}
		cur, present = v, true
	case root == "loop":
		if len(rest) == 0 {
			return nil, r.fail(path, "loop reference requires a name")
		}
		if rest[0].Kind != SegName {
			return nil, r.fail(path, "loop reference requires a named key")
		}
		v, exists := r.src.LoopVariable(rest[0].Name)
		if !exists {
			return nil, r.fail(path, fmt.Sprintf("loop variable %q not found", rest[0].Name))
		}
		cur, present = v, true
		rest = rest[1:]
	default:
		// registered custom variable name (scatter-gather item bindings, e.g. "email")
		if v, exists := r.src.Variable(root); exists {
			cur, present = v, true
		} else if v, exists := r.src.Input(root); exists {
			cur, present = v, true
		} else {
			return nil, r.fail(path, fmt.Sprintf("unknown root namespace %q", root))
		}
	}

	if !present {
		return nil, r.fail(path, "resolved root is absent")
	}

	for _, seg := range rest {
		next, ok, reason := step(cur, seg)
		if !ok {
			return nil, r.fail(path, reason)
		}
		cur = next
	}
	return cur, nil
}

// step applies one path segment to a value, implementing case-sensitive then
// case-insensitive lookup, wrapper auto-unwrap, and array index/wildcard
// access, per spec.md 4.4's nested lookup rules.
func step(cur interface{}, seg Segment) (interface{}, bool, string) {
	switch seg.Kind {
	case SegIndex:
		arr, ok := cur.([]interface{})
		if !ok {
			return nil, false, "array index applied to non-array value"
		}
		idx := seg.Index
		if idx < 0 {
			idx += len(arr)
		}
		if idx < 0 || idx >= len(arr) {
			return nil, false, "array index out of range"
		}
		return arr[idx], true, ""
	case SegWildcard:
		arr, ok := cur.([]interface{})
		if !ok {
			return nil, false, "wildcard applied to non-array value"
		}
		return arr, true, ""
	case SegKey, SegName:
		return lookupKey(cur, seg.Name)
	}
	return nil, false, "unknown path segment"
}

// wrapperKeys are nested-wrapper field names the resolver auto-unwraps when a
// direct key lookup misses, per spec.md 4.4 (CRM-style {fields, properties, data}).
var wrapperKeys = []string{"fields", "properties", "data"}

func lookupKey(cur interface{}, name string) (interface{}, bool, string) {
	obj, ok := cur.(map[string]interface{})
	if !ok {
		return nil, false, fmt.Sprintf("key %q accessed on non-object value", name)
	}
	if v, exists := obj[name]; exists {
		return v, true, ""
	}
	// case-insensitive fallback
	lname := strings.ToLower(name)
	for k, v := range obj {
		if strings.ToLower(k) == lname {
			return v, true, ""
		}
	}
	// auto-unwrap recognized nested wrappers, case-sensitive then insensitive
	for _, wk := range wrapperKeys {
		if wrapped, exists := obj[wk]; exists {
			if v, ok, _ := lookupKey(wrapped, name); ok {
				return v, true, ""
			}
		}
		for k, v := range obj {
			if strings.ToLower(k) == wk {
				if inner, ok, _ := lookupKey(v, name); ok {
					return inner, true, ""
				}
			}
		}
	}
	return nil, false, fmt.Sprintf("key %q not found", name)
}
