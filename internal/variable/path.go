// Package variable implements the {{path}} reference syntax: tokenizing a
// path into segments, and resolving those segments against an execution's
// step outputs, inputs, run-scoped variables, and iteration bindings.
//
// Grounded on orchestrator/workflow_engine.go's replaceTemplateVars and
// resolveOutputTemplate (getaxonflow-axonflow), generalized from fixed-shape
// {{steps.name.output.key}} string replacement to a typed path walker per
// spec.md section 4.4.
package variable

import "strings"

// SegmentKind discriminates a parsed path segment.
type SegmentKind int

const (
	// SegName is a dotted identifier, e.g. "data" in "step1.data.row".
	SegName SegmentKind = iota
	// SegIndex is a numeric bracket index, e.g. [0].
	SegIndex
	// SegKey is a quoted bracket string key, e.g. ['Sales Person'].
	SegKey
	// SegWildcard is [*], meaning "the whole array".
	SegWildcard
)

// Segment is one parsed step of a path.
type Segment struct {
	Kind  SegmentKind
	Name  string
	Index int
}

// ParsePath tokenizes a reference path (the content between {{ and }}, with
// whitespace already trimmed) into segments. The tokenizer respects quotes
// inside brackets so dots embedded in a quoted key are preserved verbatim.
func ParsePath(path string) []Segment {
	var segs []Segment
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			segs = append(segs, Segment{Kind: SegName, Name: cur.String()})
			cur.Reset()
		}
	}

	i := 0
	for i < len(path) {
		c := path[i]
		switch {
		case c == '.':
			flush()
			i++
		case c == '[':
			flush()
			end := i + 1
			if end < len(path) && path[end] == '*' && end+1 < len(path) && path[end+1] == ']' {
				segs = append(segs, Segment{Kind: SegWildcard})
				i = end + 2
				continue
			}
			if end < len(path) && (path[end] == '\'' || path[end] == '"') {
				quote := path[end]
				j := end + 1
				var key strings.Builder
				for j < len(path) && path[j] != quote {
					key.WriteByte(path[j])
					j++
				}
				// skip closing quote and ']'
				j++
				if j < len(path) && path[j] == ']' {
					j++
				}
				segs = append(segs, Segment{Kind: SegKey, Name: key.String()})
				i = j
				continue
			}
			// numeric index
			j := end
			var num strings.Builder
			for j < len(path) && path[j] != ']' {
				num.WriteByte(path[j])
				j++
			}
			if j < len(path) {
				j++
			}
			idx := 0
			neg := false
			s := num.String()
			for k, r := range s {
				if k == 0 && r == '-' {
					neg = true
					continue
				}
				if r < '0' || r > '9' {
					idx = -1
					break
				}
				idx = idx*10 + int(r-'0')
			}
			if neg {
				idx = -idx
			}
			segs = append(segs, Segment{Kind: SegIndex, Index: idx})
			i = j
		default:
			cur.WriteByte(c)
			i++
		}
	}
	flush()
	return segs
}

// RootName returns the first name segment of a parsed path, used to dispatch
// to the correct root namespace (stepN, input, var, current, loop, ...).
func RootName(segs []Segment) (string, bool) {
	if len(segs) == 0 || segs[0].Kind != SegName {
		return "", false
	}
	return segs[0].Name, true
}

// IsStepRoot reports whether a root name addresses a step output, e.g. "step1".
func IsStepRoot(name string) bool {
	return strings.HasPrefix(name, "step") && len(name) > 4
}

// stepDataFields are the StepOutput field names that bypass auto-.data
// navigation: dotted continuations matching one of these address the
// StepOutput envelope directly instead of descending into .data.
var stepDataFields = map[string]bool{
	"data": true, "metadata": true, "stepId": true, "plugin": true, "action": true,
}

// NeedsAutoDataNavigation reports whether, for a stepN root reference, the
// next segment should be treated as implicitly under .data (spec.md 4.4
// "ergonomics" rule).
func NeedsAutoDataNavigation(nextSeg Segment) bool {
	if nextSeg.Kind != SegName {
		return true
	}
	return !stepDataFields[nextSeg.Name]
}

// FindReferences finds all {{...}} occurrences in s and returns their raw
// path text (without the braces, untrimmed).
func FindReferences(s string) []string {
	var refs []string
	i := 0
	for {
		start := strings.Index(s[i:], "{{")
		if start == -1 {
			break
		}
		start += i
		end := strings.Index(s[start+2:], "}}")
		if end == -1 {
			break
		}
		end += start + 2
		refs = append(refs, s[start+2:end])
		i = end + 2
	}
	return refs
}

// IsSoleReference reports whether s is exactly one {{...}} expression with no
// surrounding text, per spec.md 4.1's type-preserving substitution rule.
func IsSoleReference(s string) (path string, ok bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") {
		return "", false
	}
	inner := trimmed[2 : len(trimmed)-2]
	if strings.Contains(inner, "}}") || strings.Contains(inner, "{{") {
		return "", false
	}
	return inner, true
}
