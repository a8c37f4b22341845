// Package schema implements schema-aware data shape reconciliation: locating
// the "primary" array inside an arbitrarily-shaped connector payload, and
// extracting a named field from a record, without any hardcoded plugin or
// connector field names.
//
// Grounded on orchestrator/mcp_connector_processor.go's formatResponse /
// formatFlightResults / formatHotelResults (getaxonflow-axonflow), which hand
// each connector its own hardcoded row-shape logic (rows []map[string]any
// with connector-specific field names like "origin", "check_in_date"). This
// package replaces that per-connector hardcoding with the generic heuristics
// spec.md section 4.8 requires: array discovery by denylist + priority
// regex, and field extraction by progressively fuzzier matching.
package schema

import (
	"regexp"
	"sort"
	"strings"
)

// denylist names arrays that are metadata, pagination, or transform residue
// rather than primary record data.
var denylist = map[string]bool{
	"count": true, "total": true, "offset": true, "limit": true, "cursor": true,
	"next_page": true, "nextPage": true, "page": true, "pages": true, "pageSize": true,
	"success": true, "error": true, "errors": true, "meta": true, "metadata": true,
	"status": true, "warnings": true,
	"removed": true, "originalCount": true, "skipped": true, "filtered": true,
}

// primaryDataRegex matches generic primary-data array field names across the
// connector ecosystem: items, results, records, entries, list, rows, values,
// objects, entities, resources, elements, content, response.
var primaryDataRegex = regexp.MustCompile(`(?i)^(items|results?|records?|entries|list|rows|values|objects|entities|resources|elements|content|response)s?$`)

// pluralRegex is a loose heuristic for "this field name is a pluralized noun"
// when no name matches the primary-data vocabulary.
var pluralRegex = regexp.MustCompile(`(?i)(s|es)$`)

// UnwrapStructuredOutput locates the primary record array inside a
// heterogeneous connector payload, per spec.md section 4.8 point 1:
//
//  1. If a nested "data" field exists, recurse into it.
//  2. Enumerate array-valued fields, excluding the denylist.
//  3. Prefer names matching primaryDataRegex; otherwise prefer the longest
//     pluralized-noun-looking name; otherwise the largest non-empty array;
//     otherwise the first array found.
//  4. If no arrays are found, unwrap a single non-denied nested object.
//
// Returns the array (or the nested object, or the original value if nothing
// could be unwrapped) and whether an unwrap actually happened.
func UnwrapStructuredOutput(data interface{}) (interface{}, bool) {
	obj, ok := data.(map[string]interface{})
	if !ok {
		return data, false
	}

	if nested, exists := obj["data"]; exists {
		if unwrapped, ok := UnwrapStructuredOutput(nested); ok {
			return unwrapped, true
		}
		return nested, true
	}

	var candidates []arrayCandidate
	for k, v := range obj {
		if denylist[strings.ToLower(k)] {
			continue
		}
		if arr, ok := v.([]interface{}); ok {
			candidates = append(candidates, arrayCandidate{name: k, arr: arr})
		}
	}

	if len(candidates) == 0 {
		// No arrays: unwrap a single non-denied nested object, if any.
		var objCandidates []string
		for k, v := range obj {
			if denylist[strings.ToLower(k)] {
				continue
			}
			if _, ok := v.(map[string]interface{}); ok {
				objCandidates = append(objCandidates, k)
			}
		}
		if len(objCandidates) == 1 {
			return obj[objCandidates[0]], true
		}
		return data, false
	}

	// Priority 1: primary-data vocabulary match.
	var primary []arrayCandidate
	for _, c := range candidates {
		if primaryDataRegex.MatchString(c.name) {
			primary = append(primary, c)
		}
	}
	if len(primary) > 0 {
		return pickLongestName(primary).arr, true
	}

	// Priority 2: pluralized-noun-looking names, prefer longest.
	var plural []arrayCandidate
	for _, c := range candidates {
		if pluralRegex.MatchString(c.name) {
			plural = append(plural, c)
		}
	}
	if len(plural) > 0 {
		return pickLongestName(plural).arr, true
	}

	// Priority 3: largest non-empty array.
	sort.Slice(candidates, func(i, j int) bool {
		return len(candidates[i].arr) > len(candidates[j].arr)
	})
	if len(candidates[0].arr) > 0 {
		return candidates[0].arr, true
	}

	// Priority 4: first array found (stable by original map iteration is not
	// guaranteed; fall back to the first after sorting by name for
	// determinism).
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].name < candidates[j].name })
	return candidates[0].arr, true
}

// arrayCandidate is a named array field considered as the primary-data array
// during UnwrapStructuredOutput's priority selection.
type arrayCandidate struct {
	name string
	arr  []interface{}
}

func pickLongestName(cs []arrayCandidate) arrayCandidate {
	best := cs[0]
	for _, c := range cs[1:] {
		if len(c.name) > len(best.name) {
			best = c
		}
	}
	return best
}

// ExtractValueByKey extracts a named field from a record using the
// progressive match chain spec.md section 4.8 point 2 describes: direct
// match, case-insensitive match, declared column_mapping lookup, normalized
// fuzzy match, word-based overlap.
func ExtractValueByKey(record map[string]interface{}, key string, columnMapping map[string]string) (interface{}, bool) {
	if v, ok := record[key]; ok {
		return v, true
	}

	lkey := strings.ToLower(key)
	for k, v := range record {
		if strings.ToLower(k) == lkey {
			return v, true
		}
	}

	if columnMapping != nil {
		if mapped, ok := columnMapping[key]; ok {
			if v, ok := record[mapped]; ok {
				return v, true
			}
		}
	}

	if v, ok := findFieldValue(record, key); ok {
		return v, true
	}

	return nil, false
}

// FindFieldValue is the exported entry point for the fuzzy/word-overlap
// match strategies alone (used when a caller already tried direct and
// case-insensitive lookup itself).
func FindFieldValue(record map[string]interface{}, key string) (interface{}, bool) {
	return findFieldValue(record, key)
}

func findFieldValue(record map[string]interface{}, key string) (interface{}, bool) {
	normKey := normalize(key)
	for k, v := range record {
		if normalize(k) == normKey {
			return v, true
		}
	}

	keyTokens := tokenize(key)
	if len(keyTokens) == 0 {
		return nil, false
	}

	var bestKey string
	var bestScore float64
	for k := range record {
		score := overlapScore(keyTokens, tokenize(k))
		if score > bestScore {
			bestScore = score
			bestKey = k
		}
	}
	if bestScore >= 0.6 {
		return record[bestKey], true
	}
	return nil, false
}

// parenRegex strips a parenthetical hint like "Sales Person (Owner)".
var parenRegex = regexp.MustCompile(`\([^)]*\)`)

// nonAlnumRegex collapses anything that isn't a letter or digit.
var nonAlnumRegex = regexp.MustCompile(`[^a-z0-9]+`)

func normalize(s string) string {
	s = parenRegex.ReplaceAllString(s, "")
	s = strings.ToLower(s)
	s = nonAlnumRegex.ReplaceAllString(s, "")
	return s
}

func tokenize(s string) []string {
	s = parenRegex.ReplaceAllString(s, "")
	s = strings.ToLower(s)
	raw := nonAlnumRegex.Split(s, -1)
	var tokens []string
	for _, t := range raw {
		if len(t) >= 3 {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// overlapScore returns the fraction of a's 3-char-plus tokens that also
// appear in b, per spec.md section 4.8's "≥60% of 3-char-plus tokens match".
func overlapScore(a, b []string) float64 {
	if len(a) == 0 {
		return 0
	}
	bSet := make(map[string]bool, len(b))
	for _, t := range b {
		bSet[t] = true
	}
	matches := 0
	for _, t := range a {
		if bSet[t] {
			matches++
		}
	}
	return float64(matches) / float64(len(a))
}

// outputSchemaKey is the sidecar key an action handler attaches to returned
// data so transforms can consult the plugin-declared output_schema for
// authoritative array-field selection instead of guessing, per spec.md
// section 4.8 point 3. Stored as a normal map entry (Go has no non-enumerable
// property mechanism); callers that serialize this data back out over the
// wire should strip it first.
const outputSchemaKey = "__output_schema"

// AttachOutputSchema annotates data with a plugin-declared schema hint.
func AttachOutputSchema(data map[string]interface{}, outputSchema map[string]interface{}) {
	if outputSchema == nil {
		return
	}
	data[outputSchemaKey] = outputSchema
}

// OutputSchemaHint reads back a schema hint previously attached with
// AttachOutputSchema, if present.
func OutputSchemaHint(data map[string]interface{}) (map[string]interface{}, bool) {
	v, ok := data[outputSchemaKey]
	if !ok {
		return nil, false
	}
	hint, ok := v.(map[string]interface{})
	return hint, ok
}

// StripInternalHints removes sidecar bookkeeping keys (like the schema hint)
// before data is serialized back out over an external interface.
func StripInternalHints(data map[string]interface{}) {
	delete(data, outputSchemaKey)
}
