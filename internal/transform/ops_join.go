package transform

import (
	"fmt"

	"github.com/AgentsPilot/neuronforge-sub010/internal/werr"
)

// opJoin implements the equijoin transform declared but left unimplemented
// upstream (spec.md section 9's "transformJoin"): leftKey/rightKey equality
// over config.right, with joinType in {inner, left, right}. Matched rows
// merge right-hand fields into the left row (right wins on every key
// collision, join keys included); rows a left/right join keeps unmatched are
// copied as they are, with no fields added for the missing side.
func opJoin(stepID string, data interface{}, config map[string]interface{}) (interface{}, error) {
	leftKey, ok1 := configString(config, "leftKey", "left_key")
	rightKey, ok2 := configString(config, "rightKey", "right_key")
	if !ok1 || !ok2 {
		return nil, werr.NewValidationError(stepID, "join requires leftKey and rightKey", nil)
	}
	joinType, _ := configString(config, "joinType", "join_type")
	if joinType == "" {
		joinType = "inner"
	}
	if joinType != "inner" && joinType != "left" && joinType != "right" {
		return nil, werr.NewValidationError(stepID, fmt.Sprintf("unsupported joinType %q", joinType), nil)
	}

	right := asArray(config["right"])
	left := asArray(data)

	rightByKey := map[string][]map[string]interface{}{}
	for _, r := range right {
		rm, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		v, _ := extractKeyValue(rm, rightKey)
		rightByKey[keyString(v)] = append(rightByKey[keyString(v)], rm)
	}

	matchedRightKeys := map[string]bool{}
	var out []interface{}

	for _, l := range left {
		lm, ok := l.(map[string]interface{})
		if !ok {
			continue
		}
		v, _ := extractKeyValue(lm, leftKey)
		k := keyString(v)
		matches := rightByKey[k]
		if len(matches) == 0 {
			if joinType == "inner" || joinType == "right" {
				continue
			}
			out = append(out, cloneMap(lm))
			continue
		}
		matchedRightKeys[k] = true
		for _, rm := range matches {
			out = append(out, mergeJoinRow(lm, rm))
		}
	}

	if joinType == "right" {
		for k, matches := range rightByKey {
			if matchedRightKeys[k] {
				continue
			}
			for _, rm := range matches {
				out = append(out, cloneMap(rm))
			}
		}
	}

	if out == nil {
		out = []interface{}{}
	}
	return out, nil
}

func mergeJoinRow(left, right map[string]interface{}) map[string]interface{} {
	merged := cloneMap(left)
	for k, v := range right {
		merged[k] = v
	}
	return merged
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
