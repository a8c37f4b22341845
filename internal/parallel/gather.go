package parallel

import (
	"fmt"

	"github.com/AgentsPilot/neuronforge-sub010/internal/variable"
)

// GatherOp names one of scatter-gather's gather operations, per spec.md
// section 4.6.
type GatherOp string

const (
	GatherCollect GatherOp = "collect"
	GatherMerge   GatherOp = "merge"
	GatherReduce  GatherOp = "reduce"
	GatherFlatten GatherOp = "flatten"
)

// Gather folds per-item scatter results into a single value using the named
// operation:
//
//   - collect: the results as-is, as an array.
//   - merge: object union of every result map, later items winning on key
//     collision.
//   - reduce: fold with a resolver-evaluated expression; reduceExpression is
//     required (an empty string is an error here; internal/engine's
//     handleScatterGather rejects such a step before scattering).
//   - flatten: concatenate every result that is itself an array.
func Gather(op GatherOp, results []interface{}, reduceExpression string) (interface{}, error) {
	switch op {
	case GatherCollect:
		return results, nil
	case GatherMerge:
		merged := make(map[string]interface{})
		for _, r := range results {
			m, ok := r.(map[string]interface{})
			if !ok {
				continue
			}
			for k, v := range m {
				merged[k] = v
			}
		}
		return merged, nil
	case GatherFlatten:
		var flat []interface{}
		for _, r := range results {
			if arr, ok := r.([]interface{}); ok {
				flat = append(flat, arr...)
			} else if r != nil {
				flat = append(flat, r)
			}
		}
		return flat, nil
	case GatherReduce:
		return reduce(results, reduceExpression)
	default:
		return nil, fmt.Errorf("unknown gather operation %q", op)
	}
}

// reduce folds results left-to-right using an expression with "acc" and
// "item" bound as the accumulator and current item. The expression is
// evaluated through the same bounded safe-evaluator the variable resolver
// uses for literal arithmetic/comparison expressions.
func reduce(results []interface{}, expr string) (interface{}, error) {
	if expr == "" {
		return nil, fmt.Errorf("gather.reduce requires a reduceExpression")
	}
	var acc interface{}
	for i, item := range results {
		if i == 0 {
			acc = item
			continue
		}
		bound := &reduceSource{acc: acc, item: item}
		r := variable.NewResolver(bound, "")
		resolved, err := variable.ResolveAllVariables(expr, r)
		if err != nil {
			return nil, fmt.Errorf("could not evaluate reduce expression %q: %w", expr, err)
		}
		acc = resolved
	}
	return acc, nil
}

// reduceSource is a minimal variable.Source exposing "acc" and "item" as
// custom root variables for Gather's reduce expression.
type reduceSource struct {
	acc, item interface{}
}

func (s *reduceSource) StepOutput(string) (map[string]interface{}, bool) { return nil, false }
func (s *reduceSource) Input(string) (interface{}, bool)                 { return nil, false }
func (s *reduceSource) Variable(name string) (interface{}, bool) {
	switch name {
	case "acc":
		return s.acc, true
	case "item":
		return s.item, true
	default:
		return nil, false
	}
}
func (s *reduceSource) CurrentItem() (interface{}, bool)           { return s.item, true }
func (s *reduceSource) LoopVariable(string) (interface{}, bool)    { return nil, false }
