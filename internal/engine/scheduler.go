package engine

import (
	"context"

	"github.com/AgentsPilot/neuronforge-sub010/internal/parallel"
	"github.com/AgentsPilot/neuronforge-sub010/internal/werr"
)

// levelize groups steps into dependency levels by Kahn's algorithm: level 0
// holds every step with no Dependencies, level 1 holds every step whose
// Dependencies are all satisfied by level 0, and so on. Steps within a level
// have no ordering relationship and are safe to dispatch concurrently.
//
// Generalizes orchestrator/workflow_engine.go's groupStepsForExecution
// (getaxonflow-axonflow), which only ever groups "all but the last step" as
// one parallel batch followed by one sequential last step, regardless of
// what the steps actually depend on. This walks the declared Dependencies
// graph instead of guessing from position.
func levelize(steps []Step) ([][]Step, error) {
	byID := make(map[string]Step, len(steps))
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))

	for _, s := range steps {
		if _, dup := byID[s.ID]; dup {
			return nil, werr.NewValidationError(s.ID, "duplicate step id in workflow", nil)
		}
		byID[s.ID] = s
	}
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if _, ok := byID[dep]; !ok {
				return nil, werr.NewValidationError(s.ID, "depends on undeclared step "+dep, nil)
			}
			indegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var levels [][]Step
	remaining := len(steps)
	ready := make([]string, 0, len(steps))
	for _, s := range steps {
		if indegree[s.ID] == 0 {
			ready = append(ready, s.ID)
		}
	}

	for len(ready) > 0 {
		level := make([]Step, 0, len(ready))
		for _, id := range ready {
			level = append(level, byID[id])
		}
		levels = append(levels, level)
		remaining -= len(ready)

		next := make([]string, 0)
		for _, id := range ready {
			for _, child := range dependents[id] {
				indegree[child]--
				if indegree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		ready = next
	}

	if remaining > 0 {
		return nil, werr.NewValidationError("", "workflow has a dependency cycle", nil)
	}
	return levels, nil
}

// RunPlan is the top-level entry point for a workflow's step array: it
// levelizes steps by Dependencies and dispatches one level at a time,
// fanning independent steps within a level out concurrently via
// internal/parallel. RunSequence remains the right call for intra-branch
// bodies (conditional/switch/loop/sub_workflow) where steps already run
// against an isolated, ordered scope.
func (d *Dispatcher) RunPlan(ctx context.Context, ec *ExecutionContext, steps []Step) ([]*StepOutput, error) {
	levels, err := levelize(steps)
	if err != nil {
		return nil, err
	}

	outputs := make([]*StepOutput, 0, len(steps))
	for _, level := range levels {
		if len(level) == 1 {
			out, err := d.Execute(ctx, ec, level[0])
			if out != nil {
				outputs = append(outputs, out)
			}
			if err != nil {
				return outputs, err
			}
			continue
		}

		items := make([]interface{}, len(level))
		for i, s := range level {
			items[i] = s
		}
		results, errs := parallel.Run(ctx, items, maxLoopConcurrency, func(ctx context.Context, index int, item interface{}) (interface{}, error) {
			return d.Execute(ctx, ec, item.(Step))
		})
		for _, r := range results {
			so, ok := r.(*StepOutput)
			if !ok || so == nil {
				continue
			}
			outputs = append(outputs, so)
		}
		if err := parallel.AnyErr(errs); err != nil {
			return outputs, err
		}
	}
	return outputs, nil
}
