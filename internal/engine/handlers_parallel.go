package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/AgentsPilot/neuronforge-sub010/internal/parallel"
	"github.com/AgentsPilot/neuronforge-sub010/internal/pilotval"
	"github.com/AgentsPilot/neuronforge-sub010/internal/werr"
)

// maxLoopConcurrency bounds a parallel loop's fan-out the same way the
// source's scatter-gather worker pool is bounded, rather than spawning one
// goroutine per item unconditionally.
const maxLoopConcurrency = 8

// concurrencyFor returns the author-declared fan-out bound for a loop,
// parallel_group, or scatter_gather step, falling back to maxLoopConcurrency
// when the step doesn't declare one.
func concurrencyFor(step Step) int {
	if step.MaxConcurrency > 0 {
		return step.MaxConcurrency
	}
	return maxLoopConcurrency
}

// handleLoop iterates the already-resolved IterateOver array, running Body
// once per item (optionally bounded by MaxIterations). Sequential loops run
// each iteration against ec directly, mutating it in place; parallel loops
// give each iteration a clone and fold the results back in item order.
func (d *Dispatcher) handleLoop(ctx context.Context, ec *ExecutionContext, step Step) (interface{}, int, error) {
	items, ok := pilotval.AsArray(step.IterateOver)
	if !ok {
		return nil, 0, werr.NewValidationError(step.ID, "loop requires an array to iterate over", nil)
	}
	if step.MaxIterations > 0 && len(items) > step.MaxIterations {
		items = items[:step.MaxIterations]
	}

	if !step.ParallelLoop {
		results := make([]interface{}, 0, len(items))
		tokens := 0
		for i, item := range items {
			var outs []*StepOutput
			err := ec.pushIteration(item, map[string]interface{}{"index": i}, func() error {
				var innerErr error
				outs, innerErr = d.RunSequence(ctx, ec, step.Body)
				return innerErr
			})
			if err != nil {
				return nil, tokens, err
			}
			results = append(results, outputsToData(outs))
			tokens += sumTokens(outs)
		}
		return map[string]interface{}{"iterations": results, "count": len(results)}, tokens, nil
	}

	results := make([]interface{}, len(items))
	var mergeMu sync.Mutex
	tokens := 0
	_, errs := parallel.Run(ctx, items, concurrencyFor(step), func(ctx context.Context, index int, item interface{}) (interface{}, error) {
		branch := ec.Clone(true)
		var outs []*StepOutput
		err := branch.pushIteration(item, map[string]interface{}{"index": index}, func() error {
			var innerErr error
			outs, innerErr = d.RunSequence(ctx, branch, step.Body)
			return innerErr
		})
		if err != nil {
			return nil, err
		}
		mergeMu.Lock()
		ec.Merge(branch)
		tokens += sumTokens(outs)
		mergeMu.Unlock()
		results[index] = outputsToData(outs)
		return nil, nil
	})
	if err := parallel.AnyErr(errs); err != nil {
		return nil, tokens, werr.NewExecutionError(step.ID, "loop iteration failed", err)
	}
	return map[string]interface{}{"iterations": results, "count": len(results)}, tokens, nil
}

// handleParallelGroup runs every declared branch concurrently against its
// own cloned context, merging each branch back into ec once it finishes.
// Used for both "parallel" (bare branch list) and "parallel_group" step
// types; they share the same Branches shape.
func (d *Dispatcher) handleParallelGroup(ctx context.Context, ec *ExecutionContext, step Step) (interface{}, int, error) {
	branchItems := make([]interface{}, len(step.Branches))
	for i, b := range step.Branches {
		branchItems[i] = b
	}

	results := make([]interface{}, len(step.Branches))
	var mergeMu sync.Mutex
	tokens := 0
	_, errs := parallel.Run(ctx, branchItems, concurrencyFor(step), func(ctx context.Context, index int, item interface{}) (interface{}, error) {
		branch := ec.Clone(true)
		outs, err := d.RunSequence(ctx, branch, item.([]Step))
		if err != nil {
			return nil, err
		}
		mergeMu.Lock()
		ec.Merge(branch)
		tokens += sumTokens(outs)
		mergeMu.Unlock()
		results[index] = outputsToData(outs)
		return nil, nil
	})
	if step.ContinueOnError {
		for i, err := range errs {
			if err != nil {
				results[i] = map[string]interface{}{"error": err.Error()}
			}
		}
	} else if err := parallel.AnyErr(errs); err != nil {
		return nil, tokens, werr.NewExecutionError(step.ID, "parallel branch failed", err)
	}
	return map[string]interface{}{"branches": results}, tokens, nil
}

// handleScatterGather fans Body out over each item of the already-resolved
// Scatter array (one cloned context per item, each merged back into ec as it
// finishes; per-item results keep input order), then folds the per-item
// results through the declared GatherOp.
func (d *Dispatcher) handleScatterGather(ctx context.Context, ec *ExecutionContext, step Step) (interface{}, int, error) {
	items, ok := pilotval.AsArray(step.Scatter)
	if !ok {
		return nil, 0, werr.NewValidationError(step.ID, "scatter_gather requires an array to scatter over", nil)
	}
	if step.GatherOp == parallel.GatherReduce && step.ReduceExpression == "" {
		return nil, 0, werr.NewValidationError(step.ID, "gather.reduce requires a reduceExpression", nil)
	}

	scatterAs := step.ScatterAs
	if scatterAs == "" {
		scatterAs = "item"
	}

	perItem := make([]interface{}, len(items))
	var mergeMu sync.Mutex
	tokens := 0
	_, errs := parallel.Run(ctx, items, concurrencyFor(step), func(ctx context.Context, index int, item interface{}) (interface{}, error) {
		branch := ec.Clone(true)
		var outs []*StepOutput
		err := branch.pushIteration(item, map[string]interface{}{scatterAs: item}, func() error {
			var innerErr error
			outs, innerErr = d.RunSequence(ctx, branch, step.Body)
			return innerErr
		})
		if err != nil {
			return nil, err
		}
		mergeMu.Lock()
		ec.Merge(branch)
		tokens += sumTokens(outs)
		mergeMu.Unlock()
		if len(outs) > 0 {
			perItem[index] = outs[len(outs)-1].Data
		}
		return nil, nil
	})
	if err := parallel.AnyErr(errs); err != nil {
		return nil, tokens, werr.NewExecutionError(step.ID, "scatter branch failed", err)
	}

	gathered, err := parallel.Gather(step.GatherOp, perItem, step.ReduceExpression)
	if err != nil {
		return nil, tokens, werr.NewExecutionError(step.ID, fmt.Sprintf("gather(%s) failed", step.GatherOp), err)
	}
	return gathered, tokens, nil
}
