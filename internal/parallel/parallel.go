// Package parallel implements the Parallel Executor spec.md section 4.6
// describes: bounded-concurrency parallel groups, loop iteration (sequential
// or parallel), and scatter-gather.
//
// Grounded on orchestrator/workflow_engine.go's executeStepsParallel
// (getaxonflow-axonflow) for the goroutine-per-item + sync.WaitGroup +
// per-index result/error slice shape, and on
// other_examples/4bf4d2a3_aipilotbyjd-n8n-work's workflow engine for bounding
// fan-out with golang.org/x/sync/semaphore.Weighted instead of an unbounded
// goroutine burst.
package parallel

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ItemFunc executes one unit of work (a parallel-group child step, a loop
// iteration body, or a scatter-gather per-item mini-plan) and returns its
// result value plus any error. index is the item's position in the input
// slice, preserved in the returned results regardless of completion order.
type ItemFunc func(ctx context.Context, index int, item interface{}) (interface{}, error)

// Run executes fn once per item, bounded by maxConcurrency (0 or negative
// means unlimited), and returns per-index results and errors in input
// order. Per spec.md section 5, cross-item completion order is unspecified
// but the returned slices are always ordered by input index.
func Run(ctx context.Context, items []interface{}, maxConcurrency int, fn ItemFunc) ([]interface{}, []error) {
	n := len(items)
	results := make([]interface{}, n)
	errs := make([]error, n)
	if n == 0 {
		return results, errs
	}

	var sem *semaphore.Weighted
	if maxConcurrency > 0 {
		sem = semaphore.NewWeighted(int64(maxConcurrency))
	}

	var wg sync.WaitGroup
	for i, item := range items {
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				errs[i] = err
				continue
			}
		}
		wg.Add(1)
		go func(idx int, it interface{}) {
			defer wg.Done()
			if sem != nil {
				defer sem.Release(1)
			}
			result, err := fn(ctx, idx, it)
			results[idx] = result
			errs[idx] = err
		}(i, item)
	}
	wg.Wait()
	return results, errs
}

// RunSequential executes fn once per item in strict order, stopping at the
// first error.
func RunSequential(ctx context.Context, items []interface{}, fn ItemFunc) ([]interface{}, error) {
	results := make([]interface{}, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := fn(ctx, i, item)
		results[i] = result
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// AnyErr returns the first non-nil error in errs, or nil.
func AnyErr(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// AllFailed reports whether every slot in errs is non-nil (and errs is
// non-empty).
func AllFailed(errs []error) bool {
	if len(errs) == 0 {
		return false
	}
	for _, err := range errs {
		if err == nil {
			return false
		}
	}
	return true
}
