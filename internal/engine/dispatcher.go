package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AgentsPilot/neuronforge-sub010/internal/cache"
	"github.com/AgentsPilot/neuronforge-sub010/internal/condition"
	"github.com/AgentsPilot/neuronforge-sub010/internal/llmdecision"
	"github.com/AgentsPilot/neuronforge-sub010/internal/pilotval"
	"github.com/AgentsPilot/neuronforge-sub010/internal/plugin"
	"github.com/AgentsPilot/neuronforge-sub010/internal/ports"
	"github.com/AgentsPilot/neuronforge-sub010/internal/retry"
	"github.com/AgentsPilot/neuronforge-sub010/internal/werr"
)

var (
	promStepCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pilot_step_calls_total",
			Help: "Total number of dispatched workflow steps.",
		},
		[]string{"step_type", "status"},
	)
	promStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pilot_step_duration_milliseconds",
			Help:    "Step dispatch duration in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"step_type"},
	)
	promCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pilot_step_cache_hits_total",
			Help: "Total number of step results served from the result cache.",
		},
		[]string{"step_type"},
	)
)

func init() {
	prometheus.MustRegister(promStepCalls)
	prometheus.MustRegister(promStepDuration)
	prometheus.MustRegister(promCacheHits)
}

// Dispatcher routes a single typed Step to its handler, applying the cache
// probe, orchestration hand-off, and calibration-mode error handling every
// dispatch shares regardless of step type.
type Dispatcher struct {
	ActionHandler *plugin.ActionHandler
	// PluginRuntime is the same runtime backing ActionHandler, exposed
	// separately because transform's fetch_content operation calls the
	// runtime's Describe and Execute itself rather than going through
	// ActionHandler.
	PluginRuntime plugin.Runtime
	LLMRuntime    llmdecision.Runtime
	Cache         *cache.Cache
	CacheTTL      time.Duration
	DefaultRetry  retry.Policy

	StateManager  ports.StateManager
	Audit         ports.AuditTrail
	Approvals     ports.ApprovalTracker
	Notifications []ports.NotificationChannel

	// IDGen mints ids for side artifacts this dispatcher creates on a
	// step's behalf (approval request ids). Defaults to uuid.NewString.
	IDGen func() string
}

// NewDispatcher builds a Dispatcher with its id generator defaulted to
// uuid.NewString and its cache TTL defaulted to five minutes.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		DefaultRetry: retry.DefaultPolicy(),
		CacheTTL:     5 * time.Minute,
		IDGen:        uuid.NewString,
	}
}

// Execute dispatches one step against ec, returning its StepOutput. A
// non-nil error means the run must stop. A step failure stops the run
// unless the step sets ContinueOnError or calibration mode classifies it as
// a non-stop failure; such a failure is recorded as a failed StepOutput and
// returned with a nil error so the caller continues to the next step.
func (d *Dispatcher) Execute(ctx context.Context, ec *ExecutionContext, step Step) (*StepOutput, error) {
	if ec.getStatus() == StatusCancelled {
		return nil, werr.NewExecutionError(step.ID, "execution was cancelled", nil)
	}

	ec.CurrentStep = step.ID
	start := time.Now()

	if out, ok := d.skipForFailedDependency(ec, step); ok {
		return out, nil
	}

	if out, ok, err := d.evaluateExecuteIf(ec, step, start); err != nil {
		return d.fail(ctx, ec, step, start, err)
	} else if ok {
		return out, nil
	}

	// build computes the step's (data, tokens, orchestrated) result. It is
	// the single unit of work GetOrBuild de-duplicates across concurrent
	// callers sharing the same cache key; per-ec bookkeeping (SetStepOutput,
	// persist, metrics) always happens below, once per caller, regardless of
	// whether this particular call built the value or waited for another
	// caller's build.
	build := func() (interface{}, error) {
		if llmFamily[step.Type] && ec.Orchestrator != nil && ec.Orchestrator.IsActive {
			if resolved, err := d.resolveStepParams(ec, step); err == nil {
				if out, oerr := ec.Orchestrator.ExecuteStep(resolved); oerr == nil {
					return dispatchResult{data: out.Data, tokens: out.Metadata.TokensUsed, orchestrated: true}, nil
				}
				// orchestrator failure falls through to the normal handler path.
			}
		}

		resolved, err := d.resolveStepParams(ec, step)
		if err != nil {
			return nil, err
		}
		data, tokens, err := d.route(ctx, ec, resolved)
		if err != nil {
			return nil, err
		}
		return dispatchResult{data: data, tokens: tokens}, nil
	}

	var result dispatchResult
	cacheKey := ""
	if d.Cache != nil && cacheEnabled(step) {
		cacheKey = cache.Key(fmt.Sprintf("%s:%s", step.Type, step.ID), rawParamsForCache(step))
		if cached, ok := d.Cache.Get(cacheKey); ok {
			promCacheHits.WithLabelValues(string(step.Type)).Inc()
			result = cached.(dispatchResult)
		} else {
			v, err := d.Cache.GetOrBuild(cacheKey, d.CacheTTL, build)
			if err != nil {
				return d.fail(ctx, ec, step, start, err)
			}
			result = v.(dispatchResult)
		}
	} else {
		v, err := build()
		if err != nil {
			return d.fail(ctx, ec, step, start, err)
		}
		result = v.(dispatchResult)
	}

	out := &StepOutput{
		StepID: step.ID,
		Plugin: step.Plugin,
		Action: step.Action,
		Data:   result.data,
		Metadata: StepMetadata{
			Success:         true,
			ExecutedAt:      start,
			ExecutionTimeMs: time.Since(start).Milliseconds(),
			TokensUsed:      result.tokens,
			FieldNames:      pilotval.FieldNames(result.data),
			Orchestrated:    result.orchestrated,
		},
	}
	if n, ok := pilotval.ItemCount(result.data); ok {
		out.Metadata.ItemCount = &n
	}

	ec.SetStepOutput(out)
	d.persist(ctx, ec, step, out)

	promStepCalls.WithLabelValues(string(step.Type), "success").Inc()
	promStepDuration.WithLabelValues(string(step.Type)).Observe(float64(time.Since(start).Milliseconds()))
	return out, nil
}

// dispatchResult is the shareable, per-ec-independent payload a step build
// produces: safe to hand to every caller waiting on the same cache key's
// single-flight build, since it carries no ExecutionContext-scoped state.
type dispatchResult struct {
	data         interface{}
	tokens       int
	orchestrated bool
}

// cacheEnabled reports whether step's output may be served from/stored in
// the result cache: an explicit per-step Cache override takes precedence
// over the step type's cacheableTypes default.
func cacheEnabled(step Step) bool {
	if step.Cache != nil {
		return *step.Cache
	}
	return cacheableTypes[step.Type]
}

// evaluateExecuteIf gates dispatch on the step's declared ExecuteIf
// condition, if any. A false evaluation produces a successful, Skipped
// StepOutput without ever invoking the step's handler.
func (d *Dispatcher) evaluateExecuteIf(ec *ExecutionContext, step Step, start time.Time) (*StepOutput, bool, error) {
	if step.ExecuteIf == nil {
		return nil, false, nil
	}
	ev := condition.NewEvaluator(ec.resolverFor(step.ID))
	ok, err := ev.Evaluate(*step.ExecuteIf)
	if err != nil {
		return nil, false, werr.NewConditionError(step.ID, "executeIf evaluation failed", err)
	}
	if ok {
		return nil, false, nil
	}

	out := &StepOutput{
		StepID: step.ID,
		Plugin: step.Plugin,
		Action: step.Action,
		Metadata: StepMetadata{
			Success:    true,
			ExecutedAt: start,
			Skipped:    true,
		},
	}
	ec.SetStepOutput(out)
	ec.SkippedSteps = addUnique(ec.SkippedSteps, step.ID)
	promStepCalls.WithLabelValues(string(step.Type), "skipped").Inc()
	return out, true, nil
}

// skipForFailedDependency implements the calibration-mode dependency-skip
// rule: a step whose declared dependency already failed, and whose failure
// wasn't classified as recoverable (data_unavailable/timeout/rate_limit/
// parameter), is skipped outright rather than dispatched.
func (d *Dispatcher) skipForFailedDependency(ec *ExecutionContext, step Step) (*StepOutput, bool) {
	if !ec.BatchCalibrationMode || len(step.Dependencies) == 0 {
		return nil, false
	}
	for _, dep := range step.Dependencies {
		depOut, ok := ec.GetStepOutput(dep)
		if !ok || depOut.Metadata.Success {
			continue
		}
		if isRecoverableFailure(depOut.Metadata.FailureCategory) {
			continue
		}
		out := &StepOutput{
			StepID: step.ID,
			Metadata: StepMetadata{
				Success:         false,
				ExecutedAt:      time.Now(),
				Error:           fmt.Sprintf("dependency %q failed", dep),
				ErrorCode:       "DEPENDENCY_FAILED",
				FailureCategory: string(calibrationSkipCategory),
				Skipped:         true,
			},
		}
		ec.SetStepOutput(out)
		ec.SkippedSteps = addUnique(ec.SkippedSteps, step.ID)
		if ec.Calibration != nil {
			ec.Calibration.MarkDependencySkipped(step.ID)
		}
		promStepCalls.WithLabelValues(string(step.Type), "skipped").Inc()
		return out, true
	}
	return nil, false
}

const calibrationSkipCategory = "dependency_failed"

func isRecoverableFailure(category string) bool {
	switch category {
	case "DATA_UNAVAILABLE", "EXECUTION_ERROR_TIMEOUT", "EXECUTION_ERROR_RATE_LIMIT", "EXECUTION_ERROR_PARAMETER":
		return true
	default:
		return false
	}
}

// fail records a step failure. In calibration mode, a non-stop
// classification is accumulated on the ledger and the failure returned
// without an error so the run continues; a step with ContinueOnError also
// continues. Otherwise (or for a stop-category classification) the failure
// propagates.
func (d *Dispatcher) fail(ctx context.Context, ec *ExecutionContext, step Step, start time.Time, stepErr error) (*StepOutput, error) {
	c := classify(step.Type, stepErr)
	out := &StepOutput{
		StepID: step.ID,
		Plugin: step.Plugin,
		Action: step.Action,
		Metadata: StepMetadata{
			Success:         false,
			ExecutedAt:      start,
			ExecutionTimeMs: time.Since(start).Milliseconds(),
			Error:           stepErr.Error(),
			ErrorCode:       errorCodeFor(c),
			FailureCategory: errorCodeFor(c),
		},
	}
	if c.Subtype == "parameter" {
		out.Metadata.ParameterErrorDetails = stepErr.Error()
	}

	ec.SetStepOutput(out)
	d.persistFailure(ctx, ec, step, out)
	promStepCalls.WithLabelValues(string(step.Type), "error").Inc()

	stop := true
	if ec.Calibration != nil {
		stop = ec.Calibration.Record(step.ID, c)
	}
	if step.ContinueOnError {
		stop = false
	}
	if stop {
		return out, stepErr
	}
	return out, nil
}

// rawParamsForCache builds the stableHash(params) input for a cacheable
// step type from its declared (not yet resolved) parameters.
func rawParamsForCache(step Step) map[string]interface{} {
	switch step.Type {
	case StepAction:
		return step.Params
	case StepTransform:
		return map[string]interface{}{"operation": step.Operation, "input": step.Input, "config": step.Config}
	case StepValidation:
		return map[string]interface{}{"input": step.Input, "rules": step.ValidationRules}
	case StepComparison:
		return map[string]interface{}{"left": step.Left, "right": step.Right, "operator": step.Operator}
	default:
		return nil
	}
}

// resolveStepParams returns a copy of step with the fields relevant to its
// type fully {{...}}-resolved, so handlers never see a raw template string.
// action resolves its whole Params map; other types only lift the specific
// fields spec.md 4.2 names (input, config, iterateOver, left, right,
// scatter) to avoid incidentally substituting inside step metadata like
// Name/Description.
func (d *Dispatcher) resolveStepParams(ec *ExecutionContext, step Step) (Step, error) {
	resolved := step
	var err error

	switch step.Type {
	case StepAction:
		if step.Params != nil {
			v, rerr := ec.ResolveAllVariables(step.Params, step.ID)
			if rerr != nil {
				return step, rerr
			}
			resolved.Params, _ = v.(map[string]interface{})
		}
	default:
		if step.Input != nil {
			if resolved.Input, err = ec.ResolveAllVariables(step.Input, step.ID); err != nil {
				return step, err
			}
		}
		if step.Config != nil {
			v, rerr := ec.ResolveAllVariables(step.Config, step.ID)
			if rerr != nil {
				return step, rerr
			}
			resolved.Config, _ = v.(map[string]interface{})
		}
		if step.IterateOver != nil {
			if resolved.IterateOver, err = ec.ResolveAllVariables(step.IterateOver, step.ID); err != nil {
				return step, err
			}
		}
		if step.Scatter != nil {
			if resolved.Scatter, err = ec.ResolveAllVariables(step.Scatter, step.ID); err != nil {
				return step, err
			}
		}
		if step.Left != nil {
			if resolved.Left, err = ec.ResolveAllVariables(step.Left, step.ID); err != nil {
				return step, err
			}
		}
		if step.Right != nil {
			if resolved.Right, err = ec.ResolveAllVariables(step.Right, step.ID); err != nil {
				return step, err
			}
		}
	}
	return resolved, nil
}

// persist records a successful step's side effects: state-manager row and
// audit event. Failures here never propagate to the step result, per the
// rule that peripheral side-effects never fail the step.
func (d *Dispatcher) persist(ctx context.Context, ec *ExecutionContext, step Step, out *StepOutput) {
	if d.StateManager != nil {
		_ = d.StateManager.UpdateStepExecution(ctx, ec.ExecutionID, step.ID, "completed", map[string]interface{}{
			"itemCount": out.Metadata.ItemCount,
		}, "")
	}
	if d.Audit != nil {
		_ = d.Audit.Append(ctx, ports.AuditEntry{
			Action: "step_executed", EntityType: "workflow_step", EntityID: step.ID,
			UserID: ec.UserID, Severity: "info", Timestamp: time.Now(),
			Details: map[string]interface{}{"stepType": step.Type, "executionId": ec.ExecutionID},
		})
	}
}

func (d *Dispatcher) persistFailure(ctx context.Context, ec *ExecutionContext, step Step, out *StepOutput) {
	if d.StateManager != nil {
		_ = d.StateManager.UpdateStepExecution(ctx, ec.ExecutionID, step.ID, "failed", nil, out.Metadata.Error)
	}
	if d.Audit != nil {
		_ = d.Audit.Append(ctx, ports.AuditEntry{
			Action: "step_failed", EntityType: "workflow_step", EntityID: step.ID,
			UserID: ec.UserID, Severity: "error", Timestamp: time.Now(),
			Details: map[string]interface{}{"stepType": step.Type, "error": out.Metadata.Error, "executionId": ec.ExecutionID},
		})
	}
}

// route sends a resolved step to its handler and returns (data, tokensUsed,
// err). action, llm_decision/ai_processing, and transform each live in
// their own package; loop/parallel/scatter_gather delegate to
// internal/parallel; everything else is small enough to live alongside the
// dispatcher in handlers.go.
func (d *Dispatcher) route(ctx context.Context, ec *ExecutionContext, step Step) (interface{}, int, error) {
	switch step.Type {
	case StepAction:
		return d.runWithRetry(ctx, step, func(ctx context.Context) (interface{}, int, error) {
			if d.ActionHandler == nil {
				return nil, 0, werr.NewExecutionError(step.ID, "no plugin runtime configured", nil)
			}
			data, err := d.ActionHandler.Invoke(ctx, step.ID, step.Plugin, step.Action, step.Params, step.ParamSchema, step.OutputSchema)
			if err != nil {
				return data, 0, err
			}
			tokens := 0
			if d.PluginRuntime != nil {
				if def, derr := d.PluginRuntime.Describe(step.Plugin); derr == nil && def != nil {
					tokens = def.TokenCost
				}
			}
			return data, tokens, nil
		})
	case StepLLMDecision, StepAIProcessing:
		return d.handleLLMDecision(ctx, ec, step)
	case StepTransform:
		return d.handleTransform(ctx, ec, step)
	case StepConditional:
		return d.handleConditional(ctx, ec, step)
	case StepSwitch:
		return d.handleSwitch(ctx, ec, step)
	case StepLoop:
		return d.handleLoop(ctx, ec, step)
	case StepParallel, StepParallelGroup:
		return d.handleParallelGroup(ctx, ec, step)
	case StepScatterGather:
		return d.handleScatterGather(ctx, ec, step)
	case StepEnrichment:
		return d.handleEnrichment(ctx, ec, step)
	case StepValidation:
		return d.handleValidation(ctx, ec, step)
	case StepComparison:
		return d.handleComparison(ctx, ec, step)
	case StepDeterministicExtraction:
		return d.handleDeterministicExtraction(ctx, ec, step)
	case StepDelay:
		return d.handleDelay(ctx, step)
	case StepSubWorkflow:
		return d.handleSubWorkflow(ctx, ec, step)
	case StepHumanApproval:
		return d.handleHumanApproval(ctx, ec, step)
	default:
		return nil, 0, werr.NewValidationError(step.ID, fmt.Sprintf("UNKNOWN_STEP_TYPE: %q", step.Type), nil)
	}
}

// runWithRetry wraps a step's underlying call with its declared retry
// policy (or the dispatcher default when none is declared).
func (d *Dispatcher) runWithRetry(ctx context.Context, step Step, fn func(context.Context) (interface{}, int, error)) (interface{}, int, error) {
	policy := d.DefaultRetry
	if step.Retry != nil {
		policy = *step.Retry
	}
	type result struct {
		data   interface{}
		tokens int
	}
	out, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (result, error) {
		data, tokens, err := fn(ctx)
		return result{data: data, tokens: tokens}, err
	}, nil)
	return out.data, out.tokens, err
}

// RunSequence dispatches steps in declaration order, stopping at the first
// fatal failure. Used for intra-branch sequencing only (conditional/switch
// branches, loop/sub-workflow bodies, parallel-group children) where a
// fixed, already-scoped order is exactly what's wanted; the top-level step
// array goes through RunPlan instead, which schedules by Dependencies.
func (d *Dispatcher) RunSequence(ctx context.Context, ec *ExecutionContext, steps []Step) ([]*StepOutput, error) {
	outputs := make([]*StepOutput, 0, len(steps))
	for _, s := range steps {
		out, err := d.Execute(ctx, ec, s)
		if out != nil {
			outputs = append(outputs, out)
		}
		if err != nil {
			return outputs, err
		}
	}
	return outputs, nil
}
