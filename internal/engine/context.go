package engine

import (
	"sync"

	"github.com/AgentsPilot/neuronforge-sub010/internal/calibration"
	"github.com/AgentsPilot/neuronforge-sub010/internal/pilotval"
	"github.com/AgentsPilot/neuronforge-sub010/internal/variable"
)

// OrchestratorHook is the optional external step-execution hand-off
// described for LLM-family steps: when active, the dispatcher offers the
// step to ExecuteStep first and only falls back to its own handler on
// failure.
type OrchestratorHook struct {
	IsActive    bool
	ExecuteStep func(step Step) (*StepOutput, error)
	Config      map[string]interface{}
}

// iterationScope binds "item"/"current" and named loop variables for the
// duration of one loop/scatter iteration, nesting over an outer scope so
// inner loops don't clobber an outer loop's bindings.
type iterationScope struct {
	item     interface{}
	loopVars map[string]interface{}
	parent   *iterationScope
}

// ExecutionContext is the mutable state one workflow run threads through
// every step dispatch: step outputs keyed by id, run-scoped variables,
// progress/status bookkeeping, and cumulative token/time metrics.
//
// It implements variable.Source directly so a bound *variable.Resolver can
// resolve {{...}} references straight against a running execution.
type ExecutionContext struct {
	mu sync.RWMutex

	ExecutionID string
	AgentID     string
	UserID      string
	SessionID   string
	Agent       map[string]interface{}
	InputValues map[string]interface{}

	Status Status

	CurrentStep    string
	CompletedSteps []string
	FailedSteps    []string
	SkippedSteps   []string

	stepOutputs map[string]*StepOutput
	variables   map[string]interface{}

	TotalTokensUsed      int
	TotalExecutionTimeMs int64

	MemoryContext map[string]interface{}
	Orchestrator  *OrchestratorHook

	BatchCalibrationMode bool
	Calibration          *calibration.Ledger

	scope *iterationScope
}

// NewExecutionContext builds a fresh, running execution context.
func NewExecutionContext(executionID, agentID, userID, sessionID string, inputValues map[string]interface{}) *ExecutionContext {
	return &ExecutionContext{
		ExecutionID: executionID,
		AgentID:     agentID,
		UserID:      userID,
		SessionID:   sessionID,
		InputValues: inputValues,
		Status:      StatusRunning,
		stepOutputs: map[string]*StepOutput{},
		variables:   map[string]interface{}{},
	}
}

// SetStepOutput records a step's result, implementing the retry-replacement
// rule: if stepID already has a recorded output (a prior attempt), its
// token/time contribution is subtracted before the new one is added, so
// retries never double-count usage. completedSteps and failedSteps are kept
// disjoint by construction.
func (ec *ExecutionContext) SetStepOutput(out *StepOutput) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	if prior, ok := ec.stepOutputs[out.StepID]; ok {
		ec.TotalTokensUsed -= prior.Metadata.TokensUsed
		ec.TotalExecutionTimeMs -= prior.Metadata.ExecutionTimeMs
		if ec.TotalTokensUsed < 0 {
			ec.TotalTokensUsed = 0
		}
		if ec.TotalExecutionTimeMs < 0 {
			ec.TotalExecutionTimeMs = 0
		}
	}

	ec.stepOutputs[out.StepID] = out
	ec.TotalTokensUsed += out.Metadata.TokensUsed
	ec.TotalExecutionTimeMs += out.Metadata.ExecutionTimeMs

	if out.Metadata.Success {
		ec.CompletedSteps = addUnique(ec.CompletedSteps, out.StepID)
		ec.FailedSteps = removeValue(ec.FailedSteps, out.StepID)
	} else {
		ec.FailedSteps = addUnique(ec.FailedSteps, out.StepID)
		ec.CompletedSteps = removeValue(ec.CompletedSteps, out.StepID)
	}
}

// GetStepOutput returns a previously recorded step output.
func (ec *ExecutionContext) GetStepOutput(stepID string) (*StepOutput, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out, ok := ec.stepOutputs[stepID]
	return out, ok
}

// SetVariable overwrites a run-scoped variable.
func (ec *ExecutionContext) SetVariable(name string, value interface{}) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.variables[name] = value
}

// GetVariable reads a run-scoped variable.
func (ec *ExecutionContext) GetVariable(name string) (interface{}, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.variables[name]
	return v, ok
}

// resolverFor builds a *variable.Resolver bound to this context, with
// stepIDCtx used only to enrich resolution-failure messages.
func (ec *ExecutionContext) resolverFor(stepIDCtx string) *variable.Resolver {
	return variable.NewResolver(ec, stepIDCtx)
}

// ResolveVariable resolves a single {{path}} reference (without the braces)
// against the context's current state.
func (ec *ExecutionContext) ResolveVariable(ref, stepIDCtx string) (interface{}, error) {
	return ec.resolverFor(stepIDCtx).Resolve(ref)
}

// ResolveAllVariables deep-walks value, substituting every {{...}} reference
// it contains, against the context's current state.
func (ec *ExecutionContext) ResolveAllVariables(value interface{}, stepIDCtx string) (interface{}, error) {
	return variable.ResolveAllVariables(value, ec.resolverFor(stepIDCtx))
}

// Clone returns a structurally independent copy for a parallel branch to
// mutate without affecting peers or the original. Step outputs and
// variables are deep-copied; resetMetrics zeroes token/time counters and
// clears completed/failed/skipped bookkeeping instead of carrying it
// forward, for branches that should report their own delta rather than
// inheriting the parent's running totals.
func (ec *ExecutionContext) Clone(resetMetrics bool) *ExecutionContext {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	clone := &ExecutionContext{
		ExecutionID:   ec.ExecutionID,
		AgentID:       ec.AgentID,
		UserID:        ec.UserID,
		SessionID:     ec.SessionID,
		Agent:         ec.Agent,
		InputValues:   ec.InputValues,
		Status:        ec.Status,
		CurrentStep:   ec.CurrentStep,
		MemoryContext: ec.MemoryContext,
		Orchestrator:  ec.Orchestrator,
		BatchCalibrationMode: ec.BatchCalibrationMode,
		Calibration:   ec.Calibration,
		stepOutputs:   map[string]*StepOutput{},
		variables:     map[string]interface{}{},
	}

	for k, v := range ec.stepOutputs {
		cp := *v
		cp.Data = pilotval.DeepCopy(v.Data)
		clone.stepOutputs[k] = &cp
	}
	for k, v := range ec.variables {
		clone.variables[k] = pilotval.DeepCopy(v)
	}

	if resetMetrics {
		clone.CompletedSteps, clone.FailedSteps, clone.SkippedSteps = nil, nil, nil
		clone.TotalTokensUsed, clone.TotalExecutionTimeMs = 0, 0
	} else {
		clone.CompletedSteps = append([]string(nil), ec.CompletedSteps...)
		clone.FailedSteps = append([]string(nil), ec.FailedSteps...)
		clone.SkippedSteps = append([]string(nil), ec.SkippedSteps...)
		clone.TotalTokensUsed = ec.TotalTokensUsed
		clone.TotalExecutionTimeMs = ec.TotalExecutionTimeMs
	}
	return clone
}

// Merge folds other's step outputs and bookkeeping into ec: step outputs
// union with other winning on a stepID collision, completed/failed/skipped
// sets union, variables shallow-merge with other winning, and token/time
// metrics sum.
func (ec *ExecutionContext) Merge(other *ExecutionContext) {
	other.mu.RLock()
	otherOutputs := make(map[string]*StepOutput, len(other.stepOutputs))
	for k, v := range other.stepOutputs {
		otherOutputs[k] = v
	}
	otherVars := make(map[string]interface{}, len(other.variables))
	for k, v := range other.variables {
		otherVars[k] = v
	}
	completed := append([]string(nil), other.CompletedSteps...)
	failed := append([]string(nil), other.FailedSteps...)
	skipped := append([]string(nil), other.SkippedSteps...)
	tokens := other.TotalTokensUsed
	execTime := other.TotalExecutionTimeMs
	other.mu.RUnlock()

	ec.mu.Lock()
	defer ec.mu.Unlock()
	for k, v := range otherOutputs {
		ec.stepOutputs[k] = v
	}
	for k, v := range otherVars {
		ec.variables[k] = v
	}
	for _, s := range completed {
		ec.CompletedSteps = addUnique(ec.CompletedSteps, s)
	}
	for _, s := range failed {
		ec.FailedSteps = addUnique(ec.FailedSteps, s)
	}
	for _, s := range skipped {
		ec.SkippedSteps = addUnique(ec.SkippedSteps, s)
	}
	ec.TotalTokensUsed += tokens
	ec.TotalExecutionTimeMs += execTime
}

// Reset wipes mutable run state (step outputs, variables, bookkeeping,
// metrics) and returns the context to running, for re-running a definition
// from scratch within the same process.
func (ec *ExecutionContext) Reset() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.stepOutputs = map[string]*StepOutput{}
	ec.variables = map[string]interface{}{}
	ec.CompletedSteps, ec.FailedSteps, ec.SkippedSteps = nil, nil, nil
	ec.TotalTokensUsed, ec.TotalExecutionTimeMs = 0, 0
	ec.Status = StatusRunning
	ec.CurrentStep = ""
}

func (ec *ExecutionContext) MarkCompleted() { ec.setStatus(StatusCompleted) }
func (ec *ExecutionContext) MarkFailed()    { ec.setStatus(StatusFailed) }
func (ec *ExecutionContext) MarkPaused()    { ec.setStatus(StatusPaused) }
func (ec *ExecutionContext) MarkCancelled() { ec.setStatus(StatusCancelled) }
func (ec *ExecutionContext) Resume()        { ec.setStatus(StatusRunning) }

func (ec *ExecutionContext) setStatus(s Status) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.Status = s
}

func (ec *ExecutionContext) getStatus() Status {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.Status
}

// pushIteration enters a nested item/loop-variable scope for the duration
// of fn, popping it on return regardless of error.
func (ec *ExecutionContext) pushIteration(item interface{}, loopVars map[string]interface{}, fn func() error) error {
	ec.mu.Lock()
	ec.scope = &iterationScope{item: item, loopVars: loopVars, parent: ec.scope}
	ec.mu.Unlock()

	err := fn()

	ec.mu.Lock()
	if ec.scope != nil {
		ec.scope = ec.scope.parent
	}
	ec.mu.Unlock()
	return err
}

// --- variable.Source ---

func (ec *ExecutionContext) StepOutput(stepID string) (map[string]interface{}, bool) {
	out, ok := ec.GetStepOutput(stepID)
	if !ok {
		return nil, false
	}
	return out.asSourceMap(), true
}

func (ec *ExecutionContext) Input(key string) (interface{}, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.InputValues[key]
	return v, ok
}

func (ec *ExecutionContext) Variable(name string) (interface{}, bool) {
	return ec.GetVariable(name)
}

func (ec *ExecutionContext) CurrentItem() (interface{}, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	if ec.scope == nil {
		return nil, false
	}
	return ec.scope.item, true
}

func (ec *ExecutionContext) LoopVariable(name string) (interface{}, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	for s := ec.scope; s != nil; s = s.parent {
		if v, ok := s.loopVars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func addUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

func removeValue(list []string, v string) []string {
	out := list[:0:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
