package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AgentsPilot/neuronforge-sub010/internal/cache"
	"github.com/AgentsPilot/neuronforge-sub010/internal/calibration"
	"github.com/AgentsPilot/neuronforge-sub010/internal/condition"
	"github.com/AgentsPilot/neuronforge-sub010/internal/plugin"
)

// fakePluginRuntime lets dispatcher tests exercise the action path without
// a real connector.
type fakePluginRuntime struct {
	fail    bool
	failMsg string
}

func (f *fakePluginRuntime) Execute(ctx context.Context, pluginName, action string, params map[string]interface{}) (*plugin.Result, error) {
	if f.fail {
		msg := f.failMsg
		if msg == "" {
			msg = "connection refused"
		}
		return &plugin.Result{Success: false, Error: msg}, nil
	}
	return &plugin.Result{Success: true, Data: map[string]interface{}{"echoed": params}}, nil
}

func (f *fakePluginRuntime) Describe(pluginName string) (*plugin.Definition, error) {
	return nil, plugin.ErrDescribeUnsupported
}

func newTestDispatcher(fail bool) *Dispatcher {
	d := NewDispatcher()
	d.ActionHandler = plugin.NewActionHandler(&fakePluginRuntime{fail: fail})
	return d
}

func newTestDispatcherWithFailure(msg string) *Dispatcher {
	d := NewDispatcher()
	d.ActionHandler = plugin.NewActionHandler(&fakePluginRuntime{fail: true, failMsg: msg})
	return d
}

func TestExecuteActionStepSucceeds(t *testing.T) {
	d := newTestDispatcher(false)
	ec := NewExecutionContext("exec1", "agent1", "user1", "session1", nil)

	out, err := d.Execute(context.Background(), ec, Step{
		ID: "s1", Type: StepAction, Plugin: "http", Action: "get",
		Params: map[string]interface{}{"url": "https://example.com"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Metadata.Success {
		t.Fatalf("expected success, got %+v", out.Metadata)
	}
	if _, ok := ec.GetStepOutput("s1"); !ok {
		t.Error("expected step output recorded on context")
	}
}

func TestExecuteFailedActionStepOutsideCalibrationIsFatal(t *testing.T) {
	d := newTestDispatcher(true)
	ec := NewExecutionContext("exec1", "agent1", "user1", "session1", nil)

	out, err := d.Execute(context.Background(), ec, Step{ID: "s1", Type: StepAction, Plugin: "http", Action: "get"})
	if err == nil {
		t.Fatal("expected a fatal error outside calibration mode")
	}
	if out.Metadata.Success {
		t.Error("expected failed StepOutput")
	}
}

func TestCalibrationModeContinuesPastParameterFailure(t *testing.T) {
	d := newTestDispatcherWithFailure("missing required parameter")
	ec := NewExecutionContext("exec1", "agent1", "user1", "session1", nil)
	ec.BatchCalibrationMode = true
	ec.Calibration = calibration.NewLedger(true)

	_, err := d.Execute(context.Background(), ec, Step{ID: "s1", Type: StepAction, Plugin: "http", Action: "get"})
	if err != nil {
		t.Fatalf("expected calibration mode to continue past a parameter failure, got %v", err)
	}
	if len(ec.Calibration.Issues()) != 1 {
		t.Errorf("expected the failure recorded as a collected issue, got %v", ec.Calibration.Issues())
	}
}

func TestCalibrationModeSkipsDependentsOfUnrecoverableFailure(t *testing.T) {
	d := newTestDispatcherWithFailure("unauthorized request")
	ec := NewExecutionContext("exec1", "agent1", "user1", "session1", nil)
	ec.BatchCalibrationMode = true
	ec.Calibration = calibration.NewLedger(true)

	// an auth failure is a stop-category classification, so Execute returns
	// an error here, but the failed StepOutput is still recorded first.
	_, _ = d.Execute(context.Background(), ec, Step{ID: "s1", Type: StepAction, Plugin: "http", Action: "get"})

	out, err := d.Execute(context.Background(), ec, Step{ID: "s2", Type: StepAction, Dependencies: []string{"s1"}, Plugin: "http", Action: "get"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Metadata.ErrorCode != "DEPENDENCY_FAILED" {
		t.Errorf("expected s2 to be skipped for its failed dependency, got %+v", out.Metadata)
	}
	if len(ec.SkippedSteps) != 1 || ec.SkippedSteps[0] != "s2" {
		t.Errorf("expected s2 recorded as skipped, got %v", ec.SkippedSteps)
	}
}

func TestHandleConditionalPicksThenBranch(t *testing.T) {
	d := newTestDispatcher(false)
	ec := NewExecutionContext("exec1", "agent1", "user1", "session1", nil)
	ec.SetVariable("score", 90)

	out, _, err := d.handleConditional(context.Background(), ec, Step{
		ID: "c1",
		Condition: condition.Condition{
			Kind: condition.KindSimple, Field: "var.score", Operator: "greater_than", Value: 50,
		},
		Then: []Step{{ID: "then1", Type: StepAction, Plugin: "http", Action: "get"}},
		Else: []Step{{ID: "else1", Type: StepAction, Plugin: "http", Action: "get"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := out.(map[string]interface{})
	if result["branch"] != "then" {
		t.Errorf("expected then branch, got %v", result["branch"])
	}
	if _, ok := ec.GetStepOutput("then1"); !ok {
		t.Error("expected then1 to have been dispatched")
	}
	if _, ok := ec.GetStepOutput("else1"); ok {
		t.Error("expected else1 to be skipped")
	}
}

func TestHandleSwitchFallsBackToDefault(t *testing.T) {
	d := newTestDispatcher(false)
	ec := NewExecutionContext("exec1", "agent1", "user1", "session1", map[string]interface{}{"plan": "enterprise"})

	out, _, err := d.handleSwitch(context.Background(), ec, Step{
		ID: "sw1", SwitchField: "input.plan",
		Cases:   []SwitchCase{{Value: "free", Steps: []Step{{ID: "free1", Type: StepAction, Plugin: "http", Action: "get"}}}},
		Default: []Step{{ID: "def1", Type: StepAction, Plugin: "http", Action: "get"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(map[string]interface{})["matched"] != "default" {
		t.Errorf("expected default match for an unlisted case value, got %v", out)
	}
	if _, ok := ec.GetStepOutput("def1"); !ok {
		t.Error("expected default branch to have run")
	}
}

func TestHandleComparisonOperators(t *testing.T) {
	d := newTestDispatcher(false)
	ec := NewExecutionContext("exec1", "agent1", "user1", "session1", nil)

	out, _, err := d.handleComparison(context.Background(), ec, Step{ID: "cmp1", Left: 5.0, Right: 3.0, Operator: "greater_than"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.(map[string]interface{})["result"].(bool) {
		t.Error("expected 5 > 3 to be true")
	}
}

func TestHandleLoopSequentialAccumulatesIterations(t *testing.T) {
	d := newTestDispatcher(false)
	ec := NewExecutionContext("exec1", "agent1", "user1", "session1", nil)

	out, _, err := d.handleLoop(context.Background(), ec, Step{
		ID: "loop1", IterateOver: []interface{}{"a", "b", "c"},
		Body: []Step{{ID: "body1", Type: StepAction, Plugin: "http", Action: "get"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := out.(map[string]interface{})
	if result["count"] != 3 {
		t.Errorf("expected 3 iterations, got %v", result["count"])
	}
}

func TestHandleParallelGroupMergesBranches(t *testing.T) {
	d := newTestDispatcher(false)
	ec := NewExecutionContext("exec1", "agent1", "user1", "session1", nil)

	_, _, err := d.handleParallelGroup(context.Background(), ec, Step{
		ID: "par1",
		Branches: [][]Step{
			{{ID: "branchA", Type: StepAction, Plugin: "http", Action: "get"}},
			{{ID: "branchB", Type: StepAction, Plugin: "http", Action: "get"}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := ec.GetStepOutput("branchA"); !ok {
		t.Error("expected branchA's output merged back into the parent context")
	}
	if _, ok := ec.GetStepOutput("branchB"); !ok {
		t.Error("expected branchB's output merged back into the parent context")
	}
}

func TestExecuteSkipsViaExecuteIfWithoutDispatching(t *testing.T) {
	d := newTestDispatcher(false)
	ec := NewExecutionContext("exec1", "agent1", "user1", "session1", nil)
	ec.SetVariable("enabled", false)

	falseCond := &condition.Condition{Kind: condition.KindSimple, Field: "var.enabled", Operator: "equals", Value: true}
	out, err := d.Execute(context.Background(), ec, Step{
		ID: "s1", Type: StepAction, Plugin: "http", Action: "get", ExecuteIf: falseCond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Metadata.Skipped || !out.Metadata.Success {
		t.Errorf("expected a successful, skipped StepOutput, got %+v", out.Metadata)
	}
	if len(ec.SkippedSteps) != 1 || ec.SkippedSteps[0] != "s1" {
		t.Errorf("expected s1 recorded as skipped, got %v", ec.SkippedSteps)
	}
}

func TestExecuteRunsWhenExecuteIfTrue(t *testing.T) {
	d := newTestDispatcher(false)
	ec := NewExecutionContext("exec1", "agent1", "user1", "session1", nil)
	ec.SetVariable("enabled", true)

	trueCond := &condition.Condition{Kind: condition.KindSimple, Field: "var.enabled", Operator: "equals", Value: true}
	out, err := d.Execute(context.Background(), ec, Step{
		ID: "s1", Type: StepAction, Plugin: "http", Action: "get", ExecuteIf: trueCond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Metadata.Skipped {
		t.Error("expected the step to run, not be skipped")
	}
}

// countingPluginRuntime counts how many times its action actually executes,
// so cache/single-flight behavior can be asserted from the outside.
type countingPluginRuntime struct {
	calls int32
}

func (c *countingPluginRuntime) Execute(ctx context.Context, pluginName, action string, params map[string]interface{}) (*plugin.Result, error) {
	atomic.AddInt32(&c.calls, 1)
	return &plugin.Result{Success: true, Data: map[string]interface{}{"n": atomic.LoadInt32(&c.calls)}}, nil
}

func (c *countingPluginRuntime) Describe(pluginName string) (*plugin.Definition, error) {
	return nil, plugin.ErrDescribeUnsupported
}

func TestCacheEnabledOverridesTypeDefault(t *testing.T) {
	forceOn, forceOff := true, false

	// delay isn't in cacheableTypes by default.
	if cacheEnabled(Step{Type: StepDelay}) {
		t.Error("expected delay to default to non-cacheable")
	}
	if !cacheEnabled(Step{Type: StepDelay, Cache: &forceOn}) {
		t.Error("expected an explicit true override to force caching on")
	}

	// action is cacheable by default.
	if !cacheEnabled(Step{Type: StepAction}) {
		t.Error("expected action to default to cacheable")
	}
	if cacheEnabled(Step{Type: StepAction, Cache: &forceOff}) {
		t.Error("expected an explicit false override to force caching off")
	}
}

func TestExecuteCacheOverrideForcesCachingOff(t *testing.T) {
	rt := &countingPluginRuntime{}
	d := NewDispatcher()
	d.ActionHandler = plugin.NewActionHandler(rt)
	d.Cache = cache.New(16)
	d.CacheTTL = time.Minute

	forceOff := false
	step := Step{ID: "s1", Type: StepAction, Plugin: "http", Action: "get", Cache: &forceOff}

	ec := NewExecutionContext("exec1", "agent1", "user1", "session1", nil)
	if _, err := d.Execute(context.Background(), ec, step); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := d.Execute(context.Background(), ec, step); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&rt.calls); got != 2 {
		t.Errorf("expected caching disabled by override, got %d underlying calls (want 2)", got)
	}
}

func TestExecuteEachCallerGetsOwnSetStepOutputUnderSharedCacheBuild(t *testing.T) {
	rt := &countingPluginRuntime{}
	d := NewDispatcher()
	d.ActionHandler = plugin.NewActionHandler(rt)
	d.Cache = cache.New(16)
	d.CacheTTL = time.Minute

	step := Step{ID: "s1", Type: StepAction, Plugin: "http", Action: "get"}

	ec1 := NewExecutionContext("exec1", "agent1", "user1", "session1", nil)
	ec2 := NewExecutionContext("exec2", "agent1", "user1", "session2", nil)

	if _, err := d.Execute(context.Background(), ec1, step); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := d.Execute(context.Background(), ec2, step); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := ec1.GetStepOutput("s1"); !ok {
		t.Error("expected ec1 to have its own recorded step output")
	}
	if _, ok := ec2.GetStepOutput("s1"); !ok {
		t.Error("expected ec2 to also have its own recorded step output despite sharing the cache entry")
	}
	if got := atomic.LoadInt32(&rt.calls); got != 1 {
		t.Errorf("expected the underlying plugin call to run exactly once, got %d", got)
	}
}

func TestLevelizeGroupsByDependencies(t *testing.T) {
	steps := []Step{
		{ID: "a", Type: StepDelay},
		{ID: "b", Type: StepDelay},
		{ID: "c", Type: StepDelay, Dependencies: []string{"a", "b"}},
	}
	levels, err := levelize(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(levels))
	}
	if len(levels[0]) != 2 {
		t.Errorf("expected a and b in the first level, got %v", levels[0])
	}
	if len(levels[1]) != 1 || levels[1][0].ID != "c" {
		t.Errorf("expected c alone in the second level, got %v", levels[1])
	}
}

func TestLevelizeDetectsCycle(t *testing.T) {
	steps := []Step{
		{ID: "a", Type: StepDelay, Dependencies: []string{"b"}},
		{ID: "b", Type: StepDelay, Dependencies: []string{"a"}},
	}
	if _, err := levelize(steps); err == nil {
		t.Fatal("expected an error for a dependency cycle")
	}
}

func TestLevelizeDetectsUndeclaredDependency(t *testing.T) {
	steps := []Step{
		{ID: "a", Type: StepDelay, Dependencies: []string{"missing"}},
	}
	if _, err := levelize(steps); err == nil {
		t.Fatal("expected an error for a dependency on an undeclared step")
	}
}

func TestRunPlanDispatchesIndependentStepsConcurrently(t *testing.T) {
	d := newTestDispatcher(false)
	ec := NewExecutionContext("exec1", "agent1", "user1", "session1", nil)

	outs, err := d.RunPlan(context.Background(), ec, []Step{
		{ID: "a", Type: StepAction, Plugin: "http", Action: "get"},
		{ID: "b", Type: StepAction, Plugin: "http", Action: "get"},
		{ID: "c", Type: StepAction, Plugin: "http", Action: "get", Dependencies: []string{"a", "b"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outs) != 3 {
		t.Fatalf("expected 3 step outputs, got %d", len(outs))
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, ok := ec.GetStepOutput(id); !ok {
			t.Errorf("expected %s to have been dispatched", id)
		}
	}
}

func TestHandleDelayRespectsContextCancellation(t *testing.T) {
	d := newTestDispatcher(false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := d.handleDelay(ctx, Step{ID: "d1", DelayMs: 5000})
	if err == nil {
		t.Fatal("expected cancellation to interrupt the delay")
	}
}
