package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/AgentsPilot/neuronforge-sub010/internal/condition"
	"github.com/AgentsPilot/neuronforge-sub010/internal/llmdecision"
	"github.com/AgentsPilot/neuronforge-sub010/internal/ports"
	"github.com/AgentsPilot/neuronforge-sub010/internal/schema"
	"github.com/AgentsPilot/neuronforge-sub010/internal/transform"
	"github.com/AgentsPilot/neuronforge-sub010/internal/variable"
	"github.com/AgentsPilot/neuronforge-sub010/internal/werr"
)

// handleLLMDecision composes a prompt from the step's own text plus an
// appended context summary, dispatches it through the LLM runtime port, and
// on a declared output schema parses and validates a structured response.
func (d *Dispatcher) handleLLMDecision(ctx context.Context, ec *ExecutionContext, step Step) (interface{}, int, error) {
	if d.LLMRuntime == nil {
		return nil, 0, werr.NewExecutionError(step.ID, "no LLM runtime configured", nil)
	}

	lstep := llmdecision.Step{
		ID: step.ID, Name: step.Name, Description: step.Description,
		Prompt: step.Prompt, Vision: step.Vision, OutputSchema: step.Agent.OutputSchema,
	}
	resolver := ec.resolverFor(step.ID)

	var lastStepData map[string]interface{}
	if len(step.Dependencies) > 0 {
		if dep, ok := ec.GetStepOutput(step.Dependencies[len(step.Dependencies)-1]); ok {
			lastStepData, _ = dep.Data.(map[string]interface{})
		}
	}

	params, rawText := llmdecision.BuildParams(lstep, resolver, lastStepData)
	resolvedText, err := variable.ResolveAllVariables(rawText, resolver)
	if err != nil {
		return nil, 0, werr.NewVariableResolutionError(step.ID, rawText, err.Error())
	}
	text := fmt.Sprintf("%v", resolvedText)

	summary := llmdecision.ContextSummary{
		CompletedSteps: ec.CompletedSteps,
		Inputs:         ec.InputValues,
		StepsCompleted: len(ec.CompletedSteps),
		StepsTotal:     len(ec.CompletedSteps) + len(ec.FailedSteps) + 1,
	}
	prompt := llmdecision.ComposePrompt(text, summary)

	var content interface{} = prompt
	if step.Vision && lastStepData != nil {
		if items, ok := lastStepData["items"].([]interface{}); ok {
			parts := make([]llmdecision.ContentPart, 0)
			for _, img := range llmdecision.DetectImageItems(items) {
				if part, ok := llmdecision.ExtractImagePart(img); ok {
					parts = append(parts, part)
				}
			}
			content = llmdecision.BuildMultimodalContent(prompt, parts)
		}
	}

	result, err := d.LLMRuntime.Run(ctx, ec.UserID, step.Agent, content, map[string]interface{}{"params": params}, ec.SessionID)
	if err != nil {
		return nil, 0, werr.NewExecutionError(step.ID, "LLM runtime call failed", err)
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "LLM runtime reported failure with no message"
		}
		return nil, 0, werr.NewExecutionError(step.ID, msg, nil)
	}

	if lstep.OutputSchema != nil {
		structured, perr := llmdecision.ParseStructuredResponse(result.Response)
		if perr != nil {
			return nil, result.TokensUsed.Total, werr.NewExecutionError(step.ID, "could not parse structured LLM response", perr)
		}
		if errs := llmdecision.ValidateAgainstSchema(structured, lstep.OutputSchema); len(errs) > 0 {
			hint := llmdecision.BuildRetryHint(errs)
			return nil, result.TokensUsed.Total, werr.NewExecutionError(step.ID, "structured output failed schema validation: "+hint, nil)
		}
		return structured, result.TokensUsed.Total, nil
	}

	if llmdecision.IsSummaryStep(lstep) {
		return llmdecision.CleanSummary(result.Response), result.TokensUsed.Total, nil
	}
	return result.Response, result.TokensUsed.Total, nil
}

// handleTransform runs the named transform operation, injecting the plugin
// runtime into config for the fetch_content operation's plugin.Describe/
// Execute calls (see internal/transform's __runtime convention) without
// mutating the step's own config map.
func (d *Dispatcher) handleTransform(ctx context.Context, ec *ExecutionContext, step Step) (interface{}, int, error) {
	config := step.Config
	if step.Operation == "fetch_content" && d.PluginRuntime != nil {
		config = make(map[string]interface{}, len(step.Config)+1)
		for k, v := range step.Config {
			config[k] = v
		}
		config["__runtime"] = d.PluginRuntime
	}
	data, err := transform.Run(ctx, step.ID, step.Operation, step.Input, config, ec)
	return data, 0, err
}

// handleConditional evaluates the step's condition tree and runs whichever
// branch it selects.
func (d *Dispatcher) handleConditional(ctx context.Context, ec *ExecutionContext, step Step) (interface{}, int, error) {
	ev := condition.NewEvaluator(ec.resolverFor(step.ID))
	ok, err := ev.Evaluate(step.Condition)
	if err != nil {
		return nil, 0, werr.NewConditionError(step.ID, "condition evaluation failed", err)
	}

	branch, name := step.Else, "else"
	if ok {
		branch, name = step.Then, "then"
	}
	outs, err := d.RunSequence(ctx, ec, branch)
	if err != nil {
		return nil, 0, err
	}
	return map[string]interface{}{"branch": name, "outputs": outputsToData(outs)}, sumTokens(outs), nil
}

// handleSwitch resolves the switch field and runs the first matching case's
// steps, falling back to Default when nothing matches.
func (d *Dispatcher) handleSwitch(ctx context.Context, ec *ExecutionContext, step Step) (interface{}, int, error) {
	resolver := ec.resolverFor(step.ID)
	val, err := resolver.Resolve(step.SwitchField)
	if err != nil {
		return nil, 0, werr.NewVariableResolutionError(step.ID, step.SwitchField, err.Error())
	}

	branch := step.Default
	matched := "default"
	for _, c := range step.Cases {
		if looseEquals(val, c.Value) {
			branch = c.Steps
			matched = fmt.Sprintf("%v", c.Value)
			break
		}
	}
	outs, err := d.RunSequence(ctx, ec, branch)
	if err != nil {
		return nil, 0, err
	}
	return map[string]interface{}{"matched": matched, "outputs": outputsToData(outs)}, sumTokens(outs), nil
}

// handleEnrichment resolves each named rule expression against the current
// execution state and merges the results onto the step's input object.
func (d *Dispatcher) handleEnrichment(ctx context.Context, ec *ExecutionContext, step Step) (interface{}, int, error) {
	resolver := ec.resolverFor(step.ID)
	merged := map[string]interface{}{}
	if base, ok := step.Input.(map[string]interface{}); ok {
		for k, v := range base {
			merged[k] = v
		}
	}
	for field, rule := range step.Rules {
		v, err := variable.ResolveAllVariables(rule, resolver)
		if err != nil {
			return nil, 0, werr.NewVariableResolutionError(step.ID, field, err.Error())
		}
		merged[field] = v
	}
	return merged, 0, nil
}

// handleValidation folds every declared rule through the condition
// evaluator and reports a {valid, errors} summary; an unevaluable rule is
// recorded as an error rather than aborting the step.
func (d *Dispatcher) handleValidation(ctx context.Context, ec *ExecutionContext, step Step) (interface{}, int, error) {
	ev := condition.NewEvaluator(ec.resolverFor(step.ID))
	var failures []string
	for i, rule := range step.ValidationRules {
		ok, err := ev.Evaluate(rule)
		switch {
		case err != nil:
			failures = append(failures, fmt.Sprintf("rule %d: %v", i, err))
		case !ok:
			failures = append(failures, fmt.Sprintf("rule %d failed", i))
		}
	}
	return map[string]interface{}{"valid": len(failures) == 0, "errors": failures}, 0, nil
}

// handleComparison compares two already-resolved values with the declared
// operator.
func (d *Dispatcher) handleComparison(ctx context.Context, ec *ExecutionContext, step Step) (interface{}, int, error) {
	result, err := compareValues(step.Operator, step.Left, step.Right)
	if err != nil {
		return nil, 0, werr.NewConditionError(step.ID, "comparison failed", err)
	}
	return map[string]interface{}{"result": result, "left": step.Left, "right": step.Right, "operator": step.Operator}, 0, nil
}

// handleDeterministicExtraction pulls named fields out of an object input
// via the same fuzzy field matcher the render/transform packages use.
func (d *Dispatcher) handleDeterministicExtraction(ctx context.Context, ec *ExecutionContext, step Step) (interface{}, int, error) {
	data, ok := step.Input.(map[string]interface{})
	if !ok {
		return nil, 0, werr.NewValidationError(step.ID, "deterministic_extraction requires an object input", nil)
	}
	out := map[string]interface{}{}
	for _, f := range step.ExtractFields {
		if v, found := schema.FindFieldValue(data, f.Key); found {
			out[f.Name] = v
		}
	}
	return out, 0, nil
}

// handleDelay blocks for the declared duration, or until ctx is cancelled.
func (d *Dispatcher) handleDelay(ctx context.Context, step Step) (interface{}, int, error) {
	if step.DelayMs <= 0 {
		return map[string]interface{}{"delayedMs": 0}, 0, nil
	}
	select {
	case <-time.After(time.Duration(step.DelayMs) * time.Millisecond):
		return map[string]interface{}{"delayedMs": step.DelayMs}, 0, nil
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

// handleSubWorkflow dispatches a nested step list inline against the same
// execution context, rather than spinning up a second ExecutionContext:
// sub-workflow steps see (and contribute to) the parent run's step outputs
// and variables, since this engine has no separate workflow registry to
// look up an independently-scoped child run from.
func (d *Dispatcher) handleSubWorkflow(ctx context.Context, ec *ExecutionContext, step Step) (interface{}, int, error) {
	outs, err := d.RunSequence(ctx, ec, step.SubSteps)
	if err != nil {
		return nil, 0, err
	}
	return outputsToData(outs), sumTokens(outs), nil
}

// handleHumanApproval creates an approval request, best-effort notifies the
// configured channels, and blocks polling ApprovalTracker.Resolve until the
// request is resolved or its timeout elapses. There is no pause/resume
// surface in this engine, so a human_approval step is synchronous from the
// dispatcher's point of view.
func (d *Dispatcher) handleHumanApproval(ctx context.Context, ec *ExecutionContext, step Step) (interface{}, int, error) {
	approvalID := d.IDGen()
	timeout := time.Duration(step.TimeoutMs) * time.Millisecond
	if step.TimeoutMs <= 0 {
		timeout = 24 * time.Hour
	}
	now := time.Now()
	envelope := ports.NewApprovalEnvelope(approvalID, ec.ExecutionID, step.ID, step.Title, step.Message,
		map[string]interface{}{"input": step.Input}, step.Approvers, step.ApprovalType, now.Add(timeout), now)

	if d.Approvals != nil {
		if err := d.Approvals.Create(ctx, envelope); err != nil {
			return nil, 0, werr.NewExecutionError(step.ID, "failed to create approval request", err)
		}
	}
	for _, ch := range d.Notifications {
		_ = ch.Send(ctx, envelope)
	}
	if d.Approvals == nil {
		return map[string]interface{}{"approvalId": approvalID, "status": "pending"}, 0, nil
	}

	deadline := now.Add(timeout)
	for {
		approved, resolved, err := d.Approvals.Resolve(ctx, approvalID)
		if err != nil {
			return nil, 0, werr.NewExecutionError(step.ID, "approval lookup failed", err)
		}
		if resolved {
			if approved {
				return map[string]interface{}{"approvalId": approvalID, "status": "approved"}, 0, nil
			}
			return nil, 0, werr.NewExecutionError(step.ID, "human approval was denied", nil)
		}
		if time.Now().After(deadline) {
			return nil, 0, werr.NewExecutionError(step.ID, "human approval timed out", nil)
		}
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func outputsToData(outs []*StepOutput) []interface{} {
	arr := make([]interface{}, len(outs))
	for i, o := range outs {
		arr[i] = o.Data
	}
	return arr
}

func sumTokens(outs []*StepOutput) int {
	sum := 0
	for _, o := range outs {
		sum += o.Metadata.TokensUsed
	}
	return sum
}

func looseEquals(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// compareValues implements the small operator set a comparison step needs
// against two already-resolved values.
func compareValues(op string, left, right interface{}) (bool, error) {
	switch op {
	case "", "equals", "eq", "==":
		return looseEquals(left, right), nil
	case "not_equals", "ne", "!=":
		return !looseEquals(left, right), nil
	case "greater_than", "gt", ">":
		return numericCompare(left, right, func(a, b float64) bool { return a > b })
	case "greater_than_or_equal", "gte", ">=":
		return numericCompare(left, right, func(a, b float64) bool { return a >= b })
	case "less_than", "lt", "<":
		return numericCompare(left, right, func(a, b float64) bool { return a < b })
	case "less_than_or_equal", "lte", "<=":
		return numericCompare(left, right, func(a, b float64) bool { return a <= b })
	default:
		return false, fmt.Errorf("unsupported comparison operator %q", op)
	}
}

func numericCompare(a, b interface{}, cmp func(a, b float64) bool) (bool, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false, fmt.Errorf("non-numeric comparison: %v vs %v", a, b)
	}
	return cmp(af, bf), nil
}
