package engine

import (
	"errors"
	"strings"

	"github.com/AgentsPilot/neuronforge-sub010/internal/calibration"
	"github.com/AgentsPilot/neuronforge-sub010/internal/retry"
	"github.com/AgentsPilot/neuronforge-sub010/internal/werr"
)

// classify maps a step failure to the calibration taxonomy. Unlike the
// source's policy-engine classifier (allow/block/require_approval on a
// request), this one only ever needs to decide whether a run in
// batch-calibration mode should stop or collect-and-continue, so it folds
// straight to calibration.Classification instead of a richer verdict type.
func classify(stepType StepType, err error) calibration.Classification {
	var valErr *werr.ValidationError
	if errors.As(err, &valErr) {
		return calibration.Classification{Category: calibration.CategoryLogicError, Severity: "high", Message: err.Error()}
	}

	var varErr *werr.VariableResolutionError
	if errors.As(err, &varErr) {
		return calibration.Classification{Category: calibration.CategoryDataUnavailable, Severity: "medium", Message: err.Error()}
	}

	var condErr *werr.ConditionError
	if errors.As(err, &condErr) {
		return calibration.Classification{Category: calibration.CategoryLogicError, Severity: "high", Message: err.Error()}
	}

	var openErr *retry.OpenError
	if errors.As(err, &openErr) {
		return calibration.Classification{Category: calibration.CategoryExecutionError, Subtype: calibration.SubtypeTimeout, Severity: "medium", Message: err.Error()}
	}

	var execErr *werr.ExecutionError
	if errors.As(err, &execErr) {
		return calibration.Classification{Category: calibration.CategoryExecutionError, Subtype: classifyExecutionSubtype(execErr.Message), Severity: "medium", Message: execErr.Message}
	}

	return calibration.Classification{Category: calibration.CategoryExecutionError, Subtype: classifyExecutionSubtype(err.Error()), Severity: "medium", Message: err.Error()}
}

// classifyExecutionSubtype sniffs an execution-error message for the
// subtypes calibration mode treats differently: auth failures stop the run,
// everything else (timeout, rate_limit, parameter) continues.
func classifyExecutionSubtype(msg string) calibration.ExecutionErrorSubtype {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "unauthorized", "forbidden", "401", "403", "auth"):
		return calibration.SubtypeAuth
	case containsAny(lower, "timeout", "timed out", "deadline exceeded"):
		return calibration.SubtypeTimeout
	case containsAny(lower, "rate limit", "429", "too many requests"):
		return calibration.SubtypeRateLimit
	case containsAny(lower, "missing required", "invalid parameter", "parameter"):
		return calibration.SubtypeParameter
	default:
		return calibration.SubtypeParameter
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// errorCodeFor renders a stable ErrorCode for a StepOutput's metadata from a
// classification, used by downstream consumers that branch on error type
// rather than parsing the message.
func errorCodeFor(c calibration.Classification) string {
	if c.Subtype != "" {
		return strings.ToUpper(string(c.Category) + "_" + string(c.Subtype))
	}
	return strings.ToUpper(string(c.Category))
}
