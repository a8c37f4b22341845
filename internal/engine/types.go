// Package engine implements the core execution state and per-step dispatch
// for a workflow run: ExecutionContext (step-output memo, run-scoped
// variables, metrics, clone/merge for parallel branches) and a Dispatcher
// that routes each typed step to its handler, gated by a cache probe, an
// orchestration hand-off for LLM-family steps, and calibration-mode
// error classification.
//
// Grounded on orchestrator/workflow_engine.go's WorkflowExecution,
// StepExecution, and StepProcessor/ExecuteWorkflowWithParallelSupport
// (getaxonflow-axonflow) as the direct ancestor: the per-step try/record/
// persist loop and the parallel-branch clone-then-merge pattern both
// generalize that file's structure to the full typed step union and the
// retry/cache/audit/calibration hooks added here.
package engine

import (
	"time"

	"github.com/AgentsPilot/neuronforge-sub010/internal/condition"
	"github.com/AgentsPilot/neuronforge-sub010/internal/llmdecision"
	"github.com/AgentsPilot/neuronforge-sub010/internal/parallel"
	"github.com/AgentsPilot/neuronforge-sub010/internal/retry"
)

// StepType discriminates the Step union, matching the type field of the
// original step record.
type StepType string

const (
	StepAction                 StepType = "action"
	StepLLMDecision            StepType = "llm_decision"
	StepAIProcessing           StepType = "ai_processing"
	StepTransform              StepType = "transform"
	StepConditional            StepType = "conditional"
	StepSwitch                 StepType = "switch"
	StepLoop                   StepType = "loop"
	StepParallel               StepType = "parallel"
	StepParallelGroup          StepType = "parallel_group"
	StepScatterGather          StepType = "scatter_gather"
	StepEnrichment             StepType = "enrichment"
	StepValidation             StepType = "validation"
	StepComparison             StepType = "comparison"
	StepDeterministicExtraction StepType = "deterministic_extraction"
	StepDelay                  StepType = "delay"
	StepSubWorkflow            StepType = "sub_workflow"
	StepHumanApproval          StepType = "human_approval"
)

// llmFamily names the step types that are first offered to the
// orchestration hook; when the hook does not take them they fall through to
// their normal handler.
var llmFamily = map[StepType]bool{
	StepAIProcessing: true,
	StepLLMDecision:  true,
	"summarize":      true,
	"extract":        true,
	"generate":       true,
}

// cacheableTypes names the step types whose output may be served from the
// step-result cache on a stableHash(params) hit.
var cacheableTypes = map[StepType]bool{
	StepAction:     true,
	StepTransform:  true,
	StepValidation: true,
	StepComparison: true,
}

// SwitchCase is one value-to-branch arm of a switch step.
type SwitchCase struct {
	Value interface{} `yaml:"value"`
	Steps []Step      `yaml:"steps"`
}

// ExtractionField names one field a deterministic_extraction step pulls out
// of its input, under a possibly different output name.
type ExtractionField struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// Step is the discriminated union of every step kind a workflow declares.
// Only the fields relevant to Type are meaningful; the rest sit unused,
// mirroring how the original record carries a sparse, type-dependent set of
// properties. Tagged for yaml.v3 so cmd/pilotctl can decode a workflow
// definition file straight into a []Step without an intermediate DTO.
type Step struct {
	ID              string        `yaml:"id"`
	Type            StepType      `yaml:"type"`
	Name            string        `yaml:"name"`
	Description     string        `yaml:"description"`
	Dependencies    []string      `yaml:"dependsOn"`
	ContinueOnError bool          `yaml:"continueOnError"`
	Retry           *retry.Policy `yaml:"retry"`

	// ExecuteIf gates dispatch itself: when set and it evaluates false, the
	// step is skipped without invoking its handler. Nil means always run.
	ExecuteIf *condition.Condition `yaml:"executeIf"`
	// Cache overrides the type-level cacheableTypes default for this step:
	// nil defers to the type default, and an explicit true/false forces
	// caching on or off regardless of step type.
	Cache *bool `yaml:"cache"`

	// action
	Plugin       string                 `yaml:"plugin"`
	Action       string                 `yaml:"action"`
	Params       map[string]interface{} `yaml:"params"`
	ParamSchema  map[string]interface{} `yaml:"paramSchema"`
	OutputSchema map[string]interface{} `yaml:"outputSchema"`

	// llm_decision / ai_processing
	Prompt string                  `yaml:"prompt"`
	Vision bool                    `yaml:"vision"`
	Agent  llmdecision.AgentConfig `yaml:"agent"`

	// transform
	Operation string                 `yaml:"operation"`
	Input     interface{}            `yaml:"input"`
	Config    map[string]interface{} `yaml:"config"`

	// conditional
	Condition condition.Condition `yaml:"condition"`
	Then      []Step              `yaml:"then"`
	Else      []Step              `yaml:"else"`

	// switch
	SwitchField string       `yaml:"switchField"`
	Cases       []SwitchCase `yaml:"cases"`
	Default     []Step       `yaml:"default"`

	// loop
	IterateOver   interface{} `yaml:"iterateOver"`
	MaxIterations int         `yaml:"maxIterations"`
	ParallelLoop  bool        `yaml:"parallelLoop"`
	Body          []Step      `yaml:"body"`

	// parallel / parallel_group
	Branches [][]Step `yaml:"branches"`

	// MaxConcurrency bounds fan-out for loop (parallelLoop), parallel_group,
	// and scatter_gather steps. Zero or unset falls back to the dispatcher's
	// default bound.
	MaxConcurrency int `yaml:"maxConcurrency"`

	// scatter_gather
	Scatter          interface{}      `yaml:"scatter"`
	ScatterAs        string           `yaml:"scatterAs"`
	GatherOp         parallel.GatherOp `yaml:"gatherOp"`
	ReduceExpression string           `yaml:"reduceExpression"`

	// enrichment: field name -> {{...}} expression to resolve and merge in
	Rules map[string]interface{} `yaml:"rules"`

	// validation
	ValidationRules []condition.Condition `yaml:"validationRules"`

	// comparison
	Left     interface{} `yaml:"left"`
	Right    interface{} `yaml:"right"`
	Operator string      `yaml:"operator"`

	// deterministic_extraction
	ExtractFields []ExtractionField `yaml:"extractFields"`

	// delay
	DelayMs int `yaml:"delayMs"`

	// sub_workflow
	SubSteps []Step `yaml:"subSteps"`

	// human_approval
	Title        string   `yaml:"title"`
	Message      string   `yaml:"message"`
	Approvers    []string `yaml:"approvers"`
	ApprovalType string   `yaml:"approvalType"`
	TimeoutMs    int      `yaml:"timeoutMs"`
}

// StepMetadata is the {success, executedAt, executionTime, ...} envelope
// attached to every StepOutput.
type StepMetadata struct {
	Success               bool
	ExecutedAt            time.Time
	ExecutionTimeMs       int64
	ItemCount             *int
	TokensUsed            int
	Error                 string
	ErrorCode             string
	FieldNames            []string
	Orchestrated          bool
	RoutedModel           string
	TokensSaved           int
	AutoRepaired          bool
	FailureCategory       string
	ParameterErrorDetails string
	Skipped               bool
}

// StepOutput is the uniform result every dispatched step produces exactly
// once (or, on retry, replaces its prior record with).
type StepOutput struct {
	StepID   string
	Plugin   string
	Action   string
	Data     interface{}
	Metadata StepMetadata
}

// asSourceMap renders a StepOutput as the {stepId, plugin, action, data,
// metadata} shape variable.Source.StepOutput returns, for {{stepN...}}
// resolution.
func (o *StepOutput) asSourceMap() map[string]interface{} {
	return map[string]interface{}{
		"stepId": o.StepID,
		"plugin": o.Plugin,
		"action": o.Action,
		"data":   o.Data,
		"metadata": map[string]interface{}{
			"success":       o.Metadata.Success,
			"executedAt":    o.Metadata.ExecutedAt,
			"executionTime": o.Metadata.ExecutionTimeMs,
			"tokensUsed":    o.Metadata.TokensUsed,
			"error":         o.Metadata.Error,
			"errorCode":     o.Metadata.ErrorCode,
			"field_names":   o.Metadata.FieldNames,
			"skipped":       o.Metadata.Skipped,
		},
	}
}

// Status is one of the five lifecycle states a run moves through.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)
