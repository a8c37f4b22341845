// Package llmdecision implements spec.md section 4.9's LLM decision handler:
// prompt composition from a step's prompt/description/name, enrichment with
// extracted {{...}} references as named params, context-summary injection,
// vision/multimodal content building, and schema-constrained structured
// output parsing with a validation-failure retry hint.
//
// Grounded on orchestrator/llm/provider.go's Provider interface and
// orchestrator/llm/types.go's CompletionRequest/CompletionResponse
// (getaxonflow-axonflow), narrowed from the teacher's full multi-provider
// routing surface to the single run() port spec.md section 6 describes.
package llmdecision

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/AgentsPilot/neuronforge-sub010/internal/variable"
)

// TokenUsage mirrors the External Interfaces section 6 run() response shape
// {total, prompt, completion}.
type TokenUsage struct {
	Total      int
	Prompt     int
	Completion int
}

// Result is the LLM runtime's run() response.
type Result struct {
	Success    bool
	Response   string
	ToolCalls  []ToolCall
	TokensUsed TokenUsage
	Error      string
}

// ToolCall is a single requested tool/function invocation, when the LLM's
// response includes one.
type ToolCall struct {
	Name      string
	Arguments map[string]interface{}
}

// AgentConfig carries routing preferences for an LLM decision step, per
// spec.md section 6: model_preference (routing may override) and
// plugins_required (suppressed for ai_processing).
type AgentConfig struct {
	ModelPreference string                 `yaml:"modelPreference"`
	PluginsRequired []string               `yaml:"pluginsRequired"`
	OutputSchema    map[string]interface{} `yaml:"outputSchema"`
}

// MultimodalContent is a prompt plus attached image/document parts, used
// when a step declares vision/multimodal mode.
type MultimodalContent struct {
	Text  string
	Parts []ContentPart
}

// ContentPart is one non-text attachment (e.g. an image) in a multimodal
// request.
type ContentPart struct {
	MimeType string
	Data     []byte
	URL      string
}

// Runtime is the LLM runtime port spec.md section 6 describes:
//
//	run(userId, agentConfig, prompt|multimodalContent, opts, sessionId) →
//	  {success, response?, toolCalls?, tokensUsed, error?}
type Runtime interface {
	Run(ctx context.Context, userID string, cfg AgentConfig, content interface{}, opts map[string]interface{}, sessionID string) (*Result, error)
}

// Step is the subset of a workflow step's declaration the decision handler
// needs: its own prompt/description/name, and whether it requests vision
// mode or a structured output schema.
type Step struct {
	ID          string
	Name        string
	Description string
	Prompt      string
	Vision      bool
	OutputSchema map[string]interface{}
}

// ContextSummary is the "completed-step list, input values, progress counts"
// spec.md section 4.9 appends to the composed prompt.
type ContextSummary struct {
	CompletedSteps []string
	Inputs         map[string]interface{}
	StepsTotal     int
	StepsCompleted int
}

// BuildParams composes the param set for an LLM decision step: starts from
// step.Prompt, falling back to Description then Name; extracts every
// {{...}} reference from that text, resolves each, and adds it as a named
// param with dots replaced by underscores; if the result is empty, seeds
// params from the last completed step's data instead.
func BuildParams(step Step, r *variable.Resolver, lastStepData map[string]interface{}) (map[string]interface{}, string) {
	text := step.Prompt
	if text == "" {
		text = step.Description
	}
	if text == "" {
		text = step.Name
	}

	params := map[string]interface{}{}
	for _, ref := range variable.FindReferences(text) {
		val, err := r.Resolve(ref)
		if err != nil {
			continue
		}
		key := strings.ReplaceAll(ref, ".", "_")
		params[key] = val
	}

	if len(params) == 0 && lastStepData != nil {
		for k, v := range lastStepData {
			params[k] = v
		}
	}

	return params, text
}

// BuildContextSummary renders the appended "context summary" text per
// spec.md section 4.9.
func BuildContextSummary(s ContextSummary) string {
	var b strings.Builder
	b.WriteString("Context summary:\n")
	fmt.Fprintf(&b, "- progress: %d/%d steps completed\n", s.StepsCompleted, s.StepsTotal)

	if len(s.CompletedSteps) > 0 {
		steps := append([]string(nil), s.CompletedSteps...)
		sort.Strings(steps)
		fmt.Fprintf(&b, "- completed steps: %s\n", strings.Join(steps, ", "))
	}

	if len(s.Inputs) > 0 {
		keys := make([]string, 0, len(s.Inputs))
		for k := range s.Inputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("- inputs:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  - %s: %v\n", k, s.Inputs[k])
		}
	}

	return b.String()
}

// ComposePrompt builds the final prompt text: the resolved step text plus
// the appended context summary.
func ComposePrompt(resolvedText string, summary ContextSummary) string {
	return resolvedText + "\n\n" + BuildContextSummary(summary)
}

// BuildMultimodalContent assembles a vision-mode request from a resolved
// prompt and a set of attachment parts discovered from upstream step data
// (e.g. email attachments, generated images).
func BuildMultimodalContent(prompt string, parts []ContentPart) MultimodalContent {
	return MultimodalContent{Text: prompt, Parts: parts}
}
