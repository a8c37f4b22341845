package llmdecision

import (
	"regexp"
	"strings"
)

// summarizeTriggers names a step as summary-intent if its name/prompt/
// description mentions any of these.
var summarizeTriggers = []string{"summarize", "summary", "summarise"}

// IsSummaryStep reports whether a step's identifying text mentions
// summarization, per spec.md section 4.9's "summary cleaning" trigger.
func IsSummaryStep(step Step) bool {
	haystack := strings.ToLower(step.Name + " " + step.Prompt + " " + step.Description)
	for _, t := range summarizeTriggers {
		if strings.Contains(haystack, t) {
			return true
		}
	}
	return false
}

// leadingMetaPatterns match leading meta-commentary sentences an LLM
// sometimes prepends before its actual summary ("I will now analyze the
// emails and produce a summary.").
var leadingMetaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(i will now|i'll now|let me|i am going to|i'm going to)[^.\n]*[.\n]+\s*`),
	regexp.MustCompile(`(?i)^\s*(analyzing|processing|reviewing)[^.\n]*[.\n]+\s*`),
}

// trailingNarrativePatterns match trailing narrative sentences appended
// after the summary ("Now I will send this to the team.").
var trailingNarrativePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s*(now i will|i will now|next,? i will|i'll now)[^.\n]*[.\n]*\s*$`),
}

// CleanSummary strips leading meta-commentary and trailing narrative from an
// LLM summary response, per spec.md section 4.9. If the cleaned result drops
// below 50 characters, the original response is returned unchanged.
func CleanSummary(response string) string {
	cleaned := response
	for _, re := range leadingMetaPatterns {
		cleaned = re.ReplaceAllString(cleaned, "")
	}
	for _, re := range trailingNarrativePatterns {
		cleaned = re.ReplaceAllString(cleaned, "")
	}
	cleaned = strings.TrimSpace(cleaned)

	if len(cleaned) < 50 {
		return response
	}
	return cleaned
}

// ReturnShape is the rich decision-step output object spec.md section 4.9
// describes: multiple aliases for the same cleaned response string.
type ReturnShape struct {
	Result         string                 `json:"result"`
	Response       string                 `json:"response"`
	Output         string                 `json:"output"`
	Summary        string                 `json:"summary"`
	Analysis       string                 `json:"analysis"`
	Decision       string                 `json:"decision"`
	Reasoning      string                 `json:"reasoning"`
	Classification string                 `json:"classification"`
	ToolCalls      []ToolCall             `json:"toolCalls,omitempty"`
	TokensUsed     map[string]int         `json:"tokensUsed"`
}

// BuildReturnShape assembles the aliased return object from a final
// (already-cleaned, already-schema-validated-if-applicable) response string.
func BuildReturnShape(text string, toolCalls []ToolCall, usage TokenUsage) ReturnShape {
	return ReturnShape{
		Result: text, Response: text, Output: text, Summary: text,
		Analysis: text, Decision: text, Reasoning: text, Classification: text,
		ToolCalls: toolCalls,
		TokensUsed: map[string]int{
			"total": usage.Total, "prompt": usage.Prompt, "completion": usage.Completion,
		},
	}
}
