package main

import (
	"context"
	"log"
	"os"

	"github.com/AgentsPilot/neuronforge-sub010/internal/cache"
	"github.com/AgentsPilot/neuronforge-sub010/internal/engine"
	"github.com/AgentsPilot/neuronforge-sub010/internal/llmdecision"
	"github.com/AgentsPilot/neuronforge-sub010/internal/ports"
)

// buildDispatcher wires a Dispatcher from environment configuration, the
// same "read env, fall back to a sane default, log what's missing" shape
// initializeComponents uses in orchestrator/run.go.
//
// A plugin.Runtime has no concrete adapter in this tree: the source wires
// its plugin calls through an MCP connector marketplace this repo doesn't
// carry, so PluginRuntime/ActionHandler are left nil by default. Embedders
// that need action/fetch_content steps supply their own plugin.Runtime and
// build a Dispatcher directly rather than going through this CLI helper.
func buildDispatcher(ctx context.Context) *Dispatcher {
	d := engine.NewDispatcher()
	d.Cache = cache.New(1000)
	approvals := ports.NewMemoryApprovalTracker()
	d.Approvals = approvals
	approvalTracker = approvals

	region := os.Getenv("BEDROCK_REGION")
	model := os.Getenv("BEDROCK_MODEL")
	if region != "" {
		if model == "" {
			model = "anthropic.claude-3-sonnet-20240229-v1:0"
		}
		rt, err := llmdecision.NewBedrockRuntime(ctx, region, model)
		if err != nil {
			log.Printf("pilotctl: could not initialize Bedrock runtime (%v); llm_decision/ai_processing steps will fail", err)
		} else {
			d.LLMRuntime = rt
		}
	} else {
		log.Printf("pilotctl: BEDROCK_REGION not set; llm_decision/ai_processing steps will fail")
	}

	if webhookURL := os.Getenv("APPROVAL_WEBHOOK_URL"); webhookURL != "" {
		d.Notifications = append(d.Notifications, ports.NewWebhookChannel(webhookURL, nil))
	}
	if slackURL := os.Getenv("APPROVAL_SLACK_WEBHOOK_URL"); slackURL != "" {
		d.Notifications = append(d.Notifications, ports.NewSlackChannel(slackURL))
	}

	return d
}

// Dispatcher is a local alias so the rest of this package doesn't need to
// spell out the full import path everywhere.
type Dispatcher = engine.Dispatcher

// approvalTracker holds the concrete MemoryApprovalTracker buildDispatcher
// wires in, so serve's /approvals endpoint can call Approve/Deny directly
// instead of only through the narrower ports.ApprovalTracker interface.
var approvalTracker *ports.MemoryApprovalTracker
