// Command pilotctl loads a workflow definition, executes it against an
// input record, and prints the resulting step trace. A serve subcommand
// exposes the same execution over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/AgentsPilot/neuronforge-sub010/internal/calibration"
	"github.com/AgentsPilot/neuronforge-sub010/internal/engine"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runCmd(os.Args[2:])
	case "serve":
		serveCmd(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "pilotctl: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `pilotctl is a command-line tool for running pilot workflows.

Usage:
  pilotctl run -workflow <file> [-input <file>] [-user <id>] [-session <id>]
  pilotctl serve [-port <port>]`)
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	workflowPath := fs.String("workflow", "", "path to a workflow definition (YAML or JSON)")
	inputPath := fs.String("input", "", "path to an input values file (YAML or JSON)")
	userID := fs.String("user", "cli-user", "user id to execute the workflow as")
	sessionID := fs.String("session", "", "session id (defaults to a generated one)")
	agentID := fs.String("agent", "cli-agent", "agent id the workflow runs under")
	calibrate := fs.Bool("calibrate", false, "run in batch-calibration mode (collect-and-continue)")
	_ = fs.Parse(args)

	if *workflowPath == "" {
		fmt.Fprintln(os.Stderr, "pilotctl run: -workflow is required")
		os.Exit(1)
	}

	wf, err := LoadWorkflowFile(*workflowPath)
	if err != nil {
		log.Fatalf("pilotctl: %v", err)
	}
	inputValues, err := LoadInputFile(*inputPath)
	if err != nil {
		log.Fatalf("pilotctl: %v", err)
	}

	sid := *sessionID
	if sid == "" {
		sid = uuid.NewString()
	}

	ctx := context.Background()
	dispatcher := buildDispatcher(ctx)

	ec := engine.NewExecutionContext(uuid.NewString(), *agentID, *userID, sid, inputValues)
	ec.BatchCalibrationMode = *calibrate
	if *calibrate {
		ec.Calibration = calibration.NewLedger(true)
	}

	outputs, runErr := dispatcher.RunPlan(ctx, ec, wf.Spec.Steps)
	if runErr != nil {
		ec.MarkFailed()
	} else {
		ec.MarkCompleted()
	}

	trace := map[string]interface{}{
		"workflow":        wf.Metadata.Name,
		"executionId":     ec.ExecutionID,
		"status":          ec.Status,
		"completedSteps":  ec.CompletedSteps,
		"failedSteps":     ec.FailedSteps,
		"skippedSteps":    ec.SkippedSteps,
		"totalTokensUsed": ec.TotalTokensUsed,
		"steps":           outputs,
	}
	if runErr != nil {
		trace["error"] = runErr.Error()
	}
	if ec.Calibration != nil {
		trace["calibrationIssues"] = ec.Calibration.Issues()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(trace)

	if runErr != nil {
		os.Exit(1)
	}
}
