package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/AgentsPilot/neuronforge-sub010/internal/calibration"
	"github.com/AgentsPilot/neuronforge-sub010/internal/engine"
)

// serveCmd starts an HTTP server exposing workflow execution over
// POST /api/v1/workflows/execute, grounded on orchestrator/run.go's
// router setup (gorilla/mux + rs/cors) and executeWorkflowHandler's
// {workflow, input, user} request envelope.
func serveCmd(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.String("port", "8090", "port to listen on")
	_ = fs.Parse(args)
	if envPort := os.Getenv("PORT"); envPort != "" {
		*port = envPort
	}

	ctx := context.Background()
	dispatcher := buildDispatcher(ctx)

	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/api/v1/workflows/execute", executeWorkflowHandler(dispatcher)).Methods("POST")
	r.HandleFunc("/api/v1/approvals/{id}/decide", approvalDecisionHandler).Methods("POST")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	log.Printf("pilotctl serve: listening on :%s", *port)
	log.Fatal(http.ListenAndServe(":"+*port, c.Handler(r)))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "pilotctl",
	})
}

type executeRequest struct {
	Workflow    WorkflowFile           `json:"workflow"`
	Input       map[string]interface{} `json:"input"`
	UserID      string                 `json:"userId"`
	AgentID     string                 `json:"agentId"`
	SessionID   string                 `json:"sessionId"`
	Calibration bool                   `json:"calibrationMode"`
}

func executeWorkflowHandler(d *Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req executeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
			return
		}
		if req.Workflow.Metadata.Name == "" {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "workflow.metadata.name is required"})
			return
		}
		if len(req.Workflow.Spec.Steps) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "workflow must have at least one step"})
			return
		}

		userID, agentID := req.UserID, req.AgentID
		if userID == "" {
			userID = "http-user"
		}
		if agentID == "" {
			agentID = "http-agent"
		}
		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
		defer cancel()

		ec := engine.NewExecutionContext(uuid.NewString(), agentID, userID, sessionID, req.Input)
		ec.BatchCalibrationMode = req.Calibration
		if req.Calibration {
			ec.Calibration = calibration.NewLedger(true)
		}

		outputs, runErr := d.RunPlan(ctx, ec, req.Workflow.Spec.Steps)
		if runErr != nil {
			ec.MarkFailed()
		} else {
			ec.MarkCompleted()
		}

		resp := map[string]interface{}{
			"executionId":     ec.ExecutionID,
			"status":          ec.Status,
			"completedSteps":  ec.CompletedSteps,
			"failedSteps":     ec.FailedSteps,
			"skippedSteps":    ec.SkippedSteps,
			"totalTokensUsed": ec.TotalTokensUsed,
			"steps":           outputs,
		}
		if runErr != nil {
			resp["error"] = runErr.Error()
		}
		if ec.Calibration != nil {
			resp["calibrationIssues"] = ec.Calibration.Issues()
		}

		status := http.StatusOK
		if runErr != nil {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, resp)
	}
}

// approvalDecisionHandler resolves a pending human_approval step: a
// blocked RunSequence call polling ApprovalTracker.Resolve picks this up
// on its next poll tick and unblocks.
func approvalDecisionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Approved bool `json:"approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
		return
	}
	if approvalTracker == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"error": "no approval tracker configured"})
		return
	}
	if body.Approved {
		approvalTracker.Approve(id)
	} else {
		approvalTracker.Deny(id)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"approvalId": id, "approved": body.Approved})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
