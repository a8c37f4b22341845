package ports

import (
	"testing"
	"time"
)

func TestNewApprovalEnvelopeSetsTypeAndCreatedAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expires := now.Add(24 * time.Hour)
	env := NewApprovalEnvelope("appr1", "exec1", "step1", "Approve refund", "Please review", map[string]interface{}{"amount": 50}, []string{"alice"}, "single", expires, now)

	if env.Type != "approval_request" {
		t.Errorf("expected type approval_request, got %q", env.Type)
	}
	if env.CreatedAt != now {
		t.Errorf("expected CreatedAt %v, got %v", now, env.CreatedAt)
	}
	if env.ApprovalID != "appr1" || env.StepID != "step1" {
		t.Errorf("unexpected envelope fields: %+v", env)
	}
}
