package ports

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookChannelSendPostsJSONEnvelope(t *testing.T) {
	var received ApprovalEnvelope
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected JSON content type, got %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := NewWebhookChannel(server.URL, map[string]string{"X-Test": "1"})
	env := ApprovalEnvelope{Type: "approval_request", ApprovalID: "a1", Title: "t"}
	if err := ch.Send(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received.ApprovalID != "a1" {
		t.Errorf("expected decoded envelope to round-trip, got %+v", received)
	}
}

func TestWebhookChannelSendErrorsOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ch := NewWebhookChannel(server.URL, nil)
	if err := ch.Send(context.Background(), ApprovalEnvelope{}); err == nil {
		t.Error("expected error on 500 response")
	}
}

func TestSlackChannelSendsTextPayload(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := NewSlackChannel(server.URL)
	if ch.Type() != ChannelSlack {
		t.Errorf("expected Type() = slack, got %q", ch.Type())
	}
	err := ch.Send(context.Background(), ApprovalEnvelope{Title: "Hi", Message: "body text", ApprovalID: "a1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := body["text"]; !ok {
		t.Error("expected slack payload to have a text field")
	}
}

func TestTeamsChannelSendsMessageCard(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := NewTeamsChannel(server.URL)
	if err := ch.Send(context.Background(), ApprovalEnvelope{Title: "Hi", Message: "body"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["@type"] != "MessageCard" {
		t.Errorf("expected MessageCard type, got %v", body["@type"])
	}
}
