package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestLoadWorkflowFileDecodesStepsAndMetadata(t *testing.T) {
	path := writeTempFile(t, "workflow.yaml", `
metadata:
  name: onboarding
  description: sample run
spec:
  steps:
    - id: s1
      type: action
      plugin: http
      action: get
      dependsOn: []
    - id: s2
      type: delay
      delayMs: 10
`)

	wf, err := LoadWorkflowFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wf.Metadata.Name != "onboarding" {
		t.Errorf("expected metadata.name decoded, got %q", wf.Metadata.Name)
	}
	if len(wf.Spec.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(wf.Spec.Steps))
	}
	if wf.Spec.Steps[0].Plugin != "http" || wf.Spec.Steps[0].Action != "get" {
		t.Errorf("expected s1's plugin/action decoded, got %+v", wf.Spec.Steps[0])
	}
	if wf.Spec.Steps[1].DelayMs != 10 {
		t.Errorf("expected s2's delayMs decoded, got %d", wf.Spec.Steps[1].DelayMs)
	}
}

func TestLoadWorkflowFileRejectsMissingName(t *testing.T) {
	path := writeTempFile(t, "workflow.yaml", `
spec:
  steps:
    - id: s1
      type: delay
`)
	if _, err := LoadWorkflowFile(path); err == nil {
		t.Fatal("expected an error for a workflow missing metadata.name")
	}
}

func TestLoadWorkflowFileRejectsEmptySteps(t *testing.T) {
	path := writeTempFile(t, "workflow.yaml", `
metadata:
  name: empty
spec:
  steps: []
`)
	if _, err := LoadWorkflowFile(path); err == nil {
		t.Fatal("expected an error for a workflow with no steps")
	}
}

func TestLoadInputFileReturnsEmptyMapForBlankPath(t *testing.T) {
	values, err := LoadInputFile("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("expected an empty map, got %v", values)
	}
}

func TestLoadInputFileDecodesJSON(t *testing.T) {
	path := writeTempFile(t, "input.json", `{"plan": "enterprise", "seats": 10}`)

	values, err := LoadInputFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if values["plan"] != "enterprise" {
		t.Errorf("expected plan decoded, got %v", values["plan"])
	}
	if values["seats"] != 10 {
		t.Errorf("expected seats decoded as an int, got %v (%T)", values["seats"], values["seats"])
	}
}
