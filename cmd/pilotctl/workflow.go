package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AgentsPilot/neuronforge-sub010/internal/engine"
)

// WorkflowFile is the on-disk shape a workflow definition is loaded from:
// a metadata block plus the ordered step list, mirroring the
// {metadata, spec.steps} envelope orchestrator/run.go's executeWorkflowHandler
// decodes, adapted from JSON-over-HTTP to a YAML (or JSON, which is valid
// YAML) file on disk.
type WorkflowFile struct {
	Metadata struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"metadata"`
	Spec struct {
		Steps []engine.Step `yaml:"steps"`
	} `yaml:"spec"`
}

// LoadWorkflowFile reads and decodes a workflow definition from path.
func LoadWorkflowFile(path string) (*WorkflowFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow file: %w", err)
	}
	var wf WorkflowFile
	if err := yaml.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("parsing workflow file: %w", err)
	}
	if wf.Metadata.Name == "" {
		return nil, fmt.Errorf("workflow metadata.name is required")
	}
	if len(wf.Spec.Steps) == 0 {
		return nil, fmt.Errorf("workflow must declare at least one step")
	}
	return &wf, nil
}

// LoadInputFile reads a JSON (or YAML) file of input values for a run, or
// returns an empty map when path is empty.
func LoadInputFile(path string) (map[string]interface{}, error) {
	if path == "" {
		return map[string]interface{}{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading input file: %w", err)
	}
	var values map[string]interface{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parsing input file: %w", err)
	}
	if values == nil {
		values = map[string]interface{}{}
	}
	return values, nil
}
