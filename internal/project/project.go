// Package project loads a single project's manifest (project.yaml):
// participants for multi-project dispatch gating, and the gate workflow
// definitions its tasks can reference.
package project

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/d0labs/aof/internal/gate"
)

// ExecutorConfig describes how to launch an external agent session, per
// internal/executor's stdoutSession.
type ExecutorConfig struct {
	Command []string `yaml:"command,omitempty"`
}

// Manifest is project.yaml: the project's id, participant agents, and the
// gate workflows its tasks may declare.
type Manifest struct {
	ID           string          `yaml:"id"`
	Name         string          `yaml:"name,omitempty"`
	Participants []string        `yaml:"participants,omitempty"`
	Workflows    []gate.Workflow `yaml:"workflows,omitempty"`
	Executor     ExecutorConfig  `yaml:"executor,omitempty"`
}

// Load parses a Manifest from path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("project: read %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("project: parse %s: %w", path, err)
	}
	return &m, nil
}

// IsParticipant reports whether agent is listed as a participant. An empty
// Participants list means unrestricted (single-project / dev mode).
func (m *Manifest) IsParticipant(agent string) bool {
	if len(m.Participants) == 0 {
		return true
	}
	for _, p := range m.Participants {
		if p == agent {
			return true
		}
	}
	return false
}

// WorkflowLookup returns a gate.Lookup resolving names against this
// manifest's declared workflows.
func (m *Manifest) WorkflowLookup() gate.Lookup {
	byName := make(map[string]*gate.Workflow, len(m.Workflows))
	for i := range m.Workflows {
		byName[m.Workflows[i].Name] = &m.Workflows[i]
	}
	return func(name string) (*gate.Workflow, error) {
		wf, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("project: unknown workflow %q", name)
		}
		return wf, nil
	}
}
