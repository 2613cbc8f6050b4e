// Package orgchart loads the roles/teams manifest the gate engine and
// scheduler's murmur evaluation consume. Thin YAML bindings only — no
// defaulting magic, no codegen.
package orgchart

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Chart is the root org chart manifest, org-chart.yaml.
type Chart struct {
	Roles map[string]Role `yaml:"roles"`
	Teams map[string]Team `yaml:"teams"`
}

// Role describes one named role a task's routing.role may reference.
type Role struct {
	Description string   `yaml:"description,omitempty"`
	CanReject   bool     `yaml:"canReject,omitempty"`
	Members     []string `yaml:"members,omitempty"`
}

// Trigger declares when a team's murmur (orchestration-review) fires.
type Trigger struct {
	QueueEmpty      bool `yaml:"queueEmpty,omitempty"`
	CompletionBatch int  `yaml:"completionBatch,omitempty"`
	FailureBatch    int  `yaml:"failureBatch,omitempty"`
}

// Team groups participants under an orchestrator with murmur triggers.
type Team struct {
	Orchestrator string    `yaml:"orchestrator"`
	Participants []string  `yaml:"participants,omitempty"`
	Triggers     []Trigger `yaml:"triggers,omitempty"`
}

// Load parses a Chart from path.
func Load(path string) (*Chart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("orgchart: read %s: %w", path, err)
	}
	var chart Chart
	if err := yaml.Unmarshal(data, &chart); err != nil {
		return nil, fmt.Errorf("orgchart: parse %s: %w", path, err)
	}
	return &chart, nil
}

// TeamFor returns the team owning agent, if any, by scanning participants.
func (c *Chart) TeamFor(agent string) (string, Team, bool) {
	for name, team := range c.Teams {
		for _, p := range team.Participants {
			if p == agent {
				return name, team, true
			}
		}
	}
	return "", Team{}, false
}
