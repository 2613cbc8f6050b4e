package gate

import "time"

// GateDef is one stage of a workflow, loaded from a project's workflow
// manifest (see internal/project).
type GateDef struct {
	ID           string        `yaml:"id" json:"id"`
	Role         string        `yaml:"role" json:"role"`
	CanReject    bool          `yaml:"canReject,omitempty" json:"canReject,omitempty"`
	When         string        `yaml:"when,omitempty" json:"when,omitempty"`
	RequireHuman bool          `yaml:"requireHuman,omitempty" json:"requireHuman,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	EscalateTo   string        `yaml:"escalateTo,omitempty" json:"escalateTo,omitempty"`
}

// Workflow is an ordered sequence of gates a task passes through.
type Workflow struct {
	Name  string    `yaml:"name" json:"name"`
	Gates []GateDef `yaml:"gates" json:"gates"`
}

// Gate returns the gate with the given id, its index, and whether it was found.
func (w *Workflow) Gate(id string) (*GateDef, int, bool) {
	for i := range w.Gates {
		if w.Gates[i].ID == id {
			return &w.Gates[i], i, true
		}
	}
	return nil, -1, false
}

// Lookup resolves a workflow by name, e.g. from a project's loaded manifest.
type Lookup func(name string) (*Workflow, error)
