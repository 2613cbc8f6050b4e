package taskstore

import (
	"fmt"
	"strings"
)

// idPrefix is the shape every task id and dependsOn reference must start
// with: TASK-YYYY-MM-DD-NNN, allocated by nextID.
const idPrefix = "TASK-"

// Validate checks the structural invariants every task must satisfy before
// it is written to disk: non-empty id/project/title, priority and status
// drawn from their enums, well-formed dependsOn references, and a gate
// reference that names one of its own workflow's gates when present.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if t.Project == "" {
		return fmt.Errorf("%w: %s: project is required", ErrValidation, t.ID)
	}
	if t.Title == "" {
		return fmt.Errorf("%w: %s: title is required", ErrValidation, t.ID)
	}
	if _, ok := priorityRank[t.Priority]; !ok {
		return fmt.Errorf("%w: %s: invalid priority %q", ErrValidation, t.ID, t.Priority)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("%w: %s: invalid status %q", ErrValidation, t.ID, t.Status)
	}
	for _, dep := range t.DependsOn {
		if !strings.HasPrefix(dep, idPrefix) {
			return fmt.Errorf("%w: %s: dependsOn entry %q is not a task id", ErrValidation, t.ID, dep)
		}
	}
	if t.Gate != nil {
		if t.Gate.Current == "" {
			return fmt.Errorf("%w: %s: gate.current is required when gate is set", ErrValidation, t.ID)
		}
		if len(t.Gate.Gates) > 0 && !containsString(t.Gate.Gates, t.Gate.Current) {
			return fmt.Errorf("%w: %s: gate.current %q is not one of gate.gates", ErrValidation, t.ID, t.Gate.Current)
		}
	}
	return nil
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
