package taskstore

import "fmt"

// checkNoCycle reports whether adding an edge from taskID to each of
// newDeps would keep dependsOn acyclic, given lookup to resolve an
// arbitrary task's current dependsOn list. Returns ErrCycle if a cycle
// would be introduced (including the trivial self-dependency case).
func checkNoCycle(taskID string, newDeps []string, lookup func(id string) []string) error {
	for _, dep := range newDeps {
		if dep == taskID {
			return fmt.Errorf("%w: %s depends on itself", ErrCycle, taskID)
		}
	}

	visited := map[string]bool{}
	var visit func(id string) bool
	visit = func(id string) bool {
		if id == taskID {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		for _, dep := range lookup(id) {
			if visit(dep) {
				return true
			}
		}
		return false
	}

	for _, dep := range newDeps {
		if visit(dep) {
			return fmt.Errorf("%w: adding dependency on %s would cycle back to %s", ErrCycle, dep, taskID)
		}
	}
	return nil
}
