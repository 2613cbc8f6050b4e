package executor

import (
	"context"
	"fmt"
)

// StubSession reports a deterministic outcome by agent name, for tests: any
// agent name listed in FailAgents fails, everything else succeeds.
type StubSession struct {
	FailAgents map[string]bool
	Calls      []string
}

// NewStubSession returns a StubSession failing exactly the named agents.
func NewStubSession(failAgents ...string) *StubSession {
	s := &StubSession{FailAgents: map[string]bool{}}
	for _, a := range failAgents {
		s.FailAgents[a] = true
	}
	return s
}

func (s *StubSession) SpawnSession(_ context.Context, tc TaskContext, _ SpawnOptions) (SpawnResult, error) {
	agent := tc.Task.Routing.Agent
	s.Calls = append(s.Calls, agent)
	if s.FailAgents[agent] {
		return SpawnResult{Started: false, Error: fmt.Sprintf("agent %s unavailable", agent)}, nil
	}
	return SpawnResult{Started: true}, nil
}
