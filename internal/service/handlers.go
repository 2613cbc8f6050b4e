package service

import (
	"fmt"

	"github.com/d0labs/aof/internal/protocol"
)

// HandleMessageReceived routes env through its project's protocol router and
// triggers an immediate poll. Unknown projects are rejected without a poke.
func (h *Host) HandleMessageReceived(env protocol.Envelope) (protocol.Result, error) {
	router, ok := h.Project(env.ProjectID)
	if !ok {
		return protocol.Result{}, fmt.Errorf("service: unknown project %q", env.ProjectID)
	}
	result, err := router.Handle(env)
	if err != nil {
		return result, err
	}
	h.PokeNow()
	return result, nil
}

// HandleSessionEnd reconciles every in-progress task leased by agent within
// projectID via the protocol router's session_end handling, then pokes.
func (h *Host) HandleSessionEnd(projectID, agent string) (protocol.Result, error) {
	return h.HandleMessageReceived(protocol.Envelope{
		Protocol:  "aof",
		Version:   1,
		ProjectID: projectID,
		Type:      protocol.MessageSessionEnd,
		FromAgent: agent,
	})
}

// HandleAgentEnd treats a dead agent process as a session_end across every
// project it participates in — an agent process is shared, unlike a
// session, which the protocol router scopes to one project.
func (h *Host) HandleAgentEnd(agent string) {
	for _, p := range h.allProjects() {
		if _, err := p.router.Handle(protocol.Envelope{
			Protocol:  "aof",
			Version:   1,
			ProjectID: p.id,
			Type:      protocol.MessageSessionEnd,
			FromAgent: agent,
		}); err != nil {
			h.logger.Warn("service: session_end reconciliation failed for agent %s in project %s: %v", agent, p.id, err)
		}
	}
	h.PokeNow()
}
