package scheduler

import (
	"fmt"

	"github.com/d0labs/aof/internal/orgchart"
	"github.com/d0labs/aof/internal/taskstore"
)

// teamCounters is the per-team murmur bookkeeping the spec describes as
// living behind the store's afterTransition hook. Kept in-memory here since
// it only needs to survive for the lifetime of one scheduler process — a
// restart re-derives "since last review" from an empty baseline, which is
// conservative (it may under-fire once, never over-fire).
type teamCounters struct {
	completionsSinceReview int
	failuresSinceReview    int
	currentReviewTaskID    string
	seenDone               map[string]bool
	seenDeadletter         map[string]bool
	baselined              bool // false until the first tally has recorded pre-existing tasks
}

func newTeamCounters() *teamCounters {
	return &teamCounters{seenDone: map[string]bool{}, seenDeadletter: map[string]bool{}}
}

func (s *Scheduler) counters(team string) *teamCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.teamState == nil {
		s.teamState = map[string]*teamCounters{}
	}
	tc, ok := s.teamState[team]
	if !ok {
		tc = newTeamCounters()
		s.teamState[team] = tc
	}
	return tc
}

// evaluateMurmur implements step 7: per team with declared triggers, check
// whether a review is already in flight, tally completions/failures since
// the last one, and — if a trigger fires and the concurrency budget allows
// — spin up a high-priority orchestration_review task for the orchestrator.
func (s *Scheduler) evaluateMurmur(result *PollResult) error {
	for name, team := range s.org.Teams {
		if len(team.Triggers) == 0 {
			continue
		}
		tc := s.counters(name)

		if tc.currentReviewTaskID != "" {
			task, err := s.store.Get(tc.currentReviewTaskID)
			if err == nil && task.Status == taskstore.StatusDone {
				tc.currentReviewTaskID = ""
				tc.completionsSinceReview = 0
				tc.failuresSinceReview = 0
			} else {
				continue // a review is already in flight for this team
			}
		}

		if err := s.tallyTeamActivity(team, tc); err != nil {
			return err
		}

		readyForTeam, err := s.readyCountForTeam(team)
		if err != nil {
			return err
		}

		fired, reason := fireReason(team, tc, readyForTeam)
		if !fired {
			continue
		}

		inProgress, err := s.store.List(taskstore.ListFilter{Status: taskstore.StatusInProgress})
		if err != nil {
			return err
		}
		if len(inProgress) >= s.cfg.MaxConcurrentDispatches {
			result.add(Action{Type: "action.skipped", Agent: team.Orchestrator, Reason: "murmur_no_budget", Detail: map[string]any{"team": name}})
			continue
		}

		task, err := s.store.Create(taskstore.CreateOptions{
			Title:    fmt.Sprintf("orchestration_review: %s", name),
			Priority: taskstore.PriorityHigh,
			Routing:  taskstore.Routing{Agent: team.Orchestrator, Team: name},
			Metadata: map[string]any{taskstore.MetaKind: "orchestration_review"},
		})
		if err != nil {
			return err
		}
		if _, err := s.store.Transition(task.ID, taskstore.StatusReady, taskstore.TransitionOptions{Reason: reason}); err != nil {
			return err
		}
		tc.currentReviewTaskID = task.ID
		s.emit("murmur.triggered", team.Orchestrator, task.ID, map[string]any{"team": name, "reason": reason})
		result.add(Action{Type: "action.murmur_triggered", TaskID: task.ID, Agent: team.Orchestrator, Reason: reason, Detail: map[string]any{"team": name}})
	}
	return nil
}

func (s *Scheduler) tallyTeamActivity(team orgchart.Team, tc *teamCounters) error {
	members := map[string]bool{}
	for _, p := range team.Participants {
		members[p] = true
	}
	counting := tc.baselined

	done, err := s.store.List(taskstore.ListFilter{Status: taskstore.StatusDone})
	if err != nil {
		return err
	}
	for _, t := range done {
		if members[t.Routing.Agent] && !tc.seenDone[t.ID] {
			tc.seenDone[t.ID] = true
			if counting {
				tc.completionsSinceReview++
			}
		}
	}

	dead, err := s.store.List(taskstore.ListFilter{Status: taskstore.StatusDeadletter})
	if err != nil {
		return err
	}
	for _, t := range dead {
		if members[t.Routing.Agent] && !tc.seenDeadletter[t.ID] {
			tc.seenDeadletter[t.ID] = true
			if counting {
				tc.failuresSinceReview++
			}
		}
	}
	tc.baselined = true
	return nil
}

func (s *Scheduler) readyCountForTeam(team orgchart.Team) (int, error) {
	members := map[string]bool{}
	for _, p := range team.Participants {
		members[p] = true
	}
	ready, err := s.store.List(taskstore.ListFilter{Status: taskstore.StatusReady})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, t := range ready {
		if members[t.Routing.Agent] {
			count++
		}
	}
	return count, nil
}

func fireReason(team orgchart.Team, tc *teamCounters, readyForTeam int) (bool, string) {
	for _, trig := range team.Triggers {
		if trig.QueueEmpty && readyForTeam == 0 {
			return true, "queue_empty"
		}
		if trig.CompletionBatch > 0 && tc.completionsSinceReview >= trig.CompletionBatch {
			return true, "completion_batch"
		}
		if trig.FailureBatch > 0 && tc.failuresSinceReview >= trig.FailureBatch {
			return true, "failure_batch"
		}
	}
	return false, ""
}
