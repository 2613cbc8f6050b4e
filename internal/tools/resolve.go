package tools

import (
	"errors"
	"fmt"

	"github.com/d0labs/aof/internal/taskstore"
)

// ErrInvalidInput is returned when a caller-supplied id prefix matches more
// than one task. A prefix that matches nothing returns taskstore.ErrNotFound.
var ErrInvalidInput = errors.New("tools: invalid input")

// maxCandidates bounds how many ambiguous matches InvalidInput lists.
const maxCandidates = 10

// resolve looks up idOrPrefix: an exact id first, falling back to a unique
// prefix scan. An ambiguous prefix returns ErrInvalidInput naming up to
// maxCandidates matches rather than guessing which one the caller meant.
func (t *Tools) resolve(idOrPrefix string) (*taskstore.Task, error) {
	if task, err := t.store.Get(idOrPrefix); err == nil {
		return task, nil
	}

	tasks, err := t.store.List(taskstore.ListFilter{})
	if err != nil {
		return nil, err
	}
	var matches []*taskstore.Task
	for _, task := range tasks {
		if hasPrefix(task.ID, idOrPrefix) {
			matches = append(matches, task)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: no task matches %q", taskstore.ErrNotFound, idOrPrefix)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, 0, maxCandidates)
		for i, task := range matches {
			if i >= maxCandidates {
				break
			}
			ids = append(ids, task.ID)
		}
		return nil, fmt.Errorf("%w: %q matches %d tasks: %v", ErrInvalidInput, idOrPrefix, len(matches), ids)
	}
}

func hasPrefix(id, prefix string) bool {
	return len(id) >= len(prefix) && id[:len(prefix)] == prefix
}
