package taskstore

import "errors"

var (
	// ErrNotFound is returned when a task id or prefix resolves to nothing.
	ErrNotFound = errors.New("taskstore: task not found")

	// ErrAmbiguousPrefix is returned when getByPrefix matches more than one task.
	ErrAmbiguousPrefix = errors.New("taskstore: ambiguous id prefix")

	// ErrInvalidTransition is returned when a transition is not a legal edge.
	ErrInvalidTransition = errors.New("taskstore: invalid transition")

	// ErrTerminalTask is returned when editing a task in a terminal status.
	ErrTerminalTask = errors.New("taskstore: task is in a terminal status")

	// ErrCycle is returned when adding a dependency would create a cycle.
	ErrCycle = errors.New("taskstore: dependency cycle")

	// ErrValidation is returned by Validate for a malformed task.
	ErrValidation = errors.New("taskstore: validation failed")

	// ErrLeaseHeld is returned when acquiring a lease held by another agent.
	ErrLeaseHeld = errors.New("taskstore: lease held by another agent")
)
