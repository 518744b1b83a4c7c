package tasks

import (
	"errors"
	"fmt"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusScheduled    Status = "SCHEDULED"
	StatusRunning      Status = "RUNNING"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusCancelled    Status = "CANCELLED"
	StatusRetryPending Status = "RETRY_PENDING"
)

// ErrInvalidTransition is returned when a status change is not allowed by the state machine.
var ErrInvalidTransition = errors.New("invalid task status transition")

// TransitionError describes a rejected status change. It matches ErrInvalidTransition with errors.Is.
type TransitionError struct {
	TaskID string
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot move from %s to %s", e.TaskID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// transitions lists the allowed moves out of each state.
// Pending may go straight to Failed when no handler is registered for the task.
var transitions = map[Status][]Status{
	StatusPending:      {StatusRunning, StatusCancelled, StatusFailed},
	StatusScheduled:    {StatusPending, StatusCancelled},
	StatusRetryPending: {StatusPending, StatusCancelled},
	StatusRunning:      {StatusCompleted, StatusRetryPending, StatusFailed},
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusRunning, StatusCompleted,
		StatusFailed, StatusCancelled, StatusRetryPending:
		return true
	}
	return false
}

// IsTerminal returns true if no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether moving from s to the given status is allowed.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Delayed reports whether a task in this state belongs in the delayed set.
func (s Status) Delayed() bool {
	return s == StatusScheduled || s == StatusRetryPending
}
