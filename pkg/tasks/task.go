// Package tasks defines the core data structures for task representation in the task queue.
// Tasks are units of work that are enqueued, dispatched to handlers by workers, and retried on failure.
package tasks

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxRetries is the retry budget assigned to new tasks.
	DefaultMaxRetries = 3

	// MaxRetriesLimit caps any retry budget. The longest backoff is 2^30 seconds (about 34 years).
	MaxRetriesLimit = 30
)

// Task represents a unit of work to be processed by the task queue engine.
// Each task carries the metadata needed for routing, ordering and retry logic.
//
// The Name field selects the handler, the Queue field selects the worker loop and
// the priority-ordered set the task lives in. Timestamps are set by the engine at
// the corresponding lifecycle point and are never touched by handlers.
type Task struct {
	// ID is a unique identifier for the task (UUID). It never changes once assigned.
	ID string `json:"id"`

	// Name is the logical handler key (e.g., "email.send").
	Name string `json:"name"`

	// Queue is the logical queue the task is served from (e.g., "emails").
	Queue string `json:"queue"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Priority determines the processing order within a queue.
	// Lower values are processed first.
	Priority int `json:"priority"`

	// RetryCount tracks how many times this task has been retried after failures.
	RetryCount int `json:"retry_count"`

	// MaxRetries bounds RetryCount. A failure with RetryCount == MaxRetries is terminal.
	MaxRetries int `json:"max_retries"`

	// Payload contains the job-specific data. It is opaque to the engine.
	Payload map[string]any `json:"payload,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ErrorMessage holds the detail of the last failure. A later success does not clear it.
	ErrorMessage string `json:"error_message,omitempty"`
}

// New creates a pending task with a fresh ID and the default retry budget.
func New(name, queue string, payload map[string]any, now time.Time) *Task {
	return &Task{
		ID:         uuid.New().String(),
		Name:       name,
		Queue:      queue,
		Status:     StatusPending,
		MaxRetries: DefaultMaxRetries,
		Payload:    payload,
		CreatedAt:  now,
	}
}

// CanRetry reports whether the retry budget allows another attempt.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// Transition moves the task to the given status, enforcing the state machine.
func (t *Task) Transition(to Status) error {
	if !t.Status.CanTransition(to) {
		return &TransitionError{TaskID: t.ID, From: t.Status, To: to}
	}
	t.Status = to
	return nil
}

// Clone returns a deep copy of the task. The payload map is copied one level deep.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Payload != nil {
		c.Payload = maps.Clone(t.Payload)
	}
	c.ScheduledAt = cloneTime(t.ScheduledAt)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}

// Backoff returns the delay before the k-th retry: exactly 2^k seconds.
// k is clamped to [0, MaxRetriesLimit].
func Backoff(retry int) time.Duration {
	retry = min(max(retry, 0), MaxRetriesLimit)
	return time.Duration(1<<retry) * time.Second
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
