package queue

import "errors"

// errNoHandler is stored as the task's ErrorMessage when nothing is registered for its name.
const errNoHandler = "no handler registered"

var (
	// ErrEmptyTaskName is returned when a task is created without a handler name.
	ErrEmptyTaskName = errors.New("task name cannot be empty")

	// ErrEmptyQueueName is returned when a task is created without a queue.
	ErrEmptyQueueName = errors.New("queue name cannot be empty")

	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrShutdownTimeout is returned by StopProcessing when loops outlive the grace period.
	ErrShutdownTimeout = errors.New("workers did not stop within the grace period")

	// ErrNegativeDelay is returned by Schedule for delays below zero.
	ErrNegativeDelay = errors.New("delay cannot be negative")
)
