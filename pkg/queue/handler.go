package queue

import (
	"context"

	"github.com/guido-cesarano/taskqueue/pkg/tasks"
)

// Handler processes one task. A returned error (or a panic) counts as a failure and
// drives the retry policy. Handlers must not change the task's lifecycle fields.
type Handler interface {
	Handle(ctx context.Context, task *tasks.Task) error
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, task *tasks.Task) error

func (f HandlerFunc) Handle(ctx context.Context, task *tasks.Task) error {
	return f(ctx, task)
}
