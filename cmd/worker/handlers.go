package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guido-cesarano/taskqueue/pkg/logger"
	"github.com/guido-cesarano/taskqueue/pkg/queue"
	"github.com/guido-cesarano/taskqueue/pkg/tasks"
)

// errMissingField is returned by the demo handlers when the payload lacks a required key.
// The engine treats it like any other failure and retries the task.
var errMissingField = errors.New("missing payload field")

// handlerSpec describes one built-in handler and how long it pretends to work.
type handlerSpec struct {
	name   string
	work   time.Duration
	fields []string
	run    func(task *tasks.Task)
}

// demoHandlers are the handlers served by this worker.
var demoHandlers = []handlerSpec{
	{
		name:   "email.send",
		work:   100 * time.Millisecond,
		fields: []string{"to", "subject"},
		run: func(task *tasks.Task) {
			logger.Log.Info().
				Str("task_id", task.ID).
				Any("to", task.Payload["to"]).
				Any("subject", task.Payload["subject"]).
				Msg("Sending email...")
		},
	},
	{
		name:   "report.generate",
		work:   500 * time.Millisecond,
		fields: []string{"reportType", "userId"},
		run: func(task *tasks.Task) {
			logger.Log.Info().
				Str("task_id", task.ID).
				Any("report_type", task.Payload["reportType"]).
				Any("user_id", task.Payload["userId"]).
				Msg("Generating report...")
		},
	},
	{
		name:   "notification.push",
		work:   50 * time.Millisecond,
		fields: []string{"userId", "message"},
		run: func(task *tasks.Task) {
			logger.Log.Info().
				Str("task_id", task.ID).
				Any("user_id", task.Payload["userId"]).
				Any("message", task.Payload["message"]).
				Msg("Pushing notification...")
		},
	},
}

// handler turns a spec into a queue.Handler that checks the payload, logs and simulates work.
func (s handlerSpec) handler() queue.Handler {
	return queue.HandlerFunc(func(ctx context.Context, task *tasks.Task) error {
		for _, field := range s.fields {
			if _, ok := task.Payload[field]; !ok {
				return fmt.Errorf("%w: %s", errMissingField, field)
			}
		}
		s.run(task)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.work):
		}
		return nil
	})
}

// registerHandlers registers every demo handler, wrapped with latency instrumentation.
func registerHandlers(engine *queue.Engine, m *workerMetrics) error {
	for _, spec := range demoHandlers {
		if err := engine.RegisterHandler(spec.name, m.instrument(spec.name, spec.handler())); err != nil {
			return fmt.Errorf("register %s: %w", spec.name, err)
		}
	}
	return nil
}
