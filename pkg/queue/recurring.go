package queue

import (
	"context"
	"maps"

	"github.com/guido-cesarano/taskqueue/pkg/logger"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// cronParser accepts the standard five fields, an optional leading seconds field
// and descriptors such as @hourly or @every 30s.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// cronLogger routes the cron scheduler's own logging through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

func newCron() *cron.Cron {
	l := cronLogger{log: logger.GetLogger().With().Str("component", "cron").Logger()}
	return cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l)),
	)
}

// ScheduleRecurring enqueues a new task every time spec fires. Entries only fire
// while processing is started.
func (e *Engine) ScheduleRecurring(spec, name, queue string, payload map[string]any, opts ...TaskOption) (cron.EntryID, error) {
	if name == "" {
		return 0, ErrEmptyTaskName
	}
	if queue == "" {
		return 0, ErrEmptyQueueName
	}

	id, err := e.cron.AddFunc(spec, func() {
		task, err := e.Enqueue(context.Background(), name, queue, maps.Clone(payload), opts...)
		if err != nil {
			logger.Log.Error().Err(err).Str("task_name", name).Str("spec", spec).Msg("Failed to enqueue recurring task")
			return
		}
		logger.Log.Debug().Str("task_id", task.ID).Str("spec", spec).Msg("Recurring task enqueued")
	})
	if err != nil {
		return 0, err
	}

	logger.Log.Info().Str("task_name", name).Str("queue", queue).Str("spec", spec).Msg("Recurring task registered")
	return id, nil
}

// RemoveRecurring stops a recurring entry. Unknown ids are ignored.
func (e *Engine) RemoveRecurring(id cron.EntryID) {
	e.cron.Remove(id)
}

// RecurringEntries lists the registered recurring entries.
func (e *Engine) RecurringEntries() []cron.Entry {
	return e.cron.Entries()
}
