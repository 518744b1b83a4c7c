package queue

import (
	"time"

	"github.com/guido-cesarano/taskqueue/pkg/tasks"
)

const (
	defaultPollInterval    = 100 * time.Millisecond
	defaultPromoteInterval = time.Second
	defaultShutdownGrace   = 30 * time.Second
)

type engineOptions struct {
	pollInterval    time.Duration
	promoteInterval time.Duration
	shutdownGrace   time.Duration
	maxRetries      int
	now             func() time.Time
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithPollInterval sets how long an idle worker waits before polling its queue again.
func WithPollInterval(d time.Duration) Option {
	return func(o *engineOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithPromoteInterval sets how often due delayed tasks are moved back to their queue.
func WithPromoteInterval(d time.Duration) Option {
	return func(o *engineOptions) {
		if d > 0 {
			o.promoteInterval = d
		}
	}
}

// WithShutdownGrace bounds how long StopProcessing waits for loops to exit.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *engineOptions) {
		if d > 0 {
			o.shutdownGrace = d
		}
	}
}

// WithMaxRetries sets the default retry budget of tasks created by the engine.
// Negative values are ignored and values above tasks.MaxRetriesLimit are clamped.
func WithMaxRetries(n int) Option {
	return func(o *engineOptions) {
		if n >= 0 {
			o.maxRetries = min(n, tasks.MaxRetriesLimit)
		}
	}
}

// WithClock replaces the engine's time source. Mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// TaskOption customizes a task at creation time.
type TaskOption func(*tasks.Task)

// WithPriority sets the task priority. Lower values are served first.
func WithPriority(p int) TaskOption {
	return func(t *tasks.Task) { t.Priority = p }
}

// WithTaskMaxRetries overrides the engine default retry budget for one task,
// with the same bounds as WithMaxRetries.
func WithTaskMaxRetries(n int) TaskOption {
	return func(t *tasks.Task) {
		if n >= 0 {
			t.MaxRetries = min(n, tasks.MaxRetriesLimit)
		}
	}
}
