// Package queue implements the task queue engine on top of a durable task store.
// It supports reliable task processing with features including:
//   - One worker loop per queue, popping tasks in priority order (lowest value first)
//   - Exponential backoff retries (2^retry seconds) bounded by each task's MaxRetries
//   - Delayed scheduling, with a promoter loop moving due tasks back to their queue
//   - Recurring tasks driven by cron expressions
//   - Per-queue metrics
//
// The Engine type is the main entry point for producers and operators.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/guido-cesarano/taskqueue/pkg/logger"
	"github.com/guido-cesarano/taskqueue/pkg/metrics"
	"github.com/guido-cesarano/taskqueue/pkg/tasks"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Store is the persistence the engine relies on. *store.TaskStore implements it.
type Store interface {
	Save(ctx context.Context, task *tasks.Task) error
	FindByID(ctx context.Context, id string) (*tasks.Task, bool)
	FindByQueue(ctx context.Context, queue string) []*tasks.Task
	FindByStatus(ctx context.Context, status tasks.Status) []*tasks.Task
	PopNext(ctx context.Context, queue string) (*tasks.Task, error)
	ScheduleDelayed(ctx context.Context, task *tasks.Task, delay time.Duration) error
	DueDelayed(ctx context.Context, now time.Time) ([]*tasks.Task, error)
	RequeueDelayed(ctx context.Context, task *tasks.Task) error
	// Update applies fn to the stored record and writes it only if nobody changed it meanwhile.
	Update(ctx context.Context, id string, fn func(*tasks.Task) error) (*tasks.Task, error)
	Delete(ctx context.Context, id string) error
	CountByQueue(ctx context.Context, queue string) int64
}

// Engine dispatches stored tasks to registered handlers.
//
// Lifecycle:
//   - Producers call Enqueue or Schedule at any time.
//   - StartProcessing launches one worker per queue, the promoter and the cron scheduler.
//   - StopProcessing signals every loop and waits up to the shutdown grace period.
//
// Handlers run on a context that is not cancelled by StopProcessing: a task that has
// been picked up always runs to completion.
type Engine struct {
	store    Store
	metrics  *metrics.Registry
	handlers sync.Map // map[string]Handler
	cron     *cron.Cron
	opts     engineOptions

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	queues []string
}

// NewEngine creates an engine. A nil registry gets a fresh one.
func NewEngine(store Store, registry *metrics.Registry, opts ...Option) *Engine {
	options := engineOptions{
		pollInterval:    defaultPollInterval,
		promoteInterval: defaultPromoteInterval,
		shutdownGrace:   defaultShutdownGrace,
		maxRetries:      tasks.DefaultMaxRetries,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&options)
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}

	return &Engine{
		store:   store,
		metrics: registry,
		cron:    newCron(),
		opts:    options,
	}
}

// RegisterHandler associates a task name with a handler, replacing any previous one.
// It is safe to call while workers are running; the change applies to tasks popped afterwards.
func (e *Engine) RegisterHandler(name string, h Handler) error {
	if name == "" {
		return ErrEmptyTaskName
	}
	if h == nil {
		return ErrNilHandler
	}
	e.handlers.Store(name, h)
	logger.Log.Info().Str("task_name", name).Msg("Registered handler")
	return nil
}

// UnregisterHandler removes the handler for a task name. Tasks popped afterwards fail
// with "no handler registered".
func (e *Engine) UnregisterHandler(name string) {
	e.handlers.Delete(name)
}

func (e *Engine) handler(name string) (Handler, bool) {
	h, ok := e.handlers.Load(name)
	if !ok {
		return nil, false
	}
	return h.(Handler), true
}

// Enqueue creates a pending task and stores it in its queue.
func (e *Engine) Enqueue(ctx context.Context, name, queue string, payload map[string]any, opts ...TaskOption) (*tasks.Task, error) {
	task, err := e.newTask(name, queue, payload, opts)
	if err != nil {
		return nil, err
	}

	if err := e.store.Save(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}
	e.metrics.RecordEnqueue(queue)

	logger.Log.Info().
		Str("task_id", task.ID).
		Str("task_name", name).
		Str("queue", queue).
		Int("priority", task.Priority).
		Msg("Task enqueued")
	return task, nil
}

// Schedule creates a task that becomes pending once delay has elapsed.
func (e *Engine) Schedule(ctx context.Context, name, queue string, payload map[string]any, delay time.Duration, opts ...TaskOption) (*tasks.Task, error) {
	if delay < 0 {
		return nil, ErrNegativeDelay
	}
	task, err := e.newTask(name, queue, payload, opts)
	if err != nil {
		return nil, err
	}
	task.Status = tasks.StatusScheduled

	if err := e.store.ScheduleDelayed(ctx, task, delay); err != nil {
		return nil, fmt.Errorf("schedule task: %w", err)
	}

	logger.Log.Info().
		Str("task_id", task.ID).
		Str("task_name", name).
		Str("queue", queue).
		Dur("delay", delay).
		Msg("Task scheduled")
	return task, nil
}

func (e *Engine) newTask(name, queue string, payload map[string]any, opts []TaskOption) (*tasks.Task, error) {
	if name == "" {
		return nil, ErrEmptyTaskName
	}
	if queue == "" {
		return nil, ErrEmptyQueueName
	}
	task := tasks.New(name, queue, payload, e.opts.now())
	task.MaxRetries = e.opts.maxRetries
	for _, opt := range opts {
		opt(task)
	}
	return task, nil
}

// CancelTask marks a task as cancelled so no worker picks it up.
// It returns false when the task does not exist and tasks.ErrInvalidTransition when the
// task is already running or finished. A task already handed to a worker is not interrupted.
func (e *Engine) CancelTask(ctx context.Context, id string) (bool, error) {
	if _, ok := e.store.FindByID(ctx, id); !ok {
		return false, nil
	}
	_, err := e.store.Update(ctx, id, func(task *tasks.Task) error {
		return task.Transition(tasks.StatusCancelled)
	})
	if errors.Is(err, tasks.ErrInvalidTransition) {
		return true, err
	}
	if err != nil {
		return true, fmt.Errorf("cancel task: %w", err)
	}

	logger.Log.Info().Str("task_id", id).Msg("Task cancelled")
	return true, nil
}

// DeleteTask removes a task record and its queue membership.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	return e.store.Delete(ctx, id)
}

// GetTask returns the stored task, or false when it is unknown.
func (e *Engine) GetTask(ctx context.Context, id string) (*tasks.Task, bool) {
	return e.store.FindByID(ctx, id)
}

// GetQueuedTasks returns the tasks waiting in a queue in dispatch order.
func (e *Engine) GetQueuedTasks(ctx context.Context, queue string) []*tasks.Task {
	return e.store.FindByQueue(ctx, queue)
}

// GetTasksByStatus returns every task in the given status. This scans all records.
func (e *Engine) GetTasksByStatus(ctx context.Context, status tasks.Status) []*tasks.Task {
	return e.store.FindByStatus(ctx, status)
}

// GetQueueSize returns the number of tasks waiting in a queue.
func (e *Engine) GetQueueSize(ctx context.Context, queue string) int64 {
	return e.store.CountByQueue(ctx, queue)
}

// Metrics returns the engine's metrics registry.
func (e *Engine) Metrics() *metrics.Registry {
	return e.metrics
}

// Running reports whether StartProcessing is in effect.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

// Queues returns the queues served by the current run, if any.
func (e *Engine) Queues() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.queues)
}

// StartProcessing launches one worker per distinct queue, the promoter and the cron scheduler.
// Calling it again while running is a no-op. It must not race with StopProcessing.
// Cancelling ctx ends processing like StopProcessing does, after which it can be started again.
func (e *Engine) StartProcessing(ctx context.Context, queues ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		logger.Log.Warn().Strs("queues", e.queues).Msg("Processing already started")
		return
	}

	queues = slices.Compact(slices.Sorted(slices.Values(queues)))
	queues = slices.DeleteFunc(queues, func(q string) bool { return q == "" })

	loopCtx, cancel := context.WithCancel(ctx)
	var g errgroup.Group
	for _, queue := range queues {
		g.Go(func() error {
			e.runWorker(loopCtx, queue)
			return nil
		})
	}
	g.Go(func() error {
		e.runPromoter(loopCtx)
		return nil
	})
	e.cron.Start()

	done := make(chan struct{})
	go func() {
		_ = g.Wait()

		// The loops also end when the parent context is cancelled without StopProcessing.
		e.mu.Lock()
		if e.done == done {
			e.cancel, e.done, e.queues = nil, nil, nil
			cancel()
			e.cron.Stop()
			logger.Log.Info().Msg("Processing ended with its parent context")
		}
		e.mu.Unlock()
		close(done)
	}()

	e.cancel = cancel
	e.done = done
	e.queues = queues

	logger.Log.Info().Strs("queues", queues).Msg("Started processing queues")
}

// StopProcessing signals every loop to exit after its current iteration and waits up to the
// shutdown grace period. Tasks in flight are never interrupted; if they outlive the grace
// period ErrShutdownTimeout is returned and they finish in the background.
func (e *Engine) StopProcessing() error {
	e.mu.Lock()
	if e.cancel == nil {
		e.mu.Unlock()
		return nil
	}
	cancel, done := e.cancel, e.done
	e.cancel, e.done, e.queues = nil, nil, nil
	e.mu.Unlock()

	cancel()
	cronDone := e.cron.Stop().Done()

	deadline := time.NewTimer(e.opts.shutdownGrace)
	defer deadline.Stop()

	for _, ch := range []<-chan struct{}{done, cronDone} {
		select {
		case <-ch:
		case <-deadline.C:
			logger.Log.Error().Dur("grace", e.opts.shutdownGrace).Msg("Shutdown grace period exceeded")
			return ErrShutdownTimeout
		}
	}

	logger.Log.Info().Msg("Stopped processing")
	return nil
}

// runWorker polls one queue until ctx is cancelled. Store calls and handlers run on a
// context detached from ctx so a stop signal never cuts an iteration in half.
func (e *Engine) runWorker(ctx context.Context, queue string) {
	log := logger.Log.With().Str("queue", queue).Logger()
	log.Info().Msg("Worker started")
	defer log.Info().Msg("Worker stopped")

	opCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, err := e.ProcessNext(opCtx, queue)
		if err != nil {
			log.Error().Err(err).Msg("Worker iteration failed")
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.opts.pollInterval):
		}
	}
}

// ProcessNext pops the next task of the queue and dispatches it.
// It reports whether a task was popped.
func (e *Engine) ProcessNext(ctx context.Context, queue string) (bool, error) {
	task, err := e.store.PopNext(ctx, queue)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	if task.Status != tasks.StatusPending {
		logger.Log.Warn().
			Str("task_id", task.ID).
			Str("status", string(task.Status)).
			Msg("Skipping popped task that is no longer pending")
		return true, nil
	}
	return true, e.dispatch(ctx, task)
}

// dispatch runs one task through its handler and records the outcome.
//
// Flow:
//  1. No handler: FAILED with "no handler registered", no retry.
//  2. RUNNING with StartedAt, persisted.
//  3. Handler invoked synchronously; panics count as failures.
//  4. Success: COMPLETED with CompletedAt, success metric.
//  5. Failure with budget left: RetryCount+1, RETRY_PENDING, delayed by 2^RetryCount seconds.
//     Failure without budget: FAILED, failure metric.
//  6. Final state persisted unconditionally.
func (e *Engine) dispatch(ctx context.Context, task *tasks.Task) error {
	log := logger.Log.With().
		Str("task_id", task.ID).
		Str("task_name", task.Name).
		Str("queue", task.Queue).
		Logger()

	h, ok := e.handler(task.Name)
	if !ok {
		log.Warn().Msg("No handler registered for task")
		if err := task.Transition(tasks.StatusFailed); err != nil {
			return err
		}
		task.ErrorMessage = errNoHandler
		return e.store.Save(ctx, task)
	}

	if err := task.Transition(tasks.StatusRunning); err != nil {
		return err
	}
	startedAt := e.opts.now()
	task.StartedAt = &startedAt
	if err := e.store.Save(ctx, task); err != nil {
		log.Error().Err(err).Msg("Failed to persist running state")
	}

	start := time.Now()
	handlerErr := invoke(ctx, h, task.Clone())
	elapsed := time.Since(start)

	if handlerErr == nil {
		_ = task.Transition(tasks.StatusCompleted)
		completedAt := e.opts.now()
		task.CompletedAt = &completedAt
		e.metrics.RecordSuccess(task.Queue, elapsed)
		log.Info().Dur("elapsed", elapsed).Msg("Task completed")
	} else {
		task.ErrorMessage = handlerErr.Error()
		if task.CanRetry() {
			task.RetryCount++
			_ = task.Transition(tasks.StatusRetryPending)
			delay := tasks.Backoff(task.RetryCount)
			if err := e.store.ScheduleDelayed(ctx, task, delay); err != nil {
				log.Error().Err(err).Msg("Failed to schedule retry")
			}
			e.metrics.RecordRetry(task.Queue)
			log.Warn().
				Err(handlerErr).
				Int("retry_count", task.RetryCount).
				Dur("delay", delay).
				Msg("Task failed, retry scheduled")
		} else {
			_ = task.Transition(tasks.StatusFailed)
			e.metrics.RecordFailure(task.Queue)
			log.Error().
				Err(handlerErr).
				Int("retry_count", task.RetryCount).
				Msg("Task failed permanently")
		}
	}

	if err := e.store.Save(ctx, task); err != nil {
		return fmt.Errorf("persist final state of task %s: %w", task.ID, err)
	}
	return nil
}

func invoke(ctx context.Context, h Handler, task *tasks.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error().
				Str("task_id", task.ID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Handler panicked")
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, task)
}
