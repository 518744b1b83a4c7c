package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/guido-cesarano/taskqueue/pkg/logger"
	"github.com/guido-cesarano/taskqueue/pkg/tasks"
)

const (
	taskKeyPrefix  = "task:"
	queueKeyPrefix = "queue:"
	delayedKey     = "scheduled"

	updateAttempts = 5
)

// TaskStore persists tasks and keeps them ordered by priority (per queue) or by due time
// (delayed set). A task id is a member of at most one of those sets at any time.
type TaskStore struct {
	backend Backend
	codec   Codec
	prefix  string
	now     func() time.Time
}

// Option configures a TaskStore.
type Option func(*TaskStore)

// WithCodec replaces the default JSON codec.
func WithCodec(c Codec) Option {
	return func(s *TaskStore) { s.codec = c }
}

// WithKeyPrefix namespaces every key, so several engines can share one database.
func WithKeyPrefix(prefix string) Option {
	return func(s *TaskStore) { s.prefix = prefix }
}

// WithClock sets the time source used to compute due times for delayed tasks.
func WithClock(now func() time.Time) Option {
	return func(s *TaskStore) { s.now = now }
}

// New creates a TaskStore on top of the given backend.
func New(backend Backend, opts ...Option) *TaskStore {
	s := &TaskStore{
		backend: backend,
		codec:   JSONCodec{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TaskStore) taskKey(id string) string { return s.prefix + taskKeyPrefix + id }
func (s *TaskStore) queueKey(queue string) string { return s.prefix + queueKeyPrefix + queue }
func (s *TaskStore) delayedKey() string { return s.prefix + delayedKey }

// Save upserts the task record and aligns its set membership with its status:
//   - PENDING: member of its queue's priority set at task.Priority
//   - SCHEDULED, RETRY_PENDING: not in the priority set (delayed set is managed by ScheduleDelayed)
//   - anything else: in neither set
//
// The task is encoded before anything is written, so a serialization failure leaves the
// store untouched and returns ErrSerialize.
func (s *TaskStore) Save(ctx context.Context, task *tasks.Task) error {
	data, err := s.codec.Marshal(task)
	if err != nil {
		return errors.Join(ErrSerialize, err)
	}

	if err := s.backend.Set(ctx, s.taskKey(task.ID), data); err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return s.align(ctx, task)
}

func (s *TaskStore) align(ctx context.Context, task *tasks.Task) error {
	queueKey := s.queueKey(task.Queue)
	switch {
	case task.Status == tasks.StatusPending:
		if err := s.backend.ZRem(ctx, s.delayedKey(), task.ID); err != nil {
			return fmt.Errorf("remove task %s from delayed set: %w", task.ID, err)
		}
		if err := s.backend.ZAdd(ctx, queueKey, task.ID, float64(task.Priority)); err != nil {
			return fmt.Errorf("add task %s to queue %s: %w", task.ID, task.Queue, err)
		}
	case task.Status.Delayed():
		if err := s.backend.ZRem(ctx, queueKey, task.ID); err != nil {
			return fmt.Errorf("remove task %s from queue %s: %w", task.ID, task.Queue, err)
		}
	default:
		if err := s.removeMemberships(ctx, task.ID, task.Queue); err != nil {
			return err
		}
	}

	return nil
}

// FindByID returns the task or false when it is missing, undecodable or the backend is unreachable.
func (s *TaskStore) FindByID(ctx context.Context, id string) (*tasks.Task, bool) {
	if id == "" {
		return nil, false
	}
	return s.load(ctx, s.taskKey(id))
}

func (s *TaskStore) load(ctx context.Context, key string) (*tasks.Task, bool) {
	task, _, err := s.read(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			logger.Log.Warn().Err(err).Str("key", key).Msg("Failed to read task record")
		}
		return nil, false
	}
	return task, true
}

// read returns the decoded record together with its raw bytes. Decode failures always
// match ErrCorruptRecord; any other error than ErrKeyNotFound is a backend failure.
func (s *TaskStore) read(ctx context.Context, key string) (*tasks.Task, []byte, error) {
	data, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	task, err := s.codec.Unmarshal(data)
	if err != nil {
		if !errors.Is(err, ErrCorruptRecord) {
			err = errors.Join(ErrCorruptRecord, err)
		}
		return nil, nil, err
	}
	return task, data, nil
}

// unrecoverable reports whether a read failed because the record is gone or unreadable,
// as opposed to the backend being temporarily unavailable.
func unrecoverable(err error) bool {
	return errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrCorruptRecord)
}

// FindByQueue returns the tasks waiting in a queue, lowest priority value first.
// Ids whose record is missing are skipped.
func (s *TaskStore) FindByQueue(ctx context.Context, queue string) []*tasks.Task {
	ids, err := s.backend.ZRangeByRank(ctx, s.queueKey(queue), 0, -1)
	if err != nil {
		logger.Log.Warn().Err(err).Str("queue", queue).Msg("Failed to list queue")
		return nil
	}
	return s.resolve(ctx, ids)
}

// FindByStatus scans every stored record and keeps those with the given status.
// This is O(total tasks) and meant for modest cardinalities and operator tooling.
// Results are ordered by creation time.
func (s *TaskStore) FindByStatus(ctx context.Context, status tasks.Status) []*tasks.Task {
	keys, err := s.backend.Keys(ctx, s.prefix+taskKeyPrefix)
	if err != nil {
		logger.Log.Warn().Err(err).Str("status", string(status)).Msg("Failed to scan task records")
		return nil
	}

	var out []*tasks.Task
	for _, key := range keys {
		task, ok := s.load(ctx, key)
		if ok && task.Status == status {
			out = append(out, task)
		}
	}
	slices.SortFunc(out, func(a, b *tasks.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// PopNext removes the lowest priority member of the queue and returns its record.
// The removal is a single atomic backend operation, so a task is delivered to at most
// one caller. A nil task with a nil error means the queue is empty.
//
// An id whose record is missing or corrupt is dropped. When the record cannot be read
// for any other reason the id goes back into the queue at its score and the error is returned.
func (s *TaskStore) PopNext(ctx context.Context, queue string) (*tasks.Task, error) {
	queueKey := s.queueKey(queue)
	id, score, ok, err := s.backend.ZPopMin(ctx, queueKey)
	if err != nil {
		return nil, fmt.Errorf("pop from queue %s: %w", queue, err)
	}
	if !ok {
		return nil, nil
	}

	task, _, err := s.read(ctx, s.taskKey(id))
	if err == nil {
		return task, nil
	}
	if unrecoverable(err) {
		logger.Log.Warn().Err(err).Str("task_id", id).Str("queue", queue).Msg("Popped task has no usable record, dropping")
		return nil, nil
	}

	if rerr := s.backend.ZAdd(ctx, queueKey, id, score); rerr != nil {
		logger.Log.Error().Err(rerr).Str("task_id", id).Str("queue", queue).Msg("Failed to return popped task to its queue")
		err = errors.Join(err, rerr)
	}
	return nil, fmt.Errorf("read popped task %s: %w", id, err)
}

// ScheduleDelayed persists the task and adds it to the delayed set, due at now+delay.
// The status becomes SCHEDULED unless the caller already set RETRY_PENDING.
func (s *TaskStore) ScheduleDelayed(ctx context.Context, task *tasks.Task, delay time.Duration) error {
	if task.Status != tasks.StatusRetryPending {
		task.Status = tasks.StatusScheduled
	}
	due := s.now().Add(delay)
	task.ScheduledAt = &due

	if err := s.Save(ctx, task); err != nil {
		return err
	}
	if err := s.backend.ZAdd(ctx, s.delayedKey(), task.ID, float64(due.UnixMilli())); err != nil {
		return fmt.Errorf("add task %s to delayed set: %w", task.ID, err)
	}
	return nil
}

// DueDelayed atomically removes every delayed task due at or before now and returns the records.
// Ids whose record cannot be read because the backend failed are put back in the delayed set
// and reported in the error, alongside the tasks that were read.
func (s *TaskStore) DueDelayed(ctx context.Context, now time.Time) ([]*tasks.Task, error) {
	score := float64(now.UnixMilli())
	ids, err := s.backend.ZPopByScore(ctx, s.delayedKey(), score)
	if err != nil {
		return nil, fmt.Errorf("pop due delayed tasks: %w", err)
	}

	var (
		out  = make([]*tasks.Task, 0, len(ids))
		errs []error
	)
	for _, id := range ids {
		task, _, err := s.read(ctx, s.taskKey(id))
		switch {
		case err == nil:
			out = append(out, task)
		case unrecoverable(err):
			logger.Log.Warn().Err(err).Str("task_id", id).Msg("Due task has no usable record, dropping")
		default:
			if rerr := s.backend.ZAdd(ctx, s.delayedKey(), id, score); rerr != nil {
				err = errors.Join(err, rerr)
			}
			errs = append(errs, fmt.Errorf("read due task %s: %w", id, err))
		}
	}
	return out, errors.Join(errs...)
}

// RequeueDelayed puts a task id back in the delayed set at its ScheduledAt, or now when unset.
// It is used to hand a due task back when promoting it failed, so it is retried later.
func (s *TaskStore) RequeueDelayed(ctx context.Context, task *tasks.Task) error {
	due := s.now()
	if task.ScheduledAt != nil {
		due = *task.ScheduledAt
	}
	if err := s.backend.ZAdd(ctx, s.delayedKey(), task.ID, float64(due.UnixMilli())); err != nil {
		return fmt.Errorf("requeue delayed task %s: %w", task.ID, err)
	}
	return nil
}

// Update applies fn to the stored task and writes the result only if the record did not
// change since it was read, re-reading up to updateAttempts times on conflict.
// Set membership is then aligned as in Save.
//
// An error from fn aborts the update and is returned with the current record.
// A missing record yields ErrKeyNotFound and repeated conflicts yield ErrConflict.
func (s *TaskStore) Update(ctx context.Context, id string, fn func(*tasks.Task) error) (*tasks.Task, error) {
	key := s.taskKey(id)
	for range updateAttempts {
		task, current, err := s.read(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read task %s: %w", id, err)
		}
		if err := fn(task); err != nil {
			return task, err
		}

		data, err := s.codec.Marshal(task)
		if err != nil {
			return nil, errors.Join(ErrSerialize, err)
		}
		swapped, err := s.backend.CompareAndSwap(ctx, key, current, data)
		if err != nil {
			return nil, fmt.Errorf("update task %s: %w", id, err)
		}
		if swapped {
			return task, s.align(ctx, task)
		}
	}
	return nil, fmt.Errorf("update task %s: %w", id, ErrConflict)
}

// Delete removes the record and any set membership of the task.
func (s *TaskStore) Delete(ctx context.Context, id string) error {
	task, ok := s.FindByID(ctx, id)

	if err := s.backend.Delete(ctx, s.taskKey(id)); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if !ok {
		return s.backend.ZRem(ctx, s.delayedKey(), id)
	}
	return s.removeMemberships(ctx, id, task.Queue)
}

// CountByQueue returns the number of tasks waiting in a queue, 0 if it cannot be read.
func (s *TaskStore) CountByQueue(ctx context.Context, queue string) int64 {
	n, err := s.backend.ZCard(ctx, s.queueKey(queue))
	if err != nil {
		logger.Log.Warn().Err(err).Str("queue", queue).Msg("Failed to count queue")
		return 0
	}
	return n
}

// CountDelayed returns the size of the delayed set, 0 if it cannot be read.
func (s *TaskStore) CountDelayed(ctx context.Context) int64 {
	n, err := s.backend.ZCard(ctx, s.delayedKey())
	if err != nil {
		logger.Log.Warn().Err(err).Msg("Failed to count delayed tasks")
		return 0
	}
	return n
}

// PendingBefore returns up to limit delayed tasks due at or before t, earliest first.
// Used by operators to inspect the backlog without removing anything.
func (s *TaskStore) PendingBefore(ctx context.Context, t time.Time, limit int) []*tasks.Task {
	ids, err := s.backend.ZRangeByScore(ctx, s.delayedKey(), math.Inf(-1), float64(t.UnixMilli()))
	if err != nil {
		logger.Log.Warn().Err(err).Msg("Failed to list delayed tasks")
		return nil
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return s.resolve(ctx, ids)
}

func (s *TaskStore) removeMemberships(ctx context.Context, id, queue string) error {
	if err := s.backend.ZRem(ctx, s.queueKey(queue), id); err != nil {
		return fmt.Errorf("remove task %s from queue %s: %w", id, queue, err)
	}
	if err := s.backend.ZRem(ctx, s.delayedKey(), id); err != nil {
		return fmt.Errorf("remove task %s from delayed set: %w", id, err)
	}
	return nil
}

func (s *TaskStore) resolve(ctx context.Context, ids []string) []*tasks.Task {
	out := make([]*tasks.Task, 0, len(ids))
	for _, id := range ids {
		if task, ok := s.FindByID(ctx, id); ok {
			out = append(out, task)
		}
	}
	return out
}
