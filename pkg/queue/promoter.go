package queue

import (
	"context"
	"errors"
	"time"

	"github.com/guido-cesarano/taskqueue/pkg/logger"
	"github.com/guido-cesarano/taskqueue/pkg/tasks"
)

// PromoteDue moves every delayed task whose time has come back to its queue as PENDING.
// Tasks that were cancelled while waiting are dropped. It returns the number promoted.
//
// Each promotion is a compare-and-set on the stored record, so a concurrent cancel is
// never overwritten. A task whose promotion fails is handed back to the delayed set and
// picked up again by a later call.
func (e *Engine) PromoteDue(ctx context.Context) (int, error) {
	due, err := e.store.DueDelayed(ctx, e.opts.now())

	var (
		promoted int
		errs     []error
	)
	if err != nil {
		errs = append(errs, err)
	}
	for _, task := range due {
		_, err := e.store.Update(ctx, task.ID, promoteTask)
		switch {
		case err == nil:
			promoted++
		case errors.Is(err, tasks.ErrInvalidTransition):
			logger.Log.Debug().
				Str("task_id", task.ID).
				Err(err).
				Msg("Dropping delayed task that is no longer waiting")
		default:
			logger.Log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to promote task")
			if rerr := e.store.RequeueDelayed(ctx, task); rerr != nil {
				err = errors.Join(err, rerr)
			}
			errs = append(errs, err)
		}
	}

	if promoted > 0 {
		logger.Log.Info().Int("count", promoted).Msg("Promoted due tasks")
	}
	return promoted, errors.Join(errs...)
}

// promoteTask moves a waiting task to PENDING. A task already PENDING is written back as is,
// which re-admits it to its queue if an earlier promotion stopped after the record write.
func promoteTask(task *tasks.Task) error {
	if task.Status == tasks.StatusPending {
		return nil
	}
	return task.Transition(tasks.StatusPending)
}

// runPromoter promotes due tasks once immediately and then on every tick until ctx is done.
func (e *Engine) runPromoter(ctx context.Context) {
	opCtx := context.WithoutCancel(ctx)
	promote := func() {
		if _, err := e.PromoteDue(opCtx); err != nil {
			logger.Log.Error().Err(err).Msg("Promoter iteration failed")
		}
	}

	promote()

	ticker := time.NewTicker(e.opts.promoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			promote()
		}
	}
}
