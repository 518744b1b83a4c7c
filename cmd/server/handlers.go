package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/guido-cesarano/taskqueue/pkg/logger"
	"github.com/guido-cesarano/taskqueue/pkg/queue"
	"github.com/guido-cesarano/taskqueue/pkg/tasks"
	"github.com/robfig/cron/v3"
)

const defaultScheduledLimit = 50

// delayedView is the read-only view of the delayed set. *store.TaskStore implements it.
type delayedView interface {
	CountDelayed(ctx context.Context) int64
	PendingBefore(ctx context.Context, t time.Time, limit int) []*tasks.Task
}

type api struct {
	engine   *queue.Engine
	delayed  delayedView
	queues   []string
	validate *validator.Validate
}

type enqueueRequest struct {
	Name       string         `json:"name" validate:"required"`
	Queue      string         `json:"queue" validate:"required"`
	Payload    map[string]any `json:"payload"`
	Priority   int            `json:"priority"`
	MaxRetries *int           `json:"max_retries" validate:"omitempty,min=0,max=30"`
}

func (r enqueueRequest) options() []queue.TaskOption {
	opts := []queue.TaskOption{queue.WithPriority(r.Priority)}
	if r.MaxRetries != nil {
		opts = append(opts, queue.WithTaskMaxRetries(*r.MaxRetries))
	}
	return opts
}

type scheduleRequest struct {
	enqueueRequest
	// Delay is a Go duration string such as "30s" or "5m".
	Delay string `json:"delay" validate:"required"`
}

type recurringRequest struct {
	enqueueRequest
	// Spec is a cron expression with optional seconds, or a descriptor like "@every 1m".
	Spec string `json:"spec" validate:"required"`
}

type recurringEntry struct {
	ID   cron.EntryID `json:"id"`
	Next time.Time    `json:"next"`
	Prev time.Time    `json:"prev"`
}

type statsResponse struct {
	Queues    map[string]int64 `json:"queues"`
	Scheduled int64            `json:"scheduled"`
	// Enqueued counts the tasks accepted by this API process, per queue. Processing
	// outcomes are recorded by the workers and exported on their /metrics endpoint.
	Enqueued map[string]int64 `json:"enqueued"`
}

// decode reads a JSON body into v and validates it. It writes the 400 response itself.
func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	if err := a.validate.Struct(v); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error().Err(err).Msg("Failed to encode response")
	}
}

// enqueue handles POST /tasks.
func (a *api) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !a.decode(w, r, &req) {
		return
	}

	task, err := a.engine.Enqueue(r.Context(), req.Name, req.Queue, req.Payload, req.options()...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// schedule handles POST /tasks/scheduled.
func (a *api) schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !a.decode(w, r, &req) {
		return
	}
	delay, err := time.ParseDuration(req.Delay)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid delay: %v", err), http.StatusBadRequest)
		return
	}

	task, err := a.engine.Schedule(r.Context(), req.Name, req.Queue, req.Payload, delay, req.options()...)
	if errors.Is(err, queue.ErrNegativeDelay) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// getTask handles GET /tasks/{id}.
func (a *api) getTask(w http.ResponseWriter, r *http.Request) {
	task, ok := a.engine.GetTask(r.Context(), chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// cancelTask handles DELETE /tasks/{id}. Running or finished tasks yield 409.
func (a *api) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	found, err := a.engine.CancelTask(r.Context(), id)
	switch {
	case !found:
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	case errors.Is(err, tasks.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	task, ok := a.engine.GetTask(r.Context(), id)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// listByStatus handles GET /tasks?status=.
func (a *api) listByStatus(w http.ResponseWriter, r *http.Request) {
	status := tasks.Status(r.URL.Query().Get("status"))
	if !status.Valid() {
		http.Error(w, "Missing or unknown status parameter", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, a.engine.GetTasksByStatus(r.Context(), status))
}

// listQueue handles GET /queues/{queue}/tasks.
func (a *api) listQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.GetQueuedTasks(r.Context(), chi.URLParam(r, "queue")))
}

// listScheduled handles GET /scheduled?before=<RFC3339>&limit=<n>.
// Without before, every delayed task is listed up to the limit.
func (a *api) listScheduled(w http.ResponseWriter, r *http.Request) {
	before := time.Now().Add(100 * 365 * 24 * time.Hour)
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid before parameter: %v", err), http.StatusBadRequest)
			return
		}
		before = t
	}

	limit := defaultScheduledLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, a.delayed.PendingBefore(r.Context(), before, limit))
}

// addRecurring handles POST /recurring.
func (a *api) addRecurring(w http.ResponseWriter, r *http.Request) {
	var req recurringRequest
	if !a.decode(w, r, &req) {
		return
	}

	id, err := a.engine.ScheduleRecurring(req.Spec, req.Name, req.Queue, req.Payload, req.options()...)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid cron spec: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]cron.EntryID{"entry_id": id})
}

// listRecurring handles GET /recurring.
func (a *api) listRecurring(w http.ResponseWriter, _ *http.Request) {
	entries := a.engine.RecurringEntries()
	out := make([]recurringEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, recurringEntry{ID: e.ID, Next: e.Next, Prev: e.Prev})
	}
	writeJSON(w, http.StatusOK, out)
}

// removeRecurring handles DELETE /recurring/{id}.
func (a *api) removeRecurring(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid entry id", http.StatusBadRequest)
		return
	}
	a.engine.RemoveRecurring(cron.EntryID(id))
	w.WriteHeader(http.StatusNoContent)
}

// stats handles GET /stats.
func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	snapshots := a.engine.Metrics().SnapshotAll()

	names := slices.Clone(a.queues)
	for name := range snapshots {
		names = append(names, name)
	}
	slices.Sort(names)
	names = slices.Compact(names)

	resp := statsResponse{
		Queues:    make(map[string]int64, len(names)),
		Scheduled: a.delayed.CountDelayed(r.Context()),
		Enqueued:  make(map[string]int64, len(snapshots)),
	}
	for _, name := range names {
		resp.Queues[name] = a.engine.GetQueueSize(r.Context(), name)
	}
	for name, snap := range snapshots {
		resp.Enqueued[name] = snap.Enqueued
	}
	writeJSON(w, http.StatusOK, resp)
}
