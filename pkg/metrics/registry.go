// Package metrics keeps per-queue task counters for the engine and exports them to Prometheus.
package metrics

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time view of one queue's counters.
type Snapshot struct {
	Enqueued                int64   `json:"enqueued"`
	Successful              int64   `json:"successful"`
	Failed                  int64   `json:"failed"`
	Retried                 int64   `json:"retried"`
	TotalProcessingTimeMs   int64   `json:"total_processing_time_ms"`
	AverageProcessingTimeMs float64 `json:"average_processing_time_ms"`
}

type queueCounters struct {
	enqueued   atomic.Int64
	successful atomic.Int64
	failed     atomic.Int64
	retried    atomic.Int64
	totalMs    atomic.Int64
}

// Registry holds counters per queue name. Entries are created on the first event
// for a queue and live as long as the registry. Counters only ever grow.
type Registry struct {
	queues sync.Map // map[string]*queueCounters
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) counters(queue string) *queueCounters {
	if c, ok := r.queues.Load(queue); ok {
		return c.(*queueCounters)
	}
	c, _ := r.queues.LoadOrStore(queue, &queueCounters{})
	return c.(*queueCounters)
}

func (r *Registry) RecordEnqueue(queue string) {
	r.counters(queue).enqueued.Add(1)
}

// RecordSuccess counts a completed task and adds its processing time, in whole milliseconds.
func (r *Registry) RecordSuccess(queue string, elapsed time.Duration) {
	c := r.counters(queue)
	c.successful.Add(1)
	c.totalMs.Add(elapsed.Milliseconds())
}

func (r *Registry) RecordFailure(queue string) {
	r.counters(queue).failed.Add(1)
}

func (r *Registry) RecordRetry(queue string) {
	r.counters(queue).retried.Add(1)
}

// Snapshot returns the counters for a queue. Unknown queues yield a zero snapshot.
func (r *Registry) Snapshot(queue string) Snapshot {
	c, ok := r.queues.Load(queue)
	if !ok {
		return Snapshot{}
	}
	return c.(*queueCounters).snapshot()
}

// SnapshotAll returns a snapshot for every queue seen so far.
func (r *Registry) SnapshotAll() map[string]Snapshot {
	out := make(map[string]Snapshot)
	r.queues.Range(func(key, value any) bool {
		out[key.(string)] = value.(*queueCounters).snapshot()
		return true
	})
	return out
}

// Queues returns the known queue names in sorted order.
func (r *Registry) Queues() []string {
	var names []string
	r.queues.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	slices.Sort(names)
	return names
}

func (c *queueCounters) snapshot() Snapshot {
	s := Snapshot{
		Enqueued:              c.enqueued.Load(),
		Successful:            c.successful.Load(),
		Failed:                c.failed.Load(),
		Retried:               c.retried.Load(),
		TotalProcessingTimeMs: c.totalMs.Load(),
	}
	if s.Successful > 0 {
		s.AverageProcessingTimeMs = float64(s.TotalProcessingTimeMs) / float64(s.Successful)
	}
	return s
}
