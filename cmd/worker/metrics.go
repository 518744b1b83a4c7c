package main

import (
	"context"
	"time"

	"github.com/guido-cesarano/taskqueue/pkg/queue"
	"github.com/guido-cesarano/taskqueue/pkg/tasks"
	"github.com/prometheus/client_golang/prometheus"
)

// depthReader is the part of the engine and store the depth collector needs.
type depthReader interface {
	GetQueueSize(ctx context.Context, queue string) int64
}

type delayedCounter interface {
	CountDelayed(ctx context.Context) int64
}

// workerMetrics holds the Prometheus series owned by the worker process.
// Per-queue outcome counters come from metrics.Registry, registered separately.
type workerMetrics struct {
	// taskDuration tracks handler latency in seconds, by task name.
	// Used to calculate percentiles (P50, P95, P99) in Grafana.
	taskDuration *prometheus.HistogramVec

	// queueLatency tracks time spent waiting before the first dispatch (now - CreatedAt).
	queueLatency *prometheus.HistogramVec

	// queueDepth tracks the number of tasks waiting in each queue.
	// Updated periodically by collectQueueMetrics, like delayedDepth.
	queueDepth *prometheus.GaugeVec

	// delayedDepth tracks the delayed set (scheduled tasks and pending retries).
	delayedDepth prometheus.Gauge
}

func newWorkerMetrics(reg prometheus.Registerer) *workerMetrics {
	m := &workerMetrics{
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskqueue_task_duration_seconds",
			Help:    "Duration of task processing",
			Buckets: prometheus.DefBuckets,
		}, []string{"task_name"}),
		queueLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskqueue_queue_latency_seconds",
			Help:    "Time spent in queue before the first processing attempt",
			Buckets: prometheus.DefBuckets,
		}, []string{"task_name"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taskqueue_queue_depth",
			Help: "Number of tasks in each queue",
		}, []string{"queue"}),
		delayedDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskqueue_delayed_tasks",
			Help: "Number of tasks waiting for their due time",
		}),
	}
	reg.MustRegister(m.taskDuration, m.queueLatency, m.queueDepth, m.delayedDepth)
	return m
}

// instrument wraps a handler so every invocation is observed.
func (m *workerMetrics) instrument(name string, next queue.Handler) queue.Handler {
	return queue.HandlerFunc(func(ctx context.Context, task *tasks.Task) error {
		start := time.Now()
		if task.RetryCount == 0 {
			m.queueLatency.WithLabelValues(name).Observe(start.Sub(task.CreatedAt).Seconds())
		}
		err := next.Handle(ctx, task)
		m.taskDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		return err
	})
}

// collectQueueMetrics refreshes the depth gauges every interval until ctx is done.
func (m *workerMetrics) collectQueueMetrics(ctx context.Context, depths depthReader, delayed delayedCounter, queues []string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.updateDepths(ctx, depths, delayed, queues)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *workerMetrics) updateDepths(ctx context.Context, depths depthReader, delayed delayedCounter, queues []string) {
	for _, q := range queues {
		m.queueDepth.WithLabelValues(q).Set(float64(depths.GetQueueSize(ctx, q)))
	}
	m.delayedDepth.Set(float64(delayed.CountDelayed(ctx)))
}
