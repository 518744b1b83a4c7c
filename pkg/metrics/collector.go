package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	tasksDesc = prometheus.NewDesc(
		"taskqueue_tasks_total",
		"The total number of task events per queue and outcome",
		[]string{"queue", "outcome"}, nil,
	)
	processingDesc = prometheus.NewDesc(
		"taskqueue_processing_milliseconds_total",
		"Sum of handler processing time for successful tasks",
		[]string{"queue"}, nil,
	)
)

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- tasksDesc
	ch <- processingDesc
}

// Collect implements prometheus.Collector. Values are read from a fresh snapshot on every scrape.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	for queue, s := range r.SnapshotAll() {
		ch <- prometheus.MustNewConstMetric(tasksDesc, prometheus.CounterValue, float64(s.Enqueued), queue, "enqueued")
		ch <- prometheus.MustNewConstMetric(tasksDesc, prometheus.CounterValue, float64(s.Successful), queue, "success")
		ch <- prometheus.MustNewConstMetric(tasksDesc, prometheus.CounterValue, float64(s.Failed), queue, "failed")
		ch <- prometheus.MustNewConstMetric(tasksDesc, prometheus.CounterValue, float64(s.Retried), queue, "retry")
		ch <- prometheus.MustNewConstMetric(processingDesc, prometheus.CounterValue, float64(s.TotalProcessingTimeMs), queue)
	}
}
