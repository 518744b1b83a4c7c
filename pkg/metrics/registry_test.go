package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotUnknownQueue(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, Snapshot{}, r.Snapshot("missing"))
	assert.Empty(t, r.SnapshotAll())
}

func TestSnapshotAverage(t *testing.T) {
	r := NewRegistry()
	r.RecordEnqueue("q")
	r.RecordFailure("q")
	r.RecordRetry("q")

	s := r.Snapshot("q")
	assert.Equal(t, int64(1), s.Enqueued)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, int64(1), s.Retried)
	assert.Zero(t, s.AverageProcessingTimeMs, "no successes means zero average")

	r.RecordSuccess("q", 100*time.Millisecond)
	r.RecordSuccess("q", 300*time.Millisecond)

	s = r.Snapshot("q")
	assert.Equal(t, int64(2), s.Successful)
	assert.Equal(t, int64(400), s.TotalProcessingTimeMs)
	assert.Equal(t, 200.0, s.AverageProcessingTimeMs)
}

func TestSnapshotIsImmutable(t *testing.T) {
	r := NewRegistry()
	r.RecordEnqueue("q")
	s := r.Snapshot("q")
	r.RecordEnqueue("q")

	assert.Equal(t, int64(1), s.Enqueued)
	assert.Equal(t, int64(2), r.Snapshot("q").Enqueued)
}

func TestConcurrentRecording(t *testing.T) {
	r := NewRegistry()
	const goroutines, perGoroutine = 16, 500

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				r.RecordEnqueue("q")
				r.RecordSuccess("q", time.Millisecond)
			}
		}()
	}
	wg.Wait()

	s := r.Snapshot("q")
	assert.Equal(t, int64(goroutines*perGoroutine), s.Enqueued)
	assert.Equal(t, int64(goroutines*perGoroutine), s.Successful)
	assert.Equal(t, 1.0, s.AverageProcessingTimeMs)
}

func TestQueuesSorted(t *testing.T) {
	r := NewRegistry()
	r.RecordEnqueue("reports")
	r.RecordEnqueue("emails")
	r.RecordRetry("notifications")

	assert.Equal(t, []string{"emails", "notifications", "reports"}, r.Queues())
	assert.Len(t, r.SnapshotAll(), 3)
}

func TestCollector(t *testing.T) {
	r := NewRegistry()
	r.RecordEnqueue("emails")
	r.RecordEnqueue("emails")
	r.RecordSuccess("emails", 250*time.Millisecond)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(r))

	expected := `
# HELP taskqueue_processing_milliseconds_total Sum of handler processing time for successful tasks
# TYPE taskqueue_processing_milliseconds_total counter
taskqueue_processing_milliseconds_total{queue="emails"} 250
# HELP taskqueue_tasks_total The total number of task events per queue and outcome
# TYPE taskqueue_tasks_total counter
taskqueue_tasks_total{outcome="enqueued",queue="emails"} 2
taskqueue_tasks_total{outcome="failed",queue="emails"} 0
taskqueue_tasks_total{outcome="retry",queue="emails"} 0
taskqueue_tasks_total{outcome="success",queue="emails"} 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected))
	assert.NoError(t, err)
}
