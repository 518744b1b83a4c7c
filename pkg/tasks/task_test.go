package tasks

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	task := New("email.send", "emails", map[string]any{"to": "a@b.c"}, now)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, DefaultMaxRetries, task.MaxRetries)
	assert.Equal(t, 0, task.RetryCount)
	assert.Equal(t, now, task.CreatedAt)
	assert.Nil(t, task.StartedAt)

	other := New("email.send", "emails", nil, now)
	assert.NotEqual(t, task.ID, other.ID)
}

func TestBackoff(t *testing.T) {
	for k, want := range []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second} {
		assert.Equal(t, want, Backoff(k), "retry %d", k)
	}
	assert.Equal(t, time.Second, Backoff(-1))
}

func TestBackoffIsCapped(t *testing.T) {
	ceiling := time.Duration(1<<MaxRetriesLimit) * time.Second
	assert.Equal(t, ceiling, Backoff(MaxRetriesLimit))
	for _, k := range []int{31, 34, 63, 64, 1000} {
		assert.Equal(t, ceiling, Backoff(k), "retry %d", k)
	}
}

func TestCanRetry(t *testing.T) {
	task := &Task{MaxRetries: 2}
	assert.True(t, task.CanRetry())
	task.RetryCount = 2
	assert.False(t, task.CanRetry())
}

func TestTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		ok   bool
	}{
		{"pending to running", StatusPending, StatusRunning, true},
		{"pending to cancelled", StatusPending, StatusCancelled, true},
		{"pending to failed without handler", StatusPending, StatusFailed, true},
		{"pending skips running", StatusPending, StatusCompleted, false},
		{"running to completed", StatusRunning, StatusCompleted, true},
		{"running to retry", StatusRunning, StatusRetryPending, true},
		{"running to failed", StatusRunning, StatusFailed, true},
		{"running cannot be cancelled", StatusRunning, StatusCancelled, false},
		{"retry back to pending", StatusRetryPending, StatusPending, true},
		{"scheduled to pending", StatusScheduled, StatusPending, true},
		{"scheduled to cancelled", StatusScheduled, StatusCancelled, true},
		{"completed is terminal", StatusCompleted, StatusPending, false},
		{"failed is terminal", StatusFailed, StatusPending, false},
		{"cancelled is terminal", StatusCancelled, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{ID: "t1", Status: tt.from}
			err := task.Transition(tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, task.Status)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			assert.Equal(t, tt.from, task.Status)
		})
	}
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, StatusRetryPending.Valid())
	assert.False(t, Status("BOGUS").Valid())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusScheduled.Delayed())
	assert.True(t, StatusRetryPending.Delayed())
	assert.False(t, StatusPending.Delayed())
}

func TestClone(t *testing.T) {
	started := time.Now().UTC()
	task := &Task{ID: "x", Payload: map[string]any{"k": "v"}, StartedAt: &started}

	c := task.Clone()
	c.Payload["k"] = "changed"
	*c.StartedAt = started.Add(time.Hour)

	assert.Equal(t, "v", task.Payload["k"])
	assert.Equal(t, started, *task.StartedAt)
	assert.Nil(t, (*Task)(nil).Clone())
}
