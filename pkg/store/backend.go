// Package store provides durable persistence and ordering for tasks.
//
// TaskStore is built entirely on the Backend collaborator: a key/value space plus
// sorted sets. Each queue owns a sorted set of task ids scored by priority, and a
// single global sorted set holds delayed task ids scored by due time.
//
// Key layout (all keys carry the configured prefix):
//   - task:{id}     serialized task record
//   - queue:{name}  priority-ordered set of pending task ids
//   - scheduled     delayed set of task ids, scored by due time in unix milliseconds
package store

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned by Backend.Get when the key does not exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrSerialize is returned by TaskStore.Save when the task cannot be encoded.
	// The store is left unmodified in that case.
	ErrSerialize = errors.New("failed to serialize task")

	// ErrCorruptRecord is returned by codecs when a stored value is not a valid task.
	ErrCorruptRecord = errors.New("corrupt task record")

	// ErrConflict is returned by TaskStore.Update when the record kept changing underneath it.
	ErrConflict = errors.New("task record changed concurrently")
)

// Backend is the storage collaborator the task store is built on.
// Implementations must tolerate concurrent use from every worker and the promoter.
type Backend interface {
	Set(ctx context.Context, key string, value []byte) error
	// Get returns ErrKeyNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
	// CompareAndSwap sets key to newValue only if its current value equals oldValue.
	CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte) (bool, error)

	ZAdd(ctx context.Context, setKey, member string, score float64) error
	// ZRangeByRank returns members between the given ranks, inclusive, lowest score first.
	// Negative ranks count from the end as in Redis.
	ZRangeByRank(ctx context.Context, setKey string, start, stop int64) ([]string, error)
	ZRangeByScore(ctx context.Context, setKey string, min, max float64) ([]string, error)
	ZRem(ctx context.Context, setKey string, members ...string) error
	ZRemRangeByScore(ctx context.Context, setKey string, min, max float64) error
	ZCard(ctx context.Context, setKey string) (int64, error)

	// Keys returns every key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// ZPopMin atomically removes and returns the lowest scored member with its score.
	// ok is false when the set is empty.
	ZPopMin(ctx context.Context, setKey string) (member string, score float64, ok bool, err error)
	// ZPopByScore atomically removes and returns every member scored <= max.
	ZPopByScore(ctx context.Context, setKey string, max float64) ([]string, error)
}
