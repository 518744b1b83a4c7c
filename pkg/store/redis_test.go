package store

import (
	"context"
	"math"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestBackend(t *testing.T) (*miniredis.Miniredis, *RedisBackend) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	b := NewClient(s.Addr())
	t.Cleanup(func() { _ = b.Client().Close() })
	return s, b
}

func TestRedisBackendKeyValue(t *testing.T) {
	_, b := setupTestBackend(t)
	ctx := context.Background()

	_, err := b.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, b.Set(ctx, "k", []byte("v")))
	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, b.Delete(ctx, "k"))
	require.NoError(t, b.Delete(ctx))
	_, err = b.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRedisBackendSortedSet(t *testing.T) {
	_, b := setupTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.ZAdd(ctx, "z", "c", 3))
	require.NoError(t, b.ZAdd(ctx, "z", "a", 1))
	require.NoError(t, b.ZAdd(ctx, "z", "b", 2))

	all, err := b.ZRangeByRank(ctx, "z", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, all)

	head, err := b.ZRangeByRank(ctx, "z", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, head)

	mid, err := b.ZRangeByScore(ctx, "z", 1.5, math.Inf(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, mid)

	n, err := b.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, b.ZRemRangeByScore(ctx, "z", math.Inf(-1), 1))
	require.NoError(t, b.ZRem(ctx, "z", "c"))
	require.NoError(t, b.ZRem(ctx, "z"))

	rest, err := b.ZRangeByRank(ctx, "z", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, rest)
}

func TestRedisBackendPops(t *testing.T) {
	_, b := setupTestBackend(t)
	ctx := context.Background()

	_, _, ok, err := b.ZPopMin(ctx, "empty")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.ZAdd(ctx, "z", "late", 300))
	require.NoError(t, b.ZAdd(ctx, "z", "early", 100))
	require.NoError(t, b.ZAdd(ctx, "z", "mid", 200))

	due, err := b.ZPopByScore(ctx, "z", 200)
	require.NoError(t, err)
	sort.Strings(due)
	assert.Equal(t, []string{"early", "mid"}, due)

	none, err := b.ZPopByScore(ctx, "z", 200)
	require.NoError(t, err)
	assert.Empty(t, none)

	member, score, ok, err := b.ZPopMin(ctx, "z")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "late", member)
	assert.Equal(t, float64(300), score)
}

func TestRedisBackendCompareAndSwap(t *testing.T) {
	s, b := setupTestBackend(t)
	ctx := context.Background()

	swapped, err := b.CompareAndSwap(ctx, "k", []byte("v1"), []byte("v2"))
	require.NoError(t, err)
	assert.False(t, swapped, "missing key never matches")

	require.NoError(t, b.Set(ctx, "k", []byte("v1")))

	swapped, err = b.CompareAndSwap(ctx, "k", []byte("stale"), []byte("v2"))
	require.NoError(t, err)
	assert.False(t, swapped)
	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v1", got)

	swapped, err = b.CompareAndSwap(ctx, "k", []byte("v1"), []byte("v2"))
	require.NoError(t, err)
	assert.True(t, swapped)
	got, err = s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
}

func TestRedisBackendKeys(t *testing.T) {
	_, b := setupTestBackend(t)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		require.NoError(t, b.Set(ctx, "task:"+strconv.Itoa(i), []byte("x")))
	}
	require.NoError(t, b.Set(ctx, "other", []byte("x")))

	keys, err := b.Keys(ctx, "task:")
	require.NoError(t, err)
	assert.Len(t, keys, 250)
}

func TestConnect(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	rdb, err := Connect(context.Background(), RedisOptions{
		Addr:           s.Addr(),
		RetryAttempts:  2,
		RetryInterval:  10 * time.Millisecond,
		ConnectTimeout: time.Second,
	})
	require.NoError(t, err)
	assert.NoError(t, rdb.Close())
}

func TestConnectUnreachable(t *testing.T) {
	_, err := Connect(context.Background(), RedisOptions{
		Addr:           "127.0.0.1:1",
		RetryAttempts:  2,
		RetryInterval:  10 * time.Millisecond,
		ConnectTimeout: 2 * time.Second,
	})
	assert.ErrorIs(t, err, ErrRedisNotReady)
}
