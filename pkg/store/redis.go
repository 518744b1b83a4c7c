package store

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRedisNotReady = errors.New("redis did not become ready within the given time period")
)

// popByScoreScript atomically fetches all members with score <= ARGV[1] and removes them,
// so a delayed task is handed to exactly one promoter even when several run concurrently.
var popByScoreScript = redis.NewScript(`
	local members = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
	for _, member in ipairs(members) do
		redis.call('ZREM', KEYS[1], member)
	end
	return members
`)

// casScript replaces the value at KEYS[1] with ARGV[2] only while it still equals ARGV[1].
var casScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		redis.call('SET', KEYS[1], ARGV[2])
		return 1
	end
	return 0
`)

// RedisOptions configures the connection made by Connect.
type RedisOptions struct {
	Addr           string
	Password       string
	DB             int
	RetryAttempts  int
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
}

// Connect establishes a connection to Redis, pinging up to RetryAttempts times
// with RetryInterval between attempts.
func Connect(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}
	attempts := max(opts.RetryAttempts, 1)

	for range attempts {
		rdb := redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
		if err := rdb.Ping(ctx).Err(); err == nil {
			return rdb, nil
		}
		_ = rdb.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(opts.RetryInterval):
		}
	}

	return nil, ErrRedisNotReady
}

// RedisBackend implements Backend on top of a go-redis client.
type RedisBackend struct {
	rdb redis.UniversalClient
}

// NewRedisBackend wraps an existing client. The caller keeps ownership of the client.
func NewRedisBackend(rdb redis.UniversalClient) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

// NewClient creates a backend connected to the given address ("host:port").
//
// Example:
//
//	backend := store.NewClient("localhost:6379")
func NewClient(addr string) *RedisBackend {
	return NewRedisBackend(redis.NewClient(&redis.Options{Addr: addr}))
}

// Client exposes the underlying client, e.g. for health checks.
func (b *RedisBackend) Client() redis.UniversalClient {
	return b.rdb
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	return b.rdb.Set(ctx, key, value, 0).Err()
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	return data, err
}

func (b *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.rdb.Del(ctx, keys...).Err()
}

func (b *RedisBackend) CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte) (bool, error) {
	n, err := casScript.Run(ctx, b.rdb, []string{key}, oldValue, newValue).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (b *RedisBackend) ZAdd(ctx context.Context, setKey, member string, score float64) error {
	return b.rdb.ZAdd(ctx, setKey, redis.Z{Score: score, Member: member}).Err()
}

func (b *RedisBackend) ZRangeByRank(ctx context.Context, setKey string, start, stop int64) ([]string, error) {
	return b.rdb.ZRange(ctx, setKey, start, stop).Result()
}

func (b *RedisBackend) ZRangeByScore(ctx context.Context, setKey string, min, max float64) ([]string, error) {
	return b.rdb.ZRangeByScore(ctx, setKey, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
}

func (b *RedisBackend) ZRem(ctx context.Context, setKey string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return b.rdb.ZRem(ctx, setKey, args...).Err()
}

func (b *RedisBackend) ZRemRangeByScore(ctx context.Context, setKey string, min, max float64) error {
	return b.rdb.ZRemRangeByScore(ctx, setKey, formatScore(min), formatScore(max)).Err()
}

func (b *RedisBackend) ZCard(ctx context.Context, setKey string) (int64, error) {
	return b.rdb.ZCard(ctx, setKey).Result()
}

// Keys walks the keyspace with SCAN rather than KEYS so large databases are not blocked.
func (b *RedisBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := b.rdb.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (b *RedisBackend) ZPopMin(ctx context.Context, setKey string) (string, float64, bool, error) {
	res, err := b.rdb.ZPopMin(ctx, setKey, 1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", 0, false, nil
		}
		return "", 0, false, err
	}
	if len(res) == 0 {
		return "", 0, false, nil
	}
	member, ok := res[0].Member.(string)
	if !ok {
		return "", 0, false, nil
	}
	return member, res[0].Score, true, nil
}

func (b *RedisBackend) ZPopByScore(ctx context.Context, setKey string, max float64) ([]string, error) {
	members, err := popByScoreScript.Run(ctx, b.rdb, []string{setKey}, formatScore(max)).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return members, err
}

func formatScore(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
