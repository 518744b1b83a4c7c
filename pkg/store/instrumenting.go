package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-kit/kit/metrics"
)

// instrumentingBackend wraps a Backend and records request count and latency per method.
type instrumentingBackend struct {
	reqCount    metrics.Counter
	reqDuration metrics.Histogram
	next        Backend
}

// NewInstrumentingBackend returns a Backend that reports every call to reqCount and
// reqDuration, labelled with "method" and "error".
func NewInstrumentingBackend(reqCount metrics.Counter, reqDuration metrics.Histogram, next Backend) Backend {
	return &instrumentingBackend{
		reqCount:    reqCount,
		reqDuration: reqDuration,
		next:        next,
	}
}

func (s *instrumentingBackend) observe(method string, startTime time.Time, err error) {
	labels := []string{
		"method", method,
		"error", strconv.FormatBool(err != nil),
	}
	s.reqCount.With(labels...).Add(1)
	s.reqDuration.With(labels...).Observe(time.Since(startTime).Seconds())
}

func (s *instrumentingBackend) Set(ctx context.Context, key string, value []byte) (err error) {
	defer func(startTime time.Time) { s.observe("Set", startTime, err) }(time.Now())
	return s.next.Set(ctx, key, value)
}

// Get does not count ErrKeyNotFound as an error: a missing key is a normal answer.
func (s *instrumentingBackend) Get(ctx context.Context, key string) (value []byte, err error) {
	defer func(startTime time.Time) {
		if errors.Is(err, ErrKeyNotFound) {
			s.observe("Get", startTime, nil)
			return
		}
		s.observe("Get", startTime, err)
	}(time.Now())
	return s.next.Get(ctx, key)
}

func (s *instrumentingBackend) Delete(ctx context.Context, keys ...string) (err error) {
	defer func(startTime time.Time) { s.observe("Delete", startTime, err) }(time.Now())
	return s.next.Delete(ctx, keys...)
}

func (s *instrumentingBackend) CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte) (swapped bool, err error) {
	defer func(startTime time.Time) { s.observe("CompareAndSwap", startTime, err) }(time.Now())
	return s.next.CompareAndSwap(ctx, key, oldValue, newValue)
}

func (s *instrumentingBackend) ZAdd(ctx context.Context, setKey, member string, score float64) (err error) {
	defer func(startTime time.Time) { s.observe("ZAdd", startTime, err) }(time.Now())
	return s.next.ZAdd(ctx, setKey, member, score)
}

func (s *instrumentingBackend) ZRangeByRank(ctx context.Context, setKey string, start, stop int64) (members []string, err error) {
	defer func(startTime time.Time) { s.observe("ZRangeByRank", startTime, err) }(time.Now())
	return s.next.ZRangeByRank(ctx, setKey, start, stop)
}

func (s *instrumentingBackend) ZRangeByScore(ctx context.Context, setKey string, min, max float64) (members []string, err error) {
	defer func(startTime time.Time) { s.observe("ZRangeByScore", startTime, err) }(time.Now())
	return s.next.ZRangeByScore(ctx, setKey, min, max)
}

func (s *instrumentingBackend) ZRem(ctx context.Context, setKey string, members ...string) (err error) {
	defer func(startTime time.Time) { s.observe("ZRem", startTime, err) }(time.Now())
	return s.next.ZRem(ctx, setKey, members...)
}

func (s *instrumentingBackend) ZRemRangeByScore(ctx context.Context, setKey string, min, max float64) (err error) {
	defer func(startTime time.Time) { s.observe("ZRemRangeByScore", startTime, err) }(time.Now())
	return s.next.ZRemRangeByScore(ctx, setKey, min, max)
}

func (s *instrumentingBackend) ZCard(ctx context.Context, setKey string) (n int64, err error) {
	defer func(startTime time.Time) { s.observe("ZCard", startTime, err) }(time.Now())
	return s.next.ZCard(ctx, setKey)
}

func (s *instrumentingBackend) Keys(ctx context.Context, prefix string) (keys []string, err error) {
	defer func(startTime time.Time) { s.observe("Keys", startTime, err) }(time.Now())
	return s.next.Keys(ctx, prefix)
}

func (s *instrumentingBackend) ZPopMin(ctx context.Context, setKey string) (member string, score float64, ok bool, err error) {
	defer func(startTime time.Time) { s.observe("ZPopMin", startTime, err) }(time.Now())
	return s.next.ZPopMin(ctx, setKey)
}

func (s *instrumentingBackend) ZPopByScore(ctx context.Context, setKey string, max float64) (members []string, err error) {
	defer func(startTime time.Time) { s.observe("ZPopByScore", startTime, err) }(time.Now())
	return s.next.ZPopByScore(ctx, setKey, max)
}
