package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// fakeRedis is a minimal in-memory stand-in for the three redisCommander
// methods Limiter calls, avoiding a live Redis server in unit tests.
type fakeRedis struct {
	counts    map[string]int64
	ttls      map[string]time.Duration
	incrErr   error
	expireErr error
	getErr    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{counts: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.incrErr != nil {
		cmd.SetErr(f.incrErr)
		return cmd
	}
	f.counts[key]++
	cmd.SetVal(f.counts[key])
	return cmd
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	if f.expireErr != nil {
		cmd.SetErr(f.expireErr)
		return cmd
	}
	f.ttls[key] = expiration
	cmd.SetVal(true)
	return cmd
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if f.getErr != nil {
		cmd.SetErr(f.getErr)
		return cmd
	}
	count, ok := f.counts[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(itoa(count))
	return cmd
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestLimiterAllowWithinLimit(t *testing.T) {
	fr := newFakeRedis()
	l := &Limiter{client: fr, prefix: "test:"}

	for i := 0; i < 3; i++ {
		allowed, err := l.Allow(context.Background(), "user-1", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, allowed)
	}
}

func TestLimiterAllowRejectsOverLimit(t *testing.T) {
	fr := newFakeRedis()
	l := &Limiter{client: fr, prefix: "test:"}

	for i := 0; i < 3; i++ {
		_, err := l.Allow(context.Background(), "user-1", 3, time.Minute)
		require.NoError(t, err)
	}
	allowed, err := l.Allow(context.Background(), "user-1", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestLimiterAllowSetsTTLOnlyOnFirstIncrement(t *testing.T) {
	fr := newFakeRedis()
	l := &Limiter{client: fr, prefix: "test:"}

	_, err := l.Allow(context.Background(), "user-1", 5, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, fr.ttls["test:user-1"])

	_, err = l.Allow(context.Background(), "user-1", 5, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, fr.ttls["test:user-1"], "ttl must not be reset after the window already started")
}

func TestLimiterAllowZeroLimitAlwaysAllows(t *testing.T) {
	fr := newFakeRedis()
	l := &Limiter{client: fr, prefix: "test:"}

	allowed, err := l.Allow(context.Background(), "user-1", 0, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Empty(t, fr.counts, "zero limit must short-circuit before touching redis")
}

func TestLimiterAllowPropagatesIncrError(t *testing.T) {
	fr := newFakeRedis()
	fr.incrErr = errors.New("connection refused")
	l := &Limiter{client: fr, prefix: "test:"}

	_, err := l.Allow(context.Background(), "user-1", 3, time.Minute)
	require.Error(t, err)
}

func TestLimiterRemainingWithNoPriorRequests(t *testing.T) {
	fr := newFakeRedis()
	l := &Limiter{client: fr, prefix: "test:"}

	remaining, err := l.Remaining(context.Background(), "user-1", 5)
	require.NoError(t, err)
	require.Equal(t, 5, remaining)
}

func TestLimiterRemainingAfterSomeRequests(t *testing.T) {
	fr := newFakeRedis()
	l := &Limiter{client: fr, prefix: "test:"}

	for i := 0; i < 2; i++ {
		_, err := l.Allow(context.Background(), "user-1", 5, time.Minute)
		require.NoError(t, err)
	}

	remaining, err := l.Remaining(context.Background(), "user-1", 5)
	require.NoError(t, err)
	require.Equal(t, 3, remaining)
}

func TestLimiterRemainingClampsAtZeroWhenOverLimit(t *testing.T) {
	fr := newFakeRedis()
	l := &Limiter{client: fr, prefix: "test:"}

	for i := 0; i < 7; i++ {
		_, err := l.Allow(context.Background(), "user-1", 5, time.Minute)
		require.NoError(t, err)
	}

	remaining, err := l.Remaining(context.Background(), "user-1", 5)
	require.NoError(t, err)
	require.Zero(t, remaining)
}
