package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finance-orchestrator/internal/common/config"
	"finance-orchestrator/internal/common/logger"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time           { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

var testRule = Rule{Name: "query", Limit: 3, Window: time.Minute}

func newRedisLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis, *clock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	l := NewRedisLimiter(client, logger.NewTestLogger(t))
	l.now = c.now
	return l, mr, c
}

// ==========================
// Rules
// ==========================

func TestRulesFromConfig(t *testing.T) {
	rules := RulesFromConfig(config.RateLimitConfig{
		Query:  config.RateLimitRule{Limit: 20, Window: 30},
		Export: config.RateLimitRule{Limit: 0, Window: 60},
	})

	assert.Equal(t, Rule{Name: RuleQuery, Limit: 20, Window: 30 * time.Second}, rules.Get(RuleQuery))
	assert.Equal(t, 10, rules.Get(RuleFinancialOp).Limit)
	assert.Equal(t, 5*time.Minute, rules.Get(RuleExport).Window)
	assert.Equal(t, 100, Rules{}.Get("missing").Limit)
}

// ==========================
// Redis limiter
// ==========================

func TestRedisLimiter_SlidingWindow(t *testing.T) {
	l, _, c := newRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "user-1", testRule)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 2-i, d.Remaining)
		c.advance(time.Second)
	}

	d, err := l.Allow(ctx, "user-1", testRule)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 57*time.Second, d.RetryAfter)

	// another user has its own budget
	d, err = l.Allow(ctx, "user-2", testRule)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// first hit leaves the window
	c.advance(58 * time.Second)
	d, err = l.Allow(ctx, "user-1", testRule)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_RejectedRequestsDoNotConsume(t *testing.T) {
	l, mr, _ := newRedisLimiter(t)
	ctx := context.Background()
	rule := Rule{Name: "export", Limit: 1, Window: time.Minute}

	d, _ := l.Allow(ctx, "user-1", rule)
	require.True(t, d.Allowed)
	for i := 0; i < 3; i++ {
		d, _ = l.Allow(ctx, "user-1", rule)
		assert.False(t, d.Allowed)
	}

	members, err := mr.ZMembers("ratelimit:export:user-1")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	l := NewRedisLimiter(client, logger.NewNoOpLogger())

	d, err := l.Allow(context.Background(), "user-1", testRule)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

// ==========================
// Memory limiter
// ==========================

func TestMemoryLimiter(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter()
	l.now = c.now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "user-1", testRule)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, _ := l.Allow(ctx, "user-1", testRule)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)

	other := testRule
	other.Name = "financial_op"
	d, _ = l.Allow(ctx, "user-1", other)
	assert.True(t, d.Allowed, "rules keep separate buckets")

	c.advance(time.Minute + time.Millisecond)
	d, _ = l.Allow(ctx, "user-1", testRule)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestMemoryLimiter_NoBudget(t *testing.T) {
	l := NewMemoryLimiter()
	rule := Rule{Name: "export", Limit: 0, Window: 5 * time.Minute}

	d, err := l.Allow(context.Background(), "user-1", rule)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 5*time.Minute, d.RetryAfter)
	assert.Equal(t, 0, l.Len())
}

func TestMemoryLimiter_DropsIdleBuckets(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter()
	l.now = c.now
	ctx := context.Background()

	for _, user := range []string{"user-1", "user-2", "user-3"} {
		_, err := l.Allow(ctx, user, testRule)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, l.Len())

	c.advance(2 * time.Minute)
	_, err := l.Allow(ctx, "user-4", testRule)
	require.NoError(t, err)
	assert.Equal(t, 1, l.Len(), "only the fresh bucket survives")
}

func TestDeniedHasMinimumRetry(t *testing.T) {
	d := denied(testRule, 10*time.Millisecond)
	assert.Equal(t, time.Second, d.RetryAfter)
	assert.Equal(t, 3, d.Limit)
}
