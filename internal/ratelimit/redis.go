package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"finance-orchestrator/internal/common/logger"
)

// RedisLimiter is a sliding-window limiter shared across instances. Redis
// errors fail open.
type RedisLimiter struct {
	client redis.Cmdable
	prefix string
	logger logger.Logger
	now    func() time.Time
}

func NewRedisLimiter(client redis.Cmdable, log logger.Logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: "ratelimit",
		logger: log.With(map[string]interface{}{"component": "ratelimit"}),
		now:    time.Now,
	}
}

func (l *RedisLimiter) key(rule Rule, key string) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, rule.Name, key)
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, rule Rule) (Decision, error) {
	now := l.now()
	redisKey := l.key(rule, key)
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()

	pipe := l.client.TxPipeline()
	// scores are unix millis
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(now.Add(-rule.Window).UnixMilli(), 10))
	pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.Expire(ctx, redisKey, 2*rule.Window)

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		l.logger.Warn("rate limit check failed, failing open", map[string]interface{}{
			"rule":  rule.Name,
			"error": err.Error(),
		})
		return allowed(rule, 0), nil
	}

	// count before this request
	count := cmds[1].(*redis.IntCmd).Val()
	if count < int64(rule.Limit) {
		return allowed(rule, count+1), nil
	}

	// rejected requests do not consume budget
	l.client.ZRem(ctx, redisKey, member)

	retryAfter := rule.Window
	oldest, err := l.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
	if err == nil && len(oldest) == 1 {
		expires := time.UnixMilli(int64(oldest[0].Score)).Add(rule.Window)
		retryAfter = expires.Sub(now)
	}
	return denied(rule, retryAfter), nil
}
