package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const rateLimitPrefix = "ops:ratelimit:"

// RateLimitConfig bounds how often a caller may hit a guarded endpoint.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// RateLimitResult is the outcome of one check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is a sliding-window limiter over a sorted set per key. It guards
// the manual run trigger so a stuck client cannot queue scans back to back.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
	now    func() time.Time
}

func NewRateLimiter(client *Client, cfg RateLimitConfig, logger *zap.Logger) *RateLimiter {
	if cfg.Limit <= 0 {
		cfg.Limit = 6
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RateLimiter{
		client: client,
		logger: logger,
		config: cfg,
		now:    time.Now,
	}
}

// Allow records one hit for key and reports whether it fits in the window.
// Rejected hits are not recorded.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	now := r.now()
	redisKey := rateLimitPrefix + key
	windowStart := now.Add(-r.config.Window).UnixMicro()

	pipe := r.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart, 10))
	count := pipe.ZCard(ctx, redisKey)
	oldest := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit window: %w", err)
	}

	res := &RateLimitResult{
		Limit:   r.config.Limit,
		ResetAt: now.Add(r.config.Window),
	}
	if first := oldest.Val(); len(first) > 0 {
		res.ResetAt = time.UnixMicro(int64(first[0].Score)).Add(r.config.Window)
	}

	used := int(count.Val())
	if used >= r.config.Limit {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int("used", used),
			zap.Int("limit", r.config.Limit),
		)
		return res, nil
	}

	tx := r.client.rdb.TxPipeline()
	tx.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixMicro()),
		Member: strconv.FormatInt(now.UnixMicro(), 10),
	})
	tx.Expire(ctx, redisKey, r.config.Window+time.Second)
	if _, err := tx.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit record: %w", err)
	}

	res.Allowed = true
	res.Remaining = r.config.Limit - used - 1
	return res, nil
}
