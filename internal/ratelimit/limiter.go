package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/askwhyharsh/familycircle/internal/config"
	"github.com/askwhyharsh/familycircle/internal/storage"
	"github.com/askwhyharsh/familycircle/pkg/logger"
)

// RateLimiter defines the contract for enforcing rate limits.
type RateLimiter interface {
	// AllowToggle checks if a user may change a sharing setting right now.
	AllowToggle(ctx context.Context, userID string) (bool, error)

	// AllowLocationUpdate checks if a user can report a new location.
	AllowLocationUpdate(ctx context.Context, userID string) (bool, error)

	// AllowIPRequest checks if an IP can make a request.
	AllowIPRequest(ctx context.Context, ip string) (bool, error)
}

type Limiter struct {
	redis  storage.RedisClient
	config config.RateLimitConfig
	logger logger.Logger
	now    func() time.Time
}

func NewLimiter(redisClient storage.RedisClient, config config.RateLimitConfig, log logger.Logger) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: config,
		logger: log,
		now:    time.Now,
	}
}

// AllowToggle checks if a user can flip a sharing edge
func (l *Limiter) AllowToggle(ctx context.Context, userID string) (bool, error) {
	key := fmt.Sprintf("ratelimit:toggle:%s", userID)
	return l.checkSlidingWindow(ctx, key, l.config.TogglesPerMin, time.Minute)
}

// AllowLocationUpdate checks if a user can update location
func (l *Limiter) AllowLocationUpdate(ctx context.Context, userID string) (bool, error) {
	key := fmt.Sprintf("ratelimit:location:%s", userID)
	return l.checkSlidingWindow(ctx, key, l.config.LocationPerMin, time.Minute)
}

// AllowIPRequest checks if an IP can make a request
func (l *Limiter) AllowIPRequest(ctx context.Context, ip string) (bool, error) {
	key := fmt.Sprintf("ratelimit:ip:%s:requests", ip)
	return l.checkSlidingWindow(ctx, key, l.config.RequestsPerMinute, time.Minute)
}

// checkSlidingWindow implements a sliding window rate limiter using sorted sets
func (l *Limiter) checkSlidingWindow(ctx context.Context, key string, maxCount int, window time.Duration) (bool, error) {
	if maxCount <= 0 {
		return true, nil
	}

	now := l.now()
	windowStart := now.Add(-window).UnixNano()

	// Remove old entries outside the window
	if err := l.redis.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart)); err != nil {
		return false, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := l.redis.ZCard(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to count entries: %w", err)
	}

	if count >= int64(maxCount) {
		return false, nil
	}

	if err := l.redis.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	}); err != nil {
		return false, fmt.Errorf("failed to add entry: %w", err)
	}

	// the entry is already counted; a missing TTL only delays cleanup
	if err := l.redis.Expire(ctx, key, window); err != nil {
		l.logger.Warn("Failed to set rate limit window expiry", "key", key, "error", err)
	}

	return true, nil
}
