// Package ratelimit throttles the endpoints that spend LLM tokens. Each
// client holds a token bucket; routes declare how many tokens a call costs.
package ratelimit

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type bucket struct {
	tokens     int
	lastRefill time.Time
	mu         sync.Mutex
}

type RateLimiter struct {
	buckets       map[string]*bucket
	mu            sync.RWMutex
	maxTokens     int
	refillRate    time.Duration
	logger        *zap.Logger
	cleanupTicker *time.Ticker
	now           func() time.Time
}

type Config struct {
	MaxRequestsPerMinute int
	WindowDuration       time.Duration
	Logger               *zap.Logger
}

func New(cfg Config) *RateLimiter {
	if cfg.MaxRequestsPerMinute == 0 {
		cfg.MaxRequestsPerMinute = 60
	}
	if cfg.WindowDuration == 0 {
		cfg.WindowDuration = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	rl := &RateLimiter{
		buckets:       make(map[string]*bucket),
		maxTokens:     cfg.MaxRequestsPerMinute,
		refillRate:    cfg.WindowDuration / time.Duration(cfg.MaxRequestsPerMinute),
		logger:        cfg.Logger,
		cleanupTicker: time.NewTicker(5 * time.Minute),
		now:           time.Now,
	}

	go rl.cleanup()

	return rl
}

// Middleware charges cost tokens per request. A batch submission is
// usually given a higher cost than a single-case analysis. Callers are keyed
// by X-Client-ID when present, else by IP.
func (rl *RateLimiter) Middleware(cost int) fiber.Handler {
	if cost <= 0 {
		cost = 1
	}
	return func(c *fiber.Ctx) error {
		key := c.IP()
		if client := c.Get("X-Client-ID"); client != "" {
			key = client
		}

		d := rl.take(key, cost)
		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.maxTokens))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))

		if !d.allowed {
			retryAfter := int(math.Ceil(d.retryAfter.Seconds()))
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			rl.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Path()),
				zap.Int("cost", cost),
				zap.Duration("retry_after", d.retryAfter),
			)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
		}

		return c.Next()
	}
}

type decision struct {
	allowed    bool
	remaining  int
	retryAfter time.Duration
}

func (rl *RateLimiter) bucketFor(key string) *bucket {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()
	if exists {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, exists = rl.buckets[key]; !exists {
		b = &bucket{tokens: rl.maxTokens, lastRefill: rl.now()}
		rl.buckets[key] = b
	}
	return b
}

// take refills the bucket for the whole intervals elapsed, keeping the
// partial interval, then tries to spend cost tokens.
func (rl *RateLimiter) take(key string, cost int) decision {
	b := rl.bucketFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	if intervals := int(now.Sub(b.lastRefill) / rl.refillRate); intervals > 0 {
		b.tokens = min(rl.maxTokens, b.tokens+intervals)
		b.lastRefill = b.lastRefill.Add(time.Duration(intervals) * rl.refillRate)
		if b.tokens == rl.maxTokens {
			b.lastRefill = now
		}
	}

	if b.tokens >= cost {
		b.tokens -= cost
		return decision{allowed: true, remaining: b.tokens}
	}

	missing := cost - b.tokens
	if cost > rl.maxTokens {
		missing = rl.maxTokens - b.tokens
	}
	wait := time.Duration(missing)*rl.refillRate - now.Sub(b.lastRefill)
	if wait < 0 {
		wait = 0
	}
	return decision{remaining: b.tokens, retryAfter: wait}
}

func (rl *RateLimiter) allow(key string, cost int) bool {
	return rl.take(key, cost).allowed
}

func (rl *RateLimiter) cleanup() {
	for range rl.cleanupTicker.C {
		rl.mu.Lock()
		now := rl.now()
		for key, b := range rl.buckets {
			b.mu.Lock()
			if now.Sub(b.lastRefill) > 10*time.Minute {
				delete(rl.buckets, key)
			}
			b.mu.Unlock()
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) Stop() {
	rl.cleanupTicker.Stop()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
