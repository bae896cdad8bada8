package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/case-review/backend/internal/metrics"
	"github.com/case-review/backend/internal/storage/models"
	"github.com/case-review/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func referenceKey(source, keysHash string) string {
	return fmt.Sprintf("refs:%s:%s", source, keysHash)
}

// SetReferences caches the candidates fetched for one source and key set.
func (c *Client) SetReferences(ctx context.Context, source, keysHash string, candidates []models.Candidate, ttl time.Duration) error {
	data, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("failed to marshal candidates: %w", err)
	}

	err = c.client.Set(ctx, referenceKey(source, keysHash), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set reference cache: %w", err)
	}

	logger.Debug("References cached", zap.String("source", source), zap.Int("count", len(candidates)), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetReferences(ctx context.Context, source, keysHash string) ([]models.Candidate, bool, error) {
	data, err := c.client.Get(ctx, referenceKey(source, keysHash)).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues(source).Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get reference cache: %w", err)
	}

	var candidates []models.Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal candidates: %w", err)
	}

	metrics.CacheHits.WithLabelValues(source).Inc()
	logger.Debug("Reference cache hit", zap.String("source", source))
	return candidates, true, nil
}

// InvalidateReferences drops every cached lookup for source, or for all
// sources when source is empty.
func (c *Client) InvalidateReferences(ctx context.Context, source string) error {
	pattern := "refs:*"
	if source != "" {
		pattern = fmt.Sprintf("refs:%s:*", source)
	}

	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Reference cache invalidated", zap.String("source", source))
	return nil
}

func (c *Client) IncrementCounter(ctx context.Context, name string) error {
	return c.client.Incr(ctx, fmt.Sprintf("counter:%s", name)).Err()
}

func (c *Client) GetCounter(ctx context.Context, name string) (int64, error) {
	val, err := c.client.Get(ctx, fmt.Sprintf("counter:%s", name)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}
