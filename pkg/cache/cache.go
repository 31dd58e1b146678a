package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/squadforge/squad-optimizer/pkg/types"
)

// ErrMiss is returned when no cached result exists for a key.
var ErrMiss = errors.New("cache: miss")

// ResultCache stores optimization and transfer results keyed by request hash,
// so identical interactive requests skip the solver entirely.
type ResultCache struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewResultCache creates a redis-backed result cache.
func NewResultCache(client *redis.Client, logger *logrus.Logger) *ResultCache {
	return &ResultCache{client: client, logger: logger}
}

// SetSelection stores an optimization response.
func (c *ResultCache) SetSelection(ctx context.Context, key string, resp *types.OptimizeResponse, expiration time.Duration) error {
	return c.set(ctx, "selection:"+key, resp, expiration)
}

// GetSelection retrieves a cached optimization response, or ErrMiss.
func (c *ResultCache) GetSelection(ctx context.Context, key string) (*types.OptimizeResponse, error) {
	var resp types.OptimizeResponse
	if err := c.get(ctx, "selection:"+key, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetTransfer stores a transfer search response.
func (c *ResultCache) SetTransfer(ctx context.Context, key string, resp *types.TransferResponse, expiration time.Duration) error {
	return c.set(ctx, "transfer:"+key, resp, expiration)
}

// GetTransfer retrieves a cached transfer response, or ErrMiss.
func (c *ResultCache) GetTransfer(ctx context.Context, key string) (*types.TransferResponse, error) {
	var resp types.TransferResponse
	if err := c.get(ctx, "transfer:"+key, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *ResultCache) set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cached result: %w", err)
	}
	if err := c.client.Set(ctx, key, data, expiration).Err(); err != nil {
		return fmt.Errorf("failed to store result in cache: %w", err)
	}
	c.logger.WithFields(logrus.Fields{
		"cache_key":  key,
		"expiration": expiration,
	}).Debug("Cached result")
	return nil
}

func (c *ResultCache) get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return ErrMiss
		}
		return fmt.Errorf("failed to read result from cache: %w", err)
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached result: %w", err)
	}
	c.logger.WithField("cache_key", key).Debug("Cache hit")
	return nil
}
