package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/arcframe/reelforge/internal/models"
)

const critiqueTTL = 24 * time.Hour

// CritiqueCache memoises the image critic's verdict by image fingerprint,
// so a regenerated image that happens to hash identically to
// one already critiqued — or a retry against the cached reference image —
// never re-spends a critic call. Grounded on a Redis client idiom,
// repurposed here as a plain TTL cache instead of a work queue.
type CritiqueCache struct {
	client *redis.Client
}

func NewCritiqueCache(redisURL string) (*CritiqueCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &CritiqueCache{client: redis.NewClient(opts)}, nil
}

func (c *CritiqueCache) Close() error {
	return c.client.Close()
}

func critiqueKey(fingerprint string) string {
	return "critique:" + fingerprint
}

// Get returns the cached verdict for fingerprint, or (nil, nil) on a
// cache miss — a miss is not an error, it just means the critic must run.
func (c *CritiqueCache) Get(ctx context.Context, fingerprint string) (*models.CritiqueVerdict, error) {
	raw, err := c.client.Get(ctx, critiqueKey(fingerprint)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("critique cache get: %w", err)
	}
	var verdict models.CritiqueVerdict
	if err := json.Unmarshal(raw, &verdict); err != nil {
		return nil, fmt.Errorf("decode cached critique: %w", err)
	}
	return &verdict, nil
}

// Set stores verdict for fingerprint with the standard 24h TTL. Set is
// idempotent: writing the same verdict twice just resets the TTL.
func (c *CritiqueCache) Set(ctx context.Context, fingerprint string, verdict models.CritiqueVerdict) error {
	raw, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("encode critique: %w", err)
	}
	if err := c.client.Set(ctx, critiqueKey(fingerprint), raw, critiqueTTL).Err(); err != nil {
		return fmt.Errorf("critique cache set: %w", err)
	}
	return nil
}
