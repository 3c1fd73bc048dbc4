package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/oolio-kart-pricing/internal/domain/product"
)

// DefaultCacheTTL bounds how long a cached product graph may be served.
const DefaultCacheTTL = 5 * time.Minute

const cacheKeyPrefix = "pricing:product:"

// ProductStore is a product source that can also be written to.
type ProductStore interface {
	product.Repository
	product.Writer
}

var (
	_ product.Repository = (*CachedProducts)(nil)
	_ product.Writer     = (*CachedProducts)(nil)
)

// CachedProducts is a read-through Redis cache in front of a ProductStore.
// Redis failures degrade to direct reads and are only logged.
type CachedProducts struct {
	next   ProductStore
	client *redis.Client
	ttl    time.Duration
}

// NewCachedProducts wraps next with a Redis cache. A nil client disables caching.
func NewCachedProducts(next ProductStore, client *redis.Client, ttl time.Duration) *CachedProducts {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedProducts{next: next, client: client, ttl: ttl}
}

func cacheKey(id string) string {
	return cacheKeyPrefix + id
}

// GetByID serves the product graph from Redis, loading and storing it on a miss.
func (c *CachedProducts) GetByID(ctx context.Context, id string) (*product.Product, error) {
	if c.client == nil {
		return c.next.GetByID(ctx, id)
	}
	lg := zctx.From(ctx)

	data, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	switch {
	case err == nil:
		var p product.Product
		if err := json.Unmarshal(data, &p); err == nil {
			return &p, nil
		}
		lg.Warn("Discarding malformed cache entry", zap.String("product_id", id))
	case !errors.Is(err, redis.Nil):
		lg.Warn("Product cache read failed", zap.String("product_id", id), zap.Error(err))
	}

	p, err := c.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(p); err == nil {
		if err := c.client.Set(ctx, cacheKey(id), data, c.ttl).Err(); err != nil {
			lg.Warn("Product cache write failed", zap.String("product_id", id), zap.Error(err))
		}
	}
	return p, nil
}

// Upsert writes through to the store and evicts the cached graph. Parents
// embedding the product as a child expire on their own TTL.
func (c *CachedProducts) Upsert(ctx context.Context, p *product.Product) error {
	if err := c.next.Upsert(ctx, p); err != nil {
		return err
	}
	return c.Invalidate(ctx, p.ID)
}

// Invalidate drops the cached graph of the given product.
func (c *CachedProducts) Invalidate(ctx context.Context, id string) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, cacheKey(id)).Err(); err != nil {
		return fmt.Errorf("evicting product %q: %w", id, err)
	}
	return nil
}
