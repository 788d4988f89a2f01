package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

// Lookup resolves tenant metadata.
type Lookup interface {
	TenantBySlug(ctx context.Context, slug string) (*Tenant, error)
	TenantByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
}

// CachedLookup is a Redis read-through cache in front of a Lookup. Redis
// failures degrade to the underlying lookup rather than failing the request.
type CachedLookup struct {
	next   Lookup
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedLookup wraps next. A nil redis client disables caching.
func NewCachedLookup(next Lookup, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedLookup {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedLookup{next: next, redis: client, ttl: ttl, logger: logger}
}

func (c *CachedLookup) slugKey(slug string) string {
	return fmt.Sprintf("tenant:slug:%s", slug)
}

func (c *CachedLookup) idKey(id uuid.UUID) string {
	return fmt.Sprintf("tenant:id:%s", id)
}

// TenantBySlug implements Lookup.
func (c *CachedLookup) TenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	slug = NormalizeSlug(slug)
	return c.cached(ctx, c.slugKey(slug), func() (*Tenant, error) {
		return c.next.TenantBySlug(ctx, slug)
	})
}

// TenantByID implements Lookup.
func (c *CachedLookup) TenantByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return c.cached(ctx, c.idKey(id), func() (*Tenant, error) {
		return c.next.TenantByID(ctx, id)
	})
}

// Invalidate drops cached entries for t.
func (c *CachedLookup) Invalidate(ctx context.Context, t *Tenant) error {
	if c.redis == nil || t == nil {
		return nil
	}
	if err := c.redis.Del(ctx, c.slugKey(t.Slug), c.idKey(t.ID)).Err(); err != nil {
		return fmt.Errorf("tenant: invalidate cache: %w", err)
	}
	return nil
}

func (c *CachedLookup) cached(ctx context.Context, key string, load func() (*Tenant, error)) (*Tenant, error) {
	if c.redis == nil {
		return load()
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var t Tenant
		if jsonErr := json.Unmarshal(data, &t); jsonErr == nil {
			return &t, nil
		}
		c.logger.Warn("tenant: discarding undecodable cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("tenant: cache read failed", "key", key, "error", err)
	}

	t, err := load()
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(t); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("tenant: cache write failed", "key", key, "error", err)
		}
	}
	return t, nil
}
