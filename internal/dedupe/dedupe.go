// Package dedupe claims inbound provider message ids so concurrent webhook
// redeliveries are processed once.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

const defaultTTL = 10 * time.Minute

// Claimer short-circuits concurrent deliveries of the same message. The
// durable guard remains the unique provider message id on messages.
type Claimer struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	logger *logging.Logger
}

// New returns a Claimer. A nil client makes every claim succeed.
func New(client *redis.Client, ttl time.Duration, logger *logging.Logger) *Claimer {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Claimer{redis: client, ttl: ttl, prefix: "inbound:claim:", logger: logger}
}

func (c *Claimer) key(providerMessageID string) string {
	return c.prefix + providerMessageID
}

// Claim reports whether the caller owns processing of providerMessageID.
// Redis errors fail open.
func (c *Claimer) Claim(ctx context.Context, providerMessageID string) (bool, error) {
	if c == nil || c.redis == nil || providerMessageID == "" {
		return true, nil
	}
	ok, err := c.redis.SetNX(ctx, c.key(providerMessageID), time.Now().UTC().Format(time.RFC3339Nano), c.ttl).Result()
	if err != nil {
		c.logger.Warn("dedupe: claim failed, continuing", "provider_message_id", providerMessageID, "error", err)
		return true, fmt.Errorf("dedupe: claim: %w", err)
	}
	return ok, nil
}

// Release drops a claim so a later redelivery can retry after a failure.
func (c *Claimer) Release(ctx context.Context, providerMessageID string) {
	if c == nil || c.redis == nil || providerMessageID == "" {
		return
	}
	if err := c.redis.Del(ctx, c.key(providerMessageID)).Err(); err != nil {
		c.logger.Warn("dedupe: release failed", "provider_message_id", providerMessageID, "error", err)
	}
}
