package doccache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier is an optional second-level overflow cache sitting behind the
// in-process LRU Cache: entries evicted locally (or too large for the
// in-process budget to keep hot) can be mirrored here so a subsequent miss
// still avoids re-fetching the origin document. It is grounded in the same
// client/key-prefix/TTL shape as the teacher's statestore.RedisStore, but
// stores raw document bytes instead of conversation state.
type RedisTier struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// ErrRedisMiss is returned by Get when the key is absent from the tier.
var ErrRedisMiss = errors.New("doccache: key not present in redis tier")

// RedisTierOption configures a RedisTier.
type RedisTierOption func(*RedisTier)

// WithTTL sets how long overflowed entries live in Redis before expiring.
func WithTTL(ttl time.Duration) RedisTierOption {
	return func(t *RedisTier) { t.ttl = ttl }
}

// WithPrefix sets the Redis key prefix used by this tier.
func WithPrefix(prefix string) RedisTierOption {
	return func(t *RedisTier) { t.prefix = prefix }
}

// NewRedisTier wraps an existing redis client as an overflow cache tier.
func NewRedisTier(client *redis.Client, opts ...RedisTierOption) *RedisTier {
	t := &RedisTier{client: client, ttl: 24 * time.Hour, prefix: "agentmem:doccache"}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *RedisTier) key(k string) string {
	return fmt.Sprintf("%s:%s", t.prefix, NormalizeKey(k))
}

// Put mirrors content into the overflow tier.
func (t *RedisTier) Put(ctx context.Context, key string, content []byte) error {
	if err := t.client.Set(ctx, t.key(key), content, t.ttl).Err(); err != nil {
		return fmt.Errorf("doccache redis put: %w", err)
	}
	return nil
}

// Get retrieves content from the overflow tier.
func (t *RedisTier) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := t.client.Get(ctx, t.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRedisMiss
		}
		return nil, fmt.Errorf("doccache redis get: %w", err)
	}
	return data, nil
}

// Delete removes a key from the overflow tier.
func (t *RedisTier) Delete(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, t.key(key)).Err(); err != nil {
		return fmt.Errorf("doccache redis delete: %w", err)
	}
	return nil
}
