package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yoonsoo-han/autotrader/internal/metrics"
)

// RedisTier adapts a *redis.Client to the L2 interface. Prefix deletion
// uses SCAN-based enumeration rather than KEYS to avoid blocking the
// Redis event loop on large keyspaces.
type RedisTier struct {
	client *redis.Client
	prefix string
}

// NewRedisTier wraps client under the given namespace prefix (so multiple
// deployments can share a Redis instance).
func NewRedisTier(client *redis.Client, namespace string) *RedisTier {
	return &RedisTier{client: client, prefix: namespace}
}

func (r *RedisTier) nsKey(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *RedisTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	metrics.RecordRedisOperation("get")
	v, err := r.client.Get(ctx, r.nsKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	metrics.RecordRedisOperation("set")
	return r.client.Set(ctx, r.nsKey(key), value, ttl).Err()
}

// DeletePrefix scans the namespace for keys whose local part starts with
// prefix and deletes them in batches.
func (r *RedisTier) DeletePrefix(ctx context.Context, prefix string) error {
	pattern := r.nsKey(prefix) + "*"
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
