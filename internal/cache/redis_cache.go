package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"costledger/backend/internal/domain"
)

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// RedisQuoteCache stores quotes as JSON under the product's current generation
// and tracks every quote key of a product in a set so they can be dropped
// together.
type RedisQuoteCache struct {
	client redis.UniversalClient
}

func NewRedisQuoteCache(client redis.UniversalClient) *RedisQuoteCache {
	return &RedisQuoteCache{client: client}
}

func (c *RedisQuoteCache) Generation(ctx context.Context, tenantID string, productID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(tenantID, productID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisQuoteCache) Get(ctx context.Context, tenantID string, productID string, generation int64, quantity int64) (*domain.CostResult, bool, error) {
	val, err := c.client.Get(ctx, quoteKey(tenantID, productID, generation, quantity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var result domain.CostResult
	if err := json.Unmarshal(val, &result); err != nil {
		return nil, false, err
	}
	return &result, true, nil
}

func (c *RedisQuoteCache) Set(ctx context.Context, tenantID string, productID string, generation int64, quantity int64, value *domain.CostResult, ttl time.Duration) error {
	if value == nil || ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	key := quoteKey(tenantID, productID, generation, quantity)
	index := indexKey(tenantID, productID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, payload, ttl)
		pipe.SAdd(ctx, index, key)
		pipe.Expire(ctx, index, ttl)
		return nil
	})
	return err
}

// InvalidateProduct bumps the generation first. A quote stored afterwards under
// the old generation is unreachable even if it lands after the key sweep.
func (c *RedisQuoteCache) InvalidateProduct(ctx context.Context, tenantID string, productID string) error {
	if err := c.client.Incr(ctx, generationKey(tenantID, productID)).Err(); err != nil {
		return err
	}
	index := indexKey(tenantID, productID)
	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		return err
	}
	return c.client.Del(ctx, append(keys, index)...).Err()
}
