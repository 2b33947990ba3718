package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"go.uber.org/zap"
)

const (
	keyPrefix    = "costledger:lock:"
	retryBackoff = 25 * time.Millisecond
	releaseAfter = 2 * time.Second
)

// Redis serializes keys across processes with redislock. The TTL bounds how long
// a crashed holder can block others.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger
}

func NewRedis(client redislock.RedisClient, ttl time.Duration, wait time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: redislock.New(client), ttl: ttl, wait: wait, logger: logger}
}

func (r *Redis) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	waitCtx, cancel := waitContext(ctx, r.wait)
	defer cancel()

	held := make([]*redislock.Lock, 0, len(keys))
	for _, key := range keys {
		lock, err := r.client.Obtain(waitCtx, keyPrefix+key, r.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(retryBackoff),
		})
		if err != nil {
			r.release(held)
			if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
				return nil, notObtained(ctx, key, nil)
			}
			return nil, notObtained(ctx, key, err)
		}
		held = append(held, lock)
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.release(held) })
	}, nil
}

// release runs on its own context so a canceled request still frees its keys.
func (r *Redis) release(held []*redislock.Lock) {
	if len(held) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseAfter)
	defer cancel()
	for i := len(held) - 1; i >= 0; i-- {
		if err := held[i].Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.Warn("release redis lock", zap.String("key", held[i].Key()), zap.Error(err))
		}
	}
}
