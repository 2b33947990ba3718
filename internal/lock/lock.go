package lock

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"costledger/backend/internal/store"
)

// Locker serializes work on named keys. Acquire takes every key or none and
// returns a release func that is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (func(), error)
}

func ProductKey(tenantID string, productID string) string {
	return fmt.Sprintf("product:%s:%s", tenantID, productID)
}

func AccountKey(tenantID string, accountID string) string {
	return fmt.Sprintf("account:%s:%s", tenantID, accountID)
}

// CustomerKey covers account creation, before the account id is known.
func CustomerKey(tenantID string, customerID string) string {
	return fmt.Sprintf("customer:%s:%s", tenantID, customerID)
}

// normalize sorts and deduplicates keys so every caller takes them in the same
// order.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			out = append(out, key)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func waitContext(ctx context.Context, wait time.Duration) (context.Context, context.CancelFunc) {
	if wait <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, wait)
}

func notObtained(ctx context.Context, key string, cause error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cause != nil {
		return fmt.Errorf("%w: lock %s: %w", store.ErrStorageFailure, key, cause)
	}
	return fmt.Errorf("%w: timed out waiting for lock %s", store.ErrStorageFailure, key)
}

type Noop struct{}

func (Noop) Acquire(context.Context, ...string) (func(), error) {
	return func() {}, nil
}

// Local serializes keys inside one process.
type Local struct {
	mu   sync.Mutex
	keys map[string]*keyLock
	wait time.Duration
}

type keyLock struct {
	held chan struct{}
	refs int
}

func NewLocal(wait time.Duration) *Local {
	return &Local{keys: make(map[string]*keyLock), wait: wait}
}

func (l *Local) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	waitCtx, cancel := waitContext(ctx, l.wait)
	defer cancel()

	acquired := make([]string, 0, len(keys))
	for _, key := range keys {
		kl := l.ref(key)
		select {
		case kl.held <- struct{}{}:
			acquired = append(acquired, key)
		case <-waitCtx.Done():
			l.unref(key)
			l.release(acquired)
			return nil, notObtained(ctx, key, nil)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(acquired) })
	}, nil
}

func (l *Local) ref(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.keys[key]
	if !ok {
		kl = &keyLock{held: make(chan struct{}, 1)}
		l.keys[key] = kl
	}
	kl.refs++
	return kl
}

func (l *Local) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.keys[key]
	if !ok {
		return
	}
	kl.refs--
	if kl.refs == 0 {
		delete(l.keys, key)
	}
}

func (l *Local) release(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		kl := l.keys[keys[i]]
		l.mu.Unlock()
		<-kl.held
		l.unref(keys[i])
	}
}
