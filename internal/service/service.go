package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"costledger/backend/internal/cache"
	"costledger/backend/internal/costing"
	"costledger/backend/internal/domain"
	"costledger/backend/internal/ledger"
	"costledger/backend/internal/lock"
	"costledger/backend/internal/sales"
	"costledger/backend/internal/store"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrForbidden      = errors.New("admin role required")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Locker        lock.Locker
	Quotes        cache.QuoteCache
	QuoteTTL      time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
	Logger        *zap.Logger
}

type Service struct {
	repo      store.Repository
	costing   *costing.Engine
	ledger    *ledger.Ledger
	processor *sales.Processor
	locker    lock.Locker
	quotes    cache.QuoteCache
	quoteTTL  time.Duration
	attempts  int
	backoff   time.Duration
	validate  *validator.Validate
	logger    *zap.Logger
}

func New(repo store.Repository, engine *costing.Engine, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Locker == nil {
		opts.Locker = lock.Noop{}
	}
	if opts.Quotes == nil {
		opts.Quotes = cache.NoopQuoteCache{}
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}

	l := ledger.New(opts.Logger)
	return &Service{
		repo:      repo,
		costing:   engine,
		ledger:    l,
		processor: sales.NewProcessor(engine, l, opts.Logger),
		locker:    opts.Locker,
		quotes:    opts.Quotes,
		quoteTTL:  opts.QuoteTTL,
		attempts:  opts.RetryAttempts,
		backoff:   opts.RetryBackoff,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    opts.Logger,
	}
}

// write runs fn in a fresh transaction while holding keys. Transient failures
// leave nothing behind, so the whole attempt is repeated with linear backoff.
func (s *Service) write(ctx context.Context, op string, keys []string, fn func(tx store.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := s.attempt(ctx, keys, fn)
		if err == nil || !store.IsTransient(err) || attempt >= s.attempts {
			return err
		}

		wait := time.Duration(attempt) * s.backoff
		s.logger.Warn("retrying unit of work",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) attempt(ctx context.Context, keys []string, fn func(tx store.Tx) error) error {
	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return err
	}
	defer release()
	return s.repo.WithTx(ctx, fn)
}

func (s *Service) read(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.repo.View(ctx, fn)
}

func (s *Service) invalidateQuotes(ctx context.Context, tenantID string, productIDs ...string) {
	for _, productID := range productIDs {
		if err := s.quotes.InvalidateProduct(ctx, tenantID, productID); err != nil {
			s.logger.Warn("invalidate cached quotes",
				zap.String("tenant_id", tenantID),
				zap.String("product_id", productID),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, err.Error())
	}
	return nil
}

func requireTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("%w: tenant is required", ErrInvalidRequest)
	}
	return nil
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return ErrForbidden
	}
	return nil
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}
