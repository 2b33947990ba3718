package cache

import (
	"context"
	"fmt"
	"time"

	"costledger/backend/internal/domain"
)

// QuoteCache holds read-only cost quotes keyed by a per-product generation.
// Callers read Generation before computing a quote and store it under that
// generation; InvalidateProduct bumps the generation, so a quote computed from a
// snapshot older than the last batch mutation is never served.
type QuoteCache interface {
	Generation(ctx context.Context, tenantID string, productID string) (int64, error)
	Get(ctx context.Context, tenantID string, productID string, generation int64, quantity int64) (*domain.CostResult, bool, error)
	Set(ctx context.Context, tenantID string, productID string, generation int64, quantity int64, value *domain.CostResult, ttl time.Duration) error
	InvalidateProduct(ctx context.Context, tenantID string, productID string) error
}

func quoteKey(tenantID string, productID string, generation int64, quantity int64) string {
	return fmt.Sprintf("costledger:quote:%s:%s:g%d:%d", tenantID, productID, generation, quantity)
}

func indexKey(tenantID string, productID string) string {
	return fmt.Sprintf("costledger:quote-index:%s:%s", tenantID, productID)
}

func generationKey(tenantID string, productID string) string {
	return fmt.Sprintf("costledger:quote-gen:%s:%s", tenantID, productID)
}

type NoopQuoteCache struct{}

func (NoopQuoteCache) Generation(context.Context, string, string) (int64, error) {
	return 0, nil
}

func (NoopQuoteCache) Get(context.Context, string, string, int64, int64) (*domain.CostResult, bool, error) {
	return nil, false, nil
}

func (NoopQuoteCache) Set(context.Context, string, string, int64, int64, *domain.CostResult, time.Duration) error {
	return nil
}

func (NoopQuoteCache) InvalidateProduct(context.Context, string, string) error {
	return nil
}
