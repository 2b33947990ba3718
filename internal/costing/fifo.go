package costing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"costledger/backend/internal/domain"
	"costledger/backend/internal/store"
)

// DefaultScale is the number of decimal places of the currency's minor unit.
const DefaultScale int32 = 2

// Engine prices consumed units oldest batch first. It runs inside a unit of work
// supplied by the caller, so a sale can share one transaction across products
// and the ledger.
type Engine struct {
	scale int32
}

func NewEngine(scale int32) *Engine {
	if scale < 0 {
		scale = DefaultScale
	}
	return &Engine{scale: scale}
}

func (e *Engine) Scale() int32 {
	return e.scale
}

// Round rounds half-up to the currency scale. Only persisted values are rounded.
func (e *Engine) Round(value decimal.Decimal) decimal.Decimal {
	return value.Round(e.scale)
}

// Plan walks batches in the order given and takes min(needed, remaining) from
// each. Units left over after the last batch are priced at fallback. The result
// is unrounded.
func Plan(productID string, batches []domain.Batch, quantity int64, fallback decimal.Decimal) (domain.CostResult, error) {
	if quantity < 1 {
		return domain.CostResult{}, store.ErrInvalidQuantity
	}
	if fallback.IsNegative() {
		fallback = decimal.Zero
	}

	result := domain.CostResult{
		ProductID:        productID,
		Quantity:         quantity,
		TotalCost:        decimal.Zero,
		BatchesConsumed:  make([]domain.BatchConsumption, 0, len(batches)),
		FallbackUnitCost: fallback,
	}

	needed := quantity
	for _, batch := range batches {
		if needed == 0 {
			break
		}
		if batch.QuantityRemaining < 1 {
			continue
		}
		used := min(needed, batch.QuantityRemaining)
		result.TotalCost = result.TotalCost.Add(batch.PurchaseUnitPrice.Mul(decimal.NewFromInt(used)))
		result.BatchesConsumed = append(result.BatchesConsumed, domain.BatchConsumption{
			BatchID:       batch.ID,
			UnitsConsumed: used,
			UnitPrice:     batch.PurchaseUnitPrice,
		})
		result.UnitsFromBatches += used
		needed -= used
	}

	if needed > 0 {
		result.UnitsFromFallback = needed
		result.TotalCost = result.TotalCost.Add(fallback.Mul(decimal.NewFromInt(needed)))
	}
	result.UnitCost = result.TotalCost.Div(decimal.NewFromInt(quantity))
	return result, nil
}

// Consume plans against the locked open batches and decrements every batch it
// drew from. Running out of batches is not an error: the remainder is priced at
// the product's static cost, or zero when none is recorded.
func (e *Engine) Consume(ctx context.Context, tx store.Tx, tenantID string, productID string, quantity int64) (domain.CostResult, error) {
	result, err := e.plan(ctx, tx, tenantID, productID, quantity)
	if err != nil {
		return domain.CostResult{}, err
	}

	for _, used := range result.BatchesConsumed {
		if _, err := tx.DecrementBatch(ctx, tenantID, used.BatchID, used.UnitsConsumed); err != nil {
			return domain.CostResult{}, fmt.Errorf("decrement batch %s: %w", used.BatchID, err)
		}
	}
	return result, nil
}

// Quote runs the same walk without decrementing anything.
func (e *Engine) Quote(ctx context.Context, tx store.Tx, tenantID string, productID string, quantity int64) (domain.CostResult, error) {
	return e.plan(ctx, tx, tenantID, productID, quantity)
}

func (e *Engine) plan(ctx context.Context, tx store.Tx, tenantID string, productID string, quantity int64) (domain.CostResult, error) {
	if quantity < 1 {
		return domain.CostResult{}, store.ErrInvalidQuantity
	}

	batches, err := tx.ListOpenBatches(ctx, tenantID, productID)
	if err != nil {
		return domain.CostResult{}, err
	}
	fallback, _, err := tx.GetProductCost(ctx, tenantID, productID)
	if err != nil {
		return domain.CostResult{}, err
	}
	return Plan(productID, batches, quantity, fallback)
}
