package costing

import (
	"context"

	"github.com/shopspring/decimal"

	"costledger/backend/internal/domain"
	"costledger/backend/internal/store"
)

// Valuation reports the stock that batches can still cost and what it is worth
// at purchase price. Batch quantities are the source of truth for costed stock.
func (e *Engine) Valuation(ctx context.Context, tx store.Tx, tenantID string, productID string) (domain.StockValuation, error) {
	batches, err := tx.ListOpenBatches(ctx, tenantID, productID)
	if err != nil {
		return domain.StockValuation{}, err
	}
	return Value(productID, batches), nil
}

func Value(productID string, batches []domain.Batch) domain.StockValuation {
	valuation := domain.StockValuation{
		ProductID:       productID,
		InventoryValue:  decimal.Zero,
		AverageUnitCost: decimal.Zero,
	}
	for _, batch := range batches {
		if batch.QuantityRemaining < 1 {
			continue
		}
		valuation.OpenBatches++
		valuation.CostedQuantity += batch.QuantityRemaining
		valuation.InventoryValue = valuation.InventoryValue.Add(batch.PurchaseUnitPrice.Mul(decimal.NewFromInt(batch.QuantityRemaining)))
	}
	if valuation.CostedQuantity > 0 {
		valuation.AverageUnitCost = valuation.InventoryValue.Div(decimal.NewFromInt(valuation.CostedQuantity))
	}
	return valuation
}

// Reconcile attaches a physical count and its difference from costed stock.
// A positive difference means more units on the shelf than batches can cost.
func Reconcile(valuation domain.StockValuation, physical int64) domain.StockValuation {
	diff := physical - valuation.CostedQuantity
	valuation.PhysicalStock = &physical
	valuation.Difference = &diff
	return valuation
}
