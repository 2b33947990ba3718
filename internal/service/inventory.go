package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"costledger/backend/internal/costing"
	"costledger/backend/internal/domain"
	"costledger/backend/internal/lock"
	"costledger/backend/internal/store"
)

const batchDateLayout = "2006-01-02"

func (s *Service) CreateBatch(ctx context.Context, tenantID string, req domain.BatchCreateRequest) (domain.Batch, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Batch{}, err
	}
	if err := requireTenant(tenantID); err != nil {
		return domain.Batch{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if err := s.validate.Struct(req); err != nil {
		return domain.Batch{}, fmt.Errorf("%w: %s", store.ErrInvalidBatchInput, err.Error())
	}
	if req.PurchaseUnitPrice.IsNegative() {
		return domain.Batch{}, fmt.Errorf("%w: purchase_unit_price must not be negative", store.ErrInvalidBatchInput)
	}
	if !domain.FitsMoneyScale(req.PurchaseUnitPrice) {
		return domain.Batch{}, fmt.Errorf("%w: purchase_unit_price has more than %d decimal places", store.ErrInvalidBatchInput, domain.MoneyScale)
	}

	batchDate := time.Now().UTC().Truncate(24 * time.Hour)
	if req.BatchDate != "" {
		parsed, err := time.Parse(batchDateLayout, req.BatchDate)
		if err != nil {
			return domain.Batch{}, fmt.Errorf("%w: batch_date: %s", store.ErrInvalidBatchInput, err.Error())
		}
		batchDate = parsed
	}

	batch := domain.Batch{
		TenantID:          tenantID,
		ProductID:         req.ProductID,
		PurchaseUnitPrice: req.PurchaseUnitPrice,
		QuantityPurchased: req.QuantityPurchased,
		QuantityRemaining: req.QuantityPurchased,
		BatchDate:         batchDate,
		Supplier:          strings.TrimSpace(req.Supplier),
		Notes:             strings.TrimSpace(req.Notes),
		CreatedBy:         actorName(ctx),
	}

	var created *domain.Batch
	err := s.write(ctx, "create_batch", []string{lock.ProductKey(tenantID, batch.ProductID)}, func(tx store.Tx) error {
		var err error
		created, err = tx.CreateBatch(ctx, batch)
		return err
	})
	if err != nil {
		return domain.Batch{}, err
	}
	s.invalidateQuotes(ctx, tenantID, created.ProductID)

	s.logger.Info("batch created",
		zap.String("tenant_id", tenantID),
		zap.String("product_id", created.ProductID),
		zap.String("batch_id", created.ID),
		zap.Int64("quantity", created.QuantityPurchased),
		zap.String("unit_price", created.PurchaseUnitPrice.String()),
	)
	return *created, nil
}

func (s *Service) ListBatches(ctx context.Context, tenantID string, productID string, openOnly bool, limit int) (domain.BatchListResponse, error) {
	if err := requireTenant(tenantID); err != nil {
		return domain.BatchListResponse{}, err
	}
	productID = strings.TrimSpace(productID)

	var batches []domain.Batch
	err := s.read(ctx, func(tx store.Tx) error {
		var err error
		batches, err = tx.ListBatches(ctx, tenantID, productID, openOnly, limit)
		return err
	})
	if err != nil {
		return domain.BatchListResponse{}, err
	}
	return domain.BatchListResponse{Batches: batches}, nil
}

func (s *Service) DeleteBatch(ctx context.Context, tenantID string, batchID string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	var existing *domain.Batch
	if err := s.read(ctx, func(tx store.Tx) error {
		var err error
		existing, err = tx.GetBatch(ctx, tenantID, batchID)
		return err
	}); err != nil {
		return err
	}

	err := s.write(ctx, "delete_batch", []string{lock.ProductKey(tenantID, existing.ProductID)}, func(tx store.Tx) error {
		return tx.DeleteBatch(ctx, tenantID, batchID)
	})
	if err != nil {
		return err
	}
	s.invalidateQuotes(ctx, tenantID, existing.ProductID)

	s.logger.Info("batch deleted",
		zap.String("tenant_id", tenantID),
		zap.String("product_id", existing.ProductID),
		zap.String("batch_id", batchID),
		zap.Int64("quantity_remaining", existing.QuantityRemaining),
		zap.String("actor", actorName(ctx)),
	)
	return nil
}

// SetFallbackCost records the static unit cost used once a product's batches
// run out.
func (s *Service) SetFallbackCost(ctx context.Context, tenantID string, productID string, req domain.FallbackCostRequest) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product is required", ErrInvalidRequest)
	}
	if req.Cost.IsNegative() {
		return fmt.Errorf("%w: cost must not be negative", store.ErrInvalidAmount)
	}
	if !domain.FitsMoneyScale(req.Cost) {
		return fmt.Errorf("%w: cost has more than %d decimal places", store.ErrInvalidAmount, domain.MoneyScale)
	}

	err := s.write(ctx, "set_fallback_cost", []string{lock.ProductKey(tenantID, productID)}, func(tx store.Tx) error {
		return tx.UpsertProductCost(ctx, tenantID, productID, req.Cost)
	})
	if err != nil {
		return err
	}
	s.invalidateQuotes(ctx, tenantID, productID)

	s.logger.Info("fallback cost set",
		zap.String("tenant_id", tenantID),
		zap.String("product_id", productID),
		zap.String("cost", req.Cost.String()),
	)
	return nil
}

// Quote previews the cost of quantity units without touching any batch. Results
// are cached until the product's batches change.
func (s *Service) Quote(ctx context.Context, tenantID string, req domain.CostRequest) (domain.CostResult, error) {
	if err := requireTenant(tenantID); err != nil {
		return domain.CostResult{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if err := s.check(req); err != nil {
		return domain.CostResult{}, err
	}
	if req.Quantity < 1 {
		return domain.CostResult{}, store.ErrInvalidQuantity
	}

	// The generation is read before the snapshot so a batch mutation that
	// commits in between leaves this quote under a generation nobody reads.
	generation, err := s.quotes.Generation(ctx, tenantID, req.ProductID)
	cacheable := err == nil
	if err != nil {
		s.logger.Warn("read quote generation", zap.String("product_id", req.ProductID), zap.Error(err))
	} else {
		cached, ok, err := s.quotes.Get(ctx, tenantID, req.ProductID, generation, req.Quantity)
		if err != nil {
			s.logger.Warn("read cached quote", zap.String("product_id", req.ProductID), zap.Error(err))
		} else if ok {
			return *cached, nil
		}
	}

	var result domain.CostResult
	if err := s.read(ctx, func(tx store.Tx) error {
		var err error
		result, err = s.costing.Quote(ctx, tx, tenantID, req.ProductID, req.Quantity)
		return err
	}); err != nil {
		return domain.CostResult{}, err
	}

	if cacheable {
		if err := s.quotes.Set(ctx, tenantID, req.ProductID, generation, req.Quantity, &result, s.quoteTTL); err != nil {
			s.logger.Warn("cache quote", zap.String("product_id", req.ProductID), zap.Error(err))
		}
	}
	return result, nil
}

// ConsumeStock draws units outside a sale, for shrinkage or internal use.
func (s *Service) ConsumeStock(ctx context.Context, tenantID string, req domain.CostRequest) (domain.CostResult, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.CostResult{}, err
	}
	if err := requireTenant(tenantID); err != nil {
		return domain.CostResult{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if err := s.check(req); err != nil {
		return domain.CostResult{}, err
	}
	if req.Quantity < 1 {
		return domain.CostResult{}, store.ErrInvalidQuantity
	}

	var result domain.CostResult
	err := s.write(ctx, "consume", []string{lock.ProductKey(tenantID, req.ProductID)}, func(tx store.Tx) error {
		var err error
		result, err = s.costing.Consume(ctx, tx, tenantID, req.ProductID, req.Quantity)
		return err
	})
	if err != nil {
		return domain.CostResult{}, err
	}
	s.invalidateQuotes(ctx, tenantID, req.ProductID)

	fields := []zap.Field{
		zap.String("tenant_id", tenantID),
		zap.String("product_id", req.ProductID),
		zap.Int64("quantity", req.Quantity),
		zap.Int("batches", len(result.BatchesConsumed)),
		zap.Int64("units_from_fallback", result.UnitsFromFallback),
	}
	if result.UnitsFromFallback > 0 {
		s.logger.Warn("stock consumed beyond batches", fields...)
	} else {
		s.logger.Info("stock consumed", fields...)
	}
	return result, nil
}

// Valuation reports costed stock. With a physical count it also reports how far
// the two have drifted.
func (s *Service) Valuation(ctx context.Context, tenantID string, productID string, physicalStock *int64) (domain.StockValuation, error) {
	if err := requireTenant(tenantID); err != nil {
		return domain.StockValuation{}, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.StockValuation{}, fmt.Errorf("%w: product is required", ErrInvalidRequest)
	}
	if physicalStock != nil && *physicalStock < 0 {
		return domain.StockValuation{}, store.ErrInvalidQuantity
	}

	var valuation domain.StockValuation
	if err := s.read(ctx, func(tx store.Tx) error {
		var err error
		valuation, err = s.costing.Valuation(ctx, tx, tenantID, productID)
		return err
	}); err != nil {
		return domain.StockValuation{}, err
	}

	valuation.AverageUnitCost = valuation.AverageUnitCost.Round(s.costing.Scale())
	if physicalStock != nil {
		valuation = costing.Reconcile(valuation, *physicalStock)
		if *valuation.Difference != 0 {
			s.logger.Warn("physical stock differs from costed stock",
				zap.String("tenant_id", tenantID),
				zap.String("product_id", productID),
				zap.Int64("costed", valuation.CostedQuantity),
				zap.Int64("physical", *physicalStock),
			)
		}
	}
	return valuation, nil
}
