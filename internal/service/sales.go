package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"costledger/backend/internal/domain"
	"costledger/backend/internal/lock"
	"costledger/backend/internal/store"
)

// ProcessSale costs and records a sale in one unit of work. Replaying an
// idempotency key returns the stored sale marked as a duplicate.
func (s *Service) ProcessSale(ctx context.Context, tenantID string, sale domain.Sale) (domain.ProcessedSale, error) {
	if err := requireTenant(tenantID); err != nil {
		return domain.ProcessedSale{}, err
	}
	sale.TenantID = tenantID
	sale.CreatedBy = actorName(ctx)
	sale.CustomerID = strings.TrimSpace(sale.CustomerID)
	sale.IdempotencyKey = strings.TrimSpace(sale.IdempotencyKey)
	for i := range sale.Lines {
		sale.Lines[i].ProductID = strings.TrimSpace(sale.Lines[i].ProductID)
	}
	if err := s.validate.Struct(sale); err != nil {
		return domain.ProcessedSale{}, fmt.Errorf("%w: %s", store.ErrInvalidSale, err.Error())
	}

	keys := make([]string, 0, len(sale.Lines)+1)
	for _, line := range sale.Lines {
		keys = append(keys, lock.ProductKey(tenantID, line.ProductID))
	}
	if sale.OnAccount {
		account, err := s.ensureAccount(ctx, tenantID, sale.CustomerID)
		if err != nil {
			return domain.ProcessedSale{}, err
		}
		keys = append(keys, lock.AccountKey(tenantID, account.ID))
	}

	var processed *domain.ProcessedSale
	err := s.write(ctx, "process_sale", keys, func(tx store.Tx) error {
		var err error
		processed, err = s.processor.Process(ctx, tx, sale)
		return err
	})
	if errors.Is(err, store.ErrDuplicateSale) && sale.IdempotencyKey != "" {
		// Another request with the same key committed first.
		processed, err = s.findByIdempotency(ctx, tenantID, sale.IdempotencyKey)
	}
	if err != nil {
		s.logger.Warn("sale rejected",
			zap.String("tenant_id", tenantID),
			zap.String("customer_id", sale.CustomerID),
			zap.Int("lines", len(sale.Lines)),
			zap.Error(err),
		)
		return domain.ProcessedSale{}, err
	}
	if processed.Duplicate {
		s.logger.Info("duplicate sale replayed",
			zap.String("tenant_id", tenantID),
			zap.String("sale_id", processed.ID),
			zap.String("idempotency_key", sale.IdempotencyKey),
		)
		return *processed, nil
	}

	products := make([]string, 0, len(processed.Lines))
	var fallbackUnits int64
	for _, line := range processed.Lines {
		products = append(products, line.ProductID)
		fallbackUnits += line.UnitsFromFallback
	}
	s.invalidateQuotes(ctx, tenantID, products...)

	s.logger.Info("sale processed",
		zap.String("tenant_id", tenantID),
		zap.String("sale_id", processed.ID),
		zap.Bool("on_account", processed.OnAccount),
		zap.String("account_id", processed.AccountID),
		zap.String("total", processed.Total.String()),
		zap.String("total_profit", processed.TotalProfit.String()),
		zap.Int64("units_from_fallback", fallbackUnits),
	)
	return *processed, nil
}

func (s *Service) findByIdempotency(ctx context.Context, tenantID string, key string) (*domain.ProcessedSale, error) {
	var existing *domain.ProcessedSale
	err := s.read(ctx, func(tx store.Tx) error {
		var err error
		existing, err = tx.FindSaleByIdempotency(ctx, tenantID, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	existing.Duplicate = true
	return existing, nil
}

func (s *Service) GetSale(ctx context.Context, tenantID string, saleID string) (domain.ProcessedSale, error) {
	if err := requireTenant(tenantID); err != nil {
		return domain.ProcessedSale{}, err
	}
	var sale *domain.ProcessedSale
	err := s.read(ctx, func(tx store.Tx) error {
		var err error
		sale, err = tx.GetSale(ctx, tenantID, saleID)
		return err
	})
	if err != nil {
		return domain.ProcessedSale{}, err
	}
	return *sale, nil
}
