package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"costledger/backend/internal/costing"
	"costledger/backend/internal/domain"
	"costledger/backend/internal/ledger"
	"costledger/backend/internal/store"
	"costledger/backend/internal/xid"
)

// MarginScale is the number of decimal places kept on margins.
const MarginScale int32 = 4

// LineError names the sale line that failed. Index is zero-based.
type LineError struct {
	Index     int
	ProductID string
	Err       error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d (product %s): %v", e.Index+1, e.ProductID, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

type Processor struct {
	costing *costing.Engine
	ledger  *ledger.Ledger
	logger  *zap.Logger
}

func NewProcessor(engine *costing.Engine, l *ledger.Ledger, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{costing: engine, ledger: l, logger: logger}
}

// Process costs every line, posts the total to the customer's account for
// on-account sales and stores the result, all inside tx. Any error leaves the
// caller to roll the whole unit back.
func (p *Processor) Process(ctx context.Context, tx store.Tx, sale domain.Sale) (*domain.ProcessedSale, error) {
	if strings.TrimSpace(sale.TenantID) == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidSale
	}
	if sale.OnAccount && strings.TrimSpace(sale.CustomerID) == "" {
		return nil, fmt.Errorf("on-account sale without customer: %w", store.ErrInvalidSale)
	}

	if sale.IdempotencyKey != "" {
		existing, err := tx.FindSaleByIdempotency(ctx, sale.TenantID, sale.IdempotencyKey)
		if err == nil {
			existing.Duplicate = true
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	processed := &domain.ProcessedSale{
		ID:             xid.New("sale"),
		TenantID:       sale.TenantID,
		CustomerID:     sale.CustomerID,
		OnAccount:      sale.OnAccount,
		IdempotencyKey: sale.IdempotencyKey,
		Notes:          sale.Notes,
		Lines:          make([]domain.ProcessedLine, 0, len(sale.Lines)),
		Total:          decimal.Zero,
		TotalProfit:    decimal.Zero,
		AverageMargin:  decimal.Zero,
		CreatedBy:      sale.CreatedBy,
		CreatedAt:      time.Now().UTC(),
	}

	for i, line := range sale.Lines {
		processedLine, err := p.processLine(ctx, tx, sale.TenantID, line)
		if err != nil {
			return nil, &LineError{Index: i, ProductID: line.ProductID, Err: err}
		}
		if processedLine.UnitsFromFallback > 0 {
			p.logger.Warn("sale line priced partly from static cost",
				zap.String("tenant_id", sale.TenantID),
				zap.String("sale_id", processed.ID),
				zap.String("product_id", line.ProductID),
				zap.Int64("units_from_fallback", processedLine.UnitsFromFallback),
			)
		}
		processed.Lines = append(processed.Lines, processedLine)
		processed.Total = processed.Total.Add(processedLine.Subtotal)
		processed.TotalProfit = processed.TotalProfit.Add(processedLine.Profit)
	}
	if !processed.Total.IsZero() {
		processed.AverageMargin = processed.TotalProfit.Div(processed.Total).Round(MarginScale)
	}

	if sale.OnAccount {
		if err := p.postToAccount(ctx, tx, processed); err != nil {
			return nil, err
		}
	}

	if err := tx.CreateSale(ctx, *processed); err != nil {
		return nil, err
	}
	return processed, nil
}

func (p *Processor) processLine(ctx context.Context, tx store.Tx, tenantID string, line domain.SaleLine) (domain.ProcessedLine, error) {
	if strings.TrimSpace(line.ProductID) == "" {
		return domain.ProcessedLine{}, store.ErrInvalidSale
	}
	if line.Quantity < 1 {
		return domain.ProcessedLine{}, store.ErrInvalidQuantity
	}
	if line.UnitSalePrice.IsNegative() || !domain.FitsMoneyScale(line.UnitSalePrice) {
		return domain.ProcessedLine{}, store.ErrInvalidAmount
	}

	cost, err := p.costing.Consume(ctx, tx, tenantID, line.ProductID, line.Quantity)
	if err != nil {
		return domain.ProcessedLine{}, err
	}

	qty := decimal.NewFromInt(line.Quantity)
	unitCost := p.costing.Round(cost.UnitCost)
	unitProfit := line.UnitSalePrice.Sub(unitCost)
	margin := decimal.Zero
	if !line.UnitSalePrice.IsZero() {
		margin = unitProfit.Div(line.UnitSalePrice).Round(MarginScale)
	}

	return domain.ProcessedLine{
		ProductID:         line.ProductID,
		Quantity:          line.Quantity,
		UnitSalePrice:     line.UnitSalePrice,
		UnitCost:          unitCost,
		Subtotal:          line.UnitSalePrice.Mul(qty),
		Profit:            unitProfit.Mul(qty),
		Margin:            margin,
		UnitsFromFallback: cost.UnitsFromFallback,
		BatchesConsumed:   cost.BatchesConsumed,
	}, nil
}

// postToAccount appends the sale total. A zero total leaves the ledger alone.
func (p *Processor) postToAccount(ctx context.Context, tx store.Tx, processed *domain.ProcessedSale) error {
	account, err := p.ledger.GetOrCreateAccount(ctx, tx, processed.TenantID, processed.CustomerID)
	if err != nil {
		return err
	}
	processed.AccountID = account.ID
	if !processed.Total.IsPositive() {
		return nil
	}

	entry, err := p.ledger.Append(ctx, tx, processed.TenantID, account.ID, ledger.Entry{
		Kind:      domain.KindSale,
		Amount:    processed.Total,
		Notes:     processed.Notes,
		Reference: processed.ID,
		CreatedBy: processed.CreatedBy,
	})
	if err != nil {
		return err
	}

	if account.CreditLimit.IsPositive() && entry.BalanceAfter.GreaterThan(account.CreditLimit) {
		return &ledger.AppendError{
			AccountID:      account.ID,
			Kind:           domain.KindSale,
			Amount:         processed.Total,
			CurrentBalance: entry.BalanceAfter.Sub(processed.Total),
			Err:            fmt.Errorf("credit limit %s: %w", account.CreditLimit.String(), store.ErrCreditLimitExceeded),
		}
	}

	balance := entry.BalanceAfter
	processed.LedgerTransactionID = entry.ID
	processed.BalanceAfter = &balance
	return nil
}
