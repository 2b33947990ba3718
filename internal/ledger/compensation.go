package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"costledger/backend/internal/domain"
	"costledger/backend/internal/store"
)

var errNoEffect = fmt.Errorf("entry left the balance unchanged: %w", store.ErrInvalidAmount)

// Reverse appends an entry that cancels the balance effect of an earlier one.
// The chain only ever grows; the original entry is left as written.
func (l *Ledger) Reverse(ctx context.Context, tx store.Tx, tenantID string, accountID string, transactionID string, notes string, createdBy string) (*domain.AccountTransaction, error) {
	original, err := l.reversible(ctx, tx, tenantID, accountID, transactionID)
	if err != nil {
		return nil, err
	}

	effect, err := l.effect(ctx, tx, tenantID, original)
	if err != nil {
		return nil, err
	}

	entry := Entry{
		Kind:       domain.KindPayment,
		Amount:     effect,
		Notes:      notes,
		Reference:  original.Reference,
		ReversalOf: original.ID,
		CreatedBy:  createdBy,
	}
	if effect.IsNegative() {
		entry.Kind = domain.KindSale
		entry.Amount = effect.Neg()
	}
	if entry.Notes == "" {
		entry.Notes = "reversal of " + original.ID
	}
	return l.Append(ctx, tx, tenantID, accountID, entry)
}

// Correct reverses an entry and appends its replacement of the same kind.
func (l *Ledger) Correct(ctx context.Context, tx store.Tx, tenantID string, accountID string, transactionID string, amount decimal.Decimal, notes string, createdBy string) (*domain.CorrectionResult, error) {
	original, err := l.reversible(ctx, tx, tenantID, accountID, transactionID)
	if err != nil {
		return nil, err
	}
	if original.Kind != domain.KindAdjustment && !amount.IsPositive() {
		return nil, store.ErrInvalidAmount
	}

	reversal, err := l.Reverse(ctx, tx, tenantID, accountID, transactionID, "", createdBy)
	if err != nil {
		return nil, err
	}
	if notes == "" {
		notes = "correction of " + original.ID
	}
	corrected, err := l.Append(ctx, tx, tenantID, accountID, Entry{
		Kind:      original.Kind,
		Amount:    amount,
		Notes:     notes,
		Reference: original.Reference,
		CreatedBy: createdBy,
	})
	if err != nil {
		return nil, err
	}
	return &domain.CorrectionResult{Reversal: *reversal, Corrected: *corrected}, nil
}

func (l *Ledger) reversible(ctx context.Context, tx store.Tx, tenantID string, accountID string, transactionID string) (*domain.AccountTransaction, error) {
	original, err := tx.GetTransaction(ctx, tenantID, transactionID)
	if err != nil {
		return nil, err
	}
	if original.AccountID != accountID {
		return nil, store.ErrNotFound
	}
	if original.ReversalOf != "" {
		return nil, fmt.Errorf("entry %s is itself a reversal: %w", original.ID, store.ErrAlreadyReversed)
	}

	_, err = tx.FindReversal(ctx, tenantID, original.ID)
	if err == nil {
		return nil, store.ErrAlreadyReversed
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return original, nil
}

// effect is balance_after minus the balance just before the entry.
func (l *Ledger) effect(ctx context.Context, tx store.Tx, tenantID string, entry *domain.AccountTransaction) (decimal.Decimal, error) {
	before := decimal.Zero
	if entry.Seq > 1 {
		previous, err := tx.GetTransactionBySeq(ctx, tenantID, entry.AccountID, entry.Seq-1)
		if err != nil {
			return decimal.Zero, err
		}
		before = previous.BalanceAfter
	}
	effect := entry.BalanceAfter.Sub(before)
	if effect.IsZero() {
		return decimal.Zero, errNoEffect
	}
	return effect, nil
}
