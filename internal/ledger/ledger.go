package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"costledger/backend/internal/domain"
	"costledger/backend/internal/store"
	"costledger/backend/internal/xid"
)

// AppendError reports a rejected append together with the balance the account
// had at that moment.
type AppendError struct {
	AccountID      string
	Kind           domain.TransactionKind
	Amount         decimal.Decimal
	CurrentBalance decimal.Decimal
	Err            error
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("append %s of %s to account %s (current balance %s): %v",
		e.Kind, e.Amount.String(), e.AccountID, e.CurrentBalance.String(), e.Err)
}

func (e *AppendError) Unwrap() error {
	return e.Err
}

// Entry is one append request. ReversalOf is set only by Reverse.
type Entry struct {
	Kind       domain.TransactionKind
	Amount     decimal.Decimal
	Notes      string
	Reference  string
	ReversalOf string
	CreatedBy  string
}

// Ledger appends to per-account transaction chains. Every method runs inside the
// caller's unit of work.
type Ledger struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{logger: logger}
}

// Apply returns the balance after an entry of kind and amount is applied to
// balance. Amounts finer than domain.MoneyScale are rejected.
func Apply(balance decimal.Decimal, kind domain.TransactionKind, amount decimal.Decimal) (decimal.Decimal, error) {
	if !domain.FitsMoneyScale(amount) {
		return balance, fmt.Errorf("amount %s has more than %d decimal places: %w", amount.String(), domain.MoneyScale, store.ErrInvalidAmount)
	}
	switch kind {
	case domain.KindSale:
		if !amount.IsPositive() {
			return balance, store.ErrInvalidAmount
		}
		return balance.Add(amount), nil
	case domain.KindPayment:
		if !amount.IsPositive() {
			return balance, store.ErrInvalidAmount
		}
		return balance.Sub(amount), nil
	case domain.KindAdjustment:
		return amount, nil
	default:
		return balance, fmt.Errorf("unknown transaction kind %q: %w", kind, store.ErrInvalidAmount)
	}
}

func (l *Ledger) GetOrCreateAccount(ctx context.Context, tx store.Tx, tenantID string, customerID string) (*domain.Account, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, store.ErrAccountNotFound
	}
	return tx.GetOrCreateAccount(ctx, tenantID, customerID)
}

func (l *Ledger) GetAccount(ctx context.Context, tx store.Tx, tenantID string, accountID string) (*domain.Account, error) {
	return tx.GetAccount(ctx, tenantID, accountID)
}

// ListTransactions returns entries newest first. A limit below 1 returns all.
func (l *Ledger) ListTransactions(ctx context.Context, tx store.Tx, tenantID string, accountID string, limit int) ([]domain.AccountTransaction, error) {
	return tx.ListTransactions(ctx, tenantID, accountID, limit)
}

// SetCreditLimit stores a non-negative limit. Zero means unbounded.
func (l *Ledger) SetCreditLimit(ctx context.Context, tx store.Tx, tenantID string, accountID string, limit decimal.Decimal) (*domain.Account, error) {
	if limit.IsNegative() || !domain.FitsMoneyScale(limit) {
		return nil, store.ErrInvalidAmount
	}
	account, err := tx.GetAccountForUpdate(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}
	if err := tx.UpdateCreditLimit(ctx, tenantID, accountID, limit); err != nil {
		return nil, err
	}
	account.CreditLimit = limit
	return account, nil
}

// Append locks the account, reads the balance from the latest entry and writes
// the new entry and the cached balance together.
func (l *Ledger) Append(ctx context.Context, tx store.Tx, tenantID string, accountID string, entry Entry) (*domain.AccountTransaction, error) {
	fail := func(balance decimal.Decimal, err error) error {
		return &AppendError{AccountID: accountID, Kind: entry.Kind, Amount: entry.Amount, CurrentBalance: balance, Err: err}
	}

	account, err := tx.GetAccountForUpdate(ctx, tenantID, accountID)
	if err != nil {
		return nil, fail(decimal.Zero, err)
	}

	current, seq, err := l.head(ctx, tx, tenantID, accountID)
	if err != nil {
		return nil, fail(account.Balance, err)
	}
	if !account.Balance.Equal(current) {
		l.logger.Warn("account balance drifted from ledger, repairing",
			zap.String("tenant_id", tenantID),
			zap.String("account_id", accountID),
			zap.String("cached_balance", account.Balance.String()),
			zap.String("ledger_balance", current.String()),
		)
	}

	balanceAfter, err := Apply(current, entry.Kind, entry.Amount)
	if err != nil {
		return nil, fail(current, err)
	}

	created := domain.AccountTransaction{
		ID:           xid.New("txn"),
		AccountID:    accountID,
		TenantID:     tenantID,
		Seq:          seq + 1,
		Kind:         entry.Kind,
		Amount:       entry.Amount,
		BalanceAfter: balanceAfter,
		Reference:    entry.Reference,
		ReversalOf:   entry.ReversalOf,
		Notes:        entry.Notes,
		CreatedBy:    entry.CreatedBy,
		CreatedAt:    time.Now().UTC(),
	}
	if err := tx.InsertTransaction(ctx, created); err != nil {
		return nil, fail(current, err)
	}
	if err := tx.UpdateAccountBalance(ctx, tenantID, accountID, balanceAfter); err != nil {
		return nil, fail(current, err)
	}
	return &created, nil
}

// head returns the balance and seq of the latest entry, or zero for an empty chain.
func (l *Ledger) head(ctx context.Context, tx store.Tx, tenantID string, accountID string) (decimal.Decimal, int64, error) {
	last, err := tx.LastTransaction(ctx, tenantID, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, 0, nil
	}
	if err != nil {
		return decimal.Zero, 0, err
	}
	return last.BalanceAfter, last.Seq, nil
}
