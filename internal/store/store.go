package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"costledger/backend/internal/domain"
)

var (
	ErrNotFound                  = errors.New("not found")
	ErrInvalidQuantity           = errors.New("invalid quantity")
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrInvalidBatchInput         = errors.New("invalid batch input")
	ErrInsufficientBatchQuantity = errors.New("insufficient batch quantity")
	ErrAccountNotFound           = errors.New("account not found")
	ErrInvalidSale               = errors.New("invalid sale")
	ErrDuplicateSale             = errors.New("duplicate sale")
	ErrCreditLimitExceeded       = errors.New("credit limit exceeded")
	ErrAlreadyReversed           = errors.New("transaction already reversed")
	// ErrStorageFailure marks transient durability errors. Nothing from the failed
	// unit of work was committed, so the whole operation may be retried.
	ErrStorageFailure = errors.New("storage failure")
)

// Repository hands out units of work. WithTx commits only when fn returns nil and
// the context is still live; View runs fn against a read-only snapshot.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

type Tx interface {
	BatchStore
	ProductCostStore
	LedgerStore
	SaleStore
}

type BatchStore interface {
	CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error)
	GetBatch(ctx context.Context, tenantID string, batchID string) (*domain.Batch, error)
	// ListOpenBatches returns batches with quantity_remaining > 0 oldest first by
	// batch_date, then insertion order. Durable stores lock the rows.
	ListOpenBatches(ctx context.Context, tenantID string, productID string) ([]domain.Batch, error)
	// ListBatches returns batch history oldest first. With openOnly, spent batches
	// are skipped before limit applies.
	ListBatches(ctx context.Context, tenantID string, productID string, openOnly bool, limit int) ([]domain.Batch, error)
	DecrementBatch(ctx context.Context, tenantID string, batchID string, amount int64) (*domain.Batch, error)
	DeleteBatch(ctx context.Context, tenantID string, batchID string) error
}

type ProductCostStore interface {
	GetProductCost(ctx context.Context, tenantID string, productID string) (decimal.Decimal, bool, error)
	UpsertProductCost(ctx context.Context, tenantID string, productID string, cost decimal.Decimal) error
}

type LedgerStore interface {
	GetOrCreateAccount(ctx context.Context, tenantID string, customerID string) (*domain.Account, error)
	GetAccount(ctx context.Context, tenantID string, accountID string) (*domain.Account, error)
	GetAccountForUpdate(ctx context.Context, tenantID string, accountID string) (*domain.Account, error)
	UpdateAccountBalance(ctx context.Context, tenantID string, accountID string, balance decimal.Decimal) error
	UpdateCreditLimit(ctx context.Context, tenantID string, accountID string, limit decimal.Decimal) error
	// LastTransaction returns ErrNotFound for an account without entries.
	LastTransaction(ctx context.Context, tenantID string, accountID string) (*domain.AccountTransaction, error)
	InsertTransaction(ctx context.Context, entry domain.AccountTransaction) error
	GetTransaction(ctx context.Context, tenantID string, transactionID string) (*domain.AccountTransaction, error)
	// GetTransactionBySeq returns ErrNotFound when the account has no entry at seq.
	GetTransactionBySeq(ctx context.Context, tenantID string, accountID string, seq int64) (*domain.AccountTransaction, error)
	FindReversal(ctx context.Context, tenantID string, transactionID string) (*domain.AccountTransaction, error)
	// ListTransactions returns entries newest first. A limit below 1 returns all.
	ListTransactions(ctx context.Context, tenantID string, accountID string, limit int) ([]domain.AccountTransaction, error)
}

type SaleStore interface {
	CreateSale(ctx context.Context, sale domain.ProcessedSale) error
	GetSale(ctx context.Context, tenantID string, saleID string) (*domain.ProcessedSale, error)
	FindSaleByIdempotency(ctx context.Context, tenantID string, key string) (*domain.ProcessedSale, error)
}

// IsTransient reports whether err leaves the store untouched and may be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStorageFailure)
}
