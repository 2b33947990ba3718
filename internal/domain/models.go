package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places money columns keep.
const MoneyScale int32 = 6

// FitsMoneyScale reports whether v is stored without rounding.
func FitsMoneyScale(v decimal.Decimal) bool {
	return v.Equal(v.Truncate(MoneyScale))
}

type Batch struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	ProductID         string          `json:"product_id"`
	PurchaseUnitPrice decimal.Decimal `json:"purchase_unit_price"`
	QuantityPurchased int64           `json:"quantity_purchased"`
	QuantityRemaining int64           `json:"quantity_remaining"`
	BatchDate         time.Time       `json:"batch_date"`
	Supplier          string          `json:"supplier,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	CreatedBy         string          `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
	// Seq is assigned by the store on insert and breaks batch_date ties.
	Seq int64 `json:"seq"`
}

type BatchCreateRequest struct {
	ProductID         string          `json:"product_id" validate:"required,max=128"`
	PurchaseUnitPrice decimal.Decimal `json:"purchase_unit_price"`
	QuantityPurchased int64           `json:"quantity_purchased" validate:"gt=0"`
	BatchDate         string          `json:"batch_date" validate:"omitempty,datetime=2006-01-02"`
	Supplier          string          `json:"supplier" validate:"max=200"`
	Notes             string          `json:"notes" validate:"max=1000"`
}

type BatchListResponse struct {
	Batches []Batch `json:"batches"`
}

type BatchConsumption struct {
	BatchID       string          `json:"batch_id"`
	UnitsConsumed int64           `json:"units_consumed"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
}

// CostResult is the outcome of pricing a quantity of one product. UnitCost and
// TotalCost are unrounded.
type CostResult struct {
	ProductID         string             `json:"product_id"`
	Quantity          int64              `json:"quantity"`
	UnitCost          decimal.Decimal    `json:"unit_cost"`
	TotalCost         decimal.Decimal    `json:"total_cost"`
	BatchesConsumed   []BatchConsumption `json:"batches_consumed"`
	UnitsFromBatches  int64              `json:"units_from_batches"`
	UnitsFromFallback int64              `json:"units_from_fallback"`
	FallbackUnitCost  decimal.Decimal    `json:"fallback_unit_cost"`
}

type CostRequest struct {
	ProductID string `json:"product_id" validate:"required,max=128"`
	Quantity  int64  `json:"quantity"`
}

type FallbackCostRequest struct {
	Cost decimal.Decimal `json:"cost"`
}

type StockValuation struct {
	ProductID       string          `json:"product_id"`
	CostedQuantity  int64           `json:"costed_quantity"`
	OpenBatches     int             `json:"open_batches"`
	InventoryValue  decimal.Decimal `json:"inventory_value"`
	AverageUnitCost decimal.Decimal `json:"average_unit_cost"`
	// PhysicalStock and Difference are only set when a physical count was supplied.
	PhysicalStock *int64 `json:"physical_stock,omitempty"`
	Difference    *int64 `json:"difference,omitempty"`
}

type TransactionKind string

const (
	KindSale       TransactionKind = "sale"
	KindPayment    TransactionKind = "payment"
	KindAdjustment TransactionKind = "adjustment"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindSale, KindPayment, KindAdjustment:
		return true
	default:
		return false
	}
}

type Account struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	CustomerID string          `json:"customer_id"`
	Balance    decimal.Decimal `json:"balance"`
	// CreditLimit of zero means the account is not limited.
	CreditLimit decimal.Decimal `json:"credit_limit"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type AccountTransaction struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	TenantID     string          `json:"tenant_id"`
	Seq          int64           `json:"seq"`
	Kind         TransactionKind `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Reference    string          `json:"reference,omitempty"`
	ReversalOf   string          `json:"reversal_of,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

type AccountOpenRequest struct {
	CustomerID string `json:"customer_id" validate:"required,max=128"`
}

type AppendRequest struct {
	Kind      TransactionKind `json:"kind" validate:"required,oneof=sale payment adjustment"`
	Amount    decimal.Decimal `json:"amount"`
	Notes     string          `json:"notes" validate:"max=1000"`
	Reference string          `json:"reference" validate:"max=128"`
}

type CorrectionRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes" validate:"max=1000"`
}

type ReversalRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

type CreditLimitRequest struct {
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

type CorrectionResult struct {
	Reversal  AccountTransaction `json:"reversal"`
	Corrected AccountTransaction `json:"corrected"`
}

type TransactionListResponse struct {
	Account      Account              `json:"account"`
	Transactions []AccountTransaction `json:"transactions"`
}

type LedgerVerification struct {
	AccountID       string          `json:"account_id"`
	Entries         int             `json:"entries"`
	CachedBalance   decimal.Decimal `json:"cached_balance"`
	ReplayedBalance decimal.Decimal `json:"replayed_balance"`
	Consistent      bool            `json:"consistent"`
	// FirstMismatchSeq is zero when every entry replays exactly.
	FirstMismatchSeq int64 `json:"first_mismatch_seq,omitempty"`
}

type SaleLine struct {
	ProductID     string          `json:"product_id" validate:"required,max=128"`
	Quantity      int64           `json:"quantity"`
	UnitSalePrice decimal.Decimal `json:"unit_sale_price"`
}

type Sale struct {
	TenantID       string     `json:"-"`
	CustomerID     string     `json:"customer_id" validate:"required_if=OnAccount true,max=128"`
	OnAccount      bool       `json:"on_account"`
	IdempotencyKey string     `json:"idempotency_key" validate:"max=128"`
	Notes          string     `json:"notes" validate:"max=1000"`
	CreatedBy      string     `json:"-"`
	Lines          []SaleLine `json:"lines" validate:"required,min=1,dive"`
}

type ProcessedLine struct {
	ProductID         string             `json:"product_id"`
	Quantity          int64              `json:"quantity"`
	UnitSalePrice     decimal.Decimal    `json:"unit_sale_price"`
	UnitCost          decimal.Decimal    `json:"unit_cost"`
	Subtotal          decimal.Decimal    `json:"subtotal"`
	Profit            decimal.Decimal    `json:"profit"`
	Margin            decimal.Decimal    `json:"margin"`
	UnitsFromFallback int64              `json:"units_from_fallback"`
	BatchesConsumed   []BatchConsumption `json:"batches_consumed"`
}

type ProcessedSale struct {
	ID                  string           `json:"id"`
	TenantID            string           `json:"tenant_id"`
	CustomerID          string           `json:"customer_id,omitempty"`
	OnAccount           bool             `json:"on_account"`
	IdempotencyKey      string           `json:"idempotency_key"`
	Notes               string           `json:"notes,omitempty"`
	Lines               []ProcessedLine  `json:"lines"`
	Total               decimal.Decimal  `json:"total"`
	TotalProfit         decimal.Decimal  `json:"total_profit"`
	AverageMargin       decimal.Decimal  `json:"average_margin"`
	AccountID           string           `json:"account_id,omitempty"`
	LedgerTransactionID string           `json:"ledger_transaction_id,omitempty"`
	BalanceAfter        *decimal.Decimal `json:"balance_after,omitempty"`
	CreatedBy           string           `json:"created_by"`
	CreatedAt           time.Time        `json:"created_at"`
	Duplicate           bool             `json:"duplicate"`
}

type Actor struct {
	Username string
	Role     string
	TenantID string
}
