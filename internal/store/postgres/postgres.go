package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"costledger/backend/internal/domain"
	"costledger/backend/internal/store"
	"costledger/backend/internal/xid"
)

const (
	batchColumns       = `id, tenant_id, product_id, purchase_unit_price, quantity_purchased, quantity_remaining, batch_date, supplier, notes, created_by, created_at, seq`
	accountColumns     = `id, tenant_id, customer_id, balance, credit_limit, created_at, updated_at`
	transactionColumns = `id, account_id, tenant_id, seq, kind, amount, balance_after, reference, COALESCE(reversal_of, ''), notes, created_by, created_at`
	saleColumns        = `id, tenant_id, customer_id, on_account, COALESCE(idempotency_key, ''), notes, total, total_profit, average_margin, COALESCE(account_id, ''), COALESCE(ledger_transaction_id, ''), balance_after, created_by, created_at`
)

type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// New connects and pings. lockTimeout bounds every row-lock wait inside a unit
// of work; zero leaves the server default.
func New(ctx context.Context, databaseURL string, lockTimeout time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, lockTimeout: lockTimeout}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *Store) run(ctx context.Context, readOnly bool, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: readOnly})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if s.lockTimeout > 0 {
		// SET does not take bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return classify(err)
		}
	}

	if err := fn(&tx{tx: sqlTx, readOnly: readOnly}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

type tx struct {
	tx       *sql.Tx
	readOnly bool
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (t *tx) CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error) {
	if strings.TrimSpace(batch.TenantID) == "" || strings.TrimSpace(batch.ProductID) == "" {
		return nil, store.ErrInvalidBatchInput
	}
	if batch.QuantityPurchased < 1 || batch.PurchaseUnitPrice.IsNegative() {
		return nil, store.ErrInvalidBatchInput
	}
	if batch.QuantityRemaining < 0 || batch.QuantityRemaining > batch.QuantityPurchased {
		return nil, store.ErrInvalidBatchInput
	}
	if batch.ID == "" {
		batch.ID = xid.New("bat")
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	if batch.BatchDate.IsZero() {
		batch.BatchDate = batch.CreatedAt
	}
	batch.BatchDate = dateUTC(batch.BatchDate)

	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO batches (
			id, tenant_id, product_id, purchase_unit_price, quantity_purchased,
			quantity_remaining, batch_date, supplier, notes, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING seq
	`, batch.ID, batch.TenantID, batch.ProductID, batch.PurchaseUnitPrice, batch.QuantityPurchased,
		batch.QuantityRemaining, batch.BatchDate, batch.Supplier, batch.Notes, batch.CreatedBy, batch.CreatedAt).Scan(&batch.Seq)
	if err != nil {
		if isUniqueViolation(err) || isCheckViolation(err) {
			return nil, store.ErrInvalidBatchInput
		}
		return nil, classify(err)
	}

	created := batch
	return &created, nil
}

func (t *tx) GetBatch(ctx context.Context, tenantID string, batchID string) (*domain.Batch, error) {
	batch, err := scanBatch(t.tx.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, batchID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	return batch, nil
}

func (t *tx) ListOpenBatches(ctx context.Context, tenantID string, productID string) ([]domain.Batch, error) {
	query := `
		SELECT ` + batchColumns + `
		FROM batches
		WHERE tenant_id = $1 AND product_id = $2 AND quantity_remaining > 0
		ORDER BY batch_date ASC, seq ASC
	`
	if !t.readOnly {
		query += ` FOR UPDATE`
	}
	return t.queryBatches(ctx, query, tenantID, productID)
}

func (t *tx) ListBatches(ctx context.Context, tenantID string, productID string, openOnly bool, limit int) ([]domain.Batch, error) {
	if limit < 1 {
		limit = 200
	}
	return t.queryBatches(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		WHERE tenant_id = $1 AND ($2 = '' OR product_id = $2)
			AND ($3 = false OR quantity_remaining > 0)
		ORDER BY batch_date ASC, seq ASC
		LIMIT $4
	`, tenantID, productID, openOnly, limit)
}

func (t *tx) queryBatches(ctx context.Context, query string, args ...any) ([]domain.Batch, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	batches := make([]domain.Batch, 0, 8)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, classify(err)
		}
		batches = append(batches, *batch)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return batches, nil
}

func (t *tx) DecrementBatch(ctx context.Context, tenantID string, batchID string, amount int64) (*domain.Batch, error) {
	if amount < 1 {
		return nil, store.ErrInvalidQuantity
	}

	batch, err := scanBatch(t.tx.QueryRowContext(ctx, `
		UPDATE batches
		SET quantity_remaining = quantity_remaining - $3
		WHERE tenant_id = $1 AND id = $2 AND quantity_remaining >= $3
		RETURNING `+batchColumns, tenantID, batchID, amount))
	if err == nil {
		return batch, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, classify(err)
	}

	var exists bool
	err = t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM batches WHERE tenant_id = $1 AND id = $2)
	`, tenantID, batchID).Scan(&exists)
	if err != nil {
		return nil, classify(err)
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return nil, store.ErrInsufficientBatchQuantity
}

func (t *tx) DeleteBatch(ctx context.Context, tenantID string, batchID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM batches WHERE tenant_id = $1 AND id = $2`, tenantID, batchID)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) GetProductCost(ctx context.Context, tenantID string, productID string) (decimal.Decimal, bool, error) {
	var cost decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		SELECT cost
		FROM product_costs
		WHERE tenant_id = $1 AND product_id = $2
	`, tenantID, productID).Scan(&cost)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, classify(err)
	}
	return cost, true, nil
}

func (t *tx) UpsertProductCost(ctx context.Context, tenantID string, productID string, cost decimal.Decimal) error {
	if productID == "" || cost.IsNegative() {
		return store.ErrInvalidBatchInput
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO product_costs (tenant_id, product_id, cost, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (tenant_id, product_id)
		DO UPDATE SET cost = EXCLUDED.cost, updated_at = now()
	`, tenantID, productID, cost)
	return classify(err)
}

// GetOrCreateAccount inserts and then re-reads, so a concurrent creator's row
// is returned instead of a constraint error.
func (t *tx) GetOrCreateAccount(ctx context.Context, tenantID string, customerID string) (*domain.Account, error) {
	if !t.readOnly {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO accounts (id, tenant_id, customer_id, balance, credit_limit, created_at, updated_at)
			VALUES ($1,$2,$3,0,0,now(),now())
			ON CONFLICT (tenant_id, customer_id) DO NOTHING
		`, xid.New("acc"), tenantID, customerID)
		if err != nil {
			return nil, classify(err)
		}
	}

	account, err := scanAccount(t.tx.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE tenant_id = $1 AND customer_id = $2
	`, tenantID, customerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrAccountNotFound
		}
		return nil, classify(err)
	}
	return account, nil
}

func (t *tx) GetAccount(ctx context.Context, tenantID string, accountID string) (*domain.Account, error) {
	return t.getAccount(ctx, tenantID, accountID, false)
}

func (t *tx) GetAccountForUpdate(ctx context.Context, tenantID string, accountID string) (*domain.Account, error) {
	return t.getAccount(ctx, tenantID, accountID, !t.readOnly)
}

func (t *tx) getAccount(ctx context.Context, tenantID string, accountID string, forUpdate bool) (*domain.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE tenant_id = $1 AND id = $2
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	account, err := scanAccount(t.tx.QueryRowContext(ctx, query, tenantID, accountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrAccountNotFound
		}
		return nil, classify(err)
	}
	return account, nil
}

func (t *tx) UpdateAccountBalance(ctx context.Context, tenantID string, accountID string, balance decimal.Decimal) error {
	return t.updateAccount(ctx, `
		UPDATE accounts SET balance = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, accountID, balance)
}

func (t *tx) UpdateCreditLimit(ctx context.Context, tenantID string, accountID string, limit decimal.Decimal) error {
	return t.updateAccount(ctx, `
		UPDATE accounts SET credit_limit = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, accountID, limit)
}

func (t *tx) updateAccount(ctx context.Context, query string, tenantID string, accountID string, value decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, query, tenantID, accountID, value)
	if err != nil {
		if isCheckViolation(err) {
			return store.ErrInvalidAmount
		}
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if affected == 0 {
		return store.ErrAccountNotFound
	}
	return nil
}

func (t *tx) LastTransaction(ctx context.Context, tenantID string, accountID string) (*domain.AccountTransaction, error) {
	if err := t.requireAccount(ctx, tenantID, accountID); err != nil {
		return nil, err
	}
	return t.getTransaction(ctx, `
		SELECT `+transactionColumns+`
		FROM account_transactions
		WHERE tenant_id = $1 AND account_id = $2
		ORDER BY seq DESC
		LIMIT 1
	`, tenantID, accountID)
}

func (t *tx) InsertTransaction(ctx context.Context, entry domain.AccountTransaction) error {
	if !entry.Kind.Valid() || entry.ID == "" {
		return store.ErrInvalidAmount
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO account_transactions (
			id, account_id, tenant_id, seq, kind, amount, balance_after,
			reference, reversal_of, notes, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, entry.ID, entry.AccountID, entry.TenantID, entry.Seq, string(entry.Kind), entry.Amount, entry.BalanceAfter,
		entry.Reference, nullIfEmpty(entry.ReversalOf), entry.Notes, entry.CreatedBy, entry.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch {
			case pgErr.Code == "23505" && pgErr.ConstraintName == "account_transactions_reversal_of_key":
				return store.ErrAlreadyReversed
			case pgErr.Code == "23503" && strings.Contains(pgErr.ConstraintName, "account_id"):
				return store.ErrAccountNotFound
			}
		}
		// A seq collision means another writer appended first; retryable.
		return classify(err)
	}
	return nil
}

func (t *tx) GetTransaction(ctx context.Context, tenantID string, transactionID string) (*domain.AccountTransaction, error) {
	return t.getTransaction(ctx, `
		SELECT `+transactionColumns+`
		FROM account_transactions
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, transactionID)
}

func (t *tx) GetTransactionBySeq(ctx context.Context, tenantID string, accountID string, seq int64) (*domain.AccountTransaction, error) {
	return t.getTransaction(ctx, `
		SELECT `+transactionColumns+`
		FROM account_transactions
		WHERE tenant_id = $1 AND account_id = $2 AND seq = $3
	`, tenantID, accountID, seq)
}

func (t *tx) FindReversal(ctx context.Context, tenantID string, transactionID string) (*domain.AccountTransaction, error) {
	return t.getTransaction(ctx, `
		SELECT `+transactionColumns+`
		FROM account_transactions
		WHERE tenant_id = $1 AND reversal_of = $2
	`, tenantID, transactionID)
}

func (t *tx) getTransaction(ctx context.Context, query string, args ...any) (*domain.AccountTransaction, error) {
	entry, err := scanTransaction(t.tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	return entry, nil
}

func (t *tx) ListTransactions(ctx context.Context, tenantID string, accountID string, limit int) ([]domain.AccountTransaction, error) {
	if err := t.requireAccount(ctx, tenantID, accountID); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM account_transactions
		WHERE tenant_id = $1 AND account_id = $2
		ORDER BY seq DESC
	`
	args := []any{tenantID, accountID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	entries := make([]domain.AccountTransaction, 0, 16)
	for rows.Next() {
		entry, err := scanTransaction(rows)
		if err != nil {
			return nil, classify(err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

func (t *tx) requireAccount(ctx context.Context, tenantID string, accountID string) error {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM accounts WHERE tenant_id = $1 AND id = $2)
	`, tenantID, accountID).Scan(&exists)
	if err != nil {
		return classify(err)
	}
	if !exists {
		return store.ErrAccountNotFound
	}
	return nil
}

func (t *tx) CreateSale(ctx context.Context, sale domain.ProcessedSale) error {
	if sale.ID == "" || len(sale.Lines) == 0 {
		return store.ErrInvalidSale
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	var balanceAfter any
	if sale.BalanceAfter != nil {
		balanceAfter = *sale.BalanceAfter
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, tenant_id, customer_id, on_account, idempotency_key, notes, total,
			total_profit, average_margin, account_id, ledger_transaction_id,
			balance_after, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sale.ID, sale.TenantID, sale.CustomerID, sale.OnAccount, nullIfEmpty(sale.IdempotencyKey), sale.Notes, sale.Total,
		sale.TotalProfit, sale.AverageMargin, nullIfEmpty(sale.AccountID), nullIfEmpty(sale.LedgerTransactionID),
		balanceAfter, sale.CreatedBy, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateSale
		}
		return classify(err)
	}

	for i, line := range sale.Lines {
		consumed, err := json.Marshal(line.BatchesConsumed)
		if err != nil {
			return fmt.Errorf("encode batches consumed: %w", err)
		}
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO sale_items (
				sale_id, line_no, product_id, quantity, unit_sale_price, unit_cost,
				subtotal, profit, margin, units_from_fallback, batches_consumed
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, sale.ID, i+1, line.ProductID, line.Quantity, line.UnitSalePrice, line.UnitCost,
			line.Subtotal, line.Profit, line.Margin, line.UnitsFromFallback, string(consumed))
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

func (t *tx) GetSale(ctx context.Context, tenantID string, saleID string) (*domain.ProcessedSale, error) {
	return t.findSale(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, saleID)
}

func (t *tx) FindSaleByIdempotency(ctx context.Context, tenantID string, key string) (*domain.ProcessedSale, error) {
	return t.findSale(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key)
}

func (t *tx) findSale(ctx context.Context, query string, args ...any) (*domain.ProcessedSale, error) {
	var sale domain.ProcessedSale
	var balanceAfter decimal.NullDecimal
	err := t.tx.QueryRowContext(ctx, query, args...).Scan(
		&sale.ID,
		&sale.TenantID,
		&sale.CustomerID,
		&sale.OnAccount,
		&sale.IdempotencyKey,
		&sale.Notes,
		&sale.Total,
		&sale.TotalProfit,
		&sale.AverageMargin,
		&sale.AccountID,
		&sale.LedgerTransactionID,
		&balanceAfter,
		&sale.CreatedBy,
		&sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	if balanceAfter.Valid {
		balance := balanceAfter.Decimal
		sale.BalanceAfter = &balance
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT product_id, quantity, unit_sale_price, unit_cost, subtotal, profit,
			margin, units_from_fallback, batches_consumed
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY line_no ASC
	`, sale.ID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	lines := make([]domain.ProcessedLine, 0, 8)
	for rows.Next() {
		var line domain.ProcessedLine
		var consumed []byte
		if err := rows.Scan(&line.ProductID, &line.Quantity, &line.UnitSalePrice, &line.UnitCost, &line.Subtotal,
			&line.Profit, &line.Margin, &line.UnitsFromFallback, &consumed); err != nil {
			return nil, classify(err)
		}
		if err := json.Unmarshal(consumed, &line.BatchesConsumed); err != nil {
			return nil, fmt.Errorf("decode batches consumed: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	sale.Lines = lines
	return &sale, nil
}

func scanBatch(row rowScanner) (*domain.Batch, error) {
	var batch domain.Batch
	err := row.Scan(
		&batch.ID,
		&batch.TenantID,
		&batch.ProductID,
		&batch.PurchaseUnitPrice,
		&batch.QuantityPurchased,
		&batch.QuantityRemaining,
		&batch.BatchDate,
		&batch.Supplier,
		&batch.Notes,
		&batch.CreatedBy,
		&batch.CreatedAt,
		&batch.Seq,
	)
	if err != nil {
		return nil, err
	}
	batch.BatchDate = dateUTC(batch.BatchDate)
	batch.CreatedAt = batch.CreatedAt.UTC()
	return &batch, nil
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID,
		&account.TenantID,
		&account.CustomerID,
		&account.Balance,
		&account.CreditLimit,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	account.CreatedAt = account.CreatedAt.UTC()
	account.UpdatedAt = account.UpdatedAt.UTC()
	return &account, nil
}

func scanTransaction(row rowScanner) (*domain.AccountTransaction, error) {
	var entry domain.AccountTransaction
	var kind string
	err := row.Scan(
		&entry.ID,
		&entry.AccountID,
		&entry.TenantID,
		&entry.Seq,
		&kind,
		&entry.Amount,
		&entry.BalanceAfter,
		&entry.Reference,
		&entry.ReversalOf,
		&entry.Notes,
		&entry.CreatedBy,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.Kind = domain.TransactionKind(kind)
	entry.CreatedAt = entry.CreatedAt.UTC()
	return &entry, nil
}

// classify folds driver and server failures into store.ErrStorageFailure while
// keeping the cause reachable. Caller cancellation passes through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, store.ErrStorageFailure) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001":
			return fmt.Errorf("%w: serialization failure: %w", store.ErrStorageFailure, err)
		case "40P01":
			return fmt.Errorf("%w: deadlock detected: %w", store.ErrStorageFailure, err)
		case "55P03":
			return fmt.Errorf("%w: lock wait timeout: %w", store.ErrStorageFailure, err)
		}
	}
	return fmt.Errorf("%w: %w", store.ErrStorageFailure, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	return false
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
