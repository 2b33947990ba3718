package memory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"costledger/backend/internal/domain"
	"costledger/backend/internal/store"
	"costledger/backend/internal/xid"
)

var errReadOnly = errors.New("memory store: write inside read-only view")

// Store keeps everything in process. Write transactions are serialized by a
// single mutex and run against a copy of the state that replaces the live state
// only on success, so a failed unit of work leaves nothing behind.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	batchSeq          int64
	batches           map[string]domain.Batch
	productCosts      map[string]decimal.Decimal
	accounts          map[string]domain.Account
	accountByCustomer map[string]string
	entries           map[string][]domain.AccountTransaction
	entryAccount      map[string]string
	reversals         map[string]string
	sales             map[string]domain.ProcessedSale
	salesByIdem       map[string]string
}

func newState() *state {
	return &state{
		batches:           make(map[string]domain.Batch),
		productCosts:      make(map[string]decimal.Decimal),
		accounts:          make(map[string]domain.Account),
		accountByCustomer: make(map[string]string),
		entries:           make(map[string][]domain.AccountTransaction),
		entryAccount:      make(map[string]string),
		reversals:         make(map[string]string),
		sales:             make(map[string]domain.ProcessedSale),
		salesByIdem:       make(map[string]string),
	}
}

// clone copies the maps. Entry slices are shared and only ever grown through a
// capped append, so the copy never writes into the original's backing array.
func (st *state) clone() *state {
	return &state{
		batchSeq:          st.batchSeq,
		batches:           cloneMap(st.batches),
		productCosts:      cloneMap(st.productCosts),
		accounts:          cloneMap(st.accounts),
		accountByCustomer: cloneMap(st.accountByCustomer),
		entries:           cloneMap(st.entries),
		entryAccount:      cloneMap(st.entryAccount),
		reversals:         cloneMap(st.reversals),
		sales:             cloneMap(st.sales),
		salesByIdem:       cloneMap(st.salesByIdem),
	}
}

func New() *Store {
	return &Store{state: newState()}
}

// NewSeeded returns a store with a demo tenant holding a few products, used when
// the server runs without DATABASE_URL.
func NewSeeded() *Store {
	s := New()
	const tenant = "demo-tenant"
	day := func(offset int) time.Time {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
	}
	seed := []struct {
		product  string
		fallback string
		batches  []domain.Batch
	}{
		{"SKU-COFFEE-250G", "41.50", []domain.Batch{
			{PurchaseUnitPrice: decimal.RequireFromString("40.00"), QuantityPurchased: 24, BatchDate: day(-30), Supplier: "Cafe Andino"},
			{PurchaseUnitPrice: decimal.RequireFromString("43.00"), QuantityPurchased: 24, BatchDate: day(-7), Supplier: "Cafe Andino"},
		}},
		{"SKU-YERBA-1KG", "18.00", []domain.Batch{
			{PurchaseUnitPrice: decimal.RequireFromString("17.25"), QuantityPurchased: 60, BatchDate: day(-14), Supplier: "Molino Norte"},
		}},
		{"SKU-MATE-GOURD", "0", nil},
	}

	st := s.state
	for _, item := range seed {
		st.productCosts[costKey(tenant, item.product)] = decimal.RequireFromString(item.fallback)
		for _, b := range item.batches {
			st.batchSeq++
			b.ID = xid.New("bat")
			b.TenantID = tenant
			b.ProductID = item.product
			b.QuantityRemaining = b.QuantityPurchased
			b.CreatedBy = "seed"
			b.CreatedAt = time.Now().UTC()
			b.Seq = st.batchSeq
			st.batches[b.ID] = b
		}
	}
	return s
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	// A caller that gave up mid-way gets nothing committed.
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&tx{st: s.state, readOnly: true})
}

func (s *Store) Close() error {
	return nil
}

type tx struct {
	st       *state
	readOnly bool
}

func (t *tx) CreateBatch(_ context.Context, batch domain.Batch) (*domain.Batch, error) {
	if t.readOnly {
		return nil, errReadOnly
	}
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
	if _, exists := t.st.batches[batch.ID]; exists {
		return nil, store.ErrInvalidBatchInput
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	if batch.BatchDate.IsZero() {
		batch.BatchDate = batch.CreatedAt
	}

	t.st.batchSeq++
	batch.Seq = t.st.batchSeq
	t.st.batches[batch.ID] = batch
	created := batch
	return &created, nil
}

func (t *tx) GetBatch(_ context.Context, tenantID string, batchID string) (*domain.Batch, error) {
	batch, ok := t.st.batches[batchID]
	if !ok || batch.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &batch, nil
}

func (t *tx) ListOpenBatches(_ context.Context, tenantID string, productID string) ([]domain.Batch, error) {
	result := make([]domain.Batch, 0, 8)
	for _, batch := range t.st.batches {
		if batch.TenantID != tenantID || batch.ProductID != productID || batch.QuantityRemaining < 1 {
			continue
		}
		result = append(result, batch)
	}
	slices.SortFunc(result, compareBatchForFIFO)
	return result, nil
}

func (t *tx) ListBatches(_ context.Context, tenantID string, productID string, openOnly bool, limit int) ([]domain.Batch, error) {
	if limit < 1 {
		limit = 200
	}
	result := make([]domain.Batch, 0, 16)
	for _, batch := range t.st.batches {
		if batch.TenantID != tenantID {
			continue
		}
		if productID != "" && batch.ProductID != productID {
			continue
		}
		if openOnly && batch.QuantityRemaining < 1 {
			continue
		}
		result = append(result, batch)
	}
	slices.SortFunc(result, compareBatchForFIFO)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (t *tx) DecrementBatch(_ context.Context, tenantID string, batchID string, amount int64) (*domain.Batch, error) {
	if t.readOnly {
		return nil, errReadOnly
	}
	if amount < 1 {
		return nil, store.ErrInvalidQuantity
	}
	batch, ok := t.st.batches[batchID]
	if !ok || batch.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	if amount > batch.QuantityRemaining {
		return nil, store.ErrInsufficientBatchQuantity
	}
	batch.QuantityRemaining -= amount
	t.st.batches[batchID] = batch
	return &batch, nil
}

func (t *tx) DeleteBatch(_ context.Context, tenantID string, batchID string) error {
	if t.readOnly {
		return errReadOnly
	}
	batch, ok := t.st.batches[batchID]
	if !ok || batch.TenantID != tenantID {
		return store.ErrNotFound
	}
	delete(t.st.batches, batchID)
	return nil
}

func (t *tx) GetProductCost(_ context.Context, tenantID string, productID string) (decimal.Decimal, bool, error) {
	cost, ok := t.st.productCosts[costKey(tenantID, productID)]
	return cost, ok, nil
}

func (t *tx) UpsertProductCost(_ context.Context, tenantID string, productID string, cost decimal.Decimal) error {
	if t.readOnly {
		return errReadOnly
	}
	if productID == "" || cost.IsNegative() {
		return store.ErrInvalidBatchInput
	}
	t.st.productCosts[costKey(tenantID, productID)] = cost
	return nil
}

func (t *tx) GetOrCreateAccount(_ context.Context, tenantID string, customerID string) (*domain.Account, error) {
	key := customerKey(tenantID, customerID)
	if id, ok := t.st.accountByCustomer[key]; ok {
		account := t.st.accounts[id]
		return &account, nil
	}
	if t.readOnly {
		return nil, store.ErrAccountNotFound
	}

	now := time.Now().UTC()
	account := domain.Account{
		ID:          xid.New("acc"),
		TenantID:    tenantID,
		CustomerID:  customerID,
		Balance:     decimal.Zero,
		CreditLimit: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.st.accounts[account.ID] = account
	t.st.accountByCustomer[key] = account.ID
	return &account, nil
}

func (t *tx) GetAccount(_ context.Context, tenantID string, accountID string) (*domain.Account, error) {
	account, ok := t.st.accounts[accountID]
	if !ok || account.TenantID != tenantID {
		return nil, store.ErrAccountNotFound
	}
	return &account, nil
}

// GetAccountForUpdate needs no row lock here: the write transaction already
// holds the store mutex.
func (t *tx) GetAccountForUpdate(ctx context.Context, tenantID string, accountID string) (*domain.Account, error) {
	return t.GetAccount(ctx, tenantID, accountID)
}

func (t *tx) UpdateAccountBalance(_ context.Context, tenantID string, accountID string, balance decimal.Decimal) error {
	if t.readOnly {
		return errReadOnly
	}
	account, ok := t.st.accounts[accountID]
	if !ok || account.TenantID != tenantID {
		return store.ErrAccountNotFound
	}
	account.Balance = balance
	account.UpdatedAt = time.Now().UTC()
	t.st.accounts[accountID] = account
	return nil
}

func (t *tx) UpdateCreditLimit(_ context.Context, tenantID string, accountID string, limit decimal.Decimal) error {
	if t.readOnly {
		return errReadOnly
	}
	account, ok := t.st.accounts[accountID]
	if !ok || account.TenantID != tenantID {
		return store.ErrAccountNotFound
	}
	account.CreditLimit = limit
	account.UpdatedAt = time.Now().UTC()
	t.st.accounts[accountID] = account
	return nil
}

func (t *tx) LastTransaction(_ context.Context, tenantID string, accountID string) (*domain.AccountTransaction, error) {
	account, ok := t.st.accounts[accountID]
	if !ok || account.TenantID != tenantID {
		return nil, store.ErrAccountNotFound
	}
	entries := t.st.entries[accountID]
	if len(entries) == 0 {
		return nil, store.ErrNotFound
	}
	last := entries[len(entries)-1]
	return &last, nil
}

func (t *tx) InsertTransaction(_ context.Context, entry domain.AccountTransaction) error {
	if t.readOnly {
		return errReadOnly
	}
	account, ok := t.st.accounts[entry.AccountID]
	if !ok || account.TenantID != entry.TenantID {
		return store.ErrAccountNotFound
	}
	if !entry.Kind.Valid() {
		return store.ErrInvalidAmount
	}
	if _, exists := t.st.entryAccount[entry.ID]; exists || entry.ID == "" {
		return store.ErrInvalidAmount
	}

	entries := t.st.entries[entry.AccountID]
	expected := int64(len(entries)) + 1
	if entry.Seq != expected {
		// Same outcome as the (account_id, seq) unique index in postgres.
		return store.ErrStorageFailure
	}
	if entry.ReversalOf != "" {
		if _, reversed := t.st.reversals[entry.ReversalOf]; reversed {
			return store.ErrAlreadyReversed
		}
		t.st.reversals[entry.ReversalOf] = entry.ID
	}
	t.st.entries[entry.AccountID] = append(entries[:len(entries):len(entries)], entry)
	t.st.entryAccount[entry.ID] = entry.AccountID
	return nil
}

func (t *tx) GetTransaction(_ context.Context, tenantID string, transactionID string) (*domain.AccountTransaction, error) {
	accountID, ok := t.st.entryAccount[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, entry := range t.st.entries[accountID] {
		if entry.ID == transactionID && entry.TenantID == tenantID {
			found := entry
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) GetTransactionBySeq(_ context.Context, tenantID string, accountID string, seq int64) (*domain.AccountTransaction, error) {
	entries := t.st.entries[accountID]
	if seq < 1 || seq > int64(len(entries)) {
		return nil, store.ErrNotFound
	}
	entry := entries[seq-1]
	if entry.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &entry, nil
}

func (t *tx) FindReversal(ctx context.Context, tenantID string, transactionID string) (*domain.AccountTransaction, error) {
	reversalID, ok := t.st.reversals[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.GetTransaction(ctx, tenantID, reversalID)
}

func (t *tx) ListTransactions(_ context.Context, tenantID string, accountID string, limit int) ([]domain.AccountTransaction, error) {
	account, ok := t.st.accounts[accountID]
	if !ok || account.TenantID != tenantID {
		return nil, store.ErrAccountNotFound
	}
	entries := t.st.entries[accountID]
	result := make([]domain.AccountTransaction, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		result = append(result, entries[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (t *tx) CreateSale(_ context.Context, sale domain.ProcessedSale) error {
	if t.readOnly {
		return errReadOnly
	}
	if sale.ID == "" || len(sale.Lines) == 0 {
		return store.ErrInvalidSale
	}
	if _, exists := t.st.sales[sale.ID]; exists {
		return store.ErrDuplicateSale
	}
	if sale.IdempotencyKey != "" {
		key := idemKey(sale.TenantID, sale.IdempotencyKey)
		if _, exists := t.st.salesByIdem[key]; exists {
			return store.ErrDuplicateSale
		}
		t.st.salesByIdem[key] = sale.ID
	}
	t.st.sales[sale.ID] = cloneSale(sale)
	return nil
}

func (t *tx) GetSale(_ context.Context, tenantID string, saleID string) (*domain.ProcessedSale, error) {
	sale, ok := t.st.sales[saleID]
	if !ok || sale.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	dup := cloneSale(sale)
	return &dup, nil
}

func (t *tx) FindSaleByIdempotency(ctx context.Context, tenantID string, key string) (*domain.ProcessedSale, error) {
	saleID, ok := t.st.salesByIdem[idemKey(tenantID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.GetSale(ctx, tenantID, saleID)
}

func compareBatchForFIFO(a domain.Batch, b domain.Batch) int {
	if c := a.BatchDate.Compare(b.BatchDate); c != 0 {
		return c
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	default:
		return strings.Compare(a.ID, b.ID)
	}
}

func costKey(tenantID string, productID string) string {
	return tenantID + "::" + productID
}

func customerKey(tenantID string, customerID string) string {
	return tenantID + "::" + customerID
}

func idemKey(tenantID string, key string) string {
	return tenantID + "::" + key
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dup := make(map[K]V, len(src))
	for k, v := range src {
		dup[k] = v
	}
	return dup
}

func cloneSale(src domain.ProcessedSale) domain.ProcessedSale {
	dup := src
	dup.Lines = make([]domain.ProcessedLine, len(src.Lines))
	for i, line := range src.Lines {
		line.BatchesConsumed = slices.Clone(line.BatchesConsumed)
		dup.Lines[i] = line
	}
	if src.BalanceAfter != nil {
		balance := *src.BalanceAfter
		dup.BalanceAfter = &balance
	}
	return dup
}
