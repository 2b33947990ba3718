package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"costledger/backend/internal/costing"
	"costledger/backend/internal/domain"
	"costledger/backend/internal/lock"
	"costledger/backend/internal/service"
	"costledger/backend/internal/store/memory"
)

const demoTenant = "demo-tenant"

// newTestAPI builds a full API with the seeded in-memory store, a real
// AuthManager and a real Service so handler tests exercise the complete
// request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, costing.NewEngine(costing.DefaultScale), service.Options{
		Locker:        lock.NewLocal(time.Second),
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
	})
	auth := NewAuthManager("test-secret-key-of-decent-length")
	return New(svc, auth, "*", nil)
}

func tokenFor(t *testing.T, api *API, role string) string {
	t.Helper()
	token, err := api.auth.IssueToken(domain.Actor{Username: role + "-user", Role: role, TenantID: demoTenant}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, api *API, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodGet, "/healthz", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodGet, "/api/v1/batches", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/batches", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestCashierCannotCreateBatch(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodPost, "/api/v1/batches", tokenFor(t, api, "cashier"), domain.BatchCreateRequest{
		ProductID: "SKU-TEA", PurchaseUnitPrice: decimal.RequireFromString("3"), QuantityPurchased: 5,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestBatchLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	admin := tokenFor(t, api, "admin")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/batches", admin, domain.BatchCreateRequest{
		ProductID: "SKU-TEA", PurchaseUnitPrice: decimal.RequireFromString("3.10"), QuantityPurchased: 5, BatchDate: "2024-03-01",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var batch domain.Batch
	decodeBody(t, rec, &batch)
	if batch.ID == "" || batch.QuantityRemaining != 5 || batch.TenantID != demoTenant {
		t.Fatalf("unexpected batch %+v", batch)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/batches?product_id=SKU-TEA&open_only=true", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list domain.BatchListResponse
	decodeBody(t, rec, &list)
	if len(list.Batches) != 1 || list.Batches[0].ID != batch.ID {
		t.Fatalf("unexpected batch list %+v", list.Batches)
	}

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/batches/"+batch.ID, admin, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, api, http.MethodDelete, "/api/v1/batches/"+batch.ID, admin, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestCreateBatchValidation(t *testing.T) {
	api := newTestAPI(t)
	admin := tokenFor(t, api, "admin")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/batches", admin, domain.BatchCreateRequest{
		ProductID: "SKU-TEA", PurchaseUnitPrice: decimal.RequireFromString("3"), QuantityPurchased: 0,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero quantity, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/batches", admin, map[string]any{
		"product_id": "SKU-TEA", "quantity_purchased": 1, "tenant_id": "other",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestQuoteAndValuationOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	cashier := tokenFor(t, api, "cashier")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/costing/quote", cashier, domain.CostRequest{ProductID: "SKU-COFFEE-250G", Quantity: 30})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var quote domain.CostResult
	decodeBody(t, rec, &quote)
	if !quote.UnitCost.Equal(decimal.RequireFromString("40.6")) {
		t.Fatalf("expected unit cost 40.6, got %s", quote.UnitCost)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/products/SKU-COFFEE-250G/valuation?physical_stock=50", cashier, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var valuation domain.StockValuation
	decodeBody(t, rec, &valuation)
	if valuation.CostedQuantity != 48 || valuation.Difference == nil || *valuation.Difference != 2 {
		t.Fatalf("unexpected valuation %+v", valuation)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/products/SKU-COFFEE-250G/valuation?physical_stock=lots", cashier, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad physical_stock, got %d", rec.Code)
	}
}

func TestConsumeFallsBackToStaticCost(t *testing.T) {
	api := newTestAPI(t)
	admin := tokenFor(t, api, "admin")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/costing/consume", tokenFor(t, api, "cashier"), domain.CostRequest{ProductID: "SKU-MATE-GOURD", Quantity: 1})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier consume, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPut, "/api/v1/products/SKU-MATE-GOURD/fallback-cost", admin, domain.FallbackCostRequest{Cost: decimal.RequireFromString("9.90")})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/costing/consume", admin, domain.CostRequest{ProductID: "SKU-MATE-GOURD", Quantity: 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var result domain.CostResult
	decodeBody(t, rec, &result)
	if result.UnitsFromFallback != 2 || !result.TotalCost.Equal(decimal.RequireFromString("19.8")) {
		t.Fatalf("unexpected consume result %+v", result)
	}

	rec = doJSON(t, api, http.MethodPut, "/api/v1/products/SKU-MATE-GOURD/fallback-cost", admin, domain.FallbackCostRequest{Cost: decimal.RequireFromString("-1")})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative cost, got %d", rec.Code)
	}
}

func TestOnAccountSaleAndLedgerOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	cashier := tokenFor(t, api, "cashier")
	admin := tokenFor(t, api, "admin")

	sale := domain.Sale{
		CustomerID:     "C-100",
		OnAccount:      true,
		IdempotencyKey: "till-1-0001",
		Lines: []domain.SaleLine{
			{ProductID: "SKU-YERBA-1KG", Quantity: 2, UnitSalePrice: decimal.RequireFromString("25")},
		},
	}
	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier, sale)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var processed domain.ProcessedSale
	decodeBody(t, rec, &processed)
	if processed.AccountID == "" || processed.BalanceAfter == nil || !processed.BalanceAfter.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("unexpected processed sale %+v", processed)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier, sale)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for replayed idempotency key, got %d", rec.Code)
	}
	var replay domain.ProcessedSale
	decodeBody(t, rec, &replay)
	if !replay.Duplicate || replay.ID != processed.ID {
		t.Fatalf("expected duplicate of %s, got %+v", processed.ID, replay)
	}

	accountPath := "/api/v1/accounts/" + processed.AccountID
	rec = doJSON(t, api, http.MethodPost, accountPath+"/transactions", cashier, domain.AppendRequest{
		Kind: domain.KindPayment, Amount: decimal.RequireFromString("20"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var payment domain.AccountTransaction
	decodeBody(t, rec, &payment)

	rec = doJSON(t, api, http.MethodPost, accountPath+"/transactions/"+payment.ID+"/reverse", cashier, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier reversal, got %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodPost, accountPath+"/transactions/"+payment.ID+"/reverse", admin, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, api, http.MethodPost, accountPath+"/transactions/"+payment.ID+"/reverse", admin, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second reversal, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, accountPath+"/transactions?limit=2", cashier, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listing domain.TransactionListResponse
	decodeBody(t, rec, &listing)
	if len(listing.Transactions) != 2 || !listing.Account.Balance.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("unexpected listing %+v", listing)
	}

	rec = doJSON(t, api, http.MethodGet, accountPath+"/verify", cashier, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var verification domain.LedgerVerification
	decodeBody(t, rec, &verification)
	if !verification.Consistent || verification.Entries != 3 {
		t.Fatalf("unexpected verification %+v", verification)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/sales/"+processed.ID, cashier, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCreditLimitRejectionReportsBalance(t *testing.T) {
	api := newTestAPI(t)
	cashier := tokenFor(t, api, "cashier")
	admin := tokenFor(t, api, "admin")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/accounts", cashier, domain.AccountOpenRequest{CustomerID: "C-200"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var account domain.Account
	decodeBody(t, rec, &account)

	rec = doJSON(t, api, http.MethodPatch, "/api/v1/accounts/"+account.ID+"/credit-limit", admin, domain.CreditLimitRequest{CreditLimit: decimal.RequireFromString("30")})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier, domain.Sale{
		CustomerID: "C-200",
		OnAccount:  true,
		Lines:      []domain.SaleLine{{ProductID: "SKU-YERBA-1KG", Quantity: 2, UnitSalePrice: decimal.RequireFromString("25")}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["amount"] != "50" || body["current_balance"] != "0" {
		t.Fatalf("expected amount and balance in error body, got %v", body)
	}
}

func TestSaleLineErrorNamesTheLine(t *testing.T) {
	api := newTestAPI(t)
	cashier := tokenFor(t, api, "cashier")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier, domain.Sale{
		Lines: []domain.SaleLine{
			{ProductID: "SKU-YERBA-1KG", Quantity: 1, UnitSalePrice: decimal.RequireFromString("25")},
			{ProductID: "SKU-MATE-GOURD", Quantity: 0, UnitSalePrice: decimal.RequireFromString("10")},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["line"] != float64(2) || body["product_id"] != "SKU-MATE-GOURD" {
		t.Fatalf("expected failing line in error body, got %v", body)
	}
}

func TestUnknownAccountIsNotFound(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodGet, "/api/v1/accounts/acc-missing", tokenFor(t, api, "cashier"), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
