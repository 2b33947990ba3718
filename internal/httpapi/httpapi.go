package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"costledger/backend/internal/domain"
	"costledger/backend/internal/ledger"
	"costledger/backend/internal/sales"
	"costledger/backend/internal/service"
	"costledger/backend/internal/store"
)

const maxBodyBytes = 1 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		logger:        logger,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)

	mux.HandleFunc("POST /api/v1/batches", a.requireAuth(a.handleCreateBatch, "admin"))
	mux.HandleFunc("GET /api/v1/batches", a.requireAuth(a.handleListBatches, "cashier", "admin"))
	mux.HandleFunc("DELETE /api/v1/batches/{id}", a.requireAuth(a.handleDeleteBatch, "admin"))
	mux.HandleFunc("PUT /api/v1/products/{id}/fallback-cost", a.requireAuth(a.handleSetFallbackCost, "admin"))
	mux.HandleFunc("GET /api/v1/products/{id}/valuation", a.requireAuth(a.handleValuation, "cashier", "admin"))
	mux.HandleFunc("POST /api/v1/costing/quote", a.requireAuth(a.handleQuote, "cashier", "admin"))
	mux.HandleFunc("POST /api/v1/costing/consume", a.requireAuth(a.handleConsume, "admin"))

	mux.HandleFunc("POST /api/v1/accounts", a.requireAuth(a.handleOpenAccount, "cashier", "admin"))
	mux.HandleFunc("GET /api/v1/accounts/{id}", a.requireAuth(a.handleGetAccount, "cashier", "admin"))
	mux.HandleFunc("PATCH /api/v1/accounts/{id}/credit-limit", a.requireAuth(a.handleSetCreditLimit, "admin"))
	mux.HandleFunc("GET /api/v1/accounts/{id}/transactions", a.requireAuth(a.handleListTransactions, "cashier", "admin"))
	mux.HandleFunc("POST /api/v1/accounts/{id}/transactions", a.requireAuth(a.handleAppendTransaction, "cashier", "admin"))
	mux.HandleFunc("POST /api/v1/accounts/{id}/transactions/{txid}/reverse", a.requireAuth(a.handleReverse, "admin"))
	mux.HandleFunc("POST /api/v1/accounts/{id}/transactions/{txid}/correct", a.requireAuth(a.handleCorrect, "admin"))
	mux.HandleFunc("GET /api/v1/accounts/{id}/verify", a.requireAuth(a.handleVerify, "cashier", "admin"))

	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleProcessSale, "cashier", "admin"))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale, "cashier", "admin"))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// tenantOf is only called behind requireAuth, which rejects tokens without a tenant.
func tenantOf(ctx context.Context) string {
	actor, _ := service.ActorFromContext(ctx)
	return actor.TenantID
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.BatchCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	batch, err := a.service.CreateBatch(r.Context(), tenantOf(r.Context()), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

func (a *API) handleListBatches(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	openOnly, _ := strconv.ParseBool(query.Get("open_only"))
	limit := parsePositiveLimit(query.Get("limit"), 200, 1000)

	resp, err := a.service.ListBatches(r.Context(), tenantOf(r.Context()), query.Get("product_id"), openOnly, limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteBatch(r.Context(), tenantOf(r.Context()), r.PathValue("id")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetFallbackCost(w http.ResponseWriter, r *http.Request) {
	var req domain.FallbackCostRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	productID := r.PathValue("id")
	if err := a.service.SetFallbackCost(r.Context(), tenantOf(r.Context()), productID, req); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"product_id": productID,
		"cost":       req.Cost,
	})
}

func (a *API) handleValuation(w http.ResponseWriter, r *http.Request) {
	var physical *int64
	if raw := strings.TrimSpace(r.URL.Query().Get("physical_stock")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, errors.New("physical_stock must be an integer"))
			return
		}
		physical = &parsed
	}

	valuation, err := a.service.Valuation(r.Context(), tenantOf(r.Context()), r.PathValue("id"), physical)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valuation)
}

func (a *API) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req domain.CostRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.Quote(r.Context(), tenantOf(r.Context()), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleConsume(w http.ResponseWriter, r *http.Request) {
	var req domain.CostRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.ConsumeStock(r.Context(), tenantOf(r.Context()), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req domain.AccountOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := a.service.OpenAccount(r.Context(), tenantOf(r.Context()), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (a *API) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := a.service.GetAccount(r.Context(), tenantOf(r.Context()), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (a *API) handleSetCreditLimit(w http.ResponseWriter, r *http.Request) {
	var req domain.CreditLimitRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := a.service.SetCreditLimit(r.Context(), tenantOf(r.Context()), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (a *API) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 1000)
	resp, err := a.service.ListTransactions(r.Context(), tenantOf(r.Context()), r.PathValue("id"), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAppendTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.AppendRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	entry, err := a.service.AppendTransaction(r.Context(), tenantOf(r.Context()), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleReverse(w http.ResponseWriter, r *http.Request) {
	var req domain.ReversalRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	reversal, err := a.service.ReverseTransaction(r.Context(), tenantOf(r.Context()), r.PathValue("id"), r.PathValue("txid"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reversal)
}

func (a *API) handleCorrect(w http.ResponseWriter, r *http.Request) {
	var req domain.CorrectionRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.CorrectTransaction(r.Context(), tenantOf(r.Context()), r.PathValue("id"), r.PathValue("txid"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.VerifyAccount(r.Context(), tenantOf(r.Context()), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleProcessSale(w http.ResponseWriter, r *http.Request) {
	var req domain.Sale
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	processed, err := a.service.ProcessSale(r.Context(), tenantOf(r.Context()), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if processed.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, processed)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), tenantOf(r.Context()), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("latency", time.Since(startedAt)),
		)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, store.ErrInvalidQuantity),
		errors.Is(err, store.ErrInvalidAmount),
		errors.Is(err, store.ErrInvalidBatchInput),
		errors.Is(err, store.ErrInvalidSale):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientBatchQuantity),
		errors.Is(err, store.ErrDuplicateSale),
		errors.Is(err, store.ErrCreditLimitExceeded),
		errors.Is(err, store.ErrAlreadyReversed):
		return http.StatusConflict
	case errors.Is(err, store.ErrStorageFailure),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError adds the failing line of a sale, or the attempted amount and
// current balance of a rejected append, next to the message.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= 500 {
		a.writeError(w, status, err)
		return
	}

	body := map[string]any{"error": err.Error()}
	var lineErr *sales.LineError
	if errors.As(err, &lineErr) {
		body["line"] = lineErr.Index + 1
		body["product_id"] = lineErr.ProductID
	}
	var appendErr *ledger.AppendError
	if errors.As(err, &appendErr) {
		body["account_id"] = appendErr.AccountID
		body["amount"] = appendErr.Amount
		body["current_balance"] = appendErr.CurrentBalance
	}
	writeJSON(w, status, body)
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses get a generic message so storage details do not leak.
	msg := err.Error()
	if status >= 500 {
		a.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
		if status == http.StatusServiceUnavailable {
			msg = "temporarily unavailable, retry"
		}
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
