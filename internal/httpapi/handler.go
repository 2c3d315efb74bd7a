// Package httpapi exposes the ledger over a JSON HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sheikh-saqib/account-ledger/internal/ledger"
	"github.com/sheikh-saqib/account-ledger/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerService is the part of *ledger.Ledger the API serves.
type LedgerService interface {
	OpenAccount(ctx context.Context, customerID string, accountType models.AccountType, initialBalance decimal.Decimal) (models.Account, error)
	Account(ctx context.Context, accountID string) (models.Account, error)
	CustomerAccounts(ctx context.Context, customerID string, accountType models.AccountType) ([]models.Account, error)
	Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (models.LedgerEntry, error)
	Withdraw(ctx context.Context, accountID string, amount decimal.Decimal) (models.LedgerEntry, error)
	Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal) (sent, received models.LedgerEntry, err error)
	EntriesByAccount(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error)
	EntriesByCustomer(ctx context.Context, customerID string, limit int) ([]models.LedgerEntry, error)
}

// Handler serves the ledger routes.
type Handler struct {
	ledger LedgerService
	idem   *Idempotency
	logger *zap.Logger
}

// NewHandler builds the API. idem may be nil, in which case
// Idempotency-Key headers are ignored.
func NewHandler(l LedgerService, idem *Idempotency, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ledger: l, idem: idem, logger: logger}
}

// Routes returns the router with request logging and, on POST routes,
// Idempotency-Key handling.
func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(h.logRequests)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	r.Handle("/accounts", h.idempotent(h.openAccount)).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}", h.getAccount).Methods(http.MethodGet)
	r.Handle("/accounts/{id}/deposits", h.idempotent(h.deposit)).Methods(http.MethodPost)
	r.Handle("/accounts/{id}/withdrawals", h.idempotent(h.withdraw)).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}/entries", h.accountEntries).Methods(http.MethodGet)
	r.Handle("/transfers", h.idempotent(h.transfer)).Methods(http.MethodPost)

	r.HandleFunc("/customers/{id}/accounts", h.customerAccounts).Methods(http.MethodGet)
	r.HandleFunc("/customers/{id}/entries", h.customerEntries).Methods(http.MethodGet)

	return r
}

func (h *Handler) idempotent(fn http.HandlerFunc) http.Handler {
	if h.idem == nil {
		return fn
	}
	return h.idem.Middleware(fn)
}

type openAccountRequest struct {
	CustomerID     string             `json:"customer_id"`
	Type           models.AccountType `json:"type"`
	InitialBalance decimal.Decimal    `json:"initial_balance"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
}

type transferResponse struct {
	Sent     models.LedgerEntry `json:"sent"`
	Received models.LedgerEntry `json:"received"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) openAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if !decode(w, r, &req) {
		return
	}

	account, err := h.ledger.OpenAccount(r.Context(), req.CustomerID, req.Type, req.InitialBalance)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.ledger.Account(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *Handler) deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}

	entry, err := h.ledger.Deposit(r.Context(), mux.Vars(r)["id"], req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}

	entry, err := h.ledger.Withdraw(r.Context(), mux.Vars(r)["id"], req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}

	sent, received, err := h.ledger.Transfer(r.Context(), req.FromAccountID, req.ToAccountID, req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, transferResponse{Sent: sent, Received: received})
}

func (h *Handler) accountEntries(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := h.ledger.EntriesByAccount(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func (h *Handler) customerAccounts(w http.ResponseWriter, r *http.Request) {
	accountType := models.AccountType(strings.ToUpper(r.URL.Query().Get("type")))

	accounts, err := h.ledger.CustomerAccounts(r.Context(), mux.Vars(r)["id"], accountType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(accounts))
}

func (h *Handler) customerEntries(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := h.ledger.EntriesByCustomer(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

// StatusClientClosedRequest is the non-standard 499 used when the caller gave
// up before the ledger finished.
const StatusClientClosedRequest = 499

// statusFor maps ledger errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrConcurrencyExhausted):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case status == StatusClientClosedRequest, status == http.StatusGatewayTimeout:
		h.logger.Info("request abandoned by caller",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "request cancelled"
	case status >= http.StatusInternalServerError:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

type errorResponse struct {
	Error string `json:"error"`
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
		return 0, false
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		h.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
