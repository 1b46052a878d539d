package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/paybridge/internal/account"
	"github.com/punchamoorthee/paybridge/internal/alert"
	"github.com/punchamoorthee/paybridge/internal/domain"
	"github.com/punchamoorthee/paybridge/internal/payment"
	"github.com/punchamoorthee/paybridge/internal/provider"
	"github.com/punchamoorthee/paybridge/internal/store"
	"github.com/punchamoorthee/paybridge/internal/vault"
)

// Accounts is the account-management boundary; *account.Linker satisfies it.
type Accounts interface {
	Link(ctx context.Context, userID string, p provider.Provider, primary, password, proxy string) error
	SubmitOTP(ctx context.Context, userID string, p provider.Provider, code string) error
	Check(ctx context.Context, userID string, p provider.Provider) (*domain.AccountSnapshot, error)
	SetProxy(ctx context.Context, userID string, p provider.Provider, proxy string) error
	Unlink(ctx context.Context, userID string, p provider.Provider) error
}

// Payments is the settlement boundary; *payment.Orchestrator satisfies it.
type Payments interface {
	Transfer(ctx context.Context, req domain.TransferRequest) (*domain.Receipt, error)
	SettleSale(ctx context.Context, sale domain.Sale) (*domain.SaleReceipt, error)
}

// History is the read-only ledger boundary; *ledger.Recorder satisfies it.
type History interface {
	List(ctx context.Context, userID string, page int) (*domain.Page, error)
	Get(ctx context.Context, id, userID string) (*domain.LedgerEntry, error)
}

// Alerter receives reports for unexpected failures.
type Alerter interface {
	Emit(r alert.Report)
}

type Handler struct {
	accounts Accounts
	payments Payments
	history  History
	alerts   Alerter
	log      *slog.Logger
}

func NewHandler(accounts Accounts, payments Payments, history History, alerts Alerter, log *slog.Logger) *Handler {
	return &Handler{accounts: accounts, payments: payments, history: history, alerts: alerts, log: log}
}

// Register attaches all routes to the router.
func (h *Handler) Register(r *mux.Router) {
	r.Use(h.observeLatency)
	r.HandleFunc("/api/v1/accounts/link", h.LinkAccount).Methods("POST")
	r.HandleFunc("/api/v1/accounts/link/otp", h.SubmitOTP).Methods("POST")
	r.HandleFunc("/api/v1/accounts/{user}/{provider}", h.CheckAccount).Methods("GET")
	r.HandleFunc("/api/v1/accounts/{user}/{provider}", h.UnlinkAccount).Methods("DELETE")
	r.HandleFunc("/api/v1/accounts/{user}/{provider}/proxy", h.SetProxy).Methods("PUT")
	r.HandleFunc("/api/v1/transfers", h.CreateTransfer).Methods("POST")
	r.HandleFunc("/api/v1/sales", h.SettleSale).Methods("POST")
	r.HandleFunc("/api/v1/history/{user}", h.ListHistory).Methods("GET")
	r.HandleFunc("/api/v1/history/{user}/{id}", h.GetHistoryEntry).Methods("GET")
}

type linkRequest struct {
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`
	Primary  string `json:"primary"`
	Password string `json:"password"`
	Proxy    string `json:"proxy,omitempty"`
}

func (h *Handler) LinkAccount(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/link"
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}
	p, err := provider.Parse(req.Provider)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Unknown provider", "POST", endpoint)
		return
	}
	if req.UserID == "" || req.Primary == "" || req.Password == "" {
		h.respondError(w, http.StatusUnprocessableEntity, "user_id, primary and password are required", "POST", endpoint)
		return
	}

	err = h.accounts.Link(r.Context(), req.UserID, p, req.Primary, req.Password, req.Proxy)
	if errors.Is(err, account.ErrOTPRequired) {
		h.respondJSON(w, http.StatusPreconditionRequired, map[string]string{
			"status": "otp_required",
			"detail": "Submit the one-time code you received before the window closes",
		}, "POST", endpoint)
		return
	}
	if err != nil {
		h.respondDomainError(w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"status": "linked"}, "POST", endpoint)
}

type otpRequest struct {
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`
	Code     string `json:"code"`
}

func (h *Handler) SubmitOTP(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/link/otp"
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}
	p, err := provider.Parse(req.Provider)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Unknown provider", "POST", endpoint)
		return
	}

	if err := h.accounts.SubmitOTP(r.Context(), req.UserID, p, req.Code); err != nil {
		h.respondDomainError(w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"status": "linked"}, "POST", endpoint)
}

func (h *Handler) CheckAccount(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{user}/{provider}"
	vars := mux.Vars(r)
	p, err := provider.Parse(vars["provider"])
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Unknown provider", "GET", endpoint)
		return
	}

	snapshot, err := h.accounts.Check(r.Context(), vars["user"], p)
	if err != nil {
		h.respondDomainError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, snapshot, "GET", endpoint)
}

func (h *Handler) UnlinkAccount(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{user}/{provider}"
	vars := mux.Vars(r)
	p, err := provider.Parse(vars["provider"])
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Unknown provider", "DELETE", endpoint)
		return
	}

	if err := h.accounts.Unlink(r.Context(), vars["user"], p); err != nil {
		h.respondDomainError(w, err, "DELETE", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "unlinked"}, "DELETE", endpoint)
}

type proxyRequest struct {
	Proxy string `json:"proxy"`
}

func (h *Handler) SetProxy(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{user}/{provider}/proxy"
	vars := mux.Vars(r)
	p, err := provider.Parse(vars["provider"])
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Unknown provider", "PUT", endpoint)
		return
	}
	var req proxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "PUT", endpoint)
		return
	}

	if err := h.accounts.SetProxy(r.Context(), vars["user"], p, req.Proxy); err != nil {
		h.respondDomainError(w, err, "PUT", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "updated"}, "PUT", endpoint)
}

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transfers"
	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}
	if req.Amount <= 0 {
		h.respondError(w, http.StatusUnprocessableEntity, "Positive amount required", "POST", endpoint)
		return
	}
	if req.PayerID == req.PayeeID {
		h.respondError(w, http.StatusUnprocessableEntity, "Self-transfer not allowed", "POST", endpoint)
		return
	}
	if _, err := provider.Parse(string(req.Provider)); err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Unknown provider", "POST", endpoint)
		return
	}
	if req.Movement != "" && !req.Movement.PayerSide() {
		h.respondError(w, http.StatusUnprocessableEntity, "Movement must be SEND, BUY or CLAIM", "POST", endpoint)
		return
	}

	receipt, err := h.payments.Transfer(r.Context(), req)
	if err != nil {
		h.respondDomainError(w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusCreated, receipt, "POST", endpoint)
}

func (h *Handler) SettleSale(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/sales"
	var sale domain.Sale
	if err := json.NewDecoder(r.Body).Decode(&sale); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}
	if _, err := provider.Parse(string(sale.Provider)); err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Unknown provider", "POST", endpoint)
		return
	}

	receipt, err := h.payments.SettleSale(r.Context(), sale)
	if err != nil {
		h.respondDomainError(w, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusCreated, receipt, "POST", endpoint)
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/history/{user}"
	vars := mux.Vars(r)
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))

	result, err := h.history.List(r.Context(), vars["user"], page)
	if err != nil {
		h.respondDomainError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, result, "GET", endpoint)
}

func (h *Handler) GetHistoryEntry(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/history/{user}/{id}"
	vars := mux.Vars(r)

	entry, err := h.history.Get(r.Context(), vars["id"], vars["user"])
	if err != nil {
		h.respondDomainError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, entry, "GET", endpoint)
}

// respondDomainError maps the error taxonomy onto status codes and
// actionable messages. Unexpected errors get a generic message while the
// full error goes to the alerting channel.
func (h *Handler) respondDomainError(w http.ResponseWriter, err error, method, endpoint string) {
	switch {
	case errors.Is(err, account.ErrNotLinked):
		h.respondError(w, http.StatusNotFound, "Account not linked; link it first", method, endpoint)
	case errors.Is(err, account.ErrOTPRequired):
		h.respondError(w, http.StatusPreconditionRequired, "One-time code required", method, endpoint)
	case errors.Is(err, account.ErrOTPTimeout):
		h.respondError(w, http.StatusUnprocessableEntity, "Code window expired; restart the link", method, endpoint)
	case errors.Is(err, account.ErrNoPendingLink):
		h.respondError(w, http.StatusConflict, "No link attempt in progress", method, endpoint)
	case errors.Is(err, account.ErrInvalidProxy):
		h.respondError(w, http.StatusUnprocessableEntity, "Proxy URL must be http or https", method, endpoint)
	case errors.Is(err, account.ErrLoginFailed):
		h.respondError(w, http.StatusBadGateway, "Provider login failed; retry later or relink the account", method, endpoint)
	case errors.Is(err, payment.ErrInvalidAmount):
		h.respondError(w, http.StatusUnprocessableEntity, "Positive amount required", method, endpoint)
	case errors.Is(err, payment.ErrSelfTransfer):
		h.respondError(w, http.StatusUnprocessableEntity, "Self-transfer not allowed", method, endpoint)
	case errors.Is(err, payment.ErrInsufficientFunds):
		h.respondError(w, http.StatusUnprocessableEntity, "Insufficient balance; top up and retry", method, endpoint)
	case errors.Is(err, payment.ErrInsufficientLink):
		h.respondError(w, http.StatusUnprocessableEntity, "Link amount below the requested price; recreate the link", method, endpoint)
	case errors.Is(err, payment.ErrTransferFailed), errors.Is(err, payment.ErrReceiveFailed), errors.Is(err, payment.ErrSellerPayout):
		h.respondError(w, http.StatusBadGateway, "Provider transfer failed; operators were notified", method, endpoint)
	case errors.Is(err, vault.ErrDecrypt):
		h.respondError(w, http.StatusInternalServerError, "Stored credential unusable; relink the account", method, endpoint)
	case errors.Is(err, store.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "Not found", method, endpoint)
	default:
		h.log.Error("unexpected error", "method", method, "endpoint", endpoint, "err", err)
		h.alerts.Emit(alert.Report{Event: "api.unexpected_error", Error: err.Error()})
		h.respondError(w, http.StatusInternalServerError, "Unexpected error; contact support", method, endpoint)
	}
}
