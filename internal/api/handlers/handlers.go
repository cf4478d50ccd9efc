package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/multibank/internal/accounts"
	"github.com/dvloznov/multibank/internal/aggregator"
	"github.com/dvloznov/multibank/internal/api/middleware"
	"github.com/dvloznov/multibank/internal/auth"
	"github.com/dvloznov/multibank/internal/domain"
	"github.com/dvloznov/multibank/internal/events"
	"github.com/dvloznov/multibank/internal/identity"
	"github.com/dvloznov/multibank/internal/logger"
	"github.com/dvloznov/multibank/internal/store"
	"github.com/shopspring/decimal"
)

// Reader is the read path: actor, profile, overview and ledger.
type Reader interface {
	Identity(ctx context.Context) (domain.AuthIdentity, error)
	CurrentProfile(ctx context.Context) (domain.AuthIdentity, domain.Profile, error)
	OverviewFor(ctx context.Context, p domain.Profile, lookback time.Duration) (aggregator.Overview, error)
	Ledger(ctx context.Context, owner domain.ProfileID, lookback time.Duration) ([]domain.LedgerEntry, error)
}

// Registrar creates profiles for new actors.
type Registrar interface {
	Register(ctx context.Context, id domain.AuthIdentity, reg identity.Registration) (domain.Profile, bool, error)
}

// AccountService is the write path for accounts.
type AccountService interface {
	Accounts(ctx context.Context, owner domain.ProfileID) ([]domain.Account, error)
	OpenAccount(ctx context.Context, owner domain.ProfileID, bank domain.Bank, opening decimal.Decimal) (domain.Account, error)
	Transfer(ctx context.Context, owner domain.ProfileID, req accounts.TransferRequest) (accounts.TransferResult, error)
}

// Subscriber hands out account change notifications.
type Subscriber interface {
	Subscribe(buffer int) (<-chan events.AccountsChanged, func())
}

// Exporter writes ledger snapshots.
type Exporter interface {
	ExportLedger(ctx context.Context, ov aggregator.Overview) (string, error)
}

// Handler serves the aggregator HTTP API.
type Handler struct {
	reader    Reader
	registrar Registrar
	accounts  AccountService
	events    Subscriber
	exporter  Exporter
	heartbeat time.Duration
}

// NewHandler creates a Handler. events and exporter may be nil, which
// disables the matching endpoints.
func NewHandler(reader Reader, registrar Registrar, accounts AccountService, events Subscriber, exporter Exporter) *Handler {
	return &Handler{
		reader:    reader,
		registrar: registrar,
		accounts:  accounts,
		events:    events,
		exporter:  exporter,
		heartbeat: 30 * time.Second,
	}
}

// Routes returns the API mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/me", h.Me)
	mux.HandleFunc("POST /api/register", h.Register)
	mux.HandleFunc("GET /api/accounts", h.ListAccounts)
	mux.HandleFunc("POST /api/accounts", h.OpenAccount)
	mux.HandleFunc("GET /api/transactions", h.ListTransactions)
	mux.HandleFunc("GET /api/overview", h.Overview)
	mux.HandleFunc("POST /api/transfers", h.Transfer)
	mux.HandleFunc("POST /api/exports", h.Export)
	mux.HandleFunc("GET /api/events", h.Events)
	return mux
}

// Me handles GET /api/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, p, err := h.reader.CurrentProfile(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) && id.ID != "" {
			middleware.WriteJSON(w, http.StatusNotFound, map[string]interface{}{
				"error":                 "Profile not found",
				"identity":              id,
				"registration_required": true,
			})
			return
		}
		writeError(r.Context(), w, err, "Failed to resolve profile")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"identity": id,
		"profile":  p,
	})
}

// Register handles POST /api/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req identity.Registration
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, err := h.reader.Identity(ctx)
	if err != nil {
		writeError(ctx, w, err, "Failed to resolve identity")
		return
	}

	p, created, err := h.registrar.Register(ctx, id, req)
	if err != nil {
		writeError(ctx, w, err, "Failed to register profile")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	middleware.WriteJSON(w, status, map[string]interface{}{
		"profile": p,
		"created": created,
	})
}

// ListAccounts handles GET /api/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, ok := h.profile(w, r)
	if !ok {
		return
	}
	list, err := h.accounts.Accounts(ctx, p.ID)
	if err != nil {
		writeError(ctx, w, err, "Failed to list accounts")
		return
	}

	total := decimal.Zero
	for _, a := range list {
		total = total.Add(a.Balance)
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": list,
		"count":    len(list),
		"total":    total,
	})
}

// OpenAccount handles POST /api/accounts
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Bank           string          `json:"bank"`
		OpeningBalance decimal.Decimal `json:"opening_balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	bank, err := domain.ParseBank(req.Bank)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, ok := h.profile(w, r)
	if !ok {
		return
	}
	a, err := h.accounts.OpenAccount(ctx, p.ID, bank, req.OpeningBalance)
	if err != nil {
		writeError(ctx, w, err, "Failed to open account")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, a)
}

// ListTransactions handles GET /api/transactions?days=N
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	lookback, err := parseDays(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, ok := h.profile(w, r)
	if !ok {
		return
	}
	entries, err := h.reader.Ledger(ctx, p.ID, lookback)
	if err != nil {
		writeError(ctx, w, err, "Failed to list transactions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": entries,
		"count":        len(entries),
	})
}

// Overview handles GET /api/overview?days=N
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	lookback, err := parseDays(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, ok := h.profile(w, r)
	if !ok {
		return
	}
	ov, err := h.reader.OverviewFor(ctx, p, lookback)
	if err != nil {
		writeError(ctx, w, err, "Failed to build overview")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, ov)
}

// Transfer handles POST /api/transfers
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		FromBank    string          `json:"from_bank"`
		To          string          `json:"to"`
		ToBank      string          `json:"to_bank"`
		Amount      decimal.Decimal `json:"amount"`
		Commission  decimal.Decimal `json:"commission"`
		Description string          `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	from, err := domain.ParseBank(req.FromBank)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "from_bank: "+err.Error())
		return
	}
	to, err := domain.ParseBank(req.ToBank)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "to_bank: "+err.Error())
		return
	}

	p, ok := h.profile(w, r)
	if !ok {
		return
	}
	res, err := h.accounts.Transfer(ctx, p.ID, accounts.TransferRequest{
		FromBank:    from,
		To:          domain.ProfileID(req.To),
		ToBank:      to,
		Amount:      req.Amount,
		Commission:  req.Commission,
		Description: req.Description,
	})
	if err != nil {
		writeError(ctx, w, err, "Transfer failed")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, res)
}

// Export handles POST /api/exports?days=N
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.exporter == nil {
		middleware.WriteError(w, http.StatusNotImplemented, "Export is not configured")
		return
	}
	lookback, err := parseDays(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, ok := h.profile(w, r)
	if !ok {
		return
	}
	ov, err := h.reader.OverviewFor(ctx, p, lookback)
	if err != nil {
		writeError(ctx, w, err, "Failed to build overview")
		return
	}
	uri, err := h.exporter.ExportLedger(ctx, ov)
	if err != nil {
		writeError(ctx, w, err, "Export failed")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, map[string]string{"uri": uri})
}

// Events handles GET /api/events as a server-sent event stream of account
// changes that concern the caller's profile.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.events == nil {
		middleware.WriteError(w, http.StatusNotImplemented, "Events are not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		middleware.WriteError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	p, ok := h.profile(w, r)
	if !ok {
		return
	}

	ch, cancel := h.events.Subscribe(16)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e, open := <-ch:
			if !open {
				return
			}
			if !e.Concerns(p.ID) {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				log := logger.FromContext(ctx)
				log.Error().Err(err).Msg("Failed to encode event")
				continue
			}
			fmt.Fprintf(w, "event: accounts_changed\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// profile resolves the caller's profile, writing the error response itself
// when that fails.
func (h *Handler) profile(w http.ResponseWriter, r *http.Request) (domain.Profile, bool) {
	_, p, err := h.reader.CurrentProfile(r.Context())
	if err != nil {
		writeError(r.Context(), w, err, "Failed to resolve profile")
		return domain.Profile{}, false
	}
	return p, true
}

// parseDays reads the optional days query parameter. Zero means the
// default window.
func parseDays(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return 0, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return 0, fmt.Errorf("days must be a positive integer")
	}
	return time.Duration(days) * 24 * time.Hour, nil
}

// statusFor maps domain and store failures to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrIdentityUnavailable),
		errors.Is(err, auth.ErrNoToken),
		errors.Is(err, auth.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrProfileNotFound),
		errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAccountExists),
		store.CodeOf(err) == store.CodeUniqueViolation:
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidBirthDate),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrUnknownBank):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrGenerationExhausted), store.IsTransport(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(ctx context.Context, w http.ResponseWriter, err error, message string) {
	status := statusFor(err)
	log := logger.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(message)
		middleware.WriteError(w, status, message)
		return
	}
	log.Warn().Err(err).Int("status", status).Msg(message)
	middleware.WriteError(w, status, fmt.Sprintf("%s: %v", message, err))
}
