package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/papervault/backend/internal/auth"
	"github.com/papervault/backend/internal/models"
)

// AccountStore resolves the account behind a dashboard session.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// Handler serves the dashboard-facing billing routes.
type Handler struct {
	authSvc  auth.Service
	accounts AccountStore
	svc      *Service
	log      *slog.Logger
}

func NewHandler(authSvc auth.Service, accounts AccountStore, svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{authSvc: authSvc, accounts: accounts, svc: svc, log: log}
}

func (h *Handler) accountFromRequest(r *http.Request) (*models.Account, error) {
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return nil, fmt.Errorf("bad authorization format")
	}
	token := strings.TrimSpace(authz[len(prefix):])
	if token == "" {
		return nil, fmt.Errorf("empty token")
	}
	accountID, err := h.authSvc.ValidateToken(r.Context(), token)
	if err != nil {
		return nil, err
	}
	return h.accounts.GetByID(r.Context(), accountID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type checkoutRequest struct {
	Tier       string `json:"tier"`
	CreditPack bool   `json:"credit_pack"`
}

// POST /api/billing/checkout
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accountFromRequest(r)
	if err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if !h.svc.Config.Configured() {
		http.Error(w, `{"error":"billing is not configured"}`, http.StatusServiceUnavailable)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}

	var url string
	switch {
	case req.CreditPack:
		url, err = h.svc.CreditPackCheckoutURL(r.Context(), acc.ID, acc.Email)
	case req.Tier != "":
		url, err = h.svc.SubscriptionCheckoutURL(r.Context(), acc.ID, acc.Email, strings.ToUpper(req.Tier))
	default:
		http.Error(w, `{"error":"specify a tier or credit_pack"}`, http.StatusBadRequest)
		return
	}
	if err != nil {
		h.log.Error("create checkout session", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"could not start checkout"}`, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// POST /api/billing/portal
func (h *Handler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accountFromRequest(r)
	if err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if !h.svc.Config.Configured() {
		http.Error(w, `{"error":"billing is not configured"}`, http.StatusServiceUnavailable)
		return
	}
	url, err := h.svc.PortalURL(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("create portal session", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"could not open billing portal"}`, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
