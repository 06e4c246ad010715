package router

import (
	"net/http"

	"github.com/papervault/backend/internal/auth"
	"github.com/papervault/backend/internal/billing"
	"github.com/papervault/backend/internal/dashboard"
	"github.com/papervault/backend/internal/sources"
)

// New returns the session-authenticated dashboard surface plus the
// Stripe webhook. The key-authenticated data plane under /api/v1 is
// registered separately.
func New(authHandler *auth.Handler, dashHandler *dashboard.Handler, sourcesHandler *sources.Handler, billingHandler *billing.Handler, webhookHandler *billing.WebhookHandler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	mux.HandleFunc("GET /api/account/me", dashHandler.GetMe)
	mux.HandleFunc("PATCH /api/account/settings", dashHandler.UpdateSettings)
	mux.HandleFunc("GET /api/credit-ledger", dashHandler.ListCreditLedger)

	mux.HandleFunc("GET /api/api-keys", dashHandler.ListAPIKeys)
	mux.HandleFunc("POST /api/api-keys", dashHandler.CreateAPIKey)
	mux.HandleFunc("DELETE /api/api-keys/{id}", dashHandler.DeleteAPIKey)

	mux.HandleFunc("GET /api/sources", sourcesHandler.List)
	mux.HandleFunc("POST /api/sources", sourcesHandler.Create)
	mux.HandleFunc("DELETE /api/sources/{id}", sourcesHandler.Delete)

	mux.HandleFunc("POST /api/billing/checkout", billingHandler.CreateCheckout)
	mux.HandleFunc("POST /api/billing/portal", billingHandler.CreatePortal)

	// Stripe calls this; its signature check is the auth.
	mux.HandleFunc("POST /api/stripe/webhook", webhookHandler.Handle)

	return mux
}
