package billing

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/papervault/backend/internal/tiers"
)

// Stripe keeps event payloads well under this.
const maxWebhookBody = 65536

// TierUpdater applies a tier change to an account.
type TierUpdater interface {
	UpdateTier(ctx context.Context, accountID uuid.UUID, tier string) error
}

// CreditGranter credits an account after a paid credit pack.
type CreditGranter interface {
	Purchase(ctx context.Context, accountID uuid.UUID, amount int64, reference string) (int64, error)
}

// WebhookHandler applies Stripe events to local state. Everything it
// does is idempotent, so Stripe retries are harmless.
type WebhookHandler struct {
	Config  Config
	Usage   UsageStore
	Tiers   TierUpdater
	Credits CreditGranter
	Log     *slog.Logger
}

func NewWebhookHandler(cfg Config, usage UsageStore, tierSvc TierUpdater, credits CreditGranter, log *slog.Logger) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{Config: cfg, Usage: usage, Tiers: tierSvc, Credits: credits, Log: log}
}

// POST /api/stripe/webhook
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, `{"error":"could not read body"}`, http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), h.Config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.Log.Warn("stripe webhook signature rejected", "error", err)
		http.Error(w, `{"error":"invalid signature"}`, http.StatusBadRequest)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		err = h.checkoutCompleted(r.Context(), event)
	case "customer.subscription.updated":
		err = h.subscriptionUpdated(r.Context(), event)
	case "customer.subscription.deleted":
		err = h.subscriptionDeleted(r.Context(), event)
	default:
		h.Log.Debug("ignoring stripe event", "type", event.Type)
	}
	if err != nil {
		h.Log.Error("stripe webhook failed", "type", event.Type, "error", err)
		// Non-2xx makes Stripe retry the event later.
		http.Error(w, `{"error":"event not applied"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandler) checkoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return err
	}
	if sess.Customer == nil {
		h.Log.Warn("checkout session without customer", "session_id", sess.ID)
		return nil
	}
	rec, err := h.Usage.GetByStripeCustomerID(ctx, sess.Customer.ID)
	if err != nil {
		return err
	}

	if pack := sess.Metadata["credit_pack"]; pack != "" {
		amount, err := strconv.ParseInt(pack, 10, 64)
		if err != nil || amount <= 0 {
			h.Log.Warn("bad credit_pack metadata", "session_id", sess.ID, "value", pack)
			return nil
		}
		_, err = h.Credits.Purchase(ctx, rec.AccountID, amount, sess.ID)
		return err
	}

	tier := sess.Metadata["tier"]
	if tier == "" {
		h.Log.Warn("checkout session without tier metadata", "session_id", sess.ID)
		return nil
	}
	if err := h.Tiers.UpdateTier(ctx, rec.AccountID, tier); err != nil {
		return err
	}
	subID := ""
	if sess.Subscription != nil {
		subID = sess.Subscription.ID
	}
	return h.Usage.SetStripeSubscription(ctx, rec.AccountID, sess.Customer.ID, subID, "active")
}

func (h *WebhookHandler) subscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return err
	}
	if sub.Customer == nil {
		return nil
	}
	rec, err := h.Usage.GetByStripeCustomerID(ctx, sub.Customer.ID)
	if err != nil {
		return err
	}
	if err := h.Usage.SetStripeSubscription(ctx, rec.AccountID, sub.Customer.ID, sub.ID, string(sub.Status)); err != nil {
		return err
	}
	// Plan switches in the portal arrive here; follow the new price.
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		if tier, ok := h.Config.TierByPrice(sub.Items.Data[0].Price.ID); ok {
			return h.Tiers.UpdateTier(ctx, rec.AccountID, tier)
		}
	}
	return nil
}

func (h *WebhookHandler) subscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return err
	}
	if sub.Customer == nil {
		return nil
	}
	rec, err := h.Usage.GetByStripeCustomerID(ctx, sub.Customer.ID)
	if err != nil {
		return err
	}
	if err := h.Tiers.UpdateTier(ctx, rec.AccountID, tiers.Free); err != nil {
		return err
	}
	return h.Usage.SetStripeSubscription(ctx, rec.AccountID, sub.Customer.ID, "", "canceled")
}
