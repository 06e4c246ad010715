// Package billing integrates Stripe: subscription checkout, the customer
// portal, and the webhook that drives tier changes.
package billing

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	portalsession "github.com/stripe/stripe-go/v79/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"

	"github.com/papervault/backend/internal/models"
	"github.com/papervault/backend/internal/tiers"
)

// Config carries the Stripe wiring. Zero SecretKey means billing routes
// report themselves unconfigured instead of calling Stripe.
type Config struct {
	SecretKey       string
	WebhookSecret   string
	FrontendURL     string
	PriceByTier     map[string]string // tier name -> Stripe price ID
	CreditPackPrice string
	CreditPackSize  int64
}

// ConfigFromEnv reads the Stripe settings the deployment provides.
func ConfigFromEnv() Config {
	packSize := int64(500)
	if raw := os.Getenv("STRIPE_CREDIT_PACK_SIZE"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			packSize = n
		}
	}
	return Config{
		SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		FrontendURL:   strings.TrimRight(os.Getenv("FRONTEND_URL"), "/"),
		PriceByTier: map[string]string{
			tiers.Researcher:  os.Getenv("STRIPE_PRICE_RESEARCHER"),
			tiers.Arbitrageur: os.Getenv("STRIPE_PRICE_ARBITRAGEUR"),
			tiers.Sovereign:   os.Getenv("STRIPE_PRICE_SOVEREIGN"),
		},
		CreditPackPrice: os.Getenv("STRIPE_PRICE_CREDIT_PACK"),
		CreditPackSize:  packSize,
	}
}

// Init sets the package-global Stripe key, the way stripe-go is meant to
// be used. Call once at startup.
func (c Config) Init() {
	stripe.Key = c.SecretKey
}

// Configured reports whether checkout and portal can work.
func (c Config) Configured() bool {
	return c.SecretKey != "" && c.FrontendURL != ""
}

// TierByPrice reverse-maps a Stripe price ID to a tier name.
func (c Config) TierByPrice(priceID string) (string, bool) {
	for tier, p := range c.PriceByTier {
		if p != "" && p == priceID {
			return tier, true
		}
	}
	return "", false
}

// UsageStore is the usage-record slice billing needs.
type UsageStore interface {
	GetOrCreate(ctx context.Context, accountID uuid.UUID) (*models.UsageRecord, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*models.UsageRecord, error)
	SetStripeSubscription(ctx context.Context, accountID uuid.UUID, customerID, subscriptionID, status string) error
}

// Service talks to Stripe on behalf of accounts.
type Service struct {
	Config Config
	Usage  UsageStore
}

func NewService(cfg Config, usage UsageStore) *Service {
	return &Service{Config: cfg, Usage: usage}
}

// EnsureCustomer returns the account's Stripe customer ID, creating the
// customer on first use and persisting the linkage.
func (s *Service) EnsureCustomer(ctx context.Context, accountID uuid.UUID, email string) (string, error) {
	rec, err := s.Usage.GetOrCreate(ctx, accountID)
	if err != nil {
		return "", err
	}
	if rec.StripeCustomerID != "" {
		return rec.StripeCustomerID, nil
	}
	cust, err := customer.New(&stripe.CustomerParams{
		Email:    stripe.String(email),
		Metadata: map[string]string{"account_id": accountID.String()},
	})
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	if err := s.Usage.SetStripeSubscription(ctx, accountID, cust.ID, rec.StripeSubscriptionID, rec.SubscriptionStatus); err != nil {
		return "", err
	}
	return cust.ID, nil
}

// SubscriptionCheckoutURL starts a subscription checkout for the tier and
// returns the hosted page URL. The tier name travels in session metadata
// so the webhook can apply it without a price lookup.
func (s *Service) SubscriptionCheckoutURL(ctx context.Context, accountID uuid.UUID, email, tier string) (string, error) {
	priceID := s.Config.PriceByTier[tier]
	if priceID == "" {
		return "", fmt.Errorf("no price configured for tier %s", tier)
	}
	customerID, err := s.EnsureCustomer(ctx, accountID, email)
	if err != nil {
		return "", err
	}
	sess, err := checkoutsession.New(&stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		Metadata:   map[string]string{"tier": tier},
		SuccessURL: stripe.String(s.Config.FrontendURL + "/billing/success"),
		CancelURL:  stripe.String(s.Config.FrontendURL + "/billing/cancel"),
	})
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreditPackCheckoutURL starts a one-time payment checkout for a credit pack.
func (s *Service) CreditPackCheckoutURL(ctx context.Context, accountID uuid.UUID, email string) (string, error) {
	if s.Config.CreditPackPrice == "" {
		return "", fmt.Errorf("no credit pack price configured")
	}
	customerID, err := s.EnsureCustomer(ctx, accountID, email)
	if err != nil {
		return "", err
	}
	sess, err := checkoutsession.New(&stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(s.Config.CreditPackPrice), Quantity: stripe.Int64(1)},
		},
		Metadata:   map[string]string{"credit_pack": strconv.FormatInt(s.Config.CreditPackSize, 10)},
		SuccessURL: stripe.String(s.Config.FrontendURL + "/billing/success"),
		CancelURL:  stripe.String(s.Config.FrontendURL + "/billing/cancel"),
	})
	if err != nil {
		return "", fmt.Errorf("create credit pack session: %w", err)
	}
	return sess.URL, nil
}

// PortalURL opens the Stripe customer portal for an account that already
// has a customer.
func (s *Service) PortalURL(ctx context.Context, accountID uuid.UUID) (string, error) {
	rec, err := s.Usage.GetOrCreate(ctx, accountID)
	if err != nil {
		return "", err
	}
	if rec.StripeCustomerID == "" {
		return "", fmt.Errorf("account has no stripe customer")
	}
	sess, err := portalsession.New(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(rec.StripeCustomerID),
		ReturnURL: stripe.String(s.Config.FrontendURL + "/settings/billing"),
	})
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return sess.URL, nil
}
