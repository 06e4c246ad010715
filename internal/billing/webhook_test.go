package billing

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/papervault/backend/internal/models"
	"github.com/papervault/backend/internal/tiers"
)

const testWebhookSecret = "whsec_test_secret"

type memUsage struct {
	mu      sync.Mutex
	byCust  map[string]*models.UsageRecord
	subSets []string // "custID/subID/status" in call order
}

func newMemUsage(accountID uuid.UUID, customerID string) *memUsage {
	return &memUsage{byCust: map[string]*models.UsageRecord{
		customerID: {AccountID: accountID, Tier: tiers.Researcher, StripeCustomerID: customerID},
	}}
}

func (m *memUsage) GetOrCreate(ctx context.Context, accountID uuid.UUID) (*models.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.byCust {
		if rec.AccountID == accountID {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("no usage record for %s", accountID)
}

func (m *memUsage) GetByStripeCustomerID(ctx context.Context, customerID string) (*models.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byCust[customerID]
	if !ok {
		return nil, fmt.Errorf("no usage record for customer %s", customerID)
	}
	return rec, nil
}

func (m *memUsage) SetStripeSubscription(ctx context.Context, accountID uuid.UUID, customerID, subscriptionID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subSets = append(m.subSets, customerID+"/"+subscriptionID+"/"+status)
	return nil
}

type tierRecorder struct {
	mu      sync.Mutex
	applied []string // "accountID/tier"
}

func (t *tierRecorder) UpdateTier(ctx context.Context, accountID uuid.UUID, tier string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applied = append(t.applied, accountID.String()+"/"+tier)
	return nil
}

type creditRecorder struct {
	mu        sync.Mutex
	purchases []string // "accountID/amount/reference"
}

func (c *creditRecorder) Purchase(ctx context.Context, accountID uuid.UUID, amount int64, reference string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purchases = append(c.purchases, fmt.Sprintf("%s/%d/%s", accountID, amount, reference))
	return amount, nil
}

func testWebhookHandler(accountID uuid.UUID) (*WebhookHandler, *memUsage, *tierRecorder, *creditRecorder) {
	usage := newMemUsage(accountID, "cus_test1")
	tiersRec := &tierRecorder{}
	credits := &creditRecorder{}
	cfg := Config{
		WebhookSecret: testWebhookSecret,
		PriceByTier: map[string]string{
			tiers.Researcher:  "price_res",
			tiers.Arbitrageur: "price_arb",
			tiers.Sovereign:   "price_sov",
		},
	}
	h := NewWebhookHandler(cfg, usage, tiersRec, credits, nil)
	return h, usage, tiersRec, credits
}

func signedWebhookRequest(t *testing.T, payload, secret string) *http.Request {
	t.Helper()
	now := time.Now()
	sig := webhook.ComputeSignature(now, []byte(payload), secret)
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewBufferString(payload))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig)))
	return req
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	accountID := uuid.New()
	h, usage, tiersRec, credits := testWebhookHandler(accountID)

	payload := `{"id":"evt_1","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","customer":"cus_test1"}}}`
	req := signedWebhookRequest(t, payload, "whsec_wrong_secret")
	w := httptest.NewRecorder()
	h.Handle(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(tiersRec.applied) != 0 || len(credits.purchases) != 0 || len(usage.subSets) != 0 {
		t.Fatal("unverified event must not change state")
	}
}

func TestWebhookCheckoutCompletedSubscription(t *testing.T) {
	accountID := uuid.New()
	h, usage, tiersRec, credits := testWebhookHandler(accountID)

	payload := `{"id":"evt_2","type":"checkout.session.completed","data":{"object":{` +
		`"id":"cs_abc","customer":"cus_test1","subscription":"sub_new1",` +
		`"metadata":{"tier":"ARBITRAGEUR"}}}}`
	w := httptest.NewRecorder()
	h.Handle(w, signedWebhookRequest(t, payload, testWebhookSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if len(tiersRec.applied) != 1 || tiersRec.applied[0] != accountID.String()+"/ARBITRAGEUR" {
		t.Fatalf("tier updates = %v, want one ARBITRAGEUR update", tiersRec.applied)
	}
	if len(usage.subSets) != 1 || usage.subSets[0] != "cus_test1/sub_new1/active" {
		t.Fatalf("subscription sets = %v", usage.subSets)
	}
	if len(credits.purchases) != 0 {
		t.Fatalf("subscription checkout must not grant credits, got %v", credits.purchases)
	}
}

func TestWebhookCheckoutCompletedCreditPack(t *testing.T) {
	accountID := uuid.New()
	h, _, tiersRec, credits := testWebhookHandler(accountID)

	payload := `{"id":"evt_3","type":"checkout.session.completed","data":{"object":{` +
		`"id":"cs_pack","customer":"cus_test1","metadata":{"credit_pack":"500"}}}}`
	w := httptest.NewRecorder()
	h.Handle(w, signedWebhookRequest(t, payload, testWebhookSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	want := fmt.Sprintf("%s/500/cs_pack", accountID)
	if len(credits.purchases) != 1 || credits.purchases[0] != want {
		t.Fatalf("purchases = %v, want [%s]", credits.purchases, want)
	}
	if len(tiersRec.applied) != 0 {
		t.Fatalf("credit pack must not change the tier, got %v", tiersRec.applied)
	}
}

func TestWebhookSubscriptionUpdatedFollowsPrice(t *testing.T) {
	accountID := uuid.New()
	h, usage, tiersRec, _ := testWebhookHandler(accountID)

	payload := `{"id":"evt_4","type":"customer.subscription.updated","data":{"object":{` +
		`"id":"sub_1","customer":"cus_test1","status":"past_due",` +
		`"items":{"data":[{"price":{"id":"price_sov"}}]}}}}`
	w := httptest.NewRecorder()
	h.Handle(w, signedWebhookRequest(t, payload, testWebhookSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if len(usage.subSets) != 1 || usage.subSets[0] != "cus_test1/sub_1/past_due" {
		t.Fatalf("subscription sets = %v", usage.subSets)
	}
	if len(tiersRec.applied) != 1 || tiersRec.applied[0] != accountID.String()+"/SOVEREIGN" {
		t.Fatalf("tier updates = %v, want SOVEREIGN", tiersRec.applied)
	}
}

func TestWebhookSubscriptionDeletedDowngrades(t *testing.T) {
	accountID := uuid.New()
	h, usage, tiersRec, _ := testWebhookHandler(accountID)

	payload := `{"id":"evt_5","type":"customer.subscription.deleted","data":{"object":{` +
		`"id":"sub_1","customer":"cus_test1","status":"canceled"}}}`
	w := httptest.NewRecorder()
	h.Handle(w, signedWebhookRequest(t, payload, testWebhookSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if len(tiersRec.applied) != 1 || tiersRec.applied[0] != accountID.String()+"/FREE" {
		t.Fatalf("tier updates = %v, want FREE downgrade", tiersRec.applied)
	}
	if len(usage.subSets) != 1 || usage.subSets[0] != "cus_test1//canceled" {
		t.Fatalf("subscription sets = %v", usage.subSets)
	}
}

func TestWebhookIgnoresUnknownEvent(t *testing.T) {
	accountID := uuid.New()
	h, usage, tiersRec, credits := testWebhookHandler(accountID)

	payload := `{"id":"evt_6","type":"invoice.finalized","data":{"object":{"id":"in_1"}}}`
	w := httptest.NewRecorder()
	h.Handle(w, signedWebhookRequest(t, payload, testWebhookSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(tiersRec.applied) != 0 || len(credits.purchases) != 0 || len(usage.subSets) != 0 {
		t.Fatal("unhandled event types must be no-ops")
	}
}
