package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseairosa/codesalvage/internal/config"
	"github.com/joseairosa/codesalvage/internal/payments"
)

func newTestServer(t *testing.T) (*Server, *payments.FakeProcessor) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Port:                "0",
		Env:                 "test",
		LogLevel:            "error",
		StripeSecretKey:     "sk_test_x",
		StripeWebhookSecret: "whsec_x",
		CommissionBps:       2000,
		EscrowHold:          7 * 24 * time.Hour,
		OfferTTL:            72 * time.Hour,
		MinOfferCents:       100,
		ReleaseWarning:      24 * time.Hour,
		CheckoutTTL:         24 * time.Hour,
		WebhookAttempts:     3,
		SweepSecret:         "sweep-secret",
	}

	processor := payments.NewFakeProcessor()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(cfg, WithProcessor(processor), WithLogger(logger))
	require.NoError(t, err)
	return srv, processor
}

type apiClient struct {
	t      *testing.T
	srv    *Server
	actor  string
	role   string
	sweep  string
	stripe string
}

func (c *apiClient) do(method, path string, body any) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.actor != "" {
		req.Header.Set("X-Actor-Id", c.actor)
	}
	if c.role != "" {
		req.Header.Set("X-Actor-Role", c.role)
	}
	if c.sweep != "" {
		req.Header.Set("X-Sweep-Secret", c.sweep)
	}
	if c.stripe != "" {
		req.Header.Set("Stripe-Signature", c.stripe)
	}

	w := httptest.NewRecorder()
	c.srv.Router().ServeHTTP(w, req)

	var envelope map[string]json.RawMessage
	_ = json.Unmarshal(w.Body.Bytes(), &envelope)
	return w, envelope
}

func field(t *testing.T, envelope map[string]json.RawMessage, key string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(envelope[key], &out), "missing %q in %v", key, envelope)
	return out
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	c := &apiClient{t: t, srv: srv}

	w, _ := c.do("GET", "/healthz", nil)
	assert.Equal(t, 200, w.Code)
	w, _ = c.do("GET", "/livez", nil)
	assert.Equal(t, 200, w.Code)
	// Readiness flips only after Run.
	w, _ = c.do("GET", "/readyz", nil)
	assert.Equal(t, 503, w.Code)
}

func TestAuthRequiredOnMutations(t *testing.T) {
	srv, _ := newTestServer(t)
	c := &apiClient{t: t, srv: srv}

	w, _ := c.do("POST", "/v1/projects", map[string]any{"title": "x", "priceCents": 1000})
	assert.Equal(t, 401, w.Code)
	w, _ = c.do("POST", "/v1/offers", map[string]any{"projectId": "prj_x", "priceCents": 1000})
	assert.Equal(t, 401, w.Code)
}

// Full negotiated purchase: list, offer, counter, accept, checkout at the
// agreed price, processor confirmation, delivery.
func TestNegotiatedPurchaseFlow(t *testing.T) {
	srv, processor := newTestServer(t)
	seller := &apiClient{t: t, srv: srv, actor: "usr_seller"}
	buyer := &apiClient{t: t, srv: srv, actor: "usr_buyer"}

	w, body := seller.do("POST", "/v1/projects", map[string]any{
		"title": "Half-built CRM", "priceCents": 50000, "sellerAccountId": "acct_seller",
	})
	require.Equal(t, 201, w.Code)
	projectID := field(t, body, "project")["id"].(string)

	w, body = buyer.do("POST", "/v1/offers", map[string]any{
		"projectId": projectID, "priceCents": 38000,
	})
	require.Equal(t, 201, w.Code)
	offerID := field(t, body, "offer")["id"].(string)

	w, _ = seller.do("POST", "/v1/offers/"+offerID+"/counter", map[string]any{"priceCents": 45000})
	require.Equal(t, 200, w.Code)

	w, body = buyer.do("POST", "/v1/offers/"+offerID+"/accept", nil)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "accepted", field(t, body, "offer")["status"])

	w, body = buyer.do("POST", "/v1/transactions", map[string]any{
		"projectId": projectID, "offerId": offerID,
	})
	require.Equal(t, 201, w.Code)
	txn := field(t, body, "transaction")
	assert.Equal(t, float64(45000), txn["amountCents"])
	assert.NotEmpty(t, txn["clientSecret"])
	txnID := txn["id"].(string)
	processorRef := txn["processorRef"].(string)

	// Processor confirms the charge.
	processor.SetNextEvent(&payments.Event{
		ID: "evt_1", Type: "payment_intent.succeeded", PaymentIntentID: processorRef,
	})
	hook := &apiClient{t: t, srv: srv, stripe: "valid"}
	w, _ = hook.do("POST", "/v1/webhooks/stripe", map[string]any{})
	require.Equal(t, 200, w.Code)

	w, body = buyer.do("GET", "/v1/transactions/"+txnID, nil)
	require.Equal(t, 200, w.Code)
	txn = field(t, body, "transaction")
	assert.Equal(t, "succeeded", txn["paymentStatus"])
	assert.Equal(t, "held", txn["escrowStatus"])

	// The listing is consumed.
	w, body = buyer.do("GET", "/v1/projects/"+projectID, nil)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "sold", field(t, body, "project")["status"])

	// Seller hands off the code.
	w, body = seller.do("POST", "/v1/transactions/"+txnID+"/deliver", nil)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "delivered", field(t, body, "transaction")["deliveryStatus"])
}

func TestWebhookSignatureRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	hook := &apiClient{t: t, srv: srv, stripe: "forged"}

	w, _ := hook.do("POST", "/v1/webhooks/stripe", map[string]any{})
	assert.Equal(t, 400, w.Code)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	srv, _ := newTestServer(t)
	user := &apiClient{t: t, srv: srv, actor: "usr_x"}

	w, _ := user.do("POST", "/v1/transactions/txn_x/refund", nil)
	assert.Equal(t, 403, w.Code)

	w, _ = user.do("POST", "/v1/transactions/txn_x/release", nil)
	assert.Equal(t, 403, w.Code)
}

func TestSweepEndpointGuarded(t *testing.T) {
	srv, _ := newTestServer(t)

	c := &apiClient{t: t, srv: srv}
	w, _ := c.do("POST", "/internal/sweep", nil)
	assert.Equal(t, 403, w.Code)

	c = &apiClient{t: t, srv: srv, sweep: "sweep-secret"}
	w, body := c.do("POST", "/internal/sweep", nil)
	require.Equal(t, 200, w.Code)
	sum := field(t, body, "summary")
	assert.Equal(t, float64(0), sum["released"])
}

func TestSweepReleasesConfirmedEscrow(t *testing.T) {
	srv, processor := newTestServer(t)
	seller := &apiClient{t: t, srv: srv, actor: "usr_seller"}
	buyer := &apiClient{t: t, srv: srv, actor: "usr_buyer"}

	_, body := seller.do("POST", "/v1/projects", map[string]any{
		"title": "Abandoned game engine", "priceCents": 20000, "sellerAccountId": "acct_seller",
	})
	projectID := field(t, body, "project")["id"].(string)

	w, body := buyer.do("POST", "/v1/transactions", map[string]any{"projectId": projectID})
	require.Equal(t, 201, w.Code)
	processorRef := field(t, body, "transaction")["processorRef"].(string)

	processor.SetNextEvent(&payments.Event{
		ID: "evt_1", Type: "payment_intent.succeeded", PaymentIntentID: processorRef,
	})
	hook := &apiClient{t: t, srv: srv, stripe: "valid"}
	w, _ = hook.do("POST", "/v1/webhooks/stripe", map[string]any{})
	require.Equal(t, 200, w.Code)

	// Holding period has not elapsed: sweep releases nothing.
	c := &apiClient{t: t, srv: srv, sweep: "sweep-secret"}
	w, body = c.do("POST", "/internal/sweep", nil)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, float64(0), field(t, body, "summary")["released"])
}

func TestIDsArePrefixed(t *testing.T) {
	srv, _ := newTestServer(t)
	seller := &apiClient{t: t, srv: srv, actor: "usr_seller"}

	_, body := seller.do("POST", "/v1/projects", map[string]any{
		"title": "CLI tool", "priceCents": 5000,
	})
	id := field(t, body, "project")["id"].(string)
	assert.Equal(t, "prj_", id[:4], fmt.Sprintf("unexpected id %q", id))
}
