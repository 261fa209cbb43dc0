package echo

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/subhook/pkg/stripe"
	"github.com/mihaimyh/subhook/pkg/subhook"
	"github.com/mihaimyh/subhook/storage/memory"
)

const testSecret = "whsec_echo_test"

const deletedPayload = `{"id":"evt_echo_1","object":"event","api_version":"2025-09-30.clover","created":1709294400,"type":"customer.subscription.deleted","data":{"object":{"id":"sub_9","object":"subscription","status":"canceled","metadata":{"supabase_user_id":"u9"}}}}`

func setupProcessor(t *testing.T) (*stripe.Processor, *memory.Storage) {
	t.Helper()

	store := memory.New()
	require.NoError(t, store.PutProfile(&subhook.UserProfile{
		ID:                 "u9",
		SubscriptionStatus: subhook.StatusActive,
		SubscriptionTier:   subhook.TierPremium,
	}))

	p, err := stripe.NewProcessor(stripe.Config{
		WebhookSecret:     testSecret,
		APIKey:            "sk_test_unused",
		Events:            store,
		Profiles:          store,
		RateLimitRequests: -1,
	})
	require.NoError(t, err)
	return p, store
}

func signed(payload, path string) *http.Request {
	sig := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(payload))
	req.Header.Set("Stripe-Signature", sig.Header)
	return req
}

func TestRegisterRoot_AppliesSignedDelivery(t *testing.T) {
	p, store := setupProcessor(t)
	e := echo.New()
	RegisterRoot(e, "/webhooks/stripe", p)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, signed(deletedPayload, "/webhooks/stripe"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	profile, err := store.GetProfile(context.Background(), "u9")
	require.NoError(t, err)
	assert.Equal(t, subhook.StatusCanceled, profile.SubscriptionStatus)
	assert.Equal(t, subhook.TierFree, profile.SubscriptionTier)

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "evt_echo_1", records[0].EventID)
}

func TestRegister_Group(t *testing.T) {
	p, _ := setupProcessor(t)
	e := echo.New()
	Register(e.Group("/hooks"), "/stripe", p)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, signed(deletedPayload, "/hooks/stripe"))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Same event again is acknowledged as a duplicate.
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, signed(deletedPayload, "/hooks/stripe"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterRoot_InvalidSignature(t *testing.T) {
	p, store := setupProcessor(t)
	e := echo.New()
	RegisterRoot(e, "/webhooks/stripe", p)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(deletedPayload))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid signature"}`, rec.Body.String())
	assert.Empty(t, store.Records())
}

func TestHandler_NilProcessorPanics(t *testing.T) {
	assert.Panics(t, func() { Handler(nil) })
}
