package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/subhook/internal/config"
	"github.com/mihaimyh/subhook/pkg/stripe"
	"github.com/mihaimyh/subhook/pkg/subhook"
	"github.com/mihaimyh/subhook/storage/memory"
)

func TestNewRouter_Healthz(t *testing.T) {
	r := newRouter("/webhooks/stripe", http.NotFoundHandler(), nil, &subhook.NoopLogger{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestNewRouter_HealthzUnavailable(t *testing.T) {
	ping := func(context.Context) error { return errors.New("dial tcp: connection refused") }
	r := newRouter("/webhooks/stripe", http.NotFoundHandler(), ping, &subhook.NoopLogger{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())
}

func TestNewRouter_MountsWebhook(t *testing.T) {
	store := memory.New()
	p, err := stripe.NewProcessor(stripe.Config{
		WebhookSecret:     "whsec_router",
		APIKey:            "sk_test_unused",
		Events:            store,
		Profiles:          store,
		RateLimitRequests: -1,
	})
	require.NoError(t, err)
	r := newRouter("/hooks/stripe", p.WebhookHandler(), store.Ping, &subhook.NoopLogger{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hooks/stripe", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Missing signature header"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewRouter_RecoversPanics(t *testing.T) {
	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	r := newRouter("/webhooks/stripe", boom, nil, &subhook.NoopLogger{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestOpenBackend_Memory(t *testing.T) {
	c := config.Default()
	b, err := openBackend(context.Background(), &c, &subhook.NoopLogger{})
	require.NoError(t, err)
	defer b.Close()

	_, isMemory := b.store.(*memory.Storage)
	assert.True(t, isMemory, "memory backend is never wrapped in a circuit breaker")
	assert.NotNil(t, b.reader)
	require.NotNil(t, b.ping)
	assert.NoError(t, b.ping(context.Background()))
}

func TestOpenBackend_RedisWrappedInCircuitBreaker(t *testing.T) {
	c := config.Default()
	c.Storage.Backend = config.BackendRedis
	c.Storage.RedisAddr = "127.0.0.1:0"

	// The client connects lazily, so opening never touches the network.
	b, err := openBackend(context.Background(), &c, &subhook.NoopLogger{})
	require.NoError(t, err)
	defer b.Close()

	_, wrapped := b.store.(*subhook.CircuitBreakerStore)
	assert.True(t, wrapped)
	assert.NotNil(t, b.ping)
}

func TestBackend_CloseOrder(t *testing.T) {
	var order []string
	b := &backend{}
	b.onClose(func() error { order = append(order, "client"); return nil })
	b.onClose(func() error { order = append(order, "store"); return errors.New("flush failed") })

	err := b.Close()
	require.Error(t, err)
	assert.Equal(t, []string{"store", "client"}, order)
}

func TestShowProfile(t *testing.T) {
	store := memory.New()
	subID := "sub_1"
	require.NoError(t, store.PutProfile(&subhook.UserProfile{
		ID:                   "u1",
		SubscriptionStatus:   subhook.StatusActive,
		SubscriptionTier:     subhook.TierPremium,
		StripeSubscriptionID: &subID,
	}))

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())

	require.NoError(t, showProfile(cmd, store, "u1"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "u1", got["id"])
	assert.Equal(t, "active", got["subscription_status"])
	assert.Equal(t, "premium", got["subscription_tier"])
	assert.Equal(t, "sub_1", got["stripe_subscription_id"])

	err := showProfile(cmd, store, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	assert.Error(t, showProfile(cmd, nil, "u1"))
}

func TestMigrationURL(t *testing.T) {
	prevURL, prevCfg := databaseURL, cfg
	t.Cleanup(func() { databaseURL, cfg = prevURL, prevCfg })

	databaseURL, cfg = "", nil
	_, err := migrationURL()
	assert.Error(t, err)

	c := config.Default()
	c.Storage.PostgresURL = "postgres://config/subhook"
	cfg = &c
	url, err := migrationURL()
	require.NoError(t, err)
	assert.Equal(t, "postgres://config/subhook", url)

	databaseURL = "postgres://flag/subhook"
	url, err = migrationURL()
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag/subhook", url)
}
