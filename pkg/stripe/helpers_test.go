package stripe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/subhook/pkg/subhook"
	"github.com/mihaimyh/subhook/storage/memory"
)

const (
	testSecret      = "whsec_test_secret"
	testUserID      = "u1"
	testSubID       = "sub_1"
	testCustomerID  = "cus_1"
	testPeriodEnd   = int64(1711929600) // 2024-04-01T00:00:00Z
	testSubCreated  = int64(1709290000)
	testMetadataKey = "supabase_user_id"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeAPI is an in-memory SubscriptionFetcher.
type fakeAPI struct {
	mu        sync.Mutex
	subs      map[string]*stripe.Subscription
	customers map[string]*stripe.Customer
	err       error
	calls     int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		subs:      make(map[string]*stripe.Subscription),
		customers: make(map[string]*stripe.Customer),
	}
}

func (f *fakeAPI) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", id)
	}
	return sub, nil
}

func (f *fakeAPI) GetCustomer(_ context.Context, id string) (*stripe.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cust, ok := f.customers[id]
	if !ok {
		return nil, fmt.Errorf("no such customer: %s", id)
	}
	return cust, nil
}

func testSubscription(id, status string, userID string) *stripe.Subscription {
	sub := &stripe.Subscription{
		ID:       id,
		Status:   stripe.SubscriptionStatus(status),
		Created:  testSubCreated,
		Customer: &stripe.Customer{ID: testCustomerID},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{ID: "si_1", CurrentPeriodEnd: testPeriodEnd - 86400},
				{ID: "si_2", CurrentPeriodEnd: testPeriodEnd},
			},
		},
	}
	if userID != "" {
		sub.Metadata = map[string]string{testMetadataKey: userID}
	}
	return sub
}

func customerWithUser(userID string) *stripe.Customer {
	return &stripe.Customer{
		ID:       testCustomerID,
		Metadata: map[string]string{testMetadataKey: userID},
	}
}

func newTestStore(t *testing.T, opts ...memory.Option) *memory.Storage {
	t.Helper()
	opts = append([]memory.Option{memory.WithClock(subhook.FixedClock{FixedTime: testNow})}, opts...)
	return memory.New(opts...)
}

func seedProfile(t *testing.T, store *memory.Storage, p subhook.UserProfile) {
	t.Helper()
	require.NoError(t, store.PutProfile(&p))
}

func getProfile(t *testing.T, store *memory.Storage, id string) *subhook.UserProfile {
	t.Helper()
	p, err := store.GetProfile(context.Background(), id)
	require.NoError(t, err)
	return p
}

func newTestProcessor(t *testing.T, events subhook.EventLog, profiles subhook.ProfileStore, api SubscriptionFetcher, mutate ...func(*Config)) *Processor {
	t.Helper()
	cfg := Config{
		WebhookSecret:     testSecret,
		API:               api,
		Events:            events,
		Profiles:          profiles,
		RateLimitRequests: -1,
		Clock:             subhook.FixedClock{FixedTime: testNow},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := NewProcessor(cfg)
	require.NoError(t, err)
	return p
}

func eventPayload(id, eventType, object string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"object":"event","api_version":"2025-09-30.clover","created":1709294400,"livemode":false,"type":%q,"data":{"object":%s}}`,
		id, eventType, object,
	))
}

func signedRequest(payload []byte, secret string, ts time.Time) *http.Request {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func deliver(p *Processor, payload []byte) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	p.WebhookHandler().ServeHTTP(rec, signedRequest(payload, testSecret, time.Now()))
	return rec
}

// failingProfiles fails every update.
type failingProfiles struct{ err error }

func (f failingProfiles) UpdateByID(context.Context, string, subhook.ProfileUpdate) error {
	return f.err
}

// failingEvents fails every lookup.
type failingEvents struct{ err error }

func (f failingEvents) FindByEventID(context.Context, string) (*subhook.ProcessedEventRecord, error) {
	return nil, f.err
}

func (f failingEvents) Insert(context.Context, *subhook.ProcessedEventRecord) error {
	return f.err
}

var errBackend = errors.New("connection reset by peer")

// recordingMetrics keeps webhook outcomes for assertions.
type recordingMetrics struct {
	subhook.NoopMetrics
	mu       sync.Mutex
	outcomes []string
	rejected []string
	claims   []string
}

func (m *recordingMetrics) RecordWebhookEvent(eventType, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, eventType+":"+status)
}

func (m *recordingMetrics) RecordWebhookRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, reason)
}

func (m *recordingMetrics) RecordClaim(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims = append(m.claims, outcome)
}
