package stripe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"
)

func TestPeriodEnd(t *testing.T) {
	sub := testSubscription("sub_1", "active", "")

	end, ok := periodEnd(sub, nil)
	require.True(t, ok)
	assert.Equal(t, time.Unix(testPeriodEnd, 0).UTC(), end, "latest item wins")

	end, ok = periodEnd(sub, []byte(`{"current_period_end":1700000000}`))
	require.True(t, ok)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), end, "top-level field takes precedence")

	_, ok = periodEnd(&stripe.Subscription{ID: "sub_bare"}, []byte(`{"id":"sub_bare"}`))
	assert.False(t, ok)
}

func TestInvoiceSubscriptionID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "string", raw: `{"subscription":"sub_1"}`, want: "sub_1"},
		{name: "expanded", raw: `{"subscription":{"id":"sub_2","object":"subscription"}}`, want: "sub_2"},
		{name: "parent details", raw: `{"subscription":null,"parent":{"subscription_details":{"subscription":"sub_3"}}}`, want: "sub_3"},
		{name: "none", raw: `{"id":"in_1","parent":{"type":"quote_details"}}`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := invoiceSubscriptionID([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := invoiceSubscriptionID([]byte(`not json`))
	assert.Error(t, err)
}

func TestEventHandlersCoverLifecycle(t *testing.T) {
	for _, eventType := range []stripe.EventType{
		stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted,
		stripe.EventTypeCustomerSubscriptionTrialWillEnd,
		stripe.EventTypeInvoicePaymentSucceeded,
		stripe.EventTypeInvoicePaymentFailed,
	} {
		assert.Contains(t, eventHandlers, eventType)
	}
	assert.Len(t, eventHandlers, 7)
}
