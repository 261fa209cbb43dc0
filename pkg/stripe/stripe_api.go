package stripe

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/subhook/pkg/subhook"
)

// SubscriptionFetcher reads billing objects from Stripe.
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	GetCustomer(ctx context.Context, id string) (*stripe.Customer, error)
}

// StripeAPI implements SubscriptionFetcher over the Stripe client.
type StripeAPI struct {
	client  *stripe.Client
	metrics subhook.Metrics
}

// NewStripeAPI creates a fetcher authenticated with apiKey.
func NewStripeAPI(apiKey string, metrics subhook.Metrics) *StripeAPI {
	return NewStripeAPIWithClient(stripe.NewClient(apiKey), metrics)
}

// NewStripeAPIWithClient wraps an existing client (custom backends, tests).
func NewStripeAPIWithClient(client *stripe.Client, metrics subhook.Metrics) *StripeAPI {
	if metrics == nil {
		metrics = &subhook.NoopMetrics{}
	}
	return &StripeAPI{client: client, metrics: metrics}
}

func (a *StripeAPI) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	start := time.Now()
	sub, err := a.client.V1Subscriptions.Retrieve(ctx, id, nil)
	a.record("/subscriptions/retrieve", start, err)
	return sub, err
}

func (a *StripeAPI) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	start := time.Now()
	cust, err := a.client.V1Customers.Retrieve(ctx, id, nil)
	a.record("/customers/retrieve", start, err)
	return cust, err
}

func (a *StripeAPI) record(endpoint string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	a.metrics.RecordAPICall(endpoint, status)
	a.metrics.RecordAPICallDuration(endpoint, time.Since(start))
}
