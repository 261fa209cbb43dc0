package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/subhook/pkg/stripe/internal"
	"github.com/mihaimyh/subhook/pkg/subhook"
)

const (
	providerName              = "stripe"
	defaultUserIDMetadataKey  = "supabase_user_id"
	defaultMaxBodyBytes       = 256 * 1024
	defaultRateLimitWindow    = time.Minute
	defaultCallbackTimeout    = 5 * time.Second
	signatureHeader           = "Stripe-Signature"
	msgMissingSignatureHeader = "Missing signature header"
	msgInvalidSignature       = "Invalid signature"
)

// Config configures a Processor.
type Config struct {
	// WebhookSecret is the endpoint signing secret (whsec_...). An empty secret
	// is accepted but every delivery then fails verification.
	WebhookSecret string

	// APIKey is used to build a StripeAPI when API is nil.
	APIKey string

	// API fetches subscriptions and customers from Stripe (optional, overrides APIKey).
	API SubscriptionFetcher

	// Events is the processed-event log used for idempotency (required).
	Events subhook.EventLog

	// Profiles receives the derived profile updates (required).
	Profiles subhook.ProfileStore

	// UserIDMetadataKey is the metadata key carrying the application user id.
	// Default: "supabase_user_id"
	UserIDMetadataKey string

	// SignatureTolerance bounds the age of a signed payload.
	// Default: webhook.DefaultTolerance
	SignatureTolerance time.Duration

	// MaxBodyBytes caps the request body. Default: 256 KiB
	MaxBodyBytes int64

	// RateLimitRequests per connection address and RateLimitWindow.
	// Zero or negative disables limiting. Default: disabled, 1 minute window
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// AllowedOrigin for CORS responses. Default: "*"
	AllowedOrigin string

	// OnProfileUpdated is called after a profile update was applied (optional).
	// Errors are logged and never fail the delivery.
	OnProfileUpdated func(ctx context.Context, event subhook.ProfileEvent) error

	Logger  subhook.Logger
	Metrics subhook.Metrics
	Clock   subhook.Clock
}

// Processor verifies Stripe webhook deliveries and applies them to user profiles
// at most once per event id.
type Processor struct {
	webhookSecret    string
	api              SubscriptionFetcher
	events           subhook.EventLog
	profiles         subhook.ProfileStore
	userIDKey        string
	tolerance        time.Duration
	maxBodyBytes     int64
	allowedOrigin    string
	rateLimiter      *internal.RateLimiter
	onProfileUpdated func(ctx context.Context, event subhook.ProfileEvent) error
	logger           subhook.Logger
	metrics          subhook.Metrics
	clock            subhook.Clock
}

// NewProcessor creates a new Stripe webhook processor.
func NewProcessor(config Config) (*Processor, error) {
	if config.Events == nil || config.Profiles == nil {
		return nil, ErrNotConfigured
	}

	api := config.API
	if api == nil {
		apiKey := strings.TrimSpace(config.APIKey)
		if apiKey == "" {
			return nil, ErrNotConfigured
		}
		api = NewStripeAPI(apiKey, config.Metrics)
	}

	p := &Processor{
		webhookSecret:    strings.TrimSpace(config.WebhookSecret),
		api:              api,
		events:           config.Events,
		profiles:         config.Profiles,
		userIDKey:        config.UserIDMetadataKey,
		tolerance:        config.SignatureTolerance,
		maxBodyBytes:     config.MaxBodyBytes,
		allowedOrigin:    config.AllowedOrigin,
		onProfileUpdated: config.OnProfileUpdated,
		logger:           config.Logger,
		metrics:          config.Metrics,
		clock:            config.Clock,
	}
	if p.userIDKey == "" {
		p.userIDKey = defaultUserIDMetadataKey
	}
	if p.tolerance <= 0 {
		p.tolerance = webhook.DefaultTolerance
	}
	if p.maxBodyBytes <= 0 {
		p.maxBodyBytes = defaultMaxBodyBytes
	}
	if p.allowedOrigin == "" {
		p.allowedOrigin = "*"
	}
	if p.logger == nil {
		p.logger = &subhook.NoopLogger{}
	}
	if p.metrics == nil {
		p.metrics = &subhook.NoopMetrics{}
	}
	if p.clock == nil {
		p.clock = subhook.RealClock{}
	}

	window := config.RateLimitWindow
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	p.rateLimiter = internal.NewRateLimiter(config.RateLimitRequests, window)

	if p.webhookSecret == "" {
		p.logger.Warn("stripe webhook secret is empty; every delivery will fail verification")
	}

	return p, nil
}

// Name returns the provider name.
func (p *Processor) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhook deliveries.
func (p *Processor) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}
