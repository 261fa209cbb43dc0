package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/subhook/pkg/stripe/internal"
	"github.com/mihaimyh/subhook/pkg/subhook"
)

// Outcome statuses reported to metrics and logs.
const (
	statusSuccess   = "success"
	statusIgnored   = "ignored"
	statusDuplicate = "duplicate"
	statusError     = "error"
)

var receivedBody = map[string]bool{"received": true}

// handleWebhook processes incoming Stripe webhook deliveries
func (p *Processor) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	internal.SetCORSHeaders(w, p.allowedOrigin)
	internal.SetSecurityHeaders(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		_ = internal.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sig, err := signature(r)
	if err != nil {
		p.metrics.RecordWebhookRejected("missing_signature")
		p.logger.Warn("stripe webhook rejected", subhook.F("error", err))
		_ = internal.WriteError(w, http.StatusBadRequest, msgMissingSignatureHeader)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, p.maxBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			p.metrics.RecordWebhookRejected("payload_too_large")
			_ = internal.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		p.metrics.RecordWebhookRejected("invalid_payload")
		_ = internal.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return
	}

	event, err := p.verify(body, sig)
	if err != nil {
		p.metrics.RecordWebhookRejected("invalid_signature")
		p.logger.Warn("stripe webhook signature rejected", subhook.F("error", err))
		_ = internal.WriteError(w, http.StatusBadRequest, msgInvalidSignature)
		return
	}

	eventType := string(event.Type)
	status, err := p.processEvent(r.Context(), &event, body)
	p.metrics.RecordWebhookEvent(eventType, status)
	p.metrics.RecordWebhookProcessingDuration(eventType, time.Since(startTime))
	if err != nil {
		p.logger.Error("stripe webhook processing failed",
			subhook.F("event_id", event.ID),
			subhook.F("event_type", eventType),
			subhook.F("error", err),
		)
		_ = internal.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, receivedBody)
}

// signature returns the Stripe-Signature header. A blank header counts as missing.
func signature(r *http.Request) (string, error) {
	sig := strings.TrimSpace(r.Header.Get(signatureHeader))
	if sig == "" {
		return "", ErrMissingSignature
	}
	return sig, nil
}

// verify authenticates the payload against the endpoint secret. An empty secret
// never verifies.
func (p *Processor) verify(body []byte, sig string) (stripe.Event, error) {
	if p.webhookSecret == "" {
		return stripe.Event{}, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(body, sig, p.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.ID == "" {
		return stripe.Event{}, fmt.Errorf("%w: event has no id", ErrInvalidSignature)
	}
	return event, nil
}

// processEvent resolves the event into a profile update, claims the event id
// and applies the update once. The returned status is one of the outcome
// constants; a non-nil error means the delivery should be retried.
func (p *Processor) processEvent(ctx context.Context, event *stripe.Event, body []byte) (string, error) {
	handler, known := eventHandlers[event.Type]

	var eff effect
	if known {
		var err error
		eff, err = handler(p, ctx, event)
		if err != nil {
			return statusError, err
		}
	}

	claim, err := subhook.ClaimEvent(ctx, p.events, eff.record(event, body, p.clock.Now()))
	if err != nil {
		p.metrics.RecordClaim(statusError)
		return statusError, err
	}
	p.metrics.RecordClaim(claim.String())

	logFields := []subhook.Field{
		subhook.F("event_id", event.ID),
		subhook.F("event_type", string(event.Type)),
	}
	if eff.userID != "" {
		logFields = append(logFields, subhook.F("user_id", eff.userID))
	}

	switch claim {
	case subhook.ClaimDuplicate:
		p.logger.Info("duplicate stripe event skipped", logFields...)
		return statusDuplicate, nil
	case subhook.ClaimStoreUnavailable:
		p.logger.Warn("processed event log unavailable; processing without idempotency", logFields...)
	}

	switch {
	case !known:
		p.logger.Debug("unhandled stripe event type", logFields...)
		return statusIgnored, nil
	case eff.problem != "":
		p.logger.Warn("stripe event not applied", append(logFields, subhook.F("reason", eff.problem))...)
		return statusIgnored, nil
	case eff.update.IsEmpty():
		if eff.note != "" {
			p.logger.Info(eff.note, logFields...)
		}
		return statusIgnored, nil
	}

	if err := p.profiles.UpdateByID(ctx, eff.userID, eff.update); err != nil {
		if errors.Is(err, subhook.ErrProfileNotFound) {
			p.logger.Warn("profile not found; stripe event acknowledged without update", logFields...)
			return statusIgnored, nil
		}
		return statusError, fmt.Errorf("failed to update profile %s: %w", eff.userID, err)
	}

	p.metrics.RecordProfileUpdate(patchValue(eff.update.Status), patchValue(eff.update.Tier))
	p.logger.Info("profile updated from stripe event", logFields...)
	p.notify(ctx, event, eff)

	return statusSuccess, nil
}

// notify runs the OnProfileUpdated callback; failures are only logged.
func (p *Processor) notify(ctx context.Context, event *stripe.Event, eff effect) {
	if p.onProfileUpdated == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultCallbackTimeout)
	defer cancel()

	pe := subhook.ProfileEvent{
		EventID:   event.ID,
		EventType: string(event.Type),
		UserID:    eff.userID,
		Status:    patchValue(eff.update.Status),
		Tier:      patchValue(eff.update.Tier),
		AppliedAt: p.clock.Now(),
	}
	if err := p.onProfileUpdated(ctx, pe); err != nil {
		p.logger.Error("profile update callback failed",
			subhook.F("event_id", event.ID),
			subhook.F("user_id", eff.userID),
			subhook.F("error", err),
		)
	}
}

func patchValue[T any](f subhook.Patch[T]) T {
	var zero T
	if !f.Set || f.Value == nil {
		return zero
	}
	return *f.Value
}
