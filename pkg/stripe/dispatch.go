package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/subhook/pkg/subhook"
)

// effect is what an event handler derived from a verified event.
type effect struct {
	// userID is the profile the event refers to ("" when unresolved).
	userID string
	// update is applied to the profile; an empty update means acknowledge only.
	update subhook.ProfileUpdate
	// note is logged when the event is acknowledged without an update.
	note string
	// problem is a non-retryable defect recorded on the processed event.
	problem string
}

func (e effect) record(event *stripe.Event, body []byte, now time.Time) *subhook.ProcessedEventRecord {
	rec := &subhook.ProcessedEventRecord{
		EventID:     event.ID,
		EventType:   string(event.Type),
		Payload:     json.RawMessage(body),
		ProcessedAt: now,
	}
	if e.userID != "" {
		uid := e.userID
		rec.UserID = &uid
	}
	if e.problem != "" {
		p := e.problem
		rec.Error = &p
	}
	return rec
}

// eventHandler maps a verified event onto an effect. A returned error is a
// recoverable failure (provider API or decoding of our own expectations) and
// makes the delivery retryable.
type eventHandler func(p *Processor, ctx context.Context, event *stripe.Event) (effect, error)

// eventHandlers is the dispatch table. Event types not listed are
// acknowledged and recorded without touching any profile.
var eventHandlers = map[stripe.EventType]eventHandler{
	stripe.EventTypeCheckoutSessionCompleted:         (*Processor).handleCheckoutSessionCompleted,
	stripe.EventTypeCustomerSubscriptionCreated:      (*Processor).handleSubscriptionCreated,
	stripe.EventTypeCustomerSubscriptionUpdated:      (*Processor).handleSubscriptionUpdated,
	stripe.EventTypeCustomerSubscriptionDeleted:      (*Processor).handleSubscriptionDeleted,
	stripe.EventTypeCustomerSubscriptionTrialWillEnd: (*Processor).handleTrialWillEnd,
	stripe.EventTypeInvoicePaymentSucceeded:          (*Processor).handleInvoicePaymentSucceeded,
	stripe.EventTypeInvoicePaymentFailed:             (*Processor).handleInvoicePaymentFailed,
}

// handleCheckoutSessionCompleted processes checkout.session.completed events
func (p *Processor) handleCheckoutSessionCompleted(ctx context.Context, event *stripe.Event) (effect, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return effect{problem: fmt.Sprintf("malformed checkout session: %v", err)}, nil
	}

	userID := session.Metadata[p.userIDKey]
	if userID == "" {
		userID = session.ClientReferenceID
	}

	if session.Subscription == nil || session.Subscription.ID == "" {
		return effect{userID: userID, note: "checkout completed without subscription"}, nil
	}

	sub := session.Subscription
	if sub.Status == "" {
		fetched, err := p.api.GetSubscription(ctx, sub.ID)
		if err != nil {
			return effect{}, fmt.Errorf("failed to retrieve subscription %s: %w", sub.ID, err)
		}
		sub = fetched
	}

	if userID == "" {
		var err error
		if userID, err = p.resolveUser(ctx, sub); err != nil {
			return effect{}, err
		}
		if userID == "" {
			return unresolved(), nil
		}
	}

	switch sub.Status {
	case stripe.SubscriptionStatusTrialing:
		return effect{userID: userID, update: p.startedUpdate(sub, nil, true)}, nil
	case stripe.SubscriptionStatusActive:
		return effect{userID: userID, update: p.startedUpdate(sub, nil, false)}, nil
	default:
		return effect{userID: userID, note: fmt.Sprintf("checkout completed with subscription status %q", sub.Status)}, nil
	}
}

// handleSubscriptionCreated processes customer.subscription.created events
func (p *Processor) handleSubscriptionCreated(ctx context.Context, event *stripe.Event) (effect, error) {
	sub, userID, eff, err := p.subscriptionFromEvent(ctx, event)
	if sub == nil || err != nil {
		return eff, err
	}
	trialing := sub.Status == stripe.SubscriptionStatusTrialing
	return effect{userID: userID, update: p.startedUpdate(sub, event.Data.Raw, trialing)}, nil
}

// handleSubscriptionUpdated processes customer.subscription.updated events.
// The checks run in order and the first match wins.
func (p *Processor) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event) (effect, error) {
	sub, userID, eff, err := p.subscriptionFromEvent(ctx, event)
	if sub == nil || err != nil {
		return eff, err
	}

	var status subhook.SubscriptionStatus
	var tier subhook.Tier
	switch {
	case sub.Status == stripe.SubscriptionStatusTrialing:
		status, tier = subhook.StatusTrialing, subhook.TierPremium
	case sub.CancelAtPeriodEnd:
		status, tier = subhook.StatusCanceling, subhook.TierPremium
	case sub.Status == stripe.SubscriptionStatusPastDue:
		status = subhook.StatusPastDue
	case sub.Status == stripe.SubscriptionStatusUnpaid:
		status, tier = subhook.StatusUnpaid, subhook.TierFree
	case sub.Status == stripe.SubscriptionStatusCanceled:
		status, tier = subhook.StatusCanceled, subhook.TierFree
	case sub.Status == stripe.SubscriptionStatusActive:
		status, tier = subhook.StatusActive, subhook.TierPremium
	default:
		return effect{userID: userID, note: fmt.Sprintf("subscription status %q not mapped", sub.Status)}, nil
	}

	update := subhook.ProfileUpdate{Status: subhook.Value(status)}
	if tier != "" {
		update.Tier = subhook.Value(tier)
	}
	if end, ok := periodEnd(sub, event.Data.Raw); ok {
		update.SubscriptionPeriodEnd = subhook.Value(end)
	}
	return effect{userID: userID, update: update}, nil
}

// handleSubscriptionDeleted processes customer.subscription.deleted events
func (p *Processor) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) (effect, error) {
	sub, userID, eff, err := p.subscriptionFromEvent(ctx, event)
	if sub == nil || err != nil {
		return eff, err
	}
	return effect{userID: userID, update: subhook.ProfileUpdate{
		Status:               subhook.Value(subhook.StatusCanceled),
		Tier:                 subhook.Value(subhook.TierFree),
		StripeSubscriptionID: subhook.Null[string](),
	}}, nil
}

// handleTrialWillEnd processes customer.subscription.trial_will_end events.
// Nothing changes on the profile; the event is recorded for notifications.
func (p *Processor) handleTrialWillEnd(_ context.Context, event *stripe.Event) (effect, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return effect{problem: fmt.Sprintf("malformed subscription: %v", err)}, nil
	}
	return effect{userID: sub.Metadata[p.userIDKey], note: "subscription trial ending"}, nil
}

// handleInvoicePaymentSucceeded processes invoice.payment_succeeded events
func (p *Processor) handleInvoicePaymentSucceeded(ctx context.Context, event *stripe.Event) (effect, error) {
	sub, userID, eff, err := p.subscriptionFromInvoice(ctx, event)
	if sub == nil || err != nil {
		return eff, err
	}
	update := subhook.ProfileUpdate{
		Status: subhook.Value(subhook.StatusActive),
		Tier:   subhook.Value(subhook.TierPremium),
	}
	if end, ok := periodEnd(sub, nil); ok {
		update.SubscriptionPeriodEnd = subhook.Value(end)
	}
	return effect{userID: userID, update: update}, nil
}

// handleInvoicePaymentFailed processes invoice.payment_failed events
func (p *Processor) handleInvoicePaymentFailed(ctx context.Context, event *stripe.Event) (effect, error) {
	sub, userID, eff, err := p.subscriptionFromInvoice(ctx, event)
	if sub == nil || err != nil {
		return eff, err
	}
	return effect{userID: userID, update: subhook.ProfileUpdate{
		Status: subhook.Value(subhook.StatusPaymentFailed),
	}}, nil
}

// startedUpdate builds the update for a subscription that just came into
// existence, either through checkout or subscription.created.
func (p *Processor) startedUpdate(sub *stripe.Subscription, raw []byte, trialing bool) subhook.ProfileUpdate {
	update := subhook.ProfileUpdate{
		Status:               subhook.Value(subhook.StatusActive),
		Tier:                 subhook.Value(subhook.TierPremium),
		StripeSubscriptionID: subhook.Value(sub.ID),
		TrialStartedAt:       subhook.Null[time.Time](),
	}
	if trialing {
		update.Status = subhook.Value(subhook.StatusTrialing)
		update.TrialStartedAt = subhook.Value(p.clock.Now())
		update.MarkTrialUsed = true
	}
	if end, ok := periodEnd(sub, raw); ok {
		update.SubscriptionPeriodEnd = subhook.Value(end)
	}
	if sub.Created > 0 {
		update.SubscriptionCreatedAt = subhook.Value(time.Unix(sub.Created, 0).UTC())
	}
	return update
}

// subscriptionFromEvent decodes a customer.subscription.* payload and resolves
// its user. A nil subscription means eff is final.
func (p *Processor) subscriptionFromEvent(ctx context.Context, event *stripe.Event) (*stripe.Subscription, string, effect, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, "", effect{problem: fmt.Sprintf("malformed subscription: %v", err)}, nil
	}
	userID, err := p.resolveUser(ctx, &sub)
	if err != nil {
		return nil, "", effect{}, err
	}
	if userID == "" {
		return nil, "", unresolved(), nil
	}
	return &sub, userID, effect{}, nil
}

// subscriptionFromInvoice fetches the subscription an invoice belongs to and
// resolves its user. Invoices outside a subscription are acknowledged only.
func (p *Processor) subscriptionFromInvoice(ctx context.Context, event *stripe.Event) (*stripe.Subscription, string, effect, error) {
	subID, err := invoiceSubscriptionID(event.Data.Raw)
	if err != nil {
		return nil, "", effect{problem: fmt.Sprintf("malformed invoice: %v", err)}, nil
	}
	if subID == "" {
		return nil, "", effect{note: "invoice not tied to a subscription"}, nil
	}

	sub, err := p.api.GetSubscription(ctx, subID)
	if err != nil {
		return nil, "", effect{}, fmt.Errorf("failed to retrieve subscription %s: %w", subID, err)
	}

	userID, err := p.resolveUser(ctx, sub)
	if err != nil {
		return nil, "", effect{}, err
	}
	if userID == "" {
		return nil, "", unresolved(), nil
	}
	return sub, userID, effect{}, nil
}

// resolveUser reads the user id from subscription metadata, falling back to
// the customer's metadata. "" with a nil error means no user is attached.
func (p *Processor) resolveUser(ctx context.Context, sub *stripe.Subscription) (string, error) {
	if id := sub.Metadata[p.userIDKey]; id != "" {
		return id, nil
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return "", nil
	}
	if id := sub.Customer.Metadata[p.userIDKey]; id != "" {
		return id, nil
	}

	customer, err := p.api.GetCustomer(ctx, sub.Customer.ID)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve customer %s: %w", sub.Customer.ID, err)
	}
	if customer.Deleted {
		return "", nil
	}
	return customer.Metadata[p.userIDKey], nil
}

func unresolved() effect {
	return effect{problem: ErrUserNotResolved.Error()}
}

// periodEnd returns the end of the current billing period. Older API versions
// carry it on the subscription; newer ones only on its items.
func periodEnd(sub *stripe.Subscription, raw []byte) (time.Time, bool) {
	if len(raw) > 0 {
		var legacy struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		}
		if err := json.Unmarshal(raw, &legacy); err == nil && legacy.CurrentPeriodEnd > 0 {
			return time.Unix(legacy.CurrentPeriodEnd, 0).UTC(), true
		}
	}

	var latest int64
	if sub != nil && sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.CurrentPeriodEnd > latest {
				latest = item.CurrentPeriodEnd
			}
		}
	}
	if latest == 0 {
		return time.Time{}, false
	}
	return time.Unix(latest, 0).UTC(), true
}

// invoiceSubscriptionID extracts the subscription id from an invoice payload.
// Older API versions put it at the top level, newer ones under
// parent.subscription_details. Either may be an id or an expanded object.
func invoiceSubscriptionID(raw []byte) (string, error) {
	var inv struct {
		Subscription json.RawMessage `json:"subscription"`
		Parent       *struct {
			SubscriptionDetails *struct {
				Subscription json.RawMessage `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
	}
	if err := json.Unmarshal(raw, &inv); err != nil {
		return "", err
	}
	if id := expandableID(inv.Subscription); id != "" {
		return id, nil
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return expandableID(inv.Parent.SubscriptionDetails.Subscription), nil
	}
	return "", nil
}

func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
