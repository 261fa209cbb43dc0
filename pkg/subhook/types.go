package subhook

import (
	"encoding/json"
	"time"
)

// SubscriptionStatus is the billing lifecycle state mirrored onto a user profile.
type SubscriptionStatus string

const (
	StatusNone          SubscriptionStatus = "none"
	StatusTrialing      SubscriptionStatus = "trialing"
	StatusActive        SubscriptionStatus = "active"
	StatusCanceling     SubscriptionStatus = "canceling"
	StatusPastDue       SubscriptionStatus = "past_due"
	StatusUnpaid        SubscriptionStatus = "unpaid"
	StatusCanceled      SubscriptionStatus = "canceled"
	StatusPaymentFailed SubscriptionStatus = "payment_failed"
)

// Valid reports whether s is one of the known statuses.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusNone, StatusTrialing, StatusActive, StatusCanceling,
		StatusPastDue, StatusUnpaid, StatusCanceled, StatusPaymentFailed:
		return true
	}
	return false
}

// Tier is the coarse entitlement level gating features elsewhere in the product.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPremium
}

// UserProfile is the subset of the account profile owned by billing.
// Profiles are created by account management; this module only updates them.
type UserProfile struct {
	ID                    string             `json:"id"`
	SubscriptionStatus    SubscriptionStatus `json:"subscription_status"`
	SubscriptionTier      Tier               `json:"subscription_tier"`
	StripeSubscriptionID  *string            `json:"stripe_subscription_id"`
	SubscriptionPeriodEnd *time.Time         `json:"subscription_period_end"`
	TrialUsed             bool               `json:"trial_used"`
	TrialStartedAt        *time.Time         `json:"trial_started_at"`
	SubscriptionCreatedAt *time.Time         `json:"subscription_created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// Patch is a slot in a partial update. The zero Patch leaves the column
// untouched; a set Patch with a nil Value clears it.
type Patch[T any] struct {
	Set   bool
	Value *T
}

// Value returns a Patch that overwrites the column with v.
func Value[T any](v T) Patch[T] {
	return Patch[T]{Set: true, Value: &v}
}

// Null returns a Patch that clears the column.
func Null[T any]() Patch[T] {
	return Patch[T]{Set: true}
}

// apply writes the patch into dst when set.
func (f Patch[T]) apply(dst **T) {
	if !f.Set {
		return
	}
	if f.Value == nil {
		*dst = nil
		return
	}
	v := *f.Value
	*dst = &v
}

// ProfileUpdate is a partial, absolute-value update of a UserProfile.
// Applying the same update twice yields the same row.
type ProfileUpdate struct {
	Status                Patch[SubscriptionStatus]
	Tier                  Patch[Tier]
	StripeSubscriptionID  Patch[string]
	SubscriptionPeriodEnd Patch[time.Time]
	TrialStartedAt        Patch[time.Time]
	SubscriptionCreatedAt Patch[time.Time]

	// MarkTrialUsed sets trial_used. There is no way to clear the flag.
	MarkTrialUsed bool
}

// IsEmpty reports whether the update would not touch any column.
func (u ProfileUpdate) IsEmpty() bool {
	return !u.Status.Set && !u.Tier.Set && !u.StripeSubscriptionID.Set &&
		!u.SubscriptionPeriodEnd.Set && !u.TrialStartedAt.Set &&
		!u.SubscriptionCreatedAt.Set && !u.MarkTrialUsed
}

// Validate rejects updates that would write an unknown enum value or NULL
// into a non-nullable column.
func (u ProfileUpdate) Validate() error {
	if u.Status.Set && (u.Status.Value == nil || !u.Status.Value.Valid()) {
		return ErrInvalidProfileUpdate
	}
	if u.Tier.Set && (u.Tier.Value == nil || !u.Tier.Value.Valid()) {
		return ErrInvalidProfileUpdate
	}
	return nil
}

// ApplyTo mutates p in place. Stores without server-side partial updates
// (memory, tests) use this to keep semantics identical across backends.
func (u ProfileUpdate) ApplyTo(p *UserProfile) {
	if u.Status.Set && u.Status.Value != nil {
		p.SubscriptionStatus = *u.Status.Value
	}
	if u.Tier.Set && u.Tier.Value != nil {
		p.SubscriptionTier = *u.Tier.Value
	}
	u.StripeSubscriptionID.apply(&p.StripeSubscriptionID)
	u.SubscriptionPeriodEnd.apply(&p.SubscriptionPeriodEnd)
	u.TrialStartedAt.apply(&p.TrialStartedAt)
	u.SubscriptionCreatedAt.apply(&p.SubscriptionCreatedAt)
	if u.MarkTrialUsed {
		p.TrialUsed = true
	}
}

// ProcessedEventRecord witnesses that a webhook event was handled.
// Records are append-only.
type ProcessedEventRecord struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	UserID      *string         `json:"user_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Error       *string         `json:"error,omitempty"`
	ProcessedAt time.Time       `json:"processed_at"`
}

// ProfileEvent describes a profile update that was just applied. It is
// handed to the optional OnProfileUpdated callback.
type ProfileEvent struct {
	EventID   string             `json:"event_id"`
	EventType string             `json:"event_type"`
	UserID    string             `json:"user_id"`
	Status    SubscriptionStatus `json:"status,omitempty"`
	Tier      Tier               `json:"tier,omitempty"`
	AppliedAt time.Time          `json:"applied_at"`
}

// MessageID identifies the event for broker-side deduplication.
func (e ProfileEvent) MessageID() string {
	return e.EventID
}
