// Package firestore provides a Firestore implementation of the subhook.Store interface.
// Profile updates use document Update (which never creates documents) and
// event claims use Create, which fails when the event id already exists.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/subhook/pkg/subhook"
)

// Document fields.
const (
	fieldStatus                = "subscriptionStatus"
	fieldTier                  = "subscriptionTier"
	fieldStripeSubscriptionID  = "stripeSubscriptionId"
	fieldSubscriptionPeriodEnd = "subscriptionPeriodEnd"
	fieldTrialUsed             = "trialUsed"
	fieldTrialStartedAt        = "trialStartedAt"
	fieldSubscriptionCreatedAt = "subscriptionCreatedAt"
	fieldUpdatedAt             = "updatedAt"

	fieldEventType   = "eventType"
	fieldUserID      = "userId"
	fieldPayload     = "payload"
	fieldError       = "error"
	fieldProcessedAt = "processedAt"
)

// Storage implements subhook.Store using Google Cloud Firestore
type Storage struct {
	client             *firestore.Client
	profilesCollection string
	eventsCollection   string
	clock              subhook.Clock
}

// Config holds Firestore storage configuration
type Config struct {
	// ProfilesCollection is the Firestore collection for user profiles
	// Default: "profiles"
	ProfilesCollection string

	// EventsCollection is the Firestore collection for processed webhook events
	// Default: "processed_webhook_events"
	EventsCollection string

	// Clock stamps updatedAt and processedAt (optional)
	Clock subhook.Clock
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.ProfilesCollection == "" {
		config.ProfilesCollection = "profiles"
	}
	if config.EventsCollection == "" {
		config.EventsCollection = "processed_webhook_events"
	}
	if config.Clock == nil {
		config.Clock = subhook.RealClock{}
	}

	return &Storage{
		client:             client,
		profilesCollection: config.ProfilesCollection,
		eventsCollection:   config.EventsCollection,
		clock:              config.Clock,
	}, nil
}

// GetProfile implements subhook.ProfileReader
func (s *Storage) GetProfile(ctx context.Context, userID string) (*subhook.UserProfile, error) {
	snap, err := s.client.Collection(s.profilesCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, subhook.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if !snap.Exists() {
		return nil, subhook.ErrProfileNotFound
	}

	data := snap.Data()
	return &subhook.UserProfile{
		ID:                    userID,
		SubscriptionStatus:    subhook.SubscriptionStatus(getString(data, fieldStatus)),
		SubscriptionTier:      subhook.Tier(getString(data, fieldTier)),
		StripeSubscriptionID:  getStringPtr(data, fieldStripeSubscriptionID),
		SubscriptionPeriodEnd: getTimePtr(data, fieldSubscriptionPeriodEnd),
		TrialUsed:             getBool(data, fieldTrialUsed),
		TrialStartedAt:        getTimePtr(data, fieldTrialStartedAt),
		SubscriptionCreatedAt: getTimePtr(data, fieldSubscriptionCreatedAt),
		UpdatedAt:             getTime(data, fieldUpdatedAt),
	}, nil
}

// PutProfile creates or replaces a profile document. Intended for seeding and tests.
func (s *Storage) PutProfile(ctx context.Context, p *subhook.UserProfile) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("invalid profile")
	}

	subStatus, tier := p.SubscriptionStatus, p.SubscriptionTier
	if subStatus == "" {
		subStatus = subhook.StatusNone
	}
	if tier == "" {
		tier = subhook.TierFree
	}

	data := map[string]interface{}{
		fieldStatus:                string(subStatus),
		fieldTier:                  string(tier),
		fieldStripeSubscriptionID:  nullable(p.StripeSubscriptionID),
		fieldSubscriptionPeriodEnd: nullable(p.SubscriptionPeriodEnd),
		fieldTrialUsed:             p.TrialUsed,
		fieldTrialStartedAt:        nullable(p.TrialStartedAt),
		fieldSubscriptionCreatedAt: nullable(p.SubscriptionCreatedAt),
		fieldUpdatedAt:             s.clock.Now(),
	}

	if _, err := s.client.Collection(s.profilesCollection).Doc(p.ID).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to put profile: %w", err)
	}
	return nil
}

// UpdateByID implements subhook.ProfileStore
func (s *Storage) UpdateByID(ctx context.Context, userID string, update subhook.ProfileUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	doc := s.client.Collection(s.profilesCollection).Doc(userID)
	if update.IsEmpty() {
		_, err := s.GetProfile(ctx, userID)
		return err
	}

	if _, err := doc.Update(ctx, buildUpdates(update, s.clock.Now())); err != nil {
		if status.Code(err) == codes.NotFound {
			return subhook.ErrProfileNotFound
		}
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// buildUpdates converts update into Firestore field updates. Cleared
// columns are stored as null.
func buildUpdates(update subhook.ProfileUpdate, now time.Time) []firestore.Update {
	var updates []firestore.Update
	if update.Status.Set {
		updates = append(updates, firestore.Update{Path: fieldStatus, Value: string(*update.Status.Value)})
	}
	if update.Tier.Set {
		updates = append(updates, firestore.Update{Path: fieldTier, Value: string(*update.Tier.Value)})
	}
	if update.StripeSubscriptionID.Set {
		updates = append(updates, firestore.Update{Path: fieldStripeSubscriptionID, Value: nullable(update.StripeSubscriptionID.Value)})
	}
	if update.SubscriptionPeriodEnd.Set {
		updates = append(updates, firestore.Update{Path: fieldSubscriptionPeriodEnd, Value: nullable(update.SubscriptionPeriodEnd.Value)})
	}
	if update.TrialStartedAt.Set {
		updates = append(updates, firestore.Update{Path: fieldTrialStartedAt, Value: nullable(update.TrialStartedAt.Value)})
	}
	if update.SubscriptionCreatedAt.Set {
		updates = append(updates, firestore.Update{Path: fieldSubscriptionCreatedAt, Value: nullable(update.SubscriptionCreatedAt.Value)})
	}
	if update.MarkTrialUsed {
		updates = append(updates, firestore.Update{Path: fieldTrialUsed, Value: true})
	}
	return append(updates, firestore.Update{Path: fieldUpdatedAt, Value: now})
}

// FindByEventID implements subhook.EventLog
func (s *Storage) FindByEventID(ctx context.Context, eventID string) (*subhook.ProcessedEventRecord, error) {
	snap, err := s.client.Collection(s.eventsCollection).Doc(eventID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil // Not recorded yet is not an error
		}
		return nil, fmt.Errorf("failed to find event: %w", err)
	}
	if !snap.Exists() {
		return nil, nil
	}

	data := snap.Data()
	rec := &subhook.ProcessedEventRecord{
		EventID:     eventID,
		EventType:   getString(data, fieldEventType),
		UserID:      getStringPtr(data, fieldUserID),
		Error:       getStringPtr(data, fieldError),
		ProcessedAt: getTime(data, fieldProcessedAt),
	}
	if payload := getString(data, fieldPayload); payload != "" {
		rec.Payload = []byte(payload)
	}
	return rec, nil
}

// Insert implements subhook.EventLog
func (s *Storage) Insert(ctx context.Context, rec *subhook.ProcessedEventRecord) error {
	if rec == nil || rec.EventID == "" {
		return subhook.ErrInvalidRecord
	}

	processedAt := rec.ProcessedAt
	if processedAt.IsZero() {
		processedAt = s.clock.Now()
	}

	data := map[string]interface{}{
		fieldEventType:   rec.EventType,
		fieldUserID:      nullable(rec.UserID),
		fieldError:       nullable(rec.Error),
		fieldProcessedAt: processedAt,
	}
	if len(rec.Payload) > 0 {
		data[fieldPayload] = string(rec.Payload)
	}

	if _, err := s.client.Collection(s.eventsCollection).Doc(rec.EventID).Create(ctx, data); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return subhook.ErrEventAlreadyRecorded
		}
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// nullable turns a nil pointer into an untyped nil so Firestore stores null.
func nullable[T any](v *T) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getStringPtr(data map[string]interface{}, key string) *string {
	if v, ok := data[key].(string); ok {
		return &v
	}
	return nil
}

func getBool(data map[string]interface{}, key string) bool {
	v, _ := data[key].(bool)
	return v
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func getTimePtr(data map[string]interface{}, key string) *time.Time {
	if v, ok := data[key].(time.Time); ok && !v.IsZero() {
		return &v
	}
	return nil
}

var (
	_ subhook.Store         = (*Storage)(nil)
	_ subhook.ProfileReader = (*Storage)(nil)
)
