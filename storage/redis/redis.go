// Package redis provides a Redis implementation of the subhook.Store interface.
// Profiles are hashes updated atomically by a Lua script; the processed event
// log uses SET NX so only the first delivery of an event id can claim it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/subhook/pkg/subhook"
)

// Hash fields of a profile key.
const (
	fieldStatus                = "subscription_status"
	fieldTier                  = "subscription_tier"
	fieldStripeSubscriptionID  = "stripe_subscription_id"
	fieldSubscriptionPeriodEnd = "subscription_period_end"
	fieldTrialUsed             = "trial_used"
	fieldTrialStartedAt        = "trial_started_at"
	fieldSubscriptionCreatedAt = "subscription_created_at"
	fieldUpdatedAt             = "updated_at"
)

// updateProfileScript applies field/value pairs to an existing profile hash.
// An empty value deletes the field (NULL). Returns 0 when the profile is missing.
var updateProfileScript = redis.NewScript(`
	local key = KEYS[1]
	if redis.call('EXISTS', key) == 0 then
		return 0
	end
	for i = 1, #ARGV, 2 do
		local field = ARGV[i]
		local value = ARGV[i + 1]
		if value == '' then
			redis.call('HDEL', key, field)
		else
			redis.call('HSET', key, field, value)
		end
	end
	return 1
`)

// Storage implements subhook.Store using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "subhook:")
	KeyPrefix string

	// EventTTL expires processed event records (0 = keep forever)
	EventTTL time.Duration

	// Clock stamps updated_at and processed_at (optional)
	Clock subhook.Clock
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "subhook:",
		EventTTL:  0,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if config.Clock == nil {
		config.Clock = subhook.RealClock{}
	}

	return &Storage{client: client, config: config}, nil
}

// GetProfile implements subhook.ProfileReader
func (s *Storage) GetProfile(ctx context.Context, userID string) (*subhook.UserProfile, error) {
	fields, err := s.client.HGetAll(ctx, s.profileKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if len(fields) == 0 {
		return nil, subhook.ErrProfileNotFound
	}
	return decodeProfile(userID, fields)
}

// PutProfile creates or replaces a profile. Intended for seeding and tests.
func (s *Storage) PutProfile(ctx context.Context, p *subhook.UserProfile) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("invalid profile")
	}

	key := s.profileKey(p.ID)
	values := encodeProfile(p, s.config.Clock.Now())
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put profile: %w", err)
	}
	return nil
}

// UpdateByID implements subhook.ProfileStore
func (s *Storage) UpdateByID(ctx context.Context, userID string, update subhook.ProfileUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	var args []interface{}
	if !update.IsEmpty() {
		args = updateArgs(update, s.config.Clock.Now())
	}

	res, err := updateProfileScript.Run(ctx, s.client, []string{s.profileKey(userID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if res == 0 {
		return subhook.ErrProfileNotFound
	}
	return nil
}

// FindByEventID implements subhook.EventLog
func (s *Storage) FindByEventID(ctx context.Context, eventID string) (*subhook.ProcessedEventRecord, error) {
	data, err := s.client.Get(ctx, s.eventKey(eventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find event: %w", err)
	}

	var rec subhook.ProcessedEventRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode event record: %w", err)
	}
	return &rec, nil
}

// Insert implements subhook.EventLog
func (s *Storage) Insert(ctx context.Context, rec *subhook.ProcessedEventRecord) error {
	if rec == nil || rec.EventID == "" {
		return subhook.ErrInvalidRecord
	}

	stored := *rec
	if stored.ProcessedAt.IsZero() {
		stored.ProcessedAt = s.config.Clock.Now()
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to encode event record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.eventKey(rec.EventID), data, s.config.EventTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	if !ok {
		return subhook.ErrEventAlreadyRecorded
	}
	return nil
}

// Close closes the Redis client
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Storage) profileKey(userID string) string {
	return fmt.Sprintf("%sprofile:%s", s.config.KeyPrefix, userID)
}

func (s *Storage) eventKey(eventID string) string {
	return fmt.Sprintf("%sevent:%s", s.config.KeyPrefix, eventID)
}

// updateArgs flattens update into field/value pairs for updateProfileScript.
func updateArgs(update subhook.ProfileUpdate, now time.Time) []interface{} {
	var args []interface{}
	if update.Status.Set {
		args = append(args, fieldStatus, string(*update.Status.Value))
	}
	if update.Tier.Set {
		args = append(args, fieldTier, string(*update.Tier.Value))
	}
	if update.StripeSubscriptionID.Set {
		args = append(args, fieldStripeSubscriptionID, stringOrEmpty(update.StripeSubscriptionID.Value))
	}
	if update.SubscriptionPeriodEnd.Set {
		args = append(args, fieldSubscriptionPeriodEnd, formatTime(update.SubscriptionPeriodEnd.Value))
	}
	if update.TrialStartedAt.Set {
		args = append(args, fieldTrialStartedAt, formatTime(update.TrialStartedAt.Value))
	}
	if update.SubscriptionCreatedAt.Set {
		args = append(args, fieldSubscriptionCreatedAt, formatTime(update.SubscriptionCreatedAt.Value))
	}
	if update.MarkTrialUsed {
		args = append(args, fieldTrialUsed, "1")
	}
	return append(args, fieldUpdatedAt, formatTime(&now))
}

func encodeProfile(p *subhook.UserProfile, now time.Time) map[string]interface{} {
	status, tier := p.SubscriptionStatus, p.SubscriptionTier
	if status == "" {
		status = subhook.StatusNone
	}
	if tier == "" {
		tier = subhook.TierFree
	}
	values := map[string]interface{}{
		fieldStatus:    string(status),
		fieldTier:      string(tier),
		fieldTrialUsed: strconv.FormatBool(p.TrialUsed),
		fieldUpdatedAt: formatTime(&now),
	}
	if p.StripeSubscriptionID != nil {
		values[fieldStripeSubscriptionID] = *p.StripeSubscriptionID
	}
	if p.SubscriptionPeriodEnd != nil {
		values[fieldSubscriptionPeriodEnd] = formatTime(p.SubscriptionPeriodEnd)
	}
	if p.TrialStartedAt != nil {
		values[fieldTrialStartedAt] = formatTime(p.TrialStartedAt)
	}
	if p.SubscriptionCreatedAt != nil {
		values[fieldSubscriptionCreatedAt] = formatTime(p.SubscriptionCreatedAt)
	}
	return values
}

func decodeProfile(userID string, fields map[string]string) (*subhook.UserProfile, error) {
	p := &subhook.UserProfile{
		ID:                 userID,
		SubscriptionStatus: subhook.SubscriptionStatus(fields[fieldStatus]),
		SubscriptionTier:   subhook.Tier(fields[fieldTier]),
		TrialUsed:          fields[fieldTrialUsed] == "1" || fields[fieldTrialUsed] == "true",
	}
	if v, ok := fields[fieldStripeSubscriptionID]; ok {
		p.StripeSubscriptionID = &v
	}

	var err error
	if p.SubscriptionPeriodEnd, err = parseTime(fields, fieldSubscriptionPeriodEnd); err != nil {
		return nil, err
	}
	if p.TrialStartedAt, err = parseTime(fields, fieldTrialStartedAt); err != nil {
		return nil, err
	}
	if p.SubscriptionCreatedAt, err = parseTime(fields, fieldSubscriptionCreatedAt); err != nil {
		return nil, err
	}
	if updated, err := parseTime(fields, fieldUpdatedAt); err != nil {
		return nil, err
	} else if updated != nil {
		p.UpdatedAt = *updated
	}
	return p, nil
}

func parseTime(fields map[string]string, field string) (*time.Time, error) {
	v, ok := fields[field]
	if !ok || v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return &t, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var (
	_ subhook.Store         = (*Storage)(nil)
	_ subhook.ProfileReader = (*Storage)(nil)
)
