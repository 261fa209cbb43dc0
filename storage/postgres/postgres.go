// Package postgres provides a PostgreSQL implementation of the subhook.Store interface.
// Profile updates are single UPDATE statements touching only the columns the
// update sets; the processed event log relies on its primary key for claims.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/subhook/pkg/subhook"
)

// pgUndefinedTable is the SQLSTATE for a relation that does not exist.
const pgUndefinedTable = "42P01"

// Storage implements subhook.Store using PostgreSQL
type Storage struct {
	pool          *pgxpool.Pool
	config        Config
	profilesTable string
	eventsTable   string
	clock         subhook.Clock
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Table names. Defaults: "profiles", "processed_webhook_events"
	ProfilesTable string
	EventsTable   string

	// Clock stamps updated_at (optional).
	Clock subhook.Clock
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		ProfilesTable:   "profiles",
		EventsTable:     "processed_webhook_events",
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newWithPool(pool, config), nil
}

func newWithPool(pool *pgxpool.Pool, config Config) *Storage {
	defaults := DefaultConfig()
	if config.ProfilesTable == "" {
		config.ProfilesTable = defaults.ProfilesTable
	}
	if config.EventsTable == "" {
		config.EventsTable = defaults.EventsTable
	}
	clock := config.Clock
	if clock == nil {
		clock = subhook.RealClock{}
	}
	return &Storage{
		pool:          pool,
		config:        config,
		profilesTable: pgx.Identifier{config.ProfilesTable}.Sanitize(),
		eventsTable:   pgx.Identifier{config.EventsTable}.Sanitize(),
		clock:         clock,
	}
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies the database is reachable
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetProfile implements subhook.ProfileReader
func (s *Storage) GetProfile(ctx context.Context, userID string) (*subhook.UserProfile, error) {
	var p subhook.UserProfile
	var status, tier string

	err := s.pool.QueryRow(ctx,
		`SELECT id, subscription_status, subscription_tier, stripe_subscription_id,
				subscription_period_end, trial_used, trial_started_at,
				subscription_created_at, updated_at
			FROM `+s.profilesTable+` WHERE id = $1`,
		userID).Scan(
		&p.ID,
		&status,
		&tier,
		&p.StripeSubscriptionID,
		&p.SubscriptionPeriodEnd,
		&p.TrialUsed,
		&p.TrialStartedAt,
		&p.SubscriptionCreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subhook.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	p.SubscriptionStatus = subhook.SubscriptionStatus(status)
	p.SubscriptionTier = subhook.Tier(tier)
	return &p, nil
}

// PutProfile creates or replaces a profile. Account management owns profile
// creation in production; this is for seeding and tests.
func (s *Storage) PutProfile(ctx context.Context, p *subhook.UserProfile) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("invalid profile")
	}

	status, tier := p.SubscriptionStatus, p.SubscriptionTier
	if status == "" {
		status = subhook.StatusNone
	}
	if tier == "" {
		tier = subhook.TierFree
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.profilesTable+` (id, subscription_status, subscription_tier,
				stripe_subscription_id, subscription_period_end, trial_used,
				trial_started_at, subscription_created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				subscription_status = EXCLUDED.subscription_status,
				subscription_tier = EXCLUDED.subscription_tier,
				stripe_subscription_id = EXCLUDED.stripe_subscription_id,
				subscription_period_end = EXCLUDED.subscription_period_end,
				trial_used = EXCLUDED.trial_used,
				trial_started_at = EXCLUDED.trial_started_at,
				subscription_created_at = EXCLUDED.subscription_created_at,
				updated_at = EXCLUDED.updated_at`,
		p.ID, string(status), string(tier), p.StripeSubscriptionID, p.SubscriptionPeriodEnd,
		p.TrialUsed, p.TrialStartedAt, p.SubscriptionCreatedAt, s.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to put profile: %w", err)
	}
	return nil
}

// UpdateByID implements subhook.ProfileStore. Only the columns set on the
// update are written; trial_used can only be raised.
func (s *Storage) UpdateByID(ctx context.Context, userID string, update subhook.ProfileUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	if update.IsEmpty() {
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM `+s.profilesTable+` WHERE id = $1)`, userID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check profile: %w", err)
		}
		if !exists {
			return subhook.ErrProfileNotFound
		}
		return nil
	}

	query, args := buildUpdate(s.profilesTable, userID, update, s.clock.Now())
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subhook.ErrProfileNotFound
	}
	return nil
}

// buildUpdate renders the partial UPDATE for update. Column names are fixed;
// only values are parameterized.
func buildUpdate(table, userID string, update subhook.ProfileUpdate, now time.Time) (string, []any) {
	var sets []string
	var args []any
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Status.Set {
		set("subscription_status", string(*update.Status.Value))
	}
	if update.Tier.Set {
		set("subscription_tier", string(*update.Tier.Value))
	}
	if update.StripeSubscriptionID.Set {
		set("stripe_subscription_id", update.StripeSubscriptionID.Value)
	}
	if update.SubscriptionPeriodEnd.Set {
		set("subscription_period_end", update.SubscriptionPeriodEnd.Value)
	}
	if update.TrialStartedAt.Set {
		set("trial_started_at", update.TrialStartedAt.Value)
	}
	if update.SubscriptionCreatedAt.Set {
		set("subscription_created_at", update.SubscriptionCreatedAt.Value)
	}
	if update.MarkTrialUsed {
		sets = append(sets, "trial_used = TRUE")
	}
	set("updated_at", now)

	args = append(args, userID)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", table, strings.Join(sets, ", "), len(args))
	return query, args
}

// FindByEventID implements subhook.EventLog
func (s *Storage) FindByEventID(ctx context.Context, eventID string) (*subhook.ProcessedEventRecord, error) {
	var rec subhook.ProcessedEventRecord
	var payload *string

	err := s.pool.QueryRow(ctx,
		`SELECT event_id, event_type, user_id, payload, error, processed_at
			FROM `+s.eventsTable+` WHERE event_id = $1`,
		eventID).Scan(
		&rec.EventID,
		&rec.EventType,
		&rec.UserID,
		&payload,
		&rec.Error,
		&rec.ProcessedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		if isUndefinedTable(err) {
			return nil, subhook.ErrEventLogUnavailable
		}
		return nil, fmt.Errorf("failed to find event: %w", err)
	}

	if payload != nil {
		rec.Payload = json.RawMessage(*payload)
	}
	return &rec, nil
}

// Insert implements subhook.EventLog. A conflicting event id inserts nothing
// and reports subhook.ErrEventAlreadyRecorded.
func (s *Storage) Insert(ctx context.Context, rec *subhook.ProcessedEventRecord) error {
	if rec == nil || rec.EventID == "" {
		return subhook.ErrInvalidRecord
	}

	processedAt := rec.ProcessedAt
	if processedAt.IsZero() {
		processedAt = s.clock.Now()
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.eventsTable+` (event_id, event_type, user_id, payload, error, processed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID, rec.EventType, rec.UserID, payloadText(rec.Payload), rec.Error, processedAt,
	)
	if err != nil {
		if isUndefinedTable(err) {
			return subhook.ErrEventLogUnavailable
		}
		return fmt.Errorf("failed to record event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subhook.ErrEventAlreadyRecorded
	}
	return nil
}

// payloadText keeps the snapshot byte-for-byte. The column is TEXT so escapes
// jsonb refuses, such as \u0000, still record.
func payloadText(payload json.RawMessage) *string {
	if len(payload) == 0 {
		return nil
	}
	text := string(payload)
	return &text
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}

var (
	_ subhook.Store         = (*Storage)(nil)
	_ subhook.ProfileReader = (*Storage)(nil)
)
