package subhook

import (
	"context"
	"time"
)

// EventLog persists ProcessedEventRecords keyed by provider event id
type EventLog interface {
	// FindByEventID returns the record for eventID.
	// Returns nil, nil if the event has not been recorded (not an error)
	FindByEventID(ctx context.Context, eventID string) (*ProcessedEventRecord, error)

	// Insert appends a record.
	// Returns ErrEventAlreadyRecorded if a record with the same event id exists,
	// or ErrEventLogUnavailable if the backing table is not provisioned
	Insert(ctx context.Context, rec *ProcessedEventRecord) error
}

// ProfileStore applies partial updates to existing profiles
type ProfileStore interface {
	// UpdateByID applies update to the profile identified by userID.
	// Returns ErrProfileNotFound if no such profile exists; it never creates one
	UpdateByID(ctx context.Context, userID string, update ProfileUpdate) error
}

// ProfileReader is implemented by stores that can load a full profile.
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)
}

// Store is the combination every storage backend in this module provides.
type Store interface {
	EventLog
	ProfileStore
}

// Clock provides an abstraction for time operations
type Clock interface {
	Now() time.Time
}

// RealClock is the production implementation of Clock
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock is used for testing with deterministic time
type FixedClock struct {
	FixedTime time.Time
}

func (f FixedClock) Now() time.Time {
	return f.FixedTime
}
