// Package memory provides an in-memory implementation of subhook.Store.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mihaimyh/subhook/pkg/subhook"
)

// Storage implements subhook.Store using in-memory maps
type Storage struct {
	mu       sync.RWMutex
	profiles map[string]*subhook.UserProfile
	events   map[string]*subhook.ProcessedEventRecord

	eventLogDisabled bool
	clock            subhook.Clock
}

// Option configures a Storage.
type Option func(*Storage)

// WithoutEventLog makes the event log behave as if its table was never
// provisioned: every call returns subhook.ErrEventLogUnavailable.
func WithoutEventLog() Option {
	return func(s *Storage) { s.eventLogDisabled = true }
}

// WithClock overrides the clock used for updated_at and processed_at.
func WithClock(clock subhook.Clock) Option {
	return func(s *Storage) { s.clock = clock }
}

// New creates a new in-memory storage adapter
func New(opts ...Option) *Storage {
	s := &Storage{
		profiles: make(map[string]*subhook.UserProfile),
		events:   make(map[string]*subhook.ProcessedEventRecord),
		clock:    subhook.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutProfile creates or replaces a profile. Account management owns profile
// creation; this exists for seeding tests and local development.
func (s *Storage) PutProfile(p *subhook.UserProfile) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("invalid profile")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pCopy := copyProfile(p)
	s.profiles[p.ID] = pCopy
	return nil
}

// GetProfile implements subhook.ProfileReader
func (s *Storage) GetProfile(_ context.Context, userID string) (*subhook.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, subhook.ErrProfileNotFound
	}

	// Return a copy to prevent external mutations
	return copyProfile(p), nil
}

// UpdateByID implements subhook.ProfileStore
func (s *Storage) UpdateByID(_ context.Context, userID string, update subhook.ProfileUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return subhook.ErrProfileNotFound
	}
	if update.IsEmpty() {
		return nil
	}

	update.ApplyTo(p)
	p.UpdatedAt = s.clock.Now()
	return nil
}

// FindByEventID implements subhook.EventLog
func (s *Storage) FindByEventID(_ context.Context, eventID string) (*subhook.ProcessedEventRecord, error) {
	if s.eventLogDisabled {
		return nil, subhook.ErrEventLogUnavailable
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.events[eventID]
	if !ok {
		return nil, nil // Not recorded yet is not an error
	}
	recCopy := *rec
	return &recCopy, nil
}

// Insert implements subhook.EventLog
func (s *Storage) Insert(_ context.Context, rec *subhook.ProcessedEventRecord) error {
	if s.eventLogDisabled {
		return subhook.ErrEventLogUnavailable
	}
	if rec == nil || rec.EventID == "" {
		return subhook.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[rec.EventID]; exists {
		return subhook.ErrEventAlreadyRecorded
	}

	recCopy := *rec
	if recCopy.ProcessedAt.IsZero() {
		recCopy.ProcessedAt = s.clock.Now()
	}
	s.events[rec.EventID] = &recCopy
	return nil
}

// Records returns all processed event records ordered by processing time.
func (s *Storage) Records() []subhook.ProcessedEventRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]subhook.ProcessedEventRecord, 0, len(s.events))
	for _, rec := range s.events {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProcessedAt.Equal(out[j].ProcessedAt) {
			return out[i].EventID < out[j].EventID
		}
		return out[i].ProcessedAt.Before(out[j].ProcessedAt)
	})
	return out
}

// Ping always succeeds.
func (s *Storage) Ping(_ context.Context) error {
	return nil
}

func copyProfile(p *subhook.UserProfile) *subhook.UserProfile {
	c := *p
	c.StripeSubscriptionID = copyPtr(p.StripeSubscriptionID)
	c.SubscriptionPeriodEnd = copyPtr(p.SubscriptionPeriodEnd)
	c.TrialStartedAt = copyPtr(p.TrialStartedAt)
	c.SubscriptionCreatedAt = copyPtr(p.SubscriptionCreatedAt)
	return &c
}

func copyPtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

var _ subhook.Store = (*Storage)(nil)
