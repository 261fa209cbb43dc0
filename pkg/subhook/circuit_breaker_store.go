package subhook

import "context"

// CircuitBreakerStore wraps a Store with circuit breaker protection.
type CircuitBreakerStore struct {
	store Store
	cb    CircuitBreaker
}

// NewCircuitBreakerStore creates a new store wrapper with circuit breaker.
func NewCircuitBreakerStore(store Store, cb CircuitBreaker) *CircuitBreakerStore {
	return &CircuitBreakerStore{
		store: store,
		cb:    cb,
	}
}

func (s *CircuitBreakerStore) FindByEventID(ctx context.Context, eventID string) (*ProcessedEventRecord, error) {
	var rec *ProcessedEventRecord
	err := s.cb.Execute(ctx, func() error {
		var e error
		rec, e = s.store.FindByEventID(ctx, eventID)
		return e
	})
	return rec, err
}

func (s *CircuitBreakerStore) Insert(ctx context.Context, rec *ProcessedEventRecord) error {
	return s.cb.Execute(ctx, func() error {
		return s.store.Insert(ctx, rec)
	})
}

func (s *CircuitBreakerStore) UpdateByID(ctx context.Context, userID string, update ProfileUpdate) error {
	return s.cb.Execute(ctx, func() error {
		return s.store.UpdateByID(ctx, userID, update)
	})
}

// GetProfile delegates to the wrapped store when it implements ProfileReader.
func (s *CircuitBreakerStore) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	reader, ok := s.store.(ProfileReader)
	if !ok {
		return nil, ErrProfileNotFound
	}
	var p *UserProfile
	err := s.cb.Execute(ctx, func() error {
		var e error
		p, e = reader.GetProfile(ctx, userID)
		return e
	})
	return p, err
}
