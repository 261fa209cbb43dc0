// Package tiered provides a Hot/Cold tiered storage adapter that fronts a
// durable store (Cold) with a fast event log (Hot) for duplicate detection.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mihaimyh/subhook/pkg/subhook"
)

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the L1 event log (e.g., Redis, Memory) consulted first for duplicates
	Hot subhook.EventLog

	// Cold is the L2 persistence storage (e.g., Postgres, Firestore) as the source of truth
	Cold subhook.Store

	// AsyncHotSync copies records into Hot on a background worker instead of
	// inline with the request.
	AsyncHotSync bool

	// SyncBufferSize is the size of the buffered channel for async operations.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when a Hot operation fails.
	// Hot failures never fail the caller; this is the only signal of drift.
	AsyncErrorHandler func(error)
}

// Storage implements a Hot/Cold tiered storage architecture:
// - Read-Through: event lookups (Hot → Cold, backfilling Hot)
// - Write-Through: event inserts (Cold → Hot)
// - Cold-Only: profile reads and updates
type Storage struct {
	hot  subhook.EventLog
	cold subhook.Store
	conf Config

	syncQueue chan func() error
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncHotSync {
		s.startWorker()
	}

	return s, nil
}

// Close gracefully shuts down the async worker (if enabled), draining
// queued Hot writes.
func (s *Storage) Close() error {
	if s.conf.AsyncHotSync {
		s.closeOnce.Do(func() {
			close(s.shutdown)
			s.wg.Wait()
		})
	}
	return nil
}

// startWorker runs the background synchronization loop.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				s.report(job())
			case <-s.shutdown:
				for {
					select {
					case job := <-s.syncQueue:
						s.report(job())
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) report(err error) {
	if err != nil && s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(fmt.Errorf("tiered hot sync failed: %w", err))
	}
}

// FindByEventID implements subhook.EventLog (Read-Through).
func (s *Storage) FindByEventID(ctx context.Context, eventID string) (*subhook.ProcessedEventRecord, error) {
	rec, hotErr := s.hot.FindByEventID(ctx, eventID)
	if hotErr == nil && rec != nil {
		return rec, nil
	}
	if hotErr != nil {
		s.report(hotErr)
	}

	rec, err := s.cold.FindByEventID(ctx, eventID)
	if errors.Is(err, subhook.ErrEventLogUnavailable) && hotErr == nil {
		// Cold log not provisioned: Hot is the only witness, and it said absent.
		return nil, nil
	}
	if err != nil || rec == nil {
		return rec, err
	}

	s.syncHot(ctx, rec)
	return rec, nil
}

// Insert implements subhook.EventLog (Write-Through). Cold decides the claim.
func (s *Storage) Insert(ctx context.Context, rec *subhook.ProcessedEventRecord) error {
	err := s.cold.Insert(ctx, rec)
	switch {
	case err == nil, errors.Is(err, subhook.ErrEventAlreadyRecorded):
		s.syncHot(ctx, rec)
		return err
	case errors.Is(err, subhook.ErrEventLogUnavailable):
		// Fall back to Hot so duplicates are still caught while Cold is unprovisioned.
		if hotErr := s.hot.Insert(ctx, rec); hotErr != nil {
			if errors.Is(hotErr, subhook.ErrEventAlreadyRecorded) {
				return hotErr
			}
			s.report(hotErr)
		}
		return nil
	default:
		return err
	}
}

// syncHot copies rec into Hot. An existing Hot entry is not a failure.
func (s *Storage) syncHot(ctx context.Context, rec *subhook.ProcessedEventRecord) {
	recCopy := *rec
	job := func() error {
		err := s.hot.Insert(context.WithoutCancel(ctx), &recCopy)
		if errors.Is(err, subhook.ErrEventAlreadyRecorded) {
			return nil
		}
		return err
	}

	if !s.conf.AsyncHotSync {
		s.report(job())
		return
	}

	select {
	case s.syncQueue <- job:
	default:
		s.report(fmt.Errorf("sync queue full, dropped event %s", rec.EventID))
	}
}

// UpdateByID implements subhook.ProfileStore (Cold-Only).
func (s *Storage) UpdateByID(ctx context.Context, userID string, update subhook.ProfileUpdate) error {
	return s.cold.UpdateByID(ctx, userID, update)
}

// GetProfile implements subhook.ProfileReader (Cold-Only).
func (s *Storage) GetProfile(ctx context.Context, userID string) (*subhook.UserProfile, error) {
	reader, ok := s.cold.(subhook.ProfileReader)
	if !ok {
		return nil, subhook.ErrProfileNotFound
	}
	return reader.GetProfile(ctx, userID)
}

var (
	_ subhook.Store         = (*Storage)(nil)
	_ subhook.ProfileReader = (*Storage)(nil)
)
