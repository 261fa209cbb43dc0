package subhook

import (
	"context"
	"errors"
	"fmt"
)

// ClaimResult is the outcome of ClaimEvent.
type ClaimResult int

const (
	// ClaimFirstSeen means the record was written by this call.
	ClaimFirstSeen ClaimResult = iota
	// ClaimDuplicate means the event was already recorded; effects must be skipped.
	ClaimDuplicate
	// ClaimStoreUnavailable means the event log is not provisioned. Processing
	// continues without an idempotency witness.
	ClaimStoreUnavailable
)

func (r ClaimResult) String() string {
	switch r {
	case ClaimFirstSeen:
		return "first_seen"
	case ClaimDuplicate:
		return "duplicate"
	case ClaimStoreUnavailable:
		return "store_unavailable"
	default:
		return "unknown"
	}
}

// Proceed reports whether the caller should apply the event's effects.
func (r ClaimResult) Proceed() bool {
	return r != ClaimDuplicate
}

// ClaimEvent records rec in log unless an entry for rec.EventID already exists.
//
// The lookup and the insert are separate calls, so two concurrent deliveries
// of one event can both observe "absent". The store's unique key turns the
// losing insert into ErrEventAlreadyRecorded, reported here as ClaimDuplicate.
// Backends without such a key may let both through; profile updates are
// absolute-value writes, so a double application converges to the same row.
func ClaimEvent(ctx context.Context, log EventLog, rec *ProcessedEventRecord) (ClaimResult, error) {
	if rec == nil || rec.EventID == "" {
		return ClaimDuplicate, ErrInvalidRecord
	}

	existing, err := log.FindByEventID(ctx, rec.EventID)
	if err != nil {
		if errors.Is(err, ErrEventLogUnavailable) {
			return ClaimStoreUnavailable, nil
		}
		return ClaimDuplicate, fmt.Errorf("failed to look up event %s: %w", rec.EventID, err)
	}
	if existing != nil {
		return ClaimDuplicate, nil
	}

	if err := log.Insert(ctx, rec); err != nil {
		switch {
		case errors.Is(err, ErrEventAlreadyRecorded):
			return ClaimDuplicate, nil
		case errors.Is(err, ErrEventLogUnavailable):
			return ClaimStoreUnavailable, nil
		default:
			return ClaimDuplicate, fmt.Errorf("failed to record event %s: %w", rec.EventID, err)
		}
	}

	return ClaimFirstSeen, nil
}
