package subhook

import "errors"

var (
	// ErrProfileNotFound is returned when the profile row does not exist
	ErrProfileNotFound = errors.New("profile not found")

	// ErrEventAlreadyRecorded is returned by EventLog.Insert on a duplicate event id
	ErrEventAlreadyRecorded = errors.New("event already recorded")

	// ErrEventLogUnavailable is returned when the processed-events table is not provisioned
	ErrEventLogUnavailable = errors.New("event log unavailable")

	// ErrInvalidProfileUpdate is returned for updates carrying unknown enum values
	ErrInvalidProfileUpdate = errors.New("invalid profile update")

	// ErrInvalidRecord is returned for event records without an event id
	ErrInvalidRecord = errors.New("invalid event record")
)
