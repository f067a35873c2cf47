package core

import "errors"

// Sentinel validation errors shared across entity Validate methods.
var (
	ErrMissingID        = errors.New("core: missing id")
	ErrMissingFamilyID  = errors.New("core: missing family id")
	ErrMissingChildID   = errors.New("core: missing child id")
	ErrMissingName      = errors.New("core: missing name")
	ErrMissingTimezone  = errors.New("core: missing timezone")
	ErrInvalidRole      = errors.New("core: invalid role")
	ErrInvalidDeviceType = errors.New("core: invalid device type")
	ErrInvalidStatus    = errors.New("core: invalid status")
	ErrEmptyDayTypes    = errors.New("core: day_types must be non-empty")
	ErrEmptyDeviceIDs   = errors.New("core: device_ids must be non-empty")
	ErrMissingAppRef    = errors.New("core: at least one of app_package/app_executable is required")
	ErrInvalidTanType   = errors.New("core: invalid tan type")
	ErrInvalidTanSource = errors.New("core: invalid tan source")
	ErrNegativeMinutes  = errors.New("core: minutes must be >= 0")
	ErrInvalidProofType = errors.New("core: invalid proof type")
	ErrInvalidRecurrence = errors.New("core: invalid recurrence")
	ErrInvalidTrigger   = errors.New("core: invalid trigger type")
	ErrInvalidStreakDays = errors.New("core: streak_days must be >= 2 for streak_under trigger")
	ErrInvalidEventType = errors.New("core: invalid event type")
	ErrNegativeDuration = errors.New("core: duration_seconds must be >= 0")
	ErrMissingCode      = errors.New("core: missing code")
)
