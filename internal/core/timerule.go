package core

import "time"

// TargetType selects what a TimeRule applies to.
type TargetType string

const (
	TargetDevice   TargetType = "device"
	TargetAppGroup TargetType = "app_group"
)

// TimeWindow is an allowed-usage clock interval within a day, expressed
// in the family's local time.
type TimeWindow struct {
	Start string // "HH:MM"
	End   string // "HH:MM"
	Note  string
}

// GroupLimit caps one app group's minutes within a rule that targets a
// device as a whole but wants a secondary per-group ceiling.
type GroupLimit struct {
	GroupID    string
	MaxMinutes int
}

// TimeRule is a parent-managed policy unit: a set of day types, clock
// windows, and minute limits, scoped to a device or an app group, with a
// priority used for most-restrictive combination.
type TimeRule struct {
	ID                 string
	ChildID            string
	Name               string
	TargetType         TargetType
	TargetID           string // device id or app group id, per TargetType
	DayTypes           []string
	TimeWindows        []TimeWindow
	DailyLimitMinutes  *int
	GroupLimits        []GroupLimit
	Priority           int
	Active             bool
	ValidFrom          *time.Time
	ValidUntil         *time.Time
	CreatedAt          time.Time
}

func (r *TimeRule) Validate() error {
	if r.ID == "" {
		return ErrMissingID
	}
	if r.ChildID == "" {
		return ErrMissingChildID
	}
	if r.Name == "" {
		return ErrMissingName
	}
	switch r.TargetType {
	case TargetDevice, TargetAppGroup:
	default:
		return ErrInvalidRole
	}
	if len(r.DayTypes) == 0 {
		return ErrEmptyDayTypes
	}
	if r.DailyLimitMinutes != nil && *r.DailyLimitMinutes < 0 {
		return ErrNegativeMinutes
	}
	for _, gl := range r.GroupLimits {
		if gl.MaxMinutes < 0 {
			return ErrNegativeMinutes
		}
	}
	return nil
}

// DayTypeSource identifies where a DayTypeOverride's classification came
// from.
type DayTypeSource string

const (
	DayTypeSourceAPI    DayTypeSource = "api"
	DayTypeSourceManual DayTypeSource = "manual"
)

// DayType enumerates the calendar classifications a date can carry.
type DayType string

const (
	DayTypeHoliday  DayType = "holiday"
	DayTypeVacation DayType = "vacation"
	DayTypeWeekday  DayType = "weekday"
	DayTypeWeekend  DayType = "weekend"
	DayTypeCustom   DayType = "custom"
)

// DayTypeOverride reclassifies a single calendar date for a family, e.g.
// marking a weekday as a holiday. At most one exists per (family, date).
type DayTypeOverride struct {
	ID       string
	FamilyID string
	Date     time.Time // date-only, family-local
	DayType  DayType
	Label    string
	Source   DayTypeSource
}

func (o *DayTypeOverride) Validate() error {
	if o.ID == "" {
		return ErrMissingID
	}
	if o.FamilyID == "" {
		return ErrMissingFamilyID
	}
	switch o.DayType {
	case DayTypeHoliday, DayTypeVacation, DayTypeWeekday, DayTypeWeekend, DayTypeCustom:
	default:
		return ErrInvalidRole
	}
	switch o.Source {
	case DayTypeSourceAPI, DayTypeSourceManual:
	default:
		return ErrInvalidRole
	}
	return nil
}
