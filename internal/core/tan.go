package core

import "time"

// TanType selects what redeeming a TAN grants.
type TanType string

const (
	TanTypeTime          TanType = "time"
	TanTypeGroupUnlock   TanType = "group_unlock"
	TanTypeExtendWindow  TanType = "extend_window"
	TanTypeOverride      TanType = "override"
)

// TanSource records who or what minted a TAN.
type TanSource string

const (
	TanSourceQuest       TanSource = "quest"
	TanSourceParentManual TanSource = "parent_manual"
	TanSourceScheduled   TanSource = "scheduled"
	TanSourceTotp        TanSource = "totp"
	TanSourceUsageReward TanSource = "usage_reward"
)

// TanStatus is the TAN's position in its active -> (redeemed|expired)
// state machine.
type TanStatus string

const (
	TanStatusActive   TanStatus = "active"
	TanStatusRedeemed TanStatus = "redeemed"
	TanStatusExpired  TanStatus = "expired"
)

// TAN is a transaction-authentication-number redemption code minted by a
// parent, scheduler, or reward engine, granting a child extra time, a
// group unlock, a window extension, or an override.
type TAN struct {
	ID               string
	ChildID          string
	Code             string
	Type             TanType
	ScopeGroups      []string
	ScopeDevices     []string
	ValueMinutes     *int
	ValueUnlockUntil *time.Time
	ExpiresAt        time.Time
	SingleUse        bool
	Source           TanSource
	SourceQuestID    string
	Status           TanStatus
	RedeemedAt       *time.Time
	CreatedAt        time.Time
}

func (t *TAN) Validate() error {
	if t.ID == "" {
		return ErrMissingID
	}
	if t.ChildID == "" {
		return ErrMissingChildID
	}
	if t.Code == "" {
		return ErrMissingCode
	}
	switch t.Type {
	case TanTypeTime, TanTypeGroupUnlock, TanTypeExtendWindow, TanTypeOverride:
	default:
		return ErrInvalidTanType
	}
	switch t.Source {
	case TanSourceQuest, TanSourceParentManual, TanSourceScheduled, TanSourceTotp, TanSourceUsageReward:
	default:
		return ErrInvalidTanSource
	}
	switch t.Status {
	case TanStatusActive, TanStatusRedeemed, TanStatusExpired:
	default:
		return ErrInvalidStatus
	}
	if (t.Status == TanStatusRedeemed) != (t.RedeemedAt != nil) {
		return ErrInvalidStatus
	}
	if t.ValueMinutes != nil && *t.ValueMinutes < 0 {
		return ErrNegativeMinutes
	}
	return nil
}

// TanRecurrence selects which days a TanSchedule fires on.
type TanRecurrence string

const (
	RecurrenceDaily      TanRecurrence = "daily"
	RecurrenceWeekdays   TanRecurrence = "weekdays"
	RecurrenceWeekends   TanRecurrence = "weekends"
	RecurrenceSchoolDays TanRecurrence = "school_days"
)

// TanSchedule mints a TAN automatically on a recurring basis, with at most
// one TAN generated per (schedule, date) enforced via TanScheduleLog.
type TanSchedule struct {
	ID                string
	ChildID           string
	Name              string
	Recurrence        TanRecurrence
	TanType           TanType
	ValueMinutes      *int
	ScopeGroups       []string
	ScopeDevices      []string
	ExpiresAfterHours int
	Active            bool
	CreatedAt         time.Time
}

func (s *TanSchedule) Validate() error {
	if s.ID == "" {
		return ErrMissingID
	}
	if s.ChildID == "" {
		return ErrMissingChildID
	}
	if s.Name == "" {
		return ErrMissingName
	}
	switch s.Recurrence {
	case RecurrenceDaily, RecurrenceWeekdays, RecurrenceWeekends, RecurrenceSchoolDays:
	default:
		return ErrInvalidRecurrence
	}
	if s.ExpiresAfterHours <= 0 {
		return ErrNegativeMinutes
	}
	return nil
}

// TanScheduleLog records one schedule's firing for one date, enforcing the
// unique(schedule, date) invariant at the application level before the
// storage layer's unique index does at the persistence level.
type TanScheduleLog struct {
	ID             string
	ScheduleID     string
	Date           time.Time
	GeneratedTanID string
	CreatedAt      time.Time
}
