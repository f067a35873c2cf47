package core

import "time"

// UsageEventType distinguishes the lifecycle events the agent reports.
type UsageEventType string

const (
	UsageStart   UsageEventType = "start"
	UsageStop    UsageEventType = "stop"
	UsageBlocked UsageEventType = "blocked"
	UsageUpdate  UsageEventType = "update"
)

// UsageEvent is an append-only record of app usage reported by an agent,
// retained for 90 days.
type UsageEvent struct {
	ID              string
	DeviceID        string
	ChildID         string
	AppPackage      string
	AppGroupID      string
	EventType       UsageEventType
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds *int
	CreatedAt       time.Time
}

func (e *UsageEvent) Validate() error {
	if e.ID == "" {
		return ErrMissingID
	}
	if e.DeviceID == "" {
		return ErrMissingID
	}
	if e.ChildID == "" {
		return ErrMissingChildID
	}
	switch e.EventType {
	case UsageStart, UsageStop, UsageBlocked, UsageUpdate:
	default:
		return ErrInvalidEventType
	}
	if e.DurationSeconds != nil && *e.DurationSeconds < 0 {
		return ErrNegativeDuration
	}
	return nil
}

// UsageRewardTrigger selects what usage pattern a UsageRewardRule watches.
type UsageRewardTrigger string

const (
	TriggerDailyUnder  UsageRewardTrigger = "daily_under"
	TriggerStreakUnder UsageRewardTrigger = "streak_under"
	TriggerGroupFree   UsageRewardTrigger = "group_free"
)

// UsageRewardRule automatically mints a TAN when a child's usage stays
// under a threshold, evaluated once per day by the scheduler.
type UsageRewardRule struct {
	ID              string
	ChildID         string
	Name            string
	TriggerType     UsageRewardTrigger
	ThresholdMinutes int
	TargetGroupID   string
	StreakDays      *int
	RewardMinutes   int
	RewardGroupIDs  []string
	Active          bool
	CreatedAt       time.Time
}

func (r *UsageRewardRule) Validate() error {
	if r.ID == "" {
		return ErrMissingID
	}
	if r.ChildID == "" {
		return ErrMissingChildID
	}
	if r.Name == "" {
		return ErrMissingName
	}
	switch r.TriggerType {
	case TriggerDailyUnder, TriggerStreakUnder, TriggerGroupFree:
	default:
		return ErrInvalidTrigger
	}
	if r.TriggerType == TriggerStreakUnder {
		if r.StreakDays == nil || *r.StreakDays < 2 {
			return ErrInvalidStreakDays
		}
	}
	if r.RewardMinutes < 0 {
		return ErrNegativeMinutes
	}
	return nil
}

// UsageRewardLog records one rule's evaluation for one date, enforcing
// unique(rule_id, evaluated_date).
type UsageRewardLog struct {
	ID               string
	RuleID           string
	ChildID          string
	EvaluatedDate    time.Time
	UsageMinutes     int
	ThresholdMinutes int
	Rewarded         bool
	GeneratedTanID   string
	CreatedAt        time.Time
}

func (l *UsageRewardLog) Validate() error {
	if l.ID == "" {
		return ErrMissingID
	}
	if l.RuleID == "" {
		return ErrMissingID
	}
	if l.ChildID == "" {
		return ErrMissingChildID
	}
	return nil
}
