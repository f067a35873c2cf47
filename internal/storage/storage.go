// Package storage defines the persistence interface for every entity in
// the data model. Implementations must enforce each entity's invariants
// (uniqueness, cascade deletes) at the storage layer.
package storage

import (
	"context"
	"errors"
	"time"

	"heimdall/internal/core"
)

// ErrNotFound is returned when a lookup by ID finds no matching row.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a write would violate a uniqueness
// constraint (duplicate device identifier, invitation code, TAN code, ...).
var ErrConflict = errors.New("storage: conflict")

// Storage is the full persistence surface for the server.
type Storage interface {
	// Families
	CreateFamily(ctx context.Context, f *core.Family) error
	GetFamily(ctx context.Context, id string) (*core.Family, error)
	ListFamilies(ctx context.Context) ([]*core.Family, error)

	// Users
	CreateUser(ctx context.Context, u *core.User) error
	GetUser(ctx context.Context, id string) (*core.User, error)
	GetUserByEmail(ctx context.Context, familyID, email string) (*core.User, error)
	UpdateUser(ctx context.Context, u *core.User) error
	ListFamilyUsers(ctx context.Context, familyID string) ([]*core.User, error)

	// Devices
	CreateDevice(ctx context.Context, d *core.Device) error
	GetDevice(ctx context.Context, id string) (*core.Device, error)
	GetDeviceByTokenHash(ctx context.Context, tokenHash string) (*core.Device, error)
	UpdateDevice(ctx context.Context, d *core.Device) error
	ListChildDevices(ctx context.Context, childID string) ([]*core.Device, error)
	TouchDeviceLastSeen(ctx context.Context, id string, at time.Time) error

	// Device couplings
	GetChildCoupling(ctx context.Context, childID string) (*core.DeviceCoupling, error)
	UpsertCoupling(ctx context.Context, c *core.DeviceCoupling) error

	// App groups
	CreateAppGroup(ctx context.Context, g *core.AppGroup) error
	GetAppGroup(ctx context.Context, id string) (*core.AppGroup, error)
	ListChildAppGroups(ctx context.Context, childID string) ([]*core.AppGroup, error)
	DeleteAppGroup(ctx context.Context, id string) error

	CreateAppGroupApp(ctx context.Context, a *core.AppGroupApp) error
	ListGroupApps(ctx context.Context, groupID string) ([]*core.AppGroupApp, error)

	// Time rules
	CreateTimeRule(ctx context.Context, r *core.TimeRule) error
	GetTimeRule(ctx context.Context, id string) (*core.TimeRule, error)
	UpdateTimeRule(ctx context.Context, r *core.TimeRule) error
	ListActiveChildRules(ctx context.Context, childID string) ([]*core.TimeRule, error)

	// Day type overrides
	GetDayTypeOverride(ctx context.Context, familyID string, date time.Time) (*core.DayTypeOverride, error)
	CreateDayTypeOverride(ctx context.Context, o *core.DayTypeOverride) error
	ListFamilyOverridesInRange(ctx context.Context, familyID string, from, to time.Time) ([]*core.DayTypeOverride, error)

	// TANs
	CreateTAN(ctx context.Context, t *core.TAN) error
	GetTANByCode(ctx context.Context, code string) (*core.TAN, error)
	GetTAN(ctx context.Context, id string) (*core.TAN, error)
	UpdateTAN(ctx context.Context, t *core.TAN) error
	ListActiveChildTANs(ctx context.Context, childID string, now time.Time) ([]*core.TAN, error)
	CountChildRedeemedTANsOnDate(ctx context.Context, childID string, date time.Time) (int, error)
	SumChildRedeemedMinutesOnDate(ctx context.Context, childID string, date time.Time) (int, error)
	DeleteExpiredTANsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// TAN schedules
	CreateTanSchedule(ctx context.Context, s *core.TanSchedule) error
	ListActiveTanSchedules(ctx context.Context) ([]*core.TanSchedule, error)
	HasTanScheduleLog(ctx context.Context, scheduleID string, date time.Time) (bool, error)
	CreateTanScheduleLog(ctx context.Context, l *core.TanScheduleLog) error

	// Quest templates / instances
	CreateQuestTemplate(ctx context.Context, t *core.QuestTemplate) error
	GetQuestTemplate(ctx context.Context, id string) (*core.QuestTemplate, error)
	ListActiveQuestTemplates(ctx context.Context, familyID string) ([]*core.QuestTemplate, error)
	ListAllActiveQuestTemplates(ctx context.Context) ([]*core.QuestTemplate, error)
	CreateQuestInstance(ctx context.Context, i *core.QuestInstance) error
	GetQuestInstance(ctx context.Context, id string) (*core.QuestInstance, error)
	UpdateQuestInstance(ctx context.Context, i *core.QuestInstance) error
	HasQuestInstanceSince(ctx context.Context, templateID, childID string, since time.Time) (bool, error)
	ListFamilyChildren(ctx context.Context, familyID string) ([]*core.User, error)

	// Usage events
	CreateUsageEvent(ctx context.Context, e *core.UsageEvent) error
	SumDeviceUsageSecondsOnDate(ctx context.Context, deviceIDs []string, date time.Time) (int64, error)
	SumChildGroupUsageMinutesOnDate(ctx context.Context, childID, groupID string, date time.Time) (int, error)
	SumChildUsageMinutesOnDate(ctx context.Context, childID string, date time.Time) (int, error)
	DeleteUsageEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Usage reward rules / logs
	CreateUsageRewardRule(ctx context.Context, r *core.UsageRewardRule) error
	ListActiveUsageRewardRules(ctx context.Context) ([]*core.UsageRewardRule, error)
	GetUsageRewardLog(ctx context.Context, ruleID string, date time.Time) (*core.UsageRewardLog, error)
	CreateUsageRewardLog(ctx context.Context, l *core.UsageRewardLog) error

	// Family invitations
	CreateFamilyInvitation(ctx context.Context, inv *core.FamilyInvitation) error
	GetFamilyInvitationByCode(ctx context.Context, code string) (*core.FamilyInvitation, error)
	UpdateFamilyInvitation(ctx context.Context, inv *core.FamilyInvitation) error

	// Refresh tokens
	CreateRefreshToken(ctx context.Context, t *core.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (*core.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}
