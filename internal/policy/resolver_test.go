package policy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heimdall/internal/core"
	"heimdall/internal/metrics"
	"heimdall/internal/storage/sqlite"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func setupTestStore(t *testing.T) *sqlite.Store {
	tmpDir := t.TempDir()
	store, err := sqlite.New(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seedFamily creates a family, a child and an active device for it.
func seedFamily(t *testing.T, store *sqlite.Store, childID, deviceID string) {
	ctx := context.Background()
	require.NoError(t, store.CreateFamily(ctx, &core.Family{ID: "family-1", Name: "Test Family", Timezone: "UTC"}))
	require.NoError(t, store.CreateUser(ctx, &core.User{ID: childID, FamilyID: "family-1", Role: core.RoleChild, Name: "Kid"}))
	require.NoError(t, store.CreateDevice(ctx, &core.Device{
		ID: deviceID, ChildID: childID, Name: "Laptop", Type: core.DeviceWindows,
		DeviceIdentifier: "hw-1", Status: core.DeviceActive,
	}))
}

func TestResolver_Resolve_UnknownDeviceReturnsUnknownDayType(t *testing.T) {
	store := setupTestStore(t)
	resolver := NewResolver(store, fixedClock{time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}) // Monday

	rules, err := resolver.Resolve(context.Background(), "missing-device", true)
	require.NoError(t, err)
	assert.Equal(t, "unknown", rules.DayType)
}

func TestResolver_Resolve_RevokedDeviceReturnsUnknownDayType(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedFamily(t, store, "child-1", "device-1")

	dev, err := store.GetDevice(ctx, "device-1")
	require.NoError(t, err)
	dev.Status = core.DeviceRevoked
	require.NoError(t, store.UpdateDevice(ctx, dev))

	resolver := NewResolver(store, fixedClock{time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)})
	rules, err := resolver.Resolve(ctx, "device-1", true)
	require.NoError(t, err)
	assert.Equal(t, "unknown", rules.DayType)
}

func TestResolver_Resolve_WeekdayDefaultDayType(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedFamily(t, store, "child-1", "device-1")

	resolver := NewResolver(store, fixedClock{time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}) // Monday
	rules, err := resolver.Resolve(ctx, "device-1", true)
	require.NoError(t, err)
	assert.Equal(t, "weekday", rules.DayType)
}

func TestResolver_Resolve_WeekendDefaultDayType(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedFamily(t, store, "child-1", "device-1")

	resolver := NewResolver(store, fixedClock{time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}) // Sunday
	rules, err := resolver.Resolve(ctx, "device-1", true)
	require.NoError(t, err)
	assert.Equal(t, "weekend", rules.DayType)
}

func TestResolver_Resolve_ExplicitOverrideWins(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedFamily(t, store, "child-1", "device-1")

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) // Monday, normally a weekday
	require.NoError(t, store.CreateDayTypeOverride(ctx, &core.DayTypeOverride{
		ID: "override-1", FamilyID: "family-1", Date: now, DayType: core.DayTypeHoliday, Source: core.DayTypeSourceManual,
	}))

	resolver := NewResolver(store, fixedClock{now})
	rules, err := resolver.Resolve(ctx, "device-1", true)
	require.NoError(t, err)
	assert.Equal(t, "holiday", rules.DayType)
}

func TestResolver_Resolve_CombinesRulesByPriorityAndKeepsLowestDailyLimit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedFamily(t, store, "child-1", "device-1")
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	loose := 120
	strict := 60
	require.NoError(t, store.CreateTimeRule(ctx, &core.TimeRule{
		ID: "rule-loose", ChildID: "child-1", Name: "Loose", TargetType: core.TargetDevice, TargetID: "device-1",
		DayTypes: []string{"weekday"}, DailyLimitMinutes: &loose, Priority: 1, Active: true,
	}))
	require.NoError(t, store.CreateTimeRule(ctx, &core.TimeRule{
		ID: "rule-strict", ChildID: "child-1", Name: "Strict", TargetType: core.TargetDevice, TargetID: "device-1",
		DayTypes: []string{"weekday"}, DailyLimitMinutes: &strict, Priority: 2, Active: true,
		GroupLimits: []core.GroupLimit{{GroupID: "games", MaxMinutes: 30}},
	}))

	resolver := NewResolver(store, fixedClock{now})
	rules, err := resolver.Resolve(ctx, "device-1", true)
	require.NoError(t, err)
	require.NotNil(t, rules.DailyLimitMinutes)
	assert.Equal(t, 60, *rules.DailyLimitMinutes)
	require.Len(t, rules.GroupLimits, 1)
	assert.Equal(t, "games", rules.GroupLimits[0].GroupID)
}

func TestResolver_Resolve_RuleOutsideValidRangeIsExcluded(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedFamily(t, store, "child-1", "device-1")
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	future := now.Add(24 * time.Hour)
	limit := 45
	require.NoError(t, store.CreateTimeRule(ctx, &core.TimeRule{
		ID: "rule-future", ChildID: "child-1", Name: "Future", TargetType: core.TargetDevice, TargetID: "device-1",
		DayTypes: []string{"weekday"}, DailyLimitMinutes: &limit, Priority: 1, Active: true,
		ValidFrom: &future,
	}))

	resolver := NewResolver(store, fixedClock{now})
	rules, err := resolver.Resolve(ctx, "device-1", true)
	require.NoError(t, err)
	assert.Nil(t, rules.DailyLimitMinutes)
}

func TestResolver_Resolve_RuleValidUntilTodayStaysValidAllDay(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedFamily(t, store, "child-1", "device-1")

	// The rule's valid_until is midnight of today; now is late afternoon of
	// the same calendar day, which must still be in range.
	validUntil := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

	limit := 45
	require.NoError(t, store.CreateTimeRule(ctx, &core.TimeRule{
		ID: "rule-1", ChildID: "child-1", Name: "Daily", TargetType: core.TargetDevice, TargetID: "device-1",
		DayTypes: []string{"weekday"}, DailyLimitMinutes: &limit, Priority: 1, Active: true,
		ValidUntil: &validUntil,
	}))

	resolver := NewResolver(store, fixedClock{now})
	rules, err := resolver.Resolve(ctx, "device-1", true)
	require.NoError(t, err)
	require.NotNil(t, rules.DailyLimitMinutes)
	assert.Equal(t, 45, *rules.DailyLimitMinutes)
}

func TestResolver_Resolve_RemainingMinutesSubtractsUsage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedFamily(t, store, "child-1", "device-1")
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	limit := 60
	require.NoError(t, store.CreateTimeRule(ctx, &core.TimeRule{
		ID: "rule-1", ChildID: "child-1", Name: "Daily", TargetType: core.TargetDevice, TargetID: "device-1",
		DayTypes: []string{"weekday"}, DailyLimitMinutes: &limit, Priority: 1, Active: true,
	}))
	duration1 := 20 * 60
	require.NoError(t, store.CreateUsageEvent(ctx, &core.UsageEvent{
		ID: "usage-1", DeviceID: "device-1", ChildID: "child-1", AppPackage: "chrome.exe",
		EventType: core.UsageStop, DurationSeconds: &duration1, CreatedAt: now,
	}))

	resolver := NewResolver(store, fixedClock{now})
	rules, err := resolver.Resolve(ctx, "device-1", true)
	require.NoError(t, err)
	require.NotNil(t, rules.RemainingMinutes)
	assert.Equal(t, 40, *rules.RemainingMinutes)
}

func TestResolver_Resolve_RemainingMinutesNeverNegative(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedFamily(t, store, "child-1", "device-1")
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	limit := 30
	require.NoError(t, store.CreateTimeRule(ctx, &core.TimeRule{
		ID: "rule-1", ChildID: "child-1", Name: "Daily", TargetType: core.TargetDevice, TargetID: "device-1",
		DayTypes: []string{"weekday"}, DailyLimitMinutes: &limit, Priority: 1, Active: true,
	}))
	duration1 := 90 * 60
	require.NoError(t, store.CreateUsageEvent(ctx, &core.UsageEvent{
		ID: "usage-1", DeviceID: "device-1", ChildID: "child-1", AppPackage: "chrome.exe",
		EventType: core.UsageStop, DurationSeconds: &duration1, CreatedAt: now,
	}))

	resolver := NewResolver(store, fixedClock{now})
	rules, err := resolver.Resolve(ctx, "device-1", true)
	require.NoError(t, err)
	require.NotNil(t, rules.RemainingMinutes)
	assert.Equal(t, 0, *rules.RemainingMinutes)
}

func TestResolver_Resolve_SharedBudgetSumsCoupledDeviceUsage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedFamily(t, store, "child-1", "device-1")
	require.NoError(t, store.CreateDevice(ctx, &core.Device{
		ID: "device-2", ChildID: "child-1", Name: "Tablet", Type: core.DeviceAndroid,
		DeviceIdentifier: "hw-2", Status: core.DeviceActive,
	}))
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertCoupling(ctx, &core.DeviceCoupling{
		ID: "coupling-1", ChildID: "child-1", DeviceIDs: []string{"device-1", "device-2"}, SharedBudget: true,
	}))

	limit := 60
	require.NoError(t, store.CreateTimeRule(ctx, &core.TimeRule{
		ID: "rule-1", ChildID: "child-1", Name: "Daily", TargetType: core.TargetDevice, TargetID: "device-1",
		DayTypes: []string{"weekday"}, DailyLimitMinutes: &limit, Priority: 1, Active: true,
	}))
	duration1 := 10 * 60
	duration2 := 10 * 60
	require.NoError(t, store.CreateUsageEvent(ctx, &core.UsageEvent{
		ID: "usage-1", DeviceID: "device-1", ChildID: "child-1", AppPackage: "chrome.exe",
		EventType: core.UsageStop, DurationSeconds: &duration1, CreatedAt: now,
	}))
	require.NoError(t, store.CreateUsageEvent(ctx, &core.UsageEvent{
		ID: "usage-2", DeviceID: "device-2", ChildID: "child-1", AppPackage: "youtube",
		EventType: core.UsageStop, DurationSeconds: &duration2, CreatedAt: now,
	}))

	resolver := NewResolver(store, fixedClock{now})
	rules, err := resolver.Resolve(ctx, "device-1", true)
	require.NoError(t, err)
	assert.True(t, rules.SharedBudget)
	assert.ElementsMatch(t, []string{"device-1", "device-2"}, rules.CoupledDevices)
	require.NotNil(t, rules.RemainingMinutes)
	assert.Equal(t, 40, *rules.RemainingMinutes) // 60 - (10+10)
}

func TestResolver_Resolve_ActiveTansAreSnapshotted(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedFamily(t, store, "child-1", "device-1")
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	minutes := 15
	require.NoError(t, store.CreateTAN(ctx, &core.TAN{
		ID: "tan-1", ChildID: "child-1", Code: "HERO-1234", Type: core.TanTypeTime,
		ValueMinutes: &minutes, ExpiresAt: now.Add(time.Hour), Status: core.TanStatusActive, CreatedAt: now,
	}))

	resolver := NewResolver(store, fixedClock{now})
	rules, err := resolver.Resolve(ctx, "device-1", true)
	require.NoError(t, err)
	require.Len(t, rules.ActiveTans, 1)
	assert.Equal(t, "tan-1", rules.ActiveTans[0].ID)
	assert.Equal(t, 15, *rules.ActiveTans[0].ValueMinutes)
}

func TestResolver_Resolve_TotpConfigExposedWhenEnabled(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateFamily(ctx, &core.Family{ID: "family-1", Name: "Test Family", Timezone: "UTC"}))
	require.NoError(t, store.CreateUser(ctx, &core.User{
		ID: "child-1", FamilyID: "family-1", Role: core.RoleChild, Name: "Kid",
		TotpEnabled: true, TotpSecret: "JBSWY3DPEHPK3PXP", TotpMode: core.TotpModeBoth,
		TotpTanMinutes: 10, TotpOverrideMinutes: 20,
	}))
	require.NoError(t, store.CreateDevice(ctx, &core.Device{
		ID: "device-1", ChildID: "child-1", Name: "Laptop", Type: core.DeviceWindows,
		DeviceIdentifier: "hw-1", Status: core.DeviceActive,
	}))

	resolver := NewResolver(store, fixedClock{time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)})
	rules, err := resolver.Resolve(ctx, "device-1", true)
	require.NoError(t, err)
	require.NotNil(t, rules.TotpConfig)
	assert.Equal(t, core.TotpModeBoth, rules.TotpConfig.Mode)
	assert.Equal(t, 10, rules.TotpConfig.TanMinutes)
	assert.Equal(t, 20, rules.TotpConfig.OverrideMinutes)
}

func TestResolver_Resolve_TotpConfigNilWhenDisabled(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedFamily(t, store, "child-1", "device-1")

	resolver := NewResolver(store, fixedClock{time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)})
	rules, err := resolver.Resolve(ctx, "device-1", true)
	require.NoError(t, err)
	assert.Nil(t, rules.TotpConfig)
}

func TestResolver_Resolve_CachesResultUntilInvalidated(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedFamily(t, store, "child-1", "device-1")
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	resolver := NewResolver(store, fixedClock{now})

	first, err := resolver.Resolve(ctx, "device-1", false)
	require.NoError(t, err)
	assert.Nil(t, first.DailyLimitMinutes)

	limit := 45
	require.NoError(t, store.CreateTimeRule(ctx, &core.TimeRule{
		ID: "rule-1", ChildID: "child-1", Name: "Daily", TargetType: core.TargetDevice, TargetID: "device-1",
		DayTypes: []string{"weekday"}, DailyLimitMinutes: &limit, Priority: 1, Active: true,
	}))

	// Cached value still served since the new rule hasn't invalidated it.
	cached, err := resolver.Resolve(ctx, "device-1", false)
	require.NoError(t, err)
	assert.Nil(t, cached.DailyLimitMinutes)

	resolver.InvalidateDevice("device-1")

	fresh, err := resolver.Resolve(ctx, "device-1", false)
	require.NoError(t, err)
	require.NotNil(t, fresh.DailyLimitMinutes)
	assert.Equal(t, 45, *fresh.DailyLimitMinutes)
}

func TestResolver_Resolve_ObservesPolicyResolveDurationWhenMetricsWired(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedFamily(t, store, "child-1", "device-1")
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	reg := prometheus.NewRegistry()
	resolver := NewResolver(store, fixedClock{now})
	m := metrics.New(reg)
	resolver.SetMetrics(m)

	_, err := resolver.Resolve(ctx, "device-1", true)
	require.NoError(t, err)

	assert.Equal(t, 1, testutil.CollectAndCount(m.PolicyResolveDuration))
}

func TestResolver_Resolve_BypassCacheAlwaysRefreshes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedFamily(t, store, "child-1", "device-1")
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	resolver := NewResolver(store, fixedClock{now})
	_, err := resolver.Resolve(ctx, "device-1", false)
	require.NoError(t, err)

	limit := 45
	require.NoError(t, store.CreateTimeRule(ctx, &core.TimeRule{
		ID: "rule-1", ChildID: "child-1", Name: "Daily", TargetType: core.TargetDevice, TargetID: "device-1",
		DayTypes: []string{"weekday"}, DailyLimitMinutes: &limit, Priority: 1, Active: true,
	}))

	fresh, err := resolver.Resolve(ctx, "device-1", true)
	require.NoError(t, err)
	require.NotNil(t, fresh.DailyLimitMinutes)
	assert.Equal(t, 45, *fresh.DailyLimitMinutes)
}
