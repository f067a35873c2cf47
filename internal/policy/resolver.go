// Package policy implements rule resolution: given a device and the
// current instant, compute the ResolvedRules a device or the portal should
// see, combining TimeRules, day-type overrides, active TANs, and shared
// device-coupling budgets. The split into available/consumed/remaining
// accumulation generalizes a single time-allocation calculation to
// rule-priority combination across multiple overlapping rules.
package policy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"heimdall/internal/core"
	"heimdall/internal/metrics"
	"heimdall/internal/storage"
)

// TanSnapshot is the redacted view of an active TAN exposed in
// ResolvedRules.
type TanSnapshot struct {
	ID           string     `json:"id"`
	Type         core.TanType `json:"type"`
	ScopeGroups  []string   `json:"scope_groups,omitempty"`
	ScopeDevices []string   `json:"scope_devices,omitempty"`
	ValueMinutes *int       `json:"value_minutes,omitempty"`
	ExpiresAt    time.Time  `json:"expires_at"`
}

// TotpConfig is the device-facing view of a child's TOTP settings.
type TotpConfig struct {
	Enabled         bool          `json:"enabled"`
	Secret          string        `json:"secret,omitempty"`
	Mode            core.TotpMode `json:"mode,omitempty"`
	TanMinutes      int           `json:"tan_minutes,omitempty"`
	OverrideMinutes int           `json:"override_minutes,omitempty"`
}

// ResolvedRules is the output of policy resolution for one device at one
// instant.
type ResolvedRules struct {
	DayType            string              `json:"day_type"`
	TimeWindows        []core.TimeWindow   `json:"time_windows"`
	GroupLimits        []core.GroupLimit   `json:"group_limits"`
	DailyLimitMinutes  *int                `json:"daily_limit_minutes,omitempty"`
	RemainingMinutes   *int                `json:"remaining_minutes,omitempty"`
	ActiveTans         []TanSnapshot       `json:"active_tans"`
	CoupledDevices     []string            `json:"coupled_devices"`
	SharedBudget       bool                `json:"shared_budget"`
	TotpConfig         *TotpConfig         `json:"totp_config,omitempty"`
	AppGroupMap        map[string]string   `json:"app_group_map,omitempty"`
}

// Clock abstracts wall-clock access for testability, matching the
// teacher's internal/winagent.Clock split between RealClock and a fake.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// RealClock is the production Clock backed by time.Now.
var RealClock Clock = realClock{}

// Resolver computes ResolvedRules from storage, with a short-TTL cache to
// absorb repeated polling without re-querying on every device heartbeat.
type Resolver struct {
	store   storage.Storage
	cache   *ruleCache
	clock   Clock
	metrics *metrics.Metrics
}

// NewResolver builds a Resolver with a 30s-TTL cache.
func NewResolver(store storage.Storage, clock Clock) *Resolver {
	if clock == nil {
		clock = RealClock
	}
	return &Resolver{
		store: store,
		cache: newRuleCache(30 * time.Second),
		clock: clock,
	}
}

// SetMetrics wires m into the resolver so Resolve observes its latency. A
// nil receiver field (the default) leaves resolution unobserved.
func (r *Resolver) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Resolve returns the ResolvedRules for deviceID. If bypassCache is true
// (the push path always sets it), the cache is skipped and repopulated.
func (r *Resolver) Resolve(ctx context.Context, deviceID string, bypassCache bool) (*ResolvedRules, error) {
	if r.metrics != nil {
		start := time.Now()
		defer func() { r.metrics.PolicyResolveDuration.Observe(time.Since(start).Seconds()) }()
	}

	cacheKey := "rules:device:" + deviceID
	if !bypassCache {
		if cached, ok := r.cache.get(cacheKey); ok {
			return cached, nil
		}
	}

	rules, err := r.resolve(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDegraded, err)
	}
	r.cache.set(cacheKey, rules)
	return rules, nil
}

// InvalidateDevice drops any cached resolution for deviceID. Used by the
// push orchestrator after a mutation so the next non-bypassed resolve
// doesn't serve stale data past its own TTL window.
func (r *Resolver) InvalidateDevice(deviceID string) {
	r.cache.delete("rules:device:" + deviceID)
}

func (r *Resolver) resolve(ctx context.Context, deviceID string) (*ResolvedRules, error) {
	device, err := r.store.GetDevice(ctx, deviceID)
	if err != nil {
		if err == storage.ErrNotFound {
			return &ResolvedRules{DayType: "unknown"}, nil
		}
		return nil, err
	}
	if device.Status != core.DeviceActive {
		return &ResolvedRules{DayType: "unknown"}, nil
	}

	child, err := r.store.GetUser(ctx, device.ChildID)
	if err != nil {
		return nil, err
	}

	family, err := r.store.GetFamily(ctx, child.FamilyID)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(family.Timezone)
	if err != nil {
		loc = time.UTC
	}

	now := r.clock.Now()
	localNow := now.In(loc)

	coupling, err := r.store.GetChildCoupling(ctx, child.ID)
	if err != nil && err != storage.ErrNotFound {
		return nil, err
	}

	dayType, err := r.resolveDayType(ctx, family.ID, localNow)
	if err != nil {
		return nil, err
	}

	rules, err := r.store.ListActiveChildRules(ctx, child.ID)
	if err != nil {
		return nil, err
	}

	matching := filterMatchingRules(rules, dayType, localNow)
	sort.SliceStable(matching, func(i, j int) bool { return matching[i].Priority > matching[j].Priority })

	result := &ResolvedRules{
		DayType:     dayType,
		TimeWindows: []core.TimeWindow{},
		GroupLimits: []core.GroupLimit{},
	}
	var dailyLimit *int
	for _, rule := range matching {
		result.TimeWindows = append(result.TimeWindows, rule.TimeWindows...)
		result.GroupLimits = append(result.GroupLimits, rule.GroupLimits...)
		if rule.DailyLimitMinutes != nil {
			if dailyLimit == nil || *rule.DailyLimitMinutes < *dailyLimit {
				v := *rule.DailyLimitMinutes
				dailyLimit = &v
			}
		}
	}
	result.DailyLimitMinutes = dailyLimit

	devicesToCount := []string{device.ID}
	sharedBudget := false
	var coupledDevices []string
	if coupling != nil {
		coupledDevices = coupling.DeviceIDs
		sharedBudget = coupling.SharedBudget
		if sharedBudget {
			devicesToCount = coupling.DeviceIDs
		}
	}
	result.CoupledDevices = coupledDevices
	result.SharedBudget = sharedBudget

	if dailyLimit != nil {
		usedSeconds, err := r.store.SumDeviceUsageSecondsOnDate(ctx, devicesToCount, localNow)
		if err != nil {
			return nil, err
		}
		remaining := *dailyLimit - int(usedSeconds/60)
		if remaining < 0 {
			remaining = 0
		}
		result.RemainingMinutes = &remaining
	}

	activeTANs, err := r.store.ListActiveChildTANs(ctx, child.ID, now)
	if err != nil {
		return nil, err
	}
	for _, t := range activeTANs {
		result.ActiveTans = append(result.ActiveTans, TanSnapshot{
			ID:           t.ID,
			Type:         t.Type,
			ScopeGroups:  t.ScopeGroups,
			ScopeDevices: t.ScopeDevices,
			ValueMinutes: t.ValueMinutes,
			ExpiresAt:    t.ExpiresAt,
		})
	}

	if child.TotpEnabled {
		result.TotpConfig = &TotpConfig{
			Enabled:         true,
			Secret:          child.TotpSecret,
			Mode:            child.TotpMode,
			TanMinutes:      child.TotpTanMinutes,
			OverrideMinutes: child.TotpOverrideMinutes,
		}
	}

	return result, nil
}

// resolveDayType decides the day type for a family on a given local date:
// an explicit override wins, otherwise Saturday/Sunday is "weekend" and
// everything else is "weekday".
func (r *Resolver) resolveDayType(ctx context.Context, familyID string, localNow time.Time) (string, error) {
	override, err := r.store.GetDayTypeOverride(ctx, familyID, localNow)
	if err != nil && err != storage.ErrNotFound {
		return "", err
	}
	if err == nil {
		return string(override.DayType), nil
	}
	if localNow.Weekday() == time.Saturday || localNow.Weekday() == time.Sunday {
		return "weekend", nil
	}
	return "weekday", nil
}

// truncateToDate drops the time-of-day component of t, expressed in loc, so
// valid_from/valid_until comparisons are calendar-date comparisons rather
// than instant comparisons: a rule valid_until today remains valid for the
// whole day, not just until midnight.
func truncateToDate(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

func filterMatchingRules(rules []*core.TimeRule, dayType string, localNow time.Time) []*core.TimeRule {
	loc := localNow.Location()
	today := truncateToDate(localNow, loc)
	var out []*core.TimeRule
	for _, rule := range rules {
		if rule.ValidFrom != nil && today.Before(truncateToDate(*rule.ValidFrom, loc)) {
			continue
		}
		if rule.ValidUntil != nil && today.After(truncateToDate(*rule.ValidUntil, loc)) {
			continue
		}
		if !containsString(rule.DayTypes, dayType) {
			continue
		}
		out = append(out, rule)
	}
	return out
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// ErrDegraded wraps every store error Resolve meets while resolving; the
// caller must never serve a partially-reconstructed ResolvedRules in this
// case.
var ErrDegraded = fmt.Errorf("policy: storage unavailable")
