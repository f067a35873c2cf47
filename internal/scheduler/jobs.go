package scheduler

import (
	"context"
	"time"

	"heimdall/internal/core"
	"heimdall/internal/holiday"
	"heimdall/internal/idgen"
	"heimdall/internal/questengine"
	"heimdall/internal/storage"
	"heimdall/internal/tan"
)

// NOTE: every job below runs with the shared context the Scheduler passes
// to Job.Run, which Scheduler.Stop() cancels. The jobs do not check it
// between items; a cancelled context ends a pass only where a storage or
// provider call fails on it.

// QuestSchedulerJob returns the 00:05 UTC quest-instantiation job.
func QuestSchedulerJob(store storage.Storage, engine *questengine.Engine) Job {
	return Job{
		Name: "quest_scheduler",
		Spec: "5 0 * * *",
		Run: func(ctx context.Context) error {
			return forEachFamily(ctx, store, func(familyID string) error {
				family, err := store.GetFamily(ctx, familyID)
				if err != nil {
					return err
				}
				loc, err := time.LoadLocation(family.Timezone)
				if err != nil {
					loc = time.UTC
				}
				now := time.Now().In(loc)
				dayType := weekdayOrWeekend(now)
				if override, err := store.GetDayTypeOverride(ctx, familyID, now); err == nil {
					dayType = string(override.DayType)
				}
				_, err = engine.InstantiateDue(ctx, familyID, dayType, now)
				return err
			})
		},
	}
}

// UsageRewardSchedulerJob returns the 00:10 UTC usage-reward evaluation job.
func UsageRewardSchedulerJob(store storage.Storage, tanEng *tan.Engine) Job {
	return Job{
		Name: "usage_reward_scheduler",
		Spec: "10 0 * * *",
		Run: func(ctx context.Context) error {
			rules, err := store.ListActiveUsageRewardRules(ctx)
			if err != nil {
				return err
			}
			yesterday := time.Now().UTC().AddDate(0, 0, -1)

			for _, rule := range rules {
				if _, err := evaluateUsageRewardRule(ctx, store, tanEng, rule, yesterday); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func evaluateUsageRewardRule(ctx context.Context, store storage.Storage, tanEng *tan.Engine, rule *core.UsageRewardRule, date time.Time) (bool, error) {
	if existing, err := store.GetUsageRewardLog(ctx, rule.ID, date); err == nil && existing != nil {
		return false, nil // idempotent: already evaluated
	} else if err != nil && err != storage.ErrNotFound {
		return false, err
	}

	triggered, usageMinutes, err := checkUsageRewardTrigger(ctx, store, rule, date)
	if err != nil {
		return false, err
	}

	log := &core.UsageRewardLog{
		ID:               idgen.NewUsageRewardLog(),
		RuleID:           rule.ID,
		ChildID:          rule.ChildID,
		EvaluatedDate:    date,
		UsageMinutes:     usageMinutes,
		ThresholdMinutes: rule.ThresholdMinutes,
		Rewarded:         triggered,
		CreatedAt:        time.Now().UTC(),
	}

	if triggered {
		endOfDay := time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 59, 0, date.Location())
		value := rule.RewardMinutes
		t := &core.TAN{
			ID:           idgen.NewTAN(),
			ChildID:      rule.ChildID,
			Type:         core.TanTypeTime,
			ScopeGroups:  rule.RewardGroupIDs,
			ValueMinutes: &value,
			ExpiresAt:    endOfDay,
			SingleUse:    true,
			Source:       core.TanSourceUsageReward,
			Status:       core.TanStatusActive,
			CreatedAt:    time.Now().UTC(),
		}
		if err := tanEng.Create(ctx, t); err != nil {
			return false, err
		}
		log.GeneratedTanID = t.ID
	}

	if err := store.CreateUsageRewardLog(ctx, log); err != nil {
		return false, err
	}
	return triggered, nil
}

func checkUsageRewardTrigger(ctx context.Context, store storage.Storage, rule *core.UsageRewardRule, date time.Time) (bool, int, error) {
	switch rule.TriggerType {
	case core.TriggerDailyUnder:
		minutes, err := usageMinutesFor(ctx, store, rule, date)
		if err != nil {
			return false, 0, err
		}
		return minutes < rule.ThresholdMinutes, minutes, nil

	case core.TriggerGroupFree:
		minutes, err := store.SumChildGroupUsageMinutesOnDate(ctx, rule.ChildID, rule.TargetGroupID, date)
		if err != nil {
			return false, 0, err
		}
		return minutes == 0, minutes, nil

	case core.TriggerStreakUnder:
		if rule.StreakDays == nil {
			return false, 0, nil
		}
		var lastMinutes int
		for i := 0; i < *rule.StreakDays; i++ {
			day := date.AddDate(0, 0, -i)
			minutes, err := usageMinutesFor(ctx, store, rule, day)
			if err != nil {
				return false, 0, err
			}
			if i == 0 {
				lastMinutes = minutes
			}
			if minutes >= rule.ThresholdMinutes {
				return false, lastMinutes, nil
			}
		}
		return true, lastMinutes, nil

	default:
		return false, 0, nil
	}
}

func usageMinutesFor(ctx context.Context, store storage.Storage, rule *core.UsageRewardRule, date time.Time) (int, error) {
	if rule.TargetGroupID != "" {
		return store.SumChildGroupUsageMinutesOnDate(ctx, rule.ChildID, rule.TargetGroupID, date)
	}
	return store.SumChildUsageMinutesOnDate(ctx, rule.ChildID, date)
}

// TanSchedulerJob returns the 00:15 UTC scheduled-TAN generation job.
func TanSchedulerJob(store storage.Storage, tanEng *tan.Engine) Job {
	return Job{
		Name: "tan_scheduler",
		Spec: "15 0 * * *",
		Run: func(ctx context.Context) error {
			schedules, err := store.ListActiveTanSchedules(ctx)
			if err != nil {
				return err
			}
			today := time.Now().UTC()

			for _, sch := range schedules {
				if !tanScheduleMatchesToday(sch, today) {
					continue
				}
				exists, err := store.HasTanScheduleLog(ctx, sch.ID, today)
				if err != nil {
					return err
				}
				if exists {
					continue
				}

				t := &core.TAN{
					ID:           idgen.NewTAN(),
					ChildID:      sch.ChildID,
					Type:         sch.TanType,
					ScopeGroups:  sch.ScopeGroups,
					ScopeDevices: sch.ScopeDevices,
					ValueMinutes: sch.ValueMinutes,
					ExpiresAt:    today.Add(time.Duration(sch.ExpiresAfterHours) * time.Hour),
					SingleUse:    true,
					Source:       core.TanSourceScheduled,
					Status:       core.TanStatusActive,
					CreatedAt:    today,
				}
				if err := tanEng.Create(ctx, t); err != nil {
					return err
				}
				if err := store.CreateTanScheduleLog(ctx, &core.TanScheduleLog{
					ID:             idgen.NewTanScheduleLog(),
					ScheduleID:     sch.ID,
					Date:           today,
					GeneratedTanID: t.ID,
					CreatedAt:      today,
				}); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func tanScheduleMatchesToday(sch *core.TanSchedule, today time.Time) bool {
	weekday := today.Weekday()
	switch sch.Recurrence {
	case core.RecurrenceDaily:
		return true
	case core.RecurrenceWeekdays, core.RecurrenceSchoolDays:
		return weekday != time.Saturday && weekday != time.Sunday
	case core.RecurrenceWeekends:
		return weekday == time.Saturday || weekday == time.Sunday
	default:
		return false
	}
}

func weekdayOrWeekend(t time.Time) string {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return "weekend"
	}
	return "weekday"
}

// HolidaySyncJob returns the startup-then-yearly holiday-sync job. The
// caller is responsible for also invoking Run once at startup: robfig/cron
// has no native run-immediately option, so main wires a direct call in
// addition to this schedule.
func HolidaySyncJob(store storage.Storage, provider holiday.Provider) Job {
	return Job{
		Name: "holiday_sync",
		Spec: "0 4 1 1 *", // yearly, Jan 1st 04:00 UTC
		Run: func(ctx context.Context) error {
			return forEachFamilyRecord(ctx, store, func(family *core.Family) error {
				year := time.Now().UTC().Year()
				countryCode, _ := family.Settings["country_code"].(string)
				if countryCode == "" {
					countryCode = "DE"
				}
				region, _ := family.Settings["region"].(string)

				for _, y := range []int{year, year + 1} {
					holidays, err := provider.FetchHolidays(ctx, countryCode, region, y)
					if err != nil {
						return err
					}
					for _, h := range holidays {
						if existing, err := store.GetDayTypeOverride(ctx, family.ID, h.Date); err == nil && existing != nil {
							continue
						} else if err != nil && err != storage.ErrNotFound {
							return err
						}
						if err := store.CreateDayTypeOverride(ctx, &core.DayTypeOverride{
							ID:       idgen.NewDayTypeOverride(),
							FamilyID: family.ID,
							Date:     h.Date,
							DayType:  core.DayTypeHoliday,
							Label:    h.Name,
							Source:   core.DayTypeSourceAPI,
						}); err != nil {
							return err
						}
					}
				}
				return nil
			})
		},
	}
}

// RetentionSweepJob returns the 03:00 UTC retention job.
func RetentionSweepJob(store storage.Storage) Job {
	return Job{
		Name: "retention_sweep",
		Spec: "0 3 * * *",
		Run: func(ctx context.Context) error {
			now := time.Now().UTC()
			if _, err := store.DeleteUsageEventsOlderThan(ctx, now.AddDate(0, 0, -90)); err != nil {
				return err
			}
			_, err := store.DeleteExpiredTANsOlderThan(ctx, now.AddDate(0, 0, -30))
			return err
		},
	}
}

// --- helpers shared by the jobs that iterate every family ---

func forEachFamily(ctx context.Context, store storage.Storage, fn func(familyID string) error) error {
	families, err := store.ListFamilies(ctx)
	if err != nil {
		return err
	}
	for _, f := range families {
		if err := fn(f.ID); err != nil {
			return err
		}
	}
	return nil
}

func forEachFamilyRecord(ctx context.Context, store storage.Storage, fn func(family *core.Family) error) error {
	families, err := store.ListFamilies(ctx)
	if err != nil {
		return err
	}
	for _, f := range families {
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
