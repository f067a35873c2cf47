package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"heimdall/internal/core"
)

const usageEventColumns = `id, device_id, child_id, app_package, app_group_id, event_type,
	started_at, ended_at, duration_seconds, created_at`

func (s *Store) CreateUsageEvent(ctx context.Context, e *core.UsageEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events (`+usageEventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DeviceID, e.ChildID, e.AppPackage, e.AppGroupID, e.EventType,
		nullTime(e.StartedAt), nullTime(e.EndedAt), nullInt(e.DurationSeconds), e.CreatedAt)
	return err
}

func (s *Store) SumDeviceUsageSecondsOnDate(ctx context.Context, deviceIDs []string, date time.Time) (int64, error) {
	if len(deviceIDs) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(deviceIDs))
	args := make([]any, 0, len(deviceIDs)+2)
	for i, id := range deviceIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, date.Format("2006-01-02"))

	query := `
		SELECT COALESCE(SUM(duration_seconds), 0) FROM usage_events
		WHERE device_id IN (` + strings.Join(placeholders, ",") + `)
		AND date(created_at) = date(?)
		AND duration_seconds IS NOT NULL`
	var total int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&total)
	return total, err
}

func (s *Store) SumChildGroupUsageMinutesOnDate(ctx context.Context, childID, groupID string, date time.Time) (int, error) {
	var seconds sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(duration_seconds) FROM usage_events
		WHERE child_id = ? AND app_group_id = ? AND date(created_at) = date(?)`,
		childID, groupID, date.Format("2006-01-02")).Scan(&seconds)
	if err != nil {
		return 0, err
	}
	return int(seconds.Int64 / 60), nil
}

func (s *Store) SumChildUsageMinutesOnDate(ctx context.Context, childID string, date time.Time) (int, error) {
	var seconds sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(duration_seconds) FROM usage_events
		WHERE child_id = ? AND date(created_at) = date(?)`,
		childID, date.Format("2006-01-02")).Scan(&seconds)
	if err != nil {
		return 0, err
	}
	return int(seconds.Int64 / 60), nil
}

func (s *Store) DeleteUsageEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Usage reward rules / logs ---

const usageRewardRuleColumns = `id, child_id, name, trigger_type, threshold_minutes, target_group_id,
	streak_days, reward_minutes, reward_group_ids, active, created_at`

func (s *Store) CreateUsageRewardRule(ctx context.Context, r *core.UsageRewardRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	rewardGroupIDs, err := marshalJSON(r.RewardGroupIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO usage_reward_rules (`+usageRewardRuleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ChildID, r.Name, r.TriggerType, r.ThresholdMinutes, r.TargetGroupID,
		nullInt(r.StreakDays), r.RewardMinutes, rewardGroupIDs, r.Active, r.CreatedAt)
	return err
}

func (s *Store) ListActiveUsageRewardRules(ctx context.Context) ([]*core.UsageRewardRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+usageRewardRuleColumns+` FROM usage_reward_rules WHERE active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.UsageRewardRule
	for rows.Next() {
		var r core.UsageRewardRule
		var streakDays sql.NullInt64
		var rewardGroupIDs string
		if err := rows.Scan(&r.ID, &r.ChildID, &r.Name, &r.TriggerType, &r.ThresholdMinutes, &r.TargetGroupID,
			&streakDays, &r.RewardMinutes, &rewardGroupIDs, &r.Active, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(rewardGroupIDs, &r.RewardGroupIDs); err != nil {
			return nil, err
		}
		r.StreakDays = intPtr(streakDays)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) GetUsageRewardLog(ctx context.Context, ruleID string, date time.Time) (*core.UsageRewardLog, error) {
	var l core.UsageRewardLog
	err := s.db.QueryRowContext(ctx, `
		SELECT id, rule_id, child_id, evaluated_date, usage_minutes, threshold_minutes, rewarded, generated_tan_id, created_at
		FROM usage_reward_logs WHERE rule_id = ? AND evaluated_date = date(?)`,
		ruleID, date.Format("2006-01-02")).Scan(&l.ID, &l.RuleID, &l.ChildID, &l.EvaluatedDate,
		&l.UsageMinutes, &l.ThresholdMinutes, &l.Rewarded, &l.GeneratedTanID, &l.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &l, nil
}

func (s *Store) CreateUsageRewardLog(ctx context.Context, l *core.UsageRewardLog) error {
	if err := l.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO usage_reward_logs
			(id, rule_id, child_id, evaluated_date, usage_minutes, threshold_minutes, rewarded, generated_tan_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.RuleID, l.ChildID, l.EvaluatedDate.Format("2006-01-02"), l.UsageMinutes,
		l.ThresholdMinutes, l.Rewarded, l.GeneratedTanID, l.CreatedAt)
	return err
}
