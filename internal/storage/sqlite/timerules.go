package sqlite

import (
	"context"
	"database/sql"
	"time"

	"heimdall/internal/core"
)

const timeRuleColumns = `id, child_id, name, target_type, target_id, day_types, time_windows,
	daily_limit_minutes, group_limits, priority, active, valid_from, valid_until, created_at`

func scanTimeRule(row interface{ Scan(...any) error }) (*core.TimeRule, error) {
	var r core.TimeRule
	var dayTypes, timeWindows, groupLimits string
	var dailyLimit sql.NullInt64
	var validFrom, validUntil sql.NullTime
	err := row.Scan(&r.ID, &r.ChildID, &r.Name, &r.TargetType, &r.TargetID, &dayTypes, &timeWindows,
		&dailyLimit, &groupLimits, &r.Priority, &r.Active, &validFrom, &validUntil, &r.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := unmarshalJSON(dayTypes, &r.DayTypes); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(timeWindows, &r.TimeWindows); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(groupLimits, &r.GroupLimits); err != nil {
		return nil, err
	}
	r.DailyLimitMinutes = intPtr(dailyLimit)
	r.ValidFrom = timePtr(validFrom)
	r.ValidUntil = timePtr(validUntil)
	return &r, nil
}

func (s *Store) CreateTimeRule(ctx context.Context, r *core.TimeRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return s.writeTimeRule(ctx, r, true)
}

func (s *Store) UpdateTimeRule(ctx context.Context, r *core.TimeRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return s.writeTimeRule(ctx, r, false)
}

func (s *Store) writeTimeRule(ctx context.Context, r *core.TimeRule, insert bool) error {
	dayTypes, err := marshalJSON(r.DayTypes)
	if err != nil {
		return err
	}
	timeWindows, err := marshalJSON(r.TimeWindows)
	if err != nil {
		return err
	}
	groupLimits, err := marshalJSON(r.GroupLimits)
	if err != nil {
		return err
	}

	if insert {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO time_rules (`+timeRuleColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.ChildID, r.Name, r.TargetType, r.TargetID, dayTypes, timeWindows,
			nullInt(r.DailyLimitMinutes), groupLimits, r.Priority, r.Active,
			nullTime(r.ValidFrom), nullTime(r.ValidUntil), r.CreatedAt)
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE time_rules SET name = ?, target_type = ?, target_id = ?, day_types = ?, time_windows = ?,
			daily_limit_minutes = ?, group_limits = ?, priority = ?, active = ?, valid_from = ?, valid_until = ?
		WHERE id = ?`,
		r.Name, r.TargetType, r.TargetID, dayTypes, timeWindows,
		nullInt(r.DailyLimitMinutes), groupLimits, r.Priority, r.Active,
		nullTime(r.ValidFrom), nullTime(r.ValidUntil), r.ID)
	return err
}

func (s *Store) GetTimeRule(ctx context.Context, id string) (*core.TimeRule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+timeRuleColumns+` FROM time_rules WHERE id = ?`, id)
	return scanTimeRule(row)
}

func (s *Store) ListActiveChildRules(ctx context.Context, childID string) ([]*core.TimeRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+timeRuleColumns+` FROM time_rules WHERE child_id = ? AND active = 1 ORDER BY priority DESC`, childID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.TimeRule
	for rows.Next() {
		r, err := scanTimeRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Day type overrides ---

func scanDayTypeOverride(row interface{ Scan(...any) error }) (*core.DayTypeOverride, error) {
	var o core.DayTypeOverride
	err := row.Scan(&o.ID, &o.FamilyID, &o.Date, &o.DayType, &o.Label, &o.Source)
	if err != nil {
		return nil, mapErr(err)
	}
	return &o, nil
}

const dayTypeOverrideColumns = `id, family_id, date, day_type, label, source`

func (s *Store) GetDayTypeOverride(ctx context.Context, familyID string, date time.Time) (*core.DayTypeOverride, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+dayTypeOverrideColumns+` FROM day_type_overrides WHERE family_id = ? AND date = ?`,
		familyID, date.Format("2006-01-02"))
	return scanDayTypeOverride(row)
}

func (s *Store) CreateDayTypeOverride(ctx context.Context, o *core.DayTypeOverride) error {
	if err := o.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO day_type_overrides (`+dayTypeOverrideColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID, o.FamilyID, o.Date.Format("2006-01-02"), o.DayType, o.Label, o.Source)
	return err
}

func (s *Store) ListFamilyOverridesInRange(ctx context.Context, familyID string, from, to time.Time) ([]*core.DayTypeOverride, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+dayTypeOverrideColumns+` FROM day_type_overrides
		WHERE family_id = ? AND date BETWEEN ? AND ?`,
		familyID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.DayTypeOverride
	for rows.Next() {
		o, err := scanDayTypeOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
