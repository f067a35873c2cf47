package sqlite

import (
	"context"
	"database/sql"
	"time"

	"heimdall/internal/core"
	"heimdall/internal/storage"
)

const tanColumns = `id, child_id, code, type, scope_groups, scope_devices, value_minutes, value_unlock_until,
	expires_at, single_use, source, source_quest_id, status, redeemed_at, created_at`

func scanTAN(row interface{ Scan(...any) error }) (*core.TAN, error) {
	var t core.TAN
	var scopeGroups, scopeDevices string
	var valueMinutes sql.NullInt64
	var valueUnlockUntil, redeemedAt sql.NullTime
	err := row.Scan(&t.ID, &t.ChildID, &t.Code, &t.Type, &scopeGroups, &scopeDevices, &valueMinutes,
		&valueUnlockUntil, &t.ExpiresAt, &t.SingleUse, &t.Source, &t.SourceQuestID, &t.Status, &redeemedAt, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := unmarshalJSON(scopeGroups, &t.ScopeGroups); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(scopeDevices, &t.ScopeDevices); err != nil {
		return nil, err
	}
	t.ValueMinutes = intPtr(valueMinutes)
	t.ValueUnlockUntil = timePtr(valueUnlockUntil)
	t.RedeemedAt = timePtr(redeemedAt)
	return &t, nil
}

func (s *Store) CreateTAN(ctx context.Context, t *core.TAN) error {
	if err := t.Validate(); err != nil {
		return err
	}
	scopeGroups, err := marshalJSON(t.ScopeGroups)
	if err != nil {
		return err
	}
	scopeDevices, err := marshalJSON(t.ScopeDevices)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tans (`+tanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ChildID, t.Code, t.Type, scopeGroups, scopeDevices, nullInt(t.ValueMinutes),
		nullTime(t.ValueUnlockUntil), t.ExpiresAt, t.SingleUse, t.Source, t.SourceQuestID, t.Status,
		nullTime(t.RedeemedAt), t.CreatedAt)
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

func (s *Store) GetTANByCode(ctx context.Context, code string) (*core.TAN, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tanColumns+` FROM tans WHERE code = ?`, code)
	return scanTAN(row)
}

func (s *Store) GetTAN(ctx context.Context, id string) (*core.TAN, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tanColumns+` FROM tans WHERE id = ?`, id)
	return scanTAN(row)
}

// UpdateTAN performs a compare-and-set on status: the WHERE clause only
// matches a row that is still active, so two concurrent redemption
// attempts cannot both report success for the same TAN.
func (s *Store) UpdateTAN(ctx context.Context, t *core.TAN) error {
	if err := t.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tans SET status = ?, redeemed_at = ? WHERE id = ? AND status = ?`,
		t.Status, nullTime(t.RedeemedAt), t.ID, core.TanStatusActive)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListActiveChildTANs(ctx context.Context, childID string, now time.Time) ([]*core.TAN, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tanColumns+` FROM tans WHERE child_id = ? AND status = ? AND expires_at > ?`,
		childID, core.TanStatusActive, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.TAN
	for rows.Next() {
		t, err := scanTAN(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CountChildRedeemedTANsOnDate(ctx context.Context, childID string, date time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tans WHERE child_id = ? AND status = ? AND date(redeemed_at) = date(?)`,
		childID, core.TanStatusRedeemed, date).Scan(&n)
	return n, err
}

func (s *Store) SumChildRedeemedMinutesOnDate(ctx context.Context, childID string, date time.Time) (int, error) {
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(value_minutes) FROM tans
		WHERE child_id = ? AND status = ? AND type = ? AND date(redeemed_at) = date(?)`,
		childID, core.TanStatusRedeemed, core.TanTypeTime, date).Scan(&n)
	if err != nil {
		return 0, err
	}
	return int(n.Int64), nil
}

func (s *Store) DeleteExpiredTANsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tans WHERE status IN (?, ?) AND created_at < ?`,
		core.TanStatusRedeemed, core.TanStatusExpired, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- TAN schedules ---

const tanScheduleColumns = `id, child_id, name, recurrence, tan_type, value_minutes, scope_groups,
	scope_devices, expires_after_hours, active, created_at`

func scanTanSchedule(row interface{ Scan(...any) error }) (*core.TanSchedule, error) {
	var sch core.TanSchedule
	var scopeGroups, scopeDevices string
	var valueMinutes sql.NullInt64
	err := row.Scan(&sch.ID, &sch.ChildID, &sch.Name, &sch.Recurrence, &sch.TanType, &valueMinutes,
		&scopeGroups, &scopeDevices, &sch.ExpiresAfterHours, &sch.Active, &sch.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := unmarshalJSON(scopeGroups, &sch.ScopeGroups); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(scopeDevices, &sch.ScopeDevices); err != nil {
		return nil, err
	}
	sch.ValueMinutes = intPtr(valueMinutes)
	return &sch, nil
}

func (s *Store) CreateTanSchedule(ctx context.Context, sch *core.TanSchedule) error {
	if err := sch.Validate(); err != nil {
		return err
	}
	scopeGroups, err := marshalJSON(sch.ScopeGroups)
	if err != nil {
		return err
	}
	scopeDevices, err := marshalJSON(sch.ScopeDevices)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tan_schedules (`+tanScheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sch.ID, sch.ChildID, sch.Name, sch.Recurrence, sch.TanType, nullInt(sch.ValueMinutes),
		scopeGroups, scopeDevices, sch.ExpiresAfterHours, sch.Active, sch.CreatedAt)
	return err
}

func (s *Store) ListActiveTanSchedules(ctx context.Context) ([]*core.TanSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tanScheduleColumns+` FROM tan_schedules WHERE active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.TanSchedule
	for rows.Next() {
		sch, err := scanTanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

func (s *Store) HasTanScheduleLog(ctx context.Context, scheduleID string, date time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tan_schedule_logs WHERE schedule_id = ? AND date = date(?)`,
		scheduleID, date.Format("2006-01-02")).Scan(&n)
	return n > 0, err
}

func (s *Store) CreateTanScheduleLog(ctx context.Context, l *core.TanScheduleLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO tan_schedule_logs (id, schedule_id, date, generated_tan_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.ScheduleID, l.Date.Format("2006-01-02"), l.GeneratedTanID, l.CreatedAt)
	return err
}
