package sqlite

import (
	"context"

	"heimdall/internal/core"
	"heimdall/internal/storage"
)

const appGroupColumns = `id, child_id, name, category, risk_level, always_allowed, tan_allowed, max_tan_bonus_per_day, icon, color, created_at`

func scanAppGroup(row interface{ Scan(...any) error }) (*core.AppGroup, error) {
	var g core.AppGroup
	err := row.Scan(&g.ID, &g.ChildID, &g.Name, &g.Category, &g.RiskLevel, &g.AlwaysAllowed,
		&g.TanAllowed, &g.MaxTanBonusPerDay, &g.Icon, &g.Color, &g.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &g, nil
}

func (s *Store) CreateAppGroup(ctx context.Context, g *core.AppGroup) error {
	if err := g.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_groups (`+appGroupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.ChildID, g.Name, g.Category, g.RiskLevel, g.AlwaysAllowed,
		g.TanAllowed, g.MaxTanBonusPerDay, g.Icon, g.Color, g.CreatedAt)
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

func (s *Store) GetAppGroup(ctx context.Context, id string) (*core.AppGroup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+appGroupColumns+` FROM app_groups WHERE id = ?`, id)
	return scanAppGroup(row)
}

func (s *Store) ListChildAppGroups(ctx context.Context, childID string) ([]*core.AppGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+appGroupColumns+` FROM app_groups WHERE child_id = ? ORDER BY created_at`, childID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.AppGroup
	for rows.Next() {
		g, err := scanAppGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAppGroup(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM app_groups WHERE id = ?`, id)
	return err
}

func (s *Store) CreateAppGroupApp(ctx context.Context, a *core.AppGroupApp) error {
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_group_apps (id, group_id, app_name, app_package, app_executable, platform)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.GroupID, a.AppName, a.AppPackage, a.AppExecutable, a.Platform)
	return err
}

func (s *Store) ListGroupApps(ctx context.Context, groupID string) ([]*core.AppGroupApp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, app_name, app_package, app_executable, platform
		FROM app_group_apps WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.AppGroupApp
	for rows.Next() {
		var a core.AppGroupApp
		if err := rows.Scan(&a.ID, &a.GroupID, &a.AppName, &a.AppPackage, &a.AppExecutable, &a.Platform); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
