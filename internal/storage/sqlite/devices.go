package sqlite

import (
	"context"
	"database/sql"
	"time"

	"heimdall/internal/core"
	"heimdall/internal/storage"
)

const deviceColumns = `id, child_id, name, type, device_identifier, device_token_hash, status, last_seen, created_at`

func scanDevice(row interface{ Scan(...any) error }) (*core.Device, error) {
	var d core.Device
	var lastSeen sql.NullTime
	err := row.Scan(&d.ID, &d.ChildID, &d.Name, &d.Type, &d.DeviceIdentifier, &d.DeviceTokenHash, &d.Status, &lastSeen, &d.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if lastSeen.Valid {
		d.LastSeen = lastSeen.Time
	}
	return &d, nil
}

func (s *Store) CreateDevice(ctx context.Context, d *core.Device) error {
	if err := d.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ChildID, d.Name, d.Type, d.DeviceIdentifier, d.DeviceTokenHash, d.Status, nullTime(&d.LastSeen), d.CreatedAt)
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

func (s *Store) GetDevice(ctx context.Context, id string) (*core.Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	return scanDevice(row)
}

func (s *Store) GetDeviceByTokenHash(ctx context.Context, tokenHash string) (*core.Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_token_hash = ?`, tokenHash)
	return scanDevice(row)
}

func (s *Store) UpdateDevice(ctx context.Context, d *core.Device) error {
	if err := d.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE devices SET name = ?, status = ?, last_seen = ? WHERE id = ?`,
		d.Name, d.Status, nullTime(&d.LastSeen), d.ID)
	return err
}

func (s *Store) ListChildDevices(ctx context.Context, childID string) ([]*core.Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE child_id = ? ORDER BY created_at`, childID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) TouchDeviceLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE devices SET last_seen = ? WHERE id = ?`, at, id)
	return err
}

// --- Device couplings ---

func (s *Store) GetChildCoupling(ctx context.Context, childID string) (*core.DeviceCoupling, error) {
	var c core.DeviceCoupling
	var deviceIDs string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, child_id, device_ids, shared_budget, created_at FROM device_couplings WHERE child_id = ?`, childID,
	).Scan(&c.ID, &c.ChildID, &deviceIDs, &c.SharedBudget, &c.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := unmarshalJSON(deviceIDs, &c.DeviceIDs); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpsertCoupling(ctx context.Context, c *core.DeviceCoupling) error {
	if err := c.Validate(); err != nil {
		return err
	}
	deviceIDs, err := marshalJSON(c.DeviceIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO device_couplings (id, child_id, device_ids, shared_budget, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(child_id) DO UPDATE SET device_ids = excluded.device_ids, shared_budget = excluded.shared_budget`,
		c.ID, c.ChildID, deviceIDs, c.SharedBudget, c.CreatedAt)
	return err
}
