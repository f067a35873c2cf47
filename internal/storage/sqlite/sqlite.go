// Package sqlite implements storage.Storage on top of database/sql and
// mattn/go-sqlite3: one struct wrapping *sql.DB, an inline CREATE TABLE IF
// NOT EXISTS migration, and one method pair per entity.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"heimdall/internal/core"
	"heimdall/internal/storage"
)

// Store implements storage.Storage using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (and migrates) a SQLite database at path.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// Ping reports whether the database connection is healthy.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func mapErr(err error) error {
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && (containsAny(err.Error(), "UNIQUE constraint failed", "constraint failed: UNIQUE"))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

// --- Families ---

func (s *Store) CreateFamily(ctx context.Context, f *core.Family) error {
	if err := f.Validate(); err != nil {
		return err
	}
	settings, err := marshalJSON(f.Settings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO families (id, name, timezone, settings, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.Name, f.Timezone, settings, f.CreatedAt)
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

func (s *Store) GetFamily(ctx context.Context, id string) (*core.Family, error) {
	var f core.Family
	var settings string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, timezone, settings, created_at FROM families WHERE id = ?`, id,
	).Scan(&f.ID, &f.Name, &f.Timezone, &settings, &f.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	f.Settings = map[string]any{}
	if err := unmarshalJSON(settings, &f.Settings); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) ListFamilies(ctx context.Context) ([]*core.Family, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, timezone, settings, created_at FROM families`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Family
	for rows.Next() {
		var f core.Family
		var settings string
		if err := rows.Scan(&f.ID, &f.Name, &f.Timezone, &settings, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Settings = map[string]any{}
		if err := unmarshalJSON(settings, &f.Settings); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, u *core.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, family_id, role, name, email, password_hash, pin_hash,
			totp_secret, totp_enabled, totp_mode, totp_tan_minutes, totp_override_minutes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.FamilyID, u.Role, u.Name, nullString(u.Email), u.PasswordHash, u.PinHash,
		u.TotpSecret, u.TotpEnabled, u.TotpMode, u.TotpTanMinutes, u.TotpOverrideMinutes, u.CreatedAt)
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func scanUser(row interface{ Scan(...any) error }) (*core.User, error) {
	var u core.User
	var email sql.NullString
	err := row.Scan(&u.ID, &u.FamilyID, &u.Role, &u.Name, &email, &u.PasswordHash, &u.PinHash,
		&u.TotpSecret, &u.TotpEnabled, &u.TotpMode, &u.TotpTanMinutes, &u.TotpOverrideMinutes, &u.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	u.Email = email.String
	return &u, nil
}

const userColumns = `id, family_id, role, name, email, password_hash, pin_hash,
	totp_secret, totp_enabled, totp_mode, totp_tan_minutes, totp_override_minutes, created_at`

func (s *Store) GetUser(ctx context.Context, id string) (*core.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, familyID, email string) (*core.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE family_id = ? AND email = ?`, familyID, email)
	return scanUser(row)
}

func (s *Store) UpdateUser(ctx context.Context, u *core.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET name = ?, email = ?, password_hash = ?, pin_hash = ?,
			totp_secret = ?, totp_enabled = ?, totp_mode = ?, totp_tan_minutes = ?, totp_override_minutes = ?
		WHERE id = ?`,
		u.Name, nullString(u.Email), u.PasswordHash, u.PinHash,
		u.TotpSecret, u.TotpEnabled, u.TotpMode, u.TotpTanMinutes, u.TotpOverrideMinutes, u.ID)
	return err
}

func (s *Store) ListFamilyUsers(ctx context.Context, familyID string) ([]*core.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE family_id = ? ORDER BY created_at`, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) ListFamilyChildren(ctx context.Context, familyID string) ([]*core.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE family_id = ? AND role = ? ORDER BY created_at`, familyID, core.RoleChild)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
