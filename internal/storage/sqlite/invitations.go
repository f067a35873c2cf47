package sqlite

import (
	"context"
	"database/sql"

	"heimdall/internal/core"
	"heimdall/internal/storage"
)

const invitationColumns = `id, family_id, code, role, created_by, expires_at, used_by, used_at`

func scanInvitation(row interface{ Scan(...any) error }) (*core.FamilyInvitation, error) {
	var inv core.FamilyInvitation
	var usedAt sql.NullTime
	err := row.Scan(&inv.ID, &inv.FamilyID, &inv.Code, &inv.Role, &inv.CreatedBy, &inv.ExpiresAt, &inv.UsedBy, &usedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	inv.UsedAt = timePtr(usedAt)
	return &inv, nil
}

func (s *Store) CreateFamilyInvitation(ctx context.Context, inv *core.FamilyInvitation) error {
	if err := inv.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO family_invitations (`+invitationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.FamilyID, inv.Code, inv.Role, inv.CreatedBy, inv.ExpiresAt, inv.UsedBy, nullTime(inv.UsedAt))
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

func (s *Store) GetFamilyInvitationByCode(ctx context.Context, code string) (*core.FamilyInvitation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM family_invitations WHERE code = ?`, code)
	return scanInvitation(row)
}

func (s *Store) UpdateFamilyInvitation(ctx context.Context, inv *core.FamilyInvitation) error {
	if err := inv.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE family_invitations SET used_by = ?, used_at = ? WHERE id = ?`,
		inv.UsedBy, nullTime(inv.UsedAt), inv.ID)
	return err
}

// --- Refresh tokens ---

func (s *Store) CreateRefreshToken(ctx context.Context, t *core.RefreshToken) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.Revoked, t.CreatedAt)
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

func (s *Store) GetRefreshTokenByHash(ctx context.Context, hash string) (*core.RefreshToken, error) {
	var t core.RefreshToken
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, expires_at, revoked, created_at FROM refresh_tokens WHERE token_hash = ?`, hash,
	).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.Revoked, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE id = ?`, id)
	return err
}
