package sqlite

import (
	"context"
	"database/sql"
	"time"

	"heimdall/internal/core"
)

const questTemplateColumns = `id, family_id, name, category, reward_minutes, tan_groups, proof_type,
	ai_verify, recurrence, auto_detect_app, auto_detect_minutes, streak_threshold, active, created_at`

func scanQuestTemplate(row interface{ Scan(...any) error }) (*core.QuestTemplate, error) {
	var t core.QuestTemplate
	var tanGroups string
	var autoDetectMinutes, streakThreshold sql.NullInt64
	err := row.Scan(&t.ID, &t.FamilyID, &t.Name, &t.Category, &t.RewardMinutes, &tanGroups, &t.ProofType,
		&t.AiVerify, &t.Recurrence, &t.AutoDetectApp, &autoDetectMinutes, &streakThreshold, &t.Active, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := unmarshalJSON(tanGroups, &t.TanGroups); err != nil {
		return nil, err
	}
	t.AutoDetectMinutes = intPtr(autoDetectMinutes)
	t.StreakThreshold = intPtr(streakThreshold)
	return &t, nil
}

func (s *Store) CreateQuestTemplate(ctx context.Context, t *core.QuestTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	tanGroups, err := marshalJSON(t.TanGroups)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quest_templates (`+questTemplateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.FamilyID, t.Name, t.Category, t.RewardMinutes, tanGroups, t.ProofType,
		t.AiVerify, t.Recurrence, t.AutoDetectApp, nullInt(t.AutoDetectMinutes), nullInt(t.StreakThreshold), t.Active, t.CreatedAt)
	return err
}

func (s *Store) GetQuestTemplate(ctx context.Context, id string) (*core.QuestTemplate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questTemplateColumns+` FROM quest_templates WHERE id = ?`, id)
	return scanQuestTemplate(row)
}

func (s *Store) ListActiveQuestTemplates(ctx context.Context, familyID string) ([]*core.QuestTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+questTemplateColumns+` FROM quest_templates WHERE family_id = ? AND active = 1`, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectQuestTemplates(rows)
}

func (s *Store) ListAllActiveQuestTemplates(ctx context.Context) ([]*core.QuestTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+questTemplateColumns+` FROM quest_templates WHERE active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectQuestTemplates(rows)
}

func collectQuestTemplates(rows *sql.Rows) ([]*core.QuestTemplate, error) {
	var out []*core.QuestTemplate
	for rows.Next() {
		t, err := scanQuestTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const questInstanceColumns = `id, template_id, child_id, status, claimed_at, proof_url, reviewed_by,
	reviewed_at, generated_tan_id, created_at`

func scanQuestInstance(row interface{ Scan(...any) error }) (*core.QuestInstance, error) {
	var i core.QuestInstance
	var claimedAt, reviewedAt sql.NullTime
	err := row.Scan(&i.ID, &i.TemplateID, &i.ChildID, &i.Status, &claimedAt, &i.ProofURL, &i.ReviewedBy,
		&reviewedAt, &i.GeneratedTanID, &i.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	i.ClaimedAt = timePtr(claimedAt)
	i.ReviewedAt = timePtr(reviewedAt)
	return &i, nil
}

func (s *Store) CreateQuestInstance(ctx context.Context, i *core.QuestInstance) error {
	if err := i.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quest_instances (`+questInstanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.TemplateID, i.ChildID, i.Status, nullTime(i.ClaimedAt), i.ProofURL, i.ReviewedBy,
		nullTime(i.ReviewedAt), i.GeneratedTanID, i.CreatedAt)
	return err
}

func (s *Store) GetQuestInstance(ctx context.Context, id string) (*core.QuestInstance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questInstanceColumns+` FROM quest_instances WHERE id = ?`, id)
	return scanQuestInstance(row)
}

func (s *Store) UpdateQuestInstance(ctx context.Context, i *core.QuestInstance) error {
	if err := i.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE quest_instances SET status = ?, claimed_at = ?, proof_url = ?, reviewed_by = ?,
			reviewed_at = ?, generated_tan_id = ?
		WHERE id = ?`,
		i.Status, nullTime(i.ClaimedAt), i.ProofURL, i.ReviewedBy, nullTime(i.ReviewedAt), i.GeneratedTanID, i.ID)
	return err
}

func (s *Store) HasQuestInstanceSince(ctx context.Context, templateID, childID string, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM quest_instances WHERE template_id = ? AND child_id = ? AND created_at >= ?`,
		templateID, childID, since).Scan(&n)
	return n > 0, err
}
