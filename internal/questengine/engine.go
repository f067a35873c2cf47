// Package questengine instantiates QuestTemplates into QuestInstances on
// their recurrence and reviews proof submissions, including an
// auto-approval carve-out for quests whose proof type requires no human
// review.
package questengine

import (
	"context"
	"errors"
	"time"

	"heimdall/internal/core"
	"heimdall/internal/idgen"
	"heimdall/internal/storage"
	"heimdall/internal/tan"
)

// ErrNotPending is returned when reviewing an instance that isn't in
// pending_review.
var ErrNotPending = errors.New("questengine: instance not pending review")

// ErrInvalidTransition is returned when a requested QuestInstance status
// change is not a valid monotonic transition.
var ErrInvalidTransition = errors.New("questengine: invalid status transition")

// Engine instantiates and reviews quests.
type Engine struct {
	store   storage.Storage
	tanEng  *tan.Engine
	clock   Clock
}

// Clock abstracts wall-clock access for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// RealClock is the production Clock.
var RealClock Clock = realClock{}

// New builds a quest Engine.
func New(store storage.Storage, tanEng *tan.Engine, clock Clock) *Engine {
	if clock == nil {
		clock = RealClock
	}
	return &Engine{store: store, tanEng: tanEng, clock: clock}
}

// InstantiateDue creates a QuestInstance for every active, recurring
// template whose recurrence matches today and that has no instance since
// 00:00 today for a given child. Weekly templates match when today's
// weekday equals the template's creation weekday; once templates are
// never auto-scheduled.
func (e *Engine) InstantiateDue(ctx context.Context, familyID string, dayType string, now time.Time) (int, error) {
	templates, err := e.store.ListActiveQuestTemplates(ctx, familyID)
	if err != nil {
		return 0, err
	}
	children, err := e.store.ListFamilyChildren(ctx, familyID)
	if err != nil {
		return 0, err
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	created := 0

	for _, tmpl := range templates {
		if !recurrenceMatchesToday(tmpl, dayType, now) {
			continue
		}
		for _, child := range children {
			exists, err := e.store.HasQuestInstanceSince(ctx, tmpl.ID, child.ID, midnight)
			if err != nil {
				return created, err
			}
			if exists {
				continue
			}
			instance := &core.QuestInstance{
				ID:         idgen.NewQuestInstance(),
				TemplateID: tmpl.ID,
				ChildID:    child.ID,
				Status:     core.QuestAvailable,
				CreatedAt:  now,
			}
			if err := e.store.CreateQuestInstance(ctx, instance); err != nil {
				return created, err
			}
			created++
		}
	}
	return created, nil
}

func recurrenceMatchesToday(tmpl *core.QuestTemplate, dayType string, now time.Time) bool {
	switch tmpl.Recurrence {
	case core.QuestDaily:
		return true
	case core.QuestSchoolDays:
		return dayType == "weekday"
	case core.QuestWeekly:
		return now.Weekday() == tmpl.CreatedAt.Weekday()
	case core.QuestOnce:
		return false
	default:
		return false
	}
}

// Claim transitions an available instance to claimed.
func (e *Engine) Claim(ctx context.Context, instanceID string) (*core.QuestInstance, error) {
	inst, err := e.store.GetQuestInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if !core.CanTransition(inst.Status, core.QuestClaimed) {
		return nil, ErrInvalidTransition
	}
	now := e.clock.Now()
	inst.Status = core.QuestClaimed
	inst.ClaimedAt = &now
	if err := e.store.UpdateQuestInstance(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// SubmitProof transitions a claimed instance to pending_review, unless the
// template's proof_type is "auto" and the agent-reported usage satisfies
// the auto-detect thresholds, in which case it is approved immediately.
func (e *Engine) SubmitProof(ctx context.Context, instanceID, proofURL string, autoDetectedMinutes int) (*core.QuestInstance, error) {
	inst, err := e.store.GetQuestInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if !core.CanTransition(inst.Status, core.QuestPendingReview) {
		return nil, ErrInvalidTransition
	}

	tmpl, err := e.templateFor(ctx, inst)
	if err != nil {
		return nil, err
	}

	inst.ProofURL = proofURL

	if tmpl.ProofType == core.ProofAuto && tmpl.AutoDetectMinutes != nil && autoDetectedMinutes >= *tmpl.AutoDetectMinutes {
		return e.approve(ctx, inst, tmpl, "auto")
	}

	inst.Status = core.QuestPendingReview
	if err := e.store.UpdateQuestInstance(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Review approves or rejects a pending_review instance. approved=false
// sets status rejected; approved=true mints a reward TAN for the child
// and sets generated_tan_id.
func (e *Engine) Review(ctx context.Context, instanceID, reviewerID string, approved bool) (*core.QuestInstance, error) {
	inst, err := e.store.GetQuestInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != core.QuestPendingReview {
		return nil, ErrNotPending
	}

	tmpl, err := e.templateFor(ctx, inst)
	if err != nil {
		return nil, err
	}

	if !approved {
		now := e.clock.Now()
		inst.Status = core.QuestRejected
		inst.ReviewedBy = reviewerID
		inst.ReviewedAt = &now
		if err := e.store.UpdateQuestInstance(ctx, inst); err != nil {
			return nil, err
		}
		return inst, nil
	}

	return e.approve(ctx, inst, tmpl, reviewerID)
}

func (e *Engine) approve(ctx context.Context, inst *core.QuestInstance, tmpl *core.QuestTemplate, reviewerID string) (*core.QuestInstance, error) {
	now := e.clock.Now()

	value := tmpl.RewardMinutes
	t := &core.TAN{
		ID:           idgen.NewTAN(),
		ChildID:      inst.ChildID,
		Type:         core.TanTypeTime,
		ScopeGroups:  tmpl.TanGroups,
		ValueMinutes: &value,
		ExpiresAt:    now.Add(24 * time.Hour),
		SingleUse:    true,
		Source:       core.TanSourceQuest,
		SourceQuestID: inst.TemplateID,
		Status:       core.TanStatusActive,
		CreatedAt:    now,
	}
	if err := e.tanEng.Create(ctx, t); err != nil {
		return nil, err
	}

	inst.Status = core.QuestApproved
	inst.ReviewedBy = reviewerID
	inst.ReviewedAt = &now
	inst.GeneratedTanID = t.ID
	if err := e.store.UpdateQuestInstance(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (e *Engine) templateFor(ctx context.Context, inst *core.QuestInstance) (*core.QuestTemplate, error) {
	return e.store.GetQuestTemplate(ctx, inst.TemplateID)
}
