package core

import "time"

// ProofType selects how a QuestInstance's completion is substantiated.
type ProofType string

const (
	ProofPhoto         ProofType = "photo"
	ProofScreenshot    ProofType = "screenshot"
	ProofParentConfirm ProofType = "parent_confirm"
	ProofAuto          ProofType = "auto"
	ProofChecklist     ProofType = "checklist"
)

// QuestRecurrence selects how often a QuestTemplate spawns instances.
type QuestRecurrence string

const (
	QuestDaily      QuestRecurrence = "daily"
	QuestWeekly     QuestRecurrence = "weekly"
	QuestSchoolDays QuestRecurrence = "school_days"
	QuestOnce       QuestRecurrence = "once"
)

// QuestTemplate is a parent-managed, reusable quest definition that the
// quest engine instantiates into QuestInstances on its recurrence.
type QuestTemplate struct {
	ID                string
	FamilyID          string
	Name              string
	Category          string
	RewardMinutes     int
	TanGroups         []string
	ProofType         ProofType
	AiVerify          bool
	Recurrence        QuestRecurrence
	AutoDetectApp     string
	AutoDetectMinutes *int
	StreakThreshold   *int
	Active            bool
	CreatedAt         time.Time
}

func (q *QuestTemplate) Validate() error {
	if q.ID == "" {
		return ErrMissingID
	}
	if q.FamilyID == "" {
		return ErrMissingFamilyID
	}
	if q.Name == "" {
		return ErrMissingName
	}
	if q.RewardMinutes < 0 {
		return ErrNegativeMinutes
	}
	switch q.ProofType {
	case ProofPhoto, ProofScreenshot, ProofParentConfirm, ProofAuto, ProofChecklist:
	default:
		return ErrInvalidProofType
	}
	switch q.Recurrence {
	case QuestDaily, QuestWeekly, QuestSchoolDays, QuestOnce:
	default:
		return ErrInvalidRecurrence
	}
	return nil
}

// QuestStatus is a QuestInstance's position in its state machine:
// available -> claimed -> pending_review -> (approved | rejected), the
// last two terminal.
type QuestStatus string

const (
	QuestAvailable     QuestStatus = "available"
	QuestClaimed       QuestStatus = "claimed"
	QuestPendingReview QuestStatus = "pending_review"
	QuestApproved      QuestStatus = "approved"
	QuestRejected      QuestStatus = "rejected"
)

// questStatusOrder gives each status its position for monotonic transition
// checks, except that approved/rejected are both reachable only from
// pending_review and are mutually terminal.
var questStatusOrder = map[QuestStatus]int{
	QuestAvailable:     0,
	QuestClaimed:       1,
	QuestPendingReview: 2,
	QuestApproved:      3,
	QuestRejected:      3,
}

// CanTransition reports whether moving from this status to next is a valid,
// monotonic QuestInstance state transition.
func CanTransition(from, to QuestStatus) bool {
	if from == QuestApproved || from == QuestRejected {
		return false
	}
	fromOrder, ok := questStatusOrder[from]
	if !ok {
		return false
	}
	toOrder, ok := questStatusOrder[to]
	if !ok {
		return false
	}
	if to == QuestApproved || to == QuestRejected {
		return from == QuestPendingReview
	}
	return toOrder == fromOrder+1
}

// QuestInstance is one occurrence of a QuestTemplate claimed (or available
// to claim) by a specific child.
type QuestInstance struct {
	ID              string
	TemplateID      string
	ChildID         string
	Status          QuestStatus
	ClaimedAt       *time.Time
	ProofURL        string
	ReviewedBy      string
	ReviewedAt      *time.Time
	GeneratedTanID  string
	CreatedAt       time.Time
}

func (i *QuestInstance) Validate() error {
	if i.ID == "" {
		return ErrMissingID
	}
	if i.TemplateID == "" {
		return ErrMissingID
	}
	if i.ChildID == "" {
		return ErrMissingChildID
	}
	switch i.Status {
	case QuestAvailable, QuestClaimed, QuestPendingReview, QuestApproved, QuestRejected:
	default:
		return ErrInvalidStatus
	}
	if (i.Status == QuestApproved) != (i.GeneratedTanID != "") {
		return ErrInvalidStatus
	}
	return nil
}
