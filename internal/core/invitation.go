package core

import "time"

// FamilyInvitation is a single-use code inviting a new user into a family,
// defaulting to a 7-day expiry.
type FamilyInvitation struct {
	ID        string
	FamilyID  string
	Code      string
	Role      Role
	CreatedBy string
	ExpiresAt time.Time
	UsedBy    string
	UsedAt    *time.Time
}

// DefaultInvitationTTL is the default lifetime of a FamilyInvitation.
const DefaultInvitationTTL = 7 * 24 * time.Hour

func (i *FamilyInvitation) Validate() error {
	if i.ID == "" {
		return ErrMissingID
	}
	if i.FamilyID == "" {
		return ErrMissingFamilyID
	}
	if i.Code == "" {
		return ErrMissingCode
	}
	switch i.Role {
	case RoleParent, RoleChild:
	default:
		return ErrInvalidRole
	}
	if (i.UsedBy != "") != (i.UsedAt != nil) {
		return ErrInvalidStatus
	}
	return nil
}

// RefreshToken is a rotated credential tying a user session to a hashed
// bearer token.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

func (t *RefreshToken) Validate() error {
	if t.ID == "" {
		return ErrMissingID
	}
	if t.UserID == "" {
		return ErrMissingID
	}
	if t.TokenHash == "" {
		return ErrMissingCode
	}
	return nil
}
