package core

import "time"

// Role distinguishes parent and child accounts within a Family.
type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

// TotpMode selects which TAN/override interactions a child's TOTP secret
// gates.
type TotpMode string

const (
	TotpModeTan      TotpMode = "tan"
	TotpModeOverride TotpMode = "override"
	TotpModeBoth     TotpMode = "both"
)

// User is a parent or child account. Role is immutable once set.
type User struct {
	ID       string
	FamilyID string
	Role     Role
	Name     string

	// Parent-only fields.
	Email        string
	PasswordHash string

	// Child-only fields.
	PinHash            string
	TotpSecret         string
	TotpEnabled        bool
	TotpMode           TotpMode
	TotpTanMinutes     int
	TotpOverrideMinutes int

	CreatedAt time.Time
}

// Validate checks structural invariants. Uniqueness of Email across the
// family is enforced at the storage layer.
func (u *User) Validate() error {
	if u.ID == "" {
		return ErrMissingID
	}
	if u.FamilyID == "" {
		return ErrMissingFamilyID
	}
	if u.Name == "" {
		return ErrMissingName
	}
	switch u.Role {
	case RoleParent:
		if u.PinHash != "" {
			return ErrInvalidRole
		}
	case RoleChild:
		if u.Email != "" {
			return ErrInvalidRole
		}
		if u.TotpEnabled {
			switch u.TotpMode {
			case TotpModeTan, TotpModeOverride, TotpModeBoth:
			default:
				return ErrInvalidRole
			}
		}
	default:
		return ErrInvalidRole
	}
	return nil
}

// IsChild reports whether this user is a child account.
func (u *User) IsChild() bool { return u.Role == RoleChild }
