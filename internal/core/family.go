package core

import "time"

// Family is the top-level tenancy boundary: one per registered parent
// cluster. Deleting a Family cascades to every entity scoped by FamilyID.
type Family struct {
	ID        string
	Name      string
	Timezone  string // IANA zone, e.g. "Europe/Berlin"
	Settings  map[string]any
	CreatedAt time.Time
}

// Validate checks structural invariants that do not require a storage
// round trip (uniqueness is enforced at the storage layer).
func (f *Family) Validate() error {
	if f.ID == "" {
		return ErrMissingID
	}
	if f.Name == "" {
		return ErrMissingName
	}
	if f.Timezone == "" {
		return ErrMissingTimezone
	}
	if _, err := time.LoadLocation(f.Timezone); err != nil {
		return err
	}
	return nil
}
