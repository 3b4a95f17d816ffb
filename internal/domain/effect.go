package domain

import "time"

// TemporalEffect is an applied powerup effect with an optional validity window.
// Rows are never removed on expiry; activity is always evaluated against a timestamp.
type TemporalEffect struct {
	ID            string
	OwnerTeamID   string
	TargetTeamID  *string
	Kind          PowerupKind
	AppliedAt     time.Time
	ExpiresAt     *time.Time
	UntilConsumed bool
	ConsumedAt    *time.Time
	// PointDelta is the balance change applied to the target team.
	PointDelta int64
	Detail     string
}

// ActiveAt reports whether the effect is in force at t. Instantaneous effects
// (no expiry, not one-shot) are never active.
func (e TemporalEffect) ActiveAt(t time.Time) bool {
	if e.ConsumedAt != nil && !t.Before(*e.ConsumedAt) {
		return false
	}
	if e.ExpiresAt != nil {
		return t.Before(*e.ExpiresAt)
	}
	return e.UntilConsumed
}

// Subject returns the team an effect of this kind is keyed on.
func (e TemporalEffect) Subject() string {
	if e.Kind.Protective() && e.TargetTeamID != nil {
		return *e.TargetTeamID
	}
	return e.OwnerTeamID
}

// Involves reports whether the team owns or is targeted by the effect.
func (e TemporalEffect) Involves(teamID string) bool {
	if e.OwnerTeamID == teamID {
		return true
	}
	return e.TargetTeamID != nil && *e.TargetTeamID == teamID
}
