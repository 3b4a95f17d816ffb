package domain

import "time"

// UseEvent describes a committed powerup use for downstream consumers.
type UseEvent struct {
	ID           string      `json:"id"`
	TeamID       string      `json:"team_id"`
	TargetTeamID string      `json:"target_team_id,omitempty"`
	Kind         PowerupKind `json:"kind"`
	EffectID     string      `json:"effect_id,omitempty"`
	PointDelta   int64       `json:"point_delta"`
	Message      string      `json:"message"`
	OccurredAt   time.Time   `json:"occurred_at"`
}
