package powerup

import (
	"errors"

	"github.com/splax/pwnarena/internal/service/allocation"
)

// Outcomes of a use attempt that callers are expected to branch on.
var (
	ErrInvalidKind      = errors.New("unknown powerup")
	ErrPowerupInactive  = allocation.ErrPowerupInactive
	ErrNoUsesLeft       = allocation.ErrNoUsesLeft
	ErrTeamNotFound     = errors.New("team not found")
	ErrTargetNotFound   = errors.New("target team not found")
	ErrInvalidTarget    = errors.New("a team cannot target itself")
	ErrTargetShielded   = errors.New("target team is shielded")
	ErrAlreadyShielded  = errors.New("shield already active")
	ErrAlreadyActive    = errors.New("powerup already active")
	ErrTransientFailure = errors.New("powerup use could not be completed, try again")
)

// Code maps an error onto the stable identifier exposed to clients. Errors
// outside the known set map to "internal".
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidKind):
		return "invalid_kind"
	case errors.Is(err, ErrPowerupInactive):
		return "powerup_inactive"
	case errors.Is(err, ErrNoUsesLeft):
		return "no_uses_left"
	case errors.Is(err, ErrTeamNotFound):
		return "team_not_found"
	case errors.Is(err, ErrTargetNotFound):
		return "target_not_found"
	case errors.Is(err, ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, ErrTargetShielded):
		return "target_shielded"
	case errors.Is(err, ErrAlreadyShielded):
		return "already_shielded"
	case errors.Is(err, ErrAlreadyActive):
		return "already_active"
	case errors.Is(err, ErrTransientFailure):
		return "transient_failure"
	default:
		return "internal"
	}
}
