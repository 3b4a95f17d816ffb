package domain

import (
	"strings"
	"time"
)

// PowerupKind enumerates the closed set of powerups.
type PowerupKind string

const (
	KindLuckyDraw PowerupKind = "lucky_draw"
	KindShield    PowerupKind = "shield"
	KindSabotage  PowerupKind = "sabotage"
	KindAirstrike PowerupKind = "airstrike"
	KindGamble    PowerupKind = "gamble"
	KindSiphon    PowerupKind = "siphon"
)

// Kinds lists every powerup kind in a stable order.
var Kinds = []PowerupKind{
	KindLuckyDraw,
	KindShield,
	KindSabotage,
	KindAirstrike,
	KindGamble,
	KindSiphon,
}

// ParseKind resolves a raw kind name.
func ParseKind(raw string) (PowerupKind, bool) {
	kind := PowerupKind(strings.ToLower(strings.TrimSpace(raw)))
	if !kind.Valid() {
		return "", false
	}
	return kind, true
}

// Valid reports whether k belongs to the enumeration.
func (k PowerupKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Protective kinds are looked up by the team they protect (the target) rather
// than by the team that cast them.
func (k PowerupKind) Protective() bool {
	return k == KindShield
}

func (k PowerupKind) String() string { return string(k) }

// PowerupDefinition is the administered catalog entry for a kind.
type PowerupDefinition struct {
	Kind        PowerupKind `json:"kind" yaml:"kind"`
	Cost        int         `json:"cost" yaml:"cost"`
	MaxUses     int         `json:"max_uses" yaml:"max_uses"`
	IsActive    bool        `json:"is_active" yaml:"is_active"`
	Description string      `json:"description" yaml:"description"`
	UpdatedAt   time.Time   `json:"updated_at" yaml:"-"`
}

// TeamAllocation tracks the remaining uses of a kind for a team.
type TeamAllocation struct {
	TeamID    string
	Kind      PowerupKind
	UsesLeft  int
	CreatedAt time.Time
	UpdatedAt time.Time
}
