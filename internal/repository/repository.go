package repository

import (
	"context"
	"time"

	"github.com/splax/pwnarena/internal/domain"
)

// CatalogRepository persists powerup definitions.
type CatalogRepository interface {
	GetDefinition(ctx context.Context, kind domain.PowerupKind) (*domain.PowerupDefinition, error)
	ListDefinitions(ctx context.Context) ([]domain.PowerupDefinition, error)
	UpsertDefinition(ctx context.Context, def *domain.PowerupDefinition) error
}

// TeamRepository reads teams and mutates their point balances.
type TeamRepository interface {
	GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error)
	GetTeamByName(ctx context.Context, name string) (*domain.Team, error)
	ListTeams(ctx context.Context) ([]domain.Team, error)
	// LockTeamPoints locks the balance rows of the given teams in id order and
	// returns their balances. ErrNotFound is returned when any team is missing.
	LockTeamPoints(ctx context.Context, teamIDs ...string) (map[string]int64, error)
	SetTeamPoints(ctx context.Context, teamID string, points int64) error
}

// AllocationRepository stores per-team remaining uses.
type AllocationRepository interface {
	// LockAllocation returns the allocation row locked for update, creating it with
	// seedUses first when absent.
	LockAllocation(ctx context.Context, teamID string, kind domain.PowerupKind, seedUses int) (*domain.TeamAllocation, error)
	GetAllocation(ctx context.Context, teamID string, kind domain.PowerupKind) (*domain.TeamAllocation, error)
	ListAllocations(ctx context.Context, teamID string) ([]domain.TeamAllocation, error)
	SetAllocationUses(ctx context.Context, teamID string, kind domain.PowerupKind, usesLeft int) error
}

// EffectRepository stores temporal effects.
type EffectRepository interface {
	InsertEffect(ctx context.Context, effect *domain.TemporalEffect) error
	// FindActiveEffect returns the oldest active effect of kind keyed on teamID.
	// Protective kinds match the target team, others the owner.
	FindActiveEffect(ctx context.Context, teamID string, kind domain.PowerupKind, asOf time.Time) (*domain.TemporalEffect, error)
	ListActiveEffects(ctx context.Context, teamID string, asOf time.Time) ([]domain.TemporalEffect, error)
	ListActiveEffectsByKind(ctx context.Context, kind domain.PowerupKind, asOf time.Time) ([]domain.TemporalEffect, error)
	ConsumeEffect(ctx context.Context, effectID string, at time.Time) error
}

// Store groups every row operation the engine needs. It is satisfied both by a
// connection pool and by an open transaction.
type Store interface {
	CatalogRepository
	TeamRepository
	AllocationRepository
	EffectRepository
}

// Transactor runs fn inside a single transaction: fn's error rolls everything
// back, a nil return commits.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(Store) error) error
}

// PowerupRepository is the full persistence surface of the powerup engine.
type PowerupRepository interface {
	Store
	Transactor
}
