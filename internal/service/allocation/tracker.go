// Package allocation owns the per-team remaining-uses counters. All mutations
// run against a repository.Store bound to the caller's transaction.
package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/splax/pwnarena/internal/domain"
	"github.com/splax/pwnarena/internal/repository"
)

var (
	// ErrPowerupInactive means the definition is missing or disabled.
	ErrPowerupInactive = errors.New("powerup not activated yet")
	// ErrNoUsesLeft means the team exhausted the kind.
	ErrNoUsesLeft = errors.New("max uses reached")

	errInvalidGrant = errors.New("bonus grant must be positive")
)

// Tracker admits or rejects use attempts.
type Tracker struct{}

// New constructs a Tracker.
func New() Tracker { return Tracker{} }

// TryConsume takes one use of kind for the team and returns the uses left
// afterwards. The allocation row stays locked until the transaction ends, so
// concurrent attempts on the same key observe each other's decrements.
func (Tracker) TryConsume(ctx context.Context, store repository.Store, teamID string, kind domain.PowerupKind) (int, error) {
	def, err := activeDefinition(ctx, store, kind)
	if err != nil {
		return 0, err
	}
	alloc, err := store.LockAllocation(ctx, teamID, kind, def.MaxUses)
	if err != nil {
		return 0, fmt.Errorf("lock allocation: %w", err)
	}
	if alloc.UsesLeft <= 0 {
		return 0, ErrNoUsesLeft
	}
	left := alloc.UsesLeft - 1
	if err := store.SetAllocationUses(ctx, teamID, kind, left); err != nil {
		return 0, fmt.Errorf("decrement allocation: %w", err)
	}
	return left, nil
}

// GrantBonus adds n uses of kind. Bonus uses may push the counter above the
// definition's max uses.
func (Tracker) GrantBonus(ctx context.Context, store repository.Store, teamID string, kind domain.PowerupKind, n int) (int, error) {
	if n <= 0 {
		return 0, errInvalidGrant
	}
	def, err := activeDefinition(ctx, store, kind)
	if err != nil {
		return 0, err
	}
	alloc, err := store.LockAllocation(ctx, teamID, kind, def.MaxUses)
	if err != nil {
		return 0, fmt.Errorf("lock allocation: %w", err)
	}
	total := alloc.UsesLeft + n
	if err := store.SetAllocationUses(ctx, teamID, kind, total); err != nil {
		return 0, fmt.Errorf("grant allocation: %w", err)
	}
	return total, nil
}

// UsesLeft reports the remaining uses without creating the row.
func (Tracker) UsesLeft(ctx context.Context, store repository.Store, teamID string, kind domain.PowerupKind) (int, error) {
	alloc, err := store.GetAllocation(ctx, teamID, kind)
	if err == nil {
		return alloc.UsesLeft, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return 0, err
	}
	def, err := store.GetDefinition(ctx, kind)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return def.MaxUses, nil
}

func activeDefinition(ctx context.Context, store repository.Store, kind domain.PowerupKind) (*domain.PowerupDefinition, error) {
	def, err := store.GetDefinition(ctx, kind)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPowerupInactive
		}
		return nil, err
	}
	if !def.IsActive {
		return nil, ErrPowerupInactive
	}
	return def, nil
}
