package effects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/splax/pwnarena/internal/domain"
	"github.com/splax/pwnarena/internal/repository"
)

var errInvalidWindow = errors.New("effect must expire after it is applied")

// Record describes an effect to persist.
type Record struct {
	OwnerTeamID  string
	TargetTeamID string
	Kind         domain.PowerupKind
	AppliedAt    time.Time
	// Duration of the validity window; zero means instantaneous.
	Duration time.Duration
	// UntilConsumed keeps a window-less effect active until Consume is called.
	UntilConsumed bool
	PointDelta    int64
	Detail        string
}

// Store tracks temporal effects. Nothing is swept on expiry; every query takes
// the timestamp it is evaluated at.
type Store struct {
	newID func() string
}

// New constructs a Store that assigns random UUIDs.
func New() Store {
	return Store{newID: uuid.NewString}
}

// Record persists an effect and returns it with its assigned id.
func (s Store) Record(ctx context.Context, store repository.Store, rec Record) (*domain.TemporalEffect, error) {
	if rec.Duration < 0 {
		return nil, errInvalidWindow
	}
	effect := &domain.TemporalEffect{
		ID:            s.id(),
		OwnerTeamID:   rec.OwnerTeamID,
		Kind:          rec.Kind,
		AppliedAt:     rec.AppliedAt,
		UntilConsumed: rec.UntilConsumed,
		PointDelta:    rec.PointDelta,
		Detail:        rec.Detail,
	}
	if rec.TargetTeamID != "" {
		target := rec.TargetTeamID
		effect.TargetTeamID = &target
	}
	if rec.Duration > 0 {
		expires := rec.AppliedAt.Add(rec.Duration)
		effect.ExpiresAt = &expires
	}
	if err := store.InsertEffect(ctx, effect); err != nil {
		return nil, fmt.Errorf("insert %s effect: %w", rec.Kind, err)
	}
	return effect, nil
}

// IsActive reports whether an effect of kind is in force for the team at asOf.
// Shields are matched on the protected team, everything else on the caster.
func (s Store) IsActive(ctx context.Context, store repository.Store, teamID string, kind domain.PowerupKind, asOf time.Time) (bool, error) {
	_, err := store.FindActiveEffect(ctx, teamID, kind, asOf)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// ActiveFor lists effects owned by or aimed at the team that are active at asOf.
func (s Store) ActiveFor(ctx context.Context, store repository.Store, teamID string, asOf time.Time) ([]domain.TemporalEffect, error) {
	return store.ListActiveEffects(ctx, teamID, asOf)
}

// ActiveByKind lists every active effect of a kind.
func (s Store) ActiveByKind(ctx context.Context, store repository.Store, kind domain.PowerupKind, asOf time.Time) ([]domain.TemporalEffect, error) {
	return store.ListActiveEffectsByKind(ctx, kind, asOf)
}

// Consume closes the oldest active effect of kind for the team and reports
// whether there was one.
func (s Store) Consume(ctx context.Context, store repository.Store, teamID string, kind domain.PowerupKind, at time.Time) (bool, error) {
	effect, err := store.FindActiveEffect(ctx, teamID, kind, at)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := store.ConsumeEffect(ctx, effect.ID, at); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("consume %s effect: %w", kind, err)
	}
	return true, nil
}

func (s Store) id() string {
	if s.newID == nil {
		return uuid.NewString()
	}
	return s.newID()
}
