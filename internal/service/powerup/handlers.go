package powerup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/splax/pwnarena/internal/domain"
	"github.com/splax/pwnarena/internal/repository"
	"github.com/splax/pwnarena/internal/service/allocation"
	"github.com/splax/pwnarena/internal/service/effects"
	"github.com/splax/pwnarena/internal/service/ledger"
)

// useContext is what a handler sees of a use in progress. The allocation has
// already been decremented in store's transaction.
type useContext struct {
	store      repository.Store
	team       *domain.Team
	targetName string
	now        time.Time
}

// resolveTarget looks up the named target team.
func (u *useContext) resolveTarget(ctx context.Context) (*domain.Team, error) {
	if u.targetName == "" {
		return nil, ErrTargetNotFound
	}
	target, err := u.store.GetTeamByName(ctx, u.targetName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTargetNotFound
		}
		return nil, fmt.Errorf("lookup target: %w", err)
	}
	if target.ID == u.team.ID {
		return nil, ErrInvalidTarget
	}
	return target, nil
}

// outcome is the handler's contribution to the use result.
type outcome struct {
	message    string
	effect     *domain.TemporalEffect
	target     *domain.Team
	pointDelta int64
	granted    domain.PowerupKind
}

// effectHandler applies one kind of powerup.
type effectHandler interface {
	requiresTarget() bool
	apply(ctx context.Context, u *useContext) (outcome, error)
}

// engine is the shared toolkit handlers work with.
type engine struct {
	tracker  allocation.Tracker
	ledger   ledger.Ledger
	effects  effects.Store
	settings Settings
	rand     Random
}

func newHandlers(e *engine) map[domain.PowerupKind]effectHandler {
	return map[domain.PowerupKind]effectHandler{
		domain.KindLuckyDraw: luckyDraw{e},
		domain.KindShield:    shield{e},
		domain.KindSabotage:  sabotage{e},
		domain.KindAirstrike: airstrike{e},
		domain.KindGamble:    gamble{e},
		domain.KindSiphon:    siphon{e},
	}
}

// guardTarget locks both balance rows and refuses when the target is shielded.
// Shield activation takes the same row lock, so the check cannot race it.
func (e *engine) guardTarget(ctx context.Context, u *useContext, target *domain.Team) (map[string]int64, error) {
	balances, err := u.store.LockTeamPoints(ctx, u.team.ID, target.ID)
	if err != nil {
		return nil, fmt.Errorf("lock balances: %w", err)
	}
	shielded, err := e.effects.IsActive(ctx, u.store, target.ID, domain.KindShield, u.now)
	if err != nil {
		return nil, fmt.Errorf("check shield: %w", err)
	}
	if shielded {
		return nil, ErrTargetShielded
	}
	return balances, nil
}

type luckyDraw struct{ *engine }

func (luckyDraw) requiresTarget() bool { return false }

func (h luckyDraw) apply(ctx context.Context, u *useContext) (outcome, error) {
	roll := h.rand.Float64()
	var prizes []domain.PowerupKind
	if roll < h.settings.LuckyDrawChance {
		defs, err := u.store.ListDefinitions(ctx)
		if err != nil {
			return outcome{}, fmt.Errorf("list definitions: %w", err)
		}
		active := make(map[domain.PowerupKind]bool, len(defs))
		for _, def := range defs {
			active[def.Kind] = def.IsActive
		}
		for _, kind := range domain.Kinds {
			if kind != domain.KindLuckyDraw && active[kind] {
				prizes = append(prizes, kind)
			}
		}
	}

	out := outcome{message: "Better luck next time"}
	detail := fmt.Sprintf("roll=%.4f", roll)
	if len(prizes) > 0 {
		prize := prizes[h.rand.IntN(len(prizes))]
		if _, err := h.tracker.GrantBonus(ctx, u.store, u.team.ID, prize, 1); err != nil {
			return outcome{}, fmt.Errorf("grant %s: %w", prize, err)
		}
		out.granted = prize
		out.message = fmt.Sprintf("You won an extra %s", prize)
		detail += " granted=" + prize.String()
	}

	effect, err := h.effects.Record(ctx, u.store, effects.Record{
		OwnerTeamID: u.team.ID,
		Kind:        domain.KindLuckyDraw,
		AppliedAt:   u.now,
		Detail:      detail,
	})
	if err != nil {
		return outcome{}, err
	}
	out.effect = effect
	return out, nil
}

type shield struct{ *engine }

func (shield) requiresTarget() bool { return false }

func (h shield) apply(ctx context.Context, u *useContext) (outcome, error) {
	if _, err := u.store.LockTeamPoints(ctx, u.team.ID); err != nil {
		return outcome{}, fmt.Errorf("lock balance: %w", err)
	}
	active, err := h.effects.IsActive(ctx, u.store, u.team.ID, domain.KindShield, u.now)
	if err != nil {
		return outcome{}, fmt.Errorf("check shield: %w", err)
	}
	if active {
		return outcome{}, ErrAlreadyShielded
	}
	effect, err := h.effects.Record(ctx, u.store, effects.Record{
		OwnerTeamID:  u.team.ID,
		TargetTeamID: u.team.ID,
		Kind:         domain.KindShield,
		AppliedAt:    u.now,
		Duration:     h.settings.ShieldDuration,
	})
	if err != nil {
		return outcome{}, err
	}
	return outcome{
		message: fmt.Sprintf("Shield activated for %s", humanDuration(h.settings.ShieldDuration)),
		effect:  effect,
	}, nil
}

type sabotage struct{ *engine }

func (sabotage) requiresTarget() bool { return true }

func (h sabotage) apply(ctx context.Context, u *useContext) (outcome, error) {
	target, err := u.resolveTarget(ctx)
	if err != nil {
		return outcome{}, err
	}
	if _, err := h.guardTarget(ctx, u, target); err != nil {
		return outcome{}, err
	}
	moved, err := h.ledger.Transfer(ctx, u.store, target.ID, u.team.ID, h.settings.SabotagePoints)
	if err != nil {
		return outcome{}, fmt.Errorf("sabotage transfer: %w", err)
	}
	effect, err := h.effects.Record(ctx, u.store, effects.Record{
		OwnerTeamID:  u.team.ID,
		TargetTeamID: target.ID,
		Kind:         domain.KindSabotage,
		AppliedAt:    u.now,
		Duration:     h.settings.SabotageDuration,
		PointDelta:   -moved,
	})
	if err != nil {
		return outcome{}, err
	}
	return outcome{
		message:    fmt.Sprintf("Team %s has been sabotaged for %s", target.Name, humanDuration(h.settings.SabotageDuration)),
		effect:     effect,
		target:     target,
		pointDelta: moved,
	}, nil
}

type airstrike struct{ *engine }

func (airstrike) requiresTarget() bool { return true }

func (h airstrike) apply(ctx context.Context, u *useContext) (outcome, error) {
	target, err := u.resolveTarget(ctx)
	if err != nil {
		return outcome{}, err
	}
	if _, err := h.guardTarget(ctx, u, target); err != nil {
		return outcome{}, err
	}
	applied, err := h.ledger.Adjust(ctx, u.store, target.ID, -h.settings.AirstrikePoints)
	if err != nil {
		return outcome{}, fmt.Errorf("airstrike debit: %w", err)
	}
	effect, err := h.effects.Record(ctx, u.store, effects.Record{
		OwnerTeamID:  u.team.ID,
		TargetTeamID: target.ID,
		Kind:         domain.KindAirstrike,
		AppliedAt:    u.now,
		PointDelta:   applied,
	})
	if err != nil {
		return outcome{}, err
	}
	return outcome{
		message: fmt.Sprintf("Airstrike hit team %s for %d points", target.Name, -applied),
		effect:  effect,
		target:  target,
	}, nil
}

type gamble struct{ *engine }

func (gamble) requiresTarget() bool { return false }

func (h gamble) apply(ctx context.Context, u *useContext) (outcome, error) {
	active, err := h.effects.IsActive(ctx, u.store, u.team.ID, domain.KindGamble, u.now)
	if err != nil {
		return outcome{}, fmt.Errorf("check gamble: %w", err)
	}
	if active {
		return outcome{}, ErrAlreadyActive
	}
	effect, err := h.effects.Record(ctx, u.store, effects.Record{
		OwnerTeamID:   u.team.ID,
		Kind:          domain.KindGamble,
		AppliedAt:     u.now,
		UntilConsumed: true,
	})
	if err != nil {
		return outcome{}, err
	}
	return outcome{message: "Gamble placed on your next solve", effect: effect}, nil
}

type siphon struct{ *engine }

func (siphon) requiresTarget() bool { return true }

func (h siphon) apply(ctx context.Context, u *useContext) (outcome, error) {
	target, err := u.resolveTarget(ctx)
	if err != nil {
		return outcome{}, err
	}
	balances, err := h.guardTarget(ctx, u, target)
	if err != nil {
		return outcome{}, err
	}
	amount := balances[target.ID] / h.settings.SiphonDivisor
	if amount > h.settings.SiphonCap {
		amount = h.settings.SiphonCap
	}
	if amount <= 0 {
		return outcome{message: fmt.Sprintf("Team %s has nothing to siphon", target.Name), target: target}, nil
	}
	moved, err := h.ledger.Transfer(ctx, u.store, target.ID, u.team.ID, amount)
	if err != nil {
		return outcome{}, fmt.Errorf("siphon transfer: %w", err)
	}
	// Owned by the drained team so its listing shows who is siphoning it.
	effect, err := h.effects.Record(ctx, u.store, effects.Record{
		OwnerTeamID:  target.ID,
		TargetTeamID: u.team.ID,
		Kind:         domain.KindSiphon,
		AppliedAt:    u.now,
		Duration:     h.settings.SiphonDuration,
		PointDelta:   moved,
		Detail:       fmt.Sprintf("siphoned by %s", u.team.Name),
	})
	if err != nil {
		return outcome{}, err
	}
	return outcome{
		message:    fmt.Sprintf("Siphoned %d points from team %s", moved, target.Name),
		effect:     effect,
		target:     target,
		pointDelta: moved,
	}, nil
}

func humanDuration(d time.Duration) string {
	if d%time.Minute == 0 {
		minutes := int(d / time.Minute)
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	return d.String()
}
