// Package ledger is the only writer of team point balances. Balances are
// floored at zero: a debit larger than the balance takes what is there.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/splax/pwnarena/internal/repository"
)

var (
	errNegativeAmount = errors.New("transfer amount must not be negative")
	errSelfTransfer   = errors.New("transfer source and destination must differ")
)

// Ledger applies point movements inside the caller's transaction.
type Ledger struct{}

// New constructs a Ledger.
func New() Ledger { return Ledger{} }

// Balance returns the current balance of a team.
func (Ledger) Balance(ctx context.Context, store repository.Store, teamID string) (int64, error) {
	team, err := store.GetTeamByID(ctx, teamID)
	if err != nil {
		return 0, err
	}
	return team.Points, nil
}

// Adjust applies a signed delta and returns the delta that was actually
// applied after clamping at zero.
func (Ledger) Adjust(ctx context.Context, store repository.Store, teamID string, delta int64) (int64, error) {
	balances, err := store.LockTeamPoints(ctx, teamID)
	if err != nil {
		return 0, fmt.Errorf("lock balance: %w", err)
	}
	before := balances[teamID]
	after := clamp(before + delta)
	if after == before {
		return 0, nil
	}
	if err := store.SetTeamPoints(ctx, teamID, after); err != nil {
		return 0, fmt.Errorf("write balance: %w", err)
	}
	return after - before, nil
}

// Transfer moves up to amount points from one team to another and returns how
// many points moved. The destination is credited with exactly what the source
// lost, so the pair's total is preserved.
func (Ledger) Transfer(ctx context.Context, store repository.Store, fromTeamID, toTeamID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, errNegativeAmount
	}
	if fromTeamID == toTeamID {
		return 0, errSelfTransfer
	}
	balances, err := store.LockTeamPoints(ctx, fromTeamID, toTeamID)
	if err != nil {
		return 0, fmt.Errorf("lock balances: %w", err)
	}
	from := balances[fromTeamID]
	moved := from - clamp(from-amount)
	if moved == 0 {
		return 0, nil
	}
	if err := store.SetTeamPoints(ctx, fromTeamID, from-moved); err != nil {
		return 0, fmt.Errorf("debit %s: %w", fromTeamID, err)
	}
	if err := store.SetTeamPoints(ctx, toTeamID, balances[toTeamID]+moved); err != nil {
		return 0, fmt.Errorf("credit %s: %w", toTeamID, err)
	}
	return moved, nil
}

func clamp(points int64) int64 {
	if points < 0 {
		return 0
	}
	return points
}
