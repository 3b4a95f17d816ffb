package allocation

import (
	"context"
	"errors"
	"testing"

	"github.com/splax/pwnarena/internal/domain"
	"github.com/splax/pwnarena/internal/repository"
	"github.com/splax/pwnarena/internal/repository/memory"
)

func seededRepo(t *testing.T, defs ...domain.PowerupDefinition) *memory.Repository {
	t.Helper()
	repo := memory.New(nil)
	repo.AddTeam(domain.Team{ID: "team-a", Name: "alpha"})
	for i := range defs {
		if err := repo.UpsertDefinition(context.Background(), &defs[i]); err != nil {
			t.Fatalf("upsert definition: %v", err)
		}
	}
	return repo
}

func consume(t *testing.T, repo *memory.Repository, kind domain.PowerupKind) (int, error) {
	t.Helper()
	var left int
	err := repo.WithinTx(context.Background(), func(store repository.Store) error {
		var err error
		left, err = New().TryConsume(context.Background(), store, "team-a", kind)
		return err
	})
	return left, err
}

func TestTryConsumeCountsDownToZero(t *testing.T) {
	repo := seededRepo(t, domain.PowerupDefinition{Kind: domain.KindSabotage, MaxUses: 3, IsActive: true})

	for want := 2; want >= 0; want-- {
		left, err := consume(t, repo, domain.KindSabotage)
		if err != nil {
			t.Fatalf("TryConsume returned error: %v", err)
		}
		if left != want {
			t.Fatalf("expected %d uses left, got %d", want, left)
		}
	}
	if _, err := consume(t, repo, domain.KindSabotage); !errors.Is(err, ErrNoUsesLeft) {
		t.Fatalf("expected ErrNoUsesLeft, got %v", err)
	}
	alloc, err := repo.GetAllocation(context.Background(), "team-a", domain.KindSabotage)
	if err != nil {
		t.Fatalf("GetAllocation returned error: %v", err)
	}
	if alloc.UsesLeft != 0 {
		t.Fatalf("expected counter to stay at 0, got %d", alloc.UsesLeft)
	}
}

func TestTryConsumeRejectsInactiveOrMissingDefinition(t *testing.T) {
	repo := seededRepo(t, domain.PowerupDefinition{Kind: domain.KindShield, MaxUses: 1, IsActive: false})

	if _, err := consume(t, repo, domain.KindShield); !errors.Is(err, ErrPowerupInactive) {
		t.Fatalf("expected ErrPowerupInactive for disabled kind, got %v", err)
	}
	if _, err := consume(t, repo, domain.KindGamble); !errors.Is(err, ErrPowerupInactive) {
		t.Fatalf("expected ErrPowerupInactive for missing kind, got %v", err)
	}
	if _, err := repo.GetAllocation(context.Background(), "team-a", domain.KindShield); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected no allocation row, got %v", err)
	}
}

func TestGrantBonusExceedsMaxUses(t *testing.T) {
	repo := seededRepo(t, domain.PowerupDefinition{Kind: domain.KindGamble, MaxUses: 1, IsActive: true})

	var total int
	err := repo.WithinTx(context.Background(), func(store repository.Store) error {
		var err error
		total, err = New().GrantBonus(context.Background(), store, "team-a", domain.KindGamble, 2)
		return err
	})
	if err != nil {
		t.Fatalf("GrantBonus returned error: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 uses after bonus, got %d", total)
	}
}

func TestUsesLeftFallsBackToDefinition(t *testing.T) {
	repo := seededRepo(t, domain.PowerupDefinition{Kind: domain.KindSiphon, MaxUses: 2, IsActive: true})

	left, err := New().UsesLeft(context.Background(), repo, "team-a", domain.KindSiphon)
	if err != nil {
		t.Fatalf("UsesLeft returned error: %v", err)
	}
	if left != 2 {
		t.Fatalf("expected 2, got %d", left)
	}
	if _, err := repo.GetAllocation(context.Background(), "team-a", domain.KindSiphon); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("UsesLeft must not create the row, got %v", err)
	}
}
