package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/splax/pwnarena/internal/domain"
	"github.com/splax/pwnarena/internal/repository"
	"github.com/splax/pwnarena/internal/repository/memory"
)

func newTestService() (Service, *memory.Repository) {
	repo := memory.New(nil)
	return New(repo, slog.New(slog.NewTextHandler(io.Discard, nil))), repo
}

func TestSeedAndListKeepsEnumerationOrder(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.Seed(context.Background(), Defaults()); err != nil {
		t.Fatalf("Seed returned error: %v", err)
	}
	defs, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(defs) != len(domain.Kinds) {
		t.Fatalf("expected %d definitions, got %d", len(domain.Kinds), len(defs))
	}
	for i, kind := range domain.Kinds {
		if defs[i].Kind != kind {
			t.Fatalf("position %d: expected %s, got %s", i, kind, defs[i].Kind)
		}
	}
}

func TestListActiveSkipsDisabledDefinitions(t *testing.T) {
	svc, _ := newTestService()
	defs := Defaults()
	defs[1].IsActive = false
	if err := svc.Seed(context.Background(), defs); err != nil {
		t.Fatalf("Seed returned error: %v", err)
	}
	active, err := svc.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive returned error: %v", err)
	}
	for _, def := range active {
		if def.Kind == defs[1].Kind {
			t.Fatalf("inactive kind %s listed", def.Kind)
		}
	}
	if len(active) != len(defs)-1 {
		t.Fatalf("expected %d active definitions, got %d", len(defs)-1, len(active))
	}
}

func TestDescribeRejectsUnknownKind(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Describe(context.Background(), "teleport"); !errors.Is(err, errUnknownKind) {
		t.Fatalf("expected errUnknownKind, got %v", err)
	}
	if _, err := svc.Describe(context.Background(), domain.KindShield); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected repository.ErrNotFound for unseeded kind, got %v", err)
	}
}

func TestValidateRejectsDuplicates(t *testing.T) {
	defs := []domain.PowerupDefinition{{Kind: domain.KindShield}, {Kind: domain.KindShield}}
	if err := Validate(defs); !errors.Is(err, errDuplicateKind) {
		t.Fatalf("expected errDuplicateKind, got %v", err)
	}
}

func TestLoadFileParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	doc := `powerups:
  - kind: shield
    cost: 250
    max_uses: 4
    is_active: true
    description: stay safe
  - kind: siphon
    cost: 200
    max_uses: 1
    is_active: false
    description: drain
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	defs, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile returned error: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	if defs[0].Kind != domain.KindShield || defs[0].MaxUses != 4 || !defs[0].IsActive || defs[0].Description != "stay safe" {
		t.Fatalf("unexpected first definition: %+v", defs[0])
	}
	if defs[1].IsActive {
		t.Fatalf("expected siphon inactive")
	}
}

func TestLoadFileRejectsUnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("powerups:\n  - kind: teleport\n    max_uses: 1\n"), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if _, err := LoadFile(path); !errors.Is(err, errUnknownKind) {
		t.Fatalf("expected errUnknownKind, got %v", err)
	}
}
