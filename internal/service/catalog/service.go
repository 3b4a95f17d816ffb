package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/splax/pwnarena/internal/domain"
	"github.com/splax/pwnarena/internal/repository"
)

var (
	errUnknownKind   = errors.New("unknown powerup kind")
	errDuplicateKind = errors.New("duplicate powerup kind")
	errNegativeUses  = errors.New("max_uses must not be negative")
)

// Service exposes the powerup catalog.
type Service struct {
	repo   repository.CatalogRepository
	logger *slog.Logger
}

// New constructs a Service.
func New(repo repository.CatalogRepository, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{repo: repo, logger: logger}
}

// List returns all definitions in enumeration order, active or not.
func (s Service) List(ctx context.Context) ([]domain.PowerupDefinition, error) {
	defs, err := s.repo.ListDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list powerup definitions: %w", err)
	}
	byKind := make(map[domain.PowerupKind]domain.PowerupDefinition, len(defs))
	for _, def := range defs {
		byKind[def.Kind] = def
	}
	ordered := make([]domain.PowerupDefinition, 0, len(defs))
	for _, kind := range domain.Kinds {
		if def, ok := byKind[kind]; ok {
			ordered = append(ordered, def)
		}
	}
	return ordered, nil
}

// ListActive returns the definitions that can currently be used.
func (s Service) ListActive(ctx context.Context) ([]domain.PowerupDefinition, error) {
	defs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	active := defs[:0]
	for _, def := range defs {
		if def.IsActive {
			active = append(active, def)
		}
	}
	return active, nil
}

// Describe returns the static metadata of a kind.
func (s Service) Describe(ctx context.Context, kind domain.PowerupKind) (*domain.PowerupDefinition, error) {
	if !kind.Valid() {
		return nil, errUnknownKind
	}
	return s.repo.GetDefinition(ctx, kind)
}

// Seed upserts the given definitions.
func (s Service) Seed(ctx context.Context, defs []domain.PowerupDefinition) error {
	if err := Validate(defs); err != nil {
		return err
	}
	for i := range defs {
		def := defs[i]
		if err := s.repo.UpsertDefinition(ctx, &def); err != nil {
			return fmt.Errorf("seed %s: %w", def.Kind, err)
		}
	}
	s.logger.Info("powerup catalog seeded", "definitions", len(defs))
	return nil
}

// Validate checks that every definition names a known kind exactly once.
func Validate(defs []domain.PowerupDefinition) error {
	seen := make(map[domain.PowerupKind]struct{}, len(defs))
	for _, def := range defs {
		if !def.Kind.Valid() {
			return fmt.Errorf("%w: %q", errUnknownKind, def.Kind)
		}
		if _, dup := seen[def.Kind]; dup {
			return fmt.Errorf("%w: %q", errDuplicateKind, def.Kind)
		}
		if def.MaxUses < 0 {
			return fmt.Errorf("%s: %w", def.Kind, errNegativeUses)
		}
		seen[def.Kind] = struct{}{}
	}
	return nil
}

type catalogFile struct {
	Powerups []domain.PowerupDefinition `yaml:"powerups"`
}

// LoadFile reads definitions from a YAML document of the form
//
//	powerups:
//	  - kind: shield
//	    cost: 300
//	    max_uses: 2
//	    is_active: true
//	    description: ...
func LoadFile(path string) ([]domain.PowerupDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}
	if err := Validate(file.Powerups); err != nil {
		return nil, err
	}
	return file.Powerups, nil
}

// Defaults is the catalog used when no file is configured.
func Defaults() []domain.PowerupDefinition {
	return []domain.PowerupDefinition{
		{Kind: domain.KindLuckyDraw, Cost: 100, MaxUses: 10, IsActive: true, Description: "Has a 20% chance of getting any other powerup."},
		{Kind: domain.KindShield, Cost: 300, MaxUses: 2, IsActive: true, Description: "Protects your team from targeted attacks for 15 minutes."},
		{Kind: domain.KindSabotage, Cost: 500, MaxUses: 3, IsActive: true, Description: "Takes points from another team and marks them sabotaged for 10 minutes."},
		{Kind: domain.KindAirstrike, Cost: 400, MaxUses: 2, IsActive: true, Description: "Destroys points of another team unless they are shielded."},
		{Kind: domain.KindGamble, Cost: 500, MaxUses: 1, IsActive: true, Description: "Doubles the points of the next challenge you solve."},
		{Kind: domain.KindSiphon, Cost: 200, MaxUses: 2, IsActive: true, Description: "Steals a tenth of the target team's points, up to a cap."},
	}
}
