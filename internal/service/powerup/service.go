// Package powerup runs powerup uses end to end: admission against the team's
// allocation, the kind-specific effect, and the resulting ledger movements,
// all inside one transaction.
package powerup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/splax/pwnarena/internal/domain"
	"github.com/splax/pwnarena/internal/repository"
	"github.com/splax/pwnarena/internal/service/allocation"
	"github.com/splax/pwnarena/internal/service/effects"
	"github.com/splax/pwnarena/internal/service/ledger"
	"github.com/splax/pwnarena/pkg/config"
)

// Publisher receives committed use events.
type Publisher interface {
	Publish(ctx context.Context, event domain.UseEvent) error
}

// Settings are the effect constants in engine units.
type Settings struct {
	LuckyDrawChance  float64
	ShieldDuration   time.Duration
	SabotageDuration time.Duration
	SabotagePoints   int64
	AirstrikePoints  int64
	SiphonCap        int64
	SiphonDivisor    int64
	SiphonDuration   time.Duration
}

// SettingsFromConfig converts economy configuration, keeping the stock value
// for anything unset or out of range.
func SettingsFromConfig(cfg config.EconomyConfig) Settings {
	def := config.DefaultEconomy()
	if cfg.LuckyDrawChance < 0 || cfg.LuckyDrawChance > 1 {
		cfg.LuckyDrawChance = def.LuckyDrawChance
	}
	if cfg.ShieldDuration <= 0 {
		cfg.ShieldDuration = def.ShieldDuration
	}
	if cfg.SabotageDuration <= 0 {
		cfg.SabotageDuration = def.SabotageDuration
	}
	if cfg.SabotagePoints <= 0 {
		cfg.SabotagePoints = def.SabotagePoints
	}
	if cfg.AirstrikePoints <= 0 {
		cfg.AirstrikePoints = def.AirstrikePoints
	}
	if cfg.SiphonCap <= 0 {
		cfg.SiphonCap = def.SiphonCap
	}
	if cfg.SiphonDivisor <= 0 {
		cfg.SiphonDivisor = def.SiphonDivisor
	}
	if cfg.SiphonDuration <= 0 {
		cfg.SiphonDuration = def.SiphonDuration
	}
	return Settings{
		LuckyDrawChance:  cfg.LuckyDrawChance,
		ShieldDuration:   cfg.ShieldDuration,
		SabotageDuration: cfg.SabotageDuration,
		SabotagePoints:   int64(cfg.SabotagePoints),
		AirstrikePoints:  int64(cfg.AirstrikePoints),
		SiphonCap:        int64(cfg.SiphonCap),
		SiphonDivisor:    int64(cfg.SiphonDivisor),
		SiphonDuration:   cfg.SiphonDuration,
	}
}

// UseRequest asks to use a powerup on behalf of a team.
type UseRequest struct {
	TeamID string
	Kind   string
	// Target is the name of the targeted team, for kinds that need one.
	Target string
}

// UseResult reports a committed use.
type UseResult struct {
	Kind         domain.PowerupKind `json:"kind"`
	Message      string             `json:"message"`
	EffectID     string             `json:"effect_id,omitempty"`
	UsesLeft     int                `json:"uses_left"`
	PointDelta   int64              `json:"point_delta"`
	GrantedKind  domain.PowerupKind `json:"granted_kind,omitempty"`
	TargetTeamID string             `json:"target_team_id,omitempty"`
}

// Availability is a catalog entry as seen by one team.
type Availability struct {
	Kind           domain.PowerupKind `json:"kind"`
	Cost           int                `json:"cost"`
	MaxUses        int                `json:"max_uses"`
	UsesLeft       int                `json:"uses_left"`
	RequiresTarget bool               `json:"requires_target"`
	Description    string             `json:"description"`
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithRandom replaces the lucky draw source.
func WithRandom(r Random) Option {
	return func(s *Service) { s.engine.rand = r }
}

// WithPublisher sets where committed use events go.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// Service orchestrates powerup uses.
type Service struct {
	repo      repository.PowerupRepository
	engine    *engine
	handlers  map[domain.PowerupKind]effectHandler
	publisher Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
}

// New constructs a Service.
func New(repo repository.PowerupRepository, settings Settings, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	e := &engine{
		tracker:  allocation.New(),
		ledger:   ledger.New(),
		effects:  effects.New(),
		settings: settings,
		rand:     globalRand{},
	}
	s := &Service{
		repo:     repo,
		engine:   e,
		handlers: newHandlers(e),
		clock:    clockwork.NewRealClock(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	initMetrics()
	return s
}

// Use applies a powerup. Either every write of the use commits or none does;
// a transient storage failure is retried once before giving up.
func (s *Service) Use(ctx context.Context, req UseRequest) (*UseResult, error) {
	kind, ok := domain.ParseKind(req.Kind)
	if !ok {
		recordUse("unknown", Code(ErrInvalidKind))
		return nil, ErrInvalidKind
	}
	h := s.handlers[kind]
	target := strings.TrimSpace(req.Target)
	if h.requiresTarget() && target == "" {
		recordUse(kind.String(), Code(ErrTargetNotFound))
		return nil, ErrTargetNotFound
	}

	res, event, err := s.attempt(ctx, req.TeamID, kind, target, h)
	if errors.Is(err, repository.ErrTransient) {
		s.logger.Warn("retrying powerup use", "team_id", req.TeamID, "kind", kind, "error", err)
		res, event, err = s.attempt(ctx, req.TeamID, kind, target, h)
		if errors.Is(err, repository.ErrTransient) {
			err = fmt.Errorf("%w: %w", ErrTransientFailure, err)
		}
	}
	code := Code(err)
	recordUse(kind.String(), code)
	if err != nil {
		if code == "internal" || code == "transient_failure" {
			s.logger.Error("powerup use failed", "team_id", req.TeamID, "kind", kind, "error", err)
		}
		return nil, err
	}

	s.logger.Info("powerup used",
		"team_id", req.TeamID,
		"kind", kind,
		"effect_id", res.EffectID,
		"target_team_id", res.TargetTeamID,
		"uses_left", res.UsesLeft,
	)
	s.publish(ctx, event)
	return res, nil
}

func (s *Service) attempt(ctx context.Context, teamID string, kind domain.PowerupKind, target string, h effectHandler) (*UseResult, domain.UseEvent, error) {
	now := s.clock.Now().UTC()
	var (
		res   *UseResult
		event domain.UseEvent
	)
	err := s.repo.WithinTx(ctx, func(store repository.Store) error {
		team, err := store.GetTeamByID(ctx, teamID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrTeamNotFound
			}
			return fmt.Errorf("load team: %w", err)
		}
		left, err := s.engine.tracker.TryConsume(ctx, store, team.ID, kind)
		if err != nil {
			return err
		}
		out, err := h.apply(ctx, &useContext{store: store, team: team, targetName: target, now: now})
		if err != nil {
			return err
		}
		res = &UseResult{
			Kind:        kind,
			Message:     out.message,
			UsesLeft:    left,
			PointDelta:  out.pointDelta,
			GrantedKind: out.granted,
		}
		event = domain.UseEvent{
			ID:         uuid.NewString(),
			TeamID:     team.ID,
			Kind:       kind,
			PointDelta: out.pointDelta,
			Message:    out.message,
			OccurredAt: now,
		}
		if out.effect != nil {
			res.EffectID = out.effect.ID
			event.EffectID = out.effect.ID
		}
		if out.target != nil {
			res.TargetTeamID = out.target.ID
			event.TargetTeamID = out.target.ID
		}
		return nil
	})
	if err != nil {
		return nil, domain.UseEvent{}, err
	}
	return res, event, nil
}

func (s *Service) publish(ctx context.Context, event domain.UseEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish use event failed", "event_id", event.ID, "kind", event.Kind, "error", err)
	}
}

// ListAvailable returns the active catalog with the team's remaining uses.
func (s *Service) ListAvailable(ctx context.Context, teamID string) ([]Availability, error) {
	if err := s.ensureTeam(ctx, teamID); err != nil {
		return nil, err
	}
	defs, err := s.repo.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	byKind := make(map[domain.PowerupKind]domain.PowerupDefinition, len(defs))
	for _, def := range defs {
		byKind[def.Kind] = def
	}
	out := make([]Availability, 0, len(defs))
	for _, kind := range domain.Kinds {
		def, ok := byKind[kind]
		if !ok || !def.IsActive {
			continue
		}
		left, err := s.engine.tracker.UsesLeft(ctx, s.repo, teamID, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, s.availability(def, left))
	}
	return out, nil
}

// Describe returns one active catalog entry with the team's remaining uses.
func (s *Service) Describe(ctx context.Context, teamID, rawKind string) (*Availability, error) {
	kind, ok := domain.ParseKind(rawKind)
	if !ok {
		return nil, ErrInvalidKind
	}
	if err := s.ensureTeam(ctx, teamID); err != nil {
		return nil, err
	}
	def, err := s.repo.GetDefinition(ctx, kind)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPowerupInactive
		}
		return nil, err
	}
	if !def.IsActive {
		return nil, ErrPowerupInactive
	}
	left, err := s.engine.tracker.UsesLeft(ctx, s.repo, teamID, kind)
	if err != nil {
		return nil, err
	}
	av := s.availability(*def, left)
	return &av, nil
}

func (s *Service) availability(def domain.PowerupDefinition, left int) Availability {
	return Availability{
		Kind:           def.Kind,
		Cost:           def.Cost,
		MaxUses:        def.MaxUses,
		UsesLeft:       left,
		RequiresTarget: s.handlers[def.Kind].requiresTarget(),
		Description:    def.Description,
	}
}

// ActiveEffects lists effects owned by or aimed at the team right now.
func (s *Service) ActiveEffects(ctx context.Context, teamID string) ([]domain.TemporalEffect, error) {
	if err := s.ensureTeam(ctx, teamID); err != nil {
		return nil, err
	}
	return s.engine.effects.ActiveFor(ctx, s.repo, teamID, s.clock.Now().UTC())
}

// ActiveShields lists teams currently protected by a shield.
func (s *Service) ActiveShields(ctx context.Context) ([]domain.Team, error) {
	teams, shielded, err := s.shieldedTeams(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Team, 0, len(shielded))
	for _, team := range teams {
		if shielded[team.ID] {
			out = append(out, team)
		}
	}
	return out, nil
}

// VulnerableTeams lists teams without an active shield.
func (s *Service) VulnerableTeams(ctx context.Context) ([]domain.Team, error) {
	teams, shielded, err := s.shieldedTeams(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Team, 0, len(teams))
	for _, team := range teams {
		if !shielded[team.ID] {
			out = append(out, team)
		}
	}
	return out, nil
}

func (s *Service) shieldedTeams(ctx context.Context) ([]domain.Team, map[string]bool, error) {
	teams, err := s.repo.ListTeams(ctx)
	if err != nil {
		return nil, nil, err
	}
	shields, err := s.engine.effects.ActiveByKind(ctx, s.repo, domain.KindShield, s.clock.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	shielded := make(map[string]bool, len(shields))
	for _, effect := range shields {
		shielded[effect.Subject()] = true
	}
	return teams, shielded, nil
}

// IsGambleActive reports whether the team has an unconsumed gamble at now.
func (s *Service) IsGambleActive(ctx context.Context, teamID string, now time.Time) (bool, error) {
	if err := s.ensureTeam(ctx, teamID); err != nil {
		return false, err
	}
	return s.engine.effects.IsActive(ctx, s.repo, teamID, domain.KindGamble, now)
}

// ConsumeGamble closes the team's open gamble and reports whether one existed.
// The scoring side calls it once it has settled the gambled solve.
func (s *Service) ConsumeGamble(ctx context.Context, teamID string) (bool, error) {
	now := s.clock.Now().UTC()
	var consumed bool
	err := s.repo.WithinTx(ctx, func(store repository.Store) error {
		if _, err := store.LockTeamPoints(ctx, teamID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrTeamNotFound
			}
			return err
		}
		var err error
		consumed, err = s.engine.effects.Consume(ctx, store, teamID, domain.KindGamble, now)
		return err
	})
	if err != nil {
		return false, err
	}
	if consumed {
		s.logger.Info("gamble consumed", "team_id", teamID)
	}
	return consumed, nil
}

func (s *Service) ensureTeam(ctx context.Context, teamID string) error {
	if _, err := s.repo.GetTeamByID(ctx, teamID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTeamNotFound
		}
		return err
	}
	return nil
}
