// Package memory provides an in-process implementation of the powerup
// repositories. Transactions are serialized and applied to a working copy that
// is swapped in on commit, which gives the engine the same all-or-nothing
// behaviour as the PostgreSQL store. It backs tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/splax/pwnarena/internal/domain"
	"github.com/splax/pwnarena/internal/repository"
)

type allocKey struct {
	teamID string
	kind   domain.PowerupKind
}

type state struct {
	defs    map[domain.PowerupKind]domain.PowerupDefinition
	teams   map[string]domain.Team
	allocs  map[allocKey]domain.TeamAllocation
	effects []domain.TemporalEffect
	now     func() time.Time
}

func (s *state) clone() *state {
	out := &state{
		defs:    make(map[domain.PowerupKind]domain.PowerupDefinition, len(s.defs)),
		teams:   make(map[string]domain.Team, len(s.teams)),
		allocs:  make(map[allocKey]domain.TeamAllocation, len(s.allocs)),
		effects: append([]domain.TemporalEffect(nil), s.effects...),
		now:     s.now,
	}
	for k, v := range s.defs {
		out.defs[k] = v
	}
	for k, v := range s.teams {
		out.teams[k] = v
	}
	for k, v := range s.allocs {
		out.allocs[k] = v
	}
	return out
}

// Repository is a mutex-guarded in-memory store.
type Repository struct {
	mu       sync.Mutex
	st       *state
	failures []error
	txCount  int
}

var _ repository.PowerupRepository = (*Repository)(nil)

// New constructs an empty Repository. A nil now defaults to time.Now.
func New(now func() time.Time) *Repository {
	if now == nil {
		now = time.Now
	}
	return &Repository{st: &state{
		defs:   make(map[domain.PowerupKind]domain.PowerupDefinition),
		teams:  make(map[string]domain.Team),
		allocs: make(map[allocKey]domain.TeamAllocation),
		now:    now,
	}}
}

// AddTeam registers a team. Teams are owned by the platform, not the engine.
func (r *Repository) AddTeam(team domain.Team) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if team.CreatedAt.IsZero() {
		team.CreatedAt = r.st.now()
	}
	r.st.teams[team.ID] = team
}

// FailNextTx makes the next len(errs) transactions run and then fail with the
// given errors instead of committing.
func (r *Repository) FailNextTx(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, errs...)
}

// TxCount reports how many transactions were started.
func (r *Repository) TxCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.txCount
}

// WithinTx runs fn against a working copy and installs it only when fn succeeds.
func (r *Repository) WithinTx(ctx context.Context, fn func(repository.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txCount++

	work := r.st.clone()
	if err := fn(work); err != nil {
		return err
	}
	if len(r.failures) > 0 {
		err := r.failures[0]
		r.failures = r.failures[1:]
		return err
	}
	r.st = work
	return nil
}

func (r *Repository) read(fn func(*state) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.st)
}

// GetDefinition implements repository.CatalogRepository.
func (r *Repository) GetDefinition(ctx context.Context, kind domain.PowerupKind) (def *domain.PowerupDefinition, err error) {
	err = r.read(func(s *state) error { def, err = s.GetDefinition(ctx, kind); return err })
	return def, err
}

// ListDefinitions implements repository.CatalogRepository.
func (r *Repository) ListDefinitions(ctx context.Context) (defs []domain.PowerupDefinition, err error) {
	err = r.read(func(s *state) error { defs, err = s.ListDefinitions(ctx); return err })
	return defs, err
}

// UpsertDefinition implements repository.CatalogRepository.
func (r *Repository) UpsertDefinition(ctx context.Context, def *domain.PowerupDefinition) error {
	return r.read(func(s *state) error { return s.UpsertDefinition(ctx, def) })
}

// GetTeamByID implements repository.TeamRepository.
func (r *Repository) GetTeamByID(ctx context.Context, teamID string) (team *domain.Team, err error) {
	err = r.read(func(s *state) error { team, err = s.GetTeamByID(ctx, teamID); return err })
	return team, err
}

// GetTeamByName implements repository.TeamRepository.
func (r *Repository) GetTeamByName(ctx context.Context, name string) (team *domain.Team, err error) {
	err = r.read(func(s *state) error { team, err = s.GetTeamByName(ctx, name); return err })
	return team, err
}

// ListTeams implements repository.TeamRepository.
func (r *Repository) ListTeams(ctx context.Context) (teams []domain.Team, err error) {
	err = r.read(func(s *state) error { teams, err = s.ListTeams(ctx); return err })
	return teams, err
}

// LockTeamPoints implements repository.TeamRepository.
func (r *Repository) LockTeamPoints(ctx context.Context, teamIDs ...string) (balances map[string]int64, err error) {
	err = r.read(func(s *state) error { balances, err = s.LockTeamPoints(ctx, teamIDs...); return err })
	return balances, err
}

// SetTeamPoints implements repository.TeamRepository.
func (r *Repository) SetTeamPoints(ctx context.Context, teamID string, points int64) error {
	return r.read(func(s *state) error { return s.SetTeamPoints(ctx, teamID, points) })
}

// LockAllocation implements repository.AllocationRepository.
func (r *Repository) LockAllocation(ctx context.Context, teamID string, kind domain.PowerupKind, seedUses int) (alloc *domain.TeamAllocation, err error) {
	err = r.read(func(s *state) error { alloc, err = s.LockAllocation(ctx, teamID, kind, seedUses); return err })
	return alloc, err
}

// GetAllocation implements repository.AllocationRepository.
func (r *Repository) GetAllocation(ctx context.Context, teamID string, kind domain.PowerupKind) (alloc *domain.TeamAllocation, err error) {
	err = r.read(func(s *state) error { alloc, err = s.GetAllocation(ctx, teamID, kind); return err })
	return alloc, err
}

// ListAllocations implements repository.AllocationRepository.
func (r *Repository) ListAllocations(ctx context.Context, teamID string) (allocs []domain.TeamAllocation, err error) {
	err = r.read(func(s *state) error { allocs, err = s.ListAllocations(ctx, teamID); return err })
	return allocs, err
}

// SetAllocationUses implements repository.AllocationRepository.
func (r *Repository) SetAllocationUses(ctx context.Context, teamID string, kind domain.PowerupKind, usesLeft int) error {
	return r.read(func(s *state) error { return s.SetAllocationUses(ctx, teamID, kind, usesLeft) })
}

// InsertEffect implements repository.EffectRepository.
func (r *Repository) InsertEffect(ctx context.Context, effect *domain.TemporalEffect) error {
	return r.read(func(s *state) error { return s.InsertEffect(ctx, effect) })
}

// FindActiveEffect implements repository.EffectRepository.
func (r *Repository) FindActiveEffect(ctx context.Context, teamID string, kind domain.PowerupKind, asOf time.Time) (effect *domain.TemporalEffect, err error) {
	err = r.read(func(s *state) error { effect, err = s.FindActiveEffect(ctx, teamID, kind, asOf); return err })
	return effect, err
}

// ListActiveEffects implements repository.EffectRepository.
func (r *Repository) ListActiveEffects(ctx context.Context, teamID string, asOf time.Time) (effects []domain.TemporalEffect, err error) {
	err = r.read(func(s *state) error { effects, err = s.ListActiveEffects(ctx, teamID, asOf); return err })
	return effects, err
}

// ListActiveEffectsByKind implements repository.EffectRepository.
func (r *Repository) ListActiveEffectsByKind(ctx context.Context, kind domain.PowerupKind, asOf time.Time) (effects []domain.TemporalEffect, err error) {
	err = r.read(func(s *state) error { effects, err = s.ListActiveEffectsByKind(ctx, kind, asOf); return err })
	return effects, err
}

// ConsumeEffect implements repository.EffectRepository.
func (r *Repository) ConsumeEffect(ctx context.Context, effectID string, at time.Time) error {
	return r.read(func(s *state) error { return s.ConsumeEffect(ctx, effectID, at) })
}

// AllEffects returns every stored effect, expired ones included.
func (r *Repository) AllEffects() []domain.TemporalEffect {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TemporalEffect(nil), r.st.effects...)
}

func (s *state) GetDefinition(_ context.Context, kind domain.PowerupKind) (*domain.PowerupDefinition, error) {
	def, ok := s.defs[kind]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &def, nil
}

func (s *state) ListDefinitions(_ context.Context) ([]domain.PowerupDefinition, error) {
	defs := make([]domain.PowerupDefinition, 0, len(s.defs))
	for _, def := range s.defs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Kind < defs[j].Kind })
	return defs, nil
}

func (s *state) UpsertDefinition(_ context.Context, def *domain.PowerupDefinition) error {
	if def == nil || def.MaxUses < 0 {
		return repository.ErrInvalidArgument
	}
	def.UpdatedAt = s.now()
	s.defs[def.Kind] = *def
	return nil
}

func (s *state) GetTeamByID(_ context.Context, teamID string) (*domain.Team, error) {
	team, ok := s.teams[teamID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &team, nil
}

func (s *state) GetTeamByName(_ context.Context, name string) (*domain.Team, error) {
	for _, team := range s.teams {
		if team.Name == name {
			t := team
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *state) ListTeams(_ context.Context) ([]domain.Team, error) {
	teams := make([]domain.Team, 0, len(s.teams))
	for _, team := range s.teams {
		teams = append(teams, team)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].Name < teams[j].Name })
	return teams, nil
}

func (s *state) LockTeamPoints(_ context.Context, teamIDs ...string) (map[string]int64, error) {
	balances := make(map[string]int64, len(teamIDs))
	for _, id := range teamIDs {
		team, ok := s.teams[id]
		if !ok {
			return nil, repository.ErrNotFound
		}
		balances[id] = team.Points
	}
	return balances, nil
}

func (s *state) SetTeamPoints(_ context.Context, teamID string, points int64) error {
	team, ok := s.teams[teamID]
	if !ok {
		return repository.ErrNotFound
	}
	if points < 0 {
		return repository.ErrInvalidArgument
	}
	team.Points = points
	s.teams[teamID] = team
	return nil
}

func (s *state) LockAllocation(_ context.Context, teamID string, kind domain.PowerupKind, seedUses int) (*domain.TeamAllocation, error) {
	if _, ok := s.teams[teamID]; !ok {
		return nil, repository.ErrNotFound
	}
	if _, ok := s.defs[kind]; !ok {
		return nil, repository.ErrNotFound
	}
	key := allocKey{teamID: teamID, kind: kind}
	alloc, ok := s.allocs[key]
	if !ok {
		now := s.now()
		alloc = domain.TeamAllocation{TeamID: teamID, Kind: kind, UsesLeft: seedUses, CreatedAt: now, UpdatedAt: now}
		s.allocs[key] = alloc
	}
	return &alloc, nil
}

func (s *state) GetAllocation(_ context.Context, teamID string, kind domain.PowerupKind) (*domain.TeamAllocation, error) {
	alloc, ok := s.allocs[allocKey{teamID: teamID, kind: kind}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &alloc, nil
}

func (s *state) ListAllocations(_ context.Context, teamID string) ([]domain.TeamAllocation, error) {
	allocs := make([]domain.TeamAllocation, 0)
	for key, alloc := range s.allocs {
		if key.teamID == teamID {
			allocs = append(allocs, alloc)
		}
	}
	sort.Slice(allocs, func(i, j int) bool { return allocs[i].Kind < allocs[j].Kind })
	return allocs, nil
}

func (s *state) SetAllocationUses(_ context.Context, teamID string, kind domain.PowerupKind, usesLeft int) error {
	key := allocKey{teamID: teamID, kind: kind}
	alloc, ok := s.allocs[key]
	if !ok {
		return repository.ErrNotFound
	}
	if usesLeft < 0 {
		return repository.ErrInvalidArgument
	}
	alloc.UsesLeft = usesLeft
	alloc.UpdatedAt = s.now()
	s.allocs[key] = alloc
	return nil
}

func (s *state) InsertEffect(_ context.Context, effect *domain.TemporalEffect) error {
	if effect == nil || effect.ID == "" {
		return repository.ErrInvalidArgument
	}
	if effect.ExpiresAt != nil && !effect.ExpiresAt.After(effect.AppliedAt) {
		return repository.ErrInvalidArgument
	}
	if _, ok := s.teams[effect.OwnerTeamID]; !ok {
		return repository.ErrNotFound
	}
	if effect.TargetTeamID != nil {
		if _, ok := s.teams[*effect.TargetTeamID]; !ok {
			return repository.ErrNotFound
		}
	}
	for _, existing := range s.effects {
		if existing.ID == effect.ID {
			return repository.ErrInvalidArgument
		}
	}
	s.effects = append(s.effects, *effect)
	return nil
}

func (s *state) FindActiveEffect(_ context.Context, teamID string, kind domain.PowerupKind, asOf time.Time) (*domain.TemporalEffect, error) {
	for _, effect := range s.effects {
		if effect.Kind == kind && effect.Subject() == teamID && effect.ActiveAt(asOf) {
			e := effect
			return &e, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *state) ListActiveEffects(_ context.Context, teamID string, asOf time.Time) ([]domain.TemporalEffect, error) {
	return s.filterActive(asOf, func(e domain.TemporalEffect) bool { return e.Involves(teamID) }), nil
}

func (s *state) ListActiveEffectsByKind(_ context.Context, kind domain.PowerupKind, asOf time.Time) ([]domain.TemporalEffect, error) {
	return s.filterActive(asOf, func(e domain.TemporalEffect) bool { return e.Kind == kind }), nil
}

func (s *state) filterActive(asOf time.Time, keep func(domain.TemporalEffect) bool) []domain.TemporalEffect {
	out := make([]domain.TemporalEffect, 0)
	for _, effect := range s.effects {
		if effect.ActiveAt(asOf) && keep(effect) {
			out = append(out, effect)
		}
	}
	return out
}

func (s *state) ConsumeEffect(_ context.Context, effectID string, at time.Time) error {
	for i := range s.effects {
		if s.effects[i].ID == effectID && s.effects[i].ConsumedAt == nil {
			consumed := at
			s.effects[i].ConsumedAt = &consumed
			return nil
		}
	}
	return repository.ErrNotFound
}
