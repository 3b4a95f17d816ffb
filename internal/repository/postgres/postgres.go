package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/pwnarena/internal/domain"
	"github.com/splax/pwnarena/internal/repository"
)

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	queries
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{queries: queries{db: pool}, pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.PowerupRepository = (*Repository)(nil)
	_ repository.Store             = queries{}
)

// WithinTx runs fn in a READ COMMITTED transaction. Row locks taken by the
// store methods provide the per-row serialization the engine relies on.
func (r *Repository) WithinTx(ctx context.Context, fn func(repository.Store) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(queries{db: tx}); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

// classify tags failures that are worth re-running the whole transaction for.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrTransient) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %w", repository.ErrTransient, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", repository.ErrTransient, err)
	}
	return err
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return repository.ErrNotFound
		case "23514", "22P02", "23505":
			return repository.ErrInvalidArgument
		}
	}
	return err
}

type queries struct {
	db querier
}

// GetDefinition fetches a catalog entry by kind.
func (q queries) GetDefinition(ctx context.Context, kind domain.PowerupKind) (*domain.PowerupDefinition, error) {
	const query = `SELECT kind, cost, max_uses, is_active, description, updated_at
		FROM powerup_definitions WHERE kind = $1`
	def, err := scanDefinition(q.db.QueryRow(ctx, query, string(kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return def, nil
}

// ListDefinitions returns every catalog entry.
func (q queries) ListDefinitions(ctx context.Context) ([]domain.PowerupDefinition, error) {
	const query = `SELECT kind, cost, max_uses, is_active, description, updated_at
		FROM powerup_definitions ORDER BY kind`
	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := make([]domain.PowerupDefinition, 0)
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, rows.Err()
}

// UpsertDefinition creates or replaces a catalog entry.
func (q queries) UpsertDefinition(ctx context.Context, def *domain.PowerupDefinition) error {
	if def == nil {
		return repository.ErrInvalidArgument
	}
	const query = `INSERT INTO powerup_definitions (kind, cost, max_uses, is_active, description, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (kind) DO UPDATE SET
			cost = EXCLUDED.cost,
			max_uses = EXCLUDED.max_uses,
			is_active = EXCLUDED.is_active,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at
		RETURNING updated_at`
	var updatedAt time.Time
	if err := q.db.QueryRow(ctx, query, string(def.Kind), def.Cost, def.MaxUses, def.IsActive, def.Description).Scan(&updatedAt); err != nil {
		return mapWriteError(err)
	}
	def.UpdatedAt = updatedAt
	return nil
}

func scanDefinition(row pgx.Row) (*domain.PowerupDefinition, error) {
	var (
		def  domain.PowerupDefinition
		kind string
	)
	if err := row.Scan(&kind, &def.Cost, &def.MaxUses, &def.IsActive, &def.Description, &def.UpdatedAt); err != nil {
		return nil, err
	}
	def.Kind = domain.PowerupKind(kind)
	return &def, nil
}

// GetTeamByID returns a team by identifier.
func (q queries) GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error) {
	const query = `SELECT id, name, points, created_at FROM teams WHERE id = $1`
	return q.getTeam(ctx, query, teamID)
}

// GetTeamByName returns a team by its unique name.
func (q queries) GetTeamByName(ctx context.Context, name string) (*domain.Team, error) {
	const query = `SELECT id, name, points, created_at FROM teams WHERE name = $1`
	return q.getTeam(ctx, query, name)
}

func (q queries) getTeam(ctx context.Context, query string, arg string) (*domain.Team, error) {
	var team domain.Team
	if err := q.db.QueryRow(ctx, query, arg).Scan(&team.ID, &team.Name, &team.Points, &team.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &team, nil
}

// ListTeams returns every team ordered by name.
func (q queries) ListTeams(ctx context.Context) ([]domain.Team, error) {
	const query = `SELECT id, name, points, created_at FROM teams ORDER BY name`
	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	teams := make([]domain.Team, 0)
	for rows.Next() {
		var team domain.Team
		if err := rows.Scan(&team.ID, &team.Name, &team.Points, &team.CreatedAt); err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

// LockTeamPoints takes row locks on the balances in id order so that concurrent
// transfers sharing a team cannot deadlock.
func (q queries) LockTeamPoints(ctx context.Context, teamIDs ...string) (map[string]int64, error) {
	wanted := make(map[string]struct{}, len(teamIDs))
	ids := make([]string, 0, len(teamIDs))
	for _, id := range teamIDs {
		if _, ok := wanted[id]; ok {
			continue
		}
		wanted[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return map[string]int64{}, nil
	}
	const query = `SELECT id, points FROM teams WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	rows, err := q.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := make(map[string]int64, len(ids))
	for rows.Next() {
		var (
			id     string
			points int64
		)
		if err := rows.Scan(&id, &points); err != nil {
			return nil, err
		}
		balances[id] = points
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(balances) != len(ids) {
		return nil, repository.ErrNotFound
	}
	return balances, nil
}

// SetTeamPoints overwrites a team's balance.
func (q queries) SetTeamPoints(ctx context.Context, teamID string, points int64) error {
	const query = `UPDATE teams SET points = $2 WHERE id = $1`
	tag, err := q.db.Exec(ctx, query, teamID, points)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// LockAllocation creates the row when absent and then locks it. The insert and
// the locking read run in the caller's transaction, so two first uses racing on
// the same key both end up waiting on the same row.
func (q queries) LockAllocation(ctx context.Context, teamID string, kind domain.PowerupKind, seedUses int) (*domain.TeamAllocation, error) {
	const insert = `INSERT INTO team_powerup_allocations (team_id, kind, uses_left, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (team_id, kind) DO NOTHING`
	if _, err := q.db.Exec(ctx, insert, teamID, string(kind), seedUses); err != nil {
		return nil, mapWriteError(err)
	}
	const query = `SELECT team_id, kind, uses_left, created_at, updated_at
		FROM team_powerup_allocations WHERE team_id = $1 AND kind = $2 FOR UPDATE`
	alloc, err := scanAllocation(q.db.QueryRow(ctx, query, teamID, string(kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return alloc, nil
}

// GetAllocation reads an allocation without locking it.
func (q queries) GetAllocation(ctx context.Context, teamID string, kind domain.PowerupKind) (*domain.TeamAllocation, error) {
	const query = `SELECT team_id, kind, uses_left, created_at, updated_at
		FROM team_powerup_allocations WHERE team_id = $1 AND kind = $2`
	alloc, err := scanAllocation(q.db.QueryRow(ctx, query, teamID, string(kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return alloc, nil
}

// ListAllocations returns all allocation rows of a team.
func (q queries) ListAllocations(ctx context.Context, teamID string) ([]domain.TeamAllocation, error) {
	const query = `SELECT team_id, kind, uses_left, created_at, updated_at
		FROM team_powerup_allocations WHERE team_id = $1 ORDER BY kind`
	rows, err := q.db.Query(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	allocs := make([]domain.TeamAllocation, 0)
	for rows.Next() {
		alloc, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		allocs = append(allocs, *alloc)
	}
	return allocs, rows.Err()
}

// SetAllocationUses writes a new remaining-uses count.
func (q queries) SetAllocationUses(ctx context.Context, teamID string, kind domain.PowerupKind, usesLeft int) error {
	const query = `UPDATE team_powerup_allocations SET uses_left = $3, updated_at = NOW()
		WHERE team_id = $1 AND kind = $2`
	tag, err := q.db.Exec(ctx, query, teamID, string(kind), usesLeft)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanAllocation(row pgx.Row) (*domain.TeamAllocation, error) {
	var (
		alloc domain.TeamAllocation
		kind  string
	)
	if err := row.Scan(&alloc.TeamID, &kind, &alloc.UsesLeft, &alloc.CreatedAt, &alloc.UpdatedAt); err != nil {
		return nil, err
	}
	alloc.Kind = domain.PowerupKind(kind)
	return &alloc, nil
}

const (
	effectColumns = `id, owner_team_id, target_team_id, kind, applied_at, expires_at,
		until_consumed, consumed_at, point_delta, detail`
	// activeAt expects the evaluation timestamp as $1.
	activeAt = `(consumed_at IS NULL OR consumed_at > $1)
		AND (expires_at > $1 OR (expires_at IS NULL AND until_consumed))`
)

// InsertEffect stores a new effect row.
func (q queries) InsertEffect(ctx context.Context, effect *domain.TemporalEffect) error {
	if effect == nil {
		return repository.ErrInvalidArgument
	}
	const query = `INSERT INTO powerup_effects (` + effectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := q.db.Exec(ctx, query,
		effect.ID,
		effect.OwnerTeamID,
		effect.TargetTeamID,
		string(effect.Kind),
		effect.AppliedAt,
		effect.ExpiresAt,
		effect.UntilConsumed,
		effect.ConsumedAt,
		effect.PointDelta,
		effect.Detail,
	)
	return mapWriteError(err)
}

// FindActiveEffect returns the oldest active effect of kind keyed on teamID.
func (q queries) FindActiveEffect(ctx context.Context, teamID string, kind domain.PowerupKind, asOf time.Time) (*domain.TemporalEffect, error) {
	column := "owner_team_id"
	if kind.Protective() {
		column = "target_team_id"
	}
	query := `SELECT ` + effectColumns + ` FROM powerup_effects
		WHERE ` + column + ` = $2 AND kind = $3 AND ` + activeAt + `
		ORDER BY applied_at, id LIMIT 1`
	effect, err := scanEffect(q.db.QueryRow(ctx, query, asOf, teamID, string(kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return effect, nil
}

// ListActiveEffects returns active effects owned by or targeting the team.
func (q queries) ListActiveEffects(ctx context.Context, teamID string, asOf time.Time) ([]domain.TemporalEffect, error) {
	const query = `SELECT ` + effectColumns + ` FROM powerup_effects
		WHERE (owner_team_id = $2 OR target_team_id = $2) AND ` + activeAt + `
		ORDER BY applied_at, id`
	return q.listEffects(ctx, query, asOf, teamID)
}

// ListActiveEffectsByKind returns every active effect of a kind.
func (q queries) ListActiveEffectsByKind(ctx context.Context, kind domain.PowerupKind, asOf time.Time) ([]domain.TemporalEffect, error) {
	const query = `SELECT ` + effectColumns + ` FROM powerup_effects
		WHERE kind = $2 AND ` + activeAt + `
		ORDER BY applied_at, id`
	return q.listEffects(ctx, query, asOf, string(kind))
}

func (q queries) listEffects(ctx context.Context, query string, args ...any) ([]domain.TemporalEffect, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	effects := make([]domain.TemporalEffect, 0)
	for rows.Next() {
		effect, err := scanEffect(rows)
		if err != nil {
			return nil, err
		}
		effects = append(effects, *effect)
	}
	return effects, rows.Err()
}

// ConsumeEffect closes an effect's window at the given time.
func (q queries) ConsumeEffect(ctx context.Context, effectID string, at time.Time) error {
	const query = `UPDATE powerup_effects SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL`
	tag, err := q.db.Exec(ctx, query, effectID, at)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanEffect(row pgx.Row) (*domain.TemporalEffect, error) {
	var (
		effect domain.TemporalEffect
		kind   string
	)
	if err := row.Scan(
		&effect.ID,
		&effect.OwnerTeamID,
		&effect.TargetTeamID,
		&kind,
		&effect.AppliedAt,
		&effect.ExpiresAt,
		&effect.UntilConsumed,
		&effect.ConsumedAt,
		&effect.PointDelta,
		&effect.Detail,
	); err != nil {
		return nil, err
	}
	effect.Kind = domain.PowerupKind(kind)
	return &effect, nil
}
