// Package migrate applies the goose migrations that define the powerup schema.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const runTimeout = time.Minute

// Runner wraps database migration capabilities.
type Runner struct {
	pool          *pgxpool.Pool
	dsn           string
	migrationsDir string
	log           *slog.Logger
}

// New returns a migration runner backed by goose.
func New(pool *pgxpool.Pool, dsn, migrationsDir string, log *slog.Logger) (Runner, error) {
	if pool == nil {
		return Runner{}, errors.New("nil pool provided")
	}
	if dsn == "" {
		return Runner{}, errors.New("empty database dsn")
	}
	if migrationsDir == "" {
		return Runner{}, errors.New("empty migrations directory")
	}
	if _, err := os.Stat(migrationsDir); err != nil {
		return Runner{}, fmt.Errorf("locate migrations dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return Runner{pool: pool, dsn: dsn, migrationsDir: migrationsDir, log: log}, nil
}

// Ensure applies pending migrations.
func (r Runner) Ensure(ctx context.Context) error {
	return r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		r.log.Info("applying migrations", "dir", r.migrationsDir)
		results, err := p.Up(ctx)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		for _, res := range results {
			r.log.Info("migration applied", "version", res.Source.Version, "duration_ms", res.Duration.Milliseconds())
		}
		return nil
	})
}

// Status logs every known migration with its state.
func (r Runner) Status(ctx context.Context) error {
	return r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		for _, st := range statuses {
			fields := []any{"version", st.Source.Version, "state", string(st.State)}
			if !st.AppliedAt.IsZero() {
				fields = append(fields, "applied_at", st.AppliedAt.UTC().Format(time.RFC3339))
			}
			r.log.Info("migration", fields...)
		}
		return nil
	})
}

// Version reports the current schema version.
func (r Runner) Version(ctx context.Context) (int64, error) {
	var version int64
	err := r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		v, err := p.GetDBVersion(ctx)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}

// Down rolls back migrations either to the previous version or a specific target version.
func (r Runner) Down(ctx context.Context, targetVersion int64) error {
	return r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		if targetVersion > 0 {
			r.log.Info("rolling back migrations", "target", targetVersion)
			if _, err := p.DownTo(ctx, targetVersion); err != nil {
				return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
			}
		} else {
			r.log.Info("rolling back latest migration")
			if _, err := p.Down(ctx); err != nil {
				return fmt.Errorf("rollback latest migration: %w", err)
			}
		}
		r.log.Info("rollback complete")
		return nil
	})
}

// Ping ensures the database connection is alive.
func (r Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases underlying connections.
func (r Runner) Close() {
	r.pool.Close()
}

func (r Runner) withProvider(ctx context.Context, fn func(context.Context, *goose.Provider) error) error {
	db, err := sql.Open("pgx", r.dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer db.Close()

	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	if err := db.PingContext(runCtx); err != nil {
		return fmt.Errorf("ping sql connection: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, os.DirFS(r.migrationsDir))
	if err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	defer provider.Close()
	return fn(runCtx, provider)
}
