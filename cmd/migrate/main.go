package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/splax/pwnarena/internal/app/migrate"
	"github.com/splax/pwnarena/pkg/config"
	"github.com/splax/pwnarena/pkg/logger"
)

func main() {
	command := flag.String("command", "up", "migrate command (up|status|version|down)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "target version for down command (optional)")
	envFile := flag.String("env-file", ".env", "dotenv file to load when present")
	flag.Parse()

	log := logger.New("migrate", logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Warn("could not load env file", "path", *envFile, "error", err)
	}
	cfg := config.LoadAPIConfig()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	switch *command {
	case "up":
		if err := runner.Ensure(ctx); err != nil {
			log.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
	case "status":
		if err := runner.Status(ctx); err != nil {
			log.Error("failed to fetch migration status", "error", err)
			os.Exit(1)
		}
	case "version":
		version, err := runner.Version(ctx)
		if err != nil {
			log.Error("failed to read schema version", "error", err)
			os.Exit(1)
		}
		log.Info("schema version", "version", version)
	case "down":
		if err := runner.Down(ctx, *target); err != nil {
			log.Error("failed to roll back migrations", "error", err)
			os.Exit(1)
		}
	default:
		log.Error("unsupported command", "command", *command)
		os.Exit(1)
	}

	log.Info("migration command completed", "command", *command)
}
