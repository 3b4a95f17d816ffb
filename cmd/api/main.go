package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/splax/pwnarena/internal/app/migrate"
	"github.com/splax/pwnarena/internal/events"
	httpx "github.com/splax/pwnarena/internal/http"
	"github.com/splax/pwnarena/internal/repository/postgres"
	"github.com/splax/pwnarena/internal/service/catalog"
	"github.com/splax/pwnarena/internal/service/powerup"
	"github.com/splax/pwnarena/internal/ws"
	"github.com/splax/pwnarena/pkg/config"
	"github.com/splax/pwnarena/pkg/logger"
)

func main() {
	log := logger.New("api", logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("could not load .env", "error", err)
	}
	cfg := config.LoadAPIConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if cfg.MigrateOnStart {
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}

	repo := postgres.New(pool)

	defs := catalog.Defaults()
	if path := strings.TrimSpace(cfg.CatalogPath); path != "" {
		defs, err = catalog.LoadFile(path)
		if err != nil {
			log.Error("failed to load powerup catalog", "path", path, "error", err)
			os.Exit(1)
		}
	}
	if err := catalog.New(repo, log).Seed(ctx, defs); err != nil {
		log.Error("failed to seed powerup catalog", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub(cfg.WSBuffer)
	defer hub.Close()
	publishers := events.Fanout{events.NewTeamFeed(hub)}
	if url := strings.TrimSpace(cfg.NatsURL); url != "" {
		natsPub, err := events.NewNATSPublisher(url, cfg.NatsSubject, log)
		if err != nil {
			log.Warn("nats publisher unavailable", "error", err)
		} else {
			defer natsPub.Close()
			publishers = append(publishers, natsPub)
		}
	}

	opts := []powerup.Option{powerup.WithPublisher(publishers)}
	if seed := cfg.Economy.LuckyDrawSeed; seed != 0 {
		opts = append(opts, powerup.WithRandom(powerup.NewSeededRandom(uint64(seed))))
	}
	powerupSvc := powerup.New(repo, powerup.SettingsFromConfig(cfg.Economy), log, opts...)

	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable, falling back to memory", "error", err)
		} else {
			limiter = redisLimiter
		}
	}
	if limiter == nil {
		limiter = httpx.NewMemoryRateLimiter(nil)
	}

	router := httpx.NewRouter(log, powerupSvc, hub, limiter, httpx.Config{
		JWTSecret:    cfg.JWTSecret,
		ScoringToken: cfg.ScoringToken,
		UseLimit:     cfg.RateLimitPerMinute,
		DBHealth:     pool.Ping,
	})
	defer router.Close()

	c := cors.New(cors.Options{
		AllowedOrigins: strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
