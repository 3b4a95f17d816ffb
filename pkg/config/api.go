package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	MigrateOnStart     bool
	JWTSecret          string
	ScoringToken       string
	CatalogPath        string
	CORSOrigins        string
	RateLimitPerMinute int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	NatsURL            string
	NatsSubject        string
	WSBuffer           int
	Economy            EconomyConfig
}

// EconomyConfig carries the tunable constants of the powerup effects.
type EconomyConfig struct {
	LuckyDrawChance  float64
	LuckyDrawSeed    int
	ShieldDuration   time.Duration
	SabotageDuration time.Duration
	SabotagePoints   int
	AirstrikePoints  int
	SiphonCap        int
	SiphonDivisor    int
	SiphonDuration   time.Duration
}

// DefaultEconomy returns the stock effect constants.
func DefaultEconomy() EconomyConfig {
	return EconomyConfig{
		LuckyDrawChance:  0.2,
		ShieldDuration:   15 * time.Minute,
		SabotageDuration: 10 * time.Minute,
		SabotagePoints:   500,
		AirstrikePoints:  300,
		SiphonCap:        50,
		SiphonDivisor:    10,
		SiphonDuration:   5 * time.Minute,
	}
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://arena:arena@db:5432/arena?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		MigrateOnStart:     GetBool("DB_MIGRATE_ON_START", true),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		ScoringToken:       GetString("SCORING_TOKEN", ""),
		CatalogPath:        GetString("POWERUP_CATALOG_PATH", ""),
		CORSOrigins:        GetString("CORS_ALLOWED_ORIGINS", "*"),
		RateLimitPerMinute: GetInt("POWERUP_RATE_LIMIT_PER_MINUTE", 30),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		NatsURL:            GetString("NATS_URL", ""),
		NatsSubject:        GetString("NATS_POWERUP_SUBJECT", "arena.powerups.used"),
		WSBuffer:           GetInt("WS_EVENT_BUFFER", 64),
		Economy:            LoadEconomyConfig(),
	}
}

// LoadEconomyConfig reads the effect constants, defaulting each one.
func LoadEconomyConfig() EconomyConfig {
	def := DefaultEconomy()
	return EconomyConfig{
		LuckyDrawChance:  GetFloat("LUCKY_DRAW_CHANCE", def.LuckyDrawChance),
		LuckyDrawSeed:    GetInt("LUCKY_DRAW_SEED", 0),
		ShieldDuration:   time.Duration(GetInt("SHIELD_DURATION_MIN", 15)) * time.Minute,
		SabotageDuration: time.Duration(GetInt("SABOTAGE_DURATION_MIN", 10)) * time.Minute,
		SabotagePoints:   GetInt("SABOTAGE_POINTS", def.SabotagePoints),
		AirstrikePoints:  GetInt("AIRSTRIKE_POINTS", def.AirstrikePoints),
		SiphonCap:        GetInt("SIPHON_CAP", def.SiphonCap),
		SiphonDivisor:    GetInt("SIPHON_DIVISOR", def.SiphonDivisor),
		SiphonDuration:   GetDuration("SIPHON_DURATION", def.SiphonDuration),
	}
}
