package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/smallbiznis/sentinel/pkg/db"
	"go.uber.org/fx"
)

// Module provides application and database configuration.
var Module = fx.Module("config",
	fx.Provide(
		Load,
		NewEngineConfigHolder,
		ProvideDBConfig,
	),
)

// Config holds process-level configuration sourced from the environment.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimit     RateLimitConfig
	Scoring       ScoringConfig
	RescoreWorker RescoreWorkerConfig
	MetricsPush   MetricsPushConfig
	Bootstrap     BootstrapConfig
}

// BootstrapConfig controls first-run seeding so a fresh install can score
// without manual reference-data loading.
type BootstrapConfig struct {
	SeedCountryRisk bool
}

// ScoringConfig bounds the cross-client fan-out of batch scoring runs.
type ScoringConfig struct {
	BatchWorkers int
}

// RescoreWorkerConfig drives the background processor that replays pending
// re-score signals.
type RescoreWorkerConfig struct {
	Enabled         bool
	IntervalSeconds int
	BatchSize       int
	TimeoutSeconds  int
}

// RateLimitConfig configures the redis-backed ingest limiter and client locks.
type RateLimitConfig struct {
	Enabled bool

	IngestClientRate    float64
	IngestClientBurst   int
	IngestEndpointRate  float64
	IngestEndpointBurst int

	ClientLockTTLSeconds int
}

// MetricsPushConfig configures the outbound metrics pusher.
type MetricsPushConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:           getenv("APP_SERVICE", "sentinel"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "sentinel"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
		RateLimit: RateLimitConfig{
			Enabled:              getenvBool("RATE_LIMIT_ENABLED", false),
			IngestClientRate:     getenvFloat("RATE_LIMIT_INGEST_CLIENT_RATE", 50),
			IngestClientBurst:    getenvInt("RATE_LIMIT_INGEST_CLIENT_BURST", 100),
			IngestEndpointRate:   getenvFloat("RATE_LIMIT_INGEST_ENDPOINT_RATE", 500),
			IngestEndpointBurst:  getenvInt("RATE_LIMIT_INGEST_ENDPOINT_BURST", 1000),
			ClientLockTTLSeconds: getenvInt("RATE_LIMIT_CLIENT_LOCK_TTL_SECONDS", 30),
		},
		Scoring: ScoringConfig{
			BatchWorkers: getenvInt("SCORING_BATCH_WORKERS", 4),
		},
		RescoreWorker: RescoreWorkerConfig{
			Enabled:         getenvBool("RESCORE_WORKER_ENABLED", true),
			IntervalSeconds: getenvInt("RESCORE_WORKER_INTERVAL_SECONDS", 30),
			BatchSize:       getenvInt("RESCORE_WORKER_BATCH_SIZE", 50),
			TimeoutSeconds:  getenvInt("RESCORE_WORKER_TIMEOUT_SECONDS", 120),
		},
		MetricsPush: MetricsPushConfig{
			Enabled:   getenvBool("METRICS_PUSH_ENABLED", false),
			Exporter:  strings.ToLower(getenv("METRICS_PUSH_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
		},
		Bootstrap: BootstrapConfig{
			SeedCountryRisk: getenvBool("BOOTSTRAP_SEED_COUNTRY_RISK", true),
		},
	}
}

// ProvideDBConfig maps application configuration onto the database package config.
func ProvideDBConfig(cfg Config) db.Config {
	return db.Config{
		Type:            cfg.DBType,
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		Name:            cfg.DBName,
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		SSLMode:         cfg.DBSSLMode,
		MaxIdleConn:     cfg.DBMaxIdleConn,
		MaxOpenConn:     cfg.DBMaxOpenConn,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
