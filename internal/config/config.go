package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
)

// Config holds application configuration.
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

	RateLimit RateLimitConfig
	Reconcile ReconcileConfig
}

// RateLimitConfig controls redis-backed submission throttling and the
// per-(business, customer, action) submission lock.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SubmitRate        float64
	SubmitBurst       int
	SubmitLockTTLSecs int
}

// ReconcileConfig controls the pending-request recovery sweep.
type ReconcileConfig struct {
	Enabled              bool
	RunIntervalSeconds   int
	BatchSize            int
	PendingThresholdSecs int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_SERVICE", "memberledger")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4317")

	v.SetDefault("DATABASE_TYPE", "postgres")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_NAME", "memberledger")
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE_MAX_OPEN_CONN", 25)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", 0)
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", 0)

	v.SetDefault("RATE_LIMIT_ENABLED", false)
	v.SetDefault("RATE_LIMIT_REDIS_ADDR", "")
	v.SetDefault("RATE_LIMIT_REDIS_PASSWORD", "")
	v.SetDefault("RATE_LIMIT_REDIS_DB", 0)
	v.SetDefault("RATE_LIMIT_SUBMIT_RATE", 5.0)
	v.SetDefault("RATE_LIMIT_SUBMIT_BURST", 10)
	v.SetDefault("RATE_LIMIT_SUBMIT_LOCK_TTL_SECONDS", 10)

	v.SetDefault("RECONCILE_ENABLED", true)
	v.SetDefault("RECONCILE_RUN_INTERVAL_SECONDS", 60)
	v.SetDefault("RECONCILE_BATCH_SIZE", 50)
	v.SetDefault("RECONCILE_PENDING_THRESHOLD_SECONDS", 300)

	return Config{
		AppName:     strings.TrimSpace(v.GetString("APP_SERVICE")),
		AppVersion:  strings.TrimSpace(v.GetString("APP_VERSION")),
		Environment: strings.TrimSpace(v.GetString("ENVIRONMENT")),
		HTTPAddr:    strings.TrimSpace(v.GetString("HTTP_ADDR")),

		OTLPEndpoint: strings.TrimSpace(v.GetString("OTLP_ENDPOINT")),

		DBType:            v.GetString("DATABASE_TYPE"),
		DBHost:            v.GetString("DATABASE_HOST"),
		DBPort:            v.GetString("DATABASE_PORT"),
		DBName:            v.GetString("DATABASE_NAME"),
		DBUser:            v.GetString("DATABASE_USER"),
		DBPassword:        v.GetString("DATABASE_PASSWORD"),
		DBSSLMode:         v.GetString("DATABASE_SSLMODE"),
		DBMaxIdleConn:     v.GetInt("DATABASE_MAX_IDLE_CONN"),
		DBMaxOpenConn:     v.GetInt("DATABASE_MAX_OPEN_CONN"),
		DBConnMaxLifetime: v.GetInt("DATABASE_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTime: v.GetInt("DATABASE_CONN_MAX_IDLE_TIME"),

		RateLimit: RateLimitConfig{
			Enabled:           v.GetBool("RATE_LIMIT_ENABLED"),
			RedisAddr:         strings.TrimSpace(v.GetString("RATE_LIMIT_REDIS_ADDR")),
			RedisPassword:     strings.TrimSpace(v.GetString("RATE_LIMIT_REDIS_PASSWORD")),
			RedisDB:           v.GetInt("RATE_LIMIT_REDIS_DB"),
			SubmitRate:        v.GetFloat64("RATE_LIMIT_SUBMIT_RATE"),
			SubmitBurst:       v.GetInt("RATE_LIMIT_SUBMIT_BURST"),
			SubmitLockTTLSecs: v.GetInt("RATE_LIMIT_SUBMIT_LOCK_TTL_SECONDS"),
		},
		Reconcile: ReconcileConfig{
			Enabled:              v.GetBool("RECONCILE_ENABLED"),
			RunIntervalSeconds:   v.GetInt("RECONCILE_RUN_INTERVAL_SECONDS"),
			BatchSize:            v.GetInt("RECONCILE_BATCH_SIZE"),
			PendingThresholdSecs: v.GetInt("RECONCILE_PENDING_THRESHOLD_SECONDS"),
		},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}
