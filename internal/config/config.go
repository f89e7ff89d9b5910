package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment selects which deployment a process operates against.
// Staging and production use different buckets, credentials and
// notification targets; nothing else in the codebase branches on it.
type Environment string

const (
	EnvStaging    Environment = "staging"
	EnvProduction Environment = "production"
)

// ParseEnvironment normalizes a raw environment value.
func ParseEnvironment(raw string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(EnvStaging), "":
		return EnvStaging, nil
	case string(EnvProduction), "prod":
		return EnvProduction, nil
	default:
		return "", fmt.Errorf("unknown environment %q", raw)
	}
}

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment Environment
	LogLevel    string
	Port        string

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

	// Bucket is the object-store root holding produced data files,
	// e.g. s3://offsets-db-staging.
	Bucket string
	// ManifestURL is the default manifest location for ingestion runs.
	ManifestURL string

	// APIKey guards the file submission and audit endpoints.
	APIKey string

	SlackWebhookURL string
	SlackChannel    string
	// RunDetailBaseURL is prefixed to run ids in failure notifications.
	RunDetailBaseURL string

	Ingest IngestConfig
}

// IngestConfig controls the ingestion pipeline.
type IngestConfig struct {
	// Timeout bounds one whole run, aligned with the external scheduler.
	Timeout time.Duration
	// FetchAttempts is the per-file retry budget for transient errors.
	FetchAttempts int
	// AnomalyThreshold is the fractional row-count drop that is reported
	// as a post-commit anomaly (0.10 means a >10% drop).
	AnomalyThreshold float64
	// CreditMode chooses full-replace or upsert loading for credits.
	// Projects and clips always ship as full snapshots.
	CreditMode string
}

const (
	CreditModeReplace = "replace"
	CreditModeUpsert  = "upsert"
)

// Load loads configuration from environment variables and .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	env, err := ParseEnvironment(getenv("ENVIRONMENT", string(EnvStaging)))
	if err != nil {
		return Config{}, err
	}

	creditMode := strings.ToLower(getenv("INGEST_CREDIT_MODE", CreditModeReplace))
	if creditMode != CreditModeReplace && creditMode != CreditModeUpsert {
		return Config{}, fmt.Errorf("invalid INGEST_CREDIT_MODE %q", creditMode)
	}

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "offsetsdb"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: env,
		LogLevel:    getenv("LOG_LEVEL", "info"),
		Port:        getenv("PORT", "8000"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "offsetsdb"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),

		Bucket:           getenv("OFFSETS_BUCKET", defaultBucket(env)),
		ManifestURL:      getenv("OFFSETS_MANIFEST_URL", ""),
		APIKey:           strings.TrimSpace(getenv("API_KEY", "")),
		SlackWebhookURL:  strings.TrimSpace(getenv("SLACK_WEBHOOK_URL", "")),
		SlackChannel:     getenv("SLACK_CHANNEL", "#offsets-db"),
		RunDetailBaseURL: getenv("RUN_DETAIL_BASE_URL", ""),

		Ingest: IngestConfig{
			Timeout:          getenvDuration("INGEST_TIMEOUT", 30*time.Minute),
			FetchAttempts:    getenvInt("INGEST_FETCH_ATTEMPTS", 3),
			AnomalyThreshold: getenvFloat("INGEST_ANOMALY_THRESHOLD", 0.10),
			CreditMode:       creditMode,
		},
	}

	return cfg, nil
}

func defaultBucket(env Environment) string {
	if env == EnvProduction {
		return "s3://offsets-db"
	}
	return "s3://offsets-db-staging"
}

func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
