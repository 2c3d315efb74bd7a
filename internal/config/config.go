package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Values of STORE_DRIVER.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config is the server configuration, read from the environment by Load.
type Config struct {
	HTTPAddr string
	LogLevel string

	StoreDriver    string
	DatabaseURL    string
	DBMaxOpenConns int

	KafkaBrokers []string
	KafkaTopic   string

	RedisAddr      string
	IdempotencyTTL time.Duration

	RetryMaxAttempts int
	RetryBackoffStep time.Duration

	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration

	OTLPEndpoint     string
	TraceSampleRatio float64
}

var defaults = map[string]any{
	"HTTP_ADDR":            ":8080",
	"LOG_LEVEL":            "info",
	"STORE_DRIVER":         StoreMemory,
	"DATABASE_URL":         "",
	"DB_MAX_OPEN_CONNS":    25,
	"KAFKA_BROKERS":        "",
	"KAFKA_TOPIC":          "ledger.entries",
	"REDIS_ADDR":           "",
	"IDEMPOTENCY_TTL":      "24h",
	"RETRY_MAX_ATTEMPTS":   3,
	"RETRY_BACKOFF_STEP":   "100ms",
	"BREAKER_MAX_FAILURES": 5,
	"BREAKER_OPEN_TIMEOUT": "30s",

	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"TRACE_SAMPLE_RATIO":          1.0,
}

// Load reads the given .env files (".env" when none is given; missing files
// are ignored) into the environment and builds a Config from it.
// Variables already set in the environment win over .env values.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	cfg := &Config{
		HTTPAddr:           v.GetString("HTTP_ADDR"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		StoreDriver:        strings.ToLower(v.GetString("STORE_DRIVER")),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		DBMaxOpenConns:     v.GetInt("DB_MAX_OPEN_CONNS"),
		KafkaBrokers:       splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:         v.GetString("KAFKA_TOPIC"),
		RedisAddr:          v.GetString("REDIS_ADDR"),
		IdempotencyTTL:     v.GetDuration("IDEMPOTENCY_TTL"),
		RetryMaxAttempts:   v.GetInt("RETRY_MAX_ATTEMPTS"),
		RetryBackoffStep:   v.GetDuration("RETRY_BACKOFF_STEP"),
		BreakerMaxFailures: v.GetUint32("BREAKER_MAX_FAILURES"),
		BreakerOpenTimeout: v.GetDuration("BREAKER_OPEN_TIMEOUT"),
		OTLPEndpoint:       v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:   v.GetFloat64("TRACE_SAMPLE_RATIO"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts))
	}
	if c.RetryBackoffStep <= 0 {
		errs = append(errs, fmt.Errorf("RETRY_BACKOFF_STEP must be positive, got %s", c.RetryBackoffStep))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("TRACE_SAMPLE_RATIO must be within [0, 1], got %g", c.TraceSampleRatio))
	}
	if c.RedisAddr != "" && c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_TTL must be positive when REDIS_ADDR is set"))
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
