package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// Config holds all runtime configuration for the order router
type Config struct {
	Env      string
	Port     int
	LogLevel string
	Debug    bool

	DatabasePath string
	// RedisURL selects the Redis queue and live status store; empty runs both in memory
	RedisURL      string
	LiveStatusTTL time.Duration
	QueueBuffer   int

	WorkerConcurrency int
	MaxAttempts       int
	BackoffBase       time.Duration

	SimBasePrice     float64
	SimQuoteLatency  time.Duration
	SimSettleLatency time.Duration
	SimSettleJitter  time.Duration
	SimSuccessRate   float64

	CORSAllowedOrigins []string
	ShutdownTimeout    time.Duration
}

// Load reads an optional .env file then environment variables, applies
// defaults and validates. Variables already set in the environment win over
// the file. All problems are reported together.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	} else {
		_ = godotenv.Load()
	}

	var r reader
	cfg := &Config{
		Env:      r.getStr("ENV", "development"),
		Port:     r.getInt("PORT", 8080),
		LogLevel: strings.ToLower(r.getStr("LOG_LEVEL", "info")),
		Debug:    r.getBool("DEBUG", false),

		DatabasePath:  r.getStr("DATABASE_PATH", "orders.db"),
		RedisURL:      r.getStr("REDIS_URL", ""),
		LiveStatusTTL: r.getDuration("LIVE_STATUS_TTL", time.Hour),
		QueueBuffer:   r.getInt("QUEUE_BUFFER", 1024),

		WorkerConcurrency: r.getInt("WORKER_CONCURRENCY", 10),
		MaxAttempts:       r.getInt("MAX_ATTEMPTS", 3),
		BackoffBase:       r.getDuration("BACKOFF_BASE", time.Second),

		SimBasePrice:     r.getFloat("SIM_BASE_PRICE", 100),
		SimQuoteLatency:  r.getDuration("SIM_QUOTE_LATENCY", 200*time.Millisecond),
		SimSettleLatency: r.getDuration("SIM_SETTLE_LATENCY", 2*time.Second),
		SimSettleJitter:  r.getDuration("SIM_SETTLE_JITTER", time.Second),
		SimSuccessRate:   r.getFloat("SIM_SUCCESS_RATE", 1),

		CORSAllowedOrigins: r.getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		ShutdownTimeout:    r.getDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
	}

	if err := multierr.Append(r.err, cfg.Validate()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var err error

	if c.Port < 1 || c.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if _, lerr := zerolog.ParseLevel(c.LogLevel); lerr != nil || c.LogLevel == "" {
		err = multierr.Append(err, fmt.Errorf("LOG_LEVEL %q is not a valid level", c.LogLevel))
	}
	if c.DatabasePath == "" {
		err = multierr.Append(err, errors.New("DATABASE_PATH must not be empty"))
	}
	if c.LiveStatusTTL < 0 {
		err = multierr.Append(err, errors.New("LIVE_STATUS_TTL must not be negative"))
	}
	if c.QueueBuffer <= 0 {
		err = multierr.Append(err, errors.New("QUEUE_BUFFER must be greater than 0"))
	}
	if c.WorkerConcurrency <= 0 {
		err = multierr.Append(err, errors.New("WORKER_CONCURRENCY must be greater than 0"))
	}
	if c.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("MAX_ATTEMPTS must be greater than 0"))
	}
	if c.BackoffBase < 0 {
		err = multierr.Append(err, errors.New("BACKOFF_BASE must not be negative"))
	}
	if c.SimBasePrice <= 0 {
		err = multierr.Append(err, errors.New("SIM_BASE_PRICE must be positive"))
	}
	if c.SimQuoteLatency < 0 || c.SimSettleLatency < 0 || c.SimSettleJitter < 0 {
		err = multierr.Append(err, errors.New("simulator latencies must not be negative"))
	}
	if c.SimSuccessRate <= 0 || c.SimSuccessRate > 1 {
		err = multierr.Append(err, fmt.Errorf("SIM_SUCCESS_RATE must be in (0,1], got %v", c.SimSuccessRate))
	}
	if c.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}

	return err
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Level is the global log level; DEBUG=true forces debug
func (c *Config) Level() zerolog.Level {
	if c.Debug {
		return zerolog.DebugLevel
	}
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// reader collects parse errors so Load can report every bad variable at once
type reader struct {
	err error
}

func (r *reader) getStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (r *reader) getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return f
}

func (r *reader) getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return b
}

func (r *reader) getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) getList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
