package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the HandHunter server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Analyzer AnalyzerConfig
	Jobs     JobsConfig
	Audit    AuditConfig
}

type ServerConfig struct {
	Port              int
	Env               string
	RequestsPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

// AnalyzerConfig points at the hand analysis engine backend.
type AnalyzerConfig struct {
	BackendURL      string
	MaxAttempts     int
	AttemptTimeout  time.Duration
	RetryBaseDelay  time.Duration
	DefaultPlatform string
}

type JobsConfig struct {
	Timeout           time.Duration
	RateLimitPerHour  int
	MaxSegmentSeconds float64
	Workers           int
	QueueSize         int
}

type AuditConfig struct {
	Schedule string
	Window   time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:              envInt("HANDHUNTER_PORT", 8080),
			Env:               envString("HANDHUNTER_ENV", "development"),
			RequestsPerMinute: envInt("API_REQUESTS_PER_MINUTE", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Analyzer: AnalyzerConfig{
			BackendURL:      strings.TrimRight(os.Getenv("HAE_BACKEND_URL"), "/"),
			MaxAttempts:     envInt("ANALYZER_MAX_ATTEMPTS", 3),
			AttemptTimeout:  envDurationSecs("ANALYZER_ATTEMPT_TIMEOUT_SECS", 300*time.Second),
			RetryBaseDelay:  envDuration("ANALYZER_RETRY_BASE_DELAY", 2*time.Second),
			DefaultPlatform: envString("ANALYZER_DEFAULT_PLATFORM", "ept"),
		},
		Jobs: JobsConfig{
			Timeout:           envDurationSecs("JOB_TIMEOUT_SECS", 600*time.Second),
			RateLimitPerHour:  envInt("JOB_RATE_LIMIT_PER_HOUR", 5),
			MaxSegmentSeconds: float64(envInt("JOB_MAX_SEGMENT_SECS", 7200)),
			Workers:           envInt("JOB_WORKERS", 4),
			QueueSize:         envInt("JOB_QUEUE_SIZE", 64),
		},
		Audit: AuditConfig{
			Schedule: envString("AUDIT_SCHEDULE", "@every 6h"),
			Window:   envDuration("AUDIT_WINDOW", 24*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Analyzer.BackendURL == "" {
		return fmt.Errorf("HAE_BACKEND_URL is required")
	}
	if !strings.HasPrefix(c.Analyzer.BackendURL, "http://") && !strings.HasPrefix(c.Analyzer.BackendURL, "https://") {
		return fmt.Errorf("HAE_BACKEND_URL must start with http:// or https://, got %q", c.Analyzer.BackendURL)
	}
	if c.Analyzer.MaxAttempts < 1 {
		return fmt.Errorf("ANALYZER_MAX_ATTEMPTS must be at least 1, got %d", c.Analyzer.MaxAttempts)
	}
	if c.Analyzer.AttemptTimeout < time.Second {
		return fmt.Errorf("ANALYZER_ATTEMPT_TIMEOUT_SECS must be at least 1, got %s", c.Analyzer.AttemptTimeout)
	}

	if c.Jobs.Workers < 1 {
		return fmt.Errorf("JOB_WORKERS must be at least 1, got %d", c.Jobs.Workers)
	}
	if c.Jobs.QueueSize < 1 {
		return fmt.Errorf("JOB_QUEUE_SIZE must be at least 1, got %d", c.Jobs.QueueSize)
	}
	if c.Jobs.Timeout < time.Second {
		return fmt.Errorf("JOB_TIMEOUT_SECS must be at least 1, got %s", c.Jobs.Timeout)
	}
	if c.Jobs.MaxSegmentSeconds < 1 {
		return fmt.Errorf("JOB_MAX_SEGMENT_SECS must be at least 1, got %g", c.Jobs.MaxSegmentSeconds)
	}
	if c.Jobs.RateLimitPerHour < 1 {
		return fmt.Errorf("JOB_RATE_LIMIT_PER_HOUR must be at least 1, got %d", c.Jobs.RateLimitPerHour)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
