package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"

	"github.com/Dannytownkins/Ember-sub000/internal/jobs"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the capture service.
// Environment variables are parsed from the EMBER_ prefix.
type Config struct {
	// Build target selects the high-level environment: local or cloud
	BuildTarget string `envconfig:"BUILD_TARGET" default:"cloud"`

	// DBDriver is derived from BuildTarget when "auto" or empty
	DBDriver string `envconfig:"DB_DRIVER" default:"auto"`

	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string      `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// SQLite Configuration (local target)
	SQLitePath string `envconfig:"SQLITE_PATH" default:"data/ember.db"`

	// Postgres Configuration
	PostgresDSN     string `envconfig:"POSTGRES_DSN" default:""`
	PostgresAppRole string `envconfig:"POSTGRES_APP_ROLE" default:"ember_app"`
	MigrateOnStart  bool   `envconfig:"MIGRATE_ON_START" default:"true"`

	// Extraction Configuration
	OpenAIAPIKey      string        `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL     string        `envconfig:"OPENAI_BASE_URL" default:""`
	ExtractionModel   string        `envconfig:"EXTRACTION_MODEL" default:"gpt-4o-mini"`
	VisionModel       string        `envconfig:"VISION_MODEL" default:""`
	ExtractionTimeout time.Duration `envconfig:"EXTRACTION_TIMEOUT" default:"60s"`
	TokenEncoding     string        `envconfig:"TOKEN_ENCODING" default:"cl100k_base"`

	// Capture limits
	MinChars      int   `envconfig:"CAPTURE_MIN_CHARS" default:"50"`
	MaxChars      int   `envconfig:"CAPTURE_MAX_CHARS" default:"100000"`
	MaxImages     int   `envconfig:"CAPTURE_MAX_IMAGES" default:"10"`
	MaxImageBytes int64 `envconfig:"CAPTURE_MAX_IMAGE_BYTES" default:"10485760"`

	// Pipeline
	DispatchGrace time.Duration `envconfig:"DISPATCH_GRACE" default:"5m"`

	// Admission: submissions per profile per window; zero disables
	AdmissionLimit  int           `envconfig:"ADMISSION_LIMIT" default:"30"`
	AdmissionWindow time.Duration `envconfig:"ADMISSION_WINDOW" default:"1m"`

	// Runner and retry sweep (EMBER_JOBS_*, EMBER_SWEEP_*)
	Jobs  jobs.Config      `envconfig:"JOBS"`
	Sweep jobs.SweepConfig `envconfig:"SWEEP"`

	// Health probes
	HealthInterval     time.Duration `envconfig:"HEALTH_INTERVAL" default:"15s"`
	HealthProbeTimeout time.Duration `envconfig:"HEALTH_PROBE_TIMEOUT" default:"2s"`
	StartupTimeout     time.Duration `envconfig:"STARTUP_TIMEOUT" default:"60s"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// ResolveDefaults validates BuildTarget and derives DBDriver when set to "auto" or empty.
func (c *Config) ResolveDefaults() error {
	var defaultDB string

	switch c.BuildTarget {
	case "local":
		defaultDB = "sqlite"
	case "cloud":
		defaultDB = "postgres"
	default:
		return fmt.Errorf("unsupported BUILD_TARGET: %s", c.BuildTarget)
	}

	if c.DBDriver == "" || c.DBDriver == "auto" {
		c.DBDriver = defaultDB
	}

	allowedDB := map[string]bool{"postgres": true, "sqlite": true}
	if !allowedDB[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("DB_DRIVER postgres requires POSTGRES_DSN")
	}
	if c.DBDriver == "sqlite" && c.SQLitePath == "" {
		return fmt.Errorf("DB_DRIVER sqlite requires SQLITE_PATH")
	}
	if c.MinChars <= 0 || c.MaxChars < c.MinChars {
		return fmt.Errorf("invalid capture char bounds: %d..%d", c.MinChars, c.MaxChars)
	}
	return nil
}

// New creates a new Config by parsing environment variables
// Environment variables should be prefixed with EMBER_
// Example: EMBER_HTTP_PORT, EMBER_JOBS_WORKERS
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("EMBER", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("build_target", cfg.BuildTarget).
		Str("db_driver", cfg.DBDriver).
		Str("environment", string(cfg.Environment)).
		Int("port", cfg.HTTPPort).
		Bool("postgres_dsn_present", cfg.PostgresDSN != "").
		Bool("openai_key_present", cfg.OpenAIAPIKey != "").
		Str("extraction_model", cfg.ExtractionModel).
		Str("token_encoding", cfg.TokenEncoding).
		Int("workers", cfg.Jobs.Workers).
		Int("max_attempts", cfg.Jobs.MaxAttempts).
		Dur("sweep_interval", cfg.Sweep.Interval).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	cfg := &Config{
		Environment: EnvTesting,
		BuildTarget: "local",
		DBDriver:    "auto",
		HTTPPort:    8080,
		SQLitePath:  "data/ember.db",

		PostgresAppRole:   "ember_app",
		ExtractionModel:   "gpt-4o-mini",
		ExtractionTimeout: 5 * time.Second,
		TokenEncoding:     "cl100k_base",

		MinChars:      50,
		MaxChars:      100000,
		MaxImages:     10,
		MaxImageBytes: 10 << 20,

		DispatchGrace:      5 * time.Minute,
		AdmissionWindow:    time.Minute,
		HealthInterval:     time.Second,
		HealthProbeTimeout: time.Second,
		StartupTimeout:     5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
	}
	cfg.Jobs = jobs.Config{Workers: 2, QueueSize: 16, MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxInterval: 10 * time.Millisecond}
	cfg.Sweep = jobs.SweepConfig{BatchSize: 10, Interval: 50 * time.Millisecond, Lease: time.Minute}
	return cfg
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
