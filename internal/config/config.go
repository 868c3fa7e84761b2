package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Conceptual-Machines/magda-bebop/internal/features"
	"github.com/Conceptual-Machines/magda-bebop/internal/solo"
)

// Auth modes
const (
	AuthModeNone    = "none"
	AuthModeGateway = "gateway"
	AuthModeJWT     = "jwt"
)

// Config holds the application configuration
type Config struct {
	// Environment
	Environment string
	Port        string

	// Observability
	SentryDSN string

	// Auth mode
	// - "none": No auth (local dev, on-stage laptop)
	// - "gateway": Trust X-User-* headers from an upstream gateway
	// - "jwt": Validate HS256 bearer tokens signed with JWTSecret
	AuthMode  string
	JWTSecret string

	// Optional Postgres for build and feedback history
	DatabaseURL string

	// Melody database
	MIDISourceDir  string
	SnapshotDir    string // empty keeps snapshots in memory only
	WatchSourceDir bool
	SeedExamples   bool

	// Generator and extractor parameters, overlaid from SOLO_CONFIG_FILE
	Solo    solo.Config
	Segment features.SegmentOptions
}

// fileOverlay is the layout of SOLO_CONFIG_FILE
type fileOverlay struct {
	Solo    *solo.Config             `yaml:"solo"`
	Segment *features.SegmentOptions `yaml:"segment"`
}

// Load reads the environment. Generator settings start from the defaults,
// then SOLO_CONFIG_FILE, then the individual env keys.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		Port:           getEnv("PORT", "8080"),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
		AuthMode:       getEnv("AUTH_MODE", AuthModeNone), // Default to no auth for local use
		JWTSecret:      getEnv("JWT_SECRET", ""),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		MIDISourceDir:  getEnv("MIDI_SOURCE_DIR", "./midi_files"),
		SnapshotDir:    getEnv("SNAPSHOT_DIR", ""),
		WatchSourceDir: getEnv("WATCH_SOURCE_DIR", "false") == "true",
		SeedExamples:   getEnv("SEED_EXAMPLES", "true") == "true",
		Solo:           solo.DefaultConfig(),
		Segment:        features.DefaultSegmentOptions(),
	}

	if path := getEnv("SOLO_CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read solo config file: %w", err)
	}
	overlay := fileOverlay{Solo: &c.Solo, Segment: &c.Segment}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("decode solo config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error
	if c.Solo.Tempo, err = getEnvFloat("DEFAULT_TEMPO", c.Solo.Tempo); err != nil {
		return err
	}
	ms, err := getEnvInt("QUERY_TIMEOUT_MS", int(c.Solo.QueryTimeout/time.Millisecond))
	if err != nil {
		return err
	}
	c.Solo.QueryTimeout = time.Duration(ms) * time.Millisecond
	if c.Solo.AcceptanceThreshold, err = getEnvFloat("ACCEPTANCE_THRESHOLD", c.Solo.AcceptanceThreshold); err != nil {
		return err
	}
	if c.Solo.MaxDissonance, err = getEnvFloat("MAX_DISSONANCE", c.Solo.MaxDissonance); err != nil {
		return err
	}
	if c.Solo.K, err = getEnvInt("RETRIEVAL_K", c.Solo.K); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	switch c.AuthMode {
	case AuthModeNone, AuthModeGateway:
	case AuthModeJWT:
		if c.JWTSecret == "" {
			return fmt.Errorf("AUTH_MODE=jwt requires JWT_SECRET")
		}
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}
	if err := c.Solo.Validate(); err != nil {
		return fmt.Errorf("solo config: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// IsGatewayMode returns true if running behind a gateway
func (c *Config) IsGatewayMode() bool {
	return c.AuthMode == AuthModeGateway
}

// IsProduction reports whether ENVIRONMENT is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// HistoryEnabled reports whether a database was configured
func (c *Config) HistoryEnabled() bool {
	return c.DatabaseURL != ""
}
