// Package config loads the application configuration: the reusable core
// settings plus the appeal service sections.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // zone names must resolve on hosts without zoneinfo

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/m3rciful/appealbot/core/cache"
	coreconfig "github.com/m3rciful/appealbot/core/config"
	coredatabase "github.com/m3rciful/appealbot/core/database"
	"github.com/m3rciful/appealbot/internal/admission"
)

const (
	// StateMemory keeps conversation state in process.
	StateMemory = "memory"
	// StateRedis keeps conversation state in Redis.
	StateRedis = "redis"
)

// FlowConfig controls conversation state.
type FlowConfig struct {
	SessionTTL time.Duration `yaml:"session_ttl" envconfig:"FLOW_SESSION_TTL"`
	// StateBackend is "memory" or "redis"; empty picks redis when configured.
	StateBackend string `yaml:"state_backend" envconfig:"FLOW_STATE_BACKEND"`
}

// AdmissionConfig mirrors admission.Config in file form.
type AdmissionConfig struct {
	RateLimitCount     int           `yaml:"rate_limit_count" envconfig:"ADMISSION_RATE_LIMIT_COUNT"`
	RateLimitWindow    time.Duration `yaml:"rate_limit_window" envconfig:"ADMISSION_RATE_LIMIT_WINDOW"`
	BlockDuration      time.Duration `yaml:"block_duration" envconfig:"ADMISSION_BLOCK_DURATION"`
	DuplicateLookback  time.Duration `yaml:"duplicate_lookback"`
	DuplicateThreshold float64       `yaml:"duplicate_threshold"`
	DuplicateKeep      int           `yaml:"duplicate_keep"`
	InvalidLimit       int           `yaml:"invalid_limit"`
	InvalidWindow      time.Duration `yaml:"invalid_window"`
	BlockFloor         int           `yaml:"block_floor"`
}

// Policy converts the section; zero values fall back to the defaults.
func (a AdmissionConfig) Policy() admission.Config {
	return admission.Config{
		RateLimitCount:     a.RateLimitCount,
		RateLimitWindow:    a.RateLimitWindow,
		BlockDuration:      a.BlockDuration,
		DuplicateLookback:  a.DuplicateLookback,
		DuplicateThreshold: a.DuplicateThreshold,
		DuplicateKeep:      a.DuplicateKeep,
		InvalidLimit:       a.InvalidLimit,
		InvalidWindow:      a.InvalidWindow,
		BlockFloor:         a.BlockFloor,
	}
}

// ModerationConfig configures the OpenAI-compatible classifier and formatter.
type ModerationConfig struct {
	Enabled bool          `yaml:"enabled" envconfig:"MODERATION_ENABLED"`
	APIKey  string        `yaml:"api_key" envconfig:"OPENAI_API_KEY"`
	BaseURL string        `yaml:"base_url" envconfig:"OPENAI_BASE_URL"`
	Model   string        `yaml:"model" envconfig:"OPENAI_MODEL"`
	Timeout time.Duration `yaml:"timeout" envconfig:"OPENAI_TIMEOUT"`
	// Format enables the optional wording improvement step.
	Format bool `yaml:"format" envconfig:"MODERATION_FORMAT"`
}

// I18nConfig selects languages and the zone user-facing times are shown in.
type I18nConfig struct {
	DefaultLanguage string `yaml:"default_language" envconfig:"I18N_DEFAULT_LANGUAGE"`
	ChannelLanguage string `yaml:"channel_language" envconfig:"I18N_CHANNEL_LANGUAGE"`
	Timezone        string `yaml:"timezone" envconfig:"I18N_TIMEZONE"`
}

// DefaultTimezone is where the service's users live.
const DefaultTimezone = "Asia/Tashkent"

// Location resolves Timezone; Normalize has already validated it.
func (c I18nConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SeedConfig points at optional reference data.
type SeedConfig struct {
	CatalogPath string `yaml:"catalog_path" envconfig:"SEED_CATALOG_PATH"`
}

// Config is the full application configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database   coredatabase.Config `yaml:"database"`
	Redis      cache.Config        `yaml:"redis"`
	Flow       FlowConfig          `yaml:"flow"`
	Admission  AdmissionConfig     `yaml:"admission"`
	Moderation ModerationConfig    `yaml:"moderation"`
	I18n       I18nConfig          `yaml:"i18n"`
	Seed       SeedConfig          `yaml:"seed"`
}

// CoreConfig exposes the embedded core section to the runner.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and normalizes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates the application sections and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return err
	}

	if err := cfg.Database.Normalize(); err != nil {
		return err
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Flow.StateBackend))
	switch backend {
	case "":
		backend = StateMemory
		if cfg.Redis.Enabled() {
			backend = StateRedis
		}
	case StateMemory:
	case StateRedis:
		if !cfg.Redis.Enabled() {
			return fmt.Errorf("redis.addr is required when flow.state_backend is 'redis'")
		}
	default:
		return fmt.Errorf("flow.state_backend must be 'memory' or 'redis', got %q", cfg.Flow.StateBackend)
	}
	cfg.Flow.StateBackend = backend
	if cfg.Flow.SessionTTL <= 0 {
		cfg.Flow.SessionTTL = 30 * time.Minute
	}

	if cfg.Moderation.Enabled && strings.TrimSpace(cfg.Moderation.APIKey) == "" {
		return fmt.Errorf("moderation.api_key is required when moderation is enabled")
	}
	if cfg.Moderation.Model == "" {
		cfg.Moderation.Model = "gpt-4o-mini"
	}
	if cfg.Moderation.Timeout <= 0 {
		cfg.Moderation.Timeout = 15 * time.Second
	}

	if cfg.I18n.DefaultLanguage == "" {
		cfg.I18n.DefaultLanguage = "uz"
	}
	if cfg.I18n.ChannelLanguage == "" {
		cfg.I18n.ChannelLanguage = cfg.I18n.DefaultLanguage
	}
	if cfg.I18n.Timezone == "" {
		cfg.I18n.Timezone = DefaultTimezone
	}
	if _, err := time.LoadLocation(cfg.I18n.Timezone); err != nil {
		return fmt.Errorf("invalid i18n.timezone %q: %w", cfg.I18n.Timezone, err)
	}
	return nil
}
