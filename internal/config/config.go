// Package config loads the engine configuration from a YAML file with
// environment overrides. Precedence, lowest to highest: built-in defaults,
// the config file, environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AI     AIConfig     `yaml:"ai" validate:"required"`
	Store  StoreConfig  `yaml:"store" validate:"required"`
	Engine EngineConfig `yaml:"engine" validate:"required"`
}

// AIConfig points the generative client at an OpenAI-compatible endpoint.
type AIConfig struct {
	APIKey            string `yaml:"api_key" env:"SERIALIST_API_KEY" validate:"required,min=20"`
	Model             string `yaml:"model" env:"SERIALIST_MODEL" validate:"required"`
	BaseURL           string `yaml:"base_url" env:"SERIALIST_BASE_URL" validate:"required,url"`
	TimeoutSeconds    int    `yaml:"timeout" validate:"required,min=10,max=3600"`
	RequestsPerMinute int    `yaml:"requests_per_minute" validate:"required,min=1,max=1000"`
	BurstSize         int    `yaml:"burst_size" validate:"required,min=1,max=100"`
}

func (a AIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// StoreConfig locates the SQLite database file.
type StoreConfig struct {
	Path string `yaml:"path" env:"SERIALIST_DB" validate:"required"`
}

// EngineConfig bounds the generation loop.
type EngineConfig struct {
	MaxAttempts    int      `yaml:"max_attempts" validate:"required,min=1,max=10"`
	HardFailLimit  int      `yaml:"hard_fail_limit" validate:"required,min=1,max=20"`
	RetryDelay     Duration `yaml:"retry_delay" validate:"min=0"`
	PollInterval   Duration `yaml:"poll_interval" validate:"min=0"`
	AcceptDegraded bool     `yaml:"accept_degraded"`
}

// Duration is a time.Duration that reads "250ms"/"2s" style YAML values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func Default() *Config {
	return &Config{
		AI: AIConfig{
			Model:             "gpt-4.1",
			BaseURL:           "https://api.openai.com/v1",
			TimeoutSeconds:    900,
			RequestsPerMinute: 30,
			BurstSize:         15,
		},
		Store: StoreConfig{
			Path: defaultStorePath(),
		},
		Engine: EngineConfig{
			MaxAttempts:   3,
			HardFailLimit: 3,
			RetryDelay:    Duration(500 * time.Millisecond),
			PollInterval:  Duration(2 * time.Second),
		},
	}
}

// Load reads the config file at path, or the default location when path is
// empty. A missing file is not an error: defaults plus environment overrides
// apply. The result is always validated.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = getConfigPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("reading environment overrides: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func getConfigPath() string {
	// 1. Explicit config path via environment variable.
	if path := os.Getenv("SERIALIST_CONFIG"); path != "" {
		return path
	}

	// 2. XDG_CONFIG_HOME (XDG Base Directory Specification).
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "serialist", "config.yaml")
	}

	// 3. Default to ~/.config/serialist/config.yaml (XDG fallback).
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "serialist", "config.yaml")
}

func defaultStorePath() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "serialist", "serialist.db")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "serialist", "serialist.db")
}

// expandTilde expands a tilde (~) at the beginning of a path to the user's
// home directory.
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// applyDefaults backfills fields a sparse config file left zero.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	} else {
		c.Store.Path = expandTilde(c.Store.Path)
	}
	if c.AI.Model == "" {
		c.AI.Model = def.AI.Model
	}
	if c.AI.BaseURL == "" {
		c.AI.BaseURL = def.AI.BaseURL
	}
	if c.AI.TimeoutSeconds == 0 {
		c.AI.TimeoutSeconds = def.AI.TimeoutSeconds
	}
	if c.AI.RequestsPerMinute == 0 {
		c.AI.RequestsPerMinute = def.AI.RequestsPerMinute
	}
	if c.AI.BurstSize == 0 {
		c.AI.BurstSize = def.AI.BurstSize
	}
	if c.Engine.MaxAttempts == 0 {
		c.Engine = def.Engine
	}
}

func (c *Config) validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Save writes the config to path, masking the API key with an environment
// placeholder.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	cfgToSave := *cfg
	cfgToSave.AI.APIKey = "${SERIALIST_API_KEY}"

	data, err := yaml.Marshal(&cfgToSave)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
