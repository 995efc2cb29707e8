// Package config loads the tool configuration from an optional YAML file with
// environment-variable overrides. Environment always wins, so a handheld can
// be pointed at another backend without editing files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment override variables
const (
	EnvAPIURL      = "CONTEO_API_URL"
	EnvAPIToken    = "CONTEO_API_TOKEN"
	EnvJournalPath = "CONTEO_JOURNAL_PATH"
	EnvDebounceMs  = "CONTEO_DEBOUNCE_MS"
)

// Config is the full tool configuration
type Config struct {
	API     APIConfig     `yaml:"api"`
	Journal JournalConfig `yaml:"journal"`
	Capture CaptureConfig `yaml:"capture"`
}

// APIConfig configures the REST persistence collaborator
type APIConfig struct {
	BaseURL           string  `yaml:"base_url"`
	Token             string  `yaml:"token"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// JournalConfig configures the local audit journal
type JournalConfig struct {
	// Path is empty to disable journaling
	Path string `yaml:"path"`
}

// CaptureConfig tunes the capture session
type CaptureConfig struct {
	DebounceMs     int `yaml:"debounce_ms"`
	SavedDisplayMs int `yaml:"saved_display_ms"`
	MaxInFlight    int `yaml:"max_in_flight"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		API: APIConfig{
			TimeoutSeconds:    10,
			RequestsPerSecond: 0,
		},
		Journal: JournalConfig{
			Path: defaultJournalPath(),
		},
		Capture: CaptureConfig{
			DebounceMs:     200,
			SavedDisplayMs: 1500,
			MaxInFlight:    4,
		},
	}
}

func defaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.conteo/journal.db"
}

// Load builds the configuration: defaults, then the YAML file at path (when
// path is empty a missing default file is fine), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home + "/.conteo/config.yaml"
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case os.IsNotExist(err) && !explicit:
			// No config file is a valid setup
		default:
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		cfg.API.Token = v
	}
	if v := os.Getenv(EnvJournalPath); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv(EnvDebounceMs); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Capture.DebounceMs = ms
		}
	}
}

// Validate checks the configuration is usable
func (c Config) Validate() error {
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be positive (got %d)", c.API.TimeoutSeconds)
	}
	if c.Capture.DebounceMs <= 0 {
		return fmt.Errorf("capture.debounce_ms must be positive (got %d)", c.Capture.DebounceMs)
	}
	if c.Capture.MaxInFlight <= 0 {
		return fmt.Errorf("capture.max_in_flight must be positive (got %d)", c.Capture.MaxInFlight)
	}
	return nil
}

// APITimeout returns the API timeout as a duration
func (c Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// Debounce returns the capture debounce interval
func (c Config) Debounce() time.Duration {
	return time.Duration(c.Capture.DebounceMs) * time.Millisecond
}

// SavedDisplay returns how long the saved indicator lingers
func (c Config) SavedDisplay() time.Duration {
	return time.Duration(c.Capture.SavedDisplayMs) * time.Millisecond
}
