// Package common provides shared utilities for vire-screen
package common

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for vire-screen
type Config struct {
	Environment string              `toml:"environment"`
	Server      ServerConfig        `toml:"server"`
	Storage     StorageConfig       `toml:"storage"`
	Clients     ClientsConfig       `toml:"clients"`
	Scan        ScanConfig          `toml:"scan"`
	Universe    UniverseConfig      `toml:"universe"`
	DetectorA   SpikeOverrides      `toml:"detector_a"`
	DetectorB   TurnaroundOverrides `toml:"detector_b"`
	Logging     LoggingConfig       `toml:"logging"`

	// Warnings collects non-fatal load problems for logging once a logger exists
	Warnings []string `toml:"-"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig selects the persistence backend.
// Path is used by badger (directory) and sqlite (file); the remaining fields by surrealdb.
type StorageConfig struct {
	Backend   string `toml:"backend"`
	Path      string `toml:"path"`
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	EODHD EODHDConfig `toml:"eodhd"`
}

// EODHDConfig holds EODHD API configuration
type EODHDConfig struct {
	BaseURL      string `toml:"base_url"`
	APIKey       string `toml:"api_key"`
	RateLimit    int    `toml:"rate_limit"`
	Timeout      string `toml:"timeout"`
	MaxRetries   int    `toml:"max_retries"`
	RetryBackoff string `toml:"retry_backoff"`
}

// GetTimeout parses and returns the timeout duration
func (c *EODHDConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetRetryBackoff parses and returns the base retry backoff
func (c *EODHDConfig) GetRetryBackoff() time.Duration {
	d, err := time.ParseDuration(c.RetryBackoff)
	if err != nil {
		return 300 * time.Millisecond
	}
	return d
}

// ScanConfig holds scan orchestration settings.
// Zero values for ResultLimit and MinCandidateScore defer to the preset.
type ScanConfig struct {
	Preset            string `toml:"preset"`
	Concurrency       int    `toml:"concurrency"`
	ResultLimit       int    `toml:"result_limit"`
	MinCandidateScore int    `toml:"min_candidate_score"`
	MaxProcessed      int    `toml:"max_processed"`
	ScheduleInterval  string `toml:"schedule_interval"`
	ExchangeSuffix    string `toml:"exchange_suffix"`
	ProgressEvery     int    `toml:"progress_every"`
}

// GetScheduleInterval returns the scheduled scan interval, or 0 when disabled
func (c *ScanConfig) GetScheduleInterval() time.Duration {
	if c.ScheduleInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(c.ScheduleInterval)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// UniverseConfig selects where the default ticker universe comes from
type UniverseConfig struct {
	Source   string `toml:"source"`   // "file" or "exchange"
	File     string `toml:"file"`     // YAML universe file
	Exchange string `toml:"exchange"` // EODHD exchange code for symbol listing
	Sector   string `toml:"sector"`   // optional sector key within the YAML file
}

// DayWindowConfig is an inclusive day-of-month range
type DayWindowConfig struct {
	From int `toml:"from"`
	To   int `toml:"to"`
}

// SpikeOverrides adjusts the selected preset's Detector A settings. Nil fields keep the preset value.
type SpikeOverrides struct {
	PriceCeiling      *float64          `toml:"price_ceiling"`
	MarketCapCeiling  *float64          `toml:"market_cap_ceiling"`
	MinDailyVolume    *int64            `toml:"min_daily_volume"`
	MaxListingYears   *float64          `toml:"max_listing_years"`
	StickingRatio     *float64          `toml:"sticking_ratio"`
	MinStickingVolume *int64            `toml:"min_sticking_volume"`
	EarningsWindows   []DayWindowConfig `toml:"earnings_windows"`
	Cooldown          string            `toml:"cooldown"`
	TargetRate        *float64          `toml:"target_rate"`
	StopRate          *float64          `toml:"stop_rate"`
	MaxHoldDays       *int              `toml:"max_hold_days"`
}

// TurnaroundOverrides adjusts the selected preset's Detector B settings. Nil fields keep the preset value.
type TurnaroundOverrides struct {
	PriceCeiling       *float64          `toml:"price_ceiling"`
	MarketCapCeiling   *float64          `toml:"market_cap_ceiling"`
	MinDailyVolume     *int64            `toml:"min_daily_volume"`
	MinImprovementPct  *float64          `toml:"min_improvement_pct"`
	CrossoverThreshold *float64          `toml:"crossover_threshold"`
	MinBreakoutVolume  *int64            `toml:"min_breakout_volume"`
	ChangeMinPct       *float64          `toml:"change_min_pct"`
	ChangeMaxPct       *float64          `toml:"change_max_pct"`
	MaxYearDeclinePct  *float64          `toml:"max_year_decline_pct"`
	RequireBreakout    *bool             `toml:"require_breakout"`
	EarningsWindows    []DayWindowConfig `toml:"earnings_windows"`
	Cooldown           string            `toml:"cooldown"`
	TargetRate         *float64          `toml:"target_rate"`
	StopRate           *float64          `toml:"stop_rate"`
	MaxHoldDays        *int              `toml:"max_hold_days"`
}

// ParseCooldown returns the override cooldown, or fallback when empty or invalid
func ParseCooldown(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	// Accept day counts like "180d" alongside Go durations
	if strings.HasSuffix(s, "d") {
		if days, err := strconv.Atoi(strings.TrimSuffix(s, "d")); err == nil && days >= 0 {
			return time.Duration(days) * 24 * time.Hour
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Backend:   "badger",
			Path:      "data/screen",
			Address:   "ws://localhost:8000/rpc",
			Namespace: "vire",
			Database:  "screen",
			Username:  "root",
			Password:  "root",
		},
		Clients: ClientsConfig{
			EODHD: EODHDConfig{
				BaseURL:      "https://eodhd.com/api",
				RateLimit:    10,
				Timeout:      "10s",
				MaxRetries:   2,
				RetryBackoff: "300ms",
			},
		},
		Scan: ScanConfig{
			Preset:         "strict",
			Concurrency:    5,
			ExchangeSuffix: "TSE",
			ProgressEvery:  25,
		},
		Universe: UniverseConfig{
			Source: "file",
			File:   "config/universe.yaml",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// A .env file in the working directory is loaded first when present; a .env
// that cannot be read or parsed is reported in Config.Warnings.
func LoadConfig(paths ...string) (*Config, error) {
	dotenvErr := godotenv.Load()

	config := NewDefaultConfig()
	if dotenvErr != nil && !errors.Is(dotenvErr, fs.ErrNotExist) {
		config.Warnings = append(config.Warnings, fmt.Sprintf("ignoring .env: %v", dotenvErr))
	}

	// Later files override earlier
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("VIRE_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("VIRE_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("VIRE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("VIRE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if backend := os.Getenv("VIRE_STORAGE_BACKEND"); backend != "" {
		config.Storage.Backend = strings.ToLower(backend)
	}

	if path := os.Getenv("VIRE_DATA_PATH"); path != "" {
		config.Storage.Path = filepath.Join(path, "screen")
	}

	if addr := os.Getenv("VIRE_STORAGE_ADDRESS"); addr != "" {
		config.Storage.Address = addr
	}

	if preset := os.Getenv("VIRE_SCAN_PRESET"); preset != "" {
		config.Scan.Preset = strings.ToLower(preset)
	}

	if c := os.Getenv("VIRE_SCAN_CONCURRENCY"); c != "" {
		if n, err := strconv.Atoi(c); err == nil {
			config.Scan.Concurrency = n
		}
	}

	for _, name := range []string{"EODHD_API_KEY", "VIRE_EODHD_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			config.Clients.EODHD.APIKey = v
			break
		}
	}
}

// Validate rejects out-of-range settings before anything starts
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "badger", "surrealdb", "sqlite":
	default:
		return fmt.Errorf("invalid storage backend %q (supported: badger, surrealdb, sqlite)", c.Storage.Backend)
	}
	if c.Scan.Concurrency < 1 || c.Scan.Concurrency > 32 {
		return fmt.Errorf("scan concurrency must be between 1 and 32, got %d", c.Scan.Concurrency)
	}
	if c.Scan.ResultLimit < 0 || c.Scan.MaxProcessed < 0 {
		return fmt.Errorf("scan result_limit and max_processed must not be negative")
	}
	switch c.Universe.Source {
	case "file", "exchange":
	default:
		return fmt.Errorf("invalid universe source %q (supported: file, exchange)", c.Universe.Source)
	}
	return nil
}

