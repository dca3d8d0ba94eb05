package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config keeps runtime settings for the planner engine.
type Config struct {
	DatabaseURL string          `yaml:"database_url"`
	Listen      string          `yaml:"listen"`
	Log         LogConfig       `yaml:"log"`
	Scheduler   SchedulerConfig `yaml:"scheduler"`
	API         APIConfig       `yaml:"api"`
	Preview     PreviewConfig   `yaml:"preview"`
	Telegram    TelegramConfig  `yaml:"telegram"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// SchedulerConfig controls the background materialization loop.
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	// BackfillLimit caps how many occurrences one rule may materialize per run.
	BackfillLimit int `yaml:"backfill_limit"`
	// Workers bounds how many rules are processed in parallel within a run.
	Workers     int           `yaml:"workers"`
	Timezone    string        `yaml:"timezone"` // IANA TZ, e.g. "Europe/Berlin"
	HistorySize int           `yaml:"history_size"`
	RunTimeout  time.Duration `yaml:"run_timeout"`
}

type APIConfig struct {
	// TriggerPerMinute rate-limits manual "process now" requests.
	TriggerPerMinute int `yaml:"trigger_per_minute"`
}

type PreviewConfig struct {
	MaxWindowDays int `yaml:"max_window_days"`
	MaxLimit      int `yaml:"max_limit"`
}

type TelegramConfig struct {
	Token    string  `yaml:"token"`
	AdminIDs []int64 `yaml:"admin_ids"`
}

// Default returns an in-memory default configuration.
func Default() Config {
	return Config{
		DatabaseURL: "planner.db",
		Listen:      "127.0.0.1:8080",
		Log:         LogConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			Interval:      5 * time.Minute,
			BackfillLimit: 1,
			Workers:       4,
			HistorySize:   50,
		},
		API:     APIConfig{TriggerPerMinute: 6},
		Preview: PreviewConfig{MaxWindowDays: 366, MaxLimit: 500},
	}
}

// Normalize fills in missing/zero values so partially filled files still work.
func (c *Config) Normalize() {
	def := Default()
	if strings.TrimSpace(c.DatabaseURL) == "" {
		c.DatabaseURL = def.DatabaseURL
	}
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = def.Listen
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = def.Scheduler.Interval
	}
	if c.Scheduler.BackfillLimit <= 0 {
		c.Scheduler.BackfillLimit = def.Scheduler.BackfillLimit
	}
	if c.Scheduler.Workers <= 0 {
		c.Scheduler.Workers = def.Scheduler.Workers
	}
	if c.Scheduler.HistorySize <= 0 {
		c.Scheduler.HistorySize = def.Scheduler.HistorySize
	}
	if c.Scheduler.RunTimeout < 0 {
		c.Scheduler.RunTimeout = 0
	}
	if c.API.TriggerPerMinute <= 0 {
		c.API.TriggerPerMinute = def.API.TriggerPerMinute
	}
	if c.Preview.MaxWindowDays <= 0 {
		c.Preview.MaxWindowDays = def.Preview.MaxWindowDays
	}
	if c.Preview.MaxLimit <= 0 {
		c.Preview.MaxLimit = def.Preview.MaxLimit
	}
}

// Validate rejects settings that cannot be normalized away.
func (c Config) Validate() error {
	if c.Scheduler.Interval < time.Second {
		return fmt.Errorf("scheduler.interval must be at least 1s, got %s", c.Scheduler.Interval)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves scheduler.timezone; empty means the process local zone.
func (c Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone %q: %w", tz, err)
	}
	return loc, nil
}

// Load reads the YAML file at path, creating it with defaults on first run,
// then applies environment overrides.
func Load(path string) (Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	cfg.Normalize()
	return cfg, cfg.Validate()
}

func readFile(path string) (Config, error) {
	if path == "" {
		return Default(), errors.New("config path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := Default()
			if err := Save(path, cfg); err != nil {
				return cfg, fmt.Errorf("write default config: %w", err)
			}
			return cfg, nil
		}
		return Default(), fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv lets deployment environments override the file.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("PLANNER_LISTEN")); v != "" {
		cfg.Listen = v
	}
	if d := parseInterval(strings.TrimSpace(os.Getenv("PLANNER_INTERVAL"))); d > 0 {
		cfg.Scheduler.Interval = d
	}
}

// parseInterval accepts a Go duration ("90s", "5m") or a bare number of minutes.
func parseInterval(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	if minutes, err := strconv.Atoi(raw); err == nil {
		if minutes <= 0 {
			return 0
		}
		return time.Duration(minutes) * time.Minute
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// Save writes cfg to path atomically (temp file + rename) with 0600 permissions.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".planner-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
