// Package config loads daemon configuration from a TOML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Household HouseholdConfig `toml:"household"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Notify    NotifyConfig    `toml:"notify"`
	Logging   LoggingConfig   `toml:"logging"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// HouseholdConfig locates the household in time. Timezone decides what
// "today" means for every sweep and rotation decision.
type HouseholdConfig struct {
	Timezone string `toml:"timezone"`
}

type SchedulerConfig struct {
	DailyHour        int `toml:"daily_hour"`        // local hour the daily sweep runs
	FrequentMinutes  int `toml:"frequent_minutes"`  // frequent sweep interval
	WatchdogRetries  int `toml:"watchdog_retries"`  // max self-triggered daily sweeps per day
	LockWaitSeconds  int `toml:"lock_wait_seconds"` // per-occurrence lock wait bound
}

type NotifyConfig struct {
	ListenAddr string `toml:"listen_addr"` // hook listener endpoint; empty disables
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Path: "hearth.db",
		},
		Household: HouseholdConfig{
			Timezone: "Local",
		},
		Scheduler: SchedulerConfig{
			DailyHour:       0,
			FrequentMinutes: 5,
			WatchdogRetries: 3,
			LockWaitSeconds: 5,
		},
		Notify: NotifyConfig{
			ListenAddr: "127.0.0.1:8745",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a TOML config file, filling unset fields with defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Scheduler.DailyHour < 0 || c.Scheduler.DailyHour > 23 {
		return fmt.Errorf("scheduler.daily_hour must be 0-23, got %d", c.Scheduler.DailyHour)
	}
	if c.Scheduler.FrequentMinutes < 1 {
		return fmt.Errorf("scheduler.frequent_minutes must be at least 1, got %d", c.Scheduler.FrequentMinutes)
	}
	if c.Scheduler.WatchdogRetries < 0 {
		return fmt.Errorf("scheduler.watchdog_retries must not be negative")
	}
	if c.Scheduler.LockWaitSeconds < 1 {
		return fmt.Errorf("scheduler.lock_wait_seconds must be at least 1")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("household.timezone: %w", err)
	}
	return nil
}

// Location resolves the household timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Household.Timezone == "" || c.Household.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Household.Timezone)
}
