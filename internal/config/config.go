// Package config loads the bot settings from the environment, after reading
// a .env file when one is present.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/keshon/mycelium/internal/script"
)

type Config struct {
	DiscordToken string   `env:"DISCORD_TOKEN,required,notEmpty"`
	GuildIDs     []string `env:"DISCORD_GUILD_IDS"`
	OwnerIDs     []string `env:"OWNER_IDS"`

	ScriptsDir      string   `env:"SCRIPTS_DIR" envDefault:"./scripts"`
	DisabledScripts []string `env:"DISABLED_SCRIPTS"`

	DataDir      string `env:"DATA_DIR" envDefault:"./data"`
	DatabasePath string `env:"DATABASE_PATH"`
	StoragePath  string `env:"STORAGE_PATH"`

	Debug           bool `env:"DEBUG"`
	LogCommands     bool `env:"LOG_COMMANDS" envDefault:"true"`
	AllowDMCommands bool `env:"ALLOW_DM_COMMANDS"`
	HotReload       bool `env:"HOT_RELOAD"`

	ContextPolicy     string `env:"CONTEXT_POLICY" envDefault:"shared"`
	ContextPoolSize   int    `env:"CONTEXT_POOL_SIZE" envDefault:"4"`
	DispatchWorkers   int    `env:"DISPATCH_WORKERS" envDefault:"8"`
	DispatchQueueSize int    `env:"DISPATCH_QUEUE_SIZE" envDefault:"128"`
	SchedulerWorkers  int    `env:"SCHEDULER_WORKERS" envDefault:"5"`

	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
	HTTPMaxAttempts int           `env:"HTTP_MAX_ATTEMPTS" envDefault:"3"`
}

// Load reads .env (if present) and the process environment. The returned
// bool reports whether a .env file was found.
func Load() (*Config, bool, error) {
	dotenv := true
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, false, fmt.Errorf("read .env: %w", err)
		}
		dotenv = false
	}
	cfg, err := parse(env.Options{})
	return cfg, dotenv, err
}

// FromMap parses settings from environ only, ignoring the process environment.
func FromMap(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.GuildIDs = cleanList(cfg.GuildIDs)
	cfg.OwnerIDs = cleanList(cfg.OwnerIDs)
	cfg.DisabledScripts = cleanList(cfg.DisabledScripts)
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "bot.db")
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = filepath.Join(cfg.DataDir, "datastore.json")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// cleanList trims list entries and drops empty ones, so "a.js, b.js," reads
// as two names.
func cleanList(in []string) []string {
	out := in[:0]
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Validate rejects settings the bot cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := script.ParsePolicy(c.ContextPolicy); err != nil {
		errs = append(errs, fmt.Errorf("CONTEXT_POLICY: %w", err))
	}
	positive := []struct {
		name string
		v    int
	}{
		{"CONTEXT_POOL_SIZE", c.ContextPoolSize},
		{"DISPATCH_WORKERS", c.DispatchWorkers},
		{"DISPATCH_QUEUE_SIZE", c.DispatchQueueSize},
		{"SCHEDULER_WORKERS", c.SchedulerWorkers},
		{"HTTP_MAX_ATTEMPTS", c.HTTPMaxAttempts},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.v))
		}
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout))
	}
	if c.ScriptsDir == "" {
		errs = append(errs, errors.New("SCRIPTS_DIR is empty"))
	}
	return errors.Join(errs...)
}

// IsOwner reports whether userID may run owner-only commands.
func (c *Config) IsOwner(userID string) bool {
	return slices.Contains(c.OwnerIDs, userID)
}
