// Package config loads opnotify settings from a YAML file.
//
// Every field has a default, so an absent file or an empty document yields
// a usable Config. Command-line flags are applied on top by the CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultDBPath is the confirmation store used when none is configured.
	DefaultDBPath = "opnotify.db"

	// DefaultMaxListenersPerEntity caps the waiters parked per (entity, level).
	DefaultMaxListenersPerEntity = 4096

	// DefaultPollInterval is how often the store feed looks for new confirmations.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultSweepInterval is how often abandoned waiters are pruned.
	DefaultSweepInterval = 30 * time.Second
)

// Config holds the notifier settings.
type Config struct {
	DB                    string        `yaml:"db"`
	MaxListenersPerEntity int           `yaml:"max_listeners_per_entity"`
	PollInterval          time.Duration `yaml:"poll_interval"`
	SweepInterval         time.Duration `yaml:"sweep_interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DB:                    DefaultDBPath,
		MaxListenersPerEntity: DefaultMaxListenersPerEntity,
		PollInterval:          DefaultPollInterval,
		SweepInterval:         DefaultSweepInterval,
	}
}

// Load reads a YAML config file. Fields missing from the file keep their
// defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults and validates the result.
// Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "poll_intervall"
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the notifier cannot use.
func (c Config) Validate() error {
	var errs []error
	if c.DB == "" {
		errs = append(errs, errors.New("db: must not be empty"))
	}
	if c.MaxListenersPerEntity < 1 {
		errs = append(errs, fmt.Errorf("max_listeners_per_entity: must be at least 1, got %d", c.MaxListenersPerEntity))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval: must be positive, got %s", c.PollInterval))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("sweep_interval: must not be negative, got %s", c.SweepInterval))
	}
	return errors.Join(errs...)
}
