// Package config loads daemon configuration from an optional YAML file,
// with environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration. Intervals are plain seconds in
// YAML; use the accessor methods for durations.
type Config struct {
	Port   int    `yaml:"port"`
	DBPath string `yaml:"db_path"`

	// Seed drives the topology noise field; it must stay stable across
	// restarts or radar scores shift under everyone.
	Seed int64 `yaml:"seed"`

	TickSeconds         int `yaml:"tick_seconds"`
	WeatherCheckSeconds int `yaml:"weather_check_seconds"`
	SaveEverySeconds    int `yaml:"save_every_seconds"`

	// EventLogDir enables the compressed event journal when non-empty.
	EventLogDir string `yaml:"event_log_dir"`

	// Secrets, environment only: SACAS_ADMIN_KEY, SACAS_RANDOM_ORG_KEY.
	AdminKey     string `yaml:"-"`
	RandomOrgKey string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:                8080,
		DBPath:              "sacas.db",
		Seed:                1,
		TickSeconds:         5,
		WeatherCheckSeconds: 60,
		SaveEverySeconds:    300,
	}
}

// TickInterval is the production cadence.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// WeatherCheckEvery is how often the weather controller polls its window.
func (c Config) WeatherCheckEvery() time.Duration {
	return time.Duration(c.WeatherCheckSeconds) * time.Second
}

// SaveEvery is the periodic full-state save cadence.
func (c Config) SaveEvery() time.Duration {
	return time.Duration(c.SaveEverySeconds) * time.Second
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error; defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Fall through to defaults.
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.AdminKey = os.Getenv("SACAS_ADMIN_KEY")
	cfg.RandomOrgKey = os.Getenv("SACAS_RANDOM_ORG_KEY")
	if port := os.Getenv("SACAS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("SACAS_PORT: %w", err)
		}
		cfg.Port = p
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.TickSeconds <= 0 {
		return fmt.Errorf("tick_seconds must be positive, got %d", c.TickSeconds)
	}
	if c.WeatherCheckSeconds <= 0 {
		return fmt.Errorf("weather_check_seconds must be positive, got %d", c.WeatherCheckSeconds)
	}
	if c.SaveEverySeconds <= 0 {
		return fmt.Errorf("save_every_seconds must be positive, got %d", c.SaveEverySeconds)
	}
	return nil
}
