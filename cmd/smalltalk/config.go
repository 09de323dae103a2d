package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the serve command settings. Flags override file values;
// zero values fall back to defaults.
type Config struct {
	Addr     string `yaml:"addr"`
	LogLevel string `yaml:"log-level"`
	// GraceSeconds is how long a room survives a participant's disconnect.
	GraceSeconds int          `yaml:"grace-seconds"`
	Redis        RedisConfig  `yaml:"redis"`
	SQLite       SQLiteConfig `yaml:"sqlite"`
}

type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type SQLiteConfig struct {
	// Path to the database file; empty means in-memory stores only.
	Path string `yaml:"path"`
}

func defaultConfig() Config {
	return Config{
		Addr:         ":8080",
		LogLevel:     "info",
		GraceSeconds: 30,
		Redis:        RedisConfig{Addr: "localhost:6379"},
	}
}

// loadConfig reads the YAML file into the defaults. An empty path returns
// the defaults unchanged.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

func (c Config) gracePeriod() time.Duration {
	if c.GraceSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.GraceSeconds) * time.Second
}
