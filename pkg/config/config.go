// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Perpetua settings from defaults, an optional YAML file,
// PERPETUA_ environment variables and --set overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jllopis/perpetua/pkg/contextstore"
	"github.com/jllopis/perpetua/pkg/errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "PERPETUA_"

// Config holds the application configuration.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Runtime   RuntimeConfig   `koanf:"runtime"`
	Store     StoreConfig     `koanf:"store"`
	Server    ServerConfig    `koanf:"server"`
	Deploy    DeployConfig    `koanf:"deploy"`
	Agents    AgentsConfig    `koanf:"agents"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// RuntimeConfig tunes every agent runtime started by the process.
type RuntimeConfig struct {
	HeartbeatInterval  time.Duration `koanf:"heartbeat_interval"`
	StopTimeout        time.Duration `koanf:"stop_timeout"`
	AlignmentThreshold float64       `koanf:"alignment_threshold"`
	MaxBackoff         time.Duration `koanf:"max_backoff"`
	ScoreTimeout       time.Duration `koanf:"score_timeout"`
	// Scorer is "keyword" or "static".
	Scorer string `koanf:"scorer"`
}

type StoreConfig struct {
	Backend        string `koanf:"backend"`
	Path           string `koanf:"path"`
	DSN            string `koanf:"dsn"`
	RedisURL       string `koanf:"redis_url"`
	KeyPrefix      string `koanf:"key_prefix"`
	MaxHistorySize int    `koanf:"max_history_size"`
	MaxMemorySize  int    `koanf:"max_memory_size"`
}

// ServerConfig addresses; an empty address disables that listener.
type ServerConfig struct {
	HTTPAddr string `koanf:"http_addr"`
	GRPCAddr string `koanf:"grpc_addr"`
}

type DeployConfig struct {
	Command string        `koanf:"command"`
	Args    []string      `koanf:"args"`
	Timeout time.Duration `koanf:"timeout"`
}

// AgentsConfig points at the YAML manifest describing the fleet.
type AgentsConfig struct {
	Manifest string `koanf:"manifest"`
}

// ContextStore converts the store section for contextstore.Open.
func (s StoreConfig) ContextStore() contextstore.Config {
	return contextstore.Config{
		Backend:        s.Backend,
		Path:           s.Path,
		DSN:            s.DSN,
		RedisURL:       s.RedisURL,
		KeyPrefix:      s.KeyPrefix,
		MaxHistorySize: s.MaxHistorySize,
		MaxMemorySize:  s.MaxMemorySize,
	}
}

var defaults = map[string]interface{}{
	"log.level":                   "info",
	"log.format":                  "text",
	"telemetry.exporter":          "none",
	"telemetry.otlp_endpoint":     "localhost:4317",
	"telemetry.otlp_insecure":     true,
	"runtime.heartbeat_interval":  "30s",
	"runtime.stop_timeout":        "10s",
	"runtime.alignment_threshold": 0.5,
	"runtime.max_backoff":         "5m",
	"runtime.score_timeout":       "10s",
	"runtime.scorer":              "keyword",
	"store.backend":               contextstore.BackendMemory,
	"store.path":                  "data",
	"store.key_prefix":            contextstore.DefaultKeyPrefix,
	"store.max_history_size":      contextstore.DefaultMaxHistorySize,
	"store.max_memory_size":       contextstore.DefaultMaxMemorySize,
	"server.http_addr":            ":8080",
	"server.grpc_addr":            ":9090",
	"deploy.command":              "perpetua-deploy",
	"deploy.timeout":              "30m",
}

// Load reads configuration from defaults, the file at path (if it exists)
// and the environment.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is Load followed by key=value overrides, as given to
// the CLI --set flag.
func LoadWithOverrides(path string, sets []string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults {
		_ = k.Set(key, value)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, errors.New(errors.CodeInvalidInput, "loading config file", err).
					WithAttribute("path", path)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.New(errors.CodeInvalidInput, "reading config file", err).
				WithAttribute("path", path)
		}
	}

	// PERPETUA_STORE_MAX_HISTORY_SIZE -> store.max_history_size: only the
	// first underscore separates the section.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "loading environment", err)
	}

	for _, raw := range sets {
		key, value, err := ParseSet(raw)
		if err != nil {
			return nil, err
		}
		if err := k.Set(key, value); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "applying override", err).
				WithAttribute("key", key)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "decoding config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseSet splits a key=value override. The value is read as YAML so
// numbers, booleans, lists and durations keep their type.
func ParseSet(raw string) (string, interface{}, error) {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, errors.New(errors.CodeInvalidInput, "override must be key=value", nil).
			WithAttribute("override", raw)
	}
	var parsed interface{}
	if err := yamlv3.Unmarshal([]byte(value), &parsed); err != nil || parsed == nil {
		return key, value, nil
	}
	return key, parsed, nil
}

// Validate checks values that cannot be caught by decoding.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case contextstore.BackendMemory, contextstore.BackendFile, contextstore.BackendSQLite, contextstore.BackendRedis:
	default:
		return invalid("store.backend", c.Store.Backend)
	}
	if c.Store.Backend == contextstore.BackendRedis && c.Store.RedisURL == "" {
		return invalid("store.redis_url", "")
	}
	if c.Runtime.HeartbeatInterval <= 0 {
		return invalid("runtime.heartbeat_interval", c.Runtime.HeartbeatInterval)
	}
	if c.Runtime.StopTimeout <= 0 {
		return invalid("runtime.stop_timeout", c.Runtime.StopTimeout)
	}
	if c.Runtime.AlignmentThreshold <= 0 || c.Runtime.AlignmentThreshold > 1 {
		return invalid("runtime.alignment_threshold", c.Runtime.AlignmentThreshold)
	}
	switch c.Runtime.Scorer {
	case "keyword", "static":
	default:
		return invalid("runtime.scorer", c.Runtime.Scorer)
	}
	if c.Store.MaxHistorySize <= 0 {
		return invalid("store.max_history_size", c.Store.MaxHistorySize)
	}
	if c.Store.MaxMemorySize <= 0 {
		return invalid("store.max_memory_size", c.Store.MaxMemorySize)
	}
	return nil
}

func invalid(key string, value interface{}) error {
	return errors.New(errors.CodeInvalidInput, "invalid configuration value", nil).
		WithAttribute("key", key).
		WithAttribute("value", fmt.Sprint(value))
}
