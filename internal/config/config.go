// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package config loads the proxy's configuration from three layered
// sources — an optional YAML file, environment variables, and CLI
// flags — with CLI taking precedence over environment, which takes
// precedence over the file, which takes precedence over built-in
// defaults. Each layer only overrides fields it actually sets; the
// layers are merged field-by-field with github.com/fatih/structs so a
// layer that leaves a field at its zero value never clobbers a value
// set by a lower-precedence layer.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/structs"
	"gopkg.in/yaml.v3"
)

const envPrefix = "AIGWPROXY_"

// Config is the proxy's full runtime configuration (spec.md §6, plus the
// ambient metricsAddr/logFormat fields).
type Config struct {
	ListenHost            string `yaml:"listenHost"`
	ListenPort            int    `yaml:"listenPort"`
	AWSRegion             string `yaml:"awsRegion"`
	APIKey                string `yaml:"apiKey"`
	ModelCacheTTLSeconds  int    `yaml:"modelCacheTTLSeconds"`
	RequestTimeoutSeconds int    `yaml:"requestTimeoutSeconds"`
	ModelsTimeoutSeconds  int    `yaml:"modelsTimeoutSeconds"`
	LogLevel              string `yaml:"logLevel"`
	LogFormat             string `yaml:"logFormat"`
	MetricsAddr           string `yaml:"metricsAddr"`
}

// Defaults returns the configuration's built-in defaults.
func Defaults() Config {
	return Config{
		ListenHost:            "127.0.0.1",
		ListenPort:            8080,
		AWSRegion:             "us-east-1",
		ModelCacheTTLSeconds:  300,
		RequestTimeoutSeconds: 600,
		ModelsTimeoutSeconds:  30,
		LogLevel:              "info",
		LogFormat:             "text",
		MetricsAddr:           ":9190",
	}
}

// LoadYAMLFile reads and unmarshals path into a Config overlay. Fields
// absent from the file are left at Go's zero value, so merging this
// overlay onto a base never overrides anything the file didn't mention.
func LoadYAMLFile(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEnv reads the proxy's recognized AIGWPROXY_* environment variables
// via getenv into a Config overlay. Unset variables leave their field at
// the zero value.
func LoadEnv(getenv func(string) string) Config {
	var cfg Config
	cfg.ListenHost = getenv(envPrefix + "LISTEN_HOST")
	cfg.ListenPort = atoiOrZero(getenv(envPrefix + "LISTEN_PORT"))
	cfg.AWSRegion = getenv(envPrefix + "AWS_REGION")
	cfg.APIKey = getenv(envPrefix + "API_KEY")
	cfg.ModelCacheTTLSeconds = atoiOrZero(getenv(envPrefix + "MODEL_CACHE_TTL_SECONDS"))
	cfg.RequestTimeoutSeconds = atoiOrZero(getenv(envPrefix + "REQUEST_TIMEOUT_SECONDS"))
	cfg.ModelsTimeoutSeconds = atoiOrZero(getenv(envPrefix + "MODELS_TIMEOUT_SECONDS"))
	cfg.LogLevel = getenv(envPrefix + "LOG_LEVEL")
	cfg.LogFormat = getenv(envPrefix + "LOG_FORMAT")
	cfg.MetricsAddr = getenv(envPrefix + "METRICS_ADDR")
	return cfg
}

func atoiOrZero(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// Merge overlays each of overlays onto base, in order, returning the
// result. A field left at its zero value in an overlay does not
// override base's existing value for that field.
func Merge(base Config, overlays ...Config) Config {
	for _, overlay := range overlays {
		mergeNonZero(&base, overlay)
	}
	return base
}

func mergeNonZero(base *Config, overlay Config) {
	baseStruct := structs.New(base)
	overlayStruct := structs.New(&overlay)
	for _, f := range overlayStruct.Fields() {
		if f.IsZero() {
			continue
		}
		if bf := baseStruct.Field(f.Name()); bf != nil {
			_ = bf.Set(f.Value())
		}
	}
}

// Load builds the final Config: defaults, overlaid by the file at path
// (skipped if path is empty), overlaid by environment variables,
// overlaid by cli, then validated.
func Load(path string, getenv func(string) string, cli Config) (Config, error) {
	cfg := Defaults()

	if path != "" {
		fileCfg, err := LoadYAMLFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = Merge(cfg, fileCfg)
	}

	cfg = Merge(cfg, LoadEnv(getenv), cli)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants Load's result must satisfy before the
// proxy is allowed to start: an API key is mandatory (spec.md §6).
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("config: API key must be configured")
	}
	return nil
}
