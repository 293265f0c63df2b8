// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package forwarder

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/della-wonders/wonders/security"
)

// FileConfig is the optional YAML configuration loaded by start_wonders
// via --config. Workers, SweepInterval and MaxAge overlap with CLI
// flags, which take precedence over the file when both are set;
// BlockedDomains is merged with any --block-domain flags; the size caps
// are set only here (see cmd/start_wonders).
type FileConfig struct {
	BlockedDomains  []string `yaml:"blocked_domains"`
	Workers         int      `yaml:"workers"`
	SweepInterval   string   `yaml:"sweep_interval"`
	MaxAge          string   `yaml:"max_age"`
	MaxRequestSize  int64    `yaml:"max_request_size"`
	MaxResponseSize int64    `yaml:"max_response_size"`
}

// LoadFileConfig loads a FileConfig from a YAML file at path.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// SweepIntervalDuration parses SweepInterval, returning fallback when
// the field is empty.
func (c *FileConfig) SweepIntervalDuration(fallback time.Duration) (time.Duration, error) {
	return parseDurationOrFallback(c.SweepInterval, fallback)
}

// MaxAgeDuration parses MaxAge, returning fallback when the field is
// empty.
func (c *FileConfig) MaxAgeDuration(fallback time.Duration) (time.Duration, error) {
	return parseDurationOrFallback(c.MaxAge, fallback)
}

func parseDurationOrFallback(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return d, nil
}

// SecurityConfig builds a security.Config from the file config, merging
// in domains supplied separately by repeatable --block-domain flags.
func (c *FileConfig) SecurityConfig(extraBlockedDomains []string) security.Config {
	return security.Config{
		BlockedDomains:  append(append([]string{}, c.BlockedDomains...), extraBlockedDomains...),
		MaxRequestSize:  c.MaxRequestSize,
		MaxResponseSize: c.MaxResponseSize,
	}
}
