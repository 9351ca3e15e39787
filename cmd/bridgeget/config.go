// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bassosimone/bridge"
)

// fileConfig is the optional TOML configuration of bridgeget.
type fileConfig struct {
	BufferSize       int    `toml:"buffer_size"`
	MaxInFlightBytes int    `toml:"max_in_flight_bytes"`
	Timeout          string `toml:"timeout"`
	LogLevel         string `toml:"log_level"`
	MetricsNamespace string `toml:"metrics_namespace"`
}

// defaultFileConfig returns the configuration used without a file.
func defaultFileConfig() *fileConfig {
	return &fileConfig{
		BufferSize:       bridge.DefaultBufferSize,
		MaxInFlightBytes: bridge.DefaultMaxInFlightBytes,
		Timeout:          "30s",
		LogLevel:         "info",
		MetricsNamespace: "bridgeget",
	}
}

// parseFileConfig decodes data over the defaults and rejects unknown keys.
func parseFileConfig(data string) (*fileConfig, error) {
	fc := defaultFileConfig()
	md, err := toml.Decode(data, fc)
	if err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys: %v", undecoded)
	}
	if err := fc.validate(); err != nil {
		return nil, err
	}
	return fc, nil
}

func (fc *fileConfig) validate() error {
	if fc.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", fc.BufferSize)
	}
	if fc.MaxInFlightBytes < 0 {
		return fmt.Errorf("max_in_flight_bytes must not be negative, got %d", fc.MaxInFlightBytes)
	}
	if _, err := fc.timeout(); err != nil {
		return err
	}
	if _, err := fc.logLevel(); err != nil {
		return err
	}
	return nil
}

func (fc *fileConfig) timeout() (time.Duration, error) {
	timeout, err := time.ParseDuration(fc.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout: %w", err)
	}
	return timeout, nil
}

func (fc *fileConfig) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(fc.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid log_level: %w", err)
	}
	return level, nil
}

// bridgeConfig returns the [*bridge.Config] matching the file config.
func (fc *fileConfig) bridgeConfig() *bridge.Config {
	cfg := bridge.NewConfig()
	cfg.BufferPool = bridge.NewBufferPool(fc.BufferSize)
	cfg.MaxInFlightBytes = fc.MaxInFlightBytes
	return cfg
}
