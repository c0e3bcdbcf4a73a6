// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the qrng CLI configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/qrng/pkg/logging"
	"github.com/AleutianAI/qrng/pkg/qrng"
	"github.com/AleutianAI/qrng/pkg/telemetry"
	"github.com/AleutianAI/qrng/services/rngd"
)

// ErrExists is returned by Write when the file is already present.
var ErrExists = errors.New("config file already exists")

// LoggingConfig is the logging section.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`

	// Dir enables a JSON log file in this directory. "~" is expanded.
	Dir string `yaml:"dir,omitempty"`
}

// File is the on-disk configuration.
//
// The telemetry section is only acted on by commands that export metrics
// (serve, or any command run with --metrics).
type File struct {
	Engine    qrng.Config      `yaml:"engine"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Server    rngd.Config      `yaml:"server"`
}

// Default returns the built-in configuration.
func Default() File {
	return File{
		Engine:    qrng.DefaultConfig(),
		Logging:   LoggingConfig{Level: "warn"},
		Telemetry: telemetry.DefaultConfig(),
		Server:    rngd.DefaultConfig(),
	}
}

// DefaultPath returns ~/.qrng/qrng.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".qrng", "qrng.yaml"), nil
}

// Load reads path over the defaults. An empty path means DefaultPath; a
// missing file yields the defaults.
func Load(path string) (File, error) {
	cfg := Default()
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.Engine = cfg.Engine.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every section.
func (f File) Validate() error {
	if err := f.Engine.Validate(); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(f.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return f.Server.Validate()
}

// Write stores cfg at path, refusing to overwrite unless force is set.
func Write(path string, cfg File, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Marshal renders cfg as YAML.
func Marshal(cfg File) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
