// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/qrng/pkg/qrng"
	"github.com/AleutianAI/qrng/pkg/securemem"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "qrng", cfg.Telemetry.ServiceName)
	assert.Equal(t, qrng.DefaultPoolSize, cfg.Engine.PoolSize)
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qrng.yaml")
	data := []byte(`
engine:
  pool_size: 1024
  memory: unlocked
logging:
  level: debug
server:
  addr: "0.0.0.0:9000"
  shutdown_timeout: 2s
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Engine.PoolSize)
	assert.Equal(t, securemem.ModeUnlocked, cfg.Engine.Memory)
	assert.Equal(t, qrng.DefaultRekeySeedBytes, cfg.Engine.RekeySeedBytes)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, Default().Server.MaxBytes, cfg.Server.MaxBytes)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "engine: [unterminated"},
		{"pool too small", "engine:\n  pool_size: 8\n"},
		{"bad memory mode", "engine:\n  memory: sometimes\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"bad server", "server:\n  burst: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "qrng.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "qrng.yaml")

	cfg := Default()
	cfg.Engine.MinQuality = 0.5
	require.NoError(t, Write(path, cfg, false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestWrite_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qrng.yaml")
	require.NoError(t, Write(path, Default(), false))

	err := Write(path, Default(), false)
	assert.ErrorIs(t, err, ErrExists)

	assert.NoError(t, Write(path, Default(), true))
}

func TestMarshal_Sections(t *testing.T) {
	data, err := Marshal(Default())
	require.NoError(t, err)
	for _, section := range []string{"engine:", "logging:", "telemetry:", "server:"} {
		assert.Contains(t, string(data), section)
	}
}
