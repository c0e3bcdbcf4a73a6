// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package qrng

import (
	"github.com/AleutianAI/qrng/pkg/qrng/internal/health"
	"github.com/AleutianAI/qrng/pkg/qrng/internal/pool"
	"github.com/AleutianAI/qrng/pkg/securemem"
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultPoolSize is the entropy pool capacity in bytes (4096 bits).
	DefaultPoolSize = pool.DefaultSize

	// DefaultRekeyIntervalBytes is the generator output allowed between rekeys.
	DefaultRekeyIntervalBytes = 1 << 20 // 1 MiB

	// DefaultMinQuality is the pool quality below which the next operation
	// rekeys the generator first.
	DefaultMinQuality = 0.25

	// DefaultRekeySeedBytes is the pool output consumed per rekey.
	DefaultRekeySeedBytes = 32

	// DefaultCollectChunk is the sample size read from the entropy source per
	// replenish round.
	DefaultCollectChunk = 256

	// DefaultMaxCollectRounds bounds the source reads of one replenish.
	DefaultMaxCollectRounds = 32
)

// =============================================================================
// Validator
// =============================================================================

var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("memmode", validateMemoryMode)
}

func validateMemoryMode(fl validator.FieldLevel) bool {
	return securemem.Mode(fl.Field().String()).Valid()
}

// =============================================================================
// Config
// =============================================================================

// Config tunes a Context.
//
// # Description
//
// Zero fields take their defaults, so a partially filled Config (for example
// one decoded from YAML) is valid as long as the fields it does set are in
// range.
//
// # Fields
//
//   - PoolSize: Entropy pool capacity in bytes, 64 to 4096.
//   - RekeyIntervalBytes: Generator output between rekeys, at least 4096.
//   - MinQuality: Pool quality threshold in [0, 1] that forces a rekey.
//   - RekeySeedBytes: Pool output per rekey, 16 to 64. The pool must hold at
//     least RekeySeedBytes*8 bits or the rekey fails with InsufficientEntropy.
//   - CollectChunk: Source sample size per replenish round, 16 to 4096.
//   - MaxCollectRounds: Source reads per replenish, 1 to 1024.
//   - ClaimedBitsPerByte: Assessed min-entropy of the source, in (0, 8].
//   - Memory: securemem backing mode ("auto", "locked", "unlocked").
type Config struct {
	PoolSize           int            `yaml:"pool_size" json:"pool_size" validate:"gte=64,lte=4096"`
	RekeyIntervalBytes uint64         `yaml:"rekey_interval_bytes" json:"rekey_interval_bytes" validate:"gte=4096"`
	MinQuality         float64        `yaml:"min_quality" json:"min_quality" validate:"gte=0,lte=1"`
	RekeySeedBytes     int            `yaml:"rekey_seed_bytes" json:"rekey_seed_bytes" validate:"gte=16,lte=64"`
	CollectChunk       int            `yaml:"collect_chunk" json:"collect_chunk" validate:"gte=16,lte=4096"`
	MaxCollectRounds   int            `yaml:"max_collect_rounds" json:"max_collect_rounds" validate:"gte=1,lte=1024"`
	ClaimedBitsPerByte float64        `yaml:"claimed_bits_per_byte" json:"claimed_bits_per_byte" validate:"gt=0,lte=8"`
	Memory             securemem.Mode `yaml:"memory" json:"memory" validate:"omitempty,memmode"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		PoolSize:           DefaultPoolSize,
		RekeyIntervalBytes: DefaultRekeyIntervalBytes,
		MinQuality:         DefaultMinQuality,
		RekeySeedBytes:     DefaultRekeySeedBytes,
		CollectChunk:       DefaultCollectChunk,
		MaxCollectRounds:   DefaultMaxCollectRounds,
		ClaimedBitsPerByte: health.DefaultClaimedBitsPerByte,
		Memory:             securemem.ModeAuto,
	}
}

// WithDefaults returns a copy of c with zero fields set to their defaults.
//
// MinQuality is left alone: zero is a meaningful value (never rekey on
// quality).
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.PoolSize == 0 {
		c.PoolSize = d.PoolSize
	}
	if c.RekeyIntervalBytes == 0 {
		c.RekeyIntervalBytes = d.RekeyIntervalBytes
	}
	if c.RekeySeedBytes == 0 {
		c.RekeySeedBytes = d.RekeySeedBytes
	}
	if c.CollectChunk == 0 {
		c.CollectChunk = d.CollectChunk
	}
	if c.MaxCollectRounds == 0 {
		c.MaxCollectRounds = d.MaxCollectRounds
	}
	if c.ClaimedBitsPerByte == 0 {
		c.ClaimedBitsPerByte = d.ClaimedBitsPerByte
	}
	if c.Memory == "" {
		c.Memory = d.Memory
	}
	return c
}

// Validate checks every field against its documented range.
//
// # Outputs
//
//   - error: validator.ValidationErrors describing each bad field, or nil
//
// # Examples
//
//	cfg := qrng.DefaultConfig()
//	cfg.PoolSize = 10
//	err := cfg.Validate() // PoolSize fails "gte"
func (c Config) Validate() error {
	return configValidate.Struct(c)
}
