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
	"bytes"
	"log/slog"

	"github.com/AleutianAI/qrng/pkg/qrng/entropy"
)

type options struct {
	cfg           Config
	seed          []byte
	deterministic bool
	source        entropy.Source
	logger        *slog.Logger
	observer      Observer
}

// Option configures New.
type Option func(*options)

// WithSeed mixes seed into the pool at construction as additional input. It
// is credited zero bits and never replaces the entropy source.
func WithSeed(seed []byte) Option {
	return func(o *options) {
		o.seed = bytes.Clone(seed)
		o.deterministic = false
	}
}

// WithDeterministicSeed replaces the entropy source with a stream derived
// from seed. Two Contexts built from the same seed and driven through the
// same calls produce identical output. For tests and reproducible runs only.
func WithDeterministicSeed(seed []byte) Option {
	return func(o *options) {
		o.seed = bytes.Clone(seed)
		o.deterministic = true
	}
}

// WithSource sets the entropy source. Ignored in deterministic mode.
func WithSource(src entropy.Source) Option {
	return func(o *options) {
		o.source = src
	}
}

// WithConfig sets the Context configuration. Zero fields take defaults.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg.WithDefaults()
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver registers an event observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func defaultOptions() options {
	return options{
		cfg:      DefaultConfig(),
		logger:   slog.New(slog.DiscardHandler),
		observer: nopObserver{},
	}
}
