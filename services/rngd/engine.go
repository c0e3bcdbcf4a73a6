// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rngd serves a qrng Context over HTTP.
//
// It is the binding layer between the engine and remote callers: it parses
// and bounds requests, serializes access to one shared Context and is the
// only place engine result codes are turned into HTTP statuses.
package rngd

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/qrng/pkg/qrng"
)

// Engine serializes access to a single qrng.Context.
//
// # Description
//
// A qrng.Context is not safe for concurrent use; Engine holds it behind a
// mutex. When an operation reports InternalFailure the Context is closed and
// a fresh one is created on the next call, since a failed Context must never
// be reused.
//
// # Thread Safety
//
// Safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	ctx       *qrng.Context
	opts      []qrng.Option
	logger    *slog.Logger
	recreated uint64
	closed    bool
}

var errEngineClosed = errors.New("engine closed")

// NewEngine creates the Context eagerly so that configuration and entropy
// source problems surface at startup.
func NewEngine(logger *slog.Logger, opts ...qrng.Option) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		opts:   append([]qrng.Option{qrng.WithLogger(logger)}, opts...),
		logger: logger,
	}
	ctx, err := qrng.New(e.opts...)
	if err != nil {
		return nil, fmt.Errorf("create engine context: %w", err)
	}
	e.ctx = ctx
	return e, nil
}

// Do runs fn with exclusive access to the Context.
func (e *Engine) Do(fn func(*qrng.Context) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return &qrng.Error{Code: qrng.InvalidArgument, Op: "engine", Err: errEngineClosed}
	}
	if e.ctx == nil {
		ctx, err := qrng.New(e.opts...)
		if err != nil {
			return err
		}
		e.ctx = ctx
		e.recreated++
		e.logger.Info("Engine context recreated", "context_id", ctx.ID(), "recreated", e.recreated)
	}

	err := fn(e.ctx)
	if qrng.CodeOf(err) == qrng.InternalFailure {
		e.logger.Error("Engine context failed, discarding", "context_id", e.ctx.ID(), "error", err)
		_ = e.ctx.Close()
		e.ctx = nil
	}
	return err
}

// Recreated returns how many times the Context was replaced after a failure.
func (e *Engine) Recreated() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recreated
}

// Close releases the Context.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.ctx == nil {
		return nil
	}
	err := e.ctx.Close()
	e.ctx = nil
	return err
}
