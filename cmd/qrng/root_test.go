// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/qrng/cmd/qrng/config"
	"github.com/AleutianAI/qrng/pkg/logging"
	"github.com/AleutianAI/qrng/pkg/qrng"
	"github.com/AleutianAI/qrng/pkg/securemem"
)

// failingApp returns an app whose first failures context creations fail
// with code, and the times of every attempt.
func failingApp(t *testing.T, failures int, code error) (*app, *[]time.Time) {
	t.Helper()
	t.Setenv(securemem.InsecureMemoryEnv, "true")

	var attempts []time.Time
	a := &app{
		cfg:    config.Default(),
		logger: logging.New(logging.Config{Level: logging.LevelError, Output: io.Discard}),
	}
	a.newContext = func(opts ...qrng.Option) (*qrng.Context, error) {
		attempts = append(attempts, time.Now())
		if len(attempts) <= failures {
			return nil, code
		}
		return qrng.New(opts...)
	}
	t.Cleanup(func() { _ = a.close(context.Background()) })
	return a, &attempts
}

func withRetryInterval(t *testing.T, d time.Duration) {
	t.Helper()
	prev := initRetryInterval
	initRetryInterval = d
	t.Cleanup(func() { initRetryInterval = prev })
}

func TestOpenContext_FirstRetryBacksOff(t *testing.T) {
	withRetryInterval(t, 40*time.Millisecond)
	a, attempts := failingApp(t, 2, qrng.ErrEntropySourceFailure)

	c, err := a.openContext(context.Background(), "", false)
	require.NoError(t, err)
	defer c.Close()

	require.Len(t, *attempts, 3)
	first := (*attempts)[1].Sub((*attempts)[0])
	second := (*attempts)[2].Sub((*attempts)[1])
	assert.GreaterOrEqual(t, first, 30*time.Millisecond)
	// The rate halves after every failed retry.
	assert.GreaterOrEqual(t, second, 70*time.Millisecond)
}

func TestOpenContext_GivesUp(t *testing.T) {
	withRetryInterval(t, time.Millisecond)
	a, attempts := failingApp(t, 100, qrng.ErrInsufficientEntropy)

	_, err := a.openContext(context.Background(), "", false)
	assert.ErrorIs(t, err, qrng.ErrInsufficientEntropy)
	assert.Len(t, *attempts, initRetryAttempts)
}

func TestOpenContext_NoRetryOnPermanentError(t *testing.T) {
	withRetryInterval(t, time.Millisecond)
	a, attempts := failingApp(t, 100, qrng.ErrInvalidArgument)

	_, err := a.openContext(context.Background(), "", false)
	assert.ErrorIs(t, err, qrng.ErrInvalidArgument)
	assert.Len(t, *attempts, 1)
}

func TestOpenContext_CanceledWait(t *testing.T) {
	withRetryInterval(t, time.Hour)
	a, attempts := failingApp(t, 100, qrng.ErrEntropySourceFailure)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.openContext(ctx, "", false)
	assert.ErrorIs(t, err, qrng.ErrEntropySourceFailure)
	assert.Len(t, *attempts, 1)
}
