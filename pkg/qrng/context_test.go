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
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/AleutianAI/qrng/pkg/qrng/entropy"
	"github.com/AleutianAI/qrng/pkg/qrng/internal/health"
	"github.com/AleutianAI/qrng/pkg/securemem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Helpers
// =============================================================================

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Memory = securemem.ModeUnlocked
	return cfg
}

func newTestContext(t *testing.T, opts ...Option) *Context {
	t.Helper()
	opts = append([]Option{WithConfig(testConfig())}, opts...)
	c, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type recordingObserver struct {
	mu       sync.Mutex
	events   []Event
	rekeys   []string
	failures []string
}

func (r *recordingObserver) OnOperation(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingObserver) OnRekey(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rekeys = append(r.rekeys, reason)
}

func (r *recordingObserver) OnHealthFailure(test string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, test)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// limitedReader serves n random bytes, then fails.
type limitedReader struct {
	n int
}

func (r *limitedReader) Read(p []byte) (int, error) {
	if r.n <= 0 {
		return 0, errors.New("device removed")
	}
	k := min(len(p), r.n)
	r.n -= k
	return rand.Read(p[:k])
}

// switchReader serves random bytes until fail is set.
type switchReader struct {
	fail atomic.Bool
}

func (r *switchReader) Read(p []byte) (int, error) {
	if r.fail.Load() {
		return 0, errors.New("device removed")
	}
	return rand.Read(p)
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestNew_Defaults(t *testing.T) {
	c := newTestContext(t)

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, "os", stats.Source)
	assert.False(t, stats.Deterministic)
	assert.False(t, stats.Degraded)
	assert.Equal(t, DefaultPoolSize*8, stats.CapacityBits)
	assert.Equal(t, c.ID(), stats.ID)
	assert.Len(t, c.ID(), 36)

	q, err := c.EntropyEstimate()
	require.NoError(t, err)
	assert.InDelta(t, 1-float64(DefaultRekeySeedBytes*8)/float64(DefaultPoolSize*8), q, 1e-9)
}

func TestNew_CloseLeavesNoBuffers(t *testing.T) {
	before := securemem.Live()

	c, err := New(WithConfig(testConfig()))
	require.NoError(t, err)
	assert.Equal(t, before+2, securemem.Live())

	require.NoError(t, c.Close())
	assert.Equal(t, before, securemem.Live())
}

func TestNew_FailureLeavesNoBuffers(t *testing.T) {
	before := securemem.Live()

	_, err := New(WithConfig(testConfig()), WithSource(entropy.FromReader("stuck", zeroReader{})))
	require.Error(t, err)
	assert.Equal(t, before, securemem.Live())
}

func TestNew_StuckSourceIsInsufficientEntropy(t *testing.T) {
	obs := &recordingObserver{}
	_, err := New(
		WithConfig(testConfig()),
		WithSource(entropy.FromReader("stuck", zeroReader{})),
		WithObserver(obs),
	)
	assert.ErrorIs(t, err, ErrInsufficientEntropy)
	assert.Contains(t, obs.failures, health.TestRepetitionCount)
}

func TestNew_FailingSourceIsEntropySourceFailure(t *testing.T) {
	_, err := New(
		WithConfig(testConfig()),
		WithSource(entropy.FromReader("broken", &limitedReader{n: 0})),
	)
	assert.ErrorIs(t, err, ErrEntropySourceFailure)
	assert.ErrorIs(t, err, entropy.ErrSourceUnavailable)
}

func TestNew_DeterministicNeedsSeed(t *testing.T) {
	_, err := New(WithConfig(testConfig()), WithDeterministicSeed(nil))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNew_SeedIsCopied(t *testing.T) {
	seed := []byte("caller seed")
	newTestContext(t, WithSeed(seed))
	assert.Equal(t, []byte("caller seed"), seed)
}

func TestWith_ClosesContext(t *testing.T) {
	before := securemem.Live()
	var kept *Context

	err := With(func(c *Context) error {
		kept = c
		_, err := c.Uint64()
		return err
	}, WithConfig(testConfig()))
	require.NoError(t, err)

	assert.Equal(t, before, securemem.Live())
	_, err = kept.Uint64()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestWith_PropagatesError(t *testing.T) {
	sentinel := errors.New("caller failed")
	err := With(func(*Context) error { return sentinel }, WithConfig(testConfig()))
	assert.ErrorIs(t, err, sentinel)
}

func TestClose_Idempotent(t *testing.T) {
	c, err := New(WithConfig(testConfig()))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	var zero Context
	assert.NoError(t, zero.Close())
}

func TestClosedContext_InvalidArgument(t *testing.T) {
	c, err := New(WithConfig(testConfig()))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.Uint64()
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = c.Float64()
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = c.Range32(1, 6)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = c.Range64(1, 6)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = c.EntropyEstimate()
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, c.Entangle([]byte{1}, []byte{2}), ErrInvalidArgument)
	assert.ErrorIs(t, c.Rekey(), ErrInvalidArgument)
	assert.ErrorIs(t, c.Reseed([]byte("x")), ErrInvalidArgument)
	assert.Empty(t, c.ID())

	buf := []byte{1, 2, 3}
	assert.ErrorIs(t, c.Fill(buf), ErrInvalidArgument)
	assert.Equal(t, []byte{0, 0, 0}, buf)
}

func TestZeroContext_NotInitialized(t *testing.T) {
	var c Context
	_, err := c.Uint64()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, c.Measure([]byte{1}), ErrNotInitialized)
	_, err = c.Stats()
	assert.ErrorIs(t, err, ErrNotInitialized)

	var nilCtx *Context
	_, err = nilCtx.Float64()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.NoError(t, nilCtx.Close())
}

func TestInternalFailure_IsSticky(t *testing.T) {
	c := newTestContext(t)
	err := c.fail("test", errors.New("invariant violated"))
	assert.ErrorIs(t, err, ErrInternalFailure)

	_, err = c.Uint64()
	assert.ErrorIs(t, err, ErrInternalFailure)
	assert.ErrorIs(t, c.Rekey(), ErrInternalFailure)
	_, err = c.EntropyEstimate()
	assert.ErrorIs(t, err, ErrInternalFailure)

	require.NoError(t, c.Close())
	_, err = c.Uint64()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

// =============================================================================
// Rekey & Reseed
// =============================================================================

func TestRekey_Explicit(t *testing.T) {
	obs := &recordingObserver{}
	c := newTestContext(t, WithObserver(obs))

	require.NoError(t, c.Rekey())
	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Rekeys)
	assert.Equal(t, []string{RekeyExplicit}, obs.rekeys)
}

func TestRekey_ChangesStream(t *testing.T) {
	seed := []byte("rekey fixture")
	a := newTestContext(t, WithDeterministicSeed(seed))
	b := newTestContext(t, WithDeterministicSeed(seed))

	require.NoError(t, b.Rekey())
	va, err := a.Uint64()
	require.NoError(t, err)
	vb, err := b.Uint64()
	require.NoError(t, err)
	assert.NotEqual(t, va, vb)
}

func TestRekey_OnInterval(t *testing.T) {
	cfg := testConfig()
	cfg.RekeyIntervalBytes = 4096
	obs := &recordingObserver{}
	c := newTestContext(t, WithConfig(cfg), WithObserver(obs))

	require.NoError(t, c.Fill(make([]byte, 10_000)))
	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Rekeys)
	assert.Equal(t, uint64(10_000), stats.BytesServed)
	assert.Equal(t, []string{RekeyInterval, RekeyInterval}, obs.rekeys)
}

func TestFill_FailedRekeyMidRequest(t *testing.T) {
	cfg := testConfig()
	cfg.RekeyIntervalBytes = 4096
	r := &switchReader{}
	c := newTestContext(t, WithConfig(cfg), WithSource(entropy.FromReader("flaky", r)))

	before, err := c.Stats()
	require.NoError(t, err)

	// The first interval is copied out before the second rekey hits the
	// dead source.
	r.fail.Store(true)
	buf := bytes.Repeat([]byte{0xAA}, 10_000)
	err = c.Fill(buf)
	require.ErrorIs(t, err, ErrEntropySourceFailure)
	assert.Equal(t, make([]byte, len(buf)), buf, "failed fill must leave the buffer zeroed")

	after, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, before.BytesServed, after.BytesServed)

	r.fail.Store(false)
	require.NoError(t, c.Fill(buf))
	assert.NotEqual(t, make([]byte, len(buf)), buf)
	after, err = c.Stats()
	require.NoError(t, err)
	assert.Equal(t, before.BytesServed+uint64(len(buf)), after.BytesServed)
}

func TestRekey_OnLowQuality(t *testing.T) {
	cfg := testConfig()
	cfg.MinQuality = 0.95
	obs := &recordingObserver{}
	c := newTestContext(t, WithConfig(cfg), WithObserver(obs))

	_, err := c.Uint64()
	require.NoError(t, err)
	assert.Equal(t, []string{RekeyQuality}, obs.rekeys)
}

func TestRekey_SourceFailure(t *testing.T) {
	r := &switchReader{}
	c := newTestContext(t, WithSource(entropy.FromReader("flaky", r)))

	r.fail.Store(true)
	err := c.Rekey()
	assert.ErrorIs(t, err, ErrEntropySourceFailure)

	// The generator keeps serving from its current key.
	_, err = c.Uint64()
	assert.NoError(t, err)

	r.fail.Store(false)
	assert.NoError(t, c.Rekey())
}

func TestReseed(t *testing.T) {
	c := newTestContext(t)
	assert.ErrorIs(t, c.Reseed(nil), ErrInvalidArgument)
	require.NoError(t, c.Reseed([]byte("more input")))

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Rekeys)
}

func TestReseed_DeterministicIsReproducible(t *testing.T) {
	run := func() uint64 {
		c := newTestContext(t, WithDeterministicSeed([]byte("fixture")))
		require.NoError(t, c.Reseed([]byte("extra")))
		v, err := c.Uint64()
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, run(), run())
}

// =============================================================================
// Determinism & Independence
// =============================================================================

func TestDeterministic_SameSeedSameStream(t *testing.T) {
	seed := []byte("fixture")
	a := newTestContext(t, WithDeterministicSeed(seed))
	b := newTestContext(t, WithDeterministicSeed(seed))
	assert.Equal(t, a.ID(), b.ID())

	bufA := make([]byte, 4096)
	bufB := make([]byte, 4096)
	require.NoError(t, a.Fill(bufA))
	require.NoError(t, b.Fill(bufB))
	assert.Equal(t, bufA, bufB)

	other := newTestContext(t, WithDeterministicSeed([]byte("other fixture")))
	bufC := make([]byte, 4096)
	require.NoError(t, other.Fill(bufC))
	assert.NotEqual(t, bufA, bufC)
}

func TestContexts_AreIndependent(t *testing.T) {
	a := newTestContext(t)
	b := newTestContext(t)
	assert.NotEqual(t, a.ID(), b.ID())

	bufA := make([]byte, 64)
	bufB := make([]byte, 64)
	require.NoError(t, a.Fill(bufA))
	require.NoError(t, b.Fill(bufB))
	assert.NotEqual(t, bufA, bufB)
}

func TestContexts_Parallel(t *testing.T) {
	const workers = 8
	outputs := make([][]byte, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := New(WithConfig(testConfig()))
			if !assert.NoError(t, err) {
				return
			}
			defer c.Close()
			buf := make([]byte, 1<<14)
			for range 16 {
				if !assert.NoError(t, c.Fill(buf)) {
					return
				}
			}
			outputs[i] = buf
		}()
	}
	wg.Wait()

	for i := range outputs {
		for j := i + 1; j < len(outputs); j++ {
			assert.False(t, bytes.Equal(outputs[i], outputs[j]))
		}
	}
}

func TestStats_CountsOperations(t *testing.T) {
	obs := &recordingObserver{}
	c := newTestContext(t, WithObserver(obs))

	_, _ = c.Uint64()
	_, _ = c.Range32(5, 1)
	_ = c.Fill(make([]byte, 16))

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.Operations)
	assert.Equal(t, uint64(24), stats.BytesServed)

	require.Len(t, obs.events, 3)
	assert.Equal(t, "uint64", obs.events[0].Op)
	assert.Equal(t, 8, obs.events[0].Bytes)
	assert.ErrorIs(t, obs.events[1].Err, ErrInvalidArgument)
	assert.Equal(t, 16, obs.events[2].Bytes)
	assert.Equal(t, c.ID(), obs.events[2].ContextID)
}

func TestContext_ReadImplementsReader(t *testing.T) {
	c := newTestContext(t)
	var r io.Reader = c
	buf := make([]byte, 100)
	n, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
}

func TestVersion(t *testing.T) {
	assert.Equal(t, "1.1.0", Version())
}
