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
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/qrng/pkg/qrng/entropy"
	"github.com/AleutianAI/qrng/pkg/qrng/internal/drbg"
	"github.com/AleutianAI/qrng/pkg/qrng/internal/health"
	"github.com/AleutianAI/qrng/pkg/qrng/internal/pool"
	"github.com/awnumar/memguard"
	"github.com/google/uuid"
)

// =============================================================================
// Context
// =============================================================================

type ctxState int

const (
	stateZero ctxState = iota
	stateLive
	stateFailed
	stateClosed
)

var (
	errClosed      = errors.New("context is closed")
	errNilContext  = errors.New("nil context")
	errZeroContext = errors.New("context was not created by New")
)

// Context is an owned randomness engine handle.
//
// # Description
//
// A Context holds an entropy pool, a stream generator keyed from it, a health
// monitor for its entropy source and an operation counter. All state lives in
// the Context; independent Contexts share nothing and may be used from
// different goroutines in parallel.
//
// # Lifecycle
//
// Create with New, release with Close (or use With for a scope-bound handle).
// Close wipes all key and pool material. Every method on a closed Context
// returns InvalidArgument and touches no state; the zero value returns
// NotInitialized. After an InternalFailure every method except Close returns
// InternalFailure.
//
// # Thread Safety
//
// A single Context is NOT safe for concurrent use. Callers that share one
// must serialize access themselves.
//
// # Examples
//
//	ctx, err := qrng.New()
//	if err != nil {
//	    return err
//	}
//	defer ctx.Close()
//
//	roll, err := ctx.Range32(1, 6)
type Context struct {
	state ctxState
	fault error

	cfg           Config
	id            uuid.UUID
	deterministic bool
	personal      []byte

	source   entropy.Source
	pool     *pool.Pool
	gen      *drbg.Generator
	monitor  *health.Monitor
	logger   *slog.Logger
	observer Observer

	ops    uint64
	served uint64
	rekeys uint64
}

// New creates and seeds a Context.
//
// # Description
//
// Validates the configuration, allocates the pool in secure memory, fills it
// from the entropy source through the health monitor and keys the stream
// generator from it. Either a fully initialized Context or an error is
// returned, never a partial handle.
//
// # Inputs
//
//   - opts: WithSeed, WithDeterministicSeed, WithSource, WithConfig,
//     WithLogger, WithObserver
//
// # Outputs
//
//   - *Context: Ready for use, must be closed
//   - error: *Error with InvalidArgument (bad config or empty deterministic
//     seed), AllocationFailed, EntropySourceFailure or InsufficientEntropy
//
// # Examples
//
//	ctx, err := qrng.New(qrng.WithSeed([]byte("extra input")))
//
//	// Reproducible stream for tests.
//	ctx, err := qrng.New(qrng.WithDeterministicSeed([]byte("fixture")))
//
// # Limitations
//
//   - May block while the OS entropy source initializes
func New(opts ...Option) (*Context, error) {
	const op = "init"

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	defer memguard.WipeBytes(o.seed)

	if err := o.cfg.Validate(); err != nil {
		return nil, newError(InvalidArgument, op, err)
	}

	c := &Context{
		cfg:           o.cfg,
		deterministic: o.deterministic,
		source:        o.source,
		logger:        o.logger,
		observer:      o.observer,
	}

	if o.deterministic {
		src, err := entropy.Deterministic(o.seed)
		if err != nil {
			return nil, newError(InvalidArgument, op, err)
		}
		c.source = src
		c.id = uuid.NewSHA1(uuid.NameSpaceOID, o.seed)
	} else {
		if c.source == nil {
			c.source = entropy.OS()
		}
		id, err := uuid.NewRandom()
		if err != nil {
			return nil, newError(EntropySourceFailure, op, err)
		}
		c.id = id
	}
	c.personal = c.id[:]

	monitor, err := health.New(o.cfg.ClaimedBitsPerByte)
	if err != nil {
		return nil, newError(InvalidArgument, op, err)
	}
	monitor.OnFailure(c.onHealthFailure)
	c.monitor = monitor

	p, err := pool.New(o.cfg.PoolSize, o.cfg.Memory)
	if err != nil {
		return nil, newError(AllocationFailed, op, err)
	}
	c.pool = p

	if err := c.seed(op, o.seed); err != nil {
		c.release()
		c.logger.Error("Context initialization failed",
			"context_id", c.id.String(),
			"source", c.source.Name(),
			"error", err,
		)
		return nil, err
	}

	c.state = stateLive
	c.logger.Debug("Context created",
		"context_id", c.id.String(),
		"source", c.source.Name(),
		"deterministic", c.deterministic,
		"pool_bytes", c.pool.Size(),
		"locked", c.pool.Locked(),
		"entropy_bits", c.pool.EntropyBits(),
	)
	return c, nil
}

// With runs fn with a fresh Context and closes it when fn returns.
//
// # Examples
//
//	err := qrng.With(func(ctx *qrng.Context) error {
//	    _, err := ctx.Uint64()
//	    return err
//	})
func With(fn func(*Context) error, opts ...Option) error {
	c, err := New(opts...)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// Close wipes and releases the pool, generator key and keystream.
//
// Idempotent: closing a closed or zero-value Context is a no-op.
func (c *Context) Close() error {
	if c == nil || c.state == stateZero || c.state == stateClosed {
		return nil
	}
	c.release()
	c.state = stateClosed
	c.logger.Debug("Context closed",
		"context_id", c.id.String(),
		"operations", c.ops,
		"bytes_served", c.served,
		"rekeys", c.rekeys,
	)
	return nil
}

// ID returns the Context identity. Empty for unusable Contexts.
func (c *Context) ID() string {
	if c.check("id") != nil {
		return ""
	}
	return c.id.String()
}

// Reseed mixes seed into the pool and rekeys the generator.
//
// # Description
//
// The seed is treated as untrusted input and credited zero bits; the rekey
// still replenishes the pool from the entropy source first.
//
// # Outputs
//
//   - error: InvalidArgument for an empty seed, EntropySourceFailure or
//     InsufficientEntropy from the rekey
func (c *Context) Reseed(seed []byte) error {
	const op = "reseed"
	if err := c.check(op); err != nil {
		return err
	}
	if len(seed) == 0 {
		return c.finish(op, 0, newError(InvalidArgument, op, errors.New("empty seed")))
	}
	if err := c.pool.Absorb("reseed", seed, 0); err != nil {
		return c.finish(op, 0, c.fail(op, err))
	}
	return c.finish(op, 0, c.rekey(op, RekeyReseed))
}

// Rekey forces a generator rekey from freshly replenished pool output.
func (c *Context) Rekey() error {
	const op = "rekey"
	if err := c.check(op); err != nil {
		return err
	}
	return c.finish(op, 0, c.rekey(op, RekeyExplicit))
}

// EntropyEstimate returns the pool quality: accumulated entropy bits divided
// by pool capacity in bits. Always in [0, 1].
func (c *Context) EntropyEstimate() (float64, error) {
	if err := c.check("entropy_estimate"); err != nil {
		return 0, err
	}
	return c.pool.Quality(), nil
}

// Stats is a point-in-time view of a Context.
type Stats struct {
	ID             string  `json:"id"`
	Source         string  `json:"source"`
	Deterministic  bool    `json:"deterministic"`
	Locked         bool    `json:"locked"`
	Operations     uint64  `json:"operations"`
	BytesServed    uint64  `json:"bytes_served"`
	Rekeys         uint64  `json:"rekeys"`
	EntropyBits    int     `json:"entropy_bits"`
	CapacityBits   int     `json:"capacity_bits"`
	Quality        float64 `json:"quality"`
	Degraded       bool    `json:"degraded"`
	HealthSamples  uint64  `json:"health_samples"`
	HealthFailures uint64  `json:"health_failures"`
}

// Stats returns counters and health state.
func (c *Context) Stats() (Stats, error) {
	if err := c.check("stats"); err != nil {
		return Stats{}, err
	}
	return Stats{
		ID:             c.id.String(),
		Source:         c.source.Name(),
		Deterministic:  c.deterministic,
		Locked:         c.pool.Locked(),
		Operations:     c.ops,
		BytesServed:    c.served,
		Rekeys:         c.rekeys,
		EntropyBits:    c.pool.EntropyBits(),
		CapacityBits:   c.pool.CapacityBits(),
		Quality:        c.pool.Quality(),
		Degraded:       c.monitor.Degraded(),
		HealthSamples:  c.monitor.Samples(),
		HealthFailures: c.monitor.Failures(),
	}, nil
}

// =============================================================================
// Internal
// =============================================================================

// check gates every public method on the Context state.
func (c *Context) check(op string) error {
	if c == nil {
		return newError(NotInitialized, op, errNilContext)
	}
	switch c.state {
	case stateLive:
		return nil
	case stateClosed:
		return newError(InvalidArgument, op, errClosed)
	case stateFailed:
		return newError(InternalFailure, op, c.fault)
	default:
		return newError(NotInitialized, op, errZeroContext)
	}
}

// finish counts the operation and reports it to the observer.
func (c *Context) finish(op string, n int, err error) error {
	c.ops++
	if err != nil {
		n = 0
	}
	q := 0.0
	if !c.pool.Destroyed() {
		q = c.pool.Quality()
	}
	c.observer.OnOperation(Event{
		ContextID: c.id.String(),
		Op:        op,
		Bytes:     n,
		Quality:   q,
		Err:       err,
	})
	return err
}

// fail records an invariant violation. The Context stays unusable until
// closed.
func (c *Context) fail(op string, cause error) error {
	c.state = stateFailed
	c.fault = cause
	c.logger.Error("Context failed",
		"context_id", c.id.String(),
		"op", op,
		"error", cause,
	)
	return newError(InternalFailure, op, cause)
}

// seed runs the initial absorb and keys the generator.
func (c *Context) seed(op string, callerSeed []byte) error {
	if len(callerSeed) > 0 && !c.deterministic {
		if err := c.pool.Absorb("caller-seed", callerSeed, 0); err != nil {
			return newError(InternalFailure, op, err)
		}
	}
	if err := c.replenish(op); err != nil {
		return err
	}

	key, err := c.extractSeed(op)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(key)

	gen, err := drbg.New(key, c.personal, c.cfg.Memory)
	if err != nil {
		return newError(AllocationFailed, op, err)
	}
	c.gen = gen
	return nil
}

// replenish reads source samples through the health monitor into the pool.
// At least one sample is always read; reading stops once the pool is full
// or MaxCollectRounds is reached.
func (c *Context) replenish(op string) error {
	for round := 0; round < c.cfg.MaxCollectRounds; round++ {
		if round > 0 && c.pool.EntropyBits() >= c.pool.CapacityBits() {
			break
		}
		sample, err := c.source.Collect(c.cfg.CollectChunk)
		if err != nil {
			return newError(EntropySourceFailure, op, err)
		}
		credit := c.monitor.Observe(sample)
		err = c.pool.Absorb("source", sample, credit)
		memguard.WipeBytes(sample)
		if err != nil {
			return newError(InternalFailure, op, err)
		}
	}
	return nil
}

// extractSeed draws RekeySeedBytes from the pool, refusing when the pool
// holds less entropy than it would hand out.
func (c *Context) extractSeed(op string) ([]byte, error) {
	need := c.cfg.RekeySeedBytes * 8
	if have := c.pool.EntropyBits(); have < need {
		c.logger.Warn("Pool below rekey minimum",
			"context_id", c.id.String(),
			"entropy_bits", have,
			"required_bits", need,
			"degraded", c.monitor.Degraded(),
		)
		return nil, newError(InsufficientEntropy, op,
			fmt.Errorf("pool holds %d bits, need %d", have, need))
	}
	key := make([]byte, c.cfg.RekeySeedBytes)
	if err := c.pool.Extract("rekey", key); err != nil {
		memguard.WipeBytes(key)
		return nil, newError(InternalFailure, op, err)
	}
	return key, nil
}

// rekey replenishes the pool and rekeys the generator from it.
func (c *Context) rekey(op, reason string) error {
	if err := c.replenish(op); err != nil {
		return err
	}
	key, err := c.extractSeed(op)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(key)

	pers := make([]byte, len(c.personal), len(c.personal)+8)
	copy(pers, c.personal)
	pers = binary.LittleEndian.AppendUint64(pers, c.rekeys+1)
	if err := c.gen.Rekey(key, pers); err != nil {
		return c.fail(op, err)
	}
	c.rekeys++

	c.logger.Debug("Generator rekeyed",
		"context_id", c.id.String(),
		"reason", reason,
		"rekeys", c.rekeys,
		"quality", c.pool.Quality(),
	)
	c.observer.OnRekey(reason)
	return nil
}

// maybeRekey rekeys when the served-bytes interval is exhausted or the pool
// quality has dropped below the configured minimum.
func (c *Context) maybeRekey(op string) error {
	switch {
	case c.gen.Served() >= c.cfg.RekeyIntervalBytes:
		return c.rekey(op, RekeyInterval)
	case c.pool.Quality() < c.cfg.MinQuality:
		return c.rekey(op, RekeyQuality)
	default:
		return nil
	}
}

// generate fills p from the stream generator, rekeying at interval
// boundaries so no rekey interval is ever overrun. Bytes count as served
// only once all of p is filled.
func (c *Context) generate(op string, p []byte) error {
	total := uint64(len(p))
	for len(p) > 0 {
		if err := c.maybeRekey(op); err != nil {
			return err
		}
		n := len(p)
		if room := c.cfg.RekeyIntervalBytes - c.gen.Served(); uint64(n) > room {
			n = int(room)
		}
		if err := c.gen.Fill(p[:n]); err != nil {
			return c.fail(op, err)
		}
		p = p[n:]
	}
	c.served += total
	return nil
}

func (c *Context) onHealthFailure(test string) {
	c.logger.Warn("Entropy source health test failed",
		"context_id", c.id.String(),
		"source", c.source.Name(),
		"test", test,
	)
	c.observer.OnHealthFailure(test)
}

func (c *Context) release() {
	if c.gen != nil {
		c.gen.Destroy()
	}
	if c.pool != nil {
		c.pool.Destroy()
	}
}
