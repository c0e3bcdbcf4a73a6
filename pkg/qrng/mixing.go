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

	"github.com/AleutianAI/qrng/pkg/qrng/internal/pool"
	"github.com/awnumar/memguard"
)

// entangleFreshBytes is the live pool output mixed into every entangle.
const entangleFreshBytes = 32

// Entangle mixes a and b into each other in place.
//
// # Description
//
// A transient snapshot of the pool absorbs fresh live pool output, the
// operation counter, a and b. Two domain-separated masks of len(a) bytes are
// extracted from the snapshot and XORed into a and b, so each result depends
// on both inputs and on fresh pool output. The snapshot is wiped afterwards:
// the persistent pool never absorbs a or b.
//
// The transformation is one-way. Nothing retained by the Context allows the
// original contents to be recovered.
//
// # Inputs
//
//   - a, b: Caller buffers of equal length. Empty buffers are a no-op.
//
// # Outputs
//
//   - error: InvalidArgument when len(a) != len(b). On any error both
//     buffers are left untouched.
//
// # Examples
//
//	a := []byte("alice's state")
//	b := []byte("bob's  state!")
//	if err := ctx.Entangle(a, b); err != nil {
//	    return err
//	}
//
// # Limitations
//
//   - Each call consumes entangleFreshBytes of pool entropy, which can
//     trigger a rekey on a later call
func (c *Context) Entangle(a, b []byte) error {
	const op = "entangle"
	if err := c.check(op); err != nil {
		return err
	}
	if len(a) != len(b) {
		return c.finish(op, 0, newError(InvalidArgument, op,
			fmt.Errorf("buffer lengths differ: %d != %d", len(a), len(b))))
	}
	if len(a) == 0 {
		return c.finish(op, 0, nil)
	}
	if err := c.maybeRekey(op); err != nil {
		return c.finish(op, 0, err)
	}

	maskA, maskB, err := c.entangleMasks(op, a, b)
	if err != nil {
		return c.finish(op, 0, err)
	}
	defer memguard.WipeBytes(maskA)
	defer memguard.WipeBytes(maskB)

	for i := range a {
		a[i] ^= maskA[i]
		b[i] ^= maskB[i]
	}
	return c.finish(op, 2*len(a), nil)
}

func (c *Context) entangleMasks(op string, a, b []byte) (maskA, maskB []byte, err error) {
	fresh := make([]byte, entangleFreshBytes)
	defer memguard.WipeBytes(fresh)
	if err := c.pool.Extract("entangle/fresh", fresh); err != nil {
		return nil, nil, c.fail(op, err)
	}

	snap, err := c.pool.Snapshot()
	if err != nil {
		return nil, nil, newError(AllocationFailed, op, err)
	}
	defer snap.Destroy()

	var ctr [8]byte
	binary.LittleEndian.PutUint64(ctr[:], c.ops)
	for _, in := range []struct {
		label string
		data  []byte
	}{
		{"entangle/fresh", fresh},
		{"entangle/counter", ctr[:]},
		{"entangle/a", a},
		{"entangle/b", b},
	} {
		if err := snap.Absorb(in.label, in.data, 0); err != nil {
			return nil, nil, c.fail(op, err)
		}
	}

	maskA = make([]byte, len(a))
	maskB = make([]byte, len(b))
	for _, out := range []struct {
		label string
		mask  []byte
	}{
		{"entangle/mask-a", maskA},
		{"entangle/mask-b", maskB},
	} {
		if err := snap.Extract(out.label, out.mask); err != nil {
			memguard.WipeBytes(maskA)
			memguard.WipeBytes(maskB)
			if errors.Is(err, pool.ErrTooLarge) {
				return nil, nil, newError(InvalidArgument, op, err)
			}
			return nil, nil, c.fail(op, err)
		}
	}
	return maskA, maskB, nil
}

// Measure collapses state into fresh random output.
//
// # Description
//
// The current contents of state are absorbed into the pool credited at zero
// bits, since caller data is untrusted, and state is then overwritten with
// len(state) bytes of fresh generator output. The original contents cannot
// be recovered from the buffer afterwards.
//
// # Outputs
//
//   - error: On any error state is fully zeroed
func (c *Context) Measure(state []byte) error {
	const op = "measure"
	if err := c.check(op); err != nil {
		clear(state)
		return err
	}
	if len(state) == 0 {
		return c.finish(op, 0, nil)
	}
	if err := c.pool.Absorb("measure", state, 0); err != nil {
		clear(state)
		return c.finish(op, 0, c.fail(op, err))
	}
	if err := c.generate(op, state); err != nil {
		clear(state)
		return c.finish(op, 0, err)
	}
	return c.finish(op, len(state), nil)
}
