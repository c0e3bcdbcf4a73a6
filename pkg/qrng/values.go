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
	"fmt"
)

// =============================================================================
// Scalar Values
// =============================================================================

// Uint64 returns a uniform 64-bit value.
func (c *Context) Uint64() (uint64, error) {
	const op = "uint64"
	if err := c.check(op); err != nil {
		return 0, err
	}
	v, err := c.next(op)
	return v, c.finish(op, 8, err)
}

// Float64 returns a uniform value in [0, 1).
//
// # Description
//
// The top 53 bits of one Uint64 draw are scaled by 2^-53, so every result is
// a multiple of 2^-53 and 1.0 is never produced.
func (c *Context) Float64() (float64, error) {
	const op = "double"
	if err := c.check(op); err != nil {
		return 0, err
	}
	v, err := c.next(op)
	if err != nil {
		return 0, c.finish(op, 0, err)
	}
	return float64(v>>11) * 0x1p-53, c.finish(op, 8, nil)
}

// Range32 returns a uniform value in [min, max], both inclusive.
//
// # Description
//
// Draws are rejected and resampled when they fall into the 2^64 mod span
// remainder, so there is no modulo bias.
//
// # Outputs
//
//   - int32: Value in [min, max]
//   - error: InvalidArgument when min > max
//
// # Examples
//
//	roll, err := ctx.Range32(1, 6)
//	temp, err := ctx.Range32(-40, 40)
func (c *Context) Range32(min, max int32) (int32, error) {
	const op = "range32"
	if err := c.check(op); err != nil {
		return 0, err
	}
	if min > max {
		return 0, c.finish(op, 0, newError(InvalidArgument, op,
			fmt.Errorf("min %d > max %d", min, max)))
	}
	span := uint64(int64(max) - int64(min) + 1)
	off, err := c.uniform(op, span)
	if err != nil {
		return 0, c.finish(op, 0, err)
	}
	return int32(int64(min) + int64(off)), c.finish(op, 8, nil)
}

// Range64 returns a uniform value in [min, max], both inclusive. The full
// range [0, 2^64-1] returns the raw draw.
func (c *Context) Range64(min, max uint64) (uint64, error) {
	const op = "range64"
	if err := c.check(op); err != nil {
		return 0, err
	}
	if min > max {
		return 0, c.finish(op, 0, newError(InvalidArgument, op,
			fmt.Errorf("min %d > max %d", min, max)))
	}
	off, err := c.uniform(op, max-min+1)
	if err != nil {
		return 0, c.finish(op, 0, err)
	}
	return min + off, c.finish(op, 8, nil)
}

// =============================================================================
// Bytes
// =============================================================================

// Fill writes exactly len(buf) random bytes into buf.
//
// # Description
//
// An empty buf is a successful no-op. On error buf is fully zeroed, never
// partially filled.
//
// # Examples
//
//	key := make([]byte, 32)
//	if err := ctx.Fill(key); err != nil {
//	    return err
//	}
func (c *Context) Fill(buf []byte) error {
	const op = "bytes"
	if err := c.check(op); err != nil {
		clear(buf)
		return err
	}
	if len(buf) == 0 {
		return c.finish(op, 0, nil)
	}
	if err := c.generate(op, buf); err != nil {
		clear(buf)
		return c.finish(op, 0, err)
	}
	return c.finish(op, len(buf), nil)
}

// Read implements io.Reader on top of Fill. It fills p completely or
// returns 0 and an error.
func (c *Context) Read(p []byte) (int, error) {
	if err := c.Fill(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// next draws one 64-bit value.
func (c *Context) next(op string) (uint64, error) {
	var b [8]byte
	if err := c.generate(op, b[:]); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(b[:])
	clear(b[:])
	return v, nil
}

// uniform returns a value in [0, span) by rejection sampling. span == 0
// stands for 2^64.
func (c *Context) uniform(op string, span uint64) (uint64, error) {
	if span == 0 {
		return c.next(op)
	}
	threshold := -span % span
	for {
		v, err := c.next(op)
		if err != nil {
			return 0, err
		}
		if v >= threshold {
			return v % span, nil
		}
	}
}
