// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package securemem provides wiped-on-release byte buffers for key and pool
// material.
//
// Buffers are backed by memguard LockedBuffers (mlocked, guard pages, canaries)
// when the process mlock limit allows it. When it does not, the package falls
// back to ordinary heap memory that is still zeroed on Destroy. The fallback is
// logged at Warn level and reported through Buffer.Locked.
//
// # Modes
//
//   - ModeAuto: locked when the mlock budget allows, unlocked otherwise
//   - ModeLocked: locked or fail with ErrMlockInsufficient
//   - ModeUnlocked: always unlocked
//
// Setting QRNG_INSECURE_MEMORY=true forces ModeUnlocked for every allocation.
//
// # Thread Safety
//
// New and Live are safe for concurrent use. Individual buffers are not.
package securemem

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/awnumar/memguard"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// InsecureMemoryEnv forces unlocked buffers when set to "true".
	InsecureMemoryEnv = "QRNG_INSECURE_MEMORY"

	// reservedLockedPages covers memguard's own locked key material, which is
	// allocated the first time any LockedBuffer is created.
	reservedLockedPages = 4
)

// Mode selects how buffers are backed.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeLocked   Mode = "locked"
	ModeUnlocked Mode = "unlocked"
)

// Valid reports whether m is one of the known modes. The empty mode is
// treated as ModeAuto.
func (m Mode) Valid() bool {
	switch m {
	case "", ModeAuto, ModeLocked, ModeUnlocked:
		return true
	default:
		return false
	}
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidSize is returned for non-positive buffer sizes.
	ErrInvalidSize = errors.New("securemem: buffer size must be positive")

	// ErrMlockInsufficient is returned in ModeLocked when the mlock budget
	// cannot cover the requested buffer.
	ErrMlockInsufficient = errors.New("securemem: mlock limit insufficient")

	// ErrAllocation is returned when memguard could not hand out a buffer.
	ErrAllocation = errors.New("securemem: allocation failed")
)

// =============================================================================
// Package Variables
// =============================================================================

var (
	initOnce sync.Once

	// mlockLimit is the RLIMIT_MEMLOCK soft limit in bytes, -1 when unlimited
	// or unknown.
	mlockLimit int64

	// lockedBytes is the number of bytes this package currently holds mlocked.
	lockedBytes atomic.Int64

	// live counts buffers handed out and not yet destroyed.
	live atomic.Int64

	pageSize = int64(os.Getpagesize())
)

// =============================================================================
// Interfaces
// =============================================================================

// Buffer is a fixed-size byte buffer that is zeroed when destroyed.
//
// # Description
//
// Bytes returns the live backing slice. Callers must not keep references to
// it after Destroy. Destroy is idempotent.
//
// # Examples
//
//	buf, err := securemem.New(32, securemem.ModeAuto)
//	if err != nil {
//	    return err
//	}
//	defer buf.Destroy()
//	copy(buf.Bytes(), key)
type Buffer interface {
	Bytes() []byte
	Size() int
	Locked() bool
	IsAlive() bool
	Destroy()
}

// =============================================================================
// Constructor Functions
// =============================================================================

// New allocates a zeroed buffer of size bytes.
//
// # Description
//
// Chooses a locked or unlocked backing according to mode, the
// QRNG_INSECURE_MEMORY override and the remaining mlock budget. The budget is
// checked before calling into memguard because memguard purges every live
// buffer in the process when an mlock call fails.
//
// # Inputs
//
//   - size: Buffer length in bytes, must be positive
//   - mode: Backing policy, empty means ModeAuto
//
// # Outputs
//
//   - Buffer: Ready for use
//   - error: ErrInvalidSize, ErrMlockInsufficient or ErrAllocation
func New(size int, mode Mode) (Buffer, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("securemem: unknown mode %q", mode)
	}
	initLimits()

	if mode == ModeUnlocked || os.Getenv(InsecureMemoryEnv) == "true" {
		return newHeapBuffer(size), nil
	}

	need := roundToPage(int64(size))
	if !reserveLocked(need) {
		if mode == ModeLocked {
			return nil, fmt.Errorf("%w: need %d bytes, limit %d bytes",
				ErrMlockInsufficient, need, mlockLimit)
		}
		slog.Warn("Falling back to unlocked memory, mlock budget exhausted",
			"requested_bytes", size,
			"locked_bytes", lockedBytes.Load(),
			"mlock_limit", mlockLimit,
		)
		return newHeapBuffer(size), nil
	}

	lb := memguard.NewBuffer(size)
	if lb == nil || lb.Size() != size {
		lockedBytes.Add(-need)
		return nil, fmt.Errorf("%w: %d bytes", ErrAllocation, size)
	}
	lb.Melt()
	live.Add(1)

	return &lockedBuffer{buf: lb, reserved: need}, nil
}

// Live returns the number of buffers allocated and not yet destroyed.
func Live() int64 {
	return live.Load()
}

// LockedBytes returns the number of bytes currently held in mlocked memory.
func LockedBytes() int64 {
	return lockedBytes.Load()
}

// =============================================================================
// Locked Implementation
// =============================================================================

type lockedBuffer struct {
	buf      *memguard.LockedBuffer
	reserved int64
}

func (b *lockedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

func (b *lockedBuffer) Size() int {
	return b.buf.Size()
}

func (b *lockedBuffer) Locked() bool {
	return true
}

func (b *lockedBuffer) IsAlive() bool {
	return b.buf.IsAlive()
}

func (b *lockedBuffer) Destroy() {
	if !b.buf.IsAlive() {
		return
	}
	b.buf.Destroy()
	lockedBytes.Add(-b.reserved)
	live.Add(-1)
}

// =============================================================================
// Heap Fallback Implementation
// =============================================================================

type heapBuffer struct {
	data      []byte
	destroyed bool
}

func newHeapBuffer(size int) *heapBuffer {
	live.Add(1)
	return &heapBuffer{data: make([]byte, size)}
}

func (b *heapBuffer) Bytes() []byte {
	return b.data
}

func (b *heapBuffer) Size() int {
	return len(b.data)
}

func (b *heapBuffer) Locked() bool {
	return false
}

func (b *heapBuffer) IsAlive() bool {
	return !b.destroyed
}

func (b *heapBuffer) Destroy() {
	if b.destroyed {
		return
	}
	memguard.WipeBytes(b.data)
	b.data = nil
	b.destroyed = true
	live.Add(-1)
}

// =============================================================================
// Helper Functions
// =============================================================================

func initLimits() {
	initOnce.Do(func() {
		mlockLimit = probeMlockLimit()
		if mlockLimit < 0 {
			slog.Debug("Secure memory initialized", "mlock_limit", "unlimited")
			return
		}
		slog.Debug("Secure memory initialized", "mlock_limit_kb", mlockLimit/1024)
	})
}

// reserveLocked claims need bytes of the mlock budget. It returns false when
// the budget cannot cover the request.
func reserveLocked(need int64) bool {
	if mlockLimit < 0 {
		lockedBytes.Add(need)
		return true
	}
	budget := mlockLimit - reservedLockedPages*pageSize
	for {
		cur := lockedBytes.Load()
		if cur+need > budget {
			return false
		}
		if lockedBytes.CompareAndSwap(cur, cur+need) {
			return true
		}
	}
}

func roundToPage(n int64) int64 {
	return (n + pageSize - 1) / pageSize * pageSize
}
