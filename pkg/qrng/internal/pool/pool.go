// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pool implements the engine's entropy pool.
//
// The pool is a fixed-size byte array kept in secure memory. Absorb hashes
// the whole pool together with new input and folds the digest back in at a
// moving cursor, so every byte ever absorbed influences every later output.
// Extract derives whitened output through a BLAKE2b XOF and then folds a
// feedback digest into the pool, so earlier output cannot be recomputed from
// the state left behind.
//
// The pool also keeps an accumulated-entropy counter in bits. It is raised by
// the credit passed to Absorb (capped at capacity) and lowered by the bits
// drawn through Extract (floored at zero).
package pool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/AleutianAI/qrng/pkg/securemem"
	"github.com/awnumar/memguard"
	"golang.org/x/crypto/blake2b"
)

const (
	MinSize     = 64
	MaxSize     = 4096
	DefaultSize = 512

	// maxExtract bounds a single Extract call to what one XOF with a known
	// output length can produce.
	maxExtract = math.MaxUint32 - 1
)

// Domain labels; no label is a prefix of another.
const (
	labelAbsorb   = "qrng/pool/absorb/"
	labelExtract  = "qrng/pool/extract/"
	labelFeedback = "qrng/pool/feedback"
)

var (
	ErrSize      = fmt.Errorf("pool: size must be within [%d, %d] bytes", MinSize, MaxSize)
	ErrDestroyed = errors.New("pool: used after destroy")
	ErrTooLarge  = errors.New("pool: extract request too large")
)

// Pool is an entropy accumulator. Not safe for concurrent use.
type Pool struct {
	buf     securemem.Buffer
	mode    securemem.Mode
	cursor  int
	counter uint64
	bits    int
}

// New allocates a zeroed pool of size bytes with no accumulated entropy.
func New(size int, mode securemem.Mode) (*Pool, error) {
	if size < MinSize || size > MaxSize {
		return nil, ErrSize
	}
	buf, err := securemem.New(size, mode)
	if err != nil {
		return nil, fmt.Errorf("allocate pool: %w", err)
	}
	return &Pool{buf: buf, mode: mode}, nil
}

// Absorb diffuses data into the pool and credits creditBits of entropy.
// Negative credit is treated as zero.
func (p *Pool) Absorb(label string, data []byte, creditBits int) error {
	if p.Destroyed() {
		return ErrDestroyed
	}

	h, err := blake2b.New512(nil)
	if err != nil {
		return fmt.Errorf("absorb: %w", err)
	}
	p.writeHeader(h, labelAbsorb+label)
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(data)))
	h.Write(n[:])
	h.Write(data)

	digest := h.Sum(nil)
	p.fold(digest)
	memguard.WipeBytes(digest)

	p.counter++
	if creditBits > 0 {
		p.bits = min(p.bits+creditBits, p.CapacityBits())
	}
	return nil
}

// Extract fills out with whitened pool output and debits 8*len(out) bits.
func (p *Pool) Extract(label string, out []byte) error {
	if p.Destroyed() {
		return ErrDestroyed
	}
	if len(out) == 0 {
		return nil
	}
	if uint64(len(out)) > maxExtract {
		return ErrTooLarge
	}

	xof, err := blake2b.NewXOF(uint32(len(out)), nil)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	p.writeHeader(xof, labelExtract+label)
	if _, err := io.ReadFull(xof, out); err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	fb, err := blake2b.New512(nil)
	if err != nil {
		return fmt.Errorf("extract feedback: %w", err)
	}
	p.writeHeader(fb, labelFeedback)
	digest := fb.Sum(nil)
	p.fold(digest)
	memguard.WipeBytes(digest)

	p.counter++
	p.bits = max(p.bits-8*len(out), 0)
	return nil
}

// Snapshot returns an independent copy of the pool. The copy must be
// destroyed by the caller.
func (p *Pool) Snapshot() (*Pool, error) {
	if p.Destroyed() {
		return nil, ErrDestroyed
	}
	buf, err := securemem.New(p.Size(), p.mode)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	copy(buf.Bytes(), p.buf.Bytes())
	return &Pool{
		buf:     buf,
		mode:    p.mode,
		cursor:  p.cursor,
		counter: p.counter,
		bits:    p.bits,
	}, nil
}

// Size returns the pool capacity in bytes.
func (p *Pool) Size() int {
	if p.Destroyed() {
		return 0
	}
	return p.buf.Size()
}

// CapacityBits returns the maximum entropy the pool can hold.
func (p *Pool) CapacityBits() int {
	return p.Size() * 8
}

// EntropyBits returns the accumulated-entropy counter.
func (p *Pool) EntropyBits() int {
	return p.bits
}

// Quality returns EntropyBits / CapacityBits, in [0, 1].
func (p *Pool) Quality() float64 {
	capBits := p.CapacityBits()
	if capBits == 0 {
		return 0
	}
	return float64(p.bits) / float64(capBits)
}

// Locked reports whether the pool lives in mlocked memory.
func (p *Pool) Locked() bool {
	return !p.Destroyed() && p.buf.Locked()
}

// Destroyed reports whether Destroy has been called.
func (p *Pool) Destroyed() bool {
	return p == nil || p.buf == nil || !p.buf.IsAlive()
}

// Destroy wipes the pool. Safe to call more than once.
func (p *Pool) Destroy() {
	if p == nil || p.buf == nil {
		return
	}
	p.buf.Destroy()
	p.bits = 0
	p.cursor = 0
	p.counter = 0
}

// writeHeader feeds the domain label, the operation counter and the full
// pool state to h.
func (p *Pool) writeHeader(h io.Writer, label string) {
	var ctr [8]byte
	binary.LittleEndian.PutUint64(ctr[:], p.counter)
	h.Write([]byte(label))
	h.Write([]byte{0})
	h.Write(ctr[:])
	h.Write(p.buf.Bytes())
}

// fold XORs d into the pool at the cursor and advances it.
func (p *Pool) fold(d []byte) {
	state := p.buf.Bytes()
	for i, b := range d {
		state[(p.cursor+i)%len(state)] ^= b
	}
	p.cursor = (p.cursor + len(d)) % len(state)
}
