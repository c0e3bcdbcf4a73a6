// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package drbg implements the engine's stream generator: a fast-key-erasure
// ChaCha20 generator.
//
// Each refill encrypts a zero block of BlockSize bytes under the current key.
// The first KeySize bytes of that keystream immediately replace the key, and
// every byte handed out is zeroed in the buffer as it leaves, so compromising
// the state after a call reveals nothing about earlier output.
package drbg

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/AleutianAI/qrng/pkg/securemem"
	"github.com/awnumar/memguard"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20"
)

const (
	// KeySize is the ChaCha20 key length.
	KeySize = chacha20.KeySize

	// BlockSize is the keystream produced per refill, including the
	// KeySize bytes that become the next key.
	BlockSize = 768

	labelInit  = "qrng/drbg/init/v1"
	labelRekey = "qrng/drbg/rekey/v1"
)

var (
	ErrDestroyed = errors.New("drbg: used after destroy")
	ErrEmptySeed = errors.New("drbg: seed is empty")
)

var zeroNonce [chacha20.NonceSize]byte

// Generator is not safe for concurrent use.
type Generator struct {
	mem    securemem.Buffer // key || block
	pos    int              // next unread byte in block; BlockSize when empty
	served uint64
	blocks uint64
}

// New derives the initial key from seed and personalization.
func New(seed, personalization []byte, mode securemem.Mode) (*Generator, error) {
	if len(seed) == 0 {
		return nil, ErrEmptySeed
	}
	mem, err := securemem.New(KeySize+BlockSize, mode)
	if err != nil {
		return nil, fmt.Errorf("allocate generator: %w", err)
	}
	g := &Generator{mem: mem, pos: BlockSize}
	if err := g.derive(nil, labelInit, seed, personalization); err != nil {
		mem.Destroy()
		return nil, err
	}
	return g, nil
}

// Rekey replaces the key with BLAKE2b-256, keyed by the old key, over the seed
// and personalization. Buffered keystream is discarded and the served counter
// restarts.
func (g *Generator) Rekey(seed, personalization []byte) error {
	if g.Destroyed() {
		return ErrDestroyed
	}
	if len(seed) == 0 {
		return ErrEmptySeed
	}
	oldKey := make([]byte, KeySize)
	copy(oldKey, g.key())
	defer memguard.WipeBytes(oldKey)

	if err := g.derive(oldKey, labelRekey, seed, personalization); err != nil {
		return err
	}
	clear(g.block())
	g.pos = BlockSize
	g.served = 0
	return nil
}

// Fill writes len(p) bytes of keystream into p.
func (g *Generator) Fill(p []byte) error {
	if g.Destroyed() {
		return ErrDestroyed
	}
	block := g.block()
	for len(p) > 0 {
		if g.pos == BlockSize {
			if err := g.refill(); err != nil {
				return err
			}
		}
		n := copy(p, block[g.pos:])
		clear(block[g.pos : g.pos+n])
		g.pos += n
		g.served += uint64(n)
		p = p[n:]
	}
	return nil
}

// Read implements io.Reader. It never returns a short read.
func (g *Generator) Read(p []byte) (int, error) {
	if err := g.Fill(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Served returns the bytes handed out since the last rekey.
func (g *Generator) Served() uint64 {
	return g.served
}

// Blocks returns the number of keystream refills performed.
func (g *Generator) Blocks() uint64 {
	return g.blocks
}

// Destroyed reports whether Destroy has been called.
func (g *Generator) Destroyed() bool {
	return g == nil || g.mem == nil || !g.mem.IsAlive()
}

// Destroy wipes the key and keystream. Safe to call more than once.
func (g *Generator) Destroy() {
	if g == nil || g.mem == nil {
		return
	}
	g.mem.Destroy()
	g.pos = BlockSize
	g.served = 0
}

func (g *Generator) key() []byte   { return g.mem.Bytes()[:KeySize] }
func (g *Generator) block() []byte { return g.mem.Bytes()[KeySize:] }

func (g *Generator) refill() error {
	key, block := g.key(), g.block()
	c, err := chacha20.NewUnauthenticatedCipher(key, zeroNonce[:])
	if err != nil {
		return fmt.Errorf("refill: %w", err)
	}
	clear(block)
	c.XORKeyStream(block, block)
	copy(key, block[:KeySize])
	clear(block[:KeySize])
	g.pos = KeySize
	g.blocks++
	return nil
}

// derive sets key = BLAKE2b-256_hkey(label || len(seed) || seed || personalization).
func (g *Generator) derive(hkey []byte, label string, seed, personalization []byte) error {
	h, err := blake2b.New256(hkey)
	if err != nil {
		return fmt.Errorf("derive key: %w", err)
	}
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(seed)))
	h.Write([]byte(label))
	h.Write(n[:])
	h.Write(seed)
	h.Write(personalization)

	sum := h.Sum(nil)
	copy(g.key(), sum)
	memguard.WipeBytes(sum)
	return nil
}
