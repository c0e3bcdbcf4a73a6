// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package drbg

import (
	"bytes"
	"testing"

	"github.com/AleutianAI/qrng/pkg/securemem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGenerator(t *testing.T, seed, pers string) *Generator {
	t.Helper()
	g, err := New([]byte(seed), []byte(pers), securemem.ModeUnlocked)
	require.NoError(t, err)
	t.Cleanup(g.Destroy)
	return g
}

func draw(t *testing.T, g *Generator, n int) []byte {
	t.Helper()
	out := make([]byte, n)
	require.NoError(t, g.Fill(out))
	return out
}

func TestNew_RejectsEmptySeed(t *testing.T) {
	_, err := New(nil, []byte("p"), securemem.ModeUnlocked)
	assert.ErrorIs(t, err, ErrEmptySeed)
}

func TestGenerator_Deterministic(t *testing.T) {
	a := newTestGenerator(t, "seed", "ctx")
	b := newTestGenerator(t, "seed", "ctx")
	assert.Equal(t, draw(t, a, 2000), draw(t, b, 2000))
}

func TestGenerator_PersonalizationSeparates(t *testing.T) {
	a := newTestGenerator(t, "seed", "ctx-a")
	b := newTestGenerator(t, "seed", "ctx-b")
	assert.NotEqual(t, draw(t, a, 64), draw(t, b, 64))
}

func TestGenerator_ChunkingDoesNotChangeStream(t *testing.T) {
	a := newTestGenerator(t, "seed", "")
	b := newTestGenerator(t, "seed", "")

	whole := draw(t, a, 3000)
	var parts []byte
	for _, n := range []int{1, 7, 100, 735, 736, 1, 1420} {
		parts = append(parts, draw(t, b, n)...)
	}
	assert.Equal(t, whole, parts)
}

func TestGenerator_ServedBytesAreErased(t *testing.T) {
	g := newTestGenerator(t, "seed", "")
	out := draw(t, g, 100)

	block := g.block()
	assert.Equal(t, make([]byte, KeySize+100), block[:KeySize+100])
	assert.NotEqual(t, make([]byte, 100), out)
	assert.False(t, bytes.Contains(g.mem.Bytes(), out[:32]))
}

func TestGenerator_KeyChangesEveryRefill(t *testing.T) {
	g := newTestGenerator(t, "seed", "")
	first := bytes.Clone(g.key())

	draw(t, g, 1)
	second := bytes.Clone(g.key())
	draw(t, g, BlockSize)
	third := bytes.Clone(g.key())

	assert.NotEqual(t, first, second)
	assert.NotEqual(t, second, third)
	assert.Equal(t, uint64(2), g.Blocks())
}

func TestGenerator_RekeyChangesOutput(t *testing.T) {
	a := newTestGenerator(t, "seed", "")
	b := newTestGenerator(t, "seed", "")
	draw(t, a, 10)
	draw(t, b, 10)
	assert.Equal(t, uint64(10), a.Served())

	require.NoError(t, b.Rekey([]byte("fresh"), nil))
	assert.Zero(t, b.Served())
	assert.NotEqual(t, draw(t, a, 64), draw(t, b, 64))

	assert.ErrorIs(t, b.Rekey(nil, nil), ErrEmptySeed)
}

func TestGenerator_NoRepeatedBlocks(t *testing.T) {
	g := newTestGenerator(t, "seed", "")
	out := draw(t, g, 1<<16)

	seen := make(map[[16]byte]struct{}, len(out)/16)
	for i := 0; i+16 <= len(out); i += 16 {
		var blk [16]byte
		copy(blk[:], out[i:])
		_, dup := seen[blk]
		require.False(t, dup, "repeated block at offset %d", i)
		seen[blk] = struct{}{}
	}
}

func TestGenerator_Read(t *testing.T) {
	g := newTestGenerator(t, "seed", "")
	p := make([]byte, 40)
	n, err := g.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 40, n)
}

func TestGenerator_Destroy(t *testing.T) {
	g, err := New([]byte("seed"), nil, securemem.ModeUnlocked)
	require.NoError(t, err)
	g.Destroy()
	g.Destroy()

	assert.True(t, g.Destroyed())
	assert.ErrorIs(t, g.Fill(make([]byte, 4)), ErrDestroyed)
	assert.ErrorIs(t, g.Rekey([]byte("x"), nil), ErrDestroyed)
}
