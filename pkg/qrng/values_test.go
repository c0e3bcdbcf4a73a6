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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

// minPValue is the chi-squared p-value below which a distribution is
// rejected as non-uniform.
const minPValue = 1e-6

// chiSquaredP returns the p-value of observed counts against a uniform
// expectation.
func chiSquaredP(counts []int) float64 {
	total := 0
	for _, n := range counts {
		total += n
	}
	expected := float64(total) / float64(len(counts))
	stat := 0.0
	for _, n := range counts {
		d := float64(n) - expected
		stat += d * d / expected
	}
	return distuv.ChiSquared{K: float64(len(counts) - 1)}.Survival(stat)
}

func TestUint64_Varies(t *testing.T) {
	c := newTestContext(t)
	seen := make(map[uint64]struct{})
	for range 1000 {
		v, err := c.Uint64()
		require.NoError(t, err)
		seen[v] = struct{}{}
	}
	assert.Len(t, seen, 1000)
}

func TestFloat64_UnitInterval(t *testing.T) {
	c := newTestContext(t)
	const bins, draws = 20, 200_000
	counts := make([]int, bins)

	for range draws {
		f, err := c.Float64()
		require.NoError(t, err)
		require.GreaterOrEqual(t, f, 0.0)
		require.Less(t, f, 1.0)
		counts[int(f*bins)]++
	}
	assert.Greater(t, chiSquaredP(counts), minPValue)
}

func TestRange32_Bounds(t *testing.T) {
	c := newTestContext(t)
	tests := []struct {
		name     string
		min, max int32
	}{
		{"dice", 1, 6},
		{"single value", 7, 7},
		{"negative", -100, -90},
		{"straddles zero", -3, 3},
		{"full range", math.MinInt32, math.MaxInt32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 2000 {
				v, err := c.Range32(tt.min, tt.max)
				require.NoError(t, err)
				require.GreaterOrEqual(t, v, tt.min)
				require.LessOrEqual(t, v, tt.max)
			}
		})
	}
}

func TestRange64_Bounds(t *testing.T) {
	c := newTestContext(t)
	tests := []struct {
		name     string
		min, max uint64
	}{
		{"small", 10, 20},
		{"single value", 42, 42},
		{"upper edge", math.MaxUint64 - 3, math.MaxUint64},
		{"full range", 0, math.MaxUint64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 2000 {
				v, err := c.Range64(tt.min, tt.max)
				require.NoError(t, err)
				require.GreaterOrEqual(t, v, tt.min)
				require.LessOrEqual(t, v, tt.max)
			}
		})
	}
}

func TestRange_MinGreaterThanMax(t *testing.T) {
	c := newTestContext(t)
	_, err := c.Range32(6, 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = c.Range64(2, 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRange32_WideRangeUniform(t *testing.T) {
	c := newTestContext(t)
	const lo, hi = -1_000_000_000, 1_000_000_000
	const bins, draws = 100, 1_000_000
	counts := make([]int, bins)

	width := (int64(hi) - int64(lo) + 1 + bins - 1) / bins
	for range draws {
		v, err := c.Range32(lo, hi)
		require.NoError(t, err)
		counts[(int64(v)-lo)/width]++
	}
	assert.Greater(t, chiSquaredP(counts), minPValue)
}

// A span of 3*2^62+1 makes naive modulo reduction hit [0, 2^62) twice as
// often as the rest of the range.
func TestRange64_NoModuloBias(t *testing.T) {
	c := newTestContext(t)
	const quarter = uint64(1) << 62
	const draws = 120_000
	counts := make([]int, 3)

	for range draws {
		v, err := c.Range64(0, 3*quarter)
		require.NoError(t, err)
		counts[min(v/quarter, 2)]++
	}
	assert.Greater(t, chiSquaredP(counts), minPValue)
}

func TestFill_EmptyIsNoop(t *testing.T) {
	c := newTestContext(t)
	before, err := c.Stats()
	require.NoError(t, err)

	require.NoError(t, c.Fill(nil))
	require.NoError(t, c.Fill([]byte{}))

	after, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, before.BytesServed, after.BytesServed)
}

func TestFill_NoRepeatedBlocks(t *testing.T) {
	c := newTestContext(t)
	seen := make(map[[16]byte]struct{})
	buf := make([]byte, 4096)

	for range 64 {
		require.NoError(t, c.Fill(buf))
		for i := 0; i < len(buf); i += 16 {
			var blk [16]byte
			copy(blk[:], buf[i:])
			_, dup := seen[blk]
			require.False(t, dup)
			seen[blk] = struct{}{}
		}
	}
}

func TestFill_ByteFrequencies(t *testing.T) {
	c := newTestContext(t)
	buf := make([]byte, 1<<20)
	require.NoError(t, c.Fill(buf))

	counts := make([]int, 256)
	for _, b := range buf {
		counts[b]++
	}
	assert.Greater(t, chiSquaredP(counts), minPValue)
}

// Ten independent sessions of 6000 rolls; each face's per-session average
// must land within 5% of 1000 and every session must pass a chi-squared test.
func TestDiceScenario(t *testing.T) {
	const sessions, rolls = 10, 6000
	totals := make([]int, 6)

	for range sessions {
		counts := make([]int, 6)
		err := With(func(c *Context) error {
			for range rolls {
				v, err := c.Range32(1, 6)
				if err != nil {
					return err
				}
				counts[v-1]++
			}
			return nil
		}, WithConfig(testConfig()))
		require.NoError(t, err)
		assert.Greater(t, chiSquaredP(counts), minPValue)
		for i, n := range counts {
			totals[i] += n
		}
	}

	for face, n := range totals {
		avg := float64(n) / sessions
		assert.InDelta(t, 1000, avg, 50, "face %d", face+1)
	}
}
