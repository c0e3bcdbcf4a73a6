// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	s, err := Summarize([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	require.NoError(t, err)
	assert.Equal(t, 8, s.Count)
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 9.0, s.Max)
	assert.InDelta(t, 5.0, s.Mean, 1e-12)
	assert.InDelta(t, 2.0, s.StdDev, 1e-12)

	_, err = Summarize(nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestRequiredBits(t *testing.T) {
	tests := []struct {
		span uint64
		want int
	}{
		{0, 1},
		{1, 1},
		{5, 3},
		{99, 7},
		{255, 8},
		{256, 9},
		{math.MaxUint64, 64},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RequiredBits(tt.span), "span %d", tt.span)
	}
}

func TestBitFrequencies(t *testing.T) {
	freq := BitFrequencies([]uint64{0b01, 0b11, 0b10, 0b00}, 3)
	assert.Equal(t, []float64{0.5, 0.5, 0}, freq)

	assert.Equal(t, []float64{0, 0}, BitFrequencies(nil, 2))
}

func TestTestUniform_PerfectlyUniform(t *testing.T) {
	var offsets []uint64
	for range 100 {
		for v := uint64(0); v < 6; v++ {
			offsets = append(offsets, v)
		}
	}
	u, err := TestUniform(offsets, 5, 64)
	require.NoError(t, err)
	assert.Equal(t, 6, u.Bins)
	assert.InDelta(t, 0, u.Statistic, 1e-12)
	assert.InDelta(t, 1, u.PValue, 1e-9)
}

func TestTestUniform_DetectsBias(t *testing.T) {
	var offsets []uint64
	for i := range 6000 {
		v := uint64(i % 6)
		if i%5 == 0 {
			v = 0
		}
		offsets = append(offsets, v)
	}
	u, err := TestUniform(offsets, 5, 64)
	require.NoError(t, err)
	assert.Less(t, u.PValue, 1e-6)
}

func TestTestUniform_UnevenLastBin(t *testing.T) {
	// span 9 in 4 bins of width 3: {0,1,2} {3,4,5} {6,7,8} {9}
	var offsets []uint64
	for range 50 {
		for v := uint64(0); v <= 9; v++ {
			offsets = append(offsets, v)
		}
	}
	u, err := TestUniform(offsets, 9, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, u.Bins)
	assert.InDelta(t, 0, u.Statistic, 1e-9)
}

func TestTestUniform_FullRange(t *testing.T) {
	u, err := TestUniform([]uint64{0, math.MaxUint64, 1 << 63}, math.MaxUint64, 64)
	require.NoError(t, err)
	assert.Equal(t, 64, u.Bins)

	_, err = TestUniform(nil, 10, 4)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestShannonBitsPerByte(t *testing.T) {
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	assert.InDelta(t, 8, ShannonBitsPerByte(all), 1e-9)
	assert.InDelta(t, 0, ShannonBitsPerByte([]byte{7, 7, 7}), 1e-12)
	assert.InDelta(t, 1, ShannonBitsPerByte([]byte{0, 1, 0, 1}), 1e-12)
	assert.Zero(t, ShannonBitsPerByte(nil))
}
