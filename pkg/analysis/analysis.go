// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis computes the statistics the CLI reports for generated
// values: summary moments, per-bit frequencies, a chi-squared uniformity
// test and the Shannon entropy of byte output.
package analysis

import (
	"errors"
	"math"
	"math/bits"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrEmpty is returned when there is nothing to analyze.
var ErrEmpty = errors.New("analysis: no values")

// Summary holds population moments of a sample.
type Summary struct {
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Summarize returns min, max, mean and population standard deviation.
func Summarize(values []float64) (Summary, error) {
	if len(values) == 0 {
		return Summary{}, ErrEmpty
	}
	return Summary{
		Count:  len(values),
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Mean:   stat.Mean(values, nil),
		StdDev: math.Sqrt(stat.PopVariance(values, nil)),
	}, nil
}

// RequiredBits returns the number of bits needed to represent every offset
// in [0, span]. At least one bit is reported.
func RequiredBits(span uint64) int {
	return max(bits.Len64(span), 1)
}

// BitFrequencies returns, for bit positions 0 (least significant) through
// width-1, the fraction of offsets with that bit set.
func BitFrequencies(offsets []uint64, width int) []float64 {
	freq := make([]float64, width)
	if len(offsets) == 0 {
		return freq
	}
	for _, v := range offsets {
		for j := range width {
			if v&(1<<uint(j)) != 0 {
				freq[j]++
			}
		}
	}
	floats.Scale(1/float64(len(offsets)), freq)
	return freq
}

// Uniformity is the result of a chi-squared goodness-of-fit test against
// the uniform distribution.
type Uniformity struct {
	Bins      int
	Statistic float64
	PValue    float64
}

// TestUniform bins offsets from [0, span] into at most maxBins equal-width
// bins (the last may be narrower) and runs a chi-squared test against the
// expected uniform counts.
//
// # Description
//
// Expected counts are weighted by bin width, so a narrower last bin does not
// bias the statistic. With fewer than two bins the test is trivially passed.
func TestUniform(offsets []uint64, span uint64, maxBins int) (Uniformity, error) {
	if len(offsets) == 0 {
		return Uniformity{}, ErrEmpty
	}
	if maxBins < 2 {
		maxBins = 2
	}

	width := span/uint64(maxBins) + 1
	nbins := int(span/width) + 1

	observed := make([]float64, nbins)
	for _, v := range offsets {
		if v > span {
			continue
		}
		observed[v/width]++
	}
	if nbins < 2 {
		return Uniformity{Bins: nbins, PValue: 1}, nil
	}

	total := float64(span) + 1
	n := floats.Sum(observed)
	expected := make([]float64, nbins)
	for i := range expected {
		size := float64(width)
		if i == nbins-1 {
			size = float64(span-uint64(i)*width) + 1
		}
		expected[i] = n * size / total
	}

	chi := stat.ChiSquare(observed, expected)
	return Uniformity{
		Bins:      nbins,
		Statistic: chi,
		PValue:    distuv.ChiSquared{K: float64(nbins - 1)}.Survival(chi),
	}, nil
}

// ShannonBitsPerByte returns the Shannon entropy of the byte histogram of
// data, in bits per byte (0 to 8).
func ShannonBitsPerByte(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]float64
	for _, b := range data {
		counts[b]++
	}
	p := counts[:]
	floats.Scale(1/float64(len(data)), p)
	return stat.Entropy(p) / math.Ln2
}
