// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package health runs online tests over raw entropy samples.
//
// The monitor follows the continuous health tests of NIST SP 800-90B §4.4:
// a Repetition Count Test catches a source that gets stuck on one value, and
// an Adaptive Proportion Test catches a source that starts favouring one value.
// Passing samples are credited with a conservative min-entropy bound; failing
// samples, and the sample that follows a failure, are credited zero.
//
// The monitor never reports failures to callers as errors. It only lowers the
// credit, which in turn lowers the pool quality seen by the engine.
package health

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// DefaultClaimedBitsPerByte is the assessed min-entropy per byte for
	// OS sources.
	DefaultClaimedBitsPerByte = 6.0

	// AdaptiveWindow is the APT window size for non-binary (byte) samples.
	AdaptiveWindow = 512

	// alphaLog2 is -log2 of the false positive probability per test.
	alphaLog2 = 20

	// mcvZ is the 99% upper confidence z-value used by the MCV estimate.
	mcvZ = 2.576
)

// Test names, as reported to failure callbacks.
const (
	TestRepetitionCount    = "repetition_count"
	TestAdaptiveProportion = "adaptive_proportion"
)

// ErrClaimedEntropy is returned for a claimed entropy outside (0, 8].
var ErrClaimedEntropy = errors.New("health: claimed entropy must be in (0, 8] bits per byte")

// Monitor holds the running state of both tests for one source.
//
// Not safe for concurrent use.
type Monitor struct {
	claimed   float64
	rctCutoff int
	aptCutoff int

	rctLast    byte
	rctRun     int
	rctStarted bool

	aptRef   byte
	aptCount int
	aptSeen  int

	degraded  bool
	samples   uint64
	failures  uint64
	onFailure func(test string)
}

// New builds a monitor for a source assessed at claimedBitsPerByte.
func New(claimedBitsPerByte float64) (*Monitor, error) {
	if claimedBitsPerByte <= 0 || claimedBitsPerByte > 8 || math.IsNaN(claimedBitsPerByte) {
		return nil, ErrClaimedEntropy
	}
	return &Monitor{
		claimed:   claimedBitsPerByte,
		rctCutoff: RepetitionCutoff(claimedBitsPerByte),
		aptCutoff: ProportionCutoff(claimedBitsPerByte),
	}, nil
}

// OnFailure registers fn to be called once per failing test per sample.
func (m *Monitor) OnFailure(fn func(test string)) {
	m.onFailure = fn
}

// Observe runs both tests over sample and returns the entropy credit in bits.
func (m *Monitor) Observe(sample []byte) int {
	m.samples++

	rctFailed, aptFailed := false, false
	for _, x := range sample {
		if m.repetition(x) {
			rctFailed = true
		}
		if m.proportion(x) {
			aptFailed = true
		}
	}

	if rctFailed || aptFailed {
		m.degraded = true
		m.failures++
		if rctFailed {
			m.notify(TestRepetitionCount)
		}
		if aptFailed {
			m.notify(TestAdaptiveProportion)
		}
		return 0
	}

	if m.degraded {
		// The first clean sample after a failure only clears the flag.
		m.degraded = false
		return 0
	}

	perByte := math.Min(m.claimed, MostCommonValue(sample))
	return int(math.Floor(perByte * float64(len(sample))))
}

// Degraded reports whether the most recent sample failed a test.
func (m *Monitor) Degraded() bool {
	return m.degraded
}

// Samples returns the number of samples observed.
func (m *Monitor) Samples() uint64 {
	return m.samples
}

// Failures returns the number of samples that failed at least one test.
func (m *Monitor) Failures() uint64 {
	return m.failures
}

// Cutoffs returns the RCT and APT cutoffs in use.
func (m *Monitor) Cutoffs() (rct, apt int) {
	return m.rctCutoff, m.aptCutoff
}

// repetition feeds x to the Repetition Count Test and reports a failure.
func (m *Monitor) repetition(x byte) bool {
	if m.rctStarted && x == m.rctLast {
		m.rctRun++
		if m.rctRun >= m.rctCutoff {
			m.rctRun = 1
			return true
		}
		return false
	}
	m.rctStarted = true
	m.rctLast = x
	m.rctRun = 1
	return false
}

// proportion feeds x to the Adaptive Proportion Test and reports a failure.
func (m *Monitor) proportion(x byte) bool {
	if m.aptSeen == 0 {
		m.aptRef = x
		m.aptCount = 1
		m.aptSeen = 1
		return false
	}

	m.aptSeen++
	failed := false
	if x == m.aptRef {
		m.aptCount++
		if m.aptCount >= m.aptCutoff {
			failed = true
			m.aptSeen = 0
		}
	}
	if m.aptSeen >= AdaptiveWindow {
		m.aptSeen = 0
	}
	return failed
}

func (m *Monitor) notify(test string) {
	if m.onFailure != nil {
		m.onFailure(test)
	}
}

// RepetitionCutoff returns C = 1 + ceil(-log2(alpha) / H).
func RepetitionCutoff(h float64) int {
	return 1 + int(math.Ceil(alphaLog2/h))
}

// ProportionCutoff returns the window count at which the APT fails. With c
// the smallest count such that a Binomial(W-1, 2^-H) draw exceeds c with
// probability at most alpha, the cutoff is the reference sample plus c + 1
// matches.
func ProportionCutoff(h float64) int {
	b := distuv.Binomial{N: AdaptiveWindow - 1, P: math.Exp2(-h)}
	target := 1 - math.Exp2(-alphaLog2)
	for c := 0; c < AdaptiveWindow; c++ {
		if b.CDF(float64(c)) >= target {
			return c + 2
		}
	}
	return AdaptiveWindow
}

// MostCommonValue returns the SP 800-90B §6.3.1 min-entropy estimate of
// sample in bits per byte, using the upper 99% confidence bound on the
// most common value's probability. Samples shorter than two bytes yield 0.
func MostCommonValue(sample []byte) float64 {
	n := len(sample)
	if n < 2 {
		return 0
	}
	var counts [256]int
	maxCount := 0
	for _, x := range sample {
		counts[x]++
		if counts[x] > maxCount {
			maxCount = counts[x]
		}
	}
	p := float64(maxCount) / float64(n)
	pu := math.Min(1, p+mcvZ*math.Sqrt(p*(1-p)/float64(n-1)))
	return -math.Log2(pu)
}
