// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package entropy adapts raw randomness sources for the engine.
//
// A Source hands out fresh byte samples on demand. The engine never trusts a
// source blindly: every sample passes through the health monitor before it is
// credited as entropy.
package entropy

import (
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/blake2b"
)

var (
	// ErrSourceUnavailable wraps every failure to obtain bytes from a source.
	ErrSourceUnavailable = errors.New("entropy: source unavailable")

	// ErrInvalidLength is returned for negative sample lengths.
	ErrInvalidLength = errors.New("entropy: invalid sample length")

	// ErrEmptySeed is returned when a deterministic source is built without seed.
	ErrEmptySeed = errors.New("entropy: deterministic source requires a seed")
)

// deterministicLabel separates the deterministic stream from any other use of
// BLAKE2b over the same seed.
const deterministicLabel = "qrng/deterministic-source/v1"

// Source produces raw samples.
//
// Collect returns exactly n bytes or an error; it never returns a short,
// zeroed or otherwise predictable sample in place of an error.
type Source interface {
	Name() string
	Collect(n int) ([]byte, error)
}

// OS returns the operating system source: getrandom(2) on Linux and
// crypto/rand elsewhere.
func OS() Source {
	return osSource{}
}

type osSource struct{}

func (osSource) Name() string {
	return "os"
}

func (osSource) Collect(n int) ([]byte, error) {
	return collect(n, readOS)
}

// FromReader adapts r into a Source. Short reads are retried until n bytes
// are produced; any error fails the whole sample.
func FromReader(name string, r io.Reader) Source {
	return &readerSource{name: name, r: r}
}

type readerSource struct {
	name string
	r    io.Reader
}

func (s *readerSource) Name() string {
	return s.name
}

func (s *readerSource) Collect(n int) ([]byte, error) {
	return collect(n, func(p []byte) error {
		_, err := io.ReadFull(s.r, p)
		return err
	})
}

// Deterministic returns a reproducible source derived from seed. It exists
// for test mode only: two sources built from the same seed yield the same
// byte stream.
func Deterministic(seed []byte) (Source, error) {
	if len(seed) == 0 {
		return nil, ErrEmptySeed
	}
	xof, err := blake2b.NewXOF(blake2b.OutputLengthUnknown, nil)
	if err != nil {
		return nil, fmt.Errorf("create xof: %w", err)
	}
	_, _ = xof.Write([]byte(deterministicLabel))
	_, _ = xof.Write(seed)
	return &readerSource{name: "deterministic", r: xof}, nil
}

// collect allocates the sample and wipes it again if fill fails part way.
func collect(n int, fill func([]byte) error) ([]byte, error) {
	if n < 0 {
		return nil, ErrInvalidLength
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if err := fill(buf); err != nil {
		memguard.WipeBytes(buf)
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return buf, nil
}
