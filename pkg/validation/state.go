// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks caller-supplied state buffers before they reach
// the engine.
//
// Buffers arrive hex encoded from the HTTP service and the CLI. Decoding
// them here keeps both front ends rejecting the same inputs with the same
// messages.
package validation

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// hexPattern matches an even-length run of hex digits, including the empty
// string.
var hexPattern = regexp.MustCompile(`^(?:[0-9a-fA-F]{2})*$`)

var (
	// ErrNotHex is returned for input that is not an even-length hex string.
	ErrNotHex = errors.New("not an even-length hex string")

	// ErrTooLong is returned when the decoded buffer exceeds the limit.
	ErrTooLong = errors.New("state too long")
)

// ValidateState checks that s is hex that decodes to at most maxBytes
// bytes. maxBytes <= 0 disables the length check.
//
// Example:
//
//	if err := validation.ValidateState(req.State, 4096); err != nil {
//	    return fmt.Errorf("state: %w", err)
//	}
func ValidateState(s string, maxBytes int) error {
	if maxBytes > 0 && len(s) > 2*maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrTooLong, len(s)/2, maxBytes)
	}
	if !hexPattern.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrNotHex, truncate(s, 16))
	}
	return nil
}

// DecodeState validates and decodes s. Surrounding whitespace and a 0x
// prefix are accepted.
func DecodeState(s string, maxBytes int) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if err := ValidateState(s, maxBytes); err != nil {
		return nil, err
	}
	return hex.DecodeString(s)
}

// DecodeStates decodes several states, naming the first bad one.
func DecodeStates(names []string, states []string, maxBytes int) ([][]byte, error) {
	if len(names) != len(states) {
		return nil, fmt.Errorf("got %d names for %d states", len(names), len(states))
	}
	out := make([][]byte, len(states))
	for i, s := range states {
		b, err := DecodeState(s, maxBytes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", names[i], err)
		}
		out[i] = b
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
