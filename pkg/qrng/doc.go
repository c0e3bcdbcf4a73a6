// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package qrng is a randomness engine with "quantum-inspired" mixing
// operations.
//
// A Context combines an entropy pool in secure memory, health tests over the
// entropy source and a forward-secure ChaCha20 stream generator rekeyed from
// the pool. It serves uniform integers, doubles and bytes, and offers two
// buffer operations: Entangle, which mixes two equal-length buffers into each
// other together with fresh pool output, and Measure, which absorbs a buffer
// into the pool and overwrites it with fresh output.
//
// "Entanglement" and "measurement" are names for these mixing and extraction
// functions on in-memory state. No quantum hardware is involved.
//
// Every fallible operation returns nil or an *Error carrying one Code.
package qrng

// version is the engine version reported by Version.
const version = "1.1.0"

// Version returns the engine version string.
func Version() string {
	return version
}
