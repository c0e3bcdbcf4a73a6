// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rngd

import (
	"net/http"

	"github.com/AleutianAI/qrng/pkg/qrng"
)

// =============================================================================
// Request Types
// =============================================================================

// EntangleRequest is the body of POST /v1/entangle. Both buffers are hex
// encoded, must decode to the same length and to at most Config.MaxBytes.
type EntangleRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

// MeasureRequest is the body of POST /v1/measure. State decodes to at most
// Config.MaxBytes.
type MeasureRequest struct {
	State string `json:"state"`
}

// =============================================================================
// Response Types
// =============================================================================

// BytesResponse is returned by GET /v1/random/bytes.
type BytesResponse struct {
	Hex    string `json:"hex"`
	Length int    `json:"length"`
}

// Uint64Response carries a 64-bit value as a JSON string so that clients
// with float64 numbers do not lose precision.
type Uint64Response struct {
	Value uint64 `json:"value,string"`
}

// DoubleResponse is returned by GET /v1/random/double.
type DoubleResponse struct {
	Value float64 `json:"value"`
}

// Int32Response is returned by GET /v1/random/range32.
type Int32Response struct {
	Value int32 `json:"value"`
	Min   int32 `json:"min"`
	Max   int32 `json:"max"`
}

// Range64Response is returned by GET /v1/random/range64.
type Range64Response struct {
	Value uint64 `json:"value,string"`
	Min   uint64 `json:"min,string"`
	Max   uint64 `json:"max,string"`
}

// EntangleResponse holds both mixed buffers, hex encoded.
type EntangleResponse struct {
	A string `json:"a"`
	B string `json:"b"`
}

// MeasureResponse holds the collapsed buffer, hex encoded.
type MeasureResponse struct {
	State string `json:"state"`
}

// EntropyResponse is returned by GET /v1/entropy.
type EntropyResponse struct {
	Estimate float64    `json:"estimate"`
	Stats    qrng.Stats `json:"stats"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable code, e.g. "INVALID_ARGUMENT".
	Code string `json:"code"`
}

// =============================================================================
// Error Mapping
// =============================================================================

// Error codes not produced by the engine.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeRateLimited    = "RATE_LIMITED"
	CodeTooLarge       = "REQUEST_TOO_LARGE"
)

var engineCodes = map[qrng.Code]string{
	qrng.InvalidArgument:      "INVALID_ARGUMENT",
	qrng.NotInitialized:       "NOT_INITIALIZED",
	qrng.AllocationFailed:     "ALLOCATION_FAILED",
	qrng.EntropySourceFailure: "ENTROPY_SOURCE_FAILURE",
	qrng.InsufficientEntropy:  "INSUFFICIENT_ENTROPY",
	qrng.InternalFailure:      "INTERNAL_FAILURE",
}

// StatusFor maps an engine error to an HTTP status and response code.
//
// Description:
//
//	InvalidArgument is the caller's fault (400). InsufficientEntropy and
//	EntropySourceFailure are retryable conditions of the entropy supply
//	(503). Everything else is a server failure (500).
func StatusFor(err error) (int, string) {
	code := qrng.CodeOf(err)
	name, ok := engineCodes[code]
	if !ok {
		name = engineCodes[qrng.InternalFailure]
	}

	switch code {
	case qrng.InvalidArgument:
		return http.StatusBadRequest, name
	case qrng.InsufficientEntropy, qrng.EntropySourceFailure:
		return http.StatusServiceUnavailable, name
	default:
		return http.StatusInternalServerError, name
	}
}
