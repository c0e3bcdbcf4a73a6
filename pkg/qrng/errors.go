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
	"errors"
	"fmt"
)

// =============================================================================
// Error Codes
// =============================================================================

// Code is the closed set of results an engine operation can produce.
//
// # Description
//
// Every fallible operation returns exactly one Code, wrapped in an *Error.
// Success is never wrapped: a nil error means Success. The numeric values are
// stable and are what the binding layers (HTTP service, CLI exit codes) see.
//
// # Retry Semantics
//
//   - InvalidArgument: caller bug, never retried
//   - NotInitialized: the handle was never constructed
//   - AllocationFailed: retry after freeing memory elsewhere
//   - EntropySourceFailure: retry with backoff
//   - InsufficientEntropy: retry after a delay
//   - InternalFailure: fatal to the Context; close it and create a new one
type Code int

const (
	Success Code = -iota
	InvalidArgument
	NotInitialized
	AllocationFailed
	EntropySourceFailure
	InsufficientEntropy
	InternalFailure
)

// Codes lists every code in declaration order.
var Codes = []Code{
	Success,
	InvalidArgument,
	NotInitialized,
	AllocationFailed,
	EntropySourceFailure,
	InsufficientEntropy,
	InternalFailure,
}

var codeNames = map[Code]string{
	Success:              "Success",
	InvalidArgument:      "InvalidArgument",
	NotInitialized:       "NotInitialized",
	AllocationFailed:     "AllocationFailed",
	EntropySourceFailure: "EntropySourceFailure",
	InsufficientEntropy:  "InsufficientEntropy",
	InternalFailure:      "InternalFailure",
}

var codeMessages = map[Code]string{
	Success:              "Success",
	InvalidArgument:      "Invalid argument",
	NotInitialized:       "Context not initialized",
	AllocationFailed:     "Memory allocation failed",
	EntropySourceFailure: "Entropy source failure",
	InsufficientEntropy:  "Insufficient entropy",
	InternalFailure:      "Internal failure",
}

// String returns the identifier of the code, e.g. "InvalidArgument".
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Retryable reports whether a caller may retry the failed operation later on
// the same or a new Context.
func (c Code) Retryable() bool {
	switch c {
	case AllocationFailed, EntropySourceFailure, InsufficientEntropy:
		return true
	default:
		return false
	}
}

// ErrorString returns the stable, human-readable message for code.
//
// # Description
//
// Pure and total: codes outside the enumeration map to "Unknown error".
//
// # Examples
//
//	fmt.Println(qrng.ErrorString(qrng.InvalidArgument)) // Invalid argument
func ErrorString(code Code) string {
	if msg, ok := codeMessages[code]; ok {
		return msg
	}
	return "Unknown error"
}

// =============================================================================
// Error Type
// =============================================================================

// Sentinel errors, one per failure code. They match any *Error with the same
// code under errors.Is.
var (
	ErrInvalidArgument      = &Error{Code: InvalidArgument}
	ErrNotInitialized       = &Error{Code: NotInitialized}
	ErrAllocationFailed     = &Error{Code: AllocationFailed}
	ErrEntropySourceFailure = &Error{Code: EntropySourceFailure}
	ErrInsufficientEntropy  = &Error{Code: InsufficientEntropy}
	ErrInternalFailure      = &Error{Code: InternalFailure}
)

// Error is the error type returned by every engine operation.
//
// # Description
//
// Code is the result class; Op names the operation that failed ("uint64",
// "entangle", ...); Err is the optional underlying cause.
//
// # Examples
//
//	v, err := ctx.Range32(10, 1)
//	if errors.Is(err, qrng.ErrInvalidArgument) {
//	    // min > max
//	}
//
//	var qe *qrng.Error
//	if errors.As(err, &qe) && qe.Code.Retryable() {
//	    // back off and retry
//	}
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := ErrorString(e.Code)
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("qrng: %s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("qrng: %s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("qrng: %s: %v", msg, e.Err)
	default:
		return "qrng: " + msg
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the Code from err. nil maps to Success and errors that did
// not come from the engine map to InternalFailure.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InternalFailure
}

func newError(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}
