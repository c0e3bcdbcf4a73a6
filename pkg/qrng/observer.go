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

// Event describes one completed Context operation.
type Event struct {
	ContextID string
	Op        string
	Bytes     int
	Quality   float64
	Err       error
}

// Observer receives engine events. Implementations must be safe for
// concurrent use when shared between Contexts and must not call back into
// the Context that emitted the event.
type Observer interface {
	OnOperation(ev Event)
	OnRekey(reason string)
	OnHealthFailure(test string)
}

// Rekey reasons passed to Observer.OnRekey.
const (
	RekeyInterval = "interval"
	RekeyQuality  = "quality"
	RekeyExplicit = "explicit"
	RekeyReseed   = "reseed"
)

type nopObserver struct{}

func (nopObserver) OnOperation(Event)      {}
func (nopObserver) OnRekey(string)         {}
func (nopObserver) OnHealthFailure(string) {}
