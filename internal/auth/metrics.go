// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package auth

import "time"

// Clock returns the current time. Tests substitute a fixed or stepping clock.
type Clock func() time.Time

// Metrics receives authentication events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	LoginOutcome(outcome string)
	SessionValidation(result string)
	LedgerWriteFailure()
	Rehash(result string)
}

type noopMetrics struct{}

func (noopMetrics) LoginOutcome(string)      {}
func (noopMetrics) SessionValidation(string) {}
func (noopMetrics) LedgerWriteFailure()      {}
func (noopMetrics) Rehash(string)            {}
