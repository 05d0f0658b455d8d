// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package probe samples host resources, connectivity and managed services and
// assembles one immutable health snapshot per cycle. Probe failures become
// unavailable or unknown readings; they never fail the cycle.
package probe

import "errors"

var (
	// ErrProbeTimeout reports a reading that did not finish in time.
	ErrProbeTimeout = errors.New("probe timed out")
	// ErrProbeFailure reports a reading that failed.
	ErrProbeFailure = errors.New("probe failed")
)
