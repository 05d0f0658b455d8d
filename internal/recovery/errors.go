// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recovery

import "errors"

var (
	// ErrNetworkTimeout is returned when the network does not come up within
	// the boot wait.
	ErrNetworkTimeout = errors.New("network not reachable before timeout")

	// ErrRecoveryFailed is returned when boot recovery could not bring the
	// required services up.
	ErrRecoveryFailed = errors.New("recovery failed")
)
