// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package emergency

import "errors"

var (
	// ErrIllegalTransition is returned for a transition the table does not allow.
	ErrIllegalTransition = errors.New("illegal emergency transition")

	// ErrLoopSuperseded is returned to a recovery loop whose run was cancelled
	// or replaced. The loop must stop when it sees it.
	ErrLoopSuperseded = errors.New("recovery loop superseded")
)
