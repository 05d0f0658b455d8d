// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/streamguard/internal/store"
)

// KeyRebootMarker is the store key of the planned-reboot marker.
const KeyRebootMarker = "reboot_marker"

// RebootMarker records what was running before a planned reboot.
type RebootMarker struct {
	WasStreaming bool      `json:"was_streaming"`
	InitiatedBy  string    `json:"initiated_by,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}

// ReadMarker returns the marker and whether one exists.
func ReadMarker(ctx context.Context, s store.Store) (RebootMarker, bool, error) {
	m, err := store.GetJSON[RebootMarker](ctx, s, KeyRebootMarker)
	if errors.Is(err, store.ErrNotFound) {
		return RebootMarker{}, false, nil
	}
	if err != nil {
		return RebootMarker{}, false, err
	}
	return m, true, nil
}
