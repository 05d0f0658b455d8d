// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshot_CopiesServices(t *testing.T) {
	r := nominal()
	snap := NewSnapshot(r)

	r.Services["render.service"] = ServiceFailed
	state, ok := snap.Service("render.service")
	require.True(t, ok)
	assert.Equal(t, ServiceActive, state)
}

func TestSnapshot_WithDiskDoesNotMutateOriginal(t *testing.T) {
	snap := NewSnapshot(nominal())
	derived := snap.WithDisk(Reading(12))

	assert.Equal(t, 40.0, snap.Resources().DiskUsedPct.Value)
	assert.Equal(t, 12.0, derived.Resources().DiskUsedPct.Value)
	assert.Equal(t, snap.ServiceNames(), derived.ServiceNames())
}

func TestSnapshot_Defaults(t *testing.T) {
	snap := NewSnapshot(Readings{})
	assert.Equal(t, TriNotApplicable, snap.DependencyAPI())
	assert.False(t, snap.Timestamp().IsZero())

	state, ok := snap.Service("nope")
	assert.False(t, ok)
	assert.Equal(t, ServiceUnknown, state)
}

func TestSnapshot_JSONRoundTrip(t *testing.T) {
	r := nominal()
	r.Timestamp = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snap := NewSnapshot(r)

	b, err := json.Marshal(snap)
	require.NoError(t, err)

	var got Snapshot
	require.NoError(t, json.Unmarshal(b, &got))

	if diff := cmp.Diff(snap, got, cmp.AllowUnexported(Snapshot{})); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}
