// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWithCycleID(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		id   string
		want string
	}{
		{name: "nil context", ctx: nil, id: "cycle-1", want: "cycle-1"},
		{name: "background context", ctx: context.Background(), id: "cycle-2", want: "cycle-2"},
		{name: "empty id", ctx: context.Background(), id: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithCycleID(tt.ctx, tt.id)
			assert.Equal(t, tt.want, CycleIDFromContext(ctx))
		})
	}
}

func TestFromContext_MissingValues(t *testing.T) {
	assert.Empty(t, CycleIDFromContext(nil))
	assert.Empty(t, AttemptIDFromContext(context.Background()))
}

func TestWithContext_AddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := ContextWithCycleID(context.Background(), "c-42")
	ctx = ContextWithAttemptID(ctx, "a-7")

	l := WithContext(ctx, logger)
	l.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "c-42", entry[FieldCycleID])
	assert.Equal(t, "a-7", entry[FieldAttemptID])
}

func TestWithContext_NoFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	l := WithContext(context.Background(), logger)
	l.Info().Msg("plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, hasCycle := entry[FieldCycleID]
	assert.False(t, hasCycle)
}

func TestFromContext_PrefersAttachedLogger(t *testing.T) {
	var attached, base bytes.Buffer
	Configure(Config{Output: &base})
	t.Cleanup(func() { Configure(Config{}) })

	reqLogger := zerolog.New(&attached).With().Str(FieldRequestID, "r-1").Logger()
	ctx := ContextWithCycleID(reqLogger.WithContext(context.Background()), "c-9")

	l := FromContext(ctx)
	l.Info().Msg("from request")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(attached.Bytes(), &entry))
	assert.Equal(t, "r-1", entry[FieldRequestID])
	assert.Equal(t, "c-9", entry[FieldCycleID])
	assert.Zero(t, base.Len())

	fallback := FromContext(context.Background())
	fallback.Info().Msg("to base")
	assert.NotZero(t, base.Len())
}
