// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseString(t *testing.T) {
	assert.Equal(t, "def", ParseString("STREAMGUARD_TEST_STR", "def"))
	t.Setenv("STREAMGUARD_TEST_STR", "")
	assert.Equal(t, "def", ParseString("STREAMGUARD_TEST_STR", "def"), "empty falls back")
	t.Setenv("STREAMGUARD_TEST_STR", "val")
	assert.Equal(t, "val", ParseString("STREAMGUARD_TEST_STR", "def"))
}

func TestParseInt(t *testing.T) {
	t.Setenv("STREAMGUARD_TEST_INT", "42")
	assert.Equal(t, 42, ParseInt("STREAMGUARD_TEST_INT", 1))
	t.Setenv("STREAMGUARD_TEST_INT", "forty-two")
	assert.Equal(t, 1, ParseInt("STREAMGUARD_TEST_INT", 1))
}

func TestParseDuration(t *testing.T) {
	t.Setenv("STREAMGUARD_TEST_DUR", "90s")
	assert.Equal(t, 90*time.Second, ParseDuration("STREAMGUARD_TEST_DUR", time.Second))
	t.Setenv("STREAMGUARD_TEST_DUR", "90")
	assert.Equal(t, time.Second, ParseDuration("STREAMGUARD_TEST_DUR", time.Second))
}

func TestParseFloat(t *testing.T) {
	t.Setenv("STREAMGUARD_TEST_FLOAT", "92.5")
	assert.Equal(t, 92.5, ParseFloat("STREAMGUARD_TEST_FLOAT", 95))
	t.Setenv("STREAMGUARD_TEST_FLOAT", "high")
	assert.Equal(t, 95.0, ParseFloat("STREAMGUARD_TEST_FLOAT", 95))
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"YES", false, true},
		{"1", false, true},
		{"false", true, false},
		{"No", true, false},
		{"0", true, false},
		{"maybe", true, true},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Setenv("STREAMGUARD_TEST_BOOL", tt.value)
		assert.Equal(t, tt.want, ParseBool("STREAMGUARD_TEST_BOOL", tt.def), "value %q", tt.value)
	}
}

func TestParseStringSlice(t *testing.T) {
	def := []string{"a"}
	assert.Equal(t, def, ParseStringSlice("STREAMGUARD_TEST_LIST", def))
	t.Setenv("STREAMGUARD_TEST_LIST", " x , ,y,")
	assert.Equal(t, []string{"x", "y"}, ParseStringSlice("STREAMGUARD_TEST_LIST", def))
}

func TestIsSensitive(t *testing.T) {
	assert.True(t, isSensitive("STREAMGUARD_API_TOKEN"))
	assert.True(t, isSensitive("STREAMGUARD_OBS_PASSWORD"))
	assert.False(t, isSensitive("STREAMGUARD_OBS_URL"))
}
