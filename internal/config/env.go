// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/rs/zerolog"
)

// EnvPrefix prefixes every environment variable streamguard reads.
const EnvPrefix = "STREAMGUARD_"

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "password") || strings.Contains(k, "secret")
}

// lookupEnv reads key and logs where the value came from. ok is false when
// the variable is unset or empty.
func lookupEnv(logger zerolog.Logger, key string) (string, bool) {
	v, exists := os.LookupEnv(key)
	if !exists || v == "" {
		logger.Debug().
			Str("key", key).
			Str("source", "default").
			Msg("using default value")
		return "", false
	}
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitive(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Str("value", v)
	}
	ev.Msg("using environment variable")
	return v, true
}

// parseEnv converts the variable with parse and falls back to defaultValue on
// parse errors.
func parseEnv[T any](key string, defaultValue T, kind string, parse func(string) (T, error)) T {
	logger := xglog.WithComponent("config")
	v, ok := lookupEnv(logger, key)
	if !ok {
		return defaultValue
	}
	out, err := parse(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Interface("default", defaultValue).
			Msgf("invalid %s in environment variable, using default", kind)
		return defaultValue
	}
	return out
}

// ParseString reads a string from environment variable or returns default value.
func ParseString(key, defaultValue string) string {
	v, ok := lookupEnv(xglog.WithComponent("config"), key)
	if !ok {
		return defaultValue
	}
	return v
}

// ParseInt reads an integer from environment variable or returns default value.
func ParseInt(key string, defaultValue int) int {
	return parseEnv(key, defaultValue, "integer", strconv.Atoi)
}

// ParseDuration reads a Go duration (e.g. "5s") from environment variable.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(key, defaultValue, "duration", time.ParseDuration)
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	return parseEnv(key, defaultValue, "float", func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// ParseBool accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	return parseEnv(key, defaultValue, "boolean", func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, strconv.ErrSyntax
	})
}

// ParseStringSlice reads a comma separated list. Blank entries are dropped.
func ParseStringSlice(key string, defaultValue []string) []string {
	v, ok := lookupEnv(xglog.WithComponent("config"), key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
