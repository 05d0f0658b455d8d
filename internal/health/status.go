// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package health models one evaluation cycle: the immutable snapshot produced
// by the probes, the thresholds it is judged against and the resulting status.
package health

import (
	"fmt"
	"strings"
)

// Status is the overall classification of a snapshot.
// Its integer value doubles as the process exit code of `streamguard check`.
type Status int

const (
	Healthy Status = iota
	Warning
	Critical
)

// String returns string representation of the status.
func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// ExitCode maps the status onto the exit code contract for external schedulers.
func (s Status) ExitCode() int {
	if s < Healthy || s > Critical {
		return int(Critical)
	}
	return int(s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus parses the textual form produced by String.
func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "healthy":
		return Healthy, nil
	case "warning":
		return Warning, nil
	case "critical":
		return Critical, nil
	default:
		return Critical, fmt.Errorf("unknown health status %q", v)
	}
}
