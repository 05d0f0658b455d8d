// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"errors"
	"fmt"
)

// Thresholds is the fixed configuration a snapshot is judged against.
type Thresholds struct {
	DiskWarningPct    float64
	DiskCriticalPct   float64
	MemoryWarningPct  float64
	MemoryCriticalPct float64
	// LoadWarning raises a warning when the 1m load average exceeds it. Zero disables the rule.
	LoadWarning      float64
	MinBufferSeconds int

	RequiredServices []string
	// ExpectedStopped lists services that may be down without being critical.
	ExpectedStopped []string
	// StreamService is the primary stream service. It counts as expected-stopped
	// whenever the snapshot says the stream is not expected to be live.
	StreamService string
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DiskWarningPct:    85,
		DiskCriticalPct:   95,
		MemoryWarningPct:  85,
		MemoryCriticalPct: 95,
		MinBufferSeconds:  300,
	}
}

// Validate checks the ordering and ranges of the thresholds.
func (t Thresholds) Validate() error {
	var errs []error
	check := func(name string, warn, crit float64) {
		if warn <= 0 || warn > 100 {
			errs = append(errs, fmt.Errorf("%s warning threshold %.1f out of range (0,100]", name, warn))
		}
		if crit <= 0 || crit > 100 {
			errs = append(errs, fmt.Errorf("%s critical threshold %.1f out of range (0,100]", name, crit))
		}
		if warn > crit {
			errs = append(errs, fmt.Errorf("%s warning threshold %.1f above critical %.1f", name, warn, crit))
		}
	}
	check("disk", t.DiskWarningPct, t.DiskCriticalPct)
	check("memory", t.MemoryWarningPct, t.MemoryCriticalPct)
	if t.LoadWarning < 0 {
		errs = append(errs, fmt.Errorf("load warning %.2f must not be negative", t.LoadWarning))
	}
	if t.MinBufferSeconds < 0 {
		errs = append(errs, fmt.Errorf("minimum buffer %d must not be negative", t.MinBufferSeconds))
	}
	seen := make(map[string]struct{}, len(t.RequiredServices))
	for _, name := range t.RequiredServices {
		if name == "" {
			errs = append(errs, errors.New("required service name is empty"))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("required service %q listed twice", name))
		}
		seen[name] = struct{}{}
	}
	return errors.Join(errs...)
}

func (t Thresholds) expectedStopped(name string, streamExpected bool) bool {
	if !streamExpected && t.StreamService != "" && name == t.StreamService {
		return true
	}
	for _, s := range t.ExpectedStopped {
		if s == name {
			return true
		}
	}
	return false
}
