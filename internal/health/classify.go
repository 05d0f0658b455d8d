// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import "fmt"

// Classify derives the status of snap under t. It is pure: critical conditions
// are checked first and win over warnings, warnings win over healthy.
// The returned reasons explain every condition that matched at the winning level.
func Classify(snap Snapshot, t Thresholds) (Status, []string) {
	if reasons := criticalReasons(snap, t); len(reasons) > 0 {
		return Critical, reasons
	}
	if reasons := warningReasons(snap, t); len(reasons) > 0 {
		return Warning, reasons
	}
	return Healthy, nil
}

func criticalReasons(snap Snapshot, t Thresholds) []string {
	var reasons []string
	for _, name := range t.RequiredServices {
		state, _ := snap.Service(name)
		if state.Down() && !t.expectedStopped(name, snap.StreamExpected()) {
			reasons = append(reasons, fmt.Sprintf("service %s is %s", name, state))
		}
	}
	res := snap.Resources()
	if res.DiskUsedPct.Above(t.DiskCriticalPct) {
		reasons = append(reasons, fmt.Sprintf("disk usage %.1f%% above critical %.1f%%", res.DiskUsedPct.Value, t.DiskCriticalPct))
	}
	if res.MemoryUsedPct.Above(t.MemoryCriticalPct) {
		reasons = append(reasons, fmt.Sprintf("memory usage %.1f%% above critical %.1f%%", res.MemoryUsedPct.Value, t.MemoryCriticalPct))
	}
	if !snap.NetworkOK() {
		reasons = append(reasons, "network unreachable")
	}
	if snap.DependencyAPI() == TriFailed {
		reasons = append(reasons, "dependency api unreachable")
	}
	return reasons
}

func warningReasons(snap Snapshot, t Thresholds) []string {
	var reasons []string
	res := snap.Resources()
	if res.DiskUsedPct.Above(t.DiskWarningPct) {
		reasons = append(reasons, fmt.Sprintf("disk usage %.1f%% above warning %.1f%%", res.DiskUsedPct.Value, t.DiskWarningPct))
	}
	if res.MemoryUsedPct.Above(t.MemoryWarningPct) {
		reasons = append(reasons, fmt.Sprintf("memory usage %.1f%% above warning %.1f%%", res.MemoryUsedPct.Value, t.MemoryWarningPct))
	}
	if t.LoadWarning > 0 && res.LoadAverage.Above(t.LoadWarning) {
		reasons = append(reasons, fmt.Sprintf("load average %.2f above %.2f", res.LoadAverage.Value, t.LoadWarning))
	}
	if !res.DiskUsedPct.Available {
		reasons = append(reasons, "disk reading unavailable")
	}
	if !res.MemoryUsedPct.Available {
		reasons = append(reasons, "memory reading unavailable")
	}
	if !res.LoadAverage.Available {
		reasons = append(reasons, "load reading unavailable")
	}
	if buf := snap.Buffer(); buf.Applicable && buf.Seconds < t.MinBufferSeconds {
		reasons = append(reasons, fmt.Sprintf("content buffer %ds below minimum %ds", buf.Seconds, t.MinBufferSeconds))
	}
	seen := make(map[string]struct{})
	for _, name := range append(append([]string(nil), t.RequiredServices...), snap.ServiceNames()...) {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if state, _ := snap.Service(name); state == ServiceUnknown {
			reasons = append(reasons, fmt.Sprintf("service %s state unknown", name))
		}
	}
	return reasons
}
