// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the streamguard watchdog.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	labelUnknown = "unknown"

	statusHealthy  = "healthy"
	statusWarning  = "warning"
	statusCritical = "critical"
)

// Label values are bounded: no cycle IDs, reasons or paths.

var (
	cycleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamguard_cycles_total",
		Help: "Completed evaluation cycles by resulting status.",
	}, []string{"status"})

	cycleDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamguard_cycle_duration_seconds",
		Help:    "Wall time of one evaluation cycle (sample, evaluate, escalate).",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
	})

	lastCycleTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamguard_last_cycle_timestamp_seconds",
		Help: "Unix time of the last completed evaluation cycle.",
	})

	skippedTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamguard_skipped_ticks_total",
		Help: "Scheduler ticks skipped because the previous cycle was still running.",
	})

	probeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamguard_probe_failures_total",
		Help: "Probe readings that timed out or failed, by probe.",
	}, []string{"probe"})

	failureCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamguard_consecutive_failures",
		Help: "Current durable consecutive critical cycle count.",
	})

	emergencyPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamguard_emergency_phase",
		Help: "Emergency controller phase (1 for the active phase, 0 otherwise).",
	}, []string{"phase"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamguard_emergency_transitions_total",
		Help: "Emergency controller transitions by source and target phase.",
	}, []string{"from", "to"})

	recoveryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamguard_recovery_attempts_total",
		Help: "Recovery attempts by mode (loop, boot) and result.",
	}, []string{"mode", "result"})

	cleanupFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamguard_cleanup_files_total",
		Help: "Files handled by disk cleanup, by target and result (removed, failed).",
	}, []string{"target", "result"})

	cleanupBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamguard_cleanup_bytes_total",
		Help: "Bytes freed by disk cleanup, by target.",
	}, []string{"target"})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamguard_notifications_total",
		Help: "Outbound notifications by notifier and result (sent, failed, dropped).",
	}, []string{"notifier", "result"})

	storeOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamguard_store_operations_total",
		Help: "State store operations by backend, operation and result.",
	}, []string{"backend", "op", "result"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamguard_circuit_breaker_open",
		Help: "1 while the named circuit breaker rejects calls.",
	}, []string{"name"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamguard_circuit_breaker_trips_total",
		Help: "Circuit breaker trips by name and cause.",
	}, []string{"name", "cause"})
)

var phases = []string{"normal", "assessing", "low", "medium", "high", "recovering"}

// RecordCycle records the status and duration of a completed cycle.
func RecordCycle(status string, d time.Duration) {
	cycleTotal.WithLabelValues(normalizeStatus(status)).Inc()
	cycleDurationSeconds.Observe(d.Seconds())
	lastCycleTimestamp.SetToCurrentTime()
}

// IncSkippedTick counts a tick dropped while a cycle was still running.
func IncSkippedTick() {
	skippedTicksTotal.Inc()
}

// IncProbeFailure counts an unavailable reading for probe.
func IncProbeFailure(probe string) {
	probeFailuresTotal.WithLabelValues(normalizeLabel(probe)).Inc()
}

// SetFailureCount publishes the durable failure counter.
func SetFailureCount(n int) {
	failureCount.Set(float64(n))
}

// SetEmergencyPhase marks phase as the single active controller phase.
func SetEmergencyPhase(phase string) {
	phase = strings.ToLower(phase)
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1.0
		}
		emergencyPhase.WithLabelValues(p).Set(v)
	}
}

// RecordTransition counts a controller transition.
func RecordTransition(from, to string) {
	transitionsTotal.WithLabelValues(normalizePhase(from), normalizePhase(to)).Inc()
}

// RecordRecoveryAttempt counts one recovery attempt.
func RecordRecoveryAttempt(mode string, ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	recoveryAttemptsTotal.WithLabelValues(normalizeLabel(mode), result).Inc()
}

// RecordCleanup adds the outcome of one cleanup target pass.
func RecordCleanup(target string, removed, failed int, freedBytes int64) {
	target = normalizeLabel(target)
	if removed > 0 {
		cleanupFilesTotal.WithLabelValues(target, "removed").Add(float64(removed))
	}
	if failed > 0 {
		cleanupFilesTotal.WithLabelValues(target, "failed").Add(float64(failed))
	}
	if freedBytes > 0 {
		cleanupBytesTotal.WithLabelValues(target).Add(float64(freedBytes))
	}
}

// RecordNotification counts a notification outcome.
func RecordNotification(notifier, result string) {
	notificationsTotal.WithLabelValues(normalizeLabel(notifier), normalizeLabel(result)).Inc()
}

// RecordStoreOp counts a state store operation.
func RecordStoreOp(backend, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOpsTotal.WithLabelValues(normalizeLabel(backend), normalizeLabel(op), result).Inc()
}

func normalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case statusHealthy:
		return statusHealthy
	case statusWarning:
		return statusWarning
	case statusCritical:
		return statusCritical
	default:
		return labelUnknown
	}
}

func normalizePhase(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	for _, known := range phases {
		if p == known {
			return p
		}
	}
	return labelUnknown
}

func normalizeLabel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return labelUnknown
	}
	return v
}

// SetCircuitBreakerState exports whether the breaker is open.
func SetCircuitBreakerState(name, state string) {
	v := 0.0
	if state == "open" {
		v = 1
	}
	breakerState.WithLabelValues(normalizeLabel(name)).Set(v)
}

// RecordCircuitBreakerTrip counts a transition into the open state.
func RecordCircuitBreakerTrip(name, cause string) {
	breakerTrips.WithLabelValues(normalizeLabel(name), normalizeLabel(cause)).Inc()
}
