// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by streamguard spans.
const (
	CycleIDKey      = "cycle.id"
	CycleStatusKey  = "cycle.status"
	CycleReasonsKey = "cycle.reasons"
	CycleCleanedKey = "cycle.cleaned"

	EscalationCountKey = "escalation.count"
	EscalationKey      = "escalation.decision"

	EmergencyPhaseKey = "emergency.phase"
	EmergencyLevelKey = "emergency.level"

	RecoveryModeKey    = "recovery.mode"
	RecoveryAttemptKey = "recovery.attempt"
	RecoveryOutcomeKey = "recovery.outcome"

	ServiceNameKey  = "service.unit"
	ServiceStateKey = "service.state"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// CycleAttributes describes one evaluation cycle.
func CycleAttributes(cycleID, status string, reasons int, cleaned bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CycleIDKey, cycleID),
		attribute.String(CycleStatusKey, status),
		attribute.Int(CycleReasonsKey, reasons),
		attribute.Bool(CycleCleanedKey, cleaned),
	}
}

// EmergencyAttributes describes an emergency state.
func EmergencyAttributes(phase, level string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if phase != "" {
		attrs = append(attrs, attribute.String(EmergencyPhaseKey, phase))
	}
	if level != "" {
		attrs = append(attrs, attribute.String(EmergencyLevelKey, level))
	}
	return attrs
}

// RecoveryAttributes describes a recovery run.
func RecoveryAttributes(mode string, attempt int, outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RecoveryModeKey, mode),
		attribute.Int(RecoveryAttemptKey, attempt),
		attribute.String(RecoveryOutcomeKey, outcome),
	}
}

// ErrorAttributes flags a span as failed with a coarse error type.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
