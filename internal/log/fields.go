// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldService   = "service"
	FieldComponent = "component"
	FieldEvent     = "event"
	FieldCycleID   = "cycle_id"
	FieldAttemptID = "attempt_id"
	FieldRequestID = "request_id"

	// Health fields
	FieldStatus      = "status"
	FieldReasons     = "reasons"
	FieldUnit        = "unit"
	FieldUnitState   = "unit_state"
	FieldDiskPct     = "disk_used_pct"
	FieldMemoryPct   = "memory_used_pct"
	FieldLoadAvg     = "load_average"
	FieldBufferSecs  = "buffer_seconds"
	FieldFailures    = "consecutive_failures"
	FieldMaxFailures = "max_consecutive_failures"

	// Emergency fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldLevel    = "level"
	FieldReason   = "reason"
	FieldAttempt  = "attempt"
	FieldMaxTries = "max_attempts"

	// Storage fields
	FieldKey     = "key"
	FieldBackend = "backend"
	FieldPath    = "path"
)
