// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package emergency implements the emergency controller: a severity state
// machine that switches the stream to fallback content, stops the conflicting
// service and owns the recovery loop.
package emergency

import (
	"fmt"
	"time"
)

// Level is the severity of an emergency.
type Level int

const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
)

var levelNames = [...]string{"none", "low", "medium", "high"}

func (l Level) String() string {
	if l < LevelNone || l > LevelHigh {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Level) UnmarshalText(b []byte) error {
	for i, name := range levelNames {
		if string(b) == name {
			*l = Level(i)
			return nil
		}
	}
	return fmt.Errorf("unknown emergency level %q", b)
}

// Phase is the controller's state machine position.
type Phase string

const (
	PhaseNormal     Phase = "normal"
	PhaseAssessing  Phase = "assessing"
	PhaseLow        Phase = "low"
	PhaseMedium     Phase = "medium"
	PhaseHigh       Phase = "high"
	PhaseRecovering Phase = "recovering"
)

// transitions lists the allowed targets per phase. Recovering is only
// reachable from Medium or High.
var transitions = map[Phase][]Phase{
	PhaseNormal:     {PhaseAssessing},
	PhaseAssessing:  {PhaseLow, PhaseMedium, PhaseHigh},
	PhaseLow:        {PhaseNormal, PhaseMedium},
	PhaseMedium:     {PhaseRecovering, PhaseNormal},
	PhaseHigh:       {PhaseRecovering, PhaseNormal},
	PhaseRecovering: {PhaseNormal},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Phase) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// ClassifySeverity derives the level from the two service states sampled at
// activation.
func ClassifySeverity(streamActive, displayActive bool) Level {
	switch {
	case streamActive && displayActive:
		return LevelLow
	case streamActive || displayActive:
		return LevelMedium
	default:
		return LevelHigh
	}
}

func phaseForLevel(l Level) Phase {
	switch l {
	case LevelLow:
		return PhaseLow
	case LevelMedium:
		return PhaseMedium
	default:
		return PhaseHigh
	}
}

// State is the durable emergency record.
type State struct {
	Active               bool      `json:"active"`
	Level                Level     `json:"level"`
	Phase                Phase     `json:"phase"`
	Reason               string    `json:"reason,omitempty"`
	ActivatedAt          time.Time `json:"activated_at,omitempty"`
	AutoRecoveryEnabled  bool      `json:"auto_recovery_enabled"`
	RecoveryAttemptCount int       `json:"recovery_attempt_count"`
	LastAttemptAt        time.Time `json:"last_attempt_at,omitempty"`
	Exhausted            bool      `json:"exhausted"`
}

func normalState() State {
	return State{Phase: PhaseNormal, Level: LevelNone}
}

// HoldsStreamDown reports whether the stream is intentionally off while the
// fallback is on air.
func (s State) HoldsStreamDown() bool {
	if !s.Active {
		return false
	}
	switch s.Phase {
	case PhaseMedium, PhaseHigh, PhaseRecovering:
		return true
	}
	return false
}

// Transition is one entry of the in-memory history.
type Transition struct {
	From   Phase     `json:"from"`
	To     Phase     `json:"to"`
	Level  Level     `json:"level"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// historySize bounds the transition history.
const historySize = 50

type history struct {
	buf  [historySize]Transition
	next int
	full bool
}

func (h *history) add(t Transition) {
	h.buf[h.next] = t
	h.next = (h.next + 1) % historySize
	if h.next == 0 {
		h.full = true
	}
}

// list returns the entries oldest first.
func (h *history) list() []Transition {
	if !h.full {
		return append([]Transition(nil), h.buf[:h.next]...)
	}
	out := make([]Transition, 0, historySize)
	out = append(out, h.buf[h.next:]...)
	return append(out, h.buf[:h.next]...)
}
