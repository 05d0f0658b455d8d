// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package collab declares the narrow interfaces through which the watchdog
// drives external systems: the service manager, the stream controller, the
// content pipeline and outbound notification.
package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/streamguard/internal/health"
)

// ErrCallFailed wraps every collaborator failure.
var ErrCallFailed = errors.New("collaborator call failed")

// CallError builds an error that matches ErrCallFailed.
func CallError(collaborator, op string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrCallFailed, collaborator, op, err)
}

// ServiceManager controls named background services. All operations are
// idempotent and report failure as an error.
type ServiceManager interface {
	Status(ctx context.Context, name string) (health.ServiceState, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
}

// StreamController switches the live output between live and fallback content.
type StreamController interface {
	SwitchToFallback(ctx context.Context, reason string) error
	SwitchToLive(ctx context.Context) error
	IsOnFallback(ctx context.Context) (bool, error)
}

// ContentPipeline reports how many seconds of ready-to-play content exist.
type ContentPipeline interface {
	BufferDepthSeconds(ctx context.Context) (int, error)
}

// Severity of a notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notification is one outbound message.
type Notification struct {
	Event    string            `json:"event"`
	Message  string            `json:"message"`
	Severity Severity          `json:"severity"`
	Fields   map[string]string `json:"fields,omitempty"`
	At       time.Time         `json:"at"`
}

// Notifier delivers notifications on a best-effort basis.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotifyTimeout bounds a single Notify call.
const NotifyTimeout = 10 * time.Second

// Notify sends n and swallows the result. Callers on transition paths use it so
// that a slow or failing notifier never blocks or fails the transition.
func Notify(ctx context.Context, notifier Notifier, n Notification) {
	if notifier == nil {
		return
	}
	if n.At.IsZero() {
		n.At = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), NotifyTimeout)
	defer cancel()
	_ = notifier.Send(ctx, n)
}
