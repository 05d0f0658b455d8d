// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package notify provides collab.Notifier implementations: a structured log
// notifier, a rate-limited webhook and a fan-out combinator.
package notify

import (
	"context"
	"errors"

	"github.com/ManuGH/streamguard/internal/collab"
	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/ManuGH/streamguard/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrRateLimited is returned when a notification is dropped by the limiter.
var ErrRateLimited = errors.New("notification rate limited")

// ErrCircuitOpen is returned while the webhook endpoint is considered down.
var ErrCircuitOpen = errors.New("notification endpoint unavailable")

// Log writes every notification as a structured log line.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a log notifier.
func NewLog() *Log {
	return &Log{logger: xglog.WithComponent("notify")}
}

func (l *Log) Send(ctx context.Context, n collab.Notification) error {
	logger := xglog.WithContext(ctx, l.logger)
	var ev *zerolog.Event
	switch n.Severity {
	case collab.SeverityCritical:
		ev = logger.Error()
	case collab.SeverityWarning:
		ev = logger.Warn()
	default:
		ev = logger.Info()
	}
	ev = ev.Str(xglog.FieldEvent, "notify."+n.Event).Str("severity", string(n.Severity))
	for k, v := range n.Fields {
		ev = ev.Str(k, v)
	}
	ev.Msg(n.Message)
	metrics.RecordNotification("log", "sent")
	return nil
}

// Multi sends to every notifier and joins their errors.
type Multi []collab.Notifier

func (m Multi) Send(ctx context.Context, n collab.Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
