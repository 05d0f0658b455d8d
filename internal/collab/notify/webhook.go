// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ManuGH/streamguard/internal/collab"
	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/ManuGH/streamguard/internal/metrics"
	"github.com/ManuGH/streamguard/internal/resilience"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration // default 5s
	// Rate and Burst bound outbound posts; defaults allow one every 10s with a burst of 5.
	Rate  rate.Limit
	Burst int
	// MinSeverity drops notifications below it; default info.
	MinSeverity collab.Severity
	// BreakerThreshold consecutive failures stop posting for BreakerReset.
	// Defaults are 3 and one minute.
	BreakerThreshold int
	BreakerReset     time.Duration
}

// Webhook posts notifications as JSON. The payload carries both "content"
// (Discord) and "text" (Slack) so either endpoint renders it.
type Webhook struct {
	cfg     WebhookConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewWebhook creates a webhook notifier.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Rate <= 0 {
		cfg.Rate = rate.Every(10 * time.Second)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.MinSeverity == "" {
		cfg.MinSeverity = collab.SeverityInfo
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = time.Minute
	}
	return &Webhook{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(cfg.Rate, cfg.Burst),
		breaker: resilience.NewCircuitBreaker("webhook", cfg.BreakerThreshold, cfg.BreakerReset),
		logger:  xglog.WithComponent("notify"),
	}
}

type webhookPayload struct {
	Content  string            `json:"content"`
	Text     string            `json:"text"`
	Event    string            `json:"event"`
	Severity collab.Severity   `json:"severity"`
	Fields   map[string]string `json:"fields,omitempty"`
	At       time.Time         `json:"at"`
}

func severityRank(s collab.Severity) int {
	switch s {
	case collab.SeverityCritical:
		return 2
	case collab.SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Send posts n. Critical notifications bypass the limiter.
func (w *Webhook) Send(ctx context.Context, n collab.Notification) error {
	if severityRank(n.Severity) < severityRank(w.cfg.MinSeverity) {
		return nil
	}
	if n.Severity != collab.SeverityCritical && !w.limiter.Allow() {
		metrics.RecordNotification("webhook", "dropped")
		return ErrRateLimited
	}

	text := formatText(n)
	body, err := json.Marshal(webhookPayload{
		Content: text, Text: text,
		Event: n.Event, Severity: n.Severity, Fields: n.Fields, At: n.At,
	})
	if err != nil {
		return collab.CallError("webhook", "encode", err)
	}

	err = w.breaker.Execute(func() error { return w.post(ctx, body) })
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		metrics.RecordNotification("webhook", "dropped")
		return ErrCircuitOpen
	case err != nil:
		return w.fail(ctx, n, err)
	}
	metrics.RecordNotification("webhook", "sent")
	return nil
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 16<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (w *Webhook) fail(ctx context.Context, n collab.Notification, err error) error {
	metrics.RecordNotification("webhook", "failed")
	logger := xglog.WithContext(ctx, w.logger)
	logger.Warn().Err(err).
		Str(xglog.FieldEvent, "notify.webhook_failed").
		Str("notification", n.Event).
		Msg("webhook notification failed")
	return collab.CallError("webhook", "post", err)
}

func formatText(n collab.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(string(n.Severity)), n.Message)
	if len(n.Fields) > 0 {
		keys := make([]string, 0, len(n.Fields))
		for k := range n.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %s", k, n.Fields[k])
		}
	}
	return b.String()
}
