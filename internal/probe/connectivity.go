// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ManuGH/streamguard/internal/health"
	xglog "github.com/ManuGH/streamguard/internal/log"
	"github.com/ManuGH/streamguard/internal/metrics"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultNetworkTargets are dialed to decide network reachability.
var DefaultNetworkTargets = []string{"1.1.1.1:53", "8.8.8.8:53"}

// ConnectivityProbe checks network reachability and the dependency API.
type ConnectivityProbe struct {
	targets []string
	apiURL  string
	timeout time.Duration
	dialer  *net.Dialer
	client  *http.Client
	logger  zerolog.Logger
}

// NewConnectivityProbe creates the probe. An empty apiURL disables the
// dependency API check.
func NewConnectivityProbe(targets []string, apiURL string, timeout time.Duration) *ConnectivityProbe {
	if len(targets) == 0 {
		targets = DefaultNetworkTargets
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &ConnectivityProbe{
		targets: targets,
		apiURL:  apiURL,
		timeout: timeout,
		dialer:  &net.Dialer{Timeout: timeout},
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			// Redirects count as reachable; do not follow them.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		logger: xglog.WithComponent("probe"),
	}
}

// NetworkReachable reports whether any target accepts a TCP connection.
func (p *ConnectivityProbe) NetworkReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results := make(chan error, len(p.targets))
	for _, target := range p.targets {
		go func() {
			conn, err := p.dialer.DialContext(ctx, "tcp", target)
			if err == nil {
				_ = conn.Close()
			}
			results <- err
		}()
	}
	var lastErr error
	for range p.targets {
		err := <-results
		if err == nil {
			return true
		}
		lastErr = err
	}
	metrics.IncProbeFailure("network")
	logger := xglog.WithContext(ctx, p.logger)
	logger.Warn().Err(lastErr).
		Str(xglog.FieldEvent, "probe.network_unreachable").
		Strs("targets", p.targets).
		Msg("no network target reachable")
	return false
}

// DependencyAPI probes the API. It is not applicable when the stream is not
// expected or no URL is configured. 5xx, 429 and transport errors count as
// failed; every other status proves reachability.
func (p *ConnectivityProbe) DependencyAPI(ctx context.Context, streamExpected bool) health.Tri {
	if !streamExpected || p.apiURL == "" {
		return health.TriNotApplicable
	}
	err := p.getAPI(ctx)
	if err == nil {
		return health.TriOK
	}
	metrics.IncProbeFailure("dependency_api")
	logger := xglog.WithContext(ctx, p.logger)
	logger.Warn().Err(err).
		Str(xglog.FieldEvent, "probe.api_unreachable").
		Msg("dependency api unreachable")
	return health.TriFailed
}

func (p *ConnectivityProbe) getAPI(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrProbeFailure, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProbeFailure, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d", ErrProbeFailure, resp.StatusCode)
	}
	return nil
}

// Check runs both checks.
func (p *ConnectivityProbe) Check(ctx context.Context, streamExpected bool) (bool, health.Tri) {
	return p.NetworkReachable(ctx), p.DependencyAPI(ctx, streamExpected)
}
