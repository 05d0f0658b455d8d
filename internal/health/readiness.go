// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ManuGH/streamguard/internal/log"
)

// CheckStatus is the status of one self-check of the watchdog daemon.
type CheckStatus string

const (
	CheckHealthy   CheckStatus = "healthy"
	CheckDegraded  CheckStatus = "degraded"
	CheckUnhealthy CheckStatus = "unhealthy"
)

// CheckResult represents the result of a component self-check.
type CheckResult struct {
	Status  CheckStatus `json:"status"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// LivenessResponse represents the liveness response.
type LivenessResponse struct {
	Status    CheckStatus            `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    int64                  `json:"uptime_seconds"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse represents the readiness response.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    CheckStatus            `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker defines the interface for daemon self-checks.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager aggregates self-checks for the liveness and readiness endpoints.
type Manager struct {
	version  string
	started  time.Time
	checkers []Checker
}

// NewManager creates a new self-check manager.
func NewManager(version string) *Manager {
	return &Manager{
		version:  version,
		started:  time.Now(),
		checkers: make([]Checker, 0),
	}
}

// RegisterChecker adds a checker to the manager.
func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

func (m *Manager) runChecks(ctx context.Context) (map[string]CheckResult, CheckStatus) {
	checks := make(map[string]CheckResult, len(m.checkers))
	overall := CheckHealthy
	for _, checker := range m.checkers {
		result := checker.Check(ctx)
		checks[checker.Name()] = result
		switch result.Status {
		case CheckUnhealthy:
			overall = CheckUnhealthy
		case CheckDegraded:
			if overall == CheckHealthy {
				overall = CheckDegraded
			}
		}
	}
	return checks, overall
}

// Liveness reports that the process is alive. Checks are only run when verbose.
func (m *Manager) Liveness(ctx context.Context, verbose bool) LivenessResponse {
	resp := LivenessResponse{
		Status:    CheckHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
		Uptime:    int64(time.Since(m.started).Seconds()),
	}
	if verbose && len(m.checkers) > 0 {
		resp.Checks, resp.Status = m.runChecks(ctx)
	}
	return resp
}

// Readiness reports whether the watchdog is evaluating and the stream is not critical.
func (m *Manager) Readiness(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{
		Ready:     true,
		Status:    CheckHealthy,
		Timestamp: time.Now(),
	}
	if len(m.checkers) == 0 {
		return resp
	}
	resp.Checks, resp.Status = m.runChecks(ctx)
	resp.Ready = resp.Status != CheckUnhealthy
	return resp
}

// ServeHealth handles liveness requests. It always answers 200.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Liveness(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "health.encode_error").Msg("failed to encode health response")
	}
}

// ServeReady handles readiness requests; 503 when any check is unhealthy.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")

	resp := m.Readiness(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "readiness.encode_error").Msg("failed to encode readiness response")
	}

	logger.Debug().
		Str(log.FieldEvent, "readiness.checked").
		Str("status", string(resp.Status)).
		Bool("ready", resp.Ready).
		Msg("readiness check performed")
}

// FileChecker checks that a file exists and is non-empty, e.g. the fallback media.
type FileChecker struct {
	name string
	path string
}

// NewFileChecker creates a checker for file existence.
func NewFileChecker(name, path string) *FileChecker {
	return &FileChecker{name: name, path: path}
}

func (c *FileChecker) Name() string { return c.name }

func (c *FileChecker) Check(_ context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{Status: CheckHealthy, Message: "not configured (optional)"}
	}
	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Status: CheckUnhealthy, Error: "file not found", Message: c.path}
		}
		return CheckResult{Status: CheckUnhealthy, Error: err.Error()}
	}
	if info.IsDir() {
		return CheckResult{Status: CheckUnhealthy, Error: "expected file, got directory"}
	}
	if info.Size() == 0 {
		return CheckResult{Status: CheckDegraded, Message: "file is empty"}
	}
	return CheckResult{Status: CheckHealthy, Message: "file exists and readable"}
}

// LastCycleChecker judges the most recent evaluation cycle.
type LastCycleChecker struct {
	last   func() (Evaluation, bool)
	maxAge time.Duration
}

// NewLastCycleChecker creates a checker over the latest evaluation. Cycles older
// than maxAge are reported as degraded since the scheduler is likely stuck.
func NewLastCycleChecker(last func() (Evaluation, bool), maxAge time.Duration) *LastCycleChecker {
	return &LastCycleChecker{last: last, maxAge: maxAge}
}

func (c *LastCycleChecker) Name() string { return "last_cycle" }

func (c *LastCycleChecker) Check(_ context.Context) CheckResult {
	ev, ok := c.last()
	if !ok {
		return CheckResult{Status: CheckUnhealthy, Message: "no evaluation cycle completed yet"}
	}
	if ev.Status == Critical {
		return CheckResult{Status: CheckUnhealthy, Message: "last evaluation critical", Error: strings.Join(ev.Reasons, "; ")}
	}
	if c.maxAge > 0 && time.Since(ev.At) > c.maxAge {
		return CheckResult{Status: CheckDegraded, Message: fmt.Sprintf("last evaluation older than %s", c.maxAge)}
	}
	if ev.Status == Warning {
		return CheckResult{Status: CheckDegraded, Message: "last evaluation warning", Error: strings.Join(ev.Reasons, "; ")}
	}
	return CheckResult{Status: CheckHealthy, Message: "last evaluation healthy"}
}

// Verifier checks its own integrity.
type Verifier interface {
	Verify(ctx context.Context) error
}

// VerifyChecker reports a Verifier as a readiness check, e.g. the state store.
type VerifyChecker struct {
	name string
	v    Verifier
}

// NewVerifyChecker creates a checker around v.
func NewVerifyChecker(name string, v Verifier) *VerifyChecker {
	return &VerifyChecker{name: name, v: v}
}

func (c *VerifyChecker) Name() string { return c.name }

func (c *VerifyChecker) Check(ctx context.Context) CheckResult {
	if err := c.v.Verify(ctx); err != nil {
		return CheckResult{Status: CheckUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: CheckHealthy, Message: "ok"}
}
