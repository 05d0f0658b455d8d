// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ManuGH/streamguard/internal/emergency"
	"github.com/ManuGH/streamguard/internal/health"
	xglog "github.com/ManuGH/streamguard/internal/log"
)

const maxBodyBytes = 4 << 10

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Version     string                 `json:"version,omitempty"`
	Evaluation  *health.Evaluation     `json:"evaluation,omitempty"`
	Failures    int                    `json:"consecutive_failures"`
	MaxFailures int                    `json:"max_consecutive_failures"`
	Emergency   emergency.State        `json:"emergency"`
	LoopRunning bool                   `json:"recovery_loop_running"`
	History     []emergency.Transition `json:"history"`
	Errors      []string               `json:"errors,omitempty"`
}

// ActivateRequest is the body of POST /api/v1/emergency/activate.
type ActivateRequest struct {
	Reason string `json:"reason"`
}

// ClearRequest is the body of POST /api/v1/emergency/clear.
type ClearRequest struct {
	By string `json:"by"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatusResponse{Version: s.cfg.Version, History: []emergency.Transition{}}

	if s.deps.Last != nil {
		if ev, ok := s.deps.Last(); ok {
			resp.Evaluation = &ev
		}
	}
	if s.deps.Failures != nil {
		resp.MaxFailures = s.deps.Failures.MaxFailures()
		n, err := s.deps.Failures.Count(ctx)
		if err != nil {
			resp.Errors = append(resp.Errors, "failure counter: "+err.Error())
		}
		resp.Failures = n
	}
	if s.deps.Emergency != nil {
		st, err := s.deps.Emergency.Current(ctx)
		if err != nil {
			resp.Errors = append(resp.Errors, "emergency state: "+err.Error())
		}
		resp.Emergency = st
		resp.LoopRunning = s.deps.Emergency.LoopRunning()
		if h := s.deps.Emergency.History(); h != nil {
			resp.History = h
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := decodeBody(r, &req); err != nil {
		writeErrorDetail(w, http.StatusBadRequest, errBadRequest, err.Error())
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual activation"
	}

	logger := xglog.FromContext(r.Context())
	logger.Warn().
		Str(xglog.FieldEvent, "api.emergency_activate").
		Str(xglog.FieldReason, reason).
		Msg("emergency activation requested")

	st, err := s.deps.Emergency.Activate(r.Context(), "manual: "+reason)
	if err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "api.emergency_activate_failed").Msg("emergency activation failed")
		writeErrorDetail(w, statusFor(err), errors.New("activation failed"), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req ClearRequest
	if err := decodeBody(r, &req); err != nil {
		writeErrorDetail(w, http.StatusBadRequest, errBadRequest, err.Error())
		return
	}
	by := strings.TrimSpace(req.By)
	if by == "" {
		by = "api"
	}

	logger := xglog.FromContext(r.Context())
	logger.Info().
		Str(xglog.FieldEvent, "api.emergency_clear").
		Str("by", by).
		Msg("emergency clear requested")

	st, err := s.deps.Emergency.Clear(r.Context(), by)
	if err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "api.emergency_clear_failed").Msg("emergency clear failed")
		writeErrorDetail(w, statusFor(err), errors.New("clear failed"), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// decodeBody decodes an optional JSON body. An empty body leaves v zero.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func statusFor(err error) int {
	if errors.Is(err, emergency.ErrIllegalTransition) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
