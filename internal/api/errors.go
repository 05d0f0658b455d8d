// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	errUnauthorized = errors.New("unauthorized")
	errBadRequest   = errors.New("invalid request body")
)

// errorResponse is the JSON body of every non-2xx answer.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeErrorDetail(w http.ResponseWriter, code int, err error, detail string) {
	writeJSON(w, code, errorResponse{Error: err.Error(), Detail: detail})
}
