// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"time"

	xglog "github.com/ManuGH/streamguard/internal/log"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Logging writes one access log line per request and stores a request
// scoped logger in the context for handlers.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := xglog.Derive(func(c *zerolog.Context) {
			*c = c.Str(xglog.FieldComponent, "api").
				Str(xglog.FieldRequestID, chimw.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path)
		})
		ctx := logger.WithContext(r.Context())

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		ev := logger.Info()
		if sw.status >= http.StatusInternalServerError {
			ev = logger.Error()
		} else if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics" {
			ev = logger.Debug()
		}
		ev.Str(xglog.FieldEvent, "http.request").
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request handled")
	})
}
