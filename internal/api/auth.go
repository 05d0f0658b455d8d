// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	xglog "github.com/ManuGH/streamguard/internal/log"
)

// authMiddleware enforces the bearer token on mutating endpoints when one is
// configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		logger := xglog.FromContext(r.Context())

		reqToken := bearerToken(r)
		if reqToken == "" {
			logger.Warn().Str(xglog.FieldEvent, "auth.missing_header").Msg("authorization header missing")
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(reqToken), []byte(s.cfg.Token)) != 1 {
			logger.Warn().Str(xglog.FieldEvent, "auth.invalid_token").Msg("invalid api token")
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
