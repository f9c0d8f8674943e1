package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// extractToken pulls a bearer token from request headers or query params.
// It checks, in order: Authorization: Bearer <token>, X-API-Key header,
// token query param (useful for websocket clients where headers are
// difficult).
func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("token")
}

// authorize checks the request token against the configured one using a
// constant-time comparison. An empty configured token disables auth.
func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	candidate := extractToken(r)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(s.cfg.AuthToken)) == 1
}
