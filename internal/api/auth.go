// Package api implements the HTTP surface of the sync service: order
// triggers, manual retry, credential provisioning, the inbound webhook
// route, and the admin event stream.
package api

import (
	"crypto/hmac"
	"net/http"
	"strings"
)

// isAdmin checks the bearer token against the configured admin token in
// constant time. An empty configured token disables the admin surface.
func (s *Server) isAdmin(r *http.Request) bool {
	if s.Cfg.App.AdminToken == "" {
		return false
	}
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return false
	}
	tok := strings.TrimSpace(authz[len("Bearer "):])
	return hmac.Equal([]byte(tok), []byte(s.Cfg.App.AdminToken))
}

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if s.isAdmin(r) {
		return true
	}
	writeProblem(w, http.StatusForbidden, "Forbidden", "admin token required", r.URL.Path)
	return false
}
