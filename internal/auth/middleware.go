package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// errorResponse is the wire shape for authentication failures:
// {"error": "...", "code": "..."}.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeAuthError(w http.ResponseWriter, kind ErrKind) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: kind.Message(), Code: kind.Code()})
}

// wsPathPrefix is skipped because the WebSocket handler authenticates
// its own upgrade request rather than going through this middleware.
const wsPathPrefix = "/ws"

// Middleware validates bearer tokens against a session file on every
// /api/ request. Non-API paths (healthz, metrics, the WS upgrade) pass
// through unauthenticated.
func Middleware(validator *Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, wsPathPrefix) {
				next.ServeHTTP(w, r)
				return
			}

			if kind := validator.Validate(r.Header.Get("Authorization")); kind != ErrNone {
				writeAuthError(w, kind)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
