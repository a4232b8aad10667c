// Package middleware provides HTTP middleware for crmbridge.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/0ndata/crmbridge/internal/service"
)

type sessionCtxKey struct{}

// Session returns middleware that authenticates requests with a session
// token. The token is read from the named cookie, falling back to an
// Authorization: Bearer header for non-browser clients. Valid claims are
// injected into the request context.
func Session(sessions *service.SessionService, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if c, err := r.Cookie(cookieName); err == nil {
				token = c.Value
			}
			if token == "" {
				header := r.Header.Get("Authorization")
				if bearer := strings.TrimPrefix(header, "Bearer "); bearer != header {
					token = bearer
				}
			}
			if token == "" {
				unauthorized(w, "authentication required")
				return
			}

			claims, err := sessions.Verify(token)
			if err != nil {
				unauthorized(w, "invalid or expired session")
				return
			}

			ctx := context.WithValue(r.Context(), sessionCtxKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext returns the authenticated session claims, or nil.
func SessionFromContext(ctx context.Context) *service.Session {
	s, _ := ctx.Value(sessionCtxKey{}).(*service.Session)
	return s
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
