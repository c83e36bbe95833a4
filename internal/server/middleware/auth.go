package middleware

import (
	"net/http"
	"strings"

	"github.com/gosuda/chatgate/internal/auth"
)

// Auth authenticates the bearer JWT and stores the caller's org, user and
// role in the request context. Browsers cannot set headers on WebSocket
// upgrades, so an access_token query parameter is accepted there.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := extractBearer(r)
			if tok == "" && isWebSocketUpgrade(r) {
				tok = r.URL.Query().Get("access_token")
			}

			if tok != "" {
				claims, err := auth.ValidateToken(jwtSecret, tok)
				if err == nil {
					ctx := WithIdentity(r.Context(), claims.Org(), claims.Subject, claims.Role)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`, http.StatusUnauthorized)
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return h[7:]
	}
	return ""
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
