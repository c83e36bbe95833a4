package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

func RequireOrg() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			oid, ok := OrgIDFromContext(r.Context())
			if !ok || oid == uuid.Nil {
				http.Error(w, `{"title":"Forbidden","status":403,"detail":"valid org required"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
