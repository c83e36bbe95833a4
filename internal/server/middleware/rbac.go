package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/danielgtaylor/huma/v2"
)

// Role constants define the supported user roles.
const (
	RoleAdmin    = "admin"
	RoleReviewer = "reviewer"
	RoleMember   = "member"
	RoleViewer   = "viewer"
)

// HasRole reports whether the context carries one of roles.
func HasRole(ctx context.Context, roles ...string) bool {
	role, ok := RoleFromContext(ctx)
	if !ok || role == "" {
		return false
	}
	return slices.Contains(roles, role)
}

// RequireRole returns an operation middleware admitting callers with one of
// roles. It relies on Auth having stored the caller's role in the request
// context.
//
// Answers 401 when no role is present and 403 when the role is not allowed.
// Handlers behind it never run for refused callers.
func RequireRole(api huma.API, roles ...string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		role, ok := RoleFromContext(ctx.Context())
		if !ok || role == "" {
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "authentication required")
			return
		}
		if !slices.Contains(roles, role) {
			_ = huma.WriteErr(api, ctx, http.StatusForbidden, "role "+role+" may not perform this operation")
			return
		}
		next(ctx)
	}
}

// RequireAdmin is RequireRole(api, RoleAdmin).
func RequireAdmin(api huma.API) func(huma.Context, func(huma.Context)) {
	return RequireRole(api, RoleAdmin)
}

// RequireReviewer admits admins and reviewers, the roles allowed to decide
// review tickets.
func RequireReviewer(api huma.API) func(huma.Context, func(huma.Context)) {
	return RequireRole(api, RoleAdmin, RoleReviewer)
}
