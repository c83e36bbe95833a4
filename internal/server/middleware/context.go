package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	ContextKeyOrgID    contextKey = "org_id"
	ContextKeyUserRef  contextKey = "user_ref"
	ContextKeyUserRole contextKey = "role"
)

func OrgIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(ContextKeyOrgID).(uuid.UUID)
	return v, ok
}

func UserRefFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyUserRef).(string)
	return v, ok
}

func RoleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyUserRole).(string)
	return v, ok
}

// WithIdentity stores an authenticated caller in ctx.
func WithIdentity(ctx context.Context, orgID uuid.UUID, userRef, role string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyOrgID, orgID)
	ctx = context.WithValue(ctx, ContextKeyUserRef, userRef)
	ctx = context.WithValue(ctx, ContextKeyUserRole, role)
	return ctx
}
