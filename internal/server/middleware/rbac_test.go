package middleware_test

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/gosuda/chatgate/internal/server/middleware"
)

// okHandler is a simple handler that writes 200 OK.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

type sessionPath struct {
	ID string `path:"id"`
}

// guardedAPI registers POST /sessions/{id}/kill behind guard and counts how
// often the handler ran.
func guardedAPI(t *testing.T, guard func(huma.API) func(huma.Context, func(huma.Context))) (humatest.TestAPI, *atomic.Int32) {
	t.Helper()

	_, api := humatest.New(t)
	var calls atomic.Int32
	huma.Register(api, huma.Operation{
		OperationID: "kill",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/kill",
		Middlewares: huma.Middlewares{guard(api)},
	}, func(context.Context, *sessionPath) (*struct{}, error) {
		calls.Add(1)
		return nil, nil
	})
	return api, &calls
}

func roleCtx(role string) context.Context {
	return middleware.WithIdentity(context.Background(), uuid.New(), "alice", role)
}

func TestRequireAdmin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ctx    context.Context
		status int
		ran    bool
	}{
		{name: "admin", ctx: roleCtx(middleware.RoleAdmin), status: http.StatusNoContent, ran: true},
		{name: "reviewer", ctx: roleCtx(middleware.RoleReviewer), status: http.StatusForbidden},
		{name: "member", ctx: roleCtx(middleware.RoleMember), status: http.StatusForbidden},
		{name: "empty role", ctx: roleCtx(""), status: http.StatusUnauthorized},
		{name: "no identity", ctx: context.Background(), status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api, calls := guardedAPI(t, middleware.RequireAdmin)
			resp := api.PostCtx(tt.ctx, "/sessions/"+uuid.NewString()+"/kill")

			assert.Equal(t, tt.status, resp.Code, resp.Body.String())
			assert.Equal(t, tt.ran, calls.Load() == 1)
		})
	}
}

func TestRequireReviewer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role   string
		status int
	}{
		{role: middleware.RoleAdmin, status: http.StatusNoContent},
		{role: middleware.RoleReviewer, status: http.StatusNoContent},
		{role: middleware.RoleMember, status: http.StatusForbidden},
		{role: middleware.RoleViewer, status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			t.Parallel()

			api, _ := guardedAPI(t, middleware.RequireReviewer)
			resp := api.PostCtx(roleCtx(tt.role), "/sessions/"+uuid.NewString()+"/kill")

			assert.Equal(t, tt.status, resp.Code)
		})
	}
}

func TestRequireRole_ForbiddenNamesRole(t *testing.T) {
	t.Parallel()

	api, calls := guardedAPI(t, func(api huma.API) func(huma.Context, func(huma.Context)) {
		return middleware.RequireRole(api, middleware.RoleAdmin)
	})
	resp := api.PostCtx(roleCtx(middleware.RoleViewer), "/sessions/"+uuid.NewString()+"/kill")

	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Contains(t, resp.Body.String(), "role viewer may not perform this operation")
	assert.Zero(t, calls.Load())
}

func TestHasRole(t *testing.T) {
	t.Parallel()

	ctx := roleCtx(middleware.RoleReviewer)

	assert.True(t, middleware.HasRole(ctx, middleware.RoleAdmin, middleware.RoleReviewer))
	assert.False(t, middleware.HasRole(ctx, middleware.RoleAdmin))
	assert.False(t, middleware.HasRole(context.Background(), middleware.RoleAdmin))
}
