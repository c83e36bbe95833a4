package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/chatgate/internal/auth"
	"github.com/gosuda/chatgate/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// contextHandler captures context values set by middleware so tests can
// assert that the correct org, user, and role were injected.
type contextHandler struct {
	orgID   uuid.UUID
	userRef string
	role    string
	called  bool
}

func (h *contextHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.orgID, _ = middleware.OrgIDFromContext(r.Context())
	h.userRef, _ = middleware.UserRefFromContext(r.Context())
	h.role, _ = middleware.RoleFromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

// setOrg injects an org ID into the request context.
func setOrg(r *http.Request, orgID uuid.UUID) *http.Request {
	ctx := context.WithValue(r.Context(), middleware.ContextKeyOrgID, orgID)
	return r.WithContext(ctx)
}

// ===========================================================================
// 1. Context helpers
// ===========================================================================

func TestOrgIDFromContext(t *testing.T) {
	t.Parallel()

	t.Run("present", func(t *testing.T) {
		t.Parallel()

		want := uuid.New()
		ctx := context.WithValue(context.Background(), middleware.ContextKeyOrgID, want)

		got, ok := middleware.OrgIDFromContext(ctx)

		require.True(t, ok)
		assert.Equal(t, want, got)
	})

	t.Run("absent", func(t *testing.T) {
		t.Parallel()

		got, ok := middleware.OrgIDFromContext(context.Background())

		assert.False(t, ok)
		assert.Equal(t, uuid.Nil, got)
	})

	t.Run("wrong type", func(t *testing.T) {
		t.Parallel()

		ctx := context.WithValue(context.Background(), middleware.ContextKeyOrgID, "not-a-uuid")

		got, ok := middleware.OrgIDFromContext(ctx)

		assert.False(t, ok)
		assert.Equal(t, uuid.Nil, got)
	})
}

func TestWithIdentity(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()
	ctx := middleware.WithIdentity(context.Background(), orgID, "alice", middleware.RoleAdmin)

	gotOrg, ok := middleware.OrgIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, orgID, gotOrg)

	gotUser, ok := middleware.UserRefFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "alice", gotUser)

	gotRole, ok := middleware.RoleFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, middleware.RoleAdmin, gotRole)
}

func TestRoleFromContext_WrongType(t *testing.T) {
	t.Parallel()

	ctx := context.WithValue(context.Background(), middleware.ContextKeyUserRole, 123)

	got, ok := middleware.RoleFromContext(ctx)

	assert.False(t, ok)
	assert.Empty(t, got)
}

// ===========================================================================
// 2. RequireOrg middleware
// ===========================================================================

func TestRequireOrg(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		req        func() *http.Request
		wantStatus int
	}{
		{
			name:       "valid org passes",
			req:        func() *http.Request { return setOrg(httptest.NewRequest(http.MethodGet, "/", http.NoBody), uuid.New()) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "absent org blocked",
			req:        func() *http.Request { return httptest.NewRequest(http.MethodGet, "/", http.NoBody) },
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "nil org blocked",
			req:        func() *http.Request { return setOrg(httptest.NewRequest(http.MethodGet, "/", http.NoBody), uuid.Nil) },
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			middleware.RequireOrg()(okHandler).ServeHTTP(rec, tt.req())

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusForbidden {
				assert.Contains(t, rec.Body.String(), "valid org required")
			}
		})
	}
}

// ===========================================================================
// 3. RateLimit middleware
// ===========================================================================

func TestRateLimit_NoOrgInContext_PassesThrough(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimit(t.Context(), 0.001, 1)(okHandler)

	for range 3 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimit_BurstExceeded_Returns429(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()
	// Effectively zero refill during the test, burst of 2.
	handler := middleware.RateLimit(t.Context(), 0.001, 2)(okHandler)

	for i := range 2 {
		req := setOrg(httptest.NewRequest(http.MethodGet, "/", http.NoBody), orgID)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equalf(t, http.StatusOK, rec.Code, "request %d should pass", i+1)
	}

	req := setOrg(httptest.NewRequest(http.MethodGet, "/", http.NoBody), orgID)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")

	wait, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, wait, 900, "next token is about 1000s away")
}

func TestRateLimit_IndependentPerOrg(t *testing.T) {
	t.Parallel()

	orgA := uuid.New()
	orgB := uuid.New()
	handler := middleware.RateLimit(t.Context(), 0.001, 1)(okHandler)

	recA := httptest.NewRecorder()
	handler.ServeHTTP(recA, setOrg(httptest.NewRequest(http.MethodGet, "/", http.NoBody), orgA))
	require.Equal(t, http.StatusOK, recA.Code)

	recA2 := httptest.NewRecorder()
	handler.ServeHTTP(recA2, setOrg(httptest.NewRequest(http.MethodGet, "/", http.NoBody), orgA))
	assert.Equal(t, http.StatusTooManyRequests, recA2.Code)

	recB := httptest.NewRecorder()
	handler.ServeHTTP(recB, setOrg(httptest.NewRequest(http.MethodGet, "/", http.NoBody), orgB))
	assert.Equal(t, http.StatusOK, recB.Code)
}

func TestRateLimitByIP(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimitByIP(t.Context(), 0.001, 1)(okHandler)

	first := httptest.NewRequest(http.MethodPost, "/slack/events", http.NoBody)
	first.RemoteAddr = "10.0.0.1"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	again := httptest.NewRequest(http.MethodPost, "/slack/events", http.NoBody)
	again.RemoteAddr = "10.0.0.1"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, again)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	other := httptest.NewRequest(http.MethodPost, "/slack/events", http.NoBody)
	other.RemoteAddr = "10.0.0.2"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCommandRateLimit(t *testing.T) {
	t.Parallel()

	_, api := humatest.New(t)
	var runs atomic.Int32
	huma.Register(api, huma.Operation{
		OperationID: "execute-command",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/commands",
		Middlewares: huma.Middlewares{middleware.CommandRateLimit(t.Context(), api, 0.001, 2)},
	}, func(context.Context, *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		runs.Add(1)
		return nil, nil
	})

	orgID := uuid.New()
	alice := middleware.WithIdentity(context.Background(), orgID, "alice", middleware.RoleMember)
	bob := middleware.WithIdentity(context.Background(), orgID, "bob", middleware.RoleMember)
	busy := "/sessions/" + uuid.NewString() + "/commands"
	quiet := "/sessions/" + uuid.NewString() + "/commands"

	for range 2 {
		require.Equal(t, http.StatusNoContent, api.PostCtx(alice, busy).Code)
	}

	resp := api.PostCtx(alice, busy)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.NotEmpty(t, resp.Header().Get("Retry-After"))
	assert.Equal(t, int32(2), runs.Load(), "refused command never reaches the handler")

	assert.Equal(t, http.StatusNoContent, api.PostCtx(alice, quiet).Code, "other session has its own budget")
	assert.Equal(t, http.StatusNoContent, api.PostCtx(bob, busy).Code, "other user has its own budget")
}

// ===========================================================================
// 4. Auth middleware
// ===========================================================================

const testJWTSecret = "test-jwt-secret-for-middleware-tests"

func TestAuth_ValidToken_PopulatesContext(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()
	token, err := auth.IssueAccessToken(testJWTSecret, orgID, "alice", "admin", 15*time.Minute)
	require.NoError(t, err)

	capture := &contextHandler{}
	handler := middleware.Auth(testJWTSecret)(capture)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.True(t, capture.called, "inner handler must be called")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orgID, capture.orgID)
	assert.Equal(t, "alice", capture.userRef)
	assert.Equal(t, "admin", capture.role)
}

func TestAuth_Rejections(t *testing.T) {
	t.Parallel()

	expired, err := auth.IssueAccessToken(testJWTSecret, uuid.New(), "alice", "member", -1*time.Second)
	require.NoError(t, err)
	otherSecret, err := auth.IssueAccessToken("correct-secret", uuid.New(), "alice", "member", 15*time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name       string
		authHeader string
	}{
		{name: "no header", authHeader: ""},
		{name: "garbage token", authHeader: "Bearer totally.invalid.token"},
		{name: "expired token", authHeader: "Bearer " + expired},
		{name: "wrong secret", authHeader: "Bearer " + otherSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			capture := &contextHandler{}
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			middleware.Auth(testJWTSecret)(capture).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "Unauthorized")
			assert.False(t, capture.called)
		})
	}
}

func TestAuth_BearerFormat(t *testing.T) {
	t.Parallel()

	token, err := auth.IssueAccessToken(testJWTSecret, uuid.New(), "alice", "member", 15*time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{name: "uppercase Bearer", authHeader: "Bearer " + token, wantStatus: http.StatusOK},
		{name: "lowercase bearer", authHeader: "bearer " + token, wantStatus: http.StatusOK},
		{name: "mixed case BEARER", authHeader: "BEARER " + token, wantStatus: http.StatusOK},
		{name: "Basic scheme falls through to 401", authHeader: "Basic " + token, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := middleware.Auth(testJWTSecret)(okHandler)
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.Header.Set("Authorization", tt.authHeader)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestAuth_QueryTokenOnlyForWebSocket(t *testing.T) {
	t.Parallel()

	token, err := auth.IssueAccessToken(testJWTSecret, uuid.New(), "alice", "member", 15*time.Minute)
	require.NoError(t, err)

	t.Run("websocket upgrade", func(t *testing.T) {
		t.Parallel()

		capture := &contextHandler{}
		req := httptest.NewRequest(http.MethodGet, "/ws/sessions/x?access_token="+token, http.NoBody)
		req.Header.Set("Upgrade", "websocket")
		rec := httptest.NewRecorder()

		middleware.Auth(testJWTSecret)(capture).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice", capture.userRef)
	})

	t.Run("plain request", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions?access_token="+token, http.NoBody)
		rec := httptest.NewRecorder()

		middleware.Auth(testJWTSecret)(okHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
