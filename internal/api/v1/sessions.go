package v1

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatgate/internal/domain"
	"github.com/gosuda/chatgate/internal/server/middleware"
	"github.com/gosuda/chatgate/internal/session"
)

const loginChannelAPI = "api"

// SessionView is a session record plus whether this process holds it live.
type SessionView struct {
	Session *domain.Session `json:"session"`
	Live    bool            `json:"live" doc:"Session is open on this gateway process"`
	Active  bool            `json:"active" doc:"Session accepts commands"`
}

type OpenSessionInput struct {
	ForwardedFor string `header:"X-Forwarded-For" doc:"Client address chain"`
	Body         struct {
		AccountRef     string     `json:"account_ref,omitempty" doc:"Account on the target asset"`
		AssetRef       string     `json:"asset_ref" minLength:"1" doc:"Target asset"`
		Protocol       string     `json:"protocol" minLength:"1" doc:"Executor protocol, e.g. http or docker"`
		ExpireAt       *time.Time `json:"expire_at,omitempty" doc:"Hard session expiry"`
		MaxIdleMinutes int        `json:"max_idle_minutes,omitempty" minimum:"0" doc:"Idle window in minutes"`
	}
}

type SessionOutput struct {
	Body *SessionView
}

type ListSessionsInput struct {
	Limit  int `query:"limit" minimum:"1" maximum:"200" default:"50"`
	Offset int `query:"offset" minimum:"0"`
}

type ListSessionsOutput struct {
	Body []*domain.Session
}

type SessionIDInput struct {
	ID uuid.UUID `path:"id" doc:"Session ID"`
}

type ExecuteCommandInput struct {
	ID   uuid.UUID `path:"id" doc:"Session ID"`
	Body struct {
		Command string `json:"command" minLength:"1" doc:"Command to authorize and run"`
	}
}

type ExecuteCommandOutput struct {
	Body struct {
		Output  string `json:"output"`
		Blocked bool   `json:"blocked" doc:"Command was stopped by policy or review"`
	}
}

type ReviewDecisionInput struct {
	ID   uuid.UUID `path:"id" doc:"Session ID"`
	Body struct {
		Activate bool `json:"activate" doc:"Answer to the pending review prompt"`
	}
}

type ListCommandsInput struct {
	ID     uuid.UUID `path:"id" doc:"Session ID"`
	Limit  int       `query:"limit" minimum:"1" maximum:"500" default:"100"`
	Offset int       `query:"offset" minimum:"0"`
}

type ListCommandsOutput struct {
	Body []*domain.CommandRecord
}

type KillSessionOutput struct {
	Body *domain.Task
}

// RegisterSessionRoutes registers the session operations. commandLimits run
// before every command submission, typically middleware.CommandRateLimit.
func RegisterSessionRoutes(api huma.API, mgr SessionManager, executors ExecutorResolver, audit AuditService, commandLimits ...func(huma.Context, func(huma.Context))) {
	huma.Register(api, huma.Operation{
		OperationID: "open-session",
		Method:      http.MethodPost,
		Path:        "/sessions",
		Summary:     "Open an audited session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *OpenSessionInput) (*SessionOutput, error) {
		orgID, userRef, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		if _, err := executors.Get(input.Body.Protocol); err != nil {
			return nil, huma.Error400BadRequest("unsupported protocol: " + input.Body.Protocol)
		}

		req := session.OpenRequest{
			OrgID:          orgID,
			UserRef:        userRef,
			AccountRef:     input.Body.AccountRef,
			AssetRef:       input.Body.AssetRef,
			LoginChannel:   loginChannelAPI,
			Protocol:       input.Body.Protocol,
			RemoteAddr:     clientAddr(input.ForwardedFor),
			MaxIdleMinutes: input.Body.MaxIdleMinutes,
		}
		if input.Body.ExpireAt != nil {
			req.ExpireAt = *input.Body.ExpireAt
		}

		s, err := mgr.Open(ctx, req)
		if err != nil {
			if errors.Is(err, domain.ErrGatewayFatal) {
				return nil, huma.Error503ServiceUnavailable("audit gateway unavailable")
			}
			return nil, huma.Error500InternalServerError("failed to open session")
		}

		return &SessionOutput{Body: liveView(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List sessions of the caller's org",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *ListSessionsInput) (*ListSessionsOutput, error) {
		orgID, userRef, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		sessions, err := audit.ListSessions(ctx, orgID, input.Limit, input.Offset)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list sessions")
		}

		if !middleware.HasRole(ctx, middleware.RoleAdmin) {
			own := sessions[:0]
			for _, s := range sessions {
				if s.UserRef == userRef {
					own = append(own, s)
				}
			}
			sessions = own
		}
		if sessions == nil {
			sessions = []*domain.Session{}
		}

		return &ListSessionsOutput{Body: sessions}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get a session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *SessionIDInput) (*SessionOutput, error) {
		if s, err := liveSession(ctx, mgr, input.ID); err == nil {
			return &SessionOutput{Body: liveView(s)}, nil
		}

		rec, err := ownedRecord(ctx, audit, input.ID)
		if err != nil {
			return nil, err
		}
		return &SessionOutput{Body: &SessionView{Session: rec}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-command",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/commands",
		Summary:     "Authorize, run and record one command",
		Tags:        []string{"Sessions"},
		Middlewares: huma.Middlewares(commandLimits),
	}, func(ctx context.Context, input *ExecuteCommandInput) (*ExecuteCommandOutput, error) {
		s, err := liveSession(ctx, mgr, input.ID)
		if err != nil {
			return nil, err
		}

		info := s.Info()
		exec, err := executors.Get(info.Protocol)
		if err != nil {
			return nil, huma.Error500InternalServerError("no executor for session protocol")
		}

		out := &ExecuteCommandOutput{}
		output, err := s.WithAudit(ctx, input.Body.Command, exec)
		switch {
		case err == nil:
			out.Body.Output = output
		case errors.Is(err, session.ErrCommandBlocked):
			out.Body.Blocked = true
		case errors.Is(err, session.ErrSessionClosed):
			return nil, huma.Error409Conflict("session is closed")
		case errors.Is(err, domain.ErrPolicyConfig):
			log.Error().Err(err).Str("session_id", input.ID.String()).Msg("api.v1.execute-command: bad command policy")
			return nil, huma.Error500InternalServerError("command policy misconfigured")
		default:
			return nil, huma.Error502BadGateway("command execution failed", err)
		}

		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "answer-review",
		Method:        http.MethodPost,
		Path:          "/sessions/{id}/review",
		Summary:       "Answer the session's pending review prompt",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *ReviewDecisionInput) (*struct{}, error) {
		s, err := liveSession(ctx, mgr, input.ID)
		if err != nil {
			return nil, err
		}
		s.SetReviewDecision(input.Body.Activate)
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "close-session",
		Method:        http.MethodPost,
		Path:          "/sessions/{id}/close",
		Summary:       "Close a live session",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *SessionIDInput) (*struct{}, error) {
		s, err := liveSession(ctx, mgr, input.ID)
		if err != nil {
			return nil, err
		}
		if err := s.Close(ctx); err != nil {
			log.Warn().Err(err).Str("session_id", input.ID.String()).Msg("api.v1.close-session: close degraded")
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-session-commands",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/commands",
		Summary:     "List the audited commands of a session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *ListCommandsInput) (*ListCommandsOutput, error) {
		if _, err := ownedRecord(ctx, audit, input.ID); err != nil {
			return nil, err
		}

		cmds, err := audit.ListCommands(ctx, input.ID, input.Limit, input.Offset)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list commands")
		}
		if cmds == nil {
			cmds = []*domain.CommandRecord{}
		}
		return &ListCommandsOutput{Body: cmds}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "kill-session",
		Method:        http.MethodPost,
		Path:          "/sessions/{id}/kill",
		Summary:       "Terminate a session on whichever gateway holds it",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusAccepted,
		Middlewares:   huma.Middlewares{middleware.RequireAdmin(api)},
	}, func(ctx context.Context, input *SessionIDInput) (*KillSessionOutput, error) {
		if _, err := ownedRecord(ctx, audit, input.ID); err != nil {
			return nil, err
		}

		task, err := audit.IssueTask(ctx, input.ID, domain.TaskActionKill)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				return nil, huma.Error404NotFound("session not found")
			case errors.Is(err, domain.ErrConflict):
				return nil, huma.Error409Conflict("session already finished")
			default:
				return nil, huma.Error500InternalServerError("failed to issue kill task")
			}
		}

		return &KillSessionOutput{Body: task}, nil
	})
}

func identity(ctx context.Context) (uuid.UUID, string, error) {
	orgID, ok := middleware.OrgIDFromContext(ctx)
	if !ok {
		return uuid.Nil, "", huma.Error403Forbidden("missing org context")
	}
	userRef, ok := middleware.UserRefFromContext(ctx)
	if !ok || userRef == "" {
		return uuid.Nil, "", huma.Error401Unauthorized("missing user context")
	}
	return orgID, userRef, nil
}

// visible reports whether the caller may see a session of orgID owned by userRef.
// Sessions of other orgs and, for non-admins, of other users are reported as
// missing.
func visible(ctx context.Context, orgID uuid.UUID, owner string) error {
	callerOrg, userRef, err := identity(ctx)
	if err != nil {
		return err
	}
	if orgID != callerOrg {
		return huma.Error404NotFound("session not found")
	}
	if owner != userRef && !middleware.HasRole(ctx, middleware.RoleAdmin) {
		return huma.Error404NotFound("session not found")
	}
	return nil
}

func liveSession(ctx context.Context, mgr SessionManager, id uuid.UUID) (*session.Session, error) {
	s, err := mgr.Get(id)
	if err != nil {
		return nil, huma.Error404NotFound("session not live on this gateway")
	}
	info := s.Info()
	if err := visible(ctx, info.OrgID, info.UserRef); err != nil {
		return nil, err
	}
	return s, nil
}

func ownedRecord(ctx context.Context, audit AuditService, id uuid.UUID) (*domain.Session, error) {
	rec, err := audit.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("session not found")
		}
		return nil, huma.Error500InternalServerError("failed to load session")
	}
	if err := visible(ctx, rec.OrgID, rec.UserRef); err != nil {
		return nil, err
	}
	return rec, nil
}

func liveView(s *session.Session) *SessionView {
	info := s.Info()
	return &SessionView{Session: &info, Live: true, Active: s.Active()}
}

// clientAddr returns the first hop of an X-Forwarded-For chain.
func clientAddr(forwarded string) string {
	first, _, _ := strings.Cut(forwarded, ",")
	return strings.TrimSpace(first)
}
