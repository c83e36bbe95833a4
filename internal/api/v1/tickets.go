package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/chatgate/internal/domain"
	"github.com/gosuda/chatgate/internal/server/middleware"
)

type TicketIDInput struct {
	ID uuid.UUID `path:"id" doc:"Review ticket ID"`
}

type TicketOutput struct {
	Body *domain.ReviewTicket
}

func RegisterTicketRoutes(api huma.API, audit AuditService) {
	huma.Register(api, huma.Operation{
		OperationID: "get-ticket",
		Method:      http.MethodGet,
		Path:        "/tickets/{id}",
		Summary:     "Get a review ticket",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *TicketIDInput) (*TicketOutput, error) {
		t, err := orgTicket(ctx, audit, input.ID)
		if err != nil {
			return nil, err
		}
		return &TicketOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-ticket",
		Method:      http.MethodPost,
		Path:        "/tickets/{id}/approve",
		Summary:     "Approve a pending review ticket",
		Tags:        []string{"Tickets"},
		Middlewares: huma.Middlewares{middleware.RequireReviewer(api)},
	}, func(ctx context.Context, input *TicketIDInput) (*TicketOutput, error) {
		return resolveTicket(ctx, audit, input.ID, true)
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-ticket",
		Method:      http.MethodPost,
		Path:        "/tickets/{id}/reject",
		Summary:     "Reject a pending review ticket",
		Tags:        []string{"Tickets"},
		Middlewares: huma.Middlewares{middleware.RequireReviewer(api)},
	}, func(ctx context.Context, input *TicketIDInput) (*TicketOutput, error) {
		return resolveTicket(ctx, audit, input.ID, false)
	})
}

func orgTicket(ctx context.Context, audit AuditService, id uuid.UUID) (*domain.ReviewTicket, error) {
	orgID, ok := middleware.OrgIDFromContext(ctx)
	if !ok {
		return nil, huma.Error403Forbidden("missing org context")
	}

	t, err := audit.GetTicket(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("ticket not found")
		}
		return nil, huma.Error500InternalServerError("failed to load ticket")
	}
	if t.OrgID != orgID {
		return nil, huma.Error404NotFound("ticket not found")
	}
	return t, nil
}

// resolveTicket runs behind RequireReviewer.
func resolveTicket(ctx context.Context, audit AuditService, id uuid.UUID, approve bool) (*TicketOutput, error) {
	reviewer, _ := middleware.UserRefFromContext(ctx)

	if _, err := orgTicket(ctx, audit, id); err != nil {
		return nil, err
	}

	t, err := audit.ResolveTicket(ctx, id, approve, reviewer)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrConflict):
			return nil, huma.Error409Conflict("ticket already resolved")
		case errors.Is(err, domain.ErrNotFound):
			return nil, huma.Error404NotFound("ticket not found")
		default:
			return nil, huma.Error500InternalServerError("failed to resolve ticket")
		}
	}
	return &TicketOutput{Body: t}, nil
}
