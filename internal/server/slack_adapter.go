package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatgate/internal/domain"
	"github.com/gosuda/chatgate/internal/messenger"
)

const slackPlatform = "slack"

// ReviewResponder resolves a ticket from a reviewer's reply in a messenger
// thread. *messenger.Router satisfies this interface.
type ReviewResponder interface {
	HandleResponse(ctx context.Context, platform, threadID, answer, reviewer string) (*domain.ReviewTicket, error)
}

// slackResponseAdapter bridges the Slack handler's ResponseHandler interface to
// the messenger router. Reviewers are recorded by their Slack user ID.
type slackResponseAdapter struct {
	router ReviewResponder
}

// HandleSlackResponse implements slack.ResponseHandler. Late answers to a
// ticket that is already resolved are not errors.
func (a *slackResponseAdapter) HandleSlackResponse(ctx context.Context, threadTS, answer, slackUserID string) error {
	t, err := a.router.HandleResponse(ctx, slackPlatform, threadTS, answer, slackUserID)
	if err != nil {
		if errors.Is(err, messenger.ErrTicketAlreadyResolved) {
			log.Debug().Str("thread_ts", threadTS).Str("reviewer", slackUserID).Msg("slackResponseAdapter: ticket already resolved")
			return nil
		}
		return fmt.Errorf("slackResponseAdapter.HandleSlackResponse: %w", err)
	}

	log.Info().
		Str("ticket_id", t.ID.String()).
		Str("state", string(t.State)).
		Str("reviewer", slackUserID).
		Msg("slackResponseAdapter: ticket resolved from Slack")
	return nil
}
