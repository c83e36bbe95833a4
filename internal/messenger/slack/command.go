package slack

import (
	"regexp"
	"strings"

	"github.com/gosuda/chatgate/internal/domain"
	"github.com/gosuda/chatgate/internal/messenger"
)

// ReviewReply is a reviewer's free-text reply in a review thread.
type ReviewReply struct {
	Answer  string // messenger.AnswerApprove or messenger.AnswerReject when Decided
	Decided bool
	Raw     string
}

// mentionPattern matches Slack-encoded mentions (<@U12345>) and a literal @chatgate at the start.
var mentionPattern = regexp.MustCompile(`^(?:<@[A-Z0-9]+>|@chatgate)\s*`) //nolint:gochecknoglobals // compiled regexp

// ParseReviewReply extracts a decision from a thread reply such as
// "approve", "<@U123> lgtm" or "Reject." Anything else is undecided chatter.
func ParseReviewReply(text string) ReviewReply {
	reply := ReviewReply{Raw: text}

	stripped := strings.TrimSpace(mentionPattern.ReplaceAllString(strings.TrimSpace(text), ""))
	stripped = strings.TrimRight(stripped, ".!")

	state, ok := messenger.ParseAnswer(stripped)
	if !ok {
		return reply
	}

	reply.Decided = true
	reply.Answer = messenger.AnswerReject
	if state == domain.TicketStateApproved {
		reply.Answer = messenger.AnswerApprove
	}
	return reply
}
