package slack

import (
	"context"
	"fmt"

	slacklib "github.com/slack-go/slack"

	"github.com/gosuda/chatgate/internal/messenger"
)

// SlackAPI abstracts the subset of the Slack client used by SlackMessenger.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slacklib.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slacklib.MsgOption) (string, string, string, error)
}

// SlackMessenger implements messenger.Messenger for Slack.
type SlackMessenger struct {
	api SlackAPI
}

// Compile-time interface check.
var _ messenger.Messenger = (*SlackMessenger)(nil) //nolint:gochecknoglobals // compile-time check

// NewSlackMessenger creates a SlackMessenger with the given API client.
func NewSlackMessenger(api SlackAPI) *SlackMessenger {
	return &SlackMessenger{api: api}
}

// NewClient builds a Slack Web API client for a bot token.
func NewClient(botToken string) *slacklib.Client {
	return slacklib.New(botToken)
}

// SendMessage posts a text message to a Slack channel and returns the message timestamp as MessageID.
func (m *SlackMessenger) SendMessage(ctx context.Context, channelID, text string) (messenger.MessageID, error) {
	_, ts, err := m.api.PostMessageContext(ctx, channelID, slacklib.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("slack.SlackMessenger.SendMessage: %w", err)
	}

	return messenger.MessageID(ts), nil
}

// CreateThread posts a threaded reply under a parent message. Options render
// as Block Kit buttons.
func (m *SlackMessenger) CreateThread(ctx context.Context, channelID string, parentID messenger.MessageID, text string, options []messenger.ReviewOption) (messenger.ThreadID, error) {
	msgOpts := []slacklib.MsgOption{
		slacklib.MsgOptionTS(string(parentID)),
		slacklib.MsgOptionText(text, false),
	}

	if len(options) > 0 {
		msgOpts = append(msgOpts, slacklib.MsgOptionBlocks(BuildReviewBlocks(text, options)...))
	}

	_, ts, err := m.api.PostMessageContext(ctx, channelID, msgOpts...)
	if err != nil {
		return "", fmt.Errorf("slack.SlackMessenger.CreateThread: %w", err)
	}

	return messenger.ThreadID(ts), nil
}

// UpdateMessage edits an existing Slack message.
func (m *SlackMessenger) UpdateMessage(ctx context.Context, channelID string, messageID messenger.MessageID, text string) error {
	_, _, _, err := m.api.UpdateMessageContext(ctx, channelID, string(messageID), slacklib.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack.SlackMessenger.UpdateMessage: %w", err)
	}

	return nil
}

// Platform returns the messenger platform identifier.
func (m *SlackMessenger) Platform() string {
	return "slack"
}
