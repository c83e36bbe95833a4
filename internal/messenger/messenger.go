package messenger

import "context"

// MessageID uniquely identifies a message within a messenger platform.
type MessageID string

// ThreadID uniquely identifies a conversation thread within a messenger platform.
type ThreadID string

// ReviewOption is a structured choice presented to a reviewer.
type ReviewOption struct {
	Label string `json:"label"` // display text
	Value string `json:"value"` // machine-readable value returned on selection
}

// Messenger abstracts communication with a chat platform.
type Messenger interface {
	// SendMessage posts a text message to a channel and returns its platform message ID.
	SendMessage(ctx context.Context, channelID, text string) (MessageID, error)

	// CreateThread starts a new thread under a parent message, optionally presenting
	// structured options for the reviewer to choose from.
	CreateThread(ctx context.Context, channelID string, parentID MessageID, text string, options []ReviewOption) (ThreadID, error)

	// UpdateMessage edits an existing message in a channel.
	UpdateMessage(ctx context.Context, channelID string, messageID MessageID, text string) error

	// Platform returns the messenger platform identifier (e.g. "slack").
	Platform() string
}
