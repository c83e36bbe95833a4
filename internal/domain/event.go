package domain

// EventType is the kind of status event pushed to the interactive client.
type EventType string

const (
	EventWaiting EventType = "waiting"
	EventReject  EventType = "reject"
	EventMessage EventType = "message"
	EventError   EventType = "error"
	EventFinish  EventType = "finish"
)

type EventMeta struct {
	ActivateReview bool `json:"activate_review"`
}

// Event is a real-time status update for one conversation (session).
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Message        string    `json:"message,omitempty"`
	SystemMessage  string    `json:"system_message,omitempty"`
	Meta           EventMeta `json:"meta"`
}
