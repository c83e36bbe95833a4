package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type RiskLevel string

const (
	RiskLevelUnresolved   RiskLevel = "unresolved"
	RiskLevelNormal       RiskLevel = "normal"
	RiskLevelWarning      RiskLevel = "warning"
	RiskLevelReject       RiskLevel = "reject"
	RiskLevelReviewAccept RiskLevel = "review_accept"
	RiskLevelReviewReject RiskLevel = "review_reject"
	RiskLevelReviewCancel RiskLevel = "review_cancel"
)

// CommandRecord is one evaluated command. ACLID and GroupID are uuid.Nil when
// no rule matched.
type CommandRecord struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	RiskLevel RiskLevel `json:"risk_level"`
	ACLID     uuid.UUID `json:"acl_id"`
	GroupID   uuid.UUID `json:"group_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCommandRecord returns a fresh record for input with an unresolved risk level.
func NewCommandRecord(sessionID uuid.UUID, input string) *CommandRecord {
	return &CommandRecord{
		ID:        uuid.New(),
		SessionID: sessionID,
		Input:     input,
		RiskLevel: RiskLevelUnresolved,
		CreatedAt: time.Now(),
	}
}

type CommandRepository interface {
	Create(ctx context.Context, r *CommandRecord) error
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*CommandRecord, error)
}
