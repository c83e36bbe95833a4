package domain

import (
	"context"

	"github.com/google/uuid"
)

// ACLAction is what happens to a command matching a CommandACL.
// A command that matches no ACL is implicitly allowed.
type ACLAction string

const (
	ACLActionWarning ACLAction = "warning"
	ACLActionReview  ACLAction = "review"
	ACLActionReject  ACLAction = "reject"
)

// CommandGroup is one pattern inside a CommandACL.
type CommandGroup struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Pattern         string    `json:"pattern"`
	CaseInsensitive bool      `json:"case_insensitive"`
}

// CommandACL is an ordered authorization rule. Groups are evaluated in order.
type CommandACL struct {
	ID       uuid.UUID      `json:"id"`
	Name     string         `json:"name"`
	Priority int            `json:"priority"`
	Action   ACLAction      `json:"action"`
	Groups   []CommandGroup `json:"groups"`
}

// ACLRepository reads the rules that apply to an org. Rules are returned in
// evaluation order (ascending priority).
type ACLRepository interface {
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]CommandACL, error)
}
