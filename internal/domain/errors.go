package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound     = errors.New("domain: not found")
	ErrConflict     = errors.New("domain: conflict")
	ErrUnauthorized = errors.New("domain: unauthorized")
	ErrForbidden    = errors.New("domain: forbidden")
)

// Failure classes of the audit path. Callers match them with errors.Is.
var (
	// ErrGatewayFatal means the audit backend refused or failed to create a
	// durable session record. No session may start without one.
	ErrGatewayFatal = errors.New("domain: audit gateway unavailable")

	// ErrGatewayDegraded marks a failed upload, finish or ticket call. It is
	// logged and never blocks the user-visible path.
	ErrGatewayDegraded = errors.New("domain: audit gateway degraded")

	// ErrPolicyConfig means a command ACL could not be compiled. Evaluation
	// is aborted rather than allowed.
	ErrPolicyConfig = errors.New("domain: invalid command policy")

	// ErrReviewTimeout means a review activation or ticket wait hit its bound.
	ErrReviewTimeout = errors.New("domain: review timed out")
)
