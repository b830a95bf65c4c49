package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing per sink.
type EventCategory string

const (
	// CategorySecurity covers enforcement actions against group members.
	// Examples: removals after failed or expired challenges.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine lifecycle events.
	// Examples: challenge issued, answer accepted, wrong answer recorded.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from the challenge engine to capture lifecycle transitions.
// Keep it transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID          string
	Category    EventCategory
	Timestamp   time.Time
	Action      string
	Subject     string
	Group       string
	ChallengeID string
	Attempts    int
	Reason      string
	RequestID   string
}

type AuditEvent string

const (
	EventChallengeIssued   AuditEvent = "challenge_issued"
	EventAttemptRejected   AuditEvent = "challenge_attempt_rejected"
	EventChallengeVerified AuditEvent = "challenge_verified"
	EventChallengeFailed   AuditEvent = "challenge_failed"
	EventChallengeTimedOut AuditEvent = "challenge_timed_out"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventChallengeIssued:   CategoryOperations,
	EventAttemptRejected:   CategoryOperations,
	EventChallengeVerified: CategoryOperations,
	EventChallengeFailed:   CategorySecurity,
	EventChallengeTimedOut: CategorySecurity,
}

// Category returns the category for a known action, defaulting to operations.
func (e AuditEvent) Category() EventCategory {
	if c, ok := eventCategories[e]; ok {
		return c
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister is implemented by stores that can answer per-subject queries.
type Lister interface {
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}
