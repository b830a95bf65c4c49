// Package ports defines the capabilities the challenge engine depends on.
// The chat platform adapter implements Notifier and Enforcer; storage and
// timers are provided by this module.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"log/slog"
	"time"

	"joingate/internal/captcha/models"
	"joingate/internal/captcha/timer"
	"joingate/pkg/platform/audit"
	"joingate/pkg/requestcontext"
)

// ChallengeStore persists challenge records with a per-record expiry. The
// expiry is a cleanup fallback only; it never triggers enforcement.
type ChallengeStore interface {
	// Put stores rec under key for ttl. ttl must be positive.
	Put(ctx context.Context, key string, rec *models.ChallengeRecord, ttl time.Duration) error

	// Get returns the record for key, or nil when absent.
	Get(ctx context.Context, key string) (*models.ChallengeRecord, error)

	// Take atomically returns and removes the record for key, or nil when
	// absent. Exactly one concurrent caller observes a given record.
	Take(ctx context.Context, key string) (*models.ChallengeRecord, error)

	// Delete removes the record for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Scheduler owns the process-local timeout for each pending challenge.
type Scheduler interface {
	Schedule(key string, delay time.Duration, action func()) timer.Handle
	Cancel(key string) bool
}

// Notifier sends rendered messages to a group.
type Notifier interface {
	Send(ctx context.Context, group models.GroupID, msg models.Message) error
}

// Enforcer performs moderation actions in a group.
type Enforcer interface {
	RemoveMember(ctx context.Context, group models.GroupID, subject models.SubjectID, notifyUser bool) error
	DeleteMessage(ctx context.Context, group models.GroupID, messageID string) error
}

// AuditPublisher emits audit events for lifecycle transitions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// LogAudit logs an audit event to the structured logger and emits it to the
// publisher when one is configured.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.Event) {
	event.RequestID = requestcontext.RequestID(ctx)

	if logger != nil {
		logger.InfoContext(ctx, event.Action,
			"subject", event.Subject,
			"group", event.Group,
			"challenge_id", event.ChallengeID,
			"attempts", event.Attempts,
			"request_id", event.RequestID,
			"log_type", "audit",
		)
	}

	if publisher == nil {
		return
	}
	if err := publisher.Emit(ctx, event); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
	}
}
