// Package service implements the join challenge lifecycle: issuing a puzzle
// when a member joins, judging answers against the attempt budget, and
// removing members who fail or run out of time.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"joingate/internal/captcha/config"
	"joingate/internal/captcha/metrics"
	"joingate/internal/captcha/models"
	"joingate/internal/captcha/ports"
	dErrors "joingate/pkg/domain-errors"
	"joingate/pkg/platform/audit"
	"joingate/pkg/requestcontext"
)

const (
	defaultActionTimeout = 15 * time.Second

	// recordTTLGrace keeps a record claimable by a timer that fires just after
	// the deadline. Answers inside the grace window time out inline.
	recordTTLGrace = 30 * time.Second
)

type Service struct {
	store          ports.ChallengeStore
	timers         ports.Scheduler
	notifier       ports.Notifier
	enforcer       ports.Enforcer
	auditPublisher ports.AuditPublisher
	logger         *slog.Logger
	config         config.Config
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	puzzles        PuzzleGenerator
	newID          func() string
	actionTimeout  time.Duration
	locks          *keyLocks
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithConfig(cfg config.Config) Option {
	return func(s *Service) {
		s.config = cfg
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithPuzzleGenerator replaces the uniform random operand source.
func WithPuzzleGenerator(gen PuzzleGenerator) Option {
	return func(s *Service) {
		s.puzzles = gen
	}
}

// WithActionTimeout bounds the collaborator calls made when a timer fires.
func WithActionTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.actionTimeout = d
	}
}

func New(store ports.ChallengeStore, timers ports.Scheduler, notifier ports.Notifier, enforcer ports.Enforcer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("challenge store is required")
	}
	if timers == nil {
		return nil, errors.New("timer scheduler is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if enforcer == nil {
		return nil, errors.New("enforcer is required")
	}

	svc := &Service{
		store:         store,
		timers:        timers,
		notifier:      notifier,
		enforcer:      enforcer,
		logger:        slog.Default(),
		config:        config.DefaultConfig(),
		newID:         uuid.NewString,
		actionTimeout: defaultActionTimeout,
		locks:         newKeyLocks(),
	}
	for _, opt := range opts {
		opt(svc)
	}

	if err := svc.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid captcha config: %w", err)
	}
	if svc.puzzles == nil {
		svc.puzzles = randomPuzzles{min: svc.config.OperandMin, max: svc.config.OperandMax}
	}
	if svc.tracer == nil {
		svc.tracer = otel.Tracer("joingate/captcha")
	}
	return svc, nil
}

// OnMemberJoined issues a challenge to subject. A pending challenge for the
// same key is replaced.
func (s *Service) OnMemberJoined(ctx context.Context, subject models.SubjectID, group models.GroupID) (outcome models.Outcome, err error) {
	ctx, span := s.startSpan(ctx, "captcha.member_joined", subject, group)
	defer func() { s.endSpan(span, outcome, err) }()

	if !s.config.Monitors(group) {
		return models.OutcomeIgnored, nil
	}

	key := models.NewChallengeKey(subject, group).String()
	release := s.locks.lock(key)
	defer release()

	rec := models.NewChallengeRecord(s.newID(), subject, group, s.puzzles.Next(), requestcontext.Now(ctx))

	if err := s.store.Put(ctx, key, rec, s.config.MaxAge+recordTTLGrace); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist challenge",
			"subject", subject, "group", group, "error", err)
		s.notify(ctx, group, errorMessage(), "send_error_notice")
		s.metrics.IncrementOutcome(string(models.OutcomeAbandoned))
		return models.OutcomeAbandoned, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist challenge")
	}

	s.timers.Schedule(key, s.config.MaxAge, s.timeoutAction(subject, group, rec.ID))

	if err := s.notifier.Send(ctx, group, promptMessage(subject, rec.Puzzle, s.config.Attempts)); err != nil {
		s.collaboratorFailed(ctx, "send_prompt", err, subject, group)
		s.timers.Cancel(key)
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.logger.ErrorContext(ctx, "failed to discard unannounced challenge",
				"subject", subject, "group", group, "error", delErr)
		}
		s.notify(ctx, group, errorMessage(), "send_error_notice")
		s.metrics.IncrementOutcome(string(models.OutcomeAbandoned))
		return models.OutcomeAbandoned, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to send challenge prompt")
	}

	s.metrics.IncrementIssued()
	s.finish(ctx, rec, models.OutcomeIssued, audit.EventChallengeIssued)
	return models.OutcomeIssued, nil
}

// OnMessage judges a group message against the sender's pending challenge.
// Messages that are not numeric, or that have no pending challenge, are
// ignored.
func (s *Service) OnMessage(ctx context.Context, msg models.MessageEvent) (outcome models.Outcome, err error) {
	ctx, span := s.startSpan(ctx, "captcha.message", msg.Subject, msg.Group)
	defer func() { s.endSpan(span, outcome, err) }()

	if !s.config.Monitors(msg.Group) {
		return models.OutcomeIgnored, nil
	}
	answer, ok := parseAnswer(msg.Content)
	if !ok {
		return models.OutcomeIgnored, nil
	}

	key := models.NewChallengeKey(msg.Subject, msg.Group).String()
	release := s.locks.lock(key)
	defer release()

	rec, err := s.store.Take(ctx, key)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to claim challenge",
			"subject", msg.Subject, "group", msg.Group, "error", err)
		return models.OutcomeAbandoned, dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim challenge")
	}
	if rec == nil {
		s.logger.DebugContext(ctx, "no pending challenge", "subject", msg.Subject, "group", msg.Group)
		return models.OutcomeIgnored, nil
	}
	s.metrics.IncrementAttempts()

	if rec.Matches(answer) {
		s.timers.Cancel(key)
		s.notify(ctx, msg.Group, successMessage(msg.Subject), "send_success")
		s.finish(ctx, rec, models.OutcomeVerified, audit.EventChallengeVerified)
		return models.OutcomeVerified, nil
	}

	if exhausted := rec.RecordFailedAttempt(s.config.Attempts); exhausted {
		s.timers.Cancel(key)
		s.notify(ctx, msg.Group, failedMessage(msg.Subject), "send_failure")
		s.removeMember(ctx, msg.Group, msg.Subject)
		s.finish(ctx, rec, models.OutcomeFailed, audit.EventChallengeFailed)
		return models.OutcomeFailed, nil
	}

	remaining := rec.Remaining(s.config.MaxAge, requestcontext.Now(ctx))
	if remaining <= 0 {
		s.timers.Cancel(key)
		s.expire(ctx, rec)
		return models.OutcomeTimedOut, nil
	}

	if err := s.store.Put(ctx, key, rec, remaining+recordTTLGrace); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist challenge attempt",
			"subject", msg.Subject, "group", msg.Group, "challenge_id", rec.ID, "error", err)
		s.notify(ctx, msg.Group, errorMessage(), "send_error_notice")
		s.metrics.IncrementOutcome(string(models.OutcomeAbandoned))
		return models.OutcomeAbandoned, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist challenge attempt")
	}
	s.timers.Schedule(key, remaining, s.timeoutAction(msg.Subject, msg.Group, rec.ID))

	var g errgroup.Group
	g.Go(func() error {
		return s.notifier.Send(ctx, msg.Group, wrongAnswerMessage(msg.Subject, rec.RemainingAttempts(s.config.Attempts)))
	})
	if s.config.DeleteWrongAnswers && msg.MessageID != "" {
		g.Go(func() error {
			if err := s.enforcer.DeleteMessage(ctx, msg.Group, msg.MessageID); err != nil {
				s.collaboratorFailed(ctx, "delete_message", err, msg.Subject, msg.Group)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.collaboratorFailed(ctx, "send_retry", err, msg.Subject, msg.Group)
	}

	s.finish(ctx, rec, models.OutcomeRetry, audit.EventAttemptRejected)
	return models.OutcomeRetry, nil
}

// OnTimeout expires the pending challenge for subject, if any. Calling it for
// a resolved challenge is a no-op.
func (s *Service) OnTimeout(ctx context.Context, subject models.SubjectID, group models.GroupID) (models.Outcome, error) {
	return s.onTimeout(ctx, subject, group, "")
}

// onTimeout claims the record and removes the member. A non-empty
// challengeID restricts the claim to that challenge so a timer armed for a
// replaced challenge cannot expire its successor.
func (s *Service) onTimeout(ctx context.Context, subject models.SubjectID, group models.GroupID, challengeID string) (outcome models.Outcome, err error) {
	ctx, span := s.startSpan(ctx, "captcha.timeout", subject, group)
	defer func() { s.endSpan(span, outcome, err) }()

	key := models.NewChallengeKey(subject, group).String()
	release := s.locks.lock(key)
	defer release()

	if challengeID != "" {
		current, err := s.store.Get(ctx, key)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to load challenge for timeout",
				"subject", subject, "group", group, "error", err)
			return models.OutcomeAbandoned, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load challenge")
		}
		if current == nil || current.ID != challengeID {
			return models.OutcomeIgnored, nil
		}
	} else {
		s.timers.Cancel(key)
	}

	rec, err := s.store.Take(ctx, key)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to claim challenge for timeout",
			"subject", subject, "group", group, "error", err)
		return models.OutcomeAbandoned, dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim challenge")
	}
	if rec == nil {
		s.logger.DebugContext(ctx, "challenge already resolved", "subject", subject, "group", group)
		return models.OutcomeIgnored, nil
	}

	s.expire(ctx, rec)
	return models.OutcomeTimedOut, nil
}

// expire performs the timeout side effects for a claimed record.
func (s *Service) expire(ctx context.Context, rec *models.ChallengeRecord) {
	s.notify(ctx, rec.Group, timeoutMessage(rec.Subject), "send_timeout")
	s.removeMember(ctx, rec.Group, rec.Subject)
	s.finish(ctx, rec, models.OutcomeTimedOut, audit.EventChallengeTimedOut)
}

// timeoutAction is the callback armed in the scheduler. It runs on the timer
// goroutine, so it owns its context and recovers panics.
func (s *Service) timeoutAction(subject models.SubjectID, group models.GroupID, challengeID string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.actionTimeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.logger.ErrorContext(ctx, "panic in challenge timeout",
					"subject", subject, "group", group, "panic", r)
			}
		}()

		if _, err := s.onTimeout(ctx, subject, group, challengeID); err != nil {
			s.logger.ErrorContext(ctx, "challenge timeout failed",
				"subject", subject, "group", group, "challenge_id", challengeID, "error", err)
		}
	}
}

func (s *Service) notify(ctx context.Context, group models.GroupID, msg models.Message, op string) {
	if err := s.notifier.Send(ctx, group, msg); err != nil {
		s.metrics.IncrementCollaboratorFailure(op)
		s.logger.WarnContext(ctx, "failed to send notice", "op", op, "group", group, "error", err)
	}
}

func (s *Service) removeMember(ctx context.Context, group models.GroupID, subject models.SubjectID) {
	if err := s.enforcer.RemoveMember(ctx, group, subject, false); err != nil {
		s.collaboratorFailed(ctx, "remove_member", err, subject, group)
	}
}

func (s *Service) collaboratorFailed(ctx context.Context, op string, err error, subject models.SubjectID, group models.GroupID) {
	s.metrics.IncrementCollaboratorFailure(op)
	s.logger.WarnContext(ctx, "collaborator call failed",
		"op", op, "subject", subject, "group", group, "error", err)
}

func (s *Service) finish(ctx context.Context, rec *models.ChallengeRecord, outcome models.Outcome, event audit.AuditEvent) {
	s.metrics.IncrementOutcome(string(outcome))
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Action:      string(event),
		Subject:     rec.Subject.String(),
		Group:       rec.Group.String(),
		ChallengeID: rec.ID,
		Attempts:    rec.AttemptsUsed,
		Reason:      string(outcome),
	})
}

func (s *Service) startSpan(ctx context.Context, name string, subject models.SubjectID, group models.GroupID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("captcha.subject", subject.String()),
		attribute.String("captcha.group", group.String()),
	))
}

func (s *Service) endSpan(span trace.Span, outcome models.Outcome, err error) {
	span.SetAttributes(attribute.String("captcha.outcome", string(outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
