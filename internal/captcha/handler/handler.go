// Package handler receives OneBot v11 event posts and hands the relevant ones
// to the challenge engine.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"joingate/internal/captcha/metrics"
	"joingate/internal/captcha/models"
	"joingate/internal/onebot"
	dErrors "joingate/pkg/domain-errors"
	"joingate/pkg/platform/httputil"
	"joingate/pkg/requestcontext"
)

const (
	defaultMaxInFlight     = 256
	defaultDispatchTimeout = 30 * time.Second
	maxBodyBytes           = 1 << 20
)

// Engine is the part of the challenge service the ingress drives.
type Engine interface {
	OnMemberJoined(ctx context.Context, subject models.SubjectID, group models.GroupID) (models.Outcome, error)
	OnMessage(ctx context.Context, msg models.MessageEvent) (models.Outcome, error)
}

// ReadinessCheck reports whether backing services are reachable.
type ReadinessCheck func(ctx context.Context) error

// Handler acknowledges event posts immediately and processes them on a
// bounded set of goroutines.
type Handler struct {
	engine          Engine
	logger          *slog.Logger
	metrics         *metrics.Metrics
	ready           ReadinessCheck
	dispatch        *errgroup.Group
	dispatchTimeout time.Duration
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func WithReadiness(check ReadinessCheck) Option {
	return func(h *Handler) {
		h.ready = check
	}
}

// WithMaxInFlight bounds concurrently processed events. Posts beyond the
// limit are refused with 503 so the sender can retry.
func WithMaxInFlight(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.dispatch.SetLimit(n)
		}
	}
}

func WithDispatchTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.dispatchTimeout = d
		}
	}
}

func New(engine Engine, opts ...Option) *Handler {
	h := &Handler{
		engine:          engine,
		logger:          slog.Default(),
		dispatch:        &errgroup.Group{},
		dispatchTimeout: defaultDispatchTimeout,
	}
	h.dispatch.SetLimit(defaultMaxInFlight)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the event and probe endpoints. Signature verification is
// mounted by the caller as middleware on the event route.
func (h *Handler) Register(r chi.Router, eventMiddleware ...func(http.Handler) http.Handler) {
	r.With(eventMiddleware...).Post("/onebot/events", h.HandleEvent)
	r.Get("/healthz", h.HandleHealth)
	r.Get("/readyz", h.HandleReady)
}

// Wait blocks until every dispatched event has been processed.
func (h *Handler) Wait() {
	_ = h.dispatch.Wait()
}

// HandleEvent handles POST /onebot/events.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unreadable request body"))
		return
	}
	var ev onebot.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		h.logger.WarnContext(ctx, "malformed event post", "request_id", requestID, "error", err)
		h.metrics.IncrementIngress("unknown", "invalid")
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed event"))
		return
	}

	kind := ev.Kind()
	if !ev.IsMemberJoined() && !ev.IsGroupMessage() {
		h.metrics.IncrementIngress(kind, "ignored")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if ev.IsSelf() {
		h.metrics.IncrementIngress(kind, "self")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	dispatchCtx := requestcontext.WithSelfID(context.WithoutCancel(ctx), strconv.FormatInt(ev.SelfID, 10))
	if !h.dispatch.TryGo(func() error {
		h.process(dispatchCtx, ev)
		return nil
	}) {
		h.logger.WarnContext(ctx, "event dispatch saturated", "request_id", requestID, "kind", kind)
		h.metrics.IncrementIngress(kind, "overloaded")
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "too many events in flight"))
		return
	}

	h.metrics.IncrementIngress(kind, "dispatched")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) process(ctx context.Context, ev onebot.Event) {
	ctx, cancel := context.WithTimeout(ctx, h.dispatchTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			h.logger.ErrorContext(ctx, "panic while handling event",
				"kind", ev.Kind(), "request_id", requestcontext.RequestID(ctx), "panic", r)
		}
	}()

	start := time.Now()
	var (
		outcome models.Outcome
		err     error
	)
	switch {
	case ev.IsMemberJoined():
		outcome, err = h.engine.OnMemberJoined(ctx, ev.Subject(), ev.Group())
	case ev.IsGroupMessage():
		outcome, err = h.engine.OnMessage(ctx, ev.MessageEvent())
	}

	if err != nil {
		h.logger.ErrorContext(ctx, "event handling failed",
			"kind", ev.Kind(),
			"subject", ev.Subject(),
			"group", ev.Group(),
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return
	}
	if outcome != models.OutcomeIgnored {
		h.logger.InfoContext(ctx, "event handled",
			"kind", ev.Kind(),
			"subject", ev.Subject(),
			"group", ev.Group(),
			"outcome", outcome,
			"request_id", requestcontext.RequestID(ctx),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// HandleHealth handles GET /healthz.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady handles GET /readyz.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.logger.WarnContext(ctx, "readiness check failed", "error", err)
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "dependencies unavailable"))
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
