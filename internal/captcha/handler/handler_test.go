package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"joingate/internal/captcha/metrics"
	"joingate/internal/captcha/models"
	"joingate/internal/onebot"
	"joingate/internal/platform/middleware"
	"joingate/pkg/requestcontext"
)

const (
	testSecret   = "s3cret"
	joinPost     = `{"time":1718452800,"self_id":99,"post_type":"notice","notice_type":"group_increase","sub_type":"approve","group_id":20001,"user_id":10001}`
	messagePost  = `{"time":1718452800,"self_id":99,"post_type":"message","message_type":"group","message_id":555,"group_id":20001,"user_id":10001,"raw_message":"42"}`
	selfPost     = `{"time":1718452800,"self_id":99,"post_type":"message","message_type":"group","message_id":556,"group_id":20001,"user_id":99,"raw_message":"42"}`
	privatePost  = `{"time":1718452800,"self_id":99,"post_type":"message","message_type":"private","message_id":557,"user_id":10001,"raw_message":"42"}`
	heartbeat    = `{"time":1718452800,"self_id":99,"post_type":"meta_event","meta_event_type":"heartbeat"}`
	malformedRaw = `{"post_type":`
)

type joinCall struct {
	subject models.SubjectID
	group   models.GroupID
	selfID  string
}

// fakeEngine records calls; block, when set, holds every call until closed.
type fakeEngine struct {
	mu       sync.Mutex
	joins    []joinCall
	messages []models.MessageEvent
	block    chan struct{}
	started  chan struct{}
	panicMsg string
	err      error
}

func (f *fakeEngine) OnMemberJoined(ctx context.Context, subject models.SubjectID, group models.GroupID) (models.Outcome, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.joins = append(f.joins, joinCall{subject: subject, group: group, selfID: requestcontext.SelfID(ctx)})
	return models.OutcomeIssued, f.err
}

func (f *fakeEngine) OnMessage(_ context.Context, msg models.MessageEvent) (models.Outcome, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return models.OutcomeRetry, f.err
}

func (f *fakeEngine) wait() {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
}

func (f *fakeEngine) calls() ([]joinCall, []models.MessageEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]joinCall(nil), f.joins...), append([]models.MessageEvent(nil), f.messages...)
}

type HandlerSuite struct {
	suite.Suite
	engine  *fakeEngine
	handler *Handler
	metrics *metrics.Metrics
	router  chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.engine = &fakeEngine{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.build()
}

func (s *HandlerSuite) build(opts ...Option) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithLogger(logger), WithMetrics(s.metrics)}, opts...)
	s.handler = New(s.engine, opts...)
	s.router = chi.NewRouter()
	s.handler.Register(s.router, middleware.RequireSignature(testSecret, logger))
}

func (s *HandlerSuite) post(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/onebot/events", strings.NewReader(body))
	req.Header.Set(onebot.SignatureHeader, onebot.Sign(testSecret, []byte(body)))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *HandlerSuite) TestMemberJoinedDispatched() {
	w := s.post(joinPost)
	s.Equal(http.StatusNoContent, w.Code)

	s.handler.Wait()
	joins, messages := s.engine.calls()
	s.Equal([]joinCall{{subject: "10001", group: "20001", selfID: "99"}}, joins)
	s.Empty(messages)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.IngressEvents.WithLabelValues("notice.group_increase", "dispatched")))
}

func (s *HandlerSuite) TestGroupMessageDispatched() {
	w := s.post(messagePost)
	s.Equal(http.StatusNoContent, w.Code)

	s.handler.Wait()
	_, messages := s.engine.calls()
	s.Equal([]models.MessageEvent{{Subject: "10001", Group: "20001", MessageID: "555", Content: "42"}}, messages)
}

func (s *HandlerSuite) TestIgnoredPosts() {
	for _, body := range []string{selfPost, privatePost, heartbeat} {
		w := s.post(body)
		s.Equal(http.StatusNoContent, w.Code)
	}
	s.handler.Wait()

	joins, messages := s.engine.calls()
	s.Empty(joins)
	s.Empty(messages)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.IngressEvents.WithLabelValues("message.group", "self")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.IngressEvents.WithLabelValues("meta_event", "ignored")))
}

func (s *HandlerSuite) TestMalformedPost() {
	w := s.post(malformedRaw)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(w.Body.String(), "bad_request")
}

func (s *HandlerSuite) TestBadSignature() {
	req := httptest.NewRequest(http.MethodPost, "/onebot/events", strings.NewReader(joinPost))
	req.Header.Set(onebot.SignatureHeader, onebot.Sign("forged", []byte(joinPost)))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	s.Equal(http.StatusUnauthorized, w.Code)
	s.handler.Wait()
	joins, _ := s.engine.calls()
	s.Empty(joins)
}

func (s *HandlerSuite) TestSaturationRefused() {
	s.engine.block = make(chan struct{})
	s.engine.started = make(chan struct{}, 1)
	s.build(WithMaxInFlight(1))

	s.Equal(http.StatusNoContent, s.post(joinPost).Code)
	<-s.engine.started

	w := s.post(messagePost)
	s.Equal(http.StatusServiceUnavailable, w.Code)
	s.Contains(w.Body.String(), "unavailable")

	close(s.engine.block)
	s.handler.Wait()
	joins, messages := s.engine.calls()
	s.Len(joins, 1)
	s.Empty(messages)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.IngressEvents.WithLabelValues("message.group", "overloaded")))
}

func (s *HandlerSuite) TestEnginePanicIsContained() {
	s.engine.panicMsg = "boom"

	s.Equal(http.StatusNoContent, s.post(joinPost).Code)
	s.NotPanics(s.handler.Wait)

	s.engine.panicMsg = ""
	s.Equal(http.StatusNoContent, s.post(joinPost).Code)
	s.handler.Wait()
	joins, _ := s.engine.calls()
	s.Len(joins, 1)
}

func (s *HandlerSuite) TestEngineErrorStillAcknowledged() {
	s.engine.err = errors.New("redis down")
	s.Equal(http.StatusNoContent, s.post(messagePost).Code)
	s.handler.Wait()
}

func (s *HandlerSuite) TestProbes() {
	s.Run("healthz", func() {
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("readyz without checks", func() {
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("readyz with failing check", func() {
		s.build(WithReadiness(func(context.Context) error { return errors.New("redis unreachable") }))
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		s.Equal(http.StatusServiceUnavailable, w.Code)
	})
}
