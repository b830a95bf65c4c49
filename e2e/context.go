package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"joingate/e2e/api"
	captchaconfig "joingate/internal/captcha/config"
	"joingate/internal/captcha/handler"
	"joingate/internal/captcha/models"
	"joingate/internal/captcha/service"
	"joingate/internal/captcha/store/challenge"
	"joingate/internal/captcha/timer"
	"joingate/internal/onebot"
	"joingate/internal/platform/middleware"
)

const eventSecret = "e2e-secret"

// TestContext runs the whole ingress stack in process against a recording
// OneBot endpoint. The stack is built on the first delivered event so that
// Given steps can still adjust configuration.
type TestContext struct {
	cfg    captchaconfig.Config
	puzzle *models.Puzzle

	mu    sync.Mutex
	calls []api.Call

	platform *httptest.Server
	server   *httptest.Server
	ingress  *handler.Handler
	timers   *timer.Registry

	lastStatus int
	nextMsgID  int64
}

func NewTestContext() *TestContext {
	return &TestContext{cfg: captchaconfig.DefaultConfig(), nextMsgID: 1000}
}

func (tc *TestContext) Configure(groups []string, attempts int, maxAge time.Duration) {
	tc.cfg.Attempts = attempts
	tc.cfg.MaxAge = maxAge
	tc.cfg.GuildIDs = tc.cfg.GuildIDs[:0]
	for _, g := range groups {
		tc.cfg.GuildIDs = append(tc.cfg.GuildIDs, models.GroupID(g))
	}
}

func (tc *TestContext) FixPuzzle(a, b int) {
	tc.puzzle = &models.Puzzle{A: a, B: b}
}

func (tc *TestContext) start() error {
	if tc.server != nil {
		return nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tc.platform = httptest.NewServer(http.HandlerFunc(tc.recordCall))
	client, err := onebot.New(tc.platform.URL, onebot.WithLogger(logger))
	if err != nil {
		return err
	}

	opts := []service.Option{service.WithConfig(tc.cfg), service.WithLogger(logger)}
	if tc.puzzle != nil {
		p := *tc.puzzle
		opts = append(opts, service.WithPuzzleGenerator(service.PuzzleFunc(func() models.Puzzle { return p })))
	}
	tc.timers = timer.New()
	engine, err := service.New(challenge.NewInMemoryStore(), tc.timers, client, client, opts...)
	if err != nil {
		return err
	}

	tc.ingress = handler.New(engine, handler.WithLogger(logger))
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestContext)
	tc.ingress.Register(r, middleware.RequireSignature(eventSecret, logger))
	tc.server = httptest.NewServer(r)
	return nil
}

// Close tears down the stack between scenarios.
func (tc *TestContext) Close() {
	if tc.timers != nil {
		tc.timers.Stop()
	}
	if tc.server != nil {
		tc.server.Close()
	}
	if tc.platform != nil {
		tc.platform.Close()
	}
}

func (tc *TestContext) recordCall(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tc.mu.Lock()
	tc.calls = append(tc.calls, api.Call{Action: strings.TrimPrefix(r.URL.Path, "/"), Params: params})
	tc.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok","retcode":0,"data":null}`))
}

// Calls returns the recorded calls for action, or all of them when action is
// empty.
func (tc *TestContext) Calls(action string) []api.Call {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	var out []api.Call
	for _, c := range tc.calls {
		if action == "" || c.Action == action {
			out = append(out, c)
		}
	}
	return out
}

func (tc *TestContext) LastStatus() int {
	return tc.lastStatus
}

func (tc *TestContext) Join(subject, group string) error {
	return tc.deliver(map[string]any{
		"time":        time.Now().Unix(),
		"self_id":     99,
		"post_type":   "notice",
		"notice_type": "group_increase",
		"sub_type":    "approve",
		"group_id":    json.Number(group),
		"user_id":     json.Number(subject),
	}, true)
}

func (tc *TestContext) ForgedJoin(subject, group string) error {
	return tc.deliver(map[string]any{
		"post_type":   "notice",
		"notice_type": "group_increase",
		"group_id":    json.Number(group),
		"user_id":     json.Number(subject),
	}, false)
}

// Say posts a group message. A zero messageID picks the next free one.
func (tc *TestContext) Say(subject, group string, messageID int64, text string) error {
	if messageID == 0 {
		tc.nextMsgID++
		messageID = tc.nextMsgID
	}
	return tc.deliver(map[string]any{
		"time":         time.Now().Unix(),
		"self_id":      99,
		"post_type":    "message",
		"message_type": "group",
		"message_id":   messageID,
		"group_id":     json.Number(group),
		"user_id":      json.Number(subject),
		"raw_message":  text,
	}, true)
}

// deliver posts an event and waits for the engine to finish with it.
func (tc *TestContext) deliver(event map[string]any, signed bool) error {
	if err := tc.start(); err != nil {
		return err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	secret := eventSecret
	if !signed {
		secret = "forged"
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, tc.server.URL+"/onebot/events", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(onebot.SignatureHeader, onebot.Sign(secret, body))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	tc.lastStatus = resp.StatusCode
	tc.ingress.Wait()
	return nil
}
