package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"joingate/internal/captcha/models"
	"joingate/internal/captcha/ports"
	"joingate/pkg/platform/circuit"
	"joingate/pkg/platform/sentinel"
)

var (
	_ ports.Notifier = (*Client)(nil)
	_ ports.Enforcer = (*Client)(nil)
)

type recordedCall struct {
	Path   string
	Auth   string
	Params map[string]any
}

type ClientSuite struct {
	suite.Suite
	server  *httptest.Server
	client  *Client
	mu      sync.Mutex
	calls   []recordedCall
	reply   string
	status  int
	breaker *circuit.Breaker
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.calls = nil
	s.reply = `{"status":"ok","retcode":0,"data":null}`
	s.status = http.StatusOK
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params map[string]any
		_ = json.NewDecoder(r.Body).Decode(&params)
		s.mu.Lock()
		s.calls = append(s.calls, recordedCall{Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Params: params})
		status, reply := s.status, s.reply
		s.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	s.breaker = circuit.New("onebot", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))

	var err error
	s.client, err = New(s.server.URL+"/",
		WithAccessToken("token-123"),
		WithBreaker(s.breaker),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
}

func (s *ClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *ClientSuite) lastCall() recordedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Require().NotEmpty(s.calls)
	return s.calls[len(s.calls)-1]
}

func (s *ClientSuite) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *ClientSuite) TestNewRequiresURL() {
	_, err := New("")
	s.Error(err)
}

func (s *ClientSuite) TestSend() {
	msg := models.Message{}.Mention("10001").Text(" hello")
	s.Require().NoError(s.client.Send(context.Background(), "20001", msg))

	call := s.lastCall()
	s.Equal("/send_group_msg", call.Path)
	s.Equal("Bearer token-123", call.Auth)
	s.EqualValues(20001, call.Params["group_id"])
	s.Equal([]any{
		map[string]any{"type": "at", "data": map[string]any{"qq": "10001"}},
		map[string]any{"type": "text", "data": map[string]any{"text": " hello"}},
	}, call.Params["message"])
}

func (s *ClientSuite) TestRemoveMember() {
	s.Require().NoError(s.client.RemoveMember(context.Background(), "20001", "10001", false))

	call := s.lastCall()
	s.Equal("/set_group_kick", call.Path)
	s.EqualValues(20001, call.Params["group_id"])
	s.EqualValues(10001, call.Params["user_id"])
	s.Equal(false, call.Params["reject_add_request"])
}

func (s *ClientSuite) TestDeleteMessage() {
	s.Require().NoError(s.client.DeleteMessage(context.Background(), "20001", "555"))

	call := s.lastCall()
	s.Equal("/delete_msg", call.Path)
	s.EqualValues(555, call.Params["message_id"])
}

func (s *ClientSuite) TestInvalidIdentifiers() {
	s.Error(s.client.Send(context.Background(), "not-a-group", nil))
	s.Error(s.client.RemoveMember(context.Background(), "20001", "bob", false))
	s.Error(s.client.DeleteMessage(context.Background(), "20001", ""))
	s.Equal(0, s.callCount())
}

func (s *ClientSuite) TestAsyncRetcodeAccepted() {
	s.reply = `{"status":"async","retcode":1,"data":null}`
	s.NoError(s.client.DeleteMessage(context.Background(), "20001", "1"))
}

func (s *ClientSuite) TestFailingRetcode() {
	s.reply = `{"status":"failed","retcode":102,"wording":"no permission"}`

	err := s.client.RemoveMember(context.Background(), "20001", "10001", false)
	var apiErr *APIError
	s.Require().ErrorAs(err, &apiErr)
	s.Equal(102, apiErr.Retcode)
	s.Equal(actionSetGroupKick, apiErr.Action)
	s.Contains(err.Error(), "no permission")

	// API-level failures do not trip the breaker.
	_ = s.client.RemoveMember(context.Background(), "20001", "10001", false)
	_ = s.client.RemoveMember(context.Background(), "20001", "10001", false)
	s.False(s.breaker.IsOpen())
}

func (s *ClientSuite) TestHTTPErrorOpensCircuit() {
	s.status = http.StatusBadGateway

	s.Error(s.client.Send(context.Background(), "20001", nil))
	s.Error(s.client.Send(context.Background(), "20001", nil))
	s.True(s.breaker.IsOpen())
	s.Equal(2, s.callCount())

	err := s.client.Send(context.Background(), "20001", nil)
	s.True(errors.Is(err, sentinel.ErrUnavailable))
	s.Equal(2, s.callCount())
}

func (s *ClientSuite) TestMalformedResponse() {
	s.reply = `not json`
	s.Error(s.client.Send(context.Background(), "20001", nil))
}

func (s *ClientSuite) TestNoTokenNoHeader() {
	client, err := New(s.server.URL)
	s.Require().NoError(err)
	s.Require().NoError(client.Send(context.Background(), "20001", nil))
	s.Empty(s.lastCall().Auth)
}
