// Package onebot talks to a OneBot v11 implementation over its HTTP API. The
// client implements the notifier and enforcer capabilities of the challenge
// engine; event.go and signature.go cover the inbound side.
package onebot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"joingate/internal/captcha/models"
	"joingate/pkg/platform/circuit"
	"joingate/pkg/platform/sentinel"
)

const (
	actionSendGroupMsg = "send_group_msg"
	actionSetGroupKick = "set_group_kick"
	actionDeleteMsg    = "delete_msg"

	defaultTimeout = 10 * time.Second
)

// APIError is a well-formed response with a failing retcode.
type APIError struct {
	Action  string
	Status  string
	Retcode int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("onebot %s: status=%s retcode=%d: %s", e.Action, e.Status, e.Retcode, e.Message)
	}
	return fmt.Sprintf("onebot %s: status=%s retcode=%d", e.Action, e.Status, e.Retcode)
}

type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	breaker     *circuit.Breaker
	logger      *slog.Logger
}

type Option func(*Client)

func WithAccessToken(token string) Option {
	return func(c *Client) {
		c.accessToken = token
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("onebot API URL is required")
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		breaker:    circuit.New("onebot"),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type segment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

func renderSegments(msg models.Message) []segment {
	out := make([]segment, 0, len(msg))
	for _, seg := range msg {
		switch seg.Type {
		case models.SegmentMention:
			out = append(out, segment{Type: "at", Data: map[string]string{"qq": string(seg.Subject)}})
		default:
			out = append(out, segment{Type: "text", Data: map[string]string{"text": seg.Text}})
		}
	}
	return out
}

// Send posts msg to group.
func (c *Client) Send(ctx context.Context, group models.GroupID, msg models.Message) error {
	groupID, err := parseID("group", string(group))
	if err != nil {
		return err
	}
	return c.call(ctx, actionSendGroupMsg, map[string]any{
		"group_id": groupID,
		"message":  renderSegments(msg),
	})
}

// RemoveMember kicks subject without blocking future join requests. OneBot
// has no notion of notifying the removed user, so notifyUser is unused.
func (c *Client) RemoveMember(ctx context.Context, group models.GroupID, subject models.SubjectID, _ bool) error {
	groupID, err := parseID("group", string(group))
	if err != nil {
		return err
	}
	userID, err := parseID("user", string(subject))
	if err != nil {
		return err
	}
	return c.call(ctx, actionSetGroupKick, map[string]any{
		"group_id":           groupID,
		"user_id":            userID,
		"reject_add_request": false,
	})
}

// DeleteMessage recalls a message. The group is implied by the message ID.
func (c *Client) DeleteMessage(ctx context.Context, _ models.GroupID, messageID string) error {
	id, err := parseID("message", messageID)
	if err != nil {
		return err
	}
	return c.call(ctx, actionDeleteMsg, map[string]any{"message_id": id})
}

type response struct {
	Status  string          `json:"status"`
	Retcode int             `json:"retcode"`
	Message string          `json:"message"`
	Wording string          `json:"wording"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) call(ctx context.Context, action string, params map[string]any) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("onebot %s: %w", action, sentinel.ErrUnavailable)
	}

	err := c.do(ctx, action, params)
	var apiErr *APIError
	if err == nil || errors.As(err, &apiErr) {
		// The endpoint answered; a failing retcode is a request problem.
		if _, change := c.breaker.RecordSuccess(); change.Closed {
			c.logger.InfoContext(ctx, "onebot circuit closed", "breaker", c.breaker.Name())
		}
		return err
	}
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "onebot circuit opened", "breaker", c.breaker.Name(), "error", err)
	}
	return err
}

func (c *Client) do(ctx context.Context, action string, params map[string]any) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode %s params: %w", action, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+action, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("onebot %s request: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("onebot %s returned %s", action, resp.Status)
	}

	var result response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	// retcode 1 is "async": accepted and queued.
	if result.Retcode != 0 && result.Retcode != 1 {
		msg := result.Wording
		if msg == "" {
			msg = result.Message
		}
		return &APIError{Action: action, Status: result.Status, Retcode: result.Retcode, Message: msg}
	}
	return nil
}

func parseID(kind, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s id %q: %w", kind, raw, err)
	}
	return id, nil
}
