// Package backend is an HTTP client for the onboarding REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ashureev/onboarding-voice/internal/domain"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// ErrEmptyID is returned when a path id is missing.
var ErrEmptyID = errors.New("id cannot be empty")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client talks to the onboarding backend.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a backend client rooted at baseURL
// (for example http://localhost:8000/api/v1).
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ValidateSession checks a session token.
func (c *Client) ValidateSession(ctx context.Context, token string) (*ValidateSessionResponse, error) {
	if token == "" {
		return nil, fmt.Errorf("validate session: %w", ErrEmptyID)
	}
	var out ValidateSessionResponse
	if err := c.do(ctx, "validate session", http.MethodGet, "/auth/validate-session/"+url.PathEscape(token), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InitializeSession creates the backend conversation record for a session.
func (c *Client) InitializeSession(ctx context.Context, token string) (*InitializeSessionResponse, error) {
	var out InitializeSessionResponse
	req := InitializeSessionRequest{SessionID: token}
	if err := c.do(ctx, "initialize session", http.MethodPost, "/voice/sessions/initialize", req, &out); err != nil {
		return nil, err
	}
	if out.ConversationID == "" {
		return nil, errors.New("initialize session: response missing conversation_id")
	}
	return &out, nil
}

// StoreMessage persists one conversation message.
func (c *Client) StoreMessage(ctx context.Context, conversationID string, msg domain.ConversationMessage) error {
	req := StoreMessageRequest{
		Speaker:   string(msg.Speaker),
		Message:   msg.Text,
		Timestamp: msg.Timestamp.UTC(),
	}
	return c.do(ctx, "store message", http.MethodPost, conversationPath(conversationID, "messages"), req, nil)
}

// MirrorMessage is StoreMessage under the name the message log expects.
func (c *Client) MirrorMessage(ctx context.Context, conversationID string, msg domain.ConversationMessage) error {
	return c.StoreMessage(ctx, conversationID, msg)
}

// SubmitQuestion records a question raised during the conversation.
func (c *Client) SubmitQuestion(ctx context.Context, conversationID string, q QuestionRequest) (*QuestionResponse, error) {
	var out QuestionResponse
	if err := c.do(ctx, "submit question", http.MethodPost, conversationPath(conversationID, "questions"), q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteSession marks a conversation as finished.
func (c *Client) CompleteSession(ctx context.Context, conversationID, status, summary string) error {
	req := CompleteRequest{CompletionStatus: status, Summary: summary}
	return c.do(ctx, "complete session", http.MethodPost, conversationPath(conversationID, "complete"), req, nil)
}

// LinkExternal attaches the external voice session id to a conversation.
func (c *Client) LinkExternal(ctx context.Context, conversationID, externalID string) error {
	req := LinkExternalRequest{ExternalConversationID: externalID}
	return c.do(ctx, "link external session", http.MethodPost, conversationPath(conversationID, "link-elevenlabs"), req, nil)
}

// GetTranscript fetches the stored transcript of a conversation.
func (c *Client) GetTranscript(ctx context.Context, conversationID string) (*Transcript, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("get transcript: %w", ErrEmptyID)
	}
	var out Transcript
	if err := c.do(ctx, "get transcript", http.MethodGet, conversationPath(conversationID, "transcript"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func conversationPath(conversationID, action string) string {
	return "/voice/conversations/" + url.PathEscape(conversationID) + "/" + action
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if auth := AuthorizationFromContext(ctx); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close response body", "op", op, "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
