package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ashureev/onboarding-voice/internal/voice"
)

// DefaultConvAIBase is the public conversation WebSocket endpoint.
const DefaultConvAIBase = "wss://api.elevenlabs.io/v1/convai/conversation"

const (
	speakingHold    = 400 * time.Millisecond
	toolCallTimeout = 30 * time.Second
	writeTimeout    = 5 * time.Second
)

// ErrNoSession is returned when sending without a running session.
var ErrNoSession = errors.New("no active conversation session")

// ConvAIConfig configures a ConvAIClient.
type ConvAIConfig struct {
	// WSBase is used when starting by agent id.
	WSBase string
	// APIKey is sent when starting by agent id. Signed URLs need no key.
	APIKey string
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// ConvAIClient is a voice.Client for the ElevenLabs Conversational AI
// WebSocket protocol. One client serves one page visit; each StartSession
// replaces the previous connection.
type ConvAIClient struct {
	cfg    ConvAIConfig
	logger *slog.Logger
	events chan voice.Event
	audio  chan []byte
	done   chan struct{}

	mu        sync.Mutex
	current   *convSession
	lastAudio time.Time
	closeOnce sync.Once
}

type convSession struct {
	conn    *websocket.Conn
	tools   map[string]voice.ToolFunc
	ready   chan string
	closed  chan struct{}
	writeMu sync.Mutex

	closeOnce  sync.Once
	closedByUs bool
	readyOnce  sync.Once
}

// NewConvAIClient creates an idle client.
func NewConvAIClient(cfg ConvAIConfig) *ConvAIClient {
	if cfg.WSBase == "" {
		cfg.WSBase = DefaultConvAIBase
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ConvAIClient{
		cfg:    cfg,
		logger: cfg.Logger,
		events: make(chan voice.Event, 64),
		audio:  make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

// Events implements voice.Client.
func (c *ConvAIClient) Events() <-chan voice.Event {
	return c.events
}

// Audio delivers decoded agent audio chunks.
func (c *ConvAIClient) Audio() <-chan []byte {
	return c.audio
}

// StartSession dials the conversation socket, sends the language override
// and waits for the conversation id.
func (c *ConvAIClient) StartSession(ctx context.Context, cfg voice.SessionConfig) (string, error) {
	target, header, err := c.target(cfg)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	prev := c.current
	c.current = nil
	c.mu.Unlock()
	if prev != nil {
		prev.close(true)
	}

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return "", fmt.Errorf("dial conversation: %w (status %d)", err, resp.StatusCode)
		}
		return "", fmt.Errorf("dial conversation: %w", err)
	}

	s := &convSession{
		conn:   conn,
		tools:  cfg.Tools,
		ready:  make(chan string, 1),
		closed: make(chan struct{}),
	}

	init := map[string]any{"type": "conversation_initiation_client_data"}
	if cfg.Language != "" {
		init["conversation_config_override"] = map[string]any{
			"agent": map[string]any{"language": string(cfg.Language)},
		}
	}
	if err := s.writeJSON(ctx, init); err != nil {
		s.close(true)
		return "", fmt.Errorf("send initiation: %w", err)
	}

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()

	go c.readLoop(s)

	select {
	case id := <-s.ready:
		return id, nil
	case <-s.closed:
		// The metadata may have arrived just before the close.
		select {
		case id := <-s.ready:
			return id, nil
		default:
		}
		return "", errors.New("conversation closed before it started")
	case <-ctx.Done():
		s.close(true)
		return "", ctx.Err()
	}
}

func (c *ConvAIClient) target(cfg voice.SessionConfig) (string, http.Header, error) {
	if cfg.SignedURL != "" {
		return cfg.SignedURL, nil, nil
	}
	if cfg.AgentID == "" {
		return "", nil, voice.ErrNotConfigured
	}
	u, err := url.Parse(c.cfg.WSBase)
	if err != nil {
		return "", nil, fmt.Errorf("invalid conversation ws base url: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", cfg.AgentID)
	u.RawQuery = q.Encode()

	var header http.Header
	if key := strings.TrimSpace(c.cfg.APIKey); key != "" {
		header = http.Header{}
		header.Set("xi-api-key", key)
	}
	return u.String(), header, nil
}

// EndSession closes the running session. It is safe to call repeatedly.
func (c *ConvAIClient) EndSession(context.Context) error {
	c.mu.Lock()
	s := c.current
	c.lastAudio = time.Time{}
	c.mu.Unlock()
	if s != nil {
		s.close(true)
	}
	return nil
}

// SendUserMessage sends a typed message to the agent.
func (c *ConvAIClient) SendUserMessage(ctx context.Context, text string) error {
	return c.send(ctx, map[string]any{"type": "user_message", "text": text})
}

// SendUserActivity tells the agent the user is active.
func (c *ConvAIClient) SendUserActivity(ctx context.Context) error {
	return c.send(ctx, map[string]any{"type": "user_activity"})
}

// SendAudio forwards a chunk of microphone audio.
func (c *ConvAIClient) SendAudio(ctx context.Context, chunk []byte) error {
	return c.send(ctx, map[string]any{"user_audio_chunk": base64.StdEncoding.EncodeToString(chunk)})
}

// IsSpeaking reports whether agent audio arrived recently.
func (c *ConvAIClient) IsSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastAudio.IsZero() && time.Since(c.lastAudio) < speakingHold
}

// Close ends the session and stops event delivery.
func (c *ConvAIClient) Close() error {
	_ = c.EndSession(context.Background())
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *ConvAIClient) send(ctx context.Context, payload any) error {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return ErrNoSession
	}
	return s.writeJSON(ctx, payload)
}

func (c *ConvAIClient) readLoop(s *convSession) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.close(false)
			c.finish(s, err)
			return
		}

		var msg map[string]json.RawMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("Ignoring malformed conversation message", "error", err)
			continue
		}

		switch decodeString(msg["type"]) {
		case "conversation_initiation_metadata":
			id := nestedString(msg["conversation_initiation_metadata_event"], "conversation_id")
			s.readyOnce.Do(func() {
				s.ready <- id
			})
			c.emit(s, voice.Event{Kind: voice.EventConnect})

		case "ping":
			var ping struct {
				EventID json.RawMessage `json:"event_id"`
			}
			_ = json.Unmarshal(msg["ping_event"], &ping)
			if err := s.writeJSON(context.Background(), map[string]any{"type": "pong", "event_id": ping.EventID}); err != nil {
				c.logger.Debug("Failed to answer ping", "error", err)
			}

		case "audio":
			c.handleAudio(s, nestedString(msg["audio_event"], "audio_base_64"))

		case "interruption":
			c.mu.Lock()
			c.lastAudio = time.Time{}
			c.mu.Unlock()
			c.emit(s, voice.Event{Kind: voice.EventMessage, Payload: data})

		case "client_tool_call":
			c.handleToolCall(s, msg["client_tool_call"])

		default:
			c.emit(s, voice.Event{Kind: voice.EventMessage, Payload: data})
		}
	}
}

func (c *ConvAIClient) handleAudio(s *convSession, encoded string) {
	if encoded == "" {
		return
	}
	chunk, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		c.logger.Debug("Ignoring invalid audio chunk", "error", err)
		return
	}

	c.mu.Lock()
	current := c.current == s
	if current {
		c.lastAudio = time.Now()
	}
	c.mu.Unlock()
	if !current {
		return
	}

	select {
	case c.audio <- chunk:
	default:
		c.logger.Warn("Agent audio queue full, dropping chunk", "bytes", len(chunk))
	}
}

func (c *ConvAIClient) handleToolCall(s *convSession, raw json.RawMessage) {
	var call struct {
		ToolName   string          `json:"tool_name"`
		ToolCallID string          `json:"tool_call_id"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(raw, &call); err != nil || call.ToolCallID == "" {
		c.logger.Warn("Ignoring malformed tool call", "error", err)
		return
	}

	fn, ok := s.tools[call.ToolName]
	if !ok {
		c.logger.Warn("Agent called unknown tool", "tool", call.ToolName)
		_ = s.writeJSON(context.Background(), map[string]any{
			"type":         "client_tool_result",
			"tool_call_id": call.ToolCallID,
			"result":       fmt.Sprintf("Unknown tool: %s", call.ToolName),
			"is_error":     true,
		})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), toolCallTimeout)
		defer cancel()
		result := fn(ctx, call.Parameters)
		if err := s.writeJSON(ctx, map[string]any{
			"type":         "client_tool_result",
			"tool_call_id": call.ToolCallID,
			"result":       result,
			"is_error":     false,
		}); err != nil {
			c.logger.Warn("Failed to send tool result", "tool", call.ToolName, "error", err)
		}
	}()
}

// finish reports the end of a session that is still current. Sessions we
// replaced are silent. A dropped socket is a disconnect, not a client error;
// the close reason rides along for logging.
func (c *ConvAIClient) finish(s *convSession, err error) {
	c.mu.Lock()
	current := c.current == s
	if current {
		c.lastAudio = time.Time{}
	}
	c.mu.Unlock()
	if !current {
		return
	}

	ev := voice.Event{Kind: voice.EventDisconnect}
	if !s.wasClosedByUs() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.logger.Warn("Conversation socket closed abnormally", "error", err)
		ev.Err = err
	}
	c.emit(s, ev)
}

func (c *ConvAIClient) emit(s *convSession, ev voice.Event) {
	c.mu.Lock()
	current := c.current == s
	c.mu.Unlock()
	if !current {
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (s *convSession) writeJSON(ctx context.Context, payload any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	} else {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	return s.conn.WriteJSON(payload)
}

func (s *convSession) close(byUs bool) {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.closedByUs = byUs
		if byUs {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		s.writeMu.Unlock()
		close(s.closed)
		_ = s.conn.Close()
	})
}

func (s *convSession) wasClosedByUs() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.closedByUs
}

func nestedString(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	return decodeString(obj[key])
}

func decodeString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}
