package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/onboarding-voice/internal/backend"
	"github.com/ashureev/onboarding-voice/internal/domain"
	"github.com/ashureev/onboarding-voice/internal/transcript"
)

// DefaultConnectTimeout bounds the start sequence plus the wait for the
// client's connect event.
const DefaultConnectTimeout = 30 * time.Second

// Completion values sent when the user ends the call.
const (
	CompletionStatus  = "completed"
	CompletionSummary = "Session ended by user"
)

// Controller errors.
var (
	ErrInvalidSession   = errors.New("session is not valid")
	ErrSessionEnded     = errors.New("conversation has ended")
	ErrNotActive        = errors.New("conversation is not active")
	ErrEndInProgress    = errors.New("end already in progress")
	ErrNotConfigured    = errors.New("neither signed URL nor agent ID configured")
	ErrMicrophoneDenied = errors.New("microphone access denied")
	ErrConnectTimeout   = errors.New("timed out waiting for the voice agent to connect")
)

// AlertKind identifies a user-facing blocking alert.
type AlertKind string

// Alert kinds.
const (
	AlertStartFailed AlertKind = "start_failed"
	AlertEndFailed   AlertKind = "end_failed"
)

// Alert is a blocking, user-visible failure.
type Alert struct {
	Kind   AlertKind
	Detail string
}

// Snapshot is the render state of a controller.
type Snapshot struct {
	Valid       bool
	NewHireName string
	Phase       Phase
	Language    domain.Language
	Messages    []domain.ConversationMessage
	Speaking    bool
	Ending      bool
}

// Listener observes a controller. Callbacks run on the goroutine that caused
// the change and must not call back into the controller synchronously.
type Listener interface {
	OnUpdate(s Snapshot)
	OnAlert(a Alert)
}

type nopListener struct{}

func (nopListener) OnUpdate(Snapshot) {}
func (nopListener) OnAlert(Alert)     {}

// ControllerConfig wires a Controller.
type ControllerConfig struct {
	Session        domain.Session
	Log            *transcript.Log
	Language       *LanguageToggle
	Backend        Backend
	SignedURLs     SignedURLSource
	Client         Client
	Listener       Listener
	Logger         *slog.Logger
	ConnectTimeout time.Duration
}

// Controller runs the phase machine for one page visit. Phase changes only
// go through Next.
type Controller struct {
	session        domain.Session
	log            *transcript.Log
	lang           *LanguageToggle
	backend        Backend
	signer         SignedURLSource
	client         Client
	bridge         *QuestionBridge
	listener       Listener
	logger         *slog.Logger
	connectTimeout time.Duration

	mu           sync.Mutex
	phase        Phase
	ending       bool
	clientClosed bool
	attempt      uint64
	connectTimer *time.Timer
	initialized  *backend.InitializeSessionResponse
}

// NewController creates a controller in PhaseNotStarted.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Listener == nil {
		cfg.Listener = nopListener{}
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Language == nil {
		cfg.Language = NewLanguageToggle(cfg.Session.PreferredLanguage)
	}
	if cfg.Log == nil {
		cfg.Log = transcript.New(nil, transcript.WithLogger(cfg.Logger))
	}

	c := &Controller{
		session:        cfg.Session,
		log:            cfg.Log,
		lang:           cfg.Language,
		backend:        cfg.Backend,
		signer:         cfg.SignedURLs,
		client:         cfg.Client,
		listener:       cfg.Listener,
		logger:         cfg.Logger.With("session_token", cfg.Session.SessionID),
		connectTimeout: cfg.ConnectTimeout,
		phase:          PhaseNotStarted,
	}
	c.bridge = NewQuestionBridge(c.log.ConversationID, cfg.Backend, c.logger)
	return c
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Log returns the message log.
func (c *Controller) Log() *transcript.Log {
	return c.log
}

// Language returns the language toggle.
func (c *Controller) Language() *LanguageToggle {
	return c.lang
}

// Bridge returns the question bridge handed to the client.
func (c *Controller) Bridge() *QuestionBridge {
	return c.bridge
}

// Snapshot returns the current render state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	phase, ending := c.phase, c.ending
	c.mu.Unlock()

	s := Snapshot{
		Valid:       c.session.Valid,
		NewHireName: c.session.NewHireName,
		Phase:       phase,
		Language:    c.lang.Current(),
		Messages:    c.log.Snapshot(),
		Ending:      ending,
	}
	if phase == PhaseActive && c.client != nil {
		s.Speaking = c.client.IsSpeaking()
	}
	return s
}

// Start begins a conversation. It is a no-op while connecting or active.
// The call returns once the client session is started; the move to active
// happens when the client's connect event arrives.
func (c *Controller) Start(ctx context.Context, mic Microphone) error {
	if !c.session.Valid {
		return ErrInvalidSession
	}

	c.mu.Lock()
	switch c.phase {
	case PhaseConnecting, PhaseActive:
		c.mu.Unlock()
		return nil
	case PhaseEnded:
		c.mu.Unlock()
		return ErrSessionEnded
	}
	if !c.transitionLocked(TriggerStart) {
		c.mu.Unlock()
		return nil
	}
	c.attempt++
	attempt := c.attempt
	c.clientClosed = false
	deadline := time.Now().Add(c.connectTimeout)
	c.mu.Unlock()

	c.logger.Info("Starting conversation", "attempt", attempt)
	c.notify()

	startCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if err := c.startSequence(startCtx, mic); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrConnectTimeout, err)
		}
		c.failAttempt(attempt, err)
		return err
	}

	c.mu.Lock()
	if c.attempt == attempt && c.phase == PhaseConnecting {
		c.connectTimer = time.AfterFunc(time.Until(deadline), func() {
			c.connectTimedOut(attempt)
		})
	}
	c.mu.Unlock()
	return nil
}

func (c *Controller) startSequence(ctx context.Context, mic Microphone) error {
	if mic != nil {
		if err := mic.RequestAccess(ctx); err != nil {
			if errors.Is(err, ErrMicrophoneDenied) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrMicrophoneDenied, err)
		}
	}

	init, err := c.initialize(ctx)
	if err != nil {
		return err
	}

	cfg := SessionConfig{
		Language: c.lang.Current(),
		Tools:    map[string]ToolFunc{QuestionToolName: c.bridge.Tool()},
	}
	if signedURL := c.signedURL(ctx); signedURL != "" {
		cfg.SignedURL = signedURL
	} else {
		cfg.AgentID = init.AgentConfig.AgentID
	}
	if cfg.SignedURL == "" && cfg.AgentID == "" {
		return ErrNotConfigured
	}

	method := "agent_id"
	if cfg.SignedURL != "" {
		method = "signed_url"
	}
	c.logger.Info("Starting voice client", "method", method, "language", cfg.Language)

	externalID, err := c.client.StartSession(ctx, cfg)
	if err != nil {
		return fmt.Errorf("start voice session: %w", err)
	}

	c.linkExternal(ctx, externalID)
	return nil
}

// initialize creates the backend conversation record. A visit keeps one
// record, so retries reuse the first successful response.
func (c *Controller) initialize(ctx context.Context) (*backend.InitializeSessionResponse, error) {
	c.mu.Lock()
	cached := c.initialized
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	resp, err := c.backend.InitializeSession(ctx, c.session.SessionID)
	if err != nil {
		return nil, fmt.Errorf("initialize session: %w", err)
	}
	if err := c.log.Bind(resp.ConversationID); err != nil {
		return nil, fmt.Errorf("bind conversation: %w", err)
	}

	c.mu.Lock()
	c.initialized = resp
	c.mu.Unlock()

	c.logger.Info("Conversation initialized", "conversation_id", resp.ConversationID)
	return resp, nil
}

// signedURL asks the proxy once. Any failure means fall back to the agent id.
func (c *Controller) signedURL(ctx context.Context) string {
	if c.signer == nil {
		return ""
	}
	u, err := c.signer.SignedURL(ctx)
	if err != nil {
		c.logger.Warn("Could not get signed URL, falling back to agent id", "error", err)
		return ""
	}
	return strings.TrimSpace(u)
}

// linkExternal binds and reports the external id. Failures are absorbed.
func (c *Controller) linkExternal(ctx context.Context, externalID string) {
	if externalID == "" {
		return
	}
	if err := c.log.BindExternal(externalID); err != nil {
		c.logger.Warn("External session not linked", "external_id", externalID, "error", err)
		return
	}
	if err := c.backend.LinkExternal(ctx, c.log.ConversationID(), externalID); err != nil {
		c.logger.Warn("Failed to link external session",
			"conversation_id", c.log.ConversationID(),
			"external_id", externalID,
			"error", err,
		)
	}
}

func (c *Controller) failAttempt(attempt uint64, err error) {
	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		return
	}
	// A disconnect or error event may already have failed this attempt.
	c.transitionLocked(TriggerFail)
	c.mu.Unlock()

	c.logger.Error("Failed to start session", "attempt", attempt, "error", err)
	c.listener.OnAlert(Alert{Kind: AlertStartFailed, Detail: err.Error()})
	c.notify()
}

func (c *Controller) connectTimedOut(attempt uint64) {
	c.mu.Lock()
	if c.attempt != attempt || c.phase != PhaseConnecting {
		c.mu.Unlock()
		return
	}
	c.clientClosed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.EndSession(ctx); err != nil {
		c.logger.Warn("Failed to close timed out session", "error", err)
	}
	c.failAttempt(attempt, ErrConnectTimeout)
}

// HandleEvent applies one client event.
func (c *Controller) HandleEvent(ev Event) {
	switch ev.Kind {
	case EventConnect:
		c.mu.Lock()
		changed := c.transitionLocked(TriggerConnected)
		c.stopTimerLocked()
		c.mu.Unlock()
		if changed {
			c.logger.Info("Voice client connected", "conversation_id", c.log.ConversationID())
			c.notify()
		}

	case EventDisconnect:
		c.mu.Lock()
		if c.ending || c.clientClosed {
			c.mu.Unlock()
			return
		}
		trigger := TriggerDisconnected
		if c.phase == PhaseConnecting {
			trigger = TriggerFail
		}
		changed := c.transitionLocked(trigger)
		if changed {
			c.stopTimerLocked()
		}
		c.mu.Unlock()
		if changed {
			if ev.Err != nil {
				c.logger.Warn("Voice client connection dropped", "conversation_id", c.log.ConversationID(), "error", ev.Err)
			} else {
				c.logger.Info("Voice client disconnected", "conversation_id", c.log.ConversationID())
			}
			c.notify()
		}

	case EventError:
		c.logger.Error("Voice client error", "conversation_id", c.log.ConversationID(), "error", ev.Err)
		c.mu.Lock()
		if c.ending || c.clientClosed {
			c.mu.Unlock()
			return
		}
		changed := c.transitionLocked(TriggerFail)
		if changed {
			c.stopTimerLocked()
		}
		c.mu.Unlock()
		if changed {
			c.notify()
		}

	case EventMessage:
		c.handleMessage(ev.Payload)
	}
}

func (c *Controller) handleMessage(payload []byte) {
	action := Classify(payload)
	if action.Kind == ActionIgnore {
		return
	}
	if action.Kind == ActionCorrect {
		if !c.log.CorrectLastAgentMessage(action.Text) {
			return
		}
		c.notify()
		return
	}
	if c.log.ConversationID() == "" {
		c.logger.Warn("Dropping message received before conversation was initialized", "speaker", action.Speaker)
		return
	}
	if action.AgentError {
		c.logger.Error("Voice agent error event", "conversation_id", c.log.ConversationID(), "message", action.Text)
	}
	c.log.Append(action.Speaker, action.Text)
	c.notify()
}

// Run consumes client events until ctx is done or the channel closes.
func (c *Controller) Run(ctx context.Context) {
	events := c.client.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.HandleEvent(ev)
		}
	}
}

// End closes the client and then marks the backend record complete. On
// failure the phase is unchanged, an alert is raised and End may be retried.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	if c.ending {
		c.mu.Unlock()
		return ErrEndInProgress
	}
	conversationID := c.log.ConversationID()
	if c.phase != PhaseActive || conversationID == "" {
		c.mu.Unlock()
		return ErrNotActive
	}
	c.ending = true
	c.clientClosed = true
	c.mu.Unlock()
	c.notify()

	err := c.client.EndSession(ctx)
	if err != nil {
		err = fmt.Errorf("end voice session: %w", err)
	} else if cerr := c.backend.CompleteSession(ctx, conversationID, CompletionStatus, CompletionSummary); cerr != nil {
		err = fmt.Errorf("complete session: %w", cerr)
	}

	c.mu.Lock()
	c.ending = false
	if err == nil {
		c.transitionLocked(TriggerEnd)
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("Failed to end session", "conversation_id", conversationID, "error", err)
		c.listener.OnAlert(Alert{Kind: AlertEndFailed, Detail: err.Error()})
		c.notify()
		return err
	}

	c.log.MarkStatus(CompletionStatus)
	c.logger.Info("Conversation ended", "conversation_id", conversationID)
	c.notify()
	return nil
}

// AskQuestion sends a typed question to the agent and records it.
func (c *Controller) AskQuestion(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if c.Phase() != PhaseActive {
		return ErrNotActive
	}
	if err := c.client.SendUserMessage(ctx, text); err != nil {
		return fmt.Errorf("send question: %w", err)
	}
	c.log.Append(domain.SpeakerNewHire, text)
	c.notify()
	return nil
}

// NotifyTyping tells the agent the user is typing. Failures are logged.
func (c *Controller) NotifyTyping(ctx context.Context) {
	if c.Phase() != PhaseActive {
		return
	}
	if err := c.client.SendUserActivity(ctx); err != nil {
		c.logger.Debug("Failed to send user activity", "error", err)
	}
}

// IsSpeaking reports whether the agent is currently speaking.
func (c *Controller) IsSpeaking() bool {
	if c.Phase() != PhaseActive {
		return false
	}
	return c.client.IsSpeaking()
}

// SetLanguage switches the display language. A running call keeps the
// language it started with.
func (c *Controller) SetLanguage(lang domain.Language) {
	c.lang.Set(lang)
	c.notify()
}

// ToggleLanguage switches to the other language.
func (c *Controller) ToggleLanguage() {
	c.lang.Toggle()
	c.notify()
}

// Close stops timers. It does not touch the client.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopTimerLocked()
	c.attempt++
	c.mu.Unlock()
}

func (c *Controller) transitionLocked(t Trigger) bool {
	next, ok := Next(c.phase, t)
	if !ok {
		return false
	}
	c.logger.Debug("Phase transition", "from", c.phase, "to", next, "trigger", t)
	c.phase = next
	return true
}

func (c *Controller) stopTimerLocked() {
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
}

func (c *Controller) notify() {
	c.listener.OnUpdate(c.Snapshot())
}
