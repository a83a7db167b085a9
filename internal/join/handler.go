// Package join serves the new hire join page and the socket that drives a
// voice onboarding session from the browser.
package join

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/onboarding-voice/internal/domain"
	"github.com/ashureev/onboarding-voice/internal/page"
	"github.com/ashureev/onboarding-voice/internal/visit"
	"github.com/ashureev/onboarding-voice/internal/voice"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

const (
	readLimit       = 1 << 20
	speakingPoll    = 200 * time.Millisecond
	commandTimeout  = 15 * time.Second
	alertQueueSize  = 8
	validateTimeout = 15 * time.Second
)

// Validator checks a session token once per page load.
type Validator interface {
	Validate(ctx context.Context, token string) domain.Session
}

// Config wires a Handler.
type Config struct {
	Validator Validator
	Visits    *visit.Manager
	Deps      visit.Deps
	Renderer  *page.Renderer
	// AllowedOrigins are extra origins allowed to open the socket. The join
	// page's own origin is always allowed. Empty or "*" allows any origin.
	AllowedOrigins []string
	IsDev          bool
	Logger         *slog.Logger
}

// Handler serves GET /join/{sessionToken} and GET /ws/join/{sessionToken}.
type Handler struct {
	validator      Validator
	visits         *visit.Manager
	deps           visit.Deps
	renderer       *page.Renderer
	originPatterns []string
	anyOrigin      bool
	isDev          bool
	logger         *slog.Logger
}

// NewHandler creates a join handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	patterns, anyOrigin := originHosts(cfg.AllowedOrigins)
	return &Handler{
		validator:      cfg.Validator,
		visits:         cfg.Visits,
		deps:           cfg.Deps,
		renderer:       cfg.Renderer,
		originPatterns: patterns,
		anyOrigin:      anyOrigin,
		isDev:          cfg.IsDev,
		logger:         cfg.Logger,
	}
}

// originHosts turns origins such as "https://hr.example.com/" into host
// patterns. anyOrigin is true for an empty list or "*".
func originHosts(origins []string) (patterns []string, anyOrigin bool) {
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		if o == "*" {
			return nil, true
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		patterns = append(patterns, strings.ToLower(o))
	}
	return patterns, len(patterns) == 0
}

// RegisterRoutes registers join routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/join/{sessionToken}", h.ServePage)
	r.Get("/ws/join/{sessionToken}", h.ServeWS)
}

// ServePage validates the token and renders the join page.
func (h *Handler) ServePage(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "sessionToken")

	ctx, cancel := context.WithTimeout(r.Context(), validateTimeout)
	defer cancel()
	session := h.validator.Validate(ctx, token)

	var visitID string
	if session.Valid {
		visitID = h.visits.Prepare(session)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := h.renderer.RenderPage(w, token, visitID, initialSnapshot(session)); err != nil {
		h.logger.Error("Failed to render join page", "session_token", token, "error", err)
	}
}

func initialSnapshot(s domain.Session) voice.Snapshot {
	return voice.Snapshot{
		Valid:       s.Valid,
		NewHireName: s.NewHireName,
		Phase:       voice.PhaseNotStarted,
		Language:    s.PreferredLanguage,
	}
}

// inbound is a browser command.
type inbound struct {
	Type       string `json:"type"`
	Microphone bool   `json:"microphone,omitempty"`
	Language   string `json:"language,omitempty"`
	Text       string `json:"text,omitempty"`
}

type screenMessage struct {
	Type string `json:"type"`
	page.Fragment
}

type alertMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ServeWS upgrades to a socket and runs one visit for its lifetime.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "sessionToken")
	logger := h.logger.With("session_token", token)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	session, claimed := h.visits.Claim(r.URL.Query().Get("visit"), token)
	if !claimed {
		// Stale or reopened page: validate again.
		ctx, cancel := context.WithTimeout(r.Context(), validateTimeout)
		session = h.validator.Validate(ctx, token)
		cancel()
		logger.Info("Visit claim missing, session revalidated", "valid", session.Valid)
	}

	ws, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	ws.SetReadLimit(readLimit)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "visit ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if !session.Valid {
		frag, err := h.renderer.RenderScreen(initialSnapshot(session))
		if err == nil {
			err = writeJSON(ctx, ws, screenMessage{Type: "screen", Fragment: frag})
		}
		if err != nil {
			logger.Debug("Failed to send invalid screen", "error", err)
		}
		return
	}

	out := newOutbox()
	v := h.deps.New(session, out)
	h.visits.Register(v)
	defer func() {
		h.visits.Unregister(v)
		v.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(2)

	// Output loop: visit -> browser.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, v, out, logger)
	}()

	// Input loop: browser -> visit.
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, v, out, logger)
	}()

	wg.Wait()
	logger.Info("Join socket closed", "visit_id", v.ID)
}

// checkOrigin runs before the claim is consumed so a rejected socket leaves
// the page's visit claim in place.
func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev || h.anyOrigin {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && u.Host != "" {
		host := strings.ToLower(u.Host)
		if host == strings.ToLower(r.Host) {
			return true
		}
		for _, p := range h.originPatterns {
			if ok, _ := path.Match(p, host); ok {
				return true
			}
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "host", r.Host, "allowed", h.originPatterns)
	return false
}

func (h *Handler) acceptOptions() *websocket.AcceptOptions {
	if h.isDev || h.anyOrigin {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	// Same host origins are always accepted by websocket.Accept.
	return &websocket.AcceptOptions{OriginPatterns: h.originPatterns}
}

func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn, v *visit.Visit, out *outbox, logger *slog.Logger) {
	// Commands that call out to the network run off the read loop so pings
	// and audio keep flowing.
	var cmds sync.WaitGroup
	defer cmds.Wait()
	async := func(fn func(context.Context)) {
		cmds.Add(1)
		go func() {
			defer cmds.Done()
			fn(ctx)
		}()
	}

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				logger.Debug("WebSocket closed by client")
			} else {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		if typ == websocket.MessageBinary {
			if v.Controller.Phase() != voice.PhaseActive {
				continue
			}
			if err := v.Client.SendAudio(ctx, data); err != nil {
				logger.Debug("Failed to forward microphone audio", "error", err)
			}
			continue
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("Ignoring malformed browser message", "error", err)
			continue
		}

		switch msg.Type {
		case "start":
			granted := msg.Microphone
			async(func(ctx context.Context) {
				mic := voice.MicrophoneFunc(func(context.Context) error {
					if !granted {
						return voice.ErrMicrophoneDenied
					}
					return nil
				})
				if err := v.Controller.Start(ctx, mic); err != nil {
					logger.Debug("Start rejected", "error", err)
				}
			})
		case "end":
			async(func(ctx context.Context) {
				endCtx, cancel := context.WithTimeout(ctx, commandTimeout)
				defer cancel()
				if err := v.Controller.End(endCtx); err != nil {
					logger.Debug("End rejected", "error", err)
				}
			})
		case "ask":
			text := msg.Text
			async(func(ctx context.Context) {
				askCtx, cancel := context.WithTimeout(ctx, commandTimeout)
				defer cancel()
				if err := v.Controller.AskQuestion(askCtx, text); err != nil {
					logger.Warn("Failed to send typed question", "error", err)
				}
			})
		case "typing":
			v.Controller.NotifyTyping(ctx)
		case "language":
			v.Controller.SetLanguage(domain.ParseLanguage(msg.Language))
		case "toggle_language":
			v.Controller.ToggleLanguage()
		case "ping":
			out.pong()
		default:
			logger.Debug("Ignoring unknown browser message", "type", msg.Type)
		}
	}
}

func (h *Handler) outputLoop(ctx context.Context, ws *websocket.Conn, v *visit.Visit, out *outbox, logger *slog.Logger) {
	ticker := time.NewTicker(speakingPoll)
	defer ticker.Stop()

	// The page was rendered by the HTTP request; send the live state once
	// so a revalidated or replaced socket catches up.
	out.markDirty()
	var speaking bool

	for {
		select {
		case <-ctx.Done():
			return
		case <-v.Done():
			logger.Info("Visit closed under socket, disconnecting", "visit_id", v.ID)
			return
		case <-out.dirty:
			snap := v.Controller.Snapshot()
			speaking = snap.Speaking
			frag, err := h.renderer.RenderScreen(snap)
			if err != nil {
				logger.Error("Failed to render screen", "error", err)
				continue
			}
			if err := writeJSON(ctx, ws, screenMessage{Type: "screen", Fragment: frag}); err != nil {
				logger.Debug("Failed to send screen", "error", err)
				return
			}
		case a := <-out.alerts:
			text := h.renderer.AlertText(v.Controller.Language().Current(), a)
			if err := writeJSON(ctx, ws, alertMessage{Type: "alert", Message: text}); err != nil {
				logger.Debug("Failed to send alert", "error", err)
				return
			}
		case <-out.pongs:
			if err := writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				logger.Debug("Failed to send pong", "error", err)
				return
			}
		case chunk := <-v.Client.Audio():
			if err := ws.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				logger.Debug("Failed to relay agent audio", "error", err)
				return
			}
		case <-ticker.C:
			if v.Controller.IsSpeaking() != speaking {
				out.markDirty()
			}
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
