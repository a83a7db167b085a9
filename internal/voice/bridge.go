package voice

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ashureev/onboarding-voice/internal/backend"
)

// Replies returned to the remote agent.
const (
	ReplyNoSession       = "No active session found."
	ReplySubmitFailed    = "Failed to submit the question."
	ReplySubmitted       = "Question submitted."
	DefaultQuestionScope = "Captured from ElevenLabs agent"
)

// QuestionParams are the arguments of the submitQuestion tool.
type QuestionParams struct {
	Question string  `json:"question"`
	Context  *string `json:"context,omitempty"`
}

// QuestionBridge lets the remote agent file a question for HR. It never
// fails: every outcome is a reply string.
type QuestionBridge struct {
	conversationID func() string
	backend        QuestionSubmitter
	logger         *slog.Logger
}

// NewQuestionBridge creates a bridge. conversationID returns the bound
// backend conversation id, or "" while none is bound.
func NewQuestionBridge(conversationID func() string, b QuestionSubmitter, logger *slog.Logger) *QuestionBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuestionBridge{conversationID: conversationID, backend: b, logger: logger}
}

// Submit forwards a question to the backend and returns the reply for the agent.
func (b *QuestionBridge) Submit(ctx context.Context, p QuestionParams) string {
	id := b.conversationID()
	if id == "" {
		return ReplyNoSession
	}

	req := backend.QuestionRequest{Question: p.Question, Context: DefaultQuestionScope}
	if p.Context != nil {
		req.Context = *p.Context
	}

	resp, err := b.backend.SubmitQuestion(ctx, id, req)
	if err != nil {
		b.logger.Warn("Failed to submit question", "conversation_id", id, "error", err)
		return ReplySubmitFailed
	}
	if resp == nil || resp.Message == "" {
		return ReplySubmitted
	}
	return resp.Message
}

// Tool exposes Submit as a client tool.
func (b *QuestionBridge) Tool() ToolFunc {
	return func(ctx context.Context, params json.RawMessage) string {
		var p QuestionParams
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				b.logger.Warn("Malformed question tool parameters", "error", err)
				return ReplySubmitFailed
			}
		}
		return b.Submit(ctx, p)
	}
}
