package voice

import (
	"context"
	"encoding/json"

	"github.com/ashureev/onboarding-voice/internal/backend"
	"github.com/ashureev/onboarding-voice/internal/domain"
)

// QuestionToolName is the client tool the remote agent calls to file a question.
const QuestionToolName = "submitQuestion"

// ToolFunc handles a client tool call from the remote agent. It always
// returns a string for the agent to speak or display.
type ToolFunc func(ctx context.Context, params json.RawMessage) string

// SessionConfig starts an external session. Exactly one of SignedURL and
// AgentID is set.
type SessionConfig struct {
	SignedURL string
	AgentID   string
	Language  domain.Language
	Tools     map[string]ToolFunc
}

// Client is the external real-time conversational client. Events is one
// channel for the lifetime of the client, shared by successive sessions.
type Client interface {
	StartSession(ctx context.Context, cfg SessionConfig) (string, error)
	EndSession(ctx context.Context) error
	SendUserMessage(ctx context.Context, text string) error
	SendUserActivity(ctx context.Context) error
	IsSpeaking() bool
	Events() <-chan Event
}

// Backend is the subset of the onboarding API the controller uses.
type Backend interface {
	InitializeSession(ctx context.Context, token string) (*backend.InitializeSessionResponse, error)
	CompleteSession(ctx context.Context, conversationID, status, summary string) error
	LinkExternal(ctx context.Context, conversationID, externalID string) error
	QuestionSubmitter
}

// QuestionSubmitter files questions against a conversation.
type QuestionSubmitter interface {
	SubmitQuestion(ctx context.Context, conversationID string, q backend.QuestionRequest) (*backend.QuestionResponse, error)
}

// SignedURLSource hands out signed connection URLs.
type SignedURLSource interface {
	SignedURL(ctx context.Context) (string, error)
}

// Microphone requests audio capture permission.
type Microphone interface {
	RequestAccess(ctx context.Context) error
}

// MicrophoneFunc adapts a function to Microphone.
type MicrophoneFunc func(ctx context.Context) error

// RequestAccess calls f.
func (f MicrophoneFunc) RequestAccess(ctx context.Context) error {
	return f(ctx)
}
