package backend

import "time"

// NewHire is the new hire profile attached to a session.
type NewHire struct {
	ID                string `json:"id"`
	FullName          string `json:"full_name"`
	PreferredLanguage string `json:"preferred_language"`
	Status            string `json:"status,omitempty"`
}

// ValidateSessionResponse is returned by GET /auth/validate-session/{id}.
type ValidateSessionResponse struct {
	Valid     bool     `json:"valid"`
	NewHire   *NewHire `json:"new_hire,omitempty"`
	ExpiresAt string   `json:"expires_at,omitempty"`
}

// AgentConfig describes how to reach the conversational agent.
type AgentConfig struct {
	AgentID   string `json:"agent_id,omitempty"`
	Language  string `json:"language,omitempty"`
	VoiceID   string `json:"voice_id,omitempty"`
	SignedURL string `json:"signed_url,omitempty"`
}

// InitializeSessionRequest starts a backend conversation record.
type InitializeSessionRequest struct {
	SessionID string `json:"session_id"`
}

// InitializeSessionResponse is returned by POST /voice/sessions/initialize.
type InitializeSessionResponse struct {
	ConversationID      string         `json:"conversation_id"`
	NewHire             *NewHire       `json:"new_hire,omitempty"`
	AgentConfig         AgentConfig    `json:"agent_config"`
	ConversationContext map[string]any `json:"conversation_context,omitempty"`
}

// StoreMessageRequest mirrors one log entry to the backend.
type StoreMessageRequest struct {
	Speaker   string    `json:"speaker"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// QuestionRequest submits a question captured during the conversation.
type QuestionRequest struct {
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
}

// QuestionResponse confirms a submitted question.
type QuestionResponse struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

// CompleteRequest marks a conversation complete.
type CompleteRequest struct {
	CompletionStatus string `json:"completion_status"`
	Summary          string `json:"summary"`
}

// LinkExternalRequest attaches the external voice session id.
type LinkExternalRequest struct {
	ExternalConversationID string `json:"elevenlabs_conversation_id"`
}

// TranscriptMessage is one message of a stored transcript.
type TranscriptMessage struct {
	Speaker   string  `json:"speaker"`
	Message   string  `json:"message"`
	Timestamp *string `json:"timestamp,omitempty"`
	AudioURL  *string `json:"audio_url,omitempty"`
}

// Transcript is returned by GET /voice/conversations/{id}/transcript.
type Transcript struct {
	ConversationID  string              `json:"conversation_id"`
	NewHireName     string              `json:"new_hire_name"`
	StartTime       string              `json:"start_time"`
	EndTime         *string             `json:"end_time,omitempty"`
	DurationSeconds *float64            `json:"duration_seconds,omitempty"`
	Language        string              `json:"language"`
	Messages        []TranscriptMessage `json:"messages"`
	FullTranscript  *string             `json:"full_transcript,omitempty"`
	Summary         *string             `json:"summary,omitempty"`
	SentimentScore  *float64            `json:"sentiment_score,omitempty"`
}
