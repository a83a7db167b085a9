package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/onboarding-voice/internal/backend"
	"github.com/ashureev/onboarding-voice/internal/domain"
	"github.com/go-chi/chi/v5"
)

// TranscriptSource reads the authoritative transcript from the backend.
type TranscriptSource interface {
	GetTranscript(ctx context.Context, conversationID string) (*backend.Transcript, error)
}

// JournalReader reads the local conversation journal.
type JournalReader interface {
	GetConversation(ctx context.Context, conversationID string) (*domain.JournalConversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]domain.JournalMessage, error)
}

// ConversationHandler exposes conversation transcripts for HR review.
type ConversationHandler struct {
	transcripts TranscriptSource
	journal     JournalReader
	auth        Authenticator
}

// NewConversationHandler creates the handler. journal may be nil when the
// local journal is disabled. Every route requires an HR bearer token that
// auth accepts.
func NewConversationHandler(transcripts TranscriptSource, journal JournalReader, auth Authenticator) *ConversationHandler {
	return &ConversationHandler{transcripts: transcripts, journal: journal, auth: auth}
}

// RegisterRoutes registers conversation routes.
func (h *ConversationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/conversations/{conversationID}", func(r chi.Router) {
		r.Use(RequireHR(h.auth))
		r.Get("/transcript", h.Transcript)
		if h.journal != nil {
			r.Get("/journal", h.Journal)
		}
	})
}

// Transcript forwards to the backend transcript endpoint.
func (h *ConversationHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	t, err := h.transcripts.GetTranscript(r.Context(), id)
	if err != nil {
		var statusErr *backend.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			Error(w, http.StatusNotFound, "Conversation not found")
			return
		}
		if isAuthRejection(err) {
			Error(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		slog.Error("Failed to fetch transcript", "conversation_id", id, "error", err)
		Error(w, http.StatusBadGateway, "Failed to fetch transcript")
		return
	}

	JSON(w, http.StatusOK, t)
}

type journalMessageResponse struct {
	VisitID   string    `json:"visit_id"`
	Seq       int       `json:"seq"`
	Speaker   string    `json:"speaker"`
	Message   string    `json:"message"`
	Corrected bool      `json:"corrected"`
	Timestamp time.Time `json:"timestamp"`
}

type journalResponse struct {
	ConversationID string                   `json:"conversation_id"`
	ExternalID     string                   `json:"elevenlabs_conversation_id,omitempty"`
	Status         string                   `json:"status"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
	Messages       []journalMessageResponse `json:"messages"`
}

// Journal returns the locally journaled copy of a conversation, including
// agent corrections the backend never received.
func (h *ConversationHandler) Journal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	conv, err := h.journal.GetConversation(r.Context(), id)
	if err != nil {
		slog.Error("Failed to read journal", "conversation_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to read journal")
		return
	}
	if conv == nil {
		Error(w, http.StatusNotFound, "Conversation not found")
		return
	}

	msgs, err := h.journal.ListMessages(r.Context(), id)
	if err != nil {
		slog.Error("Failed to read journal messages", "conversation_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to read journal")
		return
	}

	resp := journalResponse{
		ConversationID: conv.ConversationID,
		ExternalID:     conv.ExternalID,
		Status:         conv.Status,
		CreatedAt:      conv.CreatedAt,
		UpdatedAt:      conv.UpdatedAt,
		Messages:       make([]journalMessageResponse, 0, len(msgs)),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, journalMessageResponse{
			VisitID:   m.VisitID,
			Seq:       m.Seq,
			Speaker:   string(m.Speaker),
			Message:   m.Text,
			Corrected: m.Corrected,
			Timestamp: m.Timestamp,
		})
	}

	JSON(w, http.StatusOK, resp)
}
