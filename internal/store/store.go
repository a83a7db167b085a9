// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/onboarding-voice/internal/domain"
)

// Repository defines the interface for the local conversation journal.
type Repository interface {
	// UpsertConversation creates or updates a conversation record. Empty
	// fields keep their stored value.
	UpsertConversation(ctx context.Context, c domain.JournalConversation) error

	// GetConversation retrieves a conversation by backend id. Returns nil
	// when the conversation is unknown.
	GetConversation(ctx context.Context, conversationID string) (*domain.JournalConversation, error)

	// AppendMessage records a message at its visit's log position.
	AppendMessage(ctx context.Context, m domain.JournalMessage) error

	// CorrectMessage replaces the text of the message a visit recorded at
	// seq and marks it corrected.
	CorrectMessage(ctx context.Context, visitID string, seq int, text string) error

	// ListMessages returns a conversation's messages, across visits, in the
	// order they were recorded.
	ListMessages(ctx context.Context, conversationID string) ([]domain.JournalMessage, error)

	// DeleteConversationsBefore removes conversations, and their messages,
	// last updated before the cutoff.
	DeleteConversationsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
