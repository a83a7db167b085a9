package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/onboarding-voice/internal/domain"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrMessageNotFound is returned when a correction targets an unrecorded message.
var ErrMessageNotFound = errors.New("journal message not found")

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository and applies pending
// migrations.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		slog.Info("Applied journal migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertConversation creates or updates a conversation record.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, c domain.JournalConversation) error {
	if c.ConversationID == "" {
		return fmt.Errorf("upsert conversation: empty conversation id")
	}

	query := `
	INSERT INTO journal_conversations (conversation_id, external_id, session_token, status, created_at, updated_at)
	VALUES (?, NULLIF(?, ''), ?, ?, ?, ?)
	ON CONFLICT(conversation_id) DO UPDATE SET
		external_id = COALESCE(excluded.external_id, journal_conversations.external_id),
		session_token = COALESCE(NULLIF(excluded.session_token, ''), journal_conversations.session_token),
		status = COALESCE(NULLIF(excluded.status, ''), journal_conversations.status),
		updated_at = excluded.updated_at`

	now := time.Now()
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	return withRetry(ctx, "upsert conversation", func() error {
		_, err := s.db.ExecContext(ctx, query,
			c.ConversationID, c.ExternalID, c.SessionToken, c.Status,
			createdAt.UnixMilli(), updatedAt.UnixMilli(),
		)
		return err
	})
}

// GetConversation retrieves a conversation by backend id.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.JournalConversation, error) {
	query := `
		SELECT conversation_id, external_id, session_token, status, created_at, updated_at
		FROM journal_conversations WHERE conversation_id = ?`

	row := s.db.QueryRowContext(ctx, query, conversationID)

	var c domain.JournalConversation
	var externalID sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&c.ConversationID, &externalID, &c.SessionToken, &c.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	c.ExternalID = externalID.String
	c.CreatedAt = time.UnixMilli(createdAt)
	c.UpdatedAt = time.UnixMilli(updatedAt)

	return &c, nil
}

// AppendMessage records a message at its visit's log position. Replaying the
// same position overwrites it; other visits of the conversation are untouched.
func (s *SQLiteStore) AppendMessage(ctx context.Context, m domain.JournalMessage) error {
	if m.VisitID == "" {
		return fmt.Errorf("append message: empty visit id")
	}
	query := `
	INSERT INTO journal_messages (conversation_id, visit_id, seq, speaker, text, corrected, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(visit_id, seq) DO UPDATE SET
		speaker = excluded.speaker,
		text = excluded.text,
		corrected = excluded.corrected,
		created_at = excluded.created_at`

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return withRetry(ctx, "append message", func() error {
		_, err := s.db.ExecContext(ctx, query,
			m.ConversationID, m.VisitID, m.Seq, string(m.Speaker), m.Text, m.Corrected, ts.UnixMilli(),
		)
		return err
	})
}

// CorrectMessage replaces the text of the message a visit recorded at seq.
func (s *SQLiteStore) CorrectMessage(ctx context.Context, visitID string, seq int, text string) error {
	query := `UPDATE journal_messages SET text = ?, corrected = 1 WHERE visit_id = ? AND seq = ?`

	var rows int64
	err := withRetry(ctx, "correct message", func() error {
		result, err := s.db.ExecContext(ctx, query, text, visitID, seq)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("correct message %s/%d: %w", visitID, seq, ErrMessageNotFound)
	}
	return nil
}

// ListMessages returns a conversation's messages across all of its visits in
// the order they were recorded.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]domain.JournalMessage, error) {
	query := `
		SELECT conversation_id, visit_id, seq, speaker, text, corrected, created_at
		FROM journal_messages WHERE conversation_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close journal message rows", "error", closeErr)
		}
	}()

	var messages []domain.JournalMessage
	for rows.Next() {
		var m domain.JournalMessage
		var speaker string
		var createdAt int64

		if err := rows.Scan(&m.ConversationID, &m.VisitID, &m.Seq, &speaker, &m.Text, &m.Corrected, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		m.Speaker = domain.Speaker(speaker)
		m.Timestamp = time.UnixMilli(createdAt)
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// DeleteConversationsBefore removes conversations last updated before cutoff
// along with their messages.
func (s *SQLiteStore) DeleteConversationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := withRetry(ctx, "delete conversations", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		threshold := cutoff.UnixMilli()
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM journal_messages WHERE conversation_id IN (
				SELECT conversation_id FROM journal_conversations WHERE updated_at < ?
			)`, threshold); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM journal_conversations WHERE updated_at < ?`, threshold)
		if err != nil {
			return err
		}
		if deleted, err = result.RowsAffected(); err != nil {
			return err
		}
		return tx.Commit()
	})
	return deleted, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
