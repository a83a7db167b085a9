// Package transcript holds the ordered in-memory message log of one
// conversation and mirrors it to the backend and the local journal.
package transcript

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/onboarding-voice/internal/domain"
	"github.com/google/uuid"
)

// DefaultMirrorTimeout bounds each remote mirror call.
const DefaultMirrorTimeout = 10 * time.Second

// Mirror persists log entries remotely.
type Mirror interface {
	MirrorMessage(ctx context.Context, conversationID string, msg domain.ConversationMessage) error
}

// Log is an append-only sequence of conversation messages. The only permitted
// mutation is CorrectLastAgentMessage.
//
// The in-memory order is authoritative. Mirror calls are fire-and-forget and
// may complete in any order.
type Log struct {
	mu      sync.Mutex
	entries []domain.ConversationMessage
	conv    domain.ConversationSession
	closed  bool

	mirror        Mirror
	mirrorTimeout time.Duration
	journal       *journalWriter
	sessionToken  string
	visitID       string
	now           func() time.Time
	logger        *slog.Logger
	wg            sync.WaitGroup
}

// Option configures a Log.
type Option func(*Log)

// WithJournal records every append and correction to a local journal.
// visitID keeps this log's entries apart from other visits that resume the
// same conversation; empty generates one.
func WithJournal(j Journal, sessionToken, visitID string, queueSize int) Option {
	return func(l *Log) {
		if j == nil {
			return
		}
		if visitID == "" {
			visitID = uuid.NewString()
		}
		l.sessionToken = sessionToken
		l.visitID = visitID
		l.journal = newJournalWriter(j, queueSize, l.logger)
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// WithLogger sets the logger. Apply it before WithJournal.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// WithMirrorTimeout bounds each mirror call.
func WithMirrorTimeout(d time.Duration) Option {
	return func(l *Log) {
		l.mirrorTimeout = d
	}
}

// New creates an empty log. mirror may be nil.
func New(mirror Mirror, opts ...Option) *Log {
	l := &Log{
		mirror:        mirror,
		mirrorTimeout: DefaultMirrorTimeout,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Bind attaches the backend conversation id. It is write-once.
func (l *Log) Bind(conversationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.conv.BindBackend(conversationID); err != nil {
		return err
	}
	l.enqueueLocked(journalOp{
		kind: opUpsert,
		conversation: domain.JournalConversation{
			ConversationID: conversationID,
			SessionToken:   l.sessionToken,
			Status:         "active",
		},
	})
	return nil
}

// BindExternal attaches the external voice session id. It is write-once.
func (l *Log) BindExternal(externalID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.conv.BindExternal(externalID); err != nil {
		return err
	}
	if id := l.conv.BackendID(); id != "" {
		l.enqueueLocked(journalOp{
			kind:         opUpsert,
			conversation: domain.JournalConversation{ConversationID: id, ExternalID: externalID},
		})
	}
	return nil
}

// MarkStatus records a conversation status change in the journal.
func (l *Log) MarkStatus(status string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id := l.conv.BackendID(); id != "" {
		l.enqueueLocked(journalOp{
			kind:         opUpsert,
			conversation: domain.JournalConversation{ConversationID: id, Status: status},
		})
	}
}

// ConversationID returns the bound backend conversation id, or "".
func (l *Log) ConversationID() string {
	return l.conv.BackendID()
}

// ExternalID returns the bound external session id, or "".
func (l *Log) ExternalID() string {
	return l.conv.ExternalID()
}

// Append adds a message stamped with the current time. When a conversation
// is bound the message is mirrored in the background; mirror failures are
// logged and otherwise ignored.
func (l *Log) Append(speaker domain.Speaker, text string) domain.ConversationMessage {
	l.mu.Lock()
	msg := domain.ConversationMessage{Speaker: speaker, Text: text, Timestamp: l.now()}
	seq := len(l.entries)
	l.entries = append(l.entries, msg)

	id := l.conv.BackendID()
	mirror := id != "" && !l.closed && l.mirror != nil
	if id != "" {
		l.enqueueLocked(journalOp{
			kind: opAppend,
			message: domain.JournalMessage{
				ConversationID: id,
				VisitID:        l.visitID,
				Seq:            seq,
				Speaker:        msg.Speaker,
				Text:           msg.Text,
				Timestamp:      msg.Timestamp,
			},
		})
	}
	if mirror {
		l.wg.Add(1)
	}
	l.mu.Unlock()

	if mirror {
		go l.mirrorMessage(id, msg)
	}
	return msg
}

func (l *Log) mirrorMessage(conversationID string, msg domain.ConversationMessage) {
	defer l.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), l.mirrorTimeout)
	defer cancel()

	if err := l.mirror.MirrorMessage(ctx, conversationID, msg); err != nil {
		l.logger.Warn("Failed to mirror message",
			"conversation_id", conversationID,
			"speaker", msg.Speaker,
			"error", err,
		)
	}
}

// CorrectLastAgentMessage replaces the text of the most recent agent message.
// It scans from the end, so the worst case is O(n). It reports whether an
// entry was corrected; with no agent entry it is a no-op.
//
// Corrections are journaled locally but never re-sent to the remote mirror.
func (l *Log) CorrectLastAgentMessage(text string) bool {
	l.mu.Lock()
	seq := -1
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Speaker == domain.SpeakerAgent {
			l.entries[i].Text = text
			seq = i
			break
		}
	}
	if seq >= 0 {
		if id := l.conv.BackendID(); id != "" {
			l.enqueueLocked(journalOp{
				kind:    opCorrect,
				message: domain.JournalMessage{ConversationID: id, VisitID: l.visitID, Seq: seq, Text: text, Corrected: true},
			})
		}
	}
	l.mu.Unlock()

	return seq >= 0
}

// Snapshot returns a copy of the entries in order.
func (l *Log) Snapshot() []domain.ConversationMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ConversationMessage, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Wait blocks until in-flight mirror calls finish.
func (l *Log) Wait() {
	l.wg.Wait()
}

// Close stops mirroring, waits for in-flight mirror calls and flushes the
// journal. Entries appended afterwards stay local.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.wg.Wait()
	if l.journal != nil {
		return l.journal.Close()
	}
	return nil
}

// enqueueLocked must be called with l.mu held so journal order matches log order.
func (l *Log) enqueueLocked(op journalOp) {
	if l.journal == nil || l.closed {
		return
	}
	l.journal.enqueue(op)
}
