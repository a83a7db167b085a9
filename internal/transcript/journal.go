package transcript

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/onboarding-voice/internal/domain"
)

// Journal is a local, ordered record of a conversation.
type Journal interface {
	UpsertConversation(ctx context.Context, c domain.JournalConversation) error
	AppendMessage(ctx context.Context, m domain.JournalMessage) error
	CorrectMessage(ctx context.Context, visitID string, seq int, text string) error
}

const (
	defaultJournalQueue = 256
	journalOpTimeout    = 5 * time.Second
	journalCloseTimeout = 5 * time.Second
)

type opKind int

const (
	opUpsert opKind = iota
	opAppend
	opCorrect
)

type journalOp struct {
	kind         opKind
	conversation domain.JournalConversation
	message      domain.JournalMessage
}

// journalWriter applies journal operations on a single background goroutine
// so that writes land in the order they were queued. Enqueue never blocks.
type journalWriter struct {
	journal Journal
	ops     chan journalOp
	wg      sync.WaitGroup
	logger  *slog.Logger
	once    sync.Once
}

func newJournalWriter(j Journal, queueSize int, logger *slog.Logger) *journalWriter {
	if queueSize <= 0 {
		queueSize = defaultJournalQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &journalWriter{
		journal: j,
		ops:     make(chan journalOp, queueSize),
		logger:  logger,
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *journalWriter) enqueue(op journalOp) {
	select {
	case w.ops <- op:
	default:
		w.logger.Warn("[JOURNAL] Queue full, dropping entry",
			"conversation_id", op.conversationID(),
			"queue_len", len(w.ops),
		)
	}
}

func (w *journalWriter) run() {
	defer w.wg.Done()

	for op := range w.ops {
		start := time.Now()
		if err := w.apply(op); err != nil {
			w.logger.Warn("[JOURNAL] Write failed",
				"conversation_id", op.conversationID(),
				"error", err,
			)
		}
		if d := time.Since(start); d > 100*time.Millisecond {
			w.logger.Warn("[JOURNAL] Slow write",
				"conversation_id", op.conversationID(),
				"duration_ms", d.Milliseconds(),
			)
		}
	}
}

func (w *journalWriter) apply(op journalOp) error {
	ctx, cancel := context.WithTimeout(context.Background(), journalOpTimeout)
	defer cancel()

	switch op.kind {
	case opUpsert:
		return w.journal.UpsertConversation(ctx, op.conversation)
	case opAppend:
		return w.journal.AppendMessage(ctx, op.message)
	case opCorrect:
		return w.journal.CorrectMessage(ctx, op.message.VisitID, op.message.Seq, op.message.Text)
	}
	return nil
}

// Close flushes queued operations and stops the worker. Callers must not
// enqueue after Close.
func (w *journalWriter) Close() error {
	w.once.Do(func() {
		close(w.ops)
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(journalCloseTimeout):
		w.logger.Warn("[JOURNAL] Flush timeout", "queue_remaining", len(w.ops))
	}
	return nil
}

func (op journalOp) conversationID() string {
	if op.kind == opUpsert {
		return op.conversation.ConversationID
	}
	return op.message.ConversationID
}
