package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/onboarding-voice/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "journal.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSQLiteMigratesTwice(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "journal.db")

	first, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer second.Close()

	if err := second.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestUpsertConversationKeepsExistingFields(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertConversation(ctx, domain.JournalConversation{
		ConversationID: "c1",
		SessionToken:   "tok",
		Status:         "active",
	}); err != nil {
		t.Fatalf("UpsertConversation() error = %v", err)
	}
	if err := s.UpsertConversation(ctx, domain.JournalConversation{
		ConversationID: "c1",
		ExternalID:     "el-1",
	}); err != nil {
		t.Fatalf("UpsertConversation() error = %v", err)
	}
	if err := s.UpsertConversation(ctx, domain.JournalConversation{
		ConversationID: "c1",
		Status:         "completed",
	}); err != nil {
		t.Fatalf("UpsertConversation() error = %v", err)
	}

	got, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if got == nil {
		t.Fatal("expected conversation")
	}
	if got.SessionToken != "tok" || got.ExternalID != "el-1" || got.Status != "completed" {
		t.Errorf("conversation = %+v", got)
	}
}

func TestGetConversationMissing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	got, err := s.GetConversation(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestAppendAndCorrectMessages(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	msgs := []domain.JournalMessage{
		{ConversationID: "c1", VisitID: "v1", Seq: 0, Speaker: domain.SpeakerAgent, Text: "Hello", Timestamp: ts},
		{ConversationID: "c1", VisitID: "v1", Seq: 1, Speaker: domain.SpeakerNewHire, Text: "Hi", Timestamp: ts.Add(time.Second)},
		{ConversationID: "c1", VisitID: "v1", Seq: 2, Speaker: domain.SpeakerAgent, Text: "Welcom", Timestamp: ts.Add(2 * time.Second)},
	}
	for _, m := range msgs {
		if err := s.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	if err := s.CorrectMessage(ctx, "v1", 2, "Welcome"); err != nil {
		t.Fatalf("CorrectMessage() error = %v", err)
	}

	got, err := s.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[2].Text != "Welcome" || !got[2].Corrected {
		t.Errorf("corrected message = %+v", got[2])
	}
	if got[0].Corrected {
		t.Error("first message should not be corrected")
	}
	if got[1].Speaker != domain.SpeakerNewHire {
		t.Errorf("speaker = %q", got[1].Speaker)
	}
	if !got[0].Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", got[0].Timestamp, ts)
	}
}

func TestConversationResumedByAnotherVisit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	// A reload binds the same backend conversation and restarts at seq 0.
	msgs := []domain.JournalMessage{
		{ConversationID: "c1", VisitID: "v1", Seq: 0, Speaker: domain.SpeakerAgent, Text: "first visit: welcome", Timestamp: ts},
		{ConversationID: "c1", VisitID: "v1", Seq: 1, Speaker: domain.SpeakerNewHire, Text: "first visit: hello", Timestamp: ts.Add(time.Second)},
		{ConversationID: "c1", VisitID: "v2", Seq: 0, Speaker: domain.SpeakerAgent, Text: "second visit: welcom back", Timestamp: ts.Add(time.Minute)},
		{ConversationID: "c1", VisitID: "v2", Seq: 1, Speaker: domain.SpeakerNewHire, Text: "second visit: hi again", Timestamp: ts.Add(time.Minute + time.Second)},
	}
	for _, m := range msgs {
		if err := s.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}
	if err := s.CorrectMessage(ctx, "v2", 0, "second visit: welcome back"); err != nil {
		t.Fatalf("CorrectMessage() error = %v", err)
	}

	got, err := s.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	want := []string{
		"first visit: welcome",
		"first visit: hello",
		"second visit: welcome back",
		"second visit: hi again",
	}
	if len(got) != len(want) {
		t.Fatalf("journal has %d messages, want %d: %+v", len(got), len(want), got)
	}
	for i, text := range want {
		if got[i].Text != text {
			t.Errorf("message %d = %q, want %q", i, got[i].Text, text)
		}
	}
	if got[0].Corrected || !got[2].Corrected {
		t.Errorf("correction landed on the wrong visit: %+v", got)
	}
	if got[2].VisitID != "v2" || got[2].Seq != 0 {
		t.Errorf("message 2 = %+v", got[2])
	}
}

func TestAppendMessageRequiresVisit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	err := s.AppendMessage(context.Background(), domain.JournalMessage{ConversationID: "c1", Speaker: domain.SpeakerAgent, Text: "hi"})
	if err == nil {
		t.Fatal("expected error for a message without a visit")
	}
}

func TestCorrectMessageMissing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	err := s.CorrectMessage(context.Background(), "v1", 7, "x")
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("error = %v, want ErrMessageNotFound", err)
	}
}

func TestDeleteConversationsBefore(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	old := domain.JournalConversation{ConversationID: "old", UpdatedAt: now.Add(-48 * time.Hour), CreatedAt: now.Add(-48 * time.Hour)}
	fresh := domain.JournalConversation{ConversationID: "fresh"}
	for _, c := range []domain.JournalConversation{old, fresh} {
		if err := s.UpsertConversation(ctx, c); err != nil {
			t.Fatalf("UpsertConversation() error = %v", err)
		}
		if err := s.AppendMessage(ctx, domain.JournalMessage{ConversationID: c.ConversationID, VisitID: c.ConversationID + "-visit", Speaker: domain.SpeakerAgent, Text: "hi"}); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	deleted := sweep(ctx, s, 24*time.Hour, func() time.Time { return now })
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	if c, _ := s.GetConversation(ctx, "old"); c != nil {
		t.Error("old conversation should be gone")
	}
	if msgs, _ := s.ListMessages(ctx, "old"); len(msgs) != 0 {
		t.Errorf("old messages = %d, want 0", len(msgs))
	}
	if c, _ := s.GetConversation(ctx, "fresh"); c == nil {
		t.Error("fresh conversation should remain")
	}
}

func TestIsConflictError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY: database busy"), true},
		{errors.New("database is locked"), true},
		{errors.New("no such table"), false},
	}
	for _, tt := range tests {
		if got := IsConflictError(tt.err); got != tt.want {
			t.Errorf("IsConflictError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestWithRetryStopsOnNonConflict(t *testing.T) {
	t.Parallel()
	calls := 0
	err := withRetry(context.Background(), "op", func() error {
		calls++
		return errors.New("boom")
	})
	if err == nil || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}

	calls = 0
	err = withRetry(context.Background(), "op", func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}
