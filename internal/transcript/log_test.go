package transcript

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/onboarding-voice/internal/domain"
	"github.com/ashureev/onboarding-voice/internal/store"
)

type fakeMirror struct {
	mu   sync.Mutex
	got  []domain.ConversationMessage
	ids  []string
	fail bool
}

func (f *fakeMirror) MirrorMessage(_ context.Context, id string, msg domain.ConversationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("backend unavailable")
	}
	f.ids = append(f.ids, id)
	f.got = append(f.got, msg)
	return nil
}

func (f *fakeMirror) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

type journalEntry struct {
	kind  string
	visit string
	seq   int
	text  string
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journalEntry
	convs   []domain.JournalConversation
}

func (f *fakeJournal) UpsertConversation(_ context.Context, c domain.JournalConversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs = append(f.convs, c)
	return nil
}

func (f *fakeJournal) AppendMessage(_ context.Context, m domain.JournalMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, journalEntry{kind: "append", visit: m.VisitID, seq: m.Seq, text: m.Text})
	return nil
}

func (f *fakeJournal) CorrectMessage(_ context.Context, visitID string, seq int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, journalEntry{kind: "correct", visit: visitID, seq: seq, text: text})
	return nil
}

func fixedClock() func() time.Time {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var n int
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestAppendPreservesOrder(t *testing.T) {
	l := New(nil, WithClock(fixedClock()))

	l.Append(domain.SpeakerAgent, "Welcome")
	l.Append(domain.SpeakerNewHire, "Thanks")
	l.Append(domain.SpeakerAgent, "Let's begin")

	got := l.Snapshot()
	want := []string{"Welcome", "Thanks", "Let's begin"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Text != w {
			t.Errorf("entry %d = %q, want %q", i, got[i].Text, w)
		}
		if i > 0 && !got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Errorf("entry %d timestamp not increasing", i)
		}
	}
}

func TestAppendUnboundDoesNotMirror(t *testing.T) {
	m := &fakeMirror{}
	l := New(m)

	l.Append(domain.SpeakerNewHire, "Hello")
	l.Wait()

	if m.count() != 0 {
		t.Fatalf("mirror calls = %d, want 0", m.count())
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
}

func TestAppendBoundMirrors(t *testing.T) {
	m := &fakeMirror{}
	l := New(m)
	if err := l.Bind("c1"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	l.Append(domain.SpeakerNewHire, "Hello")
	l.Append(domain.SpeakerAgent, "Hi")
	l.Wait()

	if m.count() != 2 {
		t.Fatalf("mirror calls = %d, want 2", m.count())
	}
	for _, id := range m.ids {
		if id != "c1" {
			t.Errorf("mirrored to %q, want c1", id)
		}
	}
}

func TestMirrorFailureIsSwallowed(t *testing.T) {
	m := &fakeMirror{fail: true}
	l := New(m)
	_ = l.Bind("c1")

	l.Append(domain.SpeakerNewHire, "Hello")
	l.Wait()

	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
}

func TestBindIsWriteOnce(t *testing.T) {
	l := New(nil)
	if err := l.Bind("c1"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := l.Bind("c2"); !errors.Is(err, domain.ErrAlreadyBound) {
		t.Fatalf("Bind(c2) error = %v, want ErrAlreadyBound", err)
	}
	if l.ConversationID() != "c1" {
		t.Errorf("ConversationID() = %q, want c1", l.ConversationID())
	}
}

func TestCorrectWithoutAgentIsNoop(t *testing.T) {
	l := New(nil)
	l.Append(domain.SpeakerNewHire, "Hello")
	before := l.Snapshot()

	if l.CorrectLastAgentMessage("Hi there") {
		t.Fatal("expected no correction")
	}

	after := l.Snapshot()
	if len(after) != len(before) || after[0] != before[0] {
		t.Fatalf("log changed: before %+v after %+v", before, after)
	}
}

func TestCorrectReplacesMostRecentAgent(t *testing.T) {
	m := &fakeMirror{}
	l := New(m)
	_ = l.Bind("c1")

	l.Append(domain.SpeakerAgent, "first")
	l.Append(domain.SpeakerAgent, "second")
	l.Append(domain.SpeakerNewHire, "question")

	if !l.CorrectLastAgentMessage("second, corrected") {
		t.Fatal("expected correction")
	}
	l.Wait()

	got := l.Snapshot()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Text != "first" || got[1].Text != "second, corrected" || got[2].Text != "question" {
		t.Errorf("unexpected entries: %+v", got)
	}
	if m.count() != 3 {
		t.Errorf("mirror calls = %d, want 3 (corrections are not mirrored)", m.count())
	}
}

func TestJournalRecordsAppendsAndCorrections(t *testing.T) {
	j := &fakeJournal{}
	l := New(&fakeMirror{}, WithJournal(j, "abc123", "visit-1", 16))
	if err := l.Bind("c1"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := l.BindExternal("el-1"); err != nil {
		t.Fatalf("BindExternal() error = %v", err)
	}

	l.Append(domain.SpeakerAgent, "Hi")
	l.CorrectLastAgentMessage("Hello")
	l.Append(domain.SpeakerNewHire, "Hey")
	l.MarkStatus("completed")

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	want := []journalEntry{
		{kind: "append", visit: "visit-1", seq: 0, text: "Hi"},
		{kind: "correct", visit: "visit-1", seq: 0, text: "Hello"},
		{kind: "append", visit: "visit-1", seq: 1, text: "Hey"},
	}
	if len(j.entries) != len(want) {
		t.Fatalf("journal entries = %+v, want %+v", j.entries, want)
	}
	for i := range want {
		if j.entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, j.entries[i], want[i])
		}
	}

	if len(j.convs) != 3 {
		t.Fatalf("conversation upserts = %d, want 3", len(j.convs))
	}
	if j.convs[0].SessionToken != "abc123" || j.convs[1].ExternalID != "el-1" || j.convs[2].Status != "completed" {
		t.Errorf("unexpected upserts: %+v", j.convs)
	}
}

func TestAppendAfterCloseStaysLocal(t *testing.T) {
	m := &fakeMirror{}
	l := New(m)
	_ = l.Bind("c1")
	_ = l.Close()

	l.Append(domain.SpeakerNewHire, "late")
	l.Wait()

	if m.count() != 0 {
		t.Fatalf("mirror calls = %d, want 0", m.count())
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
}

func TestReloadedConversationKeepsEarlierVisit(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer func() { _ = repo.Close() }()

	// Both page visits are bound to the conversation the backend found for
	// the session token.
	first := New(nil, WithJournal(repo, "abc123", "", 16))
	if err := first.Bind("c1"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	first.Append(domain.SpeakerAgent, "first visit: welcome")
	first.Append(domain.SpeakerNewHire, "first visit: hello")
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second := New(nil, WithJournal(repo, "abc123", "", 16))
	if err := second.Bind("c1"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	second.Append(domain.SpeakerNewHire, "second visit: hi again")
	second.Append(domain.SpeakerAgent, "second visit: welcom back")
	second.CorrectLastAgentMessage("second visit: welcome back")
	if err := second.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got, err := repo.ListMessages(context.Background(), "c1")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	want := []string{
		"first visit: welcome",
		"first visit: hello",
		"second visit: hi again",
		"second visit: welcome back",
	}
	if len(got) != len(want) {
		t.Fatalf("journal has %d messages, want %d: %+v", len(got), len(want), got)
	}
	for i, text := range want {
		if got[i].Text != text {
			t.Errorf("message %d = %q, want %q", i, got[i].Text, text)
		}
	}
	if got[0].Corrected || !got[3].Corrected {
		t.Errorf("unexpected corrections: %+v", got)
	}
	if got[0].VisitID == got[2].VisitID {
		t.Error("visits share a journal id")
	}
}
