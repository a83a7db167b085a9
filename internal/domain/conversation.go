package domain

import (
	"errors"
	"sync"
	"time"
)

// Speaker identifies who produced a conversation message.
type Speaker string

// Speakers.
const (
	SpeakerAgent   Speaker = "agent"
	SpeakerNewHire Speaker = "new_hire"
)

// ConversationMessage is a single utterance in the message log.
type ConversationMessage struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrAlreadyBound is returned when a write-once id is rebound to a different value.
var ErrAlreadyBound = errors.New("conversation id already bound")

// ConversationSession links a page visit to the backend conversation record
// and to the external voice session. Both ids are write-once.
type ConversationSession struct {
	mu         sync.RWMutex
	backendID  string
	externalID string
}

// BindBackend records the backend conversation id. Binding the same id twice
// is allowed.
func (c *ConversationSession) BindBackend(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bindOnce(&c.backendID, id)
}

// BindExternal records the external voice session id.
func (c *ConversationSession) BindExternal(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bindOnce(&c.externalID, id)
}

// BackendID returns the bound backend conversation id, or "".
func (c *ConversationSession) BackendID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backendID
}

// ExternalID returns the bound external session id, or "".
func (c *ConversationSession) ExternalID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.externalID
}

func bindOnce(slot *string, id string) error {
	if id == "" {
		return errors.New("conversation id cannot be empty")
	}
	if *slot != "" && *slot != id {
		return ErrAlreadyBound
	}
	*slot = id
	return nil
}

// JournalConversation is the local journal record for one backend conversation.
type JournalConversation struct {
	ConversationID string
	ExternalID     string
	SessionToken   string
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JournalMessage is a journaled message. A conversation can be resumed by
// several page visits, so a message is identified by its visit and Seq, its
// position in that visit's in-memory log starting at zero.
type JournalMessage struct {
	ConversationID string
	VisitID        string
	Seq            int
	Speaker        Speaker
	Text           string
	Corrected      bool
	Timestamp      time.Time
}
