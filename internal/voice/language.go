package voice

import (
	"sync"

	"github.com/ashureev/onboarding-voice/internal/domain"
)

// LanguageToggle holds the visit's active language. The controller reads it
// only when starting a session, so a switch mid-call applies to the next call.
type LanguageToggle struct {
	mu   sync.RWMutex
	lang domain.Language
}

// NewLanguageToggle starts at the session's preferred language.
func NewLanguageToggle(initial domain.Language) *LanguageToggle {
	return &LanguageToggle{lang: domain.ParseLanguage(string(initial))}
}

// Current returns the active language.
func (t *LanguageToggle) Current() domain.Language {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lang
}

// Set switches to lang. Unsupported values become English.
func (t *LanguageToggle) Set(lang domain.Language) domain.Language {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lang = domain.ParseLanguage(string(lang))
	return t.lang
}

// Toggle switches to the other language.
func (t *LanguageToggle) Toggle() domain.Language {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lang = t.lang.Other()
	return t.lang
}
