package domain

import "time"

// Session is the result of validating a session token. It is created once
// per page load and never mutated afterwards.
type Session struct {
	SessionID         string
	Valid             bool
	NewHireID         string
	NewHireName       string
	PreferredLanguage Language
	Status            string
	ExpiresAt         time.Time
}

// InvalidSession returns the inert session used for every validation failure.
func InvalidSession(token string) Session {
	return Session{SessionID: token, PreferredLanguage: LanguageEnglish}
}
