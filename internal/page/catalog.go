// Package page renders the bilingual join page from a controller snapshot.
package page

import (
	"fmt"
	"reflect"

	"github.com/ashureev/onboarding-voice/internal/domain"
	"gopkg.in/yaml.v3"
)

// Copy is the user-facing text of the join page in one language.
type Copy struct {
	ToggleLabel         string `yaml:"toggle_label"`
	InvalidTitle        string `yaml:"invalid_title"`
	InvalidBody         string `yaml:"invalid_body"`
	HeaderGreeting      string `yaml:"header_greeting"`
	HeaderSubtitle      string `yaml:"header_subtitle"`
	WelcomeTitle        string `yaml:"welcome_title"`
	WelcomeBody         string `yaml:"welcome_body"`
	StartButton         string `yaml:"start_button"`
	StartingButton      string `yaml:"starting_button"`
	EndButton           string `yaml:"end_button"`
	EndingButton        string `yaml:"ending_button"`
	QuestionPlaceholder string `yaml:"question_placeholder"`
	AskButton           string `yaml:"ask_button"`
	EndedTitle          string `yaml:"ended_title"`
	EndedBody           string `yaml:"ended_body"`
	EndedNoteQuestions  string `yaml:"ended_note_questions"`
	EndedNoteClose      string `yaml:"ended_note_close"`
	AlertStartFailed    string `yaml:"alert_start_failed"`
	AlertEndFailed      string `yaml:"alert_end_failed"`
}

// Catalog holds the copy for every supported language.
type Catalog struct {
	copies map[domain.Language]Copy
}

// ParseCatalog decodes a YAML catalog keyed by language code. Both English
// and Arabic must be present with every key filled in.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw map[string]Copy
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("page: decode catalog: %w", err)
	}

	c := &Catalog{copies: make(map[domain.Language]Copy, len(raw))}
	for _, lang := range []domain.Language{domain.LanguageEnglish, domain.LanguageArabic} {
		cp, ok := raw[string(lang)]
		if !ok {
			return nil, fmt.Errorf("page: catalog missing language %q", lang)
		}
		if field := firstEmpty(cp); field != "" {
			return nil, fmt.Errorf("page: catalog %q missing %s", lang, field)
		}
		c.copies[lang] = cp
	}
	return c, nil
}

// For returns the copy for lang. Unknown languages get English.
func (c *Catalog) For(lang domain.Language) Copy {
	if cp, ok := c.copies[lang]; ok {
		return cp
	}
	return c.copies[domain.LanguageEnglish]
}

func firstEmpty(cp Copy) string {
	v := reflect.ValueOf(cp)
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		if v.Field(i).String() == "" {
			return t.Field(i).Tag.Get("yaml")
		}
	}
	return ""
}
