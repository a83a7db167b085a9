// Package domain contains core domain types for the onboarding voice server.
package domain

import "strings"

// Language is the display and spoken language of a join page visit.
type Language string

// Supported languages.
const (
	LanguageEnglish Language = "en"
	LanguageArabic  Language = "ar"
)

// ParseLanguage normalises a language code. Anything other than Arabic
// falls back to English.
func ParseLanguage(s string) Language {
	if strings.EqualFold(strings.TrimSpace(s), string(LanguageArabic)) {
		return LanguageArabic
	}
	return LanguageEnglish
}

// Other returns the opposite language.
func (l Language) Other() Language {
	if l == LanguageArabic {
		return LanguageEnglish
	}
	return LanguageArabic
}

// Dir returns the HTML text direction for the language.
func (l Language) Dir() string {
	if l == LanguageArabic {
		return "rtl"
	}
	return "ltr"
}

func (l Language) String() string {
	return string(l)
}
