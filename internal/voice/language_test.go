package voice

import (
	"testing"

	"github.com/ashureev/onboarding-voice/internal/domain"
)

func TestLanguageToggle(t *testing.T) {
	lt := NewLanguageToggle(domain.LanguageArabic)
	if lt.Current() != domain.LanguageArabic {
		t.Fatalf("Current() = %s, want ar", lt.Current())
	}
	if got := lt.Toggle(); got != domain.LanguageEnglish {
		t.Errorf("Toggle() = %s, want en", got)
	}
	if got := lt.Toggle(); got != domain.LanguageArabic {
		t.Errorf("Toggle() = %s, want ar", got)
	}
	if got := lt.Set("de"); got != domain.LanguageEnglish {
		t.Errorf("Set(de) = %s, want en", got)
	}
}

func TestLanguageToggleFromInvalidSession(t *testing.T) {
	lt := NewLanguageToggle("")
	if lt.Current() != domain.LanguageEnglish {
		t.Fatalf("Current() = %s, want en", lt.Current())
	}
}
