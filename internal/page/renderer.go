package page

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"strings"

	"github.com/ashureev/onboarding-voice/internal/domain"
	"github.com/ashureev/onboarding-voice/internal/voice"
)

// Screen is one of the join page's views.
type Screen string

// Screens.
const (
	ScreenInvalid Screen = "invalid"
	ScreenWelcome Screen = "welcome"
	ScreenLive    Screen = "live"
	ScreenEnded   Screen = "ended"
)

// ScreenFor picks the view for a snapshot. Connecting and failed sessions
// stay on the welcome screen.
func ScreenFor(s voice.Snapshot) Screen {
	if !s.Valid {
		return ScreenInvalid
	}
	switch s.Phase {
	case voice.PhaseActive:
		return ScreenLive
	case voice.PhaseEnded:
		return ScreenEnded
	default:
		return ScreenWelcome
	}
}

// MessageView is one rendered transcript line.
type MessageView struct {
	Speaker domain.Speaker
	Text    string
}

// View is the template data for the page and screen templates.
type View struct {
	Screen   Screen
	Lang     domain.Language
	Dir      string
	Copy     Copy
	Token    string
	VisitID  string
	Greeting string
	Badge    string
	Messages []MessageView
	Speaking bool
	Starting bool
	Ending   bool
}

// Renderer turns controller snapshots into HTML.
type Renderer struct {
	tmpl    *template.Template
	catalog *Catalog
}

// NewRenderer parses every *.html template in fsys.
func NewRenderer(fsys fs.FS, catalog *Catalog) (*Renderer, error) {
	tmpl, err := template.ParseFS(fsys, "*.html")
	if err != nil {
		return nil, fmt.Errorf("page: parse templates: %w", err)
	}
	for _, name := range []string{"page", "screen"} {
		if tmpl.Lookup(name) == nil {
			return nil, fmt.Errorf("page: template %q not defined", name)
		}
	}
	return &Renderer{tmpl: tmpl, catalog: catalog}, nil
}

// View builds the template data for a snapshot.
func (r *Renderer) View(token string, s voice.Snapshot) View {
	lang := s.Language
	if !s.Valid {
		lang = domain.LanguageEnglish
	}
	cp := r.catalog.For(lang)

	v := View{
		Screen:   ScreenFor(s),
		Lang:     lang,
		Dir:      lang.Dir(),
		Copy:     cp,
		Token:    token,
		Badge:    strings.ToUpper(string(lang)),
		Speaking: s.Speaking,
		Starting: s.Phase == voice.PhaseConnecting,
		Ending:   s.Ending,
	}
	if s.Valid {
		v.Greeting = fmt.Sprintf(cp.HeaderGreeting, s.NewHireName)
	}
	if len(s.Messages) > 0 {
		v.Messages = make([]MessageView, len(s.Messages))
		for i, m := range s.Messages {
			v.Messages[i] = MessageView{Speaker: m.Speaker, Text: m.Text}
		}
	}
	return v
}

// Fragment is a rendered screen plus the document attributes it needs.
type Fragment struct {
	Screen Screen          `json:"screen"`
	Lang   domain.Language `json:"language"`
	Dir    string          `json:"dir"`
	HTML   string          `json:"html"`
}

// RenderPage writes the full HTML document. visitID lets the page's socket
// claim the session validated for this request.
func (r *Renderer) RenderPage(w io.Writer, token, visitID string, s voice.Snapshot) error {
	v := r.View(token, s)
	v.VisitID = visitID
	if err := r.tmpl.ExecuteTemplate(w, "page", v); err != nil {
		return fmt.Errorf("page: render page: %w", err)
	}
	return nil
}

// RenderScreen renders the inner screen for live updates.
func (r *Renderer) RenderScreen(s voice.Snapshot) (Fragment, error) {
	v := r.View("", s)
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "screen", v); err != nil {
		return Fragment{}, fmt.Errorf("page: render screen: %w", err)
	}
	return Fragment{Screen: v.Screen, Lang: v.Lang, Dir: v.Dir, HTML: buf.String()}, nil
}

// AlertText localizes a blocking alert.
func (r *Renderer) AlertText(lang domain.Language, a voice.Alert) string {
	cp := r.catalog.For(lang)
	switch a.Kind {
	case voice.AlertEndFailed:
		return cp.AlertEndFailed
	default:
		detail := a.Detail
		if detail == "" {
			detail = "Unknown error"
		}
		return fmt.Sprintf(cp.AlertStartFailed, detail)
	}
}
