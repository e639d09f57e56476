package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/language"

	"alma/internal/core"
	"alma/internal/log"
	"alma/internal/session"
)

// page is the data every template receives. Data holds the screen's own
// values; Cue carries a voice cue into full page loads.
type page struct {
	Title    string
	Nav      string
	Locale   language.Tag
	Currency string
	SignedIn bool
	Overseer bool
	Cue      string
	Data     any
}

func (s *Server) page(st *session.State, title, nav string, data any) page {
	return page{
		Title:    title,
		Nav:      nav,
		Locale:   st.Locale(),
		Currency: s.currency,
		SignedIn: st.Authenticated(),
		Overseer: st.IsOverseer(),
		Data:     data,
	}
}

// With returns p carrying data, for templates that hand a sub-value to a
// nested template.
func (p page) With(data any) page {
	p.Data = data
	return p
}

// renderPage writes a full screen. A pending voice cue travels in the
// HX-Trigger header for boosted navigation and in the body otherwise.
func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, st *session.State, status int, name string, p page) {
	b := NewHTMXResponse().Status(status)
	if cue, ok := st.Player.Pending(); ok {
		if isHTMX(r) {
			b.TriggerVoice(cue)
		} else if raw, err := json.Marshal(cue); err == nil {
			p.Cue = string(raw)
		}
	} else if st.Player.TakeSilenced() && isHTMX(r) {
		b.TriggerVoiceStop()
	}
	s.execute(w, r, b, name, p)
}

// renderPartial writes a fragment through b, attaching any pending cue.
func (s *Server) renderPartial(w http.ResponseWriter, r *http.Request, st *session.State, b *HTMXResponseBuilder, name string, p page) {
	if b == nil {
		b = NewHTMXResponse()
	}
	if cue, ok := st.Player.Pending(); ok {
		b.TriggerVoice(cue)
	} else if st.Player.TakeSilenced() {
		b.TriggerVoiceStop()
	}
	s.execute(w, r, b, name, p)
}

// execute renders into a buffer first so a template error never leaves a
// half written response.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, b *HTMXResponseBuilder, name string, data any) {
	if s.templates == nil {
		s.logger.ErrorContext(r.Context(), "Templates not loaded", log.FieldPath, r.URL.Path)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.ErrorContext(r.Context(), "Template execution failed",
			log.FieldError, err, log.FieldOperation, log.OpRender, "template", name)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	b.BodyHTML(buf.Bytes()).Write(w)
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"money": core.FormatMoney,
		"balance": func(m *core.Money, currency string, tag language.Tag) string {
			if m == nil {
				return "Unavailable"
			}
			return core.FormatMoney(*m, currency, tag)
		},
		"negative": func(m core.Money) bool { return m.IsNegative() },
		"initials": core.Initials,
		"symbol":   core.CurrencySymbol,
		"day": func(t time.Time, tag language.Tag) string {
			if t.IsZero() {
				return ""
			}
			return fmt.Sprintf("%d %s", t.Day(), core.MonthLabel(t, tag))
		},
		"has":    slices.Contains[[]string, string],
		"fields": strings.Fields,
	}
}
