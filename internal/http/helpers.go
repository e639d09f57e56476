package http

import (
	"errors"
	"net/http"
	"strings"

	"alma/internal/core"
	"alma/internal/gateway"
	"alma/internal/log"
	"alma/internal/session"
)

// screenHandler is a handler that needs the browser's session state.
type screenHandler func(w http.ResponseWriter, r *http.Request, st *session.State)

// anyone runs h for signed-in and anonymous sessions alike.
func (s *Server) anyone(h screenHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, err := session.FromContext(r.Context())
		if err != nil {
			s.logger.ErrorContext(r.Context(), "Request without session", log.FieldPath, r.URL.Path)
			http.Error(w, "session unavailable", http.StatusInternalServerError)
			return
		}
		h(w, r, st)
	})
}

// signedIn requires a user or an overseer.
func (s *Server) signedIn(h screenHandler) http.Handler {
	return s.anyone(func(w http.ResponseWriter, r *http.Request, st *session.State) {
		if !st.Authenticated() {
			redirect(w, r, "/")
			return
		}
		h(w, r, st)
	})
}

// user requires a primary user; overseers are sent to their portal.
func (s *Server) user(h screenHandler) http.Handler {
	return s.signedIn(func(w http.ResponseWriter, r *http.Request, st *session.State) {
		if st.IsOverseer() {
			redirect(w, r, "/overseer")
			return
		}
		h(w, r, st)
	})
}

func (s *Server) overseer(h screenHandler) http.Handler {
	return s.anyone(func(w http.ResponseWriter, r *http.Request, st *session.State) {
		if !st.Authenticated() || !st.IsOverseer() {
			redirect(w, r, "/overseer/login")
			return
		}
		h(w, r, st)
	})
}

// isHTMX reports whether the request was issued by htmx.
func isHTMX(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("HX-Request"), "true")
}

// redirect navigates the whole page: HX-Redirect for htmx, 303 otherwise.
func redirect(w http.ResponseWriter, r *http.Request, url string) {
	if isHTMX(r) {
		NewHTMXResponse().Redirect(url).Write(w)
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

// formValue reads a sanitized form or query value.
func formValue(r *http.Request, key string) string {
	return sanitizeInput(r.FormValue(key))
}

// sanitizeInput removes potentially dangerous characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}

// isValidationError reports whether err came from checking user input
// rather than from the backend.
func isValidationError(err error) bool {
	return errors.Is(err, core.ErrInvalidAmount) ||
		errors.Is(err, core.ErrIncompletePayee) ||
		errors.Is(err, core.ErrInvalidCardLimit) ||
		errors.Is(err, core.ErrInvalidExpiration) ||
		errors.Is(err, gateway.ErrInvalidID)
}

// errorMessage is the text shown for a failed call: the server's detail
// verbatim, the validation message, or a generic line when the backend was
// not reached.
func errorMessage(err error) string {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	if isValidationError(err) {
		return err.Error()
	}
	return "The bank could not be reached. Please try again."
}

// errorStatus maps an error onto the status of the fragment that reports
// it: backend client errors pass through, bad input is a 422 and
// everything else is a 502.
func errorStatus(err error) int {
	var apiErr *gateway.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		return apiErr.Status
	case isValidationError(err):
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

// logBackendError records a failed backend call against the screen that
// made it.
func (s *Server) logBackendError(r *http.Request, screen, op string, err error) {
	fields := log.NewFields().WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.UserAgent(), r.Referer())
	fields[log.FieldScreen] = screen
	log.NewStructuredLogger(s.logger).LogError(r.Context(), "Backend call failed", err, op, fields)
}
