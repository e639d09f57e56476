package http

import (
	"net/http"
	"net/url"

	"alma/internal/core"
	"alma/internal/gateway"
	"alma/internal/log"
	"alma/internal/session"
)

type authForm struct {
	Mode           string
	Name           string
	Email          string
	OverseerName   string
	OverseerNumber string
	Error          string
}

func (s *Server) handleAuthScreen(w http.ResponseWriter, r *http.Request, st *session.State) {
	if st.Authenticated() {
		if st.IsOverseer() {
			redirect(w, r, "/overseer")
		} else {
			redirect(w, r, "/dashboard")
		}
		return
	}
	mode := "login"
	if r.URL.Query().Get("mode") == "signup" {
		mode = "signup"
	}
	s.renderPage(w, r, st, http.StatusOK, "auth.html", s.page(st, "Welcome", "", authForm{Mode: mode}))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, st *session.State) {
	if err := r.ParseForm(); err != nil {
		BadRequestError("Invalid request").Write(w)
		return
	}
	form := authForm{Mode: "login", Email: formValue(r, "email")}
	password := r.PostFormValue("password")
	if form.Email == "" || password == "" {
		form.Error = "Email and password are required"
		s.renderPartial(w, r, st, NewHTMXResponse().Status(http.StatusUnprocessableEntity), "login_form", s.page(st, "", "", form))
		return
	}

	profile, err := st.Backend.Login(r.Context(), gateway.LoginRequest{Email: form.Email, Password: password})
	if err != nil {
		s.logger.WarnContext(r.Context(), "Login failed", log.FieldError, err)
		form.Error = errorMessage(err)
		s.renderPartial(w, r, st, NewHTMXResponse().Status(errorStatus(err)), "login_form", s.page(st, "", "", form))
		return
	}
	if !s.signIn(w, r, st, profile, core.RoleUser, form.Email) {
		return
	}
	redirect(w, r, "/dashboard")
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request, st *session.State) {
	if err := r.ParseForm(); err != nil {
		BadRequestError("Invalid request").Write(w)
		return
	}
	form := authForm{
		Mode:           "signup",
		Name:           formValue(r, "name"),
		Email:          formValue(r, "email"),
		OverseerName:   formValue(r, "overseer_name"),
		OverseerNumber: formValue(r, "overseer_number"),
	}
	req := gateway.SignupRequest{
		Name:             form.Name,
		Email:            form.Email,
		Password:         r.PostFormValue("password"),
		OverseerName:     form.OverseerName,
		OverseerNumber:   form.OverseerNumber,
		OverseerPassword: r.PostFormValue("overseer_password"),
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		form.Error = "Name, email and password are required"
		s.renderPartial(w, r, st, NewHTMXResponse().Status(http.StatusUnprocessableEntity), "signup_form", s.page(st, "", "", form))
		return
	}
	if (req.OverseerNumber == "") != (req.OverseerPassword == "") {
		form.Error = "Enter both the carer's number and password, or neither"
		s.renderPartial(w, r, st, NewHTMXResponse().Status(http.StatusUnprocessableEntity), "signup_form", s.page(st, "", "", form))
		return
	}

	profile, err := st.Backend.Signup(r.Context(), req)
	if err != nil {
		s.logBackendError(r, "signup", log.OpCreate, err)
		form.Error = errorMessage(err)
		s.renderPartial(w, r, st, NewHTMXResponse().Status(errorStatus(err)), "signup_form", s.page(st, "", "", form))
		return
	}
	if !s.signIn(w, r, st, profile, core.RoleUser, form.Email) {
		return
	}
	redirect(w, r, "/link-bank")
}

// signIn binds the backend identity to the session. The backend id is
// preferred; fallback identifies users whose profile carries none.
func (s *Server) signIn(w http.ResponseWriter, r *http.Request, st *session.State, profile core.Profile, role, fallback string) bool {
	userID := profile.ID
	if userID == "" {
		if me, err := st.Backend.Me(r.Context()); err == nil && me.ID != "" {
			userID = me.ID
		} else {
			userID = fallback
		}
	}
	if err := s.sessions.SetUser(r.Context(), w, st, userID, role); err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to store session", log.FieldError, err)
		InternalServerError("Could not sign you in. Please try again.").Write(w)
		return false
	}
	return true
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, st *session.State) {
	overseer := st.IsOverseer()
	if st.Authenticated() {
		if err := st.Backend.Logout(r.Context()); err != nil {
			s.logger.WarnContext(r.Context(), "Backend logout failed", log.FieldError, err)
		}
	}
	if err := s.sessions.Clear(r.Context(), w, st); err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to clear session", log.FieldError, err)
	}
	if overseer {
		redirect(w, r, "/overseer/login")
		return
	}
	redirect(w, r, "/")
}

type linkBankData struct {
	Linked bool
	Error  string
}

func (s *Server) handleLinkBank(w http.ResponseWriter, r *http.Request, st *session.State) {
	s.renderPage(w, r, st, http.StatusOK, "link_bank.html", s.page(st, "Link your bank", "", linkBankData{}))
}

// handleLinkBankStart sends the browser to the bank's consent page. The
// session's user id rides along as the OAuth state.
func (s *Server) handleLinkBankStart(w http.ResponseWriter, r *http.Request, st *session.State) {
	authURL, err := st.Backend.AuthURL(r.Context())
	if err != nil {
		s.logBackendError(r, "link-bank", log.OpRead, err)
		ErrorResponse(errorStatus(err), errorMessage(err)).Write(w)
		return
	}
	if u, err := url.Parse(authURL); err == nil {
		q := u.Query()
		if q.Get("state") == "" {
			q.Set("state", st.UserID())
			u.RawQuery = q.Encode()
		}
		authURL = u.String()
	}
	redirect(w, r, authURL)
}

func (s *Server) handleLinkBankCallback(w http.ResponseWriter, r *http.Request, st *session.State) {
	q := r.URL.Query()
	data := linkBankData{}
	code := sanitizeInput(q.Get("code"))
	switch {
	case q.Get("error") != "":
		data.Error = "The bank did not authorise the link. Please try again."
	case code == "":
		data.Error = "The bank did not return an authorisation code."
	case q.Get("state") != "" && q.Get("state") != st.UserID():
		data.Error = "Session expired. Please sign up again."
	}
	if data.Error != "" {
		s.renderPage(w, r, st, http.StatusBadRequest, "link_bank.html", s.page(st, "Link your bank", "", data))
		return
	}

	if _, err := st.Backend.LinkBank(r.Context(), st.UserID(), code); err != nil {
		s.logBackendError(r, "link-bank", log.OpCreate, err)
		data.Error = errorMessage(err)
		s.renderPage(w, r, st, errorStatus(err), "link_bank.html", s.page(st, "Link your bank", "", data))
		return
	}
	s.logger.InfoContext(r.Context(), "Bank linked", log.FieldUserID, st.UserID())
	data.Linked = true
	s.renderPage(w, r, st, http.StatusOK, "link_bank.html", s.page(st, "Link your bank", "", data))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request, st *session.State) {
	s.renderPage(w, r, st, http.StatusNotFound, "error.html", s.page(st, "Not found", "", "We couldn't find that page."))
}
