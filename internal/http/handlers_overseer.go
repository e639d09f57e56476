package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"alma/internal/core"
	"alma/internal/gateway"
	"alma/internal/log"
	"alma/internal/session"
	"alma/internal/storage"
)

// alertLimit is how many unacknowledged alerts the portal shows.
const alertLimit = 20

type overseerLoginForm struct {
	Number string
	Error  string
}

type overseerUsersData struct {
	Users    core.View[[]core.ManagedUser]
	Selected core.ManagedUser
	Form     cardForm
}

type alertRow struct {
	storage.Alert
	Amount core.Money
}

// Label names the alert kind for display.
func (a alertRow) Label() string {
	switch a.Kind {
	case storage.AlertLargePayment:
		return "Large payment"
	case storage.AlertPaymentFailed:
		return "Payment failed"
	default:
		return a.Kind
	}
}

type alertsData struct {
	Enabled bool
	Alerts  core.View[[]alertRow]
}

func (s *Server) handleOverseerLoginScreen(w http.ResponseWriter, r *http.Request, st *session.State) {
	if st.IsOverseer() {
		redirect(w, r, "/overseer")
		return
	}
	s.renderPage(w, r, st, http.StatusOK, "overseer_login.html", s.page(st, "Carer sign in", "", overseerLoginForm{}))
}

func (s *Server) handleOverseerLogin(w http.ResponseWriter, r *http.Request, st *session.State) {
	if err := r.ParseForm(); err != nil {
		BadRequestError("Invalid request").Write(w)
		return
	}
	form := overseerLoginForm{Number: formValue(r, "number")}
	password := r.PostFormValue("password")
	if form.Number == "" || password == "" {
		form.Error = "Number and password are required"
		s.renderPartial(w, r, st, NewHTMXResponse().Status(http.StatusUnprocessableEntity), "overseer_login_form", s.page(st, "", "", form))
		return
	}

	profile, err := st.Backend.OverseerLogin(r.Context(), gateway.OverseerLoginRequest{Number: form.Number, Password: password})
	if err != nil {
		s.logger.WarnContext(r.Context(), "Overseer login failed", log.FieldError, err)
		form.Error = errorMessage(err)
		s.renderPartial(w, r, st, NewHTMXResponse().Status(errorStatus(err)), "overseer_login_form", s.page(st, "", "", form))
		return
	}
	userID := profile.ID
	if userID == "" {
		userID = form.Number
	}
	if err := s.sessions.SetUser(r.Context(), w, st, userID, core.RoleOverseer); err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to store session", log.FieldError, err)
		InternalServerError("Could not sign you in. Please try again.").Write(w)
		return
	}
	redirect(w, r, "/overseer")
}

// handleOverseer renders the portal shell; users and alerts load as
// partials.
func (s *Server) handleOverseer(w http.ResponseWriter, r *http.Request, st *session.State) {
	s.renderPage(w, r, st, http.StatusOK, "overseer.html", s.page(st, "Carer portal", "", nil))
}

func (s *Server) handleOverseerUsers(w http.ResponseWriter, r *http.Request, st *session.State) {
	ctx, cancel := context.WithTimeout(r.Context(), 7*time.Second)
	defer cancel()

	users, err := st.Backend.OverseerUsers(ctx)
	if err != nil {
		s.logBackendError(r, "overseer", log.OpList, err)
	}
	data := overseerUsersData{Users: core.Resolve(users, err), Form: defaultCardForm()}
	selected := r.URL.Query().Get("selected")
	for i, u := range users {
		if u.ID == selected || (selected == "" && i == 0) {
			data.Selected = u
			break
		}
	}
	data.Form.UserID = data.Selected.ID
	s.renderPartial(w, r, st, nil, "overseer_users", s.page(st, "", "", data))
}

// handleOverseerCreateCard provisions a card for the selected managed user.
// The new row is appended to the portal's card list; a rejected form is
// swapped back in place of the form instead.
func (s *Server) handleOverseerCreateCard(w http.ResponseWriter, r *http.Request, st *session.State) {
	form, spec, err := parseCardForm(r)
	if err == nil {
		var card core.Card
		card, err = st.Backend.CreateCard(r.Context(), spec)
		if err == nil {
			s.logger.InfoContext(r.Context(), "Card created for managed user",
				log.FieldCardID, card.ID, log.FieldUserID, form.UserID)
			b := NewHTMXResponse().
				Status(http.StatusCreated).
				TriggerSuccessNotification("Card created").
				TriggerFormReset()
			s.renderPartial(w, r, st, b, "card_row", s.page(st, "", "", cardRow{Card: card}))
			return
		}
		s.logBackendError(r, "overseer", log.OpCreate, err)
	}

	form.Error = errorMessage(err)
	status := http.StatusUnprocessableEntity
	if !isValidationError(err) {
		status = errorStatus(err)
	}
	b := NewHTMXResponse().
		Status(status).
		Header("HX-Retarget", "#overseer-card-form").
		Header("HX-Reswap", "outerHTML")
	s.renderPartial(w, r, st, b, "overseer_card_form", s.page(st, "", "", form))
}

func (s *Server) handleOverseerAlerts(w http.ResponseWriter, r *http.Request, st *session.State) {
	s.renderAlerts(w, r, st, nil)
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request, st *session.State) {
	if s.alerts == nil {
		s.renderAlerts(w, r, st, nil)
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		BadRequestError("Invalid alert").Write(w)
		return
	}
	userIDs, err := managedUserIDs(r.Context(), st)
	if err != nil {
		s.logBackendError(r, "overseer", log.OpList, err)
		ErrorResponse(errorStatus(err), errorMessage(err)).Write(w)
		return
	}
	if err := s.alerts.AcknowledgeAlert(r.Context(), userIDs, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			NotFoundError("Alert not found").Write(w)
			return
		}
		s.logger.ErrorContext(r.Context(), "Failed to acknowledge alert", log.FieldError, err, log.FieldEventID, id)
		InternalServerError("Could not update the alert").Write(w)
		return
	}
	s.logger.InfoContext(r.Context(), "Alert acknowledged", log.FieldEventID, id, log.FieldUserID, st.UserID())
	s.renderAlerts(w, r, st, NewHTMXResponse().TriggerSuccessNotification("Alert acknowledged"))
}

func (s *Server) renderAlerts(w http.ResponseWriter, r *http.Request, st *session.State, b *HTMXResponseBuilder) {
	data := alertsData{Enabled: s.alerts != nil}
	if s.alerts != nil {
		var alerts []storage.Alert
		userIDs, err := managedUserIDs(r.Context(), st)
		if err != nil {
			s.logBackendError(r, "overseer", log.OpList, err)
		} else if alerts, err = s.alerts.ListAlerts(r.Context(), userIDs, alertLimit, false); err != nil {
			s.logger.ErrorContext(r.Context(), "Failed to list alerts", log.FieldError, err)
		}
		rows := make([]alertRow, len(alerts))
		for i, a := range alerts {
			rows[i] = alertRow{Alert: a, Amount: core.Money{Cents: a.AmountCents}}
		}
		data.Alerts = core.Resolve(rows, err)
	}
	s.renderPartial(w, r, st, b, "overseer_alerts", s.page(st, "", "", data))
}

// managedUserIDs returns the people this overseer looks after; alerts are
// limited to them.
func managedUserIDs(ctx context.Context, st *session.State) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 7*time.Second)
	defer cancel()
	users, err := st.Backend.OverseerUsers(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids, nil
}
