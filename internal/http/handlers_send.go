package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"alma/internal/core"
	"alma/internal/log"
	"alma/internal/session"
	"alma/internal/wizard"
)

// handleSend opens the wizard. Opening discards any previous draft unless
// resume is set, which a voice command uses to land on a prepared draft.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, st *session.State) {
	ctx, cancel := context.WithTimeout(r.Context(), 7*time.Second)
	defer cancel()

	if r.URL.Query().Get("resume") == "" || st.Wizard.Step() == wizard.Success {
		st.Wizard.Reset()
		s.setSource(ctx, st, r.URL.Query().Get("account"))
		st.Player.Speak(ctx, "sendmoney")
	}
	s.renderPage(w, r, st, http.StatusOK, "send.html", s.page(st, "Send money", "home", st.Wizard.Snapshot()))
}

// setSource picks the paying account: accountID when given, otherwise the
// first account. Without accounts the transfer goes out without one and
// the backend decides.
func (s *Server) setSource(ctx context.Context, st *session.State, accountID string) {
	accounts, err := s.myAccounts(ctx, st)
	if err != nil {
		s.logger.WarnContext(ctx, "Accounts unavailable for transfer", log.FieldError, err)
		return
	}
	for _, a := range accounts {
		if accountID == "" || a.ID == accountID {
			st.Wizard.SetSource(a.ID, a.Name)
			return
		}
	}
}

// renderWizard re-renders the wizard after an action. err only chooses
// the status; the message itself is part of the snapshot.
func (s *Server) renderWizard(w http.ResponseWriter, r *http.Request, st *session.State, err error) {
	b := NewHTMXResponse()
	switch {
	case err == nil:
	case errors.Is(err, wizard.ErrWrongStep), errors.Is(err, wizard.ErrTransferInFlight):
		b.Status(http.StatusConflict)
	case errors.Is(err, wizard.ErrUnknownContact):
		b.Status(http.StatusNotFound)
	default:
		b.Status(errorStatus(err))
	}
	snap := st.Wizard.Snapshot()
	if err != nil && snap.Err == nil && !errors.Is(err, wizard.ErrWrongStep) {
		snap.Err = err
	}
	s.renderPartial(w, r, st, b, "send_wizard", s.page(st, "", "home", snap))
}

func (s *Server) handleSelectContact(w http.ResponseWriter, r *http.Request, st *session.State) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		BadRequestError("Unknown contact").Write(w)
		return
	}
	s.renderWizard(w, r, st, st.Wizard.SelectContact(r.Context(), id))
}

func (s *Server) handleTogglePayee(w http.ResponseWriter, r *http.Request, st *session.State) {
	s.renderWizard(w, r, st, st.Wizard.ToggleNewPayee(r.Context()))
}

// handlePayeeDraft stores the new-payee form while it is typed and returns
// only its submit button, enabled once every field is filled.
func (s *Server) handlePayeeDraft(w http.ResponseWriter, r *http.Request, st *session.State) {
	if err := st.Wizard.UpdateDraft(payeeFromForm(r)); err != nil {
		s.renderWizard(w, r, st, err)
		return
	}
	s.renderPartial(w, r, st, nil, "payee_submit", s.page(st, "", "home", st.Wizard.Snapshot()))
}

func (s *Server) handleSubmitPayee(w http.ResponseWriter, r *http.Request, st *session.State) {
	s.renderWizard(w, r, st, st.Wizard.SubmitNewPayee(r.Context(), payeeFromForm(r)))
}

func (s *Server) handleDigit(w http.ResponseWriter, r *http.Request, st *session.State) {
	d := r.FormValue("d")
	if utf8.RuneCountInString(d) != 1 {
		BadRequestError("Invalid key").Write(w)
		return
	}
	digit, _ := utf8.DecodeRuneInString(d)
	s.renderWizard(w, r, st, st.Wizard.EnterDigit(digit))
}

func (s *Server) handleDeleteDigit(w http.ResponseWriter, r *http.Request, st *session.State) {
	s.renderWizard(w, r, st, st.Wizard.DeleteDigit())
}

func (s *Server) handleConfirmAmount(w http.ResponseWriter, r *http.Request, st *session.State) {
	s.renderWizard(w, r, st, st.Wizard.ConfirmAmount(r.Context()))
}

// handleConfirmTransfer sends the reviewed transfer. A failure keeps the
// wizard on Review with the backend's message and a retry button.
func (s *Server) handleConfirmTransfer(w http.ResponseWriter, r *http.Request, st *session.State) {
	receipt, err := st.Wizard.ConfirmTransfer(r.Context())
	if err == nil {
		s.logger.InfoContext(r.Context(), "Transfer confirmed",
			log.FieldPaymentID, receipt.ID, log.FieldStep, wizard.Success.String())
	}
	s.renderWizard(w, r, st, err)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request, st *session.State) {
	if st.Wizard.Back(r.Context()) {
		redirect(w, r, "/dashboard")
		return
	}
	s.renderWizard(w, r, st, nil)
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request, st *session.State) {
	st.Wizard.Exit(r.Context())
	redirect(w, r, "/dashboard")
}

func payeeFromForm(r *http.Request) core.Payee {
	return core.Payee{
		Name:          formValue(r, "name"),
		SortCode:      formValue(r, "sort_code"),
		AccountNumber: formValue(r, "account_number"),
	}
}
