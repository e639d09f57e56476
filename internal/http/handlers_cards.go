package http

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"alma/internal/core"
	"alma/internal/gateway"
	"alma/internal/log"
	"alma/internal/session"
)

// cardForm is the virtual card provisioning form as typed.
type cardForm struct {
	UserID  string
	Limit   string
	Months  string
	Address string
	City    string
	Postal  string
	Blocked []string
	Error   string
}

func defaultCardForm() cardForm {
	return cardForm{Limit: "100", Months: "12"}
}

// Categories lists the blockable merchant categories for the form.
func (cardForm) Categories() []string { return core.BlockedCategoryOptions }

type cardRow struct {
	Card  core.Card
	Error string
}

type cardsData struct {
	Card core.View[*core.Card]
	Form cardForm
}

// Row is the loaded card as a list row.
func (d cardsData) Row() cardRow {
	if c := d.Card.Value(); c != nil {
		return cardRow{Card: *c}
	}
	return cardRow{}
}

func (s *Server) handleCards(w http.ResponseWriter, r *http.Request, st *session.State) {
	ctx, cancel := context.WithTimeout(r.Context(), 7*time.Second)
	defer cancel()

	card, err := st.Backend.Card(ctx)
	if err != nil {
		s.logBackendError(r, "cards", log.OpRead, err)
	}
	st.Player.Speak(ctx, "cards")
	data := cardsData{Card: core.Resolve(card, err), Form: defaultCardForm()}
	s.renderPage(w, r, st, http.StatusOK, "cards.html", s.page(st, "Cards", "cards", data))
}

// handleCreateCard provisions the user's virtual card and swaps the card
// panel; validation and backend errors re-render the form.
func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request, st *session.State) {
	form, spec, err := parseCardForm(r)
	if err != nil {
		form.Error = errorMessage(err)
		data := cardsData{Card: core.Loaded[*core.Card](nil), Form: form}
		s.renderPartial(w, r, st, NewHTMXResponse().Status(http.StatusUnprocessableEntity), "card_panel", s.page(st, "", "cards", data))
		return
	}

	card, err := st.Backend.CreateCard(r.Context(), spec)
	if err != nil {
		s.logBackendError(r, "cards", log.OpCreate, err)
		form.Error = errorMessage(err)
		data := cardsData{Card: core.Loaded[*core.Card](nil), Form: form}
		s.renderPartial(w, r, st, NewHTMXResponse().Status(errorStatus(err)), "card_panel", s.page(st, "", "cards", data))
		return
	}
	s.logger.InfoContext(r.Context(), "Virtual card created", log.FieldCardID, card.ID, log.FieldUserID, st.UserID())
	st.Player.Speak(r.Context(), "virtual_cards")
	data := cardsData{Card: core.Loaded(&card), Form: defaultCardForm()}
	b := NewHTMXResponse().Status(http.StatusCreated).TriggerSuccessNotification("Your virtual card is ready")
	s.renderPartial(w, r, st, b, "card_panel", s.page(st, "", "cards", data))
}

func (s *Server) handleFreezeCard(w http.ResponseWriter, r *http.Request, st *session.State) {
	s.cardStatusAction(w, r, st, st.Backend.FreezeCard)
}

func (s *Server) handleUnfreezeCard(w http.ResponseWriter, r *http.Request, st *session.State) {
	s.cardStatusAction(w, r, st, st.Backend.UnfreezeCard)
}

func (s *Server) cardStatusAction(w http.ResponseWriter, r *http.Request, st *session.State, action func(context.Context, string) (core.CardStatus, error)) {
	row := cardRow{Card: cardFromRow(r)}
	status, err := action(r.Context(), row.Card.ID)
	b := NewHTMXResponse()
	if err != nil {
		s.logBackendError(r, "cards", log.OpUpdate, err)
		row.Error = errorMessage(err)
		b.Status(errorStatus(err))
	} else {
		row.Card.Status = status
		s.logger.InfoContext(r.Context(), "Card status changed",
			log.FieldCardID, row.Card.ID, "status", string(status))
		b.TriggerCardUpdated(row.Card.ID)
	}
	s.renderPartial(w, r, st, b, "card_row", s.page(st, "", "cards", row))
}

func (s *Server) handleCardLimit(w http.ResponseWriter, r *http.Request, st *session.State) {
	row := cardRow{Card: cardFromRow(r)}
	b := NewHTMXResponse()
	limit, err := gateway.ParseCardLimit(formValue(r, "weekly_limit"))
	if err == nil {
		err = st.Backend.UpdateCardLimit(r.Context(), row.Card.ID, limit)
	}
	if err != nil {
		if !isValidationError(err) {
			s.logBackendError(r, "cards", log.OpUpdate, err)
		}
		row.Error = errorMessage(err)
		b.Status(errorStatus(err))
	} else {
		row.Card.WeeklyLimit = limit
		b.TriggerCardUpdated(row.Card.ID).TriggerSuccessNotification("Weekly limit updated")
	}
	s.renderPartial(w, r, st, b, "card_row", s.page(st, "", "cards", row))
}

// parseCardForm reads and validates the provisioning form. The returned
// form always echoes what was typed.
func parseCardForm(r *http.Request) (cardForm, core.CardSpec, error) {
	if err := r.ParseForm(); err != nil {
		return defaultCardForm(), core.CardSpec{}, err
	}
	form := cardForm{
		UserID:  formValue(r, "user_id"),
		Limit:   formValue(r, "weekly_limit"),
		Months:  formValue(r, "expiration_months"),
		Address: formValue(r, "billing_address"),
		City:    formValue(r, "billing_city"),
		Postal:  formValue(r, "billing_postal"),
	}
	for _, c := range r.PostForm["blocked_categories"] {
		c = sanitizeInput(c)
		if slices.Contains(core.BlockedCategoryOptions, c) && !slices.Contains(form.Blocked, c) {
			form.Blocked = append(form.Blocked, c)
		}
	}

	limit, err := gateway.ParseCardLimit(form.Limit)
	if err != nil {
		return form, core.CardSpec{}, err
	}
	months, err := gateway.ParseExpiration(form.Months)
	if err != nil {
		return form, core.CardSpec{}, err
	}
	spec := core.CardSpec{
		WeeklyLimit:      limit,
		ExpirationMonths: months,
		Billing: core.Address{
			Line:       form.Address,
			City:       form.City,
			PostalCode: form.Postal,
		},
		BlockedCategories: form.Blocked,
	}
	return form, spec, spec.Validate()
}

// cardFromRow rebuilds the displayed card from the hidden fields of its
// row so an action can re-render it without another backend round trip.
func cardFromRow(r *http.Request) core.Card {
	card := core.Card{
		ID:       r.PathValue("id"),
		Last4:    formValue(r, "last4"),
		Status:   core.CardStatus(strings.ToLower(formValue(r, "status"))),
		Brand:    formValue(r, "brand"),
		Currency: formValue(r, "currency"),
	}
	if cents, err := core.ParseDecimalToCents(formValue(r, "limit")); err == nil {
		card.WeeklyLimit = core.Money{Cents: cents}
	}
	return card
}
