package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"alma/internal/core"
	"alma/internal/gateway"
	"alma/internal/log"
	"alma/internal/session"
)

// balanceConcurrency bounds the balance requests of one dashboard load.
const balanceConcurrency = 4

type accountRow struct {
	core.Account
	Position int
}

type dashboardData struct {
	Profile  core.View[core.Profile]
	Accounts core.View[[]accountRow]
}

// handleDashboard renders the dashboard shell; the account list is loaded
// by the page through /ui/accounts.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, st *session.State) {
	ctx, cancel := context.WithTimeout(r.Context(), 7*time.Second)
	defer cancel()

	profile := core.Resolve(st.Backend.Me(ctx))
	if profile.IsFailed() {
		s.logBackendError(r, "dashboard", log.OpRead, profile.Err())
	}
	data := dashboardData{Profile: profile, Accounts: core.Loading[[]accountRow]()}
	s.renderPage(w, r, st, http.StatusOK, "dashboard.html", s.page(st, "Home", "home", data))
}

// handleAccountsPartial returns the account list partial.
func (s *Server) handleAccountsPartial(w http.ResponseWriter, r *http.Request, st *session.State) {
	ctx, cancel := context.WithTimeout(r.Context(), 7*time.Second)
	defer cancel()

	rows, err := s.loadAccounts(ctx, st)
	if err != nil {
		s.logBackendError(r, "dashboard", log.OpList, err)
	}
	data := dashboardData{Accounts: core.Resolve(rows, err)}
	s.renderPartial(w, r, st, nil, "accounts", s.page(st, "", "home", data))
}

// myAccounts lists the accounts stored for the user. A user whose bank
// link only lives in the backend's session store has no stored accounts,
// so a 404 falls back to the session's linked accounts.
func (s *Server) myAccounts(ctx context.Context, st *session.State) ([]core.Account, error) {
	accounts, err := st.Backend.MyAccounts(ctx, st.UserID())
	if gateway.IsStatus(err, http.StatusNotFound) {
		return st.Backend.Accounts(ctx)
	}
	return accounts, err
}

// loadAccounts lists the user's accounts and fills in missing balances
// concurrently. A failed balance leaves that account without one.
func (s *Server) loadAccounts(ctx context.Context, st *session.State) ([]accountRow, error) {
	accounts, err := s.myAccounts(ctx, st)
	if err != nil {
		return nil, err
	}

	var g errgroup.Group
	g.SetLimit(balanceConcurrency)
	for i := range accounts {
		if accounts[i].Balance != nil {
			continue
		}
		g.Go(func() error {
			bal, err := st.Backend.AccountBalance(ctx, accounts[i].ID)
			if err != nil {
				s.logger.WarnContext(ctx, "Balance unavailable",
					log.FieldAccountID, accounts[i].ID, log.FieldError, err)
				return nil
			}
			accounts[i].Balance = bal.Current
			accounts[i].Available = bal.Available
			if bal.Currency != "" {
				accounts[i].Currency = bal.Currency
			}
			return nil
		})
	}
	_ = g.Wait()

	rows := make([]accountRow, len(accounts))
	for i, a := range accounts {
		rows[i] = accountRow{Account: a, Position: i + 1}
	}
	return rows, nil
}

// findAccount returns the user's account with id and its position in the
// account list.
func (s *Server) findAccount(ctx context.Context, st *session.State, id string) (accountRow, bool, error) {
	accounts, err := s.myAccounts(ctx, st)
	if err != nil {
		return accountRow{}, false, err
	}
	for i, a := range accounts {
		if a.ID == id {
			return accountRow{Account: a, Position: i + 1}, true, nil
		}
	}
	return accountRow{}, false, nil
}

func (s *Server) handleAccountDetail(w http.ResponseWriter, r *http.Request, st *session.State) {
	ctx, cancel := context.WithTimeout(r.Context(), 7*time.Second)
	defer cancel()

	id := r.PathValue("id")
	row, found, err := s.findAccount(ctx, st, id)
	switch {
	case err != nil:
		s.logBackendError(r, "account", log.OpRead, err)
		s.renderPage(w, r, st, errorStatus(err), "error.html", s.page(st, "Account", "home", errorMessage(err)))
		return
	case !found:
		s.handleNotFound(w, r, st)
		return
	}

	st.Player.Speak(ctx, "account"+strconv.Itoa(row.Position))
	s.renderPage(w, r, st, http.StatusOK, "account.html", s.page(st, row.Name, "home", row))
}

type transactionsData struct {
	Heading string
	Back    string
	Groups  core.View[[]core.MonthGroup]
}

func (s *Server) handleAccountTransactions(w http.ResponseWriter, r *http.Request, st *session.State) {
	ctx, cancel := context.WithTimeout(r.Context(), 7*time.Second)
	defer cancel()

	id := r.PathValue("id")
	heading := "Account"
	if row, found, err := s.findAccount(ctx, st, id); err == nil && found {
		heading = row.Name
	}
	txs, err := st.Backend.MyTransactions(ctx, id, st.UserID())
	if gateway.IsStatus(err, http.StatusNotFound) {
		txs, err = st.Backend.AccountTransactions(ctx, id)
	}
	if err != nil {
		s.logBackendError(r, "transactions", log.OpList, err)
	}
	data := transactionsData{
		Heading: heading,
		Back:    "/accounts/" + id,
		Groups:  core.Resolve(core.GroupByMonth(txs, st.Locale()), err),
	}
	s.renderPage(w, r, st, http.StatusOK, "transactions.html", s.page(st, "Transactions", "home", data))
}

func (s *Server) handleCardTransactions(w http.ResponseWriter, r *http.Request, st *session.State) {
	ctx, cancel := context.WithTimeout(r.Context(), 7*time.Second)
	defer cancel()

	heading := "Card"
	if card, err := st.Backend.Card(ctx); err == nil && card != nil && card.ID == r.PathValue("id") && card.Last4 != "" {
		heading = "Card •••• " + card.Last4
	}
	txs, err := st.Backend.CardTransactions(ctx)
	if err != nil {
		s.logBackendError(r, "card-transactions", log.OpList, err)
	}
	data := transactionsData{
		Heading: heading,
		Back:    "/cards",
		Groups:  core.Resolve(core.GroupByMonth(txs, st.Locale()), err),
	}
	s.renderPage(w, r, st, http.StatusOK, "transactions.html", s.page(st, "Transactions", "cards", data))
}

type supportOption struct {
	Title       string
	Description string
	Action      string
	Href        string
}

var supportOptions = []supportOption{
	{Title: "Call Us", Description: "Speak to a real person. We're here 24/7.", Action: "0800 123 4567", Href: "tel:08001234567"},
	{Title: "Send a Message", Description: "We'll reply within 1 hour.", Action: "Start a chat"},
	{Title: "Common Questions", Description: "Find answers to common queries.", Action: "Browse FAQs"},
}

func (s *Server) handleSupport(w http.ResponseWriter, r *http.Request, st *session.State) {
	st.Player.Speak(r.Context(), "support")
	s.renderPage(w, r, st, http.StatusOK, "support.html", s.page(st, "Support", "support", supportOptions))
}
