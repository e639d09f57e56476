package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"alma/internal/core"
)

var ErrInvalidID = errors.New("invalid resource id")

// SignupRequest creates a primary user together with the overseer that will
// look after them.
type SignupRequest struct {
	Name             string `json:"name"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	OverseerName     string `json:"overseer_name"`
	OverseerNumber   string `json:"overseer_number"`
	OverseerPassword string `json:"overseer_password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type OverseerLoginRequest struct {
	Number   string `json:"number"`
	Password string `json:"password"`
}

type linkBankRequest struct {
	UserID   string `json:"user_id"`
	AuthCode string `json:"auth_code"`
}

type createCardRequest struct {
	WeeklyLimitEuros  json.Number `json:"weekly_limit_euros"`
	ExpirationMonths  int         `json:"expiration_months"`
	BillingAddress    string      `json:"billing_address"`
	BillingCity       string      `json:"billing_city"`
	BillingPostal     string      `json:"billing_postal"`
	BlockedCategories []string    `json:"blocked_categories"`
}

type cardActionRequest struct {
	CardID string `json:"card_id"`
}

type cardLimitRequest struct {
	CardID           string      `json:"card_id"`
	WeeklyLimitEuros json.Number `json:"weekly_limit_euros"`
}

// PaymentRequest is the body of POST /api/payments/create. Amount is sent
// as an exact decimal number, never through a float.
type PaymentRequest struct {
	Recipient paymentRecipient `json:"recipient"`
	Amount    json.Number      `json:"amount"`
	AccountID string           `json:"accountId"`
	Currency  string           `json:"currency,omitempty"`
}

type paymentRecipient struct {
	Name          string `json:"name"`
	ContactID     int    `json:"contact_id,omitempty"`
	SortCode      string `json:"sort_code,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
}

// NewPaymentRequest builds the payment body for a recipient and amount.
func NewPaymentRequest(r core.Recipient, amount core.Money, currency, accountID string) PaymentRequest {
	return PaymentRequest{
		Recipient: paymentRecipient{
			Name:          r.Name,
			ContactID:     r.ContactID,
			SortCode:      r.SortCode,
			AccountNumber: r.AccountNumber,
		},
		Amount:    moneyNumber(amount),
		AccountID: accountID,
		Currency:  currency,
	}
}

// Payment is the backend's answer to a payment request.
type Payment struct {
	ID      string
	Status  string
	Message string
}

func moneyNumber(m core.Money) json.Number {
	return json.Number(m.String())
}

func pathID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, "/?#") {
		return "", ErrInvalidID
	}
	return id, nil
}

// Signup calls POST /api/user/create.
func (s *Session) Signup(ctx context.Context, req SignupRequest) (core.Profile, error) {
	raw, err := s.post(ctx, "/api/user/create", req)
	if err != nil {
		return core.Profile{}, err
	}
	return decodeProfile(raw)
}

// Login calls POST /api/user/login.
func (s *Session) Login(ctx context.Context, req LoginRequest) (core.Profile, error) {
	raw, err := s.post(ctx, "/api/user/login", req)
	if err != nil {
		return core.Profile{}, err
	}
	return decodeProfile(raw)
}

// Logout calls POST /api/user/logout and drops the backend cookies even
// when the call fails.
func (s *Session) Logout(ctx context.Context) error {
	_, err := s.post(ctx, "/api/user/logout", struct{}{})
	s.Clear()
	return err
}

// Me calls GET /api/user/me.
func (s *Session) Me(ctx context.Context) (core.Profile, error) {
	raw, err := s.get(ctx, "/api/user/me", nil)
	if err != nil {
		return core.Profile{}, err
	}
	return decodeProfile(raw)
}

// Accounts calls GET /api/truelayer/accounts.
func (s *Session) Accounts(ctx context.Context) ([]core.Account, error) {
	raw, err := s.get(ctx, "/api/truelayer/accounts", nil)
	if err != nil {
		return nil, err
	}
	return core.NormalizeAccounts(raw)
}

// AuthURL calls GET /api/truelayer/auth-url and returns the bank consent URL.
func (s *Session) AuthURL(ctx context.Context) (string, error) {
	var out struct {
		AuthURL string `json:"auth_url"`
	}
	if err := s.getJSON(ctx, "/api/truelayer/auth-url", nil, &out); err != nil {
		return "", err
	}
	if out.AuthURL == "" {
		return "", errors.New("backend returned no auth_url")
	}
	return out.AuthURL, nil
}

// LinkBank calls POST /api/truelayer/link-bank and returns the accounts the
// backend linked.
func (s *Session) LinkBank(ctx context.Context, userID, authCode string) ([]core.Account, error) {
	raw, err := s.post(ctx, "/api/truelayer/link-bank", linkBankRequest{UserID: userID, AuthCode: authCode})
	if err != nil {
		return nil, err
	}
	var body struct {
		Accounts json.RawMessage `json:"accounts"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Accounts) == 0 || string(body.Accounts) == "null" {
		return nil, nil
	}
	return core.NormalizeAccounts(body.Accounts)
}

// AccountTransactions calls GET /api/truelayer/accounts/{id}/transactions.
func (s *Session) AccountTransactions(ctx context.Context, accountID string) ([]core.Transaction, error) {
	id, err := pathID(accountID)
	if err != nil {
		return nil, err
	}
	raw, err := s.get(ctx, "/api/truelayer/accounts/"+id+"/transactions", nil)
	if err != nil {
		return nil, err
	}
	return core.NormalizeTransactions(raw)
}

// AccountBalance calls GET /api/truelayer/accounts/{id}/balance.
func (s *Session) AccountBalance(ctx context.Context, accountID string) (core.Balance, error) {
	id, err := pathID(accountID)
	if err != nil {
		return core.Balance{}, err
	}
	raw, err := s.get(ctx, "/api/truelayer/accounts/"+id+"/balance", nil)
	if err != nil {
		return core.Balance{}, err
	}
	return core.NormalizeBalance(raw)
}

// MyAccounts calls GET /api/truelayer/my-accounts?user_id=.
func (s *Session) MyAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	raw, err := s.get(ctx, "/api/truelayer/my-accounts", url.Values{"user_id": {userID}})
	if err != nil {
		return nil, err
	}
	return core.NormalizeAccounts(raw)
}

// MyTransactions calls GET /api/truelayer/my-transactions/{id}?user_id=.
func (s *Session) MyTransactions(ctx context.Context, accountID, userID string) ([]core.Transaction, error) {
	id, err := pathID(accountID)
	if err != nil {
		return nil, err
	}
	raw, err := s.get(ctx, "/api/truelayer/my-transactions/"+id, url.Values{"user_id": {userID}})
	if err != nil {
		return nil, err
	}
	return core.NormalizeTransactions(raw)
}

// Card calls GET /api/issuing/card. A 404 means the user has no card and is
// reported as (nil, nil).
func (s *Session) Card(ctx context.Context) (*core.Card, error) {
	raw, err := s.get(ctx, "/api/issuing/card", nil)
	if IsStatus(err, 404) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	card, err := decodeCard(raw)
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// CreateCard calls POST /api/issuing/card/create.
func (s *Session) CreateCard(ctx context.Context, spec core.CardSpec) (core.Card, error) {
	if err := spec.Validate(); err != nil {
		return core.Card{}, err
	}
	blocked := spec.BlockedCategories
	if blocked == nil {
		blocked = []string{}
	}
	raw, err := s.post(ctx, "/api/issuing/card/create", createCardRequest{
		WeeklyLimitEuros:  moneyNumber(spec.WeeklyLimit),
		ExpirationMonths:  spec.ExpirationMonths,
		BillingAddress:    spec.Billing.Line,
		BillingCity:       spec.Billing.City,
		BillingPostal:     spec.Billing.PostalCode,
		BlockedCategories: blocked,
	})
	if err != nil {
		return core.Card{}, err
	}
	card, err := decodeCard(raw)
	if err != nil {
		return core.Card{}, err
	}
	// The create response echoes the request only partially.
	if card.WeeklyLimit.Cents == 0 {
		card.WeeklyLimit = spec.WeeklyLimit
	}
	if card.ExpirationMonths == 0 {
		card.ExpirationMonths = spec.ExpirationMonths
	}
	if card.Billing == (core.Address{}) {
		card.Billing = spec.Billing
	}
	if len(card.BlockedCategories) == 0 {
		card.BlockedCategories = spec.BlockedCategories
	}
	return card, nil
}

// FreezeCard calls POST /api/issuing/card/freeze.
func (s *Session) FreezeCard(ctx context.Context, cardID string) (core.CardStatus, error) {
	return s.cardAction(ctx, "/api/issuing/card/freeze", cardID, core.CardFrozen)
}

// UnfreezeCard calls POST /api/issuing/card/unfreeze.
func (s *Session) UnfreezeCard(ctx context.Context, cardID string) (core.CardStatus, error) {
	return s.cardAction(ctx, "/api/issuing/card/unfreeze", cardID, core.CardActive)
}

func (s *Session) cardAction(ctx context.Context, path, cardID string, fallback core.CardStatus) (core.CardStatus, error) {
	id, err := pathID(cardID)
	if err != nil {
		return "", err
	}
	var out struct {
		Status string `json:"status"`
		Frozen *bool  `json:"frozen"`
	}
	if err := s.postJSON(ctx, path, cardActionRequest{CardID: id}, &out); err != nil {
		return "", err
	}
	switch {
	case out.Frozen != nil && *out.Frozen:
		return core.CardFrozen, nil
	case out.Status != "":
		return core.CardStatus(out.Status), nil
	}
	return fallback, nil
}

// UpdateCardLimit calls POST /api/issuing/card/limit.
func (s *Session) UpdateCardLimit(ctx context.Context, cardID string, weekly core.Money) error {
	id, err := pathID(cardID)
	if err != nil {
		return err
	}
	if weekly.Cents <= 0 {
		return core.ErrInvalidCardLimit
	}
	_, err = s.post(ctx, "/api/issuing/card/limit", cardLimitRequest{CardID: id, WeeklyLimitEuros: moneyNumber(weekly)})
	return err
}

// CardTransactions calls GET /api/issuing/card/transactions. A 404 means
// there is no card yet and yields no transactions.
func (s *Session) CardTransactions(ctx context.Context) ([]core.Transaction, error) {
	raw, err := s.get(ctx, "/api/issuing/card/transactions", nil)
	if IsStatus(err, 404) {
		return []core.Transaction{}, nil
	}
	if err != nil {
		return nil, err
	}
	return core.NormalizeTransactions(raw)
}

// CreatePayment calls POST /api/payments/create.
func (s *Session) CreatePayment(ctx context.Context, req PaymentRequest) (Payment, error) {
	if _, err := decimal.NewFromString(req.Amount.String()); err != nil {
		return Payment{}, core.ErrInvalidAmount
	}
	var out struct {
		ID              string `json:"id"`
		PaymentIntentID string `json:"payment_intent_id"`
		Status          string `json:"status"`
		Message         string `json:"alma_message"`
	}
	if err := s.postJSON(ctx, "/api/payments/create", req, &out); err != nil {
		return Payment{}, err
	}
	p := Payment{ID: out.ID, Status: out.Status, Message: out.Message}
	if p.ID == "" {
		p.ID = out.PaymentIntentID
	}
	return p, nil
}

// OverseerLogin calls POST /api/overseer/login.
func (s *Session) OverseerLogin(ctx context.Context, req OverseerLoginRequest) (core.Profile, error) {
	raw, err := s.post(ctx, "/api/overseer/login", req)
	if err != nil {
		return core.Profile{}, err
	}
	return decodeProfile(raw)
}

// OverseerUsers calls GET /api/overseer/users.
func (s *Session) OverseerUsers(ctx context.Context) ([]core.ManagedUser, error) {
	raw, err := s.get(ctx, "/api/overseer/users", nil)
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Users []userJSON `json:"users"`
	}
	var users []userJSON
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Users != nil {
		users = wrapped.Users
	} else if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("decode overseer users: %w", core.ErrUnrecognizedPayload)
	}
	out := make([]core.ManagedUser, 0, len(users))
	for _, u := range users {
		out = append(out, core.ManagedUser{ID: u.id(), Name: u.Name, Email: u.Email})
	}
	return out, nil
}

type userJSON struct {
	ID               json.RawMessage `json:"id"`
	UserID           string          `json:"user_id"`
	StripeCustomerID string          `json:"stripe_customer_id"`
	Name             string          `json:"name"`
	Email            string          `json:"email"`
	BankLinked       bool            `json:"bank_linked"`
	AccessToken      string          `json:"access_token"`
}

func (u userJSON) id() string {
	if u.UserID != "" {
		return u.UserID
	}
	if len(u.ID) > 0 {
		var s string
		if json.Unmarshal(u.ID, &s) == nil {
			return s
		}
		var n json.Number
		if json.Unmarshal(u.ID, &n) == nil {
			return n.String()
		}
	}
	return u.StripeCustomerID
}

func decodeProfile(raw []byte) (core.Profile, error) {
	var body struct {
		userJSON
		User *userJSON `json:"user"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return core.Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	u := body.userJSON
	if body.User != nil {
		u = *body.User
	}
	return core.Profile{
		ID:         u.id(),
		Name:       u.Name,
		Email:      u.Email,
		BankLinked: u.BankLinked || u.AccessToken != "",
	}, nil
}

type cardJSON struct {
	CardID            string          `json:"card_id"`
	ID                string          `json:"id"`
	Last4             string          `json:"last4"`
	Status            string          `json:"status"`
	Brand             string          `json:"brand"`
	SpendingLimit     json.Number     `json:"spending_limit"`
	WeeklyLimitEuros  json.Number     `json:"weekly_limit_euros"`
	Currency          string          `json:"currency"`
	ExpirationMonths  int             `json:"expiration_months"`
	ExpMonth          int             `json:"exp_month"`
	ExpYear           int             `json:"exp_year"`
	BillingAddress    string          `json:"billing_address"`
	BillingCity       string          `json:"billing_city"`
	BillingPostal     string          `json:"billing_postal"`
	BlockedCategories []string        `json:"blocked_categories"`
	SpendingControls  *spendingLimits `json:"spending_controls"`
}

type spendingLimits struct {
	Limits []struct {
		Amount   int64  `json:"amount"`
		Interval string `json:"interval"`
	} `json:"spending_limits"`
}

func decodeCard(raw []byte) (core.Card, error) {
	var c cardJSON
	if err := json.Unmarshal(raw, &c); err != nil {
		return core.Card{}, fmt.Errorf("decode card: %w", err)
	}
	card := core.Card{
		ID:                c.CardID,
		Last4:             c.Last4,
		Status:            core.CardStatus(strings.ToLower(c.Status)),
		Brand:             c.Brand,
		Currency:          strings.ToUpper(c.Currency),
		ExpirationMonths:  c.ExpirationMonths,
		ExpMonth:          c.ExpMonth,
		ExpYear:           c.ExpYear,
		Billing:           core.Address{Line: c.BillingAddress, City: c.BillingCity, PostalCode: c.BillingPostal},
		BlockedCategories: c.BlockedCategories,
	}
	if card.ID == "" {
		card.ID = c.ID
	}
	if card.Status == "" {
		card.Status = core.CardActive
	}
	if card.Currency == "" {
		card.Currency = core.DefaultCurrency
	}
	for _, n := range []json.Number{c.SpendingLimit, c.WeeklyLimitEuros} {
		if n == "" {
			continue
		}
		if d, err := decimal.NewFromString(n.String()); err == nil {
			if m, err := core.MoneyFromDecimal(d); err == nil {
				card.WeeklyLimit = m
				break
			}
		}
	}
	if card.WeeklyLimit.Cents == 0 && c.SpendingControls != nil {
		for _, l := range c.SpendingControls.Limits {
			if l.Interval == "weekly" {
				card.WeeklyLimit = core.Money{Cents: l.Amount}
				break
			}
		}
	}
	if card.ID == "" {
		return core.Card{}, fmt.Errorf("decode card: %w", core.ErrUnrecognizedPayload)
	}
	return card, nil
}

// ParseCardLimit parses a weekly limit typed in whole or decimal euros.
func ParseCardLimit(s string) (core.Money, error) {
	cents, err := core.ParseDecimalToCents(s)
	if err != nil {
		return core.Money{}, core.ErrInvalidCardLimit
	}
	return core.Money{Cents: cents}, nil
}

// ParseExpiration parses a card lifetime in months.
func ParseExpiration(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 60 {
		return 0, core.ErrInvalidExpiration
	}
	return n, nil
}
