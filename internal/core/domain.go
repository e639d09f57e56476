package core

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultAccountType = "Personal Account"
	DefaultCurrency    = "EUR"
)

const (
	CardActive   CardStatus = "active"
	CardInactive CardStatus = "inactive"
	CardFrozen   CardStatus = "frozen"
	CardCanceled CardStatus = "canceled"
)

const (
	RoleUser     = "user"
	RoleOverseer = "overseer"
)

type (
	Money struct {
		Cents int64
	}

	// Account is the canonical bank account record. Balance and Available
	// are nil when the backend did not report them.
	Account struct {
		ID            string
		Name          string
		Type          string
		Currency      string
		SortCode      string
		AccountNumber string
		IBAN          string
		Balance       *Money
		Available     *Money
	}

	// Transaction amounts are signed: debits are negative. Timestamp is the
	// zero time when the backend value could not be parsed.
	Transaction struct {
		ID          string
		Description string
		Amount      Money
		Currency    string
		Timestamp   time.Time
		Category    string
	}

	Contact struct {
		ID       int
		Name     string
		Relation string
	}

	Payee struct {
		Name          string
		SortCode      string
		AccountNumber string
	}

	// Recipient is the payee of a transfer: either a known contact
	// (ContactID > 0) or an ad hoc payee with bank details.
	Recipient struct {
		ContactID     int
		Name          string
		SortCode      string
		AccountNumber string
	}

	CardStatus string

	Address struct {
		Line       string
		City       string
		PostalCode string
	}

	Card struct {
		ID                string
		Last4             string
		Status            CardStatus
		Brand             string
		WeeklyLimit       Money
		Currency          string
		ExpirationMonths  int
		ExpMonth          int
		ExpYear           int
		Billing           Address
		BlockedCategories []string
	}

	// ManagedUser is a primary user as seen from the overseer portal.
	ManagedUser struct {
		ID    string
		Name  string
		Email string
	}

	Profile struct {
		ID         string
		Name       string
		Email      string
		BankLinked bool
	}
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrIncompletePayee     = errors.New("payee name, sort code and account number are required")
	ErrUnrecognizedPayload = errors.New("unrecognized payload shape")
	ErrInvalidCardLimit    = errors.New("weekly limit must be positive")
	ErrInvalidExpiration   = errors.New("expiration must be between 1 and 60 months")
)

// DefaultContacts are the known payees offered on the first wizard step.
var DefaultContacts = []Contact{
	{ID: 1, Name: "Sarah", Relation: "Granddaughter"},
	{ID: 2, Name: "James", Relation: "Son"},
	{ID: 3, Name: "Dr. Wilson", Relation: "Doctor"},
	{ID: 4, Name: "Mrs. Chen", Relation: "Neighbour"},
}

// BlockedCategoryOptions lists the merchant categories an overseer can block.
var BlockedCategoryOptions = []string{
	"Alcohol & Tobacco",
	"Gambling",
	"Adult Entertainment",
	"Fast Food",
	"Subscriptions",
}

// FindContact returns the known contact with the given id.
func FindContact(id int) (Contact, bool) {
	for _, c := range DefaultContacts {
		if c.ID == id {
			return c, true
		}
	}
	return Contact{}, false
}

// VoiceKey is the phrase key announced when the contact is selected.
func (c Contact) VoiceKey() string {
	return "contact" + strconv.Itoa(c.ID)
}

// Validate requires every payee field to be non-blank.
func (p Payee) Validate() error {
	if strings.TrimSpace(p.Name) == "" ||
		strings.TrimSpace(p.SortCode) == "" ||
		strings.TrimSpace(p.AccountNumber) == "" {
		return ErrIncompletePayee
	}
	return nil
}

// Complete reports whether Validate would succeed.
func (p Payee) Complete() bool { return p.Validate() == nil }

func RecipientFromContact(c Contact) Recipient {
	return Recipient{ContactID: c.ID, Name: c.Name}
}

func RecipientFromPayee(p Payee) Recipient {
	return Recipient{
		Name:          strings.TrimSpace(p.Name),
		SortCode:      strings.TrimSpace(p.SortCode),
		AccountNumber: strings.TrimSpace(p.AccountNumber),
	}
}

// IsNewPayee reports whether the recipient was entered by hand.
func (r Recipient) IsNewPayee() bool { return r.ContactID == 0 }

// Frozen reports whether card spending is currently blocked.
func (c Card) Frozen() bool {
	return c.Status == CardFrozen || c.Status == CardInactive
}

// Initials returns up to two upper-case initials for an avatar.
func Initials(name string) string {
	var out []rune
	for _, f := range strings.Fields(name) {
		r := []rune(strings.TrimRight(f, "."))
		if len(r) == 0 {
			continue
		}
		out = append(out, r[0])
		if len(out) == 2 {
			break
		}
	}
	return strings.ToUpper(string(out))
}

// CardSpec is the provisioning request for a new virtual card.
type CardSpec struct {
	WeeklyLimit       Money
	ExpirationMonths  int
	Billing           Address
	BlockedCategories []string
}

func (s CardSpec) Validate() error {
	if s.WeeklyLimit.Cents <= 0 {
		return ErrInvalidCardLimit
	}
	if s.ExpirationMonths < 1 || s.ExpirationMonths > 60 {
		return ErrInvalidExpiration
	}
	return nil
}
