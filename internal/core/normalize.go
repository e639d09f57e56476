package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Balance is a normalized account balance.
type Balance struct {
	Current   *Money
	Available *Money
	Currency  string
}

// NormalizeAccounts accepts a bare array, {"results": [...]} or
// {"accounts": [...]} and returns canonical accounts in payload order.
func NormalizeAccounts(raw []byte) ([]Account, error) {
	records, err := unwrapRecords(raw, "accounts")
	if err != nil {
		return nil, fmt.Errorf("normalize accounts: %w", err)
	}
	out := make([]Account, 0, len(records))
	for _, r := range records {
		out = append(out, accountFromRecord(r))
	}
	return out, nil
}

// NormalizeTransactions accepts a bare array, {"results": [...]} or
// {"transactions": [...]} and returns canonical transactions in payload order.
func NormalizeTransactions(raw []byte) ([]Transaction, error) {
	records, err := unwrapRecords(raw, "transactions")
	if err != nil {
		return nil, fmt.Errorf("normalize transactions: %w", err)
	}
	out := make([]Transaction, 0, len(records))
	for _, r := range records {
		out = append(out, transactionFromRecord(r))
	}
	return out, nil
}

// NormalizeBalance accepts the wrapped or bare balance shapes and returns
// the first balance record. A payload without records yields an empty Balance.
func NormalizeBalance(raw []byte) (Balance, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		obj, err := decodeObject(trimmed)
		if err != nil {
			return Balance{}, fmt.Errorf("normalize balance: %w", err)
		}
		if _, wrapped := obj["results"]; !wrapped {
			return balanceFromRecord(obj), nil
		}
	}
	records, err := unwrapRecords(trimmed, "balances")
	if err != nil {
		return Balance{}, fmt.Errorf("normalize balance: %w", err)
	}
	if len(records) == 0 {
		return Balance{Currency: DefaultCurrency}, nil
	}
	return balanceFromRecord(records[0]), nil
}

type record map[string]any

func unwrapRecords(raw []byte, listKey string) ([]record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ErrUnrecognizedPayload
	}
	var items []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
		}
		list, ok := obj["results"]
		if !ok {
			list, ok = obj[listKey]
		}
		if !ok {
			return nil, ErrUnrecognizedPayload
		}
		if string(bytes.TrimSpace(list)) == "null" {
			return nil, nil
		}
		if err := json.Unmarshal(list, &items); err != nil {
			return nil, fmt.Errorf("%w: %s is not a list", ErrUnrecognizedPayload, listKey)
		}
	default:
		return nil, ErrUnrecognizedPayload
	}

	out := make([]record, 0, len(items))
	for i, item := range items {
		r, err := decodeObject(item)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d is not an object", ErrUnrecognizedPayload, i)
		}
		out = append(out, r)
	}
	return out, nil
}

func decodeObject(raw []byte) (record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var r record
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrUnrecognizedPayload
	}
	return r, nil
}

func accountFromRecord(r record) Account {
	a := Account{
		ID:       r.str("account_id", "id"),
		Name:     r.str("display_name", "name", "account_name"),
		Type:     r.str("account_type", "type"),
		Currency: strings.ToUpper(r.str("currency")),
		SortCode: r.str("sort_code", "sortCode"),
		IBAN:     r.str("iban"),
	}
	switch v := r["account_number"].(type) {
	case map[string]any:
		nested := record(v)
		a.AccountNumber = nested.str("number", "account_number")
		if a.SortCode == "" {
			a.SortCode = nested.str("sort_code", "sortCode")
		}
		if a.IBAN == "" {
			a.IBAN = nested.str("iban")
		}
	default:
		a.AccountNumber = r.str("account_number", "accountNumber", "number")
	}
	if a.Type == "" {
		a.Type = DefaultAccountType
	}
	if a.Currency == "" {
		a.Currency = DefaultCurrency
	}
	if a.Name == "" {
		a.Name = a.Type
	}

	if nested, ok := r["balance"].(map[string]any); ok {
		b := balanceFromRecord(record(nested))
		a.Balance, a.Available = b.Current, b.Available
	} else {
		a.Balance = r.money("balance", "current")
		a.Available = r.money("available")
	}
	return a
}

func transactionFromRecord(r record) Transaction {
	t := Transaction{
		ID:          r.str("transaction_id", "id"),
		Description: r.str("description", "merchant_name", "merchant", "name"),
		Currency:    strings.ToUpper(r.str("currency")),
		Category:    r.str("transaction_category", "merchant_category", "category"),
		Timestamp:   r.timestamp("timestamp", "date", "created", "booking_date"),
	}
	if m := r.money("amount"); m != nil {
		t.Amount = *m
	}
	// Card captures and DEBIT rows may be reported as positive magnitudes.
	kind := strings.ToLower(r.str("transaction_type", "type"))
	if t.Amount.Cents > 0 && (kind == "debit" || kind == "capture") {
		t.Amount.Cents = -t.Amount.Cents
	}
	if t.Currency == "" {
		t.Currency = DefaultCurrency
	}
	if t.Description == "" {
		t.Description = "Transaction"
	}
	return t
}

func balanceFromRecord(r record) Balance {
	b := Balance{
		Current:   r.money("current", "balance"),
		Available: r.money("available"),
		Currency:  strings.ToUpper(r.str("currency")),
	}
	if b.Currency == "" {
		b.Currency = DefaultCurrency
	}
	return b
}

func (r record) str(keys ...string) string {
	for _, k := range keys {
		switch v := r[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// money returns nil when no key holds a numeric value.
func (r record) money(keys ...string) *Money {
	for _, k := range keys {
		var d decimal.Decimal
		var err error
		switch v := r[k].(type) {
		case json.Number:
			d, err = decimal.NewFromString(v.String())
		case string:
			d, err = decimal.NewFromString(strings.TrimSpace(v))
		default:
			continue
		}
		if err != nil {
			continue
		}
		m, err := MoneyFromDecimal(d)
		if err != nil {
			continue
		}
		return &m
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// timestamp returns the zero time when no key holds a parseable timestamp.
func (r record) timestamp(keys ...string) time.Time {
	for _, k := range keys {
		switch v := r[k].(type) {
		case string:
			s := strings.TrimSpace(v)
			for _, layout := range timestampLayouts {
				if ts, err := time.Parse(layout, s); err == nil {
					return ts
				}
			}
		case json.Number:
			if secs, err := strconv.ParseInt(v.String(), 10, 64); err == nil && secs > 0 {
				return time.Unix(secs, 0).UTC()
			}
		}
	}
	return time.Time{}
}
