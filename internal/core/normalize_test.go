package core

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

const accountRecords = `[
	{"account_id":"acc-1","display_name":"Current Account","account_type":"TRANSACTION","currency":"GBP",
	 "account_number":{"iban":"GB33BUKB20201555555555","number":"55555555","sort_code":"20-20-15"},"balance":1239.05},
	{"id":"acc-2","name":"Savings"}
]`

func TestNormalizeAccounts_Shapes(t *testing.T) {
	bare, err := NormalizeAccounts([]byte(accountRecords))
	if err != nil {
		t.Fatalf("bare array: %v", err)
	}
	results, err := NormalizeAccounts([]byte(`{"results":` + accountRecords + `}`))
	if err != nil {
		t.Fatalf("results wrapper: %v", err)
	}
	accounts, err := NormalizeAccounts([]byte(`{"accounts":` + accountRecords + `}`))
	if err != nil {
		t.Fatalf("accounts wrapper: %v", err)
	}
	if !reflect.DeepEqual(bare, results) || !reflect.DeepEqual(bare, accounts) {
		t.Fatalf("shapes normalized differently:\n%+v\n%+v\n%+v", bare, results, accounts)
	}
	if len(bare) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(bare))
	}

	first := bare[0]
	if first.ID != "acc-1" || first.Name != "Current Account" || first.SortCode != "20-20-15" ||
		first.AccountNumber != "55555555" || first.IBAN != "GB33BUKB20201555555555" {
		t.Fatalf("unexpected first account: %+v", first)
	}
	if first.Balance == nil || first.Balance.Cents != 123905 {
		t.Fatalf("unexpected balance: %+v", first.Balance)
	}

	second := bare[1]
	if second.Type != DefaultAccountType || second.Currency != DefaultCurrency {
		t.Fatalf("defaults not applied: %+v", second)
	}
	if second.Balance != nil {
		t.Fatalf("absent balance should stay nil, got %+v", second.Balance)
	}
}

func TestNormalizeAccounts_NonNumericBalance(t *testing.T) {
	got, err := NormalizeAccounts([]byte(`[{"id":"a","balance":"n/a"},{"id":"b","balance":"42.10"}]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0].Balance != nil {
		t.Fatalf("non-numeric balance should be absent, got %+v", got[0].Balance)
	}
	if got[1].Balance == nil || got[1].Balance.Cents != 4210 {
		t.Fatalf("numeric string balance not parsed: %+v", got[1].Balance)
	}
}

func TestNormalize_Unrecognized(t *testing.T) {
	payloads := []string{
		``,
		`"accounts"`,
		`42`,
		`{"data":[]}`,
		`{"results":{"id":"x"}}`,
		`[1,2,3]`,
		`{not json`,
	}
	for _, p := range payloads {
		if _, err := NormalizeAccounts([]byte(p)); !errors.Is(err, ErrUnrecognizedPayload) {
			t.Fatalf("%q: expected ErrUnrecognizedPayload, got %v", p, err)
		}
	}
}

func TestNormalize_EmptyAndNullLists(t *testing.T) {
	for _, p := range []string{`[]`, `{"results":[]}`, `{"transactions":null}`} {
		got, err := NormalizeTransactions([]byte(p))
		if err != nil {
			t.Fatalf("%q: unexpected error %v", p, err)
		}
		if len(got) != 0 {
			t.Fatalf("%q: expected no transactions, got %d", p, len(got))
		}
	}
}

func TestNormalizeTransactions(t *testing.T) {
	payload := `{"transactions":[
		{"transaction_id":"t1","timestamp":"2020-12-03T10:00:00Z","description":"TESCO","amount":-12.5,"currency":"gbp"},
		{"id":"t2","date":"2020-10-01","merchant":"Cafe","amount":"3.20","type":"capture"},
		{"id":"t3","timestamp":"yesterday","amount":1}
	]}`
	got, err := NormalizeTransactions([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(got))
	}
	if got[0].Amount.Cents != -1250 || got[0].Currency != "GBP" || got[0].Description != "TESCO" {
		t.Fatalf("unexpected first transaction: %+v", got[0])
	}
	if !got[0].Timestamp.Equal(time.Date(2020, 12, 3, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp: %v", got[0].Timestamp)
	}
	if got[1].Amount.Cents != -320 || got[1].Description != "Cafe" || got[1].Currency != DefaultCurrency {
		t.Fatalf("card capture not normalized: %+v", got[1])
	}
	if !got[2].Timestamp.IsZero() {
		t.Fatalf("unparseable timestamp should be zero, got %v", got[2].Timestamp)
	}
}

func TestNormalizeBalance(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		current int64
	}{
		{"results", `{"results":[{"current":100.5,"available":90,"currency":"GBP"}]}`, 10050},
		{"bare object", `{"current":"7.00","currency":"GBP"}`, 700},
		{"bare array", `[{"balance":1}]`, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := NormalizeBalance([]byte(tc.payload))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.Current == nil || b.Current.Cents != tc.current {
				t.Fatalf("current = %+v, want %d", b.Current, tc.current)
			}
		})
	}
}
