// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts from strings
// and for converting between cents, decimals and localized display strings.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var hundred = decimal.NewFromInt(100)

// ParseDecimalToCents converts a positive decimal string to cents.
//
// Both dot (12.34) and comma (12,34) separators are accepted and the third
// decimal place is rounded half-up. Signs, zero and malformed input are
// rejected with ErrInvalidAmount.
//
// Examples:
//
//	ParseDecimalToCents("25.50") -> 2550, nil
//	ParseDecimalToCents("12,345") -> 1235, nil
//	ParseDecimalToCents("0") -> 0, ErrInvalidAmount
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "+-eE") {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	m, err := MoneyFromDecimal(d)
	if err != nil {
		return 0, err
	}
	if m.Cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return m.Cents, nil
}

// MoneyFromDecimal rounds d half-up to whole cents.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	cents := d.Mul(hundred).Round(0)
	if !cents.IsInteger() || cents.Abs().GreaterThan(decimal.NewFromInt(maxCents)) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents.IntPart()}, nil
}

const maxCents = (1<<63 - 1) / 100

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String renders the amount with two fixed decimals, e.g. "25.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Abs returns the absolute amount.
func (m Money) Abs() Money {
	if m.Cents < 0 {
		return Money{Cents: -m.Cents}
	}
	return m
}

// IsNegative reports whether the amount is a debit.
func (m Money) IsNegative() bool { return m.Cents < 0 }

// Validate ensures the amount is strictly positive.
func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

var currencySymbols = map[string]string{
	"GBP": "£",
	"EUR": "€",
	"USD": "$",
}

// CurrencySymbol returns the display symbol for an ISO currency code.
// Unknown codes are rendered as "CODE ".
func CurrencySymbol(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if sym, ok := currencySymbols[code]; ok {
		return sym
	}
	if code == "" {
		return currencySymbols[DefaultCurrency]
	}
	return code + " "
}

// FormatMoney renders m with its currency symbol and locale-aware digit
// grouping, always with two decimals: "£25.50", "€1,239.05", "-€30.00".
// Whole units and cents are printed separately so large amounts stay exact.
func FormatMoney(m Money, currency string, tag language.Tag) string {
	p := message.NewPrinter(tag)
	abs := m.Abs()
	s := CurrencySymbol(currency) +
		p.Sprint(number.Decimal(abs.Cents/100)) +
		decimalSeparator(p) +
		fmt.Sprintf("%02d", abs.Cents%100)
	if m.IsNegative() {
		return "-" + s
	}
	return s
}

// decimalSeparator is the mark p places between units and fractions.
func decimalSeparator(p *message.Printer) string {
	half := []rune(p.Sprint(number.Decimal(0.5, number.Scale(1))))
	if len(half) != 3 {
		return "."
	}
	return string(half[1])
}
