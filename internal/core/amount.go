package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmountLength bounds the keypad buffer, decimal point included.
const MaxAmountLength = 7

// AmountBuffer is the text typed on the amount keypad. The zero value is an
// empty buffer. It never holds more than one decimal point, more than two
// fractional digits or more than MaxAmountLength characters.
type AmountBuffer struct {
	text string
}

// Append adds a digit or '.' and reports whether the buffer changed.
// Appends that would break the buffer's invariants are ignored.
func (b *AmountBuffer) Append(r rune) bool {
	if r != '.' && (r < '0' || r > '9') {
		return false
	}
	if len(b.text) >= MaxAmountLength {
		return false
	}
	dot := strings.IndexByte(b.text, '.')
	if r == '.' && dot >= 0 {
		return false
	}
	if dot >= 0 && len(b.text)-dot-1 >= 2 {
		return false
	}
	b.text += string(r)
	return true
}

// Delete removes the last character. It is a no-op on an empty buffer.
func (b *AmountBuffer) Delete() bool {
	if b.text == "" {
		return false
	}
	b.text = b.text[:len(b.text)-1]
	return true
}

func (b *AmountBuffer) Reset() { b.text = "" }

func (b AmountBuffer) String() string { return b.text }

// Display is the buffer as shown on the keypad screen.
func (b AmountBuffer) Display() string {
	if b.text == "" {
		return "0"
	}
	return b.text
}

// Value parses the buffer. An empty or lone "." buffer is ErrInvalidAmount.
func (b AmountBuffer) Value() (Money, error) {
	s := b.text
	if s == "" || s == "." {
		return Money{}, ErrInvalidAmount
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(s, "."))
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return MoneyFromDecimal(d)
}

// Positive reports whether the buffer parses to an amount above zero.
func (b AmountBuffer) Positive() bool {
	m, err := b.Value()
	return err == nil && m.Cents > 0
}

// AmountBufferFrom seeds a buffer by replaying s through Append.
func AmountBufferFrom(s string) AmountBuffer {
	var b AmountBuffer
	for _, r := range s {
		b.Append(r)
	}
	return b
}
