package wizard

import "alma/internal/core"

// Snapshot is a consistent copy of the wizard state for rendering.
type Snapshot struct {
	Step         Step
	Recipient    core.Recipient
	HasRecipient bool
	NewPayeeOpen bool
	Draft        core.Payee
	AmountText   string
	Amount       core.Money
	Currency     string
	AccountName  string
	InFlight     bool
	Receipt      Receipt
	Err          error
}

// Snapshot returns the current state.
func (w *Wizard) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	amount, _ := w.amount.Value()
	return Snapshot{
		Step:         w.step,
		Recipient:    w.recipient,
		HasRecipient: w.hasRecipient,
		NewPayeeOpen: w.newPayeeOpen,
		Draft:        w.draft,
		AmountText:   w.amount.Display(),
		Amount:       amount,
		Currency:     w.currency,
		AccountName:  w.accountName,
		InFlight:     w.inFlight,
		Receipt:      w.receipt,
		Err:          w.lastErr,
	}
}

// CanContinue reports whether the advancing control of the current step is
// enabled: a complete payee on step one, a positive amount on step two.
func (s Snapshot) CanContinue() bool {
	switch s.Step {
	case SelectRecipient:
		return s.Draft.Complete()
	case EnterAmount:
		return s.Amount.Cents > 0
	case Review:
		return !s.InFlight
	}
	return false
}

// ErrorMessage is the inline error text, empty when there is none.
func (s Snapshot) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Progress is the 1-based step number, for the progress indicator.
func (s Snapshot) Progress() int { return int(s.Step) }

// Contacts lists the known contacts offered on the first step.
func (s Snapshot) Contacts() []core.Contact { return core.DefaultContacts }
