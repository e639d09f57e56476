// Package wizard drives the four-step Send Money flow: select a recipient,
// enter an amount, review, and confirm. A Wizard holds one transfer draft and
// is safe for concurrent use by the handlers of a single browser session.
package wizard

import (
	"context"
	"errors"
	"sync"

	"alma/internal/core"
)

// Step is a position in the wizard.
type Step int

const (
	SelectRecipient Step = iota + 1
	EnterAmount
	Review
	Success
)

func (s Step) String() string {
	switch s {
	case SelectRecipient:
		return "select_recipient"
	case EnterAmount:
		return "enter_amount"
	case Review:
		return "review"
	case Success:
		return "success"
	}
	return "unknown"
}

// Voice cue keys announced by the wizard.
const (
	CueContinue  = "continue"
	CueNewPayee  = "sendmoneytonewaccount"
	CueMoneySent = "moneysent"
	CueDashboard = "dashboard"
)

var (
	ErrWrongStep        = errors.New("action not available on this step")
	ErrUnknownContact   = errors.New("unknown contact")
	ErrTransferInFlight = errors.New("transfer already in progress")
)

// Transfer is what the wizard asks Payments to execute.
type Transfer struct {
	Recipient core.Recipient
	Amount    core.Money
	Currency  string
	AccountID string
}

// Receipt is the backend's acknowledgement of a transfer.
type Receipt struct {
	ID     string
	Status string
}

// Payments executes a confirmed transfer.
type Payments interface {
	Send(ctx context.Context, t Transfer) (Receipt, error)
}

// Cues plays voice feedback. Implementations must not block on playback.
type Cues interface {
	Speak(ctx context.Context, key string)
}

type Wizard struct {
	mu       sync.Mutex
	payments Payments
	cues     Cues

	currency    string
	accountID   string
	accountName string

	step         Step
	recipient    core.Recipient
	hasRecipient bool
	newPayeeOpen bool
	draft        core.Payee
	amount       core.AmountBuffer

	inFlight bool
	lastErr  error
	receipt  Receipt
	// generation increments whenever the draft is discarded, so a transfer
	// that resolves after Exit cannot write into the next draft.
	generation uint64
}

type Option func(*Wizard)

// WithCurrency sets the transfer currency (default GBP).
func WithCurrency(code string) Option {
	return func(w *Wizard) {
		if code != "" {
			w.currency = code
		}
	}
}

// WithSource sets the account the money is sent from.
func WithSource(accountID, name string) Option {
	return func(w *Wizard) {
		w.accountID = accountID
		w.accountName = name
	}
}

func New(payments Payments, cues Cues, opts ...Option) *Wizard {
	w := &Wizard{
		payments:    payments,
		cues:        cues,
		currency:    "GBP",
		accountName: "Current Account",
		step:        SelectRecipient,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetSource changes the paying account, typically once accounts are loaded.
func (w *Wizard) SetSource(accountID, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accountID = accountID
	if name != "" {
		w.accountName = name
	}
}

// SelectContact picks a known contact and advances to EnterAmount.
func (w *Wizard) SelectContact(ctx context.Context, id int) error {
	contact, ok := core.FindContact(id)
	if !ok {
		return ErrUnknownContact
	}

	w.mu.Lock()
	if w.step != SelectRecipient {
		w.mu.Unlock()
		return ErrWrongStep
	}
	w.recipient = core.RecipientFromContact(contact)
	w.hasRecipient = true
	w.draft = core.Payee{}
	w.newPayeeOpen = false
	w.step = EnterAmount
	w.lastErr = nil
	w.mu.Unlock()

	w.speak(ctx, contact.VoiceKey())
	return nil
}

// ToggleNewPayee opens or closes the new-payee form on the first step.
func (w *Wizard) ToggleNewPayee(ctx context.Context) error {
	w.mu.Lock()
	if w.step != SelectRecipient {
		w.mu.Unlock()
		return ErrWrongStep
	}
	w.newPayeeOpen = !w.newPayeeOpen
	opened := w.newPayeeOpen
	w.mu.Unlock()

	if opened {
		w.speak(ctx, CueNewPayee)
	}
	return nil
}

// UpdateDraft stores the new-payee form as typed so far.
func (w *Wizard) UpdateDraft(p core.Payee) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step != SelectRecipient {
		return ErrWrongStep
	}
	w.draft = p
	w.newPayeeOpen = true
	return nil
}

// SubmitNewPayee advances to EnterAmount when every payee field is filled.
// An incomplete payee leaves the wizard on the first step and returns
// core.ErrIncompletePayee.
func (w *Wizard) SubmitNewPayee(ctx context.Context, p core.Payee) error {
	w.mu.Lock()
	if w.step != SelectRecipient {
		w.mu.Unlock()
		return ErrWrongStep
	}
	w.draft = p
	w.newPayeeOpen = true
	if err := p.Validate(); err != nil {
		w.lastErr = err
		w.mu.Unlock()
		return err
	}
	w.recipient = core.RecipientFromPayee(p)
	w.hasRecipient = true
	w.step = EnterAmount
	w.lastErr = nil
	w.mu.Unlock()

	w.speak(ctx, CueContinue)
	return nil
}

// EnterDigit appends a digit or '.' to the amount. Appends that would break
// the buffer limits are silently ignored.
func (w *Wizard) EnterDigit(d rune) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step != EnterAmount {
		return ErrWrongStep
	}
	w.amount.Append(d)
	w.lastErr = nil
	return nil
}

// DeleteDigit removes the last amount character.
func (w *Wizard) DeleteDigit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step != EnterAmount {
		return ErrWrongStep
	}
	w.amount.Delete()
	w.lastErr = nil
	return nil
}

// ConfirmAmount advances to Review iff the amount is strictly positive.
func (w *Wizard) ConfirmAmount(ctx context.Context) error {
	w.mu.Lock()
	if w.step != EnterAmount {
		w.mu.Unlock()
		return ErrWrongStep
	}
	if !w.amount.Positive() {
		w.lastErr = core.ErrInvalidAmount
		w.mu.Unlock()
		return core.ErrInvalidAmount
	}
	w.step = Review
	w.lastErr = nil
	w.mu.Unlock()

	w.speak(ctx, CueContinue)
	return nil
}

// ConfirmTransfer sends the reviewed transfer. On success the wizard moves
// to Success and announces it; on failure it stays on Review with the error
// recorded so the user can retry or go back. Only one confirmation may be
// in flight at a time.
func (w *Wizard) ConfirmTransfer(ctx context.Context) (Receipt, error) {
	w.mu.Lock()
	if w.step != Review {
		w.mu.Unlock()
		return Receipt{}, ErrWrongStep
	}
	if w.inFlight {
		w.mu.Unlock()
		return Receipt{}, ErrTransferInFlight
	}
	amount, err := w.amount.Value()
	if err != nil {
		w.mu.Unlock()
		return Receipt{}, err
	}
	transfer := Transfer{
		Recipient: w.recipient,
		Amount:    amount,
		Currency:  w.currency,
		AccountID: w.accountID,
	}
	w.inFlight = true
	w.lastErr = nil
	gen := w.generation
	w.mu.Unlock()

	receipt, err := w.payments.Send(ctx, transfer)

	w.mu.Lock()
	// Only the returning request clears the guard, so leaving Review or
	// discarding the draft cannot let a second payment start meanwhile.
	w.inFlight = false
	if gen != w.generation {
		// The draft was discarded while the request was running.
		w.mu.Unlock()
		return receipt, err
	}
	if err != nil {
		w.lastErr = err
		w.mu.Unlock()
		return Receipt{}, err
	}
	w.receipt = receipt
	w.step = Success
	w.mu.Unlock()

	w.speak(ctx, CueMoneySent)
	return receipt, nil
}

// Back returns to the previous step. From the first step, or from Success,
// it exits the wizard instead and reports true.
func (w *Wizard) Back(ctx context.Context) bool {
	w.mu.Lock()
	switch w.step {
	case EnterAmount:
		w.step = SelectRecipient
	case Review:
		if w.inFlight {
			// Leaving Review mid-request abandons that request's outcome.
			w.generation++
		}
		w.step = EnterAmount
	default:
		w.mu.Unlock()
		w.Exit(ctx)
		return true
	}
	w.lastErr = nil
	w.mu.Unlock()
	return false
}

// Exit discards the draft and announces the return to the dashboard.
func (w *Wizard) Exit(ctx context.Context) {
	w.mu.Lock()
	w.resetLocked()
	w.mu.Unlock()
	w.speak(ctx, CueDashboard)
}

// Reset discards the draft without any voice cue.
func (w *Wizard) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
}

func (w *Wizard) resetLocked() {
	w.generation++
	w.step = SelectRecipient
	w.recipient = core.Recipient{}
	w.hasRecipient = false
	w.newPayeeOpen = false
	w.draft = core.Payee{}
	w.amount.Reset()
	w.lastErr = nil
	w.receipt = Receipt{}
}

func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

func (w *Wizard) speak(ctx context.Context, key string) {
	if w.cues != nil {
		w.cues.Speak(ctx, key)
	}
}
