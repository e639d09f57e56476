package wizard

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"alma/internal/core"
)

type fakePayments struct {
	mu      sync.Mutex
	sent    []Transfer
	err     error
	receipt Receipt

	// block, when set, holds Send until it is closed.
	block   chan struct{}
	entered chan struct{}
}

func (f *fakePayments) Send(ctx context.Context, t Transfer) (Receipt, error) {
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, t)
	if f.err != nil {
		return Receipt{}, f.err
	}
	return f.receipt, nil
}

type recordingCues struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingCues) Speak(_ context.Context, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

func (r *recordingCues) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func typeAmount(t *testing.T, w *Wizard, s string) {
	t.Helper()
	for _, r := range s {
		require.NoError(t, w.EnterDigit(r))
	}
}

func TestWizard_SendToKnownContact(t *testing.T) {
	ctx := context.Background()
	payments := &fakePayments{receipt: Receipt{ID: "pay_1", Status: "succeeded"}}
	cues := &recordingCues{}
	w := New(payments, cues, WithSource("acc-1", "Current Account"))

	require.NoError(t, w.SelectContact(ctx, 1))
	assert.Equal(t, EnterAmount, w.Step())

	typeAmount(t, w, "25.50")
	require.NoError(t, w.ConfirmAmount(ctx))

	snap := w.Snapshot()
	assert.Equal(t, Review, snap.Step)
	assert.Equal(t, "Sarah", snap.Recipient.Name)
	assert.Equal(t, "£25.50", core.FormatMoney(snap.Amount, snap.Currency, language.BritishEnglish))

	receipt, err := w.ConfirmTransfer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pay_1", receipt.ID)
	assert.Equal(t, Success, w.Step())

	require.Len(t, payments.sent, 1)
	sent := payments.sent[0]
	assert.Equal(t, int64(2550), sent.Amount.Cents)
	assert.Equal(t, "acc-1", sent.AccountID)
	assert.Equal(t, "GBP", sent.Currency)
	assert.Equal(t, 1, sent.Recipient.ContactID)

	assert.Equal(t, []string{"contact1", CueContinue, CueMoneySent}, cues.Keys())
}

func TestWizard_IncompletePayeeStaysOnFirstStep(t *testing.T) {
	ctx := context.Background()
	w := New(&fakePayments{}, &recordingCues{})

	err := w.SubmitNewPayee(ctx, core.Payee{Name: "Tom", SortCode: "", AccountNumber: "12345678"})
	require.ErrorIs(t, err, core.ErrIncompletePayee)

	snap := w.Snapshot()
	assert.Equal(t, SelectRecipient, snap.Step)
	assert.False(t, snap.CanContinue())
	assert.Equal(t, "Tom", snap.Draft.Name, "draft is kept for correction")

	require.NoError(t, w.SubmitNewPayee(ctx, core.Payee{Name: "Tom", SortCode: "12-34-56", AccountNumber: "12345678"}))
	assert.Equal(t, EnterAmount, w.Step())
	assert.True(t, w.Snapshot().Recipient.IsNewPayee())
}

func TestWizard_ConfirmAmountRequiresPositive(t *testing.T) {
	cases := []struct {
		input   string
		advance bool
	}{
		{"", false},
		{"0", false},
		{"0.00", false},
		{".", false},
		{"12.50", true},
		{"0.01", true},
	}
	for _, tc := range cases {
		t.Run("amount_"+tc.input, func(t *testing.T) {
			ctx := context.Background()
			w := New(&fakePayments{}, nil)
			require.NoError(t, w.SelectContact(ctx, 2))
			typeAmount(t, w, tc.input)

			err := w.ConfirmAmount(ctx)
			if tc.advance {
				require.NoError(t, err)
				assert.Equal(t, Review, w.Step())
			} else {
				require.ErrorIs(t, err, core.ErrInvalidAmount)
				assert.Equal(t, EnterAmount, w.Step())
			}
		})
	}
}

func TestWizard_FailedTransferStaysOnReview(t *testing.T) {
	ctx := context.Background()
	payments := &fakePayments{err: errors.New("insufficient funds")}
	cues := &recordingCues{}
	w := New(payments, cues)

	require.NoError(t, w.SelectContact(ctx, 3))
	typeAmount(t, w, "10")
	require.NoError(t, w.ConfirmAmount(ctx))

	_, err := w.ConfirmTransfer(ctx)
	require.Error(t, err)

	snap := w.Snapshot()
	assert.Equal(t, Review, snap.Step)
	assert.Equal(t, "insufficient funds", snap.ErrorMessage())
	assert.True(t, snap.CanContinue(), "retry stays available")
	assert.NotContains(t, cues.Keys(), CueMoneySent)

	payments.err = nil
	_, err = w.ConfirmTransfer(ctx)
	require.NoError(t, err)
	assert.Equal(t, Success, w.Step())
	assert.Len(t, payments.sent, 2)
}

func TestWizard_SecondConfirmWhileInFlight(t *testing.T) {
	ctx := context.Background()
	payments := &fakePayments{block: make(chan struct{}), entered: make(chan struct{})}
	w := New(payments, nil)
	require.NoError(t, w.SelectContact(ctx, 1))
	typeAmount(t, w, "5")
	require.NoError(t, w.ConfirmAmount(ctx))

	done := make(chan error, 1)
	go func() {
		_, err := w.ConfirmTransfer(ctx)
		done <- err
	}()
	<-payments.entered

	_, err := w.ConfirmTransfer(ctx)
	require.ErrorIs(t, err, ErrTransferInFlight)
	assert.True(t, w.Snapshot().InFlight)

	close(payments.block)
	require.NoError(t, <-done)
	assert.Equal(t, Success, w.Step())
}

func TestWizard_LeavingReviewKeepsInFlightGuard(t *testing.T) {
	for name, leave := range map[string]func(ctx context.Context, w *Wizard){
		"back": func(ctx context.Context, w *Wizard) { w.Back(ctx) },
		"exit": func(ctx context.Context, w *Wizard) { w.Exit(ctx) },
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			payments := &fakePayments{block: make(chan struct{}), entered: make(chan struct{})}
			w := New(payments, nil)
			require.NoError(t, w.SelectContact(ctx, 1))
			typeAmount(t, w, "5")
			require.NoError(t, w.ConfirmAmount(ctx))

			done := make(chan struct{})
			go func() {
				_, _ = w.ConfirmTransfer(ctx)
				close(done)
			}()
			<-payments.entered

			leave(ctx, w)
			if w.Step() == SelectRecipient {
				require.NoError(t, w.SelectContact(ctx, 1))
				typeAmount(t, w, "5")
			}
			require.NoError(t, w.ConfirmAmount(ctx))

			_, err := w.ConfirmTransfer(ctx)
			require.ErrorIs(t, err, ErrTransferInFlight)

			close(payments.block)
			<-done
			payments.mu.Lock()
			assert.Len(t, payments.sent, 1, "only the first confirm reaches the backend")
			payments.mu.Unlock()

			// Once the abandoned request returns a new confirm goes through.
			_, err = w.ConfirmTransfer(ctx)
			require.NoError(t, err)
			assert.Equal(t, Success, w.Step())
		})
	}
}

func TestWizard_ExitDuringTransferIgnoresLateResult(t *testing.T) {
	ctx := context.Background()
	payments := &fakePayments{block: make(chan struct{}), entered: make(chan struct{})}
	cues := &recordingCues{}
	w := New(payments, cues)
	require.NoError(t, w.SelectContact(ctx, 1))
	typeAmount(t, w, "5")
	require.NoError(t, w.ConfirmAmount(ctx))

	done := make(chan struct{})
	go func() {
		_, _ = w.ConfirmTransfer(ctx)
		close(done)
	}()
	<-payments.entered
	w.Exit(ctx)
	close(payments.block)
	<-done

	snap := w.Snapshot()
	assert.Equal(t, SelectRecipient, snap.Step)
	assert.False(t, snap.HasRecipient)
	assert.NotContains(t, cues.Keys(), CueMoneySent)
}

func TestWizard_BackNavigation(t *testing.T) {
	ctx := context.Background()
	cues := &recordingCues{}
	w := New(&fakePayments{}, cues)

	require.NoError(t, w.SelectContact(ctx, 4))
	typeAmount(t, w, "1")
	require.NoError(t, w.ConfirmAmount(ctx))

	assert.False(t, w.Back(ctx))
	assert.Equal(t, EnterAmount, w.Step())
	assert.Equal(t, "1", w.Snapshot().AmountText, "amount survives going back")

	assert.False(t, w.Back(ctx))
	assert.Equal(t, SelectRecipient, w.Step())

	assert.True(t, w.Back(ctx), "back from the first step exits")
	assert.Equal(t, CueDashboard, cues.Keys()[len(cues.Keys())-1])
}

func TestWizard_StepGating(t *testing.T) {
	ctx := context.Background()
	w := New(&fakePayments{}, nil)

	assert.ErrorIs(t, w.EnterDigit('1'), ErrWrongStep)
	assert.ErrorIs(t, w.ConfirmAmount(ctx), ErrWrongStep)
	_, err := w.ConfirmTransfer(ctx)
	assert.ErrorIs(t, err, ErrWrongStep)
	assert.ErrorIs(t, w.SelectContact(ctx, 99), ErrUnknownContact)

	require.NoError(t, w.SelectContact(ctx, 1))
	assert.ErrorIs(t, w.SelectContact(ctx, 2), ErrWrongStep)
}

func TestWizard_NewPayeeToggleCue(t *testing.T) {
	ctx := context.Background()
	cues := &recordingCues{}
	w := New(&fakePayments{}, cues)

	require.NoError(t, w.ToggleNewPayee(ctx))
	assert.True(t, w.Snapshot().NewPayeeOpen)
	require.NoError(t, w.ToggleNewPayee(ctx))
	assert.False(t, w.Snapshot().NewPayeeOpen)
	assert.Equal(t, []string{CueNewPayee}, cues.Keys())

	require.NoError(t, w.UpdateDraft(core.Payee{Name: "A"}))
	require.NoError(t, w.SelectContact(ctx, 1))
	assert.Equal(t, core.Payee{}, w.Snapshot().Draft, "selecting a contact clears the draft")
}
