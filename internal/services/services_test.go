package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"alma/internal/amqp"
	"alma/internal/core"
	"alma/internal/gateway"
	"alma/internal/storage"
	"alma/internal/wizard"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []*amqp.TransferEvent
	err    error
}

func (f *fakePublisher) PublishTransferEvent(_ context.Context, ev *amqp.TransferEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

type fakeBackend struct {
	got gateway.PaymentRequest
	err error
}

func (f *fakeBackend) CreatePayment(_ context.Context, req gateway.PaymentRequest) (gateway.Payment, error) {
	f.got = req
	if f.err != nil {
		return gateway.Payment{}, f.err
	}
	return gateway.Payment{ID: "pi_123", Status: "succeeded"}, nil
}

func sarahTransfer() wizard.Transfer {
	c, _ := core.FindContact(1)
	return wizard.Transfer{
		Recipient: core.RecipientFromContact(c),
		Amount:    core.Money{Cents: 2550},
		Currency:  "GBP",
		AccountID: "acc-1",
	}
}

func TestTransferService_Success(t *testing.T) {
	pub := &fakePublisher{}
	backend := &fakeBackend{}
	payments := NewTransferService(pub, nil).For(backend, func() string { return "u-1" })

	receipt, err := payments.Send(context.Background(), sarahTransfer())
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if receipt.ID != "pi_123" || receipt.Status != "succeeded" {
		t.Errorf("unexpected receipt %+v", receipt)
	}
	if backend.got.Amount.String() != "25.50" || backend.got.Recipient.Name != "Sarah" {
		t.Errorf("unexpected payment request %+v", backend.got)
	}
	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}
	ev := pub.events[0]
	if ev.Kind != amqp.EventTransferCompleted || ev.UserID != "u-1" || ev.AmountCents != 2550 || ev.PaymentID != "pi_123" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestTransferService_BackendFailure(t *testing.T) {
	pub := &fakePublisher{}
	backend := &fakeBackend{err: &gateway.APIError{Status: 400, Detail: "insufficient funds"}}
	payments := NewTransferService(pub, nil).For(backend, nil)

	_, err := payments.Send(context.Background(), sarahTransfer())
	if err == nil || err.Error() != "insufficient funds" {
		t.Fatalf("Send() error = %v, want backend detail", err)
	}
	if len(pub.events) != 1 || pub.events[0].Kind != amqp.EventTransferFailed || pub.events[0].Reason != "insufficient funds" {
		t.Errorf("unexpected events %+v", pub.events)
	}
}

func TestTransferService_PublishFailureDoesNotFailTransfer(t *testing.T) {
	pub := &fakePublisher{err: errors.New("circuit breaker is open")}
	payments := NewTransferService(pub, nil).For(&fakeBackend{}, nil)

	if _, err := payments.Send(context.Background(), sarahTransfer()); err != nil {
		t.Fatalf("Send() error = %v, publish errors must be swallowed", err)
	}
}

func TestTransferService_NoPublisher(t *testing.T) {
	payments := NewTransferService(nil, nil).For(&fakeBackend{}, nil)
	if _, err := payments.Send(context.Background(), sarahTransfer()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
}

type fakeAlertStore struct {
	alerts map[string]storage.Alert
	err    error
}

func (f *fakeAlertStore) InsertAlert(_ context.Context, a storage.Alert) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.alerts == nil {
		f.alerts = make(map[string]storage.Alert)
	}
	if _, ok := f.alerts[a.EventID]; ok {
		return false, nil
	}
	f.alerts[a.EventID] = a
	return true, nil
}

func TestAlertProcessor_Kind(t *testing.T) {
	p, err := NewAlertProcessor(&fakeAlertStore{}, decimal.RequireFromString("200"), "GBP", nil)
	if err != nil {
		t.Fatalf("NewAlertProcessor() error = %v", err)
	}

	tests := []struct {
		name     string
		kind     string
		cents    int64
		currency string
		want     string
	}{
		{"small completed", amqp.EventTransferCompleted, 2550, "GBP", ""},
		{"exactly threshold", amqp.EventTransferCompleted, 20000, "GBP", storage.AlertLargePayment},
		{"above threshold", amqp.EventTransferCompleted, 50000, "GBP", storage.AlertLargePayment},
		{"lower case currency", amqp.EventTransferCompleted, 50000, "gbp", storage.AlertLargePayment},
		{"other currency above threshold", amqp.EventTransferCompleted, 50000, "EUR", ""},
		{"missing currency", amqp.EventTransferCompleted, 50000, "", ""},
		{"failed small", amqp.EventTransferFailed, 100, "GBP", storage.AlertPaymentFailed},
		{"failed other currency", amqp.EventTransferFailed, 90000, "USD", storage.AlertPaymentFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := amqp.NewTransferEvent(tt.kind, "u-1", "Sarah", tt.cents, tt.currency)
			if got := p.Kind(ev); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAlertProcessor_Handle(t *testing.T) {
	store := &fakeAlertStore{}
	p, err := NewAlertProcessor(store, decimal.RequireFromString("200"), "GBP", nil)
	if err != nil {
		t.Fatalf("NewAlertProcessor() error = %v", err)
	}
	ctx := context.Background()

	big := amqp.NewTransferEvent(amqp.EventTransferCompleted, "u-1", "James", 25000, "GBP")
	if err := p.Handle(ctx, big); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if err := p.Handle(ctx, big); err != nil {
		t.Fatalf("Handle() duplicate error = %v", err)
	}
	small := amqp.NewTransferEvent(amqp.EventTransferCompleted, "u-1", "Sarah", 2550, "GBP")
	if err := p.Handle(ctx, small); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(store.alerts) != 1 || store.alerts[big.ID].Kind != storage.AlertLargePayment {
		t.Errorf("unexpected alerts %+v", store.alerts)
	}

	store.err = errors.New("database is locked")
	failed := amqp.NewTransferEvent(amqp.EventTransferFailed, "u-1", "Sarah", 100, "GBP")
	if err := p.Handle(ctx, failed); err == nil {
		t.Error("Handle() should return store errors so the event is requeued")
	}
}

func TestNewAlertProcessor_InvalidThreshold(t *testing.T) {
	if _, err := NewAlertProcessor(&fakeAlertStore{}, decimal.Zero, "GBP", nil); err == nil {
		t.Error("expected error for zero threshold")
	}
	if _, err := NewAlertProcessor(nil, decimal.RequireFromString("10"), "GBP", nil); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := NewAlertProcessor(&fakeAlertStore{}, decimal.RequireFromString("10"), "", nil); err == nil {
		t.Error("expected error for missing currency")
	}
}

type countingPurger struct {
	mu    sync.Mutex
	calls int
}

func (c *countingPurger) PurgeExpiredSessions(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 2, nil
}

func (c *countingPurger) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestSessionJanitor_Lifecycle(t *testing.T) {
	purger := &countingPurger{}
	j := NewSessionJanitor(purger, 10*time.Millisecond, nil)
	ctx := context.Background()

	if j.IsRunning() {
		t.Error("janitor should not be running initially")
	}
	if err := j.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := j.Start(ctx); err == nil {
		t.Error("expected error when starting a running janitor")
	}

	deadline := time.Now().Add(time.Second)
	for purger.Calls() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if purger.Calls() < 2 {
		t.Errorf("purge ran %d times, want at least 2", purger.Calls())
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := j.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if j.IsRunning() {
		t.Error("janitor should be stopped")
	}
	if err := j.Stop(stopCtx); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestSessionJanitor_PurgeOnce(t *testing.T) {
	j := NewSessionJanitor(&countingPurger{}, time.Hour, nil)
	if n := j.PurgeOnce(context.Background()); n != 2 {
		t.Errorf("PurgeOnce() = %d, want 2", n)
	}
}
