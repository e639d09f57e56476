package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"alma/internal/amqp"
	"alma/internal/core"
	"alma/internal/log"
	"alma/internal/storage"
)

// AlertStore persists carer alerts. InsertAlert reports false for an event
// that was already stored.
type AlertStore interface {
	InsertAlert(ctx context.Context, a storage.Alert) (bool, error)
}

// AlertProcessor turns transfer events into alerts for the overseer: every
// failed transfer, and every completed one at or above the threshold. The
// threshold is an amount in currency; transfers in any other currency are
// not converted and never count as large.
type AlertProcessor struct {
	store     AlertStore
	threshold core.Money
	currency  string
	logger    *log.Logger
}

func NewAlertProcessor(store AlertStore, threshold decimal.Decimal, currency string, logger *log.Logger) (*AlertProcessor, error) {
	if store == nil {
		return nil, fmt.Errorf("alert processor needs a store")
	}
	limit, err := core.MoneyFromDecimal(threshold)
	if err != nil || limit.Cents <= 0 {
		return nil, fmt.Errorf("invalid large payment threshold %s", threshold)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return nil, fmt.Errorf("invalid large payment currency %q", currency)
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &AlertProcessor{
		store:     store,
		threshold: limit,
		currency:  currency,
		logger:    logger.WithComponent(log.ComponentWorker),
	}, nil
}

// Kind returns the alert kind ev deserves, or "" when it needs none.
func (p *AlertProcessor) Kind(ev *amqp.TransferEvent) string {
	switch {
	case ev.Failed():
		return storage.AlertPaymentFailed
	case strings.EqualFold(ev.Currency, p.currency) && ev.AmountCents >= p.threshold.Cents:
		return storage.AlertLargePayment
	}
	return ""
}

// Handle stores the alert for ev, if any. An error requeues the event.
func (p *AlertProcessor) Handle(ctx context.Context, ev *amqp.TransferEvent) error {
	kind := p.Kind(ev)
	if kind == "" {
		p.logger.DebugContext(ctx, "Transfer needs no alert",
			log.FieldEventID, ev.ID, log.FieldAmount, ev.AmountCents, log.FieldCurrency, ev.Currency)
		return nil
	}

	inserted, err := p.store.InsertAlert(ctx, storage.Alert{
		EventID:     ev.ID,
		UserID:      ev.UserID,
		Kind:        kind,
		Recipient:   ev.Recipient,
		AmountCents: ev.AmountCents,
		Currency:    ev.Currency,
		Reason:      ev.Reason,
		CreatedAt:   ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("store alert for event %s: %w", ev.ID, err)
	}
	if !inserted {
		p.logger.DebugContext(ctx, "Duplicate transfer event ignored", log.FieldEventID, ev.ID)
		return nil
	}

	p.logger.InfoContext(ctx, "Carer alert raised",
		log.FieldAlertKind, kind,
		log.FieldEventID, ev.ID,
		log.FieldUserID, ev.UserID,
		log.FieldRecipient, ev.Recipient,
		log.FieldAmount, ev.AmountCents)
	return nil
}
