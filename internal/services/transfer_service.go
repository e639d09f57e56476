package services

import (
	"context"

	"alma/internal/amqp"
	"alma/internal/gateway"
	"alma/internal/log"
	"alma/internal/wizard"
)

// EventPublisher is the part of the AMQP client the transfer service uses.
type EventPublisher interface {
	PublishTransferEvent(ctx context.Context, ev *amqp.TransferEvent) error
}

// PaymentCreator is the part of a backend session that moves money.
type PaymentCreator interface {
	CreatePayment(ctx context.Context, req gateway.PaymentRequest) (gateway.Payment, error)
}

// TransferService executes wizard transfers against the backend and
// announces each outcome as a transfer event.
type TransferService struct {
	publisher EventPublisher
	logger    *log.Logger
	events    *log.StructuredLogger
}

// NewTransferService returns a service; publisher may be nil when AMQP is
// not configured.
func NewTransferService(publisher EventPublisher, logger *log.Logger) *TransferService {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentWizard)
	return &TransferService{
		publisher: publisher,
		logger:    logger,
		events:    log.NewStructuredLogger(logger),
	}
}

// For binds the service to one browser session's backend credentials.
func (s *TransferService) For(backend PaymentCreator, userID func() string) wizard.Payments {
	return &sessionPayments{svc: s, backend: backend, userID: userID}
}

type sessionPayments struct {
	svc     *TransferService
	backend PaymentCreator
	userID  func() string
}

func (p *sessionPayments) Send(ctx context.Context, t wizard.Transfer) (wizard.Receipt, error) {
	uid := ""
	if p.userID != nil {
		uid = p.userID()
	}

	payment, err := p.backend.CreatePayment(ctx, gateway.NewPaymentRequest(t.Recipient, t.Amount, t.Currency, t.AccountID))
	if err != nil {
		p.svc.events.LogError(ctx, "Transfer failed", err, log.OpCreate,
			log.NewFields().WithTransfer(t.Recipient.Name, t.Amount.Cents, t.Currency))
		ev := amqp.NewTransferEvent(amqp.EventTransferFailed, uid, t.Recipient.Name, t.Amount.Cents, t.Currency)
		ev.Reason = err.Error()
		p.svc.publish(ctx, ev)
		return wizard.Receipt{}, err
	}

	p.svc.events.LogTransferSent(ctx, t.Recipient.Name, t.Amount.Cents, t.Currency, payment.ID)
	ev := amqp.NewTransferEvent(amqp.EventTransferCompleted, uid, t.Recipient.Name, t.Amount.Cents, t.Currency)
	ev.PaymentID = payment.ID
	p.svc.publish(ctx, ev)

	return wizard.Receipt{ID: payment.ID, Status: payment.Status}, nil
}

// publish never fails the transfer: the money has already moved, or the
// backend already refused it.
func (s *TransferService) publish(ctx context.Context, ev *amqp.TransferEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTransferEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish transfer event",
			log.FieldEventID, ev.ID, "kind", ev.Kind, log.FieldError, err)
	}
}
