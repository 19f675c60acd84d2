package webhook

import (
	"context"
	"errors"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/sirupsen/logrus"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/ledger"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
)

// EventDispatcher applies a parsed ledger event to local state.
type EventDispatcher interface {
	Dispatch(ctx context.Context, e *ledger.PaymentEvent) error
}

// PaymentHandler decodes ledger monitoring payloads and hands them to the
// reconciliation dispatcher. Payloads without a decodable event are accepted
// and dropped.
type PaymentHandler struct {
	dispatcher EventDispatcher
	sd         statsd.ClientInterface
	logger     logrus.FieldLogger
}

func NewPaymentHandler(dispatcher EventDispatcher, sd statsd.ClientInterface, logger logrus.FieldLogger) *PaymentHandler {
	if sd == nil {
		sd = &statsd.NoOpClient{}
	}
	return &PaymentHandler{
		dispatcher: dispatcher,
		sd:         sd,
		logger:     logger.WithField("component", "webhook.payment"),
	}
}

func (h *PaymentHandler) Execute(ctx context.Context, rec *types.WebhookRecord) error {
	event, err := ledger.Parse(rec.Data)
	if errors.Is(err, ledger.ErrNoEvent) {
		_ = h.sd.Incr("webhook.payment.no_event", nil, 1)
		h.logger.WithField("webhook_id", rec.ID).Info("payload carries no event, dropped")
		return nil
	}
	if err != nil {
		return err
	}
	return h.dispatcher.Dispatch(ctx, event)
}
