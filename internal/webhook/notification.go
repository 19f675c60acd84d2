package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/notify"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
	"github.com/InfinitoSolutions/ibl-pay-api/storage"
)

// Withdrawal status verbs the back office publishes in notification batches.
const (
	verbWithdrawPending  = "withdraw.pending"
	verbWithdrawRejected = "withdraw.rejected"
	verbWithdrawBlocked  = "withdraw.blocked"
	verbWithdrawApproved = "withdraw.approved"
)

type notificationPayload struct {
	Type    string              `json:"type"`
	Payload []notificationEntry `json:"payload"`
}

type notificationEntry struct {
	RecipientID   uuid.UUID `json:"recipient_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Reason        string    `json:"reason"`
}

// NotificationStorage is the slice of the database the notification handler
// needs.
type NotificationStorage interface {
	GetTransaction(ctx context.Context, id uuid.UUID) (*types.Transaction, error)
	UpdateTransaction(ctx context.Context, id uuid.UUID, expected *types.TransactionStatus, update storage.TransactionUpdate) (bool, error)
}

// NotificationHandler applies back-office withdrawal status batches to the
// matching withdrawal transactions. Unknown verbs and entries that fail are
// skipped; one bad entry never sinks the batch.
type NotificationHandler struct {
	db     NotificationStorage
	notify *notify.FireAndForget
	logger logrus.FieldLogger
}

func NewNotificationHandler(db NotificationStorage, notifier notify.Notifier, logger logrus.FieldLogger) *NotificationHandler {
	return &NotificationHandler{
		db:     db,
		notify: notify.NewFireAndForget(notifier, logger),
		logger: logger.WithField("component", "webhook.notification"),
	}
}

func (h *NotificationHandler) Execute(ctx context.Context, rec *types.WebhookRecord) error {
	var p notificationPayload
	if err := json.Unmarshal(rec.Data, &p); err != nil {
		return fmt.Errorf("decode notification payload: %w", err)
	}
	status, ok := withdrawStatus(p.Type)
	if !ok || len(p.Payload) == 0 {
		return nil
	}
	for _, entry := range p.Payload {
		if err := h.applyEntry(ctx, p.Type, status, entry); err != nil {
			h.logger.WithError(err).WithField("tran_id", entry.TransactionID).Warn("withdrawal status entry skipped")
		}
	}
	return nil
}

func (h *NotificationHandler) applyEntry(ctx context.Context, verb string, status types.TransactionStatus, entry notificationEntry) error {
	if entry.TransactionID == uuid.Nil {
		return nil
	}
	tran, err := h.db.GetTransaction(ctx, entry.TransactionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if tran.TranType != types.TxTypeWithdraw {
		return nil
	}

	if _, err := h.db.UpdateTransaction(ctx, tran.ID, nil, storage.TransactionUpdate{Status: &status}); err != nil {
		return err
	}
	switch verb {
	case verbWithdrawRejected, verbWithdrawBlocked:
		h.notify.Send(ctx, notify.WithdrawFailed(tran, entry.Reason), []uuid.UUID{tran.FromUserID})
	}
	return nil
}

func withdrawStatus(verb string) (types.TransactionStatus, bool) {
	switch verb {
	case verbWithdrawPending:
		return types.TxStatusPending, true
	case verbWithdrawRejected:
		return types.TxStatusRejected, true
	case verbWithdrawBlocked:
		return types.TxStatusBlocked, true
	case verbWithdrawApproved:
		return types.TxStatusProcessing, true
	default:
		return "", false
	}
}
