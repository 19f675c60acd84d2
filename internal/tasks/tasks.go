package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Queue and task type names shared by the intake server, the scheduler and
// the worker.
const (
	QueueName = "ibl_pay_queue"

	TypeWebhookProcess = "webhook:process"
	TypeBillSchedule   = "bill:schedule"
	TypeBillReminder   = "bill:reminder"
)

// ReminderDelay is how long after a scheduled pull becomes due the one-shot
// merchant reminder fires.
const ReminderDelay = time.Hour

type WebhookProcessPayload struct {
	WebhookID uuid.UUID `json:"webhook_id"`
}

type BillSchedulePayload struct {
	BillID uuid.UUID `json:"bill_id"`
}

type BillReminderPayload struct {
	TransactionID uuid.UUID `json:"transaction_id"`
}

func NewWebhookProcessTask(webhookID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(WebhookProcessPayload{WebhookID: webhookID})
	if err != nil {
		return nil, fmt.Errorf("fail to marshal webhook payload: %w", err)
	}
	return asynq.NewTask(TypeWebhookProcess, payload, asynq.Queue(QueueName)), nil
}

func NewBillScheduleTask(billID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(BillSchedulePayload{BillID: billID})
	if err != nil {
		return nil, fmt.Errorf("fail to marshal bill schedule payload: %w", err)
	}
	return asynq.NewTask(TypeBillSchedule, payload, asynq.Queue(QueueName)), nil
}

func NewBillReminderTask(tranID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(BillReminderPayload{TransactionID: tranID})
	if err != nil {
		return nil, fmt.Errorf("fail to marshal reminder payload: %w", err)
	}
	return asynq.NewTask(TypeBillReminder, payload,
		asynq.Queue(QueueName),
		asynq.ProcessIn(ReminderDelay),
	), nil
}
