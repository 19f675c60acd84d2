package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type WebhookStatus string

const (
	WebhookStatusPending   WebhookStatus = "PENDING"
	WebhookStatusCompleted WebhookStatus = "COMPLETED"
)

type WebhookEvent string

const (
	WebhookEventPayment      WebhookEvent = "payment_sm"
	WebhookEventKYC          WebhookEvent = "kyc_sm"
	WebhookEventNotification WebhookEvent = "notification"
	WebhookEventSecurity     WebhookEvent = "security"
)

// WebhookRecord is the durable copy of a raw webhook payload, persisted before
// any processing so the queue can redeliver it.
type WebhookRecord struct {
	ID          uuid.UUID       `db:"id"`
	Event       WebhookEvent    `db:"event"`
	Data        json.RawMessage `db:"data"`
	Status      WebhookStatus   `db:"status"`
	CompletedAt *time.Time      `db:"completed_at"`
	CreatedAt   time.Time       `db:"created_at"`
}
