package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/tasks"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
	"github.com/InfinitoSolutions/ibl-pay-api/storage"
)

// Storage is the slice of the database the manager needs.
type Storage interface {
	CreateWebhook(ctx context.Context, event types.WebhookEvent, data []byte) (*types.WebhookRecord, error)
	GetWebhook(ctx context.Context, id uuid.UUID) (*types.WebhookRecord, error)
	CompleteWebhook(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Enqueuer is the slice of the asynq client the manager uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Handler processes one persisted webhook record.
type Handler interface {
	Execute(ctx context.Context, rec *types.WebhookRecord) error
}

// Manager decouples webhook intake from processing. Store persists the raw
// payload and enqueues its id without touching any handler; Process runs on a
// worker, dispatches to the event's handler and marks the record completed.
type Manager struct {
	db       Storage
	client   Enqueuer
	handlers map[types.WebhookEvent]Handler
	sd       statsd.ClientInterface
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewManager(db Storage, client Enqueuer, sd statsd.ClientInterface, logger logrus.FieldLogger) *Manager {
	if sd == nil {
		sd = &statsd.NoOpClient{}
	}
	return &Manager{
		db:       db,
		client:   client,
		handlers: make(map[types.WebhookEvent]Handler),
		sd:       sd,
		logger:   logger.WithField("component", "webhook.manager"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) Register(event types.WebhookEvent, handler Handler) {
	m.handlers[event] = handler
}

// Store persists the payload and hands its id to the queue. It never blocks
// on downstream processing.
func (m *Manager) Store(ctx context.Context, event types.WebhookEvent, data []byte) (*types.WebhookRecord, error) {
	rec, err := m.db.CreateWebhook(ctx, event, data)
	if err != nil {
		return nil, fmt.Errorf("persist webhook: %w", err)
	}
	task, err := tasks.NewWebhookProcessTask(rec.ID)
	if err != nil {
		return nil, err
	}
	if _, err := m.client.EnqueueContext(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue webhook %s: %w", rec.ID, err)
	}
	_ = m.sd.Incr("webhook.stored", []string{"event:" + string(event)}, 1)
	return rec, nil
}

// Process loads the record and runs the matching handler. Handler failures
// are logged and swallowed; the record then stays PENDING and only the
// queue's own redelivery gives it another chance.
func (m *Manager) Process(ctx context.Context, id uuid.UUID) error {
	rec, err := m.db.GetWebhook(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load webhook %s: %w", id, err)
	}
	if rec.Status == types.WebhookStatusCompleted {
		return nil
	}

	handler, ok := m.handlers[rec.Event]
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"webhook_id": rec.ID,
			"event":      rec.Event,
		}).Warn("no handler for webhook event")
		return nil
	}

	if err := handler.Execute(ctx, rec); err != nil {
		_ = m.sd.Incr("webhook.handler_error", []string{"event:" + string(rec.Event)}, 1)
		m.logger.WithError(err).WithFields(logrus.Fields{
			"webhook_id": rec.ID,
			"event":      rec.Event,
		}).Error("webhook handler failed")
		return nil
	}

	if err := m.db.CompleteWebhook(ctx, rec.ID, m.now()); err != nil {
		return fmt.Errorf("complete webhook %s: %w", rec.ID, err)
	}
	_ = m.sd.Incr("webhook.processed", []string{"event:" + string(rec.Event)}, 1)
	return nil
}

// HandleProcess is the asynq handler for webhook processing tasks.
func (m *Manager) HandleProcess(ctx context.Context, t *asynq.Task) error {
	var payload tasks.WebhookProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}
	return m.Process(ctx, payload.WebhookID)
}
