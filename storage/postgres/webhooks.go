package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
	"github.com/InfinitoSolutions/ibl-pay-api/storage"
)

func (p *PostgresBackend) CreateWebhook(ctx context.Context, event types.WebhookEvent, data []byte) (*types.WebhookRecord, error) {
	rec := &types.WebhookRecord{
		ID:     uuid.New(),
		Event:  event,
		Data:   data,
		Status: types.WebhookStatusPending,
	}
	query := `INSERT INTO webhooks (id, event, data, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`
	if err := p.pool.QueryRow(ctx, query, rec.ID, rec.Event, []byte(rec.Data), rec.Status).
		Scan(&rec.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert webhook: %w", err)
	}
	return rec, nil
}

func (p *PostgresBackend) GetWebhook(ctx context.Context, id uuid.UUID) (*types.WebhookRecord, error) {
	query := `SELECT id, event, data, status, completed_at, created_at
		FROM webhooks WHERE id = $1`
	var rec types.WebhookRecord
	err := p.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.Event, &rec.Data, &rec.Status, &rec.CompletedAt, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan webhook: %w", err)
	}
	return &rec, nil
}

func (p *PostgresBackend) CompleteWebhook(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE webhooks SET status = $2, completed_at = $3 WHERE id = $1`
	if _, err := p.pool.Exec(ctx, query, id, types.WebhookStatusCompleted, at); err != nil {
		return fmt.Errorf("complete webhook %s: %w", id, err)
	}
	return nil
}
