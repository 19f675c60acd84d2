package postgres

import (
	"context"
	"fmt"
	"time"
)

// NextTransactionSeq issues the next "YYMMDD-00000001" sequence for now's day.
// The per-day counter row resets naturally because each day keys its own row;
// the upsert makes concurrent issuers serialize on the row without gaps.
func (p *PostgresBackend) NextTransactionSeq(ctx context.Context, now time.Time) (string, error) {
	day := now.UTC().Format("060102")
	query := `INSERT INTO tx_sequences (day, counter) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET counter = tx_sequences.counter + 1
		RETURNING counter`
	var counter int64
	if err := p.pool.QueryRow(ctx, query, day).Scan(&counter); err != nil {
		return "", fmt.Errorf("next transaction sequence: %w", err)
	}
	return fmt.Sprintf("%s-%08d", day, counter), nil
}
