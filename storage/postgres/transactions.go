package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
	"github.com/InfinitoSolutions/ibl-pay-api/storage"
)

const transactionColumns = `id, tx_seq, bill_id, bill_type, tran_type, status, tx_id,
	confirm_tx_id, from_user_id, from_address, to_user_id, to_address, amount,
	request_amount, amount_usd, usd_rate, currency, commission_fee,
	commission_percentage, withdraw_fee, gas_consumed, schedule_time, schedule_type,
	description, error, refunded, refund_hash, chain_id, chain_index, completed_at,
	created_at, updated_at`

func scanTransaction(row pgx.Row) (*types.Transaction, error) {
	var t types.Transaction
	err := row.Scan(
		&t.ID, &t.TxSeq, &t.BillID, &t.BillType, &t.TranType, &t.Status, &t.TxID,
		&t.ConfirmTxID, &t.FromUserID, &t.FromAddress, &t.ToUserID, &t.ToAddress,
		&t.Amount, &t.RequestAmount, &t.AmountUSD, &t.USDRate, &t.Currency,
		&t.CommissionFee, &t.CommissionPercentage, &t.WithdrawFee, &t.GasConsumed,
		&t.ScheduleTime, &t.ScheduleType, &t.Description, &t.Error, &t.Refunded,
		&t.RefundHash, &t.ChainID, &t.ChainIndex, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &t, nil
}

func (p *PostgresBackend) GetTransaction(ctx context.Context, id uuid.UUID) (*types.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(p.pool.QueryRow(ctx, query, id))
}

// CreateTransactions inserts one bill cycle's transactions atomically. This is
// the only multi-row write in the module.
func (p *PostgresBackend) CreateTransactions(ctx context.Context, trans []*types.Transaction) error {
	if len(trans) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert transactions: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO transactions (` + transactionColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)`
	for _, t := range trans {
		if _, err := tx.Exec(ctx, query,
			t.ID, t.TxSeq, t.BillID, t.BillType, t.TranType, t.Status, t.TxID,
			t.ConfirmTxID, t.FromUserID, t.FromAddress, t.ToUserID, t.ToAddress,
			t.Amount, t.RequestAmount, t.AmountUSD, t.USDRate, t.Currency,
			t.CommissionFee, t.CommissionPercentage, t.WithdrawFee, t.GasConsumed,
			t.ScheduleTime, t.ScheduleType, t.Description, t.Error, t.Refunded,
			t.RefundHash, t.ChainID, t.ChainIndex, t.CompletedAt, t.CreatedAt, t.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert transaction %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert transactions: %w", err)
	}
	return nil
}

func (p *PostgresBackend) FindTransactionByTxID(ctx context.Context, txID string, expected types.TransactionStatus) (*types.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE tx_id = $1 AND status = $2`
	return scanTransaction(p.pool.QueryRow(ctx, query, txID, expected))
}

func (p *PostgresBackend) FindTransactionByConfirmTxID(ctx context.Context, confirmTxID string, expected types.TransactionStatus) (*types.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE confirm_tx_id = $1 AND status = $2`
	return scanTransaction(p.pool.QueryRow(ctx, query, confirmTxID, expected))
}

func (p *PostgresBackend) FindTransactionByTxIDOrRefundHash(ctx context.Context, hash string) (*types.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE tx_id = $1 OR refund_hash = $1`
	return scanTransaction(p.pool.QueryRow(ctx, query, hash))
}

func (p *PostgresBackend) FindTransactionByChainID(ctx context.Context, chainID string) (*types.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE chain_id = $1`
	return scanTransaction(p.pool.QueryRow(ctx, query, chainID))
}

func (p *PostgresBackend) HasTransactionOutsideStatus(ctx context.Context, billID uuid.UUID, status types.TransactionStatus) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM transactions WHERE bill_id = $1 AND status <> $2)`
	var exists bool
	if err := p.pool.QueryRow(ctx, query, billID, status).Scan(&exists); err != nil {
		return false, fmt.Errorf("check transactions for bill %s: %w", billID, err)
	}
	return exists, nil
}

// UpdateTransaction applies a narrow patch as one conditional UPDATE. With
// expected set, the write lands only while the row still holds that status;
// false with a nil error is the idempotent no-op path.
func (p *PostgresBackend) UpdateTransaction(ctx context.Context, id uuid.UUID, expected *types.TransactionStatus, update storage.TransactionUpdate) (bool, error) {
	query := `UPDATE transactions SET
		status = COALESCE($3, status),
		gas_consumed = CASE WHEN $4::numeric IS NULL THEN gas_consumed ELSE $4 END,
		amount = COALESCE($5, amount),
		error = COALESCE($6, error),
		confirm_tx_id = COALESCE($7, confirm_tx_id),
		refunded = COALESCE($8, refunded),
		refund_hash = COALESCE($9, refund_hash),
		withdraw_fee = COALESCE($10, withdraw_fee),
		tx_id = COALESCE($11, tx_id),
		chain_id = COALESCE($12, chain_id),
		chain_index = COALESCE($13, chain_index),
		completed_at = COALESCE($14, completed_at),
		updated_at = now()
	WHERE id = $1 AND ($2::text IS NULL OR status = $2)`
	var gas any
	if update.GasConsumed.Valid {
		gas = update.GasConsumed.Decimal
	}
	tag, err := p.pool.Exec(ctx, query, id, expected,
		update.Status, gas, update.Amount, update.Error, update.ConfirmTxID,
		update.Refunded, update.RefundHash, update.WithdrawFee, update.TxID,
		update.ChainID, update.ChainIndex, update.CompletedAt)
	if err != nil {
		return false, fmt.Errorf("update transaction %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelTransactionsForBill is part of the abandonment sweep. Settled rows are
// left alone.
func (p *PostgresBackend) CancelTransactionsForBill(ctx context.Context, billID uuid.UUID) error {
	query := `UPDATE transactions SET status = $2, updated_at = now()
		WHERE bill_id = $1 AND status NOT IN ($3, $4)`
	if _, err := p.pool.Exec(ctx, query, billID,
		types.TxStatusCancelled, types.TxStatusCompleted, types.TxStatusProcessing,
	); err != nil {
		return fmt.Errorf("cancel transactions for bill %s: %w", billID, err)
	}
	return nil
}
