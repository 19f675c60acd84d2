package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
	"github.com/InfinitoSolutions/ibl-pay-api/storage"
)

// Recurring columns live on the bills row itself; buyers are a jsonb array.
const billColumns = `id, parent_id, merchant_id, confirmed_by_id, status, bill_type, service,
	amount, amount_usd, usd_rate, currency, merchant_address, agreement_id, is_recurring,
	cadence, start_date, end_date, schedule_time, day_of_week, day_of_month, max_fund,
	last_run_at, next_run_at, run_at, locked_at, schedule_status,
	buyers, tx_seq, parent_tx_seq, notes, created_at, updated_at`

func scanBill(row pgx.Row) (*types.Bill, error) {
	var (
		bill      types.Bill
		rec       types.RecurringSpec
		cadence   *types.Cadence
		startDate *time.Time
		endDate   *time.Time
		schedTime *string
		dayOfWeek *int
		dayOfMon  *int
		buyers    []byte
	)
	err := row.Scan(
		&bill.ID, &bill.ParentID, &bill.MerchantID, &bill.ConfirmedBy, &bill.Status,
		&bill.BillType, &bill.Service, &bill.Amount, &bill.AmountUSD, &bill.USDRate,
		&bill.Currency, &bill.MerchantAddress, &bill.AgreementID, &bill.IsRecurring,
		&cadence, &startDate, &endDate, &schedTime, &dayOfWeek, &dayOfMon, &rec.MaxFund,
		&rec.LastRunAt, &rec.NextRunAt, &rec.RunAt, &rec.LockedAt, &rec.Status,
		&buyers, &bill.TxSeq, &bill.ParentTxSeq, &bill.Notes, &bill.CreatedAt, &bill.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan bill: %w", err)
	}
	if cadence != nil {
		rec.Cadence = *cadence
		if startDate != nil {
			rec.StartDate = *startDate
		}
		if endDate != nil {
			rec.EndDate = *endDate
		}
		if schedTime != nil {
			rec.ScheduleTime = *schedTime
		}
		if dayOfWeek != nil {
			rec.DayOfWeek = *dayOfWeek
		}
		if dayOfMon != nil {
			rec.DayOfMonth = *dayOfMon
		}
		bill.Recurring = &rec
	}
	if len(buyers) > 0 {
		if err := json.Unmarshal(buyers, &bill.Buyers); err != nil {
			return nil, fmt.Errorf("decode bill buyers: %w", err)
		}
	}
	return &bill, nil
}

func billArgs(bill *types.Bill) ([]any, error) {
	buyers, err := json.Marshal(bill.Buyers)
	if err != nil {
		return nil, fmt.Errorf("encode bill buyers: %w", err)
	}
	var (
		cadence   *types.Cadence
		startDate *time.Time
		endDate   *time.Time
		schedTime *string
		dayOfWeek *int
		dayOfMon  *int
		rec       types.RecurringSpec
	)
	if bill.Recurring != nil {
		rec = *bill.Recurring
		cadence = &rec.Cadence
		startDate = &rec.StartDate
		endDate = &rec.EndDate
		schedTime = &rec.ScheduleTime
		dayOfWeek = &rec.DayOfWeek
		dayOfMon = &rec.DayOfMonth
	}
	return []any{
		bill.ID, bill.ParentID, bill.MerchantID, bill.ConfirmedBy, bill.Status,
		bill.BillType, bill.Service, bill.Amount, bill.AmountUSD, bill.USDRate,
		bill.Currency, bill.MerchantAddress, bill.AgreementID, bill.IsRecurring,
		cadence, startDate, endDate, schedTime, dayOfWeek, dayOfMon, rec.MaxFund,
		rec.LastRunAt, rec.NextRunAt, rec.RunAt, rec.LockedAt, rec.Status,
		buyers, bill.TxSeq, bill.ParentTxSeq, bill.Notes, bill.CreatedAt, bill.UpdatedAt,
	}, nil
}

func (p *PostgresBackend) GetBill(ctx context.Context, id uuid.UUID) (*types.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE id = $1`
	return scanBill(p.pool.QueryRow(ctx, query, id))
}

func (p *PostgresBackend) CreateBill(ctx context.Context, bill *types.Bill) error {
	args, err := billArgs(bill)
	if err != nil {
		return err
	}
	query := `INSERT INTO bills (` + billColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)`
	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert bill %s: %w", bill.ID, err)
	}
	return nil
}

// UpdateBillSchedule persists the schedule-bearing fields of a recurring bill,
// including the lock column. Callers that need lock safety go through
// LockBillSchedule first.
func (p *PostgresBackend) UpdateBillSchedule(ctx context.Context, bill *types.Bill) error {
	if bill.Recurring == nil {
		return fmt.Errorf("bill %s has no recurring schedule", bill.ID)
	}
	rec := bill.Recurring
	query := `UPDATE bills SET
		last_run_at = $2, next_run_at = $3, run_at = $4, locked_at = $5,
		schedule_status = $6, updated_at = now()
	WHERE id = $1`
	if _, err := p.pool.Exec(ctx, query,
		bill.ID, rec.LastRunAt, rec.NextRunAt, rec.RunAt, rec.LockedAt, rec.Status,
	); err != nil {
		return fmt.Errorf("update bill schedule %s: %w", bill.ID, err)
	}
	return nil
}

// LockBillSchedule takes the per-bill schedule lock. Exactly one caller wins;
// a held lock means another runner owns this bill and the caller skips it.
func (p *PostgresBackend) LockBillSchedule(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `UPDATE bills SET locked_at = $2, updated_at = now()
		WHERE id = $1 AND locked_at IS NULL`
	tag, err := p.pool.Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("lock bill schedule %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresBackend) ActiveScheduledBills(ctx context.Context, now time.Time, lookback storage.ScheduleLookback) ([]types.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills
	WHERE parent_id IS NULL
	  AND is_recurring
	  AND status = $1
	  AND agreement_id IS NOT NULL
	  AND locked_at IS NULL
	  AND schedule_status IS NULL
	  AND start_date <= $2
	  AND jsonb_array_length(buyers) > 0
	  AND next_run_at IS NOT NULL
	  AND next_run_at <= $2
	  AND next_run_at >= CASE cadence
		WHEN 'DAILY' THEN $2::timestamptz - $3::interval
		WHEN 'WEEKLY' THEN $2::timestamptz - $4::interval
		ELSE $2::timestamptz - $5::interval
	  END
	ORDER BY next_run_at`
	rows, err := p.pool.Query(ctx, query, types.BillStatusConfirmed, now,
		lookback.Daily, lookback.Weekly, lookback.Monthly)
	if err != nil {
		return nil, fmt.Errorf("select active scheduled bills: %w", err)
	}
	return collectBills(rows)
}

// InactiveScheduledBills returns cycle instances whose run window has fully
// passed, candidates for the abandonment sweep.
func (p *PostgresBackend) InactiveScheduledBills(ctx context.Context, now time.Time, lookback storage.ScheduleLookback) ([]types.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills
	WHERE parent_id IS NOT NULL
	  AND is_recurring
	  AND status NOT IN ($1, $2, $3)
	  AND next_run_at IS NOT NULL
	  AND next_run_at < CASE cadence
		WHEN 'DAILY' THEN $4::timestamptz - $5::interval
		WHEN 'WEEKLY' THEN $4::timestamptz - $6::interval
		ELSE $4::timestamptz - $7::interval
	  END
	ORDER BY next_run_at`
	rows, err := p.pool.Query(ctx, query,
		types.BillStatusCompleted, types.BillStatusCancelled, types.BillStatusFailed,
		now, lookback.Daily, lookback.Weekly, lookback.Monthly)
	if err != nil {
		return nil, fmt.Errorf("select inactive scheduled bills: %w", err)
	}
	return collectBills(rows)
}

func collectBills(rows pgx.Rows) ([]types.Bill, error) {
	defer rows.Close()
	var bills []types.Bill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, *bill)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bills: %w", err)
	}
	return bills, nil
}

// UpdateBillStatus is a conditional status transition. With expected set, the
// write applies only when the bill still holds that status; false means the
// precondition no longer held.
func (p *PostgresBackend) UpdateBillStatus(ctx context.Context, id uuid.UUID, expected *types.BillStatus, to types.BillStatus, notes *string) (bool, error) {
	query := `UPDATE bills SET status = $2, notes = COALESCE($3, notes), updated_at = now()
		WHERE id = $1 AND ($4::text IS NULL OR status = $4)`
	tag, err := p.pool.Exec(ctx, query, id, to, notes, expected)
	if err != nil {
		return false, fmt.Errorf("update bill status %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresBackend) FindBillByAgreementID(ctx context.Context, agreementID string, expected types.BillStatus) (*types.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE agreement_id = $1 AND status = $2`
	return scanBill(p.pool.QueryRow(ctx, query, agreementID, expected))
}
