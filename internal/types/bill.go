package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BillStatus string

const (
	BillStatusPending    BillStatus = "PENDING"
	BillStatusConfirmed  BillStatus = "CONFIRMED"
	BillStatusProcessing BillStatus = "PROCESSING"
	BillStatusCompleted  BillStatus = "COMPLETED"
	BillStatusFailed     BillStatus = "FAILED"
	BillStatusRejected   BillStatus = "REJECTED"
	BillStatusCancelled  BillStatus = "CANCELLED"
)

type BillType string

const (
	BillTypeInstant  BillType = "INSTANT"
	BillTypeSingle   BillType = "SINGLE"
	BillTypeSchedule BillType = "SCHEDULE"
)

type Cadence string

const (
	CadenceDaily   Cadence = "DAILY"
	CadenceWeekly  Cadence = "WEEKLY"
	CadenceMonthly Cadence = "MONTHLY"
)

type ScheduleStatus string

const (
	ScheduleStatusCancelRequest ScheduleStatus = "CANCEL_REQUEST"
	ScheduleStatusCancelled     ScheduleStatus = "CANCELLED"
)

// RecurringSpec carries the recurring series definition embedded in a Bill.
// ScheduleTime is the time-of-day anchor in "15:04:05" form; DayOfWeek uses
// ISO numbering (1=Mon..7=Sun) and only applies to weekly cadence, DayOfMonth
// (1..31) only to monthly.
type RecurringSpec struct {
	Cadence      Cadence             `db:"cadence" json:"cadence"`
	StartDate    time.Time           `db:"start_date" json:"start_date"`
	EndDate      time.Time           `db:"end_date" json:"end_date"`
	ScheduleTime string              `db:"schedule_time" json:"schedule_time"`
	DayOfWeek    int                 `db:"day_of_week" json:"day_of_week,omitempty"`
	DayOfMonth   int                 `db:"day_of_month" json:"day_of_month,omitempty"`
	MaxFund      decimal.NullDecimal `db:"max_fund" json:"max_fund,omitempty"`
	LastRunAt    *time.Time          `db:"last_run_at" json:"last_run_at,omitempty"`
	NextRunAt    *time.Time          `db:"next_run_at" json:"next_run_at,omitempty"`
	RunAt        *time.Time          `db:"run_at" json:"run_at,omitempty"`
	LockedAt     *time.Time          `db:"locked_at" json:"locked_at,omitempty"`
	Status       *ScheduleStatus     `db:"schedule_status" json:"schedule_status,omitempty"`
}

type Buyer struct {
	UserID  uuid.UUID       `db:"user_id" json:"user_id"`
	Address string          `db:"address" json:"address"`
	Amount  decimal.Decimal `db:"amount" json:"amount"`
}

type Bill struct {
	ID              uuid.UUID       `db:"id"`
	ParentID        *uuid.UUID      `db:"parent_id"`
	MerchantID      uuid.UUID       `db:"merchant_id"`
	ConfirmedBy     *uuid.UUID      `db:"confirmed_by_id"`
	Status          BillStatus      `db:"status"`
	BillType        BillType        `db:"bill_type"`
	Service         string          `db:"service"`
	Amount          decimal.Decimal `db:"amount"`
	AmountUSD       decimal.Decimal `db:"amount_usd"`
	USDRate         decimal.Decimal `db:"usd_rate"`
	Currency        string          `db:"currency"`
	MerchantAddress string          `db:"merchant_address"`
	AgreementID     *string         `db:"agreement_id"`
	IsRecurring     bool            `db:"is_recurring"`
	Recurring       *RecurringSpec  `db:"recurring"`
	Buyers          []Buyer         `db:"buyers"`
	TxSeq           string          `db:"tx_seq"`
	ParentTxSeq     *string         `db:"parent_tx_seq"`
	Notes           *string         `db:"notes"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

// CycleClone builds the bill instance the scheduler persists for one occurrence
// of a recurring series. The clone gets a fresh identity and tx_seq; payment
// outcome for the cycle is carried by the transactions generated against it.
func (b *Bill) CycleClone(txSeq string, now time.Time) *Bill {
	clone := *b
	clone.ID = uuid.New()
	parentID := b.ID
	clone.ParentID = &parentID
	clone.TxSeq = txSeq
	parentSeq := b.TxSeq
	clone.ParentTxSeq = &parentSeq
	clone.CreatedAt = now
	clone.UpdatedAt = now
	if b.Recurring != nil {
		rec := *b.Recurring
		rec.RunAt = &now
		clone.Recurring = &rec
	}
	return &clone
}
