package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TxStatusWaiting    TransactionStatus = "WAITING"
	TxStatusPending    TransactionStatus = "PENDING"
	TxStatusProcessing TransactionStatus = "PROCESSING"
	TxStatusConfirmed  TransactionStatus = "CONFIRMED"
	TxStatusCompleted  TransactionStatus = "COMPLETED"
	TxStatusFailed     TransactionStatus = "FAILED"
	TxStatusRejected   TransactionStatus = "REJECTED"
	TxStatusCancelled  TransactionStatus = "CANCELLED"
	TxStatusBlocked    TransactionStatus = "BLOCKED"
)

type TransactionType string

const (
	TxTypePayment  TransactionType = "PAYMENT"
	TxTypeDeposit  TransactionType = "DEPOSIT"
	TxTypeWithdraw TransactionType = "WITHDRAW"
	TxTypeTransfer TransactionType = "TRANSFER"
)

// Transaction is the unit of reconciliation with the external ledger. TxID is
// the ledger transaction hash, set once observed; ConfirmTxID is the secondary
// hash recorded during the over-max-fund re-confirmation flow.
type Transaction struct {
	ID                   uuid.UUID           `db:"id"`
	TxSeq                string              `db:"tx_seq"`
	BillID               *uuid.UUID          `db:"bill_id"`
	BillType             BillType            `db:"bill_type"`
	TranType             TransactionType     `db:"tran_type"`
	Status               TransactionStatus   `db:"status"`
	TxID                 *string             `db:"tx_id"`
	ConfirmTxID          *string             `db:"confirm_tx_id"`
	FromUserID           uuid.UUID           `db:"from_user_id"`
	FromAddress          string              `db:"from_address"`
	ToUserID             uuid.UUID           `db:"to_user_id"`
	ToAddress            string              `db:"to_address"`
	Amount               decimal.Decimal     `db:"amount"`
	RequestAmount        decimal.Decimal     `db:"request_amount"`
	AmountUSD            decimal.Decimal     `db:"amount_usd"`
	USDRate              decimal.Decimal     `db:"usd_rate"`
	Currency             string              `db:"currency"`
	CommissionFee        decimal.Decimal     `db:"commission_fee"`
	CommissionPercentage decimal.Decimal     `db:"commission_percentage"`
	WithdrawFee          decimal.NullDecimal `db:"withdraw_fee"`
	GasConsumed          decimal.NullDecimal `db:"gas_consumed"`
	ScheduleTime         *time.Time          `db:"schedule_time"`
	ScheduleType         *Cadence            `db:"schedule_type"`
	Description          string              `db:"description"`
	Error                *string             `db:"error"`
	Refunded             bool                `db:"refunded"`
	RefundHash           *string             `db:"refund_hash"`
	ChainID              *string             `db:"chain_id"`
	ChainIndex           *int64              `db:"chain_index"`
	CompletedAt          *time.Time          `db:"completed_at"`
	CreatedAt            time.Time           `db:"created_at"`
	UpdatedAt            time.Time           `db:"updated_at"`
}

// IsPaymentBillType reports whether the generic failed-transition fallback may
// apply to this transaction's bill type.
func IsPaymentBillType(t BillType) bool {
	switch t {
	case BillTypeInstant, BillTypeSingle, BillTypeSchedule:
		return true
	default:
		return false
	}
}
