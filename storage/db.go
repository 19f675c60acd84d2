package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
)

// ErrNotFound is returned by point lookups when no row matches. Reconciliation
// callers treat it as an idempotent no-op, never as a failure.
var ErrNotFound = errors.New("storage: not found")

type RedisConfig struct {
	Host     string `mapstructure:"host" json:"host,omitempty"`
	Port     string `mapstructure:"port" json:"port,omitempty"`
	User     string `mapstructure:"user" json:"user,omitempty"`
	Password string `mapstructure:"password" json:"password,omitempty"`
	DB       int    `mapstructure:"db" json:"db,omitempty"`
}

// TransactionUpdate is a narrow conditional patch. Every field left nil/zero
// stays untouched; the write applies only when the row still matches the
// expected current status, which is the module's only concurrency-safety
// mechanism (deliberately no multi-row transactions).
type TransactionUpdate struct {
	Status      *types.TransactionStatus
	GasConsumed decimal.NullDecimal
	Amount      *decimal.Decimal
	Error       *string
	ConfirmTxID *string
	Refunded    *bool
	RefundHash  *string
	WithdrawFee *decimal.Decimal
	TxID        *string
	ChainID     *string
	ChainIndex  *int64
	CompletedAt *time.Time
}

// ScheduleLookback bounds the active/inactive bill selection per cadence.
type ScheduleLookback struct {
	Daily   time.Duration
	Weekly  time.Duration
	Monthly time.Duration
}

type DatabaseStorage interface {
	Close() error
	Pool() *pgxpool.Pool

	// Bills
	GetBill(ctx context.Context, id uuid.UUID) (*types.Bill, error)
	CreateBill(ctx context.Context, bill *types.Bill) error
	UpdateBillSchedule(ctx context.Context, bill *types.Bill) error
	LockBillSchedule(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ActiveScheduledBills(ctx context.Context, now time.Time, lookback ScheduleLookback) ([]types.Bill, error)
	InactiveScheduledBills(ctx context.Context, now time.Time, lookback ScheduleLookback) ([]types.Bill, error)
	UpdateBillStatus(ctx context.Context, id uuid.UUID, expected *types.BillStatus, to types.BillStatus, notes *string) (bool, error)
	FindBillByAgreementID(ctx context.Context, agreementID string, expected types.BillStatus) (*types.Bill, error)

	// Transactions
	GetTransaction(ctx context.Context, id uuid.UUID) (*types.Transaction, error)
	CreateTransactions(ctx context.Context, trans []*types.Transaction) error
	FindTransactionByTxID(ctx context.Context, txID string, expected types.TransactionStatus) (*types.Transaction, error)
	FindTransactionByConfirmTxID(ctx context.Context, confirmTxID string, expected types.TransactionStatus) (*types.Transaction, error)
	FindTransactionByTxIDOrRefundHash(ctx context.Context, hash string) (*types.Transaction, error)
	FindTransactionByChainID(ctx context.Context, chainID string) (*types.Transaction, error)
	HasTransactionOutsideStatus(ctx context.Context, billID uuid.UUID, status types.TransactionStatus) (bool, error)
	UpdateTransaction(ctx context.Context, id uuid.UUID, expected *types.TransactionStatus, update TransactionUpdate) (bool, error)
	CancelTransactionsForBill(ctx context.Context, billID uuid.UUID) error

	// Users and wallets
	GetUser(ctx context.Context, id uuid.UUID) (*types.User, error)
	GetUsers(ctx context.Context, ids []uuid.UUID) ([]types.User, error)
	FindUserByWallet(ctx context.Context, address string) (*types.User, error)
	SetWalletRegistered(ctx context.Context, address string) (*types.User, error)

	// Commission rules. A missing rule is (nil, nil), not ErrNotFound; the
	// generator falls back to its static percentage.
	GetCommissionRule(ctx context.Context, ruleType types.CommissionType) (*types.CommissionRule, error)

	// Webhook records
	CreateWebhook(ctx context.Context, event types.WebhookEvent, data []byte) (*types.WebhookRecord, error)
	GetWebhook(ctx context.Context, id uuid.UUID) (*types.WebhookRecord, error)
	CompleteWebhook(ctx context.Context, id uuid.UUID, at time.Time) error

	// Sequences
	NextTransactionSeq(ctx context.Context, now time.Time) (string, error)
}
