package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/ledger"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/notify"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/payment"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
	"github.com/InfinitoSolutions/ibl-pay-api/storage"
)

// Storage is the slice of the database the dispatcher reads and mutates.
// Every write is status-qualified; a record that is absent or already past
// the expected status makes the command an idempotent no-op.
type Storage interface {
	FindTransactionByTxID(ctx context.Context, txID string, expected types.TransactionStatus) (*types.Transaction, error)
	FindTransactionByConfirmTxID(ctx context.Context, confirmTxID string, expected types.TransactionStatus) (*types.Transaction, error)
	FindTransactionByTxIDOrRefundHash(ctx context.Context, hash string) (*types.Transaction, error)
	UpdateTransaction(ctx context.Context, id uuid.UUID, expected *types.TransactionStatus, update storage.TransactionUpdate) (bool, error)
	UpdateBillStatus(ctx context.Context, id uuid.UUID, expected *types.BillStatus, to types.BillStatus, notes *string) (bool, error)
	FindBillByAgreementID(ctx context.Context, agreementID string, expected types.BillStatus) (*types.Bill, error)
	FindUserByWallet(ctx context.Context, address string) (*types.User, error)
	SetWalletRegistered(ctx context.Context, address string) (*types.User, error)
}

type command func(ctx context.Context, e *ledger.PaymentEvent) error

// Dispatcher routes parsed ledger events to state-mutation commands, one
// table for the success path and one for the failure path.
type Dispatcher struct {
	db       Storage
	decimals payment.DecimalsSource
	notify   *notify.FireAndForget
	logger   logrus.FieldLogger
	now      func() time.Time

	success map[ledger.Function]command
	failure map[ledger.Function]command
}

func NewDispatcher(db Storage, decimals payment.DecimalsSource, notifier notify.Notifier, logger logrus.FieldLogger) *Dispatcher {
	d := &Dispatcher{
		db:       db,
		decimals: decimals,
		notify:   notify.NewFireAndForget(notifier, logger),
		logger:   logger.WithField("component", "reconcile"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	d.success = map[ledger.Function]command{
		ledger.FunctionInstantPay:     d.completePayment,
		ledger.FunctionSinglePay:      d.completePayment,
		ledger.FunctionPullSchedule:   d.completePayment,
		ledger.FunctionAgreementSetup: d.confirmAgreement,
		ledger.FunctionMaxFundAdjust:  d.resolveMaxFundAdjust,
		ledger.FunctionWithdrawal:     d.confirmWithdrawal,
		ledger.FunctionDepositIssue:   d.settleDeposit,
		ledger.FunctionRegister:       d.registerWallet,
	}
	d.failure = map[ledger.Function]command{
		ledger.FunctionInstantPay:     d.failPayment,
		ledger.FunctionSinglePay:      d.failPayment,
		ledger.FunctionPullSchedule:   d.failPayment,
		ledger.FunctionAgreementSetup: d.failAgreement,
		ledger.FunctionMaxFundAdjust:  d.rejectMaxFundAdjust,
		ledger.FunctionWithdrawal:     d.failWithdrawal,
		ledger.FunctionRegister:       d.failRegister,
	}
	return d
}

// Dispatch applies the command matching the event's function and outcome.
// Errors are storage failures only; precondition mismatches return nil so the
// queue never redelivers a payload that has nothing left to do.
func (d *Dispatcher) Dispatch(ctx context.Context, e *ledger.PaymentEvent) error {
	if e.TxID == "" {
		return nil
	}
	table := d.failure
	if e.Success {
		table = d.success
	}
	cmd, ok := table[e.Function]
	if !ok {
		// A call that reached the contract but invoked nothing we know is a
		// failed payment as far as the local ledger is concerned.
		d.logger.WithFields(logrus.Fields{
			"tx_id":      e.TxID,
			"func_token": e.FuncToken,
		}).Warn("unknown ledger function")
		return d.genericFail(ctx, e)
	}
	return cmd(ctx, e)
}

// genericFail applies the best-effort FAILED transition for payment bill
// types. Anything else is left untouched.
func (d *Dispatcher) genericFail(ctx context.Context, e *ledger.PaymentEvent) error {
	tran, err := d.db.FindTransactionByTxID(ctx, e.TxID, types.TxStatusProcessing)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find transaction %s: %w", e.TxID, err)
	}
	if !types.IsPaymentBillType(tran.BillType) {
		return nil
	}
	return d.markPaymentFailed(ctx, tran, e)
}
