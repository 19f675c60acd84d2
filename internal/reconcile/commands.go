package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/ledger"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/notify"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/payment"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
	"github.com/InfinitoSolutions/ibl-pay-api/storage"
)

// completePayment finishes a PROCESSING payment transaction. For pull
// schedules the transfer event carries the amount the contract actually
// moved, an integer in the currency's base unit, which overrides the
// requested amount.
func (d *Dispatcher) completePayment(ctx context.Context, e *ledger.PaymentEvent) error {
	tran, err := d.db.FindTransactionByTxID(ctx, e.TxID, types.TxStatusProcessing)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find transaction %s: %w", e.TxID, err)
	}

	now := d.now()
	completed := types.TxStatusCompleted
	update := storage.TransactionUpdate{
		Status:      &completed,
		GasConsumed: e.GasConsumed,
		CompletedAt: &now,
	}
	if e.Function == ledger.FunctionPullSchedule && e.Name == ledger.EventTransfer {
		if raw := e.Param(2); raw != "" {
			if base, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
				amount := payment.FromBaseUnits(base, d.decimals.DecimalsFor(ctx, tran.Currency))
				update.Amount = &amount
			}
		}
	}

	expected := types.TxStatusProcessing
	updated, err := d.db.UpdateTransaction(ctx, tran.ID, &expected, update)
	if err != nil {
		return fmt.Errorf("complete transaction %s: %w", tran.ID, err)
	}
	if !updated {
		return nil
	}

	d.notify.Send(ctx, notify.TransactionCompleted(tran), []uuid.UUID{tran.FromUserID, tran.ToUserID})
	return d.updateBill(ctx, tran, types.BillStatusCompleted, nil)
}

// failPayment moves a PROCESSING payment to FAILED with the captured error,
// unless the event is the over-max-fund interception: that records the
// secondary confirmation id and asks the buyer to re-confirm instead.
func (d *Dispatcher) failPayment(ctx context.Context, e *ledger.PaymentEvent) error {
	tran, err := d.db.FindTransactionByTxID(ctx, e.TxID, types.TxStatusProcessing)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find transaction %s: %w", e.TxID, err)
	}

	if e.Name == ledger.EventMaxFund {
		confirmTxID := e.Param(0)
		if confirmTxID == "" {
			return nil
		}
		expected := types.TxStatusProcessing
		updated, err := d.db.UpdateTransaction(ctx, tran.ID, &expected, storage.TransactionUpdate{
			ConfirmTxID: &confirmTxID,
		})
		if err != nil {
			return fmt.Errorf("record confirm tx id on %s: %w", tran.ID, err)
		}
		if updated {
			d.notify.Send(ctx, notify.OverMaxFundConfirmRequest(tran), []uuid.UUID{tran.FromUserID})
		}
		return nil
	}
	return d.markPaymentFailed(ctx, tran, e)
}

func (d *Dispatcher) markPaymentFailed(ctx context.Context, tran *types.Transaction, e *ledger.PaymentEvent) error {
	now := d.now()
	failed := types.TxStatusFailed
	update := storage.TransactionUpdate{
		Status:      &failed,
		GasConsumed: e.GasConsumed,
		CompletedAt: &now,
	}
	reason := e.Error()
	if reason != "" {
		update.Error = &reason
	}

	expected := types.TxStatusProcessing
	updated, err := d.db.UpdateTransaction(ctx, tran.ID, &expected, update)
	if err != nil {
		return fmt.Errorf("fail transaction %s: %w", tran.ID, err)
	}
	if !updated {
		return nil
	}

	d.notify.Send(ctx, notify.TransactionFailed(tran, reason), []uuid.UUID{tran.FromUserID, tran.ToUserID})
	return d.updateBill(ctx, tran, types.BillStatusFailed, nil)
}

// confirmAgreement marks a scheduled-payment setup bill CONFIRMED once the
// ledger accepted the agreement. The webhook tx id is the agreement id.
func (d *Dispatcher) confirmAgreement(ctx context.Context, e *ledger.PaymentEvent) error {
	bill, err := d.db.FindBillByAgreementID(ctx, e.TxID, types.BillStatusProcessing)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find bill by agreement %s: %w", e.TxID, err)
	}

	expected := types.BillStatusProcessing
	updated, err := d.db.UpdateBillStatus(ctx, bill.ID, &expected, types.BillStatusConfirmed, nil)
	if err != nil {
		return fmt.Errorf("confirm bill %s: %w", bill.ID, err)
	}
	if updated {
		d.notify.Send(ctx, notify.ScheduleSetupConfirmed(bill), billParties(bill))
	}
	return nil
}

func (d *Dispatcher) failAgreement(ctx context.Context, e *ledger.PaymentEvent) error {
	bill, err := d.db.FindBillByAgreementID(ctx, e.TxID, types.BillStatusProcessing)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find bill by agreement %s: %w", e.TxID, err)
	}

	var notes *string
	if reason := e.Error(); reason != "" {
		notes = &reason
	}
	expected := types.BillStatusProcessing
	updated, err := d.db.UpdateBillStatus(ctx, bill.ID, &expected, types.BillStatusFailed, notes)
	if err != nil {
		return fmt.Errorf("fail bill %s: %w", bill.ID, err)
	}
	if updated {
		d.notify.Send(ctx, notify.ScheduleSetupFailed(bill), billParties(bill))
	}
	return nil
}

// resolveMaxFundAdjust settles a transaction the buyer re-confirmed after an
// over-max-fund interception. The adjust call's own hash was stored as
// confirm_tx_id, so that is the lookup key, and the event name decides
// between completion and rejection.
func (d *Dispatcher) resolveMaxFundAdjust(ctx context.Context, e *ledger.PaymentEvent) error {
	tran, err := d.findByConfirmTxID(ctx, e)
	if tran == nil {
		return err
	}
	switch e.Name {
	case ledger.EventMaxFundDelete:
		return d.completeAdjusted(ctx, tran, e)
	case ledger.EventMaxFundReject:
		return d.rejectAdjusted(ctx, tran, e)
	default:
		return nil
	}
}

func (d *Dispatcher) rejectMaxFundAdjust(ctx context.Context, e *ledger.PaymentEvent) error {
	tran, err := d.findByConfirmTxID(ctx, e)
	if tran == nil {
		return err
	}
	if e.Name != ledger.EventMaxFundReject {
		return nil
	}
	return d.rejectAdjusted(ctx, tran, e)
}

func (d *Dispatcher) findByConfirmTxID(ctx context.Context, e *ledger.PaymentEvent) (*types.Transaction, error) {
	confirmTxID := e.Param(0)
	if confirmTxID == "" {
		return nil, nil
	}
	tran, err := d.db.FindTransactionByConfirmTxID(ctx, confirmTxID, types.TxStatusConfirmed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find transaction by confirm tx id %s: %w", confirmTxID, err)
	}
	return tran, nil
}

func (d *Dispatcher) completeAdjusted(ctx context.Context, tran *types.Transaction, e *ledger.PaymentEvent) error {
	now := d.now()
	completed := types.TxStatusCompleted
	expected := types.TxStatusConfirmed
	updated, err := d.db.UpdateTransaction(ctx, tran.ID, &expected, storage.TransactionUpdate{
		Status:      &completed,
		GasConsumed: e.GasConsumed,
		CompletedAt: &now,
	})
	if err != nil {
		return fmt.Errorf("complete adjusted transaction %s: %w", tran.ID, err)
	}
	if !updated {
		return nil
	}
	d.notify.Send(ctx, notify.TransactionCompleted(tran), []uuid.UUID{tran.FromUserID, tran.ToUserID})
	return d.updateBill(ctx, tran, types.BillStatusCompleted, nil)
}

func (d *Dispatcher) rejectAdjusted(ctx context.Context, tran *types.Transaction, e *ledger.PaymentEvent) error {
	now := d.now()
	rejected := types.TxStatusRejected
	update := storage.TransactionUpdate{
		Status:      &rejected,
		GasConsumed: e.GasConsumed,
		CompletedAt: &now,
	}
	if reason := e.Error(); reason != "" {
		update.Error = &reason
	}
	expected := types.TxStatusConfirmed
	updated, err := d.db.UpdateTransaction(ctx, tran.ID, &expected, update)
	if err != nil {
		return fmt.Errorf("reject adjusted transaction %s: %w", tran.ID, err)
	}
	if !updated {
		return nil
	}
	d.notify.Send(ctx, notify.MaxFundRejected(tran), []uuid.UUID{tran.FromUserID})
	return d.updateBill(ctx, tran, types.BillStatusRejected, nil)
}

// confirmWithdrawal moves a withdrawal the ledger executed into PENDING,
// where it waits for manual operator approval.
func (d *Dispatcher) confirmWithdrawal(ctx context.Context, e *ledger.PaymentEvent) error {
	user, err := d.walletUser(ctx, e.Param(0))
	if user == nil {
		return err
	}
	tran, err := d.db.FindTransactionByTxID(ctx, e.TxID, types.TxStatusProcessing)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find withdrawal %s: %w", e.TxID, err)
	}

	pending := types.TxStatusPending
	expected := types.TxStatusProcessing
	updated, err := d.db.UpdateTransaction(ctx, tran.ID, &expected, storage.TransactionUpdate{
		Status:      &pending,
		GasConsumed: e.GasConsumed,
	})
	if err != nil {
		return fmt.Errorf("confirm withdrawal %s: %w", tran.ID, err)
	}
	if updated {
		d.notify.Send(ctx, notify.WithdrawConfirmed(tran), []uuid.UUID{user.ID})
	}
	return nil
}

func (d *Dispatcher) failWithdrawal(ctx context.Context, e *ledger.PaymentEvent) error {
	tran, err := d.db.FindTransactionByTxID(ctx, e.TxID, types.TxStatusProcessing)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find withdrawal %s: %w", e.TxID, err)
	}

	reason := e.Error()
	if reason == "" {
		reason = e.Param(0)
	}
	rejected := types.TxStatusRejected
	update := storage.TransactionUpdate{Status: &rejected}
	if reason != "" {
		update.Error = &reason
	}
	expected := types.TxStatusProcessing
	updated, err := d.db.UpdateTransaction(ctx, tran.ID, &expected, update)
	if err != nil {
		return fmt.Errorf("reject withdrawal %s: %w", tran.ID, err)
	}
	if updated {
		d.notify.Send(ctx, notify.WithdrawFailed(tran, reason), []uuid.UUID{tran.FromUserID})
	}
	return nil
}

// settleDeposit handles the token-issue event. The same hash may belong to a
// prior withdrawal's refund, so the lookup also matches refund hashes; the
// explorer redelivers webhooks on restart, so every branch is duplicate-safe.
func (d *Dispatcher) settleDeposit(ctx context.Context, e *ledger.PaymentEvent) error {
	address := e.Param(0)
	user, err := d.walletUser(ctx, address)
	if user == nil {
		return err
	}
	if user.Role != types.UserRoleBuyer {
		return nil
	}

	tran, err := d.db.FindTransactionByTxIDOrRefundHash(ctx, e.TxID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find deposit %s: %w", e.TxID, err)
	}

	if tran.TranType == types.TxTypeWithdraw {
		return d.settleRefund(ctx, tran, user)
	}
	if tran.Status == types.TxStatusCompleted {
		return nil
	}

	now := d.now()
	completed := types.TxStatusCompleted
	update := storage.TransactionUpdate{
		Status:      &completed,
		CompletedAt: &now,
	}
	if raw := e.Param(1); raw != "" {
		if base, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			amount := payment.FromBaseUnits(base, d.decimals.DecimalsFor(ctx, tran.Currency))
			update.Amount = &amount
		}
	}
	expected := tran.Status
	updated, err := d.db.UpdateTransaction(ctx, tran.ID, &expected, update)
	if err != nil {
		return fmt.Errorf("complete deposit %s: %w", tran.ID, err)
	}
	if updated {
		d.notify.Send(ctx, notify.DepositCompleted(tran), []uuid.UUID{user.ID})
	}
	return nil
}

func (d *Dispatcher) settleRefund(ctx context.Context, tran *types.Transaction, user *types.User) error {
	if tran.Refunded {
		return nil
	}
	refunded := true
	updated, err := d.db.UpdateTransaction(ctx, tran.ID, nil, storage.TransactionUpdate{
		Refunded: &refunded,
	})
	if err != nil {
		return fmt.Errorf("mark refund %s: %w", tran.ID, err)
	}
	if updated {
		d.notify.Send(ctx, notify.RefundCompleted(tran), []uuid.UUID{user.ID})
	}
	return nil
}

// registerWallet records that the contract whitelisted the wallet.
func (d *Dispatcher) registerWallet(ctx context.Context, e *ledger.PaymentEvent) error {
	address := e.Param(0)
	if address == "" {
		return nil
	}
	user, err := d.db.SetWalletRegistered(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("register wallet %s: %w", address, err)
	}
	d.notify.Send(ctx, notify.WalletRegistered(user.ID, address), []uuid.UUID{user.ID})
	return nil
}

func (d *Dispatcher) failRegister(ctx context.Context, e *ledger.PaymentEvent) error {
	address := e.Param(0)
	user, err := d.walletUser(ctx, address)
	if user == nil {
		return err
	}
	d.notify.Send(ctx, notify.WalletRegisterFailed(user.ID, address), []uuid.UUID{user.ID})
	return nil
}

func (d *Dispatcher) walletUser(ctx context.Context, address string) (*types.User, error) {
	if address == "" {
		return nil, nil
	}
	user, err := d.db.FindUserByWallet(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by wallet %s: %w", address, err)
	}
	return user, nil
}

func (d *Dispatcher) updateBill(ctx context.Context, tran *types.Transaction, to types.BillStatus, notes *string) error {
	if tran.BillID == nil {
		return nil
	}
	if _, err := d.db.UpdateBillStatus(ctx, *tran.BillID, nil, to, notes); err != nil {
		return fmt.Errorf("update bill %s: %w", *tran.BillID, err)
	}
	return nil
}

func billParties(bill *types.Bill) []uuid.UUID {
	parties := make([]uuid.UUID, 0, 2)
	if bill.ConfirmedBy != nil {
		parties = append(parties, *bill.ConfirmedBy)
	}
	parties = append(parties, bill.MerchantID)
	return parties
}
