package scheduler

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
	"golang.org/x/sync/errgroup"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/notify"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/schedule"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/tasks"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
	"github.com/InfinitoSolutions/ibl-pay-api/storage"
)

const sweepConcurrency = 8

// Storage is the slice of the database the runner needs.
type Storage interface {
	GetBill(ctx context.Context, id uuid.UUID) (*types.Bill, error)
	CreateBill(ctx context.Context, bill *types.Bill) error
	UpdateBillSchedule(ctx context.Context, bill *types.Bill) error
	LockBillSchedule(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ActiveScheduledBills(ctx context.Context, now time.Time, lookback storage.ScheduleLookback) ([]types.Bill, error)
	InactiveScheduledBills(ctx context.Context, now time.Time, lookback storage.ScheduleLookback) ([]types.Bill, error)
	UpdateBillStatus(ctx context.Context, id uuid.UUID, expected *types.BillStatus, to types.BillStatus, notes *string) (bool, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*types.Transaction, error)
	HasTransactionOutsideStatus(ctx context.Context, billID uuid.UUID, status types.TransactionStatus) (bool, error)
	CancelTransactionsForBill(ctx context.Context, billID uuid.UUID) error
	GetUser(ctx context.Context, id uuid.UUID) (*types.User, error)
	GetUsers(ctx context.Context, ids []uuid.UUID) ([]types.User, error)
	NextTransactionSeq(ctx context.Context, now time.Time) (string, error)
}

// TransactionGenerator creates the pending transactions for one cycle bill.
type TransactionGenerator interface {
	GeneratePending(ctx context.Context, bill *types.Bill, now time.Time) ([]*types.Transaction, error)
}

// Enqueuer is the slice of the asynq client the runner uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Runner drives the recurring-bill machinery: the periodic sweep that locks
// and enqueues due root bills, the per-bill cycle cloning, and the
// abandonment sweep over stale cycle instances. The per-bill locked_at
// compare-and-set is the only mutual exclusion; a contended lock means
// another invocation owns the cycle and the bill is skipped.
type Runner struct {
	db        Storage
	generator TransactionGenerator
	client    Enqueuer
	windows   schedule.Windows
	notify    *notify.FireAndForget
	sd        statsd.ClientInterface
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewRunner(
	db Storage,
	generator TransactionGenerator,
	client Enqueuer,
	windows schedule.Windows,
	notifier notify.Notifier,
	sd statsd.ClientInterface,
	logger logrus.FieldLogger,
) *Runner {
	if sd == nil {
		sd = &statsd.NoOpClient{}
	}
	return &Runner{
		db:        db,
		generator: generator,
		client:    client,
		windows:   windows,
		notify:    notify.NewFireAndForget(notifier, logger),
		sd:        sd,
		logger:    logger.WithField("component", "scheduler.runner"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *Runner) lookback() storage.ScheduleLookback {
	return storage.ScheduleLookback{
		Daily:   r.windows.Daily,
		Weekly:  r.windows.Weekly,
		Monthly: r.windows.Monthly,
	}
}

// Sweep selects the due root bills, takes the per-bill lock and enqueues one
// schedule task per bill it won. Contention and per-bill failures are logged
// and never fail the sweep.
func (r *Runner) Sweep(ctx context.Context) error {
	now := r.now()
	bills, err := r.db.ActiveScheduledBills(ctx, now, r.lookback())
	if err != nil {
		return fmt.Errorf("select active scheduled bills: %w", err)
	}
	_ = r.sd.Count("scheduler.sweep.due_bills", int64(len(bills)), nil, 1)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for i := range bills {
		bill := bills[i]
		g.Go(func() error {
			locked, err := r.db.LockBillSchedule(ctx, bill.ID, now)
			if err != nil {
				r.logger.WithError(err).WithField("bill_id", bill.ID).Error("lock bill failed")
				return nil
			}
			if !locked {
				_ = r.sd.Incr("scheduler.sweep.lock_contention", nil, 1)
				return nil
			}
			task, err := tasks.NewBillScheduleTask(bill.ID)
			if err != nil {
				r.logger.WithError(err).WithField("bill_id", bill.ID).Error("build schedule task failed")
				return nil
			}
			if _, err := r.client.EnqueueContext(ctx, task); err != nil {
				r.logger.WithError(err).WithField("bill_id", bill.ID).Error("enqueue schedule task failed")
				return nil
			}
			_ = r.sd.Incr("scheduler.sweep.enqueued", nil, 1)
			return nil
		})
	}
	return g.Wait()
}

// Schedule produces one cycle of a recurring bill: clones the root, advances
// its schedule, releases the lock, then generates the cycle's pending
// transactions unless a party is no longer active. An ended series only gets
// its next_run_at cleared.
func (r *Runner) Schedule(ctx context.Context, billID uuid.UUID) error {
	bill, err := r.db.GetBill(ctx, billID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load bill %s: %w", billID, err)
	}
	if !bill.IsRecurring || bill.Recurring == nil {
		return nil
	}

	calc, err := schedule.NewCalculator(bill.Recurring, r.windows)
	if err != nil {
		return fmt.Errorf("bill %s recurring spec: %w", billID, err)
	}

	now := r.now()
	if calc.Ended(now) {
		bill.Recurring.NextRunAt = nil
		bill.Recurring.LockedAt = nil
		if err := r.db.UpdateBillSchedule(ctx, bill); err != nil {
			return fmt.Errorf("close ended series %s: %w", billID, err)
		}
		return nil
	}

	seq, err := r.db.NextTransactionSeq(ctx, now)
	if err != nil {
		return fmt.Errorf("next tx seq: %w", err)
	}
	clone := bill.CycleClone(seq, now)

	bill.Recurring.LastRunAt = bill.Recurring.NextRunAt
	calc.Reschedule(now)
	bill.Recurring.RunAt = &now
	bill.Recurring.LockedAt = nil
	if err := r.db.UpdateBillSchedule(ctx, bill); err != nil {
		return fmt.Errorf("advance schedule %s: %w", billID, err)
	}
	if err := r.db.CreateBill(ctx, clone); err != nil {
		return fmt.Errorf("persist cycle bill: %w", err)
	}

	ok, err := r.partiesActive(ctx, bill)
	if err != nil {
		return err
	}
	if !ok {
		return r.cancelCycle(ctx, bill, clone)
	}

	trans, err := r.generator.GeneratePending(ctx, clone, now)
	if err != nil {
		return fmt.Errorf("generate cycle transactions: %w", err)
	}
	_ = r.sd.Count("scheduler.cycle.transactions", int64(len(trans)), nil, 1)

	tranIDs := make([]uuid.UUID, len(trans))
	for i, tran := range trans {
		tranIDs[i] = tran.ID
		task, terr := tasks.NewBillReminderTask(tran.ID)
		if terr != nil {
			r.logger.WithError(terr).WithField("tran_id", tran.ID).Error("build reminder task failed")
			continue
		}
		if _, terr := r.client.EnqueueContext(ctx, task); terr != nil {
			r.logger.WithError(terr).WithField("tran_id", tran.ID).Error("enqueue reminder task failed")
		}
	}
	r.notify.Send(ctx, notify.ScheduledPaymentReminder(bill.MerchantID, clone, tranIDs), []uuid.UUID{bill.MerchantID})
	return nil
}

// partiesActive checks that the merchant and the confirming buyer can still
// transact. A party missing from storage counts as inactive.
func (r *Runner) partiesActive(ctx context.Context, bill *types.Bill) (bool, error) {
	if bill.ConfirmedBy == nil {
		return false, nil
	}
	users, err := r.db.GetUsers(ctx, []uuid.UUID{bill.MerchantID, *bill.ConfirmedBy})
	if err != nil {
		return false, fmt.Errorf("load bill parties: %w", err)
	}
	if len(users) < 2 {
		return false, nil
	}
	for i := range users {
		if !users[i].IsActive() {
			return false, nil
		}
	}
	return true, nil
}

func (r *Runner) lookupUser(ctx context.Context, id uuid.UUID) (*types.User, error) {
	user, err := r.db.GetUser(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}
	return user, nil
}

// cancelCycle cancels a freshly created cycle instance because a party is
// frozen, blocked or gone, and tells both parties whose hold stopped it.
func (r *Runner) cancelCycle(ctx context.Context, parent, clone *types.Bill) error {
	if _, err := r.db.UpdateBillStatus(ctx, clone.ID, nil, types.BillStatusCancelled, nil); err != nil {
		return fmt.Errorf("cancel cycle bill %s: %w", clone.ID, err)
	}
	_ = r.sd.Incr("scheduler.cycle.cancelled", nil, 1)

	recipients := []uuid.UUID{parent.MerchantID}
	if parent.ConfirmedBy != nil {
		recipients = append(recipients, *parent.ConfirmedBy)
	}
	msg := notify.ScheduleCancelledMerchantHold(clone)
	if parent.ConfirmedBy != nil {
		if buyer, err := r.lookupUser(ctx, *parent.ConfirmedBy); err == nil && buyer != nil && buyer.IsFrozenOrBlocked() {
			msg = notify.ScheduleCancelledBuyerHold(clone)
		}
	}
	r.notify.Send(ctx, msg, recipients)
	return nil
}

// AbandonSweep cancels cycle instances whose availability window elapsed
// without the payment being picked up: any transaction of theirs not in
// PROCESSING marks the cycle abandoned.
func (r *Runner) AbandonSweep(ctx context.Context) error {
	now := r.now()
	bills, err := r.db.InactiveScheduledBills(ctx, now, r.lookback())
	if err != nil {
		return fmt.Errorf("select inactive scheduled bills: %w", err)
	}
	for i := range bills {
		bill := bills[i]
		abandoned, err := r.db.HasTransactionOutsideStatus(ctx, bill.ID, types.TxStatusProcessing)
		if err != nil {
			r.logger.WithError(err).WithField("bill_id", bill.ID).Error("check cycle transactions failed")
			continue
		}
		if !abandoned {
			continue
		}
		if _, err := r.db.UpdateBillStatus(ctx, bill.ID, nil, types.BillStatusCancelled, nil); err != nil {
			r.logger.WithError(err).WithField("bill_id", bill.ID).Error("cancel abandoned cycle failed")
			continue
		}
		if err := r.db.CancelTransactionsForBill(ctx, bill.ID); err != nil {
			r.logger.WithError(err).WithField("bill_id", bill.ID).Error("cancel cycle transactions failed")
			continue
		}
		_ = r.sd.Incr("scheduler.sweep.abandoned", nil, 1)
	}
	return nil
}

// Remind sends the one-shot merchant reminder for a pull that is still
// waiting on the buyer an hour after it became due.
func (r *Runner) Remind(ctx context.Context, tranID uuid.UUID) error {
	tran, err := r.db.GetTransaction(ctx, tranID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", tranID, err)
	}
	if tran.TranType != types.TxTypePayment || tran.Status != types.TxStatusPending || tran.BillID == nil {
		return nil
	}
	bill, err := r.db.GetBill(ctx, *tran.BillID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load bill %s: %w", *tran.BillID, err)
	}
	if !bill.IsRecurring {
		return nil
	}
	r.notify.Send(ctx, notify.ScheduledPaymentReminder(tran.ToUserID, bill, []uuid.UUID{tran.ID}), []uuid.UUID{tran.ToUserID})
	return nil
}

// HandleBillSchedule is the asynq handler for per-bill cycle tasks.
func (r *Runner) HandleBillSchedule(ctx context.Context, t *asynq.Task) error {
	var payload tasks.BillSchedulePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode bill schedule payload: %w", err)
	}
	return r.Schedule(ctx, payload.BillID)
}

// HandleBillReminder is the asynq handler for one-shot reminder tasks.
func (r *Runner) HandleBillReminder(ctx context.Context, t *asynq.Task) error {
	var payload tasks.BillReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode reminder payload: %w", err)
	}
	return r.Remind(ctx, payload.TransactionID)
}
