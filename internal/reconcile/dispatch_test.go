package reconcile

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/ledger"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/notify"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
	"github.com/InfinitoSolutions/ibl-pay-api/storage"
)

type fakeDB struct {
	mu    sync.Mutex
	trans map[uuid.UUID]*types.Transaction
	bills map[uuid.UUID]*types.Bill
	users map[string]*types.User
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		trans: make(map[uuid.UUID]*types.Transaction),
		bills: make(map[uuid.UUID]*types.Bill),
		users: make(map[string]*types.User),
	}
}

func (f *fakeDB) addTran(t *types.Transaction) { f.trans[t.ID] = t }
func (f *fakeDB) addBill(b *types.Bill)        { f.bills[b.ID] = b }
func (f *fakeDB) addUser(u *types.User)        { f.users[u.WalletAddress] = u }

func (f *fakeDB) FindTransactionByTxID(_ context.Context, txID string, expected types.TransactionStatus) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.trans {
		if t.TxID != nil && *t.TxID == txID && t.Status == expected {
			cp := *t
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeDB) FindTransactionByConfirmTxID(_ context.Context, confirmTxID string, expected types.TransactionStatus) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.trans {
		if t.ConfirmTxID != nil && *t.ConfirmTxID == confirmTxID && t.Status == expected {
			cp := *t
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeDB) FindTransactionByTxIDOrRefundHash(_ context.Context, hash string) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.trans {
		if (t.TxID != nil && *t.TxID == hash) || (t.RefundHash != nil && *t.RefundHash == hash) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeDB) UpdateTransaction(_ context.Context, id uuid.UUID, expected *types.TransactionStatus, update storage.TransactionUpdate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trans[id]
	if !ok {
		return false, nil
	}
	if expected != nil && t.Status != *expected {
		return false, nil
	}
	if update.Status != nil {
		t.Status = *update.Status
	}
	if update.GasConsumed.Valid {
		t.GasConsumed = update.GasConsumed
	}
	if update.Amount != nil {
		t.Amount = *update.Amount
	}
	if update.Error != nil {
		t.Error = update.Error
	}
	if update.ConfirmTxID != nil {
		t.ConfirmTxID = update.ConfirmTxID
	}
	if update.Refunded != nil {
		t.Refunded = *update.Refunded
	}
	if update.RefundHash != nil {
		t.RefundHash = update.RefundHash
	}
	if update.CompletedAt != nil {
		t.CompletedAt = update.CompletedAt
	}
	return true, nil
}

func (f *fakeDB) UpdateBillStatus(_ context.Context, id uuid.UUID, expected *types.BillStatus, to types.BillStatus, notes *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bills[id]
	if !ok {
		return false, nil
	}
	if expected != nil && b.Status != *expected {
		return false, nil
	}
	b.Status = to
	if notes != nil {
		b.Notes = notes
	}
	return true, nil
}

func (f *fakeDB) FindBillByAgreementID(_ context.Context, agreementID string, expected types.BillStatus) (*types.Bill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bills {
		if b.AgreementID != nil && *b.AgreementID == agreementID && b.Status == expected {
			cp := *b
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeDB) FindUserByWallet(_ context.Context, address string) (*types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[address]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeDB) SetWalletRegistered(_ context.Context, address string) (*types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	u.WalletRegistered = true
	cp := *u
	return &cp, nil
}

type eightDecimals struct{}

func (eightDecimals) DecimalsFor(context.Context, string) int32 { return 8 }

func newTestDispatcher(db *fakeDB) (*Dispatcher, *notify.Outbox) {
	outbox := notify.NewOutbox()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewDispatcher(db, eightDecimals{}, outbox, logger), outbox
}

func strPtr(s string) *string { return &s }

func processingPayment(txID string, billID uuid.UUID) *types.Transaction {
	return &types.Transaction{
		ID:         uuid.New(),
		TxSeq:      "240310-00000001",
		BillID:     &billID,
		BillType:   types.BillTypeInstant,
		TranType:   types.TxTypePayment,
		Status:     types.TxStatusProcessing,
		TxID:       strPtr(txID),
		FromUserID: uuid.New(),
		ToUserID:   uuid.New(),
		Amount:     decimal.RequireFromString("1"),
		Currency:   "BTC",
	}
}

func gas(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func TestDispatchPaymentSuccess(t *testing.T) {
	db := newFakeDB()
	billID := uuid.New()
	db.addBill(&types.Bill{ID: billID, Status: types.BillStatusConfirmed, BillType: types.BillTypeInstant})
	tran := processingPayment("abc123", billID)
	db.addTran(tran)
	d, outbox := newTestDispatcher(db)

	event := &ledger.PaymentEvent{
		TxID:        "abc123",
		Success:     true,
		Function:    ledger.FunctionInstantPay,
		Name:        "transfer",
		GasConsumed: gas("0.123"),
	}
	require.NoError(t, d.Dispatch(context.Background(), event))

	got := db.trans[tran.ID]
	assert.Equal(t, types.TxStatusCompleted, got.Status)
	assert.True(t, got.GasConsumed.Valid)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, types.BillStatusCompleted, db.bills[billID].Status)

	sent := outbox.ByKind(notify.KindTransactionCompleted)
	require.Len(t, sent, 1)
	assert.ElementsMatch(t, []uuid.UUID{tran.FromUserID, tran.ToUserID}, sent[0].Recipients)

	// Redelivery finds nothing in PROCESSING and must not notify again.
	require.NoError(t, d.Dispatch(context.Background(), event))
	assert.Len(t, outbox.ByKind(notify.KindTransactionCompleted), 1)
}

func TestDispatchPullScheduleAmountOverride(t *testing.T) {
	db := newFakeDB()
	billID := uuid.New()
	db.addBill(&types.Bill{ID: billID, Status: types.BillStatusConfirmed, BillType: types.BillTypeSchedule})
	tran := processingPayment("pull1", billID)
	tran.BillType = types.BillTypeSchedule
	db.addTran(tran)
	d, _ := newTestDispatcher(db)

	event := &ledger.PaymentEvent{
		TxID:     "pull1",
		Success:  true,
		Function: ledger.FunctionPullSchedule,
		Name:     ledger.EventTransfer,
		Params:   []string{"from-addr", "to-addr", "150000000"},
	}
	require.NoError(t, d.Dispatch(context.Background(), event))

	got := db.trans[tran.ID]
	assert.Equal(t, types.TxStatusCompleted, got.Status)
	assert.True(t, decimal.RequireFromString("1.5").Equal(got.Amount))
}

func TestDispatchPaymentFailure(t *testing.T) {
	t.Run("max_fund keeps processing and records confirm tx id", func(t *testing.T) {
		db := newFakeDB()
		billID := uuid.New()
		db.addBill(&types.Bill{ID: billID, Status: types.BillStatusConfirmed})
		tran := processingPayment("mf1", billID)
		db.addTran(tran)
		d, outbox := newTestDispatcher(db)

		event := &ledger.PaymentEvent{
			TxID:     "mf1",
			Success:  false,
			Function: ledger.FunctionInstantPay,
			Name:     ledger.EventMaxFund,
			Params:   []string{"confirm-hash-1"},
		}
		require.NoError(t, d.Dispatch(context.Background(), event))

		got := db.trans[tran.ID]
		assert.Equal(t, types.TxStatusProcessing, got.Status)
		require.NotNil(t, got.ConfirmTxID)
		assert.Equal(t, "confirm-hash-1", *got.ConfirmTxID)

		sent := outbox.ByKind(notify.KindOverMaxFundConfirmRequest)
		require.Len(t, sent, 1)
		assert.Equal(t, []uuid.UUID{tran.FromUserID}, sent[0].Recipients)
	})

	t.Run("error event fails transaction and bill", func(t *testing.T) {
		db := newFakeDB()
		billID := uuid.New()
		db.addBill(&types.Bill{ID: billID, Status: types.BillStatusConfirmed})
		tran := processingPayment("err1", billID)
		db.addTran(tran)
		d, outbox := newTestDispatcher(db)

		event := &ledger.PaymentEvent{
			TxID:     "err1",
			Success:  false,
			Function: ledger.FunctionSinglePay,
			Name:     ledger.EventError,
			Params:   []string{"insufficient funds"},
		}
		require.NoError(t, d.Dispatch(context.Background(), event))

		got := db.trans[tran.ID]
		assert.Equal(t, types.TxStatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, "insufficient funds", *got.Error)
		assert.Equal(t, types.BillStatusFailed, db.bills[billID].Status)
		assert.Len(t, outbox.ByKind(notify.KindTransactionFailed), 1)
	})
}

func TestDispatchMaxFundAdjust(t *testing.T) {
	confirmed := func(billID uuid.UUID) *types.Transaction {
		tran := processingPayment("adj1", billID)
		tran.Status = types.TxStatusConfirmed
		tran.ConfirmTxID = strPtr("conf1")
		return tran
	}

	t.Run("delete completes the transaction", func(t *testing.T) {
		db := newFakeDB()
		billID := uuid.New()
		db.addBill(&types.Bill{ID: billID, Status: types.BillStatusConfirmed})
		tran := confirmed(billID)
		db.addTran(tran)
		d, outbox := newTestDispatcher(db)

		event := &ledger.PaymentEvent{
			Success:  true,
			TxID:     "adjust-call-hash",
			Function: ledger.FunctionMaxFundAdjust,
			Name:     ledger.EventMaxFundDelete,
			Params:   []string{"conf1"},
		}
		require.NoError(t, d.Dispatch(context.Background(), event))
		assert.Equal(t, types.TxStatusCompleted, db.trans[tran.ID].Status)
		assert.Equal(t, types.BillStatusCompleted, db.bills[billID].Status)
		assert.Len(t, outbox.ByKind(notify.KindTransactionCompleted), 1)
	})

	t.Run("reject transitions to REJECTED with notification", func(t *testing.T) {
		db := newFakeDB()
		billID := uuid.New()
		db.addBill(&types.Bill{ID: billID, Status: types.BillStatusConfirmed})
		tran := confirmed(billID)
		db.addTran(tran)
		d, outbox := newTestDispatcher(db)

		event := &ledger.PaymentEvent{
			Success:  true,
			TxID:     "adjust-call-hash",
			Function: ledger.FunctionMaxFundAdjust,
			Name:     ledger.EventMaxFundReject,
			Params:   []string{"conf1"},
		}
		require.NoError(t, d.Dispatch(context.Background(), event))
		assert.Equal(t, types.TxStatusRejected, db.trans[tran.ID].Status)
		assert.Equal(t, types.BillStatusRejected, db.bills[billID].Status)

		sent := outbox.ByKind(notify.KindMaxFundRejected)
		require.Len(t, sent, 1)
		assert.Equal(t, []uuid.UUID{tran.FromUserID}, sent[0].Recipients)
	})
}

func TestDispatchAgreementSetup(t *testing.T) {
	db := newFakeDB()
	confirmedBy := uuid.New()
	bill := &types.Bill{
		ID:          uuid.New(),
		MerchantID:  uuid.New(),
		ConfirmedBy: &confirmedBy,
		Status:      types.BillStatusProcessing,
		BillType:    types.BillTypeSchedule,
		AgreementID: strPtr("agree1"),
	}
	db.addBill(bill)
	d, outbox := newTestDispatcher(db)

	event := &ledger.PaymentEvent{
		TxID:     "agree1",
		Success:  true,
		Function: ledger.FunctionAgreementSetup,
		Name:     "agreement",
	}
	require.NoError(t, d.Dispatch(context.Background(), event))
	assert.Equal(t, types.BillStatusConfirmed, db.bills[bill.ID].Status)

	sent := outbox.ByKind(notify.KindScheduleSetupConfirmed)
	require.Len(t, sent, 1)
	assert.ElementsMatch(t, []uuid.UUID{confirmedBy, bill.MerchantID}, sent[0].Recipients)

	// Already CONFIRMED: redelivery is a no-op.
	require.NoError(t, d.Dispatch(context.Background(), event))
	assert.Len(t, outbox.ByKind(notify.KindScheduleSetupConfirmed), 1)
}

func TestDispatchAgreementSetupFailure(t *testing.T) {
	db := newFakeDB()
	confirmedBy := uuid.New()
	bill := &types.Bill{
		ID:          uuid.New(),
		MerchantID:  uuid.New(),
		ConfirmedBy: &confirmedBy,
		Status:      types.BillStatusProcessing,
		BillType:    types.BillTypeSchedule,
		AgreementID: strPtr("agree2"),
	}
	db.addBill(bill)
	d, outbox := newTestDispatcher(db)

	event := &ledger.PaymentEvent{
		TxID:     "agree2",
		Success:  false,
		Function: ledger.FunctionAgreementSetup,
		Name:     ledger.EventError,
		Params:   []string{"contract rejected agreement"},
	}
	require.NoError(t, d.Dispatch(context.Background(), event))

	got := db.bills[bill.ID]
	assert.Equal(t, types.BillStatusFailed, got.Status)
	require.NotNil(t, got.Notes)
	assert.Equal(t, "contract rejected agreement", *got.Notes)

	sent := outbox.ByKind(notify.KindScheduleSetupFailed)
	require.Len(t, sent, 1)
	assert.ElementsMatch(t, []uuid.UUID{confirmedBy, bill.MerchantID}, sent[0].Recipients)
}

func TestDispatchWithdrawalConfirmed(t *testing.T) {
	db := newFakeDB()
	user := &types.User{ID: uuid.New(), WalletAddress: "wd-addr", Status: types.UserStatusActive}
	db.addUser(user)
	tran := &types.Transaction{
		ID:         uuid.New(),
		TranType:   types.TxTypeWithdraw,
		Status:     types.TxStatusProcessing,
		TxID:       strPtr("wd1"),
		FromUserID: user.ID,
		Amount:     decimal.RequireFromString("3"),
		Currency:   "BTC",
	}
	db.addTran(tran)
	d, outbox := newTestDispatcher(db)

	event := &ledger.PaymentEvent{
		TxID:        "wd1",
		Success:     true,
		Function:    ledger.FunctionWithdrawal,
		Name:        ledger.EventTransfer,
		Params:      []string{"wd-addr", "operator-addr", "300000000"},
		GasConsumed: gas("0.05"),
	}
	require.NoError(t, d.Dispatch(context.Background(), event))

	got := db.trans[tran.ID]
	assert.Equal(t, types.TxStatusPending, got.Status)
	assert.True(t, got.GasConsumed.Valid)
	assert.Len(t, outbox.ByKind(notify.KindWithdrawConfirmed), 1)
}

func TestDispatchDepositIssue(t *testing.T) {
	t.Run("completes deposit once with base unit amount", func(t *testing.T) {
		db := newFakeDB()
		buyer := &types.User{ID: uuid.New(), WalletAddress: "buyer-addr", Role: types.UserRoleBuyer, Status: types.UserStatusActive}
		db.addUser(buyer)
		tran := &types.Transaction{
			ID:         uuid.New(),
			TranType:   types.TxTypeDeposit,
			Status:     types.TxStatusProcessing,
			TxID:       strPtr("dep1"),
			FromUserID: buyer.ID,
			Currency:   "BTC",
		}
		db.addTran(tran)
		d, outbox := newTestDispatcher(db)

		event := &ledger.PaymentEvent{
			TxID:     "dep1",
			Success:  true,
			Function: ledger.FunctionDepositIssue,
			Name:     ledger.EventTransfer,
			Params:   []string{"buyer-addr", "250000000"},
		}
		require.NoError(t, d.Dispatch(context.Background(), event))

		got := db.trans[tran.ID]
		assert.Equal(t, types.TxStatusCompleted, got.Status)
		assert.True(t, decimal.RequireFromString("2.5").Equal(got.Amount))
		assert.Len(t, outbox.ByKind(notify.KindDepositCompleted), 1)

		// Explorer restarts redeliver webhooks; second delivery is a no-op.
		require.NoError(t, d.Dispatch(context.Background(), event))
		assert.Len(t, outbox.ByKind(notify.KindDepositCompleted), 1)
	})

	t.Run("hash matching a withdrawal is a refund, once", func(t *testing.T) {
		db := newFakeDB()
		buyer := &types.User{ID: uuid.New(), WalletAddress: "buyer-addr", Role: types.UserRoleBuyer, Status: types.UserStatusActive}
		db.addUser(buyer)
		tran := &types.Transaction{
			ID:         uuid.New(),
			TranType:   types.TxTypeWithdraw,
			Status:     types.TxStatusFailed,
			TxID:       strPtr("wd-orig"),
			RefundHash: strPtr("refund1"),
			FromUserID: buyer.ID,
			Currency:   "BTC",
		}
		db.addTran(tran)
		d, outbox := newTestDispatcher(db)

		event := &ledger.PaymentEvent{
			TxID:     "refund1",
			Success:  true,
			Function: ledger.FunctionDepositIssue,
			Name:     ledger.EventTransfer,
			Params:   []string{"buyer-addr", "100000000"},
		}
		require.NoError(t, d.Dispatch(context.Background(), event))
		assert.True(t, db.trans[tran.ID].Refunded)
		assert.Equal(t, types.TxStatusFailed, db.trans[tran.ID].Status)
		assert.Len(t, outbox.ByKind(notify.KindRefundCompleted), 1)

		require.NoError(t, d.Dispatch(context.Background(), event))
		assert.Len(t, outbox.ByKind(notify.KindRefundCompleted), 1)
	})

	t.Run("non-buyer wallet is ignored", func(t *testing.T) {
		db := newFakeDB()
		merchant := &types.User{ID: uuid.New(), WalletAddress: "merch-addr", Role: types.UserRoleMerchant, Status: types.UserStatusActive}
		db.addUser(merchant)
		tran := &types.Transaction{
			ID:       uuid.New(),
			TranType: types.TxTypeDeposit,
			Status:   types.TxStatusProcessing,
			TxID:     strPtr("dep2"),
			Currency: "BTC",
		}
		db.addTran(tran)
		d, outbox := newTestDispatcher(db)

		event := &ledger.PaymentEvent{
			TxID:     "dep2",
			Success:  true,
			Function: ledger.FunctionDepositIssue,
			Name:     ledger.EventTransfer,
			Params:   []string{"merch-addr", "100000000"},
		}
		require.NoError(t, d.Dispatch(context.Background(), event))
		assert.Equal(t, types.TxStatusProcessing, db.trans[tran.ID].Status)
		assert.Empty(t, outbox.Sent())
	})
}

func TestDispatchRegister(t *testing.T) {
	t.Run("success marks wallet registered", func(t *testing.T) {
		db := newFakeDB()
		user := &types.User{ID: uuid.New(), WalletAddress: "new-addr", Status: types.UserStatusActive}
		db.addUser(user)
		d, outbox := newTestDispatcher(db)

		event := &ledger.PaymentEvent{
			TxID:     "reg1",
			Success:  true,
			Function: ledger.FunctionRegister,
			Name:     "register",
			Params:   []string{"new-addr"},
		}
		require.NoError(t, d.Dispatch(context.Background(), event))
		assert.True(t, db.users["new-addr"].WalletRegistered)
		assert.Len(t, outbox.ByKind(notify.KindWalletRegistered), 1)
	})

	t.Run("failure notifies without mutating", func(t *testing.T) {
		db := newFakeDB()
		user := &types.User{ID: uuid.New(), WalletAddress: "new-addr", Status: types.UserStatusActive}
		db.addUser(user)
		d, outbox := newTestDispatcher(db)

		event := &ledger.PaymentEvent{
			TxID:     "reg1",
			Success:  false,
			Function: ledger.FunctionRegister,
			Name:     ledger.EventError,
			Params:   []string{"new-addr"},
		}
		require.NoError(t, d.Dispatch(context.Background(), event))
		assert.False(t, db.users["new-addr"].WalletRegistered)
		assert.Len(t, outbox.ByKind(notify.KindWalletRegisterFailed), 1)
	})
}

func TestDispatchUnknownFunction(t *testing.T) {
	t.Run("payment bill types fall back to FAILED", func(t *testing.T) {
		db := newFakeDB()
		billID := uuid.New()
		db.addBill(&types.Bill{ID: billID, Status: types.BillStatusConfirmed})
		tran := processingPayment("unk1", billID)
		db.addTran(tran)
		d, _ := newTestDispatcher(db)

		event := &ledger.PaymentEvent{
			TxID:      "unk1",
			Success:   true,
			Function:  ledger.FunctionUnknown,
			FuncToken: "PRO_Mystery",
			Name:      ledger.EventTransfer,
		}
		require.NoError(t, d.Dispatch(context.Background(), event))
		assert.Equal(t, types.TxStatusFailed, db.trans[tran.ID].Status)
	})

	t.Run("other bill types untouched", func(t *testing.T) {
		db := newFakeDB()
		tran := &types.Transaction{
			ID:       uuid.New(),
			TranType: types.TxTypeWithdraw,
			Status:   types.TxStatusProcessing,
			TxID:     strPtr("unk2"),
			Currency: "BTC",
		}
		db.addTran(tran)
		d, outbox := newTestDispatcher(db)

		event := &ledger.PaymentEvent{
			TxID:      "unk2",
			Success:   true,
			Function:  ledger.FunctionUnknown,
			FuncToken: "PRO_Mystery",
			Name:      ledger.EventTransfer,
		}
		require.NoError(t, d.Dispatch(context.Background(), event))
		assert.Equal(t, types.TxStatusProcessing, db.trans[tran.ID].Status)
		assert.Empty(t, outbox.Sent())
	})
}
