package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/notify"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/tasks"
	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
	"github.com/InfinitoSolutions/ibl-pay-api/storage"
)

type fakeWebhookDB struct {
	mu      sync.Mutex
	records map[uuid.UUID]*types.WebhookRecord
}

func newFakeWebhookDB() *fakeWebhookDB {
	return &fakeWebhookDB{records: make(map[uuid.UUID]*types.WebhookRecord)}
}

func (f *fakeWebhookDB) CreateWebhook(_ context.Context, event types.WebhookEvent, data []byte) (*types.WebhookRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := &types.WebhookRecord{
		ID:        uuid.New(),
		Event:     event,
		Data:      json.RawMessage(data),
		Status:    types.WebhookStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeWebhookDB) GetWebhook(_ context.Context, id uuid.UUID) (*types.WebhookRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeWebhookDB) CompleteWebhook(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	rec.Status = types.WebhookStatusCompleted
	rec.CompletedAt = &at
	return nil
}

type fakeWebhookEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (f *fakeWebhookEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type recordingHandler struct {
	executed []*types.WebhookRecord
	err      error
}

func (h *recordingHandler) Execute(_ context.Context, rec *types.WebhookRecord) error {
	h.executed = append(h.executed, rec)
	return h.err
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestManagerStore(t *testing.T) {
	db := newFakeWebhookDB()
	client := &fakeWebhookEnqueuer{}
	m := NewManager(db, client, nil, testLogger())

	rec, err := m.Store(context.Background(), types.WebhookEventSecurity, []byte(`{"txId":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, types.WebhookStatusPending, rec.Status)

	require.Len(t, client.tasks, 1)
	assert.Equal(t, tasks.TypeWebhookProcess, client.tasks[0].Type())
	var payload tasks.WebhookProcessPayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &payload))
	assert.Equal(t, rec.ID, payload.WebhookID)
}

func TestManagerProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatches and completes", func(t *testing.T) {
		db := newFakeWebhookDB()
		m := NewManager(db, &fakeWebhookEnqueuer{}, nil, testLogger())
		handler := &recordingHandler{}
		m.Register(types.WebhookEventPayment, handler)

		rec, err := m.Store(ctx, types.WebhookEventPayment, []byte(`{}`))
		require.NoError(t, err)
		require.NoError(t, m.Process(ctx, rec.ID))

		require.Len(t, handler.executed, 1)
		stored, err := db.GetWebhook(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, types.WebhookStatusCompleted, stored.Status)
		require.NotNil(t, stored.CompletedAt)
	})

	t.Run("handler error leaves record pending", func(t *testing.T) {
		db := newFakeWebhookDB()
		m := NewManager(db, &fakeWebhookEnqueuer{}, nil, testLogger())
		m.Register(types.WebhookEventPayment, &recordingHandler{err: errors.New("boom")})

		rec, err := m.Store(ctx, types.WebhookEventPayment, []byte(`{}`))
		require.NoError(t, err)
		require.NoError(t, m.Process(ctx, rec.ID))

		stored, err := db.GetWebhook(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, types.WebhookStatusPending, stored.Status)
	})

	t.Run("unknown event is a no-op", func(t *testing.T) {
		db := newFakeWebhookDB()
		m := NewManager(db, &fakeWebhookEnqueuer{}, nil, testLogger())

		rec, err := m.Store(ctx, types.WebhookEventKYC, []byte(`{}`))
		require.NoError(t, err)
		require.NoError(t, m.Process(ctx, rec.ID))

		stored, err := db.GetWebhook(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, types.WebhookStatusPending, stored.Status)
	})

	t.Run("completed record is not re-dispatched", func(t *testing.T) {
		db := newFakeWebhookDB()
		m := NewManager(db, &fakeWebhookEnqueuer{}, nil, testLogger())
		handler := &recordingHandler{}
		m.Register(types.WebhookEventPayment, handler)

		rec, err := m.Store(ctx, types.WebhookEventPayment, []byte(`{}`))
		require.NoError(t, err)
		require.NoError(t, m.Process(ctx, rec.ID))
		require.NoError(t, m.Process(ctx, rec.ID))
		assert.Len(t, handler.executed, 1)
	})

	t.Run("missing record is a no-op", func(t *testing.T) {
		m := NewManager(newFakeWebhookDB(), &fakeWebhookEnqueuer{}, nil, testLogger())
		assert.NoError(t, m.Process(ctx, uuid.New()))
	})
}

type fakeSecurityDB struct {
	mu    sync.Mutex
	trans map[uuid.UUID]*types.Transaction
}

func newFakeSecurityDB(trans ...*types.Transaction) *fakeSecurityDB {
	f := &fakeSecurityDB{trans: make(map[uuid.UUID]*types.Transaction)}
	for _, tr := range trans {
		f.trans[tr.ID] = tr
	}
	return f
}

func (f *fakeSecurityDB) FindTransactionByTxIDOrRefundHash(_ context.Context, hash string) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tr := range f.trans {
		if (tr.TxID != nil && *tr.TxID == hash) || (tr.RefundHash != nil && *tr.RefundHash == hash) {
			cp := *tr
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeSecurityDB) FindTransactionByChainID(_ context.Context, chainID string) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tr := range f.trans {
		if tr.ChainID != nil && *tr.ChainID == chainID {
			cp := *tr
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeSecurityDB) GetTransaction(_ context.Context, id uuid.UUID) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, ok := f.trans[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *tr
	return &cp, nil
}

func (f *fakeSecurityDB) UpdateTransaction(_ context.Context, id uuid.UUID, expected *types.TransactionStatus, update storage.TransactionUpdate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, ok := f.trans[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if expected != nil && tr.Status != *expected {
		return false, nil
	}
	if update.Status != nil {
		tr.Status = *update.Status
	}
	if update.Error != nil {
		tr.Error = update.Error
	}
	if update.RefundHash != nil {
		tr.RefundHash = update.RefundHash
	}
	if update.WithdrawFee != nil {
		tr.WithdrawFee = decimal.NewNullDecimal(*update.WithdrawFee)
	}
	if update.TxID != nil {
		tr.TxID = update.TxID
	}
	if update.ChainID != nil {
		tr.ChainID = update.ChainID
	}
	if update.ChainIndex != nil {
		tr.ChainIndex = update.ChainIndex
	}
	return true, nil
}

func securityRecord(t *testing.T, p SecurityPayload) *types.WebhookRecord {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return &types.WebhookRecord{
		ID:     uuid.New(),
		Event:  types.WebhookEventSecurity,
		Data:   data,
		Status: types.WebhookStatusPending,
	}
}

func processingWithdraw(txID string) *types.Transaction {
	return &types.Transaction{
		ID:       uuid.New(),
		TranType: types.TxTypeWithdraw,
		Status:   types.TxStatusProcessing,
		TxID:     &txID,
	}
}

func TestSecurityHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("master fund error puts transaction back to pending", func(t *testing.T) {
		tran := processingWithdraw("tx-1")
		db := newFakeSecurityDB(tran)
		h := NewSecurityHandler(db, testLogger())

		rec := securityRecord(t, SecurityPayload{TxID: "tx-1", Msg: "E101", IsError: true})
		require.NoError(t, h.Execute(ctx, rec))

		got := db.trans[tran.ID]
		assert.Equal(t, types.TxStatusPending, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, "Account master not enough fund", *got.Error)
	})

	t.Run("other errors fail the transaction", func(t *testing.T) {
		tran := processingWithdraw("tx-2")
		db := newFakeSecurityDB(tran)
		h := NewSecurityHandler(db, testLogger())

		rec := securityRecord(t, SecurityPayload{TxID: "tx-2", Msg: "insufficient gas", IsError: true})
		require.NoError(t, h.Execute(ctx, rec))

		got := db.trans[tran.ID]
		assert.Equal(t, types.TxStatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, "insufficient gas", *got.Error)
	})

	t.Run("refund patch records the hash only", func(t *testing.T) {
		tran := processingWithdraw("tx-3")
		db := newFakeSecurityDB(tran)
		h := NewSecurityHandler(db, testLogger())

		rec := securityRecord(t, SecurityPayload{TxID: "tx-3", Type: "REFUND", RefundHash: "refund-hash"})
		require.NoError(t, h.Execute(ctx, rec))

		got := db.trans[tran.ID]
		assert.Equal(t, types.TxStatusProcessing, got.Status)
		require.NotNil(t, got.RefundHash)
		assert.Equal(t, "refund-hash", *got.RefundHash)
	})

	t.Run("withdraw fee patch parses the message", func(t *testing.T) {
		tran := processingWithdraw("tx-4")
		db := newFakeSecurityDB(tran)
		h := NewSecurityHandler(db, testLogger())

		rec := securityRecord(t, SecurityPayload{TxID: "tx-4", Type: "WITHDRAW.FEE", Msg: " 0.0015 "})
		require.NoError(t, h.Execute(ctx, rec))

		got := db.trans[tran.ID]
		require.True(t, got.WithdrawFee.Valid)
		assert.True(t, got.WithdrawFee.Decimal.Equal(decimal.RequireFromString("0.0015")))
	})

	t.Run("deposit tx rewrites the settlement reference", func(t *testing.T) {
		chainID := "chain-9"
		tran := processingWithdraw("tx-5")
		tran.ChainID = &chainID
		db := newFakeSecurityDB(tran)
		h := NewSecurityHandler(db, testLogger())

		rec := securityRecord(t, SecurityPayload{TxID: "chain-9", Type: "DEPOSIT.TX", Msg: "final-hash"})
		require.NoError(t, h.Execute(ctx, rec))

		got := db.trans[tran.ID]
		require.NotNil(t, got.TxID)
		assert.Equal(t, "final-hash", *got.TxID)
	})

	t.Run("default completes with chain reference", func(t *testing.T) {
		tran := processingWithdraw("tx-6")
		db := newFakeSecurityDB(tran)
		h := NewSecurityHandler(db, testLogger())

		rec := securityRecord(t, SecurityPayload{TxID: "tx-6", Hash: "block-hash", Index: 42})
		require.NoError(t, h.Execute(ctx, rec))

		got := db.trans[tran.ID]
		assert.Equal(t, types.TxStatusCompleted, got.Status)
		require.NotNil(t, got.ChainID)
		assert.Equal(t, "block-hash", *got.ChainID)
		require.NotNil(t, got.ChainIndex)
		assert.Equal(t, int64(42), *got.ChainIndex)
	})

	t.Run("unknown transaction is a no-op", func(t *testing.T) {
		h := NewSecurityHandler(newFakeSecurityDB(), testLogger())
		rec := securityRecord(t, SecurityPayload{TxID: "nobody", Hash: "h"})
		assert.NoError(t, h.Execute(ctx, rec))
	})
}

func notificationRecord(t *testing.T, verb string, entries ...notificationEntry) *types.WebhookRecord {
	t.Helper()
	data, err := json.Marshal(notificationPayload{Type: verb, Payload: entries})
	require.NoError(t, err)
	return &types.WebhookRecord{
		ID:     uuid.New(),
		Event:  types.WebhookEventNotification,
		Data:   data,
		Status: types.WebhookStatusPending,
	}
}

func TestNotificationHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("approved moves withdrawal to processing", func(t *testing.T) {
		tran := processingWithdraw("tx-10")
		tran.Status = types.TxStatusPending
		db := newFakeSecurityDB(tran)
		outbox := notify.NewOutbox()
		h := NewNotificationHandler(db, outbox, testLogger())

		rec := notificationRecord(t, "withdraw.approved", notificationEntry{TransactionID: tran.ID})
		require.NoError(t, h.Execute(ctx, rec))

		assert.Equal(t, types.TxStatusProcessing, db.trans[tran.ID].Status)
		assert.Empty(t, outbox.Sent())
	})

	t.Run("rejected fails with notification", func(t *testing.T) {
		tran := processingWithdraw("tx-11")
		tran.FromUserID = uuid.New()
		db := newFakeSecurityDB(tran)
		outbox := notify.NewOutbox()
		h := NewNotificationHandler(db, outbox, testLogger())

		rec := notificationRecord(t, "withdraw.rejected", notificationEntry{
			TransactionID: tran.ID,
			Reason:        "kyc expired",
		})
		require.NoError(t, h.Execute(ctx, rec))

		assert.Equal(t, types.TxStatusRejected, db.trans[tran.ID].Status)
		sent := outbox.ByKind(notify.KindWithdrawFailed)
		require.Len(t, sent, 1)
		assert.Equal(t, []uuid.UUID{tran.FromUserID}, sent[0].Recipients)
	})

	t.Run("blocked holds the withdrawal", func(t *testing.T) {
		tran := processingWithdraw("tx-12")
		db := newFakeSecurityDB(tran)
		outbox := notify.NewOutbox()
		h := NewNotificationHandler(db, outbox, testLogger())

		rec := notificationRecord(t, "withdraw.blocked", notificationEntry{TransactionID: tran.ID})
		require.NoError(t, h.Execute(ctx, rec))

		assert.Equal(t, types.TxStatusBlocked, db.trans[tran.ID].Status)
		assert.Len(t, outbox.ByKind(notify.KindWithdrawFailed), 1)
	})

	t.Run("non-withdrawal transactions are skipped", func(t *testing.T) {
		tran := processingWithdraw("tx-13")
		tran.TranType = types.TxTypePayment
		db := newFakeSecurityDB(tran)
		h := NewNotificationHandler(db, notify.NewOutbox(), testLogger())

		rec := notificationRecord(t, "withdraw.approved", notificationEntry{TransactionID: tran.ID})
		require.NoError(t, h.Execute(ctx, rec))
		assert.Equal(t, types.TxStatusProcessing, db.trans[tran.ID].Status)
	})

	t.Run("unknown verbs and missing transactions are ignored", func(t *testing.T) {
		db := newFakeSecurityDB()
		h := NewNotificationHandler(db, notify.NewOutbox(), testLogger())

		require.NoError(t, h.Execute(ctx, notificationRecord(t, "account.frozen", notificationEntry{TransactionID: uuid.New()})))
		require.NoError(t, h.Execute(ctx, notificationRecord(t, "withdraw.approved", notificationEntry{TransactionID: uuid.New()})))
	})
}
