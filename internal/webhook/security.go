package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
	"github.com/InfinitoSolutions/ibl-pay-api/storage"
)

// errCodeMasterFunds is the operator-bot error for an underfunded master
// account. The withdrawal is not failed, it goes back to PENDING for manual
// approval once the account is topped up.
const errCodeMasterFunds = "E101"

const (
	securityTypeRefund      = "REFUND"
	securityTypeWithdrawFee = "WITHDRAW.FEE"
	securityTypeDepositTx   = "DEPOSIT.TX"
)

// SecurityPayload is the operator-bot webhook body.
type SecurityPayload struct {
	TxID       string `json:"txId"`
	Msg        string `json:"msg"`
	IsError    bool   `json:"isError"`
	RefundHash string `json:"refundHash"`
	Type       string `json:"type"`
	Hash       string `json:"hash"`
	Index      int64  `json:"index"`
}

// SecurityStorage is the slice of the database the security handler needs.
type SecurityStorage interface {
	FindTransactionByTxIDOrRefundHash(ctx context.Context, hash string) (*types.Transaction, error)
	FindTransactionByChainID(ctx context.Context, chainID string) (*types.Transaction, error)
	UpdateTransaction(ctx context.Context, id uuid.UUID, expected *types.TransactionStatus, update storage.TransactionUpdate) (bool, error)
}

// SecurityHandler applies operator-bot outcomes to transactions: completion
// with the settlement chain reference, the two error branches, and the narrow
// refund-hash / fee / tx-id patches.
type SecurityHandler struct {
	db     SecurityStorage
	logger logrus.FieldLogger
}

func NewSecurityHandler(db SecurityStorage, logger logrus.FieldLogger) *SecurityHandler {
	return &SecurityHandler{
		db:     db,
		logger: logger.WithField("component", "webhook.security"),
	}
}

func (h *SecurityHandler) Execute(ctx context.Context, rec *types.WebhookRecord) error {
	var p SecurityPayload
	if err := json.Unmarshal(rec.Data, &p); err != nil {
		return fmt.Errorf("decode security payload: %w", err)
	}
	if p.TxID == "" {
		return nil
	}

	if p.IsError {
		return h.applyError(ctx, &p)
	}

	switch p.Type {
	case securityTypeRefund:
		return h.patch(ctx, p.TxID, storage.TransactionUpdate{RefundHash: &p.RefundHash})
	case securityTypeWithdrawFee:
		fee, err := decimal.NewFromString(strings.TrimSpace(p.Msg))
		if err != nil {
			return fmt.Errorf("parse withdraw fee %q: %w", p.Msg, err)
		}
		return h.patch(ctx, p.TxID, storage.TransactionUpdate{WithdrawFee: &fee})
	case securityTypeDepositTx:
		return h.rewriteTxID(ctx, &p)
	}

	empty := ""
	completed := types.TxStatusCompleted
	return h.patch(ctx, p.TxID, storage.TransactionUpdate{
		Status:     &completed,
		Error:      &empty,
		ChainID:    &p.Hash,
		ChainIndex: &p.Index,
	})
}

func (h *SecurityHandler) applyError(ctx context.Context, p *SecurityPayload) error {
	if strings.TrimSpace(p.Msg) == errCodeMasterFunds {
		pending := types.TxStatusPending
		reason := "Account master not enough fund"
		return h.patch(ctx, p.TxID, storage.TransactionUpdate{
			Status: &pending,
			Error:  &reason,
		})
	}
	failed := types.TxStatusFailed
	return h.patch(ctx, p.TxID, storage.TransactionUpdate{
		Status: &failed,
		Error:  &p.Msg,
	})
}

// rewriteTxID replaces the provisional settlement reference with the final
// ledger hash. The bot keys this update on the chain id it reported earlier.
func (h *SecurityHandler) rewriteTxID(ctx context.Context, p *SecurityPayload) error {
	tran, err := h.db.FindTransactionByChainID(ctx, p.TxID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find transaction by chain id %s: %w", p.TxID, err)
	}
	if _, err := h.db.UpdateTransaction(ctx, tran.ID, nil, storage.TransactionUpdate{TxID: &p.Msg}); err != nil {
		return fmt.Errorf("rewrite tx id on %s: %w", tran.ID, err)
	}
	return nil
}

func (h *SecurityHandler) patch(ctx context.Context, txID string, update storage.TransactionUpdate) error {
	tran, err := h.db.FindTransactionByTxIDOrRefundHash(ctx, txID)
	if errors.Is(err, storage.ErrNotFound) {
		h.logger.WithField("tx_id", txID).Info("security update for unknown transaction")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find transaction %s: %w", txID, err)
	}
	if _, err := h.db.UpdateTransaction(ctx, tran.ID, nil, update); err != nil {
		return fmt.Errorf("patch transaction %s: %w", tran.ID, err)
	}
	return nil
}
