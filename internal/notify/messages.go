package notify

import (
	"strings"

	"github.com/google/uuid"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
)

type MessageKind string

const (
	KindScheduledPaymentReminder   MessageKind = "scheduled_payment_reminder"
	KindTransactionCompleted       MessageKind = "transaction_completed"
	KindTransactionFailed          MessageKind = "transaction_failed"
	KindScheduleSetupConfirmed     MessageKind = "schedule_setup_confirmed"
	KindScheduleSetupFailed        MessageKind = "schedule_setup_failed"
	KindMaxFundRejected            MessageKind = "max_fund_rejected"
	KindOverMaxFundConfirmRequest  MessageKind = "over_max_fund_confirm_request"
	KindWithdrawConfirmed          MessageKind = "withdraw_confirmed"
	KindWithdrawFailed             MessageKind = "withdraw_failed"
	KindDepositCompleted           MessageKind = "deposit_completed"
	KindRefundCompleted            MessageKind = "refund_completed"
	KindWalletRegistered           MessageKind = "wallet_registered"
	KindWalletRegisterFailed       MessageKind = "wallet_register_failed"
	KindScheduleCancelledBuyerHold MessageKind = "schedule_cancelled_buyer_hold"
	KindScheduleCancelledMerchHold MessageKind = "schedule_cancelled_merchant_hold"
)

// Message is what the core hands to the Notifier. Data carries the few
// message-specific fields the transports interpolate into templates.
type Message struct {
	Kind  MessageKind
	Actor *uuid.UUID
	Data  map[string]string
}

func ScheduledPaymentReminder(merchantID uuid.UUID, bill *types.Bill, tranIDs []uuid.UUID) Message {
	ids := make([]string, len(tranIDs))
	for i, id := range tranIDs {
		ids[i] = id.String()
	}
	return Message{
		Kind:  KindScheduledPaymentReminder,
		Actor: &merchantID,
		Data: map[string]string{
			"bill_id":         bill.ID.String(),
			"tx_seq":          bill.TxSeq,
			"transaction_ids": strings.Join(ids, ","),
		},
	}
}

func TransactionCompleted(tran *types.Transaction) Message {
	actor := tran.FromUserID
	return Message{
		Kind:  KindTransactionCompleted,
		Actor: &actor,
		Data:  tranData(tran),
	}
}

func TransactionFailed(tran *types.Transaction, reason string) Message {
	actor := tran.FromUserID
	data := tranData(tran)
	data["reason"] = reason
	return Message{
		Kind:  KindTransactionFailed,
		Actor: &actor,
		Data:  data,
	}
}

func ScheduleSetupConfirmed(bill *types.Bill) Message {
	return Message{
		Kind:  KindScheduleSetupConfirmed,
		Actor: bill.ConfirmedBy,
		Data:  map[string]string{"bill_id": bill.ID.String(), "tx_seq": bill.TxSeq},
	}
}

func ScheduleSetupFailed(bill *types.Bill) Message {
	return Message{
		Kind:  KindScheduleSetupFailed,
		Actor: bill.ConfirmedBy,
		Data:  map[string]string{"bill_id": bill.ID.String(), "tx_seq": bill.TxSeq},
	}
}

func MaxFundRejected(tran *types.Transaction) Message {
	actor := tran.FromUserID
	return Message{
		Kind:  KindMaxFundRejected,
		Actor: &actor,
		Data:  tranData(tran),
	}
}

func OverMaxFundConfirmRequest(tran *types.Transaction) Message {
	data := tranData(tran)
	data["amount"] = tran.Amount.String()
	return Message{
		Kind: KindOverMaxFundConfirmRequest,
		Data: data,
	}
}

func WithdrawConfirmed(tran *types.Transaction) Message {
	return Message{Kind: KindWithdrawConfirmed, Data: tranData(tran)}
}

func WithdrawFailed(tran *types.Transaction, reason string) Message {
	data := tranData(tran)
	data["reason"] = reason
	return Message{Kind: KindWithdrawFailed, Data: data}
}

func DepositCompleted(tran *types.Transaction) Message {
	return Message{Kind: KindDepositCompleted, Data: tranData(tran)}
}

func RefundCompleted(tran *types.Transaction) Message {
	return Message{Kind: KindRefundCompleted, Data: tranData(tran)}
}

func WalletRegistered(userID uuid.UUID, address string) Message {
	return Message{
		Kind: KindWalletRegistered,
		Data: map[string]string{"user_id": userID.String(), "address": address},
	}
}

func WalletRegisterFailed(userID uuid.UUID, address string) Message {
	return Message{
		Kind: KindWalletRegisterFailed,
		Data: map[string]string{"user_id": userID.String(), "address": address},
	}
}

func ScheduleCancelledBuyerHold(bill *types.Bill) Message {
	return Message{
		Kind: KindScheduleCancelledBuyerHold,
		Data: map[string]string{"bill_id": bill.ID.String(), "tx_seq": bill.TxSeq},
	}
}

func ScheduleCancelledMerchantHold(bill *types.Bill) Message {
	return Message{
		Kind: KindScheduleCancelledMerchHold,
		Data: map[string]string{"bill_id": bill.ID.String(), "tx_seq": bill.TxSeq},
	}
}

func tranData(tran *types.Transaction) map[string]string {
	data := map[string]string{
		"transaction_id": tran.ID.String(),
		"tx_seq":         tran.TxSeq,
		"currency":       tran.Currency,
		"amount":         tran.Amount.String(),
	}
	if tran.TxID != nil {
		data["tx_id"] = *tran.TxID
	}
	return data
}
