package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
)

// ConvertResult is what the external exchange-rate collaborator returns.
type ConvertResult struct {
	AmountUSD decimal.Decimal
	USDRate   decimal.Decimal
}

type CurrencyConverter interface {
	ConvertToUSD(ctx context.Context, amount decimal.Decimal, currency string) (ConvertResult, error)
}

// DecimalsSource resolves a currency's decimal precision.
type DecimalsSource interface {
	DecimalsFor(ctx context.Context, currency string) int32
}

// Storage is the slice of the database the generator needs.
type Storage interface {
	GetCommissionRule(ctx context.Context, ruleType types.CommissionType) (*types.CommissionRule, error)
	NextTransactionSeq(ctx context.Context, now time.Time) (string, error)
	CreateTransactions(ctx context.Context, trans []*types.Transaction) error
}

// Generator creates the pending transactions for one scheduled cycle bill:
// one per buyer, commission applied per the SCHEDULE rule or the static
// fallback percentage.
type Generator struct {
	db          Storage
	converter   CurrencyConverter
	decimals    DecimalsSource
	fallbackFee decimal.Decimal
	logger      logrus.FieldLogger
}

func NewGenerator(db Storage, converter CurrencyConverter, decimals DecimalsSource, fallbackFee decimal.Decimal, logger logrus.FieldLogger) *Generator {
	return &Generator{
		db:          db,
		converter:   converter,
		decimals:    decimals,
		fallbackFee: fallbackFee,
		logger:      logger.WithField("component", "payment.generator"),
	}
}

// GeneratePending creates one PENDING transaction per buyer of the cycle bill
// and persists them. The cycle's schedule time and cadence are denormalized
// onto each transaction so reconciliation and reporting never need the bill.
func (g *Generator) GeneratePending(ctx context.Context, bill *types.Bill, now time.Time) ([]*types.Transaction, error) {
	if len(bill.Buyers) == 0 {
		return nil, nil
	}

	rate := g.fallbackFee
	rule, err := g.db.GetCommissionRule(ctx, types.CommissionTypeSchedule)
	if err != nil {
		return nil, fmt.Errorf("lookup commission rule: %w", err)
	}
	if rule != nil {
		rate = rule.FeePercentage
	}

	exchange, err := g.converter.ConvertToUSD(ctx, bill.Amount, bill.Currency)
	if err != nil {
		return nil, fmt.Errorf("convert %s to usd: %w", bill.Currency, err)
	}
	decimals := g.decimals.DecimalsFor(ctx, bill.Currency)

	trans := make([]*types.Transaction, 0, len(bill.Buyers))
	for _, buyer := range bill.Buyers {
		seq, err := g.db.NextTransactionSeq(ctx, now)
		if err != nil {
			return nil, fmt.Errorf("next transaction seq: %w", err)
		}
		tran := &types.Transaction{
			ID:                   uuid.New(),
			TxSeq:                seq,
			BillID:               &bill.ID,
			BillType:             bill.BillType,
			TranType:             types.TxTypePayment,
			Status:               types.TxStatusPending,
			FromUserID:           buyer.UserID,
			FromAddress:          buyer.Address,
			ToUserID:             bill.MerchantID,
			ToAddress:            bill.MerchantAddress,
			Amount:               bill.Amount,
			RequestAmount:        bill.Amount,
			AmountUSD:            exchange.AmountUSD,
			USDRate:              exchange.USDRate,
			Currency:             bill.Currency,
			CommissionFee:        RoundFee(rate, bill.Amount, decimals),
			CommissionPercentage: rate,
			Description:          bill.Service,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if bill.IsRecurring && bill.Recurring != nil {
			tran.ScheduleTime = bill.Recurring.NextRunAt
			cadence := bill.Recurring.Cadence
			tran.ScheduleType = &cadence
		}
		trans = append(trans, tran)
	}

	if err := g.db.CreateTransactions(ctx, trans); err != nil {
		return nil, fmt.Errorf("persist pending transactions: %w", err)
	}
	g.logger.WithFields(logrus.Fields{
		"bill_id": bill.ID,
		"count":   len(trans),
	}).Info("generated pending transactions")
	return trans, nil
}
