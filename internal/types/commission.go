package types

import "github.com/shopspring/decimal"

type CommissionType string

const (
	CommissionTypeSchedule CommissionType = "SCHEDULE"
	CommissionTypeWithdraw CommissionType = "WITHDRAW"
)

// CommissionRule overrides the statically configured fee percentage for one
// commission type. Absence of a rule falls back to config.
type CommissionRule struct {
	Type          CommissionType  `db:"type"`
	FeePercentage decimal.Decimal `db:"fee_percentage"`
}
