package payment

import "github.com/shopspring/decimal"

// RoundFee computes the commission for a payment amount at the given fee
// percentage, accurate to the currency's decimal precision. Truncation toward
// zero that loses value rounds up by one minimum unit, and the result never
// falls below one minimum unit.
func RoundFee(feePercent, amount decimal.Decimal, decimals int32) decimal.Decimal {
	if feePercent.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	minUnit := decimal.New(1, -decimals)
	raw := feePercent.Mul(amount).Div(decimal.NewFromInt(100))
	fee := raw.Truncate(decimals)
	if raw.GreaterThan(fee) {
		fee = fee.Add(minUnit)
	}
	if fee.LessThan(minUnit) {
		fee = minUnit
	}
	return fee
}

// FromBaseUnits converts the ledger's integer base-unit representation into a
// decimal amount for the currency's precision.
func FromBaseUnits(baseAmount int64, decimals int32) decimal.Decimal {
	return decimal.New(baseAmount, -decimals)
}
