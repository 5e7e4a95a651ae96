package ledger

import "github.com/shopspring/decimal"

var (
	hundred = decimal.NewFromInt(100)

	// ReferralRate is the share of a transaction paid to each referrer.
	ReferralRate = decimal.New(1, -2)
)

// SplitFee divides amount into the platform fee, rounded half-up to the
// cent, and the net remainder credited to the recipient. fee+net == amount.
func SplitFee(amount, percent decimal.Decimal) (fee, net decimal.Decimal) {
	fee = amount.Mul(percent).Div(hundred).Round(2)
	return fee, amount.Sub(fee)
}

// ReferralEarning is the unrounded referral share of amount.
func ReferralEarning(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(ReferralRate)
}
