package coupon

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Apply returns the discount c grants on amount. The result is capped at
// MaxDiscount (when positive) and at amount, and rounded down to whole
// currency units so the ledger never awards more than configured.
func Apply(c *Coupon, amount decimal.Decimal) decimal.Decimal {
	var raw decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		raw = amount.Mul(c.DiscountValue).Div(hundred)
	case DiscountFlat:
		raw = c.DiscountValue
	default:
		return decimal.Zero
	}

	if c.MaxDiscount.IsPositive() {
		raw = decimal.Min(raw, c.MaxDiscount)
	}
	raw = decimal.Min(raw, amount)

	return floorAtZero(raw).Floor()
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
