package coupon

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Calculate returns the discount the coupon grants on subtotal, rounded to
// two decimal places. It never exceeds the subtotal or MaximumDiscount.
func Calculate(c *Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		amount = c.DiscountValue.Div(hundred).Mul(subtotal)
		if c.MaximumDiscount != nil && amount.GreaterThan(*c.MaximumDiscount) {
			amount = *c.MaximumDiscount
		}
	case DiscountFixed:
		amount = decimal.Min(c.DiscountValue, subtotal)
	}
	return floorAtZero(amount).Round(2)
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
