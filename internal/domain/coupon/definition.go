package coupon

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/ids"
)

// InvalidDefinitionError reports a coupon definition that breaks a field rule.
type InvalidDefinitionError struct {
	Reason string
}

func (e *InvalidDefinitionError) Error() string { return e.Reason }

func invalid(format string, args ...any) error {
	return &InvalidDefinitionError{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the field rules shared by creation and update.
func (c *Coupon) Validate() error {
	if c.Code == "" {
		return invalid("Coupon code is required")
	}
	if !c.Type.Valid() {
		return invalid("Invalid coupon type %q", c.Type)
	}
	switch c.DiscountType {
	case DiscountPercentage:
		if c.DiscountValue.GreaterThan(hundred) {
			return invalid("Percentage discount cannot exceed 100")
		}
	case DiscountFixed:
	default:
		return invalid("Invalid discount type %q", c.DiscountType)
	}
	if c.DiscountValue.IsNegative() {
		return invalid("Discount value cannot be negative")
	}
	if c.ValidFrom.IsZero() || c.ValidUntil.IsZero() {
		return invalid("Valid from and valid until dates are required")
	}
	if !c.ValidFrom.Before(c.ValidUntil) {
		return invalid("Valid until date must be after valid from date")
	}
	if c.UsageLimit != nil && *c.UsageLimit < 0 {
		return invalid("Usage limit cannot be negative")
	}
	if c.MinimumOrderValue != nil && c.MinimumOrderValue.IsNegative() {
		return invalid("Minimum order value cannot be negative")
	}
	if c.MaximumDiscount != nil && c.MaximumDiscount.IsNegative() {
		return invalid("Maximum discount cannot be negative")
	}
	return nil
}

// IsInvalidDefinition reports whether err is a field rule violation.
func IsInvalidDefinition(err error) bool {
	var target *InvalidDefinitionError
	return errors.As(err, &target)
}

func decimalPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

// NewWelcome builds the one-time welcome coupon of a user: 10% off for 30
// days, floored at a 500 order value and capped at 1000.
func NewWelcome(userID string, now time.Time) *Coupon {
	return &Coupon{
		ID:                ids.New(ids.Coupon),
		Code:              "WELCOME" + ids.Tail(userID, 6),
		Description:       "Welcome! Get 10% off on your first order",
		Type:              TypeWelcome,
		DiscountType:      DiscountPercentage,
		DiscountValue:     decimal.NewFromInt(10),
		ValidFrom:         now,
		ValidUntil:        now.Add(WelcomeWindow),
		Active:            true,
		MinimumOrderValue: decimalPtr(500),
		MaximumDiscount:   decimalPtr(1000),
		CreatedBy:         "system",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// LoyaltyValidity is how long an issued loyalty coupon stays redeemable.
const LoyaltyValidity = 60 * 24 * time.Hour

// NewLoyalty builds a loyalty reward: a fixed 200 off orders of 1000 or more,
// valid for 60 days.
func NewLoyalty(userID string, now time.Time) *Coupon {
	return &Coupon{
		ID:                ids.New(ids.Coupon),
		Code:              fmt.Sprintf("LOYALTY%s%04d", ids.Tail(userID, 4), now.UnixMilli()%10000),
		Description:       "Thank you for your loyalty! Get 200 off",
		Type:              TypeLoyalty,
		DiscountType:      DiscountFixed,
		DiscountValue:     decimal.NewFromInt(200),
		ValidFrom:         now,
		ValidUntil:        now.Add(LoyaltyValidity),
		Active:            true,
		MinimumOrderValue: decimalPtr(1000),
		MaximumDiscount:   decimalPtr(200),
		CreatedBy:         "system",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
