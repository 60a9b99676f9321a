package promo

import (
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/metrics"
	"github.com/xenking/kart-checkout/internal/storage"
)

// UserCoupons lists the coupons a user can redeem right now: their unused
// assignments and every universal coupon they have not redeemed yet.
func (s *Service) UserCoupons(ctx context.Context, userID string) ([]coupon.Coupon, error) {
	now := s.now()
	repos := s.store.Tx()

	assignments, err := repos.Assignments().ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list assignments")
	}
	out := make([]coupon.Coupon, 0, len(assignments))
	for _, a := range assignments {
		if a.Used {
			continue
		}
		c, err := repos.Coupons().GetByID(ctx, a.CouponID)
		if err != nil {
			if errors.Is(err, coupon.ErrNotFound) {
				continue
			}
			return nil, errors.Wrap(err, "get assigned coupon")
		}
		if c.Redeemable(now) {
			out = append(out, *c)
		}
	}

	usages, err := repos.Usages().ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list usages")
	}
	var redeemed []string
	for _, u := range usages {
		if u.Bound() {
			redeemed = append(redeemed, u.CouponID)
		}
	}

	universal, _, err := repos.Coupons().List(ctx, coupon.ListQuery{Type: coupon.TypeUniversal, RedeemableAt: &now})
	if err != nil {
		return nil, errors.Wrap(err, "list universal coupons")
	}
	for _, c := range universal {
		if !c.Exhausted() && !slices.Contains(redeemed, c.ID) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ValidateCoupon previews a coupon against an order amount and the user's
// cart without writing anything.
func (s *Service) ValidateCoupon(ctx context.Context, userID, code string, orderAmount decimal.Decimal) (*coupon.Result, error) {
	if strings.TrimSpace(code) == "" || orderAmount.IsNegative() {
		return nil, ErrInvalidValidation
	}
	u, err := s.store.Tx().Users().GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.Apply(ctx, storage.CouponRepos(s.store.Tx()), coupon.ApplyRequest{
		Code:       code,
		User:       u,
		Subtotal:   orderAmount,
		ProductIDs: u.CartProductIDs(),
		Mode:       coupon.Preview,
	})
	if err != nil {
		return nil, errors.Wrap(err, "apply coupon")
	}
	outcome := "applied"
	if !res.Valid {
		outcome = res.Reason.Error()
	}
	metrics.RecordCouponOutcome(coupon.Preview.String(), outcome)
	return res, nil
}

// ClaimUniversal reserves a universal coupon for the user. Claiming again
// returns the same reservation.
func (s *Service) ClaimUniversal(ctx context.Context, userID, code string) (*coupon.Usage, error) {
	var claimed *coupon.Usage
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		c, err := tx.Coupons().GetByCode(ctx, coupon.NormalizeCode(code))
		if err != nil {
			return err
		}
		if c.Type != coupon.TypeUniversal {
			return ErrNotUniversal
		}
		if !c.Redeemable(s.now()) {
			return coupon.ErrNotRedeemable
		}
		if c.Exhausted() {
			return coupon.ErrUsageLimitReached
		}
		if _, err := tx.Users().GetByID(ctx, userID); err != nil {
			return err
		}

		u, err := s.engine.EnsureReservation(ctx, storage.CouponRepos(tx), userID, c.ID)
		if err != nil {
			return err
		}
		if u.Bound() {
			return coupon.ErrUniversalUsed
		}
		claimed = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
