package promo

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/ids"
	"github.com/xenking/kart-checkout/internal/notify"
	"github.com/xenking/kart-checkout/internal/storage"
)

func (s *Service) announce(ctx context.Context, userID string, c *coupon.Coupon, msg string) {
	s.events.Emit(ctx, notify.CouponIssued,
		notify.AssignmentPayload{Coupon: c.Clone(), Message: msg},
		notify.To(notify.UserRoom(userID)),
	)
}

// CreateWelcomeCoupon issues the user's welcome coupon and assigns it. It is
// idempotent: the existing coupon is returned with created=false.
func (s *Service) CreateWelcomeCoupon(ctx context.Context, userID string) (_ *coupon.Coupon, created bool, _ error) {
	var issued *coupon.Coupon
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.Users().GetByID(ctx, userID); err != nil {
			return err
		}

		c := coupon.NewWelcome(userID, s.now())
		existing, err := tx.Coupons().GetByCode(ctx, c.Code)
		switch {
		case err == nil:
			issued, created = existing, false
			return nil
		case !errors.Is(err, coupon.ErrNotFound):
			return errors.Wrap(err, "lookup welcome coupon")
		}

		if err := tx.Coupons().Create(ctx, c); err != nil {
			return errors.Wrap(err, "create welcome coupon")
		}
		if err := tx.Assignments().Create(ctx, &coupon.UserCoupon{
			ID:         ids.New(ids.UserCoupon),
			UserID:     userID,
			CouponID:   c.ID,
			AssignedAt: c.CreatedAt,
		}); err != nil {
			return errors.Wrap(err, "assign welcome coupon")
		}
		issued, created = c, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.announce(ctx, userID, issued, "Welcome! Your first-order coupon is ready.")
	}
	return issued, created, nil
}

// CreateLoyaltyCoupon issues a loyalty reward unless the user still holds an
// unused one, which is returned with created=false instead.
func (s *Service) CreateLoyaltyCoupon(ctx context.Context, userID string) (_ *coupon.Coupon, created bool, _ error) {
	var issued *coupon.Coupon
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.Users().GetByID(ctx, userID); err != nil {
			return err
		}

		assignments, err := tx.Assignments().ListByUser(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "list assignments")
		}
		for _, a := range assignments {
			if a.Used {
				continue
			}
			c, err := tx.Coupons().GetByID(ctx, a.CouponID)
			if err != nil {
				if errors.Is(err, coupon.ErrNotFound) {
					continue
				}
				return errors.Wrap(err, "get assigned coupon")
			}
			if c.Type == coupon.TypeLoyalty {
				issued, created = c, false
				return nil
			}
		}

		c := coupon.NewLoyalty(userID, s.now())
		if err := tx.Coupons().Create(ctx, c); err != nil {
			return errors.Wrap(err, "create loyalty coupon")
		}
		if err := tx.Assignments().Create(ctx, &coupon.UserCoupon{
			ID:         ids.New(ids.UserCoupon),
			UserID:     userID,
			CouponID:   c.ID,
			AssignedAt: c.CreatedAt,
		}); err != nil {
			return errors.Wrap(err, "assign loyalty coupon")
		}
		issued, created = c, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.announce(ctx, userID, issued, "Thank you for your loyalty! A new coupon was added to your account.")
	}
	return issued, created, nil
}

// AssignUniversalCoupons reserves every redeemable universal coupon the user
// has no reservation for and returns the newly reserved coupons.
func (s *Service) AssignUniversalCoupons(ctx context.Context, userID string) ([]coupon.Coupon, error) {
	var reserved []coupon.Coupon
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		reserved = nil
		if _, err := tx.Users().GetByID(ctx, userID); err != nil {
			return err
		}

		now := s.now()
		universal, _, err := tx.Coupons().List(ctx, coupon.ListQuery{Type: coupon.TypeUniversal, RedeemableAt: &now})
		if err != nil {
			return errors.Wrap(err, "list universal coupons")
		}
		for _, c := range universal {
			if c.Exhausted() {
				continue
			}
			_, err := tx.Usages().Find(ctx, userID, c.ID)
			switch {
			case err == nil:
				continue
			case !errors.Is(err, coupon.ErrUsageNotFound):
				return errors.Wrap(err, "lookup usage")
			}
			if err := tx.Usages().Create(ctx, &coupon.Usage{
				ID:        ids.New(ids.Usage),
				UserID:    userID,
				CouponID:  c.ID,
				CreatedAt: now,
			}); err != nil {
				return errors.Wrapf(err, "reserve coupon %s", c.Code)
			}
			reserved = append(reserved, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range reserved {
		s.announce(ctx, userID, &reserved[i], "A new coupon is available for you!")
	}
	return reserved, nil
}

// Registration lists the coupons issued when a user registers.
type Registration struct {
	Welcome   *coupon.Coupon
	Universal []coupon.Coupon
}

// OnUserRegistered issues the welcome coupon and reserves universal coupons
// for a new user. Both steps run even if one fails; the first error is
// returned.
func (s *Service) OnUserRegistered(ctx context.Context, userID string) (*Registration, error) {
	lg := zctx.From(ctx).With(zap.String("user_id", userID))
	reg := &Registration{}

	var firstErr error
	welcome, _, err := s.CreateWelcomeCoupon(ctx, userID)
	if err != nil {
		lg.Warn("Issue welcome coupon", zap.Error(err))
		firstErr = err
	}
	reg.Welcome = welcome

	universal, err := s.AssignUniversalCoupons(ctx, userID)
	if err != nil {
		lg.Warn("Reserve universal coupons", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	reg.Universal = universal

	lg.Info("Registration coupons issued",
		zap.Bool("welcome", reg.Welcome != nil),
		zap.Int("universal", len(reg.Universal)),
	)
	return reg, firstErr
}
