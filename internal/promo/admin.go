package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/ids"
	"github.com/xenking/kart-checkout/internal/notify"
	"github.com/xenking/kart-checkout/internal/paging"
	"github.com/xenking/kart-checkout/internal/storage"
)

// CouponInput carries coupon fields from a create or update request. Nil
// and empty fields are left unchanged on update.
type CouponInput struct {
	Code               string
	Description        string
	Type               string
	DiscountType       string
	DiscountValue      *decimal.Decimal
	ValidFrom          string
	ValidUntil         string
	UsageLimit         *int
	MinimumOrderValue  *decimal.Decimal
	MaximumDiscount    *decimal.Decimal
	ApplicableProducts []string
	Active             *bool
}

func invalid(reason string) error {
	return &coupon.InvalidDefinitionError{Reason: reason}
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseDate(field, s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, invalid("Invalid " + field + " date format")
}

// apply copies the set fields of in onto c.
func (in CouponInput) apply(c *coupon.Coupon) error {
	if in.Code != "" {
		c.Code = coupon.NormalizeCode(in.Code)
	}
	if in.Description != "" {
		c.Description = in.Description
	}
	if in.Type != "" {
		c.Type = coupon.Type(in.Type)
	}
	if in.DiscountType != "" {
		c.DiscountType = coupon.DiscountType(in.DiscountType)
	}
	if in.DiscountValue != nil {
		c.DiscountValue = *in.DiscountValue
	}
	if in.ValidFrom != "" {
		t, err := parseDate("validFrom", in.ValidFrom)
		if err != nil {
			return err
		}
		c.ValidFrom = t
	}
	if in.ValidUntil != "" {
		t, err := parseDate("validUntil", in.ValidUntil)
		if err != nil {
			return err
		}
		c.ValidUntil = t
	}
	if in.UsageLimit != nil {
		c.UsageLimit = nil
		if *in.UsageLimit > 0 {
			v := *in.UsageLimit
			c.UsageLimit = &v
		}
	}
	if in.MinimumOrderValue != nil {
		v := decimal.Max(decimal.Zero, *in.MinimumOrderValue)
		c.MinimumOrderValue = &v
	}
	if in.MaximumDiscount != nil {
		c.MaximumDiscount = nil
		if in.MaximumDiscount.IsPositive() {
			v := *in.MaximumDiscount
			c.MaximumDiscount = &v
		}
	}
	if in.ApplicableProducts != nil {
		c.ApplicableProducts = in.ApplicableProducts
	}
	if in.Active != nil {
		c.Active = *in.Active
	}
	return nil
}

// CreateCoupon validates and stores a new coupon.
func (s *Service) CreateCoupon(ctx context.Context, p auth.Principal, in CouponInput) (*coupon.Coupon, error) {
	if err := p.RequireStaff(); err != nil {
		return nil, err
	}
	if in.Code == "" || in.Type == "" || in.DiscountType == "" || in.DiscountValue == nil ||
		in.ValidFrom == "" || in.ValidUntil == "" {
		return nil, invalid("Required fields: code, type, discountType, discountValue, validFrom, validUntil")
	}

	now := s.now()
	c := &coupon.Coupon{
		ID:        ids.New(ids.Coupon),
		Active:    true,
		CreatedBy: p.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := in.apply(c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Tx().Coupons().Create(ctx, c); err != nil {
		return nil, err
	}

	s.events.Emit(ctx, notify.CouponCreated, notify.CouponPayload{Coupon: c.Clone()}, notify.To(notify.RoomStaff))
	zctx.From(ctx).Info("Coupon created", zap.String("coupon_id", c.ID), zap.String("code", c.Code))
	return c, nil
}

// UpdateCoupon applies a partial update under the same rules as creation.
func (s *Service) UpdateCoupon(ctx context.Context, p auth.Principal, id string, in CouponInput) (*coupon.Coupon, error) {
	if err := p.RequireStaff(); err != nil {
		return nil, err
	}
	if err := ids.Validate(id, ids.Coupon); err != nil {
		return nil, err
	}

	var updated *coupon.Coupon
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		c, err := tx.Coupons().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := in.apply(c); err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return err
		}
		c.UpdatedAt = s.now()
		if err := tx.Coupons().Update(ctx, c); err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, notify.CouponUpdated, notify.CouponPayload{Coupon: updated.Clone()}, notify.To(notify.RoomStaff))
	return updated, nil
}

// DeleteResult reports how a delete request was carried out.
type DeleteResult struct {
	// Deactivated is set when the coupon had been redeemed and was
	// deactivated instead of deleted.
	Deactivated bool
}

// DeleteCoupon removes a coupon with its assignments and open reservations.
// A coupon that was already redeemed is deactivated instead.
func (s *Service) DeleteCoupon(ctx context.Context, p auth.Principal, id string) (*DeleteResult, error) {
	if err := p.RequireStaff(); err != nil {
		return nil, err
	}
	if err := ids.Validate(id, ids.Coupon); err != nil {
		return nil, err
	}

	var (
		res     DeleteResult
		removed *coupon.Coupon
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		c, err := tx.Coupons().GetByID(ctx, id)
		if err != nil {
			return err
		}
		redeemed, err := redeemed(ctx, tx, c.ID)
		if err != nil {
			return err
		}

		res, removed = DeleteResult{Deactivated: redeemed}, c
		if redeemed {
			c.Active = false
			c.UpdatedAt = s.now()
			return tx.Coupons().Update(ctx, c)
		}
		if err := tx.Assignments().DeleteByCoupon(ctx, c.ID); err != nil {
			return err
		}
		if err := tx.Usages().DeleteUnboundByCoupon(ctx, c.ID); err != nil {
			return err
		}
		return tx.Coupons().Delete(ctx, c.ID)
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, notify.CouponDeleted,
		notify.CouponPayload{Coupon: removed, Deactivated: res.Deactivated},
		notify.To(notify.RoomStaff),
	)
	return &res, nil
}

func redeemed(ctx context.Context, tx storage.Tx, couponID string) (bool, error) {
	assignments, err := tx.Assignments().ListByCoupon(ctx, couponID)
	if err != nil {
		return false, errors.Wrap(err, "list assignments")
	}
	for _, a := range assignments {
		if a.Used {
			return true, nil
		}
	}
	usages, err := tx.Usages().ListByCoupon(ctx, couponID)
	if err != nil {
		return false, errors.Wrap(err, "list usages")
	}
	for _, u := range usages {
		if u.Bound() {
			return true, nil
		}
	}
	return false, nil
}

// AssignRequest names the coupon, by id or code, and the receiving user.
type AssignRequest struct {
	UserID   string
	CouponID string
	Code     string
}

// AssignCoupon grants a non-universal coupon to a user.
func (s *Service) AssignCoupon(ctx context.Context, p auth.Principal, req AssignRequest) (*coupon.UserCoupon, error) {
	if err := p.RequireStaff(); err != nil {
		return nil, err
	}
	if req.UserID == "" || (req.CouponID == "" && req.Code == "") {
		return nil, invalid("Coupon and user are required")
	}

	var (
		assigned *coupon.UserCoupon
		c        *coupon.Coupon
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if req.CouponID != "" {
			c, err = tx.Coupons().GetByID(ctx, req.CouponID)
		} else {
			c, err = tx.Coupons().GetByCode(ctx, coupon.NormalizeCode(req.Code))
		}
		if err != nil {
			return err
		}
		if c.Type == coupon.TypeUniversal {
			return ErrUniversalNotAssignable
		}
		if _, err := tx.Users().GetByID(ctx, req.UserID); err != nil {
			return err
		}

		uc := &coupon.UserCoupon{
			ID:         ids.New(ids.UserCoupon),
			UserID:     req.UserID,
			CouponID:   c.ID,
			AssignedAt: s.now(),
		}
		if err := tx.Assignments().Create(ctx, uc); err != nil {
			return err
		}
		assigned = uc
		return nil
	})
	if err != nil {
		return nil, err
	}

	room := notify.To(notify.UserRoom(req.UserID))
	payload := notify.AssignmentPayload{Coupon: c.Clone(), Message: "New coupon assigned to your account!"}
	s.events.Emit(ctx, notify.CouponAssigned, payload, room)
	s.events.Emit(ctx, notify.CouponIssued, payload, room)
	return assigned, nil
}

// ListCouponsQuery selects a page of coupons.
type ListCouponsQuery struct {
	Page  int
	Limit int
	Type  string
	// ActiveOnly limits results to active coupons inside their window and
	// is the only mode open to non-staff callers.
	ActiveOnly bool
}

// CouponPage is one page of coupons.
type CouponPage struct {
	Coupons    []coupon.Coupon
	Pagination paging.Info
}

// ListCoupons pages through coupons, newest first.
func (s *Service) ListCoupons(ctx context.Context, p auth.Principal, q ListCouponsQuery) (*CouponPage, error) {
	if !q.ActiveOnly {
		if err := p.RequireStaff(); err != nil {
			return nil, err
		}
	}
	pg := paging.New(q.Page, q.Limit, defaultPageLimit, maxPageLimit)
	lq := coupon.ListQuery{Offset: pg.Offset(), Limit: pg.Limit}
	if t := coupon.Type(q.Type); t.Valid() {
		lq.Type = t
	}
	if q.ActiveOnly {
		now := s.now()
		lq.RedeemableAt = &now
	}

	coupons, total, err := s.store.Tx().Coupons().List(ctx, lq)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return &CouponPage{Coupons: coupons, Pagination: pg.Info(total)}, nil
}

// Analytics summarizes how a coupon has been handed out and redeemed.
type Analytics struct {
	Coupon          *coupon.Coupon
	TotalAssigned   int
	TotalUsed       int
	TotalUnused     int
	UsagePercentage decimal.Decimal
}

// CouponAnalytics counts assignments, or reservations for universal
// coupons, and how many were redeemed.
func (s *Service) CouponAnalytics(ctx context.Context, p auth.Principal, couponID string) (*Analytics, error) {
	if err := p.RequireStaff(); err != nil {
		return nil, err
	}
	if err := ids.Validate(couponID, ids.Coupon); err != nil {
		return nil, err
	}

	repos := s.store.Tx()
	c, err := repos.Coupons().GetByID(ctx, couponID)
	if err != nil {
		return nil, err
	}

	a := &Analytics{Coupon: c, UsagePercentage: decimal.Zero}
	if c.Type == coupon.TypeUniversal {
		usages, err := repos.Usages().ListByCoupon(ctx, c.ID)
		if err != nil {
			return nil, errors.Wrap(err, "list usages")
		}
		a.TotalAssigned = len(usages)
		for _, u := range usages {
			if u.Bound() {
				a.TotalUsed++
			}
		}
	} else {
		assignments, err := repos.Assignments().ListByCoupon(ctx, c.ID)
		if err != nil {
			return nil, errors.Wrap(err, "list assignments")
		}
		a.TotalAssigned = len(assignments)
		for _, uc := range assignments {
			if uc.Used {
				a.TotalUsed++
			}
		}
	}
	a.TotalUnused = a.TotalAssigned - a.TotalUsed
	if a.TotalAssigned > 0 {
		a.UsagePercentage = decimal.NewFromInt(int64(a.TotalUsed)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(a.TotalAssigned))).
			Round(2)
	}
	return a, nil
}
