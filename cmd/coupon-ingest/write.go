package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/ids"
	"github.com/xenking/kart-checkout/internal/storage"
)

// codeRule is the discount granted by a well-known code.
type codeRule struct {
	discountType coupon.DiscountType
	value        int64
	description  string
}

var codeRules = map[string]codeRule{
	"FIFTYOFF": {discountType: coupon.DiscountPercentage, value: 50, description: "50% off entire order"},
	"SIXTYOFF": {discountType: coupon.DiscountPercentage, value: 60, description: "60% off entire order"},
	"GNULINUX": {discountType: coupon.DiscountPercentage, value: 15, description: "Open source discount: 15% off"},
	"OVER9000": {discountType: coupon.DiscountFixed, value: 9, description: "9 off your order"},
	"HAPPYHRS": {discountType: coupon.DiscountPercentage, value: 18, description: "Happy Hours: 18% off"},
}

var defaultRule = codeRule{
	discountType: coupon.DiscountPercentage,
	value:        10,
	description:  "Promo code: 10% off",
}

// ingestCreator identifies imported coupons in CreatedBy.
const ingestCreator = "system:coupon-ingest"

type writer struct {
	store      storage.Store
	lg         *zap.Logger
	now        time.Time
	validFor   time.Duration
	usageLimit int
	workers    int
}

func (w *writer) coupon(code string) *coupon.Coupon {
	rule, ok := codeRules[code]
	if !ok {
		rule = defaultRule
	}
	limit := w.usageLimit
	return &coupon.Coupon{
		ID:            ids.New(ids.Coupon),
		Code:          code,
		Description:   rule.description,
		Type:          coupon.TypeUniversal,
		DiscountType:  rule.discountType,
		DiscountValue: decimal.NewFromInt(rule.value),
		ValidFrom:     w.now,
		ValidUntil:    w.now.Add(w.validFor),
		Active:        true,
		UsageLimit:    &limit,
		CreatedBy:     ingestCreator,
		CreatedAt:     w.now,
		UpdatedAt:     w.now,
	}
}

// write creates a universal coupon per code. Codes that already exist are
// skipped, so re-running an import is safe.
func (w *writer) write(ctx context.Context, codes []string) error {
	w.lg.Info("Writing coupons", zap.Int("count", len(codes)), zap.Int("workers", w.workers))

	var created, skipped atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(w.workers, 1))
	for _, code := range codes {
		g.Go(func() error {
			c := w.coupon(code)
			if err := c.Validate(); err != nil {
				return errors.Wrapf(err, "coupon %s", code)
			}
			err := w.store.Tx().Coupons().Create(ctx, c)
			switch {
			case errors.Is(err, coupon.ErrCodeExists):
				skipped.Add(1)
			case err != nil:
				return errors.Wrapf(err, "create coupon %s", code)
			default:
				if n := created.Add(1); n%1000 == 0 {
					w.lg.Info("Write progress", zap.Int64("created", n), zap.Int("total", len(codes)))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	w.lg.Info("Coupons written",
		zap.Int64("created", created.Load()),
		zap.Int64("skipped", skipped.Load()),
	)
	return nil
}
