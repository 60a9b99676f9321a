package promo

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/user"
	"github.com/xenking/kart-checkout/internal/ids"
)

func TestService_UserCoupons(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "user_alice")

	gift := f.seedCoupon(t, "GIFT", coupon.TypeUser)
	f.assign(t, "user_alice", gift.ID)
	spent := f.seedCoupon(t, "SPENT", coupon.TypeUser)
	uc := f.assign(t, "user_alice", spent.ID)
	require.NoError(t, f.store.Tx().Assignments().Bind(ctx, uc.ID, ids.New(ids.Order), testNow))
	stale := f.seedCoupon(t, "STALE", coupon.TypeUser, func(c *coupon.Coupon) {
		c.ValidUntil = testNow.Add(-time.Minute)
	})
	f.assign(t, "user_alice", stale.ID)

	f.seedCoupon(t, "ALL10", coupon.TypeUniversal)
	f.seedCoupon(t, "SOLDOUT", coupon.TypeUniversal, func(c *coupon.Coupon) {
		limit := 1
		c.UsageLimit = &limit
		c.UsageCount = 1
	})
	used := f.seedCoupon(t, "USED", coupon.TypeUniversal)
	u, err := f.svc.ClaimUniversal(ctx, "user_alice", "USED")
	require.NoError(t, err)
	require.NoError(t, f.store.Tx().Usages().Bind(ctx, u.ID, ids.New(ids.Order)))
	f.seedCoupon(t, "RESERVED", coupon.TypeUniversal)
	_, err = f.svc.ClaimUniversal(ctx, "user_alice", "RESERVED")
	require.NoError(t, err)

	got, err := f.svc.UserCoupons(ctx, "user_alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"GIFT", "ALL10", "RESERVED"}, codes(got))
	assert.NotContains(t, codes(got), used.Code)
}

func TestService_ValidateCoupon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "user_alice", "prod_sneaker")
	f.seedCoupon(t, "ALL10", coupon.TypeUniversal, func(c *coupon.Coupon) {
		c.MinimumOrderValue = decimalPtr(100)
	})
	f.seedCoupon(t, "BOOTS", coupon.TypeUniversal, func(c *coupon.Coupon) {
		c.ApplicableProducts = []string{"prod_boot"}
	})

	res, err := f.svc.ValidateCoupon(ctx, "user_alice", "all10", decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.Discount.Equal(decimal.NewFromInt(50)))
	assert.Nil(t, res.Usage, "preview must not reserve")
	_, err = f.store.Tx().Usages().Find(ctx, "user_alice", res.Coupon.ID)
	require.ErrorIs(t, err, coupon.ErrUsageNotFound)

	res, err = f.svc.ValidateCoupon(ctx, "user_alice", "ALL10", decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.ErrorIs(t, res.Reason, coupon.ErrBelowMinimum)
	assert.Equal(t, "Minimum order value of ₹100 required", res.Message)

	res, err = f.svc.ValidateCoupon(ctx, "user_alice", "BOOTS", decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Reason, coupon.ErrNotApplicable)

	res, err = f.svc.ValidateCoupon(ctx, "user_alice", "NOPE", decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Reason, coupon.ErrNotRedeemable)

	_, err = f.svc.ValidateCoupon(ctx, "user_alice", " ", decimal.NewFromInt(500))
	require.ErrorIs(t, err, ErrInvalidValidation)
	_, err = f.svc.ValidateCoupon(ctx, "user_alice", "ALL10", decimal.NewFromInt(-1))
	require.ErrorIs(t, err, ErrInvalidValidation)
	_, err = f.svc.ValidateCoupon(ctx, "user_ghost", "ALL10", decimal.NewFromInt(500))
	require.ErrorIs(t, err, user.ErrNotFound)
}

func TestService_ClaimUniversal(t *testing.T) {
	ctx := context.Background()

	t.Run("Idempotent", func(t *testing.T) {
		f := newFixture(t)
		f.addUser(t, "user_alice")
		c := f.seedCoupon(t, "ALL10", coupon.TypeUniversal)

		first, err := f.svc.ClaimUniversal(ctx, "user_alice", "all10")
		require.NoError(t, err)
		assert.Equal(t, c.ID, first.CouponID)
		assert.False(t, first.Bound())

		second, err := f.svc.ClaimUniversal(ctx, "user_alice", "ALL10")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		all, err := f.store.Tx().Usages().ListByCoupon(ctx, c.ID)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
	t.Run("AlreadyUsed", func(t *testing.T) {
		f := newFixture(t)
		f.addUser(t, "user_alice")
		f.seedCoupon(t, "ALL10", coupon.TypeUniversal)
		u, err := f.svc.ClaimUniversal(ctx, "user_alice", "ALL10")
		require.NoError(t, err)
		require.NoError(t, f.store.Tx().Usages().Bind(ctx, u.ID, ids.New(ids.Order)))

		_, err = f.svc.ClaimUniversal(ctx, "user_alice", "ALL10")
		require.ErrorIs(t, err, coupon.ErrUniversalUsed)
	})
	for _, tt := range []struct {
		name   string
		code   string
		typ    coupon.Type
		mutate func(*coupon.Coupon)
		want   error
	}{
		{"Unknown", "OTHER", coupon.TypeUniversal, nil, coupon.ErrNotFound},
		{"NotUniversal", "CODE", coupon.TypeUser, nil, ErrNotUniversal},
		{"Inactive", "CODE", coupon.TypeUniversal, func(c *coupon.Coupon) { c.Active = false }, coupon.ErrNotRedeemable},
		{"Exhausted", "CODE", coupon.TypeUniversal, func(c *coupon.Coupon) {
			limit := 2
			c.UsageLimit = &limit
			c.UsageCount = 2
		}, coupon.ErrUsageLimitReached},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.addUser(t, "user_alice")
			var mutate []func(*coupon.Coupon)
			if tt.mutate != nil {
				mutate = append(mutate, tt.mutate)
			}
			f.seedCoupon(t, "CODE", tt.typ, mutate...)

			_, err := f.svc.ClaimUniversal(ctx, "user_alice", tt.code)
			require.ErrorIs(t, err, tt.want)
		})
	}
}
