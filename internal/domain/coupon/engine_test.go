package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/user"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func testEngine() *Engine {
	return NewEngine(WithClock(func() time.Time { return testNow }))
}

func testUser() *user.User {
	return &user.User{ID: "user_1", CreatedAt: testNow.Add(-24 * time.Hour)}
}

func seedCoupon(s *fakeStore, id, code string, typ Type, mutate ...func(*Coupon)) *Coupon {
	c := &Coupon{
		ID:            id,
		Code:          code,
		Type:          typ,
		DiscountType:  DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		ValidFrom:     testNow.Add(-time.Hour),
		ValidUntil:    testNow.Add(time.Hour),
		Active:        true,
	}
	for _, m := range mutate {
		m(c)
	}
	s.coupons[id] = c
	return c
}

func assign(s *fakeStore, id, userID, couponID string) {
	s.assignments[id] = &UserCoupon{ID: id, UserID: userID, CouponID: couponID, AssignedAt: testNow}
}

func apply(t *testing.T, s *fakeStore, code string, mode Mode) *Result {
	t.Helper()
	res, err := testEngine().Apply(context.Background(), s.repos(), ApplyRequest{
		Code:       code,
		User:       testUser(),
		Subtotal:   decimal.NewFromInt(1000),
		ProductIDs: []string{"prod_a"},
		Mode:       mode,
	})
	require.NoError(t, err)
	return res
}

func TestEngine_Apply_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(s *fakeStore)
		code   string
		reason error
	}{
		{
			name:   "unknown code",
			setup:  func(*fakeStore) {},
			code:   "NOPE",
			reason: ErrNotRedeemable,
		},
		{
			name: "inactive",
			setup: func(s *fakeStore) {
				seedCoupon(s, "c1", "OFF", TypeUniversal, func(c *Coupon) { c.Active = false })
			},
			code:   "OFF",
			reason: ErrNotRedeemable,
		},
		{
			name: "expired",
			setup: func(s *fakeStore) {
				seedCoupon(s, "c1", "OLD", TypeUniversal, func(c *Coupon) { c.ValidUntil = testNow.Add(-time.Minute) })
			},
			code:   "OLD",
			reason: ErrNotRedeemable,
		},
		{
			name: "below minimum",
			setup: func(s *fakeStore) {
				seedCoupon(s, "c1", "BIG", TypeUniversal, func(c *Coupon) { c.MinimumOrderValue = decimalPtr(5000) })
			},
			code:   "BIG",
			reason: ErrBelowMinimum,
		},
		{
			name: "not applicable",
			setup: func(s *fakeStore) {
				seedCoupon(s, "c1", "SHOES", TypeUniversal, func(c *Coupon) { c.ApplicableProducts = []string{"prod_b"} })
			},
			code:   "SHOES",
			reason: ErrNotApplicable,
		},
		{
			name: "universal exhausted",
			setup: func(s *fakeStore) {
				limit := 2
				seedCoupon(s, "c1", "LIMITED", TypeUniversal, func(c *Coupon) {
					c.UsageLimit = &limit
					c.UsageCount = 2
				})
			},
			code:   "LIMITED",
			reason: ErrUsageLimitReached,
		},
		{
			name: "universal already used",
			setup: func(s *fakeStore) {
				seedCoupon(s, "c1", "ONCE", TypeUniversal)
				s.usages["u1"] = &Usage{ID: "u1", UserID: "user_1", CouponID: "c1", OrderID: "ord_prev"}
			},
			code:   "ONCE",
			reason: ErrUniversalUsed,
		},
		{
			name: "welcome not assigned",
			setup: func(s *fakeStore) {
				seedCoupon(s, "c1", "WELCOMEX", TypeWelcome)
			},
			code:   "WELCOMEX",
			reason: ErrWelcomeUnavailable,
		},
		{
			name: "welcome after first order",
			setup: func(s *fakeStore) {
				seedCoupon(s, "c1", "WELCOMEX", TypeWelcome)
				assign(s, "a1", "user_1", "c1")
				s.liveOrders["user_1"] = 1
			},
			code:   "WELCOMEX",
			reason: ErrNotFirstOrder,
		},
		{
			name: "user coupon not assigned",
			setup: func(s *fakeStore) {
				seedCoupon(s, "c1", "VIP", TypeUser)
				assign(s, "a1", "user_2", "c1")
			},
			code:   "VIP",
			reason: ErrNotAssigned,
		},
		{
			name: "user coupon already used",
			setup: func(s *fakeStore) {
				seedCoupon(s, "c1", "VIP", TypeUser)
				assign(s, "a1", "user_1", "c1")
				s.assignments["a1"].Used = true
			},
			code:   "VIP",
			reason: ErrNotAssigned,
		},
		{
			name: "loyalty not assigned",
			setup: func(s *fakeStore) {
				seedCoupon(s, "c1", "LOYAL", TypeLoyalty)
			},
			code:   "LOYAL",
			reason: ErrLoyaltyUnavailable,
		},
		{
			name: "unknown type",
			setup: func(s *fakeStore) {
				seedCoupon(s, "c1", "ODD", "legacy")
			},
			code:   "ODD",
			reason: ErrInvalidType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFakeStore()
			tt.setup(s)

			res := apply(t, s, tt.code, Commit)

			assert.False(t, res.Valid)
			assert.ErrorIs(t, res.Reason, tt.reason)
			assert.NotEmpty(t, res.Message)
			assert.True(t, res.Discount.IsZero())
		})
	}
}

func TestEngine_Apply_MinimumMessage(t *testing.T) {
	s := newFakeStore()
	seedCoupon(s, "c1", "BIG", TypeUniversal, func(c *Coupon) { c.MinimumOrderValue = decimalPtr(5000) })

	res := apply(t, s, "BIG", Preview)
	assert.Equal(t, "Minimum order value of ₹5000 required", res.Message)
}

func TestEngine_Apply_WelcomeExpired(t *testing.T) {
	s := newFakeStore()
	seedCoupon(s, "c1", "WELCOMEX", TypeWelcome)
	assign(s, "a1", "user_1", "c1")

	u := testUser()
	u.CreatedAt = testNow.Add(-WelcomeWindow - time.Hour)
	res, err := testEngine().Apply(context.Background(), s.repos(), ApplyRequest{
		Code:     "WELCOMEX",
		User:     u,
		Subtotal: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Reason, ErrWelcomeExpired)
}

func TestEngine_Apply_Assigned(t *testing.T) {
	s := newFakeStore()
	seedCoupon(s, "c1", "WELCOMEX", TypeWelcome, func(c *Coupon) { c.MaximumDiscount = decimalPtr(50) })
	assign(s, "a1", "user_1", "c1")

	res := apply(t, s, " welcomex ", Commit)

	require.True(t, res.Valid)
	assert.True(t, decimal.NewFromInt(50).Equal(res.Discount))
	assert.Equal(t, "Coupon applied successfully! You saved ₹50.00", res.Message)
	require.NotNil(t, res.Assignment)
	assert.Equal(t, "a1", res.Assignment.ID)
	assert.Nil(t, res.Usage)
}

func TestEngine_Apply_UniversalPreviewDoesNotWrite(t *testing.T) {
	s := newFakeStore()
	seedCoupon(s, "c1", "SAVE10", TypeUniversal)

	for range 3 {
		res := apply(t, s, "SAVE10", Preview)
		require.True(t, res.Valid)
		assert.Nil(t, res.Usage)
	}
	assert.Empty(t, s.usages)
	assert.Equal(t, 0, s.coupons["c1"].UsageCount)
}

func TestEngine_Apply_UniversalCommitReservesOnce(t *testing.T) {
	s := newFakeStore()
	seedCoupon(s, "c1", "SAVE10", TypeUniversal)

	first := apply(t, s, "SAVE10", Commit)
	second := apply(t, s, "SAVE10", Commit)

	require.True(t, first.Valid)
	require.True(t, second.Valid)
	require.NotNil(t, first.Usage)
	assert.Equal(t, first.Usage.ID, second.Usage.ID)
	assert.Equal(t, 1, s.usageCreates)
	assert.False(t, s.usages[first.Usage.ID].Bound())
}

func TestEngine_ConsumeRelease_Universal(t *testing.T) {
	ctx := context.Background()
	e := testEngine()
	s := newFakeStore()
	seedCoupon(s, "c1", "SAVE10", TypeUniversal)

	res := apply(t, s, "SAVE10", Commit)
	require.True(t, res.Valid)

	require.NoError(t, e.Consume(ctx, s.repos(), res, "ord_1"))
	assert.Equal(t, "ord_1", s.usages[res.Usage.ID].OrderID)
	assert.Equal(t, 1, s.coupons["c1"].UsageCount)

	// A racing order holding the same reservation loses.
	err := e.Consume(ctx, s.repos(), res, "ord_2")
	assert.ErrorIs(t, err, ErrAlreadyConsumed)

	again := apply(t, s, "SAVE10", Preview)
	assert.ErrorIs(t, again.Reason, ErrUniversalUsed)

	require.NoError(t, e.Release(ctx, s.repos(), TypeUniversal, "c1", "ord_1"))
	assert.Empty(t, s.usages)
	assert.Equal(t, 0, s.coupons["c1"].UsageCount)

	require.NoError(t, e.Release(ctx, s.repos(), TypeUniversal, "c1", "ord_1"))
	assert.Equal(t, 0, s.coupons["c1"].UsageCount)

	assert.True(t, apply(t, s, "SAVE10", Preview).Valid)
}

func TestEngine_Consume_UsageLimit(t *testing.T) {
	ctx := context.Background()
	e := testEngine()
	s := newFakeStore()
	limit := 1
	seedCoupon(s, "c1", "ONE", TypeUniversal, func(c *Coupon) { c.UsageLimit = &limit })

	res := apply(t, s, "ONE", Commit)
	require.True(t, res.Valid)

	// Another user drains the limit between apply and consume.
	s.coupons["c1"].UsageCount = 1
	assert.ErrorIs(t, e.Consume(ctx, s.repos(), res, "ord_1"), ErrUsageLimitReached)
}

func TestEngine_ConsumeRelease_Assignment(t *testing.T) {
	ctx := context.Background()
	e := testEngine()
	s := newFakeStore()
	seedCoupon(s, "c1", "VIP", TypeUser)
	assign(s, "a1", "user_1", "c1")

	res := apply(t, s, "VIP", Commit)
	require.True(t, res.Valid)

	require.NoError(t, e.Consume(ctx, s.repos(), res, "ord_1"))
	a := s.assignments["a1"]
	assert.True(t, a.Used)
	assert.Equal(t, "ord_1", a.OrderID)
	require.NotNil(t, a.UsedAt)
	assert.Equal(t, testNow, *a.UsedAt)

	assert.ErrorIs(t, apply(t, s, "VIP", Preview).Reason, ErrNotAssigned)

	require.NoError(t, e.Release(ctx, s.repos(), TypeUser, "c1", "ord_1"))
	assert.False(t, a.Used)
	assert.Empty(t, a.OrderID)
	assert.Nil(t, a.UsedAt)

	require.NoError(t, e.Release(ctx, s.repos(), TypeUser, "c1", "ord_1"))
	assert.True(t, apply(t, s, "VIP", Preview).Valid)
}

func TestEngine_Consume_NoReservation(t *testing.T) {
	err := testEngine().Consume(context.Background(), newFakeStore().repos(), &Result{Valid: true}, "ord_1")
	assert.ErrorIs(t, err, ErrUsageNotFound)
}

func TestRejectionMessage(t *testing.T) {
	assert.Equal(t, "Coupon not found or expired", RejectionMessage(ErrNotRedeemable))
	assert.Equal(t, "Invalid coupon code", RejectionMessage(ErrBelowMinimum))
}

func TestResult_Err(t *testing.T) {
	assert.NoError(t, (&Result{Valid: true}).Err())

	err := reject(ErrNotFirstOrder).Err()
	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.ErrorIs(t, err, ErrNotFirstOrder)
	assert.Equal(t, "Welcome coupon is only valid for your first order", err.Error())
}
