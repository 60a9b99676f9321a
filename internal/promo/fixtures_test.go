package promo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/user"
	"github.com/xenking/kart-checkout/internal/ids"
	"github.com/xenking/kart-checkout/internal/notify"
	"github.com/xenking/kart-checkout/internal/storage/memory"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type emitted struct {
	name    string
	room    string
	payload notify.Payload
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (e *recordingEmitter) Emit(_ context.Context, name string, payload notify.Payload, opts ...notify.Option) {
	var m notify.Message
	for _, o := range opts {
		o(&m)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{name: name, room: m.Room, payload: payload})
}

func (e *recordingEmitter) named(name string) []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []emitted
	for _, ev := range e.events {
		if ev.name == name {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	store  *memory.Store
	svc    *Service
	events *recordingEmitter
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.New(),
		events: &recordingEmitter{},
		now:    testNow,
	}
	clock := func() time.Time { return f.now }
	f.svc = NewService(f.store, coupon.NewEngine(coupon.WithClock(clock)), f.events, WithClock(clock))
	return f
}

func (f *fixture) addUser(t *testing.T, id string, cart ...string) {
	t.Helper()
	u := &user.User{
		ID:            id,
		Username:      id,
		Email:         id + "@example.com",
		Role:          auth.RoleUser,
		EmailVerified: true,
		Status:        user.StatusActive,
		CreatedAt:     testNow.Add(-time.Hour),
	}
	for _, productID := range cart {
		u.Cart = append(u.Cart, user.CartLine{
			ID:        ids.New(ids.CartLine),
			ProductID: productID,
			Quantity:  1,
		})
	}
	require.NoError(t, f.store.Tx().Users().Create(context.Background(), u))
}

func (f *fixture) seedCoupon(t *testing.T, code string, typ coupon.Type, mutate ...func(*coupon.Coupon)) *coupon.Coupon {
	t.Helper()
	c := &coupon.Coupon{
		ID:            ids.New(ids.Coupon),
		Code:          code,
		Type:          typ,
		DiscountType:  coupon.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		ValidFrom:     testNow.Add(-time.Hour),
		ValidUntil:    testNow.Add(30 * 24 * time.Hour),
		Active:        true,
		CreatedAt:     testNow,
	}
	for _, m := range mutate {
		m(c)
	}
	require.NoError(t, f.store.Tx().Coupons().Create(context.Background(), c))
	return c
}

func (f *fixture) assign(t *testing.T, userID, couponID string) *coupon.UserCoupon {
	t.Helper()
	uc := &coupon.UserCoupon{
		ID:         ids.New(ids.UserCoupon),
		UserID:     userID,
		CouponID:   couponID,
		AssignedAt: testNow,
	}
	require.NoError(t, f.store.Tx().Assignments().Create(context.Background(), uc))
	return uc
}

func (f *fixture) coupon(t *testing.T, id string) *coupon.Coupon {
	t.Helper()
	c, err := f.store.Tx().Coupons().GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

var (
	admin    = auth.Principal{UserID: "user_admin", Role: auth.RoleAdmin}
	owner    = auth.Principal{UserID: "user_owner", Role: auth.RoleOwner}
	customer = auth.Principal{UserID: "user_alice", Role: auth.RoleUser}
)

func decimalPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func codes(cs []coupon.Coupon) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Code)
	}
	return out
}
