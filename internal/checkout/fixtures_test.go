package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/user"
	"github.com/xenking/kart-checkout/internal/notify"
	"github.com/xenking/kart-checkout/internal/storage/memory"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

var (
	sneaker = catalog.StockRef{ProductID: "prod_sneaker", VariantID: "var_red", SizeID: "size_m"}
	address = user.Address{Street: "1 Main St", City: "Pune", State: "MH", PostalCode: "411001"}
)

type emitted struct {
	name string
	room string
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (e *recordingEmitter) Emit(_ context.Context, name string, _ notify.Payload, opts ...notify.Option) {
	var m notify.Message
	for _, o := range opts {
		o(&m)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{name: name, room: m.Room})
}

func (e *recordingEmitter) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.name)
	}
	return out
}

type recordingCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (c *recordingCache) Invalidate(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, ids...)
}

type fixture struct {
	store  *memory.Store
	svc    *Service
	events *recordingEmitter
	cache  *recordingCache
}

func newFixture(t *testing.T, stock int) *fixture {
	t.Helper()
	clock := func() time.Time { return testNow }
	f := &fixture{
		store:  memory.New(),
		events: &recordingEmitter{},
		cache:  &recordingCache{},
	}
	f.svc = NewService(f.store, coupon.NewEngine(coupon.WithClock(clock)), f.cache, f.events, WithClock(clock))
	f.seedProduct(t, stock, decimal.NewFromInt(100))
	return f
}

func (f *fixture) seedProduct(t *testing.T, stock int, price decimal.Decimal, methods ...catalog.PaymentMethod) {
	t.Helper()
	require.NoError(t, f.store.Tx().Products().Save(context.Background(), &catalog.Product{
		ID:                    sneaker.ProductID,
		Name:                  "Sneaker",
		OwnerID:               "user_owner",
		AllowedPaymentMethods: methods,
		Variants: []catalog.Variant{{
			ID:    sneaker.VariantID,
			Color: "red",
			Sizes: []catalog.Size{{
				ID:            sneaker.SizeID,
				Label:         "M",
				Stock:         stock,
				Price:         price,
				OriginalPrice: price,
			}},
		}},
	}))
}

func (f *fixture) addUser(t *testing.T, id string, qty int) *user.User {
	t.Helper()
	u := &user.User{
		ID:            id,
		Username:      id,
		Email:         id + "@example.com",
		Role:          auth.RoleUser,
		EmailVerified: true,
		Status:        user.StatusActive,
		CreatedAt:     testNow.Add(-24 * time.Hour),
	}
	if qty > 0 {
		u.Cart = []user.CartLine{{
			ID:        "cart_" + id,
			ProductID: sneaker.ProductID,
			VariantID: sneaker.VariantID,
			SizeID:    sneaker.SizeID,
			Quantity:  qty,
		}}
	}
	require.NoError(t, f.store.Tx().Users().Create(context.Background(), u))
	return u
}

func (f *fixture) seedCoupon(t *testing.T, id, code string, typ coupon.Type, mutate ...func(*coupon.Coupon)) *coupon.Coupon {
	t.Helper()
	c := &coupon.Coupon{
		ID:            id,
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

func (f *fixture) assign(t *testing.T, id, userID, couponID string) {
	t.Helper()
	require.NoError(t, f.store.Tx().Assignments().Create(context.Background(), &coupon.UserCoupon{
		ID:         id,
		UserID:     userID,
		CouponID:   couponID,
		AssignedAt: testNow,
	}))
}

func (f *fixture) stock(t *testing.T) int {
	t.Helper()
	p, err := f.store.Tx().Products().GetByID(context.Background(), sneaker.ProductID)
	require.NoError(t, err)
	return p.Variants[0].Sizes[0].Stock
}

func (f *fixture) user(t *testing.T, id string) *user.User {
	t.Helper()
	u, err := f.store.Tx().Users().GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (f *fixture) couponByID(t *testing.T, id string) *coupon.Coupon {
	t.Helper()
	c, err := f.store.Tx().Coupons().GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (f *fixture) order(t *testing.T, userID, code string) (*CreateOrderResult, error) {
	t.Helper()
	return f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:          userID,
		ShippingAddress: address,
		PaymentMethod:   catalog.PaymentCard,
		CouponCode:      code,
	})
}

func decimalPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func intPtr(v int) *int { return &v }

func admin() auth.Principal { return auth.Principal{UserID: "user_admin", Role: auth.RoleAdmin} }

func owner() auth.Principal { return auth.Principal{UserID: "user_owner", Role: auth.RoleOwner} }

func customer(id string) auth.Principal { return auth.Principal{UserID: id, Role: auth.RoleUser} }
