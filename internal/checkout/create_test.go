package checkout

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/user"
	"github.com/xenking/kart-checkout/internal/notify"
	"github.com/xenking/kart-checkout/internal/storage"
)

func TestCreateOrder_InputValidation(t *testing.T) {
	f := newFixture(t, 5)
	f.addUser(t, "user_1", 1)

	for _, tt := range []struct {
		name    string
		address user.Address
		method  catalog.PaymentMethod
		wantErr error
	}{
		{name: "MissingAddress", address: user.Address{Street: "1 Main St"}, method: catalog.PaymentCard, wantErr: order.ErrMissingShippingAddress},
		{name: "MissingPaymentMethod", address: address, wantErr: order.ErrMissingPaymentMethod},
		{name: "InvalidPaymentMethod", address: address, method: "cheque", wantErr: order.ErrInvalidPaymentMethod},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
				UserID:          "user_1",
				ShippingAddress: tt.address,
				PaymentMethod:   tt.method,
			})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, 5, f.stock(t))
}

func TestCreateOrder_CartChecks(t *testing.T) {
	t.Run("UserNotFound", func(t *testing.T) {
		f := newFixture(t, 5)
		_, err := f.order(t, "user_missing", "")
		require.ErrorIs(t, err, user.ErrNotFound)
	})
	t.Run("EmailNotVerified", func(t *testing.T) {
		f := newFixture(t, 5)
		u := f.addUser(t, "user_1", 1)
		u.EmailVerified = false
		require.NoError(t, f.store.Tx().Users().Save(context.Background(), u))

		_, err := f.order(t, "user_1", "")
		require.ErrorIs(t, err, order.ErrEmailNotVerified)
	})
	t.Run("EmptyCart", func(t *testing.T) {
		f := newFixture(t, 5)
		f.addUser(t, "user_1", 0)
		_, err := f.order(t, "user_1", "")
		require.ErrorIs(t, err, order.ErrEmptyCart)
	})
	t.Run("MissingProduct", func(t *testing.T) {
		f := newFixture(t, 5)
		u := f.addUser(t, "user_1", 1)
		u.Cart = append(u.Cart, user.CartLine{ID: "cart_x", ProductID: "prod_gone", VariantID: "v", SizeID: "s", Quantity: 1})
		require.NoError(t, f.store.Tx().Users().Save(context.Background(), u))

		_, err := f.order(t, "user_1", "")
		require.ErrorIs(t, err, order.ErrInvalidCartProducts)
		assert.Equal(t, 5, f.stock(t))
	})
	t.Run("VariantNotFound", func(t *testing.T) {
		f := newFixture(t, 5)
		u := f.addUser(t, "user_1", 1)
		u.Cart[0].VariantID = "var_blue"
		require.NoError(t, f.store.Tx().Users().Save(context.Background(), u))

		_, err := f.order(t, "user_1", "")
		var vErr *catalog.VariantNotFoundError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "Sneaker", vErr.ProductName)
	})
	t.Run("SizeNotFound", func(t *testing.T) {
		f := newFixture(t, 5)
		u := f.addUser(t, "user_1", 1)
		u.Cart[0].SizeID = "size_xl"
		require.NoError(t, f.store.Tx().Users().Save(context.Background(), u))

		_, err := f.order(t, "user_1", "")
		var sErr *catalog.SizeNotFoundError
		require.ErrorAs(t, err, &sErr)
	})
	t.Run("InvalidQuantityOverride", func(t *testing.T) {
		f := newFixture(t, 5)
		f.addUser(t, "user_1", 1)
		_, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
			UserID:          "user_1",
			ShippingAddress: address,
			PaymentMethod:   catalog.PaymentCard,
			Quantities:      map[string]int{"cart_user_1": 0},
		})
		var qErr *order.InvalidQuantityError
		require.ErrorAs(t, err, &qErr)
		assert.Equal(t, 0, qErr.Quantity)
	})
	t.Run("InsufficientStock", func(t *testing.T) {
		f := newFixture(t, 2)
		f.addUser(t, "user_1", 3)
		_, err := f.order(t, "user_1", "")
		var sErr *catalog.InsufficientStockError
		require.ErrorAs(t, err, &sErr)
		assert.Equal(t, "Insufficient stock for Sneaker (M). Available: 2, Requested: 3", sErr.Error())
		assert.Equal(t, 2, f.stock(t))
	})
}

func TestCreateOrder_PaymentMethodNotAllowed(t *testing.T) {
	f := newFixture(t, 5)
	f.seedProduct(t, 5, decimal.NewFromInt(100), catalog.PaymentCard, catalog.PaymentUPI)
	f.addUser(t, "user_1", 1)

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:          "user_1",
		ShippingAddress: address,
		PaymentMethod:   catalog.PaymentCOD,
	})
	var pErr *order.PaymentMethodNotAllowedError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, []string{"Sneaker"}, pErr.Products)
	assert.Equal(t, []catalog.PaymentMethod{catalog.PaymentCard, catalog.PaymentUPI}, pErr.Available)
}

func TestCreateOrder_WithoutCoupon(t *testing.T) {
	f := newFixture(t, 5)
	f.addUser(t, "user_1", 2)

	res, err := f.order(t, "user_1", "  ")
	require.NoError(t, err)

	o := res.Order
	assert.False(t, res.DiscountApplied)
	assert.True(t, decimal.NewFromInt(200).Equal(o.Subtotal))
	assert.True(t, o.Discount.IsZero())
	assert.True(t, decimal.NewFromInt(200).Equal(o.TotalAmount))
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, order.PaymentPending, o.PaymentStatus)
	assert.Nil(t, o.Coupon)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Sneaker", o.Items[0].ProductName)
	assert.Equal(t, "M", o.Items[0].SizeLabel)

	assert.Equal(t, 3, f.stock(t))
	u := f.user(t, "user_1")
	assert.Empty(t, u.Cart)
	assert.Equal(t, []string{o.ID}, u.OrderIDs)
	assert.Equal(t, []string{notify.OrderCreated}, f.events.names())
	assert.Contains(t, f.cache.invalidated, sneaker.ProductID)
}

func TestCreateOrder_UsesLivePriceAndQuantityOverride(t *testing.T) {
	f := newFixture(t, 5)
	f.addUser(t, "user_1", 1)
	f.seedProduct(t, 5, decimal.RequireFromString("149.50"))

	res, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:          "user_1",
		ShippingAddress: address,
		PaymentMethod:   catalog.PaymentUPI,
		Quantities:      map[string]int{"cart_user_1": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "299.00", res.Order.Subtotal.StringFixed(2))
	assert.Equal(t, 3, f.stock(t))
}

func TestCreateOrder_WelcomeEndToEnd(t *testing.T) {
	f := newFixture(t, 5)
	f.addUser(t, "user_1", 2)
	f.seedCoupon(t, "cpn_welcome", "WELCOME00001", coupon.TypeWelcome)
	f.assign(t, "ucpn_1", "user_1", "cpn_welcome")

	res, err := f.order(t, "user_1", "welcome00001")
	require.NoError(t, err)

	o := res.Order
	assert.True(t, res.DiscountApplied)
	assert.Equal(t, "200.00", o.Subtotal.StringFixed(2))
	assert.Equal(t, "20.00", o.Discount.StringFixed(2))
	assert.Equal(t, "180.00", o.TotalAmount.StringFixed(2))
	assert.Equal(t, "20.00", res.Savings.StringFixed(2))
	require.NotNil(t, o.Coupon)
	assert.Equal(t, "WELCOME00001", o.Coupon.Code)
	assert.Equal(t, "welcome", o.Coupon.Type)
	assert.Equal(t, 3, f.stock(t))

	a, err := f.store.Tx().Assignments().FindByOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, a.Used)
	assert.Equal(t, "ucpn_1", a.ID)
	require.NotNil(t, a.UsedAt)
	assert.Equal(t, testNow, *a.UsedAt)
}

func TestCreateOrder_DiscountCap(t *testing.T) {
	f := newFixture(t, 5)
	f.seedProduct(t, 5, decimal.NewFromInt(10000))
	f.addUser(t, "user_1", 1)
	f.seedCoupon(t, "cpn_big", "BIG20", coupon.TypeUniversal, func(c *coupon.Coupon) {
		c.DiscountValue = decimal.NewFromInt(20)
		c.MaximumDiscount = decimalPtr(1000)
	})

	res, err := f.order(t, "user_1", "BIG20")
	require.NoError(t, err)
	assert.Equal(t, "1000.00", res.Order.Discount.StringFixed(2))
	assert.Equal(t, "9000.00", res.Order.TotalAmount.StringFixed(2))
}

func TestCreateOrder_InvalidCouponRollsBack(t *testing.T) {
	f := newFixture(t, 5)
	f.addUser(t, "user_1", 2)
	f.seedCoupon(t, "cpn_user", "VIP", coupon.TypeUser) // not assigned to user_1

	_, err := f.order(t, "user_1", "VIP")

	var rej *coupon.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.ErrorIs(t, err, coupon.ErrNotAssigned)
	assert.Equal(t, "This coupon is not available for your account", rej.Message)

	assert.Equal(t, 5, f.stock(t))
	u := f.user(t, "user_1")
	assert.Len(t, u.Cart, 1)
	assert.Empty(t, u.OrderIDs)
	assert.Empty(t, f.events.names())

	orders, total, err := f.store.Tx().Orders().List(context.Background(), order.Query{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, orders)
}

type failingCoupons struct {
	coupon.Repository
}

func (failingCoupons) GetByCode(context.Context, string) (*coupon.Coupon, error) {
	return nil, errors.New("connection reset")
}

type failingTx struct {
	storage.Tx
}

func (t failingTx) Coupons() coupon.Repository {
	return failingCoupons{Repository: t.Tx.Coupons()}
}

type failingStore struct {
	storage.Store
}

func (s failingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return s.Store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return fn(ctx, failingTx{Tx: tx})
	})
}

func TestCreateOrder_CouponEngineFailure(t *testing.T) {
	f := newFixture(t, 5)
	f.addUser(t, "user_1", 1)

	s := NewService(failingStore{Store: f.store}, coupon.NewEngine(), f.cache, f.events)
	_, err := s.CreateOrder(context.Background(), CreateOrderRequest{
		UserID:          "user_1",
		ShippingAddress: address,
		PaymentMethod:   catalog.PaymentCard,
		CouponCode:      "ANY",
	})

	var cErr *CouponFailedError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, 5, f.stock(t))
}

func TestCreateOrder_CouponSingleUse(t *testing.T) {
	f := newFixture(t, 10)
	f.addUser(t, "user_1", 1)
	f.seedCoupon(t, "cpn_loyal", "LOYAL", coupon.TypeLoyalty)
	f.assign(t, "ucpn_1", "user_1", "cpn_loyal")

	_, err := f.order(t, "user_1", "LOYAL")
	require.NoError(t, err)

	u := f.user(t, "user_1")
	u.Cart = []user.CartLine{{ID: "cart_2", ProductID: sneaker.ProductID, VariantID: sneaker.VariantID, SizeID: sneaker.SizeID, Quantity: 1}}
	require.NoError(t, f.store.Tx().Users().Save(context.Background(), u))

	_, err = f.order(t, "user_1", "LOYAL")
	assert.ErrorIs(t, err, coupon.ErrLoyaltyUnavailable)
	assert.Equal(t, 9, f.stock(t))
}

func TestCreateOrder_UniversalUsageCeiling(t *testing.T) {
	f := newFixture(t, 10)
	f.addUser(t, "user_1", 1)
	f.addUser(t, "user_2", 1)
	f.seedCoupon(t, "cpn_flash", "FLASH", coupon.TypeUniversal, func(c *coupon.Coupon) {
		c.UsageLimit = intPtr(1)
	})

	_, err := f.order(t, "user_1", "FLASH")
	require.NoError(t, err)

	_, err = f.order(t, "user_2", "FLASH")
	var rej *coupon.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "Coupon usage limit reached", rej.Message)

	c := f.couponByID(t, "cpn_flash")
	assert.Equal(t, 1, c.UsageCount)
	assert.Equal(t, 9, f.stock(t))

	usages, err := f.store.Tx().Usages().ListByCoupon(context.Background(), "cpn_flash")
	require.NoError(t, err)
	require.Len(t, usages, 1)
	assert.Equal(t, "user_1", usages[0].UserID)
}

func TestCreateOrder_UniversalOncePerUser(t *testing.T) {
	f := newFixture(t, 10)
	f.addUser(t, "user_1", 1)
	f.seedCoupon(t, "cpn_all", "ALL10", coupon.TypeUniversal)

	_, err := f.order(t, "user_1", "ALL10")
	require.NoError(t, err)

	u := f.user(t, "user_1")
	u.Cart = []user.CartLine{{ID: "cart_2", ProductID: sneaker.ProductID, VariantID: sneaker.VariantID, SizeID: sneaker.SizeID, Quantity: 1}}
	require.NoError(t, f.store.Tx().Users().Save(context.Background(), u))

	_, err = f.order(t, "user_1", "ALL10")
	assert.ErrorIs(t, err, coupon.ErrUniversalUsed)
}

func TestCreateOrder_ConcurrentStockNeverNegative(t *testing.T) {
	const buyers = 10
	f := newFixture(t, 5)
	for i := range buyers {
		f.addUser(t, buyerID(i), 1)
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		succeeded  int
		outOfStock int
	)
	for i := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.order(t, buyerID(i), "")
			mu.Lock()
			defer mu.Unlock()
			var sErr *catalog.InsufficientStockError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &sErr):
				outOfStock++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, buyers-5, outOfStock)
	assert.Equal(t, 0, f.stock(t))
}

func buyerID(i int) string {
	return "user_buyer" + string(rune('a'+i))
}
