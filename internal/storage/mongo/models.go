package mongo

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// Money is stored as Decimal128 so that aggregation sums stay exact.

func toDec(d decimal.Decimal) bson.Decimal128 {
	v, err := bson.ParseDecimal128(d.String())
	if err != nil {
		// decimal.String never yields an unparsable literal.
		panic(err)
	}
	return v
}

func fromDec(d bson.Decimal128) decimal.Decimal {
	v, err := decimal.NewFromString(d.String())
	if err != nil {
		return decimal.Zero
	}
	return v
}

func toDecPtr(d *decimal.Decimal) *bson.Decimal128 {
	if d == nil {
		return nil
	}
	v := toDec(*d)
	return &v
}

func fromDecPtr(d *bson.Decimal128) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := fromDec(*d)
	return &v
}

// ==================== Catalog models ====================

type productModel struct {
	ID                    string         `bson:"_id"`
	Name                  string         `bson:"name"`
	Category              string         `bson:"category"`
	OwnerID               string         `bson:"owner_id"`
	Variants              []variantModel `bson:"variants"`
	AllowedPaymentMethods []string       `bson:"allowed_payment_methods"`
	CreatedAt             time.Time      `bson:"created_at"`
	UpdatedAt             time.Time      `bson:"updated_at"`
}

type variantModel struct {
	ID     string      `bson:"_id"`
	Color  string      `bson:"color"`
	Sizes  []sizeModel `bson:"sizes"`
	Images []string    `bson:"images"`
}

type sizeModel struct {
	ID            string          `bson:"_id"`
	Label         string          `bson:"label"`
	Stock         int             `bson:"stock"`
	Price         bson.Decimal128 `bson:"price"`
	OriginalPrice bson.Decimal128 `bson:"original_price"`
}

func toProductModel(p *catalog.Product) *productModel {
	m := &productModel{
		ID:        p.ID,
		Name:      p.Name,
		Category:  p.Category,
		OwnerID:   p.OwnerID,
		Variants:  make([]variantModel, 0, len(p.Variants)),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	for _, pm := range p.AllowedPaymentMethods {
		m.AllowedPaymentMethods = append(m.AllowedPaymentMethods, string(pm))
	}
	for _, v := range p.Variants {
		vm := variantModel{ID: v.ID, Color: v.Color, Images: v.Images, Sizes: make([]sizeModel, 0, len(v.Sizes))}
		for _, s := range v.Sizes {
			vm.Sizes = append(vm.Sizes, sizeModel{
				ID:            s.ID,
				Label:         s.Label,
				Stock:         s.Stock,
				Price:         toDec(s.Price),
				OriginalPrice: toDec(s.OriginalPrice),
			})
		}
		m.Variants = append(m.Variants, vm)
	}
	return m
}

func fromProductModel(m *productModel) catalog.Product {
	p := catalog.Product{
		ID:        m.ID,
		Name:      m.Name,
		Category:  m.Category,
		OwnerID:   m.OwnerID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	for _, pm := range m.AllowedPaymentMethods {
		p.AllowedPaymentMethods = append(p.AllowedPaymentMethods, catalog.PaymentMethod(pm))
	}
	for _, vm := range m.Variants {
		v := catalog.Variant{ID: vm.ID, Color: vm.Color, Images: vm.Images}
		for _, s := range vm.Sizes {
			v.Sizes = append(v.Sizes, catalog.Size{
				ID:            s.ID,
				Label:         s.Label,
				Stock:         s.Stock,
				Price:         fromDec(s.Price),
				OriginalPrice: fromDec(s.OriginalPrice),
			})
		}
		p.Variants = append(p.Variants, v)
	}
	return p
}

// ==================== User models ====================

type userModel struct {
	ID            string          `bson:"_id"`
	Username      string          `bson:"username"`
	Email         string          `bson:"email"`
	Role          string          `bson:"role"`
	EmailVerified bool            `bson:"email_verified"`
	Status        string          `bson:"status"`
	CreatedAt     time.Time       `bson:"created_at"`
	Cart          []cartLineModel `bson:"cart"`
	OrderIDs      []string        `bson:"order_ids"`
}

type cartLineModel struct {
	ID        string          `bson:"_id"`
	ProductID string          `bson:"product_id"`
	VariantID string          `bson:"variant_id"`
	SizeID    string          `bson:"size_id"`
	Quantity  int             `bson:"quantity"`
	UnitPrice bson.Decimal128 `bson:"unit_price"`
}

func toCart(cart []user.CartLine) []cartLineModel {
	out := make([]cartLineModel, 0, len(cart))
	for _, l := range cart {
		out = append(out, cartLineModel{
			ID:        l.ID,
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			SizeID:    l.SizeID,
			Quantity:  l.Quantity,
			UnitPrice: toDec(l.UnitPrice),
		})
	}
	return out
}

func toUserModel(u *user.User) *userModel {
	ids := u.OrderIDs
	if ids == nil {
		ids = []string{}
	}
	return &userModel{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		Role:          string(u.Role),
		EmailVerified: u.EmailVerified,
		Status:        string(u.Status),
		CreatedAt:     u.CreatedAt,
		Cart:          toCart(u.Cart),
		OrderIDs:      ids,
	}
}

func fromUserModel(m *userModel) *user.User {
	u := &user.User{
		ID:            m.ID,
		Username:      m.Username,
		Email:         m.Email,
		Role:          auth.Role(m.Role),
		EmailVerified: m.EmailVerified,
		Status:        user.AccountStatus(m.Status),
		CreatedAt:     m.CreatedAt,
		OrderIDs:      m.OrderIDs,
	}
	for _, l := range m.Cart {
		u.Cart = append(u.Cart, user.CartLine{
			ID:        l.ID,
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			SizeID:    l.SizeID,
			Quantity:  l.Quantity,
			UnitPrice: fromDec(l.UnitPrice),
		})
	}
	return u
}

// ==================== Order models ====================

type orderModel struct {
	ID              string              `bson:"_id"`
	UserID          string              `bson:"user_id"`
	Items           []lineItemModel     `bson:"items"`
	ProductIDs      []string            `bson:"product_ids"`
	Subtotal        bson.Decimal128     `bson:"subtotal"`
	Discount        bson.Decimal128     `bson:"discount"`
	TotalAmount     bson.Decimal128     `bson:"total_amount"`
	Status          string              `bson:"status"`
	ShippingAddress addressModel        `bson:"shipping_address"`
	PaymentMethod   string              `bson:"payment_method"`
	PaymentStatus   string              `bson:"payment_status"`
	Coupon          *appliedCouponModel `bson:"coupon,omitempty"`
	CreatedAt       time.Time           `bson:"created_at"`
	UpdatedAt       time.Time           `bson:"updated_at"`
}

type lineItemModel struct {
	ProductID   string          `bson:"product_id"`
	VariantID   string          `bson:"variant_id"`
	SizeID      string          `bson:"size_id"`
	ProductName string          `bson:"product_name"`
	SizeLabel   string          `bson:"size_label"`
	Quantity    int             `bson:"quantity"`
	UnitPrice   bson.Decimal128 `bson:"unit_price"`
}

type addressModel struct {
	Street     string `bson:"street"`
	City       string `bson:"city"`
	State      string `bson:"state"`
	PostalCode string `bson:"postal_code"`
}

type appliedCouponModel struct {
	Code           string          `bson:"code"`
	CouponID       string          `bson:"coupon_id"`
	DiscountAmount bson.Decimal128 `bson:"discount_amount"`
	Type           string          `bson:"type"`
}

func toOrderModel(o *order.Order) *orderModel {
	m := &orderModel{
		ID:          o.ID,
		UserID:      o.UserID,
		Items:       make([]lineItemModel, 0, len(o.Items)),
		ProductIDs:  o.ProductIDs(),
		Subtotal:    toDec(o.Subtotal),
		Discount:    toDec(o.Discount),
		TotalAmount: toDec(o.TotalAmount),
		Status:      string(o.Status),
		ShippingAddress: addressModel{
			Street:     o.ShippingAddress.Street,
			City:       o.ShippingAddress.City,
			State:      o.ShippingAddress.State,
			PostalCode: o.ShippingAddress.PostalCode,
		},
		PaymentMethod: string(o.PaymentMethod),
		PaymentStatus: string(o.PaymentStatus),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	for _, it := range o.Items {
		m.Items = append(m.Items, lineItemModel{
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			SizeID:      it.SizeID,
			ProductName: it.ProductName,
			SizeLabel:   it.SizeLabel,
			Quantity:    it.Quantity,
			UnitPrice:   toDec(it.UnitPrice),
		})
	}
	if o.Coupon != nil {
		m.Coupon = &appliedCouponModel{
			Code:           o.Coupon.Code,
			CouponID:       o.Coupon.CouponID,
			DiscountAmount: toDec(o.Coupon.DiscountAmount),
			Type:           o.Coupon.Type,
		}
	}
	return m
}

func fromOrderModel(m *orderModel) order.Order {
	o := order.Order{
		ID:          m.ID,
		UserID:      m.UserID,
		Subtotal:    fromDec(m.Subtotal),
		Discount:    fromDec(m.Discount),
		TotalAmount: fromDec(m.TotalAmount),
		Status:      order.Status(m.Status),
		ShippingAddress: user.Address{
			Street:     m.ShippingAddress.Street,
			City:       m.ShippingAddress.City,
			State:      m.ShippingAddress.State,
			PostalCode: m.ShippingAddress.PostalCode,
		},
		PaymentMethod: catalog.PaymentMethod(m.PaymentMethod),
		PaymentStatus: order.PaymentStatus(m.PaymentStatus),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	for _, it := range m.Items {
		o.Items = append(o.Items, order.LineItem{
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			SizeID:      it.SizeID,
			ProductName: it.ProductName,
			SizeLabel:   it.SizeLabel,
			Quantity:    it.Quantity,
			UnitPrice:   fromDec(it.UnitPrice),
		})
	}
	if m.Coupon != nil {
		o.Coupon = &order.AppliedCoupon{
			Code:           m.Coupon.Code,
			CouponID:       m.Coupon.CouponID,
			DiscountAmount: fromDec(m.Coupon.DiscountAmount),
			Type:           m.Coupon.Type,
		}
	}
	return o
}

// ==================== Coupon models ====================

type couponModel struct {
	ID                 string           `bson:"_id"`
	Code               string           `bson:"code"`
	Description        string           `bson:"description"`
	Type               string           `bson:"type"`
	DiscountType       string           `bson:"discount_type"`
	DiscountValue      bson.Decimal128  `bson:"discount_value"`
	ValidFrom          time.Time        `bson:"valid_from"`
	ValidUntil         time.Time        `bson:"valid_until"`
	Active             bool             `bson:"active"`
	UsageLimit         *int             `bson:"usage_limit"`
	UsageCount         int              `bson:"usage_count"`
	MinimumOrderValue  *bson.Decimal128 `bson:"minimum_order_value"`
	MaximumDiscount    *bson.Decimal128 `bson:"maximum_discount"`
	ApplicableProducts []string         `bson:"applicable_products"`
	CreatedBy          string           `bson:"created_by"`
	CreatedAt          time.Time        `bson:"created_at"`
	UpdatedAt          time.Time        `bson:"updated_at"`
}

func toCouponModel(c *coupon.Coupon) *couponModel {
	products := c.ApplicableProducts
	if products == nil {
		products = []string{}
	}
	return &couponModel{
		ID:                 c.ID,
		Code:               c.Code,
		Description:        c.Description,
		Type:               string(c.Type),
		DiscountType:       string(c.DiscountType),
		DiscountValue:      toDec(c.DiscountValue),
		ValidFrom:          c.ValidFrom,
		ValidUntil:         c.ValidUntil,
		Active:             c.Active,
		UsageLimit:         c.UsageLimit,
		UsageCount:         c.UsageCount,
		MinimumOrderValue:  toDecPtr(c.MinimumOrderValue),
		MaximumDiscount:    toDecPtr(c.MaximumDiscount),
		ApplicableProducts: products,
		CreatedBy:          c.CreatedBy,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func fromCouponModel(m *couponModel) coupon.Coupon {
	c := coupon.Coupon{
		ID:                m.ID,
		Code:              m.Code,
		Description:       m.Description,
		Type:              coupon.Type(m.Type),
		DiscountType:      coupon.DiscountType(m.DiscountType),
		DiscountValue:     fromDec(m.DiscountValue),
		ValidFrom:         m.ValidFrom,
		ValidUntil:        m.ValidUntil,
		Active:            m.Active,
		UsageLimit:        m.UsageLimit,
		UsageCount:        m.UsageCount,
		MinimumOrderValue: fromDecPtr(m.MinimumOrderValue),
		MaximumDiscount:   fromDecPtr(m.MaximumDiscount),
		CreatedBy:         m.CreatedBy,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if len(m.ApplicableProducts) > 0 {
		c.ApplicableProducts = m.ApplicableProducts
	}
	return c
}

type userCouponModel struct {
	ID         string     `bson:"_id"`
	UserID     string     `bson:"user_id"`
	CouponID   string     `bson:"coupon_id"`
	Used       bool       `bson:"used"`
	UsedAt     *time.Time `bson:"used_at"`
	OrderID    string     `bson:"order_id"`
	AssignedAt time.Time  `bson:"assigned_at"`
}

func toUserCouponModel(a *coupon.UserCoupon) *userCouponModel {
	m := userCouponModel(*a)
	return &m
}

func fromUserCouponModel(m *userCouponModel) coupon.UserCoupon {
	return coupon.UserCoupon(*m)
}

type usageModel struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	CouponID  string    `bson:"coupon_id"`
	OrderID   string    `bson:"order_id"`
	CreatedAt time.Time `bson:"created_at"`
}
