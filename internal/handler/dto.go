package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/checkout"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/user"
	"github.com/xenking/kart-checkout/internal/promo"
)

func money(d decimal.Decimal) float64 { return d.Round(2).InexactFloat64() }

func moneyPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	v := money(*d)
	return &v
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type lineItemDTO struct {
	ProductID   string  `json:"productId"`
	VariantID   string  `json:"variantId"`
	SizeID      string  `json:"sizeId"`
	ProductName string  `json:"productName"`
	Size        string  `json:"size"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

type appliedCouponDTO struct {
	Code           string  `json:"code"`
	CouponID       string  `json:"couponId"`
	DiscountAmount float64 `json:"discountAmount"`
	Type           string  `json:"type"`
}

type orderDTO struct {
	ID              string                `json:"id"`
	UserID          string                `json:"userId"`
	Items           []lineItemDTO         `json:"items"`
	Subtotal        float64               `json:"subtotal"`
	Discount        float64               `json:"discount"`
	TotalAmount     float64               `json:"totalAmount"`
	Status          order.Status          `json:"status"`
	ShippingAddress user.Address          `json:"shippingAddress"`
	PaymentMethod   catalog.PaymentMethod `json:"paymentMethod"`
	PaymentStatus   order.PaymentStatus   `json:"paymentStatus"`
	Coupon          *appliedCouponDTO     `json:"coupon,omitempty"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

func newOrderDTO(o *order.Order) orderDTO {
	items := make([]lineItemDTO, len(o.Items))
	for i, it := range o.Items {
		items[i] = lineItemDTO{
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			SizeID:      it.SizeID,
			ProductName: it.ProductName,
			Size:        it.SizeLabel,
			Quantity:    it.Quantity,
			Price:       money(it.UnitPrice),
		}
	}
	dto := orderDTO{
		ID:              o.ID,
		UserID:          o.UserID,
		Items:           items,
		Subtotal:        money(o.Subtotal),
		Discount:        money(o.Discount),
		TotalAmount:     money(o.TotalAmount),
		Status:          o.Status,
		ShippingAddress: o.ShippingAddress,
		PaymentMethod:   o.PaymentMethod,
		PaymentStatus:   o.PaymentStatus,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if c := o.Coupon; c != nil {
		dto.Coupon = &appliedCouponDTO{
			Code:           c.Code,
			CouponID:       c.CouponID,
			DiscountAmount: money(c.DiscountAmount),
			Type:           c.Type,
		}
	}
	return dto
}

func newOrderDTOs(orders []order.Order) []orderDTO {
	out := make([]orderDTO, len(orders))
	for i := range orders {
		out[i] = newOrderDTO(&orders[i])
	}
	return out
}

type statisticsDTO struct {
	TotalRevenue     float64 `json:"totalRevenue"`
	TotalOrders      int     `json:"totalOrders"`
	PendingOrders    int     `json:"pendingOrders"`
	ProcessingOrders int     `json:"processingOrders"`
	ShippedOrders    int     `json:"shippedOrders"`
	DeliveredOrders  int     `json:"deliveredOrders"`
	CancelledOrders  int     `json:"cancelledOrders"`
}

func newStatisticsDTO(s checkout.DashboardStats) statisticsDTO {
	return statisticsDTO{
		TotalRevenue:     money(s.TotalRevenue),
		TotalOrders:      s.TotalOrders,
		PendingOrders:    s.PendingOrders,
		ProcessingOrders: s.ProcessingOrders,
		ShippedOrders:    s.ShippedOrders,
		DeliveredOrders:  s.DeliveredOrders,
		CancelledOrders:  s.CancelledOrders,
	}
}

type couponDTO struct {
	ID                 string              `json:"id"`
	Code               string              `json:"code"`
	Description        string              `json:"description"`
	Type               coupon.Type         `json:"type"`
	DiscountType       coupon.DiscountType `json:"discountType"`
	DiscountValue      float64             `json:"discountValue"`
	ValidFrom          time.Time           `json:"validFrom"`
	ValidUntil         time.Time           `json:"validUntil"`
	IsActive           bool                `json:"isActive"`
	UsageLimit         *int                `json:"usageLimit"`
	UsageCount         int                 `json:"usageCount"`
	MinimumOrderValue  *float64            `json:"minimumOrderValue"`
	MaximumDiscount    *float64            `json:"maximumDiscount"`
	ApplicableProducts []string            `json:"applicableProducts"`
	CreatedBy          string              `json:"createdBy"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

func newCouponDTO(c *coupon.Coupon) couponDTO {
	return couponDTO{
		ID:                 c.ID,
		Code:               c.Code,
		Description:        c.Description,
		Type:               c.Type,
		DiscountType:       c.DiscountType,
		DiscountValue:      money(c.DiscountValue),
		ValidFrom:          c.ValidFrom,
		ValidUntil:         c.ValidUntil,
		IsActive:           c.Active,
		UsageLimit:         c.UsageLimit,
		UsageCount:         c.UsageCount,
		MinimumOrderValue:  moneyPtr(c.MinimumOrderValue),
		MaximumDiscount:    moneyPtr(c.MaximumDiscount),
		ApplicableProducts: nonNil(c.ApplicableProducts),
		CreatedBy:          c.CreatedBy,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func newCouponDTOs(coupons []coupon.Coupon) []couponDTO {
	out := make([]couponDTO, len(coupons))
	for i := range coupons {
		out[i] = newCouponDTO(&coupons[i])
	}
	return out
}

type assignmentDTO struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	CouponID   string     `json:"couponId"`
	IsUsed     bool       `json:"isUsed"`
	UsedAt     *time.Time `json:"usedAt,omitempty"`
	OrderID    string     `json:"orderId,omitempty"`
	AssignedAt time.Time  `json:"assignedAt"`
}

func newAssignmentDTO(uc *coupon.UserCoupon) assignmentDTO {
	return assignmentDTO{
		ID:         uc.ID,
		UserID:     uc.UserID,
		CouponID:   uc.CouponID,
		IsUsed:     uc.Used,
		UsedAt:     uc.UsedAt,
		OrderID:    uc.OrderID,
		AssignedAt: uc.AssignedAt,
	}
}

type usageDTO struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CouponID  string    `json:"couponId"`
	OrderID   string    `json:"orderId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func newUsageDTO(u *coupon.Usage) usageDTO {
	return usageDTO{
		ID:        u.ID,
		UserID:    u.UserID,
		CouponID:  u.CouponID,
		OrderID:   u.OrderID,
		CreatedAt: u.CreatedAt,
	}
}

type analyticsDTO struct {
	Coupon          couponDTO `json:"coupon"`
	TotalAssigned   int       `json:"totalAssigned"`
	TotalUsed       int       `json:"totalUsed"`
	TotalUnused     int       `json:"totalUnused"`
	UsagePercentage string    `json:"usagePercentage"`
}

func newAnalyticsDTO(a *promo.Analytics) analyticsDTO {
	return analyticsDTO{
		Coupon:          newCouponDTO(a.Coupon),
		TotalAssigned:   a.TotalAssigned,
		TotalUsed:       a.TotalUsed,
		TotalUnused:     a.TotalUnused,
		UsagePercentage: a.UsagePercentage.StringFixed(2),
	}
}

type sizeDTO struct {
	ID            string  `json:"id"`
	Size          string  `json:"size"`
	Stock         int     `json:"stock"`
	Price         float64 `json:"price"`
	OriginalPrice float64 `json:"originalPrice"`
}

type variantDTO struct {
	ID     string    `json:"id"`
	Color  string    `json:"color"`
	Images []string  `json:"images"`
	Sizes  []sizeDTO `json:"sizes"`
}

type productDTO struct {
	ID                    string                  `json:"id"`
	Name                  string                  `json:"name"`
	Category              string                  `json:"category"`
	OwnerID               string                  `json:"ownerId"`
	Variants              []variantDTO            `json:"variants"`
	AllowedPaymentMethods []catalog.PaymentMethod `json:"allowedPaymentMethods"`
	CreatedAt             time.Time               `json:"createdAt"`
	UpdatedAt             time.Time               `json:"updatedAt"`
}

func newProductDTO(p *catalog.Product) productDTO {
	variants := make([]variantDTO, len(p.Variants))
	for i, v := range p.Variants {
		sizes := make([]sizeDTO, len(v.Sizes))
		for j, s := range v.Sizes {
			sizes[j] = sizeDTO{
				ID:            s.ID,
				Size:          s.Label,
				Stock:         s.Stock,
				Price:         money(s.Price),
				OriginalPrice: money(s.OriginalPrice),
			}
		}
		variants[i] = variantDTO{
			ID:     v.ID,
			Color:  v.Color,
			Images: nonNil(v.Images),
			Sizes:  sizes,
		}
	}
	return productDTO{
		ID:                    p.ID,
		Name:                  p.Name,
		Category:              p.Category,
		OwnerID:               p.OwnerID,
		Variants:              variants,
		AllowedPaymentMethods: p.PaymentMethods(),
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}
