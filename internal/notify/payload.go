package notify

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(2))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

// OrderPayload carries a full order snapshot.
type OrderPayload struct {
	Order *order.Order
}

func (p OrderPayload) Encode(e *jx.Encoder) {
	o := p.Order
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
	e.Field("userId", func(e *jx.Encoder) { e.Str(o.UserID) })
	e.Field("items", func(e *jx.Encoder) {
		e.ArrStart()
		for _, it := range o.Items {
			e.ObjStart()
			e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
			e.Field("variantId", func(e *jx.Encoder) { e.Str(it.VariantID) })
			e.Field("sizeId", func(e *jx.Encoder) { e.Str(it.SizeID) })
			e.Field("productName", func(e *jx.Encoder) { e.Str(it.ProductName) })
			e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
			e.Field("unitPrice", func(e *jx.Encoder) { money(e, it.UnitPrice) })
			e.ObjEnd()
		}
		e.ArrEnd()
	})
	e.Field("subtotal", func(e *jx.Encoder) { money(e, o.Subtotal) })
	e.Field("discount", func(e *jx.Encoder) { money(e, o.Discount) })
	e.Field("totalAmount", func(e *jx.Encoder) { money(e, o.TotalAmount) })
	e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
	e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(string(o.PaymentMethod)) })
	e.Field("paymentStatus", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
	if o.Coupon != nil {
		e.Field("coupon", func(e *jx.Encoder) {
			e.ObjStart()
			e.Field("code", func(e *jx.Encoder) { e.Str(o.Coupon.Code) })
			e.Field("couponId", func(e *jx.Encoder) { e.Str(o.Coupon.CouponID) })
			e.Field("discountAmount", func(e *jx.Encoder) { money(e, o.Coupon.DiscountAmount) })
			e.Field("type", func(e *jx.Encoder) { e.Str(o.Coupon.Type) })
			e.ObjEnd()
		})
	}
	e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, o.CreatedAt) })
	e.Field("updatedAt", func(e *jx.Encoder) { timestamp(e, o.UpdatedAt) })
	e.ObjEnd()
}

// OrderDeletedPayload identifies a removed order.
type OrderDeletedPayload struct {
	OrderID string
	UserID  string
}

func (p OrderDeletedPayload) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.Field("orderId", func(e *jx.Encoder) { e.Str(p.OrderID) })
	e.Field("userId", func(e *jx.Encoder) { e.Str(p.UserID) })
	e.ObjEnd()
}

// CouponPayload summarizes a coupon.
type CouponPayload struct {
	Coupon *coupon.Coupon
	// Deactivated is set when a delete request only deactivated the coupon.
	Deactivated bool
}

func (p CouponPayload) Encode(e *jx.Encoder) {
	c := p.Coupon
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
	e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
	e.Field("type", func(e *jx.Encoder) { e.Str(string(c.Type)) })
	e.Field("discountType", func(e *jx.Encoder) { e.Str(string(c.DiscountType)) })
	e.Field("discountValue", func(e *jx.Encoder) { money(e, c.DiscountValue) })
	e.Field("active", func(e *jx.Encoder) { e.Bool(c.Active) })
	e.Field("validUntil", func(e *jx.Encoder) { timestamp(e, c.ValidUntil) })
	if p.Deactivated {
		e.Field("deactivated", func(e *jx.Encoder) { e.Bool(true) })
	}
	e.ObjEnd()
}

// AssignmentPayload tells a user about a coupon granted to them.
type AssignmentPayload struct {
	Coupon  *coupon.Coupon
	Message string
}

func (p AssignmentPayload) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.Field("coupon", func(e *jx.Encoder) { CouponPayload{Coupon: p.Coupon}.Encode(e) })
	e.Field("message", func(e *jx.Encoder) { e.Str(p.Message) })
	e.ObjEnd()
}
