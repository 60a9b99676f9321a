package order

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// PaymentStatus tracks the settlement of an order's payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Order is an immutable checkout record. Only Status, PaymentStatus and
// UpdatedAt change after creation.
type Order struct {
	ID              string
	UserID          string
	Items           []LineItem
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	TotalAmount     decimal.Decimal
	Status          Status
	ShippingAddress user.Address
	PaymentMethod   catalog.PaymentMethod
	PaymentStatus   PaymentStatus
	Coupon          *AppliedCoupon
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LineItem is a snapshotted cart line.
type LineItem struct {
	ProductID   string          `json:"productId"`
	VariantID   string          `json:"variantId"`
	SizeID      string          `json:"sizeId"`
	ProductName string          `json:"productName"`
	SizeLabel   string          `json:"sizeLabel"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// Ref returns the catalog address of the line's size.
func (l LineItem) Ref() catalog.StockRef {
	return catalog.StockRef{ProductID: l.ProductID, VariantID: l.VariantID, SizeID: l.SizeID}
}

// AppliedCoupon summarizes the coupon bound to an order.
type AppliedCoupon struct {
	Code           string          `json:"code"`
	CouponID       string          `json:"couponId"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	Type           string          `json:"type"`
}

// ProductIDs returns the distinct product ids referenced by the order.
func (o *Order) ProductIDs() []string {
	out := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if !slices.Contains(out, it.ProductID) {
			out = append(out, it.ProductID)
		}
	}
	return out
}

// Contains reports whether any line item references one of productIDs.
func (o *Order) Contains(productIDs []string) bool {
	for _, it := range o.Items {
		if slices.Contains(productIDs, it.ProductID) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	if o.Coupon != nil {
		ac := *o.Coupon
		c.Coupon = &ac
	}
	return &c
}

// SortField names the column a dashboard listing is ordered by.
type SortField string

const (
	SortCreatedAt   SortField = "createdAt"
	SortTotalAmount SortField = "totalAmount"
	SortStatus      SortField = "status"
)

// Query selects orders for listings and statistics. Empty fields do not filter.
type Query struct {
	UserID     string
	ProductIDs []string
	// RestrictProducts makes an empty ProductIDs match nothing rather than
	// everything, as for an owner without products.
	RestrictProducts bool
	Status           Status
	SortBy           SortField
	Ascending        bool
	Offset           int
	Limit            int
}

// Stats aggregates orders matching a Query.
type Stats struct {
	TotalRevenue decimal.Decimal
	TotalOrders  int
	ByStatus     map[Status]int
}

// Repository defines order persistence.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, status Status, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, q Query) ([]Order, int, error)
	Stats(ctx context.Context, q Query) (*Stats, error)
	// CountLive counts the user's orders that are not cancelled.
	CountLive(ctx context.Context, userID string) (int, error)
}
