package coupon

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type selects the eligibility rule a coupon is gated by.
type Type string

const (
	// TypeWelcome is issued once per user and valid only for their first
	// order within 30 days of registration.
	TypeWelcome Type = "welcome"
	// TypeUser is assigned to individual users.
	TypeUser Type = "user"
	// TypeUniversal is shared by every user up to an optional usage limit.
	TypeUniversal Type = "universal"
	// TypeLoyalty rewards individual users.
	TypeLoyalty Type = "loyalty"
)

// Valid reports whether t is a known coupon type.
func (t Type) Valid() bool {
	switch t {
	case TypeWelcome, TypeUser, TypeUniversal, TypeLoyalty:
		return true
	default:
		return false
	}
}

// Assigned reports whether the type is redeemed through per-user
// assignments rather than shared reservations.
func (t Type) Assigned() bool { return t != TypeUniversal }

// DiscountType enumerates the supported discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the subtotal, optionally capped.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount, never more than the subtotal.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrNotFound is returned when no coupon matches an id or code.
	ErrNotFound = errors.New("coupon not found")
	// ErrCodeExists is returned when creating or renaming a coupon onto a
	// code that is already taken.
	ErrCodeExists = errors.New("coupon code already exists")
	// ErrUsageLimitReached is returned by a conditional usage increment when
	// the coupon has no uses left.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrAssignmentNotFound is returned when a user has no matching assignment.
	ErrAssignmentNotFound = errors.New("coupon assignment not found")
	// ErrAlreadyAssigned is returned when a user already holds an unused
	// assignment of the same coupon.
	ErrAlreadyAssigned = errors.New("coupon already assigned to user")
	// ErrUsageNotFound is returned when a user has no usage row for a coupon.
	ErrUsageNotFound = errors.New("coupon usage not found")
	// ErrAlreadyReserved is returned when a user already has a usage row for
	// a universal coupon.
	ErrAlreadyReserved = errors.New("coupon already reserved")
	// ErrAlreadyConsumed is returned by a conditional bind when the
	// reservation was consumed by another order first.
	ErrAlreadyConsumed = errors.New("coupon reservation already consumed")
)

// Coupon is the shared base record of every coupon type.
type Coupon struct {
	ID                 string
	Code               string
	Description        string
	Type               Type
	DiscountType       DiscountType
	DiscountValue      decimal.Decimal
	ValidFrom          time.Time
	ValidUntil         time.Time
	Active             bool
	UsageLimit         *int
	UsageCount         int
	MinimumOrderValue  *decimal.Decimal
	MaximumDiscount    *decimal.Decimal
	ApplicableProducts []string
	CreatedBy          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NormalizeCode canonicalizes a user-supplied coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// InWindow reports whether now falls inside the validity window.
func (c *Coupon) InWindow(now time.Time) bool {
	return !now.Before(c.ValidFrom) && !now.After(c.ValidUntil)
}

// Redeemable reports whether the coupon is active and in its window.
func (c *Coupon) Redeemable(now time.Time) bool {
	return c.Active && c.InWindow(now)
}

// Exhausted reports whether a usage limit is set and reached.
func (c *Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit
}

// AppliesTo reports whether the coupon covers at least one of productIDs.
// An empty applicable list covers everything.
func (c *Coupon) AppliesTo(productIDs []string) bool {
	if len(c.ApplicableProducts) == 0 {
		return true
	}
	for _, id := range c.ApplicableProducts {
		if slices.Contains(productIDs, id) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the coupon.
func (c *Coupon) Clone() *Coupon {
	cp := *c
	cp.ApplicableProducts = slices.Clone(c.ApplicableProducts)
	if c.UsageLimit != nil {
		v := *c.UsageLimit
		cp.UsageLimit = &v
	}
	if c.MinimumOrderValue != nil {
		v := *c.MinimumOrderValue
		cp.MinimumOrderValue = &v
	}
	if c.MaximumDiscount != nil {
		v := *c.MaximumDiscount
		cp.MaximumDiscount = &v
	}
	return &cp
}

// UserCoupon assigns a non-universal coupon to a user. OrderID is empty
// until the assignment is consumed.
type UserCoupon struct {
	ID         string
	UserID     string
	CouponID   string
	Used       bool
	UsedAt     *time.Time
	OrderID    string
	AssignedAt time.Time
}

// Usage records a user's reservation of a universal coupon. OrderID is
// empty while reserved and set once consumed.
type Usage struct {
	ID        string
	UserID    string
	CouponID  string
	OrderID   string
	CreatedAt time.Time
}

// Bound reports whether the usage has been consumed by an order.
func (u *Usage) Bound() bool { return u.OrderID != "" }

// ListQuery pages through coupons.
type ListQuery struct {
	// RedeemableAt limits results to active coupons inside their window.
	RedeemableAt *time.Time
	Type         Type
	Offset       int
	Limit        int
}

// Repository persists coupons. When obtained from a transaction, reads by
// id or code lock the row until commit.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Coupon, error)
	GetByCode(ctx context.Context, code string) (*Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, q ListQuery) ([]Coupon, int, error)
	// IncrementUsage bumps UsageCount unless the limit is reached, in which
	// case it returns ErrUsageLimitReached.
	IncrementUsage(ctx context.Context, id string) error
	// DecrementUsage lowers UsageCount, never below zero.
	DecrementUsage(ctx context.Context, id string) error
}

// AssignmentRepository persists UserCoupon rows.
type AssignmentRepository interface {
	// FindUnused returns the user's unused assignment of a coupon.
	FindUnused(ctx context.Context, userID, couponID string) (*UserCoupon, error)
	FindByOrder(ctx context.Context, orderID string) (*UserCoupon, error)
	ListByUser(ctx context.Context, userID string) ([]UserCoupon, error)
	ListByCoupon(ctx context.Context, couponID string) ([]UserCoupon, error)
	Create(ctx context.Context, uc *UserCoupon) error
	// Bind marks an unused assignment consumed by orderID. It returns
	// ErrAlreadyConsumed if the row was used meanwhile and
	// ErrAssignmentNotFound if it does not exist.
	Bind(ctx context.Context, id, orderID string, usedAt time.Time) error
	// Release returns a consumed assignment to the unused state. It returns
	// ErrAlreadyAssigned if the user holds another unused assignment of
	// the same coupon.
	Release(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	DeleteByCoupon(ctx context.Context, couponID string) error
}

// UsageRepository persists universal coupon reservations.
type UsageRepository interface {
	Find(ctx context.Context, userID, couponID string) (*Usage, error)
	FindByOrder(ctx context.Context, orderID string) (*Usage, error)
	ListByUser(ctx context.Context, userID string) ([]Usage, error)
	ListByCoupon(ctx context.Context, couponID string) ([]Usage, error)
	Create(ctx context.Context, u *Usage) error
	// Bind attaches an unbound reservation to orderID. It returns
	// ErrAlreadyConsumed if the row was bound meanwhile and
	// ErrUsageNotFound if it does not exist.
	Bind(ctx context.Context, id, orderID string) error
	Delete(ctx context.Context, id string) error
	DeleteUnboundByCoupon(ctx context.Context, couponID string) error
}

// OrderCounter counts a user's live orders for the first-order rule.
type OrderCounter interface {
	CountLive(ctx context.Context, userID string) (int, error)
}

// Repos bundles the stores the engine reads and writes. Pass the
// transaction-scoped repositories when applying inside checkout.
type Repos struct {
	Coupons     Repository
	Assignments AssignmentRepository
	Usages      UsageRepository
	Orders      OrderCounter
}
