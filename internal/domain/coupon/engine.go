package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/kart-checkout/internal/domain/user"
	"github.com/xenking/kart-checkout/internal/ids"
)

// WelcomeWindow is how long after registration a welcome coupon is honored.
const WelcomeWindow = 30 * 24 * time.Hour

// Rejection reasons.
var (
	ErrNotRedeemable      = errors.New("coupon not found or expired")
	ErrBelowMinimum       = errors.New("minimum order value not met")
	ErrNotApplicable      = errors.New("coupon not applicable to cart")
	ErrWelcomeUnavailable = errors.New("welcome coupon not assigned")
	ErrNotFirstOrder      = errors.New("welcome coupon requires first order")
	ErrWelcomeExpired     = errors.New("welcome window elapsed")
	ErrNotAssigned        = errors.New("coupon not assigned")
	ErrLoyaltyUnavailable = errors.New("loyalty coupon not assigned")
	ErrUniversalUsed      = errors.New("universal coupon already used")
	ErrInvalidType        = errors.New("invalid coupon type")
)

var rejectionMessages = map[error]string{
	ErrNotRedeemable:      "Coupon not found or expired",
	ErrNotApplicable:      "Coupon not applicable to products in your cart",
	ErrUsageLimitReached:  "Coupon usage limit reached",
	ErrWelcomeUnavailable: "Welcome coupon not available for your account",
	ErrNotFirstOrder:      "Welcome coupon is only valid for your first order",
	ErrWelcomeExpired:     "Welcome coupon expired (valid for 30 days after registration)",
	ErrNotAssigned:        "This coupon is not available for your account",
	ErrLoyaltyUnavailable: "Loyalty coupon not available for your account",
	ErrUniversalUsed:      "This coupon has already been used or is not available",
	ErrInvalidType:        "Invalid coupon type",
}

// RejectionMessage returns the caller-facing text for a rejection reason.
func RejectionMessage(reason error) string {
	if msg, ok := rejectionMessages[reason]; ok {
		return msg
	}
	return "Invalid coupon code"
}

// Mode distinguishes a side-effect free preview from a checkout commit.
type Mode int

const (
	// Preview validates and prices without writing anything.
	Preview Mode = iota
	// Commit additionally reserves a universal coupon for the caller. It
	// must run inside the checkout transaction.
	Commit
)

// ApplyRequest describes the cart a coupon is applied to.
type ApplyRequest struct {
	Code       string
	User       *user.User
	Subtotal   decimal.Decimal
	ProductIDs []string
	Mode       Mode
}

// Result is the outcome of applying a coupon. A rejected coupon is a valid
// result with Valid=false, not an error.
type Result struct {
	Valid    bool
	Coupon   *Coupon
	Discount decimal.Decimal
	Message  string
	// Reason is the rejection sentinel, nil when Valid.
	Reason error

	// Exactly one of Assignment or Usage is set on a valid result.
	Assignment *UserCoupon
	Usage      *Usage
}

func reject(reason error) *Result {
	return &Result{Reason: reason, Message: RejectionMessage(reason)}
}

// Engine decides whether a code is redeemable and tracks consumption.
type Engine struct {
	now    func() time.Time
	tracer trace.Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock sets the time source used for validity windows and timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithTracerProvider enables tracing of Apply.
func WithTracerProvider(tp trace.TracerProvider) EngineOption {
	return func(e *Engine) { e.tracer = tp.Tracer("kart/coupon") }
}

// NewEngine creates an Engine using the wall clock.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		now:    time.Now,
		tracer: noop.NewTracerProvider().Tracer("kart/coupon"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (m Mode) String() string {
	if m == Commit {
		return "commit"
	}
	return "preview"
}

// Apply runs the shared validation and pricing path. Infrastructure
// failures are returned as errors; business rejections as a Result.
func (e *Engine) Apply(ctx context.Context, r Repos, req ApplyRequest) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "coupon.Apply", trace.WithAttributes(
		attribute.String("coupon.mode", req.Mode.String()),
	))
	defer span.End()

	res, err := e.apply(ctx, r, req)
	switch {
	case err != nil:
		span.RecordError(err)
	case !res.Valid:
		span.SetAttributes(attribute.String("coupon.rejected", res.Reason.Error()))
	}
	return res, err
}

func (e *Engine) apply(ctx context.Context, r Repos, req ApplyRequest) (*Result, error) {
	now := e.now()

	c, err := r.Coupons.GetByCode(ctx, NormalizeCode(req.Code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return reject(ErrNotRedeemable), nil
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if !c.Redeemable(now) {
		return reject(ErrNotRedeemable), nil
	}

	if c.MinimumOrderValue != nil && req.Subtotal.LessThan(*c.MinimumOrderValue) {
		res := reject(ErrBelowMinimum)
		res.Message = fmt.Sprintf("Minimum order value of ₹%s required", c.MinimumOrderValue.String())
		return res, nil
	}

	if !c.AppliesTo(req.ProductIDs) {
		return reject(ErrNotApplicable), nil
	}

	if c.Type == TypeUniversal && c.Exhausted() {
		return reject(ErrUsageLimitReached), nil
	}

	discount := Calculate(c, req.Subtotal)

	res, err := e.checkEligibility(ctx, r, c, req, now)
	if err != nil || !res.Valid {
		return res, err
	}

	res.Coupon = c
	res.Discount = discount
	res.Message = fmt.Sprintf("Coupon applied successfully! You saved ₹%s", discount.StringFixed(2))
	return res, nil
}

func (e *Engine) checkEligibility(ctx context.Context, r Repos, c *Coupon, req ApplyRequest, now time.Time) (*Result, error) {
	switch c.Type {
	case TypeWelcome:
		a, err := findAssignment(ctx, r, req.User.ID, c.ID)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return reject(ErrWelcomeUnavailable), nil
		}
		live, err := r.Orders.CountLive(ctx, req.User.ID)
		if err != nil {
			return nil, errors.Wrap(err, "count orders")
		}
		if live > 0 {
			return reject(ErrNotFirstOrder), nil
		}
		if now.Sub(req.User.CreatedAt) > WelcomeWindow {
			return reject(ErrWelcomeExpired), nil
		}
		return &Result{Valid: true, Assignment: a}, nil

	case TypeUser, TypeLoyalty:
		a, err := findAssignment(ctx, r, req.User.ID, c.ID)
		if err != nil {
			return nil, err
		}
		if a == nil {
			if c.Type == TypeLoyalty {
				return reject(ErrLoyaltyUnavailable), nil
			}
			return reject(ErrNotAssigned), nil
		}
		return &Result{Valid: true, Assignment: a}, nil

	case TypeUniversal:
		u, err := r.Usages.Find(ctx, req.User.ID, c.ID)
		switch {
		case errors.Is(err, ErrUsageNotFound):
			u = nil
		case err != nil:
			return nil, errors.Wrap(err, "lookup coupon usage")
		}
		if u != nil && u.Bound() {
			return reject(ErrUniversalUsed), nil
		}
		if u == nil && req.Mode == Commit {
			if u, err = e.EnsureReservation(ctx, r, req.User.ID, c.ID); err != nil {
				return nil, err
			}
		}
		return &Result{Valid: true, Usage: u}, nil

	default:
		return reject(ErrInvalidType), nil
	}
}

func findAssignment(ctx context.Context, r Repos, userID, couponID string) (*UserCoupon, error) {
	a, err := r.Assignments.FindUnused(ctx, userID, couponID)
	if err != nil {
		if errors.Is(err, ErrAssignmentNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "lookup coupon assignment")
	}
	return a, nil
}

// EnsureReservation returns the user's usage row for a universal coupon,
// creating an unbound one when none exists. Calling it repeatedly yields the
// same row.
func (e *Engine) EnsureReservation(ctx context.Context, r Repos, userID, couponID string) (*Usage, error) {
	u, err := r.Usages.Find(ctx, userID, couponID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrUsageNotFound) {
		return nil, errors.Wrap(err, "lookup coupon usage")
	}

	u = &Usage{
		ID:        ids.New(ids.Usage),
		UserID:    userID,
		CouponID:  couponID,
		CreatedAt: e.now(),
	}
	if err := r.Usages.Create(ctx, u); err != nil {
		if errors.Is(err, ErrAlreadyReserved) {
			return r.Usages.Find(ctx, userID, couponID)
		}
		return nil, errors.Wrap(err, "create coupon reservation")
	}
	return u, nil
}

// Consume binds the reservation carried by a valid Result to orderID. For
// universal coupons it also increments the usage counter under its limit.
func (e *Engine) Consume(ctx context.Context, r Repos, res *Result, orderID string) error {
	switch {
	case res.Usage != nil:
		if err := r.Usages.Bind(ctx, res.Usage.ID, orderID); err != nil {
			return errors.Wrap(err, "bind coupon usage")
		}
		if err := r.Coupons.IncrementUsage(ctx, res.Coupon.ID); err != nil {
			return errors.Wrap(err, "increment coupon usage")
		}
	case res.Assignment != nil:
		if err := r.Assignments.Bind(ctx, res.Assignment.ID, orderID, e.now()); err != nil {
			return errors.Wrap(err, "bind coupon assignment")
		}
	default:
		return ErrUsageNotFound
	}
	return nil
}

// Release reverses Consume for the order: the coupon becomes redeemable again.
// Missing rows are ignored so that releasing twice is harmless. When the user
// was re-assigned the coupon after the order, the bound assignment is dropped
// and the newer unused one stands.
func (e *Engine) Release(ctx context.Context, r Repos, couponType Type, couponID, orderID string) error {
	if couponType == TypeUniversal {
		u, err := r.Usages.FindByOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, ErrUsageNotFound) {
				return nil
			}
			return errors.Wrap(err, "lookup bound usage")
		}
		if err := r.Usages.Delete(ctx, u.ID); err != nil {
			return errors.Wrap(err, "delete bound usage")
		}
		if err := r.Coupons.DecrementUsage(ctx, couponID); err != nil && !errors.Is(err, ErrNotFound) {
			return errors.Wrap(err, "decrement coupon usage")
		}
		return nil
	}

	a, err := r.Assignments.FindByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrAssignmentNotFound) {
			return nil
		}
		return errors.Wrap(err, "lookup bound assignment")
	}
	switch _, err := r.Assignments.FindUnused(ctx, a.UserID, a.CouponID); {
	case err == nil:
		if err := r.Assignments.Delete(ctx, a.ID); err != nil {
			return errors.Wrap(err, "delete bound assignment")
		}
		return nil
	case !errors.Is(err, ErrAssignmentNotFound):
		return errors.Wrap(err, "lookup unused assignment")
	}
	if err := r.Assignments.Release(ctx, a.ID); err != nil {
		return errors.Wrap(err, "release assignment")
	}
	return nil
}

// RejectedError reports a coupon that failed validation during checkout.
type RejectedError struct {
	Reason  error
	Message string
}

func (e *RejectedError) Error() string { return e.Message }

func (e *RejectedError) Unwrap() error { return e.Reason }

// Err converts a rejected Result into a *RejectedError. It returns nil for a
// valid result.
func (r *Result) Err() error {
	if r.Valid {
		return nil
	}
	return &RejectedError{Reason: r.Reason, Message: r.Message}
}
