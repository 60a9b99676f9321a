// Package promo administers coupons and issues them to users.
package promo

import (
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/notify"
	"github.com/xenking/kart-checkout/internal/storage"
)

var (
	// ErrUniversalNotAssignable is returned when assigning a universal coupon
	// to a single user.
	ErrUniversalNotAssignable = errors.New("universal coupons cannot be assigned to users")
	// ErrNotUniversal is returned when claiming a coupon that is not universal.
	ErrNotUniversal = errors.New("only universal coupons can be claimed")
	// ErrInvalidValidation is returned for a validation request without a code
	// or with a negative order amount.
	ErrInvalidValidation = errors.New("valid coupon code and order amount are required")
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 50
)

// Service implements coupon administration and issuance.
type Service struct {
	store  storage.Store
	engine *coupon.Engine
	events notify.Emitter
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source for validity checks and new coupons.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a promo Service.
func NewService(store storage.Store, engine *coupon.Engine, events notify.Emitter, opts ...Option) *Service {
	s := &Service{
		store:  store,
		engine: engine,
		events: events,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}
