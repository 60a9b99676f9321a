// Package checkout orchestrates order placement and the order lifecycle
// across catalog stock, coupons, users and orders in one storage
// transaction per operation.
package checkout

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/notify"
	"github.com/xenking/kart-checkout/internal/storage"
)

// Invalidator drops cached catalog reads for products whose stock changed.
type Invalidator interface {
	Invalidate(productIDs ...string)
}

// Service implements order checkout and lifecycle operations.
type Service struct {
	store  storage.Store
	engine *coupon.Engine
	cache  Invalidator
	events notify.Emitter
	now    func() time.Time
	tracer trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source for order timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTracerProvider enables tracing of order operations.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("kart/checkout") }
}

// NewService creates a checkout Service.
func NewService(
	store storage.Store,
	engine *coupon.Engine,
	cache Invalidator,
	events notify.Emitter,
	opts ...Option,
) *Service {
	s := &Service{
		store:  store,
		engine: engine,
		cache:  cache,
		events: events,
		now:    time.Now,
		tracer: noop.NewTracerProvider().Tracer("kart/checkout"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}
