// Package handler exposes checkout, coupon and catalog operations over a
// JSON HTTP API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-checkout/internal/checkout"
	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/promo"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// Production hides internal error details from responses.
	Production bool
	// ValidateLimit guards coupon validation with a tighter rate limit.
	// Nil leaves the route unlimited.
	ValidateLimit func(http.Handler) http.Handler
}

// Handler serves the HTTP API, delegating business logic to the checkout,
// promo and catalog services.
type Handler struct {
	checkout      *checkout.Service
	promo         *promo.Service
	catalog       *catalog.Service
	auth          *Authenticator
	validateLimit func(http.Handler) http.Handler
	production    bool
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	checkoutSvc *checkout.Service,
	promoSvc *promo.Service,
	catalogSvc *catalog.Service,
	authenticator *Authenticator,
) *Handler {
	limit := cfg.ValidateLimit
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{
		checkout:      checkoutSvc,
		promo:         promoSvc,
		catalog:       catalogSvc,
		auth:          authenticator,
		validateLimit: limit,
		production:    cfg.Production,
	}
}

// Routes registers every API route on r under /api.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)
		r.Get("/coupons/available", h.AvailableCoupons)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Middleware)

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.ListMyOrders)
			r.Get("/orders/dashboard", h.Dashboard)
			r.Get("/orders/{id}", h.GetOrder)
			r.Put("/orders/{id}", h.UpdateOrder)
			r.Delete("/orders/{id}", h.DeleteOrder)

			r.Get("/coupons/user-coupons", h.UserCoupons)
			r.With(h.validateLimit).Post("/coupons/validate", h.ValidateCoupon)
			r.Post("/coupons/claim", h.ClaimCoupon)
			r.Post("/coupons/create", h.CreateCoupon)
			r.Get("/coupons/all", h.ListCoupons)
			r.Post("/coupons/assign", h.AssignCoupon)
			r.Get("/coupons/analytics/{couponId}", h.CouponAnalytics)
			r.Put("/coupons/{id}", h.UpdateCoupon)
			r.Delete("/coupons/{id}", h.DeleteCoupon)

			r.Route("/internal/users/{id}", func(r chi.Router) {
				r.Use(requireAdmin)
				r.Post("/registered", h.UserRegistered)
				r.Post("/loyalty", h.IssueLoyalty)
			})
		})
	})
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}
