package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// UserRegistered issues the welcome coupon and reserves universal coupons
// for a freshly registered user.
func (h *Handler) UserRegistered(w http.ResponseWriter, r *http.Request) {
	reg, err := h.promo.OnUserRegistered(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	payload := envelope{"universal": newCouponDTOs(reg.Universal)}
	if reg.Welcome != nil {
		payload["welcome"] = newCouponDTO(reg.Welcome)
	}
	writeSuccess(w, http.StatusOK, "Registration coupons issued", payload)
}

// IssueLoyalty grants a loyalty coupon unless the user still holds an
// unused one.
func (h *Handler) IssueLoyalty(w http.ResponseWriter, r *http.Request) {
	c, created, err := h.promo.CreateLoyaltyCoupon(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status, msg := http.StatusOK, "Loyalty coupon already issued"
	if created {
		status, msg = http.StatusCreated, "Loyalty coupon issued"
	}
	writeSuccess(w, status, msg, envelope{"coupon": newCouponDTO(c)})
}
