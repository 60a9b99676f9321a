package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/promo"
)

type couponRequest struct {
	Code               string           `json:"code"`
	Description        string           `json:"description"`
	Type               string           `json:"type"`
	DiscountType       string           `json:"discountType"`
	DiscountValue      *decimal.Decimal `json:"discountValue"`
	ValidFrom          string           `json:"validFrom"`
	ValidUntil         string           `json:"validUntil"`
	UsageLimit         *int             `json:"usageLimit"`
	MinimumOrderValue  *decimal.Decimal `json:"minimumOrderValue"`
	MaximumDiscount    *decimal.Decimal `json:"maximumDiscount"`
	ApplicableProducts []string         `json:"applicableProducts"`
	IsActive           *bool            `json:"isActive"`
}

func (req couponRequest) input() promo.CouponInput {
	return promo.CouponInput{
		Code:               req.Code,
		Description:        req.Description,
		Type:               req.Type,
		DiscountType:       req.DiscountType,
		DiscountValue:      req.DiscountValue,
		ValidFrom:          req.ValidFrom,
		ValidUntil:         req.ValidUntil,
		UsageLimit:         req.UsageLimit,
		MinimumOrderValue:  req.MinimumOrderValue,
		MaximumDiscount:    req.MaximumDiscount,
		ApplicableProducts: req.ApplicableProducts,
		Active:             req.IsActive,
	}
}

// AvailableCoupons lists active coupons inside their validity window.
func (h *Handler) AvailableCoupons(w http.ResponseWriter, r *http.Request) {
	page, err := h.promo.ListCoupons(r.Context(), principal(r), promo.ListCouponsQuery{
		Page:       queryInt(r, "page"),
		Limit:      queryInt(r, "limit"),
		Type:       r.URL.Query().Get("type"),
		ActiveOnly: true,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", envelope{
		"coupons":    newCouponDTOs(page.Coupons),
		"pagination": page.Pagination,
	})
}

// ListCoupons pages through every coupon for staff.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.promo.ListCoupons(r.Context(), principal(r), promo.ListCouponsQuery{
		Page:       queryInt(r, "page"),
		Limit:      queryInt(r, "limit"),
		Type:       q.Get("type"),
		ActiveOnly: q.Get("isActive") == "true",
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", envelope{
		"coupons":    newCouponDTOs(page.Coupons),
		"pagination": page.Pagination,
	})
}

// UserCoupons lists the coupons the caller can redeem.
func (h *Handler) UserCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.promo.UserCoupons(r.Context(), principal(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", envelope{"coupons": newCouponDTOs(coupons)})
}

type validateRequest struct {
	CouponCode  string          `json:"couponCode"`
	OrderAmount decimal.Decimal `json:"orderAmount"`
}

// ValidateCoupon previews a coupon against the caller's cart. A rejected
// coupon is reported with success=false and status 200.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.promo.ValidateCoupon(r.Context(), principal(r).UserID, req.CouponCode, req.OrderAmount)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	body := envelope{"success": res.Valid, "message": res.Message}
	if res.Valid {
		body["coupon"] = newCouponDTO(res.Coupon)
		body["discountAmount"] = money(res.Discount)
	}
	writeJSON(w, http.StatusOK, body)
}

type claimRequest struct {
	CouponCode string `json:"couponCode"`
}

// ClaimCoupon reserves a universal coupon for the caller.
func (h *Handler) ClaimCoupon(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	usage, err := h.promo.ClaimUniversal(r.Context(), principal(r).UserID, req.CouponCode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Coupon claimed successfully", envelope{"usage": newUsageDTO(usage)})
}

// CreateCoupon adds a coupon.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.promo.CreateCoupon(r.Context(), principal(r), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Coupon created successfully", envelope{"coupon": newCouponDTO(c)})
}

// UpdateCoupon patches a coupon.
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.promo.UpdateCoupon(r.Context(), principal(r), chi.URLParam(r, "id"), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Coupon updated successfully", envelope{"coupon": newCouponDTO(c)})
}

// DeleteCoupon removes a coupon, or deactivates it once redeemed.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	res, err := h.promo.DeleteCoupon(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Deactivated {
		writeSuccess(w, http.StatusOK, "Coupon deactivated (has been used by customers)", nil)
		return
	}
	writeSuccess(w, http.StatusOK, "Coupon deleted successfully", nil)
}

type assignRequest struct {
	UserID     string `json:"userId"`
	CouponID   string `json:"couponId"`
	CouponCode string `json:"couponCode"`
}

// AssignCoupon grants a coupon to a user.
func (h *Handler) AssignCoupon(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	uc, err := h.promo.AssignCoupon(r.Context(), principal(r), promo.AssignRequest{
		UserID:   req.UserID,
		CouponID: req.CouponID,
		Code:     req.CouponCode,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Coupon assigned successfully", envelope{"assignment": newAssignmentDTO(uc)})
}

// CouponAnalytics reports assignment and redemption counts of a coupon.
func (h *Handler) CouponAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.promo.CouponAnalytics(r.Context(), principal(r), chi.URLParam(r, "couponId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", envelope{"analytics": newAnalyticsDTO(a)})
}
