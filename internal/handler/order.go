package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-checkout/internal/checkout"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

type createOrderRequest struct {
	ShippingAddress user.Address `json:"shippingAddress"`
	PaymentMethod   string       `json:"paymentMethod"`
	// Quantities overrides cart quantities by cart line id.
	Quantities map[string]int `json:"quantities"`
	CouponCode string         `json:"couponCode"`
}

// CreateOrder places an order from the caller's cart.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.checkout.CreateOrder(r.Context(), checkout.CreateOrderRequest{
		UserID:          principal(r).UserID,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   catalog.PaymentMethod(req.PaymentMethod),
		Quantities:      req.Quantities,
		CouponCode:      req.CouponCode,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	payload := envelope{
		"order":           newOrderDTO(result.Order),
		"discountApplied": result.DiscountApplied,
	}
	if result.DiscountApplied && result.Savings.IsPositive() {
		payload["savings"] = money(result.Savings)
	}
	writeSuccess(w, http.StatusCreated, "Order created successfully", payload)
}

// ListMyOrders pages through the caller's own orders.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	page, err := h.checkout.ListMyOrders(r.Context(), principal(r), queryInt(r, "page"), queryInt(r, "limit"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", envelope{
		"orders":     newOrderDTOs(page.Orders),
		"pagination": page.Pagination,
	})
}

// Dashboard lists orders with statistics for owners and admins.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := principal(r)
	d, err := h.checkout.Dashboard(r.Context(), p, checkout.DashboardQuery{
		Page:   queryInt(r, "page"),
		Limit:  queryInt(r, "limit"),
		Status: q.Get("status"),
		SortBy: q.Get("sortBy"),
		Order:  q.Get("order"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", envelope{
		"orders":     newOrderDTOs(d.Orders),
		"pagination": d.Pagination,
		"statistics": newStatisticsDTO(d.Stats),
		"role":       p.Role,
	})
}

// GetOrder returns a single order visible to the caller.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.checkout.GetOrder(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", envelope{"order": newOrderDTO(o)})
}

type updateOrderRequest struct {
	Status string `json:"status"`
}

// UpdateOrder moves an order along its status lifecycle.
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req updateOrderRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.checkout.UpdateOrder(r.Context(), principal(r), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Order status updated successfully", envelope{"order": newOrderDTO(o)})
}

// DeleteOrder cancels an order, restoring stock and coupon state.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.DeleteOrder(r.Context(), principal(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Order cancelled and stock restored successfully", nil)
}
