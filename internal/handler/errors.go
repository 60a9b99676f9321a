package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/checkout"
	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/user"
	"github.com/xenking/kart-checkout/internal/ids"
	"github.com/xenking/kart-checkout/internal/promo"
)

const codeInternal = "INTERNAL_ERROR"

// apiError is the HTTP rendition of a domain error.
type apiError struct {
	Status  int
	Code    string
	Message string
	Extra   envelope
}

type sentinel struct {
	err error
	apiError
}

// sentinels maps domain sentinel errors, checked in order with errors.Is.
var sentinels = []sentinel{
	{errInvalidBody, apiError{Status: http.StatusBadRequest, Code: "INVALID_REQUEST", Message: "Invalid request body"}},
	{auth.ErrUnauthenticated, apiError{Status: http.StatusUnauthorized, Code: "NO_AUTH_HEADER", Message: "Authentication required"}},
	{auth.ErrForbidden, apiError{Status: http.StatusForbidden, Code: "INSUFFICIENT_PERMISSIONS", Message: "Insufficient permissions"}},
	{ids.ErrInvalid, apiError{Status: http.StatusBadRequest, Code: "INVALID_ID", Message: "Invalid ID"}},

	{order.ErrNotFound, apiError{Status: http.StatusNotFound, Code: "ORDER_NOT_FOUND", Message: "Order not found"}},
	{order.ErrUnauthorizedUpdate, apiError{Status: http.StatusForbidden, Code: "UNAUTHORIZED_UPDATE", Message: "You are not authorized to update this order"}},
	{order.ErrInvalidStatus, apiError{Status: http.StatusBadRequest, Code: "INVALID_STATUS", Message: "Valid status is required"}},
	{order.ErrInvalidStatusFlow, apiError{Status: http.StatusBadRequest, Code: "INVALID_STATUS_FLOW", Message: "Cannot downgrade order status"}},
	{order.ErrMissingShippingAddress, apiError{Status: http.StatusBadRequest, Code: "MISSING_SHIPPING_ADDRESS", Message: "Shipping address is required"}},
	{order.ErrMissingPaymentMethod, apiError{Status: http.StatusBadRequest, Code: "MISSING_PAYMENT_METHOD", Message: "Payment method is required"}},
	{order.ErrInvalidPaymentMethod, apiError{Status: http.StatusBadRequest, Code: "INVALID_PAYMENT_METHOD", Message: "Invalid payment method"}},
	{order.ErrEmailNotVerified, apiError{Status: http.StatusForbidden, Code: "EMAIL_NOT_VERIFIED", Message: "Please verify your email before placing an order"}},
	{order.ErrEmptyCart, apiError{Status: http.StatusBadRequest, Code: "EMPTY_CART", Message: "Cart is empty"}},
	{order.ErrInvalidCartProducts, apiError{Status: http.StatusBadRequest, Code: "INVALID_CART_PRODUCTS", Message: "No valid products found in cart"}},

	{user.ErrNotFound, apiError{Status: http.StatusNotFound, Code: "USER_NOT_FOUND", Message: "User not found"}},
	{catalog.ErrNotFound, apiError{Status: http.StatusNotFound, Code: "PRODUCT_NOT_FOUND", Message: "Product not found"}},

	{promo.ErrInvalidValidation, apiError{Status: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "Valid coupon code and order amount are required"}},
	{promo.ErrUniversalNotAssignable, apiError{Status: http.StatusBadRequest, Code: "INVALID_COUPON_TYPE", Message: "Universal coupons cannot be assigned to specific users"}},
	{promo.ErrNotUniversal, apiError{Status: http.StatusBadRequest, Code: "INVALID_COUPON_TYPE", Message: "Only universal coupons can be claimed"}},
	{coupon.ErrNotFound, apiError{Status: http.StatusNotFound, Code: "COUPON_NOT_FOUND", Message: "Coupon not found"}},
	{coupon.ErrCodeExists, apiError{Status: http.StatusConflict, Code: "COUPON_EXISTS", Message: "Coupon code already exists"}},
	{coupon.ErrAlreadyAssigned, apiError{Status: http.StatusConflict, Code: "COUPON_ALREADY_ASSIGNED", Message: "Coupon already assigned to this user"}},
	{coupon.ErrNotRedeemable, apiError{Status: http.StatusBadRequest, Code: "INVALID_COUPON", Message: coupon.RejectionMessage(coupon.ErrNotRedeemable)}},
	{coupon.ErrUsageLimitReached, apiError{Status: http.StatusBadRequest, Code: "INVALID_COUPON", Message: coupon.RejectionMessage(coupon.ErrUsageLimitReached)}},
	{coupon.ErrUniversalUsed, apiError{Status: http.StatusBadRequest, Code: "INVALID_COUPON", Message: coupon.RejectionMessage(coupon.ErrUniversalUsed)}},
}

// classify maps err to its HTTP rendition. Unknown errors are internal.
func classify(err error) (apiError, bool) {
	var (
		authErr     *AuthError
		rejected    *coupon.RejectedError
		couponErr   *checkout.CouponFailedError
		invalidDef  *coupon.InvalidDefinitionError
		notAllowed  *order.PaymentMethodNotAllowedError
		stockErr    *catalog.InsufficientStockError
		variantErr  *catalog.VariantNotFoundError
		sizeErr     *catalog.SizeNotFoundError
		productErr  *order.ProductNotFoundError
		quantityErr *order.InvalidQuantityError
	)
	switch {
	case errors.As(err, &authErr):
		return apiError{Status: authErr.Status, Code: authErr.Code, Message: authErr.Message}, true
	case errors.As(err, &rejected):
		return apiError{Status: http.StatusBadRequest, Code: "INVALID_COUPON", Message: rejected.Message}, true
	case errors.As(err, &couponErr):
		return apiError{Status: http.StatusBadRequest, Code: "COUPON_ERROR", Message: "Failed to apply coupon"}, true
	case errors.As(err, &invalidDef):
		return apiError{Status: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: invalidDef.Reason}, true
	case errors.As(err, &notAllowed):
		return apiError{
			Status:  http.StatusBadRequest,
			Code:    "PAYMENT_METHOD_NOT_ALLOWED",
			Message: notAllowed.Error(),
			Extra: envelope{
				"products":                notAllowed.Products,
				"availablePaymentMethods": notAllowed.Available,
			},
		}, true
	case errors.As(err, &stockErr):
		return apiError{Status: http.StatusConflict, Code: "INSUFFICIENT_STOCK", Message: stockErr.Error()}, true
	case errors.As(err, &variantErr):
		return apiError{Status: http.StatusBadRequest, Code: "VARIANT_NOT_FOUND", Message: variantErr.Error()}, true
	case errors.As(err, &sizeErr):
		return apiError{Status: http.StatusBadRequest, Code: "SIZE_NOT_FOUND", Message: sizeErr.Error()}, true
	case errors.As(err, &productErr):
		return apiError{Status: http.StatusBadRequest, Code: "PRODUCT_NOT_FOUND", Message: "Product " + productErr.ProductID + " not found"}, true
	case errors.As(err, &quantityErr):
		return apiError{Status: http.StatusBadRequest, Code: "INVALID_QUANTITY", Message: "Quantity must be at least 1"}, true
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.apiError, true
		}
	}
	return apiError{Status: http.StatusInternalServerError, Code: codeInternal, Message: "Internal server error"}, false
}

// fail writes err as an error envelope. Internal failures are logged and
// only carry details outside production.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	e, known := classify(err)
	if !known {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		if !h.production {
			e.Extra = envelope{"error": err.Error()}
		}
	}
	var couponErr *checkout.CouponFailedError
	if errors.As(err, &couponErr) && !h.production {
		e.Message = couponErr.Err.Error()
	}
	writeError(w, e.Status, e.Code, e.Message, e.Extra)
}
