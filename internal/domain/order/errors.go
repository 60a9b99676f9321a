package order

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

var (
	ErrMissingShippingAddress = errors.New("complete shipping address is required")
	ErrMissingPaymentMethod   = errors.New("payment method is required")
	ErrInvalidPaymentMethod   = errors.New("invalid payment method")
	ErrEmailNotVerified       = errors.New("please verify your email before placing an order")
	ErrEmptyCart              = errors.New("cart is empty")
	ErrInvalidCartProducts    = errors.New("some products in your cart are no longer available")
	// ErrUnauthorizedUpdate is returned when the caller neither administers
	// the store nor owns a product in the order.
	ErrUnauthorizedUpdate = errors.New("you are not authorized to update this order")
	// ErrReservationMissing signals a coupon reservation that vanished
	// between validation and consumption. It is an invariant violation.
	ErrReservationMissing = errors.New("coupon reservation record not found")
)

// PaymentMethodNotAllowedError lists the products that reject a payment
// method and the methods every product in the cart accepts.
type PaymentMethodNotAllowedError struct {
	Method    catalog.PaymentMethod
	Products  []string
	Available []catalog.PaymentMethod
}

func (e *PaymentMethodNotAllowedError) Error() string {
	return fmt.Sprintf("Payment method '%s' is not available for: %s", e.Method, strings.Join(e.Products, ", "))
}

// InvalidQuantityError reports a non-positive effective quantity.
type InvalidQuantityError struct {
	ProductName string
	Quantity    int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("Invalid quantity %d for %s", e.Quantity, e.ProductName)
}

// ProductNotFoundError reports a cart line whose product disappeared while
// the order was being assembled.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}
