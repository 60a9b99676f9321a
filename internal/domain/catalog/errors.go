package catalog

import "fmt"

// InsufficientStockError reports a cart line whose size cannot cover the
// requested quantity.
type InsufficientStockError struct {
	ProductName string
	SizeLabel   string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for %s (%s). Available: %d, Requested: %d",
		e.ProductName, e.SizeLabel, e.Available, e.Requested)
}

// VariantNotFoundError reports a cart line pointing at a missing variant.
type VariantNotFoundError struct {
	ProductName string
	VariantID   string
}

func (e *VariantNotFoundError) Error() string {
	return fmt.Sprintf("Variant not found for product %s", e.ProductName)
}

// SizeNotFoundError reports a cart line pointing at a missing size.
type SizeNotFoundError struct {
	ProductName string
	SizeID      string
}

func (e *SizeNotFoundError) Error() string {
	return fmt.Sprintf("Size not found for product %s", e.ProductName)
}
