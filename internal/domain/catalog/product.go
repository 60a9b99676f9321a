package catalog

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// ErrStockConflict is returned by a conditional stock debit when the size no
// longer holds enough units.
var ErrStockConflict = errors.New("stock changed concurrently")

// PaymentMethod is a payment label accepted at checkout.
type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "cod"
	PaymentCard   PaymentMethod = "card"
	PaymentUPI    PaymentMethod = "upi"
	PaymentWallet PaymentMethod = "wallet"
)

// AllPaymentMethods is the default allow-list of a product.
var AllPaymentMethods = []PaymentMethod{PaymentCOD, PaymentCard, PaymentUPI, PaymentWallet}

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	return slices.Contains(AllPaymentMethods, m)
}

// Product is a catalog item owned by a seller. Inventory lives in the sizes
// of its variants.
type Product struct {
	ID                    string
	Name                  string
	Category              string
	OwnerID               string
	Variants              []Variant
	AllowedPaymentMethods []PaymentMethod
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Variant is a color-level grouping of sizes.
type Variant struct {
	ID     string
	Color  string
	Sizes  []Size
	Images []string
}

// Size is the stock-keeping unit: stock never goes negative.
type Size struct {
	ID            string
	Label         string
	Stock         int
	Price         decimal.Decimal
	OriginalPrice decimal.Decimal
}

// PaymentMethods returns the product allow-list, defaulting to every method.
func (p *Product) PaymentMethods() []PaymentMethod {
	if len(p.AllowedPaymentMethods) == 0 {
		return AllPaymentMethods
	}
	return p.AllowedPaymentMethods
}

// Accepts reports whether the product can be paid for with m.
func (p *Product) Accepts(m PaymentMethod) bool {
	return slices.Contains(p.PaymentMethods(), m)
}

// Variant returns the variant with the given id, or nil.
func (p *Product) Variant(id string) *Variant {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i]
		}
	}
	return nil
}

// Size returns the size with the given id, or nil.
func (v *Variant) Size(id string) *Size {
	for i := range v.Sizes {
		if v.Sizes[i].ID == id {
			return &v.Sizes[i]
		}
	}
	return nil
}

// CommonPaymentMethods returns the payment methods accepted by every product,
// in canonical order.
func CommonPaymentMethods(products []Product) []PaymentMethod {
	common := make([]PaymentMethod, 0, len(AllPaymentMethods))
	for _, m := range AllPaymentMethods {
		ok := true
		for i := range products {
			if !products[i].Accepts(m) {
				ok = false
				break
			}
		}
		if ok {
			common = append(common, m)
		}
	}
	return common
}

// StockRef addresses a single size inside the catalog.
type StockRef struct {
	ProductID string
	VariantID string
	SizeID    string
}

// Filter narrows a product listing.
type Filter struct {
	Category string
	OwnerID  string
	Search   string
	Offset   int
	Limit    int
}

// Repository defines catalog persistence. Implementations participate in the
// surrounding storage transaction when obtained from one.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	List(ctx context.Context, f Filter) ([]Product, int, error)
	IDsByOwner(ctx context.Context, ownerID string) ([]string, error)
	Save(ctx context.Context, p *Product) error

	// DebitStock decrements a size's stock by qty only if at least qty units
	// remain; otherwise it returns ErrStockConflict and changes nothing.
	DebitStock(ctx context.Context, ref StockRef, qty int) error
	// CreditStock increments a size's stock. It reports false when the
	// product, variant or size no longer exists.
	CreditStock(ctx context.Context, ref StockRef, qty int) (bool, error)
	// SetStock restores a size to an exact stock value.
	SetStock(ctx context.Context, ref StockRef, stock int) error
}

// Clone returns a deep copy of the product.
func (p *Product) Clone() *Product {
	c := *p
	c.AllowedPaymentMethods = slices.Clone(p.AllowedPaymentMethods)
	c.Variants = make([]Variant, len(p.Variants))
	for i, v := range p.Variants {
		v.Sizes = slices.Clone(v.Sizes)
		v.Images = slices.Clone(v.Images)
		c.Variants[i] = v
	}
	return &c
}
