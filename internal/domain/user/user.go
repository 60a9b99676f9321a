package user

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

// ErrNotFound is returned when a requested user does not exist.
var ErrNotFound = errors.New("user not found")

// AccountStatus tracks whether a user may act at all.
type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusSuspended AccountStatus = "suspended"
	StatusDeleted   AccountStatus = "deleted"
)

// User is a customer, seller (owner) or administrator together with the cart
// fields checkout consumes.
type User struct {
	ID            string
	Username      string
	Email         string
	Role          auth.Role
	EmailVerified bool
	Status        AccountStatus
	CreatedAt     time.Time
	Cart          []CartLine
	OrderIDs      []string
}

// CartLine is an ephemeral cart entry with a price snapshot taken when the
// item was added.
type CartLine struct {
	ID        string
	ProductID string
	VariantID string
	SizeID    string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Address is a shipping address snapshot.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
}

// Complete reports whether every address field is filled in.
func (a Address) Complete() bool {
	for _, f := range []string{a.Street, a.City, a.State, a.PostalCode} {
		if strings.TrimSpace(f) == "" {
			return false
		}
	}
	return true
}

// CartProductIDs returns the distinct product ids in the cart, in cart order.
func (u *User) CartProductIDs() []string {
	out := make([]string, 0, len(u.Cart))
	for _, l := range u.Cart {
		if !slices.Contains(out, l.ProductID) {
			out = append(out, l.ProductID)
		}
	}
	return out
}

// AddOrder appends an order id to the user's history.
func (u *User) AddOrder(orderID string) {
	u.OrderIDs = append(u.OrderIDs, orderID)
}

// RemoveOrder drops an order id from the user's history.
func (u *User) RemoveOrder(orderID string) {
	u.OrderIDs = slices.DeleteFunc(u.OrderIDs, func(id string) bool { return id == orderID })
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	c := *u
	c.Cart = slices.Clone(u.Cart)
	c.OrderIDs = slices.Clone(u.OrderIDs)
	return &c
}

// Repository defines user persistence used by checkout.
type Repository interface {
	// GetByID loads a user. Inside a transaction the row is locked for update.
	GetByID(ctx context.Context, id string) (*User, error)
	// Save persists cart and order history changes.
	Save(ctx context.Context, u *User) error
	Create(ctx context.Context, u *User) error
}
