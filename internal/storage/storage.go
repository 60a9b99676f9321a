// Package storage defines the transactional unit of work shared by the
// postgres, mongo and in-memory backends.
package storage

import (
	"context"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// Tx exposes every repository bound to one unit of work. Writes made through
// a Tx become visible to others only after the enclosing InTx returns nil.
type Tx interface {
	Products() catalog.Repository
	Users() user.Repository
	Orders() order.Repository
	Coupons() coupon.Repository
	Assignments() coupon.AssignmentRepository
	Usages() coupon.UsageRepository
}

// Store is a storage backend.
type Store interface {
	// Tx returns repositories that run each call in its own implicit
	// transaction. Use it for reads and single-statement writes.
	Tx() Tx
	// InTx runs fn in a transaction. The transaction is committed when fn
	// returns nil and rolled back otherwise, and fn's error is returned.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// CouponRepos adapts tx to the repository set of the coupon engine.
func CouponRepos(tx Tx) coupon.Repos {
	return coupon.Repos{
		Coupons:     tx.Coupons(),
		Assignments: tx.Assignments(),
		Usages:      tx.Usages(),
		Orders:      tx.Orders(),
	}
}
