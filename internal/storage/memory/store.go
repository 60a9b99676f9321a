// Package memory implements storage.Store in process memory. A transaction
// holds the store-wide lock for its whole duration and restores a snapshot
// when it fails, so concurrent checkouts are serialized.
package memory

import (
	"context"
	"sync"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/user"
	"github.com/xenking/kart-checkout/internal/storage"
)

var _ storage.Store = (*Store)(nil)

type state struct {
	products    map[string]*catalog.Product
	users       map[string]*user.User
	orders      map[string]*order.Order
	coupons     map[string]*coupon.Coupon
	assignments map[string]*coupon.UserCoupon
	usages      map[string]*coupon.Usage
}

func newState() *state {
	return &state{
		products:    map[string]*catalog.Product{},
		users:       map[string]*user.User{},
		orders:      map[string]*order.Order{},
		coupons:     map[string]*coupon.Coupon{},
		assignments: map[string]*coupon.UserCoupon{},
		usages:      map[string]*coupon.Usage{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, p := range s.products {
		c.products[id] = p.Clone()
	}
	for id, u := range s.users {
		c.users[id] = u.Clone()
	}
	for id, o := range s.orders {
		c.orders[id] = o.Clone()
	}
	for id, cp := range s.coupons {
		c.coupons[id] = cp.Clone()
	}
	for id, a := range s.assignments {
		c.assignments[id] = cloneAssignment(a)
	}
	for id, u := range s.usages {
		v := *u
		c.usages[id] = &v
	}
	return c
}

// Store is an in-memory storage.Store.
type Store struct {
	mu   sync.Mutex
	data *state
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: newState()}
}

// access runs fn against the store state. Repositories bound to a
// transaction already hold the lock; standalone ones take it per call.
type access struct {
	s  *Store
	st *state
}

func (a access) with(fn func(st *state) error) error {
	if a.st != nil {
		return fn(a.st)
	}
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return fn(a.s.data)
}

type tx struct {
	a access
}

func (t tx) Products() catalog.Repository             { return products{t.a} }
func (t tx) Users() user.Repository                   { return users{t.a} }
func (t tx) Orders() order.Repository                 { return orders{t.a} }
func (t tx) Coupons() coupon.Repository               { return coupons{t.a} }
func (t tx) Assignments() coupon.AssignmentRepository { return assignments{t.a} }
func (t tx) Usages() coupon.UsageRepository           { return usages{t.a} }

// Tx returns repositories that lock the store per call.
func (s *Store) Tx() storage.Tx {
	return tx{a: access{s: s}}
}

// InTx runs fn with exclusive access to the store. Repositories obtained
// from the outer Store must not be used inside fn.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(ctx, tx{a: access{s: s, st: s.data}}); err != nil {
		s.data = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) Ping(context.Context) error  { return nil }
func (s *Store) Close(context.Context) error { return nil }

func page[T any](items []T, offset, limit int) []T {
	offset = max(offset, 0)
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
