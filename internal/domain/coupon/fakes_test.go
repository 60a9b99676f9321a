package coupon

import (
	"context"
	"time"
)

type fakeStore struct {
	coupons     map[string]*Coupon
	assignments map[string]*UserCoupon
	usages      map[string]*Usage
	liveOrders  map[string]int

	usageCreates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		coupons:     map[string]*Coupon{},
		assignments: map[string]*UserCoupon{},
		usages:      map[string]*Usage{},
		liveOrders:  map[string]int{},
	}
}

func (s *fakeStore) repos() Repos {
	return Repos{
		Coupons:     fakeCoupons{s},
		Assignments: fakeAssignments{s},
		Usages:      fakeUsages{s},
		Orders:      fakeOrders{s},
	}
}

type fakeCoupons struct{ s *fakeStore }

func (f fakeCoupons) GetByID(_ context.Context, id string) (*Coupon, error) {
	c, ok := f.s.coupons[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (f fakeCoupons) GetByCode(_ context.Context, code string) (*Coupon, error) {
	for _, c := range f.s.coupons {
		if c.Code == code {
			return c.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (f fakeCoupons) Create(_ context.Context, c *Coupon) error {
	f.s.coupons[c.ID] = c.Clone()
	return nil
}

func (f fakeCoupons) Update(_ context.Context, c *Coupon) error {
	f.s.coupons[c.ID] = c.Clone()
	return nil
}

func (f fakeCoupons) Delete(_ context.Context, id string) error {
	delete(f.s.coupons, id)
	return nil
}

func (f fakeCoupons) List(context.Context, ListQuery) ([]Coupon, int, error) {
	return nil, 0, nil
}

func (f fakeCoupons) IncrementUsage(_ context.Context, id string) error {
	c, ok := f.s.coupons[id]
	if !ok {
		return ErrNotFound
	}
	if c.Exhausted() {
		return ErrUsageLimitReached
	}
	c.UsageCount++
	return nil
}

func (f fakeCoupons) DecrementUsage(_ context.Context, id string) error {
	c, ok := f.s.coupons[id]
	if !ok {
		return ErrNotFound
	}
	if c.UsageCount > 0 {
		c.UsageCount--
	}
	return nil
}

type fakeAssignments struct{ s *fakeStore }

func (f fakeAssignments) FindUnused(_ context.Context, userID, couponID string) (*UserCoupon, error) {
	for _, a := range f.s.assignments {
		if a.UserID == userID && a.CouponID == couponID && !a.Used {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAssignmentNotFound
}

func (f fakeAssignments) FindByOrder(_ context.Context, orderID string) (*UserCoupon, error) {
	for _, a := range f.s.assignments {
		if a.OrderID == orderID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAssignmentNotFound
}

func (f fakeAssignments) ListByUser(context.Context, string) ([]UserCoupon, error) {
	return nil, nil
}

func (f fakeAssignments) ListByCoupon(context.Context, string) ([]UserCoupon, error) {
	return nil, nil
}

func (f fakeAssignments) Create(_ context.Context, uc *UserCoupon) error {
	cp := *uc
	f.s.assignments[uc.ID] = &cp
	return nil
}

func (f fakeAssignments) Bind(_ context.Context, id, orderID string, usedAt time.Time) error {
	a, ok := f.s.assignments[id]
	if !ok {
		return ErrAssignmentNotFound
	}
	if a.Used {
		return ErrAlreadyConsumed
	}
	a.Used = true
	a.UsedAt = &usedAt
	a.OrderID = orderID
	return nil
}

func (f fakeAssignments) Release(_ context.Context, id string) error {
	a, ok := f.s.assignments[id]
	if !ok {
		return ErrAssignmentNotFound
	}
	a.Used = false
	a.UsedAt = nil
	a.OrderID = ""
	return nil
}

func (f fakeAssignments) Delete(_ context.Context, id string) error {
	delete(f.s.assignments, id)
	return nil
}

func (f fakeAssignments) DeleteByCoupon(context.Context, string) error { return nil }

type fakeUsages struct{ s *fakeStore }

func (f fakeUsages) Find(_ context.Context, userID, couponID string) (*Usage, error) {
	for _, u := range f.s.usages {
		if u.UserID == userID && u.CouponID == couponID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUsageNotFound
}

func (f fakeUsages) FindByOrder(_ context.Context, orderID string) (*Usage, error) {
	for _, u := range f.s.usages {
		if u.OrderID == orderID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUsageNotFound
}

func (f fakeUsages) ListByUser(context.Context, string) ([]Usage, error)   { return nil, nil }
func (f fakeUsages) ListByCoupon(context.Context, string) ([]Usage, error) { return nil, nil }

func (f fakeUsages) Create(_ context.Context, u *Usage) error {
	for _, existing := range f.s.usages {
		if existing.UserID == u.UserID && existing.CouponID == u.CouponID {
			return ErrAlreadyReserved
		}
	}
	cp := *u
	f.s.usages[u.ID] = &cp
	f.s.usageCreates++
	return nil
}

func (f fakeUsages) Bind(_ context.Context, id, orderID string) error {
	u, ok := f.s.usages[id]
	if !ok {
		return ErrUsageNotFound
	}
	if u.Bound() {
		return ErrAlreadyConsumed
	}
	u.OrderID = orderID
	return nil
}

func (f fakeUsages) Delete(_ context.Context, id string) error {
	if _, ok := f.s.usages[id]; !ok {
		return ErrUsageNotFound
	}
	delete(f.s.usages, id)
	return nil
}

func (f fakeUsages) DeleteUnboundByCoupon(context.Context, string) error { return nil }

type fakeOrders struct{ s *fakeStore }

func (f fakeOrders) CountLive(_ context.Context, userID string) (int, error) {
	return f.s.liveOrders[userID], nil
}
