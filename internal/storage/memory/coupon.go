package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

func cloneAssignment(a *coupon.UserCoupon) *coupon.UserCoupon {
	c := *a
	if a.UsedAt != nil {
		t := *a.UsedAt
		c.UsedAt = &t
	}
	return &c
}

type coupons struct{ a access }

func (r coupons) GetByID(_ context.Context, id string) (*coupon.Coupon, error) {
	var out *coupon.Coupon
	err := r.a.with(func(st *state) error {
		c, ok := st.coupons[id]
		if !ok {
			return coupon.ErrNotFound
		}
		out = c.Clone()
		return nil
	})
	return out, err
}

func findCode(st *state, code string) *coupon.Coupon {
	for _, c := range st.coupons {
		if c.Code == code {
			return c
		}
	}
	return nil
}

func (r coupons) GetByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	var out *coupon.Coupon
	err := r.a.with(func(st *state) error {
		c := findCode(st, code)
		if c == nil {
			return coupon.ErrNotFound
		}
		out = c.Clone()
		return nil
	})
	return out, err
}

func (r coupons) Create(_ context.Context, c *coupon.Coupon) error {
	return r.a.with(func(st *state) error {
		if findCode(st, c.Code) != nil {
			return coupon.ErrCodeExists
		}
		st.coupons[c.ID] = c.Clone()
		return nil
	})
}

func (r coupons) Update(_ context.Context, c *coupon.Coupon) error {
	return r.a.with(func(st *state) error {
		if _, ok := st.coupons[c.ID]; !ok {
			return coupon.ErrNotFound
		}
		if other := findCode(st, c.Code); other != nil && other.ID != c.ID {
			return coupon.ErrCodeExists
		}
		st.coupons[c.ID] = c.Clone()
		return nil
	})
}

func (r coupons) Delete(_ context.Context, id string) error {
	return r.a.with(func(st *state) error {
		if _, ok := st.coupons[id]; !ok {
			return coupon.ErrNotFound
		}
		delete(st.coupons, id)
		return nil
	})
}

func (r coupons) List(_ context.Context, q coupon.ListQuery) ([]coupon.Coupon, int, error) {
	var (
		out   []coupon.Coupon
		total int
	)
	err := r.a.with(func(st *state) error {
		var matched []coupon.Coupon
		for _, c := range st.coupons {
			if q.Type != "" && c.Type != q.Type {
				continue
			}
			if q.RedeemableAt != nil && !c.Redeemable(*q.RedeemableAt) {
				continue
			}
			matched = append(matched, *c.Clone())
		}
		slices.SortFunc(matched, func(a, b coupon.Coupon) int {
			if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		total = len(matched)
		out = page(matched, q.Offset, q.Limit)
		return nil
	})
	return out, total, err
}

func (r coupons) IncrementUsage(_ context.Context, id string) error {
	return r.a.with(func(st *state) error {
		c, ok := st.coupons[id]
		if !ok {
			return coupon.ErrNotFound
		}
		if c.Exhausted() {
			return coupon.ErrUsageLimitReached
		}
		c.UsageCount++
		return nil
	})
}

func (r coupons) DecrementUsage(_ context.Context, id string) error {
	return r.a.with(func(st *state) error {
		c, ok := st.coupons[id]
		if !ok {
			return coupon.ErrNotFound
		}
		c.UsageCount = max(c.UsageCount-1, 0)
		return nil
	})
}

type assignments struct{ a access }

func (r assignments) FindUnused(_ context.Context, userID, couponID string) (*coupon.UserCoupon, error) {
	var out *coupon.UserCoupon
	err := r.a.with(func(st *state) error {
		for _, a := range st.assignments {
			if a.UserID == userID && a.CouponID == couponID && !a.Used {
				out = cloneAssignment(a)
				return nil
			}
		}
		return coupon.ErrAssignmentNotFound
	})
	return out, err
}

func (r assignments) FindByOrder(_ context.Context, orderID string) (*coupon.UserCoupon, error) {
	var out *coupon.UserCoupon
	err := r.a.with(func(st *state) error {
		for _, a := range st.assignments {
			if a.OrderID == orderID {
				out = cloneAssignment(a)
				return nil
			}
		}
		return coupon.ErrAssignmentNotFound
	})
	return out, err
}

func (r assignments) list(match func(*coupon.UserCoupon) bool) ([]coupon.UserCoupon, error) {
	var out []coupon.UserCoupon
	err := r.a.with(func(st *state) error {
		for _, a := range st.assignments {
			if match(a) {
				out = append(out, *cloneAssignment(a))
			}
		}
		slices.SortFunc(out, func(a, b coupon.UserCoupon) int {
			if c := b.AssignedAt.Compare(a.AssignedAt); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		return nil
	})
	return out, err
}

func (r assignments) ListByUser(_ context.Context, userID string) ([]coupon.UserCoupon, error) {
	return r.list(func(a *coupon.UserCoupon) bool { return a.UserID == userID })
}

func (r assignments) ListByCoupon(_ context.Context, couponID string) ([]coupon.UserCoupon, error) {
	return r.list(func(a *coupon.UserCoupon) bool { return a.CouponID == couponID })
}

func (r assignments) Create(_ context.Context, uc *coupon.UserCoupon) error {
	return r.a.with(func(st *state) error {
		for _, a := range st.assignments {
			if a.UserID == uc.UserID && a.CouponID == uc.CouponID && !a.Used {
				return coupon.ErrAlreadyAssigned
			}
		}
		st.assignments[uc.ID] = cloneAssignment(uc)
		return nil
	})
}

func (r assignments) Bind(_ context.Context, id, orderID string, usedAt time.Time) error {
	return r.a.with(func(st *state) error {
		a, ok := st.assignments[id]
		if !ok {
			return coupon.ErrAssignmentNotFound
		}
		if a.Used {
			return coupon.ErrAlreadyConsumed
		}
		a.Used = true
		a.UsedAt = &usedAt
		a.OrderID = orderID
		return nil
	})
}

func (r assignments) Release(_ context.Context, id string) error {
	return r.a.with(func(st *state) error {
		a, ok := st.assignments[id]
		if !ok {
			return coupon.ErrAssignmentNotFound
		}
		for _, other := range st.assignments {
			if other.ID != id && other.UserID == a.UserID && other.CouponID == a.CouponID && !other.Used {
				return coupon.ErrAlreadyAssigned
			}
		}
		a.Used = false
		a.UsedAt = nil
		a.OrderID = ""
		return nil
	})
}

func (r assignments) Delete(_ context.Context, id string) error {
	return r.a.with(func(st *state) error {
		delete(st.assignments, id)
		return nil
	})
}

func (r assignments) DeleteByCoupon(_ context.Context, couponID string) error {
	return r.a.with(func(st *state) error {
		for id, a := range st.assignments {
			if a.CouponID == couponID {
				delete(st.assignments, id)
			}
		}
		return nil
	})
}

type usages struct{ a access }

func (r usages) find(match func(*coupon.Usage) bool) (*coupon.Usage, error) {
	var out *coupon.Usage
	err := r.a.with(func(st *state) error {
		for _, u := range st.usages {
			if match(u) {
				v := *u
				out = &v
				return nil
			}
		}
		return coupon.ErrUsageNotFound
	})
	return out, err
}

func (r usages) Find(_ context.Context, userID, couponID string) (*coupon.Usage, error) {
	return r.find(func(u *coupon.Usage) bool { return u.UserID == userID && u.CouponID == couponID })
}

func (r usages) FindByOrder(_ context.Context, orderID string) (*coupon.Usage, error) {
	return r.find(func(u *coupon.Usage) bool { return u.OrderID == orderID })
}

func (r usages) list(match func(*coupon.Usage) bool) ([]coupon.Usage, error) {
	var out []coupon.Usage
	err := r.a.with(func(st *state) error {
		for _, u := range st.usages {
			if match(u) {
				out = append(out, *u)
			}
		}
		slices.SortFunc(out, func(a, b coupon.Usage) int {
			if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		return nil
	})
	return out, err
}

func (r usages) ListByUser(_ context.Context, userID string) ([]coupon.Usage, error) {
	return r.list(func(u *coupon.Usage) bool { return u.UserID == userID })
}

func (r usages) ListByCoupon(_ context.Context, couponID string) ([]coupon.Usage, error) {
	return r.list(func(u *coupon.Usage) bool { return u.CouponID == couponID })
}

func (r usages) Create(_ context.Context, u *coupon.Usage) error {
	return r.a.with(func(st *state) error {
		for _, existing := range st.usages {
			if existing.UserID == u.UserID && existing.CouponID == u.CouponID {
				return coupon.ErrAlreadyReserved
			}
		}
		v := *u
		st.usages[u.ID] = &v
		return nil
	})
}

func (r usages) Bind(_ context.Context, id, orderID string) error {
	return r.a.with(func(st *state) error {
		u, ok := st.usages[id]
		if !ok {
			return coupon.ErrUsageNotFound
		}
		if u.Bound() {
			return coupon.ErrAlreadyConsumed
		}
		u.OrderID = orderID
		return nil
	})
}

func (r usages) Delete(_ context.Context, id string) error {
	return r.a.with(func(st *state) error {
		if _, ok := st.usages[id]; !ok {
			return coupon.ErrUsageNotFound
		}
		delete(st.usages, id)
		return nil
	})
}

func (r usages) DeleteUnboundByCoupon(_ context.Context, couponID string) error {
	return r.a.with(func(st *state) error {
		for id, u := range st.usages {
			if u.CouponID == couponID && !u.Bound() {
				delete(st.usages, id)
			}
		}
		return nil
	})
}
