package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

type orders struct{ a access }

func (r orders) Create(_ context.Context, o *order.Order) error {
	return r.a.with(func(st *state) error {
		st.orders[o.ID] = o.Clone()
		return nil
	})
}

func (r orders) GetByID(_ context.Context, id string) (*order.Order, error) {
	var out *order.Order
	err := r.a.with(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return order.ErrNotFound
		}
		out = o.Clone()
		return nil
	})
	return out, err
}

func (r orders) UpdateStatus(_ context.Context, id string, status order.Status, updatedAt time.Time) error {
	return r.a.with(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return order.ErrNotFound
		}
		o.Status = status
		o.UpdatedAt = updatedAt
		return nil
	})
}

func (r orders) Delete(_ context.Context, id string) error {
	return r.a.with(func(st *state) error {
		if _, ok := st.orders[id]; !ok {
			return order.ErrNotFound
		}
		delete(st.orders, id)
		return nil
	})
}

func matches(o *order.Order, q order.Query) bool {
	if q.UserID != "" && o.UserID != q.UserID {
		return false
	}
	if (q.RestrictProducts || len(q.ProductIDs) > 0) && !o.Contains(q.ProductIDs) {
		return false
	}
	if q.Status != "" && o.Status != q.Status {
		return false
	}
	return true
}

func compareOrders(by order.SortField) func(a, b order.Order) int {
	return func(a, b order.Order) int {
		var c int
		switch by {
		case order.SortTotalAmount:
			c = a.TotalAmount.Cmp(b.TotalAmount)
		case order.SortStatus:
			c = cmp.Compare(a.Status, b.Status)
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		return c
	}
}

func (r orders) List(_ context.Context, q order.Query) ([]order.Order, int, error) {
	var (
		out   []order.Order
		total int
	)
	err := r.a.with(func(st *state) error {
		var matched []order.Order
		for _, o := range st.orders {
			if matches(o, q) {
				matched = append(matched, *o.Clone())
			}
		}
		slices.SortFunc(matched, compareOrders(q.SortBy))
		if !q.Ascending {
			slices.Reverse(matched)
		}
		total = len(matched)
		out = page(matched, q.Offset, q.Limit)
		return nil
	})
	return out, total, err
}

func (r orders) Stats(_ context.Context, q order.Query) (*order.Stats, error) {
	stats := &order.Stats{TotalRevenue: decimal.Zero, ByStatus: map[order.Status]int{}}
	err := r.a.with(func(st *state) error {
		for _, o := range st.orders {
			if !matches(o, q) {
				continue
			}
			stats.TotalOrders++
			stats.TotalRevenue = stats.TotalRevenue.Add(o.TotalAmount)
			stats.ByStatus[o.Status]++
		}
		return nil
	})
	return stats, err
}

func (r orders) CountLive(_ context.Context, userID string) (int, error) {
	var n int
	err := r.a.with(func(st *state) error {
		for _, o := range st.orders {
			if o.UserID == userID && o.Status.Live() {
				n++
			}
		}
		return nil
	})
	return n, err
}
