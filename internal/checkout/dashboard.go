package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/paging"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// DashboardQuery selects a page of the order dashboard.
type DashboardQuery struct {
	Page   int
	Limit  int
	Status string
	SortBy string
	// Order is "asc" or "desc"; anything else sorts descending.
	Order string
}

// DashboardStats summarizes every order matching the dashboard filter.
type DashboardStats struct {
	TotalRevenue     decimal.Decimal
	TotalOrders      int
	PendingOrders    int
	ProcessingOrders int
	ShippedOrders    int
	DeliveredOrders  int
	CancelledOrders  int
}

func newDashboardStats(st *order.Stats) DashboardStats {
	return DashboardStats{
		TotalRevenue:     st.TotalRevenue.Round(2),
		TotalOrders:      st.TotalOrders,
		PendingOrders:    st.ByStatus[order.StatusPending],
		ProcessingOrders: st.ByStatus[order.StatusProcessing],
		ShippedOrders:    st.ByStatus[order.StatusShipped],
		DeliveredOrders:  st.ByStatus[order.StatusDelivered],
		CancelledOrders:  st.ByStatus[order.StatusCancelled],
	}
}

// OrderPage is one page of orders.
type OrderPage struct {
	Orders     []order.Order
	Pagination paging.Info
}

// Dashboard is the role-scoped order listing with statistics.
type Dashboard struct {
	OrderPage
	Stats DashboardStats
}

func sortField(s string) order.SortField {
	switch f := order.SortField(s); f {
	case order.SortTotalAmount, order.SortStatus:
		return f
	default:
		return order.SortCreatedAt
	}
}

// Dashboard lists orders for staff. Admins see every order, owners the
// orders containing at least one of their products.
func (s *Service) Dashboard(ctx context.Context, p auth.Principal, dq DashboardQuery) (*Dashboard, error) {
	pg := paging.New(dq.Page, dq.Limit, defaultPageLimit, maxPageLimit)
	q := order.Query{
		SortBy:    sortField(dq.SortBy),
		Ascending: dq.Order == "asc",
		Offset:    pg.Offset(),
		Limit:     pg.Limit,
	}
	if dq.Status != "" {
		st, err := order.ParseStatus(dq.Status)
		if err != nil {
			return nil, err
		}
		q.Status = st
	}

	repos := s.store.Tx()
	switch p.Role {
	case auth.RoleAdmin:
	case auth.RoleOwner:
		owned, err := repos.Products().IDsByOwner(ctx, p.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "list owned products")
		}
		q.ProductIDs = owned
		q.RestrictProducts = true
	default:
		return nil, auth.ErrForbidden
	}

	orders, total, err := repos.Orders().List(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	stats, err := repos.Orders().Stats(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "order stats")
	}
	return &Dashboard{
		OrderPage: OrderPage{Orders: orders, Pagination: pg.Info(total)},
		Stats:     newDashboardStats(stats),
	}, nil
}

// ListMyOrders returns the caller's own orders, newest first.
func (s *Service) ListMyOrders(ctx context.Context, p auth.Principal, page, limit int) (*OrderPage, error) {
	if p.UserID == "" {
		return nil, auth.ErrUnauthenticated
	}
	pg := paging.New(page, limit, defaultPageLimit, maxPageLimit)
	orders, total, err := s.store.Tx().Orders().List(ctx, order.Query{
		UserID: p.UserID,
		SortBy: order.SortCreatedAt,
		Offset: pg.Offset(),
		Limit:  pg.Limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return &OrderPage{Orders: orders, Pagination: pg.Info(total)}, nil
}
