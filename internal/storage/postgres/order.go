package postgres

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

const (
	orderColumns = `id, user_id, items, subtotal, discount, total_amount, status, shipping_address,
		payment_method, payment_status, coupon, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (id, user_id, items, product_ids, subtotal, discount, total_amount, status,
		shipping_address, payment_method, payment_status, coupon, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

	countLiveOrdersSQL = `SELECT count(*) FROM orders WHERE user_id = $1 AND status <> 'cancelled'`
)

var sortColumns = map[order.SortField]string{
	order.SortCreatedAt:   "created_at",
	order.SortTotalAmount: "total_amount",
	order.SortStatus:      "status",
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Line
// items, the shipping address and the coupon summary are stored as JSONB.
type OrderRepository struct {
	c conn
}

// Create persists a new order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := r.c.q.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, o.Items, o.ProductIDs(), o.Subtotal, o.Discount, o.TotalAmount, string(o.Status),
		o.ShippingAddress, string(o.PaymentMethod), string(o.PaymentStatus), o.Coupon, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

// GetByID returns an order. Inside a transaction the row is locked.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.c.q.Query(ctx, getOrderSQL+r.c.lock(), id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                       order.Order
		status, method, payment string
		subtotal, disc, total   decimal.Decimal
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Items, &subtotal, &disc, &total, &status, &o.ShippingAddress,
		&method, &payment, &o.Coupon, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Subtotal, o.Discount, o.TotalAmount = subtotal, disc, total
	o.Status = order.Status(status)
	o.PaymentMethod = catalog.PaymentMethod(method)
	o.PaymentStatus = order.PaymentStatus(payment)
	return o, err
}

// UpdateStatus sets the order status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status order.Status, updatedAt time.Time) error {
	tag, err := r.c.q.Exec(ctx, updateOrderStatusSQL, id, string(status), updatedAt)
	if err != nil {
		return errors.Wrapf(err, "update order %q", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// Delete removes an order.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.c.q.Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete order %q", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// where renders the filter of q and its arguments.
func where(q order.Query) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if q.UserID != "" {
		conds = append(conds, "user_id = "+arg(q.UserID))
	}
	if q.RestrictProducts || len(q.ProductIDs) > 0 {
		ids := q.ProductIDs
		if ids == nil {
			ids = []string{}
		}
		conds = append(conds, "product_ids && "+arg(ids))
	}
	if q.Status != "" {
		conds = append(conds, "status = "+arg(string(q.Status)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of matching orders and the total match count.
func (r *OrderRepository) List(ctx context.Context, q order.Query) ([]order.Order, int, error) {
	filter, args := where(q)

	var total int
	if err := r.c.q.QueryRow(ctx, `SELECT count(*) FROM orders`+filter, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count orders")
	}

	col, ok := sortColumns[q.SortBy]
	if !ok {
		col = sortColumns[order.SortCreatedAt]
	}
	dir := " DESC"
	if q.Ascending {
		dir = " ASC"
	}
	query := `SELECT ` + orderColumns + ` FROM orders` + filter + ` ORDER BY ` + col + dir + `, id` + dir
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := r.c.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, errors.Wrap(err, "scan orders")
	}
	return orders, total, nil
}

// Stats aggregates revenue and per-status counts over matching orders.
func (r *OrderRepository) Stats(ctx context.Context, q order.Query) (*order.Stats, error) {
	filter, args := where(q)
	rows, err := r.c.q.Query(ctx,
		`SELECT status, count(*), coalesce(sum(total_amount), 0) FROM orders`+filter+` GROUP BY status`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "order stats")
	}
	defer rows.Close()

	stats := &order.Stats{TotalRevenue: decimal.Zero, ByStatus: map[order.Status]int{}}
	for rows.Next() {
		var (
			status  string
			count   int
			revenue decimal.Decimal
		)
		if err := rows.Scan(&status, &count, &revenue); err != nil {
			return nil, errors.Wrap(err, "scan order stats")
		}
		stats.ByStatus[order.Status(status)] = count
		stats.TotalOrders += count
		stats.TotalRevenue = stats.TotalRevenue.Add(revenue)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "order stats")
	}
	return stats, nil
}

// CountLive counts the user's orders that are not cancelled.
func (r *OrderRepository) CountLive(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.c.q.QueryRow(ctx, countLiveOrdersSQL, userID).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count orders of user %q", userID)
	}
	return n, nil
}
