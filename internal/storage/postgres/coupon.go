package postgres

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

const (
	couponColumns = `id, code, description, type, discount_type, discount_value, valid_from, valid_until,
		active, usage_limit, usage_count, minimum_order_value, maximum_discount, applicable_products,
		created_by, created_at, updated_at`

	getCouponByIDSQL   = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`
	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	createCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (code) DO NOTHING`

	updateCouponSQL = `UPDATE coupons SET code = $2, description = $3, type = $4, discount_type = $5,
		discount_value = $6, valid_from = $7, valid_until = $8, active = $9, usage_limit = $10,
		minimum_order_value = $11, maximum_discount = $12, applicable_products = $13, updated_at = $14
		WHERE id = $1`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`

	incrementUsageSQL = `UPDATE coupons SET usage_count = usage_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`

	decrementUsageSQL = `UPDATE coupons SET usage_count = GREATEST(usage_count - 1, 0) WHERE id = $1`

	couponCodeConstraint = "coupons_code_key"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	c conn
}

func (r *CouponRepository) get(ctx context.Context, query string, arg string) (*coupon.Coupon, error) {
	rows, err := r.c.q.Query(ctx, query+r.c.lock(), arg)
	if err != nil {
		return nil, err
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// GetByID returns a coupon. Inside a transaction the row is locked.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	c, err := r.get(ctx, getCouponByIDSQL, id)
	if err != nil && !errors.Is(err, coupon.ErrNotFound) {
		return nil, errors.Wrapf(err, "get coupon %q", id)
	}
	return c, err
}

// GetByCode returns a coupon by its normalized code. Inside a transaction
// the row is locked.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	c, err := r.get(ctx, getCouponByCodeSQL, code)
	if err != nil && !errors.Is(err, coupon.ErrNotFound) {
		return nil, errors.Wrapf(err, "get coupon by code %q", code)
	}
	return c, err
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c                  coupon.Coupon
		typ, discountType  string
		value              decimal.Decimal
		minimum, maxAmount decimal.NullDecimal
		limit              *int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &typ, &discountType, &value, &c.ValidFrom, &c.ValidUntil,
		&c.Active, &limit, &c.UsageCount, &minimum, &maxAmount, &c.ApplicableProducts,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	c.Type = coupon.Type(typ)
	c.DiscountType = coupon.DiscountType(discountType)
	c.DiscountValue = value
	if limit != nil {
		v := int(*limit)
		c.UsageLimit = &v
	}
	if minimum.Valid {
		c.MinimumOrderValue = &minimum.Decimal
	}
	if maxAmount.Valid {
		c.MaximumDiscount = &maxAmount.Decimal
	}
	if len(c.ApplicableProducts) == 0 {
		c.ApplicableProducts = nil
	}
	return c, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

func applicableProducts(c *coupon.Coupon) []string {
	if c.ApplicableProducts == nil {
		return []string{}
	}
	return c.ApplicableProducts
}

// Create inserts a coupon. A taken code yields coupon.ErrCodeExists. The
// conflict is absorbed so that an enclosing transaction stays usable.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	tag, err := r.c.q.Exec(ctx, createCouponSQL,
		c.ID, c.Code, c.Description, string(c.Type), string(c.DiscountType), c.DiscountValue, c.ValidFrom,
		c.ValidUntil, c.Active, c.UsageLimit, c.UsageCount, nullDecimal(c.MinimumOrderValue),
		nullDecimal(c.MaximumDiscount), applicableProducts(c), c.CreatedBy, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "create coupon %q", c.Code)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrCodeExists
	}
	return nil
}

// Update rewrites the editable fields of a coupon. UsageCount is owned by
// IncrementUsage and DecrementUsage and is left untouched.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	tag, err := r.c.q.Exec(ctx, updateCouponSQL,
		c.ID, c.Code, c.Description, string(c.Type), string(c.DiscountType), c.DiscountValue, c.ValidFrom,
		c.ValidUntil, c.Active, c.UsageLimit, nullDecimal(c.MinimumOrderValue), nullDecimal(c.MaximumDiscount),
		applicableProducts(c), c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, couponCodeConstraint) {
			return coupon.ErrCodeExists
		}
		return errors.Wrapf(err, "update coupon %q", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Delete removes a coupon together with its assignments and usages.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.c.q.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete coupon %q", id)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// List returns one page of coupons, newest first.
func (r *CouponRepository) List(ctx context.Context, q coupon.ListQuery) ([]coupon.Coupon, int, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if q.Type != "" {
		conds = append(conds, "type = "+arg(string(q.Type)))
	}
	if q.RedeemableAt != nil {
		at := arg(*q.RedeemableAt)
		conds = append(conds, "active", "valid_from <= "+at, "valid_until >= "+at)
	}
	filter := ""
	if len(conds) > 0 {
		filter = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.c.q.QueryRow(ctx, `SELECT count(*) FROM coupons`+filter, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count coupons")
	}

	query := `SELECT ` + couponColumns + ` FROM coupons` + filter + ` ORDER BY created_at DESC, id`
	if q.Limit > 0 {
		query += " LIMIT " + arg(q.Limit)
	}
	if q.Offset > 0 {
		query += " OFFSET " + arg(q.Offset)
	}
	rows, err := r.c.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list coupons")
	}
	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, 0, errors.Wrap(err, "scan coupons")
	}
	return coupons, total, nil
}

// IncrementUsage bumps usage_count under the usage limit.
func (r *CouponRepository) IncrementUsage(ctx context.Context, id string) error {
	tag, err := r.c.q.Exec(ctx, incrementUsageSQL, id)
	if err != nil {
		return errors.Wrapf(err, "increment usage of coupon %q", id)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.get(ctx, getCouponByIDSQL, id); err != nil {
			return err
		}
		return coupon.ErrUsageLimitReached
	}
	return nil
}

// DecrementUsage lowers usage_count, never below zero.
func (r *CouponRepository) DecrementUsage(ctx context.Context, id string) error {
	tag, err := r.c.q.Exec(ctx, decrementUsageSQL, id)
	if err != nil {
		return errors.Wrapf(err, "decrement usage of coupon %q", id)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

const (
	assignmentColumns = `id, user_id, coupon_id, used, used_at, coalesce(order_id, ''), assigned_at`

	findUnusedAssignmentSQL = `SELECT ` + assignmentColumns + ` FROM user_coupons
		WHERE user_id = $1 AND coupon_id = $2 AND NOT used LIMIT 1`

	findAssignmentByOrderSQL = `SELECT ` + assignmentColumns + ` FROM user_coupons WHERE order_id = $1 LIMIT 1`

	listAssignmentsByUserSQL   = `SELECT ` + assignmentColumns + ` FROM user_coupons WHERE user_id = $1 ORDER BY assigned_at DESC, id`
	listAssignmentsByCouponSQL = `SELECT ` + assignmentColumns + ` FROM user_coupons WHERE coupon_id = $1 ORDER BY assigned_at DESC, id`

	createAssignmentSQL = `INSERT INTO user_coupons (id, user_id, coupon_id, used, used_at, order_id, assigned_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		ON CONFLICT (user_id, coupon_id) WHERE NOT used DO NOTHING`

	bindAssignmentSQL = `UPDATE user_coupons SET used = TRUE, used_at = $3, order_id = $2 WHERE id = $1 AND NOT used`

	releaseAssignmentSQL = `UPDATE user_coupons SET used = FALSE, used_at = NULL, order_id = NULL WHERE id = $1`

	deleteAssignmentSQL          = `DELETE FROM user_coupons WHERE id = $1`
	deleteAssignmentsByCouponSQL = `DELETE FROM user_coupons WHERE coupon_id = $1`

	assignmentExistsSQL = `SELECT EXISTS (SELECT 1 FROM user_coupons WHERE id = $1)`

	unusedAssignmentConstraint = "user_coupons_unused_uq"
)

var _ coupon.AssignmentRepository = (*AssignmentRepository)(nil)

// AssignmentRepository implements coupon.AssignmentRepository backed by
// PostgreSQL.
type AssignmentRepository struct {
	c conn
}

func scanAssignment(row pgx.CollectableRow) (coupon.UserCoupon, error) {
	var a coupon.UserCoupon
	err := row.Scan(&a.ID, &a.UserID, &a.CouponID, &a.Used, &a.UsedAt, &a.OrderID, &a.AssignedAt)
	return a, err
}

func (r *AssignmentRepository) one(ctx context.Context, query string, args ...any) (*coupon.UserCoupon, error) {
	rows, err := r.c.q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "find assignment")
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAssignment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrAssignmentNotFound
		}
		return nil, errors.Wrap(err, "find assignment")
	}
	return &a, nil
}

// FindUnused returns the user's unused assignment. Inside a transaction the
// row is locked.
func (r *AssignmentRepository) FindUnused(ctx context.Context, userID, couponID string) (*coupon.UserCoupon, error) {
	return r.one(ctx, findUnusedAssignmentSQL+r.c.lock(), userID, couponID)
}

func (r *AssignmentRepository) FindByOrder(ctx context.Context, orderID string) (*coupon.UserCoupon, error) {
	return r.one(ctx, findAssignmentByOrderSQL+r.c.lock(), orderID)
}

func (r *AssignmentRepository) ListByUser(ctx context.Context, userID string) ([]coupon.UserCoupon, error) {
	rows, err := r.c.q.Query(ctx, listAssignmentsByUserSQL, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "list assignments of user %q", userID)
	}
	return pgx.CollectRows(rows, scanAssignment)
}

func (r *AssignmentRepository) ListByCoupon(ctx context.Context, couponID string) ([]coupon.UserCoupon, error) {
	rows, err := r.c.q.Query(ctx, listAssignmentsByCouponSQL, couponID)
	if err != nil {
		return nil, errors.Wrapf(err, "list assignments of coupon %q", couponID)
	}
	return pgx.CollectRows(rows, scanAssignment)
}

// Create inserts an assignment. A second unused assignment of the same
// coupon to the same user yields coupon.ErrAlreadyAssigned.
func (r *AssignmentRepository) Create(ctx context.Context, uc *coupon.UserCoupon) error {
	tag, err := r.c.q.Exec(ctx, createAssignmentSQL,
		uc.ID, uc.UserID, uc.CouponID, uc.Used, uc.UsedAt, uc.OrderID, uc.AssignedAt)
	if err != nil {
		return errors.Wrapf(err, "assign coupon %q to user %q", uc.CouponID, uc.UserID)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrAlreadyAssigned
	}
	return nil
}

// Bind consumes an unused assignment.
func (r *AssignmentRepository) Bind(ctx context.Context, id, orderID string, usedAt time.Time) error {
	tag, err := r.c.q.Exec(ctx, bindAssignmentSQL, id, orderID, usedAt)
	if err != nil {
		return errors.Wrapf(err, "bind assignment %q", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.c.q.QueryRow(ctx, assignmentExistsSQL, id).Scan(&exists); err != nil {
		return errors.Wrapf(err, "bind assignment %q", id)
	}
	if !exists {
		return coupon.ErrAssignmentNotFound
	}
	return coupon.ErrAlreadyConsumed
}

func (r *AssignmentRepository) Release(ctx context.Context, id string) error {
	tag, err := r.c.q.Exec(ctx, releaseAssignmentSQL, id)
	if err != nil {
		if isUniqueViolation(err, unusedAssignmentConstraint) {
			return coupon.ErrAlreadyAssigned
		}
		return errors.Wrapf(err, "release assignment %q", id)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrAssignmentNotFound
	}
	return nil
}

func (r *AssignmentRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.c.q.Exec(ctx, deleteAssignmentSQL, id); err != nil {
		return errors.Wrapf(err, "delete assignment %q", id)
	}
	return nil
}

func (r *AssignmentRepository) DeleteByCoupon(ctx context.Context, couponID string) error {
	if _, err := r.c.q.Exec(ctx, deleteAssignmentsByCouponSQL, couponID); err != nil {
		return errors.Wrapf(err, "delete assignments of coupon %q", couponID)
	}
	return nil
}

const (
	usageColumns = `id, user_id, coupon_id, coalesce(order_id, ''), created_at`

	findUsageSQL        = `SELECT ` + usageColumns + ` FROM coupon_usages WHERE user_id = $1 AND coupon_id = $2`
	findUsageByOrderSQL = `SELECT ` + usageColumns + ` FROM coupon_usages WHERE order_id = $1 LIMIT 1`

	listUsagesByUserSQL   = `SELECT ` + usageColumns + ` FROM coupon_usages WHERE user_id = $1 ORDER BY created_at DESC, id`
	listUsagesByCouponSQL = `SELECT ` + usageColumns + ` FROM coupon_usages WHERE coupon_id = $1 ORDER BY created_at DESC, id`

	createUsageSQL = `INSERT INTO coupon_usages (id, user_id, coupon_id, order_id, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (user_id, coupon_id) DO NOTHING`

	bindUsageSQL = `UPDATE coupon_usages SET order_id = $2 WHERE id = $1 AND order_id IS NULL`

	deleteUsageSQL = `DELETE FROM coupon_usages WHERE id = $1`

	deleteUnboundUsagesSQL = `DELETE FROM coupon_usages WHERE coupon_id = $1 AND order_id IS NULL`

	usageExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupon_usages WHERE id = $1)`
)

var _ coupon.UsageRepository = (*UsageRepository)(nil)

// UsageRepository implements coupon.UsageRepository backed by PostgreSQL.
type UsageRepository struct {
	c conn
}

func scanUsage(row pgx.CollectableRow) (coupon.Usage, error) {
	var u coupon.Usage
	err := row.Scan(&u.ID, &u.UserID, &u.CouponID, &u.OrderID, &u.CreatedAt)
	return u, err
}

func (r *UsageRepository) one(ctx context.Context, query string, args ...any) (*coupon.Usage, error) {
	rows, err := r.c.q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "find usage")
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUsage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrUsageNotFound
		}
		return nil, errors.Wrap(err, "find usage")
	}
	return &u, nil
}

// Find returns the user's usage row. Inside a transaction the row is locked.
func (r *UsageRepository) Find(ctx context.Context, userID, couponID string) (*coupon.Usage, error) {
	return r.one(ctx, findUsageSQL+r.c.lock(), userID, couponID)
}

func (r *UsageRepository) FindByOrder(ctx context.Context, orderID string) (*coupon.Usage, error) {
	return r.one(ctx, findUsageByOrderSQL+r.c.lock(), orderID)
}

func (r *UsageRepository) ListByUser(ctx context.Context, userID string) ([]coupon.Usage, error) {
	rows, err := r.c.q.Query(ctx, listUsagesByUserSQL, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "list usages of user %q", userID)
	}
	return pgx.CollectRows(rows, scanUsage)
}

func (r *UsageRepository) ListByCoupon(ctx context.Context, couponID string) ([]coupon.Usage, error) {
	rows, err := r.c.q.Query(ctx, listUsagesByCouponSQL, couponID)
	if err != nil {
		return nil, errors.Wrapf(err, "list usages of coupon %q", couponID)
	}
	return pgx.CollectRows(rows, scanUsage)
}

// Create inserts a reservation. A user holds at most one row per coupon.
func (r *UsageRepository) Create(ctx context.Context, u *coupon.Usage) error {
	tag, err := r.c.q.Exec(ctx, createUsageSQL, u.ID, u.UserID, u.CouponID, u.OrderID, u.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "reserve coupon %q for user %q", u.CouponID, u.UserID)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrAlreadyReserved
	}
	return nil
}

// Bind attaches an unbound reservation to an order.
func (r *UsageRepository) Bind(ctx context.Context, id, orderID string) error {
	tag, err := r.c.q.Exec(ctx, bindUsageSQL, id, orderID)
	if err != nil {
		return errors.Wrapf(err, "bind usage %q", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.c.q.QueryRow(ctx, usageExistsSQL, id).Scan(&exists); err != nil {
		return errors.Wrapf(err, "bind usage %q", id)
	}
	if !exists {
		return coupon.ErrUsageNotFound
	}
	return coupon.ErrAlreadyConsumed
}

func (r *UsageRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.c.q.Exec(ctx, deleteUsageSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete usage %q", id)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrUsageNotFound
	}
	return nil
}

func (r *UsageRepository) DeleteUnboundByCoupon(ctx context.Context, couponID string) error {
	if _, err := r.c.q.Exec(ctx, deleteUnboundUsagesSQL, couponID); err != nil {
		return errors.Wrapf(err, "delete reservations of coupon %q", couponID)
	}
	return nil
}
