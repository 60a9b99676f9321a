package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

const (
	getUserSQL = `SELECT id, username, email, role, email_verified, status, order_ids, created_at
		FROM users WHERE id = $1`

	listCartSQL = `SELECT id, product_id, variant_id, size_id, quantity, unit_price
		FROM cart_lines WHERE user_id = $1 ORDER BY position`

	insertUserSQL = `INSERT INTO users (id, username, email, role, email_verified, status, order_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	updateUserOrdersSQL = `UPDATE users SET order_ids = $2 WHERE id = $1`

	deleteCartSQL = `DELETE FROM cart_lines WHERE user_id = $1`

	insertCartLineSQL = `INSERT INTO cart_lines (id, user_id, position, product_id, variant_id, size_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	c conn
}

// GetByID loads a user with their cart.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	rows, err := r.c.q.Query(ctx, getUserSQL+r.c.lock(), id)
	if err != nil {
		return nil, errors.Wrapf(err, "get user %q", id)
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get user %q", id)
	}

	rows, err = r.c.q.Query(ctx, listCartSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get cart of user %q", id)
	}
	if u.Cart, err = pgx.CollectRows(rows, scanCartLine); err != nil {
		return nil, errors.Wrapf(err, "scan cart of user %q", id)
	}
	return &u, nil
}

func scanUser(row pgx.CollectableRow) (user.User, error) {
	var (
		u            user.User
		role, status string
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &role, &u.EmailVerified, &status, &u.OrderIDs, &u.CreatedAt)
	u.Role = auth.Role(role)
	u.Status = user.AccountStatus(status)
	return u, err
}

func scanCartLine(row pgx.CollectableRow) (user.CartLine, error) {
	var (
		l     user.CartLine
		price decimal.Decimal
	)
	err := row.Scan(&l.ID, &l.ProductID, &l.VariantID, &l.SizeID, &l.Quantity, &price)
	l.UnitPrice = price
	return l, err
}

// Save persists the order history and replaces the cart.
func (r *UserRepository) Save(ctx context.Context, u *user.User) error {
	err := pgx.BeginFunc(ctx, r.c.q, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updateUserOrdersSQL, u.ID, orderIDs(u))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return user.ErrNotFound
		}
		return replaceCart(ctx, tx, u)
	})
	if err != nil {
		return errors.Wrapf(err, "save user %q", u.ID)
	}
	return nil
}

// Create inserts a user with their cart.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	err := pgx.BeginFunc(ctx, r.c.q, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertUserSQL,
			u.ID, u.Username, u.Email, string(u.Role), u.EmailVerified, string(u.Status), orderIDs(u), u.CreatedAt,
		); err != nil {
			return err
		}
		return replaceCart(ctx, tx, u)
	})
	if err != nil {
		return errors.Wrapf(err, "create user %q", u.ID)
	}
	return nil
}

func orderIDs(u *user.User) []string {
	if u.OrderIDs == nil {
		return []string{}
	}
	return u.OrderIDs
}

func replaceCart(ctx context.Context, tx pgx.Tx, u *user.User) error {
	if _, err := tx.Exec(ctx, deleteCartSQL, u.ID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	for i, l := range u.Cart {
		if _, err := tx.Exec(ctx, insertCartLineSQL,
			l.ID, u.ID, i, l.ProductID, l.VariantID, l.SizeID, l.Quantity, l.UnitPrice,
		); err != nil {
			return errors.Wrapf(err, "insert cart line %q", l.ID)
		}
	}
	return nil
}
