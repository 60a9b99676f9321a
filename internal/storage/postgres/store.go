// Package postgres implements storage.Store on PostgreSQL via pgx.
package postgres

import (
	"context"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/db"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/user"
	"github.com/xenking/kart-checkout/internal/storage"
)

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database config")
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}
	return pool, nil
}

// migrationLockID keys the session advisory lock held while migrating.
const migrationLockID = 0x6b617274

// RunMigrations applies the embedded migrations that have not run yet.
// Concurrent callers serialize on an advisory lock.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	ms, err := db.Migrations()
	if err != nil {
		return err
	}

	c, err := pool.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "acquire connection")
	}
	defer c.Release()

	if _, err := c.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return errors.Wrap(err, "lock migrations")
	}
	defer func() {
		_, _ = c.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID)
	}()

	if _, err := c.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return errors.Wrap(err, "create schema_migrations")
	}

	for _, m := range ms {
		if err := pgx.BeginFunc(ctx, c, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING", m.Version)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			_, err = tx.Exec(ctx, m.SQL)
			return err
		}); err != nil {
			return errors.Wrapf(err, "migration %s", m.Version)
		}
	}
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ storage.Store = (*Store)(nil)

// Store is a storage.Store backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	lg   *zap.Logger
}

// New wraps pool.
func New(pool *pgxpool.Pool, lg *zap.Logger) *Store {
	return &Store{pool: pool, lg: lg}
}

// conn routes queries and remembers whether row locks may be taken.
type conn struct {
	q    querier
	inTx bool
}

// lock returns the locking clause for reads that guard a later write.
func (c conn) lock() string {
	if c.inTx {
		return " FOR UPDATE"
	}
	return ""
}

type tx struct {
	c conn
}

func (t tx) Products() catalog.Repository             { return &ProductRepository{c: t.c} }
func (t tx) Users() user.Repository                   { return &UserRepository{c: t.c} }
func (t tx) Orders() order.Repository                 { return &OrderRepository{c: t.c} }
func (t tx) Coupons() coupon.Repository               { return &CouponRepository{c: t.c} }
func (t tx) Assignments() coupon.AssignmentRepository { return &AssignmentRepository{c: t.c} }
func (t tx) Usages() coupon.UsageRepository           { return &UsageRepository{c: t.c} }

// Tx returns repositories running directly on the pool.
func (s *Store) Tx() storage.Tx {
	return tx{c: conn{q: s.pool}}
}

// InTx runs fn inside a read committed transaction. Rows read through the
// transaction's repositories for update are locked until it ends.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}

	if err := fn(ctx, tx{c: conn{q: pgTx, inTx: true}}); err != nil {
		if rbErr := pgTx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			s.lg.Warn("Rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

// isUniqueViolation reports whether err is a unique constraint failure,
// optionally on a specific constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
