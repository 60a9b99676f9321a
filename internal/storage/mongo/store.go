// Package mongo implements storage.Store on MongoDB. Transactions use
// sessions and therefore require a replica set.
package mongo

import (
	"context"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/user"
	"github.com/xenking/kart-checkout/internal/storage"
)

// Collection names.
const (
	colProducts    = "products"
	colUsers       = "users"
	colOrders      = "orders"
	colCoupons     = "coupons"
	colUserCoupons = "user_coupons"
	colUsages      = "coupon_usages"
)

var _ storage.Store = (*Store)(nil)

// Store implements storage.Store using the official MongoDB driver.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri and selects database name.
func Connect(ctx context.Context, uri, name string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, errors.Wrap(err, "ping mongo")
	}
	return &Store{client: client, db: client.Database(name)}, nil
}

// Migrate creates indexes for every collection.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "migrate %s indexes", col)
		}
	}
	return nil
}

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colProducts: {
			{Keys: bson.D{{Key: "owner_id", Value: 1}}},
			{Keys: bson.D{{Key: "category", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colUsers: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		colOrders: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "product_ids", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		colCoupons: {
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "type", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colUserCoupons: {
			{
				Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "coupon_id", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"used": false}),
			},
			{Keys: bson.D{{Key: "order_id", Value: 1}}},
		},
		colUsages: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "coupon_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "order_id", Value: 1}}},
		},
	}
}

type tx struct {
	db *mongo.Database
}

func (t tx) Products() catalog.Repository { return &ProductRepository{col: t.db.Collection(colProducts)} }
func (t tx) Users() user.Repository       { return &UserRepository{col: t.db.Collection(colUsers)} }
func (t tx) Orders() order.Repository     { return &OrderRepository{col: t.db.Collection(colOrders)} }
func (t tx) Coupons() coupon.Repository   { return &CouponRepository{col: t.db.Collection(colCoupons)} }

func (t tx) Assignments() coupon.AssignmentRepository {
	return &AssignmentRepository{col: t.db.Collection(colUserCoupons)}
}

func (t tx) Usages() coupon.UsageRepository {
	return &UsageRepository{col: t.db.Collection(colUsages)}
}

// Tx returns repositories operating outside any session.
func (s *Store) Tx() storage.Tx {
	return tx{db: s.db}
}

// InTx runs fn in a session transaction. The driver retries fn on
// transient transaction errors, so fn must not keep state between calls.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return errors.Wrap(err, "start session")
	}
	defer session.EndSession(context.WithoutCancel(ctx))

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx, tx{db: s.db})
	}, txOpts)
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func findOptions(sortKey string, ascending bool, offset, limit int) *options.FindOptionsBuilder {
	dir := -1
	if ascending {
		dir = 1
	}
	opts := options.Find().SetSort(bson.D{{Key: sortKey, Value: dir}, {Key: "_id", Value: dir}})
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return opts
}
