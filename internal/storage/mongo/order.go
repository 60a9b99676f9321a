package mongo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

var sortKeys = map[order.SortField]string{
	order.SortCreatedAt:   "created_at",
	order.SortTotalAmount: "total_amount",
	order.SortStatus:      "status",
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository.
type OrderRepository struct {
	col *mongo.Collection
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if _, err := r.col.InsertOne(ctx, toOrderModel(o)); err != nil {
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	var m orderModel
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	o := fromOrderModel(&m)
	return &o, nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status order.Status, updatedAt time.Time) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"status":     string(status),
		"updated_at": updatedAt,
	}})
	if err != nil {
		return errors.Wrapf(err, "update order %q", id)
	}
	if res.MatchedCount == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrapf(err, "delete order %q", id)
	}
	if res.DeletedCount == 0 {
		return order.ErrNotFound
	}
	return nil
}

func queryFilter(q order.Query) bson.M {
	filter := bson.M{}
	if q.UserID != "" {
		filter["user_id"] = q.UserID
	}
	if q.RestrictProducts || len(q.ProductIDs) > 0 {
		ids := q.ProductIDs
		if ids == nil {
			ids = []string{}
		}
		filter["product_ids"] = bson.M{"$in": ids}
	}
	if q.Status != "" {
		filter["status"] = string(q.Status)
	}
	return filter
}

func (r *OrderRepository) List(ctx context.Context, q order.Query) ([]order.Order, int, error) {
	filter := queryFilter(q)
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, errors.Wrap(err, "count orders")
	}

	key, ok := sortKeys[q.SortBy]
	if !ok {
		key = sortKeys[order.SortCreatedAt]
	}
	cur, err := r.col.Find(ctx, filter, findOptions(key, q.Ascending, q.Offset, q.Limit))
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	var models []orderModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, 0, errors.Wrap(err, "decode orders")
	}
	out := make([]order.Order, 0, len(models))
	for i := range models {
		out = append(out, fromOrderModel(&models[i]))
	}
	return out, int(total), nil
}

func (r *OrderRepository) Stats(ctx context.Context, q order.Query) (*order.Stats, error) {
	pipeline := bson.A{
		bson.M{"$match": queryFilter(q)},
		bson.M{"$group": bson.M{
			"_id":     "$status",
			"count":   bson.M{"$sum": 1},
			"revenue": bson.M{"$sum": "$total_amount"},
		}},
	}
	cur, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "order stats")
	}
	var rows []struct {
		Status  string          `bson:"_id"`
		Count   int             `bson:"count"`
		Revenue bson.Decimal128 `bson:"revenue"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "decode order stats")
	}

	stats := &order.Stats{TotalRevenue: decimal.Zero, ByStatus: map[order.Status]int{}}
	for _, row := range rows {
		stats.ByStatus[order.Status(row.Status)] = row.Count
		stats.TotalOrders += row.Count
		stats.TotalRevenue = stats.TotalRevenue.Add(fromDec(row.Revenue))
	}
	return stats, nil
}

func (r *OrderRepository) CountLive(ctx context.Context, userID string) (int, error) {
	n, err := r.col.CountDocuments(ctx, bson.M{
		"user_id": userID,
		"status":  bson.M{"$ne": string(order.StatusCancelled)},
	})
	if err != nil {
		return 0, errors.Wrapf(err, "count orders of user %q", userID)
	}
	return int(n), nil
}
