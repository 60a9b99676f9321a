package mongo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository.
type CouponRepository struct {
	col *mongo.Collection
}

func (r *CouponRepository) one(ctx context.Context, filter bson.M) (*coupon.Coupon, error) {
	var m couponModel
	if err := r.col.FindOne(ctx, filter).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrap(err, "get coupon")
	}
	c := fromCouponModel(&m)
	return &c, nil
}

func (r *CouponRepository) GetByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.one(ctx, bson.M{"_id": id})
}

func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.one(ctx, bson.M{"code": code})
}

// Create inserts the coupon unless its code is taken. The upsert keeps a
// surrounding transaction alive on conflict.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"code": c.Code},
		bson.M{"$setOnInsert": toCouponModel(c)},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return errors.Wrapf(err, "create coupon %q", c.Code)
	}
	if res.UpsertedCount == 0 {
		return coupon.ErrCodeExists
	}
	return nil
}

func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	m := toCouponModel(c)
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": c.ID}, bson.M{"$set": bson.M{
		"code":                m.Code,
		"description":         m.Description,
		"type":                m.Type,
		"discount_type":       m.DiscountType,
		"discount_value":      m.DiscountValue,
		"valid_from":          m.ValidFrom,
		"valid_until":         m.ValidUntil,
		"active":              m.Active,
		"usage_limit":         m.UsageLimit,
		"minimum_order_value": m.MinimumOrderValue,
		"maximum_discount":    m.MaximumDiscount,
		"applicable_products": m.ApplicableProducts,
		"updated_at":          m.UpdatedAt,
	}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return coupon.ErrCodeExists
		}
		return errors.Wrapf(err, "update coupon %q", c.ID)
	}
	if res.MatchedCount == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrapf(err, "delete coupon %q", id)
	}
	if res.DeletedCount == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func (r *CouponRepository) List(ctx context.Context, q coupon.ListQuery) ([]coupon.Coupon, int, error) {
	filter := bson.M{}
	if q.Type != "" {
		filter["type"] = string(q.Type)
	}
	if q.RedeemableAt != nil {
		filter["active"] = true
		filter["valid_from"] = bson.M{"$lte": *q.RedeemableAt}
		filter["valid_until"] = bson.M{"$gte": *q.RedeemableAt}
	}

	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, errors.Wrap(err, "count coupons")
	}
	cur, err := r.col.Find(ctx, filter, findOptions("created_at", false, q.Offset, q.Limit))
	if err != nil {
		return nil, 0, errors.Wrap(err, "list coupons")
	}
	var models []couponModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, 0, errors.Wrap(err, "decode coupons")
	}
	out := make([]coupon.Coupon, 0, len(models))
	for i := range models {
		out = append(out, fromCouponModel(&models[i]))
	}
	return out, int(total), nil
}

func (r *CouponRepository) IncrementUsage(ctx context.Context, id string) error {
	res, err := r.col.UpdateOne(ctx, bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"usage_limit": nil},
			bson.M{"$expr": bson.M{"$lt": bson.A{"$usage_count", "$usage_limit"}}},
		},
	}, bson.M{"$inc": bson.M{"usage_count": 1}})
	if err != nil {
		return errors.Wrapf(err, "increment usage of coupon %q", id)
	}
	if res.MatchedCount == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return coupon.ErrUsageLimitReached
	}
	return nil
}

func (r *CouponRepository) DecrementUsage(ctx context.Context, id string) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.A{
		bson.M{"$set": bson.M{"usage_count": bson.M{"$max": bson.A{0, bson.M{"$subtract": bson.A{"$usage_count", 1}}}}}},
	})
	if err != nil {
		return errors.Wrapf(err, "decrement usage of coupon %q", id)
	}
	if res.MatchedCount == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

var _ coupon.AssignmentRepository = (*AssignmentRepository)(nil)

// AssignmentRepository implements coupon.AssignmentRepository.
type AssignmentRepository struct {
	col *mongo.Collection
}

func (r *AssignmentRepository) one(ctx context.Context, filter bson.M) (*coupon.UserCoupon, error) {
	var m userCouponModel
	if err := r.col.FindOne(ctx, filter).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, coupon.ErrAssignmentNotFound
		}
		return nil, errors.Wrap(err, "find assignment")
	}
	a := fromUserCouponModel(&m)
	return &a, nil
}

func (r *AssignmentRepository) list(ctx context.Context, filter bson.M) ([]coupon.UserCoupon, error) {
	cur, err := r.col.Find(ctx, filter, findOptions("assigned_at", false, 0, 0))
	if err != nil {
		return nil, errors.Wrap(err, "list assignments")
	}
	var models []userCouponModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, errors.Wrap(err, "decode assignments")
	}
	out := make([]coupon.UserCoupon, 0, len(models))
	for i := range models {
		out = append(out, fromUserCouponModel(&models[i]))
	}
	return out, nil
}

func (r *AssignmentRepository) FindUnused(ctx context.Context, userID, couponID string) (*coupon.UserCoupon, error) {
	return r.one(ctx, bson.M{"user_id": userID, "coupon_id": couponID, "used": false})
}

func (r *AssignmentRepository) FindByOrder(ctx context.Context, orderID string) (*coupon.UserCoupon, error) {
	return r.one(ctx, bson.M{"order_id": orderID})
}

func (r *AssignmentRepository) ListByUser(ctx context.Context, userID string) ([]coupon.UserCoupon, error) {
	return r.list(ctx, bson.M{"user_id": userID})
}

func (r *AssignmentRepository) ListByCoupon(ctx context.Context, couponID string) ([]coupon.UserCoupon, error) {
	return r.list(ctx, bson.M{"coupon_id": couponID})
}

func (r *AssignmentRepository) Create(ctx context.Context, uc *coupon.UserCoupon) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"user_id": uc.UserID, "coupon_id": uc.CouponID, "used": false},
		bson.M{"$setOnInsert": toUserCouponModel(uc)},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return errors.Wrapf(err, "assign coupon %q to user %q", uc.CouponID, uc.UserID)
	}
	if res.UpsertedCount == 0 {
		return coupon.ErrAlreadyAssigned
	}
	return nil
}

func (r *AssignmentRepository) Bind(ctx context.Context, id, orderID string, usedAt time.Time) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id, "used": false}, bson.M{"$set": bson.M{
		"used":     true,
		"used_at":  usedAt,
		"order_id": orderID,
	}})
	if err != nil {
		return errors.Wrapf(err, "bind assignment %q", id)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if _, err := r.one(ctx, bson.M{"_id": id}); err != nil {
		return err
	}
	return coupon.ErrAlreadyConsumed
}

func (r *AssignmentRepository) Release(ctx context.Context, id string) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"used":     false,
		"used_at":  nil,
		"order_id": "",
	}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return coupon.ErrAlreadyAssigned
		}
		return errors.Wrapf(err, "release assignment %q", id)
	}
	if res.MatchedCount == 0 {
		return coupon.ErrAssignmentNotFound
	}
	return nil
}

func (r *AssignmentRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.col.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return errors.Wrapf(err, "delete assignment %q", id)
	}
	return nil
}

func (r *AssignmentRepository) DeleteByCoupon(ctx context.Context, couponID string) error {
	if _, err := r.col.DeleteMany(ctx, bson.M{"coupon_id": couponID}); err != nil {
		return errors.Wrapf(err, "delete assignments of coupon %q", couponID)
	}
	return nil
}

var _ coupon.UsageRepository = (*UsageRepository)(nil)

// UsageRepository implements coupon.UsageRepository.
type UsageRepository struct {
	col *mongo.Collection
}

func (r *UsageRepository) one(ctx context.Context, filter bson.M) (*coupon.Usage, error) {
	var m usageModel
	if err := r.col.FindOne(ctx, filter).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, coupon.ErrUsageNotFound
		}
		return nil, errors.Wrap(err, "find usage")
	}
	u := coupon.Usage(m)
	return &u, nil
}

func (r *UsageRepository) list(ctx context.Context, filter bson.M) ([]coupon.Usage, error) {
	cur, err := r.col.Find(ctx, filter, findOptions("created_at", false, 0, 0))
	if err != nil {
		return nil, errors.Wrap(err, "list usages")
	}
	var models []usageModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, errors.Wrap(err, "decode usages")
	}
	out := make([]coupon.Usage, 0, len(models))
	for _, m := range models {
		out = append(out, coupon.Usage(m))
	}
	return out, nil
}

func (r *UsageRepository) Find(ctx context.Context, userID, couponID string) (*coupon.Usage, error) {
	return r.one(ctx, bson.M{"user_id": userID, "coupon_id": couponID})
}

func (r *UsageRepository) FindByOrder(ctx context.Context, orderID string) (*coupon.Usage, error) {
	return r.one(ctx, bson.M{"order_id": orderID})
}

func (r *UsageRepository) ListByUser(ctx context.Context, userID string) ([]coupon.Usage, error) {
	return r.list(ctx, bson.M{"user_id": userID})
}

func (r *UsageRepository) ListByCoupon(ctx context.Context, couponID string) ([]coupon.Usage, error) {
	return r.list(ctx, bson.M{"coupon_id": couponID})
}

func (r *UsageRepository) Create(ctx context.Context, u *coupon.Usage) error {
	m := usageModel(*u)
	res, err := r.col.UpdateOne(ctx,
		bson.M{"user_id": u.UserID, "coupon_id": u.CouponID},
		bson.M{"$setOnInsert": &m},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return errors.Wrapf(err, "reserve coupon %q for user %q", u.CouponID, u.UserID)
	}
	if res.UpsertedCount == 0 {
		return coupon.ErrAlreadyReserved
	}
	return nil
}

func (r *UsageRepository) Bind(ctx context.Context, id, orderID string) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id, "order_id": ""}, bson.M{"$set": bson.M{"order_id": orderID}})
	if err != nil {
		return errors.Wrapf(err, "bind usage %q", id)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if _, err := r.one(ctx, bson.M{"_id": id}); err != nil {
		return err
	}
	return coupon.ErrAlreadyConsumed
}

func (r *UsageRepository) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrapf(err, "delete usage %q", id)
	}
	if res.DeletedCount == 0 {
		return coupon.ErrUsageNotFound
	}
	return nil
}

func (r *UsageRepository) DeleteUnboundByCoupon(ctx context.Context, couponID string) error {
	if _, err := r.col.DeleteMany(ctx, bson.M{"coupon_id": couponID, "order_id": ""}); err != nil {
		return errors.Wrapf(err, "delete reservations of coupon %q", couponID)
	}
	return nil
}
