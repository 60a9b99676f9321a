package mongo

import (
	"context"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xenking/kart-checkout/internal/domain/user"
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository with the cart embedded in the
// user document.
type UserRepository struct {
	col *mongo.Collection
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	var m userModel
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, user.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get user %q", id)
	}
	return fromUserModel(&m), nil
}

func (r *UserRepository) Save(ctx context.Context, u *user.User) error {
	m := toUserModel(u)
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": u.ID}, bson.M{"$set": bson.M{
		"cart":      m.Cart,
		"order_ids": m.OrderIDs,
	}})
	if err != nil {
		return errors.Wrapf(err, "save user %q", u.ID)
	}
	if res.MatchedCount == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	if _, err := r.col.InsertOne(ctx, toUserModel(u)); err != nil {
		return errors.Wrapf(err, "create user %q", u.ID)
	}
	return nil
}
