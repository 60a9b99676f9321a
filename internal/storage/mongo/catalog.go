package mongo

import (
	"context"
	"regexp"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

var _ catalog.Repository = (*ProductRepository)(nil)

// ProductRepository implements catalog.Repository with variants and sizes
// embedded in the product document.
type ProductRepository struct {
	col *mongo.Collection
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	var m productModel
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	p := fromProductModel(&m)
	return &p, nil
}

func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

func (r *ProductRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]catalog.Product, error) {
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find products")
	}
	var models []productModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	out := make([]catalog.Product, 0, len(models))
	for i := range models {
		out = append(out, fromProductModel(&models[i]))
	}
	return out, nil
}

func (r *ProductRepository) List(ctx context.Context, f catalog.Filter) ([]catalog.Product, int, error) {
	filter := bson.M{}
	if f.Category != "" {
		filter["category"] = f.Category
	}
	if f.OwnerID != "" {
		filter["owner_id"] = f.OwnerID
	}
	if f.Search != "" {
		filter["name"] = bson.M{"$regex": regexp.QuoteMeta(f.Search), "$options": "i"}
	}

	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, errors.Wrap(err, "count products")
	}
	products, err := r.find(ctx, filter, findOptions("created_at", false, f.Offset, f.Limit))
	if err != nil {
		return nil, 0, err
	}
	return products, int(total), nil
}

func (r *ProductRepository) IDsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	cur, err := r.col.Find(ctx, bson.M{"owner_id": ownerID},
		options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Wrapf(err, "list products of owner %q", ownerID)
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "decode product ids")
	}
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = row.ID
	}
	return out, nil
}

func (r *ProductRepository) Save(ctx context.Context, p *catalog.Product) error {
	_, err := r.col.ReplaceOne(ctx, bson.M{"_id": p.ID}, toProductModel(p), options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrapf(err, "save product %q", p.ID)
	}
	return nil
}

// sizeFilter matches the product only while it holds the addressed size,
// optionally with at least minStock units.
func sizeFilter(ref catalog.StockRef, minStock *int) bson.M {
	size := bson.M{"_id": ref.SizeID}
	if minStock != nil {
		size["stock"] = bson.M{"$gte": *minStock}
	}
	return bson.M{
		"_id": ref.ProductID,
		"variants": bson.M{"$elemMatch": bson.M{
			"_id":   ref.VariantID,
			"sizes": bson.M{"$elemMatch": size},
		}},
	}
}

func stockArrayFilters(ref catalog.StockRef) *options.UpdateOneOptionsBuilder {
	return options.UpdateOne().SetArrayFilters([]any{
		bson.M{"v._id": ref.VariantID},
		bson.M{"s._id": ref.SizeID},
	})
}

const stockPath = "variants.$[v].sizes.$[s].stock"

func (r *ProductRepository) DebitStock(ctx context.Context, ref catalog.StockRef, qty int) error {
	res, err := r.col.UpdateOne(ctx, sizeFilter(ref, &qty),
		bson.M{"$inc": bson.M{stockPath: -qty}}, stockArrayFilters(ref))
	if err != nil {
		return errors.Wrapf(err, "debit stock of size %q", ref.SizeID)
	}
	if res.MatchedCount == 0 {
		return catalog.ErrStockConflict
	}
	return nil
}

func (r *ProductRepository) CreditStock(ctx context.Context, ref catalog.StockRef, qty int) (bool, error) {
	res, err := r.col.UpdateOne(ctx, sizeFilter(ref, nil),
		bson.M{"$inc": bson.M{stockPath: qty}}, stockArrayFilters(ref))
	if err != nil {
		return false, errors.Wrapf(err, "credit stock of size %q", ref.SizeID)
	}
	return res.MatchedCount > 0, nil
}

func (r *ProductRepository) SetStock(ctx context.Context, ref catalog.StockRef, stock int) error {
	res, err := r.col.UpdateOne(ctx, sizeFilter(ref, nil),
		bson.M{"$set": bson.M{stockPath: stock}}, stockArrayFilters(ref))
	if err != nil {
		return errors.Wrapf(err, "set stock of size %q", ref.SizeID)
	}
	if res.MatchedCount == 0 {
		return catalog.ErrNotFound
	}
	return nil
}
