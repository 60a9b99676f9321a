package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

const (
	productColumns = `id, name, category, owner_id, allowed_payment_methods, created_at, updated_at`

	listVariantsSQL = `SELECT id, product_id, color, images
		FROM variants WHERE product_id = ANY($1) ORDER BY product_id, position`

	listSizesSQL = `SELECT s.id, s.variant_id, s.label, s.stock, s.price, s.original_price
		FROM sizes s JOIN variants v ON v.id = s.variant_id
		WHERE v.product_id = ANY($1) ORDER BY s.variant_id, s.position`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category,
			owner_id = EXCLUDED.owner_id, allowed_payment_methods = EXCLUDED.allowed_payment_methods,
			updated_at = EXCLUDED.updated_at`

	deleteVariantsSQL = `DELETE FROM variants WHERE product_id = $1`

	insertVariantSQL = `INSERT INTO variants (id, product_id, position, color, images) VALUES ($1, $2, $3, $4, $5)`

	insertSizeSQL = `INSERT INTO sizes (id, variant_id, position, label, stock, price, original_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	productIDsByOwnerSQL = `SELECT id FROM products WHERE owner_id = $1 ORDER BY id`

	// stockSizeFilter pins a size to its variant and product.
	stockSizeFilter = `s.id = $2 AND s.variant_id = $3
		AND EXISTS (SELECT 1 FROM variants v WHERE v.id = s.variant_id AND v.product_id = $4)`

	debitStockSQL  = `UPDATE sizes s SET stock = s.stock - $1 WHERE ` + stockSizeFilter + ` AND s.stock >= $1`
	creditStockSQL = `UPDATE sizes s SET stock = s.stock + $1 WHERE ` + stockSizeFilter
	setStockSQL    = `UPDATE sizes s SET stock = $1 WHERE ` + stockSizeFilter
)

var _ catalog.Repository = (*ProductRepository)(nil)

// ProductRepository implements catalog.Repository backed by PostgreSQL.
type ProductRepository struct {
	c conn
}

// GetByID returns a single product with its variants and sizes.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	products, err := r.load(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	if len(products) == 0 {
		return nil, catalog.ErrNotFound
	}
	return &products[0], nil
}

// GetByIDs returns the products matching any of ids. Unknown ids are skipped.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	products, err := r.load(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return products, nil
}

// List returns one page of products matching f and the total match count.
func (r *ProductRepository) List(ctx context.Context, f catalog.Filter) ([]catalog.Product, int, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.Category != "" {
		conds = append(conds, "category = "+arg(f.Category))
	}
	if f.OwnerID != "" {
		conds = append(conds, "owner_id = "+arg(f.OwnerID))
	}
	if f.Search != "" {
		conds = append(conds, "name ILIKE '%' || "+arg(f.Search)+" || '%'")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.c.q.QueryRow(ctx, `SELECT count(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count products")
	}

	query := `SELECT ` + productColumns + ` FROM products` + where + ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}
	products, err := r.load(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list products")
	}
	return products, total, nil
}

func (r *ProductRepository) load(ctx context.Context, query string, args ...any) ([]catalog.Product, error) {
	rows, err := r.c.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return products, nil
	}

	ids := make([]string, len(products))
	byID := make(map[string]*catalog.Product, len(products))
	for i := range products {
		ids[i] = products[i].ID
		byID[products[i].ID] = &products[i]
	}

	rows, err = r.c.q.Query(ctx, listVariantsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "list variants")
	}
	variants, err := pgx.CollectRows(rows, scanVariant)
	if err != nil {
		return nil, errors.Wrap(err, "scan variants")
	}

	rows, err = r.c.q.Query(ctx, listSizesSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "list sizes")
	}
	sizes, err := pgx.CollectRows(rows, scanSize)
	if err != nil {
		return nil, errors.Wrap(err, "scan sizes")
	}
	sizesByVariant := make(map[string][]catalog.Size)
	for _, s := range sizes {
		sizesByVariant[s.variantID] = append(sizesByVariant[s.variantID], s.Size)
	}

	for _, v := range variants {
		v.Sizes = sizesByVariant[v.ID]
		p := byID[v.productID]
		p.Variants = append(p.Variants, v.Variant)
	}
	return products, nil
}

type variantRow struct {
	catalog.Variant
	productID string
}

type sizeRow struct {
	catalog.Size
	variantID string
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var (
		p       catalog.Product
		methods []string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.OwnerID, &methods, &p.CreatedAt, &p.UpdatedAt)
	for _, m := range methods {
		p.AllowedPaymentMethods = append(p.AllowedPaymentMethods, catalog.PaymentMethod(m))
	}
	return p, err
}

func scanVariant(row pgx.CollectableRow) (variantRow, error) {
	var v variantRow
	err := row.Scan(&v.ID, &v.productID, &v.Color, &v.Images)
	return v, err
}

func scanSize(row pgx.CollectableRow) (sizeRow, error) {
	var (
		s             sizeRow
		price, origin decimal.Decimal
	)
	err := row.Scan(&s.ID, &s.variantID, &s.Label, &s.Stock, &price, &origin)
	s.Price = price
	s.OriginalPrice = origin
	return s, err
}

// IDsByOwner returns the ids of every product owned by ownerID.
func (r *ProductRepository) IDsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := r.c.q.Query(ctx, productIDsByOwnerSQL, ownerID)
	if err != nil {
		return nil, errors.Wrapf(err, "list products of owner %q", ownerID)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Save replaces the product together with its variants and sizes.
func (r *ProductRepository) Save(ctx context.Context, p *catalog.Product) error {
	methods := make([]string, len(p.AllowedPaymentMethods))
	for i, m := range p.AllowedPaymentMethods {
		methods[i] = string(m)
	}

	err := pgx.BeginFunc(ctx, r.c.q, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Category, p.OwnerID, methods, p.CreatedAt, p.UpdatedAt,
		); err != nil {
			return errors.Wrap(err, "upsert product")
		}
		if _, err := tx.Exec(ctx, deleteVariantsSQL, p.ID); err != nil {
			return errors.Wrap(err, "delete variants")
		}
		for vi, v := range p.Variants {
			images := v.Images
			if images == nil {
				images = []string{}
			}
			if _, err := tx.Exec(ctx, insertVariantSQL, v.ID, p.ID, vi, v.Color, images); err != nil {
				return errors.Wrapf(err, "insert variant %q", v.ID)
			}
			for si, s := range v.Sizes {
				if _, err := tx.Exec(ctx, insertSizeSQL,
					s.ID, v.ID, si, s.Label, s.Stock, s.Price, s.OriginalPrice,
				); err != nil {
					return errors.Wrapf(err, "insert size %q", s.ID)
				}
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "save product %q", p.ID)
	}
	return nil
}

// DebitStock decrements stock with a compare-and-swap on the remaining units.
func (r *ProductRepository) DebitStock(ctx context.Context, ref catalog.StockRef, qty int) error {
	tag, err := r.c.q.Exec(ctx, debitStockSQL, qty, ref.SizeID, ref.VariantID, ref.ProductID)
	if err != nil {
		return errors.Wrapf(err, "debit stock of size %q", ref.SizeID)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrStockConflict
	}
	return nil
}

// CreditStock increments stock, reporting false when the size is gone.
func (r *ProductRepository) CreditStock(ctx context.Context, ref catalog.StockRef, qty int) (bool, error) {
	tag, err := r.c.q.Exec(ctx, creditStockSQL, qty, ref.SizeID, ref.VariantID, ref.ProductID)
	if err != nil {
		return false, errors.Wrapf(err, "credit stock of size %q", ref.SizeID)
	}
	return tag.RowsAffected() > 0, nil
}

// SetStock restores an exact stock value.
func (r *ProductRepository) SetStock(ctx context.Context, ref catalog.StockRef, stock int) error {
	tag, err := r.c.q.Exec(ctx, setStockSQL, stock, ref.SizeID, ref.VariantID, ref.ProductID)
	if err != nil {
		return errors.Wrapf(err, "set stock of size %q", ref.SizeID)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}
