package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/user"
	"github.com/xenking/kart-checkout/internal/ids"
	"github.com/xenking/kart-checkout/internal/promo"
	"github.com/xenking/kart-checkout/internal/storage"
)

type sizeJSON struct {
	Label         string          `json:"label"`
	Stock         int             `json:"stock"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"originalPrice"`
}

type variantJSON struct {
	Color  string     `json:"color"`
	Images []string   `json:"images"`
	Sizes  []sizeJSON `json:"sizes"`
}

type productJSON struct {
	Name                  string        `json:"name"`
	Category              string        `json:"category"`
	AllowedPaymentMethods []string      `json:"allowedPaymentMethods"`
	Variants              []variantJSON `json:"variants"`
}

func price(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

var defaultProducts = []productJSON{
	{
		Name:     "Runner Sneaker",
		Category: "shoes",
		Variants: []variantJSON{
			{Color: "red", Sizes: []sizeJSON{
				{Label: "M", Stock: 25, Price: price(300), OriginalPrice: price(350)},
				{Label: "L", Stock: 25, Price: price(300), OriginalPrice: price(350)},
			}},
			{Color: "black", Sizes: []sizeJSON{
				{Label: "M", Stock: 10, Price: price(320), OriginalPrice: price(320)},
			}},
		},
	},
	{
		Name:                  "Canvas Tote",
		Category:              "bags",
		AllowedPaymentMethods: []string{"card", "upi"},
		Variants: []variantJSON{
			{Color: "natural", Sizes: []sizeJSON{
				{Label: "One Size", Stock: 50, Price: price(120), OriginalPrice: price(120)},
			}},
		},
	},
	{
		Name:     "Merino Hoodie",
		Category: "apparel",
		Variants: []variantJSON{
			{Color: "grey", Sizes: []sizeJSON{
				{Label: "S", Stock: 8, Price: price(900), OriginalPrice: price(1100)},
				{Label: "M", Stock: 12, Price: price(900), OriginalPrice: price(1100)},
			}},
		},
	},
}

func loadProducts(path string) ([]productJSON, error) {
	if path == "" {
		return defaultProducts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read products file")
	}
	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}
	return products, nil
}

func (p productJSON) product(ownerID string, now time.Time) *catalog.Product {
	out := &catalog.Product{
		ID:        ids.New(ids.Product),
		Name:      p.Name,
		Category:  p.Category,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, m := range p.AllowedPaymentMethods {
		out.AllowedPaymentMethods = append(out.AllowedPaymentMethods, catalog.PaymentMethod(m))
	}
	for _, v := range p.Variants {
		variant := catalog.Variant{ID: ids.New(ids.Variant), Color: v.Color, Images: v.Images}
		for _, s := range v.Sizes {
			variant.Sizes = append(variant.Sizes, catalog.Size{
				ID:            ids.New(ids.Size),
				Label:         s.Label,
				Stock:         s.Stock,
				Price:         s.Price,
				OriginalPrice: s.OriginalPrice,
			})
		}
		out.Variants = append(out.Variants, variant)
	}
	return out
}

type seeder struct {
	store storage.Store
	promo *promo.Service
	lg    *zap.Logger
	now   time.Time
}

func (s *seeder) newUser(username string, role auth.Role) *user.User {
	return &user.User{
		ID:            ids.New(ids.User),
		Username:      username,
		Email:         username + "@kart.local",
		Role:          role,
		EmailVerified: true,
		Status:        user.StatusActive,
		CreatedAt:     s.now,
	}
}

// seed writes the catalog, staff, customers and coupons. It returns every
// created account.
func (s *seeder) seed(ctx context.Context, products []productJSON, customers int) ([]*user.User, error) {
	admin := s.newUser("admin", auth.RoleAdmin)
	owner := s.newUser("owner", auth.RoleOwner)
	accounts := []*user.User{admin, owner}
	for _, u := range accounts {
		if err := s.store.Tx().Users().Create(ctx, u); err != nil {
			return nil, errors.Wrapf(err, "create %s", u.Username)
		}
	}

	var first *catalog.Product
	for _, p := range products {
		product := p.product(owner.ID, s.now)
		if err := s.store.Tx().Products().Save(ctx, product); err != nil {
			return nil, errors.Wrapf(err, "save product %q", p.Name)
		}
		if first == nil {
			first = product
		}
		s.lg.Info("Saved product", zap.String("id", product.ID), zap.String("name", product.Name))
	}

	staff := auth.Principal{UserID: admin.ID, Role: auth.RoleAdmin}
	if err := s.seedCoupons(ctx, staff); err != nil {
		return nil, err
	}

	for i := range customers {
		u := s.newUser(fmt.Sprintf("customer%d", i+1), auth.RoleUser)
		if first != nil && len(first.Variants) > 0 && len(first.Variants[0].Sizes) > 0 {
			v := first.Variants[0]
			u.Cart = []user.CartLine{{
				ID:        ids.New(ids.CartLine),
				ProductID: first.ID,
				VariantID: v.ID,
				SizeID:    v.Sizes[0].ID,
				Quantity:  2,
				UnitPrice: v.Sizes[0].Price,
			}}
		}
		if err := s.store.Tx().Users().Create(ctx, u); err != nil {
			return nil, errors.Wrapf(err, "create %s", u.Username)
		}
		reg, err := s.promo.OnUserRegistered(ctx, u.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "register %s", u.Username)
		}
		if reg.Welcome != nil {
			s.lg.Info("Issued welcome coupon", zap.String("username", u.Username), zap.String("code", reg.Welcome.Code))
		}
		accounts = append(accounts, u)
	}

	if customers > 0 {
		if _, err := s.promo.AssignCoupon(ctx, staff, promo.AssignRequest{
			UserID: accounts[2].ID,
			Code:   "VIPTWENTY",
		}); err != nil {
			return nil, errors.Wrap(err, "assign VIPTWENTY")
		}
	}
	return accounts, nil
}

func (s *seeder) seedCoupons(ctx context.Context, staff auth.Principal) error {
	from := s.now.Format(time.RFC3339)
	until := s.now.AddDate(0, 6, 0).Format(time.RFC3339)
	limit := 100
	eighteen := decimal.NewFromInt(18)
	twenty := decimal.NewFromInt(20)
	fifty := decimal.NewFromInt(50)
	maxDiscount := decimal.NewFromInt(500)

	for _, in := range []promo.CouponInput{
		{
			Code:            "HAPPYHOURS",
			Description:     "Happy Hours: 18% off entire order",
			Type:            "universal",
			DiscountType:    "percentage",
			DiscountValue:   &eighteen,
			ValidFrom:       from,
			ValidUntil:      until,
			UsageLimit:      &limit,
			MaximumDiscount: &maxDiscount,
		},
		{
			Code:          "FLAT50",
			Description:   "50 off any order",
			Type:          "universal",
			DiscountType:  "fixed",
			DiscountValue: &fifty,
			ValidFrom:     from,
			ValidUntil:    until,
		},
		{
			Code:          "VIPTWENTY",
			Description:   "VIP: 20% off",
			Type:          "user",
			DiscountType:  "percentage",
			DiscountValue: &twenty,
			ValidFrom:     from,
			ValidUntil:    until,
		},
	} {
		c, err := s.promo.CreateCoupon(ctx, staff, in)
		if err != nil {
			return errors.Wrapf(err, "create coupon %s", in.Code)
		}
		s.lg.Info("Created coupon", zap.String("code", c.Code), zap.String("type", string(c.Type)))
	}
	return nil
}
