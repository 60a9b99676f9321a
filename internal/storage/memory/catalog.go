package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

type products struct{ a access }

func (r products) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	var out *catalog.Product
	err := r.a.with(func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return catalog.ErrNotFound
		}
		out = p.Clone()
		return nil
	})
	return out, err
}

func (r products) GetByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	out := make([]catalog.Product, 0, len(ids))
	err := r.a.with(func(st *state) error {
		for _, id := range ids {
			if p, ok := st.products[id]; ok {
				out = append(out, *p.Clone())
			}
		}
		return nil
	})
	return out, err
}

func (r products) List(_ context.Context, f catalog.Filter) ([]catalog.Product, int, error) {
	var (
		out   []catalog.Product
		total int
	)
	search := strings.ToLower(f.Search)
	err := r.a.with(func(st *state) error {
		var matched []catalog.Product
		for _, p := range st.products {
			if f.Category != "" && p.Category != f.Category {
				continue
			}
			if f.OwnerID != "" && p.OwnerID != f.OwnerID {
				continue
			}
			if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
				continue
			}
			matched = append(matched, *p.Clone())
		}
		slices.SortFunc(matched, func(a, b catalog.Product) int {
			if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		total = len(matched)
		out = page(matched, f.Offset, f.Limit)
		return nil
	})
	return out, total, err
}

func (r products) IDsByOwner(_ context.Context, ownerID string) ([]string, error) {
	var out []string
	err := r.a.with(func(st *state) error {
		for id, p := range st.products {
			if p.OwnerID == ownerID {
				out = append(out, id)
			}
		}
		slices.Sort(out)
		return nil
	})
	return out, err
}

func (r products) Save(_ context.Context, p *catalog.Product) error {
	return r.a.with(func(st *state) error {
		st.products[p.ID] = p.Clone()
		return nil
	})
}

func locate(st *state, ref catalog.StockRef) *catalog.Size {
	p, ok := st.products[ref.ProductID]
	if !ok {
		return nil
	}
	v := p.Variant(ref.VariantID)
	if v == nil {
		return nil
	}
	return v.Size(ref.SizeID)
}

func (r products) DebitStock(_ context.Context, ref catalog.StockRef, qty int) error {
	return r.a.with(func(st *state) error {
		sz := locate(st, ref)
		if sz == nil {
			return catalog.ErrNotFound
		}
		if sz.Stock < qty {
			return catalog.ErrStockConflict
		}
		sz.Stock -= qty
		return nil
	})
}

func (r products) CreditStock(_ context.Context, ref catalog.StockRef, qty int) (bool, error) {
	var found bool
	err := r.a.with(func(st *state) error {
		sz := locate(st, ref)
		if sz == nil {
			return nil
		}
		sz.Stock += qty
		found = true
		return nil
	})
	return found, err
}

func (r products) SetStock(_ context.Context, ref catalog.StockRef, stock int) error {
	return r.a.with(func(st *state) error {
		sz := locate(st, ref)
		if sz == nil {
			return catalog.ErrNotFound
		}
		sz.Stock = stock
		return nil
	})
}
