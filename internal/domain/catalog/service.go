package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"golang.org/x/sync/singleflight"
)

const (
	productKeyPrefix = "product:"
	listKeyPrefix    = "list:"

	defaultListLimit = 20
	maxListLimit     = 100
)

// Page is one page of a product listing.
type Page struct {
	Products []Product
	Total    int
}

// Service serves catalog reads through the cache it owns. Writers call
// Invalidate after committing stock changes.
type Service struct {
	repo  Repository
	cache Cache
	group singleflight.Group
}

// NewService creates a catalog read service. A nil cache disables caching.
func NewService(repo Repository, cache Cache) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	return &Service{repo: repo, cache: cache}
}

// GetProduct returns a product by id, filling the cache on a miss.
func (s *Service) GetProduct(ctx context.Context, id string) (*Product, error) {
	key := productKeyPrefix + id
	if v, ok := s.cache.Get(key); ok {
		return v.(*Product).Clone(), nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, p)
		return p, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %s", id)
	}
	return v.(*Product).Clone(), nil
}

// ListProducts returns one page of products matching f.
func (s *Service) ListProducts(ctx context.Context, f Filter) (*Page, error) {
	f = normalizeFilter(f)
	key := listKey(f)
	if v, ok := s.cache.Get(key); ok {
		return v.(*Page), nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		products, total, err := s.repo.List(ctx, f)
		if err != nil {
			return nil, err
		}
		page := &Page{Products: products, Total: total}
		s.cache.Set(key, page)
		return page, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return v.(*Page), nil
}

// Invalidate drops cached entries for the given products and every cached
// listing, since listings embed stock.
func (s *Service) Invalidate(productIDs ...string) {
	for _, id := range productIDs {
		s.cache.InvalidatePrefix(productKeyPrefix + id)
	}
	s.cache.InvalidatePrefix(listKeyPrefix)
}

func normalizeFilter(f Filter) Filter {
	f.Category = strings.TrimSpace(f.Category)
	f.Search = strings.ToLower(strings.TrimSpace(f.Search))
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func listKey(f Filter) string {
	return fmt.Sprintf("%scat=%s|owner=%s|q=%s|off=%d|lim=%d",
		listKeyPrefix, f.Category, f.OwnerID, f.Search, f.Offset, f.Limit)
}
