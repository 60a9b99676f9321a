package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	Repository

	products map[string]*Product
	gets     int
	lists    int
	err      error
}

func (m *mockRepo) GetByID(_ context.Context, id string) (*Product, error) {
	m.gets++
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *mockRepo) List(_ context.Context, f Filter) ([]Product, int, error) {
	m.lists++
	var out []Product
	for _, p := range m.products {
		if f.Category == "" || p.Category == f.Category {
			out = append(out, *p.Clone())
		}
	}
	return out, len(out), nil
}

func newMockRepo(products ...Product) *mockRepo {
	m := &mockRepo{products: make(map[string]*Product)}
	for i := range products {
		m.products[products[i].ID] = &products[i]
	}
	return m
}

func TestService_GetProductCaches(t *testing.T) {
	repo := newMockRepo(Product{ID: "p1", Name: "Tee"})
	svc := NewService(repo, NewLRUCache(16, time.Minute))
	ctx := context.Background()

	p, err := svc.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Tee", p.Name)

	p.Name = "mutated"

	p, err = svc.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Tee", p.Name, "cached value must not be shared with callers")
	assert.Equal(t, 1, repo.gets)

	svc.Invalidate("p1")
	_, err = svc.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.gets)
}

func TestService_GetProductNotFound(t *testing.T) {
	svc := NewService(newMockRepo(), nil)

	_, err := svc.GetProduct(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_GetProductError(t *testing.T) {
	repo := newMockRepo()
	repo.err = errors.New("connection reset")
	svc := NewService(repo, NewLRUCache(16, time.Minute))

	_, err := svc.GetProduct(context.Background(), "p1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestService_ListProductsInvalidation(t *testing.T) {
	repo := newMockRepo(
		Product{ID: "p1", Category: "shirts"},
		Product{ID: "p2", Category: "shoes"},
	)
	svc := NewService(repo, NewLRUCache(16, time.Minute))
	ctx := context.Background()

	page, err := svc.ListProducts(ctx, Filter{Category: " shirts "})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	_, err = svc.ListProducts(ctx, Filter{Category: "shirts", Limit: defaultListLimit})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.lists, "normalized filters share a cache key")

	svc.Invalidate()
	_, err = svc.ListProducts(ctx, Filter{Category: "shirts"})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.lists)
}

func TestLRUCache_InvalidatePrefix(t *testing.T) {
	c := NewLRUCache(8, time.Minute)
	c.Set("product:a", 1)
	c.Set("product:b", 2)
	c.Set("list:x", 3)

	assert.Equal(t, 2, c.InvalidatePrefix("product:"))
	_, ok := c.Get("product:a")
	assert.False(t, ok)
	v, ok := c.Get("list:x")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestLRUCache_Expires(t *testing.T) {
	c := NewLRUCache(8, 10*time.Millisecond)
	c.Set("k", "v")

	require.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}
