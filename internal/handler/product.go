package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/paging"
)

const (
	defaultProductLimit = 8
	maxProductLimit     = 100
)

// ListProducts pages through the catalog, optionally filtered by category,
// owner or a name search.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pg := paging.New(queryInt(r, "page"), queryInt(r, "limit"), defaultProductLimit, maxProductLimit)
	page, err := h.catalog.ListProducts(r.Context(), catalog.Filter{
		Category: q.Get("category"),
		OwnerID:  q.Get("owner"),
		Search:   q.Get("q"),
		Offset:   pg.Offset(),
		Limit:    pg.Limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	products := make([]productDTO, len(page.Products))
	for i := range page.Products {
		products[i] = newProductDTO(&page.Products[i])
	}
	writeSuccess(w, http.StatusOK, "", envelope{
		"products":   products,
		"pagination": pg.Info(page.Total),
	})
}

// GetProduct returns a single product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", envelope{"product": newProductDTO(p)})
}
