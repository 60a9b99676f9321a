// Package paging normalizes page/limit parameters and builds pagination
// metadata for listings.
package paging

// Page is a 1-based page request.
type Page struct {
	Number int
	Limit  int
}

// New normalizes a page request: number is at least 1 and limit falls back
// to def and is clamped to [1, ceiling].
func New(number, limit, def, ceiling int) Page {
	if number < 1 {
		number = 1
	}
	if limit <= 0 {
		limit = def
	}
	limit = min(max(limit, 1), ceiling)
	return Page{Number: number, Limit: limit}
}

// Offset returns the number of records preceding the page.
func (p Page) Offset() int { return (p.Number - 1) * p.Limit }

// Info describes where a page sits in a listing.
type Info struct {
	TotalCount  int  `json:"totalCount"`
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	Limit       int  `json:"limit"`
	HasNext     bool `json:"hasNext"`
	HasPrevious bool `json:"hasPrevious"`
}

// Info computes pagination metadata for total records.
func (p Page) Info(total int) Info {
	pages := 0
	if total > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return Info{
		TotalCount:  total,
		CurrentPage: p.Number,
		TotalPages:  pages,
		Limit:       p.Limit,
		HasNext:     p.Number < pages,
		HasPrevious: p.Number > 1,
	}
}
