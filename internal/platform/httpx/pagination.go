package httpx

import (
	"net/http"
	"strconv"
	"strings"

	"erp-core/internal/platform/apperr"
)

const (
	// DefaultLimit is the page size used when none is requested.
	DefaultLimit = 10
	// MaxLimit caps the page size.
	MaxLimit = 100
)

// Page is a parsed page request.
type Page struct {
	Page  int
	Limit int
}

// Offset returns the row offset of the page.
func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Pagination is the wire shape of list metadata.
type Pagination struct {
	Total      int  `json:"total"`
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// List is the wire shape of every list endpoint.
type List[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// NewList builds a list response for the given page.
func NewList[T any](items []T, total int, page Page) List[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := 0
	if page.Limit > 0 {
		totalPages = (total + page.Limit - 1) / page.Limit
	}
	return List[T]{
		Items: items,
		Pagination: Pagination{
			Total:      total,
			Page:       page.Page,
			Limit:      page.Limit,
			TotalPages: totalPages,
			HasNext:    page.Page < totalPages,
			HasPrev:    page.Page > 1,
		},
	}
}

// ParsePage reads page and limit query params. Missing values fall back to
// defaults; malformed values are rejected.
func ParsePage(r *http.Request) (Page, error) {
	page := Page{Page: 1, Limit: DefaultLimit}
	q := r.URL.Query()
	if value := q.Get("page"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 1 {
			return Page{}, apperr.BadRequest("invalid_page", "page must be a positive integer")
		}
		page.Page = parsed
	}
	if value := q.Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 1 {
			return Page{}, apperr.BadRequest("invalid_limit", "limit must be a positive integer")
		}
		page.Limit = parsed
	}
	if page.Limit > MaxLimit {
		page.Limit = MaxLimit
	}
	return page, nil
}

// ParseSortOrder normalizes sortOrder to ASC or DESC.
func ParseSortOrder(value string) string {
	if strings.EqualFold(value, "asc") {
		return "ASC"
	}
	return "DESC"
}
