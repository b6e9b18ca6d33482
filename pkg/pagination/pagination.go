package pagination

import (
	"net/http"
	"net/url"
	"strconv"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
	// MaxPage keeps Offset far from integer overflow.
	MaxPage = 1_000_000
)

// Params holds pagination parameters extracted from query strings.
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Offset  int `json:"-"`
}

// DefaultParams returns the first page at the default size.
func DefaultParams() Params {
	return Params{Page: 1, PerPage: DefaultPerPage}
}

// New builds Params for page and perPage, clamping out-of-range values.
func New(page, perPage int) Params {
	p := DefaultParams()
	if page > 0 {
		p.Page = min(page, MaxPage)
	}
	if perPage > 0 {
		p.PerPage = min(perPage, MaxPerPage)
	}
	p.Offset = (p.Page - 1) * p.PerPage
	return p
}

// FromRequest extracts pagination parameters from an HTTP request.
// "limit" is accepted as an alias of "per_page".
func FromRequest(r *http.Request) Params {
	q := r.URL.Query()
	perPage := q.Get("per_page")
	if perPage == "" {
		perPage = q.Get("limit")
	}
	return New(atoi(q.Get("page")), atoi(perPage))
}

// Query encodes p as query parameters understood by FromRequest.
func (p Params) Query() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(p.Page))
	v.Set("per_page", strconv.Itoa(p.PerPage))
	return v
}

// Meta describes the page a list response was cut from.
type Meta struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"perPage"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// NewMeta computes page counts for total items split by params.
func NewMeta(total int, params Params) Meta {
	totalPages := 0
	if params.PerPage > 0 {
		totalPages = total / params.PerPage
		if total%params.PerPage > 0 {
			totalPages++
		}
	}
	return Meta{
		Page:       params.Page,
		PerPage:    params.PerPage,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    params.Page < totalPages,
		HasPrev:    params.Page > 1,
	}
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
