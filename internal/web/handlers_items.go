package web

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/itemstats/internal/core"
	"github.com/JonMunkholm/itemstats/internal/store"
)

// itemJSON is one entry of an item listing. Prices keep two decimals as a string.
type itemJSON struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	Price     string `json:"price"`
	UpdatedAt string `json:"updated_at"`
}

// itemListJSON is a page of items with links to its neighbours.
type itemListJSON struct {
	Count    int64      `json:"count"`
	Next     *string    `json:"next"`
	Previous *string    `json:"previous"`
	Results  []itemJSON `json:"results"`
}

// handleListItems serves GET /api/items.
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	f, err := parseItemFilter(r.URL.Query())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	page, err := s.backend.ListItems(r.Context(), f)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	out := itemListJSON{
		Count:   page.Count,
		Results: make([]itemJSON, 0, len(page.Items)),
	}
	for _, it := range page.Items {
		out.Results = append(out.Results, itemJSON{
			ID:        it.ID,
			Name:      it.Name,
			Category:  it.Category,
			Price:     it.Price.StringFixed(2),
			UpdatedAt: it.UpdatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	if page.HasNext() {
		u := pageURL(r, page.Page+1)
		out.Next = &u
	}
	if page.HasPrevious() {
		u := pageURL(r, page.Page-1)
		out.Previous = &u
	}

	writeJSON(w, out)
}

// parseItemFilter reads category, price_min, price_max, page and page_size.
// A malformed page_size falls back to the default; a malformed page is an
// invalid page.
func parseItemFilter(q url.Values) (store.ItemFilter, error) {
	f := store.ItemFilter{Category: strings.TrimSpace(q.Get("category"))}

	for _, p := range []struct {
		name string
		dst  **decimal.Decimal
	}{
		{"price_min", &f.PriceMin},
		{"price_max", &f.PriceMax},
	} {
		raw := strings.TrimSpace(q.Get(p.name))
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return f, fmt.Errorf("%s %q: %w", p.name, raw, core.ErrInvalidFilter)
		}
		*p.dst = &d
	}

	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return f, fmt.Errorf("page %q: %w", raw, store.ErrInvalidPage)
		}
		f.Page = n
	}

	if raw := strings.TrimSpace(q.Get("page_size")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			f.PageSize = n
		}
	}
	return f, nil
}

// pageURL returns the absolute URL of the request with its page replaced.
// The first page is linked without a page parameter.
func pageURL(r *http.Request, page int) string {
	q := r.URL.Query()
	if page <= 1 {
		q.Del("page")
	} else {
		q.Set("page", strconv.Itoa(page))
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     r.URL.Path,
		RawQuery: q.Encode(),
	}
	return u.String()
}
