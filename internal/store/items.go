package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Item is a stored row.
type Item struct {
	ID        int64
	Name      string
	Category  string
	Price     decimal.Decimal
	UpdatedAt time.Time
}

// ItemFilter narrows ListItems. Nil bounds and an empty category are ignored.
type ItemFilter struct {
	Category string           // Case-insensitive exact match
	PriceMin *decimal.Decimal // Inclusive
	PriceMax *decimal.Decimal // Inclusive
	Page     int              // 1-based
	PageSize int
}

// ItemPage is one page of a filtered listing.
type ItemPage struct {
	Items    []Item
	Count    int64 // Matching rows across all pages
	Page     int
	PageSize int
}

// HasNext reports whether a page follows this one.
func (p ItemPage) HasNext() bool {
	return int64(p.Page)*int64(p.PageSize) < p.Count
}

// HasPrevious reports whether a page precedes this one.
func (p ItemPage) HasPrevious() bool {
	return p.Page > 1
}

func itemWhere(f ItemFilter) *whereBuilder {
	wb := newWhereBuilder()
	if f.Category != "" {
		wb.AddExpr("lower(category) = lower($%d)", f.Category)
	}
	if f.PriceMin != nil {
		wb.AddExpr("price >= $%d", toNumeric(*f.PriceMin))
	}
	if f.PriceMax != nil {
		wb.AddExpr("price <= $%d", toNumeric(*f.PriceMax))
	}
	return wb
}

// ListItems returns one page of items ordered by id.
// Page 1 is always valid; any later page past the last match is ErrInvalidPage.
func (s *Store) ListItems(ctx context.Context, f ItemFilter) (ItemPage, error) {
	if f.Page < 1 || f.PageSize < 1 {
		return ItemPage{}, ErrInvalidPage
	}

	wb := itemWhere(f)
	where, args := wb.Build()

	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM items"+where, args...).Scan(&count); err != nil {
		return ItemPage{}, fmt.Errorf("count items: %w", err)
	}

	offset := int64(f.Page-1) * int64(f.PageSize)
	if f.Page > 1 && offset >= count {
		return ItemPage{}, ErrInvalidPage
	}

	page := ItemPage{Count: count, Page: f.Page, PageSize: f.PageSize}
	if count == 0 {
		return page, nil
	}

	n := wb.NextArg()
	query := fmt.Sprintf(
		"SELECT id, name, category, price, updated_at FROM items%s ORDER BY id LIMIT $%d OFFSET $%d",
		where, n, n+1,
	)
	rows, err := s.pool.Query(ctx, query, append(args, f.PageSize, offset)...)
	if err != nil {
		return ItemPage{}, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it    Item
			price pgtype.Numeric
		)
		if err := rows.Scan(&it.ID, &it.Name, &it.Category, &price, &it.UpdatedAt); err != nil {
			return ItemPage{}, fmt.Errorf("scan item: %w", err)
		}
		it.Price = fromNumeric(price)
		it.UpdatedAt = it.UpdatedAt.UTC()
		page.Items = append(page.Items, it)
	}
	if err := rows.Err(); err != nil {
		return ItemPage{}, fmt.Errorf("list items: %w", err)
	}
	return page, nil
}

// AvgPriceByCategory returns the mean price of every category, rounded to two places.
func (s *Store) AvgPriceByCategory(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT category, ROUND(AVG(price), 2) FROM items GROUP BY category ORDER BY category")
	if err != nil {
		return nil, fmt.Errorf("average price by category: %w", err)
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			category string
			avg      pgtype.Numeric
		)
		if err := rows.Scan(&category, &avg); err != nil {
			return nil, fmt.Errorf("scan average: %w", err)
		}
		out[category] = fromNumeric(avg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("average price by category: %w", err)
	}
	return out, nil
}
