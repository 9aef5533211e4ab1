package etl

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// columnSynonyms maps each canonical column to the source names it may arrive as.
var columnSynonyms = map[string][]string{
	ColName:      {"title", "product", "item", "item_name"},
	ColCategory:  {"cat", "group", "type"},
	ColPrice:     {"cost", "amount", "value"},
	ColUpdatedAt: {"updated", "updatedat", "last_update", "last_updated"},
}

// ColumnMapping tells which source column feeds each canonical field.
// A field without an entry has no source column and is missing on every row.
type ColumnMapping map[string]string

// InferColumns matches source columns to the canonical schema.
//
// Comparison ignores case and surrounding whitespace. A column that already
// carries the canonical name wins; otherwise the first column, in source order,
// whose name is a synonym is used. A source column feeds at most one field.
func InferColumns(columns []string) ColumnMapping {
	mapping := make(ColumnMapping, len(CanonicalColumns))
	used := make(map[string]bool, len(columns))

	for _, canonical := range CanonicalColumns {
		for _, col := range columns {
			if foldColumn(col) == canonical && !used[col] {
				mapping[canonical] = col
				used[col] = true
				break
			}
		}
	}

	for _, canonical := range CanonicalColumns {
		if _, ok := mapping[canonical]; ok {
			continue
		}
		for _, col := range columns {
			if used[col] {
				continue
			}
			if isSynonym(canonical, foldColumn(col)) {
				mapping[canonical] = col
				used[col] = true
				break
			}
		}
	}

	return mapping
}

func foldColumn(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func isSynonym(canonical, folded string) bool {
	for _, syn := range columnSynonyms[canonical] {
		if syn == folded {
			return true
		}
	}
	return false
}

// Normalizer turns raw rows into canonical records.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer creates a Normalizer. now supplies the timestamp used for rows
// without a readable updated_at; nil means time.Now.
func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now}
}

// Normalize maps columns once for the whole table, then coerces every row.
// Coercion never fails: unreadable values fall back to their defaults.
// All rows missing updated_at share one instant captured at the start.
func (n *Normalizer) Normalize(table *RawTable) []Record {
	if table == nil || len(table.Rows) == 0 {
		return nil
	}

	now := canonicalTime(n.now())
	mapping := InferColumns(table.Columns)

	out := make([]Record, 0, len(table.Rows))
	for _, row := range table.Rows {
		rec := Record{
			Name:     coerceString(cell(row, mapping, ColName)),
			Category: coerceString(cell(row, mapping, ColCategory)),
			Price:    coercePrice(cell(row, mapping, ColPrice)),
		}
		ts, ok := parseTimestamp(cell(row, mapping, ColUpdatedAt), now)
		if !ok {
			ts = now
		}
		rec.UpdatedAt = ts
		out = append(out, rec)
	}
	return out
}

func cell(row map[string]any, mapping ColumnMapping, canonical string) any {
	col, ok := mapping[canonical]
	if !ok {
		return nil
	}
	return row[col]
}

// coerceString renders any cell value as text. Missing values become "".
func coerceString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

// coercePrice reads a numeric cell. Anything unreadable becomes zero.
func coercePrice(v any) decimal.Decimal {
	switch x := v.(type) {
	case nil:
		return decimal.Zero
	case string:
		return parseDecimal(x)
	case json.Number:
		return parseDecimal(x.String())
	case float64:
		return decimal.NewFromFloat(x)
	case int:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	case bool:
		if x {
			return decimal.NewFromInt(1)
		}
		return decimal.Zero
	default:
		return decimal.Zero
	}
}

func parseDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
