package etl

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Canonical column names, in output order.
const (
	ColName      = "name"
	ColCategory  = "category"
	ColPrice     = "price"
	ColUpdatedAt = "updated_at"
)

// CanonicalColumns lists the normalized schema in output order.
var CanonicalColumns = []string{ColName, ColCategory, ColPrice, ColUpdatedAt}

// Format is the tabular encoding of a source.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// RawTable is the loader output: rows keyed by their original column names.
// Missing cells are absent from the row map or hold nil.
type RawTable struct {
	Source  string
	Format  Format
	Columns []string         // Source header in original order
	Rows    []map[string]any // One map per data row
	Bytes   int64            // Bytes read from the source
}

// Key is the natural identity of an item.
type Key struct {
	Name     string
	Category string
}

// Record is a canonical, normalized item.
type Record struct {
	Name      string
	Category  string
	Price     decimal.Decimal
	UpdatedAt time.Time
}

// Key returns the record's natural key.
func (r Record) Key() Key {
	return Key{Name: r.Name, Category: r.Category}
}

// Summary reports the outcome of one import run.
type Summary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Total   int `json:"total"`
}

// Tx is the set of persistence operations a reconcile needs.
// All calls on one Tx belong to the same database transaction.
type Tx interface {
	// FetchByKeys returns the stored records whose keys are in keys.
	FetchByKeys(ctx context.Context, keys []Key) (map[Key]Record, error)
	// BulkInsert creates new rows and returns the number written.
	BulkInsert(ctx context.Context, records []Record) (int64, error)
	// BulkUpdate overwrites price and updated_at and returns the number of rows changed.
	BulkUpdate(ctx context.Context, records []Record) (int64, error)
}

// Store runs fn inside a single transaction, committing only if fn returns nil.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
