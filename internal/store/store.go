// Package store persists items and import history in Postgres.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/itemstats/internal/etl"
)

//go:embed schema.sql
var schemaSQL string

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store is the Postgres-backed item store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to url and verifies the connection.
func Open(ctx context.Context, url string, cfg PoolConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// WithTx runs fn in a transaction. The transaction commits only if fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx etl.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&itemTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// itemTx implements etl.Tx on a pgx transaction.
type itemTx struct {
	tx pgx.Tx
}

const fetchByKeysSQL = `
SELECT i.name, i.category, i.price, i.updated_at
FROM items i
JOIN unnest($1::text[], $2::text[]) AS k(name, category)
  ON i.name = k.name AND i.category = k.category`

func (t *itemTx) FetchByKeys(ctx context.Context, keys []etl.Key) (map[etl.Key]etl.Record, error) {
	out := make(map[etl.Key]etl.Record, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	names := make([]string, len(keys))
	categories := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.Name
		categories[i] = k.Category
	}

	rows, err := t.tx.Query(ctx, fetchByKeysSQL, names, categories)
	if err != nil {
		return nil, fmt.Errorf("fetch existing items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec   etl.Record
			price pgtype.Numeric
		)
		if err := rows.Scan(&rec.Name, &rec.Category, &price, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		rec.Price = fromNumeric(price)
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		out[rec.Key()] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch existing items: %w", err)
	}
	return out, nil
}

var itemColumns = []string{"name", "category", "price", "updated_at"}

// BulkInsert writes records with the COPY protocol.
func (t *itemTx) BulkInsert(ctx context.Context, records []etl.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.Name, r.Category, toNumeric(r.Price), r.UpdatedAt}
	}

	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{"items"}, itemColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("copy items: %w", err)
	}
	return n, nil
}

// The updated_at guard keeps a concurrent run from moving a row backwards.
const bulkUpdateSQL = `
UPDATE items AS i
SET price = v.price, updated_at = v.updated_at
FROM unnest($1::text[], $2::text[], $3::numeric[], $4::timestamptz[])
  AS v(name, category, price, updated_at)
WHERE i.name = v.name
  AND i.category = v.category
  AND i.updated_at < v.updated_at`

// BulkUpdate overwrites price and updated_at in a single statement.
func (t *itemTx) BulkUpdate(ctx context.Context, records []etl.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	names := make([]string, len(records))
	categories := make([]string, len(records))
	prices := make([]pgtype.Numeric, len(records))
	times := make([]time.Time, len(records))
	for i, r := range records {
		names[i] = r.Name
		categories[i] = r.Category
		prices[i] = toNumeric(r.Price)
		times[i] = r.UpdatedAt
	}

	tag, err := t.tx.Exec(ctx, bulkUpdateSQL, names, categories, prices, times)
	if err != nil {
		return 0, fmt.Errorf("update items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ErrInvalidPage is returned when a requested page lies past the last one.
var ErrInvalidPage = errors.New("invalid page")
