package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/itemstats/internal/config"
	"github.com/JonMunkholm/itemstats/internal/etl"
	"github.com/JonMunkholm/itemstats/internal/store"
)

// fakeRepo is an in-memory Repository. WithTx works on a copy that is
// kept only when fn succeeds.
type fakeRepo struct {
	mu       sync.Mutex
	items    map[etl.Key]etl.Record
	runs     []store.ImportRun
	avg      map[string]decimal.Decimal
	avgCalls int
	txCalls  int
	filter   store.ItemFilter
	runLimit int
	pingErr  error
	onTx     func()
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{items: make(map[etl.Key]etl.Record)}
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(tx etl.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txCalls++
	if r.onTx != nil {
		r.onTx()
	}

	staged := make(map[etl.Key]etl.Record, len(r.items))
	for k, v := range r.items {
		staged[k] = v
	}
	if err := fn(fakeTx(staged)); err != nil {
		return err
	}
	r.items = staged
	return nil
}

func (r *fakeRepo) Ping(ctx context.Context) error { return r.pingErr }

func (r *fakeRepo) ListItems(ctx context.Context, f store.ItemFilter) (store.ItemPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filter = f
	return store.ItemPage{Count: int64(len(r.items)), Page: f.Page, PageSize: f.PageSize}, nil
}

func (r *fakeRepo) AvgPriceByCategory(ctx context.Context) (map[string]decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.avgCalls++
	out := make(map[string]decimal.Decimal, len(r.avg))
	for k, v := range r.avg {
		out[k] = v
	}
	return out, nil
}

func (r *fakeRepo) RecordRun(ctx context.Context, run store.ImportRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *fakeRepo) RecentRuns(ctx context.Context, limit int) ([]store.ImportRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runLimit = limit
	return append([]store.ImportRun(nil), r.runs...), nil
}

func (r *fakeRepo) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func (r *fakeRepo) lastRun() store.ImportRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[len(r.runs)-1]
}

type fakeTx map[etl.Key]etl.Record

func (tx fakeTx) FetchByKeys(ctx context.Context, keys []etl.Key) (map[etl.Key]etl.Record, error) {
	out := make(map[etl.Key]etl.Record)
	for _, k := range keys {
		if rec, ok := tx[k]; ok {
			out[k] = rec
		}
	}
	return out, nil
}

func (tx fakeTx) BulkInsert(ctx context.Context, records []etl.Record) (int64, error) {
	for _, rec := range records {
		if _, ok := tx[rec.Key()]; ok {
			return 0, errors.New("duplicate key")
		}
		tx[rec.Key()] = rec
	}
	return int64(len(records)), nil
}

func (tx fakeTx) BulkUpdate(ctx context.Context, records []etl.Record) (int64, error) {
	var n int64
	for _, rec := range records {
		cur, ok := tx[rec.Key()]
		if !ok || !cur.UpdatedAt.Before(rec.UpdatedAt) {
			continue
		}
		tx[rec.Key()] = rec
		n++
	}
	return n, nil
}

// failingCache errors on every call.
type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}

func testConfig() *config.Config {
	return &config.Config{
		Import: config.ImportConfig{
			SampleSource:   "sample_data/sample.csv",
			FetchTimeout:   5 * time.Second,
			MaxSourceBytes: 1 << 20,
			MaxConcurrent:  1,
			MaxWaitTime:    20 * time.Millisecond,
			Timeout:        10 * time.Second,
		},
		Cache: config.CacheConfig{StatsTTL: time.Minute},
		API:   config.APIConfig{PageSize: 10, MaxPageSize: 100},
	}
}
