package etl

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// memStore is an in-memory Store. Writes made inside WithTx are discarded
// when fn fails, mirroring a rolled-back transaction.
type memStore struct {
	mu        sync.Mutex
	items     map[Key]Record
	failOn    string // "fetch", "insert" or "update"
	fetches   int
	lastFetch []Key

	// afterFetch runs inside the transaction once existing rows are read,
	// standing in for a concurrent writer.
	afterFetch func(items map[Key]Record)
}

func newMemStore() *memStore {
	return &memStore{items: make(map[Key]Record)}
}

var errInjected = errors.New("injected failure")

func (s *memStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[Key]Record, len(s.items))
	for k, v := range s.items {
		staged[k] = v
	}

	if err := fn(&memTx{store: s, items: staged}); err != nil {
		return err
	}
	s.items = staged
	return nil
}

func (s *memStore) get(name, category string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[Key{Name: name, Category: category}]
	return r, ok
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *memStore) records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.items))
	for _, r := range s.items {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type memTx struct {
	store *memStore
	items map[Key]Record
}

func (tx *memTx) FetchByKeys(ctx context.Context, keys []Key) (map[Key]Record, error) {
	if tx.store.failOn == "fetch" {
		return nil, errInjected
	}
	tx.store.fetches++
	tx.store.lastFetch = keys
	out := make(map[Key]Record)
	for _, k := range keys {
		if r, ok := tx.items[k]; ok {
			out[k] = r
		}
	}
	if tx.store.afterFetch != nil {
		tx.store.afterFetch(tx.items)
	}
	return out, nil
}

func (tx *memTx) BulkInsert(ctx context.Context, records []Record) (int64, error) {
	if tx.store.failOn == "insert" {
		return 0, errInjected
	}
	for _, r := range records {
		if _, ok := tx.items[r.Key()]; ok {
			return 0, errors.New("duplicate key")
		}
		tx.items[r.Key()] = r
	}
	return int64(len(records)), nil
}

func (tx *memTx) BulkUpdate(ctx context.Context, records []Record) (int64, error) {
	if tx.store.failOn == "update" {
		return 0, errInjected
	}
	var n int64
	for _, r := range records {
		cur, ok := tx.items[r.Key()]
		if !ok || !cur.UpdatedAt.Before(r.UpdatedAt) {
			continue
		}
		cur.Price = r.Price
		cur.UpdatedAt = r.UpdatedAt
		tx.items[r.Key()] = cur
		n++
	}
	return n, nil
}
