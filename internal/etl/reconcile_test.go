package etl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var (
	t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(24 * time.Hour)
	t2 = t1.Add(24 * time.Hour)
)

func rec(name, category string, price int64, ts time.Time) Record {
	return Record{Name: name, Category: category, Price: decimal.NewFromInt(price), UpdatedAt: ts}
}

func TestDecide(t *testing.T) {
	existing := map[Key]Record{
		{"Phone", "Electronics"}: rec("Phone", "Electronics", 100, t1),
	}

	tests := []struct {
		name        string
		incoming    []Record
		wantInserts []Record
		wantUpdates []Record
	}{
		{
			name:        "new key inserts",
			incoming:    []Record{rec("Book", "Books", 10, t0)},
			wantInserts: []Record{rec("Book", "Books", 10, t0)},
		},
		{
			name:        "newer timestamp updates",
			incoming:    []Record{rec("Phone", "Electronics", 150, t2)},
			wantUpdates: []Record{rec("Phone", "Electronics", 150, t2)},
		},
		{
			name:     "equal timestamp is a no-op",
			incoming: []Record{rec("Phone", "Electronics", 999, t1)},
		},
		{
			name:     "older timestamp is a no-op",
			incoming: []Record{rec("Phone", "Electronics", 999, t0)},
		},
		{
			name:        "same name different category is a new key",
			incoming:    []Record{rec("Phone", "Toys", 5, t0)},
			wantInserts: []Record{rec("Phone", "Toys", 5, t0)},
		},
		{
			name: "duplicate new key keeps newest",
			incoming: []Record{
				rec("Book", "Books", 10, t1),
				rec("Book", "Books", 12, t2),
				rec("Book", "Books", 11, t0),
			},
			wantInserts: []Record{rec("Book", "Books", 12, t2)},
		},
		{
			name: "duplicate new key tie keeps first",
			incoming: []Record{
				rec("Book", "Books", 10, t1),
				rec("Book", "Books", 12, t1),
			},
			wantInserts: []Record{rec("Book", "Books", 10, t1)},
		},
		{
			name: "duplicate stored key keeps newest update",
			incoming: []Record{
				rec("Phone", "Electronics", 150, t2),
				rec("Phone", "Electronics", 175, t2.Add(time.Hour)),
			},
			wantUpdates: []Record{rec("Phone", "Electronics", 175, t2.Add(time.Hour))},
		},
		{
			name: "stale row then newer row",
			incoming: []Record{
				rec("Phone", "Electronics", 50, t0),
				rec("Phone", "Electronics", 150, t2),
			},
			wantUpdates: []Record{rec("Phone", "Electronics", 150, t2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Decide(existing, tt.incoming)
			assertRecords(t, "inserts", plan.Inserts, tt.wantInserts)
			assertRecords(t, "updates", plan.Updates, tt.wantUpdates)
		})
	}
}

func assertRecords(t *testing.T, label string, got, want []Record) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: len = %d, want %d (%v)", label, len(got), len(want), got)
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.Key() != w.Key() || !g.Price.Equal(w.Price) || !g.UpdatedAt.Equal(w.UpdatedAt) {
			t.Errorf("%s[%d] = %+v, want %+v", label, i, g, w)
		}
	}
}

func TestReconcileIdempotent(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store, nil)
	ctx := context.Background()

	batch := []Record{
		rec("Phone", "Electronics", 100, t0),
		rec("Book", "Books", 10, t0),
	}

	got, err := r.Reconcile(ctx, batch)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if got != (Summary{Created: 2, Updated: 0, Total: 2}) {
		t.Errorf("first run = %+v", got)
	}

	got, err = r.Reconcile(ctx, batch)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got != (Summary{Created: 0, Updated: 0, Total: 2}) {
		t.Errorf("second run = %+v", got)
	}
	if store.count() != 2 {
		t.Errorf("stored = %d, want 2", store.count())
	}
}

func TestReconcileKeepsNewestStored(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store, nil)
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, []Record{rec("Phone", "Electronics", 100, t1)}); err != nil {
		t.Fatal(err)
	}

	got, err := r.Reconcile(ctx, []Record{rec("Phone", "Electronics", 50, t0)})
	if err != nil {
		t.Fatal(err)
	}
	if got.Updated != 0 {
		t.Errorf("Updated = %d, want 0", got.Updated)
	}

	stored, _ := store.get("Phone", "Electronics")
	if !stored.Price.Equal(decimal.NewFromInt(100)) || !stored.UpdatedAt.Equal(t1) {
		t.Errorf("stored = %+v, want untouched", stored)
	}
}

func TestReconcileFetchesOnlyIncomingKeys(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store, nil)

	batch := []Record{
		rec("A", "x", 1, t0),
		rec("A", "x", 2, t1),
		rec("B", "x", 3, t0),
	}
	if _, err := r.Reconcile(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
	if len(store.lastFetch) != 2 {
		t.Errorf("fetched %d keys, want 2 unique", len(store.lastFetch))
	}
}

func TestReconcileEmptyBatch(t *testing.T) {
	store := newMemStore()
	got, err := NewReconciler(store, nil).Reconcile(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != (Summary{}) {
		t.Errorf("summary = %+v, want zero", got)
	}
	if store.fetches != 0 {
		t.Errorf("fetches = %d, want 0", store.fetches)
	}
}

func TestReconcilePersistenceFailure(t *testing.T) {
	for _, stage := range []string{"fetch", "insert", "update"} {
		t.Run(stage, func(t *testing.T) {
			store := newMemStore()
			r := NewReconciler(store, nil)
			ctx := context.Background()

			if _, err := r.Reconcile(ctx, []Record{rec("Phone", "Electronics", 100, t0)}); err != nil {
				t.Fatal(err)
			}

			store.failOn = stage
			_, err := r.Reconcile(ctx, []Record{
				rec("Phone", "Electronics", 150, t1),
				rec("Book", "Books", 10, t0),
			})
			if !errors.Is(err, ErrPersistence) {
				t.Fatalf("err = %v, want ErrPersistence", err)
			}
			if !errors.Is(err, errInjected) {
				t.Errorf("err = %v, want wrapped cause", err)
			}
			if StageOf(err) != StageReconcile {
				t.Errorf("StageOf = %q, want reconcile", StageOf(err))
			}

			store.failOn = ""
			if store.count() != 1 {
				t.Errorf("stored = %d, want 1 (rolled back)", store.count())
			}
			stored, _ := store.get("Phone", "Electronics")
			if !stored.Price.Equal(decimal.NewFromInt(100)) {
				t.Errorf("price = %s, want 100", stored.Price)
			}
		})
	}
}

func TestReconcileCountsAppliedUpdates(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	r := NewReconciler(store, nil)

	if _, err := r.Reconcile(ctx, []Record{
		rec("Phone", "Electronics", 100, t0),
		rec("Book", "Books", 10, t0),
	}); err != nil {
		t.Fatal(err)
	}

	// Phone moves to t2 after the read, so the t1 write loses.
	store.afterFetch = func(items map[Key]Record) {
		k := Key{"Phone", "Electronics"}
		items[k] = rec("Phone", "Electronics", 200, t2)
	}

	got, err := r.Reconcile(ctx, []Record{
		rec("Phone", "Electronics", 150, t1),
		rec("Book", "Books", 12, t1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if want := (Summary{Created: 0, Updated: 1, Total: 2}); got != want {
		t.Errorf("summary = %+v, want %+v", got, want)
	}

	phone, _ := store.get("Phone", "Electronics")
	if !phone.Price.Equal(decimal.NewFromInt(200)) || !phone.UpdatedAt.Equal(t2) {
		t.Errorf("Phone = %s @ %s, want 200 @ %s", phone.Price, phone.UpdatedAt, t2)
	}
}
