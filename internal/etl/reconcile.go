package etl

import (
	"context"
	"log/slog"
)

// Plan is the set of writes a batch needs.
type Plan struct {
	Inserts []Record
	Updates []Record
}

// Decide compares incoming records to the stored ones and returns the writes.
//
// A key with no stored record is inserted. A stored key is overwritten only
// when the incoming updated_at is strictly later; equal or older is a no-op.
// Repeated keys in incoming are judged against the pending write for that key,
// so each key appears at most once across Inserts and Updates.
func Decide(existing map[Key]Record, incoming []Record) Plan {
	type pending struct {
		insert bool
		idx    int
	}

	var plan Plan
	seen := make(map[Key]pending, len(incoming))

	for _, rec := range incoming {
		key := rec.Key()

		if p, ok := seen[key]; ok {
			if p.insert {
				if rec.UpdatedAt.After(plan.Inserts[p.idx].UpdatedAt) {
					plan.Inserts[p.idx] = rec
				}
			} else if rec.UpdatedAt.After(plan.Updates[p.idx].UpdatedAt) {
				plan.Updates[p.idx] = rec
			}
			continue
		}

		stored, ok := existing[key]
		switch {
		case !ok:
			seen[key] = pending{insert: true, idx: len(plan.Inserts)}
			plan.Inserts = append(plan.Inserts, rec)
		case rec.UpdatedAt.After(stored.UpdatedAt):
			seen[key] = pending{idx: len(plan.Updates)}
			plan.Updates = append(plan.Updates, rec)
		}
	}

	return plan
}

// Reconciler applies normalized batches to a Store.
type Reconciler struct {
	store  Store
	logger *slog.Logger
}

// NewReconciler creates a Reconciler writing to store.
func NewReconciler(store Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, logger: logger}
}

// Reconcile upserts records in one transaction and reports what changed.
// Total always equals len(records) and Updated counts rows the store actually
// changed. On error nothing is written.
func (r *Reconciler) Reconcile(ctx context.Context, records []Record) (Summary, error) {
	summary := Summary{Total: len(records)}
	if len(records) == 0 {
		return summary, nil
	}

	keys := uniqueKeys(records)

	var (
		plan    Plan
		updated int64
	)
	err := r.store.WithTx(ctx, func(tx Tx) error {
		existing, err := tx.FetchByKeys(ctx, keys)
		if err != nil {
			return err
		}

		plan = Decide(existing, records)

		if len(plan.Inserts) > 0 {
			if _, err := tx.BulkInsert(ctx, plan.Inserts); err != nil {
				return err
			}
		}
		if len(plan.Updates) > 0 {
			n, err := tx.BulkUpdate(ctx, plan.Updates)
			if err != nil {
				return err
			}
			updated = n
			// A concurrent run can store a newer value between fetch and update.
			if n != int64(len(plan.Updates)) {
				r.logger.Warn("update guard skipped rows",
					"planned", len(plan.Updates),
					"applied", n,
				)
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, persistenceError(err)
	}

	summary.Created = len(plan.Inserts)
	summary.Updated = int(updated)
	return summary, nil
}

func uniqueKeys(records []Record) []Key {
	seen := make(map[Key]struct{}, len(records))
	keys := make([]Key, 0, len(records))
	for _, rec := range records {
		k := rec.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
