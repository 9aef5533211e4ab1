// Package etl loads product records from CSV or JSON sources and merges them
// into the item store.
//
// A run is a strictly sequential chain:
//
//  1. [Loader] resolves a source (http(s) URL or local path) to a [RawTable].
//  2. [Normalizer] renames variant columns to the canonical schema and coerces
//     every cell, producing [Record] values.
//  3. [Reconciler] diffs the records against stored state by natural key and
//     applies inserts and updates in one transaction.
//
// [Pipeline] wires the three together and returns a [Summary].
//
// # Column Inference
//
// Source headers are matched case-insensitively after trimming. When a
// canonical column is absent, the first source column found in its synonym set
// is used instead:
//
//	name        title, product, item, item_name
//	category    cat, group, type
//	price       cost, amount, value
//	updated_at  updated, updatedat, last_update, last_updated
//
// # Conflict Resolution
//
// An incoming record overwrites the stored price and updated_at only when its
// updated_at is strictly newer. Equal timestamps leave the stored row alone, so
// re-running an import is a no-op.
//
// # Errors
//
// Structural failures abort the run before anything is written and wrap one
// of [ErrSourceUnavailable], [ErrParse] or [ErrPersistence]. Bad cells never
// fail a run: price falls back to zero and updated_at to the run's timestamp.
package etl
