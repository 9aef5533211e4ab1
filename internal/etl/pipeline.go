package etl

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Pipeline runs load, normalize and reconcile in sequence.
//
// Run does all three. Callers that want to look at the batch before it is
// written (to log averages or to preview without a database) call Prepare,
// which loads and normalizes, and then Apply, which reconciles.
//
// Failures are *StageError values: errors.Is matches ErrSourceUnavailable,
// ErrParse or ErrPersistence, and StageOf names the stage.
type Pipeline struct {
	loader     *Loader
	normalizer *Normalizer
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewPipeline wires the three stages together.
func NewPipeline(loader *Loader, normalizer *Normalizer, reconciler *Reconciler, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		loader:     loader,
		normalizer: normalizer,
		reconciler: reconciler,
		logger:     logger,
	}
}

// Run imports source and returns the summary of the writes.
func (p *Pipeline) Run(ctx context.Context, source string) (Summary, error) {
	records, err := p.Prepare(ctx, source)
	if err != nil {
		return Summary{}, err
	}
	return p.Apply(ctx, records)
}

// Prepare loads and normalizes source without touching the store.
func (p *Pipeline) Prepare(ctx context.Context, source string) ([]Record, error) {
	start := time.Now()

	table, err := p.loader.Load(ctx, source)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("source loaded",
		"source", source,
		"format", table.Format,
		"columns", table.Columns,
		"rows", len(table.Rows),
		"bytes", table.Bytes,
		"duration", time.Since(start),
	)

	records := p.normalizer.Normalize(table)
	p.logger.Debug("rows normalized",
		"mapping", InferColumns(table.Columns),
		"records", len(records),
	)
	return records, nil
}

// Apply reconciles an already normalized batch.
func (p *Pipeline) Apply(ctx context.Context, records []Record) (Summary, error) {
	summary, err := p.reconciler.Reconcile(ctx, records)
	if err != nil {
		return Summary{}, err
	}
	p.logger.Debug("batch reconciled",
		"created", summary.Created,
		"updated", summary.Updated,
		"total", summary.Total,
	)
	return summary, nil
}

// CategoryAverage is the mean price of one category.
type CategoryAverage struct {
	Category string
	Average  decimal.Decimal
}

// AverageByCategory computes the mean price per category of a batch,
// rounded to two places and sorted by category.
func AverageByCategory(records []Record) []CategoryAverage {
	type acc struct {
		sum   decimal.Decimal
		count int64
	}
	groups := make(map[string]*acc)
	for _, rec := range records {
		a, ok := groups[rec.Category]
		if !ok {
			a = &acc{}
			groups[rec.Category] = a
		}
		a.sum = a.sum.Add(rec.Price)
		a.count++
	}

	out := make([]CategoryAverage, 0, len(groups))
	for cat, a := range groups {
		avg := a.sum.Div(decimal.NewFromInt(a.count)).Round(2)
		out = append(out, CategoryAverage{Category: cat, Average: avg})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}
