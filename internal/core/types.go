package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/itemstats/internal/etl"
	"github.com/JonMunkholm/itemstats/internal/store"
)

// Trigger says what started an import run.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerAPI      Trigger = "api"
	TriggerCLI      Trigger = "cli"
)

// Repository is the persistence the service needs. *store.Store satisfies it.
type Repository interface {
	etl.Store
	Ping(ctx context.Context) error
	ListItems(ctx context.Context, f store.ItemFilter) (store.ItemPage, error)
	AvgPriceByCategory(ctx context.Context) (map[string]decimal.Decimal, error)
	RecordRun(ctx context.Context, run store.ImportRun) error
	RecentRuns(ctx context.Context, limit int) ([]store.ImportRun, error)
}

// ImportResult describes a finished import run.
type ImportResult struct {
	RunID   uuid.UUID `json:"run_id"`
	Source  string    `json:"source"`
	Trigger Trigger   `json:"trigger"`
	etl.Summary
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"-"`

	// Averages is the per-category mean of the batch as loaded, before writing.
	Averages []etl.CategoryAverage `json:"-"`
}

// PreviewResult is a dry run: what a source would contribute, without writing.
type PreviewResult struct {
	Source   string
	Records  int
	Averages []etl.CategoryAverage
}

// StatsCacheKey is where the category averages are cached.
const StatsCacheKey = "stats:avg_price_by_category"

// DefaultRecentRuns is how many runs RecentImports returns when asked for none.
const DefaultRecentRuns = 20
