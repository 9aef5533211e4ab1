package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/itemstats/internal/cache"
	"github.com/JonMunkholm/itemstats/internal/config"
	"github.com/JonMunkholm/itemstats/internal/etl"
	"github.com/JonMunkholm/itemstats/internal/logging"
	"github.com/JonMunkholm/itemstats/internal/store"
)

// recordTimeout bounds writing the history row after a run, which may
// happen after the run's own context has expired.
const recordTimeout = 5 * time.Second

// Service runs imports and answers read queries.
type Service struct {
	repo    Repository
	cache   cache.Cache
	cfg     *config.Config
	loader  *etl.Loader
	limiter *ImportLimiter
	now     func() time.Time
}

// NewService wires the service. A nil cache means an in-process cache.
func NewService(repo Repository, c cache.Cache, cfg *config.Config) *Service {
	if c == nil {
		c = cache.NewMemory()
	}
	return &Service{
		repo:  repo,
		cache: c,
		cfg:   cfg,
		loader: etl.NewLoader(
			etl.WithFetchTimeout(cfg.Import.FetchTimeout),
			etl.WithMaxSourceBytes(cfg.Import.MaxSourceBytes),
		),
		limiter: NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
		now:     time.Now,
	}
}

// Limiter exposes the import limiter for status reporting.
func (s *Service) Limiter() *ImportLimiter {
	return s.limiter
}

// ImportStatus reports how many API import slots are in use.
func (s *Service) ImportStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// ResolveSource picks the source for a run: the explicit one if given,
// then the configured primary, then the alternate, then the bundled sample.
func (s *Service) ResolveSource(explicit string) string {
	for _, candidate := range []string{explicit, s.cfg.Import.Source, s.cfg.Import.AltSource} {
		if c := strings.TrimSpace(candidate); c != "" {
			return c
		}
	}
	return s.cfg.Import.SampleSource
}

func (s *Service) pipeline(logger *slog.Logger) *etl.Pipeline {
	return etl.NewPipeline(
		s.loader,
		etl.NewNormalizer(s.now),
		etl.NewReconciler(s.repo, logger),
		logger,
	)
}

// RunImport imports source (or the configured fallback) and records the run.
//
// API-triggered runs first take a slot from the import limiter. Every run is
// bounded by the configured import timeout. The history row is written for
// failures as well as successes.
func (s *Service) RunImport(ctx context.Context, source string, trigger Trigger) (ImportResult, error) {
	result := ImportResult{
		RunID:     uuid.New(),
		Source:    s.ResolveSource(source),
		Trigger:   trigger,
		StartedAt: s.now().UTC(),
	}

	ctx = logging.WithRun(ctx, result.RunID.String(), result.Source)
	logger := logging.FromContext(ctx).With("trigger", string(trigger))

	if trigger == TriggerAPI {
		if err := s.limiter.Acquire(ctx); err != nil {
			logger.Warn("import rejected", "error", err)
			return result, err
		}
		defer s.limiter.Release()
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Import.Timeout)
	defer cancel()

	logger.Info("import started")
	start := time.Now()

	p := s.pipeline(logger)
	records, err := p.Prepare(runCtx, result.Source)
	var summary etl.Summary
	if err == nil {
		result.Averages = etl.AverageByCategory(records)
		logAverages(logger, result.Averages)
		summary, err = p.Apply(runCtx, records)
	}
	result.Duration = time.Since(start)
	if err == nil {
		result.Summary = summary
	}

	s.recordRun(ctx, logger, result, err)

	if err != nil {
		logger.Error("import failed",
			"stage", etl.StageOf(err),
			"error", err,
			"duration_ms", result.Duration.Milliseconds(),
		)
		return result, err
	}

	logger.Info("import finished",
		"created", summary.Created,
		"updated", summary.Updated,
		"total", summary.Total,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

func (s *Service) recordRun(ctx context.Context, logger *slog.Logger, result ImportResult, runErr error) {
	run := store.ImportRun{
		ID:        result.RunID,
		Source:    result.Source,
		Trigger:   string(result.Trigger),
		Status:    store.RunSucceeded,
		Created:   result.Created,
		Updated:   result.Updated,
		Total:     result.Total,
		StartedAt: result.StartedAt,
		Duration:  result.Duration,
	}
	if runErr != nil {
		run.Status = store.RunFailed
		run.Error = runErr.Error()
	}

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := s.repo.RecordRun(recCtx, run); err != nil {
		logger.Error("failed to record import run", "error", err)
	}
}

// Preview loads and normalizes source without writing anything and
// returns the per-category averages of the batch.
func (s *Service) Preview(ctx context.Context, source string) (PreviewResult, error) {
	src := s.ResolveSource(source)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Import.Timeout)
	defer cancel()

	logger := logging.FromContext(ctx).With("source", src)
	records, err := s.pipeline(logger).Prepare(ctx, src)
	if err != nil {
		return PreviewResult{Source: src}, err
	}
	res := PreviewResult{
		Source:   src,
		Records:  len(records),
		Averages: etl.AverageByCategory(records),
	}
	logAverages(logger, res.Averages)
	return res, nil
}

// logAverages logs the per-category mean of a normalized batch, one line per
// category. RunImport calls it before anything is written.
func logAverages(logger *slog.Logger, avgs []etl.CategoryAverage) {
	if len(avgs) == 0 {
		logger.Info("batch has no records")
		return
	}
	for _, a := range avgs {
		logger.Info("average price", "category", a.Category, "average", a.Average.StringFixed(2))
	}
}

// ListItems returns one page of items. A zero page means the first page and a
// zero page size means the configured default; sizes above the maximum are capped.
func (s *Service) ListItems(ctx context.Context, f store.ItemFilter) (store.ItemPage, error) {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = s.cfg.API.PageSize
	}
	if f.PageSize > s.cfg.API.MaxPageSize {
		f.PageSize = s.cfg.API.MaxPageSize
	}
	return s.repo.ListItems(ctx, f)
}

// AvgPriceByCategory returns the average price per category, rounded to two
// places. Results, including an empty map, are cached for the stats TTL.
// A failing cache is logged and bypassed.
func (s *Service) AvgPriceByCategory(ctx context.Context) (map[string]float64, error) {
	logger := logging.FromContext(ctx)

	if raw, ok, err := s.cache.Get(ctx, StatsCacheKey); err != nil {
		logger.Warn("stats cache read failed", "error", err)
	} else if ok {
		var cached map[string]float64
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		logger.Warn("discarding malformed stats cache entry")
	}

	avgs, err := s.repo.AvgPriceByCategory(ctx)
	if err != nil {
		return nil, fmt.Errorf("average price by category: %w", err)
	}

	out := make(map[string]float64, len(avgs))
	for category, avg := range avgs {
		out[category] = avg.Round(2).InexactFloat64()
	}

	raw, err := json.Marshal(out)
	if err == nil {
		err = s.cache.Set(ctx, StatsCacheKey, raw, s.cfg.Cache.StatsTTL)
	}
	if err != nil {
		logger.Warn("stats cache write failed", "error", err)
	}
	return out, nil
}

// RecentImports returns the latest import runs, newest first.
func (s *Service) RecentImports(ctx context.Context, limit int) ([]store.ImportRun, error) {
	if limit <= 0 {
		limit = DefaultRecentRuns
	}
	return s.repo.RecentRuns(ctx, limit)
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// WaitForImports blocks until API-triggered imports finish or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	err := s.limiter.WaitForDrain(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("imports still running at shutdown: %w", err)
	}
	return err
}
