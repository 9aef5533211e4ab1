package core

// scheduler.go re-runs the default import on a fixed interval.
//
// The first run starts immediately so a fresh deployment has data without
// waiting a full period. A failed run is logged and recorded in the import
// history; the next tick tries again. The loop ends when ctx is cancelled.

import (
	"context"
	"log/slog"
	"time"
)

// StartImportScheduler runs the configured import now and then every interval.
// It blocks until ctx is cancelled.
func (s *Service) StartImportScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		slog.Warn("import scheduler not started", "interval", interval)
		return
	}

	slog.Info("import scheduler started",
		"interval", interval,
		"source", s.ResolveSource(""),
	)

	s.runScheduledImport(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("import scheduler stopped")
			return
		case <-ticker.C:
			s.runScheduledImport(ctx)
		}
	}
}

// runScheduledImport performs one run. RunImport has already logged any failure.
func (s *Service) runScheduledImport(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, _ = s.RunImport(ctx, "", TriggerSchedule)
}
