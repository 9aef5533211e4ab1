package web

import (
	"net/http"
	"time"

	"github.com/JonMunkholm/itemstats/internal/core"
	"github.com/JonMunkholm/itemstats/internal/logging"
	"github.com/JonMunkholm/itemstats/internal/web/templates"
)

// dashboardRuns is how many import runs the dashboard lists.
const dashboardRuns = 10

// handleAvgPriceByCategory serves GET /api/stats/avg-price-by-category.
func (s *Server) handleAvgPriceByCategory(w http.ResponseWriter, r *http.Request) {
	avgs, err := s.backend.AvgPriceByCategory(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, avgs)
}

type healthJSON struct {
	Status  string                   `json:"status"`
	Error   string                   `json:"error,omitempty"`
	Imports core.ImportLimiterStatus `json:"imports"`
}

// handleHealth serves GET /healthz. It fails with 503 when the database is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := healthJSON{Status: "ok", Imports: s.backend.ImportStatus()}

	if err := s.backend.Ping(r.Context()); err != nil {
		logging.FromContext(r.Context()).Warn("health check failed", "error", err)
		out.Status = "unavailable"
		out.Error = "database unreachable"
		writeJSONStatus(w, http.StatusServiceUnavailable, out)
		return
	}
	writeJSON(w, out)
}

// handleDashboard renders the category averages and recent imports.
// A failing section is shown inline instead of failing the page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	data := templates.DashboardData{Generated: time.Now()}

	if avgs, err := s.backend.AvgPriceByCategory(ctx); err != nil {
		logger.Warn("dashboard stats failed", "error", err)
		data.StatsErr = core.FormatUserError(err)
	} else {
		data.Averages = templates.SortedAverages(avgs)
	}

	if runs, err := s.backend.RecentImports(ctx, dashboardRuns); err != nil {
		logger.Warn("dashboard runs failed", "error", err)
		data.RunsErr = core.FormatUserError(err)
	} else {
		for _, run := range runs {
			data.Runs = append(data.Runs, templates.RunRow{
				StartedAt: run.StartedAt,
				Source:    run.Source,
				Trigger:   run.Trigger,
				Status:    run.Status,
				Created:   run.Created,
				Updated:   run.Updated,
				Total:     run.Total,
				Error:     run.Error,
			})
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.Dashboard(data).Render(ctx, w); err != nil {
		logger.Error("render dashboard", "error", err)
	}
}
