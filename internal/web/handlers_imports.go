package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/itemstats/internal/core"
	"github.com/JonMunkholm/itemstats/internal/store"
)

// maxImportBody caps the POST /api/imports body.
const maxImportBody = 64 << 10

type importRequest struct {
	Source string `json:"source"`
}

type importResponse struct {
	core.ImportResult
	DurationMS int64 `json:"duration_ms"`
}

type importRunJSON struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Trigger    string    `json:"trigger"`
	Status     string    `json:"status"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Total      int       `json:"total"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// handleRunImport serves POST /api/imports. An empty body imports the
// configured source. Sources given here must be http or https URLs.
func (s *Server) handleRunImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBody)

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, r, fmt.Errorf("decode body: %v: %w", err, core.ErrInvalidRequest))
		return
	}

	source := strings.TrimSpace(req.Source)
	if source != "" && !isHTTPURL(source) {
		s.respondError(w, r, fmt.Errorf("source %q is not an http(s) URL: %w", source, core.ErrInvalidRequest))
		return
	}

	res, err := s.backend.RunImport(r.Context(), source, core.TriggerAPI)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, importResponse{ImportResult: res, DurationMS: res.Duration.Milliseconds()})
}

// handleListImports serves GET /api/imports?limit=N.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit > 100 {
		limit = 100
	}

	runs, err := s.backend.RecentImports(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	out := make([]importRunJSON, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunJSON(run))
	}
	writeJSON(w, out)
}

func toRunJSON(run store.ImportRun) importRunJSON {
	return importRunJSON{
		ID:         run.ID.String(),
		Source:     run.Source,
		Trigger:    run.Trigger,
		Status:     run.Status,
		Created:    run.Created,
		Updated:    run.Updated,
		Total:      run.Total,
		Error:      run.Error,
		StartedAt:  run.StartedAt.UTC(),
		DurationMS: run.Duration.Milliseconds(),
	}
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
