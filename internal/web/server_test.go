package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/itemstats/internal/config"
	"github.com/JonMunkholm/itemstats/internal/core"
	"github.com/JonMunkholm/itemstats/internal/etl"
	"github.com/JonMunkholm/itemstats/internal/store"
)

type fakeBackend struct {
	mu        sync.Mutex
	page      store.ItemPage
	listErr   error
	filter    store.ItemFilter
	avgs      map[string]float64
	avgErr    error
	runs      []store.ImportRun
	runLimit  int
	importErr error
	sources   []string
	pingErr   error
}

func (f *fakeBackend) RunImport(ctx context.Context, source string, trigger core.Trigger) (core.ImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, source)
	res := core.ImportResult{
		RunID:    uuid.MustParse("6f1f4f7e-2d0c-4f38-9a3b-6a3e4c1d2b10"),
		Source:   source,
		Trigger:  trigger,
		Summary:  etl.Summary{Created: 2, Updated: 1, Total: 3},
		Duration: 1500 * time.Millisecond,
	}
	return res, f.importErr
}

func (f *fakeBackend) ListItems(ctx context.Context, filter store.ItemFilter) (store.ItemPage, error) {
	f.filter = filter
	if f.listErr != nil {
		return store.ItemPage{}, f.listErr
	}
	p := f.page
	p.Page = filter.Page
	if p.Page == 0 {
		p.Page = 1
	}
	p.PageSize = filter.PageSize
	if p.PageSize == 0 {
		p.PageSize = 10
	}
	return p, nil
}

func (f *fakeBackend) AvgPriceByCategory(ctx context.Context) (map[string]float64, error) {
	return f.avgs, f.avgErr
}

func (f *fakeBackend) RecentImports(ctx context.Context, limit int) ([]store.ImportRun, error) {
	f.runLimit = limit
	return f.runs, nil
}

func (f *fakeBackend) ImportStatus() core.ImportLimiterStatus {
	return core.ImportLimiterStatus{Available: 2, MaxConcurrent: 2}
}

func (f *fakeBackend) Ping(ctx context.Context) error { return f.pingErr }

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{RequestTimeout: 5 * time.Second},
		Security: config.SecurityConfig{EnableCSP: true},
	}
}

func newTestServer(t *testing.T, b Backend, cfg *config.Config) *Server {
	t.Helper()
	s := NewServer(b, cfg)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, s *Server, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func sampleItems(n int) []store.Item {
	items := make([]store.Item, n)
	for i := range items {
		items[i] = store.Item{
			ID:        int64(i + 1),
			Name:      fmt.Sprintf("item-%d", i+1),
			Category:  "toys",
			Price:     decimal.RequireFromString("12.5"),
			UpdatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		}
	}
	return items
}

func TestListItems(t *testing.T) {
	b := &fakeBackend{page: store.ItemPage{Items: sampleItems(2), Count: 25}}
	s := newTestServer(t, b, testConfig())

	rec := do(t, s, http.MethodGet, "/api/items/?category=Toys&price_min=10&price_max=20.5&page=2&page_size=10", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var got struct {
		Count    int64      `json:"count"`
		Next     *string    `json:"next"`
		Previous *string    `json:"previous"`
		Results  []itemJSON `json:"results"`
	}
	decodeBody(t, rec, &got)

	if got.Count != 25 || len(got.Results) != 2 {
		t.Fatalf("got count %d with %d results", got.Count, len(got.Results))
	}
	first := got.Results[0]
	if first.Price != "12.50" || first.UpdatedAt != "2024-01-02T03:04:05Z" || first.ID != 1 {
		t.Errorf("first = %+v", first)
	}
	if got.Next == nil || !strings.Contains(*got.Next, "page=3") {
		t.Errorf("next = %v, want page=3", got.Next)
	}
	if got.Previous == nil || strings.Contains(*got.Previous, "page=") {
		t.Errorf("previous = %v, want a link without page", got.Previous)
	}

	if b.filter.Category != "Toys" || b.filter.Page != 2 || b.filter.PageSize != 10 {
		t.Errorf("filter = %+v", b.filter)
	}
	if b.filter.PriceMin == nil || !b.filter.PriceMin.Equal(decimal.NewFromInt(10)) {
		t.Errorf("PriceMin = %v", b.filter.PriceMin)
	}
	if b.filter.PriceMax == nil || !b.filter.PriceMax.Equal(decimal.RequireFromString("20.5")) {
		t.Errorf("PriceMax = %v", b.filter.PriceMax)
	}
}

func TestListItems_LastPageHasNoNext(t *testing.T) {
	b := &fakeBackend{page: store.ItemPage{Items: sampleItems(3), Count: 3}}
	s := newTestServer(t, b, testConfig())

	rec := do(t, s, http.MethodGet, "/api/items", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"next":null`) || !strings.Contains(rec.Body.String(), `"previous":null`) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestListItems_Errors(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		listErr  error
		wantCode int
		wantErr  string
	}{
		{"bad price", "/api/items?price_min=cheap", nil, http.StatusBadRequest, "API002"},
		{"bad page", "/api/items?page=abc", nil, http.StatusNotFound, "API001"},
		{"zero page", "/api/items?page=0", nil, http.StatusNotFound, "API001"},
		{"page past end", "/api/items?page=9", store.ErrInvalidPage, http.StatusNotFound, "API001"},
		{"store down", "/api/items", errors.New("dial tcp: connection refused"), http.StatusInternalServerError, "DB004"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeBackend{listErr: tt.listErr}, testConfig())
			rec := do(t, s, http.MethodGet, tt.target, "", nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			var body ErrorResponse
			decodeBody(t, rec, &body)
			if body.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", body.Code, tt.wantErr)
			}
		})
	}
}

func TestListItems_BadPageSizeUsesDefault(t *testing.T) {
	b := &fakeBackend{}
	s := newTestServer(t, b, testConfig())

	rec := do(t, s, http.MethodGet, "/api/items?page_size=lots", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if b.filter.PageSize != 0 {
		t.Errorf("PageSize = %d, want 0 (service default)", b.filter.PageSize)
	}
}

func TestAvgPriceByCategory(t *testing.T) {
	tests := []struct {
		name string
		avgs map[string]float64
		want string
	}{
		{"values", map[string]float64{"toys": 25.26, "tools": 10}, `{"tools":10,"toys":25.26}`},
		{"empty", map[string]float64{}, `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeBackend{avgs: tt.avgs}, testConfig())
			rec := do(t, s, http.MethodGet, "/api/stats/avg-price-by-category/", "", nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tt.want {
				t.Errorf("body = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRunImport(t *testing.T) {
	b := &fakeBackend{}
	s := newTestServer(t, b, testConfig())

	rec := do(t, s, http.MethodPost, "/api/imports", `{"source":"https://example.com/items.csv"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var got map[string]any
	decodeBody(t, rec, &got)
	if got["created"] != float64(2) || got["updated"] != float64(1) || got["total"] != float64(3) {
		t.Errorf("summary = %v", got)
	}
	if got["trigger"] != "api" || got["duration_ms"] != float64(1500) {
		t.Errorf("body = %v", got)
	}
	if b.sources[0] != "https://example.com/items.csv" {
		t.Errorf("source = %q", b.sources[0])
	}
}

func TestRunImport_EmptyBodyUsesConfiguredSource(t *testing.T) {
	b := &fakeBackend{}
	s := newTestServer(t, b, testConfig())

	rec := do(t, s, http.MethodPost, "/api/imports", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if len(b.sources) != 1 || b.sources[0] != "" {
		t.Errorf("sources = %q, want one empty source", b.sources)
	}
}

func TestRunImport_Errors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		importErr error
		wantCode  int
	}{
		{"malformed json", `{"source":`, nil, http.StatusBadRequest},
		{"local path", `{"source":"/etc/passwd.csv"}`, nil, http.StatusBadRequest},
		{"busy", "", core.ErrTooManyImports, http.StatusServiceUnavailable},
		{"unreachable", "", &etl.StageError{Stage: etl.StageLoad, Kind: etl.ErrSourceUnavailable, Err: errors.New("404")}, http.StatusBadGateway},
		{"bad content", "", &etl.StageError{Stage: etl.StageLoad, Kind: etl.ErrParse, Err: errors.New("bad")}, http.StatusUnprocessableEntity},
		{"timeout", "", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{importErr: tt.importErr}
			s := newTestServer(t, b, testConfig())
			rec := do(t, s, http.MethodPost, "/api/imports", tt.body, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body)
			}
		})
	}
}

func TestRunImport_RequiresAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret"}
	b := &fakeBackend{}
	s := newTestServer(t, b, cfg)

	tests := []struct {
		name     string
		key      string
		wantCode int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusForbidden},
		{"valid", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := map[string]string{}
			if tt.key != "" {
				h["X-API-Key"] = tt.key
			}
			rec := do(t, s, http.MethodPost, "/api/imports", "", h)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}

	// Reads stay open.
	if rec := do(t, s, http.MethodGet, "/api/items", "", nil); rec.Code != http.StatusOK {
		t.Errorf("GET /api/items = %d", rec.Code)
	}
}

func TestRunImport_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, ImportLimit: 2}
	s := newTestServer(t, &fakeBackend{}, cfg)

	for i := 0; i < 2; i++ {
		if rec := do(t, s, http.MethodPost, "/api/imports", "", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	rec := do(t, s, http.MethodPost, "/api/imports", "", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestListImports(t *testing.T) {
	id := uuid.New()
	b := &fakeBackend{runs: []store.ImportRun{{
		ID:        id,
		Source:    "sample_data/sample.csv",
		Trigger:   "schedule",
		Status:    store.RunFailed,
		Error:     "load: source unavailable",
		StartedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Duration:  250 * time.Millisecond,
	}}}
	s := newTestServer(t, b, testConfig())

	rec := do(t, s, http.MethodGet, "/api/imports?limit=5", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got []importRunJSON
	decodeBody(t, rec, &got)
	if len(got) != 1 || got[0].ID != id.String() || got[0].Status != "failed" || got[0].DurationMS != 250 {
		t.Errorf("runs = %+v", got)
	}
	if b.runLimit != 5 {
		t.Errorf("limit = %d, want 5", b.runLimit)
	}
}

func TestHealth(t *testing.T) {
	b := &fakeBackend{}
	s := newTestServer(t, b, testConfig())

	if rec := do(t, s, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	b.pingErr = errors.New("down")
	rec := do(t, s, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "down") {
		t.Error("health response leaks the technical error")
	}
}

func TestDashboard(t *testing.T) {
	b := &fakeBackend{
		avgs: map[string]float64{"<script>": 1.5, "toys": 25.26},
		runs: []store.ImportRun{{Source: "a.csv", Trigger: "cli", Status: store.RunSucceeded, Total: 3}},
	}
	s := newTestServer(t, b, testConfig())

	rec := do(t, s, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"25.26", "1.50", "&lt;script&gt;", "a.csv"} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
	if strings.Contains(body, "<script>") {
		t.Error("category was not escaped")
	}
	if got := rec.Header().Get("Content-Security-Policy"); got == "" {
		t.Error("missing CSP header")
	}
}

func TestDashboard_StatsFailureShownInline(t *testing.T) {
	b := &fakeBackend{avgErr: errors.New("connection refused")}
	s := newTestServer(t, b, testConfig())

	rec := do(t, s, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "DB004") {
		t.Errorf("body missing error code: %s", rec.Body)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.allow("a") || !rl.allow("a") {
		t.Fatal("first two requests rejected")
	}
	if rl.allow("a") {
		t.Fatal("third request allowed")
	}
	if !rl.allow("b") {
		t.Fatal("other client rejected")
	}

	now = now.Add(61 * time.Second)
	if !rl.allow("a") {
		t.Fatal("request after window rejected")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{store.ErrInvalidPage, http.StatusNotFound},
		{core.ErrInvalidFilter, http.StatusBadRequest},
		{core.ErrInvalidRequest, http.StatusBadRequest},
		{core.ErrTooManyImports, http.StatusServiceUnavailable},
		{fmt.Errorf("x: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
