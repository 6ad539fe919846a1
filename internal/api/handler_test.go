package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/aggregation"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/cache"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/middleware"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/refresh"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/testutil"
)

type stubRefresher struct {
	fn    func(ctx context.Context, f domain.ProcessingFrequency) (refresh.Result, error)
	calls []domain.ProcessingFrequency
}

func (s *stubRefresher) RefreshExclusive(ctx context.Context, f domain.ProcessingFrequency) (refresh.Result, error) {
	s.calls = append(s.calls, f)
	if s.fn != nil {
		return s.fn(ctx, f)
	}
	return refresh.Result{Frequency: f}, nil
}

type stubSheets struct {
	fn func(ctx context.Context, productID, sheet string) (*aggregation.SheetData, error)
}

func (s *stubSheets) ReadSheet(ctx context.Context, productID, sheet string) (*aggregation.SheetData, error) {
	return s.fn(ctx, productID, sheet)
}

type fixture struct {
	cache     *cache.Manager
	refresher *stubRefresher
	updater   *testutil.MockProductUpdater
	sheets    *stubSheets
	router    http.Handler
}

func newFixture(t *testing.T, opts ...func(*fixture)) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	f := &fixture{
		cache:     cache.New(cache.Config{Enabled: true, BuildVersion: "test"}, logger),
		refresher: &stubRefresher{},
		updater:   &testutil.MockProductUpdater{},
		sheets: &stubSheets{fn: func(_ context.Context, productID, sheet string) (*aggregation.SheetData, error) {
			return &aggregation.SheetData{Columns: []string{"year", "trip_count"}, Rows: [][]any{{"2020", 2}}}, nil
		}},
	}
	for _, opt := range opts {
		opt(f)
	}
	var refresher Refresher
	if f.refresher != nil {
		refresher = f.refresher
	}
	h := NewHandler(f.cache, refresher, f.updater, f.sheets, logger)
	f.router = NewRouter(h, RouterConfig{Logger: logger})
	return f
}

func (f *fixture) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

// warm creates one cache entry in the aggregation sheet group.
func (f *fixture) warm(t *testing.T) string {
	t.Helper()
	read := cache.Cacheable(f.cache, aggregation.SheetCacheGroup, "P1/AGG_HH", time.Minute, func(context.Context) (string, error) {
		return "rows", nil
	})
	_, err := read(context.Background())
	require.NoError(t, err)
	names := f.cache.Names()
	require.Len(t, names, 1)
	return names[0]
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestCacheStats(t *testing.T) {
	f := newFixture(t)
	name := f.warm(t)

	rec, body := f.do(t, http.MethodGet, "/v1/cache/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["enabled"])
	caches, ok := body["caches"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, caches, name)
}

func TestClearCache(t *testing.T) {
	f := newFixture(t)
	name := f.warm(t)

	rec, body := f.do(t, http.MethodDelete, "/v1/cache/"+url.PathEscape(name))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["cleared"])
	assert.Equal(t, int64(0), f.cache.Stats()[name][cache.StatEntries])

	rec, body = f.do(t, http.MethodDelete, "/v1/cache/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.InDelta(t, float64(404), body["code"], 0.001)
}

func TestClearAllCaches(t *testing.T) {
	f := newFixture(t)
	name := f.warm(t)

	rec, body := f.do(t, http.MethodDelete, "/v1/cache")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["cleared"])
	assert.Equal(t, int64(0), f.cache.Stats()[name][cache.StatEntries])
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		fn         func(context.Context, domain.ProcessingFrequency) (refresh.Result, error)
		wantStatus int
	}{
		{
			name:       "daily",
			path:       "/v1/refresh/daily",
			wantStatus: http.StatusOK,
		},
		{
			name:       "unknown frequency",
			path:       "/v1/refresh/fortnightly",
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "already running",
			path: "/v1/refresh/HOURLY",
			fn: func(_ context.Context, f domain.ProcessingFrequency) (refresh.Result, error) {
				return refresh.Result{}, domain.ErrConflict("a %s refresh is already running", f)
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "repository failure",
			path: "/v1/refresh/WEEKLY",
			fn: func(context.Context, domain.ProcessingFrequency) (refresh.Result, error) {
				return refresh.Result{}, errors.New("database is locked")
			},
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(f *fixture) { f.refresher.fn = tt.fn })
			rec, _ := f.do(t, http.MethodPost, tt.path)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRefresh_ReturnsResult(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.refresher.fn = func(_ context.Context, freq domain.ProcessingFrequency) (refresh.Result, error) {
			return refresh.Result{Frequency: freq, Succeeded: 2, Failed: 1}, nil
		}
	})
	rec, body := f.do(t, http.MethodPost, "/v1/refresh/monthly")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []domain.ProcessingFrequency{domain.FrequencyMonthly}, f.refresher.calls)
	assert.Equal(t, "MONTHLY", body["frequency"])
	assert.InDelta(t, float64(2), body["succeeded"], 0.001)
	assert.InDelta(t, float64(1), body["failed"], 0.001)
}

func TestRefresh_SchedulerDisabled(t *testing.T) {
	f := newFixture(t, func(f *fixture) { f.refresher = nil })
	rec, _ := f.do(t, http.MethodPost, "/v1/refresh/daily")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUpdateProduct(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"updated", nil, http.StatusOK},
		{"unknown product", domain.ErrNotFound("product P9 not found"), http.StatusNotFound},
		{"stage failure", &domain.StageError{Format: "AGG_RDB", Version: "1.3", Sheet: "AGG_HH", Phase: domain.PhaseExecuting, Err: errors.New("boom")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(f *fixture) {
				f.updater.UpdateProductFn = func(context.Context, string) error { return tt.err }
			})
			rec, body := f.do(t, http.MethodPost, "/v1/products/P1/update")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, []string{"P1"}, f.updater.CallsSnapshot())
			if tt.err == nil {
				assert.Equal(t, "P1", body["product_id"])
			} else {
				assert.Equal(t, tt.err.Error(), body["message"])
			}
		})
	}
}

func TestReadSheet(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/v1/products/P1/sheets/AGG_HH")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"year", "trip_count"}, body["columns"])

	f = newFixture(t, func(f *fixture) {
		f.sheets.fn = func(_ context.Context, productID, sheet string) (*aggregation.SheetData, error) {
			return nil, domain.ErrNotFound("sheet %s not found in product %s", sheet, productID)
		}
	})
	rec, _ = f.do(t, http.MethodGet, "/v1/products/P1/sheets/XX")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_TriggerLimiter(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	h := NewHandler(
		cache.New(cache.Config{Enabled: true}, logger),
		&stubRefresher{},
		&testutil.MockProductUpdater{},
		&stubSheets{},
		logger,
	)
	router := NewRouter(h, RouterConfig{
		Logger:         logger,
		TriggerLimiter: middleware.NewRateLimiter(middleware.RateLimitConfig{RequestsPerSecond: 1, Burst: 1}),
	})

	post := func() int {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/refresh/daily", nil))
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusTooManyRequests, post())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not rate limited")
}

func TestRouter_CORS(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	h := NewHandler(cache.New(cache.Config{Enabled: true}, logger), nil, &testutil.MockProductUpdater{}, &stubSheets{}, logger)

	tests := []struct {
		name       string
		origins    []string
		origin     string
		wantHeader string
	}{
		{"allowed origin", []string{"https://sumaris.example.org"}, "https://sumaris.example.org", "https://sumaris.example.org"},
		{"other origin", []string{"https://sumaris.example.org"}, "https://evil.example.com", ""},
		{"cors disabled", nil, "https://sumaris.example.org", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(h, RouterConfig{Logger: logger, AllowedOrigins: tt.origins})
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantHeader, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
