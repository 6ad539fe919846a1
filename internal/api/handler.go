// Package api provides the HTTP admin surface of the extraction server:
// cache administration, refresh triggers and product sheet downloads.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/aggregation"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
	"github.com/sumaris-net/sumaris-pod-sub009/internal/refresh"
)

// CacheAdmin is the cache surface exposed over HTTP.
type CacheAdmin interface {
	Enabled() bool
	Stats() map[string]map[string]int64
	ClearAllCaches() bool
	ClearCache(name string) bool
}

// Refresher runs a refresh of one frequency.
type Refresher interface {
	RefreshExclusive(ctx context.Context, f domain.ProcessingFrequency) (refresh.Result, error)
}

// SheetReader reads a published product sheet.
type SheetReader interface {
	ReadSheet(ctx context.Context, productID, sheet string) (*aggregation.SheetData, error)
}

// Handler serves the admin API.
type Handler struct {
	cache     CacheAdmin
	refresher Refresher // nil when the scheduler is disabled
	updater   domain.ProductUpdater
	sheets    SheetReader
	logger    *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(cache CacheAdmin, refresher Refresher, updater domain.ProductUpdater, sheets SheetReader, logger *slog.Logger) *Handler {
	return &Handler{
		cache:     cache,
		refresher: refresher,
		updater:   updater,
		sheets:    sheets,
		logger:    logger.With("component", "api"),
	}
}

type cacheStatsResponse struct {
	Enabled bool                        `json:"enabled"`
	Caches  map[string]map[string]int64 `json:"caches"`
}

type clearResponse struct {
	Cleared bool `json:"cleared"`
}

type updateResponse struct {
	ProductID string `json:"product_id"`
	Status    string `json:"status"`
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CacheStats returns the per-cache statistics.
func (h *Handler) CacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, cacheStatsResponse{
		Enabled: h.cache.Enabled(),
		Caches:  h.cache.Stats(),
	})
}

// ClearAllCaches empties every cache.
func (h *Handler) ClearAllCaches(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, clearResponse{Cleared: h.cache.ClearAllCaches()})
}

// ClearCache empties one cache by name. Names carry a '#' and arrive
// percent-encoded.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, h.logger, domain.ErrValidation("invalid cache name: %v", err))
		return
	}
	if !h.cache.ClearCache(name) {
		writeError(w, r, h.logger, domain.ErrNotFound("cache %q not found", name))
		return
	}
	writeJSON(w, http.StatusOK, clearResponse{Cleared: true})
}

// Refresh updates every product of the frequency in the path.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Code:    http.StatusServiceUnavailable,
			Message: "refresh scheduler is disabled",
		})
		return
	}
	f, err := domain.ParseFrequency(chi.URLParam(r, "frequency"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	result, err := h.refresher.RefreshExclusive(r.Context(), f)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// UpdateProduct re-runs the aggregation of one product.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.updater.UpdateProduct(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updateResponse{ProductID: id, Status: "updated"})
}

// ReadSheet returns the rows of a product sheet.
func (h *Handler) ReadSheet(w http.ResponseWriter, r *http.Request) {
	data, err := h.sheets.ReadSheet(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "sheet"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}
