package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pricesmith/pricesmith/internal/api/response"
	"github.com/pricesmith/pricesmith/internal/compare"
	"github.com/pricesmith/pricesmith/internal/pricing"
	"github.com/pricesmith/pricesmith/internal/store"
	"github.com/pricesmith/pricesmith/pkg/models"
)

// Comparer is the comparator surface the pricing handlers depend on.
type Comparer interface {
	Compare(ctx context.Context, sku string) (*models.PriceComparison, error)
	Analyze(ctx context.Context, sku string) (*models.MarketAnalysis, error)
	CompareBatch(ctx context.Context, skus []string) (*compare.BatchResult, error)
}

// Pricer is the engine surface the pricing handlers depend on.
type Pricer interface {
	Start(ctx context.Context) error
	Stop() error
	Running() bool
	UpdatePrice(ctx context.Context, sku string) (*pricing.Update, error)
}

func writeComparisonError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", "No product with that SKU", nil)
	case errors.Is(err, compare.ErrNoProviderData):
		response.Error(w, http.StatusBadGateway, "NO_PROVIDER_DATA",
			"No provider returned price data for this SKU", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

// NewComparisonHandler returns the handler for
// GET /api/v1/products/{sku}/comparison.
func NewComparisonHandler(c Comparer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmp, err := c.Compare(r.Context(), chi.URLParam(r, "sku"))
		if err != nil {
			writeComparisonError(w, err)
			return
		}
		response.JSON(w, cmp)
	}
}

// NewAnalysisHandler returns the handler for
// GET /api/v1/products/{sku}/analysis.
func NewAnalysisHandler(c Comparer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		analysis, err := c.Analyze(r.Context(), chi.URLParam(r, "sku"))
		if err != nil {
			writeComparisonError(w, err)
			return
		}
		response.JSON(w, analysis)
	}
}

// NewBatchCompareHandler returns the handler for POST /api/v1/compare.
func NewBatchCompareHandler(c Comparer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SKUs []string `json:"skus"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if len(req.SKUs) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "skus is required", nil)
			return
		}

		result, err := c.CompareBatch(r.Context(), req.SKUs)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Batch comparison aborted", nil)
			return
		}
		response.JSON(w, result)
	}
}

// NewUpdatePriceHandler returns the handler for
// POST /api/v1/products/{sku}/price: a manual one-off run of the pricing
// algorithm for a single SKU.
func NewUpdatePriceHandler(p Pricer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		update, err := p.UpdatePrice(r.Context(), chi.URLParam(r, "sku"))
		if err != nil {
			writeComparisonError(w, err)
			return
		}
		response.JSON(w, update)
	}
}

// NewEngineStartHandler returns the handler for POST /api/v1/pricing/engine.
// The engine runs on baseCtx, not the request context, so it outlives the
// request.
func NewEngineStartHandler(baseCtx context.Context, p Pricer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := p.Start(baseCtx)
		if errors.Is(err, pricing.ErrAlreadyRunning) {
			response.Error(w, http.StatusConflict, "ENGINE_RUNNING", "Pricing engine is already running", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start engine", nil)
			return
		}
		response.Accepted(w, map[string]any{"running": true})
	}
}

// NewEngineStopHandler returns the handler for DELETE /api/v1/pricing/engine.
func NewEngineStopHandler(p Pricer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := p.Stop()
		if errors.Is(err, pricing.ErrNotRunning) {
			response.Error(w, http.StatusConflict, "ENGINE_STOPPED", "Pricing engine is not running", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to stop engine", nil)
			return
		}
		response.JSON(w, map[string]any{"running": false})
	}
}

// NewEngineStatusHandler returns the handler for GET /api/v1/pricing/engine.
func NewEngineStatusHandler(p Pricer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, map[string]any{"running": p.Running()})
	}
}
