package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/pricesmith/pricesmith/internal/api/middleware"
	"github.com/pricesmith/pricesmith/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	TriggerSyncHandler http.HandlerFunc
	GetJobHandler      http.HandlerFunc
	CancelJobHandler   http.HandlerFunc
	QueueStatusHandler http.HandlerFunc

	ComparisonHandler   http.HandlerFunc
	AnalysisHandler     http.HandlerFunc
	BatchCompareHandler http.HandlerFunc
	UpdatePriceHandler  http.HandlerFunc

	EngineStartHandler  http.HandlerFunc
	EngineStopHandler   http.HandlerFunc
	EngineStatusHandler http.HandlerFunc

	ListAlertsHandler   http.HandlerFunc
	ResolveAlertHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/sync", orNotImplemented(deps.TriggerSyncHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(deps.CancelJobHandler))
		r.Get("/api/v1/queue/status", orNotImplemented(deps.QueueStatusHandler))

		r.Get("/api/v1/products/{sku}/comparison", orNotImplemented(deps.ComparisonHandler))
		r.Get("/api/v1/products/{sku}/analysis", orNotImplemented(deps.AnalysisHandler))
		r.Post("/api/v1/products/{sku}/price", orNotImplemented(deps.UpdatePriceHandler))
		r.Post("/api/v1/compare", orNotImplemented(deps.BatchCompareHandler))

		r.Post("/api/v1/pricing/engine", orNotImplemented(deps.EngineStartHandler))
		r.Delete("/api/v1/pricing/engine", orNotImplemented(deps.EngineStopHandler))
		r.Get("/api/v1/pricing/engine", orNotImplemented(deps.EngineStatusHandler))

		r.Get("/api/v1/alerts", orNotImplemented(deps.ListAlertsHandler))
		r.Post("/api/v1/alerts/{alertID}/resolve", orNotImplemented(deps.ResolveAlertHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
