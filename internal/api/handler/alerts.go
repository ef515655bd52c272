package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pricesmith/pricesmith/internal/api/response"
	"github.com/pricesmith/pricesmith/internal/store"
	"github.com/pricesmith/pricesmith/pkg/models"
)

const defaultAlertLimit = 100

// AlertStore is the alert surface the handlers depend on.
type AlertStore interface {
	ListAlerts(ctx context.Context, filter store.AlertFilter) ([]*models.PricingAlert, error)
	ResolveAlert(ctx context.Context, id uuid.UUID) error
}

// NewListAlertsHandler returns the handler for GET /api/v1/alerts.
// Supported query parameters: sku, unresolved, limit.
func NewListAlertsHandler(s AlertStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.AlertFilter{
			SKU:        r.URL.Query().Get("sku"),
			Unresolved: r.URL.Query().Get("unresolved") == "true",
			Limit:      defaultAlertLimit,
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			filter.Limit = limit
		}

		alerts, err := s.ListAlerts(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list alerts", nil)
			return
		}
		if alerts == nil {
			alerts = []*models.PricingAlert{}
		}
		response.JSON(w, alerts)
	}
}

// NewResolveAlertHandler returns the handler for
// POST /api/v1/alerts/{alertID}/resolve.
func NewResolveAlertHandler(s AlertStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "alertID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "alertID must be a UUID", nil)
			return
		}

		err = s.ResolveAlert(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "ALERT_NOT_FOUND", "No unresolved alert with that id", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to resolve alert", nil)
			return
		}
		response.JSON(w, map[string]any{"resolved": true})
	}
}
