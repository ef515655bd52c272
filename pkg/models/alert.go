package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AlertPriceDrop          = "price_drop"
	AlertPriceSpike         = "price_spike"
	AlertCompetitorUndercut = "competitor_undercut"
	AlertMarginTooLow       = "margin_too_low"
	AlertOutOfStock         = "out_of_stock"
	AlertPricingError       = "pricing_error"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// PricingAlert records a noteworthy market event for operator attention.
// Alerts are append-only; only the Resolved flag is ever updated.
type PricingAlert struct {
	ID        uuid.UUID `json:"id"`
	SKU       string    `json:"sku"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"created_at"`
}
