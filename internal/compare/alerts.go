package compare

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pricesmith/pricesmith/pkg/models"
)

const (
	priceDropThreshold  = 0.10
	priceSpikeThreshold = 0.15
	undercutThreshold   = 0.10
	minMarginRatio      = 0.10
)

// evaluateAlerts compares the new snapshot against the prior one (if any)
// and persists any triggered alerts. Alerting failures are logged, never
// propagated: a broken alert store must not fail a comparison.
func (c *Comparator) evaluateAlerts(ctx context.Context, prior, current *models.PriceComparison) {
	for _, alert := range EvaluateAlerts(prior, current) {
		a := alert
		a.ID = uuid.New()
		a.CreatedAt = c.now().UTC()
		if err := c.store.CreateAlert(ctx, &a); err != nil {
			slog.Error("persisting alert failed", "sku", a.SKU, "type", a.Type, "error", err)
		}
	}
}

// EvaluateAlerts derives alerts from a comparison and its predecessor.
// Returned alerts carry no ID or timestamp; the caller stamps them.
func EvaluateAlerts(prior, current *models.PriceComparison) []models.PricingAlert {
	var alerts []models.PricingAlert

	if prior != nil && prior.OurPrice > 0 {
		change := (current.OurPrice - prior.OurPrice) / prior.OurPrice
		if change <= -priceDropThreshold {
			alerts = append(alerts, models.PricingAlert{
				SKU:  current.SKU,
				Type: models.AlertPriceDrop,
				Message: fmt.Sprintf("our price dropped %.1f%% (%.2f to %.2f)",
					-change*100, prior.OurPrice, current.OurPrice),
				Severity: models.SeverityWarning,
			})
		}
		if change >= priceSpikeThreshold {
			alerts = append(alerts, models.PricingAlert{
				SKU:  current.SKU,
				Type: models.AlertPriceSpike,
				Message: fmt.Sprintf("our price rose %.1f%% (%.2f to %.2f)",
					change*100, prior.OurPrice, current.OurPrice),
				Severity: models.SeverityWarning,
			})
		}
	}

	if current.OurPrice > 0 {
		undercutters := 0
		for _, p := range current.Prices {
			if p.Available && p.TotalCost <= current.OurPrice*(1-undercutThreshold) {
				undercutters++
			}
		}
		if undercutters > 0 {
			alerts = append(alerts, models.PricingAlert{
				SKU:  current.SKU,
				Type: models.AlertCompetitorUndercut,
				Message: fmt.Sprintf("%d competitor(s) price at least %.0f%% below our %.2f",
					undercutters, undercutThreshold*100, current.OurPrice),
				Severity: models.SeverityCritical,
			})
		}

		if current.BestPrice != nil {
			margin := (current.OurPrice - current.BestPrice.TotalCost) / current.OurPrice
			if margin < minMarginRatio {
				alerts = append(alerts, models.PricingAlert{
					SKU:  current.SKU,
					Type: models.AlertMarginTooLow,
					Message: fmt.Sprintf("margin %.1f%% below %.0f%% floor (our %.2f, best landed %.2f)",
						margin*100, minMarginRatio*100, current.OurPrice, current.BestPrice.TotalCost),
					Severity: models.SeverityCritical,
				})
			}
		}
	}

	anyAvailable := false
	for _, p := range current.Prices {
		if p.Available {
			anyAvailable = true
			break
		}
	}
	if !anyAvailable {
		alerts = append(alerts, models.PricingAlert{
			SKU:      current.SKU,
			Type:     models.AlertOutOfStock,
			Message:  "no provider reports stock",
			Severity: models.SeverityWarning,
		})
	}

	return alerts
}
