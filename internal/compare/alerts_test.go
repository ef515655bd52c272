package compare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricesmith/pricesmith/pkg/models"
)

func alertsByType(alerts []models.PricingAlert) map[string]models.PricingAlert {
	out := make(map[string]models.PricingAlert, len(alerts))
	for _, a := range alerts {
		out[a.Type] = a
	}
	return out
}

func TestEvaluateAlertsPriceDrop(t *testing.T) {
	prior := comparison(100)
	best := providerPrice("Amazon", 75, true)
	current := comparison(88, best)
	current.BestPrice = &best

	byType := alertsByType(EvaluateAlerts(prior, current))

	drop, ok := byType[models.AlertPriceDrop]
	require.True(t, ok)
	assert.Equal(t, models.SeverityWarning, drop.Severity)
	assert.Contains(t, drop.Message, "12.0%")
	assert.Contains(t, drop.Message, "100.00 to 88.00")

	assert.NotContains(t, byType, models.AlertPriceSpike)
}

func TestEvaluateAlertsPriceSpike(t *testing.T) {
	prior := comparison(100)
	best := providerPrice("Amazon", 115, true)
	current := comparison(120, best)
	current.BestPrice = &best

	byType := alertsByType(EvaluateAlerts(prior, current))

	spike, ok := byType[models.AlertPriceSpike]
	require.True(t, ok)
	assert.Contains(t, spike.Message, "20.0%")
	assert.NotContains(t, byType, models.AlertPriceDrop)
}

func TestEvaluateAlertsSmallChangeIsQuiet(t *testing.T) {
	prior := comparison(100)
	best := providerPrice("Amazon", 95, true)
	current := comparison(95, best) // -5%, inside both thresholds
	current.BestPrice = &best

	byType := alertsByType(EvaluateAlerts(prior, current))
	assert.NotContains(t, byType, models.AlertPriceDrop)
	assert.NotContains(t, byType, models.AlertPriceSpike)
}

func TestEvaluateAlertsCompetitorUndercut(t *testing.T) {
	best := providerPrice("eBay", 80, true)
	current := comparison(100,
		best,
		providerPrice("Amazon", 99, true), // above the undercut line
	)
	current.BestPrice = &best

	byType := alertsByType(EvaluateAlerts(nil, current))

	undercut, ok := byType[models.AlertCompetitorUndercut]
	require.True(t, ok)
	assert.Equal(t, models.SeverityCritical, undercut.Severity)
	assert.Contains(t, undercut.Message, "1 competitor(s)")
}

func TestEvaluateAlertsMarginTooLow(t *testing.T) {
	best := providerPrice("Amazon", 95, true)
	current := comparison(100, best) // 5% margin
	current.BestPrice = &best

	byType := alertsByType(EvaluateAlerts(nil, current))

	margin, ok := byType[models.AlertMarginTooLow]
	require.True(t, ok)
	assert.Equal(t, models.SeverityCritical, margin.Severity)
	assert.NotContains(t, byType, models.AlertCompetitorUndercut)
}

func TestEvaluateAlertsOutOfStock(t *testing.T) {
	best := providerPrice("Amazon", 80, false)
	current := comparison(100, best, providerPrice("eBay", 90, false))
	current.BestPrice = &best

	byType := alertsByType(EvaluateAlerts(nil, current))
	_, ok := byType[models.AlertOutOfStock]
	assert.True(t, ok)
	assert.NotContains(t, byType, models.AlertCompetitorUndercut,
		"unavailable offers never count as undercuts")
}

func TestEvaluateAlertsNilPrior(t *testing.T) {
	best := providerPrice("Amazon", 85, true)
	current := comparison(100, best)
	current.BestPrice = &best

	// No history means no trend alerts.
	byType := alertsByType(EvaluateAlerts(nil, current))
	assert.NotContains(t, byType, models.AlertPriceDrop)
	assert.NotContains(t, byType, models.AlertPriceSpike)
}
