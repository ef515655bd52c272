package compare

import (
	"context"
	"math"

	"github.com/pricesmith/pricesmith/pkg/models"
)

// Analyze builds market statistics for a SKU from a fresh comparison.
func (c *Comparator) Analyze(ctx context.Context, sku string) (*models.MarketAnalysis, error) {
	cmp, err := c.Compare(ctx, sku)
	if err != nil {
		return nil, err
	}
	return AnalyzeComparison(cmp), nil
}

// AnalyzeComparison derives market statistics from an existing snapshot.
// Statistics cover available offers' landed costs; when nothing is in
// stock all offers are used so the analysis still reflects the market.
func AnalyzeComparison(cmp *models.PriceComparison) *models.MarketAnalysis {
	costs := landedCosts(cmp.Prices, true)
	if len(costs) == 0 {
		costs = landedCosts(cmp.Prices, false)
	}
	if len(costs) == 0 {
		// Compare never produces an empty snapshot, but callers can hand
		// one in directly; report zero confidence instead of panicking.
		return &models.MarketAnalysis{SKU: cmp.SKU}
	}

	avg := mean(costs)
	lowest, highest := costs[0], costs[0]
	for _, c := range costs[1:] {
		if c < lowest {
			lowest = c
		}
		if c > highest {
			highest = c
		}
	}

	// Coefficient of variation over the population, as a percentage.
	volatility := 0.0
	if avg > 0 {
		volatility = round2(stddev(costs, avg) / avg * 100)
	}

	position := models.PositionCompetitive
	switch {
	case cmp.OurPrice <= 0.9*avg:
		position = models.PositionBudget
	case cmp.OurPrice >= 1.1*avg:
		position = models.PositionPremium
	}

	// Provider count contributes 60% (capped at 5 providers), inverse
	// volatility the remaining 40%, scaled to 0-100.
	providerScore := math.Min(float64(len(cmp.Prices)), 5) / 5
	volatilityScore := math.Max(0, 1-volatility/100)
	confidence := round2((0.6*providerScore + 0.4*volatilityScore) * 100)

	return &models.MarketAnalysis{
		SKU:              cmp.SKU,
		AveragePrice:     round2(avg),
		LowestPrice:      round2(lowest),
		HighestPrice:     round2(highest),
		Volatility:       volatility,
		Position:         position,
		RecommendedPrice: round2(math.Max(0.95*avg, 1.1*lowest)),
		Confidence:       confidence,
	}
}

func landedCosts(prices []models.ProviderPrice, availableOnly bool) []float64 {
	var out []float64
	for _, p := range prices {
		if availableOnly && !p.Available {
			continue
		}
		out = append(out, p.TotalCost)
	}
	return out
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
