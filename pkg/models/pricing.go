package models

import "time"

// DefaultRuleID is the pricing rule guaranteed to exist as fallback.
const DefaultRuleID = "default"

// PricingRule bounds what the pricing engine may do to a SKU's price.
// Scope is optional: a rule with neither Category nor Brand applies to
// everything; the `default` rule always exists.
type PricingRule struct {
	ID               string     `json:"id"`
	Category         *string    `json:"category,omitempty"`
	Brand            *string    `json:"brand,omitempty"`
	MinMarkup        float64    `json:"min_markup"`
	MaxMarkup        float64    `json:"max_markup"`
	TargetMargin     float64    `json:"target_margin"`
	CompetitorFactor float64    `json:"competitor_factor"`
	Active           bool       `json:"active"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ProviderPrice is one provider's contribution to a price comparison.
type ProviderPrice struct {
	Provider     string    `json:"provider"`
	Price        float64   `json:"price"`
	ShippingCost float64   `json:"shipping_cost"`
	TotalCost    float64   `json:"total_cost"` // landed cost: price + shipping
	Available    bool      `json:"available"`
	DeliveryDays int       `json:"delivery_days"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// PriceComparison is an ephemeral cross-marketplace snapshot for one SKU.
// It may be cached with a short TTL but is never authoritative state.
type PriceComparison struct {
	SKU       string          `json:"sku"`
	Prices    []ProviderPrice `json:"prices"`
	BestPrice *ProviderPrice  `json:"best_price,omitempty"`
	OurPrice  float64         `json:"our_price"`
	Markup    float64         `json:"markup"`
	Savings   float64         `json:"savings"`
	Timestamp time.Time       `json:"timestamp"`
}

// Market position classifications relative to the observed market average.
const (
	PositionBudget      = "budget"
	PositionCompetitive = "competitive"
	PositionPremium     = "premium"
)

// MarketAnalysis summarizes a comparison into market statistics.
type MarketAnalysis struct {
	SKU              string  `json:"sku"`
	AveragePrice     float64 `json:"average_price"`
	LowestPrice      float64 `json:"lowest_price"`
	HighestPrice     float64 `json:"highest_price"`
	Volatility       float64 `json:"volatility"` // coefficient of variation, percent
	Position         string  `json:"position"`
	RecommendedPrice float64 `json:"recommended_price"`
	Confidence       float64 `json:"confidence"` // 0-100
}
