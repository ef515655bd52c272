package models

import "time"

// RawProduct is the provider-agnostic shape every marketplace adapter must
// produce. The core never sees marketplace-specific fields; anything a
// marketplace reports beyond this shape goes into Specs.
type RawProduct struct {
	ExternalID   string            `json:"external_id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Category     string            `json:"category,omitempty"`
	Brand        string            `json:"brand,omitempty"`
	Price        float64           `json:"price"`
	Currency     string            `json:"currency,omitempty"`
	Available    bool              `json:"available"`
	ShippingCost float64           `json:"shipping_cost,omitempty"`
	DeliveryDays int               `json:"delivery_days,omitempty"`
	URL          string            `json:"url,omitempty"`
	Images       []string          `json:"images,omitempty"`
	Specs        map[string]string `json:"specs,omitempty"`
}

// ProviderOffer is one marketplace's price/availability data for a SKU.
type ProviderOffer struct {
	Provider     string    `json:"provider"`
	ExternalID   string    `json:"external_id"`
	Price        float64   `json:"price"`
	Currency     string    `json:"currency"`
	Available    bool      `json:"available"`
	ShippingCost float64   `json:"shipping_cost"`
	DeliveryDays int       `json:"delivery_days"`
	LastUpdated  time.Time `json:"last_updated"`
	URL          string    `json:"url,omitempty"`
}

// LandedCost is the item price plus shipping from this offer.
func (o ProviderOffer) LandedCost() float64 {
	return o.Price + o.ShippingCost
}

// NormalizedProduct is the canonical record for one SKU across all
// providers. It is created on first sight of a SKU and mutated only through
// the conflict resolver. Invariant: at most one offer per provider name.
type NormalizedProduct struct {
	SKU              string            `json:"sku"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Category         string            `json:"category"`
	Subcategory      string            `json:"subcategory,omitempty"`
	Brand            string            `json:"brand"`
	Specifications   map[string]string `json:"specifications,omitempty"`
	Images           []string          `json:"images,omitempty"`
	Offers           []ProviderOffer   `json:"offers"`
	OurPrice         float64           `json:"our_price"`
	MarkupPercentage float64           `json:"markup_percentage"`
	IsActive         bool              `json:"is_active"`
	ReviewFields     []string          `json:"review_fields,omitempty"`
	LastSynced       time.Time         `json:"last_synced"`
}

// Offer returns the offer for the named provider, if present.
func (p *NormalizedProduct) Offer(provider string) (ProviderOffer, bool) {
	for _, o := range p.Offers {
		if o.Provider == provider {
			return o, true
		}
	}
	return ProviderOffer{}, false
}
