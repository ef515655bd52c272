package resolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricesmith/pricesmith/pkg/models"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

func newTestResolver(rules []Rule) *Resolver {
	return New(rules, WithClock(fixedClock))
}

func offer(provider string, price float64, available bool) models.ProviderOffer {
	return models.ProviderOffer{
		Provider:   provider,
		ExternalID: provider + "-ext",
		Price:      price,
		Currency:   "USD",
		Available:  available,
	}
}

func product(sku string, markup float64, offers ...models.ProviderOffer) *models.NormalizedProduct {
	return &models.NormalizedProduct{
		SKU:              sku,
		Name:             sku + " name",
		Category:         "Computers",
		Brand:            "Lenovo",
		Offers:           offers,
		MarkupPercentage: markup,
		LastSynced:       fixedTime,
	}
}

func TestMergeNilExisting(t *testing.T) {
	r := newTestResolver(DefaultRules())
	incoming := product("SKU-1", 10, offer("Amazon", 100, true))

	out := r.Merge(nil, incoming)

	require.Len(t, out.Offers, 1)
	assert.Equal(t, 110.0, out.OurPrice)
	assert.True(t, out.IsActive)

	// Inputs stay untouched.
	assert.Equal(t, 0.0, incoming.OurPrice)
}

func TestMergeIdempotent(t *testing.T) {
	r := newTestResolver(DefaultRules())
	existing := product("SKU-1", 10, offer("Amazon", 100, true), offer("eBay", 95, true))
	incoming := product("SKU-1", 10, offer("eBay", 90, true))

	once := r.Merge(existing, incoming)
	twice := r.Merge(once, incoming)

	assert.Equal(t, once, twice)
}

func TestMergeOffersUnion(t *testing.T) {
	r := newTestResolver(DefaultRules())
	existing := product("SKU-1", 10, offer("Amazon", 100, true), offer("Newegg", 110, true))
	incoming := product("SKU-1", 10, offer("Newegg", 105, false), offer("eBay", 95, true))

	out := r.Merge(existing, incoming)

	require.Len(t, out.Offers, 3)
	// Existing order first, new providers appended.
	assert.Equal(t, "Amazon", out.Offers[0].Provider)
	assert.Equal(t, "Newegg", out.Offers[1].Provider)
	assert.Equal(t, "eBay", out.Offers[2].Provider)

	// The incoming Newegg offer replaced the old one.
	assert.Equal(t, 105.0, out.Offers[1].Price)
	assert.False(t, out.Offers[1].Available)
	assert.Equal(t, fixedTime, out.Offers[1].LastUpdated)
}

func TestBestOfferPrefersAvailable(t *testing.T) {
	// The unavailable offer is cheaper but cannot be fulfilled.
	cheap := offer("eBay", 50, false)
	viable := offer("Amazon", 70, true)

	best, ok := BestOffer([]models.ProviderOffer{cheap, viable})
	require.True(t, ok)
	assert.Equal(t, "Amazon", best.Provider)
}

func TestBestOfferComparesLandedCost(t *testing.T) {
	a := offer("Amazon", 100, true) // landed 100
	b := offer("eBay", 96, true)
	b.ShippingCost = 5.99 // landed 101.99

	best, ok := BestOffer([]models.ProviderOffer{a, b})
	require.True(t, ok)
	assert.Equal(t, "Amazon", best.Provider)
}

func TestBestOfferAllUnavailable(t *testing.T) {
	a := offer("Amazon", 100, false)
	b := offer("eBay", 80, false)

	best, ok := BestOffer([]models.ProviderOffer{a, b})
	require.True(t, ok)
	assert.Equal(t, "eBay", best.Provider)

	_, ok = BestOffer(nil)
	assert.False(t, ok)
}

func TestMergeRecomputesDerivedFields(t *testing.T) {
	r := newTestResolver(DefaultRules())
	existing := product("SKU-1", 10, offer("Amazon", 100, true))
	existing.OurPrice = 110
	existing.IsActive = true

	// Amazon goes out of stock; a cheaper eBay offer appears.
	incoming := product("SKU-1", 10, offer("Amazon", 100, false), offer("eBay", 90, true))

	out := r.Merge(existing, incoming)

	assert.Equal(t, 99.0, out.OurPrice) // 90 * 1.10
	assert.True(t, out.IsActive)
}

func TestMergeDeactivatesWhenNothingAvailable(t *testing.T) {
	r := newTestResolver(DefaultRules())
	existing := product("SKU-1", 10, offer("Amazon", 100, true))
	incoming := product("SKU-1", 10, offer("Amazon", 100, false))

	out := r.Merge(existing, incoming)
	assert.False(t, out.IsActive)
}

func TestProviderPriorityStrategy(t *testing.T) {
	r := newTestResolver(DefaultRules())

	existing := product("SKU-1", 10, offer("eBay", 90, true))
	existing.Name = "eBay listing title"

	// Amazon outranks eBay, so its name wins.
	incoming := product("SKU-1", 10, offer("Amazon", 100, true))
	incoming.Name = "Amazon listing title"

	out := r.Merge(existing, incoming)
	assert.Equal(t, "Amazon listing title", out.Name)

	// The reverse direction keeps the higher-ranked existing value.
	out = r.Merge(incoming, existing)
	assert.Equal(t, "Amazon listing title", out.Name)
}

func TestLatestWinsStrategy(t *testing.T) {
	r := newTestResolver(DefaultRules())

	existing := product("SKU-1", 10, offer("Amazon", 100, true))
	existing.Description = "old description"

	incoming := product("SKU-1", 10, offer("eBay", 120, true))
	incoming.Description = "fresh description"

	out := r.Merge(existing, incoming)
	assert.Equal(t, "fresh description", out.Description)
}

func TestLatestWinsTakesEmptyIncoming(t *testing.T) {
	r := newTestResolver(DefaultRules())

	existing := product("SKU-1", 10, offer("eBay", 90, true))
	existing.Description = "old description"
	existing.Images = []string{"https://img.example.com/a.jpg"}

	// The freshest sync no longer carries a description or images; the
	// stale values must not survive it.
	incoming := product("SKU-1", 10, offer("Amazon", 100, true))
	incoming.Description = ""
	incoming.Images = nil

	out := r.Merge(existing, incoming)
	assert.Empty(t, out.Description)
	assert.Empty(t, out.Images)
}

func TestProviderPriorityIgnoresEmptyIncoming(t *testing.T) {
	r := newTestResolver(DefaultRules())

	existing := product("SKU-1", 10, offer("eBay", 90, true))

	// Amazon outranks eBay but reports no brand or name; the values eBay
	// supplied stay.
	incoming := product("SKU-1", 10, offer("Amazon", 100, true))
	incoming.Name = ""
	incoming.Brand = ""

	out := r.Merge(existing, incoming)
	assert.Equal(t, "SKU-1 name", out.Name)
	assert.Equal(t, "Lenovo", out.Brand)
}

func TestManualReviewStrategy(t *testing.T) {
	rules := append(DefaultRules(), Rule{Field: "name", Strategy: ManualReview})
	// The later rule for the same field replaces the earlier one.
	r := newTestResolver(rules)

	existing := product("SKU-1", 10, offer("eBay", 90, true))
	existing.Name = "original name"
	incoming := product("SKU-1", 10, offer("Amazon", 100, true))
	incoming.Name = "conflicting name"

	out := r.Merge(existing, incoming)
	assert.Equal(t, "original name", out.Name)
	assert.Equal(t, []string{"name"}, out.ReviewFields)

	// Flagging is idempotent.
	out = r.Merge(out, incoming)
	assert.Equal(t, []string{"name"}, out.ReviewFields)
}

func TestFieldRulePriorityOverride(t *testing.T) {
	rules := DefaultRules()
	for i := range rules {
		if rules[i].Field == "name" {
			rules[i].Priority = []string{"eBay", "Amazon"}
		}
	}
	r := newTestResolver(rules)

	existing := product("SKU-1", 10, offer("Amazon", 100, true))
	existing.Name = "Amazon listing title"
	incoming := product("SKU-1", 10, offer("eBay", 90, true))
	incoming.Name = "eBay listing title"

	out := r.Merge(existing, incoming)
	assert.Equal(t, "eBay listing title", out.Name)
}
