// Package resolve merges an incoming normalized product into the existing
// canonical record for the same SKU, producing a new canonical record with
// no provider data lost and one coherent resale price.
package resolve

import (
	"math"
	"slices"
	"time"

	"github.com/pricesmith/pricesmith/pkg/models"
)

// Strategy names how a single field conflict is decided.
type Strategy string

const (
	LatestWins          Strategy = "latest_wins"
	ProviderPriority    Strategy = "provider_priority"
	LowestPrice         Strategy = "lowest_price"
	HighestAvailability Strategy = "highest_availability"
	ManualReview        Strategy = "manual_review"
)

// Rule configures conflict resolution for one canonical field.
type Rule struct {
	Field    string
	Strategy Strategy
	// Priority overrides the resolver-wide provider order for this field.
	Priority []string
}

// DefaultProviderOrder ranks providers for provider-priority resolution.
// Unranked providers rank lowest.
var DefaultProviderOrder = []string{"Amazon", "eBay", "Newegg", "AliExpress", "Banggood"}

// DefaultRules covers the fields merged in production. Fields without a
// rule keep their existing value.
func DefaultRules() []Rule {
	return []Rule{
		{Field: "name", Strategy: ProviderPriority},
		{Field: "description", Strategy: LatestWins},
		{Field: "category", Strategy: ProviderPriority},
		{Field: "subcategory", Strategy: ProviderPriority},
		{Field: "brand", Strategy: ProviderPriority},
		{Field: "specifications", Strategy: LatestWins},
		{Field: "images", Strategy: LatestWins},
		{Field: "our_price", Strategy: LowestPrice},
		{Field: "is_active", Strategy: HighestAvailability},
	}
}

// Resolver merges canonical records field by field. It holds no mutable
// state and is safe for concurrent use.
type Resolver struct {
	rules         map[string]Rule
	providerOrder []string
	now           func() time.Time
}

type Option func(*Resolver)

// WithProviderOrder overrides the default provider priority order.
func WithProviderOrder(order []string) Option {
	return func(r *Resolver) { r.providerOrder = order }
}

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New creates a Resolver with the given field rules.
func New(rules []Rule, opts ...Option) *Resolver {
	r := &Resolver{
		rules:         make(map[string]Rule, len(rules)),
		providerOrder: DefaultProviderOrder,
		now:           time.Now,
	}
	for _, rule := range rules {
		r.rules[rule.Field] = rule
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Merge reconciles incoming into existing and returns the new canonical
// record. Neither input is mutated. Merging the same incoming record twice
// yields identical output.
func (r *Resolver) Merge(existing, incoming *models.NormalizedProduct) *models.NormalizedProduct {
	if existing == nil {
		out := clone(incoming)
		r.finalize(out)
		return out
	}

	out := clone(existing)
	out.Offers = r.mergeOffers(existing.Offers, incoming.Offers)
	out.LastSynced = incoming.LastSynced

	existingPrimary := r.primaryProvider(existing)
	incomingPrimary := r.primaryProvider(incoming)
	incomingWinsPriority := r.providerRank(incomingPrimary) < r.providerRank(existingPrimary)

	for field, rule := range r.rules {
		switch rule.Strategy {
		case LatestWins:
			setField(out, incoming, field)
		case ProviderPriority:
			wins := incomingWinsPriority
			if len(rule.Priority) > 0 {
				wins = rankIn(rule.Priority, incomingPrimary) < rankIn(rule.Priority, existingPrimary)
			}
			if wins {
				copyField(out, incoming, field)
			}
		case LowestPrice, HighestAvailability:
			// Derived from the merged offer set in finalize.
		case ManualReview:
			// Keep the existing value and flag the field for an operator.
			if !slices.Contains(out.ReviewFields, field) {
				out.ReviewFields = append(out.ReviewFields, field)
				slices.Sort(out.ReviewFields)
			}
		}
	}

	r.finalize(out)
	return out
}

// mergeOffers unions offers by provider name. An offer present in both sets
// is replaced by the incoming one with a refreshed last_updated; offers
// present only in the existing record are preserved. Output order is
// existing order, then new providers in incoming order.
func (r *Resolver) mergeOffers(existing, incoming []models.ProviderOffer) []models.ProviderOffer {
	now := r.now().UTC()
	merged := make([]models.ProviderOffer, len(existing))
	copy(merged, existing)

	for _, in := range incoming {
		in.LastUpdated = now
		replaced := false
		for i := range merged {
			if merged[i].Provider == in.Provider {
				merged[i] = in
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, in)
		}
	}
	return merged
}

// BestOffer selects the offer backing the resale price: the available offer
// with the lowest landed cost, or the lowest-price offer regardless of
// availability when nothing is in stock.
func BestOffer(offers []models.ProviderOffer) (models.ProviderOffer, bool) {
	if len(offers) == 0 {
		return models.ProviderOffer{}, false
	}

	best := -1
	for i, o := range offers {
		if !o.Available {
			continue
		}
		if best < 0 || o.LandedCost() < offers[best].LandedCost() {
			best = i
		}
	}
	if best >= 0 {
		return offers[best], true
	}

	best = 0
	for i, o := range offers {
		if o.Price < offers[best].Price {
			best = i
		}
	}
	return offers[best], true
}

// finalize recomputes the derived fields from the merged offer set.
func (r *Resolver) finalize(p *models.NormalizedProduct) {
	best, ok := BestOffer(p.Offers)
	if ok {
		p.OurPrice = round2(best.Price * (1 + p.MarkupPercentage/100))
	}

	active := false
	for _, o := range p.Offers {
		if o.Available {
			active = true
			break
		}
	}
	p.IsActive = active
}

// primaryProvider is the provider of the record's best offer.
func (r *Resolver) primaryProvider(p *models.NormalizedProduct) string {
	if best, ok := BestOffer(p.Offers); ok {
		return best.Provider
	}
	return ""
}

// providerRank returns the provider's position in the priority order;
// unranked providers sort after every ranked one.
func (r *Resolver) providerRank(provider string) int {
	return rankIn(r.providerOrder, provider)
}

func rankIn(order []string, provider string) int {
	for i, p := range order {
		if p == provider {
			return i
		}
	}
	return len(order)
}

// setField writes the incoming value unconditionally. Latest-wins means the
// freshest sync is authoritative even when it reports the field empty.
func setField(dst, src *models.NormalizedProduct, field string) {
	switch field {
	case "name":
		dst.Name = src.Name
	case "description":
		dst.Description = src.Description
	case "category":
		dst.Category = src.Category
	case "subcategory":
		dst.Subcategory = src.Subcategory
	case "brand":
		dst.Brand = src.Brand
	case "specifications":
		dst.Specifications = cloneMap(src.Specifications)
	case "images":
		dst.Images = slices.Clone(src.Images)
	}
}

// copyField writes the incoming value only when it is non-empty. Used for
// provider-priority: a higher-ranked provider not reporting a field must not
// erase data a lower-ranked one supplied.
func copyField(dst, src *models.NormalizedProduct, field string) {
	switch field {
	case "name":
		if src.Name != "" {
			dst.Name = src.Name
		}
	case "description":
		if src.Description != "" {
			dst.Description = src.Description
		}
	case "category":
		if src.Category != "" {
			dst.Category = src.Category
		}
	case "subcategory":
		if src.Subcategory != "" {
			dst.Subcategory = src.Subcategory
		}
	case "brand":
		if src.Brand != "" {
			dst.Brand = src.Brand
		}
	case "specifications":
		if len(src.Specifications) > 0 {
			dst.Specifications = cloneMap(src.Specifications)
		}
	case "images":
		if len(src.Images) > 0 {
			dst.Images = slices.Clone(src.Images)
		}
	}
}

func clone(p *models.NormalizedProduct) *models.NormalizedProduct {
	out := *p
	out.Specifications = cloneMap(p.Specifications)
	out.Images = slices.Clone(p.Images)
	out.Offers = slices.Clone(p.Offers)
	out.ReviewFields = slices.Clone(p.ReviewFields)
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
