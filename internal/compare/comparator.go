// Package compare builds cross-marketplace price snapshots for single SKUs,
// derives market statistics from them and raises pricing alerts.
package compare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pricesmith/pricesmith/internal/cache"
	"github.com/pricesmith/pricesmith/internal/provider"
	"github.com/pricesmith/pricesmith/internal/store"
	"github.com/pricesmith/pricesmith/pkg/models"
)

// ErrNoProviderData means zero providers returned data for a SKU; the
// comparison fails rather than producing a silent empty result.
var ErrNoProviderData = errors.New("no provider returned price data")

// Per-provider shipping estimates applied when building landed costs.
type shippingEstimate struct {
	Cost float64
	Days int
}

var defaultShippingTable = map[string]shippingEstimate{
	"Amazon":     {Cost: 0, Days: 2},
	"eBay":       {Cost: 5.99, Days: 5},
	"Newegg":     {Cost: 4.99, Days: 4},
	"AliExpress": {Cost: 2.99, Days: 15},
	"Banggood":   {Cost: 3.49, Days: 12},
}

var fallbackShipping = shippingEstimate{Cost: 7.99, Days: 7}

// Comparator produces price comparisons with a short-TTL read-through cache
// in front of the adapters.
type Comparator struct {
	registry *provider.Registry
	cache    cache.Cache
	store    store.Store

	cacheTTL   time.Duration
	historyLen int
	batchSize  int
	batchPause time.Duration
	shipping   map[string]shippingEstimate
	now        func() time.Time
}

// Config tunes a Comparator; zero values get sensible defaults.
type Config struct {
	CacheTTL      time.Duration
	HistoryLength int
	BatchSize     int
	BatchPause    time.Duration
}

// New creates a Comparator.
func New(reg *provider.Registry, c cache.Cache, st store.Store, cfg Config) *Comparator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if cfg.HistoryLength <= 0 {
		cfg.HistoryLength = 500
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Comparator{
		registry:   reg,
		cache:      c,
		store:      st,
		cacheTTL:   cfg.CacheTTL,
		historyLen: cfg.HistoryLength,
		batchSize:  cfg.BatchSize,
		batchPause: cfg.BatchPause,
		shipping:   defaultShippingTable,
		now:        time.Now,
	}
}

// historyPoint is one entry in a provider's bounded price-history series.
type historyPoint struct {
	Price     float64   `json:"price"`
	TotalCost float64   `json:"total_cost"`
	Available bool      `json:"available"`
	At        time.Time `json:"at"`
}

// Compare builds a fresh snapshot for one SKU. Each provider is served
// read-through from the cache; per-provider failures are skipped, and only
// zero responding providers fails the comparison. Alerts are evaluated
// against the immediately prior comparison, if still cached.
func (c *Comparator) Compare(ctx context.Context, sku string) (*models.PriceComparison, error) {
	product, err := c.store.GetProduct(ctx, sku)
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", sku, err)
	}

	prior := c.cachedComparison(ctx, sku)

	var prices []models.ProviderPrice
	for _, name := range c.registry.Names() {
		pp, err := c.providerPrice(ctx, name, sku)
		if err != nil {
			slog.Warn("provider skipped in comparison", "provider", name, "sku", sku, "error", err)
			continue
		}
		if pp == nil {
			continue
		}
		prices = append(prices, *pp)
	}

	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: sku %s", ErrNoProviderData, sku)
	}

	best := bestProviderPrice(prices)
	cmp := &models.PriceComparison{
		SKU:       sku,
		Prices:    prices,
		BestPrice: &best,
		OurPrice:  product.OurPrice,
		Timestamp: c.now().UTC(),
	}
	if best.TotalCost > 0 {
		cmp.Markup = round2((product.OurPrice - best.TotalCost) / best.TotalCost * 100)
	}
	cmp.Savings = round2(maxf(0, averageLandedCost(prices)-product.OurPrice))

	c.evaluateAlerts(ctx, prior, cmp)

	if data, err := json.Marshal(cmp); err == nil {
		if err := c.cache.Set(ctx, cache.ComparisonKey(sku), data, c.cacheTTL); err != nil {
			slog.Warn("caching comparison failed", "sku", sku, "error", err)
		}
	}
	return cmp, nil
}

// BatchResult reports a batch comparison sweep.
type BatchResult struct {
	Processed   int                       `json:"processed"`
	Failed      int                       `json:"failed"`
	Errors      []string                  `json:"errors,omitempty"`
	Comparisons []*models.PriceComparison `json:"comparisons"`
}

// CompareBatch processes SKUs in fixed-size groups with an inter-batch
// pause, bounding peak concurrent provider load. Per-item failures are
// collected and excluded rather than aborting the batch.
func (c *Comparator) CompareBatch(ctx context.Context, skus []string) (*BatchResult, error) {
	result := &BatchResult{}

	for start := 0; start < len(skus); start += c.batchSize {
		if start > 0 && c.batchPause > 0 {
			if err := sleepCtx(ctx, c.batchPause); err != nil {
				return result, err
			}
		}

		end := start + c.batchSize
		if end > len(skus) {
			end = len(skus)
		}
		for _, sku := range skus[start:end] {
			cmp, err := c.Compare(ctx, sku)
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", sku, err))
				continue
			}
			result.Processed++
			result.Comparisons = append(result.Comparisons, cmp)
		}
	}
	return result, nil
}

// ArchiveComparison appends a comparison to the SKU's bounded history so
// trend evaluation survives the short cache TTL.
func (c *Comparator) ArchiveComparison(ctx context.Context, cmp *models.PriceComparison) error {
	data, err := json.Marshal(cmp)
	if err != nil {
		return fmt.Errorf("encode comparison: %w", err)
	}
	return c.cache.AppendToSeries(ctx, cache.ComparisonKey(cmp.SKU)+":history", data, cmp.Timestamp, c.historyLen)
}

// Invalidate drops the cached comparison for a SKU, forcing the next
// Compare to rebuild it. Called after a price change.
func (c *Comparator) Invalidate(ctx context.Context, sku string) error {
	return c.cache.Delete(ctx, cache.ComparisonKey(sku))
}

// providerPrice serves one provider's price read-through the cache. A nil
// result with nil error means the provider has no data for this SKU.
func (c *Comparator) providerPrice(ctx context.Context, providerName, sku string) (*models.ProviderPrice, error) {
	key := cache.ProviderPriceKey(providerName, sku)
	if data, found, err := c.cache.Get(ctx, key); err == nil && found {
		var pp models.ProviderPrice
		if err := json.Unmarshal(data, &pp); err == nil {
			return &pp, nil
		}
	}

	externalID, err := c.store.GetProviderProductID(ctx, sku, providerName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	adapter, ok := c.registry.Get(providerName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrUnknownProvider, providerName)
	}

	price, err := adapter.GetPrice(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if price == nil {
		return nil, nil
	}
	available, err := adapter.CheckAvailability(ctx, externalID)
	if err != nil {
		return nil, err
	}

	est, ok := c.shipping[providerName]
	if !ok {
		est = fallbackShipping
	}

	pp := &models.ProviderPrice{
		Provider:     providerName,
		Price:        *price,
		ShippingCost: est.Cost,
		TotalCost:    round2(*price + est.Cost),
		Available:    available,
		DeliveryDays: est.Days,
		FetchedAt:    c.now().UTC(),
	}

	if data, err := json.Marshal(pp); err == nil {
		if err := c.cache.Set(ctx, key, data, c.cacheTTL); err != nil {
			slog.Warn("caching provider price failed", "provider", providerName, "sku", sku, "error", err)
		}
		point, _ := json.Marshal(historyPoint{
			Price: pp.Price, TotalCost: pp.TotalCost, Available: pp.Available, At: pp.FetchedAt,
		})
		if err := c.cache.AppendToSeries(ctx, cache.PriceHistoryKey(providerName, sku), point, pp.FetchedAt, c.historyLen); err != nil {
			slog.Warn("appending price history failed", "provider", providerName, "sku", sku, "error", err)
		}
	}
	return pp, nil
}

// PriceHistory returns a provider's cached price points in [from, to].
func (c *Comparator) PriceHistory(ctx context.Context, providerName, sku string, from, to time.Time) ([]models.ProviderPrice, error) {
	raw, err := c.cache.RangeByScore(ctx, cache.PriceHistoryKey(providerName, sku), from, to)
	if err != nil {
		return nil, fmt.Errorf("read price history: %w", err)
	}

	out := make([]models.ProviderPrice, 0, len(raw))
	for _, data := range raw {
		var point historyPoint
		if err := json.Unmarshal(data, &point); err != nil {
			continue
		}
		out = append(out, models.ProviderPrice{
			Provider:  providerName,
			Price:     point.Price,
			TotalCost: point.TotalCost,
			Available: point.Available,
			FetchedAt: point.At,
		})
	}
	return out, nil
}

func (c *Comparator) cachedComparison(ctx context.Context, sku string) *models.PriceComparison {
	data, found, err := c.cache.Get(ctx, cache.ComparisonKey(sku))
	if err != nil || !found {
		return nil
	}
	var cmp models.PriceComparison
	if err := json.Unmarshal(data, &cmp); err != nil {
		return nil
	}
	return &cmp
}

// bestProviderPrice prefers available offers by lowest landed cost; with
// nothing in stock it falls back to the lowest price regardless.
func bestProviderPrice(prices []models.ProviderPrice) models.ProviderPrice {
	best := -1
	for i, p := range prices {
		if !p.Available {
			continue
		}
		if best < 0 || p.TotalCost < prices[best].TotalCost {
			best = i
		}
	}
	if best >= 0 {
		return prices[best]
	}

	best = 0
	for i, p := range prices {
		if p.Price < prices[best].Price {
			best = i
		}
	}
	return prices[best]
}

// averageLandedCost averages available offers when any exist, else all.
func averageLandedCost(prices []models.ProviderPrice) float64 {
	sum, n := 0.0, 0
	for _, p := range prices {
		if p.Available {
			sum += p.TotalCost
			n++
		}
	}
	if n == 0 {
		for _, p := range prices {
			sum += p.TotalCost
			n++
		}
	}
	return sum / float64(n)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
