package compare

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricesmith/pricesmith/internal/provider"
	"github.com/pricesmith/pricesmith/internal/provider/mock"
	"github.com/pricesmith/pricesmith/internal/store"
	"github.com/pricesmith/pricesmith/pkg/models"
)

// memCache is an in-memory cache.Cache for comparator tests.
type memCache struct {
	mu     sync.Mutex
	values map[string][]byte
	series map[string][]seriesEntry
}

type seriesEntry struct {
	at    time.Time
	value []byte
}

func newMemCache() *memCache {
	return &memCache{
		values: make(map[string][]byte),
		series: make(map[string][]seriesEntry),
	}
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *memCache) Ping(ctx context.Context) error { return nil }

func (c *memCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	return 1, nil
}

func (c *memCache) AppendToSeries(ctx context.Context, key string, value []byte, at time.Time, maxLen int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series[key] = append(c.series[key], seriesEntry{at: at, value: value})
	if maxLen > 0 && len(c.series[key]) > maxLen {
		c.series[key] = c.series[key][len(c.series[key])-maxLen:]
	}
	return nil
}

func (c *memCache) RangeByScore(ctx context.Context, key string, from, to time.Time) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, e := range c.series[key] {
		if !e.at.Before(from) && !e.at.After(to) {
			out = append(out, e.value)
		}
	}
	return out, nil
}

// memStore is an in-memory store.Store for comparator tests.
type memStore struct {
	mu          sync.Mutex
	products    map[string]*models.NormalizedProduct
	providerIDs map[string]string
	alerts      []*models.PricingAlert
}

func newMemStore() *memStore {
	return &memStore{
		products:    make(map[string]*models.NormalizedProduct),
		providerIDs: make(map[string]string),
	}
}

func (m *memStore) Ping(ctx context.Context) error { return nil }

func (m *memStore) GetProduct(ctx context.Context, sku string) (*models.NormalizedProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[sku]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) SaveProduct(ctx context.Context, p *models.NormalizedProduct) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.products[p.SKU] = &cp
	return nil
}

func (m *memStore) UpdateProductPrice(ctx context.Context, sku string, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[sku]
	if !ok {
		return store.ErrNotFound
	}
	p.OurPrice = price
	return nil
}

func (m *memStore) ListActiveSKUs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var skus []string
	for sku, p := range m.products {
		if p.IsActive {
			skus = append(skus, sku)
		}
	}
	return skus, nil
}

func (m *memStore) GetProviderProductID(ctx context.Context, sku, providerName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.providerIDs[sku+"|"+providerName]
	if !ok {
		return "", store.ErrNotFound
	}
	return id, nil
}

func (m *memStore) SetProviderProductID(ctx context.Context, sku, providerName, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providerIDs[sku+"|"+providerName] = externalID
	return nil
}

func (m *memStore) GetPricingRule(ctx context.Context, category, brand string) (*models.PricingRule, error) {
	return nil, store.ErrNotFound
}

func (m *memStore) SavePricingRule(ctx context.Context, rule *models.PricingRule) error { return nil }

func (m *memStore) CreateAlert(ctx context.Context, alert *models.PricingAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *alert
	m.alerts = append(m.alerts, &cp)
	return nil
}

func (m *memStore) ListAlerts(ctx context.Context, filter store.AlertFilter) ([]*models.PricingAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PricingAlert
	for _, a := range m.alerts {
		if filter.SKU != "" && a.SKU != filter.SKU {
			continue
		}
		if filter.Unresolved && a.Resolved {
			continue
		}
		out = append(out, a)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) ResolveAlert(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == id && !a.Resolved {
			a.Resolved = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) SalesCount(ctx context.Context, sku string, since time.Time) (int, error) {
	return 0, nil
}

func (m *memStore) StockLevel(ctx context.Context, sku string) (*store.Stock, error) {
	return nil, store.ErrNotFound
}

func (m *memStore) alertTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, a := range m.alerts {
		out = append(out, a.Type)
	}
	return out
}

// twoProviderFixture wires a comparator over Amazon (100, free shipping) and
// eBay (89.01 + 5.99 shipping) for SKU-1 with our price at 110.
func twoProviderFixture(t *testing.T) (*Comparator, *memStore, *mock.Adapter, *mock.Adapter) {
	t.Helper()

	amazon := mock.New("Amazon")
	amazon.Add(models.RawProduct{ExternalID: "A1", Name: "Widget", Price: 100, Available: true})
	ebay := mock.New("eBay")
	ebay.Add(models.RawProduct{ExternalID: "E1", Name: "Widget", Price: 89.01, Available: true})

	st := newMemStore()
	ctx := context.Background()
	require.NoError(t, st.SaveProduct(ctx, &models.NormalizedProduct{
		SKU: "SKU-1", Name: "Widget", Category: "Electronics", Brand: "Generic",
		OurPrice: 110, MarkupPercentage: 10, IsActive: true,
	}))
	require.NoError(t, st.SetProviderProductID(ctx, "SKU-1", "Amazon", "A1"))
	require.NoError(t, st.SetProviderProductID(ctx, "SKU-1", "eBay", "E1"))

	c := New(provider.NewRegistry(amazon, ebay), newMemCache(), st, Config{})
	return c, st, amazon, ebay
}

func TestCompare(t *testing.T) {
	c, _, _, _ := twoProviderFixture(t)

	cmp, err := c.Compare(context.Background(), "SKU-1")
	require.NoError(t, err)

	assert.Equal(t, "SKU-1", cmp.SKU)
	assert.Equal(t, 110.0, cmp.OurPrice)
	require.Len(t, cmp.Prices, 2)

	// eBay lands at 95.00, Amazon at 100.00.
	require.NotNil(t, cmp.BestPrice)
	assert.Equal(t, "eBay", cmp.BestPrice.Provider)
	assert.InDelta(t, 95.0, cmp.BestPrice.TotalCost, 0.001)

	assert.InDelta(t, 15.79, cmp.Markup, 0.01)
	assert.Equal(t, 0.0, cmp.Savings)
}

func TestCompareServesProvidersFromCache(t *testing.T) {
	c, _, amazon, ebay := twoProviderFixture(t)
	ctx := context.Background()

	_, err := c.Compare(ctx, "SKU-1")
	require.NoError(t, err)
	amazonCalls, ebayCalls := amazon.GetCalls(), ebay.GetCalls()

	_, err = c.Compare(ctx, "SKU-1")
	require.NoError(t, err)

	assert.Equal(t, amazonCalls, amazon.GetCalls(), "second compare should not hit the adapter")
	assert.Equal(t, ebayCalls, ebay.GetCalls())
}

func TestCompareUnknownSKU(t *testing.T) {
	c, _, _, _ := twoProviderFixture(t)

	_, err := c.Compare(context.Background(), "NOPE")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCompareNoProviderData(t *testing.T) {
	st := newMemStore()
	require.NoError(t, st.SaveProduct(context.Background(), &models.NormalizedProduct{
		SKU: "SKU-1", OurPrice: 100, IsActive: true,
	}))

	// No provider id mappings exist, so every provider is skipped.
	c := New(provider.NewRegistry(mock.New("Amazon")), newMemCache(), st, Config{})
	_, err := c.Compare(context.Background(), "SKU-1")
	assert.ErrorIs(t, err, ErrNoProviderData)
}

func TestCompareSkipsFailingProvider(t *testing.T) {
	c, _, amazon, _ := twoProviderFixture(t)
	amazon.SetError(provider.ErrUnavailable)

	cmp, err := c.Compare(context.Background(), "SKU-1")
	require.NoError(t, err)
	require.Len(t, cmp.Prices, 1)
	assert.Equal(t, "eBay", cmp.Prices[0].Provider)
}

func TestCompareRaisesUndercutAlert(t *testing.T) {
	c, st, _, _ := twoProviderFixture(t)

	// eBay lands at 95.00, at least 10% below our 110.
	_, err := c.Compare(context.Background(), "SKU-1")
	require.NoError(t, err)
	assert.Contains(t, st.alertTypes(), models.AlertCompetitorUndercut)
}

func TestCompareBatch(t *testing.T) {
	c, st, _, _ := twoProviderFixture(t)
	require.NoError(t, st.SaveProduct(context.Background(), &models.NormalizedProduct{
		SKU: "SKU-2", OurPrice: 50, IsActive: true,
	}))

	// SKU-2 has no mappings and fails; SKU-1 succeeds; NOPE is unknown.
	result, err := c.CompareBatch(context.Background(), []string{"SKU-1", "SKU-2", "NOPE"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 2, result.Failed)
	assert.Len(t, result.Errors, 2)
	require.Len(t, result.Comparisons, 1)
	assert.Equal(t, "SKU-1", result.Comparisons[0].SKU)
}

func TestInvalidate(t *testing.T) {
	c, _, _, _ := twoProviderFixture(t)
	ctx := context.Background()

	_, err := c.Compare(ctx, "SKU-1")
	require.NoError(t, err)
	require.NotNil(t, c.cachedComparison(ctx, "SKU-1"))

	require.NoError(t, c.Invalidate(ctx, "SKU-1"))
	assert.Nil(t, c.cachedComparison(ctx, "SKU-1"))
}

func TestPriceHistory(t *testing.T) {
	c, _, _, _ := twoProviderFixture(t)
	ctx := context.Background()

	_, err := c.Compare(ctx, "SKU-1")
	require.NoError(t, err)

	now := time.Now().UTC()
	points, err := c.PriceHistory(ctx, "Amazon", "SKU-1", now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "Amazon", points[0].Provider)
	assert.Equal(t, 100.0, points[0].Price)
	assert.Equal(t, 100.0, points[0].TotalCost)
	assert.True(t, points[0].Available)
}

func TestArchiveComparison(t *testing.T) {
	c, _, _, _ := twoProviderFixture(t)
	ctx := context.Background()

	cmp, err := c.Compare(ctx, "SKU-1")
	require.NoError(t, err)
	assert.NoError(t, c.ArchiveComparison(ctx, cmp))
}
