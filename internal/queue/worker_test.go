package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricesmith/pricesmith/internal/normalize"
	"github.com/pricesmith/pricesmith/internal/provider"
	"github.com/pricesmith/pricesmith/internal/provider/mock"
	"github.com/pricesmith/pricesmith/internal/resolve"
	"github.com/pricesmith/pricesmith/internal/store"
	"github.com/pricesmith/pricesmith/pkg/models"
)

// memStore is an in-memory store.Store for worker tests.
type memStore struct {
	mu          sync.Mutex
	products    map[string]*models.NormalizedProduct
	providerIDs map[string]string // sku+"|"+provider -> external id
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

func (m *memStore) CreateAlert(ctx context.Context, alert *models.PricingAlert) error { return nil }

func (m *memStore) ListAlerts(ctx context.Context, filter store.AlertFilter) ([]*models.PricingAlert, error) {
	return nil, nil
}

func (m *memStore) ResolveAlert(ctx context.Context, id uuid.UUID) error { return nil }

func (m *memStore) SalesCount(ctx context.Context, sku string, since time.Time) (int, error) {
	return 0, nil
}

func (m *memStore) StockLevel(ctx context.Context, sku string) (*store.Stock, error) {
	return nil, store.ErrNotFound
}

func newTestPool(st store.Store, reg *provider.Registry, q *JobQueue) *WorkerPool {
	return NewWorkerPool(q, reg, normalize.New(), resolve.New(resolve.DefaultRules()), st, 1, 10*time.Millisecond)
}

func waitTerminal(t *testing.T, q *JobQueue, id uuid.UUID) *models.SyncJob {
	t.Helper()
	var job *models.SyncJob
	require.Eventually(t, func() bool {
		var err error
		job, err = q.Get(id)
		return err == nil && job.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestWorkerFullSync(t *testing.T) {
	adapter := mock.New("Amazon")
	adapter.Add(models.RawProduct{
		ExternalID: "B0001", Name: "Lenovo ThinkPad X1", Brand: "Lenovo",
		Category: "Laptops", Price: 999.99, Currency: "USD", Available: true,
	})
	adapter.Add(models.RawProduct{
		ExternalID: "B0002", Name: "Sony WH-1000XM5", Brand: "Sony",
		Category: "Audio", Price: 349.99, Currency: "USD", Available: true,
	})

	st := newMemStore()
	q := New(NewMemoryJobStore(), 1)
	pool := newTestPool(st, provider.NewRegistry(adapter), q)

	job := &models.SyncJob{Provider: "Amazon", Type: models.JobTypeFullSync}
	require.NoError(t, q.Enqueue(job))

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	got := waitTerminal(t, q, job.ID)
	cancel()
	pool.Wait()

	assert.Equal(t, models.JobStatusCompleted, got.Status)

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Len(t, st.products, 2)
	assert.Len(t, st.providerIDs, 2)
	for _, p := range st.products {
		assert.True(t, p.IsActive)
		assert.Len(t, p.Offers, 1)
		assert.Equal(t, "Amazon", p.Offers[0].Provider)
		assert.Greater(t, p.OurPrice, p.Offers[0].Price)
	}
}

func TestWorkerFullSyncSkipsMalformedProducts(t *testing.T) {
	adapter := mock.New("Amazon")
	adapter.Add(models.RawProduct{
		ExternalID: "B0001", Name: "Dell XPS 13", Price: 1199, Available: true,
	})
	adapter.Add(models.RawProduct{
		ExternalID: "B0002", Name: "Broken Listing", Price: 0, // invalid
	})

	st := newMemStore()
	q := New(NewMemoryJobStore(), 1)
	pool := newTestPool(st, provider.NewRegistry(adapter), q)

	job := &models.SyncJob{Provider: "Amazon", Type: models.JobTypeFullSync}
	require.NoError(t, q.Enqueue(job))

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	got := waitTerminal(t, q, job.ID)
	cancel()
	pool.Wait()

	// A malformed record is skipped; the job still completes.
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Len(t, st.products, 1)
}

func TestWorkerUnhealthyProviderFails(t *testing.T) {
	adapter := mock.New("Amazon")
	adapter.SetHealthy(false)

	st := newMemStore()
	q := New(NewMemoryJobStore(), 1)
	pool := newTestPool(st, provider.NewRegistry(adapter), q)

	job := &models.SyncJob{Provider: "Amazon", Type: models.JobTypeFullSync, MaxRetries: 1}
	require.NoError(t, q.Enqueue(job))

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	got := waitTerminal(t, q, job.ID)
	cancel()
	pool.Wait()

	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "health check")
}

func TestWorkerPriceUpdate(t *testing.T) {
	adapter := mock.New("Amazon")
	adapter.Add(models.RawProduct{
		ExternalID: "B0001", Name: "Logitech MX Master 3S", Brand: "Logitech",
		Price: 79.99, Available: true,
	})

	st := newMemStore()
	product := &models.NormalizedProduct{
		SKU: "LOGI-MXMASTER-AMA-B0001", Name: "Logitech MX Master 3S",
		Category: "Electronics", Brand: "Logitech", MarkupPercentage: 15.0,
		Offers: []models.ProviderOffer{{
			Provider: "Amazon", ExternalID: "B0001", Price: 99.99,
			Currency: "USD", Available: true,
		}},
		OurPrice: 114.99, IsActive: true,
	}
	require.NoError(t, st.SaveProduct(context.Background(), product))
	require.NoError(t, st.SetProviderProductID(context.Background(), product.SKU, "Amazon", "B0001"))

	q := New(NewMemoryJobStore(), 1)
	pool := newTestPool(st, provider.NewRegistry(adapter), q)

	job := &models.SyncJob{
		Provider: "Amazon",
		Type:     models.JobTypePriceUpdate,
		Payload:  map[string]any{"sku": product.SKU},
	}
	require.NoError(t, q.Enqueue(job))

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	got := waitTerminal(t, q, job.ID)
	cancel()
	pool.Wait()

	assert.Equal(t, models.JobStatusCompleted, got.Status)

	updated, err := st.GetProduct(context.Background(), product.SKU)
	require.NoError(t, err)
	offer, ok := updated.Offer("Amazon")
	require.True(t, ok)
	assert.Equal(t, 79.99, offer.Price)
	// Resale price follows the new best offer.
	assert.InDelta(t, 91.99, updated.OurPrice, 0.01)
}

func TestWorkerPriceUpdateSettlesCurrency(t *testing.T) {
	adapter := mock.New("AliExpress")
	adapter.Add(models.RawProduct{
		ExternalID: "AE-100", Name: "Anker 737 Power Bank", Brand: "Anker",
		Price: 100, Currency: "EUR", Available: true,
	})

	st := newMemStore()
	product := &models.NormalizedProduct{
		SKU: "ANKE-737POWERBANK-ALI-AE100", Name: "Anker 737 Power Bank",
		Category: "Electronics", Brand: "Anker", MarkupPercentage: 15.0,
		Offers: []models.ProviderOffer{{
			Provider: "AliExpress", ExternalID: "AE-100", Price: 120.0,
			Currency: "USD", Available: true,
		}},
		OurPrice: 138.0, IsActive: true,
	}
	require.NoError(t, st.SaveProduct(context.Background(), product))
	require.NoError(t, st.SetProviderProductID(context.Background(), product.SKU, "AliExpress", "AE-100"))

	q := New(NewMemoryJobStore(), 1)
	pool := newTestPool(st, provider.NewRegistry(adapter), q)

	job := &models.SyncJob{
		Provider: "AliExpress",
		Type:     models.JobTypePriceUpdate,
		Payload:  map[string]any{"sku": product.SKU},
	}
	require.NoError(t, q.Enqueue(job))

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	got := waitTerminal(t, q, job.ID)
	cancel()
	pool.Wait()

	assert.Equal(t, models.JobStatusCompleted, got.Status)

	updated, err := st.GetProduct(context.Background(), product.SKU)
	require.NoError(t, err)
	offer, ok := updated.Offer("AliExpress")
	require.True(t, ok)
	// 100 EUR settles to 109 USD, not the raw listing amount.
	assert.InDelta(t, 109.0, offer.Price, 0.001)
	assert.InDelta(t, 125.35, updated.OurPrice, 0.01)
}

func TestWorkerAvailabilityCheck(t *testing.T) {
	adapter := mock.New("Amazon")
	adapter.Add(models.RawProduct{
		ExternalID: "B0001", Name: "Pixel 9", Price: 699, Available: false,
	})

	st := newMemStore()
	product := &models.NormalizedProduct{
		SKU: "GOOG-PIXEL9-AMA-B0001", Name: "Pixel 9",
		Category: "Phones", Brand: "Google", MarkupPercentage: 10.0,
		Offers: []models.ProviderOffer{{
			Provider: "Amazon", ExternalID: "B0001", Price: 699,
			Currency: "USD", Available: true,
		}},
		OurPrice: 768.9, IsActive: true,
	}
	require.NoError(t, st.SaveProduct(context.Background(), product))
	require.NoError(t, st.SetProviderProductID(context.Background(), product.SKU, "Amazon", "B0001"))

	q := New(NewMemoryJobStore(), 1)
	pool := newTestPool(st, provider.NewRegistry(adapter), q)

	job := &models.SyncJob{
		Provider: "Amazon",
		Type:     models.JobTypeAvailabilityCheck,
		Payload:  map[string]any{"sku": product.SKU},
	}
	require.NoError(t, q.Enqueue(job))

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	got := waitTerminal(t, q, job.ID)
	cancel()
	pool.Wait()

	assert.Equal(t, models.JobStatusCompleted, got.Status)

	updated, err := st.GetProduct(context.Background(), product.SKU)
	require.NoError(t, err)
	offer, _ := updated.Offer("Amazon")
	assert.False(t, offer.Available)
	// The only offer went out of stock, so the product deactivates.
	assert.False(t, updated.IsActive)
}

func TestExecuteUnknownProvider(t *testing.T) {
	st := newMemStore()
	q := New(NewMemoryJobStore(), 1)
	pool := newTestPool(st, provider.NewRegistry(), q)

	err := pool.execute(context.Background(), &models.SyncJob{
		Provider: "Rakuten", Type: models.JobTypeFullSync,
	})
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}

func TestExecutePriceUpdateMissingSKU(t *testing.T) {
	adapter := mock.New("Amazon")
	st := newMemStore()
	q := New(NewMemoryJobStore(), 1)
	pool := newTestPool(st, provider.NewRegistry(adapter), q)

	err := pool.execute(context.Background(), &models.SyncJob{
		Provider: "Amazon", Type: models.JobTypePriceUpdate,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing sku")
}
