// Package mock provides a deterministic in-memory marketplace adapter for
// tests and offline development.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/pricesmith/pricesmith/internal/provider"
	"github.com/pricesmith/pricesmith/pkg/models"
)

// Adapter implements provider.Adapter against a fixed in-memory catalog.
// All knobs are safe to set before use; mutation during concurrent calls
// requires the mutex-guarded setters.
type Adapter struct {
	mu sync.RWMutex

	name     string
	catalog  map[string]models.RawProduct
	healthy  bool
	rpm      int
	err      error // returned from every call when set
	getCalls int
}

// New creates a healthy mock adapter with the given name.
func New(name string) *Adapter {
	return &Adapter{
		name:    name,
		catalog: make(map[string]models.RawProduct),
		healthy: true,
		rpm:     600,
	}
}

// Add puts a product into the catalog, keyed by its external id.
func (a *Adapter) Add(p models.RawProduct) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.catalog[p.ExternalID] = p
}

// SetHealthy toggles the health probe result.
func (a *Adapter) SetHealthy(healthy bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthy = healthy
}

// SetError makes every data call fail with err until cleared with nil.
func (a *Adapter) SetError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// GetCalls reports how many times Get was invoked.
func (a *Adapter) GetCalls() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.getCalls
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Search(ctx context.Context, query string, opts provider.SearchOptions) ([]models.RawProduct, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.err != nil {
		return nil, a.err
	}

	q := strings.ToLower(query)
	var out []models.RawProduct
	for _, p := range a.catalog {
		if q != "" && !strings.Contains(strings.ToLower(p.Name), q) {
			continue
		}
		if opts.Category != "" && !strings.EqualFold(p.Category, opts.Category) {
			continue
		}
		if opts.MinPrice > 0 && p.Price < opts.MinPrice {
			continue
		}
		if opts.MaxPrice > 0 && p.Price > opts.MaxPrice {
			continue
		}
		out = append(out, p)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (a *Adapter) Get(ctx context.Context, externalID string) (*models.RawProduct, error) {
	a.mu.Lock()
	a.getCalls++
	err := a.err
	p, ok := a.catalog[externalID]
	a.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (a *Adapter) CheckAvailability(ctx context.Context, externalID string) (bool, error) {
	p, err := a.Get(ctx, externalID)
	if err != nil || p == nil {
		return false, err
	}
	return p.Available, nil
}

func (a *Adapter) GetPrice(ctx context.Context, externalID string) (*float64, error) {
	p, err := a.Get(ctx, externalID)
	if err != nil || p == nil {
		return nil, err
	}
	price := p.Price
	return &price, nil
}

func (a *Adapter) Healthy(ctx context.Context) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.healthy
}

func (a *Adapter) RateLimit() int { return a.rpm }
