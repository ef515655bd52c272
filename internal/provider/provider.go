// Package provider defines the capability interface every marketplace
// integration implements, plus the registry the core uses to reach them.
// The core never depends on marketplace-specific fields; adapters must
// already speak the models.RawProduct shape the normalizer expects.
package provider

import (
	"context"
	"errors"

	"github.com/pricesmith/pricesmith/pkg/models"
)

var (
	ErrUnavailable     = errors.New("provider unavailable")
	ErrUnknownProvider = errors.New("unknown provider")
)

// SearchOptions narrows a catalog search.
type SearchOptions struct {
	Page     int
	Limit    int
	Category string
	MinPrice float64
	MaxPrice float64
}

// Adapter abstracts one marketplace integration.
//
// Absence is not an error: Get returns (nil, nil) for an unknown id and
// GetPrice returns (nil, nil) when no price is listed, letting callers
// decide fallback.
type Adapter interface {
	// Name returns the provider's stable name, e.g. "Amazon".
	Name() string

	// Search returns raw products matching a query.
	Search(ctx context.Context, query string, opts SearchOptions) ([]models.RawProduct, error)

	// Get fetches a single raw product by its provider-local id.
	Get(ctx context.Context, externalID string) (*models.RawProduct, error)

	// CheckAvailability reports whether the item is currently purchasable.
	CheckAvailability(ctx context.Context, externalID string) (bool, error)

	// GetPrice returns the current listed price, or nil if none.
	GetPrice(ctx context.Context, externalID string) (*float64, error)

	// Healthy reports whether the provider endpoint is reachable.
	Healthy(ctx context.Context) bool

	// RateLimit returns the provider's request budget in requests/minute.
	RateLimit() int
}

// Registry holds the configured adapters. It is constructed once at startup
// and passed by reference to the worker pool and comparator; registration
// after startup is not supported, so reads are lock-free.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

// NewRegistry builds a registry from the given adapters, keyed by Name().
// A later adapter with a duplicate name replaces the earlier one.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if _, seen := r.adapters[a.Name()]; !seen {
			r.order = append(r.order, a.Name())
		}
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter for a provider name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns provider names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	return len(r.adapters)
}
