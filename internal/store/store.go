package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pricesmith/pricesmith/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetProduct(ctx context.Context, sku string) (*models.NormalizedProduct, error)
	SaveProduct(ctx context.Context, product *models.NormalizedProduct) error
	UpdateProductPrice(ctx context.Context, sku string, price float64) error
	ListActiveSKUs(ctx context.Context) ([]string, error)

	GetProviderProductID(ctx context.Context, sku, provider string) (string, error)
	SetProviderProductID(ctx context.Context, sku, provider, externalID string) error

	GetPricingRule(ctx context.Context, category, brand string) (*models.PricingRule, error)
	SavePricingRule(ctx context.Context, rule *models.PricingRule) error

	CreateAlert(ctx context.Context, alert *models.PricingAlert) error
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*models.PricingAlert, error)
	ResolveAlert(ctx context.Context, id uuid.UUID) error

	SalesCount(ctx context.Context, sku string, since time.Time) (int, error)
	StockLevel(ctx context.Context, sku string) (*Stock, error)
}

// AlertFilter narrows ListAlerts results.
type AlertFilter struct {
	SKU        string
	Unresolved bool
	Limit      int
}

// Stock is the current inventory position for a SKU.
type Stock struct {
	SKU          string
	Level        int
	ReorderPoint int
	UpdatedAt    time.Time
}
