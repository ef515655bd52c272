package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pricesmith/pricesmith/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Products ---

func (s *PostgresStore) GetProduct(ctx context.Context, sku string) (*models.NormalizedProduct, error) {
	var p models.NormalizedProduct
	var specs, images, offers, review []byte
	err := s.pool.QueryRow(ctx,
		`SELECT sku, name, description, category, subcategory, brand, specifications, images, offers,
		        our_price, markup_percentage, is_active, review_fields, last_synced
		 FROM products WHERE sku = $1`, sku,
	).Scan(&p.SKU, &p.Name, &p.Description, &p.Category, &p.Subcategory, &p.Brand,
		&specs, &images, &offers, &p.OurPrice, &p.MarkupPercentage, &p.IsActive, &review, &p.LastSynced)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}

	if err := unmarshalInto(specs, &p.Specifications); err != nil {
		return nil, fmt.Errorf("decode specifications: %w", err)
	}
	if err := unmarshalInto(images, &p.Images); err != nil {
		return nil, fmt.Errorf("decode images: %w", err)
	}
	if err := unmarshalInto(offers, &p.Offers); err != nil {
		return nil, fmt.Errorf("decode offers: %w", err)
	}
	if err := unmarshalInto(review, &p.ReviewFields); err != nil {
		return nil, fmt.Errorf("decode review fields: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) SaveProduct(ctx context.Context, product *models.NormalizedProduct) error {
	specs, err := json.Marshal(product.Specifications)
	if err != nil {
		return fmt.Errorf("encode specifications: %w", err)
	}
	images, err := json.Marshal(product.Images)
	if err != nil {
		return fmt.Errorf("encode images: %w", err)
	}
	offers, err := json.Marshal(product.Offers)
	if err != nil {
		return fmt.Errorf("encode offers: %w", err)
	}
	review, err := json.Marshal(product.ReviewFields)
	if err != nil {
		return fmt.Errorf("encode review fields: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO products (sku, name, description, category, subcategory, brand, specifications, images, offers,
		                       our_price, markup_percentage, is_active, review_fields, last_synced, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		 ON CONFLICT (sku) DO UPDATE SET
		   name = EXCLUDED.name,
		   description = EXCLUDED.description,
		   category = EXCLUDED.category,
		   subcategory = EXCLUDED.subcategory,
		   brand = EXCLUDED.brand,
		   specifications = EXCLUDED.specifications,
		   images = EXCLUDED.images,
		   offers = EXCLUDED.offers,
		   our_price = EXCLUDED.our_price,
		   markup_percentage = EXCLUDED.markup_percentage,
		   is_active = EXCLUDED.is_active,
		   review_fields = EXCLUDED.review_fields,
		   last_synced = EXCLUDED.last_synced,
		   updated_at = NOW()`,
		product.SKU, product.Name, product.Description, product.Category, product.Subcategory, product.Brand,
		specs, images, offers, product.OurPrice, product.MarkupPercentage, product.IsActive, review, product.LastSynced)
	if err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProductPrice(ctx context.Context, sku string, price float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET our_price = $2, updated_at = NOW() WHERE sku = $1`, sku, price)
	if err != nil {
		return fmt.Errorf("update product price: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListActiveSKUs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT sku FROM products WHERE is_active ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("list active skus: %w", err)
	}
	defer rows.Close()

	var skus []string
	for rows.Next() {
		var sku string
		if err := rows.Scan(&sku); err != nil {
			return nil, fmt.Errorf("scan sku: %w", err)
		}
		skus = append(skus, sku)
	}
	return skus, rows.Err()
}

// --- Provider ID mapping ---

func (s *PostgresStore) GetProviderProductID(ctx context.Context, sku, provider string) (string, error) {
	var externalID string
	err := s.pool.QueryRow(ctx,
		`SELECT external_id FROM product_provider_ids WHERE sku = $1 AND provider = $2`,
		sku, provider,
	).Scan(&externalID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get provider product id: %w", err)
	}
	return externalID, nil
}

func (s *PostgresStore) SetProviderProductID(ctx context.Context, sku, provider, externalID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO product_provider_ids (sku, provider, external_id, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (sku, provider) DO UPDATE SET external_id = EXCLUDED.external_id, updated_at = NOW()`,
		sku, provider, externalID)
	if err != nil {
		return fmt.Errorf("set provider product id: %w", err)
	}
	return nil
}

// --- Pricing rules ---

// GetPricingRule returns the most specific active rule matching the
// category/brand scope. The seeded `default` rule (no scope) matches
// everything, so a missing specific rule falls back rather than failing.
func (s *PostgresStore) GetPricingRule(ctx context.Context, category, brand string) (*models.PricingRule, error) {
	var r models.PricingRule
	err := s.pool.QueryRow(ctx,
		`SELECT id, category, brand, min_markup, max_markup, target_margin, competitor_factor, active, created_at, updated_at
		 FROM pricing_rules
		 WHERE active
		   AND (category IS NULL OR category = $1)
		   AND (brand IS NULL OR brand = $2)
		 ORDER BY (category IS NOT NULL)::int + (brand IS NOT NULL)::int DESC, id
		 LIMIT 1`,
		category, brand,
	).Scan(&r.ID, &r.Category, &r.Brand, &r.MinMarkup, &r.MaxMarkup, &r.TargetMargin,
		&r.CompetitorFactor, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pricing rule: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) SavePricingRule(ctx context.Context, rule *models.PricingRule) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pricing_rules (id, category, brand, min_markup, max_markup, target_margin, competitor_factor, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   category = EXCLUDED.category,
		   brand = EXCLUDED.brand,
		   min_markup = EXCLUDED.min_markup,
		   max_markup = EXCLUDED.max_markup,
		   target_margin = EXCLUDED.target_margin,
		   competitor_factor = EXCLUDED.competitor_factor,
		   active = EXCLUDED.active,
		   updated_at = NOW()`,
		rule.ID, rule.Category, rule.Brand, rule.MinMarkup, rule.MaxMarkup,
		rule.TargetMargin, rule.CompetitorFactor, rule.Active)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("save pricing rule: %w", err)
	}
	return nil
}

// --- Alerts ---

func (s *PostgresStore) CreateAlert(ctx context.Context, alert *models.PricingAlert) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pricing_alerts (id, sku, type, message, severity, resolved, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		alert.ID, alert.SKU, alert.Type, alert.Message, alert.Severity, alert.Resolved, alert.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]*models.PricingAlert, error) {
	query := `SELECT id, sku, type, message, severity, resolved, created_at FROM pricing_alerts WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.SKU != "" {
		query += fmt.Sprintf(" AND sku = $%d", argIdx)
		args = append(args, filter.SKU)
		argIdx++
	}
	if filter.Unresolved {
		query += " AND NOT resolved"
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.PricingAlert
	for rows.Next() {
		var a models.PricingAlert
		if err := rows.Scan(&a.ID, &a.SKU, &a.Type, &a.Message, &a.Severity, &a.Resolved, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

func (s *PostgresStore) ResolveAlert(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pricing_alerts SET resolved = TRUE WHERE id = $1 AND NOT resolved`, id)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Sales and inventory facts ---

func (s *PostgresStore) SalesCount(ctx context.Context, sku string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM sales WHERE sku = $1 AND sold_at >= $2`,
		sku, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sales count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) StockLevel(ctx context.Context, sku string) (*Stock, error) {
	var st Stock
	err := s.pool.QueryRow(ctx,
		`SELECT sku, level, reorder_point, updated_at FROM inventory WHERE sku = $1`, sku,
	).Scan(&st.SKU, &st.Level, &st.ReorderPoint, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("stock level: %w", err)
	}
	return &st, nil
}

// unmarshalInto decodes JSONB bytes, tolerating NULL columns.
func unmarshalInto(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
