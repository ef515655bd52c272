// Package pricing recomputes resale prices against live competitor signals,
// bounded by safety constraints. The engine never needs to know why a
// competitor price moved, only where the market sits now.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/pricesmith/pricesmith/internal/compare"
	"github.com/pricesmith/pricesmith/internal/store"
)

var (
	ErrAlreadyRunning = errors.New("pricing engine already running")
	ErrNotRunning     = errors.New("pricing engine not running")
)

// Reason codes reported with every price update decision.
const (
	ReasonMarketAdjusted = "market_adjusted"
	ReasonClamped        = "change_clamped"
	ReasonBelowThreshold = "below_change_threshold"
)

const (
	competitorAnchor = 1.05 // pull target toward 1.05x best competitor landed cost
	marketPull       = 0.30 // then 30% toward 0.95x market average
	marketAnchor     = 0.95
	priceFloorFactor = 1.02 // never price below 1.02x best competitor landed cost
)

// Config tunes the engine. Percentages are ratios (0.15 = 15%).
type Config struct {
	Interval           time.Duration
	CompetitorWeight   float64
	DemandWeighting    bool
	InventoryWeighting bool
	MinChangePercent   float64
	MaxIncreasePercent float64
	MaxDecreasePercent float64
	BatchSize          int
	BatchPause         time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
}

// Update is the outcome of one per-SKU pricing pass.
type Update struct {
	SKU      string  `json:"sku"`
	OldPrice float64 `json:"old_price"`
	NewPrice float64 `json:"new_price"`
	Changed  bool    `json:"changed"`
	Reason   string  `json:"reason"`
}

// SweepResult reports a full pricing pass over the active catalog.
type SweepResult struct {
	Processed int      `json:"processed"`
	Updated   int      `json:"updated"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Engine periodically (or on demand) recomputes per-SKU prices.
type Engine struct {
	comparator *compare.Comparator
	store      store.Store
	now        func() time.Time

	mu      sync.Mutex
	cfg     Config
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewEngine creates a stopped engine.
func NewEngine(c *compare.Comparator, st store.Store, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		comparator: c,
		store:      st,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Start begins an immediate update pass plus a recurring timer at the
// configured interval. The loop stops when Stop is called or ctx ends.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	go e.run(runCtx, e.cfg.Interval, e.done)
	return nil
}

// Stop cancels the timer. An in-flight pass finishes its current SKU and
// abandons the rest; Stop returns once the loop has exited.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := e.cancel, e.done
	e.running = false
	e.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Running reports the engine lifecycle state.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Reconfigure replaces the engine parameters. If the engine is running the
// timer restarts with the new interval.
func (e *Engine) Reconfigure(ctx context.Context, cfg Config) error {
	cfg.applyDefaults()

	e.mu.Lock()
	wasRunning := e.running
	e.mu.Unlock()

	if wasRunning {
		if err := e.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
			return err
		}
	}

	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()

	if wasRunning {
		return e.Start(ctx)
	}
	return nil
}

func (e *Engine) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	if _, err := e.UpdateAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("pricing sweep failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := e.UpdateAll(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Error("pricing sweep failed", "error", err)
				}
				continue
			}
			slog.Info("pricing sweep finished",
				"processed", result.Processed, "updated", result.Updated, "failed", result.Failed)
		}
	}
}

// UpdateAll reprices every active SKU in fixed-size sub-batches with an
// inter-batch delay. Per-SKU failures are collected, not fatal.
func (e *Engine) UpdateAll(ctx context.Context) (*SweepResult, error) {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	skus, err := e.store.ListActiveSKUs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list skus: %w", err)
	}

	result := &SweepResult{}
	for i, sku := range skus {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if i > 0 && i%cfg.BatchSize == 0 && cfg.BatchPause > 0 {
			if err := sleepCtx(ctx, cfg.BatchPause); err != nil {
				return result, err
			}
		}

		update, err := e.UpdatePrice(ctx, sku)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", sku, err))
			continue
		}
		result.Processed++
		if update.Changed {
			result.Updated++
		}
	}
	return result, nil
}

// UpdatePrice runs the per-SKU pricing algorithm: blend competitor, market,
// demand and inventory signals into a target, enforce the competitor floor
// and rule bounds, skip sub-threshold moves, clamp per-cycle swing, then
// persist. A manual one-off update goes through here too.
func (e *Engine) UpdatePrice(ctx context.Context, sku string) (*Update, error) {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	product, err := e.store.GetProduct(ctx, sku)
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", sku, err)
	}
	current := product.OurPrice

	cmp, err := e.comparator.Compare(ctx, sku)
	if err != nil {
		return nil, err
	}
	analysis := compare.AnalyzeComparison(cmp)
	bestLanded := cmp.BestPrice.TotalCost

	target := current + cfg.CompetitorWeight*(competitorAnchor*bestLanded-current)
	target += marketPull * (marketAnchor*analysis.AveragePrice - target)

	if cfg.DemandWeighting {
		target *= e.demandMultiplier(ctx, sku)
	}
	if cfg.InventoryWeighting {
		target *= e.inventoryMultiplier(ctx, sku)
	}

	// Rule bounds: markup over best landed cost stays inside the matching
	// pricing rule; a missing specific rule falls back to `default`.
	if rule, err := e.store.GetPricingRule(ctx, product.Category, product.Brand); err == nil {
		target = clamp(target, bestLanded*(1+rule.MinMarkup/100), bestLanded*(1+rule.MaxMarkup/100))
	} else {
		slog.Warn("no pricing rule; skipping rule bounds", "sku", sku, "error", err)
	}

	if floor := priceFloorFactor * bestLanded; target < floor {
		target = floor
	}

	update := &Update{SKU: sku, OldPrice: current, NewPrice: current}

	if current > 0 && math.Abs(target-current)/current < cfg.MinChangePercent {
		update.Reason = ReasonBelowThreshold
		return update, nil
	}

	reason := ReasonMarketAdjusted
	if maxUp := current * (1 + cfg.MaxIncreasePercent); current > 0 && target > maxUp {
		target = maxUp
		reason = ReasonClamped
	}
	if maxDown := current * (1 - cfg.MaxDecreasePercent); current > 0 && target < maxDown {
		target = maxDown
		reason = ReasonClamped
	}

	newPrice := round2(target)
	if newPrice == current {
		update.Reason = ReasonBelowThreshold
		return update, nil
	}

	// Archive the superseded snapshot for trend evaluation before the new
	// price makes it stale.
	if err := e.comparator.ArchiveComparison(ctx, cmp); err != nil {
		slog.Warn("archiving comparison failed", "sku", sku, "error", err)
	}
	if err := e.store.UpdateProductPrice(ctx, sku, newPrice); err != nil {
		return nil, fmt.Errorf("persist price %s: %w", sku, err)
	}
	if err := e.comparator.Invalidate(ctx, sku); err != nil {
		slog.Warn("invalidating comparison failed", "sku", sku, "error", err)
	}

	update.NewPrice = newPrice
	update.Changed = true
	update.Reason = reason
	slog.Info("price updated", "sku", sku, "old", current, "new", newPrice, "reason", reason)
	return update, nil
}

// demandMultiplier scales by the ratio of trailing-7-day sales to the
// normalized trailing-30-day weekly average.
func (e *Engine) demandMultiplier(ctx context.Context, sku string) float64 {
	now := e.now().UTC()
	sales7, err := e.store.SalesCount(ctx, sku, now.AddDate(0, 0, -7))
	if err != nil {
		return 1.0
	}
	sales30, err := e.store.SalesCount(ctx, sku, now.AddDate(0, 0, -30))
	if err != nil {
		return 1.0
	}

	weeklyAvg := float64(sales30) / 30 * 7
	if weeklyAvg == 0 {
		return 1.0
	}

	switch ratio := float64(sales7) / weeklyAvg; {
	case ratio > 1.5:
		return 1.05
	case ratio > 1.2:
		return 1.02
	case ratio < 0.5:
		return 0.95
	case ratio < 0.8:
		return 0.98
	default:
		return 1.0
	}
}

// inventoryMultiplier scales by stock position versus the reorder point.
func (e *Engine) inventoryMultiplier(ctx context.Context, sku string) float64 {
	stock, err := e.store.StockLevel(ctx, sku)
	if err != nil {
		return 1.0
	}
	if stock.Level == 0 {
		return 1.10
	}
	if stock.ReorderPoint <= 0 {
		return 1.0
	}

	switch {
	case float64(stock.Level) <= 0.5*float64(stock.ReorderPoint):
		return 1.05
	case stock.Level >= 3*stock.ReorderPoint:
		return 0.97
	default:
		return 1.0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
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
