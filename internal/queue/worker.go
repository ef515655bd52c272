package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pricesmith/pricesmith/internal/normalize"
	"github.com/pricesmith/pricesmith/internal/provider"
	"github.com/pricesmith/pricesmith/internal/resolve"
	"github.com/pricesmith/pricesmith/internal/store"
	"github.com/pricesmith/pricesmith/pkg/models"
)

// WorkerPool drains the queue with a fixed number of workers. Each worker
// owns a dequeued job exclusively until it reports completion; no state is
// shared between workers beyond the queue itself.
type WorkerPool struct {
	queue      *JobQueue
	registry   *provider.Registry
	normalizer *normalize.Normalizer
	resolver   *resolve.Resolver
	store      store.Store

	workers      int
	pollInterval time.Duration

	wg sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool; it does not start any workers.
func NewWorkerPool(q *JobQueue, reg *provider.Registry, n *normalize.Normalizer, r *resolve.Resolver, st store.Store, workers int, pollInterval time.Duration) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &WorkerPool{
		queue:        q,
		registry:     reg,
		normalizer:   n,
		resolver:     r,
		store:        st,
		workers:      workers,
		pollInterval: pollInterval,
	}
}

// Start launches the workers. They run until ctx is cancelled.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Wait blocks until all workers have exited.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.queue.Dequeue()
		if err != nil {
			slog.Error("dequeue failed", "worker", id, "error", err)
			if !sleepCtx(ctx, p.pollInterval) {
				return
			}
			continue
		}
		if job == nil {
			// Nothing runnable; idle-wait instead of busy-spinning.
			if !sleepCtx(ctx, p.pollInterval) {
				return
			}
			continue
		}

		jobErr := p.execute(ctx, job)
		if jobErr != nil {
			slog.Warn("job failed",
				"worker", id, "job_id", job.ID, "type", job.Type,
				"provider", job.Provider, "retry_count", job.RetryCount, "error", jobErr)
		}
		if err := p.queue.Complete(job.ID, jobErr); err != nil {
			slog.Error("complete failed", "worker", id, "job_id", job.ID, "error", err)
		}
	}
}

// execute resolves the adapter for the job's provider, verifies its health
// and dispatches by job type.
func (p *WorkerPool) execute(ctx context.Context, job *models.SyncJob) error {
	adapter, ok := p.registry.Get(job.Provider)
	if !ok {
		return fmt.Errorf("%w: %s", provider.ErrUnknownProvider, job.Provider)
	}
	if !adapter.Healthy(ctx) {
		return fmt.Errorf("%w: %s failed health check", provider.ErrUnavailable, job.Provider)
	}

	switch job.Type {
	case models.JobTypeFullSync:
		return p.fullSync(ctx, adapter, job)
	case models.JobTypeProductDetails:
		return p.productDetails(ctx, adapter, job)
	case models.JobTypePriceUpdate:
		return p.priceUpdate(ctx, adapter, job)
	case models.JobTypeAvailabilityCheck:
		return p.availabilityCheck(ctx, adapter, job)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

// fullSync pulls the provider's catalog and reconciles every product. A
// malformed record is skipped and logged; only a failed search aborts the
// job.
func (p *WorkerPool) fullSync(ctx context.Context, adapter provider.Adapter, job *models.SyncJob) error {
	query := payloadString(job.Payload, "query")
	raws, err := adapter.Search(ctx, query, provider.SearchOptions{
		Category: payloadString(job.Payload, "category"),
	})
	if err != nil {
		return fmt.Errorf("search %s: %w", job.Provider, err)
	}

	processed, failed := 0, 0
	for _, raw := range raws {
		if err := p.reconcile(ctx, job.Provider, raw); err != nil {
			failed++
			slog.Warn("skipping product",
				"provider", job.Provider, "external_id", raw.ExternalID, "error", err)
			continue
		}
		processed++
	}

	slog.Info("full sync finished",
		"provider", job.Provider, "processed", processed, "failed", failed)
	return nil
}

func (p *WorkerPool) productDetails(ctx context.Context, adapter provider.Adapter, job *models.SyncJob) error {
	externalID := payloadString(job.Payload, "external_id")
	if externalID == "" {
		return fmt.Errorf("product_details job missing external_id")
	}

	raw, err := adapter.Get(ctx, externalID)
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", job.Provider, externalID, err)
	}
	if raw == nil {
		slog.Info("product not found at provider", "provider", job.Provider, "external_id", externalID)
		return nil
	}
	return p.reconcile(ctx, job.Provider, *raw)
}

func (p *WorkerPool) priceUpdate(ctx context.Context, adapter provider.Adapter, job *models.SyncJob) error {
	sku := payloadString(job.Payload, "sku")
	if sku == "" {
		return fmt.Errorf("price_update job missing sku")
	}

	externalID, err := p.store.GetProviderProductID(ctx, sku, job.Provider)
	if errors.Is(err, store.ErrNotFound) {
		slog.Info("no provider mapping for sku", "provider", job.Provider, "sku", sku)
		return nil
	}
	if err != nil {
		return err
	}

	// Fetch the full listing rather than the bare price: the listing
	// currency is needed to settle the amount, exactly as full sync does.
	raw, err := adapter.Get(ctx, externalID)
	if err != nil {
		return fmt.Errorf("get price %s/%s: %w", job.Provider, externalID, err)
	}
	if raw == nil || raw.Price <= 0 {
		slog.Info("no price listed", "provider", job.Provider, "sku", sku)
		return nil
	}
	price := p.normalizer.NormalizePrice(raw.Price, raw.Currency)

	return p.updateOffer(ctx, sku, job.Provider, func(o *models.ProviderOffer) {
		o.Price = price
	})
}

func (p *WorkerPool) availabilityCheck(ctx context.Context, adapter provider.Adapter, job *models.SyncJob) error {
	sku := payloadString(job.Payload, "sku")
	if sku == "" {
		return fmt.Errorf("availability_check job missing sku")
	}

	externalID, err := p.store.GetProviderProductID(ctx, sku, job.Provider)
	if errors.Is(err, store.ErrNotFound) {
		slog.Info("no provider mapping for sku", "provider", job.Provider, "sku", sku)
		return nil
	}
	if err != nil {
		return err
	}

	available, err := adapter.CheckAvailability(ctx, externalID)
	if err != nil {
		return fmt.Errorf("check availability %s/%s: %w", job.Provider, externalID, err)
	}

	return p.updateOffer(ctx, sku, job.Provider, func(o *models.ProviderOffer) {
		o.Available = available
	})
}

// reconcile runs one raw product through normalize → resolve → persist, and
// records the SKU↔external-id mapping used later by the comparator.
func (p *WorkerPool) reconcile(ctx context.Context, providerName string, raw models.RawProduct) error {
	incoming, err := p.normalizer.Normalize(providerName, raw)
	if err != nil {
		return err
	}

	existing, err := p.store.GetProduct(ctx, incoming.SKU)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	merged := p.resolver.Merge(existing, incoming)
	if err := p.store.SaveProduct(ctx, merged); err != nil {
		return err
	}
	return p.store.SetProviderProductID(ctx, merged.SKU, providerName, raw.ExternalID)
}

// updateOffer applies a mutation to one provider's offer and re-runs the
// merge so derived fields stay coherent.
func (p *WorkerPool) updateOffer(ctx context.Context, sku, providerName string, mutate func(*models.ProviderOffer)) error {
	product, err := p.store.GetProduct(ctx, sku)
	if err != nil {
		return err
	}
	offer, ok := product.Offer(providerName)
	if !ok {
		slog.Info("no offer for provider", "provider", providerName, "sku", sku)
		return nil
	}
	mutate(&offer)

	incoming := *product
	incoming.Offers = []models.ProviderOffer{offer}
	incoming.LastSynced = time.Now().UTC()

	merged := p.resolver.Merge(product, &incoming)
	return p.store.SaveProduct(ctx, merged)
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
