// Package httpjson implements provider.Adapter against a generic JSON
// marketplace API. Marketplace-specific endpoints live behind a gateway
// speaking this shape; no site-specific parsing rules exist in the core.
package httpjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pricesmith/pricesmith/internal/provider"
	"github.com/pricesmith/pricesmith/pkg/models"
	"golang.org/x/time/rate"
)

const (
	maxAttempts  = 3
	maxBackoff   = 10 * time.Second
	baseBackoff  = time.Second
	defaultRPM   = 60
	probeTimeout = 5 * time.Second
)

var errRetryable = errors.New("retryable provider response")

// Adapter is a rate-limited HTTP JSON marketplace client.
//
// Expected endpoints:
//
//	GET {base}/api/search?q=...&page=...&limit=...   -> {"products":[...]}
//	GET {base}/api/products/{id}                     -> {"product":{...}} or 404
//	GET {base}/api/health                            -> 200
type Adapter struct {
	name    string
	baseURL string
	rpm     int
	client  *http.Client
	limiter *rate.Limiter
}

type Options struct {
	Name    string
	BaseURL string
	// RequestsPerMinute is the provider's advertised budget; requests are
	// paced client-side so bursts never exceed it.
	RequestsPerMinute int
	Timeout           time.Duration
}

// New creates a new HTTP JSON adapter.
func New(opts Options) (*Adapter, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("httpjson: name is required")
	}
	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("httpjson: invalid base URL %q: %w", opts.BaseURL, err)
	}
	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRPM
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		name:    opts.Name,
		baseURL: opts.BaseURL,
		rpm:     rpm,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}, nil
}

func (a *Adapter) Name() string   { return a.name }
func (a *Adapter) RateLimit() int { return a.rpm }

func (a *Adapter) Search(ctx context.Context, query string, opts provider.SearchOptions) ([]models.RawProduct, error) {
	params := url.Values{"q": {query}}
	if opts.Page > 0 {
		params.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Category != "" {
		params.Set("category", opts.Category)
	}
	if opts.MinPrice > 0 {
		params.Set("min_price", strconv.FormatFloat(opts.MinPrice, 'f', 2, 64))
	}
	if opts.MaxPrice > 0 {
		params.Set("max_price", strconv.FormatFloat(opts.MaxPrice, 'f', 2, 64))
	}

	var body struct {
		Products []models.RawProduct `json:"products"`
	}
	u := fmt.Sprintf("%s/api/search?%s", a.baseURL, params.Encode())
	if err := a.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}
	return body.Products, nil
}

func (a *Adapter) Get(ctx context.Context, externalID string) (*models.RawProduct, error) {
	var body struct {
		Product *models.RawProduct `json:"product"`
	}
	u := fmt.Sprintf("%s/api/products/%s", a.baseURL, url.PathEscape(externalID))
	err := a.getJSON(ctx, u, &body)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return body.Product, nil
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
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

var errNotFound = errors.New("not found")

// getJSON performs a paced GET with bounded retry on 429 and 5xx. The
// backoff is capped so a rate-limited provider surfaces as a transient
// error instead of stalling the worker indefinitely.
func (a *Adapter) getJSON(ctx context.Context, u string, out any) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoffDelay(attempt)); err != nil {
				return err
			}
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}

		err := a.doGet(ctx, u, out)
		if err == nil || !errors.Is(err, errRetryable) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", provider.ErrUnavailable, lastErr)
}

func (a *Adapter) doGet(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", errRetryable, resp.StatusCode)
	default:
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, a.name)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", a.name, err)
	}
	return nil
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", errRetryable, err)
	}
	return fmt.Errorf("%w: %v", errRetryable, err)
}

func backoffDelay(attempt int) time.Duration {
	d := baseBackoff << (attempt - 1)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
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
