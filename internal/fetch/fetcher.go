// Package fetch implements the batch kline fetcher: it splits requests
// exceeding the protocol's per-request row cap into capped sub-requests,
// runs them across the connection pool, and reassembles the pages in offset
// order before normalization.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tdx-datafeed/internal/domain"
	"tdx-datafeed/internal/normalize"
	"tdx-datafeed/internal/observability"
	"tdx-datafeed/internal/pool"
	"tdx-datafeed/internal/tdx"
)

// Default configuration values.
const (
	DefaultMaxConcurrency = 30
	DefaultMaxAttempts    = 3
	DefaultRetryDelay     = time.Second
	DefaultMaxRetryDelay  = 10 * time.Second
	DefaultCollectTimeout = time.Minute
	concurrencyHeadroom   = 2 // modest oversubscription over pool size
)

// Fetcher retrieves historical bars through the connection pool.
type Fetcher struct {
	pool           *pool.Pool
	cap            int
	maxConcurrency int
	maxAttempts    int
	retryDelay     time.Duration
	maxRetryDelay  time.Duration
	collectTimeout time.Duration
	serialOnly     bool
	logger         *log.Logger
	metrics        *observability.Metrics
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithMaxConcurrency caps absolute batch concurrency.
func WithMaxConcurrency(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxConcurrency = n
		}
	}
}

// WithMaxAttempts sets the whole-fetch retry budget.
func WithMaxAttempts(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxAttempts = n
		}
	}
}

// WithCollectTimeout bounds the concurrent-mode result collection.
func WithCollectTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		f.collectTimeout = d
	}
}

// WithSerialOnly disables concurrent dispatch. Batches run one at a time
// with early stop on a short page.
func WithSerialOnly() Option {
	return func(f *Fetcher) {
		f.serialOnly = true
	}
}

// WithLogger sets the fetcher logger.
func WithLogger(l *log.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// New creates a Fetcher bound to a pool.
func New(p *pool.Pool, opts ...Option) (*Fetcher, error) {
	if p == nil {
		return nil, fmt.Errorf("fetch: nil pool")
	}
	f := &Fetcher{
		pool:           p,
		cap:            tdx.MaxBarsPerRequest,
		maxConcurrency: DefaultMaxConcurrency,
		maxAttempts:    DefaultMaxAttempts,
		retryDelay:     DefaultRetryDelay,
		maxRetryDelay:  DefaultMaxRetryDelay,
		collectTimeout: DefaultCollectTimeout,
		logger:         log.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Range bounds a fetch by calendar dates. Zero values mean unbounded on that
// side; lenient interpretation per the normalizer's filtering rules.
type Range struct {
	Start time.Time
	End   time.Time
}

// Fetch retrieves up to totalCount bars for the instrument, newest pages
// first on the wire, returning a normalized ascending table. Transient
// connection-layer errors retry the whole fetch with increasing delay; an
// empty page is the historical boundary, not an error.
func (f *Fetcher) Fetch(ctx context.Context, symbol tdx.SymbolRef, period domain.Period, totalCount int, dateRange *Range) ([]domain.KlineBar, error) {
	if totalCount <= 0 {
		return nil, fmt.Errorf("fetch %d:%s %s: count must be positive, got %d", symbol.Market, symbol.Code, period, totalCount)
	}

	start := time.Now()
	delay := f.retryDelay
	var lastErr error

	for attempt := 0; attempt < f.maxAttempts; attempt++ {
		if attempt > 0 {
			if f.metrics != nil {
				f.metrics.FetchRetries.Inc()
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > f.maxRetryDelay {
				delay = f.maxRetryDelay
			}
		}

		raw, err := f.fetchRaw(ctx, symbol, period, totalCount)
		if err != nil {
			lastErr = err
			var transient *pool.TransientError
			if errors.As(err, &transient) {
				f.logger.Printf("fetch: %d:%s attempt %d failed: %v", symbol.Market, symbol.Code, attempt+1, err)
				continue
			}
			// Exhaustion and configuration errors are not retryable.
			if f.metrics != nil {
				f.metrics.FetchesTotal.WithLabelValues("error").Inc()
			}
			return nil, err
		}

		bars := normalize.Normalize(raw, symbol.Code)
		if dateRange != nil {
			bars = normalize.FilterRange(bars, dateRange.Start, dateRange.End, time.Now())
		}
		if f.metrics != nil {
			f.metrics.FetchesTotal.WithLabelValues("ok").Inc()
			f.metrics.FetchDuration.Observe(time.Since(start).Seconds())
			f.metrics.RowsFetched.Add(float64(len(raw)))
			if dropped := len(raw) - len(bars); dropped > 0 {
				f.metrics.RowsDropped.Add(float64(dropped))
			}
		}
		return bars, nil
	}

	if f.metrics != nil {
		f.metrics.FetchesTotal.WithLabelValues("error").Inc()
	}
	return nil, fmt.Errorf("fetch %d:%s %s x%d: attempts exhausted: %w", symbol.Market, symbol.Code, period, totalCount, lastErr)
}

// fetchRaw dispatches the capped sub-requests and merges the raw pages in
// batch-index order.
func (f *Fetcher) fetchRaw(ctx context.Context, symbol tdx.SymbolRef, period domain.Period, totalCount int) ([]tdx.RawBar, error) {
	batches := partition(totalCount, f.cap)

	if len(batches) == 1 {
		return f.fetchBatch(ctx, symbol, period, batches[0])
	}
	if !f.serialOnly && f.pool.LiveCount() >= 2 {
		return f.fetchConcurrent(ctx, symbol, period, batches)
	}
	return f.fetchSerial(ctx, symbol, period, batches)
}

// fetchConcurrent runs every batch on a bounded worker pool and merges the
// row-sets in batch-index order, because completion order is nondeterministic.
// A batch that errors or times out contributes zero rows rather than aborting
// the whole fetch.
func (f *Fetcher) fetchConcurrent(ctx context.Context, symbol tdx.SymbolRef, period domain.Period, batches []batchSpec) ([]tdx.RawBar, error) {
	workers := f.pool.LiveCount() + concurrencyHeadroom
	if workers > f.maxConcurrency {
		workers = f.maxConcurrency
	}
	if workers > len(batches) {
		workers = len(batches)
	}

	ctx, cancel := context.WithTimeout(ctx, f.collectTimeout)
	defer cancel()

	pages := make([][]tdx.RawBar, len(batches))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, b := range batches {
		b := b
		g.Go(func() error {
			rows, err := f.fetchBatch(gctx, symbol, period, b)
			if err != nil {
				f.logger.Printf("fetch: %d:%s batch %d (offset %d) dropped: %v", symbol.Market, symbol.Code, b.index, b.offset, err)
				if f.metrics != nil {
					f.metrics.BatchesFailed.Inc()
				}
				return nil
			}
			mu.Lock()
			pages[b.index] = rows
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	var merged []tdx.RawBar
	for _, rows := range pages {
		merged = append(merged, rows...)
	}
	return merged, nil
}

// fetchSerial issues batches one at a time in offset order and stops as soon
// as a batch comes back short, the signal that the historical boundary has
// been reached.
func (f *Fetcher) fetchSerial(ctx context.Context, symbol tdx.SymbolRef, period domain.Period, batches []batchSpec) ([]tdx.RawBar, error) {
	var merged []tdx.RawBar
	for _, b := range batches {
		rows, err := f.fetchBatch(ctx, symbol, period, b)
		if err != nil {
			return nil, err
		}
		merged = append(merged, rows...)
		if len(rows) < b.count {
			break
		}
	}
	return merged, nil
}

// fetchBatch runs one capped sub-request through a pool lease, reporting the
// outcome to health bookkeeping on both branches.
func (f *Fetcher) fetchBatch(ctx context.Context, symbol tdx.SymbolRef, period domain.Period, b batchSpec) ([]tdx.RawBar, error) {
	lease, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %d:%s %s offset %d: %w", symbol.Market, symbol.Code, period, b.offset, err)
	}

	if f.metrics != nil {
		f.metrics.BatchesIssued.Inc()
	}

	rows, err := lease.Client().SecurityBars(ctx, period, symbol.Market, symbol.Code, b.offset, b.count)
	lease.Release(err)
	if err != nil {
		return nil, &pool.TransientError{Endpoint: lease.Endpoint(), Err: fmt.Errorf("bars %d:%s %s offset %d: %w", symbol.Market, symbol.Code, period, b.offset, err)}
	}
	return rows, nil
}
