// Package probe measures TCP-connect availability and latency for candidate
// endpoints with bounded concurrency.
package probe

import (
	"context"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tdx-datafeed/internal/domain"
	"tdx-datafeed/internal/observability"
)

// Default configuration values.
const (
	DefaultConcurrency  = 50
	DefaultProbeTimeout = 3 * time.Second
	DefaultBatchTimeout = 30 * time.Second
)

// Prober probes candidate endpoints. Zero value is not usable; use New.
type Prober struct {
	concurrency  int
	probeTimeout time.Duration
	batchTimeout time.Duration
	logger       *log.Logger
	metrics      *observability.Metrics
}

// Option configures a Prober.
type Option func(*Prober)

// WithConcurrency bounds the number of simultaneous probe workers.
func WithConcurrency(n int) Option {
	return func(p *Prober) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithProbeTimeout sets the per-connect deadline.
func WithProbeTimeout(d time.Duration) Option {
	return func(p *Prober) {
		p.probeTimeout = d
	}
}

// WithBatchTimeout sets the overall wall-clock budget for one Probe call.
func WithBatchTimeout(d time.Duration) Option {
	return func(p *Prober) {
		p.batchTimeout = d
	}
}

// WithLogger sets the prober logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Prober) {
		p.logger = l
	}
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Prober) {
		p.metrics = m
	}
}

// New creates a Prober with the given options.
func New(opts ...Option) *Prober {
	p := &Prober{
		concurrency:  DefaultConcurrency,
		probeTimeout: DefaultProbeTimeout,
		batchTimeout: DefaultBatchTimeout,
		logger:       log.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe attempts a TCP connect to every endpoint and returns results for the
// probes that finished within the overall batch budget, available ones first
// sorted ascending by response time. Probes still pending at budget expiry
// are simply absent from the result; the call never blocks past the budget.
func (p *Prober) Probe(ctx context.Context, endpoints []domain.Endpoint) []domain.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.batchTimeout)
	defer cancel()

	var mu sync.Mutex
	var results []domain.ProbeResult

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, ep := range endpoints {
		ep := ep
		g.Go(func() error {
			res := p.probeOne(ctx, ep)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Available != results[j].Available {
			return results[i].Available
		}
		return results[i].ResponseTime < results[j].ResponseTime
	})
	return results
}

// probeOne performs a single TCP connect with the per-probe deadline, also
// honoring the surrounding batch context.
func (p *Prober) probeOne(ctx context.Context, ep domain.Endpoint) domain.ProbeResult {
	d := net.Dialer{Timeout: p.probeTimeout}
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", ep.Key())
	elapsed := time.Since(start)
	if err != nil {
		p.logger.Printf("probe: %s unavailable: %v", ep.Key(), err)
		if p.metrics != nil {
			p.metrics.ProbesTotal.WithLabelValues("unreachable").Inc()
		}
		return domain.ProbeResult{Endpoint: ep, Available: false}
	}
	conn.Close()
	if p.metrics != nil {
		p.metrics.ProbesTotal.WithLabelValues("ok").Inc()
		p.metrics.ProbeDuration.Observe(elapsed.Seconds())
	}
	return domain.ProbeResult{Endpoint: ep, Available: true, ResponseTime: elapsed}
}

// Available filters results down to reachable endpoints, preserving order.
func Available(results []domain.ProbeResult) []domain.ProbeResult {
	var out []domain.ProbeResult
	for _, r := range results {
		if r.Available {
			out = append(out, r)
		}
	}
	return out
}
