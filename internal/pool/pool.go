// Package pool maintains live protocol connections to the best-performing
// market-data servers, hands them out round-robin with health-aware skipping,
// and tracks per-endpoint usage, quarantine and rate-limit state.
package pool

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"tdx-datafeed/internal/domain"
	"tdx-datafeed/internal/observability"
	"tdx-datafeed/internal/probe"
	"tdx-datafeed/internal/tdx"
)

// Default configuration values.
const (
	DefaultSize             = 5
	DefaultFailureThreshold = 3
	DefaultCooldown         = 5 * time.Minute
	DefaultRateWindow       = time.Minute
	DefaultRateThreshold    = 100
	DefaultConnectTimeout   = 5 * time.Second
)

// Config controls pool sizing and health thresholds.
type Config struct {
	// Size is the number of live connections kept after Initialize.
	Size int
	// FailureThreshold is the cumulative failure count that quarantines an
	// endpoint.
	FailureThreshold int
	// Cooldown is how long a quarantined endpoint stays excluded.
	Cooldown time.Duration
	// RateWindow is the sliding interval for request-rate detection.
	RateWindow time.Duration
	// RateThreshold is the per-window request count beyond which an endpoint
	// is flagged limited.
	RateThreshold int
	// ConnectTimeout bounds each dial during Initialize and reconnects.
	ConnectTimeout time.Duration
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:             DefaultSize,
		FailureThreshold: DefaultFailureThreshold,
		Cooldown:         DefaultCooldown,
		RateWindow:       DefaultRateWindow,
		RateThreshold:    DefaultRateThreshold,
		ConnectTimeout:   DefaultConnectTimeout,
	}
}

// entry is the pool's record for one known endpoint. client is nil when the
// endpoint has no pooled connection, or while the connection is checked out
// by a lease; a pooled connection is owned by at most one goroutine at a
// time. inflight counts leases acquired but not yet released.
type entry struct {
	endpoint domain.Endpoint
	client   tdx.Client
	health   domain.EndpointHealth
	winStart time.Time
	winCount int
	inflight int64
}

// Pool owns the connection list and all per-endpoint bookkeeping. One mutex
// guards every mutation; it is held only for bookkeeping, never across a
// dial or protocol call.
type Pool struct {
	cfg     Config
	dialer  tdx.Dialer
	prober  *probe.Prober
	logger  *log.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu      sync.Mutex
	entries []*entry
	cursor  int
	closed  bool
	inited  bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithProber sets the prober used by Initialize.
func WithProber(p *probe.Prober) Option {
	return func(pl *Pool) {
		pl.prober = p
	}
}

// WithLogger sets the pool logger.
func WithLogger(l *log.Logger) Option {
	return func(pl *Pool) {
		pl.logger = l
	}
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(pl *Pool) {
		pl.metrics = m
	}
}

// WithClock overrides the time source. Tests use this to drive quarantine
// recovery and rate-window rollover.
func WithClock(now func() time.Time) Option {
	return func(pl *Pool) {
		pl.now = now
	}
}

// New validates the configuration and creates an uninitialized pool.
// Configuration problems fail here, not on first use.
func New(cfg Config, dialer tdx.Dialer, opts ...Option) (*Pool, error) {
	if dialer == nil {
		return nil, fmt.Errorf("pool: nil dialer")
	}
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("pool: size must be positive, got %d", cfg.Size)
	}
	if cfg.FailureThreshold <= 0 {
		return nil, fmt.Errorf("pool: failure threshold must be positive, got %d", cfg.FailureThreshold)
	}
	if cfg.Cooldown <= 0 {
		return nil, fmt.Errorf("pool: cooldown must be positive, got %v", cfg.Cooldown)
	}
	if cfg.RateWindow <= 0 || cfg.RateThreshold <= 0 {
		return nil, fmt.Errorf("pool: rate window %v / threshold %d invalid", cfg.RateWindow, cfg.RateThreshold)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	p := &Pool{
		cfg:    cfg,
		dialer: dialer,
		logger: log.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.prober == nil {
		probeOpts := []probe.Option{probe.WithLogger(p.logger)}
		if p.metrics != nil {
			probeOpts = append(probeOpts, probe.WithMetrics(p.metrics))
		}
		p.prober = probe.New(probeOpts...)
	}
	return p, nil
}

// Initialize probes the candidates, keeps the fastest Size endpoints, opens
// one live connection per kept endpoint, and records every probed-available
// endpoint with fresh healthy bookkeeping. It fails only when not a single
// connection could be established.
func (p *Pool) Initialize(ctx context.Context, candidates []domain.Endpoint) error {
	if len(candidates) == 0 {
		return fmt.Errorf("pool: initialize: %w", ErrExhausted)
	}

	results := probe.Available(p.prober.Probe(ctx, candidates))
	if len(results) == 0 {
		return fmt.Errorf("pool: initialize: no candidate reachable: %w", ErrExhausted)
	}

	var entries []*entry
	live := 0
	for _, r := range results {
		e := &entry{
			endpoint: r.Endpoint,
			health:   domain.EndpointHealth{Endpoint: r.Endpoint, Status: domain.StatusHealthy},
		}
		e.health.RecordSample(r.ResponseTime)

		if live < p.cfg.Size {
			client, err := p.connect(ctx, r.Endpoint)
			if err != nil {
				p.logger.Printf("pool: initial connect %s failed: %v", r.Endpoint.Key(), err)
			} else {
				e.client = client
				live++
			}
		}
		entries = append(entries, e)
	}

	if live == 0 {
		return fmt.Errorf("pool: initialize: all connects failed: %w", ErrExhausted)
	}

	p.mu.Lock()
	p.entries = entries
	p.cursor = 0
	p.inited = true
	p.mu.Unlock()

	p.logger.Printf("pool: initialized with %d live connections over %d known endpoints", live, len(entries))
	return nil
}

// connect dials a fresh client for the endpoint with the configured timeout.
func (p *Pool) connect(ctx context.Context, ep domain.Endpoint) (tdx.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	client := p.dialer()
	if err := client.Connect(ctx, ep.Host, ep.Port); err != nil {
		return nil, err
	}
	return client, nil
}

// Acquire hands out a connection via round-robin with health-aware skip. The
// cursor advances exactly once per call regardless of which endpoint was
// selected, so load spreads evenly over time. A pooled connection is checked
// out of its entry for the lifetime of the lease, so the holder owns it
// exclusively; Release puts it back. When no pooled connection is free, a
// temporary connection is opened over the known endpoint set and closed
// unconditionally on release.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}

	pooled := p.pooledLocked()
	if len(pooled) == 0 {
		order := p.selectionOrderLocked(p.allLocked(), p.cursor)
		p.cursor++ // one advance per call, selection outcome notwithstanding
		p.mu.Unlock()
		return p.acquireTemporary(ctx, order)
	}

	order := p.selectionOrderLocked(pooled, p.cursor)
	p.cursor++
	p.mu.Unlock()

	// Check the connection out of the entry under the lock so this goroutine
	// owns it exclusively; liveness check and re-dial then run unlocked. An
	// entry whose connection was checked out by a concurrent acquisition is
	// skipped, and a failed re-dial counts as a failure against its endpoint.
	for _, e := range order {
		p.mu.Lock()
		client := e.client
		e.client = nil
		p.mu.Unlock()
		if client == nil {
			continue
		}
		if err := client.Ping(ctx); err != nil {
			fresh, rErr := p.redial(ctx, e, client)
			if rErr != nil {
				p.recordFailure(e, rErr)
				continue
			}
			client = fresh
		}
		p.markAcquired(e)
		return &Lease{pool: p, entry: e, client: client, acquired: p.now()}, nil
	}

	if p.metrics != nil {
		p.metrics.AcquisitionFailures.Inc()
	}
	return nil, fmt.Errorf("pool: acquire: every connection invalid: %w", ErrExhausted)
}

// acquireTemporary dials a one-shot connection using health-aware selection
// over the known endpoint set.
func (p *Pool) acquireTemporary(ctx context.Context, order []*entry) (*Lease, error) {
	for _, e := range order {
		client, err := p.connect(ctx, e.endpoint)
		if err != nil {
			p.recordFailure(e, err)
			continue
		}
		p.markAcquired(e)
		return &Lease{pool: p, entry: e, client: client, acquired: p.now(), temporary: true}, nil
	}
	if p.metrics != nil {
		p.metrics.AcquisitionFailures.Inc()
	}
	return nil, fmt.Errorf("pool: acquire: %w", ErrExhausted)
}

// pooledLocked returns entries holding a live connection.
func (p *Pool) pooledLocked() []*entry {
	var out []*entry
	for _, e := range p.entries {
		if e.client != nil {
			out = append(out, e)
		}
	}
	return out
}

func (p *Pool) allLocked() []*entry {
	out := make([]*entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// selectionOrderLocked produces the candidate order for one acquisition:
// starting at the cursor, usable endpoints in round-robin order. Limited
// endpoints are skipped for the rest of their window; quarantined endpoints
// are skipped until their recovery timestamp, at which point they transition
// back to healthy (failure count untouched). If nothing is usable the
// least-recently-failed endpoint is offered as last resort so the caller
// never hangs waiting for health.
func (p *Pool) selectionOrderLocked(candidates []*entry, start int) []*entry {
	n := len(candidates)
	if n == 0 {
		return nil
	}

	now := p.now()
	var order []*entry
	for i := 0; i < n; i++ {
		e := candidates[(start+i)%n]
		switch e.health.Status {
		case domain.StatusLimited:
			if now.Sub(e.winStart) >= p.cfg.RateWindow {
				// New window starts under threshold.
				e.winStart = now
				e.winCount = 0
				e.health.Status = domain.StatusHealthy
				order = append(order, e)
			}
		case domain.StatusFailed:
			if !e.health.RecoverAt.IsZero() && !now.Before(e.health.RecoverAt) {
				e.health.Status = domain.StatusHealthy
				e.health.RecoverAt = time.Time{}
				order = append(order, e)
			}
		default:
			order = append(order, e)
		}
	}

	if len(order) == 0 {
		lru := candidates[0]
		for _, e := range candidates[1:] {
			if e.health.LastFailed.Before(lru.health.LastFailed) {
				lru = e
			}
		}
		order = append(order, lru)
	}
	return order
}

// markAcquired records the use and advances the endpoint's rate window.
func (p *Pool) markAcquired(e *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	e.health.UseCount++
	e.inflight++
	e.health.LastUsed = now

	if now.Sub(e.winStart) >= p.cfg.RateWindow {
		e.winStart = now
		e.winCount = 0
		if e.health.Status == domain.StatusLimited {
			e.health.Status = domain.StatusHealthy
		}
	}
	e.winCount++
	if e.winCount > p.cfg.RateThreshold && e.health.Status == domain.StatusHealthy {
		e.health.Status = domain.StatusLimited
		p.logger.Printf("pool: %s rate limited (%d requests in window)", e.endpoint.Key(), e.winCount)
	}

	if p.metrics != nil {
		p.metrics.Acquisitions.Inc()
	}
}

// settle closes out one lease: the in-flight count drops and the outcome
// feeds success or failure bookkeeping.
func (p *Pool) settle(e *entry, err error, elapsed time.Duration) {
	p.mu.Lock()
	if e.inflight > 0 {
		e.inflight--
	}
	p.mu.Unlock()

	if err != nil {
		p.recordFailure(e, err)
		return
	}
	p.recordSuccess(e, elapsed)
}

// recordSuccess updates health bookkeeping after a successful use.
func (p *Pool) recordSuccess(e *entry, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e.health.SuccessCount++
	e.health.RecordSample(elapsed)

	if p.metrics != nil {
		p.metrics.EndpointSuccesses.WithLabelValues(e.endpoint.Key()).Inc()
	}
}

// recordFailure updates health bookkeeping after a failed use and quarantines
// the endpoint once cumulative failures cross the threshold.
func (p *Pool) recordFailure(e *entry, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	e.health.FailureCount++
	e.health.LastFailed = now

	if e.health.FailureCount >= int64(p.cfg.FailureThreshold) && e.health.Status != domain.StatusFailed {
		e.health.Status = domain.StatusFailed
		e.health.RecoverAt = now.Add(p.cfg.Cooldown)
		p.logger.Printf("pool: %s quarantined until %s after %d failures (last: %v)",
			e.endpoint.Key(), e.health.RecoverAt.Format(time.RFC3339), e.health.FailureCount, cause)
		if p.metrics != nil {
			p.metrics.QuarantineEvents.Inc()
		}
	}

	if p.metrics != nil {
		p.metrics.EndpointFailures.WithLabelValues(e.endpoint.Key()).Inc()
	}
}

// redial tears down a checked-out dead connection and dials a replacement.
// The caller owns stale exclusively, so no other goroutine can touch it and
// at most one re-dial per endpoint runs at a time.
func (p *Pool) redial(ctx context.Context, e *entry, stale tdx.Client) (tdx.Client, error) {
	stale.Disconnect()
	client, err := p.connect(ctx, e.endpoint)
	if err != nil {
		return nil, fmt.Errorf("reconnect %s: %w", e.endpoint.Key(), err)
	}
	return client, nil
}

// returnClient puts a checked-out connection back into its entry. After
// CloseAll the connection is closed instead of rejoining the pool.
func (p *Pool) returnClient(e *entry, client tdx.Client) {
	p.mu.Lock()
	if p.closed || e.client != nil {
		p.mu.Unlock()
		client.Disconnect()
		return
	}
	e.client = client
	p.mu.Unlock()
}

// EndpointStats is one endpoint's published health snapshot.
type EndpointStats struct {
	Endpoint     domain.Endpoint
	Status       domain.HealthStatus
	UseCount     int64
	SuccessCount int64
	FailureCount int64
	AvgResponse  time.Duration
	LastUsed     time.Time
	RecoverAt    time.Time
}

// Info is the pool-level observability snapshot.
type Info struct {
	TotalConnections int
	HealthyCount     int
	LimitedCount     int
	FailedCount      int
	Endpoints        []EndpointStats
}

// GetPoolInfo reconciles the accounting invariant on every endpoint and
// returns a consistent snapshot. Reconciliation folds acquisitions whose
// failure was reported outside the pool's own scope into the failure tally;
// leases still in flight are left for their release to account.
func (p *Pool) GetPoolInfo() Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := Info{}
	for _, e := range p.entries {
		e.health.Reconcile(e.inflight)
		if e.client != nil {
			info.TotalConnections++
		}
		switch e.health.Status {
		case domain.StatusHealthy:
			info.HealthyCount++
		case domain.StatusLimited:
			info.LimitedCount++
		case domain.StatusFailed:
			info.FailedCount++
		}
		info.Endpoints = append(info.Endpoints, EndpointStats{
			Endpoint:     e.endpoint,
			Status:       e.health.Status,
			UseCount:     e.health.UseCount,
			SuccessCount: e.health.SuccessCount,
			FailureCount: e.health.FailureCount,
			AvgResponse:  e.health.AvgResponse,
			LastUsed:     e.health.LastUsed,
			RecoverAt:    e.health.RecoverAt,
		})
	}

	if p.metrics != nil {
		p.metrics.HealthyEndpoints.Set(float64(info.HealthyCount))
		p.metrics.LimitedEndpoints.Set(float64(info.LimitedCount))
		p.metrics.FailedEndpoints.Set(float64(info.FailedCount))
	}
	return info
}

// LiveCount returns the number of entries holding a live connection.
func (p *Pool) LiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pooledLocked())
}

// CloseAll disconnects every live connection. Idempotent.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	for _, e := range p.entries {
		if e.client != nil {
			e.client.Disconnect()
			e.client = nil
		}
	}
	p.closed = true
}
